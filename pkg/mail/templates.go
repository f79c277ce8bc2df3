package mail

import (
	"bytes"
	_ "embed"
	"html/template"
)

// ContactMailParams is the content of a contact form submission.
type ContactMailParams struct {
	Name    string
	Email   string
	Source  string
	Message string
}

var (
	contactTemplate = template.New("contact")

	//go:embed templates/contact.html
	contactTemplateRaw string
)

func init() {
	if _, err := contactTemplate.Parse(contactTemplateRaw); err != nil {
		panic(err)
	}
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}

// RenderContact renders the HTML body sent for a contact form submission.
func RenderContact(p ContactMailParams) (string, error) {
	return render(contactTemplate, p)
}
