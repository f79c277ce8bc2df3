package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderContact(t *testing.T) {
	params := ContactMailParams{
		Name:    "John Doe",
		Email:   "john.doe@example.com",
		Source:  "A friend",
		Message: "Please call me back",
	}

	result, err := RenderContact(params)

	assert.NoError(t, err)
	assert.NotEmpty(t, result)
	assert.Contains(t, result, "Message from: John Doe")
	assert.Contains(t, result, params.Email)
	assert.Contains(t, result, "Heard about us from: A friend")
	assert.Contains(t, result, "Message: Please call me back")
}

func TestRenderContactEscapesHTML(t *testing.T) {
	result, err := RenderContact(ContactMailParams{
		Name:    "<script>alert(1)</script>",
		Email:   "x@example.com",
		Source:  "web",
		Message: "<b>bold</b>",
	})

	assert.NoError(t, err)
	assert.NotContains(t, result, "<script>")
	assert.Contains(t, result, "&lt;script&gt;")
	assert.Contains(t, result, "&lt;b&gt;bold&lt;/b&gt;")
}
