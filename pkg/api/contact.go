package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/apiresponses"
	"github.com/telekom/mailqueue/pkg/config"
	"github.com/telekom/mailqueue/pkg/mail"
	"github.com/telekom/mailqueue/pkg/metrics"
	"github.com/telekom/mailqueue/pkg/system"
)

// MailService is the part of mail.Service used by the HTTP layer.
type MailService interface {
	Enqueue(ctx context.Context, msg mail.Message) (string, error)
	State() mail.State
	Depth(ctx context.Context) (int, error)
}

var _ MailService = (*mail.Service)(nil)

// ContactRequest is the contact form payload, accepted as form fields or JSON.
type ContactRequest struct {
	Name    string `form:"name" json:"name" binding:"required,max=30"`
	Email   string `form:"email" json:"email" binding:"required,email"`
	Source  string `form:"source" json:"source" binding:"required,max=100"`
	Message string `form:"message" json:"message" binding:"required,max=1000"`
}

type ContactResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// ContactController turns contact form submissions into queued e-mails.
type ContactController struct {
	log        *zap.SugaredLogger
	mail       MailService
	settings   func() config.Contact
	middleware []gin.HandlerFunc
}

// NewContactController reads the contact settings on every request so a
// reloaded configuration applies immediately.
func NewContactController(log *zap.SugaredLogger, svc MailService, settings func() config.Contact, middleware ...gin.HandlerFunc) *ContactController {
	return &ContactController{
		log:        log.Named("contact"),
		mail:       svc,
		settings:   settings,
		middleware: middleware,
	}
}

func (cc *ContactController) BasePath() string { return "contact" }

func (cc *ContactController) Handlers() []gin.HandlerFunc { return cc.middleware }

func (cc *ContactController) Register(rg *gin.RouterGroup) error {
	rg.POST("", cc.handleContact)
	return nil
}

func (cc *ContactController) handleContact(c *gin.Context) {
	log := system.GetReqLogger(c, cc.log)

	var req ContactRequest
	if err := c.ShouldBind(&req); err != nil {
		metrics.ContactRequests.WithLabelValues("invalid").Inc()
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			apiresponses.RespondValidationFailed(c, fieldErrors(verrs))
			return
		}
		apiresponses.RespondBadRequest(c, "malformed request body")
		return
	}
	if fields := blankFields(&req); len(fields) > 0 {
		metrics.ContactRequests.WithLabelValues("invalid").Inc()
		apiresponses.RespondValidationFailed(c, fields)
		return
	}

	body, err := mail.RenderContact(mail.ContactMailParams{
		Name:    req.Name,
		Email:   req.Email,
		Source:  req.Source,
		Message: req.Message,
	})
	if err != nil {
		metrics.ContactRequests.WithLabelValues("error").Inc()
		apiresponses.RespondInternalError(c, "render contact e-mail", err, log)
		return
	}

	settings := cc.settings()
	recipients := settings.Recipients
	if len(recipients) == 0 {
		recipients = []string{req.Email}
	}

	msg, err := mail.NewMessage("", recipients, settings.Subject, body, true)
	if err != nil {
		metrics.ContactRequests.WithLabelValues("error").Inc()
		apiresponses.RespondInternalError(c, "build contact e-mail", err, log)
		return
	}

	id, err := cc.mail.Enqueue(c.Request.Context(), msg)
	switch {
	case errors.Is(err, mail.ErrQueueClosed):
		metrics.ContactRequests.WithLabelValues("unavailable").Inc()
		log.Warnw("Contact request rejected, mail queue closed", "error", err)
		apiresponses.RespondServiceUnavailable(c, "mail queue")
		return
	case err != nil:
		metrics.ContactRequests.WithLabelValues("error").Inc()
		apiresponses.RespondInternalError(c, "queue contact e-mail", err, log)
		return
	}

	metrics.ContactRequests.WithLabelValues("queued").Inc()
	log.Infow("Contact request queued", "id", id, "recipients", len(recipients))
	apiresponses.RespondAccepted(c, ContactResponse{Status: "queued", ID: id})
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return fields
}

// blankFields trims the request in place and reports fields that were only
// whitespace.
func blankFields(req *ContactRequest) map[string]string {
	fields := map[string]string{}
	for name, v := range map[string]*string{
		"name":    &req.Name,
		"email":   &req.Email,
		"source":  &req.Source,
		"message": &req.Message,
	} {
		*v = strings.TrimSpace(*v)
		if *v == "" {
			fields[name] = "required"
		}
	}
	return fields
}
