package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/apiresponses"
	"github.com/telekom/mailqueue/pkg/mail"
)

type QueueStatus struct {
	State string `json:"state"`
	Depth int    `json:"depth"`
}

// QueueController reports the delivery worker state and queue depth.
type QueueController struct {
	log  *zap.SugaredLogger
	mail MailService
}

func NewQueueController(log *zap.SugaredLogger, svc MailService) *QueueController {
	return &QueueController{log: log.Named("queue-status"), mail: svc}
}

func (qc *QueueController) BasePath() string { return "queue" }

func (qc *QueueController) Handlers() []gin.HandlerFunc { return nil }

func (qc *QueueController) Register(rg *gin.RouterGroup) error {
	rg.GET("", qc.handleStatus)
	return nil
}

func (qc *QueueController) handleStatus(c *gin.Context) {
	depth, err := qc.mail.Depth(c.Request.Context())
	if err != nil {
		apiresponses.RespondInternalError(c, "read queue depth", err, qc.log)
		return
	}
	apiresponses.RespondOK(c, QueueStatus{State: qc.mail.State().String(), Depth: depth})
}

// Readiness reports ready only while the delivery worker is running.
func Readiness(svc MailService) func() (bool, string) {
	return func() (bool, string) {
		if st := svc.State(); st != mail.StateRunning {
			return false, "mail worker " + st.String()
		}
		return true, ""
	}
}
