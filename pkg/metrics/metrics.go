package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mail queue metrics. The host label carries the SMTP relay host that was
	// configured when the event happened.
	MailQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_mail_queued_total",
		Help: "Total number of messages accepted into the delivery queue",
	}, []string{"host"})
	MailSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_mail_sent_total",
		Help: "Total number of messages delivered to the SMTP relay",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_mail_send_failure_total",
		Help: "Total number of failed delivery attempts by failing stage",
	}, []string{"host", "stage"})
	MailRetryScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_mail_retry_scheduled_total",
		Help: "Total number of messages requeued after a failed attempt",
	}, []string{"host"})
	MailDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_mail_dead_lettered_total",
		Help: "Total number of messages handed to a dead-letter sink",
	}, []string{"sink"})
	DeadLetterCircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mailqueue_dead_letter_circuit_state",
		Help: "State of the dead-letter circuit breaker (0=closed, 1=open, 2=half-open)",
	}, []string{"sink"})
	DeadLetterCircuitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_dead_letter_circuit_rejections_total",
		Help: "Total number of dead letters refused while the circuit was open",
	}, []string{"sink"})
	MailAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailqueue_mail_abandoned_total",
		Help: "Total number of messages lost because they could not be requeued",
	})
	MailQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mailqueue_mail_queue_depth",
		Help: "Number of messages waiting in the in-memory queue",
	})
	MailDeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailqueue_mail_delivery_duration_seconds",
		Help:    "Duration of single delivery attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	// HTTP metrics
	ContactRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_contact_requests_total",
		Help: "Total number of contact form submissions by response status",
	}, []string{"status"})
	RateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailqueue_ratelimit_rejections_total",
		Help: "Total number of requests rejected by the per-IP rate limiter",
	})
	ConfigReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_config_reloads_total",
		Help: "Total number of configuration reloads by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(MailQueued)
	prometheus.MustRegister(MailSent)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailRetryScheduled)
	prometheus.MustRegister(MailDeadLettered)
	prometheus.MustRegister(DeadLetterCircuitState)
	prometheus.MustRegister(DeadLetterCircuitRejections)
	prometheus.MustRegister(MailAbandoned)
	prometheus.MustRegister(MailQueueDepth)
	prometheus.MustRegister(MailDeliveryDuration)
	prometheus.MustRegister(ContactRequests)
	prometheus.MustRegister(RateLimitRejections)
	prometheus.MustRegister(ConfigReloads)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
