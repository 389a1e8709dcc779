package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Invocations counts handler runs by outcome: success, invalid_input or delivery_failure.
	Invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_mailer_invocations_total",
		Help: "Total number of mailer invocations grouped by outcome",
	}, []string{"outcome"})
	InvocationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invite_mailer_invocation_duration_seconds",
		Help:    "Duration of mailer invocations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_mailer_mail_send_success_total",
		Help: "Total number of messages accepted by the SMTP server",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_mailer_mail_send_failure_total",
		Help: "Total number of messages the SMTP server rejected",
	}, []string{"host"})
	MailSessionFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_mailer_mail_session_failure_total",
		Help: "Total number of SMTP sessions that could not be established (connect, TLS or auth)",
	}, []string{"host"})
)

func init() {
	prometheus.MustRegister(Invocations)
	prometheus.MustRegister(InvocationDuration)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailSessionFailure)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
