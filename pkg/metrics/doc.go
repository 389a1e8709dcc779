// Package metrics defines Prometheus metrics for the invitation mailer,
// covering invocations and SMTP delivery.
package metrics
