// Package metrics defines Prometheus metrics for the mail queue service,
// covering queueing, delivery attempts, dead letters, and the HTTP front end.
package metrics
