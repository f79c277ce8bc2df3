// Package api contains the HTTP surface of mailqueue: the contact form that
// queues e-mails, queue status, health probes, build info and metrics. It is
// built on gin with zap access logging and per-IP rate limiting on the
// contact endpoint.
package api
