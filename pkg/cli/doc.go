// Package cli implements the mailqueue command line: serve, check-config and
// version. Flags fall back to MAILQUEUE_* environment variables, and serve
// wires the configuration, queue backend, SMTP transport, dead-letter sink,
// delivery service and HTTP API into one process.
package cli
