// Package ratelimit provides per-IP token-bucket rate limiting middleware
// for Gin HTTP servers with automatic stale-entry cleanup. The contact form
// uses it to keep a single client from flooding the mail queue.
package ratelimit
