// Package config loads the mail queue service configuration from YAML,
// fills defaults, validates it, and keeps the live copy that the delivery
// worker reads on every attempt. A Watcher reloads the file when it changes.
package config
