/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is used when no path is given on the command line or in the environment.
const DefaultConfigPath = "./config.yaml"

// SecurityMode selects how the SMTP connection is protected.
type SecurityMode string

const (
	// SecurityAuto upgrades with STARTTLS when the server offers it.
	SecurityAuto SecurityMode = "auto"
	// SecurityNone never upgrades the connection.
	SecurityNone SecurityMode = "none"
	// SecurityStartTLS requires the server to support STARTTLS.
	SecurityStartTLS SecurityMode = "starttls"
	// SecurityTLS dials with implicit TLS (SMTPS, usually port 465).
	SecurityTLS SecurityMode = "tls"
)

// Valid reports whether m is one of the known modes.
func (m SecurityMode) Valid() bool {
	switch m {
	case SecurityAuto, SecurityNone, SecurityStartTLS, SecurityTLS:
		return true
	}
	return false
}

// SMTP holds the relay connection settings. The delivery worker reads a fresh
// copy of this struct on every attempt.
type SMTP struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Security           SecurityMode  `yaml:"security"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	SenderAddress      string        `yaml:"senderAddress"`
	SenderName         string        `yaml:"senderName"`
	HeloName           string        `yaml:"heloName"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	Timeout            time.Duration `yaml:"timeout"`
}

// Address returns host:port for dialing.
func (s SMTP) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimit configures the per-IP limiter in front of the contact form.
type RateLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type Server struct {
	ListenAddress  string    `yaml:"listenAddress"`
	TLSCertFile    string    `yaml:"tlsCertFile"`
	TLSKeyFile     string    `yaml:"tlsKeyFile"`
	AllowedOrigins []string  `yaml:"allowedOrigins"`
	TrustedProxies []string  `yaml:"trustedProxies"`
	RateLimit      RateLimit `yaml:"rateLimit"`
}

// Queue selects the queue backend and the retry policy of the delivery worker.
type Queue struct {
	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend"`
	// Backoff is the fixed delay before a failed message is requeued.
	Backoff time.Duration `yaml:"backoff"`
	// MaxAttempts caps delivery attempts. Zero keeps retrying forever.
	MaxAttempts int `yaml:"maxAttempts"`
	// StopTimeout bounds how long shutdown waits for the worker.
	StopTimeout time.Duration `yaml:"stopTimeout"`
}

type Redis struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

type Kafka struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// CircuitBreaker guards a remote dead-letter sink. Zero values select the
// defaults of the deadletter package.
type CircuitBreaker struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	SuccessThreshold int           `yaml:"successThreshold"`
	OpenTimeout      time.Duration `yaml:"openTimeout"`
}

// DeadLetter configures where messages go once MaxAttempts is exhausted.
type DeadLetter struct {
	// Kind is "none", "log" or "kafka".
	Kind           string         `yaml:"kind"`
	Kafka          Kafka          `yaml:"kafka"`
	CircuitBreaker CircuitBreaker `yaml:"circuitBreaker"`
}

type DKIM struct {
	Selector       string `yaml:"selector"`
	Domain         string `yaml:"domain"`
	PrivateKeyPath string `yaml:"privateKeyPath"`
}

// Enabled reports whether DKIM signing was configured.
func (d DKIM) Enabled() bool {
	return d.Selector != "" || d.PrivateKeyPath != ""
}

// Tracing configures OpenTelemetry spans for enqueue and delivery attempts.
type Tracing struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "otlp" (default), "stdout" or "none".
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool     `yaml:"insecure"`
	SamplingRate *float64 `yaml:"samplingRate"`
}

// Rate returns the configured sampling probability. An unset rate samples
// every trace; an explicit 0 samples none.
func (t Tracing) Rate() float64 {
	if t.SamplingRate == nil {
		return 1
	}
	return *t.SamplingRate
}

// Contact configures the contact form endpoint.
type Contact struct {
	Subject string `yaml:"subject"`
	// Recipients receive form submissions. When empty the submitter's own
	// address is used.
	Recipients []string `yaml:"recipients"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	SMTP       SMTP       `yaml:"smtp"`
	Queue      Queue      `yaml:"queue"`
	Redis      Redis      `yaml:"redis"`
	DeadLetter DeadLetter `yaml:"deadLetter"`
	DKIM       DKIM       `yaml:"dkim"`
	Contact    Contact    `yaml:"contact"`
	Tracing    Tracing    `yaml:"tracing"`
}

// Load loads the configuration from a file path.
// If configPath is empty, defaults to "./config.yaml".
func Load(configPath ...string) (Config, error) {
	path := DefaultConfigPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open mailqueue config file %s: %w", path, err)
	}

	if err := yaml.UnmarshalStrict(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	config.Defaults()
	return config, nil
}

// Defaults fills unset fields with their default values.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.RateLimit.Rate <= 0 {
		c.Server.RateLimit.Rate = 1
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = 5
	}

	if c.SMTP.Port == 0 {
		c.SMTP.Port = 25
	}
	if c.SMTP.Security == "" {
		c.SMTP.Security = SecurityAuto
	}
	c.SMTP.Security = SecurityMode(strings.ToLower(string(c.SMTP.Security)))
	if c.SMTP.HeloName == "" {
		c.SMTP.HeloName = hostname()
	}
	if c.SMTP.Timeout <= 0 {
		c.SMTP.Timeout = 2 * time.Minute
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}
	if c.Queue.Backoff <= 0 {
		c.Queue.Backoff = time.Second
	}
	if c.Queue.StopTimeout <= 0 {
		c.Queue.StopTimeout = 30 * time.Second
	}

	if c.Redis.Key == "" {
		c.Redis.Key = "mailqueue:pending"
	}
	if c.Redis.PollInterval <= 0 {
		c.Redis.PollInterval = 200 * time.Millisecond
	}

	if c.DeadLetter.Kind == "" {
		c.DeadLetter.Kind = "none"
	}
	if c.DeadLetter.Kafka.WriteTimeout <= 0 {
		c.DeadLetter.Kafka.WriteTimeout = 10 * time.Second
	}

	if c.Contact.Subject == "" {
		c.Contact.Subject = "Request from our website"
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "otlp"
	}
	if c.Tracing.SamplingRate == nil {
		rate := 1.0
		c.Tracing.SamplingRate = &rate
	}
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SMTP.Host) == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port %d is out of range", c.SMTP.Port)
	}
	if !c.SMTP.Security.Valid() {
		return fmt.Errorf("smtp.security %q is not one of auto, none, starttls, tls", c.SMTP.Security)
	}
	if c.SMTP.Password != "" && c.SMTP.Username == "" {
		return fmt.Errorf("smtp.password is set without smtp.username")
	}
	if c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("queue.maxAttempts must not be negative")
	}

	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when queue.backend is redis")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}

	switch c.DeadLetter.Kind {
	case "none", "log":
	case "kafka":
		if len(c.DeadLetter.Kafka.Brokers) == 0 || c.DeadLetter.Kafka.Topic == "" {
			return fmt.Errorf("deadLetter.kafka requires brokers and topic")
		}
	default:
		return fmt.Errorf("unknown deadLetter.kind %q", c.DeadLetter.Kind)
	}

	if c.DKIM.Enabled() && (c.DKIM.Selector == "" || c.DKIM.PrivateKeyPath == "") {
		return fmt.Errorf("dkim requires both selector and privateKeyPath")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("tracing.endpoint is required for the otlp exporter")
			}
		case "stdout", "none":
		default:
			return fmt.Errorf("unknown tracing.exporter %q", c.Tracing.Exporter)
		}
		if rate := c.Tracing.Rate(); rate < 0 || rate > 1 {
			return fmt.Errorf("tracing.samplingRate must be between 0 and 1")
		}
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tlsCertFile and server.tlsKeyFile must be set together")
	}
	return nil
}

func hostname() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "localhost"
}
