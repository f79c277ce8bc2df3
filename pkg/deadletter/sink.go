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

package deadletter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/config"
	"github.com/telekom/mailqueue/pkg/mail"
)

// LogSink writes dead letters to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

var _ mail.DeadLetterSink = (*LogSink)(nil)

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("dead-letter")}
}

// Push logs the dead letter. The body is not logged.
func (s *LogSink) Push(_ context.Context, letter mail.DeadLetter) error {
	s.logger.Error("dead_letter",
		zap.String("id", letter.ID),
		zap.Strings("recipients", letter.Message.Recipients()),
		zap.String("sender", letter.Message.Sender()),
		zap.String("subject", letter.Message.Subject()),
		zap.Int("attempts", letter.Attempts),
		zap.String("error", letter.Error),
		zap.Time("first_queued_at", letter.FirstQueuedAt),
		zap.Time("failed_at", letter.FailedAt))
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error {
	return nil
}

func (s *LogSink) Name() string {
	return "log"
}

// New builds the sink selected by cfg.Kind. It returns nil for "none".
func New(cfg config.DeadLetter, logger *zap.Logger) (mail.DeadLetterSink, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "log":
		return NewLogSink(logger), nil
	case "kafka":
		sink, err := NewKafkaSink(cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		return NewCircuitBreakerSink(sink, cfg.CircuitBreaker, logger), nil
	}
	return nil, fmt.Errorf("unknown dead-letter sink %q", cfg.Kind)
}
