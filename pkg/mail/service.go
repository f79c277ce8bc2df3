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

package mail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/metrics"
)

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) {
		if p.Backoff <= 0 {
			p.Backoff = DefaultBackoff
		}
		s.worker.policy = p
	}
}

// WithDeadLetterSink enables bounded retries together with a positive
// RetryPolicy.MaxAttempts.
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(s *Service) {
		s.worker.deadLetter = sink
	}
}

// WithTracerProvider sets the provider for enqueue and delivery spans. The
// global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
		s.worker.tracer = s.tracer
	}
}

func withSleep(sleep func(time.Duration)) Option {
	return func(s *Service) {
		s.worker.sleep = sleep
	}
}

// Service owns the delivery worker and exposes the producer API.
type Service struct {
	queue    Queue
	settings SettingsProvider
	worker   *Worker
	logger   *zap.SugaredLogger
	tracer   trace.Tracer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a Service. The worker is not started until Start.
func NewService(queue Queue, transport Transport, settings SettingsProvider, logger *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		queue:    queue,
		settings: settings,
		logger:   logger.Named("mail-service"),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
	}
	s.worker = NewWorker(queue, transport, settings, logger.Named("mail-worker"))
	for _, opt := range opts {
		opt(s)
	}
	if s.worker.policy.MaxAttempts > 0 && s.worker.deadLetter == nil {
		s.logger.Warnw("maxAttempts is set without a dead-letter sink, retrying forever",
			"maxAttempts", s.worker.policy.MaxAttempts)
	}
	return s
}

// Start launches the worker goroutine and returns immediately. Calling Start
// while the worker is running only logs a warning.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.worker.State(); st == StateRunning || st == StateDraining {
		s.logger.Warnw("E-mail background delivery already running", "state", st.String())
		return
	}

	s.logger.Info("Starting background e-mail delivery")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.worker.setState(StateRunning)

	go func() {
		defer close(done)
		s.worker.Run(ctx)
	}()
}

// Stop signals the worker and waits until it exits or ctx is done, whichever
// comes first. An attempt in flight is never interrupted; if it outlives ctx
// the worker keeps running in the background until it finishes.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	s.logger.Info("Stopping e-mail background delivery")
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnw("E-mail background delivery did not stop before the deadline",
			"state", s.worker.State().String())
	}
}

// Close cancels the worker without waiting. It is safe to call more than
// once and after Stop.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Post builds a message and queues it for delivery. It returns the id of the
// queued item. Only invalid input or a closed queue produce an error.
func (s *Service) Post(sender string, recipients []string, subject, body string, html bool) (string, error) {
	msg, err := NewMessage(sender, recipients, subject, body, html)
	if err != nil {
		return "", err
	}
	return s.Enqueue(context.Background(), msg)
}

// Enqueue queues an already validated message.
func (s *Service) Enqueue(ctx context.Context, msg Message) (string, error) {
	item := QueueItem{
		ID:         uuid.NewString(),
		Message:    msg,
		EnqueuedAt: time.Now(),
	}

	ctx, span := s.tracer.Start(ctx, "mail.enqueue", trace.WithAttributes(
		attribute.String("mail.id", item.ID),
		attribute.Int("mail.recipients", len(msg.recipients)),
	))
	defer span.End()

	if err := s.queue.Enqueue(ctx, item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		return "", fmt.Errorf("enqueue e-mail: %w", err)
	}

	metrics.MailQueued.WithLabelValues(s.settings.SMTP().Host).Inc()
	s.logger.Debugw("E-mail queued for delivery",
		"id", item.ID,
		"recipients", len(msg.recipients),
		"subject", msg.subject)
	return item.ID, nil
}

func (s *Service) State() State {
	return s.worker.State()
}

// Depth returns the number of messages waiting in the queue.
func (s *Service) Depth(ctx context.Context) (int, error) {
	return s.queue.Len(ctx)
}
