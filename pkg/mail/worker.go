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
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/config"
	"github.com/telekom/mailqueue/pkg/metrics"
)

// DefaultBackoff is the delay before a failed message is requeued.
const DefaultBackoff = time.Second

const tracerName = "github.com/telekom/mailqueue/pkg/mail"

// State is the lifecycle state of the delivery worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// RetryPolicy controls what happens after a failed delivery attempt.
type RetryPolicy struct {
	// Backoff is slept after every failure before the message is requeued.
	Backoff time.Duration
	// MaxAttempts bounds delivery attempts when a DeadLetterSink is also
	// configured. Zero retries forever.
	MaxAttempts int
}

// DeadLetter is a message that was given up on.
type DeadLetter struct {
	ID            string    `json:"id"`
	Message       Message   `json:"message"`
	Attempts      int       `json:"attempts"`
	Error         string    `json:"error"`
	FirstQueuedAt time.Time `json:"firstQueuedAt"`
	FailedAt      time.Time `json:"failedAt"`
}

// DeadLetterSink receives messages that exhausted their attempts or failed
// permanently.
type DeadLetterSink interface {
	Name() string
	Push(ctx context.Context, letter DeadLetter) error
	Close() error
}

// Worker is the single consumer of a Queue. It delivers one message at a
// time and puts failed messages back at the tail of the queue.
type Worker struct {
	queue      Queue
	transport  Transport
	settings   SettingsProvider
	log        *zap.SugaredLogger
	policy     RetryPolicy
	deadLetter DeadLetterSink
	tracer     trace.Tracer

	state atomic.Int32
	sleep func(time.Duration)
	now   func() time.Time
}

func NewWorker(queue Queue, transport Transport, settings SettingsProvider, log *zap.SugaredLogger) *Worker {
	return &Worker{
		queue:     queue,
		transport: transport,
		settings:  settings,
		log:       log,
		policy:    RetryPolicy{Backoff: DefaultBackoff},
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

func (w *Worker) bounded() bool {
	return w.policy.MaxAttempts > 0 && w.deadLetter != nil
}

// Run delivers messages until ctx is cancelled or the queue is closed.
// Cancellation is only observed between messages: an attempt in flight and
// the backoff that follows a failure always run to completion.
func (w *Worker) Run(ctx context.Context) {
	w.setState(StateRunning)
	w.log.Info("E-mail background delivery started")
	defer func() {
		w.setState(StateStopped)
		w.log.Info("E-mail background delivery stopped")
	}()

	for {
		if ctx.Err() != nil {
			w.setState(StateDraining)
			return
		}

		item, err := w.queue.Dequeue(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrCancelled):
			w.setState(StateDraining)
			return
		case errors.Is(err, ErrQueueClosed):
			w.log.Info("Mail queue closed, worker exiting")
			return
		default:
			w.log.Errorw("Failed to dequeue e-mail", "error", err)
			w.pause(ctx)
			continue
		}

		w.process(ctx, item)
	}
}

// pause waits before retrying a failing queue backend.
func (w *Worker) pause(ctx context.Context) {
	t := time.NewTimer(w.policy.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) process(ctx context.Context, item QueueItem) {
	settings := w.settings.SMTP()

	ctx, span := w.tracer.Start(ctx, "mail.deliver", trace.WithAttributes(
		attribute.String("mail.id", item.ID),
		attribute.Int("mail.attempt", item.Attempt+1),
		attribute.Int("mail.recipients", len(item.Message.recipients)),
		attribute.String("smtp.host", settings.Host),
	))
	defer span.End()

	start := w.now()
	err := w.attempt(ctx, settings, item.Message)
	elapsed := w.now().Sub(start).Seconds()

	if err == nil {
		span.SetStatus(codes.Ok, "")
		metrics.MailDeliveryDuration.WithLabelValues("success").Observe(elapsed)
		metrics.MailSent.WithLabelValues(settings.Host).Inc()
		w.log.Infow("E-mail delivered to "+item.Message.RecipientList(),
			"id", item.ID,
			"attempt", item.Attempt+1)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(stageOf(err)))
	span.SetAttributes(attribute.Bool("mail.permanent", isPermanent(err)))
	metrics.MailDeliveryDuration.WithLabelValues("failure").Observe(elapsed)
	metrics.MailSendFailure.WithLabelValues(settings.Host, string(stageOf(err))).Inc()

	item.Attempt++
	item.LastError = err.Error()

	if w.bounded() && (item.Attempt >= w.policy.MaxAttempts || isPermanent(err)) {
		if w.pushDeadLetter(ctx, item, settings) {
			span.AddEvent("dead_lettered", trace.WithAttributes(attribute.String("sink", w.deadLetter.Name())))
			return
		}
	}

	w.log.Warnw("Couldn't send an e-mail",
		"id", item.ID,
		"recipients", item.Message.RecipientList(),
		"attempt", item.Attempt,
		"error", err,
		"retryIn", w.policy.Backoff.String())

	w.sleep(w.policy.Backoff)

	if err := w.queue.Enqueue(context.WithoutCancel(ctx), item); err != nil {
		span.AddEvent("abandoned")
		metrics.MailAbandoned.Inc()
		w.log.Errorw("Abandoning e-mail, requeue failed",
			"id", item.ID,
			"recipients", item.Message.RecipientList(),
			"attempts", item.Attempt,
			"error", err)
		return
	}
	span.AddEvent("requeued")
	metrics.MailRetryScheduled.WithLabelValues(settings.Host).Inc()
}

// attempt runs one connect/authenticate/send/disconnect cycle. It is detached
// from ctx cancellation and bounded only by the configured timeout.
func (w *Worker) attempt(ctx context.Context, settings config.SMTP, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorw("panic in mail delivery recovered", "panic", r)
			err = &TransportError{Stage: StageSend, Err: fmt.Errorf("panic during delivery: %v", r)}
		}
	}()

	attemptCtx := context.WithoutCancel(ctx)
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, settings.Timeout)
		defer cancel()
	}

	from := msg.sender
	if from == "" {
		from = settings.SenderAddress
	}
	if from == "" {
		return &TransportError{Stage: StageSend, Err: errors.New("no sender address configured"), Permanent: true}
	}

	conn, err := w.transport.Connect(attemptCtx, settings)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			w.log.Debugw("Error closing SMTP connection", "host", settings.Host, "error", cerr)
		}
	}()

	if settings.Username != "" {
		if err := conn.Authenticate(settings.Username, settings.Password); err != nil {
			return err
		}
	}

	return conn.Send(attemptCtx, from, msg)
}

// pushDeadLetter reports whether the item was accepted by the sink.
func (w *Worker) pushDeadLetter(ctx context.Context, item QueueItem, settings config.SMTP) bool {
	pushCtx := context.WithoutCancel(ctx)
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		pushCtx, cancel = context.WithTimeout(pushCtx, settings.Timeout)
		defer cancel()
	}

	letter := DeadLetter{
		ID:            item.ID,
		Message:       item.Message,
		Attempts:      item.Attempt,
		Error:         item.LastError,
		FirstQueuedAt: item.EnqueuedAt,
		FailedAt:      w.now(),
	}
	if err := w.deadLetter.Push(pushCtx, letter); err != nil {
		w.log.Errorw("Dead-letter sink rejected e-mail, requeueing",
			"id", item.ID,
			"sink", w.deadLetter.Name(),
			"error", err)
		return false
	}

	metrics.MailDeadLettered.WithLabelValues(w.deadLetter.Name()).Inc()
	w.log.Errorw("E-mail dead-lettered",
		"id", item.ID,
		"recipients", item.Message.RecipientList(),
		"attempts", item.Attempt,
		"sink", w.deadLetter.Name(),
		"error", item.LastError)
	return true
}
