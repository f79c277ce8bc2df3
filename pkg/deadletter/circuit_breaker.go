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
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/config"
	"github.com/telekom/mailqueue/pkg/mail"
	"github.com/telekom/mailqueue/pkg/metrics"
)

// CircuitState is the state of a CircuitBreakerSink.
type CircuitState int32

const (
	// CircuitClosed passes pushes through to the sink.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects pushes without calling the sink.
	CircuitOpen
	// CircuitHalfOpen lets a single probe through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenTimeout      = 30 * time.Second
)

// ErrCircuitOpen is returned by Push while the circuit is open.
var ErrCircuitOpen = errors.New("dead-letter circuit breaker is open")

// CircuitBreakerSink wraps a sink that talks to a remote system. After
// FailureThreshold consecutive failures pushes fail fast with ErrCircuitOpen
// for OpenTimeout, so the worker requeues the message right away instead of
// waiting for a broker that is down.
type CircuitBreakerSink struct {
	sink   mail.DeadLetterSink
	cfg    config.CircuitBreaker
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         CircuitState
	failures      int
	successes     int
	probing       bool
	openedAt      time.Time
	lastErr       error
	totalRejected int64
}

var _ mail.DeadLetterSink = (*CircuitBreakerSink)(nil)

// NewCircuitBreakerSink wraps sink. Non-positive settings fall back to the
// package defaults.
func NewCircuitBreakerSink(sink mail.DeadLetterSink, cfg config.CircuitBreaker, logger *zap.Logger) *CircuitBreakerSink {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}

	metrics.DeadLetterCircuitState.WithLabelValues(sink.Name()).Set(float64(CircuitClosed))
	logger.Info("dead-letter circuit breaker created",
		zap.String("sink", sink.Name()),
		zap.Int("failure_threshold", cfg.FailureThreshold),
		zap.Int("success_threshold", cfg.SuccessThreshold),
		zap.Duration("open_timeout", cfg.OpenTimeout))

	return &CircuitBreakerSink{
		sink:   sink,
		cfg:    cfg,
		logger: logger.Named("circuit-breaker").With(zap.String("sink", sink.Name())),
		now:    time.Now,
	}
}

func (s *CircuitBreakerSink) Name() string {
	return s.sink.Name()
}

// Push forwards the letter unless the circuit is open.
func (s *CircuitBreakerSink) Push(ctx context.Context, letter mail.DeadLetter) error {
	if !s.acquire() {
		metrics.DeadLetterCircuitRejections.WithLabelValues(s.sink.Name()).Inc()
		return fmt.Errorf("%w: %w", ErrCircuitOpen, s.LastError())
	}

	err := s.sink.Push(ctx, letter)
	s.record(err)
	return err
}

// Close closes the wrapped sink.
func (s *CircuitBreakerSink) Close() error {
	s.logger.Info("closing circuit breaker sink", zap.String("state", s.State().String()))
	return s.sink.Close()
}

// State returns the current circuit state. An open circuit whose timeout
// elapsed is still reported as open until the next Push probes it.
func (s *CircuitBreakerSink) State() CircuitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent sink failure, or nil.
func (s *CircuitBreakerSink) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Rejected returns how many pushes were refused while the circuit was open.
func (s *CircuitBreakerSink) Rejected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalRejected
}

func (s *CircuitBreakerSink) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if s.now().Sub(s.openedAt) < s.cfg.OpenTimeout {
			s.totalRejected++
			return false
		}
		s.transition(CircuitHalfOpen)
		s.probing = true
		return true
	case CircuitHalfOpen:
		if s.probing {
			s.totalRejected++
			return false
		}
		s.probing = true
		return true
	}
	return false
}

func (s *CircuitBreakerSink) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.probing = false
	if err != nil {
		s.lastErr = err
		s.successes = 0
		s.failures++
		switch s.state {
		case CircuitClosed:
			if s.failures >= s.cfg.FailureThreshold {
				s.transition(CircuitOpen)
			}
		case CircuitHalfOpen:
			s.transition(CircuitOpen)
		}
		return
	}

	s.failures = 0
	s.successes++
	if s.state == CircuitHalfOpen && s.successes >= s.cfg.SuccessThreshold {
		s.transition(CircuitClosed)
	}
}

// transition must be called with mu held.
func (s *CircuitBreakerSink) transition(to CircuitState) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.failures = 0
	s.successes = 0
	if to == CircuitOpen {
		s.openedAt = s.now()
	}

	s.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	metrics.DeadLetterCircuitState.WithLabelValues(s.sink.Name()).Set(float64(to))
}
