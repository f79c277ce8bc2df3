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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/mailqueue/pkg/metrics"
)

func TestService_PostDeliversAndLogs(t *testing.T) {
	tr := newFakeTransport()
	s, q, logs := newTestService(t, tr)

	s.Start()
	id, err := s.Post("a@x", []string{"b@y"}, "hi", "body", false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("delivered to b@y").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, logs.FilterMessage("Starting background e-mail delivery").Len())
	assert.Equal(t, 1, logs.FilterMessage("Stopping e-mail background delivery").Len())
	assert.Equal(t, 1, logs.FilterMessage("E-mail background delivery stopped").Len())
}

func TestService_AlwaysFailingTransportKeepsMessageQueued(t *testing.T) {
	tr := newFakeTransport()
	tr.failFn = func(string, int) error { return sendErr("relay down") }
	s, q, _ := newTestService(t, tr, WithRetryPolicy(RetryPolicy{Backoff: 50 * time.Millisecond}))

	s.Start()
	_, err := s.Post("a@x", []string{"b@y"}, "hi", "body", false)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.Count("hi") >= 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s.Stop(ctx)

	require.Eventually(t, func() bool { return s.State() == StateStopped }, 2*time.Second, 5*time.Millisecond)
	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, tr.Delivered())
}

func TestService_StopWhileIdleIsPrompt(t *testing.T) {
	s, _, _ := newTestService(t, newFakeTransport())
	s.Start()
	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	s.Stop(ctx)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StateStopped, s.State())
}

func TestService_StopDuringBackoffWaitsForRequeue(t *testing.T) {
	tr := newFakeTransport()
	tr.failFn = func(string, int) error { return sendErr("relay down") }
	backoff := 200 * time.Millisecond
	s, q, _ := newTestService(t, tr, WithRetryPolicy(RetryPolicy{Backoff: backoff}))

	post(t, s, "slow")
	s.Start()
	require.Eventually(t, func() bool { return tr.Count("slow") == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	s.Stop(ctx)

	assert.GreaterOrEqual(t, time.Since(start), backoff/2, "stop must not cut the backoff short")
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, tr.Count("slow"), "no new attempt may start after stop")

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_ConcurrentProducers(t *testing.T) {
	tr := newFakeTransport()
	s, _, _ := newTestService(t, tr)
	s.Start()

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	var ids sync.Map
	var dupes atomic.Int32
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id, err := s.Post("", []string{"b@y"}, fmt.Sprintf("p%d-%d", p, i), "body", false)
				if !assert.NoError(t, err) {
					return
				}
				if _, loaded := ids.LoadOrStore(id, true); loaded {
					dupes.Add(1)
				}
			}
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(tr.Delivered()) == producers*perProducer
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, dupes.Load())

	seen := make(map[string]bool)
	for _, subject := range tr.Delivered() {
		assert.False(t, seen[subject], "delivered twice: %s", subject)
		seen[subject] = true
	}
}

func TestService_StartTwiceWarns(t *testing.T) {
	s, _, logs := newTestService(t, newFakeTransport())
	s.Start()
	s.Start()

	assert.Equal(t, 1, logs.FilterMessage("Starting background e-mail delivery").Len())
	assert.Equal(t, 1, logs.FilterMessage("E-mail background delivery already running").Len())
}

func TestService_StopAndCloseAreIdempotent(t *testing.T) {
	s, _, _ := newTestService(t, newFakeTransport())

	assert.NotPanics(t, func() {
		s.Stop(context.Background())
		assert.NoError(t, s.Close())
	}, "stop and close before start")

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() {
		s.Stop(ctx)
		s.Stop(ctx)
		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())
	})
	assert.Equal(t, StateStopped, s.State())
}

func TestService_CloseDoesNotWait(t *testing.T) {
	tr := newFakeTransport()
	tr.failFn = func(string, int) error { return sendErr("relay down") }
	s, _, _ := newTestService(t, tr, WithRetryPolicy(RetryPolicy{Backoff: 300 * time.Millisecond}))

	post(t, s, "slow")
	s.Start()
	require.Eventually(t, func() bool { return tr.Count("slow") == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Close())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == StateStopped }, 2*time.Second, 10*time.Millisecond)
}

func TestService_RestartAfterStop(t *testing.T) {
	tr := newFakeTransport()
	s, _, _ := newTestService(t, tr)

	s.Start()
	s.Stop(context.Background())
	post(t, s, "after-stop")
	assert.Empty(t, tr.Delivered(), "nothing is delivered while stopped")

	s.Start()
	require.Eventually(t, func() bool { return len(tr.Delivered()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestService_PostValidation(t *testing.T) {
	s, q, _ := newTestService(t, newFakeTransport())

	_, err := s.Post("a@x", nil, "hi", "body", false)
	assert.True(t, errors.Is(err, ErrInvalidMessage))

	_, err = s.Post("a@x", []string{"b@y"}, "hi\nBcc: c@z", "body", false)
	assert.True(t, errors.Is(err, ErrInvalidMessage))

	require.NoError(t, q.Close())
	_, err = s.Post("a@x", []string{"b@y"}, "hi", "body", false)
	assert.True(t, errors.Is(err, ErrQueueClosed))

	n, err := s.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_QueuedMetric(t *testing.T) {
	s, _, _ := newTestService(t, newFakeTransport())
	before := testutil.ToFloat64(metrics.MailQueued.WithLabelValues("smtp.test"))

	post(t, s, "counted")

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MailQueued.WithLabelValues("smtp.test")))
}

func TestService_WarnsOnMaxAttemptsWithoutSink(t *testing.T) {
	log, logs := newObservedLogger()
	NewService(NewMemoryQueue(), newFakeTransport(), StaticSettings(testSettings()), log,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3}))

	entries := logs.FilterMessageSnippet("without a dead-letter sink").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "mail-service", entries[0].LoggerName)
}
