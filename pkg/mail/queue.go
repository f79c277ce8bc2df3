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

	"github.com/telekom/mailqueue/pkg/metrics"
)

// Queue is a multi-producer, single-consumer FIFO of pending deliveries.
// Failed items are put back with Enqueue and therefore land at the tail.
type Queue interface {
	// Enqueue appends an item without waiting for a consumer.
	Enqueue(ctx context.Context, item QueueItem) error
	// Dequeue blocks until an item is available or ctx is done.
	Dequeue(ctx context.Context) (QueueItem, error)
	// Len returns the number of waiting items.
	Len(ctx context.Context) (int, error)
	// Close makes further Enqueue calls fail with ErrQueueClosed.
	Close() error
}

// MemoryQueue is an unbounded in-memory Queue. Nothing survives a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []QueueItem
	closed bool
	// signal holds at most one pending wake-up for the consumer.
	signal chan struct{}
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{signal: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item QueueItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.MailQueueDepth.Set(float64(depth))
	q.wake()
	return nil
}

func (q *MemoryQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue returns the head item. A context that is already done wins over
// waiting items so a stopping worker never picks up new work.
func (q *MemoryQueue) Dequeue(ctx context.Context) (QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return QueueItem{}, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = QueueItem{}
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()
			metrics.MailQueueDepth.Set(float64(depth))
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return QueueItem{}, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return QueueItem{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close is idempotent. Items already queued can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
	return nil
}
