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

// Package redisqueue implements mail.Queue on top of a Redis list so pending
// messages survive a restart of the service.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telekom/mailqueue/pkg/config"
	"github.com/telekom/mailqueue/pkg/mail"
	"github.com/telekom/mailqueue/pkg/metrics"
)

const (
	// DefaultPollInterval bounds how long a waiting Dequeue takes to notice
	// cancellation.
	DefaultPollInterval = 200 * time.Millisecond

	minPollInterval = 10 * time.Millisecond
	// Fractional BLPOP timeouts go through Do, which uses the client read
	// timeout (3s by default), so they are kept below it.
	maxFractionalPoll = 2 * time.Second
)

// Queue stores items as JSON in a Redis list. Enqueue appends with RPUSH and
// Dequeue pops the head with BLPOP, waking up every PollInterval to check
// for cancellation.
type Queue struct {
	client       redis.UniversalClient
	key          string
	pollInterval time.Duration
	closed       atomic.Bool
}

var _ mail.Queue = (*Queue)(nil)

// NewClient creates a Redis client from the redis configuration section.
func NewClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
	})
}

// New returns a Queue using client. The caller owns the client and closes it
// after the queue is no longer used.
func New(client redis.UniversalClient, cfg config.Redis) *Queue {
	poll := cfg.PollInterval
	switch {
	case poll <= 0:
		poll = DefaultPollInterval
	case poll < minPollInterval:
		poll = minPollInterval
	case poll > maxFractionalPoll && poll%time.Second != 0:
		poll = poll.Truncate(time.Second)
	}
	key := cfg.Key
	if key == "" {
		key = "mailqueue:pending"
	}
	return &Queue{client: client, key: key, pollInterval: poll}
}

// Ping checks that Redis is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, item mail.QueueItem) error {
	if q.closed.Load() {
		return mail.ErrQueueClosed
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item %s: %w", item.ID, err)
	}
	depth, err := q.client.RPush(ctx, q.key, data).Result()
	if err != nil {
		return fmt.Errorf("redis rpush %s: %w", q.key, err)
	}
	metrics.MailQueueDepth.Set(float64(depth))
	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (mail.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return mail.QueueItem{}, fmt.Errorf("%w: %w", mail.ErrCancelled, err)
		}

		if q.closed.Load() {
			return q.drain(ctx)
		}

		res, err := q.blpop(ctx)
		switch {
		case err == nil:
			q.updateDepth(ctx)
			return decode(res[1])
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return mail.QueueItem{}, fmt.Errorf("%w: %w", mail.ErrCancelled, ctx.Err())
		default:
			return mail.QueueItem{}, fmt.Errorf("redis blpop %s: %w", q.key, err)
		}
	}
}

// blpop waits at most pollInterval for the head item. Sub-second and
// fractional timeouts need Redis 6 or later.
func (q *Queue) blpop(ctx context.Context) ([]string, error) {
	if q.pollInterval%time.Second == 0 {
		return q.client.BLPop(ctx, q.pollInterval, q.key).Result()
	}
	timeout := strconv.FormatFloat(q.pollInterval.Seconds(), 'f', 3, 64)
	return q.client.Do(ctx, "blpop", q.key, timeout).StringSlice()
}

// updateDepth refreshes the depth gauge after a pop. Errors are ignored, the
// next successful pop or push corrects the value.
func (q *Queue) updateDepth(ctx context.Context) {
	if n, err := q.client.LLen(context.WithoutCancel(ctx), q.key).Result(); err == nil {
		metrics.MailQueueDepth.Set(float64(n))
	}
}

// drain pops without blocking once the queue is closed.
func (q *Queue) drain(ctx context.Context) (mail.QueueItem, error) {
	data, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return mail.QueueItem{}, mail.ErrQueueClosed
	}
	if err != nil {
		return mail.QueueItem{}, fmt.Errorf("redis lpop %s: %w", q.key, err)
	}
	q.updateDepth(ctx)
	return decode(data)
}

func decode(data string) (mail.QueueItem, error) {
	var item mail.QueueItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return mail.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
	}
	return item, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %s: %w", q.key, err)
	}
	return int(n), nil
}

// Close rejects further Enqueue calls. Items already stored stay in Redis.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}
