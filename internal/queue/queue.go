// SPDX-License-Identifier: Apache-2.0

// Package queue is the in-memory hand-off between publishers and the single
// consumer. Enqueue never blocks; anything still queued when the queue is
// closed is dropped.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/adiadia/event-aggregator/internal/domain"
)

var ErrClosed = errors.New("queue closed")

// Queue is an unbounded multi-producer single-consumer FIFO of events.
type Queue struct {
	mu     sync.Mutex
	items  []domain.Event
	closed bool

	// ready holds at most one wake-up for the consumer.
	ready chan struct{}
	done  chan struct{}
}

func New() *Queue {
	return &Queue{
		items: make([]domain.Event, 0, 64),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends ev and wakes the consumer. It is safe for concurrent use.
func (q *Queue) Enqueue(ev domain.Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until an event is available, ctx is done or the queue is
// closed. Only one goroutine may call Dequeue.
func (q *Queue) Dequeue(ctx context.Context) (domain.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Event{}, err
		}

		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return domain.Event{}, ErrClosed
		}
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = domain.Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case <-q.done:
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues, releases a blocked Dequeue and returns the
// number of events that were abandoned.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.closed = true
	close(q.done)

	abandoned := len(q.items)
	q.items = nil
	return abandoned
}
