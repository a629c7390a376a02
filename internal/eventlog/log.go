// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"sync"

	"github.com/adiadia/event-aggregator/internal/domain"
)

// Log is the append-only, process-lifetime history of events that passed
// deduplication. Appends come from the consumer only; reads may happen from
// any goroutine.
type Log struct {
	mu     sync.RWMutex
	events []domain.ProcessedEvent
}

func New() *Log {
	return &Log{
		events: make([]domain.ProcessedEvent, 0, 128),
	}
}

// Append stores ev with the next sequence number and returns it.
func (l *Log) Append(ev domain.ProcessedEvent) domain.ProcessedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Seq = int64(len(l.events)) + 1
	l.events = append(l.events, ev)
	return ev
}

// List returns the views in processing order, restricted to topic when it is
// non-empty.
func (l *Log) List(topic string) []domain.ProcessedEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.ProcessedEvent, 0, len(l.events))
	for _, ev := range l.events {
		if topic != "" && ev.Topic != topic {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// After returns the views whose sequence number is greater than seq.
func (l *Log) After(seq int64) []domain.ProcessedEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(l.events)) {
		return nil
	}

	out := make([]domain.ProcessedEvent, len(l.events)-int(seq))
	copy(out, l.events[seq:])
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
