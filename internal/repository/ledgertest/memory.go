// SPDX-License-Identifier: Apache-2.0

// Package ledgertest provides an in-memory dedup ledger for tests. It keeps
// the insert-with-uniqueness contract of the durable backends.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adiadia/event-aggregator/internal/domain"
)

type Memory struct {
	mu      sync.Mutex
	entries map[domain.Key]time.Time
	claims  int

	// Err, when set, is returned from MarkProcessed wrapped in domain.ErrStore.
	Err error
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[domain.Key]time.Time)}
}

func (m *Memory) IsProcessed(_ context.Context, topic, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[domain.Key{Topic: topic, EventID: eventID}]
	return ok, nil
}

func (m *Memory) MarkProcessed(_ context.Context, topic, eventID string, processedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, fmt.Errorf("insert ledger entry: %w: %w", domain.ErrStore, m.Err)
	}

	key := domain.Key{Topic: topic, EventID: eventID}
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = processedAt.UTC()
	m.claims++
	return true, nil
}

func (m *Memory) ListTopics(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	for key := range m.entries {
		seen[key.Topic] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for topic := range seen {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListEventsForTopic(_ context.Context, topic string) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.LedgerEntry, 0)
	for key, ts := range m.entries {
		if key.Topic == topic {
			out = append(out, domain.LedgerEntry{EventID: key.EventID, ProcessedAt: ts})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].ProcessedAt.Before(out[j].ProcessedAt)
	})
	return out, nil
}

func (m *Memory) CountProcessed(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// SetErr changes the injected failure under the ledger lock.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Claims returns how many MarkProcessed calls returned true.
func (m *Memory) Claims() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims
}
