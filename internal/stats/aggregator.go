// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/adiadia/event-aggregator/internal/domain"
)

type LedgerReader interface {
	CountProcessed(ctx context.Context) (int64, error)
	ListTopics(ctx context.Context) ([]string, error)
}

type Deps struct {
	Ledger LedgerReader
	// Now defaults to time.Now.
	Now func() time.Time
}

// Aggregator owns the process-scoped counters and derives the reported
// stats from them and from the ledger on every call.
type Aggregator struct {
	ledger    LedgerReader
	now       func() time.Time
	startedAt time.Time
	received  atomic.Int64
}

func New(deps Deps) *Aggregator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Aggregator{
		ledger:    deps.Ledger,
		now:       now,
		startedAt: now(),
	}
}

// RecordReceived counts events accepted into the queue. Callers must record
// before enqueueing so received never trails unique_processed.
func (a *Aggregator) RecordReceived(n int) {
	a.received.Add(int64(n))
}

func (a *Aggregator) Received() int64 {
	return a.received.Load()
}

func (a *Aggregator) StartedAt() time.Time {
	return a.startedAt
}

func (a *Aggregator) Uptime() time.Duration {
	return a.now().Sub(a.startedAt)
}

// Snapshot recomputes the stats. duplicate_dropped is received minus the
// durable unique count, so after a restart against a populated ledger it is
// negative until received catches up.
func (a *Aggregator) Snapshot(ctx context.Context) (domain.Stats, error) {
	// Count the ledger before loading received so a publish racing this call
	// cannot leave unique_processed above received.
	unique, err := a.ledger.CountProcessed(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	received := a.received.Load()

	topics, err := a.ledger.ListTopics(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	if topics == nil {
		topics = []string{}
	}

	return domain.Stats{
		Received:         received,
		UniqueProcessed:  unique,
		DuplicateDropped: received - unique,
		Topics:           topics,
		UptimeSeconds:    a.Uptime().Seconds(),
	}, nil
}
