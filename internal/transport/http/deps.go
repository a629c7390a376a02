// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/event-aggregator/internal/domain"
)

type Publisher interface {
	Submit(events []domain.Event) (int, error)
}

// EventReader serves the in-memory processed-event views of this process.
type EventReader interface {
	Events(topic string) []domain.ProcessedEvent
	EventsAfter(seq int64) []domain.ProcessedEvent
}

// LedgerReader serves the durable dedup history.
type LedgerReader interface {
	Topics(ctx context.Context) ([]string, error)
	LedgerEvents(ctx context.Context, topic string) ([]domain.LedgerEntry, error)
	IsProcessed(ctx context.Context, topic, eventID string) (bool, error)
}

type StatsReader interface {
	Stats(ctx context.Context) (domain.Stats, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
