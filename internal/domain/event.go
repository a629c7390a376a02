// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// Event is the unit a producer publishes. Topic and EventID together form
// the dedup key; Timestamp and Payload never take part in deduplication.
type Event struct {
	Topic     string         `json:"topic"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// Key returns the dedup key of the event.
func (e Event) Key() Key {
	return Key{Topic: e.Topic, EventID: e.EventID}
}

type Key struct {
	Topic   string
	EventID string
}

// ProcessedEvent is the in-memory view of an event that passed the ledger.
type ProcessedEvent struct {
	Seq         int64          `json:"seq"`
	Topic       string         `json:"topic"`
	EventID     string         `json:"event_id"`
	ProcessedAt time.Time      `json:"processed_at"`
	Source      string         `json:"source"`
	Payload     map[string]any `json:"payload"`
}

// LedgerEntry is one durable row of the dedup ledger.
type LedgerEntry struct {
	EventID     string    `json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

type Stats struct {
	Received         int64    `json:"received"`
	UniqueProcessed  int64    `json:"unique_processed"`
	DuplicateDropped int64    `json:"duplicate_dropped"`
	Topics           []string `json:"topics"`
	UptimeSeconds    float64  `json:"uptime_seconds"`
}
