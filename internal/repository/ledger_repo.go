// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository is the Postgres-backed dedup ledger. The primary key on
// (topic, event_id) is the idempotency gate.
type LedgerRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewLedgerRepository(pool *pgxpool.Pool, logger *slog.Logger) *LedgerRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &LedgerRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *LedgerRepository) IsProcessed(ctx context.Context, topic, eventID string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM dedup WHERE topic=$1 AND event_id=$2
		)
	`, topic, eventID).Scan(&exists); err != nil {
		r.logger.Error("ledger lookup failed",
			"topic", topic,
			"event_id", eventID,
			"error", err,
		)
		return false, storeErr("lookup ledger entry", err)
	}
	return exists, nil
}

// MarkProcessed claims (topic, eventID). It reports true only for the call
// that inserted the row; an existing row is left untouched.
func (r *LedgerRepository) MarkProcessed(ctx context.Context, topic, eventID string, processedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO dedup (topic, event_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (topic, event_id) DO NOTHING
	`,
		topic,
		eventID,
		processedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("ledger insert failed",
			"topic", topic,
			"event_id", eventID,
			"error", err,
		)
		return false, storeErr("insert ledger entry", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *LedgerRepository) ListTopics(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT topic
		FROM dedup
		ORDER BY topic
	`)
	if err != nil {
		r.logger.Error("list topics query failed", "error", err)
		return nil, storeErr("list topics", err)
	}
	defer rows.Close()

	out := make([]string, 0, 8)
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			r.logger.Error("scan topic row failed", "error", err)
			return nil, storeErr("scan topic", err)
		}
		out = append(out, topic)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("topic rows iteration failed", "error", err)
		return nil, storeErr("list topics", err)
	}

	return out, nil
}

func (r *LedgerRepository) ListEventsForTopic(ctx context.Context, topic string) ([]domain.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, processed_at
		FROM dedup
		WHERE topic=$1
		ORDER BY processed_at ASC, event_id ASC
	`, topic)
	if err != nil {
		r.logger.Error("list ledger entries query failed", "topic", topic, "error", err)
		return nil, storeErr("list ledger entries", err)
	}
	defer rows.Close()

	out := make([]domain.LedgerEntry, 0, 16)
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(&entry.EventID, &entry.ProcessedAt); err != nil {
			r.logger.Error("scan ledger row failed", "topic", topic, "error", err)
			return nil, storeErr("scan ledger entry", err)
		}
		entry.ProcessedAt = entry.ProcessedAt.UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("ledger rows iteration failed", "topic", topic, "error", err)
		return nil, storeErr("list ledger entries", err)
	}

	return out, nil
}

func (r *LedgerRepository) CountProcessed(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM dedup`).Scan(&n); err != nil {
		r.logger.Error("count ledger entries failed", "error", err)
		return 0, storeErr("count ledger entries", err)
	}
	return n, nil
}

func (r *LedgerRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return storeErr("ping postgres", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStore, err)
}
