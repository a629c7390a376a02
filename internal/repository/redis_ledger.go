// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/redis/go-redis/v9"
)

// All keys share the {dedup} hash tag so the claim script touches a single
// cluster slot.
const (
	redisTopicsKey  = "{dedup}:topics"
	redisCountKey   = "{dedup}:count"
	redisEntriesKey = "{dedup}:entries:"
	redisIndexKey   = "{dedup}:index:"
)

// claimScript inserts the entry only when the field is absent and updates
// the per-topic index, the topic set and the row count in the same step.
var claimScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[4])
redis.call('INCR', KEYS[4])
return 1
`)

// RedisLedger is a dedup ledger kept in Redis. Durability follows the
// server's persistence settings (AOF recommended).
type RedisLedger struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisLedger(client *redis.Client, logger *slog.Logger) *RedisLedger {
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisLedger{
		client: client,
		logger: logger,
	}
}

func (r *RedisLedger) IsProcessed(ctx context.Context, topic, eventID string) (bool, error) {
	ok, err := r.client.HExists(ctx, redisEntriesKey+topic, eventID).Result()
	if err != nil {
		r.logger.Error("ledger lookup failed",
			"topic", topic,
			"event_id", eventID,
			"error", err,
		)
		return false, storeErr("lookup ledger entry", err)
	}
	return ok, nil
}

func (r *RedisLedger) MarkProcessed(ctx context.Context, topic, eventID string, processedAt time.Time) (bool, error) {
	processedAt = processedAt.UTC()

	res, err := claimScript.Run(ctx, r.client,
		[]string{
			redisEntriesKey + topic,
			redisIndexKey + topic,
			redisTopicsKey,
			redisCountKey,
		},
		eventID,
		processedAt.Format(time.RFC3339Nano),
		processedAt.UnixMicro(),
		topic,
	).Int64()
	if err != nil {
		r.logger.Error("ledger insert failed",
			"topic", topic,
			"event_id", eventID,
			"error", err,
		)
		return false, storeErr("insert ledger entry", err)
	}

	return res == 1, nil
}

func (r *RedisLedger) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := r.client.SMembers(ctx, redisTopicsKey).Result()
	if err != nil {
		r.logger.Error("list topics failed", "error", err)
		return nil, storeErr("list topics", err)
	}
	sort.Strings(topics)
	return topics, nil
}

func (r *RedisLedger) ListEventsForTopic(ctx context.Context, topic string) ([]domain.LedgerEntry, error) {
	ids, err := r.client.ZRange(ctx, redisIndexKey+topic, 0, -1).Result()
	if err != nil {
		r.logger.Error("list ledger index failed", "topic", topic, "error", err)
		return nil, storeErr("list ledger entries", err)
	}
	if len(ids) == 0 {
		return []domain.LedgerEntry{}, nil
	}

	values, err := r.client.HMGet(ctx, redisEntriesKey+topic, ids...).Result()
	if err != nil {
		r.logger.Error("load ledger entries failed", "topic", topic, "error", err)
		return nil, storeErr("list ledger entries", err)
	}

	out := make([]domain.LedgerEntry, 0, len(ids))
	for i, id := range ids {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			r.logger.Error("parse ledger timestamp failed",
				"topic", topic,
				"event_id", id,
				"error", err,
			)
			return nil, storeErr("decode ledger entry", err)
		}
		out = append(out, domain.LedgerEntry{EventID: id, ProcessedAt: ts})
	}

	return out, nil
}

func (r *RedisLedger) CountProcessed(ctx context.Context) (int64, error) {
	n, err := r.client.Get(ctx, redisCountKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		r.logger.Error("count ledger entries failed", "error", err)
		return 0, storeErr("count ledger entries", err)
	}
	return n, nil
}

func (r *RedisLedger) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping redis", err)
	}
	return nil
}
