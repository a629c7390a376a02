// SPDX-License-Identifier: Apache-2.0

// Package app opens the process-level dependencies shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adiadia/event-aggregator/internal/config"
	"github.com/adiadia/event-aggregator/internal/persistence/postgres"
	redisstore "github.com/adiadia/event-aggregator/internal/persistence/redis"
	"github.com/adiadia/event-aggregator/internal/pipeline"
	"github.com/adiadia/event-aggregator/internal/repository"
)

type HealthChecker interface {
	Check(ctx context.Context) error
}

// Backend is an opened dedup ledger together with its readiness check.
type Backend struct {
	Name   string
	Ledger pipeline.Ledger
	Health HealthChecker
	Close  func()
}

func OpenBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return Backend{}, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
				pool.Close()
				return Backend{}, fmt.Errorf("ensure schema: %w", err)
			}
		}
		return Backend{
			Name:   config.LedgerPostgres,
			Ledger: repository.NewLedgerRepository(pool, logger),
			Health: postgres.NewSchemaHealthChecker(pool),
			Close:  pool.Close,
		}, nil

	case config.LedgerRedis:
		client, err := redisstore.NewClient(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return Backend{}, fmt.Errorf("connect redis: %w", err)
		}
		ledger := repository.NewRedisLedger(client, logger)
		return Backend{
			Name:   config.LedgerRedis,
			Ledger: ledger,
			Health: pingChecker{ledger},
			Close:  func() { _ = client.Close() },
		}, nil
	}

	return Backend{}, fmt.Errorf("unsupported ledger backend %q", cfg.LedgerBackend)
}

type pingChecker struct {
	ledger interface{ Ping(ctx context.Context) error }
}

func (p pingChecker) Check(ctx context.Context) error {
	return p.ledger.Ping(ctx)
}
