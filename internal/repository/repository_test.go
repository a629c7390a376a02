// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func TestNewLedgerRepository(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	repo := NewLedgerRepository(pool, logger)
	if repo == nil {
		t.Fatal("expected ledger repository instance")
	}
	if repo.pool != pool {
		t.Fatal("expected pool reference to be preserved")
	}
	if repo.logger != logger {
		t.Fatal("expected logger reference to be preserved")
	}
}

func TestNewLedgerRepositoryDefaultLogger(t *testing.T) {
	repo := NewLedgerRepository(nil, nil)
	if repo.logger == nil {
		t.Fatal("expected default logger")
	}
}

func TestNewRedisLedger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	ledger := NewRedisLedger(client, logger)
	if ledger.client != client {
		t.Fatal("expected client reference to be preserved")
	}
	if ledger.logger != logger {
		t.Fatal("expected logger reference to be preserved")
	}
}

func TestStoreErrWrapsBoth(t *testing.T) {
	cause := errors.New("disk full")
	err := storeErr("insert ledger entry", cause)

	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected ErrStore in chain: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain: %v", err)
	}
}
