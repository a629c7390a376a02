// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/adiadia/event-aggregator/internal/metrics"
	"github.com/adiadia/event-aggregator/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxPublishBodyBytes = 1 << 20

type Deps struct {
	Publisher Publisher
	Events    EventReader
	Ledger    LedgerReader
	Stats     StatsReader
	Health    HealthChecker
	Logger    *slog.Logger

	PublishToken      string
	PublishRatePerMin int
	// StreamInterval is the poll period of the SSE and websocket feeds.
	StreamInterval time.Duration

	Version   string
	Commit    string
	BuildDate string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	interval := deps.StreamInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))
	r.Use(chimiddleware.Recoverer)

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- PUBLISH ----------------

	r.With(
		middleware.PublishRateLimit(deps.PublishRatePerMin, logger),
		middleware.PublishTokenAuth(deps.PublishToken, logger),
	).Post("/publish", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPublishBodyBytes))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		events, err := domain.DecodeEvents(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := domain.ValidateBatch(events); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		accepted, err := deps.Publisher.Submit(events)
		if err != nil {
			if errors.Is(err, domain.ErrPipelineStopped) {
				logger.Warn("publish rejected, pipeline stopped", "accepted", accepted)
				http.Error(w, "aggregator is shutting down", http.StatusServiceUnavailable)
				return
			}
			logger.Error("publish failed", "accepted", accepted, "error", err)
			http.Error(w, "failed to publish", http.StatusInternalServerError)
			return
		}

		logger.Debug("events accepted", "count", accepted)
		writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
	})

	// ---------------- STATS ----------------

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Stats.Stats(r.Context())
		if err != nil {
			logger.Error("stats failed", "error", err)
			http.Error(w, "failed to compute stats", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, s)
	})

	// ---------------- PROCESSED EVENTS ----------------

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		topic := strings.TrimSpace(r.URL.Query().Get("topic"))
		writeJSON(w, http.StatusOK, deps.Events.Events(topic))
	})

	r.Get("/events/stream", streamEventsSSE(deps.Events, interval, logger))
	r.Get("/events/ws", streamEventsWS(deps.Events, interval, logger))

	// ---------------- LEDGER ----------------

	r.Get("/topics", func(w http.ResponseWriter, r *http.Request) {
		topics, err := deps.Ledger.Topics(r.Context())
		if err != nil {
			logger.Error("list topics failed", "error", err)
			http.Error(w, "failed to list topics", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"topics": nonNil(topics)})
	})

	r.Get("/topics/{topic}/ledger", func(w http.ResponseWriter, r *http.Request) {
		topic := chi.URLParam(r, "topic")

		entries, err := deps.Ledger.LedgerEvents(r.Context(), topic)
		if err != nil {
			logger.Error("list ledger entries failed", "topic", topic, "error", err)
			http.Error(w, "failed to list ledger entries", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Topic  string               `json:"topic"`
			Events []domain.LedgerEntry `json:"events"`
		}{
			Topic:  topic,
			Events: nonNil(entries),
		})
	})

	r.Get("/topics/{topic}/events/{eventID}", func(w http.ResponseWriter, r *http.Request) {
		topic := chi.URLParam(r, "topic")
		eventID := chi.URLParam(r, "eventID")

		processed, err := deps.Ledger.IsProcessed(r.Context(), topic, eventID)
		if err != nil {
			logger.Error("ledger lookup failed", "topic", topic, "event_id", eventID, "error", err)
			http.Error(w, "failed to look up event", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"topic":     topic,
			"event_id":  eventID,
			"processed": processed,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
