// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/event-aggregator/internal/app"
	"github.com/adiadia/event-aggregator/internal/config"
	"github.com/adiadia/event-aggregator/internal/ingest"
	"github.com/adiadia/event-aggregator/internal/logging"
	"github.com/adiadia/event-aggregator/internal/metrics"
	"github.com/adiadia/event-aggregator/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.Kafka.Enabled() {
		log.Fatal("worker requires KAFKA_BROKERS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("ledger backend: %v", err)
	}
	defer backend.Close()

	p := pipeline.New(pipeline.Deps{Ledger: backend.Ledger, Logger: logger})
	if err := p.Start(context.Background()); err != nil {
		log.Fatalf("pipeline start: %v", err)
	}

	consumer, err := ingest.NewConsumer(ingest.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}, p, logger.With("component", "kafka_ingest"))
	if err != nil {
		log.Fatalf("kafka consumer: %v", err)
	}

	metrics.Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	go logStats(ctx, p, cfg.StatsLogInterval, logger)

	logger.Info("worker started",
		"ledger", backend.Name,
		"kafka_topic", cfg.Kafka.Topic,
		"kafka_group", cfg.Kafka.GroupID,
		"metrics_addr", cfg.MetricsAddr,
	)

	if err := consumer.Run(ctx); err != nil {
		logger.Error("kafka ingest stopped", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := consumer.Close(); err != nil {
		logger.Warn("kafka consumer close error", "error", err)
	}
	if err := p.Stop(shutdownCtx); err != nil {
		logger.Error("pipeline stop error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown error", "error", err)
	}
	logger.Info("worker stopped")
}

func logStats(ctx context.Context, p *pipeline.Pipeline, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := p.Stats(ctx)
			if err != nil {
				logger.Warn("stats snapshot failed", "error", err)
				continue
			}
			logger.Info("aggregator stats",
				"received", s.Received,
				"unique_processed", s.UniqueProcessed,
				"duplicate_dropped", s.DuplicateDropped,
				"topics", len(s.Topics),
				"queue_depth", p.QueueDepth(),
				"uptime_seconds", s.UptimeSeconds,
			)
		}
	}
}
