// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/event-aggregator/internal/app"
	"github.com/adiadia/event-aggregator/internal/config"
	"github.com/adiadia/event-aggregator/internal/ingest"
	"github.com/adiadia/event-aggregator/internal/logging"
	"github.com/adiadia/event-aggregator/internal/pipeline"
	httptransport "github.com/adiadia/event-aggregator/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("ledger backend: %v", err)
	}
	defer backend.Close()

	p := pipeline.New(pipeline.Deps{
		Ledger: backend.Ledger,
		Logger: logger,
	})
	if err := p.Start(context.Background()); err != nil {
		log.Fatalf("pipeline start: %v", err)
	}

	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled() {
		consumer, err = ingest.NewConsumer(ingest.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, p, logger.With("component", "kafka_ingest"))
		if err != nil {
			log.Fatalf("kafka consumer: %v", err)
		}

		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka ingest stopped", "error", err)
			}
		}()
	}

	handler := httptransport.NewRouter(httptransport.Deps{
		Publisher:         p,
		Events:            p,
		Ledger:            p,
		Stats:             p,
		Health:            backend.Health,
		Logger:            logger,
		PublishToken:      cfg.PublishToken,
		PublishRatePerMin: cfg.PublishRatePerMin,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"ledger", backend.Name,
			"kafka_ingest", cfg.Kafka.Enabled(),
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("kafka consumer close error", "error", err)
		}
	}
	if err := p.Stop(shutdownCtx); err != nil {
		logger.Error("pipeline stop error", "error", err)
	}

	if s, err := p.Stats(shutdownCtx); err == nil {
		logger.Info("final stats",
			"received", s.Received,
			"unique_processed", s.UniqueProcessed,
			"duplicate_dropped", s.DuplicateDropped,
		)
	}
}
