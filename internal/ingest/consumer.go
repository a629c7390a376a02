// SPDX-License-Identifier: Apache-2.0

// Package ingest feeds events published on Kafka into the pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/adiadia/event-aggregator/internal/metrics"
	kafka "github.com/segmentio/kafka-go"
)

const (
	outcomeSubmitted = "submitted"
	outcomeInvalid   = "invalid"
	outcomeFailed    = "failed"
)

type Submitter interface {
	Submit(events []domain.Event) (int, error)
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// Consumer reads messages holding one event or an array of events, submits
// them and commits the offset afterwards. Redelivery after a crash is
// absorbed by the dedup ledger.
type Consumer struct {
	reader    kafkaReader
	submitter Submitter
	logger    *slog.Logger
}

func NewConsumer(cfg ConsumerConfig, submitter Submitter, logger *slog.Logger) (*Consumer, error) {
	brokers := normalizeBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer requires at least one broker")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka consumer requires topic")
	}
	groupID := strings.TrimSpace(cfg.GroupID)
	if groupID == "" {
		return nil, errors.New("kafka consumer requires group_id")
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     maxWait,
		StartOffset: kafka.FirstOffset,
		Dialer:      &kafka.Dialer{Timeout: 10 * time.Second, ClientID: "event-aggregator"},
	})

	return newConsumerWithReader(reader, submitter, logger)
}

func newConsumerWithReader(reader kafkaReader, submitter Submitter, logger *slog.Logger) (*Consumer, error) {
	if reader == nil {
		return nil, errors.New("reader is required")
	}
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()

	return &Consumer{
		reader:    reader,
		submitter: submitter,
		logger:    logger,
	}, nil
}

// Run consumes until ctx is done, the reader is closed or the pipeline stops.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if isContextDone(err) || isContextDone(ctx.Err()) || isReaderClosedErr(err) {
				return nil
			}
			return fmt.Errorf("fetching kafka message: %w", err)
		}

		events, err := domain.DecodeEvents(msg.Value)
		if err == nil {
			err = domain.ValidateBatch(events)
		}
		if err != nil {
			metrics.IncIngestMessages(outcomeInvalid)
			c.logger.Warn("dropping invalid kafka message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return fmt.Errorf("committing dropped message offset: %w", err)
			}
			continue
		}

		accepted, err := c.submitter.Submit(events)
		if err != nil {
			if errors.Is(err, domain.ErrPipelineStopped) {
				// Left uncommitted so the group redelivers it.
				c.logger.Info("pipeline stopped, leaving kafka message uncommitted",
					"partition", msg.Partition,
					"offset", msg.Offset,
					"accepted", accepted,
				)
				return nil
			}
			metrics.IncIngestMessages(outcomeFailed)
			return fmt.Errorf("submitting kafka message offset=%d: %w", msg.Offset, err)
		}
		metrics.IncIngestMessages(outcomeSubmitted)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if isContextDone(ctx.Err()) {
				return nil
			}
			return fmt.Errorf("committing kafka message offset: %w", err)
		}

		c.logger.Debug("kafka message submitted",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"events", accepted,
		)
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func normalizeBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func isReaderClosedErr(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "reader closed") || strings.Contains(msg, "use of closed network connection")
}

func isContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
