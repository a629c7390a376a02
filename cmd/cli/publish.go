// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/adiadia/event-aggregator/internal/ingest"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type publishOptions struct {
	topic      string
	eventID    string
	source     string
	payload    string
	timestamp  string
	file       string
	repeat     int
	via        string
	token      string
	brokers    string
	kafkaTopic string
}

func newPublishCmd(client func() *apiClient) *cobra.Command {
	var opts publishOptions
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event, or the events in a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := buildEvents(opts, time.Now)
			if err != nil {
				return err
			}
			if err := domain.ValidateBatch(events); err != nil {
				return err
			}

			ctx := cmd.Context()
			switch opts.via {
			case "http":
				accepted, err := client().Publish(ctx, opts.token, events)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "accepted %d event(s)\n", accepted)
			case "kafka":
				producer, err := ingest.NewProducer(ingest.ProducerConfig{
					Brokers: strings.Split(opts.brokers, ","),
					Topic:   opts.kafkaTopic,
				})
				if err != nil {
					return err
				}
				defer producer.Close()

				if err := producer.Publish(ctx, events...); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d event(s) to kafka topic %s\n", len(events), opts.kafkaTopic)
			default:
				return fmt.Errorf("unknown --via %q (http or kafka)", opts.via)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.topic, "topic", "", "event topic")
	f.StringVar(&opts.eventID, "event-id", "", "event id (default: random uuid)")
	f.StringVar(&opts.source, "source", "aggctl", "producer name")
	f.StringVar(&opts.payload, "payload", "{}", "JSON object payload")
	f.StringVar(&opts.timestamp, "timestamp", "", "RFC 3339 timestamp (default: now)")
	f.StringVar(&opts.file, "file", "", "JSON file holding one event or an array; overrides the event flags")
	f.IntVar(&opts.repeat, "repeat", 1, "send the event this many times")
	f.StringVar(&opts.via, "via", "http", "transport: http or kafka")
	f.StringVar(&opts.token, "token", os.Getenv("PUBLISH_TOKEN"), "bearer token for POST /publish")
	f.StringVar(&opts.brokers, "brokers", envOr("KAFKA_BROKERS", "localhost:9092"), "comma separated kafka brokers")
	f.StringVar(&opts.kafkaTopic, "kafka-topic", envOr("KAFKA_TOPIC", "events"), "kafka ingress topic")
	return cmd
}

func buildEvents(opts publishOptions, now func() time.Time) ([]domain.Event, error) {
	if opts.repeat < 1 {
		return nil, errors.New("--repeat must be at least 1")
	}

	var base []domain.Event
	if opts.file != "" {
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", opts.file, err)
		}
		base, err = domain.DecodeEvents(data)
		if err != nil {
			return nil, err
		}
	} else {
		ev, err := eventFromFlags(opts, now)
		if err != nil {
			return nil, err
		}
		base = []domain.Event{ev}
	}

	events := make([]domain.Event, 0, len(base)*opts.repeat)
	for i := 0; i < opts.repeat; i++ {
		events = append(events, base...)
	}
	return events, nil
}

func eventFromFlags(opts publishOptions, now func() time.Time) (domain.Event, error) {
	ts := now().UTC()
	if opts.timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, opts.timestamp)
		if err != nil {
			return domain.Event{}, fmt.Errorf("--timestamp: %w", err)
		}
		ts = parsed
	}

	payload := map[string]any{}
	if strings.TrimSpace(opts.payload) != "" {
		if err := json.Unmarshal([]byte(opts.payload), &payload); err != nil {
			return domain.Event{}, fmt.Errorf("--payload must be a JSON object: %w", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}

	eventID := strings.TrimSpace(opts.eventID)
	if eventID == "" {
		eventID = uuid.NewString()
	}

	return domain.Event{
		Topic:     opts.topic,
		EventID:   eventID,
		Timestamp: ts,
		Source:    opts.source,
		Payload:   payload,
	}, nil
}
