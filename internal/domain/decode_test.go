// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeEventsSingleObject(t *testing.T) {
	body := `{"topic":"user.login","event_id":"evt-001","timestamp":"2025-01-02T03:04:05Z","source":"auth","payload":{"user":"u1"}}`

	events, err := DecodeEvents([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event got %d", len(events))
	}
	ev := events[0]
	if ev.Topic != "user.login" || ev.EventID != "evt-001" || ev.Source != "auth" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %s", ev.Timestamp)
	}
	if ev.Payload["user"] != "u1" {
		t.Fatalf("unexpected payload %v", ev.Payload)
	}
}

func TestDecodeEventsArray(t *testing.T) {
	body := ` [
		{"topic":"a","event_id":"1","timestamp":"2025-01-02T03:04:05Z","source":"s","payload":{}},
		{"topic":"a","event_id":"2","timestamp":"2025-01-02T03:04:05+02:00","source":"s","payload":{}}
	]`

	events, err := DecodeEvents([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 2 || events[1].EventID != "2" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestDecodeEventsEmptyArray(t *testing.T) {
	events, err := DecodeEvents([]byte(`[]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Fatalf("expected empty non-nil slice got %#v", events)
	}
}

func TestDecodeEventsRejects(t *testing.T) {
	cases := map[string]string{
		"empty body":        "  ",
		"unknown field":     `{"topic":"a","event_id":"1","timestamp":"2025-01-02T03:04:05Z","source":"s","payload":{},"extra":1}`,
		"bad timestamp":     `{"topic":"a","event_id":"1","timestamp":"yesterday","source":"s","payload":{}}`,
		"payload not a map": `{"topic":"a","event_id":"1","timestamp":"2025-01-02T03:04:05Z","source":"s","payload":[1,2]}`,
		"trailing value":    `{"topic":"a"} {"topic":"b"}`,
		"not json":          `topic=a`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvents([]byte(body))
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent got %v", err)
			}
		})
	}
}
