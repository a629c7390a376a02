// SPDX-License-Identifier: Apache-2.0

package domain

import "strings"

// Validate checks the constraints the core relies on: non-empty topic,
// event_id and source, a set timestamp and a non-nil payload map.
func (e Event) Validate() error {
	return e.validateAt(-1)
}

// ValidateBatch validates every event and returns the first failure,
// annotated with the index of the offending element.
func ValidateBatch(events []Event) error {
	for i := range events {
		if err := events[i].validateAt(i); err != nil {
			return err
		}
	}
	return nil
}

func (e Event) validateAt(index int) error {
	switch {
	case strings.TrimSpace(e.Topic) == "":
		return &ValidationError{Index: index, Field: "topic", Reason: "must not be empty"}
	case strings.TrimSpace(e.EventID) == "":
		return &ValidationError{Index: index, Field: "event_id", Reason: "must not be empty"}
	case strings.TrimSpace(e.Source) == "":
		return &ValidationError{Index: index, Field: "source", Reason: "must not be empty"}
	case e.Timestamp.IsZero():
		return &ValidationError{Index: index, Field: "timestamp", Reason: "is required"}
	case e.Payload == nil:
		return &ValidationError{Index: index, Field: "payload", Reason: "must be an object"}
	}
	return nil
}
