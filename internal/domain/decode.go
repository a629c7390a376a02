// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DecodeEvents parses a single event object or an array of events. Unknown
// fields and trailing data are rejected. The result is not validated.
func DecodeEvents(data []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidEvent)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var events []Event
	if trimmed[0] == '[' {
		if err := dec.Decode(&events); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	} else {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		events = []Event{ev}
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: body must contain exactly one JSON value", ErrInvalidEvent)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}
