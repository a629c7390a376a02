// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"strconv"
)

var ErrInvalidEvent = errors.New("invalid event")
var ErrStore = errors.New("ledger store failure")
var ErrPipelineStopped = errors.New("pipeline stopped")

// ValidationError reports the first field of an event that failed validation.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return "event[" + strconv.Itoa(e.Index) + "]." + e.Field + ": " + e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}
