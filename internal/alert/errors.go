// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure modes. Callers match with
// errors.Is; the API layer maps them to coded responses.
var (
	// ErrNotFound indicates an operation referenced an unknown alert ID.
	ErrNotFound = errors.New("alert not found")

	// ErrInvalidTransition indicates a status change not legal from the
	// alert's current status (notably any change away from closed).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict indicates a concurrent writer changed an alert's status
	// between snapshot and apply.
	ErrConflict = errors.New("alert modified concurrently")

	// ErrStoreUnavailable indicates the store circuit breaker is open and
	// ingestion is failing closed.
	ErrStoreUnavailable = errors.New("alert store unavailable")

	// ErrShuttingDown indicates the engine is no longer accepting events.
	ErrShuttingDown = errors.New("engine shutting down")
)

// ValidationError describes a rejected detection event. Rejections are
// counted and dropped; they are never fatal to the producer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid detection event: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
