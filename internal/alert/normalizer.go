// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tomtom215/netsentinel/internal/metrics"
)

// correlationNamespace is the UUID v5 namespace for correlation keys.
// Fixed so that keys are stable across restarts and instances.
var correlationNamespace = uuid.MustParse("7f1c6a92-8d03-5e49-b1d4-3a0f52c7e8aa")

// Normalizer validates inbound detection events and derives their
// correlation key. Validation is bounded and constant-time per event; the
// only state shared across calls is the rejection counter.
type Normalizer struct {
	validate *validator.Validate
	rejected atomic.Uint64
}

// NewNormalizer creates a normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Normalize validates a detection event and returns it in normalized form
// with its correlation key and admission severity estimate. Invalid
// events return a ValidationError and are counted; they must not be
// propagated downstream.
func (n *Normalizer) Normalize(ev *DetectionEvent) (*Event, error) {
	if err := n.validate.Struct(ev); err != nil {
		return nil, n.reject(err)
	}

	// validator's required tag treats the zero time as present.
	if ev.ObservedAt.IsZero() {
		n.count("observed_at")
		return nil, &ValidationError{Field: "observed_at", Reason: "is required"}
	}

	return &Event{
		DetectionEvent: *ev,
		CorrelationKey: CorrelationKey(ev.EventType, ev.Source, ev.Discriminator),
		Estimate:       EstimateSeverity(ev),
	}, nil
}

// Rejected returns the number of events dropped by validation.
func (n *Normalizer) Rejected() uint64 {
	return n.rejected.Load()
}

// reject converts a validator error into a ValidationError for the first
// failing field.
func (n *Normalizer) reject(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := snakeCase(verrs[0].Field())
		n.count(field)
		switch verrs[0].Tag() {
		case "required":
			return &ValidationError{Field: field, Reason: "is required"}
		case "gte", "lte":
			return &ValidationError{Field: field, Reason: "must be in [0,1]"}
		default:
			return &ValidationError{Field: field, Reason: "is invalid"}
		}
	}

	n.count("event")
	return &ValidationError{Field: "event", Reason: "is malformed"}
}

func (n *Normalizer) count(field string) {
	n.rejected.Add(1)
	metrics.EventsRejected.WithLabelValues(field).Inc()
}

// CorrelationKey derives the deterministic grouping key for an event.
// Events with the same type, source, and producer discriminator share a
// key and therefore fold into the same alert while its window is active.
func CorrelationKey(eventType, source, discriminator string) string {
	name := eventType + "\x00" + source + "\x00" + discriminator
	return uuid.NewSHA1(correlationNamespace, []byte(name)).String()
}

// snakeCase converts a Go field name to its JSON form (EventType ->
// event_type) for error messages.
func snakeCase(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
