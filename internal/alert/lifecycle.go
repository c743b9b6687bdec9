// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/netsentinel/internal/logging"
	"github.com/tomtom215/netsentinel/internal/metrics"
)

// Op is an operator-driven lifecycle operation.
type Op string

const (
	OpAcknowledge Op = "acknowledge"
	OpResolve     Op = "resolve"
	OpClose       Op = "close"
)

// Target returns the status the operation moves an alert into.
func (op Op) Target() Status {
	switch op {
	case OpAcknowledge:
		return StatusAcknowledged
	case OpResolve:
		return StatusResolved
	case OpClose:
		return StatusClosed
	}
	return ""
}

// legalFrom lists the statuses an operation may transition FROM (the
// idempotent case, current == target, is handled separately and records
// nothing).
var legalFrom = map[Op][]Status{
	OpAcknowledge: {StatusNew},
	OpResolve:     {StatusNew, StatusAcknowledged},
	OpClose:       {StatusNew, StatusAcknowledged, StatusResolved},
}

// Decide evaluates an operation against a current status.
//
// It returns (false, nil) for the idempotent no-op (already in the target
// status), (true, nil) when the edge is legal, and ErrInvalidTransition
// otherwise. Closed is terminal: only the idempotent close succeeds on a
// closed alert.
func Decide(current Status, op Op) (apply bool, err error) {
	target := op.Target()
	if target == "" {
		return false, fmt.Errorf("%w: unknown operation %q", ErrInvalidTransition, op)
	}
	if current == target {
		return false, nil
	}
	for _, from := range legalFrom[op] {
		if current == from {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: cannot %s alert in status %s", ErrInvalidTransition, op, current)
}

// Lifecycle applies operator transitions against the store.
type Lifecycle struct {
	store Store
	now   func() time.Time

	// onClose is invoked after an alert reaches closed, to cancel pending
	// notification deliveries.
	onClose func(alertID string)
}

// NewLifecycle creates a lifecycle manager. onClose may be nil.
func NewLifecycle(store Store, onClose func(alertID string)) *Lifecycle {
	return &Lifecycle{
		store:   store,
		now:     time.Now,
		onClose: onClose,
	}
}

// Apply executes a single transition on an alert.
//
// Changed is true when the status actually moved (and a TransitionRecord
// was appended); the idempotent re-issue returns (false, nil) without a
// duplicate record. Errors are ErrNotFound, ErrInvalidTransition, or a
// store failure.
func (l *Lifecycle) Apply(ctx context.Context, alertID string, op Op, actor string) (changed bool, err error) {
	a, err := l.store.GetAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.TransitionErrors.WithLabelValues("not_found").Inc()
		}
		return false, err
	}

	apply, err := Decide(a.Status, op)
	if err != nil {
		metrics.TransitionErrors.WithLabelValues("invalid_transition").Inc()
		return false, err
	}
	if !apply {
		return false, nil
	}

	rec := &TransitionRecord{
		AlertID: alertID,
		From:    a.Status,
		To:      op.Target(),
		Actor:   actor,
		At:      l.now(),
	}
	if err := l.store.ApplyTransition(ctx, alertID, a.Status, rec); err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.TransitionErrors.WithLabelValues("conflict").Inc()
		} else if !errors.Is(err, ErrNotFound) {
			metrics.TransitionErrors.WithLabelValues("store").Inc()
		}
		return false, err
	}

	metrics.Transitions.WithLabelValues(string(rec.From), string(rec.To)).Inc()
	logging.Info().
		Str("alert_id", alertID).
		Str("from", string(rec.From)).
		Str("to", string(rec.To)).
		Str("actor", actor).
		Msg("alert transition")

	if rec.To == StatusClosed && l.onClose != nil {
		l.onClose(alertID)
	}

	return true, nil
}

// BulkFailure describes one alert that failed during a bulk operation.
type BulkFailure struct {
	AlertID string `json:"alert_id"`
	Error   string `json:"error"`
}

// BulkResult summarizes a bulk transition: every matched alert is either
// applied, skipped (already in the target status or no longer matching),
// or failed.
type BulkResult struct {
	Matched  int           `json:"matched"`
	Applied  int           `json:"applied"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Failures []BulkFailure `json:"failures,omitempty"`
}

// ApplyBulk applies op independently to every alert currently in
// fromStatus. The snapshot is taken once at invocation; each alert is
// then re-read and evaluated on its own, so a concurrent transition on
// one alert never aborts the rest.
func (l *Lifecycle) ApplyBulk(ctx context.Context, fromStatus Status, op Op, actor string) (*BulkResult, error) {
	snapshot, _, err := l.store.ListAlerts(ctx, Filter{
		Statuses: []Status{fromStatus},
		Limit:    -1, // No pagination: bulk acts on the full match set
	})
	if err != nil {
		return nil, fmt.Errorf("bulk snapshot failed: %w", err)
	}

	result := &BulkResult{Matched: len(snapshot)}
	for i := range snapshot {
		changed, err := l.Apply(ctx, snapshot[i].AlertID, op, actor)
		switch {
		case err == nil && changed:
			result.Applied++
		case err == nil:
			result.Skipped++
		case errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound):
			// The alert moved under us between snapshot and apply.
			// Best-effort semantics: record and continue.
			result.Failed++
			result.Failures = append(result.Failures, BulkFailure{
				AlertID: snapshot[i].AlertID,
				Error:   err.Error(),
			})
		default:
			result.Failed++
			result.Failures = append(result.Failures, BulkFailure{
				AlertID: snapshot[i].AlertID,
				Error:   err.Error(),
			})
			logging.Error().Err(err).Str("alert_id", snapshot[i].AlertID).Msg("bulk transition store failure")
		}
	}

	return result, nil
}
