// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/netsentinel/internal/logging"
	"github.com/tomtom215/netsentinel/internal/metrics"
)

// keyStripes is the number of correlation-key lock stripes. Events for
// the same key always serialize on the same stripe; events for different
// keys almost always proceed in parallel.
const keyStripes = 64

// Outcome describes what correlating one event did.
type Outcome struct {
	Alert *Alert

	// Created is true when the event opened a new alert.
	Created bool

	// Escalated is true when correlation raised an existing alert's
	// severity.
	Escalated bool

	// Dropped is true when the hourly creation cap suppressed a new
	// alert. Alert is nil in that case.
	Dropped bool
}

// Correlator folds normalized events into alerts.
//
// An event either matches an open alert with the same correlation key
// whose last_seen is within the window, or opens a new alert. All
// processing for one correlation key is serialized on a lock stripe, so
// two concurrent events with the same key can never race into two
// alerts.
type Correlator struct {
	store     Store
	window    time.Duration
	threshold int
	now       func() time.Time

	stripes [keyStripes]sync.Mutex

	// maxNewPerHour caps alert creation per clock hour (0 = uncapped).
	maxNewPerHour int
	capMu         sync.Mutex
	capHour       time.Time
	capCount      int
}

// NewCorrelator creates a correlator over the store. window is the
// maximum inactivity gap W for folding events into an open alert;
// threshold is the occurrence count that triggers escalation.
func NewCorrelator(store Store, window time.Duration, threshold, maxNewPerHour int) *Correlator {
	return &Correlator{
		store:         store,
		window:        window,
		threshold:     threshold,
		maxNewPerHour: maxNewPerHour,
		now:           time.Now,
	}
}

// Process correlates one event.
func (c *Correlator) Process(ctx context.Context, ev *Event) (*Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.CorrelationDuration.Observe(time.Since(start).Seconds())
	}()

	stripe := &c.stripes[stripeFor(ev.CorrelationKey)]
	stripe.Lock()
	defer stripe.Unlock()

	existing, err := c.store.GetOpenByCorrelationKey(ctx, ev.CorrelationKey)
	if err != nil {
		return nil, fmt.Errorf("correlation lookup failed: %w", err)
	}

	if existing != nil && c.inWindow(existing, ev) {
		return c.fold(ctx, existing, ev)
	}

	return c.create(ctx, ev)
}

// inWindow reports whether the event arrived within the correlation
// window of the alert's last occurrence.
func (c *Correlator) inWindow(a *Alert, ev *Event) bool {
	gap := ev.ObservedAt.Sub(a.LastSeen)
	if gap < 0 {
		gap = -gap
	}
	return gap <= c.window
}

// fold merges the event into an existing open alert. Status is never
// touched and no TransitionRecord is written; severity only moves up.
func (c *Correlator) fold(ctx context.Context, a *Alert, ev *Event) (*Outcome, error) {
	a.OccurrenceCount++
	if ev.ObservedAt.After(a.LastSeen) {
		a.LastSeen = ev.ObservedAt
	}

	classified := Classify(a.AlertType, a.OccurrenceCount, ev.Confidence, c.threshold)
	escalated := classified.Rank() > a.Severity.Rank()
	a.Severity = MaxSeverity(a.Severity, classified)
	a.UpdatedAt = c.now()

	if err := c.store.UpdateCorrelation(ctx, a); err != nil {
		return nil, fmt.Errorf("correlation update failed: %w", err)
	}

	metrics.AlertsCorrelated.Inc()
	if escalated {
		metrics.AlertsEscalated.Inc()
		logging.Info().
			Str("alert_id", a.AlertID).
			Str("severity", string(a.Severity)).
			Int("occurrence_count", a.OccurrenceCount).
			Msg("alert escalated")
	}

	return &Outcome{Alert: a, Escalated: escalated}, nil
}

// create opens a new alert for the event, subject to the hourly cap.
func (c *Correlator) create(ctx context.Context, ev *Event) (*Outcome, error) {
	if !c.admitCreation() {
		metrics.EventsDropped.WithLabelValues("rate_cap").Inc()
		logging.Warn().
			Str("event_type", ev.EventType).
			Str("source", ev.Source).
			Msg("alert creation cap reached, event dropped")
		return &Outcome{Dropped: true}, nil
	}

	now := c.now()
	a := &Alert{
		AlertID:     uuid.NewString(),
		AlertType:   ev.EventType,
		Source:      ev.Source,
		Severity:    Classify(ev.EventType, 1, ev.Confidence, c.threshold),
		Description: ev.Description,
		Details: Details{
			Producer: ev.ProducerID,
			Payload:  ev.RawPayload,
		},
		Status:          StatusNew,
		CorrelationKey:  ev.CorrelationKey,
		OccurrenceCount: 1,
		FirstSeen:       ev.ObservedAt,
		LastSeen:        ev.ObservedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	rec := &TransitionRecord{
		AlertID: a.AlertID,
		From:    "",
		To:      StatusNew,
		Actor:   "system",
		At:      now,
	}

	if err := c.store.CreateAlert(ctx, a, rec); err != nil {
		return nil, fmt.Errorf("alert creation failed: %w", err)
	}

	metrics.AlertsCreated.WithLabelValues(a.AlertType, string(a.Severity)).Inc()
	logging.Info().
		Str("alert_id", a.AlertID).
		Str("alert_type", a.AlertType).
		Str("source", a.Source).
		Str("severity", string(a.Severity)).
		Msg("alert created")

	return &Outcome{Alert: a, Created: true}, nil
}

// admitCreation enforces the per-hour creation cap.
func (c *Correlator) admitCreation() bool {
	if c.maxNewPerHour <= 0 {
		return true
	}

	c.capMu.Lock()
	defer c.capMu.Unlock()

	hour := c.now().Truncate(time.Hour)
	if !hour.Equal(c.capHour) {
		c.capHour = hour
		c.capCount = 0
	}
	if c.capCount >= c.maxNewPerHour {
		return false
	}
	c.capCount++
	return true
}

// stripeFor maps a correlation key onto a lock stripe.
func stripeFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % keyStripes)
}
