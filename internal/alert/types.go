// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

// Package alert implements the alert lifecycle and correlation engine.
//
// Detection events from the capture, signature, anomaly, and threat
// intelligence producers are validated, queued, and correlated into
// de-duplicated alerts with a strict operator-facing state machine
// (new -> acknowledged -> resolved -> closed). The engine serves a
// consistent, filterable view of alert state to the dashboard and pushes
// creations and escalations to notification channels off the critical
// path.
package alert

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Severity is the ordered severity level of an event or alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparison. Unknown severities rank
// below info so they never displace valid events in the ingest queue.
var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// Rank returns the numeric order of the severity (higher is more severe).
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether the severity is one of the five known levels.
func (s Severity) Valid() bool {
	return severityRank[s] != 0
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Status is the operator-facing lifecycle status of an alert.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusClosed       Status = "closed" // Terminal
)

// Valid reports whether the status is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Open reports whether the status still participates in correlation.
func (s Status) Open() bool {
	return s.Valid() && s != StatusClosed
}

// DetectionEvent is a single observation submitted by a producer.
// Events are transient: they are consumed into an Alert and never stored
// standalone.
type DetectionEvent struct {
	// ProducerID identifies the submitting subsystem
	// (traffic_analyzer, signature_detection, anomaly_detection, threat_intel).
	ProducerID string `json:"producer_id"`

	// EventType classifies the observation (port_scan, syn_flood, ...).
	EventType string `json:"event_type" validate:"required"`

	// Source is the device or IP the observation concerns.
	Source string `json:"source" validate:"required"`

	// Confidence is the producer's confidence in the observation, 0-1.
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`

	// Discriminator optionally separates otherwise identical event streams
	// into distinct correlation keys (e.g. a scanned port range).
	Discriminator string `json:"discriminator,omitempty"`

	// Description is a human-readable summary used for the alert.
	Description string `json:"description,omitempty"`

	// RawPayload is the producer-specific structured attachment.
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`

	// ObservedAt is when the producer made the observation.
	ObservedAt time.Time `json:"observed_at" validate:"required"`
}

// Event is a normalized detection event ready for correlation.
type Event struct {
	DetectionEvent

	// CorrelationKey groups related events into one alert.
	CorrelationKey string

	// Estimate is the severity estimate used for queue admission. It is
	// computed by the same classifier the correlator uses, so admission
	// and correlation cannot disagree about what "high" means.
	Estimate Severity
}

// Details is the tagged envelope carried by an alert: a fixed header
// identifying the producer plus that producer's variant payload.
type Details struct {
	Producer string          `json:"producer"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Alert is a de-duplicated, lifecycle-tracked security alert.
type Alert struct {
	AlertID         string    `json:"alert_id"`
	AlertType       string    `json:"alert_type"`
	Source          string    `json:"source"`
	Severity        Severity  `json:"severity"`
	Description     string    `json:"description"`
	Details         Details   `json:"details"`
	Status          Status    `json:"status"`
	CorrelationKey  string    `json:"correlation_key"`
	OccurrenceCount int       `json:"occurrence_count"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MarshalJSON serializes the alert with an extra timestamp field (epoch
// seconds of first_seen). Dashboard consumers key alert records on
// timestamp; the RFC 3339 fields carry the full-precision times.
func (a Alert) MarshalJSON() ([]byte, error) {
	type plain Alert
	return json.Marshal(struct {
		plain
		Timestamp int64 `json:"timestamp"`
	}{plain(a), a.FirstSeen.Unix()})
}

// TransitionRecord is one append-only entry in an alert's status history.
type TransitionRecord struct {
	AlertID string `json:"alert_id"`

	// Seq is the monotonic per-alert sequence, assigned by the store.
	Seq int64 `json:"seq"`

	// From is empty for the creation record (none -> new).
	From  Status    `json:"from_status"`
	To    Status    `json:"to_status"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
}

// Filter selects alerts for listing. Zero values mean "no constraint".
type Filter struct {
	Statuses   []Status   `json:"statuses,omitempty"`
	AlertTypes []string   `json:"alert_types,omitempty"`
	Severities []Severity `json:"severities,omitempty"`

	// Query is a case-insensitive substring match over description and
	// source.
	Query string `json:"query,omitempty"`

	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Summary aggregates alert counts for the dashboard's lightweight poll.
type Summary struct {
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"by_status"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByType     map[string]int `json:"by_type"`
}

// Store is the logical alert store contract. Implementations must apply
// each write atomically per alert: a reader observes a correlator update
// fully or not at all, never a severity without its occurrence count.
type Store interface {
	// CreateAlert persists a new alert together with its creation
	// transition record (none -> new) in one atomic step.
	CreateAlert(ctx context.Context, a *Alert, rec *TransitionRecord) error

	// UpdateCorrelation replaces the correlation-owned fields of an alert
	// (occurrence count, last seen, severity, updated at) atomically.
	// Returns ErrNotFound if the alert does not exist.
	UpdateCorrelation(ctx context.Context, a *Alert) error

	// GetAlert retrieves an alert by ID. Returns ErrNotFound if absent.
	GetAlert(ctx context.Context, alertID string) (*Alert, error)

	// GetOpenByCorrelationKey returns the most recently seen non-closed
	// alert for the key, or nil when none exists.
	GetOpenByCorrelationKey(ctx context.Context, key string) (*Alert, error)

	// ListAlerts returns alerts matching the filter ordered by created_at
	// descending with alert_id ascending tiebreak, plus the total match
	// count before pagination.
	ListAlerts(ctx context.Context, filter Filter) ([]Alert, int, error)

	// ApplyTransition updates an alert's status from the expected current
	// status and appends the transition record atomically. Returns
	// ErrNotFound if the alert is absent and ErrConflict if its status no
	// longer matches expect.
	ApplyTransition(ctx context.Context, alertID string, expect Status, rec *TransitionRecord) error

	// ListTransitions returns an alert's transition log in sequence order.
	// Returns ErrNotFound if the alert does not exist.
	ListTransitions(ctx context.Context, alertID string) ([]TransitionRecord, error)

	// StatusSummary returns aggregate counts by status, severity and type.
	StatusSummary(ctx context.Context) (*Summary, error)
}

// Broadcaster pushes alert updates to connected dashboard clients.
type Broadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}
