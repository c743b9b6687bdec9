// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// storeShards is the number of shards in the memory store. Shards are
// keyed by correlation-key hash so correlator traffic for different keys
// does not contend.
const storeShards = 16

// memShard holds the alerts whose correlation key hashes to it.
type memShard struct {
	mu          sync.RWMutex
	byID        map[string]*Alert
	byKey       map[string][]string // correlation key -> alert IDs, append order
	transitions map[string][]TransitionRecord
}

// MemoryStore is the in-memory Store used when no database path is
// configured, and by tests. All reads return copies; callers never hold
// references into store-owned state.
type MemoryStore struct {
	shards [storeShards]*memShard

	// routes maps alert ID to owning shard for ID-based lookups.
	routeMu sync.RWMutex
	routes  map[string]*memShard
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		routes: make(map[string]*memShard),
	}
	for i := range s.shards {
		s.shards[i] = &memShard{
			byID:        make(map[string]*Alert),
			byKey:       make(map[string][]string),
			transitions: make(map[string][]TransitionRecord),
		}
	}
	return s
}

func (s *MemoryStore) shardFor(correlationKey string) *memShard {
	return s.shards[stripeFor(correlationKey)%storeShards]
}

func (s *MemoryStore) route(alertID string) (*memShard, bool) {
	s.routeMu.RLock()
	defer s.routeMu.RUnlock()
	sh, ok := s.routes[alertID]
	return sh, ok
}

// CreateAlert persists a new alert and its creation record atomically.
func (s *MemoryStore) CreateAlert(_ context.Context, a *Alert, rec *TransitionRecord) error {
	sh := s.shardFor(a.CorrelationKey)

	sh.mu.Lock()
	stored := *a
	sh.byID[a.AlertID] = &stored
	sh.byKey[a.CorrelationKey] = append(sh.byKey[a.CorrelationKey], a.AlertID)
	r := *rec
	r.Seq = 1
	sh.transitions[a.AlertID] = []TransitionRecord{r}
	sh.mu.Unlock()

	s.routeMu.Lock()
	s.routes[a.AlertID] = sh
	s.routeMu.Unlock()

	rec.Seq = r.Seq
	return nil
}

// UpdateCorrelation replaces the correlation-owned fields of an alert.
func (s *MemoryStore) UpdateCorrelation(_ context.Context, a *Alert) error {
	sh, ok := s.route(a.AlertID)
	if !ok {
		return ErrNotFound
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	stored, ok := sh.byID[a.AlertID]
	if !ok {
		return ErrNotFound
	}

	stored.OccurrenceCount = a.OccurrenceCount
	stored.LastSeen = a.LastSeen
	stored.Severity = a.Severity
	stored.UpdatedAt = a.UpdatedAt
	return nil
}

// GetAlert retrieves a copy of an alert by ID.
func (s *MemoryStore) GetAlert(_ context.Context, alertID string) (*Alert, error) {
	sh, ok := s.route(alertID)
	if !ok {
		return nil, ErrNotFound
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	stored, ok := sh.byID[alertID]
	if !ok {
		return nil, ErrNotFound
	}
	a := *stored
	return &a, nil
}

// GetOpenByCorrelationKey returns the most recently seen open alert for
// the key, or nil when none exists.
func (s *MemoryStore) GetOpenByCorrelationKey(_ context.Context, key string) (*Alert, error) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var best *Alert
	for _, id := range sh.byKey[key] {
		a := sh.byID[id]
		if a == nil || !a.Status.Open() {
			continue
		}
		if best == nil || a.LastSeen.After(best.LastSeen) {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}
	a := *best
	return &a, nil
}

// ListAlerts returns alerts matching the filter ordered by created_at
// descending, alert_id ascending on ties, plus the pre-pagination count.
func (s *MemoryStore) ListAlerts(_ context.Context, filter Filter) ([]Alert, int, error) {
	var matched []Alert
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, a := range sh.byID {
			if matchesFilter(a, &filter) {
				matched = append(matched, *a)
			}
		}
		sh.mu.RUnlock()
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].AlertID < matched[j].AlertID
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return []Alert{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// ApplyTransition CASes the alert's status and appends the record.
func (s *MemoryStore) ApplyTransition(_ context.Context, alertID string, expect Status, rec *TransitionRecord) error {
	sh, ok := s.route(alertID)
	if !ok {
		return ErrNotFound
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	stored, ok := sh.byID[alertID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != expect {
		return ErrConflict
	}

	stored.Status = rec.To
	stored.UpdatedAt = rec.At

	r := *rec
	r.Seq = int64(len(sh.transitions[alertID]) + 1)
	sh.transitions[alertID] = append(sh.transitions[alertID], r)
	rec.Seq = r.Seq
	return nil
}

// ListTransitions returns an alert's transition log in sequence order.
func (s *MemoryStore) ListTransitions(_ context.Context, alertID string) ([]TransitionRecord, error) {
	sh, ok := s.route(alertID)
	if !ok {
		return nil, ErrNotFound
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	recs, ok := sh.transitions[alertID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]TransitionRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// StatusSummary aggregates counts by status, severity, and type.
func (s *MemoryStore) StatusSummary(_ context.Context) (*Summary, error) {
	sum := &Summary{
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[Severity]int),
		ByType:     make(map[string]int),
	}
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, a := range sh.byID {
			sum.Total++
			sum.ByStatus[a.Status]++
			sum.BySeverity[a.Severity]++
			sum.ByType[a.AlertType]++
		}
		sh.mu.RUnlock()
	}
	return sum, nil
}

// matchesFilter evaluates an alert against every filter constraint.
func matchesFilter(a *Alert, f *Filter) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, a.Severity) {
		return false
	}
	if len(f.AlertTypes) > 0 && !containsString(f.AlertTypes, a.AlertType) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(a.Description), q) &&
			!strings.Contains(strings.ToLower(a.Source), q) {
			return false
		}
	}
	if f.Start != nil && a.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && a.CreatedAt.After(*f.End) {
		return false
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsSeverity(list []Severity, s Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
