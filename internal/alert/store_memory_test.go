// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"context"
	"errors"
	"testing"
	"time"
)

func storedAlert(id, alertType, source string, severity Severity, createdAt time.Time) *Alert {
	return &Alert{
		AlertID:         id,
		AlertType:       alertType,
		Source:          source,
		Severity:        severity,
		Description:     alertType + " on " + source,
		Status:          StatusNew,
		CorrelationKey:  CorrelationKey(alertType, source, ""),
		OccurrenceCount: 1,
		FirstSeen:       createdAt,
		LastSeen:        createdAt,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func createRecord(id string, at time.Time) *TransitionRecord {
	return &TransitionRecord{AlertID: id, From: "", To: StatusNew, Actor: "system", At: at}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	a := storedAlert("a1", "port_scan", "192.168.1.5", SeverityMedium, now)
	if err := store.CreateAlert(ctx, a, createRecord("a1", now)); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	got, err := store.GetAlert(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if got.AlertID != "a1" || got.Status != StatusNew || got.OccurrenceCount != 1 {
		t.Errorf("got %+v", got)
	}

	// The store must hand out copies: mutating the returned alert must
	// not leak into stored state.
	got.Severity = SeverityCritical
	again, _ := store.GetAlert(ctx, "a1")
	if again.Severity != SeverityMedium {
		t.Errorf("stored severity mutated to %s", again.Severity)
	}

	if _, err := store.GetAlert(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdateCorrelation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	a := storedAlert("a1", "port_scan", "192.168.1.5", SeverityMedium, now)
	if err := store.CreateAlert(ctx, a, createRecord("a1", now)); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	a.OccurrenceCount = 4
	a.LastSeen = now.Add(3 * time.Second)
	a.Severity = SeverityHigh
	a.UpdatedAt = now.Add(3 * time.Second)
	if err := store.UpdateCorrelation(ctx, a); err != nil {
		t.Fatalf("UpdateCorrelation failed: %v", err)
	}

	got, _ := store.GetAlert(ctx, "a1")
	if got.OccurrenceCount != 4 || got.Severity != SeverityHigh {
		t.Errorf("got count=%d severity=%s, want 4/high", got.OccurrenceCount, got.Severity)
	}

	missing := storedAlert("nope", "port_scan", "x", SeverityLow, now)
	if err := store.UpdateCorrelation(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreGetOpenByCorrelationKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	key := CorrelationKey("port_scan", "192.168.1.5", "")

	got, err := store.GetOpenByCorrelationKey(ctx, key)
	if err != nil {
		t.Fatalf("GetOpenByCorrelationKey failed: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v for unknown key, want nil", got)
	}

	a1 := storedAlert("a1", "port_scan", "192.168.1.5", SeverityMedium, now)
	if err := store.CreateAlert(ctx, a1, createRecord("a1", now)); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	got, err = store.GetOpenByCorrelationKey(ctx, key)
	if err != nil || got == nil {
		t.Fatalf("got %v, %v; want a1", got, err)
	}
	if got.AlertID != "a1" {
		t.Errorf("alert = %s, want a1", got.AlertID)
	}

	// Close a1: the key has no open alert again.
	rec := &TransitionRecord{AlertID: "a1", From: StatusNew, To: StatusClosed, Actor: "test", At: now}
	if err := store.ApplyTransition(ctx, "a1", StatusNew, rec); err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}
	got, err = store.GetOpenByCorrelationKey(ctx, key)
	if err != nil {
		t.Fatalf("GetOpenByCorrelationKey failed: %v", err)
	}
	if got != nil {
		t.Errorf("got %s for key with only a closed alert, want nil", got.AlertID)
	}

	// Two open alerts on one key: the most recently seen wins.
	a2 := storedAlert("a2", "port_scan", "192.168.1.5", SeverityMedium, now.Add(time.Minute))
	a3 := storedAlert("a3", "port_scan", "192.168.1.5", SeverityMedium, now.Add(2*time.Minute))
	if err := store.CreateAlert(ctx, a2, createRecord("a2", now)); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	if err := store.CreateAlert(ctx, a3, createRecord("a3", now)); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	got, _ = store.GetOpenByCorrelationKey(ctx, key)
	if got == nil || got.AlertID != "a3" {
		t.Errorf("got %+v, want a3", got)
	}
}

func TestMemoryStoreListAlerts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	seed := []*Alert{
		storedAlert("a1", "port_scan", "192.168.1.5", SeverityMedium, base),
		storedAlert("a2", "syn_flood", "192.168.1.6", SeverityHigh, base.Add(time.Minute)),
		storedAlert("a3", "malware_c2", "192.168.1.7", SeverityCritical, base.Add(2*time.Minute)),
		storedAlert("a4", "port_scan", "10.0.0.2", SeverityMedium, base.Add(2*time.Minute)),
	}
	for _, a := range seed {
		if err := store.CreateAlert(ctx, a, createRecord(a.AlertID, a.CreatedAt)); err != nil {
			t.Fatalf("CreateAlert(%s) failed: %v", a.AlertID, err)
		}
	}

	// No filter: newest first, alert_id ascending on equal created_at.
	alerts, total, err := store.ListAlerts(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	wantOrder := []string{"a3", "a4", "a2", "a1"}
	for i, id := range wantOrder {
		if alerts[i].AlertID != id {
			t.Errorf("position %d: %s, want %s", i, alerts[i].AlertID, id)
		}
	}

	// Severity filter.
	alerts, total, err = store.ListAlerts(ctx, Filter{Severities: []Severity{SeverityHigh, SeverityCritical}})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if total != 2 || len(alerts) != 2 {
		t.Errorf("severity filter: total = %d len = %d, want 2/2", total, len(alerts))
	}

	// Type filter.
	_, total, err = store.ListAlerts(ctx, Filter{AlertTypes: []string{"port_scan"}})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if total != 2 {
		t.Errorf("type filter: total = %d, want 2", total)
	}

	// Query matches source, case-insensitively.
	_, total, err = store.ListAlerts(ctx, Filter{Query: "192.168.1"})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if total != 3 {
		t.Errorf("query filter: total = %d, want 3", total)
	}

	// Time range on created_at.
	start := base.Add(30 * time.Second)
	end := base.Add(90 * time.Second)
	_, total, err = store.ListAlerts(ctx, Filter{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if total != 1 {
		t.Errorf("time filter: total = %d, want 1", total)
	}

	// Pagination: total reflects the pre-pagination match count.
	alerts, total, err = store.ListAlerts(ctx, Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if total != 4 {
		t.Errorf("paginated total = %d, want 4", total)
	}
	if len(alerts) != 2 || alerts[0].AlertID != "a4" || alerts[1].AlertID != "a2" {
		t.Errorf("page = %v, want [a4 a2]", alertIDs(alerts))
	}

	// Offset past the end yields an empty page, not an error.
	alerts, total, err = store.ListAlerts(ctx, Filter{Offset: 10})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if total != 4 || len(alerts) != 0 {
		t.Errorf("overshoot page: total = %d len = %d, want 4/0", total, len(alerts))
	}
}

func alertIDs(alerts []Alert) []string {
	ids := make([]string, len(alerts))
	for i := range alerts {
		ids[i] = alerts[i].AlertID
	}
	return ids
}

func TestMemoryStoreApplyTransitionCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	a := storedAlert("a1", "port_scan", "192.168.1.5", SeverityMedium, now)
	if err := store.CreateAlert(ctx, a, createRecord("a1", now)); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	rec := &TransitionRecord{AlertID: "a1", From: StatusNew, To: StatusAcknowledged, Actor: "alice", At: now}
	if err := store.ApplyTransition(ctx, "a1", StatusNew, rec); err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}
	if rec.Seq != 2 {
		t.Errorf("seq = %d, want 2", rec.Seq)
	}

	// Expect no longer matches: conflict, state untouched.
	stale := &TransitionRecord{AlertID: "a1", From: StatusNew, To: StatusResolved, Actor: "bob", At: now}
	if err := store.ApplyTransition(ctx, "a1", StatusNew, stale); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	got, _ := store.GetAlert(ctx, "a1")
	if got.Status != StatusAcknowledged {
		t.Errorf("status = %s after conflict, want acknowledged", got.Status)
	}
	recs, _ := store.ListTransitions(ctx, "a1")
	if len(recs) != 2 {
		t.Errorf("got %d records after conflict, want 2", len(recs))
	}

	missing := &TransitionRecord{AlertID: "nope", From: StatusNew, To: StatusAcknowledged, Actor: "alice", At: now}
	if err := store.ApplyTransition(ctx, "nope", StatusNew, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.ListTransitions(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	seedAlert(t, store, "a1", StatusClosed)
	recs, err := store.ListTransitions(ctx, "a1")
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	wantTo := []Status{StatusNew, StatusClosed}
	if len(recs) != len(wantTo) {
		t.Fatalf("got %d records, want %d", len(recs), len(wantTo))
	}
	for i, to := range wantTo {
		if recs[i].To != to {
			t.Errorf("record %d: to = %s, want %s", i, recs[i].To, to)
		}
		if recs[i].Seq != int64(i+1) {
			t.Errorf("record %d: seq = %d, want %d", i, recs[i].Seq, i+1)
		}
	}
}

func TestMemoryStoreStatusSummary(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedAlert(t, store, "a1", StatusNew)
	seedAlert(t, store, "a2", StatusNew)
	seedAlert(t, store, "a3", StatusAcknowledged)
	seedAlert(t, store, "a4", StatusClosed)

	sum, err := store.StatusSummary(ctx)
	if err != nil {
		t.Fatalf("StatusSummary failed: %v", err)
	}
	if sum.Total != 4 {
		t.Errorf("total = %d, want 4", sum.Total)
	}
	if sum.ByStatus[StatusNew] != 2 || sum.ByStatus[StatusAcknowledged] != 1 || sum.ByStatus[StatusClosed] != 1 {
		t.Errorf("by_status = %v", sum.ByStatus)
	}
	if sum.ByType["port_scan"] != 4 {
		t.Errorf("by_type = %v", sum.ByType)
	}
	if sum.BySeverity[SeverityMedium] != 4 {
		t.Errorf("by_severity = %v", sum.BySeverity)
	}
}
