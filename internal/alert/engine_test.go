// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingSink captures notification fan-out for assertions.
type recordingSink struct {
	mu        sync.Mutex
	created   []string
	escalated []string
	cancelled []string
}

func (s *recordingSink) AlertCreated(a *Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, a.AlertID)
}

func (s *recordingSink) AlertEscalated(a *Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalated = append(s.escalated, a.AlertID)
}

func (s *recordingSink) CancelPending(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, alertID)
}

func (s *recordingSink) counts() (created, escalated, cancelled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created), len(s.escalated), len(s.cancelled)
}

// brokenStore fails every operation, for breaker tests.
type brokenStore struct{}

var errStoreDown = errors.New("store down")

func (brokenStore) CreateAlert(context.Context, *Alert, *TransitionRecord) error { return errStoreDown }
func (brokenStore) UpdateCorrelation(context.Context, *Alert) error              { return errStoreDown }
func (brokenStore) GetAlert(context.Context, string) (*Alert, error)             { return nil, errStoreDown }
func (brokenStore) GetOpenByCorrelationKey(context.Context, string) (*Alert, error) {
	return nil, errStoreDown
}
func (brokenStore) ListAlerts(context.Context, Filter) ([]Alert, int, error) {
	return nil, 0, errStoreDown
}
func (brokenStore) ApplyTransition(context.Context, string, Status, *TransitionRecord) error {
	return errStoreDown
}
func (brokenStore) ListTransitions(context.Context, string) ([]TransitionRecord, error) {
	return nil, errStoreDown
}
func (brokenStore) StatusSummary(context.Context) (*Summary, error) { return nil, errStoreDown }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startEngine(t *testing.T, store Store, cfg EngineConfig) (*Engine, *recordingSink) {
	t.Helper()
	engine := NewEngine(store, cfg)
	sink := &recordingSink{}
	engine.SetNotifySink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.RunWithContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return engine, sink
}

func TestEngineSubmitAndCorrelate(t *testing.T) {
	store := NewMemoryStore()
	engine, sink := startEngine(t, store, DefaultEngineConfig())
	ctx := context.Background()

	ev := validDetection()
	if err := engine.SubmitEvent(ctx, ev); err != nil {
		t.Fatalf("SubmitEvent failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, total, err := store.ListAlerts(ctx, Filter{})
		return err == nil && total == 1
	}, "event was not correlated into an alert")

	waitFor(t, 2*time.Second, func() bool {
		created, _, _ := sink.counts()
		return created == 1
	}, "sink did not receive the creation")

	alerts, _, err := engine.ListAlerts(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	a := alerts[0]
	if a.AlertType != "port_scan" || a.Source != "192.168.1.5" || a.Status != StatusNew {
		t.Errorf("alert = %+v", a)
	}
}

func TestEngineSubmitValidationError(t *testing.T) {
	engine, _ := startEngine(t, NewMemoryStore(), DefaultEngineConfig())

	ev := validDetection()
	ev.EventType = ""
	err := engine.SubmitEvent(context.Background(), ev)
	if !IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestEngineEscalationNotifies(t *testing.T) {
	store := NewMemoryStore()
	cfg := DefaultEngineConfig()
	cfg.EscalationThreshold = 3
	cfg.Workers = 1 // Deterministic processing order
	engine, sink := startEngine(t, store, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := engine.SubmitEvent(ctx, validDetection()); err != nil {
			t.Fatalf("SubmitEvent %d failed: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		_, escalated, _ := sink.counts()
		return escalated == 1
	}, "sink did not receive the escalation")

	alerts, _, err := store.ListAlerts(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if alerts[0].OccurrenceCount != 3 || alerts[0].Severity != SeverityHigh {
		t.Errorf("alert count=%d severity=%s, want 3/high", alerts[0].OccurrenceCount, alerts[0].Severity)
	}
}

func TestEngineFailsClosedWhenStoreDown(t *testing.T) {
	engine, _ := startEngine(t, brokenStore{}, DefaultEngineConfig())
	ctx := context.Background()

	// Each event fails in the correlator; after three consecutive
	// failures the breaker opens.
	for i := 0; i < 3; i++ {
		if err := engine.SubmitEvent(ctx, validDetection()); err != nil {
			t.Fatalf("SubmitEvent %d failed: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return !engine.StoreHealthy()
	}, "breaker did not open after consecutive store failures")

	if err := engine.SubmitEvent(ctx, validDetection()); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestEngineTransitionsAndCancelPending(t *testing.T) {
	store := NewMemoryStore()
	engine, sink := startEngine(t, store, DefaultEngineConfig())
	ctx := context.Background()

	if err := engine.SubmitEvent(ctx, validDetection()); err != nil {
		t.Fatalf("SubmitEvent failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, total, err := store.ListAlerts(ctx, Filter{})
		return err == nil && total == 1
	}, "event was not correlated")

	alerts, _, _ := store.ListAlerts(ctx, Filter{})
	id := alerts[0].AlertID

	changed, err := engine.Acknowledge(ctx, id, "alice")
	if err != nil || !changed {
		t.Fatalf("Acknowledge = %v, %v; want true, nil", changed, err)
	}
	changed, err = engine.Resolve(ctx, id, "alice")
	if err != nil || !changed {
		t.Fatalf("Resolve = %v, %v; want true, nil", changed, err)
	}
	changed, err = engine.Close(ctx, id, "alice")
	if err != nil || !changed {
		t.Fatalf("Close = %v, %v; want true, nil", changed, err)
	}

	_, _, cancelled := sink.counts()
	if cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", cancelled)
	}

	recs, err := engine.ListTransitions(ctx, id)
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(recs) != 4 {
		t.Errorf("got %d transition records, want 4", len(recs))
	}
}

func TestEngineBulkOperations(t *testing.T) {
	store := NewMemoryStore()
	engine, _ := startEngine(t, store, DefaultEngineConfig())
	ctx := context.Background()

	sources := []string{"h1", "h2", "h3"}
	for _, src := range sources {
		ev := validDetection()
		ev.Source = src
		if err := engine.SubmitEvent(ctx, ev); err != nil {
			t.Fatalf("SubmitEvent(%s) failed: %v", src, err)
		}
	}
	waitFor(t, 2*time.Second, func() bool {
		_, total, err := store.ListAlerts(ctx, Filter{})
		return err == nil && total == 3
	}, "events were not correlated")

	result, err := engine.AcknowledgeAll(ctx, "alice")
	if err != nil {
		t.Fatalf("AcknowledgeAll failed: %v", err)
	}
	if result.Applied != 3 {
		t.Errorf("applied = %d, want 3", result.Applied)
	}

	// Nothing resolved yet: CloseResolved matches nothing.
	result, err = engine.CloseResolved(ctx, "alice")
	if err != nil {
		t.Fatalf("CloseResolved failed: %v", err)
	}
	if result.Matched != 0 {
		t.Errorf("matched = %d, want 0", result.Matched)
	}

	sum, err := engine.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.ByStatus[StatusAcknowledged] != 3 {
		t.Errorf("by_status = %v, want 3 acknowledged", sum.ByStatus)
	}
}

func TestEngineShutdownDrainsQueue(t *testing.T) {
	store := NewMemoryStore()
	cfg := DefaultEngineConfig()
	cfg.Workers = 1
	engine := NewEngine(store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.RunWithContext(ctx)
	}()

	const n = 5
	for i := 0; i < n; i++ {
		ev := validDetection()
		ev.Source = string(rune('a' + i))
		if err := engine.SubmitEvent(ctx, ev); err != nil {
			t.Fatalf("SubmitEvent %d failed: %v", i, err)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
	}

	// All queued events were correlated before the engine returned.
	_, total, err := store.ListAlerts(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if total != n {
		t.Errorf("got %d alerts after drain, want %d", total, n)
	}

	if err := engine.SubmitEvent(context.Background(), validDetection()); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("SubmitEvent after shutdown: err = %v, want ErrShuttingDown", err)
	}
}
