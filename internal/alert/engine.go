// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/netsentinel/internal/logging"
	"github.com/tomtom215/netsentinel/internal/metrics"
)

// NotifySink receives alert events for out-of-band delivery. All methods
// must be non-blocking; delivery happens off the correlation path.
type NotifySink interface {
	AlertCreated(a *Alert)
	AlertEscalated(a *Alert)
	CancelPending(alertID string)
}

// EngineConfig configures the alert engine.
type EngineConfig struct {
	// Window is the correlation window W.
	Window time.Duration

	// EscalationThreshold is the occurrence count that triggers automatic
	// severity escalation (0 disables).
	EscalationThreshold int

	// MaxNewPerHour caps alert creation per clock hour (0 disables).
	MaxNewPerHour int

	// QueueCapacity bounds the ingest queue.
	QueueCapacity int

	// Workers is the number of correlation workers.
	Workers int
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Window:              60 * time.Second,
		EscalationThreshold: 5,
		QueueCapacity:       1024,
		Workers:             4,
	}
}

// Engine coordinates event ingestion, correlation, and the alert
// lifecycle.
//
// Producers call SubmitEvent; correlation workers drain the ingest queue
// and fold events into alerts through the store. A circuit breaker wraps
// all store writes on the ingestion path: when the store is unavailable
// the engine fails closed and rejects new events instead of accepting
// them into a queue it cannot drain.
type Engine struct {
	cfg        EngineConfig
	normalizer *Normalizer
	queue      *Queue
	correlator *Correlator
	lifecycle  *Lifecycle
	store      Store

	breaker *gobreaker.CircuitBreaker[*Outcome]

	mu          sync.RWMutex
	sink        NotifySink
	broadcaster Broadcaster
}

// NewEngine creates an engine over the store.
func NewEngine(store Store, cfg EngineConfig) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	e := &Engine{
		cfg:        cfg,
		normalizer: NewNormalizer(),
		queue:      NewQueue(cfg.QueueCapacity),
		correlator: NewCorrelator(store, cfg.Window, cfg.EscalationThreshold, cfg.MaxNewPerHour),
		store:      store,
	}
	e.lifecycle = NewLifecycle(store, e.cancelPending)

	e.breaker = gobreaker.NewCircuitBreaker[*Outcome](gobreaker.Settings{
		Name:        "alert-store",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store breaker state change")
			if to == gobreaker.StateOpen {
				metrics.StoreBreakerOpen.Set(1)
			} else {
				metrics.StoreBreakerOpen.Set(0)
			}
		},
	})

	return e
}

// SetNotifySink registers the notification sink.
func (e *Engine) SetNotifySink(sink NotifySink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// SetBroadcaster registers the dashboard broadcaster.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcaster = b
}

// SubmitEvent validates and enqueues one detection event.
//
// A nil return means the event was accepted or intentionally dropped by
// the overflow policy. Errors are a ValidationError for malformed
// events, ErrStoreUnavailable while the store breaker is open, and
// ErrShuttingDown after shutdown began.
func (e *Engine) SubmitEvent(ctx context.Context, ev *DetectionEvent) error {
	metrics.EventsReceived.WithLabelValues(ev.ProducerID).Inc()

	// Fail closed: with the store down, admitting events only grows a
	// queue that cannot drain.
	if e.breaker.State() == gobreaker.StateOpen {
		return ErrStoreUnavailable
	}

	normalized, err := e.normalizer.Normalize(ev)
	if err != nil {
		logging.Debug().Err(err).Str("producer", ev.ProducerID).Msg("event rejected")
		return err
	}

	if _, err := e.queue.Push(normalized); err != nil {
		return err
	}
	return nil
}

// RunWithContext runs the correlation workers until ctx is cancelled,
// then drains the queue and returns. Implements the suture service
// contract.
func (e *Engine) RunWithContext(ctx context.Context) error {
	logging.Info().
		Int("workers", e.cfg.Workers).
		Dur("window", e.cfg.Window).
		Int("queue_capacity", e.cfg.QueueCapacity).
		Msg("alert engine starting")

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.workerLoop(ctx)
		}()
	}

	<-ctx.Done()
	e.queue.Close()
	wg.Wait()

	logging.Info().Msg("alert engine stopped")
	return ctx.Err()
}

// workerLoop drains the queue until it is closed and empty. Events still
// queued at shutdown are processed with a short grace context so they
// are not silently lost.
func (e *Engine) workerLoop(ctx context.Context) {
	for {
		ev, err := e.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Shutdown begins: keep draining what is already queued.
				ev, err = e.queue.Pop(context.Background())
			}
			if err != nil {
				return
			}
		}

		procCtx := ctx
		if procCtx.Err() != nil {
			var cancel context.CancelFunc
			procCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			e.processEvent(procCtx, ev)
			cancel()
			continue
		}
		e.processEvent(procCtx, ev)
	}
}

// processEvent correlates one event through the store breaker and fans
// out the outcome.
func (e *Engine) processEvent(ctx context.Context, ev *Event) {
	outcome, err := e.breaker.Execute(func() (*Outcome, error) {
		return e.correlator.Process(ctx, ev)
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("correlate").Inc()
		logging.Error().Err(err).
			Str("event_type", ev.EventType).
			Str("source", ev.Source).
			Msg("event correlation failed")
		return
	}
	if outcome.Dropped || outcome.Alert == nil {
		return
	}

	e.mu.RLock()
	sink, broadcaster := e.sink, e.broadcaster
	e.mu.RUnlock()

	switch {
	case outcome.Created:
		if sink != nil {
			sink.AlertCreated(outcome.Alert)
		}
		if broadcaster != nil {
			broadcaster.BroadcastJSON("alert_created", outcome.Alert)
		}
	case outcome.Escalated:
		if sink != nil {
			sink.AlertEscalated(outcome.Alert)
		}
		if broadcaster != nil {
			broadcaster.BroadcastJSON("alert_escalated", outcome.Alert)
		}
	}
}

// cancelPending forwards close-driven cancellation to the sink.
func (e *Engine) cancelPending(alertID string) {
	e.mu.RLock()
	sink := e.sink
	e.mu.RUnlock()
	if sink != nil {
		sink.CancelPending(alertID)
	}
}

// Acknowledge moves an alert from new to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, alertID, actor string) (bool, error) {
	return e.transition(ctx, alertID, OpAcknowledge, actor)
}

// Resolve moves an alert to resolved.
func (e *Engine) Resolve(ctx context.Context, alertID, actor string) (bool, error) {
	return e.transition(ctx, alertID, OpResolve, actor)
}

// Close moves an alert to its terminal closed status and cancels any
// pending notifications for it.
func (e *Engine) Close(ctx context.Context, alertID, actor string) (bool, error) {
	return e.transition(ctx, alertID, OpClose, actor)
}

func (e *Engine) transition(ctx context.Context, alertID string, op Op, actor string) (bool, error) {
	changed, err := e.lifecycle.Apply(ctx, alertID, op, actor)
	if err != nil {
		return false, err
	}
	if changed {
		e.broadcastStatus(ctx, alertID)
	}
	return changed, nil
}

// AcknowledgeAll acknowledges every alert currently in new.
func (e *Engine) AcknowledgeAll(ctx context.Context, actor string) (*BulkResult, error) {
	return e.lifecycle.ApplyBulk(ctx, StatusNew, OpAcknowledge, actor)
}

// CloseResolved closes every alert currently in resolved.
func (e *Engine) CloseResolved(ctx context.Context, actor string) (*BulkResult, error) {
	return e.lifecycle.ApplyBulk(ctx, StatusResolved, OpClose, actor)
}

// broadcastStatus pushes the post-transition alert to the dashboard.
func (e *Engine) broadcastStatus(ctx context.Context, alertID string) {
	e.mu.RLock()
	broadcaster := e.broadcaster
	e.mu.RUnlock()
	if broadcaster == nil {
		return
	}

	a, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return
	}
	broadcaster.BroadcastJSON("alert_updated", a)
}

// GetAlert retrieves an alert by ID.
func (e *Engine) GetAlert(ctx context.Context, alertID string) (*Alert, error) {
	return e.store.GetAlert(ctx, alertID)
}

// ListAlerts returns alerts matching the filter plus the total count.
func (e *Engine) ListAlerts(ctx context.Context, filter Filter) ([]Alert, int, error) {
	return e.store.ListAlerts(ctx, filter)
}

// ListTransitions returns an alert's status history.
func (e *Engine) ListTransitions(ctx context.Context, alertID string) ([]TransitionRecord, error) {
	return e.store.ListTransitions(ctx, alertID)
}

// Summary returns aggregate alert counts.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	return e.store.StatusSummary(ctx)
}

// QueueDepth reports the number of queued events, for health reporting.
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}

// StoreHealthy reports whether the store breaker is closed.
func (e *Engine) StoreHealthy() bool {
	return e.breaker.State() != gobreaker.StateOpen
}

// String implements fmt.Stringer for supervisor logging.
func (e *Engine) String() string {
	return fmt.Sprintf("alert-engine[workers=%d]", e.cfg.Workers)
}
