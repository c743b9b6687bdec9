// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/netsentinel/internal/alert"
	"github.com/tomtom215/netsentinel/internal/logging"
	"github.com/tomtom215/netsentinel/internal/metrics"
)

// dispatchWorkers is the size of the delivery worker pool. Deliveries
// are slow HTTP calls; two workers keep channels busy without letting a
// burst open many sockets.
const dispatchWorkers = 2

// Config configures delivery behavior shared by all channels.
type Config struct {
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration

	// MaxAttempts is the total number of tries per channel per alert.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt; it doubles
	// per attempt after that.
	InitialBackoff time.Duration

	// RatePerSecond limits deliveries per channel.
	RatePerSecond float64

	// QueueSize bounds the pending delivery queue.
	QueueSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        10 * time.Second,
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		RatePerSecond:  2,
		QueueSize:      256,
	}
}

// job is one queued delivery.
type job struct {
	id    uint64
	alert *alert.Alert
	kind  Kind
}

// Dispatcher fans alert events out to notification channels.
//
// Enqueueing never blocks the caller: when the queue is full the
// delivery is dropped and counted. Each channel gets its own rate
// limiter and circuit breaker so one failing endpoint cannot starve the
// others. Closing an alert cancels its still-pending deliveries.
type Dispatcher struct {
	cfg      Config
	channels []Channel
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]

	jobs chan job

	mu      sync.Mutex
	nextJob uint64
	pending map[string]map[uint64]context.CancelFunc // alert ID -> job ID -> cancel
}

// NewDispatcher creates a dispatcher over the channels.
func NewDispatcher(cfg Config, channels ...Channel) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}

	d := &Dispatcher{
		cfg:      cfg,
		channels: channels,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		jobs:     make(chan job, cfg.QueueSize),
		pending:  make(map[string]map[uint64]context.CancelFunc),
	}

	for _, ch := range channels {
		name := ch.Name()
		d.limiters[name] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
		d.breakers[name] = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "notify-" + name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(cbName string, from, to gobreaker.State) {
				logging.Warn().
					Str("breaker", cbName).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("notification breaker state change")
			},
		})
		logging.Info().Str("channel", name).Msg("registered notification channel")
	}

	return d
}

// AlertCreated enqueues a creation notification. Non-blocking.
func (d *Dispatcher) AlertCreated(a *alert.Alert) {
	d.enqueue(a, KindCreated)
}

// AlertEscalated enqueues an escalation notification. Non-blocking.
func (d *Dispatcher) AlertEscalated(a *alert.Alert) {
	d.enqueue(a, KindEscalated)
}

// CancelPending cancels all queued and in-flight deliveries for an
// alert. Called when the alert is closed.
func (d *Dispatcher) CancelPending(alertID string) {
	d.mu.Lock()
	cancels := d.pending[alertID]
	delete(d.pending, alertID)
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		metrics.NotifyCancelled.Add(float64(len(cancels)))
		logging.Debug().
			Str("alert_id", alertID).
			Int("deliveries", len(cancels)).
			Msg("pending notifications cancelled")
	}
}

func (d *Dispatcher) enqueue(a *alert.Alert, kind Kind) {
	copied := *a

	d.mu.Lock()
	d.nextJob++
	j := job{id: d.nextJob, alert: &copied, kind: kind}
	d.mu.Unlock()

	select {
	case d.jobs <- j:
	default:
		logging.Warn().
			Str("alert_id", a.AlertID).
			Str("kind", string(kind)).
			Msg("notification queue full, delivery dropped")
	}
}

// RunWithContext runs the delivery workers until ctx is cancelled.
// Implements the suture service contract.
func (d *Dispatcher) RunWithContext(ctx context.Context) error {
	logging.Info().
		Int("channels", len(d.channels)).
		Int("workers", dispatchWorkers).
		Msg("notification dispatcher starting")

	var wg sync.WaitGroup
	for i := 0; i < dispatchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.jobs:
					d.deliver(ctx, j)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()

	logging.Info().Msg("notification dispatcher stopped")
	return ctx.Err()
}

// deliver sends one job to every enabled channel, with per-channel
// retry. The job context is registered so a close on the alert aborts
// remaining attempts.
func (d *Dispatcher) deliver(ctx context.Context, j job) {
	jobCtx, cancel := context.WithCancel(ctx)
	d.register(j, cancel)
	defer func() {
		d.unregister(j)
		cancel()
	}()

	for _, ch := range d.channels {
		if !ch.Enabled() {
			continue
		}
		d.deliverTo(jobCtx, ch, j)
	}
}

// deliverTo retries a single channel until success, exhaustion, or
// cancellation. Final failure is logged and swallowed; notification
// delivery is never surfaced as a failure of the triggering operation.
func (d *Dispatcher) deliverTo(ctx context.Context, ch Channel, j job) {
	name := ch.Name()
	limiter := d.limiters[name]
	breaker := d.breakers[name]

	backoff := d.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		metrics.NotifyAttempts.WithLabelValues(name).Inc()
		_, err := breaker.Execute(func() (struct{}, error) {
			sendCtx, sendCancel := context.WithTimeout(ctx, d.cfg.Timeout)
			defer sendCancel()
			return struct{}{}, ch.Send(sendCtx, j.alert, j.kind)
		})
		if err == nil {
			return
		}
		lastErr = err
		metrics.NotifyFailures.WithLabelValues(name).Inc()

		if ctx.Err() != nil || errors.Is(err, gobreaker.ErrOpenState) {
			break
		}
		if attempt < d.cfg.MaxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
		}
	}

	if ctx.Err() != nil {
		logging.Debug().
			Str("channel", name).
			Str("alert_id", j.alert.AlertID).
			Msg("notification delivery cancelled")
		return
	}
	logging.Error().Err(lastErr).
		Str("channel", name).
		Str("alert_id", j.alert.AlertID).
		Int("attempts", d.cfg.MaxAttempts).
		Msg("notification delivery failed")
}

func (d *Dispatcher) register(j job, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byJob, ok := d.pending[j.alert.AlertID]
	if !ok {
		byJob = make(map[uint64]context.CancelFunc)
		d.pending[j.alert.AlertID] = byJob
	}
	byJob[j.id] = cancel
}

func (d *Dispatcher) unregister(j job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if byJob, ok := d.pending[j.alert.AlertID]; ok {
		delete(byJob, j.id)
		if len(byJob) == 0 {
			delete(d.pending, j.alert.AlertID)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (d *Dispatcher) String() string {
	return "notify-dispatcher"
}
