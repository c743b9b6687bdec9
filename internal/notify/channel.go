// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

// Package notify delivers alert notifications to external channels.
//
// Delivery is asynchronous and decoupled from alert creation: a failed
// or slow channel never blocks correlation or an operator transition.
// Each channel is wrapped in a circuit breaker and a rate limiter, and
// failed sends are retried with exponential backoff. Pending deliveries
// for an alert are cancelled when the alert is closed.
package notify

import (
	"context"

	"github.com/tomtom215/netsentinel/internal/alert"
)

// Kind distinguishes why a notification fires.
type Kind string

const (
	KindCreated   Kind = "created"
	KindEscalated Kind = "escalated"
)

// Channel is one delivery target.
type Channel interface {
	// Name identifies the channel in logs and metrics.
	Name() string

	// Enabled reports whether the channel should receive deliveries.
	Enabled() bool

	// Send delivers one notification. It must respect ctx cancellation.
	Send(ctx context.Context, a *alert.Alert, kind Kind) error
}
