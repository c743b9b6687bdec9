// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

// Package metrics provides Prometheus instrumentation for the alert engine:
// ingestion throughput and drops, correlation outcomes, lifecycle
// transitions, notification delivery, and API latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion Metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_received_total",
			Help: "Total number of detection events submitted by producers",
		},
		[]string{"producer"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_rejected_total",
			Help: "Total number of detection events rejected by validation",
		},
		[]string{"reason"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_dropped_total",
			Help: "Total number of pending events dropped by queue admission",
		},
		[]string{"reason"}, // "overflow", "displaced", "rate_cap", "shutdown"
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Current number of events waiting in the ingestion queue",
		},
	)

	// Correlation Metrics
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_created_total",
			Help: "Total number of new alerts created by the correlator",
		},
		[]string{"alert_type", "severity"},
	)

	AlertsCorrelated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_correlated_total",
			Help: "Total number of events folded into an existing open alert",
		},
	)

	AlertsEscalated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_escalated_total",
			Help: "Total number of automatic severity escalations",
		},
	)

	CorrelationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "correlation_duration_seconds",
			Help:    "Time spent correlating a single event",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	// Lifecycle Metrics
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_transitions_total",
			Help: "Total number of applied status transitions",
		},
		[]string{"from", "to"},
	)

	TransitionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_transition_errors_total",
			Help: "Total number of rejected status transitions",
		},
		[]string{"reason"}, // "invalid_transition", "not_found", "store"
	)

	// Store Metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Total number of alert store failures",
		},
		[]string{"operation"},
	)

	StoreBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_breaker_open",
			Help: "1 when the store circuit breaker is open and ingestion fails closed",
		},
	)

	// Notification Metrics
	NotifyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_attempts_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"channel"},
	)

	NotifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_failures_total",
			Help: "Total number of notification deliveries that exhausted retries",
		},
		[]string{"channel"},
	)

	NotifyCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_cancelled_total",
			Help: "Total number of pending deliveries cancelled by alert closure",
		},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)
)
