// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// NewRouter builds the HTTP routing tree over the handler.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SecurityHeaders)
		r.Use(PrometheusMetrics)
		if cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByRealIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		}

		r.Get("/health", h.Health)
		r.Get("/ws", h.WebSocket)

		r.Post("/events", h.SubmitEvent)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.ListAlerts)
			r.Get("/summary", h.Summary)
			r.Post("/acknowledge-all", h.AcknowledgeAll)
			r.Post("/close-all", h.CloseResolved)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAlert)
				r.Get("/transitions", h.ListTransitions)
				r.Post("/acknowledge", h.Acknowledge)
				r.Post("/resolve", h.Resolve)
				r.Post("/close", h.CloseAlert)
			})
		})
	})

	return r
}
