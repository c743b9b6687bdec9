// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/netsentinel/internal/alert"
	"github.com/tomtom215/netsentinel/internal/logging"
	ws "github.com/tomtom215/netsentinel/internal/websocket"
)

// maxEventBody bounds the request body for event submission.
const maxEventBody = 256 * 1024

// Handler serves the alert API.
type Handler struct {
	engine          *alert.Engine
	wsHub           *ws.Hub
	defaultPageSize int
	maxPageSize     int
	started         time.Time
}

// NewHandler creates a handler over the engine. wsHub may be nil when
// the dashboard push channel is disabled.
func NewHandler(engine *alert.Engine, wsHub *ws.Hub, defaultPageSize, maxPageSize int) *Handler {
	if defaultPageSize <= 0 {
		defaultPageSize = 50
	}
	if maxPageSize <= 0 {
		maxPageSize = 500
	}
	return &Handler{
		engine:          engine,
		wsHub:           wsHub,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		started:         time.Now(),
	}
}

// SubmitEvent accepts one detection event from a producer.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var ev alert.DetectionEvent
	body := http.MaxBytesReader(w, r.Body, maxEventBody)
	if err := json.NewDecoder(body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed event body", nil)
		return
	}

	if err := h.engine.SubmitEvent(r.Context(), &ev); err != nil {
		respondEngineError(w, err)
		return
	}

	respondOK(w, http.StatusAccepted, map[string]string{"result": "accepted"}, Metadata{})
}

// ListAlerts returns alerts matching the query filters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	alerts, total, err := h.engine.ListAlerts(r.Context(), filter)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondOK(w, http.StatusOK, alerts, Metadata{
		Total:  &total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// parseFilter builds an alert filter from query parameters. Returns
// false after writing an error response when a parameter is invalid.
func (h *Handler) parseFilter(w http.ResponseWriter, r *http.Request) (alert.Filter, bool) {
	filter := alert.Filter{
		AlertTypes: getCSVParam(r, "type"),
		Query:      r.URL.Query().Get("q"),
		Limit:      getIntParam(r, "limit", h.defaultPageSize),
		Offset:     getIntParam(r, "offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > h.maxPageSize {
		filter.Limit = h.defaultPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	for _, s := range getCSVParam(r, "status") {
		status := alert.Status(s)
		if !status.Valid() {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown status "+sanitizeLogValue(s), nil)
			return filter, false
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	for _, s := range getCSVParam(r, "severity") {
		severity := alert.Severity(s)
		if !severity.Valid() {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown severity "+sanitizeLogValue(s), nil)
			return filter, false
		}
		filter.Severities = append(filter.Severities, severity)
	}

	var err error
	if filter.Start, err = getTimeParam(r, "start"); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return filter, false
	}
	if filter.End, err = getTimeParam(r, "end"); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return filter, false
	}

	return filter, true
}

// GetAlert returns one alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, http.StatusOK, a, Metadata{})
}

// ListTransitions returns an alert's status history.
func (h *Handler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.ListTransitions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, http.StatusOK, recs, Metadata{})
}

// Summary returns aggregate alert counts for dashboard polling.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.engine.Summary(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, http.StatusOK, sum, Metadata{})
}

// transitionRequest is the optional body of a transition call.
type transitionRequest struct {
	Actor string `json:"actor"`
}

// transitionResult reports one transition outcome.
type transitionResult struct {
	AlertID string `json:"alert_id"`
	Changed bool   `json:"changed"`
}

func (h *Handler) actor(r *http.Request) string {
	var req transitionRequest
	if r.Body != nil {
		// Body is optional; decode errors just fall back to the default.
		_ = json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4096)).Decode(&req)
	}
	if req.Actor == "" {
		return "operator"
	}
	return req.Actor
}

// Acknowledge moves an alert to acknowledged.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Acknowledge)
}

// Resolve moves an alert to resolved.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Resolve)
}

// CloseAlert moves an alert to closed.
func (h *Handler) CloseAlert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Close)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, alertID, actor string) (bool, error),
) {
	id := chi.URLParam(r, "id")
	changed, err := op(r.Context(), id, h.actor(r))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, http.StatusOK, transitionResult{AlertID: id, Changed: changed}, Metadata{})
}

// AcknowledgeAll acknowledges every alert currently in new.
func (h *Handler) AcknowledgeAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.AcknowledgeAll(r.Context(), h.actor(r))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, http.StatusOK, result, Metadata{})
}

// CloseResolved closes every alert currently in resolved.
func (h *Handler) CloseResolved(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.CloseResolved(r.Context(), h.actor(r))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, http.StatusOK, result, Metadata{})
}

// healthStatus is the health endpoint body.
type healthStatus struct {
	Status       string `json:"status"`
	StoreHealthy bool   `json:"store_healthy"`
	QueueDepth   int    `json:"queue_depth"`
	UptimeSec    int64  `json:"uptime_seconds"`
	Clients      int    `json:"websocket_clients"`
}

// Health reports engine liveness and store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:       "ok",
		StoreHealthy: h.engine.StoreHealthy(),
		QueueDepth:   h.engine.QueueDepth(),
		UptimeSec:    int64(time.Since(h.started).Seconds()),
	}
	if h.wsHub != nil {
		status.Clients = h.wsHub.GetClientCount()
	}

	code := http.StatusOK
	if !status.StoreHealthy {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondOK(w, code, status, Metadata{})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboard is same-host; reverse proxies rewrite Origin.
		return true
	},
}

// WebSocket upgrades the connection and registers the client with the
// hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "WebSocket service unavailable", nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	h.wsHub.Register <- client
	client.Start()
}
