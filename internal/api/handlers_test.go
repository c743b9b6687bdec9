// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/netsentinel/internal/alert"
)

// testServer bundles a running engine with its HTTP surface.
type testServer struct {
	engine *alert.Engine
	store  *alert.MemoryStore
	srv    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := alert.NewMemoryStore()
	engine := alert.NewEngine(store, alert.DefaultEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.RunWithContext(ctx)
	}()

	handler := NewHandler(engine, nil, 50, 500)
	srv := httptest.NewServer(NewRouter(handler, RouterConfig{}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})

	return &testServer{engine: engine, store: store, srv: srv}
}

func (ts *testServer) post(t *testing.T, path string, body interface{}) (*http.Response, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(ts.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp, decodeEnvelope(t, resp)
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, APIResponse) {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp, decodeEnvelope(t, resp)
}

func decodeEnvelope(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var envelope APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func eventBody(source string) map[string]interface{} {
	return map[string]interface{}{
		"producer_id": "traffic_analyzer",
		"event_type":  "port_scan",
		"source":      source,
		"confidence":  0.7,
		"description": "port scan from " + source,
		"observed_at": time.Now().Format(time.RFC3339),
	}
}

// submitAndWait posts an event and waits for the resulting alert.
func (ts *testServer) submitAndWait(t *testing.T, source string, wantAlerts int) string {
	t.Helper()
	resp, envelope := ts.post(t, "/api/v1/events", eventBody(source))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202 (%+v)", resp.StatusCode, envelope.Error)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		alerts, total, err := ts.store.ListAlerts(context.Background(), alert.Filter{})
		if err == nil && total == wantAlerts {
			for i := range alerts {
				if alerts[i].Source == source {
					return alerts[i].AlertID
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("alert for %s never appeared", source)
	return ""
}

func TestSubmitEventEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, envelope := ts.post(t, "/api/v1/events", eventBody("192.168.1.5"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if envelope.Status != "ok" {
		t.Errorf("envelope status = %s, want ok", envelope.Status)
	}
}

func TestSubmitEventMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/api/v1/events", "application/json",
		bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	envelope := decodeEnvelope(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("error = %+v, want VALIDATION_ERROR", envelope.Error)
	}
}

func TestSubmitEventValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	body := eventBody("192.168.1.5")
	delete(body, "event_type")
	resp, envelope := ts.post(t, "/api/v1/events", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("error = %+v, want VALIDATION_ERROR", envelope.Error)
	}
}

func TestListAlertsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.submitAndWait(t, "192.168.1.5", 1)
	ts.submitAndWait(t, "192.168.1.6", 2)

	resp, envelope := ts.get(t, "/api/v1/alerts/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if envelope.Metadata.Total == nil || *envelope.Metadata.Total != 2 {
		t.Errorf("total = %v, want 2", envelope.Metadata.Total)
	}
	if envelope.Metadata.Limit != 50 {
		t.Errorf("limit = %d, want default 50", envelope.Metadata.Limit)
	}

	// Listed records carry the epoch-seconds timestamp dashboard
	// consumers key on, matching first_seen.
	var records []struct {
		AlertID   string    `json:"alert_id"`
		Timestamp int64     `json:"timestamp"`
		FirstSeen time.Time `json:"first_seen"`
	}
	remarshal(t, envelope.Data, &records)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.Timestamp == 0 || rec.Timestamp != rec.FirstSeen.Unix() {
			t.Errorf("alert %s: timestamp = %d, want %d", rec.AlertID, rec.Timestamp, rec.FirstSeen.Unix())
		}
	}

	// Status filter.
	_, envelope = ts.get(t, "/api/v1/alerts/?status=new")
	if envelope.Metadata.Total == nil || *envelope.Metadata.Total != 2 {
		t.Errorf("status=new total = %v, want 2", envelope.Metadata.Total)
	}
	_, envelope = ts.get(t, "/api/v1/alerts/?status=closed")
	if envelope.Metadata.Total == nil || *envelope.Metadata.Total != 0 {
		t.Errorf("status=closed total = %v, want 0", envelope.Metadata.Total)
	}

	// Unknown status is rejected.
	resp, envelope = ts.get(t, "/api/v1/alerts/?status=bogus")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus status: status = %d, want 400", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("error = %+v, want VALIDATION_ERROR", envelope.Error)
	}

	// An out-of-range limit falls back to the default.
	_, envelope = ts.get(t, "/api/v1/alerts/?limit=99999")
	if envelope.Metadata.Limit != 50 {
		t.Errorf("clamped limit = %d, want 50", envelope.Metadata.Limit)
	}
}

func TestGetAlertEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submitAndWait(t, "192.168.1.5", 1)

	resp, envelope := ts.get(t, "/api/v1/alerts/"+id+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var a alert.Alert
	remarshal(t, envelope.Data, &a)
	if a.AlertID != id || a.AlertType != "port_scan" || a.Status != alert.StatusNew {
		t.Errorf("alert = %+v", a)
	}

	resp, envelope = ts.get(t, "/api/v1/alerts/no-such-id/")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "NOT_FOUND" {
		t.Errorf("error = %+v, want NOT_FOUND", envelope.Error)
	}
}

func TestTransitionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submitAndWait(t, "192.168.1.5", 1)

	// Acknowledge with an explicit actor.
	resp, envelope := ts.post(t, "/api/v1/alerts/"+id+"/acknowledge", map[string]string{"actor": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge status = %d (%+v)", resp.StatusCode, envelope.Error)
	}
	var result struct {
		AlertID string `json:"alert_id"`
		Changed bool   `json:"changed"`
	}
	remarshal(t, envelope.Data, &result)
	if !result.Changed {
		t.Error("changed = false, want true")
	}

	// Idempotent re-acknowledge: 200 with changed = false.
	resp, envelope = ts.post(t, "/api/v1/alerts/"+id+"/acknowledge", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-acknowledge status = %d", resp.StatusCode)
	}
	remarshal(t, envelope.Data, &result)
	if result.Changed {
		t.Error("idempotent acknowledge changed = true, want false")
	}

	// Resolve then close.
	resp, _ = ts.post(t, "/api/v1/alerts/"+id+"/resolve", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}
	resp, _ = ts.post(t, "/api/v1/alerts/"+id+"/close", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d", resp.StatusCode)
	}

	// Closed is terminal: acknowledging now conflicts.
	resp, envelope = ts.post(t, "/api/v1/alerts/"+id+"/acknowledge", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("acknowledge closed: status = %d, want 409", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "INVALID_TRANSITION" {
		t.Errorf("error = %+v, want INVALID_TRANSITION", envelope.Error)
	}

	// History shows the full path with actors.
	_, envelope = ts.get(t, "/api/v1/alerts/"+id+"/transitions")
	var recs []alert.TransitionRecord
	remarshal(t, envelope.Data, &recs)
	if len(recs) != 4 {
		t.Fatalf("got %d transition records, want 4", len(recs))
	}
	if recs[1].Actor != "alice" {
		t.Errorf("acknowledge actor = %s, want alice", recs[1].Actor)
	}
	if recs[2].Actor != "operator" {
		t.Errorf("resolve actor = %s, want default operator", recs[2].Actor)
	}
	wantPath := []alert.Status{alert.StatusNew, alert.StatusAcknowledged, alert.StatusResolved, alert.StatusClosed}
	for i, want := range wantPath {
		if recs[i].To != want {
			t.Errorf("record %d: to = %s, want %s", i, recs[i].To, want)
		}
	}
}

func TestBulkEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.submitAndWait(t, "h1", 1)
	ts.submitAndWait(t, "h2", 2)

	resp, envelope := ts.post(t, "/api/v1/alerts/acknowledge-all", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge-all status = %d", resp.StatusCode)
	}
	var result alert.BulkResult
	remarshal(t, envelope.Data, &result)
	if result.Matched != 2 || result.Applied != 2 {
		t.Errorf("result = %+v, want matched/applied 2", result)
	}

	// close-all acts only on resolved alerts; nothing matches yet.
	_, envelope = ts.post(t, "/api/v1/alerts/close-all", nil)
	remarshal(t, envelope.Data, &result)
	if result.Matched != 0 {
		t.Errorf("close-all matched = %d, want 0", result.Matched)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.submitAndWait(t, "h1", 1)
	ts.submitAndWait(t, "h2", 2)

	resp, envelope := ts.get(t, "/api/v1/alerts/summary")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var sum alert.Summary
	remarshal(t, envelope.Data, &sum)
	if sum.Total != 2 || sum.ByStatus[alert.StatusNew] != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.ByType["port_scan"] != 2 {
		t.Errorf("by_type = %v", sum.ByType)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, envelope := ts.get(t, "/api/v1/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var health struct {
		Status       string `json:"status"`
		StoreHealthy bool   `json:"store_healthy"`
	}
	remarshal(t, envelope.Data, &health)
	if health.Status != "ok" || !health.StoreHealthy {
		t.Errorf("health = %+v", health)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("X-Content-Type-Options header missing")
	}
}

// remarshal converts the decoded envelope data into a typed value.
func remarshal(t *testing.T, data interface{}, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("remarshal: %v", err)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"line\nbreak", "line\\x0abreak"},
		{"cr\rreturn", "cr\\x0dreturn"},
		{"del\x7f", fmt.Sprintf("del\\x%02x", 0x7F)},
	}
	for _, tt := range tests {
		if got := sanitizeLogValue(tt.in); got != tt.want {
			t.Errorf("sanitizeLogValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
