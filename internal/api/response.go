// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

// Package api provides the HTTP interface to the alert engine.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/netsentinel/internal/alert"
	"github.com/tomtom215/netsentinel/internal/logging"
)

// APIResponse is the uniform response envelope.
type APIResponse struct {
	Status   string      `json:"status"` // ok or error
	Data     interface{} `json:"data,omitempty"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response timing and pagination.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Total     *int      `json:"total,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// APIError is the coded error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sanitizeLogValue removes control characters from strings to prevent
// log injection. Newlines, carriage returns, and other control bytes
// could otherwise forge log entries.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, status int, response *APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondOK sends a success envelope.
func respondOK(w http.ResponseWriter, status int, data interface{}, meta Metadata) {
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	respondJSON(w, status, &APIResponse{
		Status:   "ok",
		Data:     data,
		Metadata: meta,
	})
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", sanitizeLogValue(code)).Str("error", sanitizeLogValue(err.Error())).Msg("API Error")
	}

	respondJSON(w, status, &APIResponse{
		Status: "error",
		Metadata: Metadata{
			Timestamp: time.Now(),
		},
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondEngineError maps engine sentinels onto coded HTTP errors.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case alert.IsValidation(err):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, alert.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
	case errors.Is(err, alert.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, alert.ErrConflict):
		respondError(w, http.StatusConflict, "CONFLICT", "alert modified concurrently, retry", nil)
	case errors.Is(err, alert.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "alert store unavailable, ingestion suspended", nil)
	case errors.Is(err, alert.ErrShuttingDown):
		respondError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "engine shutting down", nil)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", err)
	}
}

// getIntParam extracts an integer query parameter with a default value
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// getCSVParam splits a comma-separated query parameter into values.
func getCSVParam(r *http.Request, key string) []string {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getTimeParam parses an RFC 3339 query parameter, nil when absent.
func getTimeParam(r *http.Request, key string) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC 3339", key)
	}
	return &t, nil
}
