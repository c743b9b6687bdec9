// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/netsentinel/internal/alert"
)

// WebhookChannel sends alerts to a generic webhook endpoint.
type WebhookChannel struct {
	webhookURL string
	headers    map[string]string
	client     *http.Client
	enabled    bool
	mu         sync.RWMutex
}

// WebhookConfig configures the generic webhook channel.
type WebhookConfig struct {
	WebhookURL string            `json:"webhook_url"`
	Headers    map[string]string `json:"headers,omitempty"` // Custom headers (e.g., auth)
	Enabled    bool              `json:"enabled"`
	Timeout    time.Duration     `json:"timeout"`
}

// WebhookPayload is the JSON payload sent to the webhook endpoint.
type WebhookPayload struct {
	Alert     *alert.Alert `json:"alert"`
	EventType string       `json:"event_type"` // alert_created or alert_escalated
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source"` // netsentinel
}

// NewWebhookChannel creates a new generic webhook channel.
func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	headers := make(map[string]string)
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &WebhookChannel{
		webhookURL: config.WebhookURL,
		headers:    headers,
		enabled:    config.Enabled,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the channel name.
func (c *WebhookChannel) Name() string {
	return "webhook"
}

// Enabled returns whether this channel is enabled.
func (c *WebhookChannel) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled && c.webhookURL != ""
}

// SetEnabled enables or disables the channel.
func (c *WebhookChannel) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// SetWebhookURL updates the webhook URL.
func (c *WebhookChannel) SetWebhookURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webhookURL = url
}

// Send delivers an alert to the webhook endpoint.
func (c *WebhookChannel) Send(ctx context.Context, a *alert.Alert, kind Kind) error {
	c.mu.RLock()
	if !c.enabled || c.webhookURL == "" {
		c.mu.RUnlock()
		return nil
	}
	webhookURL := c.webhookURL
	headers := make(map[string]string)
	for k, v := range c.headers {
		headers[k] = v
	}
	c.mu.RUnlock()

	payload := WebhookPayload{
		Alert:     a,
		EventType: "alert_" + string(kind),
		Timestamp: time.Now(),
		Source:    "netsentinel",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
