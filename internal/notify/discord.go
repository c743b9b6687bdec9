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

// DiscordChannel sends alerts to Discord via webhooks.
type DiscordChannel struct {
	webhookURL string
	client     *http.Client
	enabled    bool
	mu         sync.RWMutex
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	WebhookURL string        `json:"webhook_url"`
	Enabled    bool          `json:"enabled"`
	Timeout    time.Duration `json:"timeout"`
}

// NewDiscordChannel creates a new Discord channel.
func NewDiscordChannel(config DiscordConfig) *DiscordChannel {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &DiscordChannel{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the channel name.
func (c *DiscordChannel) Name() string {
	return "discord"
}

// Enabled returns whether this channel is enabled.
func (c *DiscordChannel) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled && c.webhookURL != ""
}

// SetEnabled enables or disables the channel.
func (c *DiscordChannel) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// SetWebhookURL updates the webhook URL.
func (c *DiscordChannel) SetWebhookURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webhookURL = url
}

// Send delivers an alert to Discord.
func (c *DiscordChannel) Send(ctx context.Context, a *alert.Alert, kind Kind) error {
	c.mu.RLock()
	if !c.enabled || c.webhookURL == "" {
		c.mu.RUnlock()
		return nil
	}
	webhookURL := c.webhookURL
	c.mu.RUnlock()

	embed := c.buildEmbed(a, kind)
	payload := discordWebhookPayload{
		Embeds: []discordEmbed{embed},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// buildEmbed creates a Discord embed from an alert.
func (c *DiscordChannel) buildEmbed(a *alert.Alert, kind Kind) discordEmbed {
	title := fmt.Sprintf("%s: %s", embedTitle(kind), a.AlertType)

	fields := []discordEmbedField{
		{Name: "Source", Value: a.Source, Inline: true},
		{Name: "Severity", Value: string(a.Severity), Inline: true},
		{Name: "Occurrences", Value: fmt.Sprintf("%d", a.OccurrenceCount), Inline: true},
	}

	if a.Details.Producer != "" {
		fields = append(fields, discordEmbedField{
			Name:   "Producer",
			Value:  a.Details.Producer,
			Inline: true,
		})
	}

	return discordEmbed{
		Title:       title,
		Description: a.Description,
		Color:       severityColor(a.Severity),
		Timestamp:   a.CreatedAt.Format(time.RFC3339),
		Fields:      fields,
		Footer: discordEmbedFooter{
			Text: "NetSentinel Alert Engine",
		},
	}
}

func embedTitle(kind Kind) string {
	if kind == KindEscalated {
		return "Alert Escalated"
	}
	return "New Alert"
}

// severityColor returns the Discord embed color for a severity level.
func severityColor(severity alert.Severity) int {
	switch severity {
	case alert.SeverityCritical:
		return 0xFF0000 // Red
	case alert.SeverityHigh:
		return 0xFF6600 // Dark orange
	case alert.SeverityMedium:
		return 0xFFA500 // Orange
	case alert.SeverityLow:
		return 0x3498DB // Blue
	default:
		return 0x95A5A6 // Gray
	}
}

// Discord webhook structures
type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}
