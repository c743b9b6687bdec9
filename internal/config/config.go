// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

// Package config provides layered configuration for NetSentinel.
//
// Configuration is loaded from three sources with clear precedence:
// environment variables override the optional YAML config file, which
// overrides built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Database    DatabaseConfig    `koanf:"database"`
	Correlation CorrelationConfig `koanf:"correlation"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Notify      NotifyConfig      `koanf:"notify"`
	API         APIConfig         `koanf:"api"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig configures alert persistence.
// An empty Path selects the in-memory store (state lost on restart).
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// CorrelationConfig configures the correlator and severity classifier.
type CorrelationConfig struct {
	// Window is the maximum inactivity gap before an open alert stops
	// matching new events for its correlation key.
	Window time.Duration `koanf:"window"`

	// EscalationThreshold is the occurrence count at which an alert's
	// severity is raised by one level.
	EscalationThreshold int `koanf:"escalation_threshold"`

	// MaxNewPerHour caps alert creation (not correlation updates).
	// 0 disables the cap.
	MaxNewPerHour int `koanf:"max_new_per_hour"`
}

// IngestConfig configures the ingestion queue and worker pool.
type IngestConfig struct {
	QueueCapacity int `koanf:"queue_capacity"`
	Workers       int `koanf:"workers"`
}

// NotifyConfig configures asynchronous alert notification dispatch.
type NotifyConfig struct {
	Timeout        time.Duration `koanf:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	RatePerSecond  float64       `koanf:"rate_per_second"`

	Webhook WebhookChannelConfig `koanf:"webhook"`
	Discord DiscordChannelConfig `koanf:"discord"`
}

// WebhookChannelConfig configures the generic webhook channel.
type WebhookChannelConfig struct {
	Enabled bool              `koanf:"enabled"`
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
}

// DiscordChannelConfig configures the Discord webhook channel.
type DiscordChannelConfig struct {
	Enabled    bool   `koanf:"enabled"`
	WebhookURL string `koanf:"webhook_url"`
}

// APIConfig configures the HTTP API surface.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// Validate checks semantic constraints that struct tags cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Correlation.Window <= 0 {
		return fmt.Errorf("correlation.window must be positive, got %s", c.Correlation.Window)
	}
	if c.Correlation.EscalationThreshold < 2 {
		return fmt.Errorf("correlation.escalation_threshold must be at least 2, got %d", c.Correlation.EscalationThreshold)
	}
	if c.Ingest.QueueCapacity < 1 {
		return fmt.Errorf("ingest.queue_capacity must be positive, got %d", c.Ingest.QueueCapacity)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Notify.MaxAttempts < 1 {
		return fmt.Errorf("notify.max_attempts must be positive, got %d", c.Notify.MaxAttempts)
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url is required when the webhook channel is enabled")
	}
	if c.Notify.Discord.Enabled && c.Notify.Discord.WebhookURL == "" {
		return fmt.Errorf("notify.discord.webhook_url is required when the discord channel is enabled")
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api.max_page_size (%d) must be >= api.default_page_size (%d)",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	return nil
}
