// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/netsentinel/config.yaml",
	"/etc/netsentinel/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces NetSentinel environment variables:
// NETSENTINEL_CORRELATION_WINDOW -> correlation.window
const envPrefix = "NETSENTINEL_"

// defaultConfig returns a Config with all default values. These are the
// stated defaults for every tunable the engine exposes; none of them are
// load-bearing constants in code.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8321,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			Path:      "", // In-memory store by default
			MaxMemory: "512MB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Correlation: CorrelationConfig{
			Window:              60 * time.Second,
			EscalationThreshold: 5,
			MaxNewPerHour:       0,
		},
		Ingest: IngestConfig{
			QueueCapacity: 1024,
			Workers:       4,
		},
		Notify: NotifyConfig{
			Timeout:        10 * time.Second,
			MaxAttempts:    4,
			InitialBackoff: 500 * time.Millisecond,
			RatePerSecond:  2,
			Webhook:        WebhookChannelConfig{Enabled: false},
			Discord:        DiscordChannelConfig{Enabled: false},
		},
		API: APIConfig{
			DefaultPageSize: 50,
			MaxPageSize:     500,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

// Load reads configuration using koanf with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps NETSENTINEL_ environment variables to config paths:
// NETSENTINEL_SERVER_PORT -> server.port,
// NETSENTINEL_NOTIFY_WEBHOOK_URL -> notify.webhook.url.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	// Section prefixes with nested channel configs need an explicit split
	// because field names themselves contain underscores.
	for _, prefix := range []string{
		"notify_webhook_", "notify_discord_",
		"server_", "logging_", "database_", "correlation_", "ingest_", "notify_", "api_",
	} {
		if strings.HasPrefix(key, prefix) {
			section := strings.ReplaceAll(strings.TrimSuffix(prefix, "_"), "_", ".")
			return section + "." + strings.TrimPrefix(key, prefix)
		}
	}
	return strings.ReplaceAll(key, "_", ".")
}

// sliceConfigPaths lists paths parsed as comma-separated slices when they
// arrive as strings from environment variables.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}
