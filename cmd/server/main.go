// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

// Package main is the entry point for the NetSentinel server.
//
// NetSentinel watches a home network and turns raw detection events
// from its producer subsystems (traffic analysis, signature detection,
// anomaly detection, threat intelligence) into de-duplicated,
// lifecycle-tracked security alerts.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, config.yaml,
//     environment variables)
//  2. Store: DuckDB when DATABASE_PATH is set, in-memory otherwise
//  3. Alert engine: ingest queue, correlation workers, lifecycle
//  4. Notification dispatcher: webhook and Discord channels
//  5. WebSocket hub: real-time alert push to the dashboard
//  6. HTTP server: REST API plus /metrics
//
// Components 3-6 run under a suture supervision tree with three layers
// (ingest, delivery, api) so one crashing subsystem restarts without
// taking down the rest.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server stops
// accepting connections, queued events are drained, and the database is
// closed.
//
// # Example Usage
//
// Ephemeral (in-memory) instance for development:
//
//	NETSENTINEL_LOGGING_LEVEL=debug ./netsentinel
//
// Persistent production instance with Discord notifications:
//
//	export NETSENTINEL_DATABASE_PATH=/var/lib/netsentinel/alerts.db
//	export NETSENTINEL_NOTIFY_DISCORD_ENABLED=true
//	export NETSENTINEL_NOTIFY_DISCORD_WEBHOOK_URL=https://discord.com/api/webhooks/...
//	./netsentinel
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/netsentinel/internal/alert"
	"github.com/tomtom215/netsentinel/internal/api"
	"github.com/tomtom215/netsentinel/internal/config"
	"github.com/tomtom215/netsentinel/internal/logging"
	"github.com/tomtom215/netsentinel/internal/notify"
	"github.com/tomtom215/netsentinel/internal/supervisor"
	ws "github.com/tomtom215/netsentinel/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config not yet available; use the default logger
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := alert.NewEngine(store, alert.EngineConfig{
		Window:              cfg.Correlation.Window,
		EscalationThreshold: cfg.Correlation.EscalationThreshold,
		MaxNewPerHour:       cfg.Correlation.MaxNewPerHour,
		QueueCapacity:       cfg.Ingest.QueueCapacity,
		Workers:             cfg.Ingest.Workers,
	})

	dispatcher := notify.NewDispatcher(notify.Config{
		Timeout:        cfg.Notify.Timeout,
		MaxAttempts:    cfg.Notify.MaxAttempts,
		InitialBackoff: cfg.Notify.InitialBackoff,
		RatePerSecond:  cfg.Notify.RatePerSecond,
		QueueSize:      cfg.Ingest.QueueCapacity,
	},
		notify.NewWebhookChannel(notify.WebhookConfig{
			WebhookURL: cfg.Notify.Webhook.URL,
			Headers:    cfg.Notify.Webhook.Headers,
			Enabled:    cfg.Notify.Webhook.Enabled,
			Timeout:    cfg.Notify.Timeout,
		}),
		notify.NewDiscordChannel(notify.DiscordConfig{
			WebhookURL: cfg.Notify.Discord.WebhookURL,
			Enabled:    cfg.Notify.Discord.Enabled,
			Timeout:    cfg.Notify.Timeout,
		}),
	)

	hub := ws.NewHub()
	engine.SetNotifySink(dispatcher)
	engine.SetBroadcaster(hub)

	handler := api.NewHandler(engine, hub, cfg.API.DefaultPageSize, cfg.API.MaxPageSize)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:     cfg.API.CORSOrigins,
		RateLimitReqs:   cfg.API.RateLimitReqs,
		RateLimitWindow: cfg.API.RateLimitWindow,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("failed to build supervisor tree: %w", err)
	}

	tree.AddIngestService(supervisor.NewRunnerService("alert-engine", engine))
	tree.AddDeliveryService(supervisor.NewRunnerService("notify-dispatcher", dispatcher))
	tree.AddDeliveryService(supervisor.NewRunnerService("websocket-hub", hub))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.Timeout))

	logging.Info().
		Str("addr", server.Addr).
		Bool("persistent", cfg.Database.Path != "").
		Msg("netsentinel starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logging.Info().Msg("netsentinel stopped")
	return nil
}

// openStore selects the alert store: DuckDB when a database path is
// configured, in-memory otherwise.
func openStore(ctx context.Context, cfg *config.Config) (alert.Store, func(), error) {
	if cfg.Database.Path == "" {
		logging.Warn().Msg("no database path configured, alerts are not persisted")
		return alert.NewMemoryStore(), func() {}, nil
	}

	db, err := alert.OpenDuckDB(ctx, cfg.Database.Path, cfg.Database.MaxMemory, cfg.Database.Threads)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open alert database: %w", err)
	}

	store := alert.NewDuckDBStore(db)
	if err := store.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to initialize alert schema: %w", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close alert database")
		}
	}
	return store, cleanup, nil
}
