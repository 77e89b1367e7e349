// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

// Package main is the entry point for the Watchdial server.
//
// Watchdial records media playback sessions reported by a media server,
// confirms them against the server's live session list, and serves usage
// reports over a REST API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: settings from environment variables and config files (Koanf v2)
//  2. Database: DuckDB playback record store
//  3. Media server client: live-session confirmation and display name lookups
//  4. Monitor: the session state machine behind the event intake
//  5. Reports engine: windowed aggregation over stored records
//  6. HTTP server: REST API under a supervisor tree
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (WATCHDIAL_ prefix)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// The media server integration is optional:
//   - WATCHDIAL_MEDIASERVER_URL: server base URL (e.g. http://localhost:8096)
//   - WATCHDIAL_MEDIASERVER_API_KEY: API key for the server
//
// Without it, sessions confirm never and display names stay unresolved;
// events are still recorded but only confirmed sessions persist.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Drains pending session trackers so confirmed durations persist
//   - Closes the database connection
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/watchdial/watchdial/internal/api"
	"github.com/watchdial/watchdial/internal/config"
	"github.com/watchdial/watchdial/internal/database"
	"github.com/watchdial/watchdial/internal/logging"
	"github.com/watchdial/watchdial/internal/mediaserver"
	"github.com/watchdial/watchdial/internal/monitor"
	"github.com/watchdial/watchdial/internal/reports"
	"github.com/watchdial/watchdial/internal/supervisor"
	"github.com/watchdial/watchdial/internal/supervisor/services"
)

// drainTimeout bounds how long shutdown waits for pending confirmations.
const drainTimeout = 5 * time.Second

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Watchdial")

	if cfg.MediaServer.URL != "" {
		logging.Info().
			Str("mediaserver_url", cfg.MediaServer.URL).
			Str("db_path", cfg.Database.Path).
			Msg("Configuration loaded")
	} else {
		logging.Info().
			Bool("mediaserver_enabled", false).
			Str("db_path", cfg.Database.Path).
			Msg("Configuration loaded (no media server, sessions will not confirm)")
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	// Media server client doubles as the live-session source for the
	// monitor and the display name resolver for the API.
	client := mediaserver.New(cfg.MediaServer)
	if client.Enabled() {
		if err := client.Ping(context.Background()); err != nil {
			logging.Warn().Err(err).Msg("Failed to reach media server (will retry on demand)")
		} else {
			logging.Info().Msg("Connected to media server successfully")
		}
	}

	mon := monitor.New(db, client, monitor.Config{
		ConfirmationDelay: cfg.Monitor.ConfirmationDelay,
		ProgressDebounce:  cfg.Monitor.ProgressDebounce,
	})

	engine := reports.NewEngine(db)

	var resolver api.Resolver
	if client.Enabled() {
		resolver = client
	}
	handler := api.NewHandler(db, engine, mon, resolver, cfg.API.CustomQueryPerMinute)
	router := api.NewRouter(handler, cfg.API)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for the supervisor's event hook
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))
	if cfg.Monitor.RetentionDays > 0 {
		tree.AddDataService(services.NewRetentionService(db, cfg.Monitor.RetentionDays, cfg.Monitor.RetentionInterval))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", httpServer.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// Flush confirmed sessions so their durations survive the restart.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	mon.Drain(drainCtx)
	drainCancel()

	logging.Info().Msg("Application stopped gracefully")
}
