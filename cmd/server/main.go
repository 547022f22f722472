// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package main is the entry point for the medialogd server.
//
// medialogd ingests the log files and activity APIs of media servers
// (Sonarr/Radarr-style services, Jellyfin, Emby, Plex), normalizes every
// line into a canonical entry, and distributes entries in real time to
// WebSocket consumers while persisting them to DuckDB for querying.
//
// # Architecture
//
// Startup wires the components in dependency order:
//
//  1. Configuration: Koanf v2 layering of defaults, YAML file, and
//     MEDIALOGD_* environment variables
//  2. State store: BadgerDB for per-source sync flags and file offsets
//  3. Entry store: DuckDB for the durable, queryable entry log
//  4. WebSocket hub and progress aggregator: real-time distribution
//  5. Entry pipeline: batches entries into the store, then broadcasts
//  6. Ingestion: one session per file source, one poller per live API
//  7. HTTP server: REST API, /ws upgrade, /health, /metrics
//
// Everything runs under a suture supervisor tree; a crashed component is
// restarted in isolation.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains,
// sessions checkpoint their offsets, and the pipeline flushes its last
// batch before the stores close.
//
// # Example Usage
//
//	export MEDIALOGD_DATABASE_PATH=/data/medialogd.duckdb
//	export MEDIALOGD_STATE_PATH=/data/state
//	./medialogd
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

	"github.com/medialogd/medialogd/internal/api"
	"github.com/medialogd/medialogd/internal/config"
	"github.com/medialogd/medialogd/internal/ingest"
	"github.com/medialogd/medialogd/internal/livesource"
	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/pipeline"
	"github.com/medialogd/medialogd/internal/progress"
	"github.com/medialogd/medialogd/internal/statestore"
	"github.com/medialogd/medialogd/internal/store"
	"github.com/medialogd/medialogd/internal/supervisor"
	ws "github.com/medialogd/medialogd/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("sources", len(cfg.Sources)).
		Int("live_sources", len(cfg.LiveSources)).
		Str("db_path", cfg.Database.Path).
		Msg("Starting medialogd")

	state, err := statestore.Open(cfg.State.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open state store")
	}
	defer func() {
		if err := state.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing state store")
		}
	}()

	db, err := store.Open(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open entry store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing entry store")
		}
	}()

	// The hub doubles as the progress sink and the backfill event sink;
	// everything the aggregator and sessions publish goes out on the
	// same WebSocket fan-out.
	hub := ws.NewHub()
	agg := progress.New(cfg.Progress, hub)
	hub.SetSnapshotter(agg)

	appender := pipeline.NewAppender(db, hub)

	manager, err := ingest.NewManager(cfg, state, agg, hub, appender.Emit)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build ingestion sessions")
	}

	handler := api.NewHandler(&cfg.Server, db, agg, hub)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())

	tree.AddDistributionService(supervisor.NewFuncService("websocket-hub", hub.RunWithContext))
	tree.AddDistributionService(supervisor.NewFuncService("progress-aggregator", agg.Serve))
	tree.AddDistributionService(appender)

	for _, session := range manager.Sessions() {
		tree.AddIngestService(session)
		logging.Info().Str("service", session.String()).Msg("File source added")
	}
	for _, lc := range cfg.LiveSources {
		if !lc.Enabled {
			continue
		}
		poller := livesource.NewPoller(lc, agg, appender.Emit)
		tree.AddIngestService(poller)
		logging.Info().Str("service", poller.String()).Msg("Live source added")
	}

	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.Timeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutting down, waiting for supervisor to finish")
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

	logging.Info().Msg("Stopped")
}
