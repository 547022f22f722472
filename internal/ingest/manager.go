// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package ingest reads configured log sources: it discovers candidate
// files per source, backfills historical content through the parsing
// pipeline, and tails active files for new writes. Each source runs as an
// independent session with its own state machine and progress reporting.
package ingest

import (
	"fmt"

	"github.com/medialogd/medialogd/internal/config"
	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/models"
	"github.com/medialogd/medialogd/internal/progress"
	"github.com/medialogd/medialogd/internal/statestore"
)

// Manager constructs the sessions for all enabled file-backed sources.
type Manager struct {
	sessions []*Session
}

// NewManager builds one session per enabled source. Disabled sources are
// skipped; a misconfigured source fails startup rather than silently
// ingesting nothing.
func NewManager(cfg *config.Config, state *statestore.Store, agg *progress.Aggregator, sink BackfillSink, emit func(*models.LogEntry)) (*Manager, error) {
	m := &Manager{}
	for _, src := range cfg.Sources {
		if !src.Enabled {
			logging.Debug().Str("source_id", src.ID).Msg("source disabled, skipping")
			continue
		}
		session, err := NewSession(src, cfg.Ingest, state, agg, sink, emit)
		if err != nil {
			return nil, fmt.Errorf("configure source %q: %w", src.ID, err)
		}
		m.sessions = append(m.sessions, session)
	}
	return m, nil
}

// Sessions returns the configured sessions, one per enabled source. Each
// implements suture.Service and is added to the supervision tree
// individually so one source's failure never restarts another.
func (m *Manager) Sessions() []*Session {
	return m.sessions
}
