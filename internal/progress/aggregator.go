// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package progress merges per-source ingestion progress into one global
// sync status and smooths the raw, occasionally-regressive samples into a
// display-safe signal.
//
// Raw progress can legitimately move backward: new files are discovered
// mid-cycle, or a restart resets counters. A human watching a progress bar
// reads that as regression. The smoothing protocol therefore separates
// truth (OverallProgress, recomputed on every update) from display
// (DisplayProgress, advanced toward the truth at a bounded rate and never
// decreased within one sync cycle).
//
// All smoothing state is owned by a single goroutine; source workers reach
// it only through a channel. The latest-snapshot cache is the one piece
// read from outside, guarded separately so snapshot readers never touch
// the floor/display logic.
package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medialogd/medialogd/internal/config"
	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/models"
)

// Sink receives smoothed progress output. Implemented by the distribution
// gateway.
type Sink interface {
	PublishProgress(p *models.SourceProgress)
	PublishGlobalStatus(s models.GlobalSyncStatus)
}

// Aggregator is the single coordination point for all progress state.
type Aggregator struct {
	cfg  config.ProgressConfig
	sink Sink

	updates chan *models.SourceProgress

	// latest caches the last published snapshot per source for
	// late-subscriber replay. Guarded by mu; written only by the actor.
	mu     sync.RWMutex
	latest map[string]*models.SourceProgress

	// Actor-owned smoothing state, never touched outside Serve.
	sm *smoother

	// pending coalesces non-important updates per source.
	pending map[string]*models.SourceProgress
}

// New creates an aggregator publishing into sink.
func New(cfg config.ProgressConfig, sink Sink) *Aggregator {
	if cfg.StepPercent <= 0 {
		cfg.StepPercent = 3
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 200 * time.Millisecond
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = 150 * time.Millisecond
	}
	return &Aggregator{
		cfg:     cfg,
		sink:    sink,
		updates: make(chan *models.SourceProgress, 256),
		latest:  make(map[string]*models.SourceProgress),
		sm:      newSmoother(cfg.StepPercent),
		pending: make(map[string]*models.SourceProgress),
	}
}

// Update submits a raw progress sample. Non-blocking: under extreme update
// rates older samples are superseded anyway, so dropping is harmless.
func (a *Aggregator) Update(p *models.SourceProgress) {
	select {
	case a.updates <- p.Clone():
	default:
		logging.Debug().Str("source_id", p.SourceID).Msg("progress channel full, dropping sample")
	}
}

// Snapshot returns the last known progress for every tracked source,
// sorted by source id. Used to answer requestCurrentProgress for
// consumers that connect mid-cycle.
func (a *Aggregator) Snapshot() []*models.SourceProgress {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*models.SourceProgress, 0, len(a.latest))
	for _, p := range a.latest {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// GlobalStatus returns the current global view including the smoothed
// display value.
func (a *Aggregator) GlobalStatus() models.GlobalSyncStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sm.status(a.latestLocked())
}

func (a *Aggregator) latestLocked() []*models.SourceProgress {
	all := make([]*models.SourceProgress, 0, len(a.latest))
	for _, p := range a.latest {
		all = append(all, p)
	}
	return all
}

// Remove forgets a source (config removed), so snapshots and the global
// status stop counting it.
func (a *Aggregator) Remove(sourceID string) {
	a.mu.Lock()
	delete(a.latest, sourceID)
	a.mu.Unlock()
	a.sm.forget(sourceID)
}

// Serve runs the coordination loop. Implements suture.Service.
func (a *Aggregator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	var flush *time.Timer
	var flushC <-chan time.Time

	armFlush := func() {
		if flushC == nil {
			flush = time.NewTimer(a.cfg.CoalesceWindow)
			flushC = flush.C
		}
	}
	disarmFlush := func() {
		if flush != nil {
			flush.Stop()
			flush = nil
			flushC = nil
		}
	}
	defer disarmFlush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p := <-a.updates:
			if isImportant(p) {
				// Important transitions bypass both the rate limit and
				// any pending batched update for the source.
				delete(a.pending, p.SourceID)
				a.apply(p, true)
				continue
			}
			a.pending[p.SourceID] = p
			armFlush()

		case <-flushC:
			disarmFlush()
			for id, p := range a.pending {
				delete(a.pending, id)
				a.apply(p, false)
			}

		case <-ticker.C:
			if changed := a.sm.tick(); changed {
				a.publishGlobal()
			}
		}
	}
}

// isImportant reports whether an update must be applied immediately:
// status transitions to watching or error, or raw progress hitting
// exactly 0 or 100.
func isImportant(p *models.SourceProgress) bool {
	if p.Status == models.StatusWatching || p.Status == models.StatusError {
		return true
	}
	raw := p.Percent()
	return raw == 0 || raw == 100
}

// apply incorporates one raw sample: anti-regression substitution, cache
// update, target recomputation, and publication.
func (a *Aggregator) apply(p *models.SourceProgress, important bool) {
	a.sm.adjust(p)

	a.mu.Lock()
	a.latest[p.SourceID] = p
	all := a.latestLocked()
	a.mu.Unlock()

	a.sm.retarget(all, important)
	a.sink.PublishProgress(p.Clone())
	a.publishGlobal()
}

func (a *Aggregator) publishGlobal() {
	a.mu.RLock()
	all := a.latestLocked()
	a.mu.RUnlock()
	a.sink.PublishGlobalStatus(a.sm.status(all))
}
