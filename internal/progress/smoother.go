// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package progress

import (
	"sync"

	"github.com/medialogd/medialogd/internal/models"
)

// smoother holds the anti-regression floors and the display value. The
// aggregator's Serve goroutine is the only writer; the mutex exists so
// status() can be read from API handlers without racing the actor.
type smoother struct {
	mu   sync.Mutex
	step float64

	// floors holds, per source, the minimum progress value displayed
	// since the current cycle began. Raw samples below the floor are
	// substituted with it.
	floors map[string]float64

	// prevRaw detects new-cycle transitions (previous raw was 100, new
	// sample below 100), which reset the floor instead of clamping.
	prevRaw map[string]float64

	display float64
	target  float64
	syncing bool
}

func newSmoother(step float64) *smoother {
	return &smoother{
		step:    step,
		floors:  make(map[string]float64),
		prevRaw: make(map[string]float64),
		display: 100, // nothing syncing yet
	}
}

// adjust applies the per-source anti-regression rule to a raw sample,
// rewriting p.ProgressPercent to the display-safe value.
func (s *smoother) adjust(p *models.SourceProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := p.Percent()
	prev, seen := s.prevRaw[p.SourceID]
	s.prevRaw[p.SourceID] = raw

	floor, hasFloor := s.floors[p.SourceID]
	switch {
	case !hasFloor:
		s.floors[p.SourceID] = raw
	case seen && prev >= 100 && raw < 100:
		// Brand-new cycle: the floor resets to the new raw value rather
		// than pinning the bar at the old cycle's position.
		s.floors[p.SourceID] = raw
	case raw < floor:
		raw = floor
	}

	p.ProgressPercent = raw
}

// retarget recomputes the display target from the full source set. When
// the triggering update was important the display jumps straight to the
// target instead of stepping.
func (s *smoother) retarget(all []*models.SourceProgress, important bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	global := models.AggregateProgress(all)
	wasSyncing := s.syncing
	s.syncing = global.IsSyncing
	s.target = global.OverallProgress

	if !s.syncing {
		// Cycle complete: snap to 100 and clear every floor.
		s.display = 100
		s.floors = make(map[string]float64)
		return
	}
	if !wasSyncing {
		// New cycle: display restarts from the raw starting point.
		s.display = s.target
		return
	}
	if important && s.target > s.display {
		s.display = s.target
	}
}

// tick advances the display toward the target by one bounded step.
// Returns true when the display moved. The display never steps backward:
// a target below the current display (newly discovered files) simply
// pauses advancement until the target catches up.
func (s *smoother) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.syncing || s.display >= s.target {
		return false
	}
	s.display += s.step
	if s.display > s.target {
		s.display = s.target
	}
	return true
}

// status derives the global view with the smoothed display value.
func (s *smoother) status(all []*models.SourceProgress) models.GlobalSyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	global := models.AggregateProgress(all)
	if global.IsSyncing {
		global.DisplayProgress = s.display
	} else {
		global.DisplayProgress = 100
	}
	return global
}

// forget drops per-source smoothing state for a removed source.
func (s *smoother) forget(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.floors, sourceID)
	delete(s.prevRaw, sourceID)
}
