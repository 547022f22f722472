// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package progress

import (
	"math/rand"
	"testing"

	"github.com/medialogd/medialogd/internal/models"
)

func sample(id string, completed, total int, status models.SourceStatus) *models.SourceProgress {
	return &models.SourceProgress{
		SourceID:       id,
		Status:         status,
		TotalFiles:     total,
		FilesStarted:   completed,
		FilesCompleted: completed,
	}
}

// feed pushes one sample through adjust+retarget the way the aggregator
// does.
func feed(s *smoother, p *models.SourceProgress, important bool) models.GlobalSyncStatus {
	s.adjust(p)
	all := []*models.SourceProgress{p}
	s.retarget(all, important)
	return s.status(all)
}

func TestAntiRegressionFloor(t *testing.T) {
	s := newSmoother(3)

	p := sample("a", 5, 10, models.StatusProcessing)
	s.adjust(p)
	if p.ProgressPercent != 50 {
		t.Fatalf("first sample percent = %v, want 50", p.ProgressPercent)
	}

	// A later raw sample below the floor is substituted with the floor.
	dip := sample("a", 5, 20, models.StatusProcessing) // raw 25
	s.adjust(dip)
	if dip.ProgressPercent != 50 {
		t.Errorf("dipped sample percent = %v, want floor 50", dip.ProgressPercent)
	}

	// Samples above the floor pass through.
	up := sample("a", 15, 20, models.StatusProcessing) // raw 75
	s.adjust(up)
	if up.ProgressPercent != 75 {
		t.Errorf("rising sample percent = %v, want 75", up.ProgressPercent)
	}
}

func TestFloorResetsOnNewCycle(t *testing.T) {
	s := newSmoother(3)

	s.adjust(sample("a", 8, 10, models.StatusProcessing))  // floor 80
	s.adjust(sample("a", 10, 10, models.StatusWatching))   // raw 100
	fresh := sample("a", 1, 10, models.StatusProcessing)   // new cycle, raw 10
	s.adjust(fresh)
	if fresh.ProgressPercent != 10 {
		t.Errorf("new-cycle sample percent = %v, want raw 10 (floor reset)", fresh.ProgressPercent)
	}
}

func TestDisplayMonotonicWithinCycle(t *testing.T) {
	// Property: for any sequence of raw samples within one cycle,
	// including dips below previously shown values, the display never
	// decreases.
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		s := newSmoother(5)
		total := 10 + rng.Intn(40)
		completed := 0

		last := -1.0
		for step := 0; step < 60; step++ {
			switch rng.Intn(4) {
			case 0:
				total += rng.Intn(10) // discovery grows the denominator
			default:
				if completed < total {
					completed++
				}
			}
			st := feed(s, sample("a", completed, total, models.StatusProcessing), false)
			for i := 0; i < rng.Intn(3); i++ {
				s.tick()
			}
			st = s.status([]*models.SourceProgress{sample("a", completed, total, models.StatusProcessing)})

			if last >= 0 && st.DisplayProgress < last {
				t.Fatalf("trial %d step %d: display regressed %v -> %v", trial, step, last, st.DisplayProgress)
			}
			last = st.DisplayProgress
		}
	}
}

func TestDisplaySnapsOn100WhenIdle(t *testing.T) {
	s := newSmoother(3)

	feed(s, sample("a", 2, 10, models.StatusProcessing), false)
	st := feed(s, sample("a", 10, 10, models.StatusWatching), true)
	if st.IsSyncing {
		t.Error("watching-only source should not count as syncing")
	}
	if st.DisplayProgress != 100 {
		t.Errorf("display = %v, want 100 when nothing syncing", st.DisplayProgress)
	}
}

func TestTickSteppingBounded(t *testing.T) {
	s := newSmoother(3)

	feed(s, sample("a", 0, 10, models.StatusProcessing), true) // display 0, target 0
	feed(s, sample("a", 9, 10, models.StatusProcessing), false)

	all := []*models.SourceProgress{sample("a", 9, 10, models.StatusProcessing)}
	before := s.status(all).DisplayProgress
	s.tick()
	after := s.status(all).DisplayProgress

	if after-before > 3+1e-9 {
		t.Errorf("one tick advanced %v, want at most step 3", after-before)
	}
	if after <= before {
		t.Errorf("tick did not advance display (%v -> %v)", before, after)
	}
}

func TestImportantUpdateJumps(t *testing.T) {
	s := newSmoother(1)

	feed(s, sample("a", 0, 10, models.StatusProcessing), true)
	st := feed(s, sample("a", 10, 10, models.StatusProcessing), true) // raw 100, important

	// Second syncing source keeps the cycle alive so display does not
	// simply snap via the idle rule.
	two := []*models.SourceProgress{
		sample("a", 10, 10, models.StatusProcessing),
		sample("b", 0, 10, models.StatusProcessing),
	}
	s.retarget(two, true)
	st = s.status(two)
	if st.DisplayProgress < 50 {
		t.Errorf("important update should bypass rate limit, display = %v", st.DisplayProgress)
	}
}
