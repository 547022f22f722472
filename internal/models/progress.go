// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package models

import "time"

// SourceStatus is the ingestion state machine position for one source.
type SourceStatus string

const (
	// StatusDiscovering means candidate files are being enumerated.
	StatusDiscovering SourceStatus = "discovering"

	// StatusProcessing means backfill of discovered files is underway.
	StatusProcessing SourceStatus = "processing"

	// StatusWatching means the initial read has finished for all known
	// files and only new writes are being tailed.
	StatusWatching SourceStatus = "watching"

	// StatusError means the source as a whole failed (discovery failure,
	// repeated file errors, or live-API connection loss). Recoverable:
	// the source re-enters discovering on the next retry.
	StatusError SourceStatus = "error"
)

// MaxCurrentFiles bounds the in-flight file name list carried on a
// progress snapshot.
const MaxCurrentFiles = 5

// SourceProgress is the per-source ingestion progress snapshot.
//
// Invariant once TotalFiles is known: FilesCompleted <= FilesStarted <=
// TotalFiles. TotalFiles may grow while discovering but never shrinks
// while the source is active.
type SourceProgress struct {
	SourceID string       `json:"source_id"`
	Status   SourceStatus `json:"status"`

	TotalFiles     int `json:"total_files"`
	FilesStarted   int `json:"files_started"`
	FilesCompleted int `json:"files_completed"`
	SkippedFiles   int `json:"skipped_files"`
	ActiveFiles    int `json:"active_files"`
	QueuedFiles    int `json:"queued_files"`

	// CurrentFiles lists up to MaxCurrentFiles in-flight file names.
	CurrentFiles []string `json:"current_files,omitempty"`

	Error string `json:"error,omitempty"`

	// IsInitialSync is true until this source has reached watching at
	// least once. Persisted across restarts.
	IsInitialSync bool `json:"is_initial_sync"`

	// ProgressPercent is derived from FilesCompleted/TotalFiles. Starting
	// a file never moves it; only completion does.
	ProgressPercent float64 `json:"progress_percent"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Percent computes the completed-files percentage, 0 when no files are
// known yet.
func (p *SourceProgress) Percent() float64 {
	if p.TotalFiles <= 0 {
		return 0
	}
	return float64(p.FilesCompleted) / float64(p.TotalFiles) * 100
}

// Syncing reports whether the source is still working through its backlog.
func (p *SourceProgress) Syncing() bool {
	return p.Status == StatusDiscovering || p.Status == StatusProcessing
}

// Clone returns a deep copy so snapshots can cross goroutine boundaries
// without sharing the CurrentFiles slice.
func (p *SourceProgress) Clone() *SourceProgress {
	cp := *p
	if p.CurrentFiles != nil {
		cp.CurrentFiles = append([]string(nil), p.CurrentFiles...)
	}
	return &cp
}

// GlobalSyncStatus aggregates all active sources. Derived, never stored.
type GlobalSyncStatus struct {
	IsSyncing    bool `json:"is_syncing"`
	SyncingCount int  `json:"syncing_count"`

	// OverallProgress is the raw completed-files-weighted average across
	// syncing sources.
	OverallProgress float64 `json:"overall_progress"`

	// DisplayProgress is owned by the smoothing protocol: monotonically
	// non-decreasing within one sync cycle, 100 when nothing is syncing.
	DisplayProgress float64 `json:"display_progress"`
}

// AggregateProgress derives the raw global status from a set of source
// snapshots. DisplayProgress is left at zero; the smoothing layer owns it.
func AggregateProgress(sources []*SourceProgress) GlobalSyncStatus {
	var status GlobalSyncStatus
	var completed, total int
	for _, s := range sources {
		if !s.Syncing() {
			continue
		}
		status.SyncingCount++
		completed += s.FilesCompleted
		total += s.TotalFiles
	}
	status.IsSyncing = status.SyncingCount > 0
	if total > 0 {
		status.OverallProgress = float64(completed) / float64(total) * 100
	}
	return status
}

// BackfillStatus is the coarse lifecycle of one bulk backfill run.
type BackfillStatus string

const (
	BackfillStarted   BackfillStatus = "started"
	BackfillRunning   BackfillStatus = "progress"
	BackfillCompleted BackfillStatus = "completed"
	BackfillError     BackfillStatus = "error"
)

// BackfillProgress is the file-count/line-count oriented companion event
// for bulk backfill reporting, distinct from per-source SourceProgress.
type BackfillProgress struct {
	Status          BackfillStatus `json:"status"`
	SourceID        string         `json:"source_id"`
	TotalFiles      int            `json:"total_files"`
	ProcessedFiles  int            `json:"processed_files"`
	TotalLines      int64          `json:"total_lines"`
	ProcessedLines  int64          `json:"processed_lines"`
	EntriesIngested int64          `json:"entries_ingested"`
	CurrentFile     string         `json:"current_file,omitempty"`
	Error           string         `json:"error,omitempty"`
	CorrelationID   string         `json:"correlation_id"`
}
