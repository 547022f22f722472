// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/medialogd/medialogd/internal/config"
	"github.com/medialogd/medialogd/internal/models"
	"github.com/medialogd/medialogd/internal/progress"
	"github.com/medialogd/medialogd/internal/statestore"
)

// nullSink drops smoothed progress; session tests assert on the
// aggregator snapshots instead.
type nullSink struct{}

func (nullSink) PublishProgress(*models.SourceProgress)             {}
func (nullSink) PublishGlobalStatus(models.GlobalSyncStatus)        {}
func (nullSink) BroadcastBackfillProgress(*models.BackfillProgress) {}

// entryRecorder collects emitted entries across goroutines.
type entryRecorder struct {
	mu      sync.Mutex
	entries []*models.LogEntry
}

func (r *entryRecorder) emit(e *models.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *entryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *entryRecorder) all() []*models.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.LogEntry(nil), r.entries...)
}

type sessionEnv struct {
	dir      string
	state    *statestore.Store
	agg      *progress.Aggregator
	recorder *entryRecorder
}

func newSessionEnv(t *testing.T) *sessionEnv {
	t.Helper()

	state, err := statestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	t.Cleanup(func() { state.Close() })

	agg := progress.New(config.ProgressConfig{
		StepPercent:    100,
		TickInterval:   20 * time.Millisecond,
		CoalesceWindow: 10 * time.Millisecond,
	}, nullSink{})
	ctx, cancel := context.WithCancel(context.Background())
	go agg.Serve(ctx)
	t.Cleanup(cancel)

	return &sessionEnv{
		dir:      t.TempDir(),
		state:    state,
		agg:      agg,
		recorder: &entryRecorder{},
	}
}

func (env *sessionEnv) newSession(t *testing.T, id string) *Session {
	t.Helper()
	s, err := NewSession(
		config.SourceConfig{ID: id, Type: "arr", Path: env.dir, Enabled: true},
		config.IngestConfig{MaxParallelFiles: 2, FileErrorThreshold: 3, RetryInterval: time.Hour},
		env.state, env.agg, nullSink{}, env.recorder.emit,
	)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func (env *sessionEnv) sourceStatus(id string) models.SourceStatus {
	for _, p := range env.agg.Snapshot() {
		if p.SourceID == id {
			return p.Status
		}
	}
	return ""
}

func TestSessionBackfillAndTail(t *testing.T) {
	env := newSessionEnv(t)
	old := time.Now().Add(-time.Hour)
	writeFileAt(t, env.dir, "sonarr.1.txt",
		"2024-01-14 08:00:00.000|Info|App|Historical one\n"+
			"2024-01-14 08:00:01.000|Warn|App|Historical two\n", old)
	writeFileAt(t, env.dir, "sonarr.txt",
		"2024-01-15 10:30:45.123|Info|App|Current\n", old.Add(time.Minute))

	sess := env.newSession(t, "sonarr-main")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if !waitUntil(t, 5*time.Second, func() bool {
		return env.sourceStatus("sonarr-main") == models.StatusWatching
	}) {
		t.Fatalf("source never reached watching, status %q", env.sourceStatus("sonarr-main"))
	}

	// Backfill of the rotated file emits both entries; the active file's
	// pending entry has no following header yet.
	if !waitUntil(t, 2*time.Second, func() bool { return env.recorder.count() >= 2 }) {
		t.Fatalf("got %d entries after backfill", env.recorder.count())
	}

	// A new write to the active file completes the pending entry.
	f, err := os.OpenFile(filepath.Join(env.dir, "sonarr.txt"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("2024-01-15 10:30:46.000|Error|App|Live entry\n")
	f.Close()

	if !waitUntil(t, 5*time.Second, func() bool { return env.recorder.count() >= 3 }) {
		t.Fatalf("tail never delivered, %d entries", env.recorder.count())
	}

	var sawCurrent bool
	for _, e := range env.recorder.all() {
		if e.Message == "Current" && e.Method == models.MethodFileTail {
			sawCurrent = true
		}
	}
	if !sawCurrent {
		t.Error("active file's first entry was never flushed")
	}
}

func TestSessionProgressInvariant(t *testing.T) {
	env := newSessionEnv(t)
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"sonarr.3.txt", "sonarr.2.txt", "sonarr.1.txt", "sonarr.txt"} {
		writeFileAt(t, env.dir, name,
			"2024-01-14 08:00:00.000|Info|App|Entry\n"+
				"2024-01-14 08:00:01.000|Info|App|Next\n",
			base.Add(time.Duration(i)*time.Minute))
	}

	sess := env.newSession(t, "sonarr-main")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	reachedWatching := false
	for time.Now().Before(deadline) && !reachedWatching {
		for _, p := range env.agg.Snapshot() {
			if p.TotalFiles > 0 {
				if p.FilesCompleted > p.FilesStarted || p.FilesStarted > p.TotalFiles {
					t.Fatalf("invariant violated: completed=%d started=%d total=%d",
						p.FilesCompleted, p.FilesStarted, p.TotalFiles)
				}
			}
			if p.Status == models.StatusWatching {
				reachedWatching = true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !reachedWatching {
		t.Fatal("source never reached watching")
	}
}

func TestSessionMarksInitialSyncComplete(t *testing.T) {
	env := newSessionEnv(t)
	writeFileAt(t, env.dir, "sonarr.txt", "2024-01-15 10:00:00.000|Info|App|Only\n", time.Now())

	sess := env.newSession(t, "sonarr-main")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if !waitUntil(t, 5*time.Second, func() bool {
		return env.sourceStatus("sonarr-main") == models.StatusWatching
	}) {
		t.Fatal("source never reached watching")
	}

	synced, err := env.state.InitialSyncComplete("sonarr-main")
	if err != nil {
		t.Fatalf("InitialSyncComplete failed: %v", err)
	}
	if !synced {
		t.Error("initial sync not persisted after reaching watching")
	}
}

func TestSessionResumeSkipsConsumedContent(t *testing.T) {
	env := newSessionEnv(t)
	writeFileAt(t, env.dir, "sonarr.txt",
		"2024-01-15 10:00:00.000|Info|App|One\n"+
			"2024-01-15 10:00:01.000|Info|App|Two\n", time.Now())

	run := func() {
		sess := env.newSession(t, "sonarr-main")
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sess.Serve(ctx) }()
		if !waitUntil(t, 5*time.Second, func() bool {
			return env.sourceStatus("sonarr-main") == models.StatusWatching
		}) {
			t.Fatal("source never reached watching")
		}
		cancel()
		<-done
	}

	run()
	first := env.recorder.count()
	if first == 0 {
		t.Fatal("first run ingested nothing")
	}

	run()
	if env.recorder.count() != first {
		t.Errorf("restart re-ingested content: %d entries, want %d", env.recorder.count(), first)
	}
}

func TestSessionDiscoveryErrorState(t *testing.T) {
	env := newSessionEnv(t)
	state := env.state

	sess, err := NewSession(
		config.SourceConfig{ID: "broken", Type: "arr", Path: filepath.Join(env.dir, "missing"), Enabled: true},
		config.IngestConfig{MaxParallelFiles: 1, RetryInterval: time.Hour},
		state, env.agg, nullSink{}, env.recorder.emit,
	)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if !waitUntil(t, 5*time.Second, func() bool {
		return env.sourceStatus("broken") == models.StatusError
	}) {
		t.Fatalf("source never entered error state, status %q", env.sourceStatus("broken"))
	}
	for _, p := range env.agg.Snapshot() {
		if p.SourceID == "broken" && p.Error == "" {
			t.Error("error state carries no description")
		}
	}
}

func TestNewSessionRejectsUnknownType(t *testing.T) {
	env := newSessionEnv(t)
	_, err := NewSession(
		config.SourceConfig{ID: "x", Type: "nope", Path: env.dir},
		config.IngestConfig{MaxParallelFiles: 1},
		env.state, env.agg, nullSink{}, env.recorder.emit,
	)
	if err == nil {
		t.Error("expected error for unknown source type")
	}
}

func TestNewManagerSkipsDisabled(t *testing.T) {
	env := newSessionEnv(t)
	cfg := &config.Config{
		Ingest: config.IngestConfig{MaxParallelFiles: 1},
		Sources: []config.SourceConfig{
			{ID: "on", Type: "arr", Path: env.dir, Enabled: true},
			{ID: "off", Type: "arr", Path: env.dir, Enabled: false},
		},
	}
	m, err := NewManager(cfg, env.state, env.agg, nullSink{}, env.recorder.emit)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if len(m.Sessions()) != 1 {
		t.Errorf("got %d sessions, want 1", len(m.Sessions()))
	}
	if m.Sessions()[0].String() != "ingest:on" {
		t.Errorf("session name = %q", m.Sessions()[0].String())
	}
}

func TestSourceRotationOverrides(t *testing.T) {
	env := newSessionEnv(t)

	// A pattern override replaces the grammar's rotated-name recognition.
	yes := true
	s, err := NewSession(
		config.SourceConfig{
			ID: "custom", Type: "arr", Path: env.dir, Enabled: true,
			RotatesDaily:       &yes,
			RotatedNamePattern: `\.old$`,
		},
		config.IngestConfig{MaxParallelFiles: 1},
		env.state, env.agg, nullSink{}, env.recorder.emit,
	)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if !s.rotatesDaily {
		t.Error("daily rotation override not applied")
	}
	if !s.matchesRotatedName("sonarr.old") {
		t.Error("override pattern does not match sonarr.old")
	}
	if s.matchesRotatedName("sonarr.1.txt") {
		t.Error("grammar pattern still active despite override")
	}

	_, err = NewSession(
		config.SourceConfig{ID: "bad", Type: "arr", Path: env.dir, RotatedNamePattern: `\.([0-9]+`},
		config.IngestConfig{MaxParallelFiles: 1},
		env.state, env.agg, nullSink{}, env.recorder.emit,
	)
	if err == nil {
		t.Error("expected error for malformed rotated name pattern")
	}
}

func TestActiveFileRecreateKeepsCountsConsistent(t *testing.T) {
	env := newSessionEnv(t)
	s := env.newSession(t, "recreate")
	path := filepath.Join(env.dir, "sonarr.txt")
	writeFileAt(t, env.dir, "sonarr.txt", "2024-01-15 10:00:00.000|Info|App|One\n", time.Now())

	ctx := context.Background()
	s.update(func(p *models.SourceProgress) {
		p.Status = models.StatusWatching
		p.TotalFiles = 1
	})
	fr, err := s.openActive(ctx, path)
	if err != nil || fr == nil {
		t.Fatalf("openActive failed: %v", err)
	}

	// The daemon recreating its own log file arrives as a Create event
	// for the path already being tailed.
	nf, err := s.handleWatchEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create}, fr)
	if err != nil {
		t.Fatalf("handleWatchEvent failed: %v", err)
	}
	if nf == nil {
		t.Fatal("recreated active file was not reopened")
	}
	defer nf.Close()

	s.mu.Lock()
	p := s.prog.Clone()
	s.mu.Unlock()

	if p.FilesStarted > p.TotalFiles || p.FilesCompleted > p.FilesStarted {
		t.Errorf("counts inconsistent: completed=%d started=%d total=%d",
			p.FilesCompleted, p.FilesStarted, p.TotalFiles)
	}
	if p.FilesCompleted != 1 {
		t.Errorf("old incarnation not counted completed: %d", p.FilesCompleted)
	}
	if len(p.CurrentFiles) != 1 || p.CurrentFiles[0] != "sonarr.txt" {
		t.Errorf("current files = %v, want exactly one sonarr.txt", p.CurrentFiles)
	}
}

func TestSplitActivePrefersNonRotatedName(t *testing.T) {
	env := newSessionEnv(t)
	s := env.newSession(t, "split")

	// The rotated file is newest by modtime, the plain name still wins.
	files := []discoveredFile{
		{Path: filepath.Join(env.dir, "sonarr.txt"), ModTime: time.Now().Add(-time.Hour)},
		{Path: filepath.Join(env.dir, "sonarr.1.txt"), ModTime: time.Now()},
	}
	active, backlog := s.splitActive(files)
	if filepath.Base(active.Path) != "sonarr.txt" {
		t.Errorf("active = %q, want sonarr.txt", filepath.Base(active.Path))
	}
	if len(backlog) != 1 || filepath.Base(backlog[0].Path) != "sonarr.1.txt" {
		t.Errorf("backlog = %+v", backlog)
	}

	// All rotated names: newest overall becomes active.
	files = []discoveredFile{
		{Path: filepath.Join(env.dir, "sonarr.2.txt"), ModTime: time.Now().Add(-time.Hour)},
		{Path: filepath.Join(env.dir, "sonarr.1.txt"), ModTime: time.Now()},
	}
	active, backlog = s.splitActive(files)
	if filepath.Base(active.Path) != "sonarr.1.txt" {
		t.Errorf("active = %q, want sonarr.1.txt", filepath.Base(active.Path))
	}
	if len(backlog) != 1 {
		t.Errorf("backlog = %+v", backlog)
	}
}
