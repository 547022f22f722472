// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/medialogd/medialogd/internal/config"
	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/metrics"
	"github.com/medialogd/medialogd/internal/models"
	"github.com/medialogd/medialogd/internal/parse"
	"github.com/medialogd/medialogd/internal/progress"
	"github.com/medialogd/medialogd/internal/statestore"
)

// offsetSaveInterval is how often tail offsets are checkpointed while
// watching, independent of write activity.
const offsetSaveInterval = 5 * time.Second

// defaultRetryInterval is used when no retry interval is configured.
const defaultRetryInterval = 30 * time.Second

// BackfillSink receives coarse backfill lifecycle events. Implemented by
// the distribution gateway.
type BackfillSink interface {
	BroadcastBackfillProgress(p *models.BackfillProgress)
}

// Session owns one file-backed source's lifecycle: it discovers candidate
// files, backfills their existing contents through a bounded worker pool,
// then tails the most recent file for new writes. The state machine runs
// discovering, processing, watching, with error reachable from anywhere
// and recoverable by re-entering discovery after a delay.
type Session struct {
	src     config.SourceConfig
	ing     config.IngestConfig
	grammar *parse.Grammar
	state   *statestore.Store
	agg     *progress.Aggregator
	sink    BackfillSink
	emit    func(*models.LogEntry)

	dir      string
	globs    []string
	encoding string

	// Rotation recognition, grammar defaults overridable per source.
	rotatesDaily bool
	rotatedName  *regexp.Regexp

	mu   sync.Mutex
	prog models.SourceProgress

	// Per-cycle counters, reset when a cycle restarts.
	processedLines atomic.Int64
	entryCount     atomic.Int64
	fileErrors     atomic.Int32
	correlationID  string
}

// NewSession builds a session for one configured source.
func NewSession(src config.SourceConfig, ing config.IngestConfig, state *statestore.Store, agg *progress.Aggregator, sink BackfillSink, emit func(*models.LogEntry)) (*Session, error) {
	grammar, ok := parse.Lookup(src.Type)
	if !ok {
		return nil, fmt.Errorf("source %q: unknown type %q", src.ID, src.Type)
	}

	dir := src.Path
	if dir == "" {
		target := ResolveTarget(ing.DeploymentTarget)
		dir = grammar.DefaultPaths[target]
		if dir == "" {
			return nil, fmt.Errorf("source %q: no default path for target %q, set an explicit path", src.ID, target)
		}
	}
	dir = expandHome(dir)

	globs := src.Globs
	if len(globs) == 0 {
		globs = grammar.Globs
	}

	enc := src.Encoding
	if enc == "" {
		enc = grammar.Encoding
	}
	if !ValidEncoding(enc) {
		return nil, fmt.Errorf("source %q: unsupported encoding %q", src.ID, enc)
	}

	rotatesDaily := grammar.RotatesDaily
	if src.RotatesDaily != nil {
		rotatesDaily = *src.RotatesDaily
	}
	rotatedName := grammar.RotatedName
	if src.RotatedNamePattern != "" {
		var err error
		rotatedName, err = regexp.Compile(src.RotatedNamePattern)
		if err != nil {
			return nil, fmt.Errorf("source %q: rotated_name_pattern: %w", src.ID, err)
		}
	}

	s := &Session{
		src:      src,
		ing:      ing,
		grammar:  grammar,
		state:    state,
		agg:      agg,
		sink:     sink,
		emit:     emit,
		dir:      dir,
		globs:    globs,
		encoding: enc,

		rotatesDaily: rotatesDaily,
		rotatedName:  rotatedName,
	}
	s.prog.SourceID = src.ID
	return s, nil
}

// String names the session for supervisor logs.
func (s *Session) String() string {
	return "ingest:" + s.src.ID
}

// Serve runs the source lifecycle until the context is canceled.
// Implements suture.Service.
func (s *Session) Serve(ctx context.Context) error {
	for {
		err := s.runCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.enterError(err)

		retry := s.ing.RetryInterval
		if retry <= 0 {
			retry = defaultRetryInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// runCycle executes one discovering/processing/watching pass. It returns
// only on cancellation or a source-level error.
func (s *Session) runCycle(ctx context.Context) error {
	s.processedLines.Store(0)
	s.entryCount.Store(0)
	s.fileErrors.Store(0)
	s.correlationID = uuid.NewString()

	s.update(func(p *models.SourceProgress) {
		p.Status = models.StatusDiscovering
		p.Error = ""
		p.TotalFiles = 0
		p.FilesStarted = 0
		p.FilesCompleted = 0
		p.SkippedFiles = 0
		p.ActiveFiles = 0
		p.QueuedFiles = 0
		p.CurrentFiles = nil
	})

	// One glob pass over a single directory; sources keep at most tens
	// of rotated files, so enumerating everything before picking the
	// active file does not delay the processing transition measurably.
	files, err := discoverFiles(s.dir, s.globs)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	initialDone, err := s.state.InitialSyncComplete(s.src.ID)
	if err != nil {
		logging.Warn().Err(err).Str("source_id", s.src.ID).Msg("could not read initial sync flag")
	}

	active, backlog := s.splitActive(files)

	s.update(func(p *models.SourceProgress) {
		p.Status = models.StatusProcessing
		p.TotalFiles = len(files)
		p.QueuedFiles = len(backlog)
		p.IsInitialSync = !initialDone
	})
	s.sendBackfill(models.BackfillStarted, "", "")

	logging.Info().
		Str("source_id", s.src.ID).
		Str("dir", s.dir).
		Int("files", len(files)).
		Msg("source discovery complete, starting backfill")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.ing.MaxParallelFiles)
	for _, f := range backlog {
		f := f
		g.Go(func() error { return s.backfillOne(gctx, f) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.watch(ctx, active, !initialDone)
}

// matchesRotatedName reports whether name looks like a rotated log file of
// this source, using the per-source pattern override when configured.
func (s *Session) matchesRotatedName(name string) bool {
	return s.rotatedName != nil && s.rotatedName.MatchString(name)
}

// splitActive separates the live tail target from the historical backlog.
// The newest file whose name does not look rotated is the active one; when
// every name matches the rotated-name pattern the newest file overall is
// used.
func (s *Session) splitActive(files []discoveredFile) (discoveredFile, []discoveredFile) {
	if len(files) == 0 {
		return discoveredFile{}, nil
	}
	idx := len(files) - 1
	for i := len(files) - 1; i >= 0; i-- {
		if !s.matchesRotatedName(filepath.Base(files[i].Path)) {
			idx = i
			break
		}
	}
	backlog := make([]discoveredFile, 0, len(files)-1)
	backlog = append(backlog, files[:idx]...)
	backlog = append(backlog, files[idx+1:]...)
	return files[idx], backlog
}

// backfillOne reads one historical file to EOF. File-level errors skip the
// file; only exceeding the error threshold fails the source.
func (s *Session) backfillOne(ctx context.Context, f discoveredFile) error {
	s.update(func(p *models.SourceProgress) {
		p.QueuedFiles--
		p.ActiveFiles++
		p.FilesStarted++
		addCurrentFile(p, filepath.Base(f.Path))
	})
	defer s.update(func(p *models.SourceProgress) {
		p.ActiveFiles--
		removeCurrentFile(p, filepath.Base(f.Path))
	})

	resume, err := s.state.LoadOffset(s.src.ID, f.Path)
	if err != nil {
		logging.Warn().Err(err).Str("file", f.Path).Msg("could not load saved offset, reading from start")
	}

	grouper := parse.NewGrouper(s.grammar, s.src.ID, f.Path, models.MethodFileTail, s.emitEntry)
	fr, err := openFileReader(f.Path, s.encoding, resume, grouper)
	if err != nil {
		return s.skipFile(f.Path, err)
	}
	defer fr.Close()

	for {
		if ctx.Err() != nil {
			fr.Abandon()
			return ctx.Err()
		}
		n, err := fr.ReadChunk()
		if err != nil {
			fr.Abandon()
			return s.skipFile(f.Path, err)
		}
		if n == 0 {
			break
		}
	}
	fr.Finalize()
	s.saveOffset(f.Path, fr)

	metrics.FilesCompleted.WithLabelValues(s.src.ID).Inc()
	s.processedLines.Add(fr.Lines())
	s.update(func(p *models.SourceProgress) { p.FilesCompleted++ })
	s.sendBackfill(models.BackfillRunning, filepath.Base(f.Path), "")
	return nil
}

// skipFile records a transient file error. Returns a source-level error
// only once the threshold is exceeded.
func (s *Session) skipFile(path string, cause error) error {
	logging.Warn().Err(cause).Str("source_id", s.src.ID).Str("file", path).Msg("skipping unreadable file")
	metrics.FilesSkipped.WithLabelValues(s.src.ID).Inc()
	s.update(func(p *models.SourceProgress) { p.SkippedFiles++ })

	threshold := s.ing.FileErrorThreshold
	if threshold <= 0 {
		threshold = 5
	}
	if n := int(s.fileErrors.Add(1)); n >= threshold {
		return fmt.Errorf("%d file errors, last: %w", n, cause)
	}
	return nil
}

// watch drains the active file and then tails new writes via filesystem
// notifications until the context is canceled.
func (s *Session) watch(ctx context.Context, active discoveredFile, initial bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	var fr *fileReader
	if active.Path != "" {
		fr, err = s.openActive(ctx, active.Path)
		if err != nil {
			return err
		}
	}
	defer func() {
		if fr != nil {
			fr.Abandon()
			s.saveOffset(fr.path, fr)
			fr.Close()
		}
	}()

	if initial {
		if err := s.state.MarkInitialSyncComplete(s.src.ID); err != nil {
			logging.Warn().Err(err).Str("source_id", s.src.ID).Msg("could not persist initial sync flag")
		}
	}
	s.update(func(p *models.SourceProgress) {
		p.Status = models.StatusWatching
		p.IsInitialSync = false
	})
	s.sendBackfill(models.BackfillCompleted, "", "")
	logging.Info().Str("source_id", s.src.ID).Msg("backfill complete, watching for new writes")

	saveTicker := time.NewTicker(offsetSaveInterval)
	defer saveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			fr, err = s.handleWatchEvent(ctx, ev, fr)
			if err != nil {
				return err
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			logging.Warn().Err(werr).Str("source_id", s.src.ID).Msg("file watcher error")

		case <-saveTicker.C:
			if fr != nil {
				s.saveOffset(fr.path, fr)
			}
		}
	}
}

// handleWatchEvent reacts to one filesystem notification, returning the
// possibly-replaced active reader.
func (s *Session) handleWatchEvent(ctx context.Context, ev fsnotify.Event, fr *fileReader) (*fileReader, error) {
	switch {
	case ev.Op.Has(fsnotify.Write):
		if fr != nil && ev.Name == fr.path {
			if err := s.drain(ctx, fr); err != nil {
				return fr, err
			}
		}

	case ev.Op.Has(fsnotify.Create):
		name := filepath.Base(ev.Name)
		if !matchesAnyGlob(name, s.globs) {
			return fr, nil
		}
		if fr != nil && ev.Name == fr.path {
			// Active file recreated after rotation: the old incarnation
			// is a finished historical file, the new one is read from
			// the start.
			fr.Finalize()
			fr.Close()
			_ = s.state.DeleteOffset(s.src.ID, fr.path)
			metrics.FilesCompleted.WithLabelValues(s.src.ID).Inc()
			s.update(func(p *models.SourceProgress) {
				p.FilesCompleted++
				p.TotalFiles++
				removeCurrentFile(p, filepath.Base(fr.path))
			})
			nf, err := s.openActive(ctx, ev.Name)
			if err != nil {
				return nil, err
			}
			return nf, nil
		}

		if s.matchesRotatedName(name) && !s.rotatesDaily {
			// Move-style rotation artifact: the rotated name holds
			// content already consumed under the active file's old
			// name. The active file itself is handled by its own
			// Rename and Create events.
			logging.Debug().Str("source_id", s.src.ID).Str("file", name).Msg("ignoring rotated-name file")
			return fr, nil
		}

		// A new file appeared: it becomes the active file, the previous
		// one finishes its life as a completed historical file.
		logging.Info().Str("source_id", s.src.ID).Str("file", name).Msg("log rotation detected, switching active file")
		if fr != nil {
			fr.Finalize()
			s.saveOffset(fr.path, fr)
			fr.Close()
			metrics.FilesCompleted.WithLabelValues(s.src.ID).Inc()
			s.update(func(p *models.SourceProgress) {
				p.FilesCompleted++
				removeCurrentFile(p, filepath.Base(fr.path))
			})
		}
		s.update(func(p *models.SourceProgress) { p.TotalFiles++ })
		nf, err := s.openActive(ctx, ev.Name)
		if err != nil {
			return nil, err
		}
		return nf, nil

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		if fr != nil && ev.Name == fr.path {
			// The file is gone; whatever was pending is complete.
			fr.Finalize()
			fr.Close()
			_ = s.state.DeleteOffset(s.src.ID, fr.path)
			s.update(func(p *models.SourceProgress) {
				removeCurrentFile(p, filepath.Base(fr.path))
			})
			return nil, nil
		}
	}
	return fr, nil
}

// openActive opens a file for live tailing and drains existing content.
func (s *Session) openActive(ctx context.Context, path string) (*fileReader, error) {
	resume, err := s.state.LoadOffset(s.src.ID, path)
	if err != nil {
		logging.Warn().Err(err).Str("file", path).Msg("could not load saved offset, reading from start")
	}

	grouper := parse.NewGrouper(s.grammar, s.src.ID, path, models.MethodFileTail, s.emitEntry)
	fr, err := openFileReader(path, s.encoding, resume, grouper)
	if err != nil {
		// The active file disappearing between events is a transient
		// race; a later Create event reopens it.
		if serr := s.skipFile(path, err); serr != nil {
			return nil, serr
		}
		return nil, nil
	}

	s.update(func(p *models.SourceProgress) {
		p.FilesStarted++
		addCurrentFile(p, filepath.Base(path))
	})

	if err := s.drain(ctx, fr); err != nil {
		fr.Close()
		return nil, err
	}
	s.saveOffset(path, fr)
	return fr, nil
}

// drain reads the active file to its current EOF in bounded chunks.
func (s *Session) drain(ctx context.Context, fr *fileReader) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := fr.ReadChunk()
		if err != nil {
			return s.skipFile(fr.path, err)
		}
		if n == 0 {
			return nil
		}
	}
}

func (s *Session) saveOffset(path string, fr *fileReader) {
	err := s.state.SaveOffset(s.src.ID, statestore.FileOffset{
		Path:   path,
		Offset: fr.Offset(),
		Size:   fr.Offset(),
	})
	if err != nil {
		logging.Warn().Err(err).Str("file", path).Msg("could not save read offset")
	}
}

// enterError publishes the error state. The caller schedules the retry.
func (s *Session) enterError(err error) {
	logging.Error().Err(err).Str("source_id", s.src.ID).Msg("source failed, will retry")
	s.update(func(p *models.SourceProgress) {
		p.Status = models.StatusError
		p.Error = err.Error()
		p.ActiveFiles = 0
		p.CurrentFiles = nil
	})
	s.sendBackfill(models.BackfillError, "", err.Error())
}

// emitEntry forwards one completed entry to the pipeline.
func (s *Session) emitEntry(e *models.LogEntry) {
	s.entryCount.Add(1)
	if e.Heuristic {
		metrics.ParseMisses.WithLabelValues(s.src.ID).Inc()
	}
	metrics.EntriesIngested.WithLabelValues(s.src.ID, string(e.Method)).Inc()
	s.emit(e)
}

// update mutates the progress snapshot under the session lock, derives the
// percentage, and publishes a clone to the aggregator.
func (s *Session) update(mutate func(*models.SourceProgress)) {
	s.mu.Lock()
	mutate(&s.prog)
	s.prog.ProgressPercent = s.prog.Percent()
	s.prog.UpdatedAt = time.Now()
	snap := s.prog.Clone()
	s.mu.Unlock()

	metrics.SetSourceStatus(s.src.ID, string(snap.Status))
	s.agg.Update(snap)
}

func (s *Session) sendBackfill(status models.BackfillStatus, currentFile, errMsg string) {
	if s.sink == nil {
		return
	}
	s.mu.Lock()
	total := s.prog.TotalFiles
	processed := s.prog.FilesCompleted
	s.mu.Unlock()

	lines := s.processedLines.Load()
	s.sink.BroadcastBackfillProgress(&models.BackfillProgress{
		Status:          status,
		SourceID:        s.src.ID,
		TotalFiles:      total,
		ProcessedFiles:  processed,
		TotalLines:      lines,
		ProcessedLines:  lines,
		EntriesIngested: s.entryCount.Load(),
		CurrentFile:     currentFile,
		Error:           errMsg,
		CorrelationID:   s.correlationID,
	})
}

// addCurrentFile appends a name to the bounded in-flight list.
func addCurrentFile(p *models.SourceProgress, name string) {
	if len(p.CurrentFiles) >= models.MaxCurrentFiles {
		return
	}
	p.CurrentFiles = append(p.CurrentFiles, name)
}

func removeCurrentFile(p *models.SourceProgress, name string) {
	for i, n := range p.CurrentFiles {
		if n == name {
			p.CurrentFiles = append(p.CurrentFiles[:i], p.CurrentFiles[i+1:]...)
			return
		}
	}
}
