// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package parse

import (
	"time"

	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/models"
)

// maxMessageBytes caps in-memory message growth from continuation lines.
// Raw keeps accumulating past the cap so the original text is never lost;
// only the searchable message stops growing. Bounds memory under
// pathological exception dumps.
const maxMessageBytes = 4096

// Grouper assembles the physical lines of one open file into logical
// entries: it decides, line by line, whether a line starts a new entry or
// extends the previous one, and emits completed entries through the emit
// callback.
//
// A Grouper is owned by exactly one tailing or backfilling worker and is
// never shared across goroutines; it has no internal locking.
type Grouper struct {
	grammar  *Grammar
	sourceID string
	filePath string
	method   models.IngestMethod
	emit     func(*models.LogEntry)

	pending      *models.LogEntry
	msgLen       int
	orphanWarned bool
	lines        int64

	// now is replaceable in tests.
	now func() time.Time
}

// NewGrouper creates a grouper for one file. Completed entries are passed
// to emit with correlation extraction and severity boosting already
// applied.
func NewGrouper(grammar *Grammar, sourceID, filePath string, method models.IngestMethod, emit func(*models.LogEntry)) *Grouper {
	return &Grouper{
		grammar:  grammar,
		sourceID: sourceID,
		filePath: filePath,
		method:   method,
		emit:     emit,
		now:      time.Now,
	}
}

// Lines returns the number of physical lines consumed so far.
func (g *Grouper) Lines() int64 {
	return g.lines
}

// Line consumes one physical line.
func (g *Grouper) Line(line string) {
	g.lines++

	if isBlank(line) {
		// Blank lines inside a multi-line entry belong to its raw text;
		// stray blanks between entries carry nothing and are dropped.
		if g.pending != nil {
			g.pending.Raw += "\n" + line
		}
		return
	}

	if g.grammar.IsContinuation(line) {
		if g.pending == nil {
			// Orphan continuation: nothing to attach to. Logged once per
			// file, never fatal.
			if !g.orphanWarned {
				g.orphanWarned = true
				logging.Warn().
					Str("source_id", g.sourceID).
					Str("file", g.filePath).
					Msg("continuation line with no pending entry, discarding")
			}
			return
		}
		g.pending.Raw += "\n" + line
		if g.msgLen < maxMessageBytes {
			add := line
			if g.msgLen+len(add)+1 > maxMessageBytes {
				add = add[:maxMessageBytes-g.msgLen-1]
			}
			g.pending.Message += "\n" + add
			g.msgLen += len(add) + 1
		}
		return
	}

	// Not a continuation: the previous entry, if any, is complete.
	g.Flush()

	if h := g.grammar.ParseHeader(line); h != nil {
		entry := &models.LogEntry{
			Timestamp: h.Timestamp,
			Level:     h.Level,
			Message:   h.Message,
			Source:    h.Source,
			ThreadID:  h.ThreadID,
			Raw:       line,
			SourceID:  g.sourceID,
			Method:    g.method,
			FilePath:  g.filePath,
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = g.now()
			entry.TimestampInferred = true
		}
		g.pending = entry
		g.msgLen = len(h.Message)
		return
	}

	// Neither header nor continuation: emit a best-effort entry carrying
	// the raw text so no line is silently dropped. It becomes the pending
	// entry so a stack trace following a mangled header still attaches.
	g.pending = &models.LogEntry{
		Timestamp:         g.now(),
		Level:             models.LevelInfo,
		Message:           line,
		Raw:               line,
		SourceID:          g.sourceID,
		Method:            g.method,
		FilePath:          g.filePath,
		TimestampInferred: true,
		Heuristic:         true,
	}
	g.msgLen = len(line)
}

// Flush emits the pending entry, if any. Called when a new header arrives,
// at EOF during backfill, and when the session closes a file.
func (g *Grouper) Flush() {
	if g.pending == nil {
		return
	}
	entry := g.pending
	g.pending = nil
	g.msgLen = 0

	// Correlation and boosting run on the complete message so a boosted
	// keyword appearing only in a stack trace still escalates the parent
	// entry.
	entry.Correlation = ExtractCorrelation(g.grammar.Correlation, entry.Message)
	entry.Level = BoostLevel(entry.Level, entry.Message)

	g.emit(entry)
}

// Discard drops any pending state without emitting. Used on cancellation
// so a half-read file does not flush a false partial entry.
func (g *Grouper) Discard() {
	g.pending = nil
	g.msgLen = 0
}

func isBlank(line string) bool {
	for i := 0; i < len(line); i++ {
		if line[i] != ' ' && line[i] != '\t' && line[i] != '\r' {
			return false
		}
	}
	return true
}
