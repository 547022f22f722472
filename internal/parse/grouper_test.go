// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package parse

import (
	"strings"
	"testing"
	"time"

	"github.com/medialogd/medialogd/internal/models"
)

// collectGrouper returns a grouper whose emitted entries accumulate into
// the returned slice pointer.
func collectGrouper(t *testing.T, sourceType string) (*Grouper, *[]*models.LogEntry) {
	t.Helper()
	g := mustGrammar(t, sourceType)
	var entries []*models.LogEntry
	grouper := NewGrouper(g, "test-source", "/logs/test.txt", models.MethodFileTail, func(e *models.LogEntry) {
		entries = append(entries, e)
	})
	return grouper, &entries
}

func TestGrouperFlushOnNewHeader(t *testing.T) {
	grouper, entries := collectGrouper(t, "arr")

	grouper.Line("2024-01-15 10:30:45.123|Warn|Database|Connection slow")
	if len(*entries) != 0 {
		t.Fatalf("entry flushed prematurely: %d", len(*entries))
	}

	grouper.Line("2024-01-15 10:30:45.456|Info|Test|Next")
	if len(*entries) != 1 {
		t.Fatalf("entries = %d, want 1 after second header", len(*entries))
	}

	e := (*entries)[0]
	if e.Level != models.LevelWarn {
		t.Errorf("level = %q, want warn", e.Level)
	}
	if e.Source != "Database" {
		t.Errorf("source = %q, want Database", e.Source)
	}
	if e.Message != "Connection slow" {
		t.Errorf("message = %q, want %q", e.Message, "Connection slow")
	}

	grouper.Flush()
	if len(*entries) != 2 {
		t.Fatalf("entries = %d, want 2 after flush", len(*entries))
	}
}

func TestGrouperMultiLineException(t *testing.T) {
	grouper, entries := collectGrouper(t, "arr")

	frames := []string{
		"System.IO.IOException: No space left on device",
		"   at NzbDrone.Core.MediaFiles.DiskTransferService.TransferFile()",
		"   at NzbDrone.Core.MediaFiles.ImportService.Import()",
		"   at NzbDrone.Core.Download.CompletedDownloadService.Import()",
	}

	grouper.Line("2024-01-15 10:30:45.123|Error|Import|Couldn't import episode")
	for _, f := range frames {
		grouper.Line(f)
	}
	grouper.Flush()

	if len(*entries) != 1 {
		t.Fatalf("entries = %d, want exactly 1 for header + %d continuations", len(*entries), len(frames))
	}

	e := (*entries)[0]
	rawLines := strings.Split(e.Raw, "\n")
	if len(rawLines) != len(frames)+1 {
		t.Errorf("raw has %d lines, want %d", len(rawLines), len(frames)+1)
	}
	if rawLines[0] != "2024-01-15 10:30:45.123|Error|Import|Couldn't import episode" {
		t.Errorf("raw first line = %q", rawLines[0])
	}
	if !strings.HasPrefix(e.Message, "Couldn't import episode") {
		t.Errorf("message should start with the header remainder, got %q", e.Message)
	}
}

func TestGrouperBoostFromStackTrace(t *testing.T) {
	grouper, entries := collectGrouper(t, "arr")

	// Boosting runs on the complete entry, so a severe keyword appearing
	// only in the trace still escalates the parent's level.
	grouper.Line("2024-01-15 10:30:45.123|Warn|Import|Import problem")
	grouper.Line("System.UnauthorizedAccessException: Permission denied: /mnt/media")
	grouper.Flush()

	if len(*entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(*entries))
	}
	if (*entries)[0].Level != models.LevelError {
		t.Errorf("level = %q, want error after boost", (*entries)[0].Level)
	}
}

func TestGrouperOrphanContinuationDiscarded(t *testing.T) {
	grouper, entries := collectGrouper(t, "arr")

	grouper.Line("   at Some.Namespace.Method()")
	grouper.Line("   at Other.Namespace.Method()")
	grouper.Flush()

	if len(*entries) != 0 {
		t.Fatalf("orphan continuations produced %d entries, want 0", len(*entries))
	}
}

func TestGrouperUnparseableLineEmitted(t *testing.T) {
	grouper, entries := collectGrouper(t, "arr")

	grouper.Line("mangled line that is neither header nor continuation")
	grouper.Flush()

	if len(*entries) != 1 {
		t.Fatalf("entries = %d, want 1 heuristic entry", len(*entries))
	}
	e := (*entries)[0]
	if !e.Heuristic {
		t.Error("entry should be flagged heuristic")
	}
	if !e.TimestampInferred {
		t.Error("entry should be flagged timestamp_inferred")
	}
	if e.Level != models.LevelInfo {
		t.Errorf("level = %q, want info", e.Level)
	}
	if e.Raw != "mangled line that is neither header nor continuation" {
		t.Errorf("raw = %q", e.Raw)
	}
}

func TestGrouperMessageCapRawUncapped(t *testing.T) {
	grouper, entries := collectGrouper(t, "arr")

	grouper.Line("2024-01-15 10:30:45.123|Error|Import|boom")
	long := "   at " + strings.Repeat("Very.Deep.Namespace.", 10) + "Method()"
	n := 100
	for i := 0; i < n; i++ {
		grouper.Line(long)
	}
	grouper.Flush()

	e := (*entries)[0]
	if len(e.Message) > maxMessageBytes+len(long) {
		t.Errorf("message grew past cap: %d bytes", len(e.Message))
	}
	if got := strings.Count(e.Raw, "\n"); got != n {
		t.Errorf("raw continuation count = %d, want %d", got, n)
	}
}

func TestGrouperReplayIdempotent(t *testing.T) {
	lines := []string{
		"2024-01-15 10:30:45.123|Warn|Database|Connection slow",
		"2024-01-15 10:30:46.000|Error|Import|Couldn't import",
		"System.IO.IOException: No space left on device",
		"   at NzbDrone.Core.MediaFiles.ImportService.Import()",
		"garbage in the middle",
		"2024-01-15 10:30:47.999|Info|Api|done",
	}

	run := func() []string {
		grouper, entries := collectGrouper(t, "arr")
		for _, l := range lines {
			grouper.Line(l)
		}
		grouper.Flush()
		raws := make([]string, 0, len(*entries))
		for _, e := range *entries {
			raws = append(raws, e.Raw)
		}
		return raws
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("replay produced %d then %d entries", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("entry %d raw differs between replays", i)
		}
	}
}

func TestGrouperTimestampNeverReordered(t *testing.T) {
	grouper, entries := collectGrouper(t, "arr")

	// Two headers with identical timestamps preserve file order.
	grouper.Line("2024-01-15 10:30:45.123|Info|A|first")
	grouper.Line("2024-01-15 10:30:45.123|Info|B|second")
	grouper.Flush()

	if len(*entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(*entries))
	}
	if (*entries)[0].Source != "A" || (*entries)[1].Source != "B" {
		t.Error("file order not preserved for identical timestamps")
	}
}

func TestGrouperDiscardOnCancel(t *testing.T) {
	grouper, entries := collectGrouper(t, "arr")

	grouper.Line("2024-01-15 10:30:45.123|Error|Import|partial")
	grouper.Discard()
	grouper.Flush()

	if len(*entries) != 0 {
		t.Fatalf("discarded state still emitted %d entries", len(*entries))
	}
}

func TestGrouperParsedTimestampNotWallClock(t *testing.T) {
	grouper, entries := collectGrouper(t, "arr")
	grouper.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

	grouper.Line("2024-01-15 10:30:45.123|Info|Api|ok")
	grouper.Flush()

	e := (*entries)[0]
	if e.TimestampInferred {
		t.Error("parsed timestamp must not be flagged inferred")
	}
	if e.Timestamp.Year() != 2024 {
		t.Errorf("timestamp year = %d, want 2024 (header time, not arrival time)", e.Timestamp.Year())
	}
}

func TestGrouperFreeformGrouping(t *testing.T) {
	grouper, entries := collectGrouper(t, "plain")

	grouper.Line("request failed")
	grouper.Line("    retrying in 5s")
	grouper.Line("    retrying in 10s")
	grouper.Line("request succeeded")
	grouper.Flush()

	if len(*entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(*entries))
	}
	if got := strings.Count((*entries)[0].Raw, "\n"); got != 2 {
		t.Errorf("first entry raw continuations = %d, want 2", got)
	}
}
