// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/medialogd/medialogd/internal/models"
	"github.com/medialogd/medialogd/internal/parse"
	"github.com/medialogd/medialogd/internal/statestore"
)

func arrGrammar(t *testing.T) *parse.Grammar {
	t.Helper()
	g, ok := parse.Lookup("arr")
	if !ok {
		t.Fatal("arr grammar not registered")
	}
	return g
}

func newTestReader(t *testing.T, path string, resume *statestore.FileOffset) (*fileReader, *[]*models.LogEntry) {
	t.Helper()
	var emitted []*models.LogEntry
	grouper := parse.NewGrouper(arrGrammar(t), "test", path, models.MethodFileTail, func(e *models.LogEntry) {
		emitted = append(emitted, e)
	})
	fr, err := openFileReader(path, "utf-8", resume, grouper)
	if err != nil {
		t.Fatalf("openFileReader failed: %v", err)
	}
	t.Cleanup(func() { fr.Close() })
	return fr, &emitted
}

func drainReader(t *testing.T, fr *fileReader) {
	t.Helper()
	for {
		n, err := fr.ReadChunk()
		if err != nil {
			t.Fatalf("ReadChunk failed: %v", err)
		}
		if n == 0 {
			return
		}
	}
}

func TestReaderBackfill(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	content := "2024-01-15 10:30:45.123|Warn|Database|Connection slow\n" +
		"2024-01-15 10:30:45.456|Info|Test|Next\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fr, emitted := newTestReader(t, path, nil)
	drainReader(t, fr)
	fr.Finalize()

	if len(*emitted) != 2 {
		t.Fatalf("got %d entries, want 2", len(*emitted))
	}
	if (*emitted)[0].Level != models.LevelWarn || (*emitted)[0].Source != "Database" {
		t.Errorf("first entry = %+v", (*emitted)[0])
	}
	if fr.Offset() != int64(len(content)) {
		t.Errorf("offset = %d, want %d", fr.Offset(), len(content))
	}
}

func TestReaderPartialLineBuffered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	// First write ends mid-line.
	if err := os.WriteFile(path, []byte("2024-01-15 10:30:45.123|Warn|Data"), 0o644); err != nil {
		t.Fatal(err)
	}

	fr, emitted := newTestReader(t, path, nil)
	drainReader(t, fr)
	if len(*emitted) != 0 {
		t.Fatalf("partial line produced %d entries", len(*emitted))
	}

	// The writer finishes the line plus a second entry.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("base|Connection slow\n2024-01-15 10:30:46.000|Info|Test|Next\n")
	f.Close()

	drainReader(t, fr)
	fr.Finalize()

	if len(*emitted) != 2 {
		t.Fatalf("got %d entries, want 2", len(*emitted))
	}
	if (*emitted)[0].Source != "Database" || (*emitted)[0].Message != "Connection slow" {
		t.Errorf("split line reassembled wrong: %+v", (*emitted)[0])
	}
}

func TestReaderResumeFromOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	first := "2024-01-15 10:30:45.123|Info|Test|One\n"
	second := "2024-01-15 10:30:46.000|Info|Test|Two\n"
	if err := os.WriteFile(path, []byte(first+second), 0o644); err != nil {
		t.Fatal(err)
	}

	resume := &statestore.FileOffset{Path: path, Offset: int64(len(first)), Size: int64(len(first))}
	fr, emitted := newTestReader(t, path, resume)
	drainReader(t, fr)
	fr.Finalize()

	if len(*emitted) != 1 {
		t.Fatalf("got %d entries, want 1 (resumed past the first)", len(*emitted))
	}
	if (*emitted)[0].Message != "Two" {
		t.Errorf("resumed entry = %q", (*emitted)[0].Message)
	}
}

func TestReaderTruncationRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	if err := os.WriteFile(path, []byte("2024-01-15 10:30:45.123|Info|Test|Old entry padded out\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fr, emitted := newTestReader(t, path, nil)
	drainReader(t, fr)

	// Truncate and write shorter new content.
	if err := os.WriteFile(path, []byte("2024-01-15 11:00:00.000|Info|Test|New\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	drainReader(t, fr)
	fr.Finalize()

	if len(*emitted) != 2 {
		t.Fatalf("got %d entries, want 2", len(*emitted))
	}
	if (*emitted)[1].Message != "New" {
		t.Errorf("post-truncation entry = %q", (*emitted)[1].Message)
	}
}

func TestReaderAbandonEmitsNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	// A header followed by a stack trace, no closing header: pending.
	content := "2024-01-15 10:30:45.123|Error|App|Boom\n  at Some.Method()\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fr, emitted := newTestReader(t, path, nil)
	drainReader(t, fr)
	fr.Abandon()

	if len(*emitted) != 0 {
		t.Errorf("Abandon flushed %d entries, want 0", len(*emitted))
	}
}
