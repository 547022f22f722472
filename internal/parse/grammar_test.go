// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package parse

import (
	"io"
	"testing"
	"time"

	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Output: io.Discard})
}

func mustGrammar(t *testing.T, sourceType string) *Grammar {
	t.Helper()
	g, ok := Lookup(sourceType)
	if !ok {
		t.Fatalf("grammar %q not registered", sourceType)
	}
	return g
}

func TestArrParseHeader(t *testing.T) {
	g := mustGrammar(t, "arr")

	h := g.ParseHeader("2024-01-15 10:30:45.123|Warn|Database|Connection slow")
	if h == nil {
		t.Fatal("expected header, got nil")
	}
	if h.Level != models.LevelWarn {
		t.Errorf("level = %q, want warn", h.Level)
	}
	if h.Source != "Database" {
		t.Errorf("source = %q, want Database", h.Source)
	}
	if h.Message != "Connection slow" {
		t.Errorf("message = %q, want %q", h.Message, "Connection slow")
	}
	want := time.Date(2024, 1, 15, 10, 30, 45, 123_000_000, time.UTC)
	if !h.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", h.Timestamp, want)
	}
}

func TestArrParseHeaderRejects(t *testing.T) {
	g := mustGrammar(t, "arr")

	tests := []struct {
		name string
		line string
	}{
		{"blank", ""},
		{"whitespace only", "   \t"},
		{"stack frame", "   at NzbDrone.Core.Download.DownloadService.ProcessClientItem()"},
		{"exception declaration", "System.IO.IOException: No space left on device"},
		{"inner exception marker", " ---> System.Net.Sockets.SocketException: refused"},
		{"malformed timestamp", "2024-13-45 99:99:99.123|Warn|Database|bad date"},
		{"no pipes", "just some text without structure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if h := g.ParseHeader(tt.line); h != nil {
				t.Errorf("ParseHeader(%q) = %+v, want nil", tt.line, h)
			}
		})
	}
}

func TestArrParseHeaderEmptyMessage(t *testing.T) {
	g := mustGrammar(t, "arr")

	// A header with an empty message remainder is valid.
	h := g.ParseHeader("2024-01-15 10:30:45.123|Info|Api|")
	if h == nil {
		t.Fatal("expected header for empty message remainder")
	}
	if h.Message != "" {
		t.Errorf("message = %q, want empty", h.Message)
	}
}

func TestArrLevelVocabulary(t *testing.T) {
	g := mustGrammar(t, "arr")

	tests := []struct {
		token string
		want  models.LogLevel
	}{
		{"Trace", models.LevelTrace},
		{"Debug", models.LevelDebug},
		{"Info", models.LevelInfo},
		{"Warn", models.LevelWarn},
		{"Error", models.LevelError},
		{"Fatal", models.LevelFatal},
		// Unrecognized tokens default to info.
		{"Bogus", models.LevelInfo},
	}

	for _, tt := range tests {
		h := g.ParseHeader("2024-01-15 10:30:45.123|" + tt.token + "|Core|msg")
		if h == nil {
			t.Fatalf("token %q: expected header", tt.token)
		}
		if h.Level != tt.want {
			t.Errorf("token %q: level = %q, want %q", tt.token, h.Level, tt.want)
		}
	}
}

func TestJellyfinParseHeader(t *testing.T) {
	g := mustGrammar(t, "jellyfin")

	h := g.ParseHeader("[2024-01-15 10:30:45.123 +01:00] [WRN] [23] Emby.Server.Session: Session timed out")
	if h == nil {
		t.Fatal("expected header, got nil")
	}
	if h.Level != models.LevelWarn {
		t.Errorf("level = %q, want warn", h.Level)
	}
	if h.ThreadID != "23" {
		t.Errorf("thread = %q, want 23", h.ThreadID)
	}
	if h.Source != "Emby.Server.Session" {
		t.Errorf("source = %q", h.Source)
	}
	if h.Message != "Session timed out" {
		t.Errorf("message = %q", h.Message)
	}
	if h.Timestamp.IsZero() {
		t.Error("timestamp should be parsed")
	}
}

func TestJellyfinSerilogLevels(t *testing.T) {
	g := mustGrammar(t, "jellyfin")

	tests := []struct {
		token string
		want  models.LogLevel
	}{
		{"VRB", models.LevelTrace},
		{"DBG", models.LevelDebug},
		{"INF", models.LevelInfo},
		{"WRN", models.LevelWarn},
		{"ERR", models.LevelError},
		{"FTL", models.LevelFatal},
	}

	for _, tt := range tests {
		h := g.ParseHeader("[2024-01-15 10:30:45.123 +01:00] [" + tt.token + "] [1] Main: msg")
		if h == nil {
			t.Fatalf("token %q: expected header", tt.token)
		}
		if h.Level != tt.want {
			t.Errorf("token %q: level = %q, want %q", tt.token, h.Level, tt.want)
		}
	}
}

func TestPlexParseHeader(t *testing.T) {
	g := mustGrammar(t, "plex")

	h := g.ParseHeader("Jan 15, 2024 10:30:45.123 [0x7f8e5c1f9700] WARN - Transcoder hit a snag")
	if h == nil {
		t.Fatal("expected header, got nil")
	}
	if h.Level != models.LevelWarn {
		t.Errorf("level = %q, want warn", h.Level)
	}
	if h.ThreadID != "0x7f8e5c1f9700" {
		t.Errorf("thread = %q", h.ThreadID)
	}
	if h.Message != "Transcoder hit a snag" {
		t.Errorf("message = %q", h.Message)
	}
}

func TestPlainFreeformHeaderness(t *testing.T) {
	g := mustGrammar(t, "plain")

	// A non-indented line is a header carrying the whole line as message.
	h := g.ParseHeader("server started on port 8096")
	if h == nil {
		t.Fatal("expected header for free-text line")
	}
	if h.Message != "server started on port 8096" {
		t.Errorf("message = %q", h.Message)
	}
	if h.Level != models.LevelInfo {
		t.Errorf("level = %q, want info", h.Level)
	}

	// Indented lines are continuations, so not headers.
	if h := g.ParseHeader("    detail line"); h != nil {
		t.Errorf("indented line should not be a header, got %+v", h)
	}
	if h := g.ParseHeader(""); h != nil {
		t.Error("blank line should not be a header")
	}
}

func TestIsContinuationShapes(t *testing.T) {
	g := mustGrammar(t, "arr")

	tests := []struct {
		name string
		line string
		want bool
	}{
		{"stack frame", "   at NzbDrone.Core.MediaFiles.ImportService.Import()", true},
		{"exception decl", "System.UnauthorizedAccessException: Access denied", true},
		{"nested exception decl", "NzbDrone.Core.Exceptions.ImportException: failed", true},
		{"inner marker", " ---> System.IO.IOException: disk full", true},
		{"caused by", "Caused by: java.net.ConnectException", true},
		{"end of trace", "   --- End of inner exception stack trace ---", true},
		{"header line", "2024-01-15 10:30:45.123|Info|Api|ok", false},
		{"plain text", "nothing special here", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.IsContinuation(tt.line); got != tt.want {
				t.Errorf("IsContinuation(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestRotatedNameRecognition(t *testing.T) {
	g := mustGrammar(t, "jellyfin")

	if !g.MatchesRotatedName("log_20240114.log") {
		t.Error("log_20240114.log should match the rotated-name pattern")
	}
	if g.MatchesRotatedName("jellyfin.db") {
		t.Error("jellyfin.db should not match")
	}
}

func TestSourceTypesSortedAndComplete(t *testing.T) {
	types := SourceTypes()
	want := []string{"arr", "jellyfin", "plain", "plex"}
	if len(types) != len(want) {
		t.Fatalf("registered types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("registered types = %v, want %v", types, want)
		}
	}
}
