// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package parse

import (
	"regexp"
	"strings"
	"time"

	"github.com/medialogd/medialogd/internal/models"
)

// ParsedHeader is the result of recognizing a header line: the structured
// fields extracted from the line that starts a new logical entry.
type ParsedHeader struct {
	Timestamp time.Time
	Level     models.LogLevel
	Source    string
	ThreadID  string
	Message   string
}

// Grammar bundles everything source-specific about parsing one type of log
// output: the header shape, timestamp layouts, severity vocabulary,
// continuation rules, correlation patterns, and file discovery defaults.
// Adding support for a new application is adding one Grammar to the
// registry.
//
// ParseHeader and IsContinuation are pure and safe for concurrent use; a
// Grammar is never mutated after construction.
type Grammar struct {
	// SourceType identifies the grammar in the registry ("arr",
	// "jellyfin", "plex", "plain").
	SourceType string

	// Freeform marks sources without a structured header. For these, a
	// line is a header exactly when the continuation heuristics say it is
	// not a continuation.
	Freeform bool

	// header must use the named groups ts, level, message and optionally
	// source and thread. Nil for freeform grammars.
	header *regexp.Regexp

	// tsLayouts are tried in order against the ts group.
	tsLayouts []string

	// levels maps the source's native severity vocabulary (lowercased)
	// onto the canonical enum. Tokens absent here fall back to
	// models.NormalizeLevel.
	levels map[string]models.LogLevel

	// continuation holds extra source-specific continuation shapes beyond
	// the shared stack-trace heuristics.
	continuation []*regexp.Regexp

	// Correlation is the ordered (name, pattern) list applied to message
	// text; first match per name wins.
	Correlation []CorrelationPattern

	// DefaultPaths maps deployment target (docker, linux, windows,
	// darwin) to the default log directory for this source type.
	DefaultPaths map[string]string

	// Globs are the filename patterns matched inside the log directory,
	// in priority order.
	Globs []string

	// Encoding is the default text encoding of this source's files.
	Encoding string

	// RotatesDaily indicates the application rotates its log file daily.
	RotatesDaily bool

	// RotatedName recognizes rotated file names (the date-embedding
	// pattern), nil when the source does not embed dates.
	RotatedName *regexp.Regexp
}

// Shared continuation shapes: conventionally indented stack frames,
// exception-type declaration lines, and inner-exception markers.
var (
	stackFrameRe    = regexp.MustCompile(`^\s+at\s+\S`)
	exceptionRe     = regexp.MustCompile(`^(?:[A-Za-z_][\w.]*\.)+[\w` + "`" + `]*(?:Exception|Error)\b`)
	innerMarkerRe   = regexp.MustCompile(`^\s*--->\s`)
	causedByRe      = regexp.MustCompile(`^\s*Caused by:`)
	endOfTraceRe    = regexp.MustCompile(`^\s*---\s+End of (?:inner exception )?stack trace\s+---`)
	leadingSpaceRe  = regexp.MustCompile(`^[ \t]`)
)

// ParseHeader recognizes a header line. It returns nil for blank lines,
// for lines matching known continuation shapes, and for header-shaped
// lines whose timestamp does not parse (a malformed timestamp is evidence
// the line is not actually a header, not a fatal condition).
func (g *Grammar) ParseHeader(line string) *ParsedHeader {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	if g.IsContinuation(line) {
		return nil
	}
	if g.Freeform {
		// No structured header: any non-continuation line starts an
		// entry, carrying the whole line as message.
		return &ParsedHeader{
			Level:   models.LevelInfo,
			Message: line,
		}
	}

	m := g.header.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	h := &ParsedHeader{Level: models.LevelInfo}
	var tsRaw string
	for i, name := range g.header.SubexpNames() {
		switch name {
		case "ts":
			tsRaw = m[i]
		case "level":
			h.Level = g.mapLevel(m[i])
		case "source":
			h.Source = strings.TrimSpace(m[i])
		case "thread":
			h.ThreadID = m[i]
		case "message":
			h.Message = m[i]
		}
	}

	ts, ok := g.parseTimestamp(tsRaw)
	if !ok {
		return nil
	}
	h.Timestamp = ts
	return h
}

// IsContinuation reports whether the line extends the previous logical
// entry rather than starting a new one.
func (g *Grammar) IsContinuation(line string) bool {
	if stackFrameRe.MatchString(line) ||
		exceptionRe.MatchString(line) ||
		innerMarkerRe.MatchString(line) ||
		causedByRe.MatchString(line) ||
		endOfTraceRe.MatchString(line) {
		return true
	}
	for _, re := range g.continuation {
		if re.MatchString(line) {
			return true
		}
	}
	if g.Freeform {
		// Free-text sources: any indented line that is not blank
		// continues the previous entry.
		return leadingSpaceRe.MatchString(line) && strings.TrimSpace(line) != ""
	}
	return false
}

// mapLevel translates a native severity token onto the canonical enum.
func (g *Grammar) mapLevel(token string) models.LogLevel {
	if l, ok := g.levels[strings.ToLower(strings.TrimSpace(token))]; ok {
		return l
	}
	return models.NormalizeLevel(token)
}

// parseTimestamp tries the grammar's layouts in order.
func (g *Grammar) parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range g.tsLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// MatchesRotatedName reports whether name looks like a rotated log file of
// this source (date-embedded names like sonarr.2024-01-14.txt).
func (g *Grammar) MatchesRotatedName(name string) bool {
	return g.RotatedName != nil && g.RotatedName.MatchString(name)
}
