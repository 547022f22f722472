// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogLevel is the canonical six-level severity enum. Every source's native
// vocabulary is mapped onto these values at parse time.
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// levelRanks orders levels for comparison. Unknown levels rank as info.
var levelRanks = map[LogLevel]int{
	LevelTrace: 0,
	LevelDebug: 1,
	LevelInfo:  2,
	LevelWarn:  3,
	LevelError: 4,
	LevelFatal: 5,
}

// Rank returns the ordinal position of the level, with unknown values
// ranking as info.
func (l LogLevel) Rank() int {
	if r, ok := levelRanks[l]; ok {
		return r
	}
	return levelRanks[LevelInfo]
}

// Valid reports whether the level is one of the six canonical values.
func (l LogLevel) Valid() bool {
	_, ok := levelRanks[l]
	return ok
}

// NormalizeLevel maps a canonical level token (any case) onto a LogLevel.
// Unrecognized tokens default to info.
func NormalizeLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "trc":
		return LevelTrace
	case "debug", "dbg":
		return LevelDebug
	case "info", "inf", "information":
		return LevelInfo
	case "warn", "wrn", "warning":
		return LevelWarn
	case "error", "err":
		return LevelError
	case "fatal", "ftl", "critical":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// IngestMethod identifies how an entry reached the pipeline.
type IngestMethod string

const (
	// MethodFileTail marks entries read from a log file, either during
	// backfill or by live tailing.
	MethodFileTail IngestMethod = "file"

	// MethodLiveAPI marks entries fetched from a server's activity API.
	MethodLiveAPI IngestMethod = "live"
)

// Correlation key names extracted from free-text messages. Grammars may add
// source-specific extras beyond these.
const (
	CorrelationSessionID = "session_id"
	CorrelationUserID    = "user_id"
	CorrelationDeviceID  = "device_id"
	CorrelationItemID    = "item_id"
)

// LogEntry is the canonical normalized log entry, the single shape every
// source's output is reduced to.
//
// Invariants:
//   - Raw always reconstructs at least the first physical line consumed.
//   - Timestamp comes from the parsed header whenever a parse succeeded;
//     ingestion time is used only as a last resort, and then
//     TimestampInferred is set so consumers can tell.
type LogEntry struct {
	// ID uniquely identifies the entry. Assigned when the entry is first
	// persisted; zero for entries that have not been stored yet.
	ID uuid.UUID `json:"id"`

	// Timestamp is the instant the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Level is the canonical severity.
	Level LogLevel `json:"level"`

	// Message is the header's message remainder, extended by continuation
	// lines up to the in-memory growth cap.
	Message string `json:"message"`

	// Source is the component name from the header (e.g. "Database"),
	// empty for sources whose grammar has no component token.
	Source string `json:"source,omitempty"`

	// ThreadID is the thread or request marker from the header, if any.
	ThreadID string `json:"thread_id,omitempty"`

	// Raw is the original physical line(s), used for display and copy.
	// Unlike Message it is never capped.
	Raw string `json:"raw"`

	// Correlation maps identifier names (session_id, user_id, device_id,
	// item_id, source-specific extras) to values extracted from Message.
	// Unmatched names are absent, never empty-valued.
	Correlation map[string]string `json:"correlation,omitempty"`

	// SourceID identifies the configured source this entry came from.
	SourceID string `json:"source_id"`

	// Method records whether the entry came from a file or a live API.
	Method IngestMethod `json:"method"`

	// FilePath is the originating file for file-derived entries.
	FilePath string `json:"file_path,omitempty"`

	// TimestampInferred is set when Timestamp had to fall back to
	// ingestion time because no header timestamp was available.
	TimestampInferred bool `json:"timestamp_inferred,omitempty"`

	// Heuristic marks best-effort entries built from lines that matched
	// neither a header grammar nor a continuation rule.
	Heuristic bool `json:"heuristic,omitempty"`
}
