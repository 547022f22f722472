// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package models

// EntryFilter is the per-consumer subscription filter: a plain data record
// evaluated by a pure predicate at broadcast time. A nil or zero filter
// matches every entry.
//
// Set semantics: an empty slice means "no constraint"; a non-empty slice
// means "only these".
type EntryFilter struct {
	// SourceID restricts delivery to one configured source.
	SourceID string `json:"source_id,omitempty"`

	// Levels restricts delivery to the listed canonical levels.
	Levels []LogLevel `json:"levels,omitempty"`

	// Methods restricts delivery by ingestion method (file vs live).
	Methods []IngestMethod `json:"methods,omitempty"`
}

// Matches reports whether the entry passes the filter. Safe on a nil
// receiver.
func (f *EntryFilter) Matches(e *LogEntry) bool {
	if f == nil || e == nil {
		return e != nil
	}
	if f.SourceID != "" && f.SourceID != e.SourceID {
		return false
	}
	if len(f.Levels) > 0 && !containsLevel(f.Levels, e.Level) {
		return false
	}
	if len(f.Methods) > 0 && !containsMethod(f.Methods, e.Method) {
		return false
	}
	return true
}

func containsLevel(set []LogLevel, l LogLevel) bool {
	for _, v := range set {
		if v == l {
			return true
		}
	}
	return false
}

func containsMethod(set []IngestMethod, m IngestMethod) bool {
	for _, v := range set {
		if v == m {
			return true
		}
	}
	return false
}
