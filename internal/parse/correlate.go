// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package parse

import (
	"regexp"

	"github.com/medialogd/medialogd/internal/models"
)

// CorrelationPattern is one (name, pattern) pair from a grammar's ordered
// list. The identifier value is the pattern's first capture group.
type CorrelationPattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// ExtractCorrelation applies the ordered pattern list to message text and
// returns the matched identifiers. First match per name wins; unmatched
// names are absent from the result. Returns nil when nothing matched.
func ExtractCorrelation(patterns []CorrelationPattern, message string) map[string]string {
	var out map[string]string
	for _, p := range patterns {
		if out != nil {
			if _, taken := out[p.Name]; taken {
				continue
			}
		}
		m := p.Pattern.FindStringSubmatch(message)
		if m == nil || len(m) < 2 || m[1] == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[p.Name] = m[1]
	}
	return out
}

// boostPatterns lists operationally-severe phrases that upstream sources
// habitually report at warn. Matching any of them escalates warn to error.
var boostPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdisk\s*(?:space|full)\b|\bno space left\b|\bout of (?:disk )?space\b`),
	regexp.MustCompile(`(?i)\bpermission denied\b|\baccess (?:is )?denied\b`),
	regexp.MustCompile(`(?i)\bdatabase (?:is )?locked\b`),
	regexp.MustCompile(`(?i)\bconnection refused\b`),
	regexp.MustCompile(`(?i)\btime(?:d)?[ -]?out\b`),
	regexp.MustCompile(`(?i)\bfailed to import\b`),
}

// BoostLevel applies the severity-boost policy to a completed entry's
// level. Only warn escalates, only to error; the operation is idempotent
// and never downgrades.
func BoostLevel(level models.LogLevel, message string) models.LogLevel {
	if level != models.LevelWarn {
		return level
	}
	for _, re := range boostPatterns {
		if re.MatchString(message) {
			return models.LevelError
		}
	}
	return level
}
