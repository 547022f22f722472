// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package parse

import (
	"regexp"
	"sort"

	"github.com/medialogd/medialogd/internal/models"
)

// registry maps source type to its grammar. Populated at package load;
// read-only afterward, so lookups need no locking.
var registry = map[string]*Grammar{}

func register(g *Grammar) {
	registry[g.SourceType] = g
}

// Lookup returns the grammar for a source type.
func Lookup(sourceType string) (*Grammar, bool) {
	g, ok := registry[sourceType]
	return g, ok
}

// SourceTypes returns the registered source types in sorted order.
func SourceTypes() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Correlation patterns shared by the media-server grammars. Patterns
// capture the identifier in group 1 and are applied to message text only,
// so header tokens never pollute the values.
var (
	sessionPattern = CorrelationPattern{
		Name:    models.CorrelationSessionID,
		Pattern: regexp.MustCompile(`(?i)\bsession(?:[ _-]?id)?[:=\s]+"?([0-9a-zA-Z-]{4,})`),
	}
	userPattern = CorrelationPattern{
		Name:    models.CorrelationUserID,
		Pattern: regexp.MustCompile(`(?i)\buser(?:[ _-]?id)?[:=\s]+"?([0-9a-zA-Z-]{2,})`),
	}
	devicePattern = CorrelationPattern{
		Name:    models.CorrelationDeviceID,
		Pattern: regexp.MustCompile(`(?i)\bdevice(?:[ _-]?id)?[:=\s]+"?([0-9a-zA-Z-]{2,})`),
	}
	itemPattern = CorrelationPattern{
		Name:    models.CorrelationItemID,
		Pattern: regexp.MustCompile(`(?i)\bitem(?:[ _-]?id)?[:=\s]+"?([0-9a-zA-Z-]{2,})`),
	}
)

//nolint:gochecknoinits // grammar registration mirrors driver registration
func init() {
	// "arr" covers the *arr family (Sonarr, Radarr, Lidarr, Prowlarr):
	// pipe-delimited headers like
	//
	//	2024-01-15 10:30:45.123|Warn|Database|Connection slow
	//
	// This is the fully worked reference grammar; the others follow the
	// same pattern with their own shapes.
	register(&Grammar{
		SourceType: "arr",
		header: regexp.MustCompile(
			`^(?P<ts>\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:\.\d+)?)\|(?P<level>[A-Za-z]+)\|(?P<source>[^|]*)\|(?P<message>.*)$`),
		tsLayouts: []string{
			"2006-01-02 15:04:05.999",
			"2006-01-02 15:04:05",
		},
		levels: map[string]models.LogLevel{
			"trace": models.LevelTrace,
			"debug": models.LevelDebug,
			"info":  models.LevelInfo,
			"warn":  models.LevelWarn,
			"error": models.LevelError,
			"fatal": models.LevelFatal,
		},
		Correlation: []CorrelationPattern{
			sessionPattern,
			userPattern,
			devicePattern,
			itemPattern,
			{Name: "indexer", Pattern: regexp.MustCompile(`(?i)\bindexer[:=\s]+"?([\w .-]{2,40}?)"`)},
			{Name: "download_id", Pattern: regexp.MustCompile(`(?i)\bdownload(?:[ _-]?id)?[:=\s]+"?([0-9A-Za-z]{8,})`)},
		},
		DefaultPaths: map[string]string{
			"docker":  "/config/logs",
			"linux":   "/var/lib/sonarr/logs",
			"windows": `C:\ProgramData\Sonarr\logs`,
			"darwin":  "~/.config/Sonarr/logs",
		},
		Globs:        []string{"sonarr.txt", "sonarr.*.txt", "*.txt"},
		Encoding:     "utf-8",
		RotatesDaily: false,
		RotatedName:  regexp.MustCompile(`\.(\d+)\.txt$`),
	})

	// Jellyfin: Serilog bracketed headers like
	//
	//	[2024-01-15 10:30:45.123 +01:00] [INF] [23] Emby.Server.Session: message
	register(&Grammar{
		SourceType: "jellyfin",
		header: regexp.MustCompile(
			`^\[(?P<ts>[^\]]+)\] \[(?P<level>[A-Z]{3})\](?: \[(?P<thread>\d+)\])? (?P<source>[^:]+): (?P<message>.*)$`),
		tsLayouts: []string{
			"2006-01-02 15:04:05.999 -07:00",
			"2006-01-02 15:04:05.999",
		},
		levels: map[string]models.LogLevel{
			"vrb": models.LevelTrace,
			"dbg": models.LevelDebug,
			"inf": models.LevelInfo,
			"wrn": models.LevelWarn,
			"err": models.LevelError,
			"ftl": models.LevelFatal,
		},
		Correlation: []CorrelationPattern{
			sessionPattern,
			userPattern,
			devicePattern,
			itemPattern,
			{Name: "play_session_id", Pattern: regexp.MustCompile(`(?i)\bplaysession(?:[ _-]?id)?[:=\s]+"?([0-9a-f-]{8,})`)},
			{Name: "client", Pattern: regexp.MustCompile(`(?i)\bclient[:=\s]+"([^"]+)"`)},
		},
		DefaultPaths: map[string]string{
			"docker":  "/config/log",
			"linux":   "/var/log/jellyfin",
			"windows": `C:\ProgramData\Jellyfin\Server\log`,
			"darwin":  "~/.local/share/jellyfin/log",
		},
		Globs:        []string{"log_*.log", "jellyfin*.log"},
		Encoding:     "utf-8",
		RotatesDaily: true,
		RotatedName:  regexp.MustCompile(`log_(\d{8})(?:\.\d+)?\.log$`),
	})

	// Plex Media Server: timestamped headers like
	//
	//	Jan 15, 2024 10:30:45.123 [0x7f8e5c1f9700] WARN - message
	register(&Grammar{
		SourceType: "plex",
		header: regexp.MustCompile(
			`^(?P<ts>[A-Z][a-z]{2} \d{1,2}, \d{4} \d{2}:\d{2}:\d{2}\.\d{3}) \[(?P<thread>0x[0-9a-f]+|\d+)\] (?P<level>[A-Z]+) - (?P<message>.*)$`),
		tsLayouts: []string{
			"Jan 2, 2006 15:04:05.000",
		},
		levels: map[string]models.LogLevel{
			"verbose": models.LevelTrace,
			"debug":   models.LevelDebug,
			"info":    models.LevelInfo,
			"warn":    models.LevelWarn,
			"error":   models.LevelError,
		},
		Correlation: []CorrelationPattern{
			sessionPattern,
			userPattern,
			devicePattern,
			itemPattern,
			{Name: "client_id", Pattern: regexp.MustCompile(`(?i)\bX-Plex-Client-Identifier[:=\s]+"?([0-9a-zA-Z-]{8,})`)},
			{Name: "rating_key", Pattern: regexp.MustCompile(`(?i)\bratingkey[:=/\s]+"?(\d+)`)},
		},
		DefaultPaths: map[string]string{
			"docker":  "/config/Library/Application Support/Plex Media Server/Logs",
			"linux":   "/var/lib/plexmediaserver/Library/Application Support/Plex Media Server/Logs",
			"windows": `C:\Users\Default\AppData\Local\Plex Media Server\Logs`,
			"darwin":  "~/Library/Application Support/Plex Media Server/Logs",
		},
		Globs:        []string{"Plex Media Server.log", "Plex Media Server.*.log"},
		Encoding:     "utf-8",
		RotatesDaily: false,
		RotatedName:  regexp.MustCompile(`\.(\d+)\.log$`),
	})

	// Plain free text: no header grammar; a line is a header exactly when
	// the continuation heuristics say it is not a continuation.
	register(&Grammar{
		SourceType: "plain",
		Freeform:   true,
		Correlation: []CorrelationPattern{
			sessionPattern,
			userPattern,
			devicePattern,
			itemPattern,
		},
		DefaultPaths: map[string]string{
			"docker":  "/logs",
			"linux":   "/var/log",
			"windows": `C:\logs`,
			"darwin":  "/var/log",
		},
		Globs:    []string{"*.log", "*.txt"},
		Encoding: "utf-8",
	})
}
