// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package config

import (
	"fmt"
	"regexp"
	"runtime"
	"time"
)

// Config holds all application configuration.
//
// Loading order (Koanf v2): built-in defaults, then an optional YAML config
// file, then environment variables (MEDIALOGD_SERVER_PORT and friends).
// Later layers override earlier ones.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	State    StateConfig    `koanf:"state"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Progress ProgressConfig `koanf:"progress"`
	Logging  LoggingConfig  `koanf:"logging"`

	// Sources are the file-backed log sources to ingest.
	Sources []SourceConfig `koanf:"sources"`

	// LiveSources are REST-polled activity-history sources.
	LiveSources []LiveSourceConfig `koanf:"live_sources"`
}

// ServerConfig is the HTTP/WebSocket listener configuration.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// AllowedOrigins restricts browser WebSocket connections by Origin
	// header. Empty means any origin is accepted; "*" is equivalent.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// DatabaseConfig configures the DuckDB entry store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// EffectiveThreads resolves the configured thread count.
func (d DatabaseConfig) EffectiveThreads() int {
	if d.Threads > 0 {
		return d.Threads
	}
	return runtime.NumCPU()
}

// StateConfig configures the Badger state store used for per-source
// initial-sync flags and file read offsets.
type StateConfig struct {
	Path string `koanf:"path"`
}

// IngestConfig tunes file discovery and backfill behavior shared by all
// sources.
type IngestConfig struct {
	// DeploymentTarget selects the default-path table: docker, linux,
	// windows, or darwin. Empty means autodetect from the OS (docker
	// when /.dockerenv exists).
	DeploymentTarget string `koanf:"deployment_target"`

	// MaxParallelFiles bounds concurrent backfill readers per source.
	MaxParallelFiles int `koanf:"max_parallel_files"`

	// FileErrorThreshold is the number of per-file errors after which the
	// whole source enters the error state.
	FileErrorThreshold int `koanf:"file_error_threshold"`

	// RetryInterval is the delay before an errored source re-enters
	// discovery.
	RetryInterval time.Duration `koanf:"retry_interval"`
}

// ProgressConfig holds the smoothing protocol tuning values. These are
// display tuning, not correctness constraints, hence configurable.
type ProgressConfig struct {
	// StepPercent is how far displayProgress may advance per tick.
	StepPercent float64 `koanf:"step_percent"`

	// TickInterval is the display advance cadence.
	TickInterval time.Duration `koanf:"tick_interval"`

	// CoalesceWindow batches non-important raw updates per source.
	CoalesceWindow time.Duration `koanf:"coalesce_window"`
}

// LoggingConfig configures the application's own log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SourceConfig describes one file-backed log source.
type SourceConfig struct {
	// ID is the unique source identifier used in entries and progress.
	ID string `koanf:"id"`

	// Type selects the parser grammar: arr, jellyfin, plex, plain.
	Type string `koanf:"type"`

	// Path overrides the grammar's default log directory for the
	// deployment target. Optional.
	Path string `koanf:"path"`

	// Globs overrides the grammar's filename patterns. Optional.
	Globs []string `koanf:"globs"`

	// Encoding overrides the file text encoding (utf-8, utf-16le,
	// utf-16be, latin-1). Optional.
	Encoding string `koanf:"encoding"`

	// RotatesDaily overrides whether the application rotates its log
	// file daily. Nil means the grammar's default.
	RotatesDaily *bool `koanf:"rotates_daily"`

	// RotatedNamePattern overrides the regular expression recognizing
	// rotated file names (date-embedding names). Optional.
	RotatedNamePattern string `koanf:"rotated_name_pattern"`

	Enabled bool `koanf:"enabled"`
}

// LiveSourceConfig describes one REST-polled activity source.
type LiveSourceConfig struct {
	ID string `koanf:"id"`

	// URL is the server base URL; APIKey authenticates requests.
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`

	// PollInterval is the activity-log poll cadence.
	PollInterval time.Duration `koanf:"poll_interval"`

	Enabled bool `koanf:"enabled"`
}

// Validate checks the configuration for errors that would prevent startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.Ingest.MaxParallelFiles < 1 {
		return fmt.Errorf("ingest.max_parallel_files must be at least 1")
	}
	if c.Progress.StepPercent <= 0 {
		return fmt.Errorf("progress.step_percent must be positive")
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if s.Type == "" {
			return fmt.Errorf("sources[%d] %q: type is required", i, s.ID)
		}
		if s.RotatedNamePattern != "" {
			if _, err := regexp.Compile(s.RotatedNamePattern); err != nil {
				return fmt.Errorf("sources[%d] %q: rotated_name_pattern: %w", i, s.ID, err)
			}
		}
	}
	for i, s := range c.LiveSources {
		if s.ID == "" {
			return fmt.Errorf("live_sources[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("live_sources[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if s.Enabled && s.URL == "" {
			return fmt.Errorf("live_sources[%d] %q: url is required when enabled", i, s.ID)
		}
	}
	return nil
}
