// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in priority
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/medialogd/config.yaml",
	"/etc/medialogd/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "MEDIALOGD_CONFIG"

// envPrefix namespaces environment overrides: MEDIALOGD_SERVER_PORT,
// MEDIALOGD_LOGGING_LEVEL, and so on.
const envPrefix = "MEDIALOGD_"

// defaultConfig returns a Config with all defaults applied. These are
// layered first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    9310,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/medialogd.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		State: StateConfig{
			Path: "/data/state",
		},
		Ingest: IngestConfig{
			DeploymentTarget:   "",
			MaxParallelFiles:   4,
			FileErrorThreshold: 5,
			RetryInterval:      time.Minute,
		},
		Progress: ProgressConfig{
			StepPercent:    3,
			TickInterval:   200 * time.Millisecond,
			CoalesceWindow: 150 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// MEDIALOGD_SERVER_PORT -> server.port, MEDIALOGD_INGEST_MAX_PARALLEL_FILES
	// -> ingest.max_parallel_files. Single-segment prefixes keep the
	// remainder of the name intact.
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or empty.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// topLevelSections are the koanf section names env overrides can target.
var topLevelSections = []string{
	"server", "database", "state", "ingest", "progress", "logging",
}

// envTransformFunc maps MEDIALOGD_SECTION_FIELD_NAME onto section.field_name.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	for _, section := range topLevelSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	// Unknown sections are ignored rather than polluting the tree.
	return ""
}
