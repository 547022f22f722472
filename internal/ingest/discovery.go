// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// discoveredFile is one candidate log file found during discovery.
type discoveredFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ResolveTarget determines the deployment target used to pick default log
// directories. An explicit configuration wins; otherwise docker is assumed
// when /.dockerenv exists, falling back to the host OS.
func ResolveTarget(configured string) string {
	if configured != "" {
		return configured
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "docker"
	}
	switch runtime.GOOS {
	case "windows", "darwin":
		return runtime.GOOS
	default:
		return "linux"
	}
}

// expandHome resolves a leading ~ in default path tables.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// discoverFiles enumerates candidate files in dir matching any of the glob
// patterns, deduplicated and sorted oldest first. The last element is the
// most recent file, the one that goes straight to live tailing.
func discoverFiles(dir string, globs []string) ([]discoveredFile, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("log directory %s: %w", dir, err)
	}

	seen := make(map[string]bool)
	var files []discoveredFile
	for _, pattern := range globs {
		matches, err := doublestar.FilepathGlob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true

			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				// Raced with deletion, or a directory happened to match.
				continue
			}
			files = append(files, discoveredFile{
				Path:    m,
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Path < files[j].Path
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// matchesAnyGlob reports whether a bare file name matches one of the
// source's patterns. Used to classify files appearing while watching.
func matchesAnyGlob(name string, globs []string) bool {
	for _, pattern := range globs {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
