// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package store persists normalized log entries in DuckDB. The store is
// append-mostly: the ingestion pipeline writes batches, the HTTP API
// reads filtered pages ordered by timestamp.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/medialogd/medialogd/internal/config"
	"github.com/medialogd/medialogd/internal/metrics"
	"github.com/medialogd/medialogd/internal/models"
)

// EntryStore is the persistence interface the ingestion pipeline and the
// HTTP API depend on.
type EntryStore interface {
	AppendBatch(ctx context.Context, entries []*models.LogEntry) error
	Query(ctx context.Context, q EntryQuery) ([]*models.LogEntry, error)
	Count(ctx context.Context, filter *models.EntryFilter) (int64, error)
	Close() error
}

// EntryQuery selects a page of stored entries, newest first. Before is
// a keyset cursor: only entries strictly older than (BeforeTime, BeforeID)
// are returned. A zero BeforeTime means start from the newest entry.
type EntryQuery struct {
	Filter     *models.EntryFilter
	Since      time.Time
	Until      time.Time
	BeforeTime time.Time
	BeforeID   string
	Limit      int
}

const defaultQueryLimit = 100

// DB is the DuckDB-backed EntryStore.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the entry database and initializes
// the schema.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	// Ensure the parent directory exists for the database file.
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	// Disable auto-install/auto-load of extensions to prevent hangs in
	// restricted network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, cfg.EffectiveThreads(), maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open entry database: %w", err)
	}

	// DuckDB is embedded; a single writer connection avoids write-write
	// conflicts between batches.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory entry store, used by tests.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("duckdb", ":memory:?autoinstall_known_extensions=false&autoload_known_extensions=false")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS log_entries (
			id UUID PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			ts_inferred BOOLEAN NOT NULL DEFAULT FALSE,
			level VARCHAR NOT NULL,
			message VARCHAR NOT NULL,
			source VARCHAR,
			thread_id VARCHAR,
			raw VARCHAR NOT NULL,
			correlation VARCHAR,
			source_id VARCHAR NOT NULL,
			method VARCHAR NOT NULL,
			file_path VARCHAR,
			heuristic BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_ts ON log_entries (ts)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_source_ts ON log_entries (source_id, ts)`,
	}
	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// AppendBatch inserts a batch of entries in one transaction. Entries
// without an ID are assigned one.
func (db *DB) AppendBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.StoreAppendDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO log_entries (
		id, ts, ts_inferred, level, message, source, thread_id, raw,
		correlation, source_id, method, file_path, heuristic
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
			e.ID = id
		}

		var correlation any
		if len(e.Correlation) > 0 {
			data, err := json.Marshal(e.Correlation)
			if err != nil {
				return fmt.Errorf("marshal correlation: %w", err)
			}
			correlation = string(data)
		}

		_, err = stmt.ExecContext(ctx,
			id.String(), e.Timestamp, e.TimestampInferred, string(e.Level),
			e.Message, nullable(e.Source), nullable(e.ThreadID), e.Raw,
			correlation, e.SourceID, string(e.Method), nullable(e.FilePath),
			e.Heuristic,
		)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Query returns a page of entries matching q, newest first.
func (db *DB) Query(ctx context.Context, q EntryQuery) ([]*models.LogEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	where, args := buildWhere(q.Filter)
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, q.Until)
	}
	if !q.BeforeTime.IsZero() {
		// Keyset pagination: strictly older than the cursor row.
		where = append(where, "(ts < ? OR (ts = ? AND id < ?))")
		args = append(args, q.BeforeTime, q.BeforeTime, q.BeforeID)
	}

	query := `SELECT CAST(id AS VARCHAR), ts, ts_inferred, level, message, source, thread_id,
		raw, correlation, source_id, method, file_path, heuristic
		FROM log_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries matching the filter.
func (db *DB) Count(ctx context.Context, filter *models.EntryFilter) (int64, error) {
	where, args := buildWhere(filter)
	query := "SELECT COUNT(*) FROM log_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var n int64
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// buildWhere translates an EntryFilter into SQL predicates.
func buildWhere(filter *models.EntryFilter) ([]string, []any) {
	var where []string
	var args []any
	if filter == nil {
		return where, args
	}

	if filter.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if len(filter.Levels) > 0 {
		placeholders := make([]string, len(filter.Levels))
		for i, lvl := range filter.Levels {
			placeholders[i] = "?"
			args = append(args, string(lvl))
		}
		where = append(where, "level IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Methods) > 0 {
		placeholders := make([]string, len(filter.Methods))
		for i, m := range filter.Methods {
			placeholders[i] = "?"
			args = append(args, string(m))
		}
		where = append(where, "method IN ("+strings.Join(placeholders, ", ")+")")
	}
	return where, args
}

func scanEntry(rows *sql.Rows) (*models.LogEntry, error) {
	var (
		e           models.LogEntry
		idStr       string
		level       string
		method      string
		source      sql.NullString
		threadID    sql.NullString
		correlation sql.NullString
		filePath    sql.NullString
	)

	err := rows.Scan(&idStr, &e.Timestamp, &e.TimestampInferred, &level,
		&e.Message, &source, &threadID, &e.Raw, &correlation, &e.SourceID,
		&method, &filePath, &e.Heuristic)
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	e.ID = id
	e.Level = models.LogLevel(level)
	e.Method = models.IngestMethod(method)
	e.Source = source.String
	e.ThreadID = threadID.String
	e.FilePath = filePath.String
	if correlation.Valid && correlation.String != "" {
		if err := json.Unmarshal([]byte(correlation.String), &e.Correlation); err != nil {
			return nil, fmt.Errorf("decode correlation: %w", err)
		}
	}
	return &e, nil
}

// nullable maps empty strings to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
