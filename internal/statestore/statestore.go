// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package statestore persists per-source ingestion state in BadgerDB so
// that restarts resume tailing where the previous run left off instead
// of re-reading historical files.
package statestore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const (
	// initialSyncKeyPrefix marks sources whose historical backfill has
	// completed at least once.
	initialSyncKeyPrefix = "source:synced:"

	// offsetKeyPrefix stores the last consumed byte offset per file,
	// keyed by source ID and file path.
	offsetKeyPrefix = "source:offset:"
)

// FileOffset records how far a single log file has been consumed.
type FileOffset struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	// Size at the time the offset was recorded. A smaller current size
	// means the file was truncated or rotated and must be re-read.
	Size int64 `json:"size"`
}

// Store persists ingestion state in a shared BadgerDB instance.
type Store struct {
	db *badger.DB
}

// Open opens a BadgerDB at path tuned for small state records.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Suppress BadgerDB internal logs
	opts.ValueLogFileSize = 16 << 20
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB creates a Store from an existing BadgerDB connection.
// This is useful when sharing a BadgerDB instance across subsystems.
func NewFromDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkInitialSyncComplete records that the historical backfill for a
// source has finished. Subsequent runs start in watching mode.
func (s *Store) MarkInitialSyncComplete(sourceID string) error {
	key := []byte(initialSyncKeyPrefix + sourceID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte("1"))
	})
}

// InitialSyncComplete reports whether a source has ever completed its
// historical backfill.
func (s *Store) InitialSyncComplete(sourceID string) (bool, error) {
	var done bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(initialSyncKeyPrefix + sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("read initial sync flag: %w", err)
	}
	return done, nil
}

// ClearInitialSync resets the backfill flag, forcing the next run to
// re-discover and re-read historical files for the source.
func (s *Store) ClearInitialSync(sourceID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(initialSyncKeyPrefix + sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil // Already cleared
		}
		return err
	})
}

// SaveOffset persists the consumed byte offset for one file of a source.
func (s *Store) SaveOffset(sourceID string, off FileOffset) error {
	data, err := json.Marshal(off)
	if err != nil {
		return fmt.Errorf("marshal offset: %w", err)
	}

	key := []byte(offsetKey(sourceID, off.Path))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// LoadOffset retrieves the saved offset for a file.
// Returns nil, nil when nothing has been saved for the path.
func (s *Store) LoadOffset(sourceID, path string) (*FileOffset, error) {
	var off FileOffset
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(offsetKey(sourceID, path)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &off)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load offset: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &off, nil
}

// Offsets returns all saved offsets for a source.
func (s *Store) Offsets(sourceID string) ([]FileOffset, error) {
	var offsets []FileOffset

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(offsetKeyPrefix + sourceID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var off FileOffset
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &off)
			})
			if err != nil {
				return err
			}
			offsets = append(offsets, off)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list offsets: %w", err)
	}
	return offsets, nil
}

// DeleteOffset removes the saved offset for a file, for example after
// the file disappeared from disk.
func (s *Store) DeleteOffset(sourceID, path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(offsetKey(sourceID, path)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// offsetKey builds the BadgerDB key for one file of a source. The path
// is the final segment, so colons inside it stay unambiguous.
func offsetKey(sourceID, path string) string {
	return offsetKeyPrefix + sourceID + ":" + path
}
