// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package pipeline connects the ingestion side to persistence and
// distribution: entries from sessions and pollers are batched into the
// store, then broadcast to WebSocket consumers with their assigned IDs.
package pipeline

import (
	"context"
	"time"

	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/models"
	"github.com/medialogd/medialogd/internal/store"
)

// Broadcaster receives persisted entries for fan-out. Implemented by the
// WebSocket hub.
type Broadcaster interface {
	BroadcastEntry(entry *models.LogEntry)
}

const (
	maxBatchSize  = 256
	flushInterval = 200 * time.Millisecond
	inboxSize     = 4096
)

// Appender is the single writer into the entry store. Emit blocks when
// the inbox is full, so a stalled database applies backpressure to
// ingestion instead of losing entries.
type Appender struct {
	store     store.EntryStore
	broadcast Broadcaster
	inbox     chan *models.LogEntry
}

// NewAppender creates the pipeline stage. broadcast may be nil in tests.
func NewAppender(st store.EntryStore, broadcast Broadcaster) *Appender {
	return &Appender{
		store:     st,
		broadcast: broadcast,
		inbox:     make(chan *models.LogEntry, inboxSize),
	}
}

// Emit queues an entry for persistence. Safe for concurrent use.
func (a *Appender) Emit(entry *models.LogEntry) {
	a.inbox <- entry
}

// Serve implements suture.Service. Batches are flushed when full or on
// the flush tick, whichever comes first; remaining entries are flushed
// once more on shutdown.
func (a *Appender) Serve(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*models.LogEntry, 0, maxBatchSize)

	for {
		select {
		case <-ctx.Done():
			a.drainInto(&batch)
			a.flush(context.Background(), batch)
			return ctx.Err()

		case entry := <-a.inbox:
			batch = append(batch, entry)
			if len(batch) >= maxBatchSize {
				a.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// String implements fmt.Stringer for suture's logging.
func (a *Appender) String() string {
	return "entry-pipeline"
}

func (a *Appender) drainInto(batch *[]*models.LogEntry) {
	for {
		select {
		case entry := <-a.inbox:
			*batch = append(*batch, entry)
		default:
			return
		}
	}
}

// flush persists the batch, then broadcasts. Broadcast happens after the
// append so entries carry their store-assigned IDs; on append failure the
// batch is still broadcast, live consumers should not go dark because
// the database hiccuped.
func (a *Appender) flush(ctx context.Context, batch []*models.LogEntry) {
	if len(batch) == 0 {
		return
	}

	if err := a.store.AppendBatch(ctx, batch); err != nil {
		logging.Error().Err(err).Int("entries", len(batch)).Msg("Entry batch append failed")
	}

	if a.broadcast == nil {
		return
	}
	for _, entry := range batch {
		a.broadcast.BroadcastEntry(entry)
	}
}
