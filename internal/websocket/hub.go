// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/metrics"
	"github.com/medialogd/medialogd/internal/models"
)

// Message types for WebSocket communication.
const (
	// Consumer -> system
	MessageTypeSubscribe       = "subscribe"
	MessageTypeUnsubscribe     = "unsubscribe"
	MessageTypeRequestProgress = "requestCurrentProgress"
	MessageTypePing            = "ping"

	// System -> consumer
	MessageTypeAck              = "ack"
	MessageTypeEntry            = "entry"
	MessageTypeProgress         = "progress"
	MessageTypeSyncStatus       = "sync_status"
	MessageTypeBackfillProgress = "backfill_progress"
	MessageTypePong             = "pong"
)

// Message is the envelope for all WebSocket traffic.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ProgressSnapshotter supplies the latest per-source progress for
// consumers that connect mid-cycle. Implemented by the progress
// aggregator.
type ProgressSnapshotter interface {
	Snapshot() []*models.SourceProgress
}

// Hub is the distribution gateway: it tracks connected consumers, one
// filter per connection, and fans out normalized entries and progress
// events to matching connections only.
//
// Entry delivery is best-effort per connection: a slow consumer's
// messages are dropped rather than queued unboundedly, so ingestion is
// never blocked by a stuck socket. The persisted store is the durable
// record.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// lastProgress caches the latest progress per source so
	// requestCurrentProgress can answer without waiting for the next
	// event. Guarded by mu.
	lastProgress map[string]*models.SourceProgress

	snapshotter ProgressSnapshotter
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:    make(chan Message, 256),
		Register:     make(chan *Client),
		Unregister:   make(chan *Client),
		clients:      make(map[*Client]bool),
		lastProgress: make(map[string]*models.SourceProgress),
	}
}

// SetSnapshotter wires the progress snapshot source. Optional; without it
// requestCurrentProgress answers from the hub's own progress cache.
func (h *Hub) SetSnapshotter(s ProgressSnapshotter) {
	h.snapshotter = s
}

// RunWithContext runs the hub loop until the context is canceled, then
// gracefully closes all clients. Designed for suture supervision.
//
// Priority order when multiple channels are ready: shutdown, then client
// lifecycle events, then broadcasts. This keeps client state consistent
// before messages are processed.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

// removeClient drops a connection and its subscription. Idempotent: a
// second unregister for the same client is a no-op.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WebSocketClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// broadcastToClients delivers one message to every connection whose
// filter accepts it, in deterministic (client id) order. Sends are
// non-blocking: a full client buffer drops the message for that client
// only.
func (h *Hub) broadcastToClients(message Message) {
	entry, isEntry := message.Data.(*models.LogEntry)

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		// Entry messages respect the per-connection filter; progress and
		// backfill events are delivered unconditionally.
		if isEntry && !client.Filter().Matches(entry) {
			continue
		}
		select {
		case client.send <- message:
		default:
			metrics.WebSocketDrops.WithLabelValues(message.Type).Inc()
		}
	}
}

// BroadcastEntry fans out one normalized entry to matching subscriptions.
// Never blocks on persistence or on slow consumers.
func (h *Hub) BroadcastEntry(entry *models.LogEntry) {
	select {
	case h.broadcast <- Message{Type: MessageTypeEntry, Data: entry}:
	default:
		metrics.WebSocketDrops.WithLabelValues(MessageTypeEntry).Inc()
		logging.Warn().Msg("broadcast channel full, dropping entry message")
	}
}

// PublishProgress stores the latest value per source (for late
// subscribers) and sends it to all connections, independent of any entry
// filter. Implements the progress.Sink interface.
func (h *Hub) PublishProgress(p *models.SourceProgress) {
	h.mu.Lock()
	h.lastProgress[p.SourceID] = p
	h.mu.Unlock()

	select {
	case h.broadcast <- Message{Type: MessageTypeProgress, Data: p}:
	default:
		metrics.WebSocketDrops.WithLabelValues(MessageTypeProgress).Inc()
		logging.Warn().Msg("broadcast channel full, dropping progress message")
	}
}

// PublishGlobalStatus sends the smoothed global sync status to all
// connections.
func (h *Hub) PublishGlobalStatus(s models.GlobalSyncStatus) {
	select {
	case h.broadcast <- Message{Type: MessageTypeSyncStatus, Data: s}:
	default:
		metrics.WebSocketDrops.WithLabelValues(MessageTypeSyncStatus).Inc()
	}
}

// BroadcastBackfillProgress sends a coarse backfill lifecycle event to
// all connections.
func (h *Hub) BroadcastBackfillProgress(p *models.BackfillProgress) {
	select {
	case h.broadcast <- Message{Type: MessageTypeBackfillProgress, Data: p}:
	default:
		metrics.WebSocketDrops.WithLabelValues(MessageTypeBackfillProgress).Inc()
		logging.Warn().Msg("broadcast channel full, dropping backfill_progress message")
	}
}

// currentProgress answers requestCurrentProgress: one snapshot per
// tracked source reflecting the last known state.
func (h *Hub) currentProgress() []*models.SourceProgress {
	if h.snapshotter != nil {
		return h.snapshotter.Snapshot()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*models.SourceProgress, 0, len(h.lastProgress))
	for _, p := range h.lastProgress {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
