// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB; inbound messages are small control frames
)

// clientIDCounter generates unique, monotonically increasing client IDs,
// used for deterministic broadcast ordering.
var clientIDCounter atomic.Uint64

// Client is the middleman between one websocket connection and the hub.
// It owns the connection's subscription filter.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	// filterMu guards filter; read on every entry broadcast, replaced on
	// every (re)subscribe.
	filterMu sync.RWMutex
	filter   *models.EntryFilter
}

// NewClient creates a new Client with a unique ID.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Message, 256),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Filter returns the connection's current subscription filter. Nil means
// no subscription has been made, which matches every entry.
func (c *Client) Filter() *models.EntryFilter {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return c.filter
}

// setFilter replaces (not merges) the connection's filter. A nil filter
// clears the subscription.
func (c *Client) setFilter(f *models.EntryFilter) {
	c.filterMu.Lock()
	c.filter = f
	c.filterMu.Unlock()
}

// inbound is the consumer->system message shape.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// subscribeAck is the acknowledgment payload for subscribe.
type subscribeAck struct {
	Subscribed bool                `json:"subscribed"`
	Filters    *models.EntryFilter `json:"filters"`
}

// unsubscribeAck is the acknowledgment payload for unsubscribe.
type unsubscribeAck struct {
	Unsubscribed bool `json:"unsubscribed"`
}

// readPump pumps control messages from the websocket connection,
// handling subscribe/unsubscribe/requestCurrentProgress.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			break
		}
		c.handleMessage(msg)
	}
}

// handleMessage dispatches one consumer message. Replies go through the
// send channel like any other outbound traffic.
func (c *Client) handleMessage(msg inbound) {
	switch msg.Type {
	case MessageTypeSubscribe:
		filter := &models.EntryFilter{}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, filter); err != nil {
				logging.Warn().Err(err).Uint64("client", c.id).Msg("malformed subscribe filter, ignoring")
				return
			}
		}
		c.setFilter(filter)
		c.reply(Message{Type: MessageTypeAck, Data: subscribeAck{Subscribed: true, Filters: filter}})

	case MessageTypeUnsubscribe:
		c.setFilter(nil)
		c.reply(Message{Type: MessageTypeAck, Data: unsubscribeAck{Unsubscribed: true}})

	case MessageTypeRequestProgress:
		// One progress message per tracked source, so a consumer
		// connecting mid-cycle sees the last known state immediately.
		for _, p := range c.hub.currentProgress() {
			c.reply(Message{Type: MessageTypeProgress, Data: p})
		}

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	}
}

// reply queues an outbound message, dropping it if this consumer cannot
// keep up.
func (c *Client) reply(msg Message) {
	select {
	case c.send <- msg:
	default:
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
