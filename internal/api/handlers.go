// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/models"
	"github.com/medialogd/medialogd/internal/store"
	ws "github.com/medialogd/medialogd/internal/websocket"
)

// maxQueryLimit caps a single log page regardless of the requested limit.
const maxQueryLimit = 1000

// Response is the JSON envelope every endpoint returns.
type Response struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// APIError carries a machine-readable code alongside the human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LogsPage is the /logs response payload. NextBeforeTime and NextBeforeID
// form the keyset cursor for the following page; both are empty when this
// page is the last one.
type LogsPage struct {
	Entries        []*models.LogEntry `json:"entries"`
	Count          int                `json:"count"`
	NextBeforeTime string             `json:"next_before_time,omitempty"`
	NextBeforeID   string             `json:"next_before_id,omitempty"`
}

// SourcesView is the /sources response payload.
type SourcesView struct {
	Sources []*models.SourceProgress `json:"sources"`
	Global  models.GlobalSyncStatus  `json:"global"`
}

func respondJSON(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &Response{
		Status: "error",
		Error:  &APIError{Code: code, Message: message},
	})
}

// Logs serves a filtered page of stored entries, newest first.
//
// Query parameters: source_id, levels and methods (comma separated),
// since and until (RFC3339), limit, and the keyset cursor pair
// before_time plus before_id.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	q, err := parseLogsQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	entries, err := h.store.Query(r.Context(), q)
	if err != nil {
		logging.Error().Err(err).Msg("Log query failed")
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "log query failed")
		return
	}

	page := &LogsPage{Entries: entries, Count: len(entries)}
	if len(entries) > 0 && len(entries) == q.Limit {
		last := entries[len(entries)-1]
		page.NextBeforeTime = last.Timestamp.Format(time.RFC3339Nano)
		page.NextBeforeID = last.ID.String()
	}

	respondJSON(w, http.StatusOK, &Response{Status: "success", Data: page})
}

func parseLogsQuery(r *http.Request) (store.EntryQuery, error) {
	var q store.EntryQuery
	params := r.URL.Query()

	filter := &models.EntryFilter{SourceID: params.Get("source_id")}

	if raw := params.Get("levels"); raw != "" {
		for _, tok := range strings.Split(raw, ",") {
			level := models.LogLevel(strings.ToLower(strings.TrimSpace(tok)))
			if !level.Valid() {
				return q, fmt.Errorf("unknown level %q", tok)
			}
			filter.Levels = append(filter.Levels, level)
		}
	}

	if raw := params.Get("methods"); raw != "" {
		for _, tok := range strings.Split(raw, ",") {
			method := models.IngestMethod(strings.TrimSpace(tok))
			if method != models.MethodFileTail && method != models.MethodLiveAPI {
				return q, fmt.Errorf("unknown method %q", tok)
			}
			filter.Methods = append(filter.Methods, method)
		}
	}
	q.Filter = filter

	var err error
	if q.Since, err = parseTimeParam(params.Get("since")); err != nil {
		return q, fmt.Errorf("invalid since: %w", err)
	}
	if q.Until, err = parseTimeParam(params.Get("until")); err != nil {
		return q, fmt.Errorf("invalid until: %w", err)
	}
	if q.BeforeTime, err = parseTimeParam(params.Get("before_time")); err != nil {
		return q, fmt.Errorf("invalid before_time: %w", err)
	}
	q.BeforeID = params.Get("before_id")
	if !q.BeforeTime.IsZero() && q.BeforeID == "" {
		return q, fmt.Errorf("before_time requires before_id")
	}

	q.Limit = 100
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = min(n, maxQueryLimit)
	}

	return q, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// Sources serves the latest per-source progress snapshots plus the derived
// global sync status.
func (h *Handler) Sources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &Response{
		Status: "success",
		Data: &SourcesView{
			Sources: h.agg.Snapshot(),
			Global:  h.agg.GlobalStatus(),
		},
	})
}

// Status serves only the global sync status, for cheap polling.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.agg.GlobalStatus()
	respondJSON(w, http.StatusOK, &Response{Status: "success", Data: &status})
}

// Health reports liveness plus a couple of cheap gauges.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &Response{
		Status: "success",
		Data: map[string]any{
			"status":            "ok",
			"websocket_clients": h.hub.GetClientCount(),
			"timestamp":         time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// WebSocket upgrades the connection and hands it to the distribution hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := gorillaws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		logging.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// checkOrigin validates the Origin header against the configured allow
// list. Requests without an Origin header (curl, scripts) are accepted;
// only cross-origin browser connections are filtered.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.cfg == nil || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
