// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package api exposes the HTTP surface: the query endpoints over the entry
// store, progress snapshots from the aggregator, and the WebSocket upgrade
// into the distribution hub.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medialogd/medialogd/internal/config"
	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/metrics"
	"github.com/medialogd/medialogd/internal/progress"
	"github.com/medialogd/medialogd/internal/store"
	ws "github.com/medialogd/medialogd/internal/websocket"
)

// Handler carries the dependencies the HTTP endpoints read from. It holds
// no mutable state of its own.
type Handler struct {
	cfg   *config.ServerConfig
	store store.EntryStore
	agg   *progress.Aggregator
	hub   *ws.Hub
}

// NewHandler wires the endpoint dependencies.
func NewHandler(cfg *config.ServerConfig, st store.EntryStore, agg *progress.Aggregator, hub *ws.Hub) *Handler {
	return &Handler{cfg: cfg, store: st, agg: agg, hub: hub}
}

// Routes builds the Chi router with the full middleware stack.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(observeRequests)

		r.Get("/logs", h.Logs)
		r.Get("/sources", h.Sources)
		r.Get("/status", h.Status)
		r.Get("/ws", h.WebSocket)
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogging emits one structured line per request. The WebSocket
// upgrade is logged on connect, not on close, so its duration is the
// handshake only.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// observeRequests records request latency against the matched route
// pattern.
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(wrapped.Status())).
			Observe(time.Since(start).Seconds())
	})
}
