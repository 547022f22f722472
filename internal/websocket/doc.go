// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

/*
Package websocket implements the distribution gateway: real-time fan-out
of normalized log entries and progress events to connected consumers over
gorilla/websocket.

Each connection carries at most one subscription filter (source, level
set, ingestion-method set); a subscribe replaces the previous filter, an
unsubscribe or disconnect removes it. Entry messages are delivered only
to matching connections; progress and backfill events go to everyone.

Delivery is best-effort. Every client has a bounded send buffer; when it
fills, messages for that client are dropped rather than queued, so a
stalled consumer can never apply backpressure to ingestion. The entry
store is the durable record.
*/
package websocket
