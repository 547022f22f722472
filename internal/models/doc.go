// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package models defines the canonical data shapes shared across the
// ingestion pipeline: the normalized log entry, per-source sync progress,
// the derived global sync status, backfill reporting, and the per-consumer
// entry filter.
//
// Everything in this package is plain data. Behavior lives with the
// components that own it; the only logic here is derivation (progress
// percentages, global status) and pure predicates (filter matching) that
// multiple packages need to agree on.
package models
