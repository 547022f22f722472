// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

/*
Package parse turns raw log file text into normalized entries.

Three layers, composed per source via the grammar registry:

  - Grammar.ParseHeader: pure line parser recognizing a source's header
    shape (timestamp + severity + optional thread/component + message) and
    mapping its severity vocabulary onto the canonical six-level enum.
  - Grouper: per-file stateful sequencer assembling multi-line entries
    (stack traces, inner exceptions) into single logical records.
  - ExtractCorrelation / BoostLevel: pure post-processing on the completed
    message text, extracting structured identifiers and escalating
    under-reported operational severity.

Grammars are registered per source type; adding support for another
application is one registry entry, not a new code path.
*/
package parse
