// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// utf8BOM is stripped from the start of UTF-8 files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// chunkDecoder converts raw file bytes to UTF-8 incrementally. It carries
// transformer state and any undecoded trailing bytes between chunks, so a
// multi-byte sequence split at a chunk boundary decodes intact once the
// rest of it arrives.
type chunkDecoder struct {
	transformer transform.Transformer
	stripBOM    bool
	pending     []byte
}

// newChunkDecoder builds a decoder for one file read. atStart is true when
// reading begins at byte offset zero, the only place a BOM may appear.
func newChunkDecoder(encodingName string, atStart bool) (*chunkDecoder, error) {
	switch normalizeEncoding(encodingName) {
	case "utf-8":
		return &chunkDecoder{stripBOM: atStart}, nil
	case "utf-16le":
		return &chunkDecoder{transformer: utf16Decoder(unicode.LittleEndian, atStart)}, nil
	case "utf-16be":
		return &chunkDecoder{transformer: utf16Decoder(unicode.BigEndian, atStart)}, nil
	case "latin-1":
		return &chunkDecoder{transformer: charmap.ISO8859_1.NewDecoder()}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encodingName)
	}
}

// Decode converts one chunk. atEOF signals that no more bytes follow, which
// flushes any held state; pass nil raw with atEOF to drain.
func (d *chunkDecoder) Decode(raw []byte, atEOF bool) (string, error) {
	if d.transformer == nil {
		// UTF-8 passes through; split sequences survive because the
		// caller joins chunks byte-wise around newline splits.
		if d.stripBOM {
			raw = bytes.TrimPrefix(raw, utf8BOM)
			d.stripBOM = false
		}
		return string(raw), nil
	}

	src := raw
	if len(d.pending) > 0 {
		src = append(d.pending, raw...)
		d.pending = nil
	}

	var sb strings.Builder
	dst := make([]byte, 4096)
	for {
		nDst, nSrc, err := d.transformer.Transform(dst, src, atEOF)
		sb.Write(dst[:nDst])
		src = src[nSrc:]
		switch {
		case err == nil:
			return sb.String(), nil
		case errors.Is(err, transform.ErrShortDst):
			// dst filled; keep transforming the remainder.
		case errors.Is(err, transform.ErrShortSrc) && !atEOF:
			// An incomplete sequence at the chunk edge waits for the
			// next chunk.
			d.pending = append([]byte(nil), src...)
			return sb.String(), nil
		default:
			return "", fmt.Errorf("decode chunk: %w", err)
		}
	}
}

// decodeBytes converts one complete buffer, for callers that have the whole
// content in hand.
func decodeBytes(raw []byte, encodingName string, atStart bool) (string, error) {
	d, err := newChunkDecoder(encodingName, atStart)
	if err != nil {
		return "", err
	}
	return d.Decode(raw, true)
}

// ValidEncoding reports whether name is a supported text encoding.
func ValidEncoding(name string) bool {
	switch normalizeEncoding(name) {
	case "utf-8", "utf-16le", "utf-16be", "latin-1":
		return true
	}
	return false
}

func normalizeEncoding(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return "utf-8"
	case "utf-16le", "utf16le":
		return "utf-16le"
	case "utf-16be", "utf16be":
		return "utf-16be"
	case "latin-1", "latin1", "iso-8859-1":
		return "latin-1"
	default:
		return name
	}
}

func utf16Decoder(endianness unicode.Endianness, atStart bool) transform.Transformer {
	// A BOM can only be honored at the start of the file; resumed reads
	// must not interpret data bytes as one.
	bom := unicode.IgnoreBOM
	if atStart {
		bom = unicode.UseBOM
	}
	return unicode.UTF16(endianness, bom).NewDecoder()
}
