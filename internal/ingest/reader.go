// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package ingest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/medialogd/medialogd/internal/parse"
	"github.com/medialogd/medialogd/internal/statestore"
)

// fileReader drives one open file through its Grouper: it reads raw bytes
// from the last consumed offset, decodes them, splits complete lines, and
// buffers a trailing partial line until the writer finishes it.
//
// A fileReader is owned by exactly one worker, matching the Grouper's
// single-owner discipline.
type fileReader struct {
	path     string
	encoding string
	file     *os.File
	offset   int64
	partial  string
	decoder  *chunkDecoder
	grouper  *parse.Grouper
}

// openFileReader opens path for reading, resuming from a saved offset when
// one is valid for the file's current size. A file smaller than the saved
// offset was truncated or replaced and is read from the start.
func openFileReader(path, encoding string, resume *statestore.FileOffset, grouper *parse.Grouper) (*fileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	fr := &fileReader{
		path:     path,
		encoding: encoding,
		file:     f,
		grouper:  grouper,
	}

	if resume != nil && resume.Offset > 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() >= resume.Offset {
			if _, err := f.Seek(resume.Offset, io.SeekStart); err != nil {
				f.Close()
				return nil, fmt.Errorf("seek %s: %w", path, err)
			}
			fr.offset = resume.Offset
		}
	}

	fr.decoder, err = newChunkDecoder(encoding, fr.offset == 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return fr, nil
}

// maxReadChunk bounds one read pass so large backfills stay cancelable
// and memory use per file stays flat.
const maxReadChunk = 4 << 20

// ReadChunk consumes up to maxReadChunk bytes written since the last read
// and feeds complete lines to the Grouper. Callers loop until it returns
// zero. Safe to call repeatedly as the file grows.
func (fr *fileReader) ReadChunk() (int64, error) {
	info, err := fr.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", fr.path, err)
	}
	size := info.Size()

	if size < fr.offset {
		// Truncated in place: what remains is new content. The pending
		// entry belongs to the old content and is complete.
		fr.grouper.Flush()
		if _, err := fr.file.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("seek %s after truncation: %w", fr.path, err)
		}
		fr.offset = 0
		fr.partial = ""
		fr.decoder, err = newChunkDecoder(fr.encoding, true)
		if err != nil {
			return 0, err
		}
	}
	if size == fr.offset {
		return 0, nil
	}

	want := size - fr.offset
	if want > maxReadChunk {
		want = maxReadChunk
	}
	raw, err := io.ReadAll(io.LimitReader(fr.file, want))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", fr.path, err)
	}

	decoded, err := fr.decoder.Decode(raw, false)
	if err != nil {
		return 0, err
	}
	fr.offset += int64(len(raw))

	text := fr.partial + decoded
	lines := strings.Split(text, "\n")
	fr.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		fr.grouper.Line(strings.TrimSuffix(line, "\r"))
	}
	return int64(len(raw)), nil
}

// Finalize consumes any buffered partial line and flushes the pending
// entry. Called when a file's initial read completes and when a watched
// file is closed normally.
func (fr *fileReader) Finalize() {
	if tail, err := fr.decoder.Decode(nil, true); err == nil && tail != "" {
		fr.partial += tail
	}
	if fr.partial != "" {
		fr.grouper.Line(strings.TrimSuffix(fr.partial, "\r"))
		fr.partial = ""
	}
	fr.grouper.Flush()
}

// Abandon drops pending Grouper state without emitting, for cancellation.
func (fr *fileReader) Abandon() {
	fr.partial = ""
	fr.grouper.Discard()
}

// Offset returns the consumed byte offset used for resume checkpoints.
func (fr *fileReader) Offset() int64 {
	return fr.offset
}

// Lines returns the number of physical lines fed to the Grouper.
func (fr *fileReader) Lines() int64 {
	return fr.grouper.Lines()
}

// Close releases the file handle.
func (fr *fileReader) Close() error {
	return fr.file.Close()
}
