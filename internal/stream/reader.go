// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the backend's newline-delimited reply protocol.
package stream

import (
	"bufio"
	"context"
	"io"
)

// =============================================================================
// INCREMENTAL READER
// =============================================================================

// EventFunc receives decoded events in wire order.
type EventFunc func(Event)

// Reader decodes events line-by-line from a live response body. It applies
// the same decode rule as Decoder but consumes an io.Reader directly, which
// suits transports that deliver only new bytes per read.
type Reader struct {
	reader *bufio.Reader
}

// NewReader creates a reader over a response body.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Process reads the stream until a terminal event, EOF, or context
// cancellation, invoking fn for each decoded event. A final line without a
// trailing newline is still decoded at EOF.
//
// EOF without a terminal event returns nil; distinguishing "stream ended
// cleanly" from "backend never finished" is the caller's policy, decided from
// the events it saw.
func (r *Reader) Process(ctx context.Context, fn EventFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := r.reader.ReadBytes('\n')
		if len(line) > 0 {
			if ev, ok := decodeLine(line); ok {
				fn(ev)
				if ev.Terminal() {
					return nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
