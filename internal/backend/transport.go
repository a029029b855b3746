// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend implements the HTTP client for the chat service.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/jeranaias/chatstream/internal/stream"
)

// =============================================================================
// TRANSPORT INTERFACE
// =============================================================================

// Transport consumes an open chat response body and delivers decoded events
// in wire order. Implementations differ only in how bytes reach the decoder;
// the decode rule itself is shared.
type Transport interface {
	// Name identifies the strategy for configuration and logging.
	Name() string

	// Stream reads body until a terminal event, EOF, or ctx cancellation.
	Stream(ctx context.Context, body io.Reader, fn stream.EventFunc) error
}

// NewTransport returns the transport selected by name. The empty string
// selects the event-stream default.
func NewTransport(name string) (Transport, error) {
	switch name {
	case "", "eventstream":
		return &EventStreamTransport{}, nil
	case "progressive":
		return &ProgressiveTransport{}, nil
	default:
		return nil, fmt.Errorf("unknown transport strategy %q", name)
	}
}

// =============================================================================
// EVENT-STREAM TRANSPORT
// =============================================================================

// EventStreamTransport decodes the body incrementally, line by line, as
// bytes arrive. This is the default strategy.
type EventStreamTransport struct{}

// Name implements Transport.
func (t *EventStreamTransport) Name() string { return "eventstream" }

// Stream implements Transport.
func (t *EventStreamTransport) Stream(ctx context.Context, body io.Reader, fn stream.EventFunc) error {
	return stream.NewReader(body).Process(ctx, fn)
}

// =============================================================================
// PROGRESSIVE TRANSPORT
// =============================================================================

// defaultReadChunk is the per-read buffer for the progressive strategy.
const defaultReadChunk = 4 * 1024

// ProgressiveTransport accumulates the response body and re-feeds the
// growing cumulative buffer through the decoder after every read. This
// models transports that only expose a cumulative response snapshot (the
// long-poll style); the decoder's consumed offset keeps re-feeding
// idempotent.
type ProgressiveTransport struct {
	// ChunkSize overrides the per-read buffer size; zero means default.
	ChunkSize int
}

// Name implements Transport.
func (t *ProgressiveTransport) Name() string { return "progressive" }

// Stream implements Transport.
func (t *ProgressiveTransport) Stream(ctx context.Context, body io.Reader, fn stream.EventFunc) error {
	chunkSize := t.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultReadChunk
	}

	dec := stream.NewDecoder()
	var cumulative []byte
	buf := make([]byte, chunkSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			cumulative = append(cumulative, buf[:n]...)
			for _, ev := range dec.Feed(cumulative) {
				fn(ev)
			}
			if dec.Done() {
				return nil
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
