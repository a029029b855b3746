// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the backend's newline-delimited reply protocol.
package stream

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
)

// =============================================================================
// WIRE CONSTANTS
// =============================================================================

const (
	// dataPrefix marks a meaningful frame; other lines are protocol noise.
	dataPrefix = "data:"

	// doneSentinel is the terminal marker payload.
	doneSentinel = "[DONE]"

	// errorSentinel prefixes an in-band backend error payload.
	errorSentinel = "Error:"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Kind identifies the semantic type of a decoded event.
type Kind int

const (
	// KindDelta is a content fragment to append to the assistant message.
	KindDelta Kind = iota
	// KindStatus is a non-content control signal (e.g. "processing").
	KindStatus
	// KindDone is the terminal marker; no further events follow.
	KindDone
	// KindError is an in-band backend error; terminal.
	KindError
)

// String returns the name of the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindStatus:
		return "status"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single decoded protocol event.
type Event struct {
	Kind Kind

	// Text carries the content fragment for KindDelta, the status name for
	// KindStatus, and the full error payload for KindError.
	Text string
}

// Terminal reports whether no further events can follow this one.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// framePayload is the structured form of a JSON frame payload.
type framePayload struct {
	Status   string `json:"status"`
	Response string `json:"response"`
}

// =============================================================================
// CUMULATIVE DECODER
// =============================================================================

// Decoder decodes events from a response buffer that grows monotonically as
// network data arrives. Feed may be called with the same cumulative buffer
// any number of times: the consumed offset guarantees already-emitted events
// are never re-emitted, and a trailing line without a terminator stays
// buffered until its terminator shows up.
//
// State is per-request. Create a fresh Decoder for every outbound request.
type Decoder struct {
	offset int
	done   bool
}

// NewDecoder creates a decoder positioned at the start of the buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Consumed returns the byte offset already parsed from the cumulative buffer.
func (d *Decoder) Consumed() int {
	return d.offset
}

// Done reports whether a terminal event has been emitted.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed decodes all complete lines that arrived since the last call and
// returns their events in wire order. The argument must be a snapshot of the
// cumulative response buffer, i.e. its prefix matches previously fed content.
func (d *Decoder) Feed(cumulative []byte) []Event {
	if d.done {
		return nil
	}
	if len(cumulative) < d.offset {
		// A shrinking buffer means the caller handed us a different request's
		// data; refuse to parse rather than emit garbage.
		log.Printf("stream: cumulative buffer shrank (%d < %d), frame dropped", len(cumulative), d.offset)
		return nil
	}

	var events []Event
	for {
		rest := cumulative[d.offset:]
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			// Partial frame: wait for the terminator.
			break
		}
		line := rest[:nl]
		d.offset += nl + 1

		ev, ok := decodeLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Terminal() {
			d.done = true
			break
		}
	}
	return events
}

// =============================================================================
// LINE DECODING
// =============================================================================

// decodeLine decodes one wire line into an event. The second return is false
// for blank lines, non-data lines, and unrecognized payloads (which are
// logged and dropped, never fatal).
func decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return Event{}, false
	}

	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		// Unknown field (id:, retry:, comments). Ignore per SSE convention.
		return Event{}, false
	}

	payload := strings.TrimSpace(string(line[len(dataPrefix):]))
	if payload == "" {
		return Event{}, false
	}

	if payload == doneSentinel {
		return Event{Kind: KindDone}, true
	}

	if strings.HasPrefix(payload, errorSentinel) {
		return Event{Kind: KindError, Text: payload}, true
	}

	var frame framePayload
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		log.Printf("stream: dropping malformed frame: %v", err)
		return Event{}, false
	}

	if frame.Status == "processing" {
		return Event{Kind: KindStatus, Text: frame.Status}, true
	}
	if frame.Response != "" {
		return Event{Kind: KindDelta, Text: frame.Response}, true
	}

	// Forward compatibility: unknown payload shapes must not abort the stream.
	log.Printf("stream: dropping unrecognized frame payload")
	return Event{}, false
}
