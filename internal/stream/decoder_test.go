// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"testing"
)

// collectDeltas concatenates the text of all delta events.
func collectDeltas(events []Event) string {
	out := ""
	for _, ev := range events {
		if ev.Kind == KindDelta {
			out += ev.Text
		}
	}
	return out
}

// =============================================================================
// DECODER TESTS
// =============================================================================

func TestDecoder_BasicStream(t *testing.T) {
	wire := "data: {\"response\":\"Hi\"}\n\ndata: {\"response\":\" there\"}\n\ndata: [DONE]\n\n"

	d := NewDecoder()
	events := d.Feed([]byte(wire))

	if got := collectDeltas(events); got != "Hi there" {
		t.Errorf("deltas = %q, want 'Hi there'", got)
	}
	last := events[len(events)-1]
	if last.Kind != KindDone {
		t.Errorf("last event = %v, want done", last.Kind)
	}
	if !d.Done() {
		t.Error("decoder should be done after [DONE]")
	}
}

func TestDecoder_IncrementalEqualsOneShot(t *testing.T) {
	wire := "data: {\"status\":\"processing\"}\n\n" +
		"data: {\"response\":\"alpha \"}\n\n" +
		"data: {\"response\":\"beta \"}\n\n" +
		"data: {\"response\":\"gamma\"}\n\n" +
		"data: [DONE]\n\n"

	oneShot := NewDecoder().Feed([]byte(wire))

	// Feed cumulative snapshots byte by byte, the worst possible chunking.
	d := NewDecoder()
	var incremental []Event
	for i := 1; i <= len(wire); i++ {
		incremental = append(incremental, d.Feed([]byte(wire[:i]))...)
	}

	if len(incremental) != len(oneShot) {
		t.Fatalf("event count %d != %d", len(incremental), len(oneShot))
	}
	for i := range oneShot {
		if incremental[i] != oneShot[i] {
			t.Errorf("event %d: %+v != %+v", i, incremental[i], oneShot[i])
		}
	}
	if collectDeltas(incremental) != "alpha beta gamma" {
		t.Errorf("deltas = %q", collectDeltas(incremental))
	}
}

func TestDecoder_IdempotentRefeed(t *testing.T) {
	wire := "data: {\"response\":\"once\"}\n\n"

	d := NewDecoder()
	first := d.Feed([]byte(wire))
	if len(first) != 1 || first[0].Text != "once" {
		t.Fatalf("first feed = %+v", first)
	}

	// Same cumulative buffer again: nothing new, nothing re-emitted.
	again := d.Feed([]byte(wire))
	if len(again) != 0 {
		t.Errorf("re-feed emitted %d events, want 0", len(again))
	}
}

func TestDecoder_PartialFrameBuffered(t *testing.T) {
	d := NewDecoder()

	// Line split across two deliveries must not parse prematurely.
	events := d.Feed([]byte("data: {\"respo"))
	if len(events) != 0 {
		t.Fatalf("partial frame emitted %d events", len(events))
	}

	events = d.Feed([]byte("data: {\"response\":\"whole\"}\n"))
	if len(events) != 1 || events[0].Text != "whole" {
		t.Fatalf("completed frame = %+v", events)
	}
}

func TestDecoder_ErrorSentinel(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("data: Error:insufficient funds\n\n"))

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != KindError {
		t.Errorf("Kind = %v, want error", events[0].Kind)
	}
	if events[0].Text != "Error:insufficient funds" {
		t.Errorf("Text = %q, want full error payload", events[0].Text)
	}
	if !d.Done() {
		t.Error("in-band error is terminal")
	}
}

func TestDecoder_StatusMarkerNotContent(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("data: {\"status\":\"processing\"}\n\ndata: {\"response\":\"x\"}\n\n"))

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != KindStatus || events[0].Text != "processing" {
		t.Errorf("events[0] = %+v, want processing status", events[0])
	}
	if collectDeltas(events) != "x" {
		t.Errorf("status marker leaked into content: %q", collectDeltas(events))
	}
}

func TestDecoder_UnknownFramesDropped(t *testing.T) {
	wire := ": comment line\n" +
		"retry: 3000\n" +
		"data: {\"unknown_field\":true}\n" +
		"data: not json at all\n" +
		"data: {\"response\":\"kept\"}\n" +
		"data: [DONE]\n"

	d := NewDecoder()
	events := d.Feed([]byte(wire))

	if collectDeltas(events) != "kept" {
		t.Errorf("deltas = %q, want 'kept'", collectDeltas(events))
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want delta + done", len(events))
	}
}

func TestDecoder_NothingAfterTerminal(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("data: [DONE]\n"))

	events := d.Feed([]byte("data: [DONE]\ndata: {\"response\":\"late\"}\n"))
	if len(events) != 0 {
		t.Errorf("events after terminal = %d, want 0", len(events))
	}
}

func TestDecoder_CRLFLines(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("data: {\"response\":\"crlf\"}\r\n\r\ndata: [DONE]\r\n"))

	if collectDeltas(events) != "crlf" {
		t.Errorf("deltas = %q, want 'crlf'", collectDeltas(events))
	}
	if events[len(events)-1].Kind != KindDone {
		t.Error("missing done event")
	}
}

func TestDecoder_ShrunkenBufferRefused(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("data: {\"response\":\"abc\"}\n"))

	events := d.Feed([]byte("data:"))
	if len(events) != 0 {
		t.Errorf("shrunken buffer emitted %d events", len(events))
	}
}
