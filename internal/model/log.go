// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for the conversation log.
package model

// =============================================================================
// MESSAGE LOG
// =============================================================================

// Log is the ordered, append-only sequence of conversation turns. Entries are
// never reordered or deleted; only the last entry may mutate, and only while
// it is streaming.
//
// Log is not internally synchronized: it is owned by exactly one writer (the
// conversation engine), which serializes access and hands read-only snapshots
// to everyone else.
type Log struct {
	messages []*Message
}

// NewLog creates an empty message log.
func NewLog() *Log {
	return &Log{messages: make([]*Message, 0)}
}

// Append adds a message to the end of the log.
func (l *Log) Append(msg *Message) {
	l.messages = append(l.messages, msg)
}

// Len returns the number of messages.
func (l *Log) Len() int {
	return len(l.messages)
}

// StreamingCount returns the number of messages currently in streaming state.
// The engine maintains the invariant that this is never greater than one.
func (l *Log) StreamingCount() int {
	n := 0
	for _, msg := range l.messages {
		if msg.Status == StatusStreaming {
			n++
		}
	}
	return n
}

// Snapshot returns value copies of all messages in conversation order.
// Mutating the returned slice has no effect on the log.
func (l *Log) Snapshot() []Message {
	out := make([]Message, len(l.messages))
	for i, msg := range l.messages {
		out[i] = msg.Snapshot()
	}
	return out
}
