// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for the conversation log.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status is the per-message state machine. A message starts pending or
// streaming, and once it reaches a terminal status its content is frozen.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusErrored, StatusCancelled:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single conversational turn.
//
// Content is append-only while the message is streaming and immutable once a
// terminal status is reached. Streamed fragments accumulate in a separate
// builder and are merged into Content on finalize.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// Content
	Content string `json:"content"`
	Status  Status `json:"status"`

	// Streaming state (not persisted)
	// PERFORMANCE: []byte append avoids quadratic allocations during streaming
	streamContent []byte
}

// NewUserMessage creates a user message. User messages are complete the
// moment they are created.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      RoleUser,
		Content:   content,
		Status:    StatusComplete,
		CreatedAt: time.Now(),
	}
}

// NewAssistantPlaceholder creates an empty assistant message in streaming
// state, ready to receive deltas.
func NewAssistantPlaceholder() *Message {
	return &Message{
		ID:        generateID(),
		Role:      RoleAssistant,
		Status:    StatusStreaming,
		CreatedAt: time.Now(),
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendDelta appends a content fragment to a streaming message.
// Ignored once the message has reached a terminal status.
func (m *Message) AppendDelta(text string) {
	if m.Status == StatusStreaming {
		m.streamContent = append(m.streamContent, text...)
	}
}

// Finalize merges any streamed content into Content and moves the message to
// the given terminal status. Calling Finalize on an already-terminal message
// is a no-op.
func (m *Message) Finalize(status Status) {
	if m.Status.Terminal() || !status.Terminal() {
		return
	}
	if len(m.streamContent) > 0 {
		m.Content += string(m.streamContent)
		m.streamContent = nil
	}
	m.Status = status
}

// FailWith replaces the message content wholesale with an error explanation
// and marks the message errored. Used when the backend reported an in-band
// error or never produced output; accumulated partial content is discarded
// because the error text supersedes it.
func (m *Message) FailWith(explanation string) {
	if m.Status.Terminal() {
		return
	}
	m.streamContent = nil
	m.Content = explanation
	m.Status = StatusErrored
}

// DisplayContent returns the content to render: streamed-so-far while
// streaming, final content otherwise.
func (m *Message) DisplayContent() string {
	if m.Status == StatusStreaming && len(m.streamContent) > 0 {
		return m.Content + string(m.streamContent)
	}
	return m.Content
}

// IsEmpty reports whether the message has no content at all.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && len(m.streamContent) == 0
}

// Snapshot returns a value copy safe to hand to observers. The copy carries
// the display content and never aliases the streaming builder.
func (m *Message) Snapshot() Message {
	return Message{
		ID:        m.ID,
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
		Content:   m.DisplayContent(),
		Status:    m.Status,
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique message ID.
func generateID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
