// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine drives conversation turns against the streaming backend.
//
// The engine owns the message log and is the only writer to it. A turn
// moves through Idle, Authenticating, Sending, and Streaming before
// settling in one of three terminal states: Completed, Errored, or
// Cancelled. At most one turn is ever in flight; starting a new one
// first aborts the previous request and waits for its goroutine to
// stand down, so interleaved deltas from two requests can never land
// on the same message.
//
// Observers register a snapshot callback and receive value copies of
// the full log after every visible change. They never touch live
// engine state.
package engine
