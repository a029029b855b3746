// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the backend's newline-delimited reply protocol.
//
// The backend produces an event-delimited text stream where each meaningful
// frame has the form "data: <payload>". A payload is one of:
//
//   - the literal sentinel "[DONE]", signalling completion
//   - an in-band error beginning with "Error:"
//   - a JSON object {"status":"processing"} (control signal, not content)
//   - a JSON object {"response":"<fragment>"} (a content delta)
//
// Unrecognized frames are logged and dropped so that new backend fields never
// abort an in-flight reply.
//
// # Two faces, one decode rule
//
// Depending on how the transport delivers bytes, callers use either:
//
//   - Decoder: repeated Feed calls with a snapshot of the cumulative response
//     buffer. Feed is idempotent with respect to the already-consumed offset
//     and buffers trailing partial lines until a terminator arrives.
//   - Reader: an incremental line loop over a live io.Reader body.
//
// Both produce the same Event sequence for the same bytes; the equivalence is
// pinned by tests.
package stream
