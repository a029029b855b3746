// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend implements the HTTP client for the chat service.
//
// The service exposes three endpoints:
//
//   - POST /auth   — exchange the fixed client identity for a bearer
//     credential (token, session id, expiry)
//   - POST /chat   — open a streaming reply for one user message
//   - GET  /health — liveness probe, diagnostics only
//
// # Transports
//
// How reply bytes reach the decoder is pluggable behind the Transport
// interface. EventStreamTransport reads the body incrementally line by line;
// ProgressiveTransport accumulates the body and re-feeds the growing buffer
// through the offset-idempotent decoder, matching transports that only
// expose a cumulative response snapshot. Both yield identical event
// sequences for the same bytes.
//
// # Error taxonomy
//
// Authentication failures (unreachable backend, non-2xx, malformed body)
// surface as *AuthenticationError; failures opening or reading the chat
// stream surface as *TransportError. Neither is retried silently.
package backend
