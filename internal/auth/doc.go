// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth keeps a usable session credential on hand.
//
// The authenticator sits between the conversation engine and the
// backend: callers ask for a valid credential and never see whether it
// came from the on-disk store or a fresh login. A credential is reused
// only while it stays fresh past a safety margin; anything expired,
// near expiry, or unreadable triggers a re-authentication against the
// backend, and the replacement is persisted before it is handed out.
package auth
