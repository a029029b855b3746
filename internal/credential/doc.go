// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credential persists the session credential between runs.
//
// A credential is the triple (bearer token, session id, expiry). It lives in
// a sqlite key-value table with one row per slot; the three slots are always
// written in a single transaction, so a crash can never leave a half-written
// credential behind. Load returns the triple only when all three slots are
// present and intact: a partial or undecryptable credential reads back as
// absent, which simply triggers re-authentication upstream.
//
// The bearer token is encrypted at rest with AES-256-GCM. The cipher key is
// derived with PBKDF2-SHA-256 from a random secret kept in a 0600 key file
// next to the database.
package credential
