// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credential persists the session credential between runs.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// =============================================================================
// CREDENTIAL TYPE
// =============================================================================

// Credential is the bearer token, session identifier and expiry used to
// authorize chat requests. It is replaced wholesale on refresh, never mutated
// field-by-field.
type Credential struct {
	Token     string
	SessionID string
	ExpiresAt int64 // epoch seconds
}

// Complete reports whether all three fields are populated. A credential with
// any missing field is treated as no credential at all.
func (c Credential) Complete() bool {
	return c.Token != "" && c.SessionID != "" && c.ExpiresAt > 0
}

// FreshUntil reports whether the credential is still valid at now plus the
// given margin, both in epoch seconds.
func (c Credential) FreshUntil(now, margin int64) bool {
	return c.ExpiresAt > now+margin
}

// TokenFingerprint returns a short SHA-256 fingerprint of the token for
// logging.
// SECURITY: Never log token fragments - use the fingerprint instead.
func (c Credential) TokenFingerprint() string {
	if c.Token == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.Token))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// STORAGE ERRORS
// =============================================================================

// StorageError indicates the durable store is unavailable or corrupt.
// Callers recover by treating the credential as absent and re-authenticating;
// a StorageError during save is surfaced as-is.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("credential storage %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr wraps an underlying failure with the operation that hit it.
func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
