// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend implements the HTTP client for the chat service.
package backend

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrAuthThrottled indicates the local limiter refused an authentication
// attempt. Retry policy is the caller's; the limiter only bounds how fast
// manual retries can land on a failing auth endpoint.
var ErrAuthThrottled = errors.New("authentication attempts throttled")

// AuthenticationError indicates the backend rejected or failed the
// authentication exchange. It is surfaced to the caller and never silently
// retried.
type AuthenticationError struct {
	Err error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// TransportError indicates a network failure or non-2xx status while opening
// or reading the chat stream. Partial content received before the failure is
// preserved by the engine, not discarded.
type TransportError struct {
	Status int // HTTP status, 0 for network-level failures
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("chat transport failed (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("chat transport failed: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}
