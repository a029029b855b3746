// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"log"

	"github.com/jeranaias/chatstream/internal/credential"
)

// RefreshMargin is the minimum remaining lifetime, in seconds, a stored
// credential must have to be reused. Anything closer to expiry gets
// replaced up front rather than risking a mid-turn rejection.
const RefreshMargin int64 = 300

// CredentialSource is the slice of the credential store the
// authenticator needs.
type CredentialSource interface {
	Load() (credential.Credential, bool, error)
	Save(credential.Credential) error
	Clear() error
}

// Backend performs the actual login against the remote service.
type Backend interface {
	Authenticate(ctx context.Context) (credential.Credential, error)
}

// Authenticator hands out valid session credentials, reusing the stored
// one while it is fresh and re-authenticating otherwise.
type Authenticator struct {
	store   CredentialSource
	backend Backend
}

func New(store CredentialSource, backend Backend) *Authenticator {
	return &Authenticator{store: store, backend: backend}
}

// EnsureValid returns a credential guaranteed fresh past RefreshMargin
// at the supplied epoch time.
//
// RELIABILITY: a store that cannot be read is treated as holding no
// credential — losing the cache must never block a login that would
// otherwise succeed. A store that cannot be WRITTEN fails the call,
// because handing out a credential we could not persist would make the
// next session silently re-authenticate and desynchronize the backend's
// session bookkeeping.
//
// No retries happen here. A failing auth endpoint is surfaced to the
// caller on the first attempt; retry policy belongs to whoever drives
// the conversation, where the user can see it.
func (a *Authenticator) EnsureValid(ctx context.Context, now int64) (credential.Credential, error) {
	cred, ok, err := a.store.Load()
	if err != nil {
		var serr *credential.StorageError
		if !errors.As(err, &serr) {
			return credential.Credential{}, err
		}
		log.Printf("auth: credential load failed, re-authenticating: %v", err)
		ok = false
	}
	if ok && cred.FreshUntil(now, RefreshMargin) {
		return cred, nil
	}

	fresh, err := a.backend.Authenticate(ctx)
	if err != nil {
		return credential.Credential{}, err
	}
	if err := a.store.Save(fresh); err != nil {
		return credential.Credential{}, err
	}
	log.Printf("auth: session established (token %s, expires %d)", fresh.TokenFingerprint(), fresh.ExpiresAt)
	return fresh, nil
}

// Invalidate drops the stored credential so the next EnsureValid call
// performs a fresh login. Used when the backend rejects a token the
// store still considers fresh.
func (a *Authenticator) Invalidate() error {
	return a.store.Clear()
}
