// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/jeranaias/chatstream/internal/credential"
)

type fakeStore struct {
	cred    credential.Credential
	present bool
	loadErr error
	saveErr error
	saved   int
	cleared int
}

func (s *fakeStore) Load() (credential.Credential, bool, error) {
	return s.cred, s.present, s.loadErr
}

func (s *fakeStore) Save(c credential.Credential) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.cred, s.present = c, true
	s.saved++
	return nil
}

func (s *fakeStore) Clear() error {
	s.cred, s.present = credential.Credential{}, false
	s.cleared++
	return nil
}

type fakeBackend struct {
	cred  credential.Credential
	err   error
	calls int
}

func (b *fakeBackend) Authenticate(ctx context.Context) (credential.Credential, error) {
	b.calls++
	return b.cred, b.err
}

func TestEnsureValidReusesFreshCredential(t *testing.T) {
	stored := credential.Credential{Token: "t", SessionID: "s", ExpiresAt: 1000}
	store := &fakeStore{cred: stored, present: true}
	backend := &fakeBackend{}

	got, err := New(store, backend).EnsureValid(context.Background(), 600)
	if err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if got != stored {
		t.Errorf("got %+v, want stored credential", got)
	}
	if backend.calls != 0 {
		t.Errorf("backend called %d times, want 0", backend.calls)
	}
}

func TestEnsureValidRefreshesNearExpiry(t *testing.T) {
	// 60 seconds of life left is inside the 300-second margin.
	store := &fakeStore{
		cred:    credential.Credential{Token: "old", SessionID: "s", ExpiresAt: 1060},
		present: true,
	}
	fresh := credential.Credential{Token: "new", SessionID: "s2", ExpiresAt: 9999}
	backend := &fakeBackend{cred: fresh}

	got, err := New(store, backend).EnsureValid(context.Background(), 1000)
	if err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if got != fresh {
		t.Errorf("got %+v, want refreshed credential", got)
	}
	if store.saved != 1 {
		t.Errorf("saved %d times, want 1", store.saved)
	}
}

func TestEnsureValidAuthenticatesWhenAbsent(t *testing.T) {
	fresh := credential.Credential{Token: "new", SessionID: "s", ExpiresAt: 9999}
	store := &fakeStore{}
	backend := &fakeBackend{cred: fresh}

	got, err := New(store, backend).EnsureValid(context.Background(), 0)
	if err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if got != fresh {
		t.Errorf("got %+v, want fresh credential", got)
	}
}

func TestEnsureValidBackendFailurePropagates(t *testing.T) {
	wantErr := errors.New("login refused")
	a := New(&fakeStore{}, &fakeBackend{err: wantErr})

	if _, err := a.EnsureValid(context.Background(), 0); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestEnsureValidStorageReadFailureDegradesToLogin(t *testing.T) {
	store := &fakeStore{
		loadErr: &credential.StorageError{Op: "load", Err: errors.New("disk gone")},
	}
	fresh := credential.Credential{Token: "t", SessionID: "s", ExpiresAt: 9999}
	backend := &fakeBackend{cred: fresh}

	got, err := New(store, backend).EnsureValid(context.Background(), 0)
	if err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if got != fresh {
		t.Errorf("got %+v, want fresh credential despite unreadable store", got)
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1", backend.calls)
	}
}

func TestEnsureValidSaveFailureFailsCall(t *testing.T) {
	saveErr := &credential.StorageError{Op: "save", Err: errors.New("readonly fs")}
	store := &fakeStore{saveErr: saveErr}
	backend := &fakeBackend{cred: credential.Credential{Token: "t", SessionID: "s", ExpiresAt: 9999}}

	if _, err := New(store, backend).EnsureValid(context.Background(), 0); !errors.Is(err, saveErr) {
		t.Errorf("err = %v, want save failure", err)
	}
}

func TestInvalidateClearsStore(t *testing.T) {
	store := &fakeStore{cred: credential.Credential{Token: "t"}, present: true}
	a := New(store, &fakeBackend{})

	if err := a.Invalidate(); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if store.cleared != 1 || store.present {
		t.Errorf("store not cleared: cleared=%d present=%v", store.cleared, store.present)
	}
}
