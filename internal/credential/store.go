// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credential persists the session credential between runs.
package credential

import (
	"crypto/cipher"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SLOT NAMES
// =============================================================================

const (
	slotToken     = "token"
	slotSessionID = "session_id"
	slotExpiresAt = "expires_at"
)

// =============================================================================
// CREDENTIAL STORE
// =============================================================================

// Store holds at most one credential in a sqlite key-value table. All three
// slots are written or deleted in one transaction; Load returns absent unless
// the complete triple reads back intact.
type Store struct {
	db   *sql.DB
	aead cipher.AEAD
}

// Open opens (creating if necessary) the credential database at dbPath. The
// encryption key file lives next to it.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, storageErr("open", err)
	}

	aead, err := loadCipher(dbPath + ".key")
	if err != nil {
		return nil, storageErr("open", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storageErr("open", err)
	}

	// Single writer, single connection keeps sqlite locking trivial.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credential_slots (
			slot  TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}

	return &Store{db: db, aead: aead}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// LOAD
// =============================================================================

// Load returns the stored credential. The second return is false when no
// complete credential exists; a partial or corrupt triple counts as absent,
// not as an error. Only infrastructure failures produce a StorageError.
func (s *Store) Load() (Credential, bool, error) {
	rows, err := s.db.Query(`SELECT slot, value FROM credential_slots`)
	if err != nil {
		return Credential{}, false, storageErr("load", err)
	}
	defer rows.Close()

	slots := make(map[string]string, 3)
	for rows.Next() {
		var slot, value string
		if err := rows.Scan(&slot, &value); err != nil {
			return Credential{}, false, storageErr("load", err)
		}
		slots[slot] = value
	}
	if err := rows.Err(); err != nil {
		return Credential{}, false, storageErr("load", err)
	}

	sealed, okT := slots[slotToken]
	sessionID, okS := slots[slotSessionID]
	expiresRaw, okE := slots[slotExpiresAt]
	if !okT || !okS || !okE {
		return Credential{}, false, nil
	}

	token, err := open(s.aead, sealed)
	if err != nil {
		log.Printf("credential: stored token unreadable, treating as absent")
		return Credential{}, false, nil
	}

	expiresAt, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		log.Printf("credential: stored expiry unreadable, treating as absent")
		return Credential{}, false, nil
	}

	cred := Credential{Token: token, SessionID: sessionID, ExpiresAt: expiresAt}
	if !cred.Complete() {
		return Credential{}, false, nil
	}
	return cred, true, nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save persists the credential, replacing any previous one. The three slots
// are upserted inside a single transaction so the store never holds a
// half-written credential.
func (s *Store) Save(cred Credential) error {
	if !cred.Complete() {
		return storageErr("save", errors.New("refusing to persist incomplete credential"))
	}

	sealed, err := seal(s.aead, cred.Token)
	if err != nil {
		return storageErr("save", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("save", err)
	}
	defer tx.Rollback()

	upsert := `INSERT INTO credential_slots (slot, value) VALUES (?, ?)
		ON CONFLICT(slot) DO UPDATE SET value = excluded.value`

	for _, pair := range [][2]string{
		{slotToken, sealed},
		{slotSessionID, cred.SessionID},
		{slotExpiresAt, strconv.FormatInt(cred.ExpiresAt, 10)},
	} {
		if _, err := tx.Exec(upsert, pair[0], pair[1]); err != nil {
			return storageErr("save", fmt.Errorf("slot %s: %w", pair[0], err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("save", err)
	}
	return nil
}

// =============================================================================
// CLEAR
// =============================================================================

// Clear removes the stored credential. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM credential_slots`); err != nil {
		return storageErr("clear", err)
	}
	return nil
}
