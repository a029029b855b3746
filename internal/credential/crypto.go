// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credential persists the session credential between runs.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// AT-REST ENCRYPTION
// =============================================================================

// encryptedPrefix marks a stored value as encrypted
// (format: ENC:base64(nonce|ciphertext|tag)).
const encryptedPrefix = "ENC:"

const (
	// keySize is the AES-256 key size.
	keySize = 32

	// saltSize is the salt for key derivation.
	saltSize = 32

	// secretSize is the random secret held in the key file.
	secretSize = 32

	// pbkdf2Iterations follows the OWASP 2023 recommendation for
	// PBKDF2-SHA-256.
	pbkdf2Iterations = 600000
)

// ErrDecryptionFailed indicates the stored token could not be authenticated
// (wrong key or tampered data). Load treats this as an absent credential.
var ErrDecryptionFailed = errors.New("credential decryption failed: authentication tag mismatch")

// loadCipher reads (or creates) the key file and returns the AEAD used for
// token-at-rest encryption. The key file holds salt|secret and is written
// atomically with 0600 permissions.
func loadCipher(keyPath string) (cipher.AEAD, error) {
	material, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		material = make([]byte, saltSize+secretSize)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("failed to generate key material: %w", err)
		}
		// RELIABILITY: Atomic write with fsync prevents data loss on crash
		if err := util.AtomicWriteFile(keyPath, material, 0600); err != nil {
			return nil, fmt.Errorf("failed to write key file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	if len(material) != saltSize+secretSize {
		return nil, fmt.Errorf("key file %s has unexpected size %d", keyPath, len(material))
	}

	salt, secret := material[:saltSize], material[saltSize:]
	key := pbkdf2.Key(secret, salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// seal encrypts a plaintext value for storage.
func seal(aead cipher.AEAD, plaintext string) (string, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a stored value. Values lacking the encrypted prefix or
// failing authentication yield ErrDecryptionFailed.
func open(aead cipher.AEAD, stored string) (string, error) {
	if !strings.HasPrefix(stored, encryptedPrefix) {
		return "", ErrDecryptionFailed
	}
	raw, err := base64.StdEncoding.DecodeString(stored[len(encryptedPrefix):])
	if err != nil || len(raw) < aead.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
