package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length every seal/open call requires.
	KeySize = 32

	// NonceSize and TagSize match the vault's record layout: a random
	// 96-bit nonce and the GCM authentication tag are stored as separate
	// fields alongside the ciphertext.
	NonceSize = 12
	TagSize   = 16
)

// ErrAuthentication is returned whenever an open fails, regardless of
// which of key, nonce, ciphertext, tag, or aad was wrong. Callers treat
// the record as unreadable; no detail about the mismatch is surfaced.
var ErrAuthentication = errors.New("aead authentication failed")

// EncryptAESGCM seals plaintext under key with AES-256-GCM, binding aad
// into the authentication tag. The nonce, ciphertext, and tag are
// returned as the three separate fields the vault record persists.
func EncryptAESGCM(key, plaintext, aad []byte) (nonce, data, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize
	return nonce, sealed[:split], sealed[split:], nil
}

// DecryptAESGCM opens a record sealed by EncryptAESGCM. Structural
// problems (wrong key, nonce, or tag length) report what is malformed;
// any cryptographic mismatch collapses to ErrAuthentication.
func DecryptAESGCM(key, nonce, data, tag, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("tag must be %d bytes, got %d", TagSize, len(tag))
	}

	sealed := make([]byte, 0, len(data)+len(tag))
	sealed = append(append(sealed, data...), tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
