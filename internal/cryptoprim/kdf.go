package cryptoprim

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// SaltLengthBytes is the enforced salt length for vault key derivation.
	SaltLengthBytes = 16

	// Frozen scrypt cost parameters. These must never change across vault
	// versions: rederiving with different parameters silently changes the
	// encryption key and locks out every existing entry.
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// DeriveKey derives the 32-byte vault encryption key from the raw
// VAULT_ENCRYPTION_KEY secret and the vault's on-disk salt using scrypt with
// fixed cost parameters (N=16384, r=8, p=1).
func DeriveKey(raw []byte, salt []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("encryption key is required")
	}
	if len(salt) != SaltLengthBytes {
		return nil, fmt.Errorf("salt must be %d bytes", SaltLengthBytes)
	}

	key, err := scrypt.Key(raw, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// NewRandomSalt returns a cryptographically secure random salt of
// SaltLengthBytes, suitable for use once per vault file.
func NewRandomSalt() ([]byte, error) {
	salt := make([]byte, SaltLengthBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
