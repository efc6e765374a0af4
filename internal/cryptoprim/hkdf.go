package cryptoprim

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFSHA256 derives outLen bytes of key material from key, bound to
// info, using HKDF-SHA256 (RFC 5869). An empty salt is valid: the store
// derives per-entry subkeys with a nil salt because the entry identity
// carried in info already makes every expansion distinct.
func HKDFSHA256(key, salt, info []byte, outLen int) ([]byte, error) {
	if outLen <= 0 {
		return nil, fmt.Errorf("hkdf output length must be positive, got %d", outLen)
	}
	out := make([]byte, outLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, info), out); err != nil {
		return nil, fmt.Errorf("derive key material: %w", err)
	}
	return out, nil
}
