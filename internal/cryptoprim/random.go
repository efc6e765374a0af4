package cryptoprim

import (
	"crypto/rand"
	"fmt"
)

// Random returns n cryptographically secure random bytes.
func Random(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid random length %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return buf, nil
}

// Zeroize overwrites buf in place. Used to reduce the lifetime of key
// material and plaintext secrets held in memory.
func Zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
