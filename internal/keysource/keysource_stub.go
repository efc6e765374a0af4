//go:build !darwin

package keysource

// FromKeychain is unsupported off darwin; the encryption key must come
// from the environment.
func FromKeychain() ([]byte, error) {
	return nil, ErrUnsupported
}

// StoreInKeychain is unsupported off darwin.
func StoreInKeychain([]byte) error {
	return ErrUnsupported
}
