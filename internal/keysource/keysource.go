// Package keysource resolves the vault encryption key from an OS-level
// secret store when the environment does not provide one.
package keysource

import "errors"

var (
	// ErrUnsupported means this platform has no keychain backend; the
	// environment variable is the only key source.
	ErrUnsupported = errors.New("keychain key source is not supported on this platform")

	// ErrNotFound means the keychain is available but holds no key item.
	ErrNotFound = errors.New("no encryption key found in keychain")
)
