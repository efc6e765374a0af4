package cryptoprim

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// Ed25519Keypair holds a generated signing key pair.
type Ed25519Keypair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateEd25519 creates a fresh Ed25519 key pair using the CSPRNG.
func GenerateEd25519() (Ed25519Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Ed25519Keypair{}, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return Ed25519Keypair{PublicKey: pub, PrivateKey: priv}, nil
}

// SignEd25519 signs msg with priv. priv must be a valid 64-byte seed+public key.
func SignEd25519(priv ed25519.PrivateKey, msg []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key size")
	}
	return ed25519.Sign(priv, msg), nil
}

// VerifyEd25519 reports whether sig is a valid Ed25519 signature of msg under pub.
func VerifyEd25519(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
