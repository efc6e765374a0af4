package cryptoprim_test

import (
	"bytes"
	"testing"

	"github.com/telclaude/vault/internal/cryptoprim"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("a very secret credential")
	aad := []byte("http:api.x.test")

	nonce, data, tag, err := cryptoprim.EncryptAESGCM(key, plaintext, aad)
	if err != nil {
		t.Fatalf("EncryptAESGCM returned error: %v", err)
	}
	if len(nonce) != cryptoprim.NonceSize || len(tag) != cryptoprim.TagSize {
		t.Fatalf("unexpected record shape: nonce=%d tag=%d", len(nonce), len(tag))
	}

	got, err := cryptoprim.DecryptAESGCM(key, nonce, data, tag, aad)
	if err != nil {
		t.Fatalf("DecryptAESGCM returned error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptFailsOnTamperedBytes(t *testing.T) {
	key := make([]byte, 32)
	aad := []byte("http:api.x.test")
	nonce, data, tag, err := cryptoprim.EncryptAESGCM(key, []byte("token"), aad)
	if err != nil {
		t.Fatalf("EncryptAESGCM returned error: %v", err)
	}

	flip := func(b []byte) []byte {
		out := append([]byte(nil), b...)
		out[0] ^= 0xFF
		return out
	}

	cases := map[string]func() ([]byte, error){
		"nonce": func() ([]byte, error) { return cryptoprim.DecryptAESGCM(key, flip(nonce), data, tag, aad) },
		"data":  func() ([]byte, error) { return cryptoprim.DecryptAESGCM(key, nonce, flip(data), tag, aad) },
		"tag":   func() ([]byte, error) { return cryptoprim.DecryptAESGCM(key, nonce, data, flip(tag), aad) },
		"aad":   func() ([]byte, error) { return cryptoprim.DecryptAESGCM(key, nonce, data, tag, flip(aad)) },
	}

	for name, open := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := open(); err == nil {
				t.Fatalf("expected decrypt failure after tampering %s", name)
			}
		})
	}
}

func TestDeriveKeyIsDeterministicForSameSalt(t *testing.T) {
	salt, err := cryptoprim.NewRandomSalt()
	if err != nil {
		t.Fatalf("NewRandomSalt returned error: %v", err)
	}

	k1, err := cryptoprim.DeriveKey([]byte("operator-secret"), salt)
	if err != nil {
		t.Fatalf("DeriveKey returned error: %v", err)
	}
	k2, err := cryptoprim.DeriveKey([]byte("operator-secret"), salt)
	if err != nil {
		t.Fatalf("DeriveKey returned error: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatalf("expected deterministic derivation for identical salt")
	}
	if len(k1) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k1))
	}
}

func TestDeriveKeyRejectsWrongSaltLength(t *testing.T) {
	if _, err := cryptoprim.DeriveKey([]byte("secret"), []byte("short")); err == nil {
		t.Fatal("expected error for short salt")
	}
}

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	kp, err := cryptoprim.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519 returned error: %v", err)
	}
	msg := []byte("v3:tg:s1:100:200")
	sig, err := cryptoprim.SignEd25519(kp.PrivateKey, msg)
	if err != nil {
		t.Fatalf("SignEd25519 returned error: %v", err)
	}
	if !cryptoprim.VerifyEd25519(kp.PublicKey, msg, sig) {
		t.Fatal("expected signature to verify")
	}

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0xFF
	if cryptoprim.VerifyEd25519(kp.PublicKey, msg, tampered) {
		t.Fatal("expected tampered signature to fail verification")
	}
}

func TestHKDFSHA256DeterministicPerInfo(t *testing.T) {
	key := []byte("master-encryption-key-32-bytes!!")
	out1, err := cryptoprim.HKDFSHA256(key, nil, []byte("entry:http:api.x.test"), 32)
	if err != nil {
		t.Fatalf("HKDFSHA256 returned error: %v", err)
	}
	out2, err := cryptoprim.HKDFSHA256(key, nil, []byte("entry:http:api.x.test"), 32)
	if err != nil {
		t.Fatalf("HKDFSHA256 returned error: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatal("expected HKDF to be deterministic for identical info")
	}

	out3, err := cryptoprim.HKDFSHA256(key, nil, []byte("entry:http:other.test"), 32)
	if err != nil {
		t.Fatalf("HKDFSHA256 returned error: %v", err)
	}
	if bytes.Equal(out1, out3) {
		t.Fatal("expected different info to produce different subkeys")
	}
}
