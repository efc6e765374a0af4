package rpcauth

import (
	"crypto/ed25519"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return priv, pub
}

func signedHeaders(t *testing.T, priv ed25519.PrivateKey, scope, method, path string, body []byte, ts time.Time, nonce string) Headers {
	t.Helper()
	timestamp := strconv.FormatInt(ts.UnixMilli(), 10)
	sig, err := Sign(priv, scope, timestamp, nonce, method, path, body)
	require.NoError(t, err)
	return Headers{Timestamp: timestamp, Nonce: nonce, AuthType: AuthTypeAsymmetric, Signature: sig}
}

func TestVerifyAcceptsValidRequest(t *testing.T) {
	priv, pub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{pub}, 0, 0)

	h := signedHeaders(t, priv, "relay", "POST", "/rpc/invoke", []byte(`{"a":1}`), time.Now(), "n1")
	assert.NoError(t, v.Verify(h, "relay", "POST", "/rpc/invoke", []byte(`{"a":1}`)))
}

func TestVerifyRejectsMissingHeaders(t *testing.T) {
	_, pub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{pub}, 0, 0)

	err := v.Verify(Headers{}, "relay", "GET", "/", nil)
	assert.ErrorIs(t, err, ErrMissingHeaders)
}

func TestVerifyRejectsWrongAuthType(t *testing.T) {
	priv, pub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{pub}, 0, 0)

	h := signedHeaders(t, priv, "relay", "GET", "/", nil, time.Now(), "n1")
	h.AuthType = "hmac"
	assert.ErrorIs(t, v.Verify(h, "relay", "GET", "/", nil), ErrAuthType)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	priv, pub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{pub}, 0, 0)

	h := signedHeaders(t, priv, "relay", "GET", "/", nil, time.Now().Add(-10*time.Minute), "n1")
	assert.ErrorIs(t, v.Verify(h, "relay", "GET", "/", nil), ErrSkew)
}

func TestVerifyRejectsReplayedNonce(t *testing.T) {
	priv, pub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{pub}, 0, 0)

	h := signedHeaders(t, priv, "relay", "GET", "/", nil, time.Now(), "n1")
	require.NoError(t, v.Verify(h, "relay", "GET", "/", nil))
	assert.ErrorIs(t, v.Verify(h, "relay", "GET", "/", nil), ErrReplay)
}

func TestVerifyAllowsNonceAfterTTL(t *testing.T) {
	priv, pub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{pub}, time.Hour, time.Minute)

	base := time.Now()
	v.now = func() time.Time { return base }

	h := signedHeaders(t, priv, "relay", "GET", "/", nil, base, "n1")
	require.NoError(t, v.Verify(h, "relay", "GET", "/", nil))

	v.now = func() time.Time { return base.Add(2 * time.Minute) }
	h2 := signedHeaders(t, priv, "relay", "GET", "/", nil, base.Add(2*time.Minute), "n1")
	assert.NoError(t, v.Verify(h2, "relay", "GET", "/", nil))
}

func TestVerifyRejectsScopeMismatch(t *testing.T) {
	priv, pub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{pub}, 0, 0)

	h := signedHeaders(t, priv, "relay", "GET", "/", nil, time.Now(), "n1")
	assert.ErrorIs(t, v.Verify(h, "agent", "GET", "/", nil), ErrSignature)
}

func TestVerifyRejectsBodyTamper(t *testing.T) {
	priv, pub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{pub}, 0, 0)

	h := signedHeaders(t, priv, "relay", "POST", "/x", []byte("original"), time.Now(), "n1")
	assert.ErrorIs(t, v.Verify(h, "relay", "POST", "/x", []byte("tampered")), ErrSignature)
}

func TestVerifyRejectsUntrustedKey(t *testing.T) {
	priv, _ := testKeys(t)
	_, otherPub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{otherPub}, 0, 0)

	h := signedHeaders(t, priv, "relay", "GET", "/", nil, time.Now(), "n1")
	assert.ErrorIs(t, v.Verify(h, "relay", "GET", "/", nil), ErrSignature)
}

func TestRejectedRequestDoesNotBurnNonce(t *testing.T) {
	priv, pub := testKeys(t)
	v := NewVerifier([]ed25519.PublicKey{pub}, 0, 0)

	h := signedHeaders(t, priv, "relay", "GET", "/", nil, time.Now(), "n1")
	tampered := h
	tampered.Signature = h.Signature[:len(h.Signature)-4] + "AAAA"
	require.ErrorIs(t, v.Verify(tampered, "relay", "GET", "/", nil), ErrSignature)

	// The failed attempt must not have recorded the nonce.
	assert.NoError(t, v.Verify(h, "relay", "GET", "/", nil))
}
