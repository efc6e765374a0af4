// Package rpcauth verifies the Ed25519-signed request headers the relay
// and the agent exchange over RPC. Each side owns one keypair; a request
// carries timestamp, nonce, auth-type, and signature headers over a
// canonical payload that binds the scope, HTTP method, path, and body.
// The cryptography itself comes from internal/cryptoprim; this package
// owns the canonicalization, the clock-skew window, and the nonce replay
// guard.
package rpcauth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/telclaude/vault/internal/cryptoprim"
)

const (
	payloadVersion = "v2"

	// AuthTypeAsymmetric is the only accepted auth-type header value.
	AuthTypeAsymmetric = "asymmetric"

	defaultMaxSkew  = 5 * time.Minute
	defaultNonceTTL = 10 * time.Minute
)

// Headers carries the authentication material extracted from a request.
type Headers struct {
	Timestamp string
	Nonce     string
	AuthType  string
	Signature string
}

// Verification failures, one sentinel per check so callers can
// distinguish a stale clock from a replay without parsing messages.
var (
	ErrMissingHeaders = errors.New("missing auth headers")
	ErrAuthType       = errors.New("unsupported auth-type")
	ErrTimestamp      = errors.New("invalid timestamp")
	ErrSkew           = errors.New("timestamp outside allowed skew")
	ErrReplay         = errors.New("nonce already seen")
	ErrSignature      = errors.New("signature verification failed")
)

// CanonicalPayload renders the exact byte sequence both sides sign:
// version, scope, timestamp, nonce, method, path, and body, one per line.
// Binding the scope keeps a signature from one namespace from validating
// in another; binding method/path/body keeps it from being replayed
// against a different endpoint.
func CanonicalPayload(scope, timestamp, nonce, method, path string, body []byte) []byte {
	return []byte(payloadVersion + "\n" + scope + "\n" + timestamp + "\n" + nonce + "\n" + method + "\n" + path + "\n" + string(body))
}

// Sign produces the base64 signature header value for a request.
func Sign(priv ed25519.PrivateKey, scope, timestamp, nonce, method, path string, body []byte) (string, error) {
	sig, err := cryptoprim.SignEd25519(priv, CanonicalPayload(scope, timestamp, nonce, method, path, body))
	if err != nil {
		return "", fmt.Errorf("sign rpc payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verifier checks signed requests against a set of trusted public keys,
// a clock-skew window, and a TTL-bounded nonce seen-set.
type Verifier struct {
	keys     []ed25519.PublicKey
	maxSkew  time.Duration
	nonceTTL time.Duration

	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // nonce -> expiry
}

// NewVerifier constructs a Verifier trusting keys. maxSkew and nonceTTL
// fall back to 5 and 10 minutes when non-positive.
func NewVerifier(keys []ed25519.PublicKey, maxSkew, nonceTTL time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = defaultMaxSkew
	}
	if nonceTTL <= 0 {
		nonceTTL = defaultNonceTTL
	}
	return &Verifier{
		keys:     keys,
		maxSkew:  maxSkew,
		nonceTTL: nonceTTL,
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
}

// Verify checks h against the canonical payload for (scope, method, path,
// body). Checks run in a fixed order — presence, auth-type, timestamp
// skew, nonce replay, signature — and the first failure wins. The nonce
// is recorded only after every other check passes, so a rejected request
// cannot poison the seen-set.
func (v *Verifier) Verify(h Headers, scope, method, path string, body []byte) error {
	if h.Timestamp == "" || h.Nonce == "" || h.AuthType == "" || h.Signature == "" {
		return ErrMissingHeaders
	}
	if h.AuthType != AuthTypeAsymmetric {
		return ErrAuthType
	}

	tsMs, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimestamp, err)
	}
	now := v.now()
	ts := time.UnixMilli(tsMs)
	if ts.Before(now.Add(-v.maxSkew)) || ts.After(now.Add(v.maxSkew)) {
		return ErrSkew
	}

	if v.nonceSeen(h.Nonce, now) {
		return ErrReplay
	}

	sig, err := base64.StdEncoding.DecodeString(h.Signature)
	if err != nil {
		return fmt.Errorf("%w: bad base64", ErrSignature)
	}
	payload := CanonicalPayload(scope, h.Timestamp, h.Nonce, method, path, body)

	verified := false
	for _, key := range v.keys {
		if cryptoprim.VerifyEd25519(key, payload, sig) {
			verified = true
			break
		}
	}
	if !verified {
		return ErrSignature
	}

	v.recordNonce(h.Nonce, now)
	return nil
}

func (v *Verifier) nonceSeen(nonce string, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	expiry, ok := v.seen[nonce]
	return ok && expiry.After(now)
}

func (v *Verifier) recordNonce(nonce string, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	// Prune opportunistically; the set is bounded by request rate * TTL.
	for n, expiry := range v.seen {
		if !expiry.After(now) {
			delete(v.seen, n)
		}
	}
	v.seen[nonce] = now.Add(v.nonceTTL)
}

// NewNonce returns a fresh random nonce suitable for the nonce header.
func NewNonce() (string, error) {
	buf, err := cryptoprim.Random(16)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
