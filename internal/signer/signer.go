// Package signer provides Ed25519 session-token issuance/verification and
// prefix-bound payload signing, backed by a keypair lazily bootstrapped
// into the credential store on first use. The private key never leaves
// the process.
package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/telclaude/vault/internal/credential"
	"github.com/telclaude/vault/internal/cryptoprim"
	"github.com/telclaude/vault/internal/store"
)

// SigningProtocol and SigningTarget identify the well-known store entry
// the keypair is bootstrapped under.
const (
	SigningProtocol = credential.ProtocolSigning
	SigningTarget   = "rpc-master"

	tokenVersion = "v3"
)

// VerifyErrorKind classifies why token verification failed.
type VerifyErrorKind string

const (
	VerifyErrorFormat    VerifyErrorKind = "format"
	VerifyErrorVersion   VerifyErrorKind = "version"
	VerifyErrorFields    VerifyErrorKind = "fields"
	VerifyErrorExpired   VerifyErrorKind = "expired"
	VerifyErrorSignature VerifyErrorKind = "signature"
)

// Signer is the handle to the vault's signing keypair. One signer is
// constructed per daemon process.
type Signer struct {
	mu    sync.Mutex
	store keypairStore

	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// keypairStore mirrors internal/store.Store's Get/Store signatures,
// narrowed to what the signer needs. It is satisfied directly by
// *store.Store.
type keypairStore interface {
	Get(protocol credential.Protocol, target string) (credential.Entry, error)
	Store(protocol credential.Protocol, target string, cred credential.Credential, opts store.StoreOptions) (credential.Entry, error)
}

// New constructs a Signer over the given store. The keypair is not loaded
// until the first sign/verify/get-public-key call.
func New(store keypairStore) *Signer {
	return &Signer{store: store}
}

func (s *Signer) keypair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.priv != nil {
		return s.priv, s.pub, nil
	}

	entry, err := s.store.Get(SigningProtocol, SigningTarget)
	if err == nil {
		priv, pub, decodeErr := decodeKeypair(entry.Credential)
		if decodeErr != nil {
			return nil, nil, fmt.Errorf("decode persisted signing keypair: %w", decodeErr)
		}
		s.priv, s.pub = priv, pub
		return s.priv, s.pub, nil
	}

	kp, err := cryptoprim.GenerateEd25519()
	if err != nil {
		return nil, nil, fmt.Errorf("generate signing keypair: %w", err)
	}

	cred := credential.Credential{
		Type:       credential.TypeEd25519,
		PrivateKey: base64.StdEncoding.EncodeToString(kp.PrivateKey),
		PublicKey:  base64.StdEncoding.EncodeToString(kp.PublicKey),
	}
	if _, err := s.store.Store(SigningProtocol, SigningTarget, cred, store.StoreOptions{Label: "vault signing key"}); err != nil {
		return nil, nil, fmt.Errorf("persist signing keypair: %w", err)
	}

	s.priv, s.pub = kp.PrivateKey, kp.PublicKey
	return s.priv, s.pub, nil
}

func decodeKeypair(cred credential.Credential) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	priv, err := base64.StdEncoding.DecodeString(cred.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode private key: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(cred.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode public key: %w", err)
	}
	return ed25519.PrivateKey(priv), ed25519.PublicKey(pub), nil
}

// GetPublicKey returns the persisted raw 32-byte public key, base64-encoded,
// bootstrapping the keypair if this is the first signing-related call.
func (s *Signer) GetPublicKey() (string, error) {
	_, pub, err := s.keypair()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// SignToken issues a v3 session token over (scope, sessionId), valid for
// ttl. scope and sessionId must be non-empty; ttl must be positive.
func (s *Signer) SignToken(scope, sessionID string, ttl time.Duration) (token string, expiresAt time.Time, err error) {
	if scope == "" {
		return "", time.Time{}, errors.New("scope must not be empty")
	}
	if sessionID == "" {
		return "", time.Time{}, errors.New("sessionId must not be empty")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttlMs must be positive")
	}

	priv, _, err := s.keypair()
	if err != nil {
		return "", time.Time{}, err
	}

	now := time.Now()
	exp := now.Add(ttl)
	createdMs := now.UnixMilli()
	expiresMs := exp.UnixMilli()

	message := signedMessage(scope, sessionID, createdMs, expiresMs)
	sig, err := cryptoprim.SignEd25519(priv, []byte(message))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	token = fmt.Sprintf("%s:%s", message, base64.RawURLEncoding.EncodeToString(sig))
	return token, exp, nil
}

func signedMessage(scope, sessionID string, createdMs, expiresMs int64) string {
	return fmt.Sprintf("%s:%s:%s:%d:%d", tokenVersion, scope, sessionID, createdMs, expiresMs)
}

// VerifiedToken is the parsed content of a token that verified successfully.
type VerifiedToken struct {
	Scope     string
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// VerifyError wraps a VerifyErrorKind so callers can classify the failure
// without string-matching.
type VerifyError struct {
	Kind VerifyErrorKind
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("token verification failed: %s", e.Kind)
}

func verifyErr(kind VerifyErrorKind) error {
	return &VerifyError{Kind: kind}
}

// VerifyToken validates a v3 token's structure, signature, and expiry. It
// never returns parsed fields alongside an error.
func (s *Signer) VerifyToken(token string) (VerifiedToken, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 6 {
		return VerifiedToken{}, verifyErr(VerifyErrorFormat)
	}

	version, scope, sessionID, createdStr, expiresStr, sigStr := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]
	if version != tokenVersion {
		return VerifiedToken{}, verifyErr(VerifyErrorVersion)
	}
	if scope == "" || sessionID == "" {
		return VerifiedToken{}, verifyErr(VerifyErrorFields)
	}

	createdMs, err := strconv.ParseInt(createdStr, 10, 64)
	if err != nil {
		return VerifiedToken{}, verifyErr(VerifyErrorFields)
	}
	expiresMs, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return VerifiedToken{}, verifyErr(VerifyErrorFields)
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigStr)
	if err != nil {
		return VerifiedToken{}, verifyErr(VerifyErrorFormat)
	}

	_, pub, err := s.keypair()
	if err != nil {
		return VerifiedToken{}, verifyErr(VerifyErrorSignature)
	}

	message := signedMessage(scope, sessionID, createdMs, expiresMs)
	if !cryptoprim.VerifyEd25519(pub, []byte(message), sig) {
		return VerifiedToken{}, verifyErr(VerifyErrorSignature)
	}

	expiresAt := time.UnixMilli(expiresMs)
	if !expiresAt.After(time.Now()) {
		return VerifiedToken{}, verifyErr(VerifyErrorExpired)
	}

	return VerifiedToken{
		Scope:     scope,
		SessionID: sessionID,
		CreatedAt: time.UnixMilli(createdMs),
		ExpiresAt: expiresAt,
	}, nil
}

// SignPayload signs prefix||payload to bind the signature to its calling
// context, preventing cross-context replay. prefix must be non-empty.
func (s *Signer) SignPayload(payload, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("prefix must not be empty")
	}
	priv, _, err := s.keypair()
	if err != nil {
		return "", err
	}
	sig, err := cryptoprim.SignEd25519(priv, []byte(prefix+payload))
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyPayload verifies a signature produced by SignPayload. Any prefix
// mismatch, signature malformation, or key mismatch yields false, never an
// error: payload verification is a predicate from the caller's point of view.
func (s *Signer) VerifyPayload(payload, signature, prefix string) bool {
	if prefix == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	_, pub, err := s.keypair()
	if err != nil {
		return false
	}
	return cryptoprim.VerifyEd25519(pub, []byte(prefix+payload), sig)
}
