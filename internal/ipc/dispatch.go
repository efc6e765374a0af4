package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telclaude/vault/internal/credential"
	"github.com/telclaude/vault/internal/logging"
	"github.com/telclaude/vault/internal/oauth"
	"github.com/telclaude/vault/internal/signer"
	"github.com/telclaude/vault/internal/store"
)

// Store is the subset of *store.Store the dispatcher needs, narrowed so
// this package can be tested against a fake.
type Store interface {
	Store(protocol credential.Protocol, target string, cred credential.Credential, opts store.StoreOptions) (credential.Entry, error)
	Get(protocol credential.Protocol, target string) (credential.Entry, error)
	Delete(protocol credential.Protocol, target string) (bool, error)
	List(filter store.ListFilter) ([]credential.Metadata, error)
}

// OAuthEngine is the subset of *oauth.Engine the dispatcher needs.
type OAuthEngine interface {
	GetAccessToken(ctx context.Context, target string, cred credential.Credential) (oauth.Result, error)
	Invalidate(target string)
}

// Signer is the subset of *signer.Signer the dispatcher needs.
type Signer interface {
	SignToken(scope, sessionID string, ttl time.Duration) (string, time.Time, error)
	VerifyToken(token string) (signer.VerifiedToken, error)
	GetPublicKey() (string, error)
	SignPayload(payload, prefix string) (string, error)
	VerifyPayload(payload, signature, prefix string) bool
}

// Dispatcher wires one decoded request to the store, the OAuth engine,
// or the signer, and builds its Response.
type Dispatcher struct {
	Store  Store
	OAuth  OAuthEngine
	Signer Signer
}

// Handle decodes line per its envelope's "type" and dispatches to the
// matching op handler. Any JSON/validation failure, or an unrecognized
// op, yields the generic {type:"error"} envelope.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) Response {
	var env envelope
	if err := decodeLenient(line, &env); err != nil || env.Type == "" {
		return errorResponse(fmt.Errorf("%w: invalid json", errBadRequest))
	}

	switch Op(env.Type) {
	case OpPing:
		return d.handlePing(line)
	case OpGet:
		return d.handleGet(line)
	case OpGetToken:
		return d.handleGetToken(ctx, line)
	case OpGetSecret:
		return d.handleGetSecret(line)
	case OpStore:
		return d.handleStore(line)
	case OpDelete:
		return d.handleDelete(line)
	case OpList:
		return d.handleList(line)
	case OpSignToken:
		return d.handleSignToken(line)
	case OpVerifyToken:
		return d.handleVerifyToken(line)
	case OpGetPublicKey:
		return d.handleGetPublicKey(line)
	case OpSignPayload:
		return d.handleSignPayload(line)
	case OpVerifyPayload:
		return d.handleVerifyPayload(line)
	default:
		return errorResponse(fmt.Errorf("%w: %q", ErrUnknownOp, env.Type))
	}
}

func (d *Dispatcher) handlePing(line []byte) Response {
	var req pingRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	return Response{Type: "pong", ID: req.ID}
}

func (d *Dispatcher) handleGet(line []byte) Response {
	var req getRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	entry, err := d.Store.Get(credential.Protocol(req.Protocol), req.Target)
	if err != nil {
		return Response{Type: string(OpGet), ID: req.ID, OK: boolPtr(false), Error: classifyStoreErr(err)}
	}
	return Response{Type: string(OpGet), ID: req.ID, OK: boolPtr(true), Entry: &entry}
}

func (d *Dispatcher) handleGetToken(ctx context.Context, line []byte) Response {
	var req getTokenRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	if req.Protocol != string(credential.ProtocolHTTP) {
		return Response{Type: string(OpGetToken), ID: req.ID, OK: boolPtr(false), Error: "get-token requires protocol=http"}
	}

	entry, err := d.Store.Get(credential.ProtocolHTTP, req.Target)
	if err != nil {
		return Response{Type: string(OpGetToken), ID: req.ID, OK: boolPtr(false), Error: classifyStoreErr(err)}
	}
	if entry.Credential.Type != credential.TypeOAuth2 {
		return Response{Type: string(OpGetToken), ID: req.ID, OK: boolPtr(false), Error: "entry is not an oauth2 credential"}
	}

	result, err := d.OAuth.GetAccessToken(ctx, req.Target, entry.Credential)
	if err != nil {
		logging.Logger.Warn("get-token failed", "target", obscureTarget(req.Target), "error", logging.RedactURLs(err.Error()))
		return Response{Type: string(OpGetToken), ID: req.ID, OK: boolPtr(false), Error: logging.RedactURLs(err.Error())}
	}

	if result.NewRefreshToken != "" {
		rotated := entry.Credential
		rotated.RefreshToken = result.NewRefreshToken
		if _, storeErr := d.Store.Store(credential.ProtocolHTTP, req.Target, rotated, store.StoreOptions{
			Label:              entry.Label,
			AllowedPaths:       entry.AllowedPaths,
			RateLimitPerMinute: entry.RateLimitPerMinute,
			ExpiresAt:          entry.ExpiresAt,
		}); storeErr != nil {
			logging.Logger.Error("failed to persist rotated refresh token", "error", storeErr)
		}
	}

	expiresAt := result.ExpiresAt
	return Response{Type: string(OpGetToken), ID: req.ID, OK: boolPtr(true), Token: result.AccessToken, ExpiresAt: &expiresAt}
}

func (d *Dispatcher) handleGetSecret(line []byte) Response {
	var req getSecretRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	entry, err := d.Store.Get(credential.ProtocolSecret, req.Target)
	if err != nil {
		return Response{Type: string(OpGetSecret), ID: req.ID, OK: boolPtr(false), Error: classifyStoreErr(err)}
	}
	if entry.Credential.Type != credential.TypeOpaque {
		return Response{Type: string(OpGetSecret), ID: req.ID, OK: boolPtr(false), Error: classifyStoreErr(store.ErrNotFound)}
	}
	return Response{Type: string(OpGetSecret), ID: req.ID, OK: boolPtr(true), Value: entry.Credential.Value}
}

func (d *Dispatcher) handleStore(line []byte) Response {
	var req storeRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	_, err := d.Store.Store(credential.Protocol(req.Protocol), req.Target, req.Credential, store.StoreOptions{
		Label:              req.Label,
		AllowedPaths:       req.AllowedPaths,
		RateLimitPerMinute: req.RateLimitPerMinute,
		ExpiresAt:          req.ExpiresAt,
	})
	if err != nil {
		return Response{Type: "error", ID: req.ID, Error: err.Error()}
	}
	// A token cached against the previous credential must not outlive it.
	if credential.Protocol(req.Protocol) == credential.ProtocolHTTP && d.OAuth != nil {
		d.OAuth.Invalidate(req.Target)
	}
	return Response{Type: string(OpStore), ID: req.ID, OK: boolPtr(true)}
}

func (d *Dispatcher) handleDelete(line []byte) Response {
	var req deleteRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	deleted, err := d.Store.Delete(credential.Protocol(req.Protocol), req.Target)
	if err != nil {
		return Response{Type: "error", ID: req.ID, Error: err.Error()}
	}
	if deleted && credential.Protocol(req.Protocol) == credential.ProtocolHTTP && d.OAuth != nil {
		d.OAuth.Invalidate(req.Target)
	}
	return Response{Type: string(OpDelete), ID: req.ID, OK: boolPtr(true), Deleted: boolPtr(deleted)}
}

func (d *Dispatcher) handleList(line []byte) Response {
	var req listRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	entries, err := d.Store.List(store.ListFilter{Protocol: credential.Protocol(req.Protocol)})
	if err != nil {
		return Response{Type: "error", ID: req.ID, Error: err.Error()}
	}
	if entries == nil {
		entries = []credential.Metadata{}
	}
	return Response{Type: string(OpList), ID: req.ID, OK: boolPtr(true), Entries: entries}
}

func (d *Dispatcher) handleSignToken(line []byte) Response {
	var req signTokenRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	if req.TTLMs <= 0 {
		return Response{Type: "error", ID: req.ID, Error: "ttlMs must be positive"}
	}
	token, expiresAt, err := d.Signer.SignToken(req.Scope, req.SessionID, time.Duration(req.TTLMs)*time.Millisecond)
	if err != nil {
		return Response{Type: "error", ID: req.ID, Error: err.Error()}
	}
	return Response{Type: string(OpSignToken), ID: req.ID, OK: boolPtr(true), Token: token, ExpiresAt: &expiresAt}
}

func (d *Dispatcher) handleVerifyToken(line []byte) Response {
	var req verifyTokenRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	verified, err := d.Signer.VerifyToken(req.Token)
	if err != nil {
		var ve *signer.VerifyError
		if errors.As(err, &ve) {
			return Response{Type: string(OpVerifyToken), ID: req.ID, OK: boolPtr(false), Error: string(ve.Kind)}
		}
		return Response{Type: string(OpVerifyToken), ID: req.ID, OK: boolPtr(false), Error: err.Error()}
	}
	createdAt, expiresAt := verified.CreatedAt, verified.ExpiresAt
	return Response{
		Type: string(OpVerifyToken), ID: req.ID, OK: boolPtr(true),
		Scope: verified.Scope, SessionID: verified.SessionID,
		CreatedAt: &createdAt, ExpiresAt: &expiresAt,
	}
}

func (d *Dispatcher) handleGetPublicKey(line []byte) Response {
	var req getPublicKeyRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	pub, err := d.Signer.GetPublicKey()
	if err != nil {
		return Response{Type: "error", ID: req.ID, Error: err.Error()}
	}
	return Response{Type: string(OpGetPublicKey), ID: req.ID, OK: boolPtr(true), PublicKey: pub}
}

func (d *Dispatcher) handleSignPayload(line []byte) Response {
	var req signPayloadRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	sig, err := d.Signer.SignPayload(req.Payload, req.Prefix)
	if err != nil {
		return Response{Type: "error", ID: req.ID, Error: err.Error()}
	}
	return Response{Type: string(OpSignPayload), ID: req.ID, OK: boolPtr(true), Signature: sig}
}

func (d *Dispatcher) handleVerifyPayload(line []byte) Response {
	var req verifyPayloadRequest
	if err := decodeStrict(line, &req); err != nil {
		return errorResponse(err)
	}
	if req.Prefix == "" {
		return Response{Type: "error", ID: req.ID, Error: "prefix must not be empty"}
	}
	valid := d.Signer.VerifyPayload(req.Payload, req.Signature, req.Prefix)
	return Response{Type: string(OpVerifyPayload), ID: req.ID, OK: boolPtr(true), Valid: boolPtr(valid)}
}

func classifyStoreErr(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return "not_found"
	}
	return err.Error()
}

// obscureTarget avoids logging a raw target hostname in full (it may
// itself be sensitive, e.g. an internal API host) while still letting two
// log lines about the same target be correlated by eye.
func obscureTarget(target string) string {
	if len(target) <= 8 {
		return target
	}
	return target[:4] + "..." + target[len(target)-4:]
}
