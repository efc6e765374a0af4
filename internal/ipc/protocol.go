// Package ipc serves the vault's local request/response protocol: a unix
// socket with owner-only permissions carrying newline-delimited JSON, one
// request per line, dispatched on the envelope's "type" field. Each
// connection is handled sequentially so responses come back in request
// order; the listener serves many connections concurrently.
package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/telclaude/vault/internal/credential"
)

// Op is the closed set of request types the protocol accepts.
type Op string

const (
	OpGet            Op = "get"
	OpGetToken       Op = "get-token"
	OpGetSecret      Op = "get-secret"
	OpStore          Op = "store"
	OpDelete         Op = "delete"
	OpList           Op = "list"
	OpSignToken      Op = "sign-token"
	OpVerifyToken    Op = "verify-token"
	OpGetPublicKey   Op = "get-public-key"
	OpSignPayload    Op = "sign-payload"
	OpVerifyPayload  Op = "verify-payload"
	OpPing           Op = "ping"
)

// envelope is decoded first, loosely, just to read "type" and route to the
// op's own strict struct.
type envelope struct {
	Type string `json:"type"`
}

type getRequest struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Protocol string `json:"protocol"`
	Target   string `json:"target"`
}

type getTokenRequest struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Protocol string `json:"protocol"`
	Target   string `json:"target"`
}

type getSecretRequest struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Target string `json:"target"`
}

type storeRequest struct {
	Type               string                `json:"type"`
	ID                 string                `json:"id,omitempty"`
	Protocol           string                `json:"protocol"`
	Target             string                `json:"target"`
	Credential         credential.Credential `json:"credential"`
	Label              string                `json:"label,omitempty"`
	AllowedPaths       []string              `json:"allowedPaths,omitempty"`
	RateLimitPerMinute int                   `json:"rateLimitPerMinute,omitempty"`
	ExpiresAt          *time.Time            `json:"expiresAt,omitempty"`
}

type deleteRequest struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Protocol string `json:"protocol"`
	Target   string `json:"target"`
}

type listRequest struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

type signTokenRequest struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Scope     string `json:"scope"`
	SessionID string `json:"sessionId"`
	TTLMs     int64  `json:"ttlMs"`
}

type verifyTokenRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Token string `json:"token"`
}

type getPublicKeyRequest struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type signPayloadRequest struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload string `json:"payload"`
	Prefix  string `json:"prefix"`
}

type verifyPayloadRequest struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Prefix    string `json:"prefix"`
}

type pingRequest struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Response is the union of every field any op's response may carry. Only
// the fields relevant to a given op/outcome are populated; json
// `omitempty` keeps the wire payload to exactly the fields each op
// defines.
type Response struct {
	Type      string              `json:"type"`
	ID        string              `json:"id,omitempty"`
	OK        *bool               `json:"ok,omitempty"`
	Error     string              `json:"error,omitempty"`
	Entry     *credential.Entry   `json:"entry,omitempty"`
	Entries   []credential.Metadata `json:"entries,omitempty"`
	Deleted   *bool               `json:"deleted,omitempty"`
	Token     string              `json:"token,omitempty"`
	ExpiresAt *time.Time          `json:"expiresAt,omitempty"`
	Value     string              `json:"value,omitempty"`
	PublicKey string              `json:"publicKey,omitempty"`
	Signature string              `json:"signature,omitempty"`
	Valid     *bool               `json:"valid,omitempty"`
	Scope     string              `json:"scope,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	CreatedAt *time.Time          `json:"createdAt,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

func errorResponse(err error) Response {
	return Response{Type: "error", Error: err.Error()}
}

// ErrUnknownOp classifies an envelope whose "type" is not one of the
// enumerated ops.
var ErrUnknownOp = errors.New("unknown request type")

// decodeStrict parses line into dst, rejecting unknown fields so an
// operator typo or a client protocol mismatch surfaces immediately rather
// than silently dropping a field.
func decodeStrict(line []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON value", errBadRequest)
	}
	return nil
}

var errBadRequest = errors.New("bad_request")

// decodeLenient parses just enough of line to route it, ignoring any
// unknown fields that belong to the specific op struct. Used only to
// recover the "type" value so a genuinely unrecognized op still gets
// ErrUnknownOp instead of a generic decode error.
func decodeLenient(line []byte, dst *envelope) error {
	return json.Unmarshal(line, dst)
}
