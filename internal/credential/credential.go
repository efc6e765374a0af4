package credential

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Type is the closed set of credential variants.
type Type string

const (
	TypeBearer      Type = "bearer"
	TypeAPIKey      Type = "api-key"
	TypeBasic       Type = "basic"
	TypeQuery       Type = "query"
	TypeOAuth2      Type = "oauth2"
	TypeDB          Type = "db"
	TypeSSHKey      Type = "ssh-key"
	TypeSSHPassword Type = "ssh-password"
	TypeEd25519     Type = "ed25519"
	TypeOpaque      Type = "opaque"
)

// rfc7230Token matches RFC 7230 section 3.2.6 "token" grammar, used to
// validate api-key header names.
var rfc7230Token = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// queryParamName restricts query-credential param names to a conservative
// identifier-safe charset.
var queryParamName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Credential is a tagged union over the closed set of credential variants.
// Fields are shared across variants where their meaning overlaps (e.g.
// Username/Password for both "basic" and "db", Password for "ssh-password",
// PrivateKey for both "ssh-key" and "ed25519"); Validate enforces the exact set of fields
// each Type requires.
type Credential struct {
	Type Type `json:"type"`

	// bearer / api-key / query
	Token string `json:"token,omitempty"`

	// api-key
	Header string `json:"header,omitempty"`

	// query
	Param string `json:"param,omitempty"`

	// basic / db (Password also for ssh-password)
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// oauth2
	ClientID      string `json:"clientId,omitempty"`
	ClientSecret  string `json:"clientSecret,omitempty"`
	RefreshToken  string `json:"refreshToken,omitempty"`
	TokenEndpoint string `json:"tokenEndpoint,omitempty"`
	Scope         string `json:"scope,omitempty"`

	// db
	Database string `json:"database,omitempty"`

	// ssh-key / ssh-password
	SSHUsername string `json:"sshUsername,omitempty"`

	// ssh-key / ed25519
	PrivateKey string `json:"privateKey,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`

	// ed25519
	PublicKey string `json:"publicKey,omitempty"`

	// opaque
	Value string `json:"value,omitempty"`
}

// ErrValidation is wrapped by every field-level validation failure so
// callers (IPC dispatch) can classify it as the "validation_error" kind.
var ErrValidation = errors.New("validation_error")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate checks that c carries exactly the fields its Type requires and
// that they satisfy the variant's grammar. It never mutates c.
func (c Credential) Validate() error {
	switch c.Type {
	case TypeBearer:
		if c.Token == "" {
			return invalid("bearer credential requires token")
		}
	case TypeAPIKey:
		if c.Token == "" {
			return invalid("api-key credential requires token")
		}
		if c.Header == "" {
			return invalid("api-key credential requires header")
		}
		if !rfc7230Token.MatchString(c.Header) {
			return invalid("api-key header %q is not a valid RFC 7230 token", c.Header)
		}
	case TypeBasic:
		if c.Username == "" || c.Password == "" {
			return invalid("basic credential requires username and password")
		}
	case TypeQuery:
		if c.Token == "" {
			return invalid("query credential requires token")
		}
		if c.Param == "" {
			return invalid("query credential requires param")
		}
		if !queryParamName.MatchString(c.Param) {
			return invalid("query param %q must match [A-Za-z0-9_-]+", c.Param)
		}
	case TypeOAuth2:
		if c.ClientID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
			return invalid("oauth2 credential requires clientId, clientSecret, and refreshToken")
		}
		if c.TokenEndpoint == "" {
			return invalid("oauth2 credential requires tokenEndpoint")
		}
		if err := validateHTTPSEndpoint(c.TokenEndpoint); err != nil {
			return invalid("oauth2 tokenEndpoint invalid: %v", err)
		}
	case TypeDB:
		if c.Username == "" || c.Password == "" {
			return invalid("db credential requires username and password")
		}
	case TypeSSHKey:
		if c.SSHUsername == "" {
			return invalid("ssh-key credential requires sshUsername")
		}
		if c.PrivateKey == "" {
			return invalid("ssh-key credential requires privateKey")
		}
	case TypeSSHPassword:
		if c.SSHUsername == "" {
			return invalid("ssh-password credential requires sshUsername")
		}
		if c.Password == "" {
			return invalid("ssh-password credential requires password")
		}
	case TypeEd25519:
		if c.PrivateKey == "" || c.PublicKey == "" {
			return invalid("ed25519 credential requires privateKey and publicKey")
		}
		if _, err := base64.StdEncoding.DecodeString(c.PrivateKey); err != nil {
			return invalid("ed25519 privateKey must be base64: %v", err)
		}
		if _, err := base64.StdEncoding.DecodeString(c.PublicKey); err != nil {
			return invalid("ed25519 publicKey must be base64: %v", err)
		}
	case TypeOpaque:
		if c.Value == "" {
			return invalid("opaque credential requires value")
		}
	default:
		return invalid("unknown credential type %q", c.Type)
	}
	return nil
}

func validateHTTPSEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return errors.New("tokenEndpoint must use https://")
	}
	if u.Host == "" {
		return errors.New("tokenEndpoint must include a host")
	}
	return nil
}

// SecretFields returns every raw secret value embedded in c, for checking
// that no secret material leaks through metadata responses.
func (c Credential) SecretFields() []string {
	var out []string
	for _, v := range []string{c.Token, c.Password, c.ClientSecret, c.RefreshToken, c.PrivateKey, c.Passphrase, c.Value} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
