// Package config binds the vault daemon's environment-variable surface to
// a typed struct.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of daemon configuration, sourced from the
// environment. Tunables the daemon treats as constants elsewhere carry
// their defaults here so they are defined exactly once.
type Config struct {
	// EncryptionKey is VAULT_ENCRYPTION_KEY. Required; absence is a fatal
	// startup error unless a keysource (e.g. the darwin keychain) supplies
	// it instead.
	EncryptionKey string `envconfig:"VAULT_ENCRYPTION_KEY"`

	// DataDir is TELCLAUDE_DATA_DIR, default "${HOME}/.telclaude".
	DataDir string `envconfig:"TELCLAUDE_DATA_DIR"`

	// SocketPath is TELCLAUDE_VAULT_SOCKET. Empty means "resolve the
	// default": ${HOME}/.telclaude/vault.sock, falling back to the temp
	// directory when no home is available.
	SocketPath string `envconfig:"TELCLAUDE_VAULT_SOCKET"`

	// CheckKeyBreached opts in to the HIBP range lookup on the encryption
	// key at startup. Off by default since it makes an outbound call
	// before the fetch guard subsystem exists.
	CheckKeyBreached bool `envconfig:"VAULT_CHECK_KEY_BREACHED" default:"false"`

	// StrictListDecryptFailures controls "list" when some entries decrypt
	// and others don't: when true (the default) the whole call fails with
	// decrypt_failed_entries rather than silently skipping the unreadable
	// entries.
	StrictListDecryptFailures bool `envconfig:"VAULT_STRICT_LIST_DECRYPT" default:"true"`

	// LogLevel controls internal/logging's minimum level.
	LogLevel string `envconfig:"VAULT_LOG_LEVEL" default:"info"`

	// RefreshSkew is how far ahead of expiry an access token is
	// proactively refreshed.
	RefreshSkew time.Duration `envconfig:"VAULT_OAUTH_REFRESH_SKEW" default:"5m"`

	// DefaultTokenTTL is used when a token response omits expires_in.
	DefaultTokenTTL time.Duration `envconfig:"VAULT_OAUTH_DEFAULT_TTL" default:"1h"`

	// OAuthTimeout bounds a single token-endpoint call.
	OAuthTimeout time.Duration `envconfig:"VAULT_OAUTH_TIMEOUT" default:"30s"`

	// SweepInterval is how often expired cached tokens are purged.
	SweepInterval time.Duration `envconfig:"VAULT_OAUTH_SWEEP_INTERVAL" default:"60s"`

	// MaxLineBytes bounds a single IPC request line.
	MaxLineBytes int `envconfig:"VAULT_IPC_MAX_LINE_BYTES" default:"1048576"`

	// FetchDNSCacheTTL / FetchDNSTimeout tune the fetch guard's pinned
	// resolver.
	FetchDNSCacheTTL time.Duration `envconfig:"VAULT_FETCH_DNS_CACHE_TTL" default:"60s"`
	FetchDNSTimeout  time.Duration `envconfig:"VAULT_FETCH_DNS_TIMEOUT" default:"3s"`

	// FetchMaxRedirects bounds the fetch guard's redirect-following.
	FetchMaxRedirects int `envconfig:"VAULT_FETCH_MAX_REDIRECTS" default:"3"`
}

// Load reads Config from the environment and fills in the two defaults
// that depend on $HOME (DataDir, SocketPath) and so cannot be plain
// struct-tag constants.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	home, homeErr := os.UserHomeDir()

	if c.DataDir == "" {
		if homeErr != nil {
			return Config{}, errors.New("TELCLAUDE_DATA_DIR not set and home directory is unavailable")
		}
		c.DataDir = filepath.Join(home, ".telclaude")
	}

	if c.SocketPath == "" {
		if homeErr == nil {
			c.SocketPath = filepath.Join(home, ".telclaude", "vault.sock")
		} else {
			c.SocketPath = filepath.Join(os.TempDir(), "telclaude-vault.sock")
		}
	}

	return c, nil
}

// VaultFilePath is the on-disk location of the encrypted vault file.
func (c Config) VaultFilePath() string {
	return filepath.Join(c.DataDir, "vault.json")
}
