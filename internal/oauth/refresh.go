// Package oauth refreshes access tokens for stored oauth2 credentials,
// with single-flight coordination so N concurrent callers for the same
// target collapse into one outbound call against the token endpoint.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/telclaude/vault/internal/credential"
	"github.com/telclaude/vault/internal/fetchguard"
)

// Result is what a successful refresh (or cache hit) returns to the caller.
type Result struct {
	AccessToken     string
	ExpiresAt       time.Time
	NewRefreshToken string // set only when the endpoint rotated the refresh token
}

// cachedToken lives only in memory; it is never persisted.
type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// Engine is the process-wide refresh state: the access-token cache and
// the single-flight group that deduplicates concurrent refreshes per
// target.
type Engine struct {
	client *fetchguard.Guard

	skew       time.Duration
	defaultTTL time.Duration
	timeout    time.Duration

	// allowlist is forwarded to every fetch as fetchguard.Request's
	// PrivateEndpoints; empty in production (token endpoints are public
	// hosts), populated in tests exercising loopback token servers.
	allowlist []fetchguard.Endpoint

	mu    sync.Mutex
	cache map[string]cachedToken // target -> cached access token

	sf singleflight.Group
}

// Config tunes Engine; zero values fall back to 5 min skew, 1h default
// TTL, and a 30s endpoint timeout.
type Config struct {
	RefreshSkew time.Duration
	DefaultTTL  time.Duration
	Timeout     time.Duration
}

// New constructs an Engine. Every outbound HTTP call goes through guard's
// SSRF-safe fetch.
func New(guard *fetchguard.Guard, cfg Config) *Engine {
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = 5 * time.Minute
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Engine{
		client:     guard,
		skew:       cfg.RefreshSkew,
		defaultTTL: cfg.DefaultTTL,
		timeout:    cfg.Timeout,
		cache:      make(map[string]cachedToken),
	}
}

// GetAccessToken returns a currently-valid access token for target,
// refreshing via the token endpoint when the cache is cold or close to
// expiry. Concurrent callers for the same target with a cold cache share
// the single in-flight HTTP call.
func (e *Engine) GetAccessToken(ctx context.Context, target string, cred credential.Credential) (Result, error) {
	if cred.Type != credential.TypeOAuth2 {
		return Result{}, fmt.Errorf("target %q credential is not oauth2", target)
	}

	if cached, ok := e.cacheLookup(target); ok {
		return Result{AccessToken: cached.accessToken, ExpiresAt: cached.expiresAt}, nil
	}

	v, err, _ := e.sf.Do(target, func() (any, error) {
		return e.refresh(ctx, target, cred)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// cacheLookup returns the cached token if it has more than the configured
// skew remaining before expiry.
func (e *Engine) cacheLookup(target string) (cachedToken, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tok, ok := e.cache[target]
	if !ok {
		return cachedToken{}, false
	}
	if time.Until(tok.expiresAt) <= e.skew {
		return cachedToken{}, false
	}
	return tok, true
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// refresh performs the single outbound call for target and populates the
// cache on success. It never writes the cache on failure.
func (e *Engine) refresh(ctx context.Context, target string, cred credential.Credential) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)
	if cred.Scope != "" {
		form.Set("scope", cred.Scope)
	}
	body := []byte(form.Encode())

	handle, err := e.client.Fetch(ctx, fetchguard.Request{
		URL:    cred.TokenEndpoint,
		Method: "POST",
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/json",
		},
		Body: body,
		// Token endpoints must not redirect; any 3xx is an error rather
		// than something to follow.
		MaxRedirects:     intPtr(0),
		TimeoutMs:        e.timeout.Milliseconds(),
		PrivateEndpoints: e.allowlist,
	})
	if err != nil {
		return Result{}, sanitizeErr(fmt.Errorf("refresh token for target: %w", err))
	}
	defer handle.Release()

	if handle.Response.StatusCode < 200 || handle.Response.StatusCode >= 300 {
		return Result{}, sanitizeErr(fmt.Errorf("token endpoint returned status %d", handle.Response.StatusCode))
	}

	var parsed tokenResponse
	if err := json.NewDecoder(handle.Response.Body).Decode(&parsed); err != nil {
		return Result{}, sanitizeErr(fmt.Errorf("decode token response: %w", err))
	}
	if parsed.AccessToken == "" {
		return Result{}, sanitizeErr(fmt.Errorf("token endpoint response missing access_token"))
	}

	ttl := e.defaultTTL
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	expiresAt := time.Now().Add(ttl)

	e.mu.Lock()
	e.cache[target] = cachedToken{accessToken: parsed.AccessToken, expiresAt: expiresAt}
	e.mu.Unlock()

	result := Result{AccessToken: parsed.AccessToken, ExpiresAt: expiresAt}
	if parsed.RefreshToken != "" && parsed.RefreshToken != cred.RefreshToken {
		result.NewRefreshToken = parsed.RefreshToken
	}
	return result, nil
}

// Invalidate drops any cached token for target, used when the caller
// (the store/dispatch layer) observes that the underlying credential
// changed out from under this engine: a get-token issued after a store
// must use the newly stored refresh token, not a stale cached result.
func (e *Engine) Invalidate(target string) {
	e.mu.Lock()
	delete(e.cache, target)
	e.mu.Unlock()
	// Callers arriving after the credential change must not join a
	// refresh that was started with the old refresh token.
	e.sf.Forget(target)
}

// Sweep removes cached tokens whose expiry has already passed. Run every
// config.Config.SweepInterval by the daemon's background loop (RunSweep).
func (e *Engine) Sweep() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for target, tok := range e.cache {
		if !tok.expiresAt.After(now) {
			delete(e.cache, target)
		}
	}
}

// RunSweep blocks, calling Sweep every interval, until ctx is done.
func (e *Engine) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

func intPtr(i int) *int { return &i }

// sanitizeErr applies the "[URL REDACTED]" substitution to the fully
// formatted error string before it can reach an IPC response or log line.
// Token endpoints can embed secrets in query strings, so redaction happens
// at every formatting site, not just the one that built the URL.
func sanitizeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", sanitize(err.Error()))
}
