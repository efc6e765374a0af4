// Package fetchguard performs SSRF- and DNS-rebinding-safe outbound HTTP
// fetches on behalf of trusted vault components: the OAuth token refresh
// path and the opt-in HIBP key check. Every hop — the initial URL and each redirect — is
// resolved through a caching resolver, classified against private and
// non-overridable address ranges, and then dialed against exactly the
// validated addresses so a DNS answer cannot change between check and
// connect.
package fetchguard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config tunes the guard's resolver and redirect limits.
type Config struct {
	DNSCacheTTL  time.Duration // default 60s
	DNSTimeout   time.Duration // default 3s
	MaxRedirects int           // default 3
}

// Guard is the process-wide guarded fetcher.
type Guard struct {
	resolver            *cachedResolver
	defaultMaxRedirects int
}

// New constructs a Guard.
func New(cfg Config) *Guard {
	if cfg.DNSCacheTTL <= 0 {
		cfg.DNSCacheTTL = 60 * time.Second
	}
	if cfg.DNSTimeout <= 0 {
		cfg.DNSTimeout = 3 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 3
	}
	return &Guard{
		resolver:            newCachedResolver(cfg.DNSCacheTTL, cfg.DNSTimeout),
		defaultMaxRedirects: cfg.MaxRedirects,
	}
}

// Request describes one guarded fetch.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte

	TimeoutMs int64
	// MaxRedirects overrides the guard's default when non-nil; 0 means
	// "no redirects permitted" (token endpoints must never redirect).
	MaxRedirects *int
	// PrivateEndpoints allowlists specific host:port pairs that may
	// resolve to a private address despite the default-deny policy.
	PrivateEndpoints []Endpoint
}

// Handle is a completed, guarded fetch: the raw *http.Response plus the
// URL the request ultimately landed on after any redirects, and a Release
// that must be called to free the underlying connection.
type Handle struct {
	Response *http.Response
	FinalURL string
	release  func()
}

// Release consumes any remaining response body and releases the
// connection. Callers must call it exactly once.
func (h *Handle) Release() {
	if h.release != nil {
		h.release()
	}
}

// Fetch performs req: validate scheme, resolve + classify + pin every
// hop's addresses, follow redirects under maxRedirects while
// re-validating each target, and bound the whole operation by TimeoutMs.
func (g *Guard) Fetch(ctx context.Context, req Request) (*Handle, error) {
	maxRedirects := g.defaultMaxRedirects
	if req.MaxRedirects != nil {
		maxRedirects = *req.MaxRedirects
	}

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	currentURL := req.URL
	visited := make(map[string]struct{})

	for hop := 0; ; hop++ {
		u, err := g.validateURL(currentURL)
		if err != nil {
			return nil, err
		}
		canonical := u.String()
		if _, seen := visited[canonical]; seen {
			return nil, newError(CategoryRedirectLoop, "revisited %s", canonical)
		}
		visited[canonical] = struct{}{}

		validIPs, err := g.resolveAndValidate(ctx, u, req.PrivateEndpoints)
		if err != nil {
			return nil, err
		}

		client := g.pinnedClient(validIPs)

		httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader(req.Body))
		if err != nil {
			return nil, newError(CategoryInvalidURL, "%v", err)
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, classifyTransportError(ctx, err)
		}

		if resp.StatusCode < 300 || resp.StatusCode >= 400 {
			return &Handle{
				Response: resp,
				FinalURL: u.String(),
				release: func() {
					io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
					client.CloseIdleConnections()
				},
			}, nil
		}

		// 3xx: resolve Location and re-validate from the top.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		client.CloseIdleConnections()

		location := resp.Header.Get("Location")
		if location == "" {
			return nil, newError(CategoryRedirectMissingLocation, "status %d with no Location header", resp.StatusCode)
		}
		next, err := u.Parse(location)
		if err != nil {
			return nil, newError(CategoryInvalidURL, "invalid redirect Location: %v", err)
		}
		if hop+1 > maxRedirects {
			return nil, newError(CategoryTooManyRedirects, "exceeded %d redirects", maxRedirects)
		}
		currentURL = next.String()
	}
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

func (g *Guard) validateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, newError(CategoryInvalidURL, "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError(CategoryUnsupportedScheme, "scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, newError(CategoryInvalidURL, "missing host")
	}
	return u, nil
}

// resolveAndValidate resolves u's host and classifies every returned
// address, rejecting the whole set if any single address is
// non-overridable or an un-allowlisted private address: one public plus
// one private address still rejects, so a dual-stack answer can't be used
// to bypass the check.
func (g *Guard) resolveAndValidate(ctx context.Context, u *url.URL, allow []Endpoint) ([]net.IP, error) {
	host := u.Hostname()
	port := portOf(u)

	ips, err := g.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, newError(CategoryDNSFailure, "%v", err)
	}

	for _, ip := range ips {
		switch classify(ip) {
		case classNonOverridable:
			return nil, newError(CategoryNonOverridable, "%s resolves to %s", host, ip)
		case classPrivate:
			if !allowlisted(allow, host, port) {
				return nil, newError(CategoryPrivateDisallowed, "%s resolves to private address %s", host, ip)
			}
		}
	}
	return ips, nil
}

func portOf(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err == nil {
			return n
		}
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

// pinnedClient builds an http.Client whose dialer connects only to the
// addresses in validIPs, regardless of what a subsequent DNS lookup for
// the same hostname might return. This closes the gap between "we checked
// this address is safe" and "the kernel connects to this address" that a
// second, uncontrolled DNS lookup at connect time would otherwise leave
// open.
func (g *Guard) pinnedClient(validIPs []net.IP) *http.Client {
	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range validIPs {
				conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
				if dialErr == nil {
					return conn, nil
				}
				lastErr = dialErr
			}
			if lastErr == nil {
				lastErr = fmt.Errorf("no pinned addresses to dial")
			}
			return nil, lastErr
		},
	}
	return &http.Client{
		Transport: transport,
		// Redirects are handled by Fetch's own loop so every hop can be
		// re-validated; the stdlib client must never follow one itself.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return newError(CategoryTimeout, "%v", err)
	}
	if ctx.Err() == context.Canceled {
		return newError(CategoryAborted, "%v", err)
	}
	return newError(CategoryTransport, "%v", err)
}
