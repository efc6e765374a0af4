package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/telclaude/vault/internal/fetchguard"
)

const (
	hibpRangeURL  = "https://api.pwnedpasswords.com/range/"
	hibpUserAgent = "telclaude-vault/0.1"
	hibpTimeout   = 4 * time.Second

	// hibpPrefixLen is the k-anonymity split: this many hex characters of
	// the SHA-1 digest go to the API, the rest stays local.
	hibpPrefixLen = 5
)

// HIBPResult captures whether a secret's hash suffix was found in the
// HIBP dataset.
type HIBPResult struct {
	Found bool
	Count int
}

// CheckHIBP queries the HIBP range API using k-anonymity. The request
// goes through the same SSRF-guarded fetch path as every other outbound
// call the daemon makes; only a 5-hex digest prefix ever leaves the
// process. Network and parse failures return a wrapped error so the
// caller can degrade to a warning rather than block.
func CheckHIBP(ctx context.Context, secret string) (HIBPResult, error) {
	return checkHIBP(ctx, fetchguard.New(fetchguard.Config{}), secret)
}

func checkHIBP(ctx context.Context, guard *fetchguard.Guard, secret string) (HIBPResult, error) {
	digest := sha1.Sum([]byte(secret))
	digestHex := strings.ToUpper(hex.EncodeToString(digest[:]))
	prefix, suffix := digestHex[:hibpPrefixLen], digestHex[hibpPrefixLen:]

	handle, err := guard.Fetch(ctx, fetchguard.Request{
		URL:       hibpRangeURL + prefix,
		Headers:   map[string]string{"User-Agent": hibpUserAgent},
		TimeoutMs: hibpTimeout.Milliseconds(),
	})
	if err != nil {
		return HIBPResult{}, fmt.Errorf("hibp range query: %w", err)
	}
	defer handle.Release()

	if handle.Response.StatusCode != http.StatusOK {
		return HIBPResult{}, fmt.Errorf("hibp range query: unexpected status %d", handle.Response.StatusCode)
	}
	return scanRange(handle.Response.Body, suffix)
}

// scanRange walks the "SUFFIX:COUNT" lines of a range response looking
// for the local digest suffix.
func scanRange(r io.Reader, want string) (HIBPResult, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		suffix, countText, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok || !strings.EqualFold(suffix, want) {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(countText))
		if err != nil {
			return HIBPResult{}, fmt.Errorf("hibp parse count: %w", err)
		}
		return HIBPResult{Found: true, Count: count}, nil
	}
	if err := scanner.Err(); err != nil {
		return HIBPResult{}, fmt.Errorf("hibp read response: %w", err)
	}
	return HIBPResult{}, nil
}
