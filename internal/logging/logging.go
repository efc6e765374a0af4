// Package logging configures the vault daemon's structured logger and
// implements the "[URL REDACTED]" error-sanitization rule required
// everywhere an error string might carry an OAuth endpoint or other URL.
package logging

import (
	"os"
	"regexp"

	"github.com/charmbracelet/log"
)

// Logger is the package-wide structured logger. It is safe for concurrent
// use; charmbracelet/log's default logger already serializes writes.
var Logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
})

// Configure sets the minimum log level from a string such as "debug",
// "info", "warn", or "error". Unrecognized values fall back to info.
func Configure(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	Logger.SetLevel(parsed)
}

// urlPattern matches http(s) URLs for redaction in error strings. It is
// intentionally permissive: over-redacting a non-URL token is harmless,
// under-redacting a live token endpoint is not.
var urlPattern = regexp.MustCompile(`https?://[^\s"']+`)

// RedactURLs replaces every http(s) URL in s with "[URL REDACTED]". Any
// code path that formats an error which might embed a token endpoint or
// other fetched URL must pass its final string through this before it
// reaches a log line or an IPC response.
func RedactURLs(s string) string {
	return urlPattern.ReplaceAllString(s, "[URL REDACTED]")
}
