package oauth

import "regexp"

// urlPattern mirrors internal/logging's redaction pattern; kept local so
// this package does not need to import internal/logging purely for one
// regexp.
var urlPattern = regexp.MustCompile(`https?://[^\s"']+`)

// sanitize strips URLs from an error string before it reaches a caller or
// log line. Refresh-token endpoints can embed secrets in query strings,
// so no formatted error may echo one back verbatim.
func sanitize(s string) string {
	return urlPattern.ReplaceAllString(s, "[URL REDACTED]")
}
