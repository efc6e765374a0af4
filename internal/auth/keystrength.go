// Package auth scores the operator-supplied vault encryption key at
// startup. A weak key defeats the scrypt derivation no matter how careful
// the rest of the vault is, so the daemon warns early — it never blocks,
// since key presence (not strength) is the fatal startup condition.
package auth

import (
	"context"
	"fmt"

	"github.com/nbutton23/zxcvbn-go"
)

var hibpLookupFn = CheckHIBP

// KeyStrengthOptions configures the encryption-key advisory checks.
type KeyStrengthOptions struct {
	// EnableHIBP opts in to the k-anonymity breach lookup; it makes an
	// outbound HTTP call and is therefore off unless the operator asked.
	EnableHIBP     bool
	MinZXCVBNScore int
	MinLength      int
}

// DefaultKeyStrengthOptions returns the advisory policy applied at startup.
func DefaultKeyStrengthOptions() KeyStrengthOptions {
	return KeyStrengthOptions{
		EnableHIBP:     false,
		MinZXCVBNScore: 3,
		MinLength:      16,
	}
}

// Advisory is one non-fatal finding about the encryption key. Findings
// never include the key itself.
type Advisory struct {
	Reason string
}

func (a Advisory) String() string { return a.Reason }

// CheckKeyStrength scores the raw encryption key and returns zero or more
// advisories. ctx bounds the optional HIBP lookup. An HIBP transport
// failure produces an advisory of its own rather than an error: the check
// is best-effort and startup must not depend on an external service.
func CheckKeyStrength(ctx context.Context, rawKey string, opts KeyStrengthOptions) []Advisory {
	if ctx == nil {
		ctx = context.Background()
	}
	defaults := DefaultKeyStrengthOptions()
	if opts.MinLength <= 0 {
		opts.MinLength = defaults.MinLength
	}
	if opts.MinZXCVBNScore <= 0 {
		opts.MinZXCVBNScore = defaults.MinZXCVBNScore
	}
	if opts.MinZXCVBNScore > 4 {
		opts.MinZXCVBNScore = 4
	}

	var advisories []Advisory

	if len(rawKey) < opts.MinLength {
		advisories = append(advisories, Advisory{
			Reason: fmt.Sprintf("encryption key is shorter than %d characters", opts.MinLength),
		})
	}

	strength := zxcvbn.PasswordStrength(rawKey, nil)
	if strength.Score < opts.MinZXCVBNScore {
		advisories = append(advisories, Advisory{
			Reason: fmt.Sprintf("encryption key strength score is %d (want >= %d)", strength.Score, opts.MinZXCVBNScore),
		})
	}

	if opts.EnableHIBP {
		res, err := hibpLookupFn(ctx, rawKey)
		switch {
		case err != nil:
			advisories = append(advisories, Advisory{Reason: "breach lookup failed, skipping"})
		case res.Found:
			advisories = append(advisories, Advisory{
				Reason: fmt.Sprintf("encryption key appears in known breach data (%d occurrences)", res.Count),
			})
		}
	}

	return advisories
}
