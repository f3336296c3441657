// Package captcha provides the bot-likelihood check invoked before code
// issuance. The check is a pluggable capability: deployments without a
// provider run with the check skipped (fail open).
package captcha

import "context"

// Result is the three-valued outcome of a bot check. Modeling the
// unconfigured case explicitly keeps the fail-open policy visible instead
// of hiding it behind a boolean default.
type Result string

const (
	// Human means the provider scored the token above the threshold.
	Human Result = "human"
	// NotHuman means the provider rejected the token, scored it below
	// the threshold, or failed to answer.
	NotHuman Result = "not_human"
	// Skip means no provider is configured, or a test-mode bypass token
	// matched. Callers treat Skip like Human.
	Skip Result = "skip"
)

// Verifier scores a client-supplied token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) Result
}

// Noop is a Verifier that always skips. Used when no provider is
// configured and in tests.
type Noop struct{}

// Verify always returns Skip.
func (Noop) Verify(_ context.Context, _, _ string) Result { return Skip }
