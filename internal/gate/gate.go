// Package gate is the abuse gate: per-client rate limiting plus the
// bot-likelihood check, combined behind one injected object so request
// handlers hold no ambient counter state.
package gate

import (
	"context"
	"log/slog"

	"github.com/optin/optin/internal/cache"
	"github.com/optin/optin/internal/captcha"
)

// Limiter is the windowed-counter backend. *cache.Cache satisfies it.
type Limiter interface {
	CheckRate(ctx context.Context, clientKey string, bucket cache.Bucket, limit cache.BucketLimit) (*cache.RateLimitResult, error)
}

// Limits holds the per-bucket budgets.
type Limits struct {
	API     cache.BucketLimit
	Enroll  cache.BucketLimit
	Confirm cache.BucketLimit
}

// Gate bundles the rate limiter and the bot check.
type Gate struct {
	limiter  Limiter
	verifier captcha.Verifier
	limits   Limits
	logger   *slog.Logger
}

// New creates an abuse gate. A nil verifier disables the bot check
// entirely (every token skips).
func New(limiter Limiter, verifier captcha.Verifier, limits Limits, logger *slog.Logger) *Gate {
	if verifier == nil {
		verifier = captcha.Noop{}
	}
	return &Gate{
		limiter:  limiter,
		verifier: verifier,
		limits:   limits,
		logger:   logger,
	}
}

// CheckRate runs the windowed counter for clientKey in the given bucket.
func (g *Gate) CheckRate(ctx context.Context, clientKey string, bucket cache.Bucket) (*cache.RateLimitResult, error) {
	limit, ok := g.limitFor(bucket)
	if !ok {
		g.logger.Warn("unknown rate limit bucket", slog.String("bucket", string(bucket)))
		return &cache.RateLimitResult{Allowed: true}, nil
	}

	result, err := g.limiter.CheckRate(ctx, clientKey, bucket, limit)
	if err != nil {
		return nil, err
	}

	if !result.Allowed {
		g.logger.Warn("rate limit exceeded",
			slog.String("bucket", string(bucket)),
			slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
		)
	}

	return result, nil
}

// CheckHuman scores the bot token for the given client.
func (g *Gate) CheckHuman(ctx context.Context, token, remoteIP string) captcha.Result {
	return g.verifier.Verify(ctx, token, remoteIP)
}

func (g *Gate) limitFor(bucket cache.Bucket) (cache.BucketLimit, bool) {
	switch bucket {
	case cache.BucketAPI:
		return g.limits.API, true
	case cache.BucketEnroll:
		return g.limits.Enroll, true
	case cache.BucketConfirm:
		return g.limits.Confirm, true
	default:
		return cache.BucketLimit{}, false
	}
}
