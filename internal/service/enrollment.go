// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/optin/optin/internal/cache"
	"github.com/optin/optin/internal/captcha"
	"github.com/optin/optin/internal/mailer"
	"github.com/optin/optin/internal/metrics"
	"github.com/optin/optin/internal/model"
	"github.com/optin/optin/internal/otp"
	"github.com/optin/optin/internal/repository"
)

// Service errors. All are expected, user-facing outcomes; messages stay
// precise but never leak hashes, scores, or internals.
var (
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrInvalidInput          = errors.New("invalid email or code")
	ErrAlreadySubscribed     = errors.New("email is already subscribed")
	ErrBotSuspected          = errors.New("security check failed")
	ErrNoPendingVerification = errors.New("no pending verification for this email")
	ErrCodeExpired           = errors.New("verification code has expired")
	ErrInvalidCode           = errors.New("incorrect verification code")
	ErrDeliveryFailed        = errors.New("could not deliver verification code")
	ErrStoreUnavailable      = errors.New("store unavailable")
)

// RateLimitedError reports a denied rate-limit check together with the
// caller-facing retry delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Email validation: trimmed, lowercased, RFC-shaped. Deliverability is the
// verification code's job, not the regex's.
var emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

const maxEmailLength = 254

// defaults applied when the corresponding option is zero.
const (
	defaultCodeTTL         = 15 * time.Minute
	defaultDeliveryTimeout = 10 * time.Second
)

// Store is the persistence surface the orchestrator needs.
// *repository.Repository satisfies it.
type Store interface {
	IsSubscribed(ctx context.Context, email string) (bool, error)
	UpsertPending(ctx context.Context, pending *model.PendingVerification) error
	GetPending(ctx context.Context, email string) (*model.PendingVerification, error)
	DeletePending(ctx context.Context, email string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	Confirm(ctx context.Context, sub *model.Subscriber) error
}

// AbuseGate is the rate-limit and bot-check surface. *gate.Gate satisfies it.
type AbuseGate interface {
	CheckRate(ctx context.Context, clientKey string, bucket cache.Bucket) (*cache.RateLimitResult, error)
	CheckHuman(ctx context.Context, token, remoteIP string) captcha.Result
}

// EnrollmentService coordinates code issuance and confirmation.
type EnrollmentService struct {
	store           Store
	gate            AbuseGate
	sender          mailer.Sender
	metrics         metrics.Recorder
	logger          *slog.Logger
	codeTTL         time.Duration
	deliveryTimeout time.Duration
}

// Options tune the orchestrator. Zero values select the defaults.
type Options struct {
	// CodeTTL is the validity window of an issued code.
	CodeTTL time.Duration
	// DeliveryTimeout bounds the notification call.
	DeliveryTimeout time.Duration
}

// NewEnrollmentService creates an EnrollmentService.
func NewEnrollmentService(store Store, abuseGate AbuseGate, sender mailer.Sender, recorder metrics.Recorder, logger *slog.Logger, opts Options) *EnrollmentService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = defaultCodeTTL
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	return &EnrollmentService{
		store:           store,
		gate:            abuseGate,
		sender:          sender,
		metrics:         recorder,
		logger:          logger,
		codeTTL:         opts.CodeTTL,
		deliveryTimeout: opts.DeliveryTimeout,
	}
}

// EnrollInput defines input for requesting a verification code.
type EnrollInput struct {
	Email     string
	BotToken  string
	ClientKey string // network origin used for rate limiting
}

// Enroll issues a verification code for an email address: abuse checks,
// pending-row upsert, then delivery. A delivery failure is reported to the
// caller but the pending row stays - the undelivered code is unusable, and
// a retry within the issuance budget overwrites it with a fresh one.
func (s *EnrollmentService) Enroll(ctx context.Context, input EnrollInput) error {
	email, ok := NormalizeEmail(input.Email)
	if !ok {
		s.metrics.IncIssueRejected("invalid_email")
		return ErrInvalidEmail
	}

	result, err := s.gate.CheckRate(ctx, input.ClientKey, cache.BucketEnroll)
	if err != nil {
		return fmt.Errorf("%w: enroll rate check: %v", ErrStoreUnavailable, err)
	}
	if !result.Allowed {
		s.metrics.IncIssueRejected("rate_limited")
		return &RateLimitedError{RetryAfter: result.RetryAfter}
	}

	if s.gate.CheckHuman(ctx, input.BotToken, input.ClientKey) == captcha.NotHuman {
		s.metrics.IncIssueRejected("bot_suspected")
		return ErrBotSuspected
	}

	subscribed, err := s.store.IsSubscribed(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: check subscription: %v", ErrStoreUnavailable, err)
	}
	if subscribed {
		s.metrics.IncIssueRejected("already_subscribed")
		return ErrAlreadySubscribed
	}

	// Opportunistic sweep of dead rows; issuance proceeds either way.
	if purged, err := s.store.PurgeExpired(ctx, time.Now()); err != nil {
		s.logger.Warn("purge expired verifications failed", slog.String("error", err.Error()))
	} else if purged > 0 {
		s.metrics.AddExpiredPurged(purged)
	}

	code, err := s.issueCode(ctx, email)
	if err != nil {
		return err
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()

	start := time.Now()
	err = s.sender.Send(deliveryCtx, email, code)
	s.metrics.ObserveDeliveryDuration(time.Since(start))
	if err != nil {
		s.metrics.IncDeliveryFailed()
		s.logger.Error("verification delivery failed",
			slog.String("error", err.Error()),
		)
		return ErrDeliveryFailed
	}

	s.metrics.IncCodeIssued()
	return nil
}

// issueCode generates, hashes, and stores a fresh code for email.
func (s *EnrollmentService) issueCode(ctx context.Context, email string) (string, error) {
	code, err := otp.GenerateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	hash, err := otp.HashCode(code)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}

	now := time.Now().UTC()
	pending := &model.PendingVerification{
		Email:     email,
		CodeHash:  hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.codeTTL),
	}

	if err := s.store.UpsertPending(ctx, pending); err != nil {
		return "", fmt.Errorf("%w: upsert pending: %v", ErrStoreUnavailable, err)
	}

	return code, nil
}

// ConfirmInput defines input for confirming an enrollment.
type ConfirmInput struct {
	Email     string
	Code      string
	ClientKey string
}

// Confirm checks a submitted code against the pending verification and,
// on a match, commits the subscriber atomically. A wrong code keeps the
// pending row so the caller can retry within the confirmation budget; an
// expired code deletes it.
func (s *EnrollmentService) Confirm(ctx context.Context, input ConfirmInput) error {
	email, ok := NormalizeEmail(input.Email)
	if !ok || !otp.ValidCodeFormat(input.Code) {
		s.metrics.IncConfirmRejected("invalid_input")
		return ErrInvalidInput
	}

	result, err := s.gate.CheckRate(ctx, input.ClientKey, cache.BucketConfirm)
	if err != nil {
		return fmt.Errorf("%w: confirm rate check: %v", ErrStoreUnavailable, err)
	}
	if !result.Allowed {
		s.metrics.IncConfirmRejected("rate_limited")
		return &RateLimitedError{RetryAfter: result.RetryAfter}
	}

	pending, err := s.store.GetPending(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNoPending) {
			s.metrics.IncConfirmRejected("no_pending")
			return ErrNoPendingVerification
		}
		return fmt.Errorf("%w: get pending: %v", ErrStoreUnavailable, err)
	}

	if pending.IsExpired() {
		if err := s.store.DeletePending(ctx, email); err != nil {
			s.logger.Warn("delete expired verification failed", slog.String("error", err.Error()))
		}
		s.metrics.IncConfirmRejected("expired")
		return ErrCodeExpired
	}

	if !otp.VerifyCode(input.Code, pending.CodeHash) {
		// The pending row survives a wrong guess; the confirm bucket
		// bounds total attempts.
		s.metrics.IncConfirmRejected("invalid_code")
		return ErrInvalidCode
	}

	sub := &model.Subscriber{
		ID:          ulid.Make().String(),
		Email:       email,
		ConfirmedAt: time.Now().UTC(),
	}
	if err := s.store.Confirm(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrNoPending) {
			// A concurrent confirmation consumed the row first.
			s.metrics.IncConfirmRejected("no_pending")
			return ErrNoPendingVerification
		}
		return fmt.Errorf("%w: commit confirmation: %v", ErrStoreUnavailable, err)
	}

	s.metrics.IncConfirmed()
	return nil
}

// State derives the enrollment state for an email from store contents.
// Diagnostic helper; nothing in the request path depends on it.
func (s *EnrollmentService) State(ctx context.Context, email string) (model.EnrollmentState, error) {
	normalized, ok := NormalizeEmail(email)
	if !ok {
		return model.StateUnknown, ErrInvalidEmail
	}

	subscribed, err := s.store.IsSubscribed(ctx, normalized)
	if err != nil {
		return model.StateUnknown, fmt.Errorf("%w: check subscription: %v", ErrStoreUnavailable, err)
	}

	pending, err := s.store.GetPending(ctx, normalized)
	if err != nil && !errors.Is(err, repository.ErrNoPending) {
		return model.StateUnknown, fmt.Errorf("%w: get pending: %v", ErrStoreUnavailable, err)
	}

	return model.DeriveState(subscribed, pending), nil
}

// NormalizeEmail trims, lowercases, and shape-checks an email address.
func NormalizeEmail(email string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || len(normalized) > maxEmailLength {
		return "", false
	}
	if !emailRegex.MatchString(normalized) {
		return "", false
	}
	return normalized, true
}
