package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/optin/optin/internal/model"
)

// Common errors for enrollment repository operations.
var (
	// ErrNoPending indicates there is no pending verification for the email.
	ErrNoPending = errors.New("no pending verification")
)

// IsSubscribed reports whether a confirmed subscriber row exists for email.
func (r *Repository) IsSubscribed(ctx context.Context, email string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM subscribers WHERE email = $1)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}

	return exists, nil
}

// UpsertPending atomically creates or replaces the pending verification
// for an email. The replace happens at the storage layer (ON CONFLICT),
// so concurrent issuance for one email leaves exactly one row with the
// last writer's hash and expiry.
func (r *Repository) UpsertPending(ctx context.Context, pending *model.PendingVerification) error {
	query := `
		INSERT INTO pending_verifications (email, code_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET code_hash = EXCLUDED.code_hash,
		    issued_at = EXCLUDED.issued_at,
		    expires_at = EXCLUDED.expires_at
	`

	_, err := r.pool.Exec(ctx, query,
		pending.Email,
		pending.CodeHash,
		pending.IssuedAt,
		pending.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pending verification: %w", err)
	}

	return nil
}

// GetPending retrieves the pending verification for an email.
func (r *Repository) GetPending(ctx context.Context, email string) (*model.PendingVerification, error) {
	query := `
		SELECT email, code_hash, issued_at, expires_at
		FROM pending_verifications
		WHERE email = $1
	`

	var pending model.PendingVerification
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&pending.Email,
		&pending.CodeHash,
		&pending.IssuedAt,
		&pending.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPending
		}
		return nil, fmt.Errorf("failed to get pending verification: %w", err)
	}

	return &pending, nil
}

// DeletePending removes the pending verification for an email.
// Deleting a missing row is not an error.
func (r *Repository) DeletePending(ctx context.Context, email string) error {
	query := `
		DELETE FROM pending_verifications WHERE email = $1
	`

	if _, err := r.pool.Exec(ctx, query, email); err != nil {
		return fmt.Errorf("failed to delete pending verification: %w", err)
	}

	return nil
}

// PurgeExpired deletes all pending verifications whose expiry has passed
// and returns the number of rows removed. Idempotent.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM pending_verifications WHERE expires_at < $1
	`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired verifications: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Confirm atomically consumes the pending verification and records the
// subscriber. Runs as a single transaction: if the pending row is already
// gone (consumed by a concurrent confirmation), nothing is committed and
// ErrNoPending is returned. The subscriber insert is insert-or-ignore on
// the email uniqueness constraint, so re-confirming an email that raced
// into the subscribers table is a no-op rather than a failure.
func (r *Repository) Confirm(ctx context.Context, sub *model.Subscriber) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM pending_verifications WHERE email = $1`,
		sub.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to consume pending verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoPending
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO subscribers (id, email, confirmed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO NOTHING`,
		sub.ID,
		sub.Email,
		sub.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscriber: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit confirmation: %w", err)
	}

	return nil
}
