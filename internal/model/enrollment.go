// Package model defines domain entities for the application.
package model

import "time"

// Subscriber represents a confirmed enrollment.
// Rows are immutable once written; re-inserting the same email is a no-op.
type Subscriber struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// PendingVerification represents an unconsumed code issuance awaiting
// confirmation. At most one live row exists per email; re-issuance
// replaces the row in place.
type PendingVerification struct {
	Email     string    `json:"email"`
	CodeHash  string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the verification window has passed.
func (p *PendingVerification) IsExpired() bool {
	return time.Now().After(p.ExpiresAt)
}

// EnrollmentState is the per-email state derived from store contents.
// It is never persisted; the rows themselves are the source of truth.
type EnrollmentState string

const (
	// StateUnknown means no record exists for the email.
	StateUnknown EnrollmentState = "unknown"
	// StatePending means a live verification code is outstanding.
	StatePending EnrollmentState = "pending"
	// StateConfirmed means a subscriber row exists. Terminal.
	StateConfirmed EnrollmentState = "confirmed"
)

// DeriveState computes the enrollment state from store lookups.
// A confirmed subscriber wins over any leftover pending row, and an
// expired pending row counts as no record.
func DeriveState(subscribed bool, pending *PendingVerification) EnrollmentState {
	if subscribed {
		return StateConfirmed
	}
	if pending != nil && !pending.IsExpired() {
		return StatePending
	}
	return StateUnknown
}
