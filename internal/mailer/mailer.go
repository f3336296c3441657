// Package mailer delivers verification codes to enrollment candidates.
// Delivery is a capability: the orchestrator hands over a destination and
// a code and only learns success or failure.
package mailer

import (
	"context"
	"log/slog"
)

// Sender delivers a verification code to an email address.
type Sender interface {
	Send(ctx context.Context, email, code string) error
}

// Log is a Sender for local development: it logs the code instead of
// sending mail. Never wire this in production.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging sender.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Send logs the code and reports success.
func (l *Log) Send(_ context.Context, email, code string) error {
	l.logger.Info("verification code issued (log sender)",
		slog.String("email", email),
		slog.String("code", code),
	)
	return nil
}
