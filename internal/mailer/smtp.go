package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// Errors returned by the SMTP sender.
var (
	// ErrSMTPHostPortRequired is returned when Host/Port are missing.
	ErrSMTPHostPortRequired = errors.New("smtp host and port are required")
	// ErrSMTPNoSender is returned when no From address is configured.
	ErrSMTPNoSender = errors.New("no sender address configured")
)

// SMTP is a Sender backed by net/smtp.
type SMTP struct {
	addr    string
	from    string
	subject string
	ttl     time.Duration
	auth    smtp.Auth
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	// Host is the SMTP server hostname.
	Host string
	// Port is the SMTP server port.
	Port int
	// Username is the SMTP authentication username.
	Username string
	// Password is the SMTP authentication password.
	Password string
	// From is the sender address on outgoing messages.
	From string
	// Subject is the subject line for verification messages.
	Subject string
	// CodeTTL is the validity window quoted in the message body.
	CodeTTL time.Duration
}

// NewSMTP constructs an SMTP sender.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, ErrSMTPHostPortRequired
	}
	if cfg.From == "" {
		return nil, ErrSMTPNoSender
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "Your verification code"
	}

	ttl := cfg.CodeTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &SMTP{
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		from:    cfg.From,
		subject: subject,
		ttl:     ttl,
		auth:    auth,
	}, nil
}

// Send delivers the code over SMTP. The call is bounded by ctx: on
// deadline the sender reports failure while the in-flight SMTP exchange
// runs to completion in the background.
func (s *SMTP) Send(ctx context.Context, email, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw := s.buildMessage(email, code)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.addr, s.auth, s.from, []string{email}, raw)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildMessage renders the MIME message embedding the code.
func (s *SMTP) buildMessage(email, code string) []byte {
	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", email),
		fmt.Sprintf("Subject: %s", s.subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}

	body := fmt.Sprintf(
		"Your verification code is %s.\r\n\r\nIt expires in %s. If you did not request this, ignore this message.\r\n",
		code, formatTTL(s.ttl),
	)

	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}

// formatTTL renders the validity window in whole minutes, rounding up.
func formatTTL(ttl time.Duration) string {
	minutes := int((ttl + time.Minute - 1) / time.Minute)
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
