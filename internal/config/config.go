// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Verification code lifecycle
	CodeTTL         time.Duration `env:"CODE_TTL" envDefault:"15m"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`

	// Rate limiting. Each bucket is a fixed window with its own budget;
	// a zero budget disables the bucket.
	RateLimitAPIEnabled    bool          `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitAPIBudget     int           `env:"RATE_LIMIT_API_BUDGET" envDefault:"120"`
	RateLimitAPIWindow     time.Duration `env:"RATE_LIMIT_API_WINDOW" envDefault:"1m"`
	RateLimitEnrollBudget  int           `env:"RATE_LIMIT_ENROLL_BUDGET" envDefault:"5"`
	RateLimitEnrollWindow  time.Duration `env:"RATE_LIMIT_ENROLL_WINDOW" envDefault:"1h"`
	RateLimitConfirmBudget int           `env:"RATE_LIMIT_CONFIRM_BUDGET" envDefault:"10"`
	RateLimitConfirmWindow time.Duration `env:"RATE_LIMIT_CONFIRM_WINDOW" envDefault:"1h"`

	// Bot check (reCAPTCHA). Empty secret disables verification.
	RecaptchaSecret         string  `env:"RECAPTCHA_SECRET" envDefault:""`
	RecaptchaScoreThreshold float64 `env:"RECAPTCHA_SCORE_THRESHOLD" envDefault:"0.5"`
	RecaptchaBypassToken    string  `env:"RECAPTCHA_BYPASS_TOKEN" envDefault:""`

	// Mail delivery. Driver is "smtp" or "log"; "log" only prints codes
	// and exists for local development.
	MailerDriver string `env:"MAILER_DRIVER" envDefault:"log"`
	SMTPHost     string `env:"SMTP_HOST" envDefault:""`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME" envDefault:""`
	SMTPPassword string `env:"SMTP_PASSWORD" envDefault:""`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:""`
	SMTPSubject  string `env:"SMTP_SUBJECT" envDefault:""`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.MailerDriver {
	case "smtp", "log":
	default:
		return fmt.Errorf("invalid MAILER_DRIVER %q: must be smtp or log", c.MailerDriver)
	}

	if c.MailerDriver == "smtp" && c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required when MAILER_DRIVER=smtp")
	}

	if c.CodeTTL <= 0 {
		return fmt.Errorf("CODE_TTL must be positive")
	}

	return nil
}
