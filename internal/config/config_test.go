package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/optin")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AppEnv != "development" {
		t.Errorf("AppEnv = %q, want %q", cfg.AppEnv, "development")
	}
	if cfg.AppPort != 8080 {
		t.Errorf("AppPort = %d, want 8080", cfg.AppPort)
	}
	if cfg.CodeTTL != 15*time.Minute {
		t.Errorf("CodeTTL = %v, want 15m", cfg.CodeTTL)
	}
	if cfg.DeliveryTimeout != 10*time.Second {
		t.Errorf("DeliveryTimeout = %v, want 10s", cfg.DeliveryTimeout)
	}
	if cfg.MailerDriver != "log" {
		t.Errorf("MailerDriver = %q, want %q", cfg.MailerDriver, "log")
	}
	if cfg.RateLimitEnrollBudget != 5 {
		t.Errorf("RateLimitEnrollBudget = %d, want 5", cfg.RateLimitEnrollBudget)
	}
	if cfg.RateLimitConfirmWindow != time.Hour {
		t.Errorf("RateLimitConfirmWindow = %v, want 1h", cfg.RateLimitConfirmWindow)
	}
	if cfg.RecaptchaScoreThreshold != 0.5 {
		t.Errorf("RecaptchaScoreThreshold = %v, want 0.5", cfg.RecaptchaScoreThreshold)
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	// t.Setenv cannot unset; clear manually and restore on cleanup.
	if old, ok := os.LookupEnv("DATABASE_URL"); ok {
		os.Unsetenv("DATABASE_URL")
		t.Cleanup(func() { os.Setenv("DATABASE_URL", old) })
	}

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for missing DATABASE_URL")
	}
}

func TestLoad_InvalidMailerDriver(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAILER_DRIVER", "pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for invalid MAILER_DRIVER")
	}
}

func TestLoad_SMTPRequiresHost(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAILER_DRIVER", "smtp")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error when MAILER_DRIVER=smtp without SMTP_HOST")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("CODE_TTL", "30m")
	t.Setenv("MAILER_DRIVER", "smtp")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "no-reply@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true")
	}
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false")
	}
	if cfg.CodeTTL != 30*time.Minute {
		t.Errorf("CodeTTL = %v, want 30m", cfg.CodeTTL)
	}
	if cfg.SMTPHost != "smtp.example.com" {
		t.Errorf("SMTPHost = %q, want %q", cfg.SMTPHost, "smtp.example.com")
	}
}

func TestGetCORSAllowedOrigins(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "https://example.com", []string{"https://example.com"}},
		{"multiple with spaces", "https://a.com, https://b.com ,https://c.com", []string{"https://a.com", "https://b.com", "https://c.com"}},
		{"trailing comma", "https://a.com,", []string{"https://a.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{CORSAllowedOrigins: tt.value}

			got := cfg.GetCORSAllowedOrigins()
			if len(got) != len(tt.want) {
				t.Fatalf("GetCORSAllowedOrigins() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("origin[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
