// Package main is the entrypoint for the Optin API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/optin/optin/internal/cache"
	"github.com/optin/optin/internal/captcha"
	"github.com/optin/optin/internal/config"
	"github.com/optin/optin/internal/gate"
	"github.com/optin/optin/internal/handler"
	"github.com/optin/optin/internal/mailer"
	"github.com/optin/optin/internal/metrics"
	"github.com/optin/optin/internal/middleware"
	"github.com/optin/optin/internal/repository"
	"github.com/optin/optin/internal/server"
	"github.com/optin/optin/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	sender, err := initMailer(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize mailer", "error", err)
		os.Exit(1)
	}

	verifier := initVerifier(cfg, logger)

	abuseGate := gate.New(cacheClient, verifier, gate.Limits{
		API:     cache.BucketLimit{Budget: cfg.RateLimitAPIBudget, Window: cfg.RateLimitAPIWindow},
		Enroll:  cache.BucketLimit{Budget: cfg.RateLimitEnrollBudget, Window: cfg.RateLimitEnrollWindow},
		Confirm: cache.BucketLimit{Budget: cfg.RateLimitConfirmBudget, Window: cfg.RateLimitConfirmWindow},
	}, logger)

	metricsRecorder := metrics.NewInMemory()
	enrollmentService := service.NewEnrollmentService(repo, abuseGate, sender, metricsRecorder, logger, service.Options{
		CodeTTL:         cfg.CodeTTL,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})

	h := handler.New()
	healthHandler := handler.NewHealthHandler(repo, cacheClient)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService, logger)
	metricsHandler := handler.NewMetricsHandler(metricsRecorder)

	r := setupRouter(h, healthHandler, enrollmentHandler, metricsHandler, cacheClient, cfg, logger)

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"mailer", cfg.MailerDriver,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initMailer selects the code delivery backend from configuration.
func initMailer(cfg *config.Config, logger *slog.Logger) (mailer.Sender, error) {
	if cfg.MailerDriver == "smtp" {
		return mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Subject:  cfg.SMTPSubject,
			CodeTTL:  cfg.CodeTTL,
		})
	}

	logger.Warn("using log mailer, verification codes will be written to the log")
	return mailer.NewLog(logger), nil
}

// initVerifier selects the bot check backend from configuration.
func initVerifier(cfg *config.Config, logger *slog.Logger) captcha.Verifier {
	if cfg.RecaptchaSecret == "" {
		logger.Warn("no reCAPTCHA secret configured, bot checks are disabled")
		return captcha.Noop{}
	}

	return captcha.NewRecaptcha(captcha.RecaptchaConfig{
		Secret:         cfg.RecaptchaSecret,
		ScoreThreshold: cfg.RecaptchaScoreThreshold,
		BypassToken:    bypassToken(cfg, logger),
	}, logger)
}

// bypassToken returns the configured bot-check bypass token. The token is
// only honored outside production.
func bypassToken(cfg *config.Config, logger *slog.Logger) string {
	if cfg.RecaptchaBypassToken == "" {
		return ""
	}
	if cfg.IsProduction() {
		logger.Warn("ignoring reCAPTCHA bypass token in production")
		return ""
	}
	return cfg.RecaptchaBypassToken
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h *handler.Handler,
	healthHandler *handler.HealthHandler,
	enrollmentHandler *handler.EnrollmentHandler,
	metricsHandler *handler.MetricsHandler,
	cacheClient *cache.Cache,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{
		IsDevelopment:      cfg.IsDevelopment(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	r.Use(middleware.CORS(corsCfg))

	// Generic traffic budget over the whole surface, health and
	// diagnostics included. The per-operation enroll and confirm
	// budgets live in the service.
	r.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: cacheClient,
		Enabled: cfg.RateLimitAPIEnabled,
		Limit:   cache.BucketLimit{Budget: cfg.RateLimitAPIBudget, Window: cfg.RateLimitAPIWindow},
	}))

	// Health and diagnostics endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Get("/metrics", metricsHandler.Metrics)

	// Root info endpoint
	r.Get("/", h.Hello)

	// Enrollment endpoints
	r.Post("/enroll", enrollmentHandler.Enroll)
	r.Post("/confirm", enrollmentHandler.Confirm)

	// 404 and 405 handlers
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
