package captcha

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// siteverifyURL is Google's reCAPTCHA verification endpoint.
const siteverifyURL = "https://www.google.com/recaptcha/api/siteverify"

// HTTP client timeouts for the provider call.
const (
	clientTimeout         = 10 * time.Second
	dialTimeout           = 5 * time.Second
	tlsHandshakeTimeout   = 5 * time.Second
	responseHeaderTimeout = 5 * time.Second
)

// Recaptcha verifies tokens against Google's reCAPTCHA v3 siteverify API.
type Recaptcha struct {
	secret      string
	threshold   float64
	bypassToken string
	endpoint    string
	client      *http.Client
	logger      *slog.Logger
}

// RecaptchaConfig holds settings for the reCAPTCHA verifier.
type RecaptchaConfig struct {
	// Secret is the server-side reCAPTCHA key. Empty disables the check.
	Secret string
	// ScoreThreshold is the minimum score counted as human (v3 default 0.5).
	ScoreThreshold float64
	// BypassToken, when non-empty, marks a token that skips verification.
	// Test environments only; leave empty in production.
	BypassToken string
	// Endpoint overrides the siteverify URL. Tests only.
	Endpoint string
}

// NewRecaptcha creates a reCAPTCHA verifier.
func NewRecaptcha(cfg RecaptchaConfig, logger *slog.Logger) *Recaptcha {
	threshold := cfg.ScoreThreshold
	if threshold == 0 {
		threshold = 0.5
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = siteverifyURL
	}

	return &Recaptcha{
		secret:      cfg.Secret,
		threshold:   threshold,
		bypassToken: cfg.BypassToken,
		endpoint:    endpoint,
		client:      newHTTPClient(),
		logger:      logger,
	}
}

// siteverifyResponse is the provider's answer.
type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify scores a token. No provider secret means Skip; a matching bypass
// token means Skip; anything the provider rejects, scores low, or fails
// to answer means NotHuman. The provider's score never leaves this method.
func (r *Recaptcha) Verify(ctx context.Context, token, remoteIP string) Result {
	if r.secret == "" {
		return Skip
	}

	token = strings.TrimSpace(token)
	if r.bypassToken != "" && token == r.bypassToken {
		return Skip
	}
	if token == "" {
		return NotHuman
	}

	form := url.Values{}
	form.Set("secret", r.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		r.logger.Error("captcha request build failed", slog.String("error", err.Error()))
		return NotHuman
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("captcha provider unreachable", slog.String("error", err.Error()))
		return NotHuman
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Error("captcha provider error", slog.Int("status", resp.StatusCode))
		return NotHuman
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		r.logger.Error("captcha response decode failed", slog.String("error", err.Error()))
		return NotHuman
	}

	if !body.Success {
		r.logger.Warn("captcha token rejected",
			slog.Any("error_codes", body.ErrorCodes),
		)
		return NotHuman
	}

	if body.Score < r.threshold {
		r.logger.Warn("captcha score below threshold")
		return NotHuman
	}

	return Human
}

// newHTTPClient creates an HTTP client configured for the provider call.
// It has tight timeouts and does not follow redirects.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: clientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   tlsHandshakeTimeout,
			ResponseHeaderTimeout: responseHeaderTimeout,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
