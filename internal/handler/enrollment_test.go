package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/optin/optin/internal/cache"
	"github.com/optin/optin/internal/captcha"
	"github.com/optin/optin/internal/model"
	"github.com/optin/optin/internal/otp"
	"github.com/optin/optin/internal/repository"
	"github.com/optin/optin/internal/service"
)

type fakeStore struct {
	subscribed map[string]bool
	pending    map[string]*model.PendingVerification
	failAll    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subscribed: make(map[string]bool),
		pending:    make(map[string]*model.PendingVerification),
	}
}

func (s *fakeStore) IsSubscribed(_ context.Context, email string) (bool, error) {
	if s.failAll {
		return false, errors.New("connection refused")
	}
	return s.subscribed[email], nil
}

func (s *fakeStore) UpsertPending(_ context.Context, p *model.PendingVerification) error {
	if s.failAll {
		return errors.New("connection refused")
	}
	s.pending[p.Email] = p
	return nil
}

func (s *fakeStore) GetPending(_ context.Context, email string) (*model.PendingVerification, error) {
	if s.failAll {
		return nil, errors.New("connection refused")
	}
	p, ok := s.pending[email]
	if !ok {
		return nil, repository.ErrNoPending
	}
	return p, nil
}

func (s *fakeStore) DeletePending(_ context.Context, email string) error {
	delete(s.pending, email)
	return nil
}

func (s *fakeStore) PurgeExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStore) Confirm(_ context.Context, sub *model.Subscriber) error {
	if _, ok := s.pending[sub.Email]; !ok {
		return repository.ErrNoPending
	}
	delete(s.pending, sub.Email)
	s.subscribed[sub.Email] = true
	return nil
}

type fakeGate struct {
	deny       bool
	retryAfter time.Duration
	bot        bool
}

func (g *fakeGate) CheckRate(_ context.Context, _ string, _ cache.Bucket) (*cache.RateLimitResult, error) {
	if g.deny {
		return &cache.RateLimitResult{Allowed: false, RetryAfter: g.retryAfter}, nil
	}
	return &cache.RateLimitResult{Allowed: true, Remaining: 1}, nil
}

func (g *fakeGate) CheckHuman(_ context.Context, _, _ string) captcha.Result {
	if g.bot {
		return captcha.NotHuman
	}
	return captcha.Skip
}

type fakeSender struct {
	err  error
	code string
}

func (s *fakeSender) Send(_ context.Context, _, code string) error {
	if s.err != nil {
		return s.err
	}
	s.code = code
	return nil
}

type testEnv struct {
	store   *fakeStore
	gate    *fakeGate
	sender  *fakeSender
	handler *EnrollmentHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newFakeStore()
	g := &fakeGate{}
	sender := &fakeSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := service.NewEnrollmentService(store, g, sender, nil, logger, service.Options{})

	return &testEnv{
		store:   store,
		gate:    g,
		sender:  sender,
		handler: NewEnrollmentHandler(svc, logger),
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	var decoded map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
	return decoded
}

func TestEnroll_Success(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.handler.Enroll, `{"email":"Person@Example.com"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["message"] == "" {
		t.Error("expected message in response")
	}

	if env.sender.code == "" {
		t.Error("no code was delivered")
	}
	if _, ok := env.store.pending["person@example.com"]; !ok {
		t.Error("pending row not stored under normalized email")
	}
}

func TestEnroll_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.handler.Enroll, `{`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if decodeBody(t, rec)["error"] == "" {
		t.Error("expected error in response")
	}
}

func TestEnroll_InvalidEmail(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.handler.Enroll, `{"email":"nope"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEnroll_AlreadySubscribed(t *testing.T) {
	env := newTestEnv(t)
	env.store.subscribed["person@example.com"] = true

	rec := postJSON(t, env.handler.Enroll, `{"email":"person@example.com"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEnroll_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.gate.deny = true
	env.gate.retryAfter = 42 * time.Second

	rec := postJSON(t, env.handler.Enroll, `{"email":"person@example.com"}`)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Errorf("Retry-After = %q, want %q", got, "42")
	}
}

func TestEnroll_RateLimitedSubSecondRoundsUp(t *testing.T) {
	env := newTestEnv(t)
	env.gate.deny = true
	env.gate.retryAfter = 300 * time.Millisecond

	rec := postJSON(t, env.handler.Enroll, `{"email":"person@example.com"}`)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
}

func TestEnroll_BotSuspected(t *testing.T) {
	env := newTestEnv(t)
	env.gate.bot = true

	rec := postJSON(t, env.handler.Enroll, `{"email":"person@example.com","bot_token":"junk"}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestEnroll_DeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sender.err = errors.New("smtp: connection reset")

	rec := postJSON(t, env.handler.Enroll, `{"email":"person@example.com"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestEnroll_StoreFailureIsOpaque(t *testing.T) {
	env := newTestEnv(t)
	env.store.failAll = true

	rec := postJSON(t, env.handler.Enroll, `{"email":"person@example.com"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := decodeBody(t, rec)["error"]; bytes.Contains([]byte(msg), []byte("connection refused")) {
		t.Errorf("internal detail leaked to client: %q", msg)
	}
}

func TestConfirm_Success(t *testing.T) {
	env := newTestEnv(t)
	plantPending(t, env.store, "person@example.com", "123456", time.Now().Add(10*time.Minute))

	rec := postJSON(t, env.handler.Confirm, `{"email":"person@example.com","code":"123456"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if !env.store.subscribed["person@example.com"] {
		t.Error("address not subscribed after confirm")
	}

	// Replay fails now that the code is consumed.
	rec = postJSON(t, env.handler.Confirm, `{"email":"person@example.com","code":"123456"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want 400", rec.Code)
	}
}

func TestConfirm_WrongCode(t *testing.T) {
	env := newTestEnv(t)
	plantPending(t, env.store, "person@example.com", "123456", time.Now().Add(10*time.Minute))

	rec := postJSON(t, env.handler.Confirm, `{"email":"person@example.com","code":"654321"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	// The pending row survives a wrong guess.
	if _, ok := env.store.pending["person@example.com"]; !ok {
		t.Error("pending row removed after wrong code")
	}
}

func TestConfirm_NoPending(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.handler.Confirm, `{"email":"person@example.com","code":"123456"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestConfirm_BadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"short code", `{"email":"person@example.com","code":"12"}`},
		{"alpha code", `{"email":"person@example.com","code":"abcdef"}`},
		{"missing code", `{"email":"person@example.com"}`},
		{"bad email", `{"email":"nope","code":"123456"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, env.handler.Confirm, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

// plantPending stores a pending verification with a real hash of code.
func plantPending(t *testing.T, store *fakeStore, email, code string, expiresAt time.Time) {
	t.Helper()

	hash, err := otp.HashCode(code)
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}

	store.pending[email] = &model.PendingVerification{
		Email:     email,
		CodeHash:  hash,
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
}
