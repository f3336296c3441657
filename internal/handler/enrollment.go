package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/optin/optin/internal/middleware"
	"github.com/optin/optin/internal/service"
)

// EnrollmentHandler handles HTTP requests for the enrollment flow.
type EnrollmentHandler struct {
	svc    *service.EnrollmentService
	logger *slog.Logger
}

// NewEnrollmentHandler creates a new EnrollmentHandler.
func NewEnrollmentHandler(svc *service.EnrollmentService, logger *slog.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{
		svc:    svc,
		logger: logger,
	}
}

// EnrollRequest is the POST /enroll body.
type EnrollRequest struct {
	Email    string `json:"email"`
	BotToken string `json:"bot_token"`
}

// ConfirmRequest is the POST /confirm body.
type ConfirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Enroll handles POST /enroll.
func (h *EnrollmentHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := service.EnrollInput{
		Email:     req.Email,
		BotToken:  req.BotToken,
		ClientKey: middleware.ClientIP(r),
	}

	if err := h.svc.Enroll(r.Context(), input); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("verification code issued",
		"request_id", middleware.GetRequestID(r.Context()),
	)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "verification code sent, check your inbox",
	})
}

// Confirm handles POST /confirm.
func (h *EnrollmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := service.ConfirmInput{
		Email:     req.Email,
		Code:      req.Code,
		ClientKey: middleware.ClientIP(r),
	}

	if err := h.svc.Confirm(r.Context(), input); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("enrollment confirmed",
		"request_id", middleware.GetRequestID(r.Context()),
	)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "subscription confirmed",
	})
}

// handleServiceError maps the service error taxonomy to HTTP responses.
// Expected outcomes surface with precise but non-leaking messages;
// everything else logs server-side and returns an opaque 500.
func (h *EnrollmentHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rlErr *service.RateLimitedError

	switch {
	case errors.As(err, &rlErr):
		retryAfter := int(rlErr.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
	case errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid email address")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid email or code")
	case errors.Is(err, service.ErrAlreadySubscribed):
		writeError(w, http.StatusBadRequest, "this email is already subscribed")
	case errors.Is(err, service.ErrBotSuspected):
		writeError(w, http.StatusForbidden, "security check failed")
	case errors.Is(err, service.ErrNoPendingVerification):
		writeError(w, http.StatusBadRequest, "no pending verification for this email")
	case errors.Is(err, service.ErrCodeExpired):
		writeError(w, http.StatusBadRequest, "verification code has expired, request a new one")
	case errors.Is(err, service.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "incorrect verification code")
	case errors.Is(err, service.ErrDeliveryFailed):
		writeError(w, http.StatusInternalServerError, "could not send the verification email, try again later")
	default:
		h.logger.Error("internal_error",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "something went wrong, try again later")
	}
}
