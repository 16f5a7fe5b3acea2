package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"otp-service/internal/models"
	"otp-service/internal/provider"
	"otp-service/internal/service"
	"otp-service/internal/util"
)

// OTPService is the facade surface the HTTP layer needs.
type OTPService interface {
	SendOTP(ctx context.Context, phone string, purpose models.Purpose) *provider.Result
	VerifyOTP(ctx context.Context, phone, code string, purpose models.Purpose) *provider.Result
	CancelOTP(ctx context.Context, phone string, purpose models.Purpose) *provider.Result
	HealthCheck(ctx context.Context) *provider.Result
	GetConfig() service.ServiceConfig
	SwitchProvider(ctx context.Context, name string, cfg *provider.Config) error
}

// OTPHandler handles HTTP requests for OTP operations
type OTPHandler struct {
	otpService OTPService
	logger     *zap.Logger
}

func NewOTPHandler(otpService OTPService, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{
		otpService: otpService,
		logger:     logger,
	}
}

type sendRequest struct {
	Phone   string         `json:"phone"`
	Purpose models.Purpose `json:"purpose"`
}

type verifyRequest struct {
	Phone   string         `json:"phone"`
	Code    string         `json:"code"`
	Purpose models.Purpose `json:"purpose"`
}

type switchRequest struct {
	Provider string `json:"provider"`
}

// errorBody is used for failures that never reach the service.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RegisterRoutes registers all OTP routes. The provider switch is mounted
// only behind admin; a nil admin leaves it unreachable.
func (h *OTPHandler) RegisterRoutes(router chi.Router, admin func(http.Handler) http.Handler) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/send", h.SendOTP)
		r.Post("/verify", h.VerifyOTP)
		r.Post("/cancel", h.CancelOTP)
		r.Get("/health", h.HealthCheck)
		r.Get("/config", h.GetConfig)
		if admin != nil {
			r.With(admin).Put("/provider", h.SwitchProvider)
		}
	})
}

// SendOTP issues a code to the phone in the body
// @Router /otp/send [post]
func (h *OTPHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.suspicious(w, req.Phone, string(req.Purpose)) {
		return
	}

	res := h.otpService.SendOTP(r.Context(), req.Phone, purposeOrDefault(req.Purpose))
	h.respondWithResult(w, res)
	h.logger.Debug("OTP send via HTTP",
		util.Phone(req.Phone),
		util.Bool("success", res.Success),
		util.Duration("duration", time.Since(startTime)),
	)
}

// VerifyOTP checks a submitted code
// @Router /otp/verify [post]
func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.suspicious(w, req.Phone, req.Code, string(req.Purpose)) {
		return
	}

	res := h.otpService.VerifyOTP(r.Context(), req.Phone, req.Code, purposeOrDefault(req.Purpose))
	h.respondWithResult(w, res)
	h.logger.Debug("OTP verify via HTTP",
		util.Phone(req.Phone),
		util.Bool("success", res.Success),
		util.Duration("duration", time.Since(startTime)),
	)
}

// CancelOTP removes a pending code
// @Router /otp/cancel [post]
func (h *OTPHandler) CancelOTP(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.suspicious(w, req.Phone, string(req.Purpose)) {
		return
	}
	h.respondWithResult(w, h.otpService.CancelOTP(r.Context(), req.Phone, purposeOrDefault(req.Purpose)))
}

// HealthCheck reports whether the active provider is usable
// @Router /otp/health [get]
func (h *OTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	res := h.otpService.HealthCheck(r.Context())
	if !res.Success && res.Error == provider.ErrServiceError {
		h.respondWithJSON(w, http.StatusServiceUnavailable, res)
		return
	}
	h.respondWithResult(w, res)
}

// GetConfig returns the active configuration without secrets
// @Router /otp/config [get]
func (h *OTPHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.otpService.GetConfig())
}

// SwitchProvider swaps the active provider, keeping the current settings
// @Router /otp/provider [put]
func (h *OTPHandler) SwitchProvider(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !h.decode(w, r, &req) {
		return
	}

	name := util.SanitizeInput(req.Provider)
	if err := h.otpService.SwitchProvider(r.Context(), name, nil); err != nil {
		status := http.StatusBadRequest
		kind := provider.ErrServiceError
		if errors.Is(err, service.ErrNotInitialized) {
			status, kind = http.StatusServiceUnavailable, provider.ErrNotInitialized
		}
		h.logger.Warn("Provider switch failed via HTTP",
			util.String("provider", name),
			util.ErrorField(err),
		)
		h.respondWithJSON(w, status, errorBody{Error: string(kind), Message: "Provider switch rejected"})
		return
	}

	h.respondWithJSON(w, http.StatusOK, h.otpService.GetConfig())
}

// Helper Methods

func purposeOrDefault(p models.Purpose) models.Purpose {
	if p == "" {
		return models.PurposeLogin
	}
	return p
}

func (h *OTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", http.StatusBadRequest),
		)
		h.respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Invalid request body"})
		return false
	}
	return true
}

func (h *OTPHandler) suspicious(w http.ResponseWriter, fields ...string) bool {
	for _, f := range fields {
		if util.ContainsSuspicious(f) {
			h.respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Request contains invalid characters"})
			return true
		}
	}
	return false
}

// respondWithResult writes a provider result with its mapped status code.
func (h *OTPHandler) respondWithResult(w http.ResponseWriter, res *provider.Result) {
	if !res.Success {
		if secs, ok := retryAfter(res); ok {
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}
	h.respondWithJSON(w, statusCode(res), res)
}

// respondWithJSON sends a JSON response
func (h *OTPHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func statusCode(res *provider.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Error {
	case provider.ErrInvalidPhone, provider.ErrInvalidPurpose:
		return http.StatusBadRequest
	case provider.ErrInvalidOTP:
		return http.StatusUnauthorized
	case provider.ErrOTPNotFound:
		return http.StatusNotFound
	case provider.ErrOTPExpired:
		return http.StatusGone
	case provider.ErrOTPLocked, provider.ErrMaxAttemptsExceeded:
		return http.StatusLocked
	case provider.ErrRateLimitExceeded, provider.ErrResendCooldown:
		return http.StatusTooManyRequests
	case provider.ErrSMSSendFailed:
		return http.StatusBadGateway
	case provider.ErrNotInitialized:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func retryAfter(res *provider.Result) (int64, bool) {
	switch v := res.Data["remainingSeconds"].(type) {
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	}
	return 0, false
}
