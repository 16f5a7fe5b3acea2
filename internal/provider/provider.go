// Package provider implements OTP issuance and verification behind a small
// polymorphic contract. Expected failures (wrong code, rate limit, expiry)
// are reported as Results; a returned error means the infrastructure broke.
package provider

import (
	"context"
	"errors"
	"strings"

	"otp-service/internal/audit"
	"otp-service/internal/clock"
	"otp-service/internal/config"
	"otp-service/internal/hashing"
	"otp-service/internal/models"
	"otp-service/internal/sms"
	"otp-service/internal/store"
)

const (
	NameSMS  = "sms"
	NameMock = "mock"
)

type ErrorKind string

const (
	ErrOTPNotFound         ErrorKind = "otp_not_found"
	ErrOTPExpired          ErrorKind = "otp_expired"
	ErrOTPLocked           ErrorKind = "otp_locked"
	ErrMaxAttemptsExceeded ErrorKind = "max_attempts_exceeded"
	ErrInvalidOTP          ErrorKind = "invalid_otp"
	ErrRateLimitExceeded   ErrorKind = "rate_limit_exceeded"
	ErrResendCooldown      ErrorKind = "resend_cooldown"
	ErrSMSSendFailed       ErrorKind = "sms_send_failed"
	ErrServiceError        ErrorKind = "service_error"
	ErrNotInitialized      ErrorKind = "not_initialized"
	ErrInvalidPhone        ErrorKind = "invalid_phone"
	ErrInvalidPurpose      ErrorKind = "invalid_purpose"
)

var (
	ErrUnknownProvider = errors.New("unknown otp provider")
	ErrMissingStore    = errors.New("otp store is required")
	ErrMissingSender   = errors.New("sms sender is required unless dry run is enabled")
	ErrMissingCodes    = errors.New("mock provider needs at least one code")
	ErrMockForbidden   = errors.New("mock provider is only allowed in dry run outside production")
)

type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Error   ErrorKind              `json:"error,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func succeed(message string, data map[string]interface{}) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

func fail(kind ErrorKind, message string, data map[string]interface{}) *Result {
	return &Result{Success: false, Error: kind, Message: message, Data: data}
}

// Failure builds a rejection outside this package, e.g. at the facade.
func Failure(kind ErrorKind, message string) *Result {
	return fail(kind, message, nil)
}

type SendOptions struct {
	Purpose models.Purpose
}

type Provider interface {
	Name() string
	SendOTP(ctx context.Context, phone string, opts SendOptions) (*Result, error)
	VerifyOTP(ctx context.Context, phone, code string, purpose models.Purpose) (*Result, error)
	CancelOTP(ctx context.Context, phone string, purpose models.Purpose) (*Result, error)
	// HealthCheck inspects configuration only and makes no network calls.
	HealthCheck(ctx context.Context) *Result
	Cleanup(ctx context.Context) (store.SweepStats, error)
}

type EventRecorder interface {
	Record(e audit.Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(audit.Event) {}

// Config holds everything a provider needs to behave; Deps holds what it
// talks to.
type Config struct {
	Provider              string
	DryRun                bool
	// Production forbids the mock provider unless DryRun is set.
	Production            bool
	SigningSecret         string
	HashAlgorithm         string
	Argon2                hashing.Argon2Params
	TTLSeconds            int
	ResendCooldownSeconds int
	MaxAttempts           int
	LockoutSeconds        int
	RateLimits            models.RateLimits
	CountryCode           string
	MockCodes             []string
}

type Deps struct {
	Store  store.Store
	Sender sms.Sender
	Clock  clock.Clock
	Audit  EventRecorder
}

// DefaultConfig mirrors the documented environment defaults.
func DefaultConfig() Config {
	return Config{
		Provider:              NameSMS,
		HashAlgorithm:         hashing.AlgorithmHMACSHA256,
		Argon2:                hashing.DefaultArgon2Params(),
		TTLSeconds:            180,
		ResendCooldownSeconds: 90,
		MaxAttempts:           5,
		LockoutSeconds:        300,
		RateLimits:            models.RateLimits{PerMinute: 1, PerHour: 3, PerDay: 5},
		CountryCode:           "90",
		MockCodes:             []string{"123456"},
	}
}

// ConfigFromApp maps the loaded process configuration onto a provider
// Config, after the signing secret has been resolved.
func ConfigFromApp(cfg *config.Config, signingSecret string) Config {
	return Config{
		Provider:              strings.ToLower(cfg.OTP.Provider),
		DryRun:                cfg.OTP.DryRun,
		Production:            cfg.IsProduction(),
		SigningSecret:         signingSecret,
		HashAlgorithm:         cfg.OTP.HashAlgorithm,
		Argon2: hashing.Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		},
		TTLSeconds:            cfg.OTP.TTLSeconds,
		ResendCooldownSeconds: cfg.OTP.ResendCooldownSeconds,
		MaxAttempts:           cfg.OTP.MaxAttempts,
		LockoutSeconds:        cfg.OTP.LockoutSeconds,
		RateLimits: models.RateLimits{
			PerMinute: cfg.OTP.RatePerMinute,
			PerHour:   cfg.OTP.RatePerHour,
			PerDay:    cfg.OTP.RatePerDay,
		},
		CountryCode: cfg.OTP.DefaultCountryCode,
		MockCodes:   cfg.OTP.MockCodes,
	}
}

// withDefaults fills zero values so a partially specified Config (for
// example from a provider switch request) still behaves sensibly.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = d.HashAlgorithm
	}
	if c.Argon2.Memory == 0 || c.Argon2.Iterations == 0 || c.Argon2.Parallelism == 0 {
		c.Argon2 = d.Argon2
	}
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = d.TTLSeconds
	}
	if c.ResendCooldownSeconds < 0 {
		c.ResendCooldownSeconds = d.ResendCooldownSeconds
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.LockoutSeconds <= 0 {
		c.LockoutSeconds = d.LockoutSeconds
	}
	if c.RateLimits.PerMinute <= 0 {
		c.RateLimits.PerMinute = d.RateLimits.PerMinute
	}
	if c.RateLimits.PerHour <= 0 {
		c.RateLimits.PerHour = d.RateLimits.PerHour
	}
	if c.RateLimits.PerDay <= 0 {
		c.RateLimits.PerDay = d.RateLimits.PerDay
	}
	if c.CountryCode == "" {
		c.CountryCode = d.CountryCode
	}
	if len(c.MockCodes) == 0 {
		c.MockCodes = d.MockCodes
	}
	return c
}

// ConfigView is the secret-free projection returned by GetConfig.
type ConfigView struct {
	Provider              string `json:"provider"`
	DryRun                bool   `json:"dryRun"`
	HashAlgorithm         string `json:"hashAlgorithm"`
	TTLSeconds            int    `json:"ttlSeconds"`
	ResendCooldownSeconds int    `json:"resendCooldownSeconds"`
	MaxAttempts           int    `json:"maxAttempts"`
	LockoutSeconds        int    `json:"lockoutSeconds"`
	RatePerMinute         int    `json:"ratePerMinute"`
	RatePerHour           int    `json:"ratePerHour"`
	RatePerDay            int    `json:"ratePerDay"`
	CountryCode           string `json:"countryCode"`
	SigningSecretSet      bool   `json:"signingSecretSet"`
}

func (c Config) View() ConfigView {
	c = c.withDefaults()
	return ConfigView{
		Provider:              c.Provider,
		DryRun:                c.DryRun,
		HashAlgorithm:         c.HashAlgorithm,
		TTLSeconds:            c.TTLSeconds,
		ResendCooldownSeconds: c.ResendCooldownSeconds,
		MaxAttempts:           c.MaxAttempts,
		LockoutSeconds:        c.LockoutSeconds,
		RatePerMinute:         c.RateLimits.PerMinute,
		RatePerHour:           c.RateLimits.PerHour,
		RatePerDay:            c.RateLimits.PerDay,
		CountryCode:           c.CountryCode,
		SigningSecretSet:      c.SigningSecret != "",
	}
}
