package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/models"
	"otp-service/internal/provider"
	"otp-service/internal/store"
	"otp-service/internal/util"
)

var (
	ErrNotInitialized = errors.New("otp service is not initialized")
	ErrUnhealthy      = errors.New("otp provider failed its health check")
)

// ProviderBuilder turns a configuration into a ready provider.
type ProviderBuilder func(cfg provider.Config) (provider.Provider, error)

// ServiceConfig is what GetConfig reports; it never includes secrets.
type ServiceConfig struct {
	provider.ConfigView
	Initialized bool `json:"initialized"`
}

// OTPService is the single entry point the transport layer talks to. It owns
// the active provider, guards every call until Initialize has succeeded and
// turns provider errors and panics into service_error results.
type OTPService struct {
	build  ProviderBuilder
	logger *zap.Logger

	mu          sync.RWMutex
	provider    provider.Provider
	cfg         provider.Config
	initialized bool
}

func NewOTPService(build ProviderBuilder, logger *zap.Logger) *OTPService {
	if logger == nil {
		logger = util.Get()
	}
	return &OTPService{build: build, logger: logger}
}

// Initialize builds and health-checks the configured provider. A second call
// is a no-op and does not re-validate.
func (s *OTPService) Initialize(ctx context.Context, cfg provider.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		s.logger.Debug("OTP service already initialized, skipping")
		return nil
	}

	p, err := s.buildHealthy(ctx, cfg)
	if err != nil {
		return err
	}

	s.provider = p
	s.cfg = cfg
	s.initialized = true

	s.logger.Info("OTP service initialized",
		util.String("provider", p.Name()),
		util.Bool("dry_run", cfg.DryRun))
	return nil
}

func (s *OTPService) buildHealthy(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
	p, err := s.build(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build %q provider: %w", cfg.Provider, err)
	}
	if health := p.HealthCheck(ctx); health == nil || !health.Success {
		msg := "no health result"
		if health != nil {
			msg = health.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrUnhealthy, msg)
	}
	return p, nil
}

func (s *OTPService) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *OTPService) active() (provider.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider, s.initialized
}

// SwitchProvider replaces the active provider once the new one is healthy.
// Pending codes held by the previous provider are lost. A nil cfg reuses the
// current configuration under the new name.
func (s *OTPService) SwitchProvider(ctx context.Context, name string, cfg *provider.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	next := s.cfg
	if cfg != nil {
		next = *cfg
	}
	next.Provider = name

	p, err := s.buildHealthy(ctx, next)
	if err != nil {
		s.logger.Warn("Provider switch rejected", util.String("provider", name), util.ErrorField(err))
		return err
	}

	previous := s.provider.Name()
	s.provider = p
	s.cfg = next

	s.logger.Info("OTP provider switched",
		util.String("from", previous),
		util.String("to", p.Name()))
	return nil
}

// call runs fn against the active provider and converts every failure
// mode into a Result.
func (s *OTPService) call(op, phone string, fn func(p provider.Provider) (*provider.Result, error)) (res *provider.Result) {
	p, ok := s.active()
	if !ok {
		return provider.Failure(provider.ErrNotInitialized, "OTP service is not initialized")
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("OTP provider panicked",
				util.String("operation", op),
				util.Phone(phone),
				util.Any("panic", r))
			res = provider.Failure(provider.ErrServiceError, "An unexpected error occurred")
		}
	}()

	res, err := fn(p)
	if err != nil {
		s.logger.Error("OTP operation failed",
			util.String("operation", op),
			util.String("provider", p.Name()),
			util.Phone(phone),
			util.ErrorField(err))
		return provider.Failure(provider.ErrServiceError, "An unexpected error occurred")
	}
	if res == nil {
		return provider.Failure(provider.ErrServiceError, "Provider returned no result")
	}
	return res
}

func (s *OTPService) SendOTP(ctx context.Context, phone string, purpose models.Purpose) *provider.Result {
	return s.call("send", phone, func(p provider.Provider) (*provider.Result, error) {
		return p.SendOTP(ctx, phone, provider.SendOptions{Purpose: purpose})
	})
}

func (s *OTPService) VerifyOTP(ctx context.Context, phone, code string, purpose models.Purpose) *provider.Result {
	return s.call("verify", phone, func(p provider.Provider) (*provider.Result, error) {
		return p.VerifyOTP(ctx, phone, code, purpose)
	})
}

func (s *OTPService) CancelOTP(ctx context.Context, phone string, purpose models.Purpose) *provider.Result {
	return s.call("cancel", phone, func(p provider.Provider) (*provider.Result, error) {
		return p.CancelOTP(ctx, phone, purpose)
	})
}

func (s *OTPService) HealthCheck(ctx context.Context) *provider.Result {
	return s.call("health", "", func(p provider.Provider) (*provider.Result, error) {
		return p.HealthCheck(ctx), nil
	})
}

func (s *OTPService) Cleanup(ctx context.Context) (stats store.SweepStats, err error) {
	p, ok := s.active()
	if !ok {
		return stats, ErrNotInitialized
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("otp cleanup panicked: %v", r)
		}
	}()
	return p.Cleanup(ctx)
}

func (s *OTPService) GetConfig() ServiceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ServiceConfig{
		ConfigView:  s.cfg.View(),
		Initialized: s.initialized,
	}
}

// StartCleanup sweeps stale records every interval until ctx is done.
// Ticks before Initialize are skipped.
func (s *OTPService) StartCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("OTP cleanup loop started", util.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("OTP cleanup loop stopped")
			return nil
		case <-ticker.C:
			if !s.IsInitialized() {
				continue
			}
			stats, err := s.Cleanup(ctx)
			if err != nil {
				s.logger.Error("OTP cleanup failed", util.ErrorField(err))
				continue
			}
			if stats.Records > 0 || stats.Counters > 0 {
				s.logger.Info("OTP cleanup removed stale entries",
					util.Int("records", stats.Records),
					util.Int("counters", stats.Counters))
			}
		}
	}
}
