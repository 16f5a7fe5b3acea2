package service

import (
	"go.uber.org/zap"

	"otp-service/internal/provider"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps       provider.Deps
	logger     *zap.Logger
	otpService *OTPService
}

func NewServiceFactory(deps provider.Deps, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		deps:   deps,
		logger: logger,
	}
}

// BuildProvider binds a provider configuration to the shared dependencies.
func (f *ServiceFactory) BuildProvider(cfg provider.Config) (provider.Provider, error) {
	return provider.New(cfg, f.deps)
}

// OTPService returns the OTP service instance (one per factory)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(f.BuildProvider, f.logger)
	}
	return f.otpService
}
