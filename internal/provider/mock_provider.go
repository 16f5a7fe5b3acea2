package provider

import (
	"context"
	"crypto/subtle"
	"fmt"

	"otp-service/internal/audit"
	"otp-service/internal/bucketing"
	"otp-service/internal/clock"
	"otp-service/internal/models"
	"otp-service/internal/phone"
	"otp-service/internal/repository/memory"
	"otp-service/internal/store"
	"otp-service/internal/util"
)

const mockShards = 4

// MockProvider accepts a fixed set of codes and never sends anything. It
// keeps its own in-memory pending state so switching away from it drops
// every pending code.
type MockProvider struct {
	cfg        Config
	store      *memory.Store
	clock      clock.Clock
	audit      EventRecorder
	normalizer *phone.Normalizer
}

func NewMockProvider(cfg Config, deps Deps) (*MockProvider, error) {
	cfg = cfg.withDefaults()
	if cfg.Production && !cfg.DryRun {
		return nil, ErrMockForbidden
	}
	for _, c := range cfg.MockCodes {
		if c == "" {
			return nil, ErrMissingCodes
		}
	}

	p := &MockProvider{
		cfg:        cfg,
		store:      memory.NewStore(bucketing.NewBucketingManager(mockShards)),
		clock:      deps.Clock,
		audit:      deps.Audit,
		normalizer: phone.NewNormalizer(cfg.CountryCode),
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.audit == nil {
		p.audit = nopRecorder{}
	}
	return p, nil
}

func (p *MockProvider) Name() string {
	return NameMock
}

func (p *MockProvider) resolve(raw string, purpose models.Purpose) (string, *Result) {
	if !purpose.Valid() {
		return "", fail(ErrInvalidPurpose, fmt.Sprintf("Unsupported purpose %q", purpose), nil)
	}
	normalized, err := p.normalizer.Normalize(raw)
	if err != nil {
		return "", fail(ErrInvalidPhone, "Phone number is not valid", nil)
	}
	return normalized, nil
}

func (p *MockProvider) accepts(code string) bool {
	matched := 0
	for _, c := range p.cfg.MockCodes {
		matched |= subtle.ConstantTimeCompare([]byte(c), []byte(code))
	}
	return matched == 1
}

func (p *MockProvider) SendOTP(ctx context.Context, rawPhone string, opts SendOptions) (*Result, error) {
	normalized, rejected := p.resolve(rawPhone, opts.Purpose)
	if rejected != nil {
		return rejected, nil
	}
	nowMs := clock.NowMillis(p.clock)

	rec := &models.OTPRecord{
		Purpose:   opts.Purpose,
		CreatedAt: nowMs,
		ExpiresAt: nowMs + int64(p.cfg.TTLSeconds)*1000,
	}
	if err := p.store.PutRecord(ctx, models.RecordKey(normalized, opts.Purpose), rec); err != nil {
		return nil, fmt.Errorf("failed to store mock otp: %w", err)
	}

	data := map[string]interface{}{
		"provider":   NameMock,
		"purpose":    string(opts.Purpose),
		"ttlSeconds": p.cfg.TTLSeconds,
	}
	if p.cfg.DryRun {
		data["testCode"] = p.cfg.MockCodes[0]
	}

	util.Info("Mock OTP issued", util.Phone(normalized), util.Purpose(string(opts.Purpose)))
	p.audit.Record(audit.NewEvent(audit.EventSent, NameMock, string(opts.Purpose), normalized, ""))
	return succeed("Verification code sent", data), nil
}

func (p *MockProvider) VerifyOTP(ctx context.Context, rawPhone, code string, purpose models.Purpose) (*Result, error) {
	normalized, rejected := p.resolve(rawPhone, purpose)
	if rejected != nil {
		return rejected, nil
	}
	nowMs := clock.NowMillis(p.clock)
	policy := attemptPolicy{
		maxAttempts: p.cfg.MaxAttempts,
		lockoutMs:   int64(p.cfg.LockoutSeconds) * 1000,
	}

	var v verdict
	err := p.store.MutateRecord(ctx, models.RecordKey(normalized, purpose), func(rec *models.OTPRecord) (store.Action, error) {
		var err error
		v, err = judge(rec, nowMs, policy, func() (bool, error) {
			return p.accepts(code), nil
		})
		return v.action, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify mock otp: %w", err)
	}

	p.audit.Record(audit.NewEvent(v.event, NameMock, string(purpose), normalized, string(v.result.Error)))
	return v.result, nil
}

func (p *MockProvider) CancelOTP(ctx context.Context, rawPhone string, purpose models.Purpose) (*Result, error) {
	normalized, rejected := p.resolve(rawPhone, purpose)
	if rejected != nil {
		return rejected, nil
	}
	deleted, err := p.store.DeleteRecord(ctx, models.RecordKey(normalized, purpose))
	if err != nil {
		return nil, err
	}
	if !deleted {
		return fail(ErrOTPNotFound, "No pending verification code for this number", nil), nil
	}
	p.audit.Record(audit.NewEvent(audit.EventCancelled, NameMock, string(purpose), normalized, ""))
	return succeed("Verification code cancelled", nil), nil
}

func (p *MockProvider) HealthCheck(context.Context) *Result {
	return succeed("Mock provider is healthy", map[string]interface{}{
		"provider": NameMock,
		"dryRun":   p.cfg.DryRun,
		"codes":    len(p.cfg.MockCodes),
	})
}

func (p *MockProvider) Cleanup(ctx context.Context) (store.SweepStats, error) {
	return p.store.Sweep(ctx, clock.NowMillis(p.clock))
}

var _ Provider = (*MockProvider)(nil)
