package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/audit"
	"otp-service/internal/clock"
	"otp-service/internal/hashing"
	"otp-service/internal/models"
	"otp-service/internal/phone"
	"otp-service/internal/sms"
	"otp-service/internal/store"
	"otp-service/internal/util"
)

// releaseTimeout bounds handing a rate slot back after the request context
// is gone.
const releaseTimeout = 2 * time.Second

// SMSProvider issues real codes, keeps only their keyed digests and delivers
// them through an sms.Sender.
type SMSProvider struct {
	cfg        Config
	store      store.Store
	sender     sms.Sender
	clock      clock.Clock
	audit      EventRecorder
	hasher     *hashing.Hasher
	normalizer *phone.Normalizer
}

func NewSMSProvider(cfg Config, deps Deps) (*SMSProvider, error) {
	cfg = cfg.withDefaults()
	if deps.Store == nil {
		return nil, ErrMissingStore
	}
	if !cfg.DryRun && deps.Sender == nil {
		return nil, ErrMissingSender
	}

	secret := cfg.SigningSecret
	if secret == "" {
		if !cfg.DryRun {
			return nil, hashing.ErrMissingSecret
		}
		// Dry runs may omit the secret; codes then only verify within this
		// process.
		ephemeral := make([]byte, 32)
		if _, err := rand.Read(ephemeral); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral secret: %w", err)
		}
		secret = hex.EncodeToString(ephemeral)
	}

	hasher, err := hashing.NewHasher(secret, cfg.HashAlgorithm, cfg.Argon2)
	if err != nil {
		return nil, fmt.Errorf("failed to create hasher: %w", err)
	}

	p := &SMSProvider{
		cfg:        cfg,
		store:      deps.Store,
		sender:     deps.Sender,
		clock:      deps.Clock,
		audit:      deps.Audit,
		hasher:     hasher,
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

func (p *SMSProvider) Name() string {
	return NameSMS
}

func (p *SMSProvider) now() int64 {
	return clock.NowMillis(p.clock)
}

func (p *SMSProvider) record(t audit.EventType, normalized string, purpose models.Purpose, kind ErrorKind) {
	p.audit.Record(audit.NewEvent(t, NameSMS, string(purpose), normalized, string(kind)))
}

// resolve validates the caller's phone and purpose.
func (p *SMSProvider) resolve(raw string, purpose models.Purpose) (string, *Result) {
	if !purpose.Valid() {
		return "", fail(ErrInvalidPurpose, fmt.Sprintf("Unsupported purpose %q", purpose), nil)
	}
	normalized, err := p.normalizer.Normalize(raw)
	if err != nil {
		return "", fail(ErrInvalidPhone, "Phone number is not valid", nil)
	}
	return normalized, nil
}

func (p *SMSProvider) SendOTP(ctx context.Context, rawPhone string, opts SendOptions) (*Result, error) {
	normalized, rejected := p.resolve(rawPhone, opts.Purpose)
	if rejected != nil {
		return rejected, nil
	}
	purpose := opts.Purpose
	key := models.RecordKey(normalized, purpose)
	nowMs := p.now()

	reservation, err := p.store.ReserveSend(ctx, normalized, p.cfg.RateLimits, nowMs)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !reservation.Allowed {
		util.Warn("OTP send rate limited",
			util.Phone(normalized),
			zap.String("window", string(reservation.Window)),
			zap.Int64("reset_time", reservation.ResetTime))
		p.record(audit.EventSendFailed, normalized, purpose, ErrRateLimitExceeded)
		return fail(ErrRateLimitExceeded, fmt.Sprintf("Too many codes requested in the last %s", reservation.Window),
			map[string]interface{}{
				"window":           string(reservation.Window),
				"resetTime":        reservation.ResetTime,
				"remainingSeconds": remainingSeconds(reservation.ResetTime - nowMs),
			}), nil
	}

	// From here on every rejection hands the reserved slot back.
	release := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := p.store.ReleaseSend(rctx, reservation); err != nil {
			util.Error("Failed to release rate limit reservation", util.Phone(normalized), zap.Error(err))
		}
	}

	existing, err := p.store.GetRecord(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		release()
		return nil, fmt.Errorf("failed to load otp record: %w", err)
	}
	cooldownMs := int64(p.cfg.ResendCooldownSeconds) * 1000
	if existing != nil && !existing.Expired(nowMs) && nowMs-existing.CreatedAt < cooldownMs {
		release()
		remaining := remainingSeconds(existing.CreatedAt + cooldownMs - nowMs)
		p.record(audit.EventSendFailed, normalized, purpose, ErrResendCooldown)
		return fail(ErrResendCooldown, fmt.Sprintf("Please wait %d seconds before requesting a new code", remaining),
			map[string]interface{}{"remainingSeconds": remaining}), nil
	}

	code, err := generateCode()
	if err != nil {
		release()
		return nil, err
	}
	digest, err := p.hasher.Issue(normalized, code, string(purpose))
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}
	message := sms.BuildMessage(purpose, code, p.cfg.TTLSeconds)

	data := map[string]interface{}{
		"provider":   NameSMS,
		"purpose":    string(purpose),
		"ttlSeconds": p.cfg.TTLSeconds,
	}

	if p.cfg.DryRun {
		util.Debug("Dry run, skipping SMS dispatch", util.Phone(normalized), zap.String("code", code))
		data["testCode"] = code
		data["dryRun"] = true
	} else {
		providerResponse, err := p.sender.Send(ctx, phone.ForTransport(normalized), message)
		if err != nil {
			release()
			util.Error("SMS dispatch failed",
				util.Phone(normalized),
				zap.String("transport", p.sender.Name()),
				zap.Error(err))
			p.record(audit.EventSendFailed, normalized, purpose, ErrSMSSendFailed)
			return fail(ErrSMSSendFailed, "Verification code could not be sent", nil), nil
		}
		util.Debug("SMS dispatched", util.Phone(normalized), zap.String("provider_response", providerResponse))
	}

	rec := &models.OTPRecord{
		Hash:          digest.Hash,
		Salt:          digest.Salt,
		HashAlgorithm: digest.Algorithm,
		Purpose:       purpose,
		CreatedAt:     nowMs,
		ExpiresAt:     nowMs + int64(p.cfg.TTLSeconds)*1000,
	}
	if err := p.store.PutRecord(ctx, key, rec); err != nil {
		return nil, fmt.Errorf("failed to store otp record: %w", err)
	}

	util.Info("OTP sent", util.Phone(normalized), util.Purpose(string(purpose)))
	p.record(audit.EventSent, normalized, purpose, "")

	return succeed("Verification code sent", data), nil
}

func (p *SMSProvider) VerifyOTP(ctx context.Context, rawPhone, code string, purpose models.Purpose) (*Result, error) {
	normalized, rejected := p.resolve(rawPhone, purpose)
	if rejected != nil {
		return rejected, nil
	}
	key := models.RecordKey(normalized, purpose)
	nowMs := p.now()
	policy := attemptPolicy{
		maxAttempts: p.cfg.MaxAttempts,
		lockoutMs:   int64(p.cfg.LockoutSeconds) * 1000,
	}

	var v verdict
	err := p.store.MutateRecord(ctx, key, func(rec *models.OTPRecord) (store.Action, error) {
		var err error
		v, err = judge(rec, nowMs, policy, func() (bool, error) {
			return p.hasher.Verify(normalized, code, string(purpose), &hashing.HashResult{
				Hash:      rec.Hash,
				Salt:      rec.Salt,
				Algorithm: rec.HashAlgorithm,
			})
		})
		return v.action, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify otp: %w", err)
	}

	if v.result.Success {
		util.Info("OTP verified", util.Phone(normalized), util.Purpose(string(purpose)))
	} else {
		util.Warn("OTP verification rejected",
			util.Phone(normalized),
			util.Purpose(string(purpose)),
			zap.String("error", string(v.result.Error)))
	}
	p.record(v.event, normalized, purpose, v.result.Error)

	return v.result, nil
}

func (p *SMSProvider) CancelOTP(ctx context.Context, rawPhone string, purpose models.Purpose) (*Result, error) {
	normalized, rejected := p.resolve(rawPhone, purpose)
	if rejected != nil {
		return rejected, nil
	}

	deleted, err := p.store.DeleteRecord(ctx, models.RecordKey(normalized, purpose))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel otp: %w", err)
	}
	if !deleted {
		return fail(ErrOTPNotFound, "No pending verification code for this number", nil), nil
	}

	util.Info("OTP cancelled", util.Phone(normalized), util.Purpose(string(purpose)))
	p.record(audit.EventCancelled, normalized, purpose, "")
	return succeed("Verification code cancelled", nil), nil
}

func (p *SMSProvider) HealthCheck(_ context.Context) *Result {
	data := map[string]interface{}{
		"provider":      NameSMS,
		"dryRun":        p.cfg.DryRun,
		"hashAlgorithm": p.hasher.Algorithm(),
	}
	if p.sender != nil {
		data["transport"] = p.sender.Name()
	}

	if p.cfg.SigningSecret == "" {
		return fail(ErrServiceError, "Signing secret is not configured", data)
	}
	if !p.cfg.DryRun {
		if err := p.sender.Validate(); err != nil {
			return fail(ErrServiceError, fmt.Sprintf("SMS transport is misconfigured: %v", err), data)
		}
	}
	return succeed("SMS provider is healthy", data)
}

func (p *SMSProvider) Cleanup(ctx context.Context) (store.SweepStats, error) {
	stats, err := p.store.Sweep(ctx, p.now())
	if err != nil {
		return stats, fmt.Errorf("failed to sweep otp store: %w", err)
	}
	return stats, nil
}

var _ Provider = (*SMSProvider)(nil)
