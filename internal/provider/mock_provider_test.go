package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/clock/clocktest"
	"otp-service/internal/models"
	"otp-service/internal/provider"
)

func newMock(t *testing.T, mutate func(*provider.Config)) (*provider.MockProvider, *clocktest.FakeClock) {
	t.Helper()
	cfg := provider.DefaultConfig()
	cfg.Provider = provider.NameMock
	cfg.MockCodes = []string{"123456"}
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clocktest.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p, err := provider.NewMockProvider(cfg, provider.Deps{Clock: clk})
	require.NoError(t, err)
	return p, clk
}

func TestMockProvider_Scenario(t *testing.T) {
	ctx := context.Background()
	p, _ := newMock(t, nil)

	res, err := p.SendOTP(ctx, "+905551234567", provider.SendOptions{Purpose: models.PurposeLogin})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = p.VerifyOTP(ctx, "+905551234567", "999999", models.PurposeLogin)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, provider.ErrInvalidOTP, res.Error)

	res, err = p.VerifyOTP(ctx, "+905551234567", "123456", models.PurposeLogin)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestMockProvider_LockNamingMatchesSMSProvider(t *testing.T) {
	ctx := context.Background()
	p, _ := newMock(t, func(c *provider.Config) { c.MaxAttempts = 2 })

	_, err := p.SendOTP(ctx, "05551234567", provider.SendOptions{Purpose: models.PurposeRegister})
	require.NoError(t, err)

	res, _ := p.VerifyOTP(ctx, "05551234567", "000000", models.PurposeRegister)
	assert.Equal(t, provider.ErrInvalidOTP, res.Error)
	assert.Equal(t, 1, res.Data["remainingAttempts"])

	res, _ = p.VerifyOTP(ctx, "05551234567", "000000", models.PurposeRegister)
	assert.Equal(t, provider.ErrMaxAttemptsExceeded, res.Error)

	res, _ = p.VerifyOTP(ctx, "05551234567", "123456", models.PurposeRegister)
	assert.Equal(t, provider.ErrOTPLocked, res.Error)
}

func TestMockProvider_DryRunExposesCode(t *testing.T) {
	p, _ := newMock(t, func(c *provider.Config) {
		c.DryRun = true
		c.MockCodes = []string{"654321", "111111"}
	})

	res, err := p.SendOTP(context.Background(), "+905551234567", provider.SendOptions{Purpose: models.PurposeLogin})
	require.NoError(t, err)
	assert.Equal(t, "654321", res.Data["testCode"])

	res, err = p.VerifyOTP(context.Background(), "+905551234567", "111111", models.PurposeLogin)
	require.NoError(t, err)
	assert.True(t, res.Success, "any configured code is accepted")
}

func TestMockProvider_ExpiryAndCleanup(t *testing.T) {
	ctx := context.Background()
	p, clk := newMock(t, func(c *provider.Config) { c.TTLSeconds = 1 })

	_, err := p.SendOTP(ctx, "+905551234567", provider.SendOptions{Purpose: models.PurposeLogin})
	require.NoError(t, err)
	_, err = p.SendOTP(ctx, "+905551234567", provider.SendOptions{Purpose: models.PurposeRegister})
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	res, err := p.VerifyOTP(ctx, "+905551234567", "123456", models.PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, provider.ErrOTPExpired, res.Error)

	stats, err := p.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
}

func TestMockProvider_Cancel(t *testing.T) {
	ctx := context.Background()
	p, _ := newMock(t, nil)

	res, err := p.CancelOTP(ctx, "+905551234567", models.PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, provider.ErrOTPNotFound, res.Error)

	_, err = p.SendOTP(ctx, "+905551234567", provider.SendOptions{Purpose: models.PurposeLogin})
	require.NoError(t, err)
	res, err = p.CancelOTP(ctx, "+905551234567", models.PurposeLogin)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.True(t, p.HealthCheck(ctx).Success)
}

func TestNew(t *testing.T) {
	st := newFixture(t, nil).store

	p, err := provider.New(provider.Config{Provider: "mock"}, provider.Deps{})
	require.NoError(t, err)
	assert.Equal(t, provider.NameMock, p.Name())

	p, err = provider.New(testConfig(), provider.Deps{Store: st, Sender: &senderStub{}})
	require.NoError(t, err)
	assert.Equal(t, provider.NameSMS, p.Name())

	_, err = provider.New(provider.Config{Provider: "carrier-pigeon"}, provider.Deps{})
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestNewMockProvider_ProductionGate(t *testing.T) {
	_, err := provider.New(provider.Config{Provider: provider.NameMock, Production: true}, provider.Deps{})
	assert.ErrorIs(t, err, provider.ErrMockForbidden)

	p, err := provider.New(provider.Config{Provider: provider.NameMock, Production: true, DryRun: true}, provider.Deps{})
	require.NoError(t, err)
	assert.Equal(t, provider.NameMock, p.Name())
}

func TestConfigView(t *testing.T) {
	cfg := testConfig()
	view := cfg.View()
	assert.True(t, view.SigningSecretSet)
	assert.Equal(t, 180, view.TTLSeconds)
	assert.Equal(t, 5, view.MaxAttempts)
	assert.Equal(t, 300, view.LockoutSeconds)
	assert.Equal(t, "90", view.CountryCode)
}
