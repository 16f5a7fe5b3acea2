package provider_test

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/audit"
	"otp-service/internal/bucketing"
	"otp-service/internal/clock/clocktest"
	"otp-service/internal/models"
	"otp-service/internal/provider"
	"otp-service/internal/repository/memory"
	"otp-service/internal/store"
)

const testPhone = "+905551234567"

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

type sentMessage struct {
	phone   string
	message string
}

type senderStub struct {
	mu      sync.Mutex
	sent    []sentMessage
	err     error
	invalid error
}

func (s *senderStub) Name() string { return "stub" }

func (s *senderStub) Validate() error { return s.invalid }

func (s *senderStub) Send(_ context.Context, phoneDigits, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, sentMessage{phone: phoneDigits, message: message})
	return "00 1", nil
}

func (s *senderStub) lastCode(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent, "no message was sent")
	m := codePattern.FindStringSubmatch(s.sent[len(s.sent)-1].message)
	require.Len(t, m, 2)
	return m[1]
}

func (s *senderStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type eventSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *eventSink) Record(ev audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventSink) types() []audit.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]audit.EventType, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	provider *provider.SMSProvider
	clock    *clocktest.FakeClock
	sender   *senderStub
	store    store.Store
	events   *eventSink
}

func testConfig() provider.Config {
	cfg := provider.DefaultConfig()
	cfg.SigningSecret = "test-secret"
	cfg.ResendCooldownSeconds = 0
	cfg.RateLimits = models.RateLimits{PerMinute: 100, PerHour: 100, PerDay: 100}
	return cfg
}

func newFixture(t *testing.T, mutate func(*provider.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		clock:  clocktest.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		sender: &senderStub{},
		store:  memory.NewStore(bucketing.NewBucketingManager(4)),
		events: &eventSink{},
	}
	p, err := provider.NewSMSProvider(cfg, provider.Deps{
		Store:  f.store,
		Sender: f.sender,
		Clock:  f.clock,
		Audit:  f.events,
	})
	require.NoError(t, err)
	f.provider = p
	return f
}

func (f *fixture) send(t *testing.T, phone string, purpose models.Purpose) *provider.Result {
	t.Helper()
	res, err := f.provider.SendOTP(context.Background(), phone, provider.SendOptions{Purpose: purpose})
	require.NoError(t, err)
	return res
}

func (f *fixture) verify(t *testing.T, phone, code string, purpose models.Purpose) *provider.Result {
	t.Helper()
	res, err := f.provider.VerifyOTP(context.Background(), phone, code, purpose)
	require.NoError(t, err)
	return res
}

func wrongCode(code string) string {
	if code == "999999" {
		return "100000"
	}
	return "999999"
}

func TestNewSMSProvider(t *testing.T) {
	st := memory.NewStore(bucketing.NewBucketingManager(1))

	t.Run("requires secret outside dry run", func(t *testing.T) {
		cfg := testConfig()
		cfg.SigningSecret = ""
		_, err := provider.NewSMSProvider(cfg, provider.Deps{Store: st, Sender: &senderStub{}})
		assert.Error(t, err)
	})

	t.Run("requires sender outside dry run", func(t *testing.T) {
		_, err := provider.NewSMSProvider(testConfig(), provider.Deps{Store: st})
		assert.ErrorIs(t, err, provider.ErrMissingSender)
	})

	t.Run("requires store", func(t *testing.T) {
		_, err := provider.NewSMSProvider(testConfig(), provider.Deps{Sender: &senderStub{}})
		assert.ErrorIs(t, err, provider.ErrMissingStore)
	})

	t.Run("dry run needs neither secret nor sender", func(t *testing.T) {
		cfg := testConfig()
		cfg.SigningSecret = ""
		cfg.DryRun = true
		_, err := provider.NewSMSProvider(cfg, provider.Deps{Store: st})
		assert.NoError(t, err)
	})
}

func TestSMSProvider_RoundTrip(t *testing.T) {
	variants := []string{
		"+905551234567",
		"905551234567",
		"05551234567",
		"5551234567",
		"0555 123 45 67",
		"+90 (555) 123-45-67",
	}
	for _, sendAs := range variants {
		t.Run(sendAs, func(t *testing.T) {
			f := newFixture(t, nil)

			res := f.send(t, sendAs, models.PurposeLogin)
			require.True(t, res.Success, res.Message)
			assert.Equal(t, "sms", res.Data["provider"])
			assert.Equal(t, "login", res.Data["purpose"])
			assert.Equal(t, 180, res.Data["ttlSeconds"])
			assert.NotContains(t, res.Data, "testCode")

			f.sender.mu.Lock()
			assert.Equal(t, "905551234567", f.sender.sent[0].phone)
			f.sender.mu.Unlock()

			code := f.sender.lastCode(t)
			ok := f.verify(t, "0555 123 45 67", code, models.PurposeLogin)
			assert.True(t, ok.Success)

			again := f.verify(t, testPhone, code, models.PurposeLogin)
			assert.False(t, again.Success)
			assert.Equal(t, provider.ErrOTPNotFound, again.Error)
		})
	}
}

func TestSMSProvider_StoresDigestOnly(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	code := f.sender.lastCode(t)

	rec, err := f.store.GetRecord(context.Background(), models.RecordKey(testPhone, models.PurposeLogin))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Hash)
	assert.NotEmpty(t, rec.Salt)
	assert.NotContains(t, rec.Hash, code)
	assert.Equal(t, rec.CreatedAt+180_000, rec.ExpiresAt)

	n, err := strconv.Atoi(code)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 100000)
	assert.LessOrEqual(t, n, 999999)
}

func TestSMSProvider_AttemptsAndLock(t *testing.T) {
	f := newFixture(t, func(c *provider.Config) { c.TTLSeconds = 900 })
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	code := f.sender.lastCode(t)
	bad := wrongCode(code)

	for want := 4; want >= 1; want-- {
		res := f.verify(t, testPhone, bad, models.PurposeLogin)
		require.Equal(t, provider.ErrInvalidOTP, res.Error)
		assert.Equal(t, want, res.Data["remainingAttempts"])
	}

	locked := f.verify(t, testPhone, bad, models.PurposeLogin)
	assert.Equal(t, provider.ErrMaxAttemptsExceeded, locked.Error)
	lockedUntil := locked.Data["lockedUntil"].(int64)
	assert.Equal(t, f.clock.Now().UnixMilli()+300_000, lockedUntil)

	t.Run("correct code is refused while locked", func(t *testing.T) {
		res := f.verify(t, testPhone, code, models.PurposeLogin)
		assert.Equal(t, provider.ErrOTPLocked, res.Error)
		assert.EqualValues(t, 300, res.Data["remainingSeconds"])

		rec, err := f.store.GetRecord(context.Background(), models.RecordKey(testPhone, models.PurposeLogin))
		require.NoError(t, err)
		assert.Equal(t, 5, rec.Attempts, "locked attempts are not counted")
	})

	t.Run("lock elapses and attempts reset", func(t *testing.T) {
		f.clock.Advance(301 * time.Second)
		res := f.verify(t, testPhone, bad, models.PurposeLogin)
		assert.Equal(t, provider.ErrInvalidOTP, res.Error)
		assert.Equal(t, 4, res.Data["remainingAttempts"])

		assert.True(t, f.verify(t, testPhone, code, models.PurposeLogin).Success)
	})
}

func TestSMSProvider_CorrectCodeOnLastAttempt(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	code := f.sender.lastCode(t)

	for i := 0; i < 4; i++ {
		require.Equal(t, provider.ErrInvalidOTP, f.verify(t, testPhone, wrongCode(code), models.PurposeLogin).Error)
	}
	assert.True(t, f.verify(t, testPhone, code, models.PurposeLogin).Success)
}

func TestSMSProvider_ConcurrentVerifyIsAtomic(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	bad := wrongCode(f.sender.lastCode(t))

	const callers = 20
	var wg sync.WaitGroup
	results := make(chan provider.ErrorKind, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.provider.VerifyOTP(context.Background(), testPhone, bad, models.PurposeLogin)
			if err == nil {
				results <- res.Error
			}
		}()
	}
	wg.Wait()
	close(results)

	counts := map[provider.ErrorKind]int{}
	for kind := range results {
		counts[kind]++
	}
	assert.Equal(t, 4, counts[provider.ErrInvalidOTP])
	assert.Equal(t, 1, counts[provider.ErrMaxAttemptsExceeded])
	assert.Equal(t, callers-5, counts[provider.ErrOTPLocked])
}

func TestSMSProvider_Expiry(t *testing.T) {
	f := newFixture(t, func(c *provider.Config) { c.TTLSeconds = 1 })
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	code := f.sender.lastCode(t)

	f.clock.Advance(1001 * time.Millisecond)

	res := f.verify(t, testPhone, code, models.PurposeLogin)
	assert.Equal(t, provider.ErrOTPExpired, res.Error)
	assert.NotEmpty(t, res.Message)

	res = f.verify(t, testPhone, code, models.PurposeLogin)
	assert.Equal(t, provider.ErrOTPNotFound, res.Error, "expired record is deleted")
}

func TestSMSProvider_RateLimit(t *testing.T) {
	f := newFixture(t, func(c *provider.Config) {
		c.RateLimits = models.RateLimits{PerMinute: 1, PerHour: 3, PerDay: 5}
	})
	start := f.clock.Now().UnixMilli()

	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)

	res := f.send(t, testPhone, models.PurposeRegister)
	assert.False(t, res.Success)
	assert.Equal(t, provider.ErrRateLimitExceeded, res.Error)
	assert.Equal(t, "minute", res.Data["window"])
	assert.Equal(t, start+60_000, res.Data["resetTime"])
	assert.Equal(t, 1, f.sender.count(), "rejected sends never dispatch")

	t.Run("hour window", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			f.clock.Advance(61 * time.Second)
			require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
		}
		f.clock.Advance(61 * time.Second)
		res := f.send(t, testPhone, models.PurposeLogin)
		assert.Equal(t, provider.ErrRateLimitExceeded, res.Error)
		assert.Equal(t, "hour", res.Data["window"])
	})
}

func TestSMSProvider_ResendCooldown(t *testing.T) {
	f := newFixture(t, func(c *provider.Config) {
		c.ResendCooldownSeconds = 90
		c.RateLimits = models.RateLimits{PerMinute: 10, PerHour: 2, PerDay: 10}
	})

	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)

	f.clock.Advance(30 * time.Second)
	for i := 0; i < 3; i++ {
		res := f.send(t, testPhone, models.PurposeLogin)
		require.Equal(t, provider.ErrResendCooldown, res.Error)
		assert.EqualValues(t, 60, res.Data["remainingSeconds"])
	}

	f.clock.Advance(61 * time.Second)
	assert.True(t, f.send(t, testPhone, models.PurposeLogin).Success,
		"cooldown rejections must not consume the hourly budget")
	assert.Equal(t, 2, f.sender.count())
}

func TestSMSProvider_ResendReplacesCode(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	first := f.sender.lastCode(t)
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	second := f.sender.lastCode(t)

	if first != second {
		assert.Equal(t, provider.ErrInvalidOTP, f.verify(t, testPhone, first, models.PurposeLogin).Error)
	}
	assert.True(t, f.verify(t, testPhone, second, models.PurposeLogin).Success)
}

func TestSMSProvider_PurposeIsolation(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	loginCode := f.sender.lastCode(t)
	require.True(t, f.send(t, testPhone, models.PurposeRegister).Success)
	registerCode := f.sender.lastCode(t)

	assert.True(t, f.verify(t, testPhone, registerCode, models.PurposeRegister).Success)
	assert.True(t, f.verify(t, testPhone, loginCode, models.PurposeLogin).Success)

	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	loginCode = f.sender.lastCode(t)
	res := f.verify(t, testPhone, loginCode, models.PurposePasswordReset)
	assert.Equal(t, provider.ErrOTPNotFound, res.Error, "a code is bound to its purpose")
	assert.True(t, f.verify(t, testPhone, loginCode, models.PurposeLogin).Success)
}

func TestSMSProvider_DispatchFailure(t *testing.T) {
	f := newFixture(t, func(c *provider.Config) {
		c.RateLimits = models.RateLimits{PerMinute: 1, PerHour: 3, PerDay: 5}
	})
	f.sender.err = errors.New("gateway timeout")

	res := f.send(t, testPhone, models.PurposeLogin)
	assert.False(t, res.Success)
	assert.Equal(t, provider.ErrSMSSendFailed, res.Error)

	_, err := f.store.GetRecord(context.Background(), models.RecordKey(testPhone, models.PurposeLogin))
	assert.ErrorIs(t, err, store.ErrNotFound, "failed sends persist nothing")

	f.sender.err = nil
	assert.True(t, f.send(t, testPhone, models.PurposeLogin).Success, "failed sends do not count against the rate limit")
}

func TestSMSProvider_DryRun(t *testing.T) {
	f := newFixture(t, func(c *provider.Config) { c.DryRun = true })

	res := f.send(t, testPhone, models.PurposeDeviceChange)
	require.True(t, res.Success)
	code, ok := res.Data["testCode"].(string)
	require.True(t, ok)
	assert.Len(t, code, 6)
	assert.Zero(t, f.sender.count())

	assert.True(t, f.verify(t, testPhone, code, models.PurposeDeviceChange).Success)
}

func TestSMSProvider_Cancel(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 2; i++ {
		res, err := f.provider.CancelOTP(context.Background(), testPhone, models.PurposeLogin)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, provider.ErrOTPNotFound, res.Error)
	}

	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	code := f.sender.lastCode(t)

	res, err := f.provider.CancelOTP(context.Background(), "05551234567", models.PurposeLogin)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, provider.ErrOTPNotFound, f.verify(t, testPhone, code, models.PurposeLogin).Error)
}

func TestSMSProvider_InputValidation(t *testing.T) {
	f := newFixture(t, nil)

	res := f.send(t, "12", models.PurposeLogin)
	assert.Equal(t, provider.ErrInvalidPhone, res.Error)

	res = f.send(t, testPhone, models.Purpose("account_delete"))
	assert.Equal(t, provider.ErrInvalidPurpose, res.Error)

	res = f.verify(t, "not a phone", "123456", models.PurposeLogin)
	assert.Equal(t, provider.ErrInvalidPhone, res.Error)
	assert.Zero(t, f.sender.count())
}

func TestSMSProvider_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.provider.HealthCheck(context.Background())
		assert.True(t, res.Success)
		assert.Equal(t, "stub", res.Data["transport"])
	})

	t.Run("transport credentials checked outside dry run", func(t *testing.T) {
		f := newFixture(t, nil)
		f.sender.invalid = errors.New("missing NETGSM_PASSWORD")
		res := f.provider.HealthCheck(context.Background())
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "NETGSM_PASSWORD")
	})

	t.Run("transport ignored in dry run", func(t *testing.T) {
		f := newFixture(t, func(c *provider.Config) { c.DryRun = true })
		f.sender.invalid = errors.New("missing NETGSM_PASSWORD")
		assert.True(t, f.provider.HealthCheck(context.Background()).Success)
	})

	t.Run("secret always required", func(t *testing.T) {
		f := newFixture(t, func(c *provider.Config) {
			c.DryRun = true
			c.SigningSecret = ""
		})
		assert.False(t, f.provider.HealthCheck(context.Background()).Success)
	})
}

func TestSMSProvider_Cleanup(t *testing.T) {
	f := newFixture(t, func(c *provider.Config) { c.TTLSeconds = 60 })
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	require.True(t, f.send(t, "+905559999999", models.PurposeLogin).Success)

	stats, err := f.provider.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Records)

	f.clock.Advance(61 * time.Second)
	stats, err = f.provider.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)

	f.clock.Advance(25 * time.Hour)
	stats, err = f.provider.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Counters)
}

func TestSMSProvider_AuditTrail(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.send(t, testPhone, models.PurposeLogin).Success)
	code := f.sender.lastCode(t)
	f.verify(t, testPhone, wrongCode(code), models.PurposeLogin)
	f.verify(t, testPhone, code, models.PurposeLogin)

	assert.Equal(t, []audit.EventType{audit.EventSent, audit.EventVerifyFailed, audit.EventVerified}, f.events.types())

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	for _, ev := range f.events.events {
		assert.Equal(t, "+90********67", ev.PhoneMasked)
		assert.NotContains(t, ev.PhoneHash, "5551234567")
	}
}

// ctxCheckingStore rejects calls whose context is already done, as a
// network-backed store would.
type ctxCheckingStore struct {
	store.Store
	releases int
}

func (s *ctxCheckingStore) ReleaseSend(ctx context.Context, res *store.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.releases++
	return s.Store.ReleaseSend(ctx, res)
}

type cancellingSender struct {
	cancel context.CancelFunc
}

func (s *cancellingSender) Name() string    { return "cancelling" }
func (s *cancellingSender) Validate() error { return nil }

func (s *cancellingSender) Send(ctx context.Context, _, _ string) (string, error) {
	s.cancel()
	return "", ctx.Err()
}

func TestSMSProvider_ReleaseSurvivesCancelledRequest(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits = models.RateLimits{PerMinute: 1, PerHour: 3, PerDay: 5}
	st := &ctxCheckingStore{Store: memory.NewStore(bucketing.NewBucketingManager(4))}
	clk := clocktest.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := provider.NewSMSProvider(cfg, provider.Deps{Store: st, Sender: &cancellingSender{cancel: cancel}, Clock: clk})
	require.NoError(t, err)

	res, err := p.SendOTP(ctx, testPhone, provider.SendOptions{Purpose: models.PurposeLogin})
	require.NoError(t, err)
	assert.Equal(t, provider.ErrSMSSendFailed, res.Error)
	assert.Equal(t, 1, st.releases)

	sender := &senderStub{}
	p, err = provider.NewSMSProvider(cfg, provider.Deps{Store: st, Sender: sender, Clock: clk})
	require.NoError(t, err)
	res, err = p.SendOTP(context.Background(), testPhone, provider.SendOptions{Purpose: models.PurposeLogin})
	require.NoError(t, err)
	assert.True(t, res.Success, "the slot reserved by the cancelled send was handed back")
}
