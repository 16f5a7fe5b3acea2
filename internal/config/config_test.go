package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OTP_SIGNING_SECRET", "s3cret")

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.GetServerAddress())
	assert.Equal(t, "sms", cfg.OTP.Provider)
	assert.Equal(t, 180, cfg.OTP.TTLSeconds)
	assert.Equal(t, 90, cfg.OTP.ResendCooldownSeconds)
	assert.Equal(t, 5, cfg.OTP.MaxAttempts)
	assert.Equal(t, 300, cfg.OTP.LockoutSeconds)
	assert.Equal(t, []int{1, 3, 5}, []int{cfg.OTP.RatePerMinute, cfg.OTP.RatePerHour, cfg.OTP.RatePerDay})
	assert.Equal(t, "90", cfg.OTP.DefaultCountryCode)
	assert.Equal(t, "memory", cfg.OTP.Store)
	assert.Equal(t, DefaultNetgsmURL, cfg.SMS.Netgsm.URL)
	assert.Equal(t, 10*time.Second, cfg.SMS.Netgsm.Timeout)
	assert.Equal(t, 10*time.Second, cfg.SMS.SNS.Timeout)
	assert.Empty(t, cfg.Server.AdminToken)
	assert.False(t, cfg.Server.TLS.Enabled)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("OTP_PROVIDER", "mock")
	t.Setenv("OTP_DRY_RUN", "true")
	t.Setenv("OTP_MOCK_CODES", "111111, 222222")
	t.Setenv("OTP_TTL_SECONDS", "60")
	t.Setenv("AUDIT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("OTP_CLEANUP_INTERVAL", "30s")

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.OTP.DryRun)
	assert.Equal(t, []string{"111111", "222222"}, cfg.OTP.MockCodes)
	assert.Equal(t, 60, cfg.OTP.TTLSeconds)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Audit.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.OTP.CleanupInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.OTP.SigningSecret = "" }},
		{"unknown provider", func(c *Config) { c.OTP.Provider = "pigeon" }},
		{"unknown store", func(c *Config) { c.OTP.Store = "disk" }},
		{"unknown transport", func(c *Config) { c.SMS.Transport = "fax" }},
		{"zero ttl", func(c *Config) { c.OTP.TTLSeconds = 0 }},
		{"zero attempts", func(c *Config) { c.OTP.MaxAttempts = 0 }},
		{"zero rate", func(c *Config) { c.OTP.RatePerHour = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"production tls without source", func(c *Config) {
			c.Environment = "production"
			c.Server.TLS.Enabled = true
		}},
		{"sms dry run without secret", func(c *Config) {
			c.OTP.DryRun = true
			c.OTP.SigningSecret = ""
		}},
		{"mock in production without dry run", func(c *Config) {
			c.Environment = "production"
			c.OTP.Provider = "mock"
		}},
		{"short admin token", func(c *Config) { c.Server.AdminToken = "letmein" }},
		{"zero sns timeout", func(c *Config) { c.SMS.SNS.Timeout = 0 }},
		{"negative argon2 memory", func(c *Config) { c.Hashing.Argon2MemoryCost = -1 }},
		{"negative argon2 time", func(c *Config) { c.Hashing.Argon2TimeCost = -2 }},
		{"argon2 parallelism overflow", func(c *Config) { c.Hashing.Argon2Parallelism = 256 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTP_SIGNING_SECRET", "s3cret")
			cfg := LoadConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("mock dry run needs no secret", func(t *testing.T) {
		t.Setenv("OTP_PROVIDER", "mock")
		t.Setenv("OTP_DRY_RUN", "true")
		cfg := LoadConfig()
		cfg.OTP.SigningSecret = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("admin token accepted", func(t *testing.T) {
		t.Setenv("OTP_SIGNING_SECRET", "s3cret")
		t.Setenv("SERVER_ADMIN_TOKEN", "0123456789abcdef0123456789abcdef")
		cfg := LoadConfig()
		assert.NoError(t, cfg.Validate())
		assert.Len(t, cfg.Server.AdminToken, 32)
	})

	t.Run("kms ciphertext satisfies secret", func(t *testing.T) {
		cfg := LoadConfig()
		cfg.OTP.SigningSecret = ""
		cfg.OTP.SigningSecretKMS = "AQICAHg="
		assert.NoError(t, cfg.Validate())
	})
}
