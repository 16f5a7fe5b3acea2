package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskPhone(t *testing.T) {
	tests := map[string]string{
		"+905551234567": "+90********67",
		"05551234567":   "055******67",
		"12345":         "*****",
		"":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, MaskPhone(in), in)
	}
}

func TestContainsSuspicious(t *testing.T) {
	assert.False(t, ContainsSuspicious("+90 555 123 45 67"))
	assert.False(t, ContainsSuspicious("password_reset"))
	assert.True(t, ContainsSuspicious("<script>alert(1)</script>"))
	assert.True(t, ContainsSuspicious("${jndi:ldap://x}"))
	assert.True(t, ContainsSuspicious("x\" onerror=\"y"))
}

func TestPhoneFieldIsMasked(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := SetForTest(zap.New(core))
	defer restore()

	Info("OTP sent", Phone("+905551234567"))

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "+90********67", entries[0].ContextMap()["phone"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("loud"))
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "mock", SanitizeInput("  mock "))
	assert.Equal(t, "&lt;b&gt;sms&lt;/b&gt;", SanitizeInput("<b>sms</b>"))
}
