package sms_test

import (
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"

	"otp-service/internal/models"
	"otp-service/internal/sms"
)

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func TestBuildMessage(t *testing.T) {
	purposes := []models.Purpose{
		models.PurposeLogin,
		models.PurposeRegister,
		models.PurposePasswordReset,
		models.PurposeDeviceChange,
		models.Purpose("unknown"),
	}
	for _, p := range purposes {
		t.Run(string(p), func(t *testing.T) {
			msg := sms.BuildMessage(p, "482913", 180)
			assert.True(t, isASCII(msg), msg)
			assert.Contains(t, msg, "482913")
			assert.Contains(t, msg, "3 dakika")
		})
	}

	assert.Contains(t, sms.BuildMessage(models.PurposeLogin, "111111", 45), "45 saniye")
	assert.NotEqual(t,
		sms.BuildMessage(models.PurposeLogin, "111111", 180),
		sms.BuildMessage(models.PurposeRegister, "111111", 180))
}

func TestToASCII(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Giriş", "Giris"},
		{"şifre sıfırlama", "sifre sifirlama"},
		{"İstanbul Ğ Ü Ö Ç", "Istanbul G U O C"},
		{"code 123", "code 123"},
		{"emoji 🙂", "emoji ?"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sms.ToASCII(tt.in))
		})
	}
}
