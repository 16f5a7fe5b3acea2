package sms

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"otp-service/internal/models"
)

var templates = map[models.Purpose]string{
	models.PurposeLogin:         "Giriş doğrulama kodunuz: %s. Kod %s geçerlidir. Kimseyle paylaşmayın.",
	models.PurposeRegister:      "Kayıt doğrulama kodunuz: %s. Kod %s geçerlidir. Kimseyle paylaşmayın.",
	models.PurposePasswordReset: "Şifre sıfırlama kodunuz: %s. Kod %s geçerlidir. Bu işlemi siz başlatmadıysanız dikkate almayın.",
	models.PurposeDeviceChange:  "Cihaz değişikliği doğrulama kodunuz: %s. Kod %s geçerlidir. Kimseyle paylaşmayın.",
}

const fallbackTemplate = "Doğrulama kodunuz: %s. Kod %s geçerlidir."

// dotless ı and dotted İ have no decomposition, so they are mapped by hand.
var turkishLetters = strings.NewReplacer("ı", "i", "İ", "I")

// BuildMessage renders the purpose template with the code and its lifetime
// and folds the result to plain ASCII so every gateway encoding accepts it.
func BuildMessage(purpose models.Purpose, code string, ttlSeconds int) string {
	tmpl, ok := templates[purpose]
	if !ok {
		tmpl = fallbackTemplate
	}
	return ToASCII(fmt.Sprintf(tmpl, code, describeTTL(ttlSeconds)))
}

func describeTTL(ttlSeconds int) string {
	if ttlSeconds >= 60 && ttlSeconds%60 == 0 {
		return fmt.Sprintf("%d dakika", ttlSeconds/60)
	}
	return fmt.Sprintf("%d saniye", ttlSeconds)
}

// ToASCII strips diacritics and replaces anything still outside ASCII
// with '?'.
func ToASCII(s string) string {
	s = turkishLetters.Replace(s)
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			if r > unicode.MaxASCII {
				return '?'
			}
			return r
		}),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
