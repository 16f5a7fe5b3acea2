package phone

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// DefaultCountryCode is used when a number arrives in national form.
const DefaultCountryCode = "90"

// nationalNumberLength is the significant-number length after the country
// code (Turkish mobile and landline numbers are both 10 digits).
const nationalNumberLength = 10

var (
	e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	separators  = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// Normalizer maps the accepted input forms onto one canonical E.164 string.
type Normalizer struct {
	countryCode string
}

func NewNormalizer(countryCode string) *Normalizer {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return &Normalizer{countryCode: countryCode}
}

func (n *Normalizer) CountryCode() string {
	return n.countryCode
}

// Normalize accepts 0xxxxxxxxxx, 90xxxxxxxxxx, +90xxxxxxxxxx, 0090xxxxxxxxxx
// and bare xxxxxxxxxx (with any spacing) and returns +90xxxxxxxxxx. Numbers
// already in international form for another country pass through. The
// result is a fixed point: Normalize(Normalize(x)) == Normalize(x).
func (n *Normalizer) Normalize(raw string) (string, error) {
	cleaned := separators.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}

	international := strings.HasPrefix(cleaned, "+")
	digits := strings.TrimPrefix(cleaned, "+")
	if !isDigits(digits) {
		return "", fmt.Errorf("%w: %q contains non-digit characters", ErrInvalidPhone, raw)
	}

	var candidate string
	switch {
	case international:
		candidate = "+" + digits
	case strings.HasPrefix(digits, "00"):
		candidate = "+" + digits[2:]
	case len(digits) == len(n.countryCode)+nationalNumberLength && strings.HasPrefix(digits, n.countryCode):
		candidate = "+" + digits
	case len(digits) == nationalNumberLength+1 && digits[0] == '0':
		candidate = "+" + n.countryCode + digits[1:]
	case len(digits) == nationalNumberLength:
		candidate = "+" + n.countryCode + digits
	default:
		return "", fmt.Errorf("%w: unrecognised format", ErrInvalidPhone)
	}

	if !e164Pattern.MatchString(candidate) {
		return "", fmt.Errorf("%w: not E.164", ErrInvalidPhone)
	}
	return candidate, nil
}

// ForTransport drops the leading "+"; SMS gateways expect bare digits.
func ForTransport(e164 string) string {
	return strings.TrimPrefix(e164, "+")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
