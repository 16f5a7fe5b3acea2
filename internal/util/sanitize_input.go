package util

import (
	"html"
	"strings"
)

// SanitizeInput trims s and escapes HTML so it is safe to echo or log.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports markup or template fragments that never belong
// in a phone number, code or purpose.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// MaskPhone keeps the country-code-like prefix and the last two digits.
// "+905551234567" becomes "+90********67".
func MaskPhone(phone string) string {
	const keepPrefix, keepSuffix = 3, 2
	if len(phone) <= keepPrefix+keepSuffix {
		return strings.Repeat("*", len(phone))
	}
	return phone[:keepPrefix] + strings.Repeat("*", len(phone)-keepPrefix-keepSuffix) + phone[len(phone)-keepSuffix:]
}
