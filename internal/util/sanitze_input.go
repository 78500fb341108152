package util

import (
	"html"
	"strings"
	"unicode"
)

const maxFieldLength = 256

// SanitizeInput trims, strips control characters and escapes markup so a
// client-supplied value is safe to place in logs and audit details.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if r := []rune(s); len(r) > maxFieldLength {
		s = string(r[:maxFieldLength])
	}
	return html.EscapeString(s)
}

// NormalizeEmail lowercases and trims an email used as a lockout/rate-limit key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ContainsSuspicious flags script-like payloads in identifiers.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
