package smsprosto

import "strings"

// NormalizePhone reduces a raw phone string to digits and rewrites it to the
// international Russian form: 8XXXXXXXXXX becomes 7XXXXXXXXXX, a bare
// ten-digit number gets the 7 country code prepended. Idempotent.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if len(cleaned) == 11 && strings.HasPrefix(cleaned, "8") {
		cleaned = "7" + cleaned[1:]
	}
	if len(cleaned) == 10 {
		cleaned = "7" + cleaned
	}
	return cleaned
}
