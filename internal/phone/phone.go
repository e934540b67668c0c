// Package phone normalizes raw phone numbers as reported by the WhatsApp
// Cloud API (wa_id). Brazilian mobile numbers may arrive with or without the
// ninth digit, so a single subscriber has a closed set of equivalent
// spellings that must resolve to one contact.
package phone

import "strings"

const brazilCountryCode = "55"

// Sanitize strips everything but digits. The second return is false when the
// result is not a plausible phone number.
func Sanitize(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 8 || len(digits) > 15 {
		return "", false
	}
	return digits, true
}

// Variants returns every equivalent spelling of a sanitized number,
// including the number itself. For Brazilian numbers (55 + 2-digit area
// code) the set covers both the 12-digit form without the mobile ninth
// digit and the 13-digit form with it. Other numbers have no variants.
func Variants(digits string) []string {
	variants := []string{digits}
	if !strings.HasPrefix(digits, brazilCountryCode) {
		return variants
	}
	switch len(digits) {
	case 13:
		// 55 + AA + 9XXXXXXXX: drop the ninth digit
		if digits[4] == '9' {
			variants = append(variants, digits[:4]+digits[5:])
		}
	case 12:
		// 55 + AA + XXXXXXXX: insert the ninth digit
		variants = append(variants, digits[:4]+"9"+digits[4:])
	}
	return variants
}

// Canonical picks the deterministic spelling stored on the contact: for
// Brazilian mobiles this is always the 13-digit form with the ninth digit.
func Canonical(digits string) string {
	if strings.HasPrefix(digits, brazilCountryCode) && len(digits) == 12 && isMobileLocal(digits[4:]) {
		return digits[:4] + "9" + digits[4:]
	}
	return digits
}

// isMobileLocal reports whether an 8-digit local part belongs to the mobile
// range (first digit 6-9). Landlines keep their 12-digit spelling.
func isMobileLocal(local string) bool {
	if len(local) != 8 {
		return false
	}
	return local[0] >= '6' && local[0] <= '9'
}
