package util

import (
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`\D+`)

// NormalizePhone canonicalizes user input to an international "+<digits>"
// form, defaulting to the Peruvian country code (51). An input with no digits
// yields "", which callers treat as "no deliverable phone".
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(digits, "51"):
		return "+" + digits
	case len(digits) == 9:
		return "+51" + digits
	case len(digits) == 11 && digits[0] == '0':
		return "+51" + digits[1:]
	case strings.HasPrefix(s, "+"):
		return "+" + digits
	}
	return "+" + digits
}

// PhoneDigits returns the digits of a normalized phone, as used in chat ids.
func PhoneDigits(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}
