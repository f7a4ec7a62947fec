package telephony

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("telephony: invalid phone number")

// NormalizeE164 turns operator input into +<digits>.
//
// Accepted forms: "+44 20 7946 0958", "0044...", "(020) 7946-0958" with a
// default country code, or bare digits that already include a country code.
// A single national trunk prefix 0 is dropped when defaultCountryCode is
// applied.
func NormalizeE164(raw, defaultCountryCode string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidPhone
	}

	international := false
	switch {
	case strings.HasPrefix(s, "+"):
		international = true
		s = s[1:]
	case strings.HasPrefix(s, "00"):
		international = true
		s = s[2:]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	digits := b.String()

	if !international {
		cc := strings.TrimPrefix(strings.TrimSpace(defaultCountryCode), "+")
		if cc != "" {
			digits = cc + strings.TrimPrefix(digits, "0")
		}
	}

	if len(digits) < 7 || len(digits) > 15 || digits[0] == '0' {
		return "", ErrInvalidPhone
	}
	return "+" + digits, nil
}
