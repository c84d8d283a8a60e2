package client

import "strings"

// NormalizePhone converts a stored phone number to E.164 where the shape is
// unambiguous. Numbers already starting with "+" and anything it does not
// recognize pass through unchanged.
func NormalizePhone(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "+") {
		return raw
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	// A national number with the country code already in front only needs
	// the "+". For country code 1 that is the 11-digit trunk form.
	switch {
	case len(digits) == 10:
		return "+" + countryCode + digits
	case countryCode != "" && len(digits) == len(countryCode)+10 && strings.HasPrefix(digits, countryCode):
		return "+" + digits
	default:
		return raw
	}
}
