package contact

import "strings"

const countryPrefix = "55"

// NormalizePhone reduces a raw phone identifier to the canonical digits-only
// form used as the contact key. Brazilian numbers whose national segment has
// only 8 digits are repaired by inserting the mobile marker digit, so the
// legacy and current forms of the same subscriber map to one contact.
func NormalizePhone(raw string) string {
	digits := sanitizeDigits(raw)
	if digits == "" {
		return ""
	}

	withCountry := digits
	if !strings.HasPrefix(withCountry, countryPrefix) {
		withCountry = countryPrefix + withCountry
	}
	if len(withCountry) < 4 {
		return withCountry
	}

	area := withCountry[2:4]
	rest := withCountry[4:]

	if len(rest) == 8 {
		return countryPrefix + area + "9" + rest
	}
	if len(rest) == 9 && strings.HasPrefix(rest, "9") {
		return countryPrefix + area + rest
	}
	return withCountry
}

func sanitizeDigits(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
