package patients

import "strings"

// CountryCode is the calling code rewritten to the trunk prefix during normalization.
var CountryCode = "82"

// MinSuffixDigits is the shortest canonical number that may be fuzzy matched.
const MinSuffixDigits = 8

// NormalizePhone returns the canonical digits-only form of a phone number.
// "+82 10-1234-5678", "(010) 1234 5678" and "01012345678" all become "01012345678".
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()

	intl := "00" + CountryCode
	switch {
	case strings.HasPrefix(d, intl) && len(d) > len(intl):
		d = "0" + strings.TrimPrefix(d[len(intl):], "0")
	case strings.HasPrefix(d, CountryCode) && len(d) >= len(CountryCode)+9:
		d = "0" + strings.TrimPrefix(d[len(CountryCode):], "0")
	}
	return d
}

// Suffix returns the trailing n digits, or "" when digits is shorter than n.
func Suffix(digits string, n int) string {
	if n <= 0 || len(digits) < n {
		return ""
	}
	return digits[len(digits)-n:]
}

// Reverse is used for suffix lookups on an indexed reversed column.
func Reverse(digits string) string {
	b := []byte(digits)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
