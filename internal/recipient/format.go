package recipient

import "strings"

// rewriteRule is one country-specific correction applied to a cleaned
// digit string (no '+'). Rules are tried in order; the first match wins.
type rewriteRule struct {
	name  string
	match func(d string) bool
	apply func(d string) string
}

// Quirks of the underlying chat network: some countries register mobile
// numbers with an extra digit after the country code, and local numbers
// often arrive without a country code at all.
var rewriteRules = []rewriteRule{
	{
		// Mexico mobile: 52 + 10 digits must become 521 + 10 digits.
		name:  "mx-mobile-1",
		match: func(d string) bool { return len(d) == 12 && strings.HasPrefix(d, "52") && !strings.HasPrefix(d, "521") },
		apply: func(d string) string { return "521" + d[2:] },
	},
	{
		// Argentina mobile: 54 + 10 digits must become 549 + 10 digits.
		name:  "ar-mobile-9",
		match: func(d string) bool { return len(d) == 12 && strings.HasPrefix(d, "54") && !strings.HasPrefix(d, "549") },
		apply: func(d string) string { return "549" + d[2:] },
	},
	{
		// Dominican local number missing the leading country code.
		name: "do-local",
		match: func(d string) bool {
			if len(d) != 10 {
				return false
			}
			switch d[:3] {
			case "809", "829", "849":
				return true
			}
			return false
		},
		apply: func(d string) string { return "1" + d },
	},
	{
		// Bare NANP 10-digit number.
		name:  "nanp-local",
		match: func(d string) bool { return len(d) == 10 && d[0] >= '2' && d[0] <= '9' },
		apply: func(d string) string { return "1" + d },
	},
}

const (
	phoneMinLen = 10
	phoneMaxLen = 15
)

// FormatPhone runs the phone formatting pipeline:
//
//  1. strip everything except digits and a leading '+'
//  2. apply the ordered country rewrite table (first match wins)
//  3. prefix '+' when the result is a bare international-length digit string
//  4. validate; invalid numbers are replaced by fallback
//
// The second return value is false when the input failed validation and
// fallback was substituted.
func FormatPhone(raw, fallback string) (string, bool) {
	hadPlus, digits := clean(raw)

	for _, rule := range rewriteRules {
		if rule.match(digits) {
			digits = rule.apply(digits)
			break
		}
	}

	out := digits
	if hadPlus {
		out = "+" + digits
	} else if len(digits) >= phoneMinLen+1 && len(digits) <= phoneMaxLen {
		// Bare international-length digit string: assume country code present.
		out = "+" + digits
	}

	if !validPhone(out) {
		return fallback, false
	}
	return out, true
}

// clean reduces raw input to digits, reporting whether a leading '+' was
// present. A '+' anywhere else is junk and dropped.
func clean(raw string) (bool, string) {
	raw = strings.TrimSpace(raw)
	hadPlus := strings.HasPrefix(raw, "+")
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return hadPlus, b.String()
}

func validPhone(s string) bool {
	if !strings.HasPrefix(s, "+") {
		return false
	}
	if len(s) < phoneMinLen || len(s) > phoneMaxLen {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
