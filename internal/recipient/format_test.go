package recipient

import "testing"

func TestFormatPhoneTable(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		want  string
		valid bool
	}{
		{"valid passthrough", "+18095551234", "+18095551234", true},
		{"dominican no plus", "18295600987", "+18295600987", true},
		{"dominican local", "8295600987", "+18295600987", true},
		{"nanp local", "5551234567", "+15551234567", true},
		{"mexico mobile gains 1", "+525512345678", "+5215512345678", true},
		{"mexico already rewritten", "+5215512345678", "+5215512345678", true},
		{"argentina mobile gains 9", "+541112345678", "+5491112345678", true},
		{"bare international", "4915112345678", "+4915112345678", true},
		{"strips punctuation", "+1 (809) 555-1234", "+18095551234", true},
		{"too short", "123", testFallback, false},
		{"empty", "", testFallback, false},
		{"too long", "+1234567890123456789", testFallback, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FormatPhone(tc.in, testFallback)
			if got != tc.want || ok != tc.valid {
				t.Fatalf("FormatPhone(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.valid)
			}
		})
	}
}

func TestFormatPhoneDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		got, ok := FormatPhone("18295600987", testFallback)
		if got != "+18295600987" || !ok {
			t.Fatalf("run %d: FormatPhone = (%q, %v)", i, got, ok)
		}
	}
}

func TestFormatPhoneIdempotentOnFormatted(t *testing.T) {
	once, ok := FormatPhone("8295600987", testFallback)
	if !ok {
		t.Fatalf("first pass invalid")
	}
	twice, ok := FormatPhone(once, testFallback)
	if !ok || twice != once {
		t.Fatalf("second pass changed result: %q -> %q", once, twice)
	}
}
