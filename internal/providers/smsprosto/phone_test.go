package smsprosto

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"89161234567", "79161234567"},
		{"79161234567", "79161234567"},
		{"9161234567", "79161234567"},
		{"+7 (916) 123-45-67", "79161234567"},
		{"8 916 123 45 67", "79161234567"},
		{"8-916-123-45-67", "79161234567"},
		// Lengths outside the rewrite rules pass through digits unchanged.
		{"123", "123"},
		{"", ""},
		{"88005553535", "78005553535"},
	}

	for _, tc := range cases {
		got := NormalizePhone(tc.in)
		if got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if again := NormalizePhone(got); again != got {
			t.Fatalf("NormalizePhone not idempotent: %q -> %q -> %q", tc.in, got, again)
		}
	}
}
