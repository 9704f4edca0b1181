package listener

import "testing"

func TestNormalizeChannelID(t *testing.T) {
	cases := map[string]string{
		"-1001234567890": "1234567890",
		"1234567890":     "1234567890",
		" -1009876 ":     "9876",
	}
	for in, want := range cases {
		if got := normalizeChannelID(in); got != want {
			t.Errorf("normalizeChannelID(%q) = %q, want %q", in, got, want)
		}
	}
}
