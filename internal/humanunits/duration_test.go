package humanunits

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1d", 24 * time.Hour},
		{"48h", 48 * time.Hour},
		{"7days", 7 * 24 * time.Hour},
		{"1d 12h", 36 * time.Hour},
		{"5min", 5 * time.Minute},
		{"30s", 30 * time.Second},
		{"1day", 24 * time.Hour},
		{"10min", 10 * time.Minute},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if err != nil {
			t.Errorf("ParseDuration(%q) returned error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseDurationRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-5d", "5xyz"} {
		if _, err := ParseDuration(in); err == nil {
			t.Errorf("ParseDuration(%q) should have returned an error", in)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(0); got != "0s" {
		t.Errorf("FormatDuration(0) = %q, want 0s", got)
	}
	if got := FormatDuration(26 * time.Hour); got != "1d2h" {
		t.Errorf("FormatDuration(26h) = %q, want 1d2h", got)
	}
}
