package humanunits

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// durationUnit pairs a grammar suffix with its time.Duration multiplier.
// Longer suffixes are matched first so "days" isn't mistaken for "d" and
// "min" isn't mistaken for "m" of something else.
type durationUnit struct {
	suffix     string
	multiplier time.Duration
}

var durationUnits = []durationUnit{
	{"days", 24 * time.Hour},
	{"day", 24 * time.Hour},
	{"hours", time.Hour},
	{"hour", time.Hour},
	{"min", time.Minute},
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

var durationTermPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)([a-zA-Z]+)$`)

// ParseDuration parses strings like "1d", "48h", "7days", "1d 12h", or
// "5min" (spec.md §6), summing each whitespace-separated term.
func ParseDuration(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("humanunits: empty duration")
	}

	var total time.Duration
	for _, term := range strings.Fields(trimmed) {
		d, err := parseDurationTerm(term)
		if err != nil {
			return 0, fmt.Errorf("humanunits: invalid duration %q: %w", s, err)
		}
		total += d
	}
	return total, nil
}

func parseDurationTerm(term string) (time.Duration, error) {
	match := durationTermPattern.FindStringSubmatch(term)
	if match == nil {
		return 0, fmt.Errorf("unrecognized term %q", term)
	}
	numStr, unitStr := match[1], match[2]

	for _, u := range durationUnits {
		if strings.EqualFold(unitStr, u.suffix) {
			n, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number in %q: %w", term, err)
			}
			if n < 0 {
				return 0, fmt.Errorf("duration must not be negative: %q", term)
			}
			return time.Duration(n * float64(u.multiplier)), nil
		}
	}
	return 0, fmt.Errorf("unrecognized unit %q", unitStr)
}

// FormatDuration renders d as a compact "<days>d<hours>h<minutes>m" string,
// omitting any component that is zero. Seconds and smaller units are
// dropped, so any d shorter than one minute renders as "0s".
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dm", minutes)
	}
	if b.Len() == 0 {
		return "0s"
	}
	return b.String()
}
