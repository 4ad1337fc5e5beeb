// Package humanunits parses the size and duration grammars spec.md §6
// uses for CLI flags and TOML config values: sizes like "50GiB",
// durations like "1d 12h". No example repo in this corpus carries a
// library spanning both grammars (the closest, a Rust humantime/
// humanbytes pairing, is original_source-only), so both parsers are
// hand-rolled here; see DESIGN.md for why stdlib covers this better
// than reaching for an unrelated ecosystem dependency.
package humanunits

import (
	"fmt"
	"strconv"
	"strings"
)

// sizeUnit pairs a grammar suffix with its byte multiplier. Longer
// suffixes are matched first so "KiB" isn't mistaken for "B".
type sizeUnit struct {
	suffix     string
	multiplier int64
}

var sizeUnits = []sizeUnit{
	{"TiB", 1024 * 1024 * 1024 * 1024},
	{"GiB", 1024 * 1024 * 1024},
	{"MiB", 1024 * 1024},
	{"KiB", 1024},
	{"TB", 1024 * 1024 * 1024 * 1024},
	{"GB", 1024 * 1024 * 1024},
	{"MB", 1024 * 1024},
	{"KB", 1024},
	{"B", 1},
}

// ParseSize parses a size string like "50GiB", "100MB", or "1024" (a
// bare number is bytes). Binary prefixes (KiB/MiB/GiB/TiB) and their
// decimal-named but binary-valued counterparts (KB/MB/GB/TB) both use
// powers of 1024, per spec.md §6: "binary prefixes use powers of 1024".
func ParseSize(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("humanunits: empty size")
	}

	for _, u := range sizeUnits {
		if strings.HasSuffix(trimmed, u.suffix) {
			numPart := strings.TrimSpace(strings.TrimSuffix(trimmed, u.suffix))
			if numPart == "" {
				continue
			}
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("humanunits: invalid size %q: %w", s, err)
			}
			if n < 0 {
				return 0, fmt.Errorf("humanunits: size must not be negative: %q", s)
			}
			return int64(n * float64(u.multiplier)), nil
		}
	}

	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("humanunits: invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("humanunits: size must not be negative: %q", s)
	}
	return n, nil
}

// FormatSize renders bytes in the largest binary unit (KiB to TiB) not
// greater than the value, with two decimal places, e.g. "1.50KiB";
// values below 1KiB are rendered as whole bytes, e.g. "512B".
func FormatSize(bytes int64) string {
	units := []struct {
		suffix string
		size   int64
	}{
		{"TiB", 1024 * 1024 * 1024 * 1024},
		{"GiB", 1024 * 1024 * 1024},
		{"MiB", 1024 * 1024},
		{"KiB", 1024},
	}
	for _, u := range units {
		if bytes >= u.size {
			return fmt.Sprintf("%.2f%s", float64(bytes)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%dB", bytes)
}
