// Package units provides parsing helpers for configuration values: byte
// sizes with base-1024 suffixes, comma-separated lists and key=value maps.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/daqline/stfpipe/errs"
)

var suffixFactors = map[byte]float64{
	'k': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
	'T': 1 << 40,
	'P': 1 << 50,
}

// ParseBytes converts a size string into a byte count. The value may carry a
// base-1024 suffix (k, M, G, T, P) and a decimal fraction: "1.5M" is
// 1.5*1024*1024. An empty string yields 0.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	factor := float64(1)
	last := s[len(s)-1]
	if f, ok := suffixFactors[last]; ok {
		factor = f
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a byte size", errs.ErrBadOption, s)
	}

	return int64(v * factor), nil
}

// FormatBytes renders a byte count with the largest base-1024 prefix that
// keeps the value above one, e.g. 1572864 -> "1.500 MiB".
func FormatBytes(value float64) string {
	prefixes := []string{"", "ki", "Mi", "Gi", "Ti", "Pi"}

	idx := 0
	if value > 0 {
		idx = int(math.Log(value) / math.Log(1024))
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(prefixes) {
		idx = len(prefixes) - 1
	}

	scaled := value / math.Pow(1024, float64(idx))

	return fmt.Sprintf("%.3f %sB", scaled, prefixes[idx])
}

// SplitList splits a comma-separated list into trimmed items, dropping
// empties.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}

	return out
}

// ParseKeyValues parses a comma-separated list of key=value pairs.
func ParseKeyValues(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, item := range SplitList(s) {
		key, value, found := strings.Cut(item, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("%w: %q is not key=value", errs.ErrBadOption, item)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return out, nil
}
