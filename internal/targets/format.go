package targets

import (
	"strconv"
	"strings"
)

// Format renders a target for question text: 1500000 -> "1.5M",
// 250000 -> "250K", 999 -> "999".
func Format(v float64) string {
	switch {
	case v >= 1_000_000_000:
		return trim(v/1_000_000_000) + "B"
	case v >= 1_000_000:
		return trim(v/1_000_000) + "M"
	case v >= 1_000:
		return trim(v/1_000) + "K"
	default:
		return trim(v)
	}
}

// trim formats with at most two decimals and no trailing zeros.
func trim(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
