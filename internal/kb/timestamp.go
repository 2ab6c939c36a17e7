package kb

import (
	"math"
	"strconv"
	"strings"
)

// ParseTimestamp converts a display timestamp back to seconds. It accepts
// HH:MM:SS, MM:SS and plain seconds, each with an optional fractional part.
// ok is false for anything else; display timestamps are not required to parse.
func ParseTimestamp(s string) (seconds float64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		// only the last field may carry a fraction
		if i < len(parts)-1 && v != float64(int64(v)) {
			return 0, false
		}
		seconds = seconds*60 + v
	}
	return seconds, true
}
