package session

import (
	"strings"
	"time"
)

const canonicalDateLayout = "2006-01-02"

// ParseDate normalizes an operator-entered date to YYYY-MM-DD. It
// tolerates embedded whitespace, slash separators, compact YYYYMMDD and
// unpadded month/day, then validates by strict calendar construction so
// inputs like 2026-02-30 or 2026-13-40 are rejected rather than
// pattern-matched through.
func ParseDate(raw string) (string, bool) {
	s := strings.Join(strings.Fields(raw), "")
	s = strings.ReplaceAll(s, "/", "-")

	if len(s) == 8 && allDigits(s) {
		s = s[:4] + "-" + s[4:6] + "-" + s[6:]
	}

	parts := strings.Split(s, "-")
	if len(parts) != 3 || len(parts[0]) != 4 {
		return "", false
	}
	for i := 1; i < 3; i++ {
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
		if len(parts[i]) != 2 {
			return "", false
		}
	}
	s = strings.Join(parts, "-")

	t, err := time.Parse(canonicalDateLayout, s)
	if err != nil {
		return "", false
	}
	return t.Format(canonicalDateLayout), true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
