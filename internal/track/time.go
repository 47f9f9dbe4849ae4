package track

import (
	"strconv"
	"time"
)

// Timestamp layouts the agent and legacy state files use, in parse order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a library timestamp string. Naive values (no zone)
// are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// YearOf extracts the leading four-digit year from a date or year string.
// Returns 0 when no year can be read.
func YearOf(s string) int {
	if len(s) < 4 {
		return 0
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0
	}
	return year
}
