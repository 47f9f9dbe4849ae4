package pipeline

import (
	"os"
	"strings"
	"time"

	"tunesync/internal/fsutil"
)

// LastRunFile is the single-line timestamp written after a successful run.
const LastRunFile = "last_incremental_run.log"

// Formats older installs wrote before the file settled on RFC 3339. Naive
// datetimes are read as UTC.
var legacyLastRunFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ReadLastRun parses the last-run timestamp file. The second return is
// false when the file is missing, unparseable, or claims a future time;
// all three mean "no previous run".
func ReadLastRun(path string, now time.Time) (time.Time, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(string(data))

	var last time.Time
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		last = t.UTC()
	} else {
		for _, layout := range legacyLastRunFormats {
			if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
				last = t
				break
			}
		}
	}
	if last.IsZero() {
		log.WithField("value", raw).Warn("unreadable last-run timestamp")
		return time.Time{}, false
	}
	if last.After(now.UTC()) {
		log.WithField("value", raw).Warn("last-run timestamp is in the future, ignoring")
		return time.Time{}, false
	}
	return last, true
}

// WriteLastRun stamps the file with at, as a single RFC 3339 UTC line.
func WriteLastRun(path string, at time.Time) error {
	line := at.UTC().Format(time.RFC3339) + "\n"
	return fsutil.WriteFileAtomic(path, []byte(line), 0o644)
}
