package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/fsutil"
)

var csvHeader = []string{
	"timestamp", "change_type", "track_id", "artist", "album_name",
	"track_name", "old_value", "new_value", "field",
}

// CSVWriter writes the change report. With Timestamped set, each run gets
// its own changes_report_YYYYMMDD_HHMMSS.csv; otherwise the configured file
// is overwritten.
type CSVWriter struct {
	// Path is the report file; timestamped variants land in its directory.
	Path        string
	Timestamped bool

	now func() time.Time
}

// NewCSVWriter returns a writer for the configured report location.
func NewCSVWriter(path string, timestamped bool) *CSVWriter {
	return &CSVWriter{Path: path, Timestamped: timestamped, now: time.Now}
}

// Write renders the entries and writes the report atomically, returning the
// path written. An empty entry list still produces a header-only file so a
// zero-change run leaves a fresh report behind.
func (w *CSVWriter) Write(entries []ChangeLogEntry) (string, error) {
	path := w.Path
	if w.Timestamped {
		stamp := w.now().UTC().Format("20060102_150405")
		base := strings.TrimSuffix(filepath.Base(w.Path), filepath.Ext(w.Path))
		path = filepath.Join(filepath.Dir(w.Path), fmt.Sprintf("%s_%s.csv", base, stamp))
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write report header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.ChangeType,
			e.TrackID,
			e.Artist,
			e.AlbumName,
			e.TrackName,
			e.OldValue,
			e.NewValue,
			e.Field,
		}
		if err := cw.Write(record); err != nil {
			return "", fmt.Errorf("write report row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	log.WithFields(l.Fields{"path": path, "entries": len(entries)}).Info("change report written")
	return path, nil
}
