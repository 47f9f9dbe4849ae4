// Package tracklist owns the CSV projection of the library: the on-disk
// track_list.csv that carries the year-tracking fields the library itself
// cannot store.
package tracklist

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/fsutil"
	"tunesync/internal/track"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "tracklist"})

var header = []string{
	"id", "name", "artist", "album", "genre", "year",
	"date_added", "last_modified", "track_status",
	"year_before_mgu", "year_set_by_mgu",
}

// legacyColumns maps old column names onto their current ones.
var legacyColumns = map[string]string{
	"old_year": "year_before_mgu",
	"new_year": "year_set_by_mgu",
}

// Projection reads and writes the CSV file.
type Projection struct {
	path string
}

// New returns a projection over the given CSV path.
func New(path string) *Projection { return &Projection{path: path} }

// Path returns the projection's file path.
func (p *Projection) Path() string { return p.path }

// Read loads the projection. A missing file is an empty projection. Rows
// with an empty id are skipped; unknown columns are ignored; missing
// columns produce a warning and empty fields.
func (p *Projection) Read() ([]track.Track, error) {
	f, err := os.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open track list: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read track list header: %w", err)
	}

	cols := make(map[string]int, len(head))
	for i, name := range head {
		if current, ok := legacyColumns[name]; ok {
			log.WithFields(l.Fields{"legacy": name, "current": current}).
				Info("migrating legacy column")
			name = current
		}
		cols[name] = i
	}
	for _, want := range header {
		if _, ok := cols[want]; !ok {
			log.WithField("column", want).Warn("track list missing column")
		}
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var tracks []track.Track
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read track list row: %w", err)
		}
		if field(row, "id") == "" {
			continue
		}
		tracks = append(tracks, track.Track{
			ID:            field(row, "id"),
			Name:          field(row, "name"),
			Artist:        field(row, "artist"),
			Album:         field(row, "album"),
			Genre:         field(row, "genre"),
			Year:          field(row, "year"),
			DateAdded:     field(row, "date_added"),
			LastModified:  field(row, "last_modified"),
			TrackStatus:   field(row, "track_status"),
			YearBeforeMGU: field(row, "year_before_mgu"),
			YearSetByMGU:  field(row, "year_set_by_mgu"),
		})
	}
	return tracks, nil
}

// Write persists the projection atomically.
func (p *Projection) Write(tracks []track.Track) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write track list header: %w", err)
	}
	for i := range tracks {
		t := &tracks[i]
		if t.ID == "" {
			continue
		}
		row := []string{
			t.ID, t.Name, t.Artist, t.Album, t.Genre, t.Year,
			t.DateAdded, t.LastModified, t.TrackStatus,
			t.YearBeforeMGU, t.YearSetByMGU,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write track list row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush track list: %w", err)
	}
	return fsutil.WriteFileAtomic(p.path, buf.Bytes(), 0o644)
}

// Sync reconciles the projection with the live library and writes it back.
// Library-owned fields are replaced from the live record; year_before_mgu
// and year_set_by_mgu are owned by this tool, so a non-empty live value
// (set by this run) wins and the stored value survives otherwise. New
// tracks get year_before_mgu initialised from their live year so a later
// rollback has something to restore. Tracks gone from the library drop out
// of the projection. Returns the merged set in live order.
func (p *Projection) Sync(live []track.Track) ([]track.Track, error) {
	stored, err := p.Read()
	if err != nil {
		return nil, err
	}
	storedByID := make(map[string]*track.Track, len(stored))
	for i := range stored {
		storedByID[stored[i].ID] = &stored[i]
	}

	merged := make([]track.Track, 0, len(live))
	for i := range live {
		t := live[i]
		if t.ID == "" {
			continue
		}
		if prev, ok := storedByID[t.ID]; ok {
			if t.YearBeforeMGU == "" {
				t.YearBeforeMGU = prev.YearBeforeMGU
			}
			if t.YearSetByMGU == "" {
				t.YearSetByMGU = prev.YearSetByMGU
			}
		}
		if t.YearBeforeMGU == "" {
			t.YearBeforeMGU = t.Year
		}
		merged = append(merged, t)
	}

	if err := p.Write(merged); err != nil {
		return nil, err
	}
	log.WithFields(l.Fields{"tracks": len(merged), "dropped": len(stored) - countSurvivors(storedByID, merged)}).
		Debug("track list synced")
	return merged, nil
}

func countSurvivors(stored map[string]*track.Track, merged []track.Track) int {
	n := 0
	for i := range merged {
		if _, ok := stored[merged[i].ID]; ok {
			n++
		}
	}
	return n
}

// Hydrate copies the tool-owned fields from the stored projection onto the
// live tracks, so the year pipeline sees what earlier runs recorded.
func Hydrate(live, stored []track.Track) {
	byID := make(map[string]*track.Track, len(stored))
	for i := range stored {
		byID[stored[i].ID] = &stored[i]
	}
	for i := range live {
		prev, ok := byID[live[i].ID]
		if !ok {
			continue
		}
		if live[i].YearBeforeMGU == "" {
			live[i].YearBeforeMGU = prev.YearBeforeMGU
		}
		if live[i].YearSetByMGU == "" {
			live[i].YearSetByMGU = prev.YearSetByMGU
		}
	}
}
