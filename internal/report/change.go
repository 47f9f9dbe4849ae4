// Package report collects change-log entries, writes the CSV change report
// and renders run progress on the console.
package report

import (
	"sync"
	"time"

	l "github.com/sirupsen/logrus"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "report"})

// Change types recorded in the report. Writers that fail append a matching
// *_error entry instead, documenting what was attempted.
const (
	ChangeMetadataCleaning = "metadata_cleaning"
	ChangeArtistRename     = "artist_rename"
	ChangeGenreUpdate      = "genre_update"
	ChangeYearUpdate       = "year_update"
	ChangeYearRestored     = "year_restored_from_release_year"
)

// ErrorSuffix turns a change type into its failure variant.
const ErrorSuffix = "_error"

// ChangeLogEntry is one recorded modification. Tracks are referenced by id
// only, never by pointer.
type ChangeLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	ChangeType string    `json:"change_type"`
	TrackID    string    `json:"track_id"`
	Artist     string    `json:"artist"`
	AlbumName  string    `json:"album_name"`
	TrackName  string    `json:"track_name"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	Field      string    `json:"field"`
}

// Collector accumulates change entries across pipeline steps. Safe for
// concurrent appends.
type Collector struct {
	mu      sync.Mutex
	entries []ChangeLogEntry
	now     func() time.Time
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// Add records one change, stamping it now.
func (c *Collector) Add(entry ChangeLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.now().UTC()
	}
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

// AddError records the failure variant of a change.
func (c *Collector) AddError(entry ChangeLogEntry) {
	entry.ChangeType += ErrorSuffix
	c.Add(entry)
}

// Entries returns a copy of everything recorded so far.
func (c *Collector) Entries() []ChangeLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChangeLogEntry(nil), c.entries...)
}

// Len returns the number of recorded entries.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CountByType buckets the recorded entries by change type.
func (c *Collector) CountByType() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int, 8)
	for _, e := range c.entries {
		counts[e.ChangeType]++
	}
	return counts
}
