package agent

import (
	"context"
	"sort"
	"sync"

	"tunesync/internal/track"
)

// Fake is an in-memory Client for tests and the dry-run paths. It serves
// scans from its track table and records every write it receives.
type Fake struct {
	mu     sync.Mutex
	tracks map[string]track.Track

	// Missing ids answer the existence probe with "not found".
	Missing map[string]bool
	// Err, when set, is returned by every call.
	Err error

	PropertyWrites []PropertyWrite
	YearWrites     []YearWrite
}

// PropertyWrite records one UpdateProperty call.
type PropertyWrite struct {
	ID    string
	Field string
	Value string
}

// YearWrite records one BulkUpdateYear call.
type YearWrite struct {
	IDs  []string
	Year string
}

// NewFake returns a Fake serving the given tracks.
func NewFake(tracks ...track.Track) *Fake {
	f := &Fake{tracks: make(map[string]track.Track), Missing: make(map[string]bool)}
	for _, t := range tracks {
		f.tracks[t.ID] = t
	}
	return f
}

// SetTracks replaces the fake's library contents.
func (f *Fake) SetTracks(tracks ...track.Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = make(map[string]track.Track, len(tracks))
	for _, t := range tracks {
		f.tracks[t.ID] = t
	}
}

// Tracks returns the current library contents sorted by id.
func (f *Fake) Tracks() []track.Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedLocked()
}

func (f *Fake) sortedLocked() []track.Track {
	out := make([]track.Track, 0, len(f.tracks))
	for _, t := range f.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Fake) ScanLibrary(_ context.Context, q ScanQuery) ([]track.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	all := f.sortedLocked()
	if q.ArtistFilter != "" {
		filtered := all[:0]
		for _, t := range all {
			if t.Artist == q.ArtistFilter {
				filtered = append(filtered, t)
			}
		}
		all = filtered
	}
	if q.Offset >= len(all) {
		return nil, nil
	}
	all = all[q.Offset:]
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return append([]track.Track(nil), all...), nil
}

func (f *Fake) FetchByIDs(_ context.Context, ids []string) ([]track.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []track.Track
	for _, id := range ids {
		if t, ok := f.tracks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *Fake) TrackExists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	if f.Missing[id] {
		return false, nil
	}
	_, ok := f.tracks[id]
	return ok, nil
}

func (f *Fake) UpdateProperty(_ context.Context, id, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.PropertyWrites = append(f.PropertyWrites, PropertyWrite{ID: id, Field: field, Value: value})
	t, ok := f.tracks[id]
	if !ok {
		return nil
	}
	switch field {
	case "name":
		t.Name = value
	case "artist":
		t.Artist = value
	case "album artist":
		t.AlbumArtist = value
	case "album":
		t.Album = value
	case "genre":
		t.Genre = value
	case "year":
		t.Year = value
	}
	f.tracks[id] = t
	return nil
}

func (f *Fake) BulkUpdateYear(_ context.Context, ids []string, year string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.YearWrites = append(f.YearWrites, YearWrite{IDs: append([]string(nil), ids...), Year: year})
	for _, id := range ids {
		if t, ok := f.tracks[id]; ok {
			t.Year = year
			f.tracks[id] = t
		}
	}
	return nil
}
