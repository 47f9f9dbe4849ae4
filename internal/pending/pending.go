// Package pending tracks albums whose year resolution was deferred and when
// to look at them again.
package pending

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"tunesync/internal/errs"
	"tunesync/internal/fsutil"
	"tunesync/internal/keys"
)

// Deferral reasons recorded on entries.
const (
	ReasonNoYearFound   = "no_year_found"
	ReasonAPIError      = "api_error"
	ReasonPrerelease    = "prerelease"
	ReasonLowConfidence = "low_confidence"
	ReasonMixedAlbum    = "mixed_album"
	ReasonContamination = "contamination_suspected"
	ReasonSpecialAlbum  = "special_album"
	ReasonReissue       = "reissue"
)

// Entry is one deferred album.
type Entry struct {
	Artist        string            `json:"artist"`
	Album         string            `json:"album"`
	Reason        string            `json:"reason"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	FirstMarkedAt time.Time         `json:"first_marked_at"`
	LastCheckedAt time.Time         `json:"last_checked_at"`
	NextCheckAt   time.Time         `json:"next_check_at"`
	Attempts      int               `json:"attempts"`
}

// Due reports whether the entry's re-check deadline has passed.
func (e Entry) Due(now time.Time) bool {
	return !e.NextCheckAt.After(now)
}

// Store persists deferred albums keyed by the canonical album key. Every
// mutation is written through to disk atomically.
type Store struct {
	mu          sync.Mutex
	entries     map[string]Entry
	path        string
	recheckDays int
	maxEntries  int
}

// New returns a Store persisting to path (empty for memory-only).
// recheckDays is the default re-check distance; maxEntries bounds growth.
func New(path string, recheckDays, maxEntries int) *Store {
	if recheckDays <= 0 {
		recheckDays = 7
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Store{
		entries:     make(map[string]Entry),
		path:        path,
		recheckDays: recheckDays,
		maxEntries:  maxEntries,
	}
}

// MarkForVerification upserts a deferral. A re-mark preserves the original
// first_marked_at, counts another attempt and pushes the deadline out;
// reason and metadata are replaced. recheckDays <= 0 uses the store default.
func (s *Store) MarkForVerification(artist, album, reason string, metadata map[string]string, recheckDays int) error {
	if recheckDays <= 0 {
		recheckDays = s.recheckDays
	}
	now := time.Now().UTC()
	key := keys.AlbumKey(artist, album)

	s.mu.Lock()
	entry, exists := s.entries[key]
	if !exists {
		entry = Entry{
			Artist:        artist,
			Album:         album,
			FirstMarkedAt: now,
		}
	}
	entry.Reason = reason
	entry.Metadata = metadata
	entry.LastCheckedAt = now
	entry.NextCheckAt = now.AddDate(0, 0, recheckDays)
	entry.Attempts++
	s.entries[key] = entry
	s.enforceCapLocked()
	s.mu.Unlock()

	return s.Save()
}

// Entry returns the deferral for the pair.
func (s *Store) Entry(artist, album string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[keys.AlbumKey(artist, album)]
	return e, ok
}

// IsVerificationNeeded reports whether the pair is deferred and due.
func (s *Store) IsVerificationNeeded(artist, album string) bool {
	e, ok := s.Entry(artist, album)
	return ok && e.Due(time.Now().UTC())
}

// AllPending returns every deferral, ordered by artist then album.
func (s *Store) AllPending() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Artist != out[j].Artist {
			return out[i].Artist < out[j].Artist
		}
		return out[i].Album < out[j].Album
	})
	return out
}

// DueEntries returns the deferrals whose deadline has passed, soonest
// deadline first.
func (s *Store) DueEntries() []Entry {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Entry
	for _, e := range s.entries {
		if e.Due(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextCheckAt.Equal(due[j].NextCheckAt) {
			return due[i].NextCheckAt.Before(due[j].NextCheckAt)
		}
		if due[i].Artist != due[j].Artist {
			return due[i].Artist < due[j].Artist
		}
		return due[i].Album < due[j].Album
	})
	return due
}

// ShouldAutoVerify reports whether any deferral is due. Run-level throttling
// is the pipeline's business.
func (s *Store) ShouldAutoVerify() bool {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Due(now) {
			return true
		}
	}
	return false
}

// Remove drops the pair's deferral and reports whether one existed.
func (s *Store) Remove(artist, album string) (bool, error) {
	key := keys.AlbumKey(artist, album)

	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, s.Save()
}

// Len returns the number of deferrals.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// enforceCapLocked drops the longest-pending entries once the store
// overflows. Callers hold mu.
func (s *Store) enforceCapLocked() {
	over := len(s.entries) - s.maxEntries
	if over <= 0 {
		return
	}
	type aged struct {
		key   string
		since time.Time
	}
	byAge := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		byAge = append(byAge, aged{key: k, since: e.FirstMarkedAt})
	}
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].since.Before(byAge[j].since)
	})
	for i := 0; i < over; i++ {
		delete(s.entries, byAge[i].key)
	}
}

// Save writes the store to its path atomically.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal pending store: %w", err)
	}
	return fsutil.WriteFileAtomic(s.path, data, 0o644)
}

// Load restores the store from its path. A missing file is a clean start;
// a corrupt one is reported so the owner can log it and rebuild.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read pending store %s: %w", s.path, err)
	}

	var stored map[string]Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		return &errs.CacheCorruptionError{Path: s.path, Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range stored {
		s.entries[k] = e
	}
	return nil
}
