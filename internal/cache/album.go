package cache

import (
	"strconv"
	"time"

	"tunesync/internal/errs"
	"tunesync/internal/keys"
)

// AlbumEntry is one resolved album year with the confidence it was resolved
// at. Confidence gates live in the year resolver; the cache only records.
type AlbumEntry struct {
	Artist     string    `json:"artist"`
	Album      string    `json:"album"`
	Year       string    `json:"year"`
	Confidence int       `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlbumStats summarises the album cache for reporting.
type AlbumStats struct {
	TotalAlbums int `json:"total_albums"`
	MaxEntries  int `json:"max_entries"`
}

// AlbumCache stores resolved album years keyed by the canonical album key.
type AlbumCache struct {
	store *Store[AlbumEntry]
}

// NewAlbumCache returns an album-year cache persisting to path (empty for
// memory-only).
func NewAlbumCache(ttl time.Duration, maxEntries int, path string) *AlbumCache {
	return &AlbumCache{store: New[AlbumEntry](ttl, maxEntries, path)}
}

// StoreAlbumYear records a resolved year. Negative confidence is rejected;
// values above 100 are clamped.
func (c *AlbumCache) StoreAlbumYear(artist, album, year string, confidence int) error {
	if confidence < 0 {
		return &errs.ValidationError{
			Field:  "confidence",
			Value:  strconv.Itoa(confidence),
			Reason: "must not be negative",
		}
	}
	if confidence > 100 {
		confidence = 100
	}
	c.store.Set(keys.AlbumKey(artist, album), AlbumEntry{
		Artist:     artist,
		Album:      album,
		Year:       year,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

// AlbumYear returns the cached year for the pair, or "" when unknown.
func (c *AlbumCache) AlbumYear(artist, album string) string {
	e, ok := c.store.Get(keys.AlbumKey(artist, album))
	if !ok {
		return ""
	}
	return e.Year
}

// AlbumYearEntry returns the full cached record for the pair.
func (c *AlbumCache) AlbumYearEntry(artist, album string) (AlbumEntry, bool) {
	return c.store.Get(keys.AlbumKey(artist, album))
}

// InvalidateAlbum removes the pair's entry and reports whether one existed.
func (c *AlbumCache) InvalidateAlbum(artist, album string) bool {
	return c.store.Invalidate(keys.AlbumKey(artist, album))
}

// InvalidateAll empties the cache.
func (c *AlbumCache) InvalidateAll() { c.store.InvalidateAll() }

// Stats returns the current cache summary.
func (c *AlbumCache) Stats() AlbumStats {
	return AlbumStats{TotalAlbums: c.store.Len(), MaxEntries: c.store.maxEntries}
}

// Save persists all live entries.
func (c *AlbumCache) Save() error { return c.store.Save() }

// Load restores persisted entries.
func (c *AlbumCache) Load() error { return c.store.Load() }
