package cache

import (
	"time"

	"tunesync/internal/keys"
)

// knownSources covers every source whose entries InvalidateForAlbum clears,
// enabled or not.
var knownSources = []string{"musicbrainz", "discogs", "itunes"}

// ResultMetadata distinguishes cached negatives and carries scoring context.
type ResultMetadata struct {
	IsNegative bool   `json:"is_negative"`
	Score      int    `json:"score,omitempty"`
	Definitive bool   `json:"definitive,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// APIResult is one cached per-source lookup outcome. A negative outcome is
// a real entry with Metadata.IsNegative set, distinct from a cache miss.
type APIResult struct {
	Artist    string         `json:"artist"`
	Album     string         `json:"album"`
	Source    string         `json:"source"`
	Year      string         `json:"year,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  ResultMetadata `json:"metadata"`
}

// IsNegative reports whether the entry records a definitive no-result.
func (r APIResult) IsNegative() bool { return r.Metadata.IsNegative }

// APICache stores per-source lookup results keyed by (artist, album,
// source). Negatives get their own, shorter TTL so a later release can
// still be found.
type APICache struct {
	store       *Store[APIResult]
	negativeTTL time.Duration
}

// NewAPICache returns an API-response cache persisting to path (empty for
// memory-only).
func NewAPICache(ttl, negativeTTL time.Duration, maxEntries int, path string) *APICache {
	return &APICache{
		store:       New[APIResult](ttl, maxEntries, path),
		negativeTTL: negativeTTL,
	}
}

// StoreResult caches a successful lookup for one source.
func (c *APICache) StoreResult(artist, album, source, year string, meta ResultMetadata) {
	c.store.Set(keys.APIKey(source, artist, album), APIResult{
		Artist:    artist,
		Album:     album,
		Source:    source,
		Year:      year,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	})
}

// StoreNegative caches a definitive no-result outcome for one source.
func (c *APICache) StoreNegative(artist, album, source, reason string) {
	c.store.SetTTL(keys.APIKey(source, artist, album), APIResult{
		Artist:    artist,
		Album:     album,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Metadata:  ResultMetadata{IsNegative: true, Reason: reason},
	}, c.negativeTTL)
}

// Get returns the cached outcome for (artist, album, source).
func (c *APICache) Get(artist, album, source string) (APIResult, bool) {
	return c.store.Get(keys.APIKey(source, artist, album))
}

// InvalidateForAlbum clears every source's entry for the pair in one call
// and reports how many were present.
func (c *APICache) InvalidateForAlbum(artist, album string) int {
	removed := 0
	for _, source := range knownSources {
		if c.store.Invalidate(keys.APIKey(source, artist, album)) {
			removed++
		}
	}
	return removed
}

// Save persists all live entries.
func (c *APICache) Save() error { return c.store.Save() }

// Load restores persisted entries.
func (c *APICache) Load() error { return c.store.Load() }
