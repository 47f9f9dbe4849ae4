package cache

import (
	"testing"
	"testing/synctest"
	"time"
)

func TestAPICache_RoundTrip(t *testing.T) {
	c := NewAPICache(time.Hour, time.Minute, 100, "")

	c.StoreResult("Nirvana", "Nevermind", "musicbrainz", "1991",
		ResultMetadata{Score: 97, Definitive: true})

	res, ok := c.Get("Nirvana", "Nevermind", "musicbrainz")
	if !ok {
		t.Fatal("expected hit")
	}
	if res.Year != "1991" {
		t.Errorf("Year = %q, want 1991", res.Year)
	}
	if res.IsNegative() {
		t.Error("positive result should not read as negative")
	}
	if !res.Metadata.Definitive || res.Metadata.Score != 97 {
		t.Errorf("Metadata = %+v, want score 97 definitive", res.Metadata)
	}
}

func TestAPICache_NegativeDistinctFromMiss(t *testing.T) {
	c := NewAPICache(time.Hour, time.Minute, 100, "")

	c.StoreNegative("Nirvana", "Nevermind", "discogs", "no candidates")

	res, ok := c.Get("Nirvana", "Nevermind", "discogs")
	if !ok {
		t.Fatal("cached negative must be a hit, not a miss")
	}
	if !res.IsNegative() {
		t.Error("IsNegative() = false, want true")
	}
	if res.Metadata.Reason != "no candidates" {
		t.Errorf("Reason = %q, want the stored reason", res.Metadata.Reason)
	}

	if _, ok := c.Get("Nirvana", "Nevermind", "itunes"); ok {
		t.Error("unqueried source should be a miss")
	}
}

func TestAPICache_SourceScoping(t *testing.T) {
	c := NewAPICache(time.Hour, time.Minute, 100, "")

	c.StoreResult("a", "b", "musicbrainz", "1991", ResultMetadata{})
	c.StoreResult("a", "b", "discogs", "1992", ResultMetadata{})

	mb, _ := c.Get("a", "b", "musicbrainz")
	dg, _ := c.Get("a", "b", "discogs")
	if mb.Year == dg.Year {
		t.Error("sources should not share entries")
	}
}

func TestAPICache_NegativeTTLShorter(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := NewAPICache(24*time.Hour, time.Hour, 100, "")

		c.StoreResult("a", "b", "musicbrainz", "1991", ResultMetadata{})
		c.StoreNegative("a", "b", "discogs", "no candidates")

		time.Sleep(2 * time.Hour)

		if _, ok := c.Get("a", "b", "discogs"); ok {
			t.Error("negative should expire on its shorter TTL")
		}
		if _, ok := c.Get("a", "b", "musicbrainz"); !ok {
			t.Error("positive should still be live")
		}
	})
}

func TestAPICache_InvalidateForAlbum(t *testing.T) {
	c := NewAPICache(time.Hour, time.Minute, 100, "")

	c.StoreResult("a", "b", "musicbrainz", "1991", ResultMetadata{})
	c.StoreNegative("a", "b", "discogs", "x")
	c.StoreResult("a", "b", "itunes", "1991", ResultMetadata{})
	c.StoreResult("other", "album", "musicbrainz", "2000", ResultMetadata{})

	if removed := c.InvalidateForAlbum("a", "b"); removed != 3 {
		t.Errorf("InvalidateForAlbum() = %d, want 3", removed)
	}
	for _, source := range []string{"musicbrainz", "discogs", "itunes"} {
		if _, ok := c.Get("a", "b", source); ok {
			t.Errorf("source %s entry should be gone", source)
		}
	}
	if _, ok := c.Get("other", "album", "musicbrainz"); !ok {
		t.Error("unrelated album should be untouched")
	}
}
