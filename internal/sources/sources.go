// Package sources fans album-year queries out across the enabled external
// APIs, scores the candidates and applies the contamination rules.
package sources

import (
	"context"
	"strings"

	l "github.com/sirupsen/logrus"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "sources"})

// Candidate is one release suggestion from a source, reduced to the fields
// the scorer looks at.
type Candidate struct {
	Source         string
	Artist         string
	Album          string
	Year           int
	Country        string
	ReleaseType    string // album, ep, single, compilation, live
	Status         string // official, promotion, bootleg
	ReleaseGroupID string // MusicBrainz only
	MasterID       string // Discogs only
}

// Query asks for one album's canonical year. CurrentLibraryYear and
// EarliestTrackAddedYear feed the scoring and contamination checks; zero
// disables each.
type Query struct {
	Artist                 string
	Album                  string
	CurrentLibraryYear     int
	EarliestTrackAddedYear int
	ArtistCountry          string
}

// Result is the chosen year with its winning score. Definitive results meet
// both the absolute threshold and the margin over the runner-up.
type Result struct {
	Year       string
	Score      int
	Definitive bool
	Source     string
}

// Source is one queryable external API.
type Source interface {
	Name() string
	Search(ctx context.Context, artist, album string) ([]Candidate, error)
	// SearchByTitle is the relaxed fallback query used when the primary
	// search finds nothing for a special-looking album title.
	SearchByTitle(ctx context.Context, album string) ([]Candidate, error)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// splitDiscogsTitle splits the "Artist - Album" form Discogs returns.
func splitDiscogsTitle(title string) (artist, album string) {
	if idx := strings.Index(title, " - "); idx >= 0 {
		return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:])
	}
	return "", strings.TrimSpace(title)
}
