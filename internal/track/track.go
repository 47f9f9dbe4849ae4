// Package track defines the library track model and the pure functions
// the sync engine runs over it.
package track

import "strings"

// Track statuses reported by the library agent. Any other value is treated
// as unknown-but-available.
const (
	StatusSubscription = "subscription"
	StatusPrerelease   = "prerelease"
	StatusPurchased    = "purchased"
	StatusMatched      = "matched"
)

// Track is one library record. Year and ReleaseYear are distinct library
// fields; YearBeforeMGU and YearSetByMGU are tracking fields owned by this
// tool and never overwritten by a plain library sync.
type Track struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Artist        string `json:"artist"`
	AlbumArtist   string `json:"album_artist,omitempty"`
	Album         string `json:"album"`
	Genre         string `json:"genre,omitempty"`
	Year          string `json:"year,omitempty"`
	ReleaseYear   string `json:"release_year,omitempty"`
	DateAdded     string `json:"date_added,omitempty"`
	LastModified  string `json:"last_modified,omitempty"`
	TrackStatus   string `json:"track_status,omitempty"`
	YearBeforeMGU string `json:"year_before_mgu,omitempty"`
	YearSetByMGU  string `json:"year_set_by_mgu,omitempty"`
}

// IsPrerelease reports whether the track is a prerelease and therefore not
// writable through the agent.
func (t *Track) IsPrerelease() bool {
	return strings.EqualFold(strings.TrimSpace(t.TrackStatus), StatusPrerelease)
}

// Editable reports whether year and metadata writes to this track are
// expected to succeed. Unknown statuses count as editable.
func (t *Track) Editable() bool {
	return !t.IsPrerelease()
}

// AlbumID identifies an album group within the library.
type AlbumID struct {
	Artist string
	Album  string
}

// GroupByAlbum buckets tracks by (artist, album). Tracks with an empty album
// name are not grouped with anything and are left out entirely.
func GroupByAlbum(tracks []Track) map[AlbumID][]Track {
	groups := make(map[AlbumID][]Track)
	for _, t := range tracks {
		if strings.TrimSpace(t.Album) == "" {
			continue
		}
		id := AlbumID{Artist: t.Artist, Album: t.Album}
		groups[id] = append(groups[id], t)
	}
	return groups
}

// SplitEditable partitions tracks into editable and prerelease sets,
// preserving order.
func SplitEditable(tracks []Track) (editable, prerelease []Track) {
	for _, t := range tracks {
		if t.IsPrerelease() {
			prerelease = append(prerelease, t)
		} else {
			editable = append(editable, t)
		}
	}
	return editable, prerelease
}
