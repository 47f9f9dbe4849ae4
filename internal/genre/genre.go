// Package genre normalises each artist's tracks onto their dominant genre,
// asking Last.fm for a tag when the library has no opinion at all.
package genre

import (
	"context"
	"sort"
	"strings"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/agent"
	"tunesync/internal/report"
	"tunesync/internal/track"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "genre"})

// TagSource supplies a genre for an artist with no local evidence. Last.fm
// in production, a fake in tests, nil when no credentials are configured.
type TagSource interface {
	TopTag(artist string) (string, error)
}

// Manager applies dominant genres across the full track set.
type Manager struct {
	agent   agent.Client
	changes *report.Collector
	tags    TagSource

	minArtistTracks int
	dryRun          bool
}

// New wires the manager. tags may be nil.
func New(client agent.Client, changes *report.Collector, tags TagSource, minArtistTracks int, dryRun bool) *Manager {
	if minArtistTracks <= 0 {
		minArtistTracks = 2
	}
	return &Manager{
		agent:           client,
		changes:         changes,
		tags:            tags,
		minArtistTracks: minArtistTracks,
		dryRun:          dryRun,
	}
}

// Process receives the full track set (the dominant-genre computation needs
// whole discographies) and filters internally. Returns the number of tracks
// updated.
func (m *Manager) Process(ctx context.Context, tracks []track.Track) int {
	byArtist := make(map[string][]*track.Track)
	for i := range tracks {
		t := &tracks[i]
		if t.ID == "" || strings.TrimSpace(t.Artist) == "" {
			continue
		}
		byArtist[t.Artist] = append(byArtist[t.Artist], t)
	}

	artists := make([]string, 0, len(byArtist))
	for a := range byArtist {
		artists = append(artists, a)
	}
	sort.Strings(artists)

	updated := 0
	for _, artist := range artists {
		if err := ctx.Err(); err != nil {
			log.Warn("genre pass interrupted")
			return updated
		}
		group := byArtist[artist]
		if len(group) < m.minArtistTracks {
			continue
		}
		updated += m.processArtist(ctx, artist, group)
	}
	return updated
}

func (m *Manager) processArtist(ctx context.Context, artist string, group []*track.Track) int {
	dominant := DominantGenre(group)
	if dominant == "" {
		dominant = m.lookupTag(artist)
		if dominant == "" {
			return 0
		}
	}

	updated := 0
	for _, t := range group {
		if t.Genre == dominant || !t.Editable() {
			continue
		}
		entry := report.ChangeLogEntry{
			ChangeType: report.ChangeGenreUpdate,
			TrackID:    t.ID,
			Artist:     artist,
			AlbumName:  t.Album,
			TrackName:  t.Name,
			OldValue:   t.Genre,
			NewValue:   dominant,
			Field:      "genre",
		}
		if !m.dryRun {
			if err := m.agent.UpdateProperty(ctx, t.ID, "genre", dominant); err != nil {
				log.WithFields(l.Fields{"id": t.ID, "err": err}).Warn("genre write failed")
				m.changes.AddError(entry)
				continue
			}
		}
		t.Genre = dominant
		m.changes.Add(entry)
		updated++
	}
	return updated
}

// lookupTag consults the tag source. Failures degrade to leaving the
// artist's genres unchanged.
func (m *Manager) lookupTag(artist string) string {
	if m.tags == nil {
		return ""
	}
	tag, err := m.tags.TopTag(artist)
	if err != nil {
		log.WithFields(l.Fields{"artist": artist, "err": err}).
			Warn("last.fm tag lookup failed")
		return ""
	}
	return TitleCase(tag)
}

// DominantGenre returns the most frequent non-empty genre across the
// tracks. Ties break to the genre of the earliest-added track, then
// lexicographically.
func DominantGenre(group []*track.Track) string {
	counts := make(map[string]int)
	earliest := make(map[string]string)
	for _, t := range group {
		g := strings.TrimSpace(t.Genre)
		if g == "" {
			continue
		}
		counts[g]++
		if prev, ok := earliest[g]; !ok || added(t) < prev {
			earliest[g] = added(t)
		}
	}
	best := ""
	for g, n := range counts {
		if best == "" {
			best = g
			continue
		}
		switch {
		case n > counts[best]:
			best = g
		case n == counts[best]:
			if earliest[g] < earliest[best] ||
				(earliest[g] == earliest[best] && g < best) {
				best = g
			}
		}
	}
	return best
}

// added gives a sortable timestamp key; tracks without one sort last.
func added(t *track.Track) string {
	if ts, ok := track.ParseTimestamp(t.DateAdded); ok {
		return ts.Format("2006-01-02T15:04:05")
	}
	return "9999"
}

// TitleCase uppercases the first letter of each word, the way genre tags
// are conventionally written.
func TitleCase(s string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
