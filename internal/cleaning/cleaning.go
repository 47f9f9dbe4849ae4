// Package cleaning strips qualifier suffixes from track and album names
// and applies the configured artist renames.
package cleaning

import (
	"context"
	"strings"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/agent"
	"tunesync/internal/report"
	"tunesync/internal/track"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "cleaning"})

// CleanName strips bracketed or dash-appended qualifiers matching one of
// the configured suffixes, repeating until nothing more comes off. Doubled
// whitespace collapses; a transform that would empty the name is discarded.
func CleanName(name string, suffixes []string) string {
	current := collapseSpaces(name)
	for {
		next := stripOnce(current, suffixes)
		next = collapseSpaces(next)
		if next == "" || next == current {
			return current
		}
		current = next
	}
}

func stripOnce(name string, suffixes []string) string {
	trimmed := strings.TrimSpace(name)

	for _, pair := range [][2]byte{{'(', ')'}, {'[', ']'}} {
		if len(trimmed) == 0 || trimmed[len(trimmed)-1] != pair[1] {
			continue
		}
		idx := strings.LastIndexByte(trimmed, pair[0])
		if idx <= 0 {
			continue
		}
		qualifier := trimmed[idx+1 : len(trimmed)-1]
		if matchesSuffix(qualifier, suffixes) {
			return trimmed[:idx]
		}
	}

	if idx := strings.LastIndex(trimmed, " - "); idx > 0 {
		if matchesSuffix(trimmed[idx+3:], suffixes) {
			return trimmed[:idx]
		}
	}
	return trimmed
}

func matchesSuffix(qualifier string, suffixes []string) bool {
	qualifier = strings.TrimSpace(qualifier)
	for _, s := range suffixes {
		if strings.EqualFold(qualifier, s) {
			return true
		}
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Cleaner applies name cleaning and artist renames through the agent.
type Cleaner struct {
	agent    agent.Client
	changes  *report.Collector
	suffixes []string
	renames  map[string]string
	dryRun   bool
}

// New wires a cleaner. renames maps old artist names to new ones.
func New(client agent.Client, changes *report.Collector, suffixes []string, renames map[string]string, dryRun bool) *Cleaner {
	return &Cleaner{
		agent:    client,
		changes:  changes,
		suffixes: suffixes,
		renames:  renames,
		dryRun:   dryRun,
	}
}

// CleanTracks cleans track and album names in place, writing each changed
// field through the agent. Returns the number of fields changed.
func (c *Cleaner) CleanTracks(ctx context.Context, tracks []track.Track) int {
	changed := 0
	for i := range tracks {
		t := &tracks[i]
		if t.ID == "" || !t.Editable() {
			continue
		}
		if cleaned := CleanName(t.Name, c.suffixes); cleaned != t.Name {
			if c.write(ctx, t, "name", t.Name, cleaned) {
				t.Name = cleaned
				changed++
			}
		}
		if cleaned := CleanName(t.Album, c.suffixes); cleaned != t.Album {
			if c.write(ctx, t, "album", t.Album, cleaned) {
				t.Album = cleaned
				changed++
			}
		}
	}
	return changed
}

// ApplyRenames renames artists per the configured map. album_artist follows
// when it carried the same value. Returns the number of tracks renamed.
func (c *Cleaner) ApplyRenames(ctx context.Context, tracks []track.Track) int {
	if len(c.renames) == 0 {
		return 0
	}
	renamed := 0
	for i := range tracks {
		t := &tracks[i]
		if t.ID == "" || !t.Editable() {
			continue
		}
		newName, ok := c.renames[strings.TrimSpace(t.Artist)]
		if !ok || newName == t.Artist {
			continue
		}
		if !c.write(ctx, t, "artist", t.Artist, newName) {
			continue
		}
		if t.AlbumArtist == t.Artist {
			if c.writeSilent(ctx, t.ID, "album artist", newName) {
				t.AlbumArtist = newName
			}
		}
		t.Artist = newName
		renamed++
	}
	return renamed
}

// write pushes one field change through the agent and records it. Returns
// false when the write failed; the failure gets an error entry and the
// in-memory track stays untouched.
func (c *Cleaner) write(ctx context.Context, t *track.Track, field, old, val string) bool {
	changeType := report.ChangeMetadataCleaning
	if field == "artist" {
		changeType = report.ChangeArtistRename
	}
	entry := report.ChangeLogEntry{
		ChangeType: changeType,
		TrackID:    t.ID,
		Artist:     t.Artist,
		AlbumName:  t.Album,
		TrackName:  t.Name,
		OldValue:   old,
		NewValue:   val,
		Field:      field,
	}

	if !c.dryRun {
		if err := c.agent.UpdateProperty(ctx, t.ID, field, val); err != nil {
			log.WithFields(l.Fields{"id": t.ID, "field": field, "err": err}).
				Warn("cleaning write failed")
			c.changes.AddError(entry)
			return false
		}
	}
	c.changes.Add(entry)
	return true
}

func (c *Cleaner) writeSilent(ctx context.Context, id, field, val string) bool {
	if c.dryRun {
		return true
	}
	if err := c.agent.UpdateProperty(ctx, id, field, val); err != nil {
		log.WithFields(l.Fields{"id": id, "field": field, "err": err}).
			Warn("follow-up write failed")
		return false
	}
	return true
}
