package agent

import (
	"strings"

	"tunesync/internal/track"
)

// Tabular dialect the library scripts emit: records separated by the group
// separator byte, fields by the record separator byte. Field values holding
// the agent's "missing value" sentinel are normalised to empty.
const (
	recordSep = "\x1d"
	fieldSep  = "\x1e"

	missingValue = "missing value"

	// minFields is the shortest record layout (no album_artist column).
	minFields = 11
	// fullFields is the layout carrying album_artist.
	fullFields = 12
)

// ParseTracks decodes scan output into tracks. Records with fewer than
// eleven fields are skipped with a warning. Output holding no record
// separator is one single record, never one record per field.
func ParseTracks(raw string) []track.Track {
	raw = strings.Trim(raw, "\n")
	if raw == "" {
		return nil
	}

	records := strings.Split(raw, recordSep)
	tracks := make([]track.Track, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record) == "" {
			continue
		}
		t, ok := parseRecord(record)
		if !ok {
			log.Warnf("skipping malformed record with %d fields", strings.Count(record, fieldSep)+1)
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks
}

func parseRecord(record string) (track.Track, bool) {
	fields := strings.Split(record, fieldSep)
	if len(fields) < minFields {
		return track.Track{}, false
	}
	for i, f := range fields {
		f = strings.Trim(f, "\n")
		if strings.TrimSpace(f) == missingValue {
			f = ""
		}
		fields[i] = f
	}

	// The full layout carries album_artist at index 3; the short layout
	// goes straight from artist to album.
	if len(fields) >= fullFields {
		return track.Track{
			ID:           fields[0],
			Name:         fields[1],
			Artist:       fields[2],
			AlbumArtist:  fields[3],
			Album:        fields[4],
			Genre:        fields[5],
			DateAdded:    fields[6],
			LastModified: fields[7],
			TrackStatus:  fields[8],
			Year:         fields[9],
			ReleaseYear:  fields[10],
		}, fields[0] != ""
	}
	return track.Track{
		ID:           fields[0],
		Name:         fields[1],
		Artist:       fields[2],
		Album:        fields[3],
		Genre:        fields[4],
		DateAdded:    fields[5],
		LastModified: fields[6],
		TrackStatus:  fields[7],
		Year:         fields[8],
		ReleaseYear:  fields[9],
	}, fields[0] != ""
}
