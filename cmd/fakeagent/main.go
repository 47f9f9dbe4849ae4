// fakeagent emulates the library agent's script surface for development
// without a real library: point [library].agent_command at this binary and
// it serves scans and accepts writes against a JSON fixture.
//
// Usage: fakeagent <script-path> [args...]
//
// The script path's base name (scan_library, fetch_tracks, track_exists,
// update_property, bulk_update_year) selects the behaviour, mirroring how
// the real agent command is invoked. The fixture defaults to library.json
// in the working directory; set TUNESYNC_FAKEAGENT_LIBRARY to override.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tunesync/internal/fsutil"
	"tunesync/internal/track"
)

const (
	recordSep = "\x1d"
	fieldSep  = "\x1e"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "fakeagent:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fakeagent <script-path> [args...]")
	}
	script := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	args = args[1:]

	lib, err := load()
	if err != nil {
		return err
	}

	switch script {
	case "scan_library":
		return scanLibrary(lib, args)
	case "fetch_tracks":
		return fetchTracks(lib, args)
	case "track_exists":
		return trackExists(lib, args)
	case "update_property":
		return updateProperty(lib, args)
	case "bulk_update_year":
		return bulkUpdateYear(lib, args)
	default:
		return fmt.Errorf("unknown script %q", script)
	}
}

func fixturePath() string {
	if p := os.Getenv("TUNESYNC_FAKEAGENT_LIBRARY"); p != "" {
		return p
	}
	return "library.json"
}

func load() ([]track.Track, error) {
	data, err := os.ReadFile(fixturePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tracks []track.Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", fixturePath(), err)
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].ID < tracks[j].ID })
	return tracks, nil
}

func save(tracks []track.Track) error {
	data, err := json.MarshalIndent(tracks, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(fixturePath(), data, 0o644)
}

// scanLibrary answers the paged scan: (artist_filter, offset, limit,
// min_date_added_unix?).
func scanLibrary(lib []track.Track, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("scan_library wants artist, offset, limit")
	}
	artist := args[0]
	offset, _ := strconv.Atoi(args[1])
	limit, _ := strconv.Atoi(args[2])

	var minAdded int64
	if len(args) > 3 {
		minAdded, _ = strconv.ParseInt(args[3], 10, 64)
	}

	var page []track.Track
	for _, t := range lib {
		if artist != "" && t.Artist != artist {
			continue
		}
		if minAdded > 0 {
			added, ok := track.ParseTimestamp(t.DateAdded)
			if ok && added.Unix() < minAdded {
				continue
			}
		}
		page = append(page, t)
	}
	if offset < len(page) {
		page = page[offset:]
	} else {
		page = nil
	}
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	emit(page)
	return nil
}

func fetchTracks(lib []track.Track, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("fetch_tracks wants a comma-separated id list")
	}
	wanted := make(map[string]bool)
	for _, id := range strings.Split(args[0], ",") {
		wanted[strings.TrimSpace(id)] = true
	}
	var out []track.Track
	for _, t := range lib {
		if wanted[t.ID] {
			out = append(out, t)
		}
	}
	emit(out)
	return nil
}

func trackExists(lib []track.Track, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("track_exists wants an id")
	}
	for _, t := range lib {
		if t.ID == args[0] {
			fmt.Println("true")
			return nil
		}
	}
	fmt.Println("not found")
	return nil
}

func updateProperty(lib []track.Track, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("update_property wants id, field, value")
	}
	id, field, value := args[0], args[1], args[2]
	for i := range lib {
		if lib[i].ID != id {
			continue
		}
		switch field {
		case "name":
			lib[i].Name = value
		case "artist":
			lib[i].Artist = value
		case "album artist":
			lib[i].AlbumArtist = value
		case "album":
			lib[i].Album = value
		case "genre":
			lib[i].Genre = value
		case "year":
			lib[i].Year = value
		default:
			return fmt.Errorf("unknown field %q", field)
		}
		return save(lib)
	}
	return fmt.Errorf("no track %s", id)
}

func bulkUpdateYear(lib []track.Track, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("bulk_update_year wants an id list and a year")
	}
	wanted := make(map[string]bool)
	for _, id := range strings.Split(args[0], ",") {
		wanted[strings.TrimSpace(id)] = true
	}
	for i := range lib {
		if wanted[lib[i].ID] {
			lib[i].Year = args[1]
		}
	}
	return save(lib)
}

// emit prints tracks in the tabular dialect the core parses: group
// separator between records, record separator between fields, full
// 12-field layout with a trailing empty field.
func emit(tracks []track.Track) {
	records := make([]string, 0, len(tracks))
	for _, t := range tracks {
		fields := []string{
			t.ID, t.Name, t.Artist, t.AlbumArtist, t.Album, t.Genre,
			t.DateAdded, t.LastModified, t.TrackStatus, t.Year, t.ReleaseYear,
			"",
		}
		records = append(records, strings.Join(fields, fieldSep))
	}
	fmt.Print(strings.Join(records, recordSep))
}
