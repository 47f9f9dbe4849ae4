package agent

import (
	"context"
	"strings"
	"testing"
)

func record(fields ...string) string {
	return strings.Join(fields, fieldSep)
}

func TestParseTracks_FullLayout(t *testing.T) {
	raw := record("1", "Song", "Artist", "AA", "Album", "Rock",
		"2024-01-01 10:00:00", "2024-06-01 08:00:00", "purchased", "1999", "1999", "") +
		recordSep +
		record("2", "Other", "Artist", "missing value", "Album", "missing value",
			"2024-01-02 10:00:00", "2024-06-02 08:00:00", "subscription", "missing value", "2001", "")

	tracks := ParseTracks(raw)
	if len(tracks) != 2 {
		t.Fatalf("ParseTracks() returned %d tracks, want 2", len(tracks))
	}
	if tracks[0].AlbumArtist != "AA" || tracks[0].Year != "1999" {
		t.Errorf("first track parsed wrong: %+v", tracks[0])
	}
	if tracks[1].AlbumArtist != "" || tracks[1].Genre != "" || tracks[1].Year != "" {
		t.Errorf("missing value not normalised: %+v", tracks[1])
	}
	if tracks[1].ReleaseYear != "2001" {
		t.Errorf("ReleaseYear = %q, want 2001", tracks[1].ReleaseYear)
	}
}

func TestParseTracks_ShortLayout(t *testing.T) {
	raw := record("7", "Song", "Artist", "Album", "Jazz",
		"2023-01-01 10:00:00", "2023-02-01 10:00:00", "matched", "1985", "1985", "")

	tracks := ParseTracks(raw)
	if len(tracks) != 1 {
		t.Fatalf("ParseTracks() returned %d tracks, want 1", len(tracks))
	}
	got := tracks[0]
	if got.Album != "Album" || got.Genre != "Jazz" || got.TrackStatus != "matched" {
		t.Errorf("short layout parsed wrong: %+v", got)
	}
	if got.AlbumArtist != "" {
		t.Errorf("short layout must leave album_artist empty, got %q", got.AlbumArtist)
	}
}

// A single record carries no record separator; it must still parse as one
// track rather than one track per field.
func TestParseTracks_SingleRecord(t *testing.T) {
	raw := record("42", "Lone Song", "Artist", "AA", "Album", "Pop",
		"2024-01-01 10:00:00", "2024-01-01 10:00:00", "purchased", "2010", "2010", "")

	tracks := ParseTracks(raw)
	if len(tracks) != 1 {
		t.Fatalf("single record parsed into %d tracks, want 1", len(tracks))
	}
	if tracks[0].ID != "42" || tracks[0].Name != "Lone Song" {
		t.Errorf("single record parsed wrong: %+v", tracks[0])
	}
}

func TestParseTracks_SkipsShortRecords(t *testing.T) {
	raw := record("1", "only", "three") + recordSep +
		record("2", "Song", "Artist", "AA", "Album", "Rock",
			"2024-01-01", "2024-01-01", "purchased", "1999", "1999", "")

	tracks := ParseTracks(raw)
	if len(tracks) != 1 {
		t.Fatalf("ParseTracks() returned %d tracks, want 1", len(tracks))
	}
	if tracks[0].ID != "2" {
		t.Errorf("kept wrong record: %+v", tracks[0])
	}
}

func TestParseTracks_Empty(t *testing.T) {
	if got := ParseTracks(""); got != nil {
		t.Errorf("ParseTracks(\"\") = %v, want nil", got)
	}
	if got := ParseTracks("\n"); got != nil {
		t.Errorf("ParseTracks(newline) = %v, want nil", got)
	}
}

func TestFetchAll_Pages(t *testing.T) {
	fake := NewFake()
	var tracks []string
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		tracks = append(tracks, id)
	}
	for _, id := range tracks {
		fake.tracks[id] = trackWithID(id)
	}

	all, err := FetchAll(context.Background(), fake, "", 2)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("FetchAll() returned %d tracks, want 5", len(all))
	}
}
