package genre

import (
	"context"
	"errors"
	"testing"

	"tunesync/internal/agent"
	"tunesync/internal/report"
	"tunesync/internal/track"
)

type fakeTags struct {
	tag   string
	err   error
	calls int
}

func (f *fakeTags) TopTag(string) (string, error) {
	f.calls++
	return f.tag, f.err
}

func genreTrack(id, artist, genre, added string) track.Track {
	return track.Track{
		ID:          id,
		Artist:      artist,
		Genre:       genre,
		DateAdded:   added,
		TrackStatus: track.StatusPurchased,
	}
}

func TestProcessAppliesDominantGenre(t *testing.T) {
	fake := agent.NewFake()
	changes := report.NewCollector()
	m := New(fake, changes, nil, 2, false)

	tracks := []track.Track{
		genreTrack("1", "Artist", "Rock", "2015-01-01 10:00:00"),
		genreTrack("2", "Artist", "Rock", "2015-01-02 10:00:00"),
		genreTrack("3", "Artist", "Pop", "2015-01-03 10:00:00"),
	}
	fake.SetTracks(tracks...)

	updated := m.Process(context.Background(), tracks)
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	if tracks[2].Genre != "Rock" {
		t.Errorf("track 3 genre = %q, want Rock", tracks[2].Genre)
	}
	if changes.CountByType()[report.ChangeGenreUpdate] != 1 {
		t.Errorf("change entries = %v", changes.CountByType())
	}
}

func TestProcessSkipsSmallArtists(t *testing.T) {
	fake := agent.NewFake()
	m := New(fake, report.NewCollector(), nil, 2, false)

	tracks := []track.Track{genreTrack("1", "Solo", "", "2015-01-01 10:00:00")}
	if updated := m.Process(context.Background(), tracks); updated != 0 {
		t.Errorf("updated = %d for artist below min_artist_tracks", updated)
	}
}

func TestDominantGenreTieBreaks(t *testing.T) {
	tests := []struct {
		name   string
		tracks []track.Track
		want   string
	}{
		{
			"earliest added wins the tie",
			[]track.Track{
				genreTrack("1", "A", "Pop", "2015-06-01 10:00:00"),
				genreTrack("2", "A", "Rock", "2015-01-01 10:00:00"),
			},
			"Rock",
		},
		{
			"lexicographic when dates equal",
			[]track.Track{
				genreTrack("1", "A", "Pop", "2015-01-01 10:00:00"),
				genreTrack("2", "A", "Jazz", "2015-01-01 10:00:00"),
			},
			"Jazz",
		},
		{
			"frequency beats age",
			[]track.Track{
				genreTrack("1", "A", "Pop", "2010-01-01 10:00:00"),
				genreTrack("2", "A", "Rock", "2015-01-01 10:00:00"),
				genreTrack("3", "A", "Rock", "2016-01-01 10:00:00"),
			},
			"Rock",
		},
		{
			"empty genres do not vote",
			[]track.Track{
				genreTrack("1", "A", "", "2010-01-01 10:00:00"),
				genreTrack("2", "A", "", "2011-01-01 10:00:00"),
				genreTrack("3", "A", "Rock", "2016-01-01 10:00:00"),
			},
			"Rock",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := make([]*track.Track, len(tt.tracks))
			for i := range tt.tracks {
				group[i] = &tt.tracks[i]
			}
			if got := DominantGenre(group); got != tt.want {
				t.Errorf("DominantGenre() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessFallsBackToLastfm(t *testing.T) {
	fake := agent.NewFake()
	tags := &fakeTags{tag: "trip hop"}
	m := New(fake, report.NewCollector(), tags, 2, false)

	tracks := []track.Track{
		genreTrack("1", "Artist", "", "2015-01-01 10:00:00"),
		genreTrack("2", "Artist", "", "2015-01-02 10:00:00"),
	}
	fake.SetTracks(tracks...)

	updated := m.Process(context.Background(), tracks)
	if updated != 2 {
		t.Fatalf("updated = %d, want 2", updated)
	}
	if tracks[0].Genre != "Trip Hop" {
		t.Errorf("genre = %q, want title-cased Trip Hop", tracks[0].Genre)
	}
	if tags.calls != 1 {
		t.Errorf("tag lookups = %d, want 1 per artist", tags.calls)
	}
}

func TestProcessLastfmFailureLeavesUnchanged(t *testing.T) {
	fake := agent.NewFake()
	tags := &fakeTags{err: errors.New("api down")}
	m := New(fake, report.NewCollector(), tags, 2, false)

	tracks := []track.Track{
		genreTrack("1", "Artist", "", "2015-01-01 10:00:00"),
		genreTrack("2", "Artist", "", "2015-01-02 10:00:00"),
	}
	if updated := m.Process(context.Background(), tracks); updated != 0 {
		t.Errorf("updated = %d, want unchanged on lookup failure", updated)
	}
	if len(fake.PropertyWrites) != 0 {
		t.Error("writes issued despite lookup failure")
	}
}

func TestTitleCase(t *testing.T) {
	tests := []struct{ in, want string }{
		{"trip hop", "Trip Hop"},
		{"ROCK", "Rock"},
		{"singer-songwriter", "Singer-songwriter"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := TitleCase(tt.in); got != tt.want {
			t.Errorf("TitleCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
