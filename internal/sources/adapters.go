package sources

import (
	"context"
	"strconv"
	"strings"

	"tunesync/internal/discogs"
	"tunesync/internal/itunes"
	"tunesync/internal/musicbrainz"
)

// MusicBrainzSource adapts the MusicBrainz client.
type MusicBrainzSource struct {
	Client *musicbrainz.Client
}

func (s *MusicBrainzSource) Name() string { return musicbrainz.SourceName }

func (s *MusicBrainzSource) Search(ctx context.Context, artist, album string) ([]Candidate, error) {
	releases, err := s.Client.SearchReleases(ctx, artist, album)
	if err != nil {
		return nil, err
	}
	return convertMusicBrainz(releases), nil
}

func (s *MusicBrainzSource) SearchByTitle(ctx context.Context, album string) ([]Candidate, error) {
	releases, err := s.Client.SearchReleasesByTitle(ctx, album)
	if err != nil {
		return nil, err
	}
	return convertMusicBrainz(releases), nil
}

func convertMusicBrainz(releases []musicbrainz.Release) []Candidate {
	out := make([]Candidate, 0, len(releases))
	for _, r := range releases {
		out = append(out, Candidate{
			Source:         musicbrainz.SourceName,
			Artist:         r.Artist,
			Album:          r.Title,
			Year:           r.Year(),
			Country:        r.Country,
			ReleaseType:    r.ReleaseType,
			Status:         r.Status,
			ReleaseGroupID: r.ReleaseGroupID,
		})
	}
	return out
}

// DiscogsSource adapts the Discogs client.
type DiscogsSource struct {
	Client *discogs.Client
}

func (s *DiscogsSource) Name() string { return discogs.SourceName }

func (s *DiscogsSource) Search(ctx context.Context, artist, album string) ([]Candidate, error) {
	releases, err := s.Client.SearchReleases(ctx, artist, album)
	if err != nil {
		return nil, err
	}
	return convertDiscogs(releases), nil
}

func (s *DiscogsSource) SearchByTitle(ctx context.Context, album string) ([]Candidate, error) {
	releases, err := s.Client.SearchReleasesByTitle(ctx, album)
	if err != nil {
		return nil, err
	}
	return convertDiscogs(releases), nil
}

func convertDiscogs(releases []discogs.Release) []Candidate {
	out := make([]Candidate, 0, len(releases))
	for _, r := range releases {
		artist, album := splitDiscogsTitle(r.Title)
		c := Candidate{
			Source:      discogs.SourceName,
			Artist:      artist,
			Album:       album,
			Year:        r.Year,
			Country:     r.Country,
			ReleaseType: discogsReleaseType(r.Format),
		}
		if r.MasterID > 0 {
			c.MasterID = strconv.Itoa(r.MasterID)
		}
		out = append(out, c)
	}
	return out
}

// discogsReleaseType maps the format descriptor list onto the scorer's
// release types.
func discogsReleaseType(formats []string) string {
	for _, f := range formats {
		switch strings.ToLower(f) {
		case "compilation":
			return "compilation"
		case "ep":
			return "ep"
		case "single":
			return "single"
		}
	}
	for _, f := range formats {
		switch strings.ToLower(f) {
		case "album", "lp":
			return "album"
		}
	}
	return ""
}

// ITunesSource adapts the iTunes Search client.
type ITunesSource struct {
	Client *itunes.Client
}

func (s *ITunesSource) Name() string { return itunes.SourceName }

func (s *ITunesSource) Search(ctx context.Context, artist, album string) ([]Candidate, error) {
	albums, err := s.Client.SearchAlbums(ctx, artist, album)
	if err != nil {
		return nil, err
	}
	return convertITunes(albums), nil
}

func (s *ITunesSource) SearchByTitle(ctx context.Context, album string) ([]Candidate, error) {
	albums, err := s.Client.SearchAlbumsByTitle(ctx, album)
	if err != nil {
		return nil, err
	}
	return convertITunes(albums), nil
}

func convertITunes(albums []itunes.Album) []Candidate {
	out := make([]Candidate, 0, len(albums))
	for _, a := range albums {
		// the result country is the store queried, not the release's
		out = append(out, Candidate{
			Source:      itunes.SourceName,
			Artist:      a.Artist,
			Album:       a.Name,
			Year:        a.Year(),
			ReleaseType: "album",
		})
	}
	return out
}
