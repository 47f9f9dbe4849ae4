package genre

import (
	"fmt"

	"github.com/shkh/lastfm-go/lastfm"
)

// LastfmSource answers artist tag lookups through the Last.fm API.
type LastfmSource struct {
	api *lastfm.Api
}

// NewLastfmSource returns a tag source for the given API credentials.
func NewLastfmSource(apiKey, sharedSecret string) *LastfmSource {
	return &LastfmSource{api: lastfm.New(apiKey, sharedSecret)}
}

// TopTag returns the artist's most popular tag, or empty when Last.fm has
// none.
func (s *LastfmSource) TopTag(artist string) (string, error) {
	result, err := s.api.Artist.GetTopTags(lastfm.P{"artist": artist})
	if err != nil {
		return "", fmt.Errorf("artist.getTopTags: %w", err)
	}
	if len(result.Tags) == 0 {
		return "", nil
	}
	return result.Tags[0].Name, nil
}
