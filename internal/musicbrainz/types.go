// Package musicbrainz provides the release-year search client for the
// MusicBrainz API.
package musicbrainz

// Release is one search candidate.
type Release struct {
	ID             string
	Title          string
	Artist         string
	Date           string // YYYY or YYYY-MM-DD
	Country        string
	Status         string // Official, Promotion, Bootleg
	ReleaseType    string // release-group primary type
	ReleaseGroupID string
	Disambiguation string
	SearchScore    int // MusicBrainz search relevance, 0-100
}

// Year returns the release year, or 0 when the date is absent.
func (r Release) Year() int {
	if len(r.Date) < 4 {
		return 0
	}
	year := 0
	for _, c := range r.Date[:4] {
		if c < '0' || c > '9' {
			return 0
		}
		year = year*10 + int(c-'0')
	}
	return year
}

// searchResponse is the raw release search payload.
type searchResponse struct {
	Releases []releaseResult `json:"releases"`
}

type releaseResult struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Score          int            `json:"score"`
	Date           string         `json:"date"`
	Country        string         `json:"country"`
	Status         string         `json:"status"`
	Disambiguation string         `json:"disambiguation"`
	ArtistCredit   []artistCredit `json:"artist-credit"`
	ReleaseGroup   *releaseGroup  `json:"release-group"`
}

type artistCredit struct {
	Name   string `json:"name"`
	Artist struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
	JoinPhrase string `json:"joinphrase"`
}

type releaseGroup struct {
	ID          string `json:"id"`
	PrimaryType string `json:"primary-type"`
}
