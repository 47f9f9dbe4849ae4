package sources

import (
	"sort"
	"strings"

	"tunesync/internal/config"
)

// majorMarkets are the countries granted the smaller country bonus when the
// artist's own country is unknown or different.
var majorMarkets = map[string]bool{
	"US": true, "GB": true, "UK": true, "DE": true,
	"FR": true, "JP": true, "CA": true, "AU": true,
}

// Scorer ranks candidates against a query using the configured weight
// table. Reissue markers double as a title penalty list.
type Scorer struct {
	weights config.ScoringConfig
	reissue []string
}

// NewScorer builds a scorer from the configured weights and reissue
// markers.
func NewScorer(weights config.ScoringConfig, reissueMarkers []string) *Scorer {
	markers := make([]string, 0, len(reissueMarkers))
	for _, m := range reissueMarkers {
		markers = append(markers, normalize(m))
	}
	return &Scorer{weights: weights, reissue: markers}
}

// Score computes the integer score of one candidate. Positive weights are
// bonuses, negative weights penalties.
func (s *Scorer) Score(c Candidate, q Query) int {
	w := s.weights
	score := 0

	artistExact := normalize(c.Artist) == normalize(q.Artist)
	albumExact := normalize(c.Album) == normalize(q.Album)

	if artistExact {
		score += w.ArtistExactMatch
	}
	switch {
	case albumExact:
		score += w.AlbumExactMatch
	case albumRelated(c.Album, q.Album):
		score += w.AlbumSubstring
	default:
		score += w.AlbumUnrelated
	}
	if artistExact && albumExact {
		score += w.PerfectMatchBonus
	}

	if c.ReleaseGroupID != "" {
		score += w.ReleaseGroupMatch
	}

	switch normalize(c.ReleaseType) {
	case "album":
		score += w.TypeAlbum
	case "ep":
		score += w.TypeEP
	case "single":
		score += w.TypeSingle
	case "compilation":
		score += w.TypeCompilation
	case "live":
		score += w.TypeLive
	}

	switch normalize(c.Status) {
	case "official":
		score += w.StatusOfficial
	case "promotion", "promo":
		score += w.StatusPromo
	case "bootleg":
		score += w.StatusBootleg
	}

	if s.looksReissue(c.Album) {
		score += w.ReissuePenalty
	}

	country := strings.ToUpper(strings.TrimSpace(c.Country))
	switch {
	case country == "":
	case country == strings.ToUpper(strings.TrimSpace(q.ArtistCountry)) && q.ArtistCountry != "":
		score += w.CountryArtistMatch
	case majorMarkets[country]:
		score += w.CountryMajorMarket
	}

	switch c.Source {
	case "musicbrainz":
		score += w.SourceMusicBrainz
	case "discogs":
		score += w.SourceDiscogs
	case "itunes":
		score += w.SourceITunes
	}

	if q.CurrentLibraryYear > 0 && c.Year > 0 {
		diff := c.Year - q.CurrentLibraryYear
		if diff < 0 {
			diff = -diff
		}
		penalty := w.YearDiffPenalty * diff * diff
		if penalty > w.YearDiffPenaltyCap {
			penalty = w.YearDiffPenaltyCap
		}
		score -= penalty
	}

	return score
}

// scored pairs a candidate with its score for ranking.
type scored struct {
	Candidate
	score int
}

// Rank scores all candidates with a usable year and orders them best
// first. Ties go to the lower year, since the original release is wanted.
func (s *Scorer) Rank(candidates []Candidate, q Query) []scored {
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.Year <= 0 {
			continue
		}
		ranked = append(ranked, scored{Candidate: c, score: s.Score(c, q)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].Year < ranked[j].Year
	})
	return ranked
}

// Definitive applies the two-part rule: the winner clears the absolute
// threshold and leads the runner-up by the configured margin.
func (s *Scorer) Definitive(ranked []scored) bool {
	if len(ranked) == 0 {
		return false
	}
	if ranked[0].score < s.weights.DefinitiveScoreThresh {
		return false
	}
	if len(ranked) == 1 {
		return true
	}
	return ranked[0].score-ranked[1].score >= s.weights.DefinitiveScoreDiff
}

func (s *Scorer) looksReissue(album string) bool {
	n := normalize(album)
	for _, marker := range s.reissue {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return false
}

// albumRelated reports whether one title contains the other without being
// an exact match.
func albumRelated(candidate, wanted string) bool {
	c, w := normalize(candidate), normalize(wanted)
	if c == "" || w == "" {
		return false
	}
	return strings.Contains(c, w) || strings.Contains(w, c)
}
