package track

import "sort"

// DominantYear returns the year value a strict majority of the tracks carry,
// or empty when no majority exists. Only non-empty years vote, but the
// majority is over the whole set.
func DominantYear(tracks []Track) string {
	return majorityValue(tracks, func(t *Track) string { return t.Year })
}

// ConsensusReleaseYear returns the release_year a strict majority of the
// tracks agree on, or empty. Agreement across existing metadata is treated
// as high-confidence evidence by the resolver.
func ConsensusReleaseYear(tracks []Track) string {
	return majorityValue(tracks, func(t *Track) string { return t.ReleaseYear })
}

func majorityValue(tracks []Track, field func(*Track) string) string {
	if len(tracks) == 0 {
		return ""
	}
	counts := make(map[string]int)
	for i := range tracks {
		if v := field(&tracks[i]); v != "" {
			counts[v]++
		}
	}
	for v, n := range counts {
		if n*2 > len(tracks) {
			return v
		}
	}
	return ""
}

// EarliestAddedYear returns the smallest year found among the tracks'
// date_added fields, or 0 when none parses.
func EarliestAddedYear(tracks []Track) int {
	earliest := 0
	for i := range tracks {
		ts, ok := ParseTimestamp(tracks[i].DateAdded)
		if !ok {
			continue
		}
		if year := ts.Year(); earliest == 0 || year < earliest {
			earliest = year
		}
	}
	return earliest
}

// FutureYearCount returns how many tracks carry a year strictly beyond
// the given calendar year, and how many carry any year at all.
func FutureYearCount(tracks []Track, currentYear int) (future, withYear int) {
	for i := range tracks {
		year := YearOf(tracks[i].Year)
		if year == 0 {
			continue
		}
		withYear++
		if year > currentYear {
			future++
		}
	}
	return future, withYear
}

// SortedAlbumIDs returns the group keys in deterministic order.
func SortedAlbumIDs(groups map[AlbumID][]Track) []AlbumID {
	ids := make([]AlbumID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Artist != ids[j].Artist {
			return ids[i].Artist < ids[j].Artist
		}
		return ids[i].Album < ids[j].Album
	})
	return ids
}
