package years

import (
	"context"
	"strconv"
	"time"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/cache"
	"tunesync/internal/config"
	"tunesync/internal/pending"
	"tunesync/internal/sources"
	"tunesync/internal/track"
)

// Finder is the slice of the external-API orchestrator the resolver needs.
type Finder interface {
	FindYear(ctx context.Context, q sources.Query) (*sources.Result, string, error)
}

// Resolution is the outcome of resolving one album.
type Resolution struct {
	// Year is the resolved year, empty when resolution was deferred.
	Year       string
	Confidence int
	// Origin names where the year came from: "library", "cache",
	// "consensus" or a source name.
	Origin string
	// PendingReason, when non-empty, is why the album was marked for
	// verification instead of (or in addition to) being resolved.
	PendingReason string
}

// Resolver answers "what year is this album" from local evidence first and
// the external sources last.
type Resolver struct {
	albumCache *cache.AlbumCache
	finder     Finder
	pending    *pending.Store
	cfg        config.YearsConfig

	now func() time.Time
}

// NewResolver wires the resolver.
func NewResolver(albumCache *cache.AlbumCache, finder Finder, pendingStore *pending.Store, cfg config.YearsConfig) *Resolver {
	return &Resolver{
		albumCache: albumCache,
		finder:     finder,
		pending:    pendingStore,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Resolve works through the evidence ladder for one album:
// dominant library year, trusted cache entry, release_year consensus, then
// the API fan-out with the fallback checks. A deferred album is marked in
// the pending store before Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, artist, album string, tracks []track.Track) (Resolution, error) {
	slog := log.WithFields(l.Fields{"artist": artist, "album": album})

	dominant := track.DominantYear(tracks)
	suspicious := r.suspicious(tracks, dominant)
	if dominant != "" && !suspicious {
		return Resolution{Year: dominant, Confidence: 100, Origin: "library"}, nil
	}

	if entry, ok := r.albumCache.AlbumYearEntry(artist, album); ok && entry.Confidence >= r.cfg.TrustThreshold {
		slog.WithField("year", entry.Year).Debug("trusted cache hit")
		return Resolution{Year: entry.Year, Confidence: entry.Confidence, Origin: "cache"}, nil
	}

	if consensus := track.ConsensusReleaseYear(tracks); consensus != "" {
		if err := r.albumCache.StoreAlbumYear(artist, album, consensus, r.cfg.ConsensusConfidence); err != nil {
			slog.WithField("err", err).Warn("could not cache consensus year")
		}
		return Resolution{Year: consensus, Confidence: r.cfg.ConsensusConfidence, Origin: "consensus"}, nil
	}

	q := sources.Query{
		Artist:                 artist,
		Album:                  album,
		CurrentLibraryYear:     commonLibraryYear(tracks),
		EarliestTrackAddedYear: track.EarliestAddedYear(tracks),
	}
	result, reason, err := r.finder.FindYear(ctx, q)
	if err != nil {
		r.mark(artist, album, pending.ReasonAPIError, map[string]string{"error": err.Error()})
		return Resolution{PendingReason: pending.ReasonAPIError}, err
	}
	if result == nil {
		r.mark(artist, album, reason, nil)
		return Resolution{PendingReason: reason}, nil
	}

	if rejectReason, meta := r.reject(result, tracks, suspicious); rejectReason != "" {
		slog.WithFields(l.Fields{"year": result.Year, "why": meta["why"]}).
			Info("api year rejected, deferring")
		r.mark(artist, album, rejectReason, meta)
		return Resolution{PendingReason: rejectReason}, nil
	}

	if err := r.albumCache.StoreAlbumYear(artist, album, result.Year, result.Score); err != nil {
		slog.WithField("err", err).Warn("could not cache resolved year")
	}
	return Resolution{Year: result.Year, Confidence: result.Score, Origin: result.Source}, nil
}

// reject applies the fallback checks to an API result: absurd years, years
// outside the artist's known activity window, and scores under the trust
// threshold all defer the album instead of writing a doubtful value. The
// window check is skipped for suspicious albums, whose year fields are the
// very thing in doubt.
func (r *Resolver) reject(result *sources.Result, tracks []track.Track, suspicious bool) (string, map[string]string) {
	year := track.YearOf(result.Year)
	if year == 0 {
		return pending.ReasonNoYearFound, map[string]string{"why": "unparseable year"}
	}
	if year < r.cfg.AbsurdYearThreshold {
		return pending.ReasonLowConfidence, map[string]string{
			"why":  "absurd year",
			"year": result.Year,
		}
	}
	if lo, hi, ok := activityWindow(tracks); ok && !suspicious {
		if year < lo-r.cfg.YearDiffThreshold || year > hi+r.cfg.YearDiffThreshold {
			return pending.ReasonLowConfidence, map[string]string{
				"why":    "outside activity window",
				"year":   result.Year,
				"window": strconv.Itoa(lo) + "-" + strconv.Itoa(hi),
			}
		}
	}
	if result.Score < r.cfg.TrustAPIScoreThresh {
		return pending.ReasonLowConfidence, map[string]string{
			"why":   "score below trust threshold",
			"score": strconv.Itoa(result.Score),
		}
	}
	return "", nil
}

// suspicious reports whether the library's own year for this album looks
// contaminated and must not be taken at face value: the dominant year is
// the running calendar year on tracks added in earlier years, or too many
// tracks claim future years.
func (r *Resolver) suspicious(tracks []track.Track, dominant string) bool {
	currentYear := r.now().UTC().Year()
	if track.YearOf(dominant) == currentYear {
		if earliest := track.EarliestAddedYear(tracks); earliest > 0 && earliest < currentYear {
			return true
		}
	}
	future, withYear := track.FutureYearCount(tracks, currentYear)
	if future >= r.cfg.FutureCountThreshold {
		return true
	}
	return withYear > 0 && float64(future)/float64(withYear) >= r.cfg.FutureRatioThreshold
}

func (r *Resolver) mark(artist, album, reason string, metadata map[string]string) {
	if r.pending == nil {
		return
	}
	if err := r.pending.MarkForVerification(artist, album, reason, metadata, 0); err != nil {
		log.WithFields(l.Fields{"artist": artist, "album": album, "err": err}).
			Warn("could not mark album for verification")
	}
}

// commonLibraryYear returns the most frequent library year across the
// tracks, majority or not. Used only as a scoring hint.
func commonLibraryYear(tracks []track.Track) int {
	counts := make(map[int]int)
	best, bestN := 0, 0
	for i := range tracks {
		y := track.YearOf(tracks[i].Year)
		if y == 0 {
			continue
		}
		counts[y]++
		if counts[y] > bestN || (counts[y] == bestN && y < best) {
			best, bestN = y, counts[y]
		}
	}
	return best
}

// activityWindow derives the artist's known activity period from every year
// the tracks already carry, in either year field. ok is false when the
// tracks carry no years at all.
func activityWindow(tracks []track.Track) (lo, hi int, ok bool) {
	for i := range tracks {
		for _, v := range []string{tracks[i].Year, tracks[i].ReleaseYear} {
			y := track.YearOf(v)
			if y == 0 {
				continue
			}
			if !ok || y < lo {
				lo = y
			}
			if !ok || y > hi {
				hi = y
			}
			ok = true
		}
	}
	return lo, hi, ok
}
