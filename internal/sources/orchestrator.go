package sources

import (
	"context"
	"strconv"
	"strings"
	"time"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/cache"
	"tunesync/internal/errs"
	"tunesync/internal/keys"
	"tunesync/internal/pending"
	"tunesync/internal/ratelimit"
)

// Orchestrator resolves album-year queries across the enabled sources in
// preferred order. Every live call goes through the source's rate limiter;
// outcomes land in the API cache, raw candidate lists in the search memo.
type Orchestrator struct {
	sources    []Source
	limiters   map[string]*ratelimit.Limiter
	apiCache   *cache.APICache
	searchMemo *cache.Store[[]Candidate]
	scorer     *Scorer

	// specialTitles are the patterns that allow the relaxed title-only
	// fallback search (soundtracks, various-artists compilations, ...).
	specialTitles []string

	now func() time.Time
}

// NewOrchestrator wires the orchestrator. sources must already be in
// preferred order and de-duplicated; limiters is keyed by source name.
func NewOrchestrator(
	srcs []Source,
	limiters map[string]*ratelimit.Limiter,
	apiCache *cache.APICache,
	searchMemo *cache.Store[[]Candidate],
	scorer *Scorer,
	specialTitles []string,
) *Orchestrator {
	return &Orchestrator{
		sources:       srcs,
		limiters:      limiters,
		apiCache:      apiCache,
		searchMemo:    searchMemo,
		scorer:        scorer,
		specialTitles: specialTitles,
		now:           time.Now,
	}
}

// FindYear fans the query out. A nil result with an empty reason means no
// source had anything; a non-empty reason is the pending-verification token
// explaining the miss. Per-source failures never fail the query.
func (o *Orchestrator) FindYear(ctx context.Context, q Query) (*Result, string, error) {
	var (
		best         *Result
		contaminated bool
		sawError     bool
	)

	for _, src := range o.sources {
		result, outcome := o.queryOne(ctx, src, q)
		switch outcome {
		case outcomeContaminated:
			contaminated = true
		case outcomeError:
			sawError = true
		}
		if result == nil {
			continue
		}
		if result.Definitive {
			return result, "", nil
		}
		if best == nil || result.Score > best.Score {
			best = result
		}
	}

	if best != nil {
		return best, "", nil
	}
	switch {
	case contaminated:
		return nil, pending.ReasonContamination, nil
	case sawError:
		return nil, pending.ReasonAPIError, nil
	default:
		return nil, pending.ReasonNoYearFound, nil
	}
}

type sourceOutcome int

const (
	outcomeOK sourceOutcome = iota
	outcomeError
	outcomeContaminated
)

func (o *Orchestrator) queryOne(ctx context.Context, src Source, q Query) (*Result, sourceOutcome) {
	name := src.Name()
	slog := log.WithFields(l.Fields{"source": name, "artist": q.Artist, "album": q.Album})

	if cached, ok := o.apiCache.Get(q.Artist, q.Album, name); ok {
		if cached.IsNegative() {
			slog.Debug("cached negative")
			return nil, outcomeOK
		}
		result := &Result{
			Year:       cached.Year,
			Score:      cached.Metadata.Score,
			Definitive: cached.Metadata.Definitive,
			Source:     name,
		}
		if o.isContaminated(result.Year, q) {
			slog.Warn("cached year fails contamination guard")
			return nil, outcomeContaminated
		}
		return result, outcomeOK
	}

	candidates, err := o.search(ctx, src, q)
	if err != nil {
		switch {
		case errs.IsQuota(err):
			slog.Warn("source quota exhausted")
		case errs.IsMalformed(err):
			slog.WithField("err", err).Warn("malformed response")
		default:
			slog.WithField("err", err).Warn("source failed")
		}
		return nil, outcomeError
	}

	ranked := o.scorer.Rank(candidates, q)
	if len(ranked) == 0 {
		o.apiCache.StoreNegative(q.Artist, q.Album, name, pending.ReasonNoYearFound)
		return nil, outcomeOK
	}

	winner := ranked[0]
	if o.isContaminated(strconv.Itoa(winner.Year), q) {
		slog.WithField("year", winner.Year).Warn("top candidate rejected as contamination")
		return nil, outcomeContaminated
	}

	definitive := o.scorer.Definitive(ranked)
	year := strconv.Itoa(winner.Year)
	o.apiCache.StoreResult(q.Artist, q.Album, name, year, cache.ResultMetadata{
		Score:      winner.score,
		Definitive: definitive,
	})
	return &Result{Year: year, Score: winner.score, Definitive: definitive, Source: name}, outcomeOK
}

// search runs the primary query, memoised, falling back to a title-only
// search for special album names. The fallback never runs when the primary
// query produced candidates.
func (o *Orchestrator) search(ctx context.Context, src Source, q Query) ([]Candidate, error) {
	name := src.Name()

	memoKey := keys.APIKey(name, q.Artist, q.Album) + ":search"
	if candidates, ok := o.searchMemo.Get(memoKey); ok {
		return candidates, nil
	}

	candidates, err := o.limited(ctx, name, func() ([]Candidate, error) {
		return src.Search(ctx, q.Artist, q.Album)
	})
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 && o.titleAllowsFallback(q.Album) {
		log.WithFields(l.Fields{"source": name, "album": q.Album}).
			Debug("primary search empty, trying title-only fallback")
		candidates, err = o.limited(ctx, name, func() ([]Candidate, error) {
			return src.SearchByTitle(ctx, q.Album)
		})
		if err != nil {
			return nil, err
		}
	}

	o.searchMemo.Set(memoKey, candidates)
	return candidates, nil
}

func (o *Orchestrator) limited(ctx context.Context, name string, call func() ([]Candidate, error)) ([]Candidate, error) {
	if limiter := o.limiters[name]; limiter != nil {
		if _, err := limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer limiter.Release()
	}
	return call()
}

// isContaminated applies the current-year guard: a candidate year equal to
// the running calendar year is rejected when the album's tracks were added
// in earlier years, because that pattern matches the sync glitch that
// rewrites library years to "today".
func (o *Orchestrator) isContaminated(year string, q Query) bool {
	if q.EarliestTrackAddedYear <= 0 {
		return false
	}
	currentYear := o.now().UTC().Year()
	y, err := strconv.Atoi(year)
	if err != nil {
		return false
	}
	return y == currentYear && q.EarliestTrackAddedYear < currentYear
}

// titleAllowsFallback reports whether the album name matches a pattern that
// justifies the relaxed search: a configured special title or unusual
// bracketed content.
func (o *Orchestrator) titleAllowsFallback(album string) bool {
	n := normalize(album)
	for _, p := range o.specialTitles {
		if strings.Contains(n, normalize(p)) {
			return true
		}
	}
	return strings.ContainsAny(album, "([")
}
