// Package pipeline orchestrates a full synchronisation run: scope
// selection, cleaning, artist renames, genres, years, report emission and
// snapshot bookkeeping. It is the only package that initiates runs; the
// CLI just picks which entry point to call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	l "github.com/sirupsen/logrus"

	"tunesync/internal/agent"
	"tunesync/internal/cache"
	"tunesync/internal/cleaning"
	"tunesync/internal/config"
	"tunesync/internal/errs"
	"tunesync/internal/genre"
	"tunesync/internal/pending"
	"tunesync/internal/report"
	"tunesync/internal/runlog"
	"tunesync/internal/snapshot"
	"tunesync/internal/track"
	"tunesync/internal/tracklist"
	"tunesync/internal/verify"
	"tunesync/internal/years"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "pipeline"})

// Run modes recorded in the history ledger.
const (
	ModeIncremental = "incremental"
	ModeForce       = "force"
	ModeFresh       = "fresh"
)

// Deps carries everything a run needs. Tags and Ledger may be nil (no
// Last.fm credentials, history disabled); everything else is required.
type Deps struct {
	Config     *config.Config
	Agent      agent.Client
	Snapshot   *snapshot.Service
	Projection *tracklist.Projection
	Pending    *pending.Store
	AlbumCache *cache.AlbumCache
	Finder     years.Finder
	Tags       genre.TagSource
	Reporter   report.Reporter
	Ledger     *runlog.Ledger
}

// Options selects what one invocation does.
type Options struct {
	Force  bool
	Fresh  bool
	DryRun bool
	Artist string
	Album  string
}

func (o Options) filtered() bool { return o.Artist != "" || o.Album != "" }

// Summary is what a run reports back to the CLI.
type Summary struct {
	RunID           string
	Mode            string
	TracksSeen      int
	TracksProcessed int
	Changes         int
	Errors          int
	ReportPath      string
	Duration        time.Duration
}

// Pipeline executes runs against a fixed set of collaborators.
type Pipeline struct {
	deps Deps
	now  func() time.Time
}

// New returns a pipeline over the given dependencies.
func New(deps Deps) *Pipeline {
	if deps.Reporter == nil {
		deps.Reporter = report.Noop{}
	}
	return &Pipeline{deps: deps, now: time.Now}
}

func (p *Pipeline) reportPath() string {
	path := p.deps.Config.Report.File
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.deps.Config.Paths.CacheDir, path)
}

func (p *Pipeline) lastRunPath() string {
	return filepath.Join(p.deps.Config.Paths.CacheDir, LastRunFile)
}

// Run executes the main pipeline. Steps are strictly sequential; a failing
// sub-step is recovered where possible so the run completes with partial
// success.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Summary, error) {
	started := p.now()
	sum := Summary{RunID: uuid.NewString(), Mode: p.mode(opts)}
	changes := report.NewCollector()
	defer p.flush()

	if last, ok := ReadLastRun(p.lastRunPath(), started); ok {
		log.WithField("last_run", last).Info("starting run")
	} else {
		log.Info("starting run, no previous run recorded")
	}

	// Captured before any fetch: a library write that lands during the
	// scan must not look already-synchronised to the next run.
	libraryMtime := p.deps.Snapshot.LibraryMtime()

	live, scopeIDs, mode, err := p.selectScope(ctx, opts)
	if err != nil {
		return sum, err
	}
	sum.Mode = mode
	sum.TracksSeen = len(live)
	sum.TracksProcessed = len(scopeIDs)

	if mode == ModeIncremental && len(scopeIDs) == 0 {
		log.Info("no library changes detected")
		p.deps.Reporter.Summary([]string{"No library changes detected."})
		p.record(sum, started, changes)
		return sum, nil
	}

	stored, err := p.deps.Projection.Read()
	if err != nil {
		log.WithField("err", err).Warn("could not read track projection")
	}
	tracklist.Hydrate(live, stored)

	cleaner := cleaning.New(p.deps.Agent, changes,
		p.deps.Config.Cleaning.StripSuffixes, p.deps.Config.Renames, opts.DryRun)

	scoped := subset(live, scopeIDs)

	p.deps.Reporter.StartPhase("Cleaning names", len(scoped))
	cleaned := cleaner.CleanTracks(ctx, scoped)
	p.deps.Reporter.Done()

	renamed := 0
	if len(p.deps.Config.Renames) > 0 {
		p.deps.Reporter.StartPhase("Applying artist renames", len(scoped))
		renamed = cleaner.ApplyRenames(ctx, scoped)
		p.deps.Reporter.Done()
	}
	mergeByID(live, scoped)

	genresUpdated := 0
	if p.deps.Config.Genres.Enabled {
		gm := genre.New(p.deps.Agent, changes, p.deps.Tags,
			p.deps.Config.Genres.MinArtistTracks, opts.DryRun)
		p.deps.Reporter.StartPhase("Updating genres", len(live))
		genresUpdated = gm.Process(ctx, live)
		p.deps.Reporter.Done()
	}

	restored := years.RestoreFromReleaseYear(ctx, p.deps.Agent, live,
		p.deps.Config.Years.YearDiffThreshold, changes, opts.DryRun)

	stats := p.yearProcessor(changes, opts.DryRun).Process(ctx, live)

	sum.ReportPath = p.emitReport(changes)
	sum.Changes, sum.Errors = tally(changes)

	p.deps.Reporter.Summary([]string{
		fmt.Sprintf("Tracks seen: %s, in scope: %s",
			humanize.Comma(int64(sum.TracksSeen)), humanize.Comma(int64(sum.TracksProcessed))),
		fmt.Sprintf("Names cleaned: %d, artists renamed: %d, genres updated: %d",
			cleaned, renamed, genresUpdated),
		fmt.Sprintf("Years restored: %d, albums updated: %d, tracks updated: %d",
			restored, stats.AlbumsUpdated, stats.TracksUpdated),
		fmt.Sprintf("Changes: %d, errors: %d", sum.Changes, sum.Errors),
	})

	// A filtered run sees only a slice of the library; syncing the
	// projection or snapshot from it would discard everything else.
	if !opts.DryRun && !opts.filtered() {
		if _, err := p.deps.Projection.Sync(live); err != nil {
			log.WithField("err", err).Error("track projection sync failed")
		}
		if err := p.deps.Snapshot.Save(live, libraryMtime); err != nil {
			log.WithField("err", err).Error("snapshot persist failed")
		}
		if opts.Force || sum.TracksProcessed > 0 {
			if err := WriteLastRun(p.lastRunPath(), p.now()); err != nil {
				log.WithField("err", err).Warn("could not update last-run timestamp")
			}
		}
	}

	sum.Duration = p.now().Sub(started)
	p.record(sum, started, changes)
	return sum, nil
}

func (p *Pipeline) mode(opts Options) string {
	switch {
	case opts.Fresh:
		return ModeFresh
	case opts.Force:
		return ModeForce
	default:
		return ModeIncremental
	}
}

// selectScope decides which tracks this run touches. Incremental runs diff
// against the snapshot; force and fresh runs take everything. A stale
// snapshot demotes an incremental run to the fresh path.
func (p *Pipeline) selectScope(ctx context.Context, opts Options) ([]track.Track, map[string]bool, string, error) {
	if !opts.Force && !opts.Fresh && !opts.filtered() {
		res, err := p.deps.Snapshot.SmartDelta(ctx, false)
		switch {
		case err == nil:
			ids := make(map[string]bool, res.Delta.Total())
			for _, id := range res.Delta.NewIDs {
				ids[id] = true
			}
			for _, id := range res.Delta.UpdatedIDs {
				ids[id] = true
			}
			return res.Live, ids, ModeIncremental, nil
		case isStale(err):
			log.WithField("err", err).Info("snapshot unusable, falling back to a full scan")
		default:
			return nil, nil, ModeIncremental, err
		}
	}

	live, err := p.fetchScope(ctx, opts)
	if err != nil {
		return nil, nil, p.mode(opts), err
	}
	ids := make(map[string]bool, len(live))
	for _, t := range live {
		if t.ID != "" {
			ids[t.ID] = true
		}
	}
	mode := ModeFresh
	if opts.Force {
		mode = ModeForce
	}
	return live, ids, mode, nil
}

func isStale(err error) bool {
	var stale *errs.SnapshotStaleError
	return errors.As(err, &stale) || errs.IsCacheCorruption(err)
}

func (p *Pipeline) yearProcessor(changes *report.Collector, dryRun bool) *years.Processor {
	resolver := years.NewResolver(p.deps.AlbumCache, p.deps.Finder, p.deps.Pending, p.deps.Config.Years)
	classifier := years.NewClassifier(p.deps.Config.SpecialAlbums)
	return years.NewProcessor(resolver, p.deps.Agent, p.deps.Pending, classifier,
		changes, p.deps.Reporter, p.deps.Config.Years.PrereleaseHandling, dryRun)
}

// emitReport writes the change report. Even a zero-change run leaves a
// fresh header-only file behind.
func (p *Pipeline) emitReport(changes *report.Collector) string {
	writer := report.NewCSVWriter(p.reportPath(), p.deps.Config.Report.Timestamped)
	path, err := writer.Write(changes.Entries())
	if err != nil {
		log.WithField("err", err).Error("change report write failed")
		return ""
	}
	return path
}

// record stores the run in the history ledger. Never fails the run.
func (p *Pipeline) record(sum Summary, started time.Time, changes *report.Collector) {
	p.deps.Ledger.Record(runlog.Run{
		ID:              sum.RunID,
		StartedAt:       started,
		FinishedAt:      p.now(),
		Mode:            sum.Mode,
		TracksSeen:      sum.TracksSeen,
		TracksProcessed: sum.TracksProcessed,
		Changes:         sum.Changes,
		Errors:          sum.Errors,
		ChangeCounts:    changes.CountByType(),
	})
}

// flush saves the write-behind stores. Called on every exit path, including
// interrupts, so partial progress survives.
func (p *Pipeline) flush() {
	if err := p.deps.AlbumCache.Save(); err != nil {
		log.WithField("err", err).Warn("album cache save failed")
	}
	if err := p.deps.Pending.Save(); err != nil {
		log.WithField("err", err).Warn("pending store save failed")
	}
}

func tally(changes *report.Collector) (applied, failed int) {
	for t, n := range changes.CountByType() {
		if strings.HasSuffix(t, report.ErrorSuffix) {
			failed += n
		} else {
			applied += n
		}
	}
	return applied, failed
}

func subset(live []track.Track, ids map[string]bool) []track.Track {
	out := make([]track.Track, 0, len(ids))
	for _, t := range live {
		if ids[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// mergeByID copies edited records back into the full set, so later steps
// observe the writes of earlier ones.
func mergeByID(live []track.Track, edited []track.Track) {
	byID := make(map[string]track.Track, len(edited))
	for _, t := range edited {
		byID[t.ID] = t
	}
	for i := range live {
		if t, ok := byID[live[i].ID]; ok {
			live[i] = t
		}
	}
}

// UpdateYears runs only the year pipeline over the selected scope.
func (p *Pipeline) UpdateYears(ctx context.Context, opts Options) (Summary, error) {
	started := p.now()
	sum := Summary{RunID: uuid.NewString(), Mode: "update-years"}
	changes := report.NewCollector()
	defer p.flush()

	live, err := p.fetchScope(ctx, opts)
	if err != nil {
		return sum, err
	}
	sum.TracksSeen = len(live)
	sum.TracksProcessed = len(live)

	stored, err := p.deps.Projection.Read()
	if err != nil {
		log.WithField("err", err).Warn("could not read track projection")
	}
	tracklist.Hydrate(live, stored)

	// Force re-resolves from the live sources even where a cached year
	// exists.
	if opts.Force {
		for id := range track.GroupByAlbum(live) {
			p.deps.AlbumCache.InvalidateAlbum(id.Artist, id.Album)
		}
	}

	restored := years.RestoreFromReleaseYear(ctx, p.deps.Agent, live,
		p.deps.Config.Years.YearDiffThreshold, changes, opts.DryRun)
	stats := p.yearProcessor(changes, opts.DryRun).Process(ctx, live)

	sum.ReportPath = p.emitReport(changes)
	sum.Changes, sum.Errors = tally(changes)
	p.deps.Reporter.Summary([]string{
		fmt.Sprintf("Albums seen: %d, updated: %d, marked: %d",
			stats.AlbumsSeen, stats.AlbumsUpdated, stats.AlbumsMarked),
		fmt.Sprintf("Years restored: %d, tracks updated: %d", restored, stats.TracksUpdated),
	})

	sum.Duration = p.now().Sub(started)
	p.record(sum, started, changes)
	return sum, nil
}

// RevertYears writes year_before_mgu back through the agent for matching
// tracks that carry one.
func (p *Pipeline) RevertYears(ctx context.Context, opts Options) (Summary, error) {
	started := p.now()
	sum := Summary{RunID: uuid.NewString(), Mode: "revert-years"}
	changes := report.NewCollector()
	defer p.flush()

	live, err := p.fetchScope(ctx, opts)
	if err != nil {
		return sum, err
	}
	sum.TracksSeen = len(live)

	stored, err := p.deps.Projection.Read()
	if err != nil {
		log.WithField("err", err).Warn("could not read track projection")
	}
	tracklist.Hydrate(live, stored)

	reverted := 0
	for i := range live {
		t := &live[i]
		if err := ctx.Err(); err != nil {
			break
		}
		if t.YearBeforeMGU == "" || t.YearBeforeMGU == t.Year || !t.Editable() {
			continue
		}
		entry := report.ChangeLogEntry{
			ChangeType: report.ChangeYearUpdate,
			TrackID:    t.ID,
			Artist:     t.Artist,
			AlbumName:  t.Album,
			TrackName:  t.Name,
			OldValue:   t.Year,
			NewValue:   t.YearBeforeMGU,
			Field:      "year",
		}
		if !opts.DryRun {
			if err := p.deps.Agent.UpdateProperty(ctx, t.ID, "year", t.YearBeforeMGU); err != nil {
				log.WithFields(l.Fields{"id": t.ID, "err": err}).Warn("year revert failed")
				changes.AddError(entry)
				continue
			}
		}
		t.Year = t.YearBeforeMGU
		t.YearSetByMGU = ""
		changes.Add(entry)
		reverted++
	}
	sum.TracksProcessed = reverted

	sum.ReportPath = p.emitReport(changes)
	sum.Changes, sum.Errors = tally(changes)
	p.deps.Reporter.Summary([]string{fmt.Sprintf("Years reverted: %d", reverted)})

	sum.Duration = p.now().Sub(started)
	p.record(sum, started, changes)
	return sum, nil
}

// CleanArtist runs the cleaning and rename steps for one artist.
func (p *Pipeline) CleanArtist(ctx context.Context, opts Options) (Summary, error) {
	started := p.now()
	sum := Summary{RunID: uuid.NewString(), Mode: "clean-artist"}
	changes := report.NewCollector()

	live, err := p.fetchScope(ctx, opts)
	if err != nil {
		return sum, err
	}
	sum.TracksSeen = len(live)
	sum.TracksProcessed = len(live)

	cleaner := cleaning.New(p.deps.Agent, changes,
		p.deps.Config.Cleaning.StripSuffixes, p.deps.Config.Renames, opts.DryRun)
	cleaned := cleaner.CleanTracks(ctx, live)
	renamed := cleaner.ApplyRenames(ctx, live)

	sum.ReportPath = p.emitReport(changes)
	sum.Changes, sum.Errors = tally(changes)
	p.deps.Reporter.Summary([]string{
		fmt.Sprintf("Names cleaned: %d, artists renamed: %d", cleaned, renamed),
	})

	sum.Duration = p.now().Sub(started)
	p.record(sum, started, changes)
	return sum, nil
}

// VerifyDB runs the existence verification over the CSV projection.
func (p *Pipeline) VerifyDB(ctx context.Context, force bool) (verify.Result, error) {
	started := p.now()
	v := verify.New(p.deps.Agent, p.deps.Projection, p.deps.Config.Verify)
	res, err := v.Run(ctx, force)
	if err != nil {
		return res, err
	}
	if res.Skipped {
		p.deps.Reporter.Summary([]string{"Verification interval not yet elapsed, skipped."})
		return res, nil
	}
	p.deps.Reporter.Summary([]string{
		fmt.Sprintf("Tracks checked: %d, removed: %d, probe errors: %d",
			res.Checked, res.Removed, res.Errors),
	})
	p.deps.Ledger.Record(runlog.Run{
		ID:              uuid.NewString(),
		StartedAt:       started,
		FinishedAt:      p.now(),
		Mode:            "verify-db",
		TracksSeen:      res.Checked,
		TracksProcessed: res.Checked,
		Changes:         res.Removed,
		Errors:          res.Errors,
		ChangeCounts:    map[string]int{"track_removed": res.Removed},
	})
	return res, nil
}

// VerifyPending re-resolves every due pending-verification entry by
// running the year pipeline over each entry's album. With Force set, every
// entry is due.
func (p *Pipeline) VerifyPending(ctx context.Context, opts Options) (Summary, error) {
	started := p.now()
	sum := Summary{RunID: uuid.NewString(), Mode: "verify-pending"}
	changes := report.NewCollector()
	defer p.flush()

	due := p.deps.Pending.DueEntries()
	if opts.Force {
		due = p.deps.Pending.AllPending()
	}
	if len(due) == 0 {
		p.deps.Reporter.Summary([]string{"No pending entries due for re-check."})
		return sum, nil
	}

	// One fetch per artist, shared across that artist's due albums.
	byArtist := make(map[string][]pending.Entry)
	for _, e := range due {
		byArtist[e.Artist] = append(byArtist[e.Artist], e)
	}

	proc := p.yearProcessor(changes, opts.DryRun)
	stored, err := p.deps.Projection.Read()
	if err != nil {
		log.WithField("err", err).Warn("could not read track projection")
	}

	for artist, entries := range byArtist {
		if err := ctx.Err(); err != nil {
			break
		}
		live, err := agent.FetchAll(ctx, p.deps.Agent, artist, p.deps.Config.Library.BatchSize)
		if err != nil {
			log.WithFields(l.Fields{"artist": artist, "err": err}).Warn("fetch failed, entries stay pending")
			continue
		}
		tracklist.Hydrate(live, stored)
		sum.TracksSeen += len(live)

		for _, e := range entries {
			group := albumSubset(live, e.Album)
			if len(group) == 0 {
				log.WithFields(l.Fields{"artist": e.Artist, "album": e.Album}).
					Info("pending album no longer in library, dropping entry")
				if _, err := p.deps.Pending.Remove(e.Artist, e.Album); err != nil {
					log.WithField("err", err).Warn("could not drop pending entry")
				}
				continue
			}
			sum.TracksProcessed += len(group)
			proc.Process(ctx, group)
		}
	}

	sum.ReportPath = p.emitReport(changes)
	sum.Changes, sum.Errors = tally(changes)
	p.deps.Reporter.Summary([]string{
		fmt.Sprintf("Pending entries due: %d, still pending: %d", len(due), p.deps.Pending.Len()),
		fmt.Sprintf("Changes: %d, errors: %d", sum.Changes, sum.Errors),
	})

	sum.Duration = p.now().Sub(started)
	p.record(sum, started, changes)
	return sum, nil
}

// fetchScope fetches tracks honouring the artist and album filters.
func (p *Pipeline) fetchScope(ctx context.Context, opts Options) ([]track.Track, error) {
	live, err := agent.FetchAll(ctx, p.deps.Agent, opts.Artist, p.deps.Config.Library.BatchSize)
	if err != nil {
		return nil, err
	}
	if opts.Album != "" {
		live = albumSubset(live, opts.Album)
	}
	return live, nil
}

func albumSubset(live []track.Track, album string) []track.Track {
	var out []track.Track
	for _, t := range live {
		if strings.EqualFold(strings.TrimSpace(t.Album), strings.TrimSpace(album)) {
			out = append(out, t)
		}
	}
	return out
}
