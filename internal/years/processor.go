package years

import (
	"context"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/agent"
	"tunesync/internal/pending"
	"tunesync/internal/report"
	"tunesync/internal/track"
)

// Prerelease policies for albums mixing prerelease and editable tracks.
const (
	PrereleaseProcessEditable = "process_editable"
	PrereleaseSkipAll         = "skip_all"
	PrereleaseMarkOnly        = "mark_only"
)

// Stats summarises one processor pass.
type Stats struct {
	AlbumsSeen    int
	AlbumsUpdated int
	TracksUpdated int
	AlbumsMarked  int
	Errors        int
}

// Processor is the batch year pipeline: it groups tracks by album, resolves
// each group's year and writes it through the agent.
type Processor struct {
	resolver   *Resolver
	agent      agent.Client
	pending    *pending.Store
	classifier *Classifier
	changes    *report.Collector
	reporter   report.Reporter

	prereleaseHandling string
	dryRun             bool
}

// NewProcessor wires the processor. An unknown prerelease policy logs a
// warning and falls back to process_editable.
func NewProcessor(
	resolver *Resolver,
	client agent.Client,
	pendingStore *pending.Store,
	classifier *Classifier,
	changes *report.Collector,
	reporter report.Reporter,
	prereleaseHandling string,
	dryRun bool,
) *Processor {
	switch prereleaseHandling {
	case PrereleaseProcessEditable, PrereleaseSkipAll, PrereleaseMarkOnly:
	default:
		log.WithField("value", prereleaseHandling).
			Warn("unknown prerelease_handling, using process_editable")
		prereleaseHandling = PrereleaseProcessEditable
	}
	return &Processor{
		resolver:           resolver,
		agent:              client,
		pending:            pendingStore,
		classifier:         classifier,
		changes:            changes,
		reporter:           reporter,
		prereleaseHandling: prereleaseHandling,
		dryRun:             dryRun,
	}
}

// Process runs the year pipeline over the given tracks. Writes land back in
// the slice so later pipeline steps observe the new years. One bad album
// never aborts the batch.
func (p *Processor) Process(ctx context.Context, tracks []track.Track) Stats {
	byID := make(map[string]*track.Track, len(tracks))
	for i := range tracks {
		if tracks[i].ID != "" {
			byID[tracks[i].ID] = &tracks[i]
		}
	}

	groups := track.GroupByAlbum(tracks)
	ids := track.SortedAlbumIDs(groups)

	p.reporter.StartPhase("Resolving album years", len(ids))
	defer p.reporter.Done()

	var stats Stats
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			log.Warn("year pass interrupted")
			return stats
		}
		stats.AlbumsSeen++
		p.processAlbum(ctx, id, groups[id], byID, &stats)
		p.reporter.Advance(1)
	}
	return stats
}

func (p *Processor) processAlbum(ctx context.Context, id track.AlbumID, group []track.Track, byID map[string]*track.Track, stats *Stats) {
	slog := log.WithFields(l.Fields{"artist": id.Artist, "album": id.Album})

	albumType := p.classifier.Classify(id.Album)
	if albumType.Action() == ActionMarkAndSkip {
		slog.WithField("type", albumType.String()).Debug("special album, deferring")
		p.mark(id, pending.ReasonSpecialAlbum, map[string]string{"type": albumType.String()})
		stats.AlbumsMarked++
		return
	}

	editable, prerelease := track.SplitEditable(group)
	if len(editable) == 0 {
		p.mark(id, pending.ReasonPrerelease, nil)
		stats.AlbumsMarked++
		return
	}
	mixed := len(prerelease) > 0
	if mixed {
		switch p.prereleaseHandling {
		case PrereleaseSkipAll:
			return
		case PrereleaseMarkOnly:
			p.mark(id, pending.ReasonMixedAlbum, nil)
			stats.AlbumsMarked++
			return
		}
	}

	resolution, err := p.resolver.Resolve(ctx, id.Artist, id.Album, group)
	if err != nil {
		slog.WithField("err", err).Warn("resolution failed")
		stats.Errors++
		return
	}
	if resolution.Year == "" {
		// Resolver already marked the album.
		stats.AlbumsMarked++
		return
	}

	marked := false
	if mixed && p.prereleaseHandling == PrereleaseProcessEditable {
		p.mark(id, pending.ReasonMixedAlbum, nil)
		stats.AlbumsMarked++
		marked = true
	}
	if albumType.Action() == ActionMarkAndUpdate {
		p.mark(id, pending.ReasonReissue, map[string]string{"year": resolution.Year})
		stats.AlbumsMarked++
		marked = true
	}

	written := p.applyYear(ctx, id, editable, resolution, byID, stats)

	// A clean full resolution clears any old deferral so resolved albums
	// stop cycling through verification.
	if written >= 0 && !marked && p.pending != nil {
		if _, err := p.pending.Remove(id.Artist, id.Album); err != nil {
			slog.WithField("err", err).Warn("could not clear pending entry")
		}
	}
}

// applyYear bulk-writes the resolved year to the editable tracks that do
// not already carry it. Returns the number written, or -1 on write failure.
func (p *Processor) applyYear(ctx context.Context, id track.AlbumID, editable []track.Track, res Resolution, byID map[string]*track.Track, stats *Stats) int {
	var targets []string
	for i := range editable {
		if editable[i].Year != res.Year {
			targets = append(targets, editable[i].ID)
		}
	}
	if len(targets) == 0 {
		return 0
	}

	if !p.dryRun {
		if err := p.agent.BulkUpdateYear(ctx, targets, res.Year); err != nil {
			log.WithFields(l.Fields{"artist": id.Artist, "album": id.Album, "err": err}).
				Warn("bulk year write failed")
			stats.Errors++
			for _, tid := range targets {
				p.changes.AddError(report.ChangeLogEntry{
					ChangeType: report.ChangeYearUpdate,
					TrackID:    tid,
					Artist:     id.Artist,
					AlbumName:  id.Album,
					NewValue:   res.Year,
					Field:      "year",
				})
			}
			return -1
		}
	}

	for _, tid := range targets {
		t := byID[tid]
		if t == nil {
			continue
		}
		old := t.Year
		// year_before_mgu keeps the original value for rollback; only the
		// first write may set it.
		if t.YearBeforeMGU == "" {
			t.YearBeforeMGU = old
		}
		t.Year = res.Year
		t.YearSetByMGU = res.Year

		p.changes.Add(report.ChangeLogEntry{
			ChangeType: report.ChangeYearUpdate,
			TrackID:    tid,
			Artist:     id.Artist,
			AlbumName:  id.Album,
			TrackName:  t.Name,
			OldValue:   old,
			NewValue:   res.Year,
			Field:      "year",
		})
	}

	log.WithFields(l.Fields{
		"artist": id.Artist,
		"album":  id.Album,
		"year":   res.Year,
		"origin": res.Origin,
		"tracks": len(targets),
	}).Info("album year updated")
	stats.AlbumsUpdated++
	stats.TracksUpdated += len(targets)
	return len(targets)
}

func (p *Processor) mark(id track.AlbumID, reason string, metadata map[string]string) {
	if p.pending == nil {
		return
	}
	if err := p.pending.MarkForVerification(id.Artist, id.Album, reason, metadata, 0); err != nil {
		log.WithFields(l.Fields{"artist": id.Artist, "album": id.Album, "err": err}).
			Warn("could not mark album for verification")
	}
}
