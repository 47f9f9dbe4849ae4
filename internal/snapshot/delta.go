package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"time"

	l "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tunesync/internal/agent"
	"tunesync/internal/errs"
	"tunesync/internal/fsutil"
	"tunesync/internal/track"
)

// deltaCacheCap bounds the processed-id map. Crossing it resets the cache
// rather than letting it grow unbounded across years of runs.
const deltaCacheCap = 100000

// DeltaCache remembers which tracks recent runs already processed, with a
// per-track field hash to spot silent edits.
type DeltaCache struct {
	LastRun           time.Time         `json:"last_run"`
	TrackedSince      time.Time         `json:"tracked_since"`
	ProcessedTrackIDs map[string]bool   `json:"processed_track_ids"`
	FieldHashes       map[string]string `json:"field_hashes"`
}

// LoadDeltaCache reads the delta cache, returning an empty one when the
// file is missing or corrupt. Corruption is recoverable here: the worst
// case is reprocessing tracks.
func (s *Service) LoadDeltaCache() *DeltaCache {
	fresh := &DeltaCache{
		TrackedSince:      s.now().UTC(),
		ProcessedTrackIDs: make(map[string]bool),
		FieldHashes:       make(map[string]string),
	}
	data, err := os.ReadFile(s.deltaPath())
	if err != nil {
		return fresh
	}
	var dc DeltaCache
	if err := json.Unmarshal(data, &dc); err != nil {
		log.WithField("err", err).Warn("delta cache corrupt, resetting")
		return fresh
	}
	if dc.ProcessedTrackIDs == nil {
		dc.ProcessedTrackIDs = make(map[string]bool)
	}
	if dc.FieldHashes == nil {
		dc.FieldHashes = make(map[string]string)
	}
	return &dc
}

// SaveDeltaCache persists the delta cache, resetting it first when it has
// grown past the cap.
func (s *Service) SaveDeltaCache(dc *DeltaCache) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(dc.ProcessedTrackIDs) > deltaCacheCap {
		log.WithField("size", len(dc.ProcessedTrackIDs)).Info("delta cache over cap, resetting")
		dc.ProcessedTrackIDs = make(map[string]bool)
		dc.FieldHashes = make(map[string]string)
		dc.TrackedSince = s.now().UTC()
	}
	dc.LastRun = s.now().UTC()

	data, err := json.Marshal(dc)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.deltaPath(), data, 0o644)
}

// DeltaResult is what SmartDelta hands to the pipeline.
type DeltaResult struct {
	Delta  track.Delta
	Live   []track.Track
	Stored []track.Track
	// ForceScan records whether the deep comparison ran, so the caller
	// knows the updated list is meaningful.
	ForceScan bool
}

// SmartDelta compares the live library against the stored snapshot.
//
// Fast mode only diffs the id sets: new and removed tracks are exact,
// in-place edits are invisible. Force mode additionally refetches every
// surviving track in batches and compares timestamps, which is the only
// way to catch edits, at the cost of a full library walk.
//
// Force mode runs when requested, or automatically once the configured
// interval since the last force scan has elapsed. A library that has never
// force-scanned stays in fast mode so the first run after install is not
// also the slowest.
func (s *Service) SmartDelta(ctx context.Context, force bool) (*DeltaResult, error) {
	stored, meta, err := s.Load()
	if err != nil {
		return nil, err
	}
	if !s.Valid() {
		return nil, &errs.SnapshotStaleError{Reason: "snapshot failed validity check"}
	}

	live, err := agent.FetchAll(ctx, s.agent, "", s.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	if !force && !meta.LastForceScanTime.IsZero() &&
		s.now().UTC().Sub(meta.LastForceScanTime) >= s.opts.ForceInterval {
		log.WithField("last_force", meta.LastForceScanTime).Info("force scan interval elapsed")
		force = true
	}

	res := &DeltaResult{Live: live, Stored: stored, ForceScan: force}
	if force {
		res.Delta, err = s.forceDelta(ctx, live, stored)
		if err != nil {
			return nil, err
		}
		if err := s.MarkForceScan(); err != nil {
			log.WithField("err", err).Warn("could not record force scan time")
		}
		return res, nil
	}

	res.Delta = fastDelta(live, stored)
	return res, nil
}

// fastDelta diffs the id sets only.
func fastDelta(live, stored []track.Track) track.Delta {
	liveIDs := make(map[string]bool, len(live))
	for _, t := range live {
		if t.ID != "" {
			liveIDs[t.ID] = true
		}
	}
	storedIDs := make(map[string]bool, len(stored))
	for _, t := range stored {
		if t.ID != "" {
			storedIDs[t.ID] = true
		}
	}

	var d track.Delta
	for id := range liveIDs {
		if !storedIDs[id] {
			d.NewIDs = append(d.NewIDs, id)
		}
	}
	for id := range storedIDs {
		if !liveIDs[id] {
			d.RemovedIDs = append(d.RemovedIDs, id)
		}
	}
	sort.Strings(d.NewIDs)
	sort.Strings(d.RemovedIDs)
	return d
}

// forceDelta refetches the tracks present on both sides in batches and
// compares them field by field. A batch that fails or times out is logged
// and treated as unchanged; missing an edit for one more cycle beats
// failing the whole run.
func (s *Service) forceDelta(ctx context.Context, live, stored []track.Track) (track.Delta, error) {
	delta := fastDelta(live, stored)

	storedByID := make(map[string]*track.Track, len(stored))
	for i := range stored {
		if stored[i].ID != "" {
			storedByID[stored[i].ID] = &stored[i]
		}
	}
	var common []string
	for _, t := range live {
		if t.ID != "" && storedByID[t.ID] != nil {
			common = append(common, t.ID)
		}
	}
	sort.Strings(common)

	var batches [][]string
	for start := 0; start < len(common); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(common))
		batches = append(batches, common[start:end])
	}

	results := make([][]string, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, batch := range batches {
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(gctx, s.opts.FetchTimeout)
			defer cancel()

			fetched, err := s.agent.FetchByIDs(bctx, batch)
			if err != nil {
				log.WithFields(l.Fields{"batch": i, "err": err}).
					Warn("force scan batch failed, treating as unchanged")
				return nil
			}
			var storedSubset []track.Track
			for _, id := range batch {
				if t := storedByID[id]; t != nil {
					storedSubset = append(storedSubset, *t)
				}
			}
			results[i] = track.ComputeDelta(fetched, storedSubset).UpdatedIDs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return track.Delta{}, err
	}

	for _, ids := range results {
		delta.UpdatedIDs = append(delta.UpdatedIDs, ids...)
	}
	sort.Strings(delta.UpdatedIDs)
	return delta, nil
}
