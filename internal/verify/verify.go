// Package verify prunes tracks from the CSV projection that no longer
// exist in the library.
package verify

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	l "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tunesync/internal/agent"
	"tunesync/internal/config"
	"tunesync/internal/fsutil"
	"tunesync/internal/track"
	"tunesync/internal/tracklist"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "verify"})

const sidecarSuffix = "_last_verify.txt"

// Result summarises one verification pass.
type Result struct {
	// Skipped is set when the sidecar interval has not elapsed.
	Skipped bool
	Checked int
	Removed int
	// Errors counts probes that failed; those tracks stay in.
	Errors int
}

// Verifier runs batched existence checks over the projection. Absence must
// be explicit: any probe error keeps the track, because dropping rows on a
// flaky agent would throw away the rollback data they carry.
type Verifier struct {
	agent      agent.Client
	projection *tracklist.Projection
	interval   time.Duration
	batchSize  int
	pacer      *rate.Limiter

	now func() time.Time
}

// New wires a verifier from the configuration.
func New(client agent.Client, projection *tracklist.Projection, cfg config.VerifyConfig) *Verifier {
	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.PauseMS > 0 {
		pacer = rate.NewLimiter(rate.Every(time.Duration(cfg.PauseMS)*time.Millisecond), 1)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Verifier{
		agent:      client,
		projection: projection,
		interval:   time.Duration(cfg.IntervalDays) * 24 * time.Hour,
		batchSize:  batchSize,
		pacer:      pacer,
		now:        time.Now,
	}
}

func (v *Verifier) sidecarPath() string {
	return strings.TrimSuffix(v.projection.Path(), ".csv") + sidecarSuffix
}

// Due reports whether the verification interval has elapsed since the last
// recorded pass. No sidecar means due.
func (v *Verifier) Due() bool {
	data, err := os.ReadFile(v.sidecarPath())
	if err != nil {
		return true
	}
	last, ok := track.ParseTimestamp(strings.TrimSpace(string(data)))
	if !ok {
		return true
	}
	return v.now().UTC().Sub(last) >= v.interval
}

// Run verifies the projection. Unless forced, it respects the sidecar
// interval. Confirmed-absent tracks are removed from the CSV; the sidecar
// is stamped on every completed pass.
func (v *Verifier) Run(ctx context.Context, force bool) (Result, error) {
	if !force && !v.Due() {
		log.Debug("verification interval not elapsed")
		return Result{Skipped: true}, nil
	}

	tracks, err := v.projection.Read()
	if err != nil {
		return Result{}, err
	}
	if len(tracks) == 0 {
		return Result{}, v.stamp()
	}

	var res Result
	absent := make(map[string]bool)
	var mu sync.Mutex

	for start := 0; start < len(tracks); start += v.batchSize {
		if err := v.pacer.Wait(ctx); err != nil {
			return res, err
		}
		end := min(start+v.batchSize, len(tracks))

		g, gctx := errgroup.WithContext(ctx)
		for _, t := range tracks[start:end] {
			g.Go(func() error {
				exists, err := v.agent.TrackExists(gctx, t.ID)
				mu.Lock()
				defer mu.Unlock()
				res.Checked++
				if err != nil {
					res.Errors++
					log.WithFields(l.Fields{"id": t.ID, "err": err}).
						Debug("existence probe failed, keeping track")
					return nil
				}
				if !exists {
					absent[t.ID] = true
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, err
		}
	}

	if len(absent) > 0 {
		kept := tracks[:0]
		for _, t := range tracks {
			if absent[t.ID] {
				log.WithFields(l.Fields{"id": t.ID, "artist": t.Artist, "name": t.Name}).
					Info("removing deleted track from projection")
				continue
			}
			kept = append(kept, t)
		}
		if err := v.projection.Write(kept); err != nil {
			return res, err
		}
		res.Removed = len(absent)
	}
	return res, v.stamp()
}

func (v *Verifier) stamp() error {
	stamp := v.now().UTC().Format(time.RFC3339)
	if err := fsutil.WriteFileAtomic(v.sidecarPath(), []byte(stamp+"\n"), 0o644); err != nil {
		return fmt.Errorf("write verify sidecar: %w", err)
	}
	return nil
}
