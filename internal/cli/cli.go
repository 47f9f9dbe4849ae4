// Package cli is the cobra front end. Commands only parse flags and pick a
// pipeline entry point; all run logic lives in internal/pipeline.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	l "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tunesync/internal/agent"
	"tunesync/internal/cache"
	"tunesync/internal/config"
	"tunesync/internal/discogs"
	"tunesync/internal/genre"
	"tunesync/internal/itunes"
	"tunesync/internal/logging"
	"tunesync/internal/musicbrainz"
	"tunesync/internal/pending"
	"tunesync/internal/pipeline"
	"tunesync/internal/ratelimit"
	"tunesync/internal/report"
	"tunesync/internal/runlog"
	"tunesync/internal/snapshot"
	"tunesync/internal/sources"
	"tunesync/internal/state"
	"tunesync/internal/tracklist"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "cli"})

// Cache directory file names.
const (
	albumCacheFile   = "album_year_cache.json"
	apiCacheFile     = "api_cache.json"
	searchCacheFile  = "search_cache.json"
	pendingStoreFile = "pending_verification.json"
)

// globalOpts are the persistent flags shared by every command.
type globalOpts struct {
	configPath string
	verbose    bool
	dryRun     bool
	testMode   bool
}

// Execute runs the CLI. Returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if ctx.Err() != nil {
		// Interrupted: cleanup already ran through the deferred closers.
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	var (
		force  bool
		fresh  bool
		artist string
		album  string
	)

	root := &cobra.Command{
		Use:           "tunesync",
		Short:         "Incremental music library synchroniser",
		Long:          "tunesync keeps a music library's names, genres and release years tidy:\nit diffs the library against its last snapshot, cleans metadata through the\nlibrary agent and resolves album years against MusicBrainz and Discogs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			sum, err := a.pipeline.Run(cmd.Context(), pipeline.Options{
				Force:  force,
				Fresh:  fresh,
				DryRun: opts.dryRun,
				Artist: artist,
				Album:  album,
			})
			if err != nil {
				return err
			}
			log.WithFields(l.Fields{
				"run": sum.RunID, "mode": sum.Mode,
				"changes": sum.Changes, "errors": sum.Errors,
			}).Info("run finished")
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to an explicit config file")
	pf.BoolVar(&opts.verbose, "verbose", false, "debug logging, echoed to the console")
	pf.BoolVar(&opts.dryRun, "dry-run", false, "log and report changes without writing any")
	pf.BoolVar(&opts.testMode, "test-mode", false, "use a throwaway cache directory")

	root.Flags().BoolVar(&force, "force", false, "process every track, not just the delta")
	root.Flags().BoolVar(&fresh, "fresh", false, "ignore the snapshot and rescan the library")
	root.Flags().StringVar(&artist, "artist", "", "restrict the run to one artist")
	root.Flags().StringVar(&album, "album", "", "restrict the run to one album")

	root.AddCommand(
		newUpdateYearsCmd(opts),
		newRevertYearsCmd(opts),
		newCleanArtistCmd(opts),
		newVerifyDBCmd(opts),
		newVerifyPendingCmd(opts),
		newBatchCmd(opts),
		newRotateKeysCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// app is one bootstrapped invocation: configuration loaded, stores opened,
// pipeline wired.
type app struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	ledger   *runlog.Ledger
	state    *state.Manager
	pending  *pending.Store

	apiCache   *cache.APICache
	searchMemo *cache.Store[[]sources.Candidate]
}

func newApp(opts *globalOpts) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.testMode {
		tmp, err := os.MkdirTemp("", "tunesync-test-")
		if err != nil {
			return nil, fmt.Errorf("create test cache dir: %w", err)
		}
		cfg.Paths.CacheDir = tmp
		cfg.Paths.CSVFile = filepath.Join(tmp, "track_list.csv")
		cfg.History.DBFile = filepath.Join(tmp, "history.db")
	}

	if err := logging.Setup(cfg.Paths.LogDir, cfg.Logging.Level, cfg.Logging.Console, opts.verbose); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Paths.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	stateMgr, err := state.Open()
	if err != nil {
		return nil, err
	}

	agentLimiter, err := limiter("agent", cfg.RateLimits.Agent)
	if err != nil {
		return nil, err
	}
	client := agent.NewExecClient(
		cfg.Library.AgentCommand,
		cfg.Library.ScriptsDir,
		time.Duration(cfg.Library.ScriptTimeoutSeconds)*time.Second,
		agentLimiter,
	)

	a := &app{cfg: cfg, state: stateMgr}

	albumCache := cache.NewAlbumCache(
		days(cfg.Cache.AlbumTTLDays), cfg.Cache.MaxEntries,
		filepath.Join(cfg.Paths.CacheDir, albumCacheFile))
	loadOrReset("album cache", albumCache.Load)

	a.apiCache = cache.NewAPICache(
		days(cfg.Cache.TTLDays), days(cfg.Cache.NegativeTTLDays), cfg.Cache.MaxEntries,
		filepath.Join(cfg.Paths.CacheDir, apiCacheFile))
	loadOrReset("api cache", a.apiCache.Load)

	a.searchMemo = cache.New[[]sources.Candidate](
		days(cfg.Cache.TTLDays), cfg.Cache.MaxEntries,
		filepath.Join(cfg.Paths.CacheDir, searchCacheFile))
	loadOrReset("search cache", a.searchMemo.Load)

	a.pending = pending.New(
		filepath.Join(cfg.Paths.CacheDir, pendingStoreFile),
		cfg.Years.PendingRecheckDays, cfg.Years.PendingMaxEntries)
	loadOrReset("pending store", a.pending.Load)

	finder, err := a.newFinder()
	if err != nil {
		return nil, err
	}

	var tags genre.TagSource
	if cfg.HasLastfm() {
		tags = genre.NewLastfmSource(cfg.Genres.LastfmAPIKey, cfg.Genres.LastfmSharedSecret)
	}

	if cfg.History.Enabled {
		ledger, err := runlog.Open(cfg.History.DBFile, cfg.History.KeepRuns)
		if err != nil {
			log.WithField("err", err).Warn("history ledger unavailable")
		} else {
			a.ledger = ledger
		}
	}

	snap := snapshot.NewService(snapshot.Options{
		Dir:           cfg.Paths.CacheDir,
		LibraryFile:   cfg.Library.LibraryFile,
		Compress:      cfg.Snapshot.Compress,
		MaxAge:        time.Duration(cfg.Snapshot.MaxAgeHours) * time.Hour,
		ForceInterval: days(cfg.Snapshot.ForceScanIntervalDays),
		BatchSize:     cfg.Library.BatchSize,
		FetchTimeout:  time.Duration(cfg.Library.FetchTimeoutSeconds) * time.Second,
	}, client)

	a.pipeline = pipeline.New(pipeline.Deps{
		Config:     cfg,
		Agent:      client,
		Snapshot:   snap,
		Projection: tracklist.New(cfg.Paths.CSVFile),
		Pending:    a.pending,
		AlbumCache: albumCache,
		Finder:     finder,
		Tags:       tags,
		Reporter:   report.NewConsole(os.Stdout),
		Ledger:     a.ledger,
	})
	return a, nil
}

// newFinder builds the external-source orchestrator with the enabled
// sources in preferred order.
func (a *app) newFinder() (*sources.Orchestrator, error) {
	cfg := a.cfg

	tokenIdx := a.state.TokenIndex(len(cfg.APIs.Discogs.Tokens))
	limiters := make(map[string]*ratelimit.Limiter)
	var srcs []sources.Source

	for _, name := range orderedSources(cfg.APIs.Preferred, cfg.APIs.Enabled) {
		var (
			src sources.Source
			rl  config.RateLimitConfig
		)
		switch name {
		case musicbrainz.SourceName:
			src = &sources.MusicBrainzSource{
				Client: musicbrainz.NewClient(cfg.APIs.MusicBrainz.BaseURL, cfg.APIs.MusicBrainz.Contact),
			}
			rl = cfg.RateLimits.MusicBrainz
		case discogs.SourceName:
			src = &sources.DiscogsSource{
				Client: discogs.NewClient(cfg.APIs.Discogs.BaseURL, cfg.DiscogsToken(tokenIdx)),
			}
			rl = cfg.RateLimits.Discogs
		case itunes.SourceName:
			src = &sources.ITunesSource{
				Client: itunes.NewClient(cfg.APIs.ITunes.BaseURL, cfg.APIs.ITunes.Country),
			}
			rl = cfg.RateLimits.ITunes
		default:
			continue
		}
		lim, err := limiter(name, rl)
		if err != nil {
			return nil, err
		}
		limiters[name] = lim
		srcs = append(srcs, src)
	}

	scorer := sources.NewScorer(cfg.Scoring, cfg.SpecialAlbums.Reissue)
	return sources.NewOrchestrator(
		srcs, limiters, a.apiCache, a.searchMemo, scorer,
		cfg.SpecialAlbums.Compilation,
	), nil
}

// orderedSources returns enabled with preferred moved to the front.
func orderedSources(preferred string, enabled []string) []string {
	out := make([]string, 0, len(enabled))
	for _, name := range enabled {
		if name == preferred {
			out = append([]string{name}, out...)
		} else {
			out = append(out, name)
		}
	}
	return out
}

func limiter(name string, rl config.RateLimitConfig) (*ratelimit.Limiter, error) {
	lim, err := ratelimit.New(name, rl.RequestsPerWindow,
		time.Duration(rl.WindowSeconds)*time.Second, rl.MaxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("rate limiter %s: %w", name, err)
	}
	return lim, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// loadOrReset loads a persisted store, downgrading corruption to a warning
// and a clean start.
func loadOrReset(name string, load func() error) {
	if err := load(); err != nil {
		log.WithFields(l.Fields{"store": name, "err": err}).Warn("starting with a fresh store")
	}
}

// close flushes the app's stores. Runs on every exit path including
// interrupts.
func (a *app) close() {
	if err := a.apiCache.Save(); err != nil {
		log.WithField("err", err).Warn("api cache save failed")
	}
	if err := a.searchMemo.Save(); err != nil {
		log.WithField("err", err).Warn("search cache save failed")
	}
	if err := a.ledger.Close(); err != nil {
		log.WithField("err", err).Warn("history ledger close failed")
	}
}
