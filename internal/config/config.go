// Package config loads and validates the tool configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"tunesync/internal/errs"
)

// AppName names the per-user config, cache and state directories.
const AppName = "tunesync"

type Config struct {
	Library       LibraryConfig       `koanf:"library"`
	Paths         PathsConfig         `koanf:"paths"`
	Logging       LoggingConfig       `koanf:"logging"`
	Cache         CacheConfig         `koanf:"cache"`
	RateLimits    RateLimitsConfig    `koanf:"rate_limits"`
	APIs          APIsConfig          `koanf:"apis"`
	Scoring       ScoringConfig       `koanf:"scoring"`
	Years         YearsConfig         `koanf:"years"`
	SpecialAlbums SpecialAlbumsConfig `koanf:"special_albums"`
	Cleaning      CleaningConfig      `koanf:"cleaning"`
	Renames       map[string]string   `koanf:"renames"`
	Genres        GenresConfig        `koanf:"genres"`
	Snapshot      SnapshotConfig      `koanf:"snapshot"`
	Verify        VerifyConfig        `koanf:"verify"`
	Report        ReportConfig        `koanf:"report"`
	History       HistoryConfig       `koanf:"history"`
}

// LibraryConfig describes how to reach the library agent.
type LibraryConfig struct {
	AgentCommand         string `koanf:"agent_command" validate:"required"`
	ScriptsDir           string `koanf:"scripts_dir"`
	LibraryFile          string `koanf:"library_file"`
	BatchSize            int    `koanf:"batch_size" validate:"gt=0"`
	FetchTimeoutSeconds  int    `koanf:"fetch_timeout_seconds" validate:"gt=0"`
	ScriptTimeoutSeconds int    `koanf:"script_timeout_seconds" validate:"gt=0"`
}

type PathsConfig struct {
	CacheDir string `koanf:"cache_dir"`
	CSVFile  string `koanf:"csv_file"`
	LogDir   string `koanf:"log_dir"`
}

type LoggingConfig struct {
	Level   string `koanf:"level"`
	Console bool   `koanf:"console"`
}

type CacheConfig struct {
	TTLDays                int `koanf:"ttl_days" validate:"gt=0"`
	NegativeTTLDays        int `koanf:"negative_ttl_days" validate:"gt=0"`
	AlbumTTLDays           int `koanf:"album_ttl_days" validate:"gt=0"`
	MaxEntries             int `koanf:"max_entries" validate:"gt=0"`
	CleanupIntervalMinutes int `koanf:"cleanup_interval_minutes" validate:"gt=0"`
}

type RateLimitsConfig struct {
	MusicBrainz RateLimitConfig `koanf:"musicbrainz"`
	Discogs     RateLimitConfig `koanf:"discogs"`
	ITunes      RateLimitConfig `koanf:"itunes"`
	Agent       RateLimitConfig `koanf:"agent"`
}

// RateLimitConfig bounds one API: a request budget over a sliding window
// plus an in-flight cap.
type RateLimitConfig struct {
	RequestsPerWindow int `koanf:"requests_per_window" validate:"gt=0"`
	WindowSeconds     int `koanf:"window_seconds" validate:"gt=0"`
	MaxConcurrent     int `koanf:"max_concurrent" validate:"gt=0"`
}

type APIsConfig struct {
	Preferred   string            `koanf:"preferred" validate:"required"`
	Enabled     []string          `koanf:"enabled" validate:"min=1"`
	MusicBrainz MusicBrainzConfig `koanf:"musicbrainz"`
	Discogs     DiscogsConfig     `koanf:"discogs"`
	ITunes      ITunesConfig      `koanf:"itunes"`
}

type MusicBrainzConfig struct {
	BaseURL string `koanf:"base_url" validate:"required"`
	Contact string `koanf:"contact"`
}

type DiscogsConfig struct {
	BaseURL string   `koanf:"base_url" validate:"required"`
	Tokens  []string `koanf:"tokens"`
}

type ITunesConfig struct {
	BaseURL string `koanf:"base_url" validate:"required"`
	Country string `koanf:"country"`
}

// ScoringConfig is the candidate-scoring table. Positive values are bonuses,
// negative values penalties.
type ScoringConfig struct {
	ArtistExactMatch      int `koanf:"artist_exact_match"`
	AlbumExactMatch       int `koanf:"album_exact_match"`
	PerfectMatchBonus     int `koanf:"perfect_match_bonus"`
	AlbumSubstring        int `koanf:"album_substring"`
	AlbumUnrelated        int `koanf:"album_unrelated"`
	ReleaseGroupMatch     int `koanf:"release_group_match"`
	TypeAlbum             int `koanf:"type_album"`
	TypeEP                int `koanf:"type_ep"`
	TypeSingle            int `koanf:"type_single"`
	TypeCompilation       int `koanf:"type_compilation"`
	TypeLive              int `koanf:"type_live"`
	StatusOfficial        int `koanf:"status_official"`
	StatusPromo           int `koanf:"status_promo"`
	StatusBootleg         int `koanf:"status_bootleg"`
	ReissuePenalty        int `koanf:"reissue_penalty"`
	CountryArtistMatch    int `koanf:"country_artist_match"`
	CountryMajorMarket    int `koanf:"country_major_market"`
	SourceMusicBrainz     int `koanf:"source_musicbrainz"`
	SourceDiscogs         int `koanf:"source_discogs"`
	SourceITunes          int `koanf:"source_itunes"`
	YearDiffPenalty       int `koanf:"year_diff_penalty"`
	YearDiffPenaltyCap    int `koanf:"year_diff_penalty_cap" validate:"gte=0"`
	DefinitiveScoreThresh int `koanf:"definitive_score_threshold" validate:"gt=0"`
	DefinitiveScoreDiff   int `koanf:"definitive_score_diff" validate:"gte=0"`
}

type YearsConfig struct {
	TrustThreshold       int     `koanf:"trust_threshold" validate:"gt=0,lte=100"`
	ConsensusConfidence  int     `koanf:"consensus_confidence" validate:"gt=0,lte=100"`
	TrustAPIScoreThresh  int     `koanf:"trust_api_score_threshold" validate:"gte=0"`
	AbsurdYearThreshold  int     `koanf:"absurd_year_threshold" validate:"gt=0"`
	YearDiffThreshold    int     `koanf:"year_difference_threshold" validate:"gt=0"`
	PrereleaseHandling   string  `koanf:"prerelease_handling"`
	PendingRecheckDays   int     `koanf:"pending_recheck_days" validate:"gt=0"`
	PendingMaxEntries    int     `koanf:"pending_max_entries" validate:"gt=0"`
	FutureCountThreshold int     `koanf:"future_count_threshold" validate:"gt=0"`
	FutureRatioThreshold float64 `koanf:"future_ratio_threshold" validate:"gt=0,lte=1"`
}

type SpecialAlbumsConfig struct {
	Special     []string `koanf:"special"`
	Compilation []string `koanf:"compilation"`
	Reissue     []string `koanf:"reissue"`
}

type CleaningConfig struct {
	StripSuffixes []string `koanf:"strip_suffixes"`
}

type GenresConfig struct {
	Enabled            bool   `koanf:"enabled"`
	LastfmAPIKey       string `koanf:"lastfm_api_key"`
	LastfmSharedSecret string `koanf:"lastfm_shared_secret"`
	MinArtistTracks    int    `koanf:"min_artist_tracks" validate:"gt=0"`
}

type SnapshotConfig struct {
	MaxAgeHours           int  `koanf:"max_age_hours" validate:"gt=0"`
	ForceScanIntervalDays int  `koanf:"force_scan_interval_days" validate:"gt=0"`
	Compress              bool `koanf:"compress"`
}

type VerifyConfig struct {
	IntervalDays int `koanf:"interval_days" validate:"gt=0"`
	BatchSize    int `koanf:"batch_size" validate:"gt=0"`
	PauseMS      int `koanf:"pause_ms" validate:"gte=0"`
}

type ReportConfig struct {
	File        string `koanf:"file" validate:"required"`
	Timestamped bool   `koanf:"timestamped"`
}

type HistoryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	DBFile   string `koanf:"db_file"`
	KeepRuns int    `koanf:"keep_runs" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Library: LibraryConfig{
			AgentCommand:         "osascript",
			LibraryFile:          "~/Music/Music Library.musiclibrary/Library.musicdb",
			BatchSize:            200,
			FetchTimeoutSeconds:  120,
			ScriptTimeoutSeconds: 600,
		},
		Logging: LoggingConfig{Level: "info", Console: true},
		Cache: CacheConfig{
			TTLDays:                30,
			NegativeTTLDays:        7,
			AlbumTTLDays:           180,
			MaxEntries:             50000,
			CleanupIntervalMinutes: 30,
		},
		RateLimits: RateLimitsConfig{
			MusicBrainz: RateLimitConfig{RequestsPerWindow: 50, WindowSeconds: 60, MaxConcurrent: 2},
			Discogs:     RateLimitConfig{RequestsPerWindow: 25, WindowSeconds: 60, MaxConcurrent: 2},
			ITunes:      RateLimitConfig{RequestsPerWindow: 20, WindowSeconds: 60, MaxConcurrent: 2},
			Agent:       RateLimitConfig{RequestsPerWindow: 600, WindowSeconds: 60, MaxConcurrent: 1},
		},
		APIs: APIsConfig{
			Preferred:   "musicbrainz",
			Enabled:     []string{"musicbrainz", "discogs"},
			MusicBrainz: MusicBrainzConfig{BaseURL: "https://musicbrainz.org/ws/2"},
			Discogs:     DiscogsConfig{BaseURL: "https://api.discogs.com"},
			ITunes:      ITunesConfig{BaseURL: "https://itunes.apple.com", Country: "us"},
		},
		Scoring: ScoringConfig{
			ArtistExactMatch:      30,
			AlbumExactMatch:       25,
			PerfectMatchBonus:     20,
			AlbumSubstring:        -15,
			AlbumUnrelated:        -30,
			ReleaseGroupMatch:     15,
			TypeAlbum:             20,
			TypeEP:                10,
			TypeSingle:            5,
			TypeCompilation:       -10,
			TypeLive:              -5,
			StatusOfficial:        15,
			StatusPromo:           -10,
			StatusBootleg:         -25,
			ReissuePenalty:        -15,
			CountryArtistMatch:    10,
			CountryMajorMarket:    5,
			SourceMusicBrainz:     10,
			SourceDiscogs:         5,
			SourceITunes:          0,
			YearDiffPenalty:       2,
			YearDiffPenaltyCap:    40,
			DefinitiveScoreThresh: 85,
			DefinitiveScoreDiff:   15,
		},
		Years: YearsConfig{
			TrustThreshold:       85,
			ConsensusConfidence:  95,
			TrustAPIScoreThresh:  70,
			AbsurdYearThreshold:  1900,
			YearDiffThreshold:    5,
			PrereleaseHandling:   "process_editable",
			PendingRecheckDays:   7,
			PendingMaxEntries:    1000,
			FutureCountThreshold: 3,
			FutureRatioThreshold: 0.8,
		},
		SpecialAlbums: SpecialAlbumsConfig{
			Special:     []string{"b-sides", "demo", "demos", "vault", "rarities", "outtakes", "unreleased", "bootleg", "sessions"},
			Compilation: []string{"greatest hits", "best of", "anthology", "collection", "compilation", "soundtrack", "various artists"},
			Reissue:     []string{"remaster", "remastered", "anniversary", "deluxe", "expanded", "reissue", "special edition"},
		},
		Cleaning: CleaningConfig{
			StripSuffixes: []string{
				"remastered", "remaster", "deluxe edition", "deluxe version",
				"bonus track version", "expanded edition", "special edition",
				"single version", "ep version",
			},
		},
		Genres: GenresConfig{Enabled: true, MinArtistTracks: 2},
		Snapshot: SnapshotConfig{
			MaxAgeHours:           24,
			ForceScanIntervalDays: 7,
			Compress:              true,
		},
		Verify: VerifyConfig{IntervalDays: 7, BatchSize: 20, PauseMS: 200},
		Report: ReportConfig{File: "changes_report.csv"},
		History: HistoryConfig{
			Enabled:  true,
			KeepRuns: 200,
		},
	}
}

// Load builds the configuration from defaults, the first matching TOML file
// and TUNESYNC_ environment overrides, then resolves paths and validates.
// explicitPath, when non-empty, must exist.
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if explicitPath != "" {
		if err := k.Load(file.Provider(explicitPath), toml.Parser()); err != nil {
			return nil, &errs.ConfigError{Field: explicitPath, Reason: err.Error()}
		}
	} else {
		for _, path := range configPaths() {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, &errs.ConfigError{Field: path, Reason: err.Error()}
			}
		}
	}

	if err := k.Load(env.Provider("TUNESYNC_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, "TUNESYNC_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configPaths() []string {
	paths := []string{
		filepath.Join(xdg.ConfigHome, AppName, "config.toml"),
	}
	// cwd config wins over the user config
	paths = append(paths, "config.toml")
	return paths
}

// resolvePaths expands ~ and fills in the xdg-derived defaults.
func (c *Config) resolvePaths() {
	c.Library.LibraryFile = expandPath(c.Library.LibraryFile)
	c.Library.ScriptsDir = expandPath(c.Library.ScriptsDir)
	c.Paths.CacheDir = expandPath(c.Paths.CacheDir)
	c.Paths.CSVFile = expandPath(c.Paths.CSVFile)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	c.History.DBFile = expandPath(c.History.DBFile)

	if c.Paths.CacheDir == "" {
		c.Paths.CacheDir = filepath.Join(xdg.CacheHome, AppName)
	}
	if c.Paths.CSVFile == "" {
		c.Paths.CSVFile = filepath.Join(c.Paths.CacheDir, "track_list.csv")
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = filepath.Join(xdg.StateHome, AppName)
	}
	if c.Library.ScriptsDir == "" {
		c.Library.ScriptsDir = filepath.Join(xdg.ConfigHome, AppName, "scripts")
	}
	if c.History.DBFile == "" {
		c.History.DBFile = filepath.Join(c.Paths.CacheDir, "history.db")
	}
}

// Validate checks the configuration. Violations are ConfigErrors and fatal
// at startup.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return &errs.ConfigError{
				Field:  first.Namespace(),
				Reason: fmt.Sprintf("failed %q constraint", first.Tag()),
			}
		}
		return &errs.ConfigError{Reason: err.Error()}
	}

	for _, name := range c.APIs.Enabled {
		switch name {
		case "musicbrainz", "discogs", "itunes":
		default:
			return &errs.ConfigError{Field: "apis.enabled", Reason: fmt.Sprintf("unknown source %q", name)}
		}
	}
	return nil
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// HasLastfm reports whether Last.fm credentials are configured.
func (c *Config) HasLastfm() bool {
	return c.Genres.LastfmAPIKey != "" && c.Genres.LastfmSharedSecret != ""
}

// DiscogsToken returns the active token from the ring, or empty when none
// are configured. The index is owned by the CLI state file.
func (c *Config) DiscogsToken(index int) string {
	tokens := c.APIs.Discogs.Tokens
	if len(tokens) == 0 {
		return ""
	}
	if index < 0 || index >= len(tokens) {
		index = 0
	}
	return tokens[index]
}
