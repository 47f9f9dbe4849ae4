//nolint:goconst // test cases intentionally repeat strings for readability
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tunesync/internal/errs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("could not write config file: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Library.AgentCommand != "osascript" {
		t.Errorf("AgentCommand = %q, want osascript", cfg.Library.AgentCommand)
	}
	if cfg.Library.BatchSize != 200 {
		t.Errorf("BatchSize = %d, want 200", cfg.Library.BatchSize)
	}
	if cfg.Years.TrustThreshold != 85 {
		t.Errorf("TrustThreshold = %d, want 85", cfg.Years.TrustThreshold)
	}
	if cfg.Scoring.DefinitiveScoreThresh != 85 {
		t.Errorf("DefinitiveScoreThresh = %d, want 85", cfg.Scoring.DefinitiveScoreThresh)
	}
	if cfg.APIs.Preferred != "musicbrainz" {
		t.Errorf("Preferred = %q, want musicbrainz", cfg.APIs.Preferred)
	}
	if cfg.Paths.CacheDir == "" {
		t.Error("CacheDir should be derived from xdg when unset")
	}
	if cfg.Paths.CSVFile != filepath.Join(cfg.Paths.CacheDir, "track_list.csv") {
		t.Errorf("CSVFile = %q, want it under the cache dir", cfg.Paths.CSVFile)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
[library]
batch_size = 50

[years]
trust_threshold = 90
prerelease_handling = "skip_all"

[apis]
preferred = "discogs"
enabled = ["discogs", "musicbrainz"]

[apis.discogs]
tokens = ["tok-a", "tok-b"]

[renames]
"Old Name" = "New Name"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Library.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Library.BatchSize)
	}
	if cfg.Years.TrustThreshold != 90 {
		t.Errorf("TrustThreshold = %d, want 90", cfg.Years.TrustThreshold)
	}
	if cfg.Years.PrereleaseHandling != "skip_all" {
		t.Errorf("PrereleaseHandling = %q, want skip_all", cfg.Years.PrereleaseHandling)
	}
	if cfg.APIs.Preferred != "discogs" {
		t.Errorf("Preferred = %q, want discogs", cfg.APIs.Preferred)
	}
	if got := cfg.Renames["Old Name"]; got != "New Name" {
		t.Errorf(`Renames["Old Name"] = %q, want "New Name"`, got)
	}
	if got := cfg.DiscogsToken(1); got != "tok-b" {
		t.Errorf("DiscogsToken(1) = %q, want tok-b", got)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("TUNESYNC_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug (env override)", cfg.Logging.Level)
	}
}

func TestLoad_InvalidToml(t *testing.T) {
	path := writeConfig(t, "invalid = [[[")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid TOML")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit config")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "zero window",
			content: `
[rate_limits.discogs]
window_seconds = 0
`,
		},
		{
			name: "zero batch size",
			content: `
[library]
batch_size = 0
`,
		},
		{
			name: "unknown source",
			content: `
[apis]
enabled = ["napster"]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var cfgErr *errs.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("error type = %T, want ConfigError", err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("Could not get home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "tilde expands to home",
			input:    "~/music",
			expected: filepath.Join(home, "music"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/var/cache/tunesync",
			expected: "/var/cache/tunesync",
		},
		{
			name:     "relative path unchanged",
			input:    "cache",
			expected: "cache",
		},
		{
			name:     "empty string unchanged",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if result != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDiscogsToken(t *testing.T) {
	cfg := Default()

	if got := cfg.DiscogsToken(0); got != "" {
		t.Errorf("empty ring should yield empty token, got %q", got)
	}

	cfg.APIs.Discogs.Tokens = []string{"a", "b", "c"}
	tests := []struct {
		index int
		want  string
	}{
		{0, "a"},
		{2, "c"},
		{3, "a"},  // out of range wraps to first
		{-1, "a"}, // negative wraps to first
	}
	for _, tt := range tests {
		if got := cfg.DiscogsToken(tt.index); got != tt.want {
			t.Errorf("DiscogsToken(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestHasLastfm(t *testing.T) {
	cfg := Default()
	if cfg.HasLastfm() {
		t.Error("default config should not have Last.fm credentials")
	}
	cfg.Genres.LastfmAPIKey = "key"
	if cfg.HasLastfm() {
		t.Error("key without secret should not count")
	}
	cfg.Genres.LastfmSharedSecret = "secret"
	if !cfg.HasLastfm() {
		t.Error("key and secret should count")
	}
}
