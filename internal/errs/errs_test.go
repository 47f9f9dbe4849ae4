package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIErrorKinds(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		quota     bool
		transient bool
		malformed bool
	}{
		{
			name:      "quota",
			err:       &APIError{Source: "discogs", Kind: APIQuota, Cause: errors.New("429")},
			quota:     true,
			transient: false,
			malformed: false,
		},
		{
			name:      "transient",
			err:       &APIError{Source: "musicbrainz", Kind: APITransient, Cause: errors.New("503")},
			transient: true,
		},
		{
			name:      "malformed",
			err:       &APIError{Source: "itunes", Kind: APIMalformed, Cause: errors.New("bad json")},
			malformed: true,
		},
		{
			name: "unrelated",
			err:  errors.New("plain"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuota(tt.err); got != tt.quota {
				t.Errorf("IsQuota = %v, want %v", got, tt.quota)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if got := IsMalformed(tt.err); got != tt.malformed {
				t.Errorf("IsMalformed = %v, want %v", got, tt.malformed)
			}
		})
	}
}

func TestKindsSurviveWrapping(t *testing.T) {
	base := &APIError{Source: "discogs", Kind: APIQuota, Cause: errors.New("quota hit")}
	wrapped := fmt.Errorf("search release: %w", base)

	if !IsQuota(wrapped) {
		t.Error("IsQuota should see through fmt.Errorf wrapping")
	}

	agentErr := fmt.Errorf("fetch batch: %w", &AgentError{Script: "fetch_tracks", Cause: errors.New("exit 1")})
	if !IsAgentError(agentErr) {
		t.Error("IsAgentError should see through fmt.Errorf wrapping")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "config with field",
			err:  &ConfigError{Field: "rate_limits.discogs.window_seconds", Reason: "must be positive"},
			want: "config: rate_limits.discogs.window_seconds: must be positive",
		},
		{
			name: "config without field",
			err:  &ConfigError{Reason: "no config file found"},
			want: "config: no config file found",
		},
		{
			name: "validation",
			err:  &ValidationError{Field: "track id", Value: "abc", Reason: "not numeric"},
			want: `invalid track id "abc": not numeric`,
		},
		{
			name: "snapshot stale",
			err:  &SnapshotStaleError{Reason: "version mismatch"},
			want: "snapshot stale: version mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &AgentUnavailableError{Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("AgentUnavailableError should unwrap to its cause")
	}
	if !IsAgentUnavailable(err) {
		t.Error("IsAgentUnavailable(err) = false, want true")
	}
}
