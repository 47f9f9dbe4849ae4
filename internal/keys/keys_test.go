package keys

import (
	"strings"
	"testing"

	"tunesync/internal/errs"
)

func TestAlbumKey_CaseAndWhitespaceStable(t *testing.T) {
	tests := []struct {
		name    string
		artistA string
		albumA  string
		artistB string
		albumB  string
	}{
		{"upper vs lower", "Radiohead", "OK Computer", "radiohead", "ok computer"},
		{"surrounding whitespace", " Boards of Canada ", " Geogaddi ", "Boards of Canada", "Geogaddi"},
		{"mixed", "  APHEX TWIN", "Drukqs  ", "aphex twin", "drukqs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AlbumKey(tt.artistA, tt.albumA)
			b := AlbumKey(tt.artistB, tt.albumB)
			if a != b {
				t.Errorf("AlbumKey(%q,%q) != AlbumKey(%q,%q)", tt.artistA, tt.albumA, tt.artistB, tt.albumB)
			}
		})
	}
}

func TestAlbumKey_DistinctPairsDiffer(t *testing.T) {
	if AlbumKey("Low", "Things We Lost in the Fire") == AlbumKey("Low", "Trust") {
		t.Error("different albums must hash to different keys")
	}
	// The separator keeps (ab, c) distinct from (a, bc).
	if AlbumKey("ab", "c") == AlbumKey("a", "bc") {
		t.Error("field boundary must affect the key")
	}
}

func TestAPIKey_SourceScoped(t *testing.T) {
	mb := APIKey("musicbrainz", "Portishead", "Dummy")
	dc := APIKey("discogs", "Portishead", "Dummy")
	if mb == dc {
		t.Error("same pair under different sources must produce different keys")
	}
	if APIKey("MusicBrainz", "Portishead", "Dummy") != mb {
		t.Error("source normalisation must match artist/album normalisation")
	}
	if mb == AlbumKey("Portishead", "Dummy") {
		t.Error("API keys must not collide with album keys")
	}
}

func TestGenericKey_MapOrderIndependent(t *testing.T) {
	a := GenericKey(map[string]any{"artist": "Lush", "album": "Split", "limit": 25})
	b := GenericKey(map[string]any{"limit": 25, "album": "Split", "artist": "Lush"})
	if a != b {
		t.Error("map key order must not affect the generic key")
	}
}

func TestGenericKey_StringForms(t *testing.T) {
	if GenericKey("hello") != GenericKey("hello") {
		t.Error("same string must produce same key")
	}
	if GenericKey("hello") == GenericKey("world") {
		t.Error("different strings must produce different keys")
	}
	if GenericKey(42) != GenericKey(42) {
		t.Error("same int must produce same key")
	}
}

func TestFingerprint(t *testing.T) {
	base := FingerprintInput{
		PersistentID: "ABCD1234",
		Location:     "/music/a.flac",
		FileSize:     123456,
		Duration:     215,
		DateModified: "2024-01-01 10:00:00",
		DateAdded:    "2020-05-05 09:00:00",
	}

	fp1, err := Fingerprint(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fp2, err := Fingerprint(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp1 != fp2 {
		t.Error("fingerprint must be deterministic")
	}

	changed := base
	changed.FileSize = 999
	fp3, err := Fingerprint(changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp3 == fp1 {
		t.Error("changing file size must change the fingerprint")
	}
}

func TestFingerprint_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		in   FingerprintInput
	}{
		{"empty persistent id", FingerprintInput{Location: "/music/a.flac"}},
		{"blank persistent id", FingerprintInput{PersistentID: "   ", Location: "/music/a.flac"}},
		{"empty location", FingerprintInput{PersistentID: "ABCD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fingerprint(tt.in)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errs.IsValidation(err) {
				t.Errorf("error type = %T, want ValidationError", err)
			}
		})
	}
}

func TestKeyFormat(t *testing.T) {
	key := AlbumKey("a", "b")
	if len(key) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(key))
	}
	if strings.ToLower(key) != key {
		t.Error("key must be lowercase hex")
	}
}
