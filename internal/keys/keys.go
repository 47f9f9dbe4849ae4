// Package keys builds the deterministic SHA-256 keys used by the caches.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"tunesync/internal/errs"
)

// AlbumKey returns the cache key for an (artist, album) pair. Both parts are
// trimmed and lowercased first, so differently cased spellings of the same
// album share one entry.
func AlbumKey(artist, album string) string {
	return hash(normalize(artist) + "|" + normalize(album))
}

// APIKey returns the cache key for a per-source lookup result.
func APIKey(source, artist, album string) string {
	return hash(normalize(source) + ":" + normalize(artist) + "|" + normalize(album))
}

// GenericKey returns a key for an arbitrary payload. Mappings are hashed via
// their canonical JSON form (encoding/json emits map keys sorted); everything
// else is hashed from its string form.
func GenericKey(v any) string {
	if s, ok := v.(string); ok {
		return hash(s)
	}
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Kind() == reflect.Map {
		if data, err := json.Marshal(v); err == nil {
			return hash(string(data))
		}
	}
	return hash(fmt.Sprint(v))
}

// FingerprintInput carries the fields identifying one library file.
type FingerprintInput struct {
	PersistentID string
	Location     string
	FileSize     int64
	Duration     int64
	DateModified string
	DateAdded    string
}

// Fingerprint returns the content fingerprint for a single file, used to
// detect replacement of the underlying media without an id change.
// PersistentID and Location are required.
func Fingerprint(in FingerprintInput) (string, error) {
	if strings.TrimSpace(in.PersistentID) == "" {
		return "", &errs.ValidationError{Field: "persistent_id", Value: in.PersistentID, Reason: "must not be empty"}
	}
	if strings.TrimSpace(in.Location) == "" {
		return "", &errs.ValidationError{Field: "location", Value: in.Location, Reason: "must not be empty"}
	}
	parts := fmt.Sprintf("%s|%s|%d|%d|%s|%s",
		in.PersistentID, in.Location, in.FileSize, in.Duration, in.DateModified, in.DateAdded)
	return hash(parts), nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
