// Package snapshot owns the persistent library snapshot, its metadata
// sidecar and the delta cache, and computes the Smart Delta against the
// live library.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/agent"
	"tunesync/internal/errs"
	"tunesync/internal/fsutil"
	"tunesync/internal/track"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "snapshot"})

// Version tags the snapshot format. A mismatch invalidates the snapshot.
const Version = 3

const (
	snapshotBase = "library_snapshot.json"
	gzExt        = ".gz"
	metaFile     = "library_snapshot.meta.json"
	deltaFile    = "library_delta.json"
)

// Metadata is the snapshot sidecar used to judge freshness without reading
// the full snapshot.
type Metadata struct {
	Version           int       `json:"version"`
	LastFullScan      time.Time `json:"last_full_scan"`
	LibraryMtime      time.Time `json:"library_mtime"`
	TrackCount        int       `json:"track_count"`
	SnapshotHash      string    `json:"snapshot_hash"`
	LastForceScanTime time.Time `json:"last_force_scan_time,omitempty"`
}

// payload is the versioned on-disk snapshot document.
type payload struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Tracks  []track.Track `json:"tracks"`
}

// Options tune the snapshot service.
type Options struct {
	Dir           string
	LibraryFile   string
	Compress      bool
	MaxAge        time.Duration
	ForceInterval time.Duration
	BatchSize     int
	FetchTimeout  time.Duration
}

// Service reads and writes the snapshot files. One write lock serialises
// every write method; all writes go through a temp file and rename.
type Service struct {
	opts  Options
	agent agent.Client

	writeMu sync.Mutex
	now     func() time.Time
}

// NewService returns a snapshot service for the given cache directory.
func NewService(opts Options, client agent.Client) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 120 * time.Second
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.ForceInterval <= 0 {
		opts.ForceInterval = 7 * 24 * time.Hour
	}
	return &Service{opts: opts, agent: client, now: time.Now}
}

func (s *Service) snapshotPath() string {
	path := filepath.Join(s.opts.Dir, snapshotBase)
	if s.opts.Compress {
		return path + gzExt
	}
	return path
}

// otherSnapshotPath is the path with the extension not in use. It is
// removed on save so only one variant ever exists.
func (s *Service) otherSnapshotPath() string {
	path := filepath.Join(s.opts.Dir, snapshotBase)
	if s.opts.Compress {
		return path
	}
	return path + gzExt
}

func (s *Service) metaPath() string  { return filepath.Join(s.opts.Dir, metaFile) }
func (s *Service) deltaPath() string { return filepath.Join(s.opts.Dir, deltaFile) }

// Save writes the snapshot and its metadata atomically. libraryMtime is the
// library file's modification time captured before the tracks were fetched,
// so writes that landed during the fetch stay visible to the next delta.
func (s *Service) Save(tracks []track.Track, libraryMtime time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sorted := append([]track.Track(nil), tracks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	doc := payload{Version: Version, SavedAt: s.now().UTC(), Tracks: sorted}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	sum := sha256.Sum256(data)

	out := data
	if s.opts.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("compress snapshot: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress snapshot: %w", err)
		}
		out = buf.Bytes()
	}

	if err := fsutil.WriteFileAtomic(s.snapshotPath(), out, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Remove(s.otherSnapshotPath()); err != nil && !os.IsNotExist(err) {
		log.WithField("err", err).Warn("could not remove stale snapshot variant")
	}

	meta := Metadata{
		Version:      Version,
		LastFullScan: doc.SavedAt,
		LibraryMtime: libraryMtime.UTC(),
		TrackCount:   len(sorted),
		SnapshotHash: hex.EncodeToString(sum[:]),
	}
	if prev, err := s.loadMetadata(); err == nil {
		meta.LastForceScanTime = prev.LastForceScanTime
	}
	return s.writeMetadataLocked(meta)
}

// MarkForceScan records that a force scan completed now.
func (s *Service) MarkForceScan() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	meta, err := s.loadMetadata()
	if err != nil {
		return err
	}
	meta.LastForceScanTime = s.now().UTC()
	return s.writeMetadataLocked(meta)
}

func (s *Service) writeMetadataLocked(meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.metaPath(), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot metadata: %w", err)
	}
	return nil
}

func (s *Service) loadMetadata() (Metadata, error) {
	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, &errs.CacheCorruptionError{Path: s.metaPath(), Cause: err}
	}
	return meta, nil
}

// Load reads the snapshot back. Both extensions are tried so a compression
// setting change does not orphan the previous snapshot.
func (s *Service) Load() ([]track.Track, Metadata, error) {
	meta, err := s.loadMetadata()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Metadata{}, &errs.SnapshotStaleError{Reason: "no snapshot metadata"}
		}
		return nil, Metadata{}, err
	}

	path := s.snapshotPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		path = s.otherSnapshotPath()
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Metadata{}, &errs.SnapshotStaleError{Reason: "snapshot file missing"}
		}
		return nil, Metadata{}, fmt.Errorf("read snapshot: %w", err)
	}

	if filepath.Ext(path) == gzExt {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, Metadata{}, &errs.CacheCorruptionError{Path: path, Cause: err}
		}
		data, err = io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, Metadata{}, &errs.CacheCorruptionError{Path: path, Cause: err}
		}
	}

	var doc payload
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, Metadata{}, &errs.CacheCorruptionError{Path: path, Cause: err}
	}
	if doc.Version != Version {
		return nil, Metadata{}, &errs.SnapshotStaleError{
			Reason: fmt.Sprintf("version %d, want %d", doc.Version, Version),
		}
	}
	return doc.Tracks, meta, nil
}

// Valid reports whether the stored snapshot can stand in for a scan. It is
// valid when the library file has not been modified since the snapshot, or
// failing that when the snapshot is younger than the max age. Both mtimes
// are normalised to UTC before comparing; mixing a local-zone file mtime
// with the UTC snapshot time declared fresh snapshots stale, or worse.
func (s *Service) Valid() bool {
	meta, err := s.loadMetadata()
	if err != nil {
		return false
	}
	if meta.Version != Version {
		return false
	}
	if !fsutil.Exists(s.snapshotPath()) && !fsutil.Exists(s.otherSnapshotPath()) {
		return false
	}

	if info, err := os.Stat(s.opts.LibraryFile); err == nil {
		if !info.ModTime().UTC().After(meta.LibraryMtime.UTC()) {
			return true
		}
	}
	return s.now().UTC().Sub(meta.LastFullScan) < s.opts.MaxAge
}

// LibraryMtime returns the library file's current modification time in
// UTC, or zero when the file cannot be read.
func (s *Service) LibraryMtime() time.Time {
	info, err := os.Stat(s.opts.LibraryFile)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime().UTC()
}
