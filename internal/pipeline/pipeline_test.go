package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tunesync/internal/agent"
	"tunesync/internal/cache"
	"tunesync/internal/config"
	"tunesync/internal/pending"
	"tunesync/internal/report"
	"tunesync/internal/snapshot"
	"tunesync/internal/sources"
	"tunesync/internal/track"
	"tunesync/internal/tracklist"
)

type fakeFinder struct {
	result *sources.Result
	reason string
	calls  int
}

func (f *fakeFinder) FindYear(context.Context, sources.Query) (*sources.Result, string, error) {
	f.calls++
	return f.result, f.reason, nil
}

type harness struct {
	dir      string
	fake     *agent.Fake
	snap     *snapshot.Service
	pending  *pending.Store
	finder   *fakeFinder
	pipeline *Pipeline
	cfg      *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	libFile := filepath.Join(dir, "Library.musicdb")
	if err := os.WriteFile(libFile, []byte("library"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Paths.CacheDir = dir
	cfg.Paths.CSVFile = filepath.Join(dir, "track_list.csv")
	cfg.Library.LibraryFile = libFile
	cfg.Genres.Enabled = false

	fake := agent.NewFake()
	snap := snapshot.NewService(snapshot.Options{
		Dir:           dir,
		LibraryFile:   libFile,
		MaxAge:        24 * time.Hour,
		ForceInterval: 7 * 24 * time.Hour,
	}, fake)
	pend := pending.New("", 7, 100)
	finder := &fakeFinder{}

	p := New(Deps{
		Config:     &cfg,
		Agent:      fake,
		Snapshot:   snap,
		Projection: tracklist.New(cfg.Paths.CSVFile),
		Pending:    pend,
		AlbumCache: cache.NewAlbumCache(time.Hour, 100, ""),
		Finder:     finder,
		Reporter:   report.Noop{},
	})
	return &harness{dir: dir, fake: fake, snap: snap, pending: pend, finder: finder, pipeline: p, cfg: &cfg}
}

// settledTrack has a stable dominant year so the year step resolves without
// consulting the finder.
func settledTrack(id, name, artist, album string) track.Track {
	return track.Track{
		ID:          id,
		Name:        name,
		Artist:      artist,
		Album:       album,
		Year:        "1994",
		DateAdded:   "2015-03-01 10:00:00",
		TrackStatus: track.StatusPurchased,
	}
}

func (h *harness) lastRunExists() bool {
	_, err := os.Stat(filepath.Join(h.dir, LastRunFile))
	return err == nil
}

func TestRunFreshCleansAndPersists(t *testing.T) {
	h := newHarness(t)
	h.fake.SetTracks(
		settledTrack("1", "Song (Remastered)", "Artist", "Album"),
		settledTrack("2", "Plain", "Artist", "Album"),
	)

	sum, err := h.pipeline.Run(t.Context(), Options{Fresh: true})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Mode != ModeFresh {
		t.Errorf("Mode = %q, want fresh", sum.Mode)
	}
	if sum.TracksSeen != 2 || sum.TracksProcessed != 2 {
		t.Errorf("seen/processed = %d/%d, want 2/2", sum.TracksSeen, sum.TracksProcessed)
	}
	if sum.Changes != 1 || sum.Errors != 0 {
		t.Errorf("changes/errors = %d/%d, want 1/0", sum.Changes, sum.Errors)
	}

	if h.fake.Tracks()[0].Name != "Song" {
		t.Error("name not cleaned through the agent")
	}
	if _, err := os.Stat(sum.ReportPath); err != nil {
		t.Errorf("report file missing: %v", err)
	}
	if _, err := os.Stat(h.cfg.Paths.CSVFile); err != nil {
		t.Errorf("projection not synced: %v", err)
	}
	if !h.snap.Valid() {
		t.Error("snapshot not persisted as valid")
	}
	if !h.lastRunExists() {
		t.Error("last-run timestamp not written")
	}
}

func TestRunIncrementalEmptyDeltaExitsEarly(t *testing.T) {
	h := newHarness(t)
	tracks := []track.Track{settledTrack("1", "Song (Remastered)", "Artist", "Album")}
	h.fake.SetTracks(tracks...)
	if err := h.snap.Save(tracks, h.snap.LibraryMtime()); err != nil {
		t.Fatal(err)
	}

	sum, err := h.pipeline.Run(t.Context(), Options{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.TracksProcessed != 0 || sum.Changes != 0 {
		t.Errorf("processed/changes = %d/%d on empty delta", sum.TracksProcessed, sum.Changes)
	}
	if len(h.fake.PropertyWrites) != 0 {
		t.Error("writes issued despite empty delta")
	}
	if h.lastRunExists() {
		t.Error("last-run timestamp updated on empty delta")
	}
}

func TestRunIncrementalCleansOnlyDelta(t *testing.T) {
	h := newHarness(t)
	old := settledTrack("1", "Old (Remastered)", "Artist", "Album")
	h.fake.SetTracks(old)
	if err := h.snap.Save([]track.Track{old}, h.snap.LibraryMtime()); err != nil {
		t.Fatal(err)
	}

	added := settledTrack("2", "New (Remastered)", "Artist", "Album")
	h.fake.SetTracks(old, added)

	sum, err := h.pipeline.Run(t.Context(), Options{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Mode != ModeIncremental {
		t.Errorf("Mode = %q", sum.Mode)
	}
	if sum.TracksProcessed != 1 {
		t.Errorf("TracksProcessed = %d, want only the new track", sum.TracksProcessed)
	}

	got := h.fake.Tracks()
	if got[0].Name != "Old (Remastered)" {
		t.Error("out-of-scope track was cleaned")
	}
	if got[1].Name != "New" {
		t.Error("in-scope track was not cleaned")
	}
	if !h.lastRunExists() {
		t.Error("last-run timestamp not written after processing")
	}
}

func TestRunStaleSnapshotFallsBackToFullScan(t *testing.T) {
	h := newHarness(t)
	h.fake.SetTracks(settledTrack("1", "Song (Remastered)", "Artist", "Album"))

	sum, err := h.pipeline.Run(t.Context(), Options{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Mode != ModeFresh {
		t.Errorf("Mode = %q, want fresh fallback with no snapshot", sum.Mode)
	}
	if sum.TracksProcessed != 1 {
		t.Errorf("TracksProcessed = %d, want 1", sum.TracksProcessed)
	}
}

func TestRunDryRunPersistsNothing(t *testing.T) {
	h := newHarness(t)
	h.fake.SetTracks(settledTrack("1", "Song (Remastered)", "Artist", "Album"))

	sum, err := h.pipeline.Run(t.Context(), Options{Fresh: true, DryRun: true})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Changes != 1 {
		t.Errorf("Changes = %d, want the would-be change recorded", sum.Changes)
	}
	if len(h.fake.PropertyWrites) != 0 {
		t.Error("dry run wrote through the agent")
	}
	if _, err := os.Stat(h.cfg.Paths.CSVFile); err == nil {
		t.Error("dry run synced the projection")
	}
	if h.snap.Valid() {
		t.Error("dry run persisted a snapshot")
	}
	if h.lastRunExists() {
		t.Error("dry run updated the last-run timestamp")
	}
}

func TestRunFilteredDoesNotClobberSnapshot(t *testing.T) {
	h := newHarness(t)
	other := settledTrack("1", "Other", "Someone Else", "Elsewhere")
	mine := settledTrack("2", "Song (Remastered)", "Artist", "Album")
	h.fake.SetTracks(other, mine)
	if err := h.snap.Save([]track.Track{other, mine}, h.snap.LibraryMtime()); err != nil {
		t.Fatal(err)
	}

	if _, err := h.pipeline.Run(t.Context(), Options{Artist: "Artist"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	stored, _, err := h.snap.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("snapshot has %d tracks after filtered run, want the full 2", len(stored))
	}
}

func TestRevertYears(t *testing.T) {
	h := newHarness(t)
	tr := settledTrack("1", "Song", "Artist", "Album")
	tr.Year = "2020"
	h.fake.SetTracks(tr)

	stored := tr
	stored.YearBeforeMGU = "1994"
	stored.YearSetByMGU = "2020"
	if err := tracklist.New(h.cfg.Paths.CSVFile).Write([]track.Track{stored}); err != nil {
		t.Fatal(err)
	}

	sum, err := h.pipeline.RevertYears(t.Context(), Options{Artist: "Artist"})
	if err != nil {
		t.Fatalf("RevertYears() error: %v", err)
	}
	if sum.TracksProcessed != 1 {
		t.Fatalf("TracksProcessed = %d, want 1", sum.TracksProcessed)
	}
	if got := h.fake.Tracks()[0].Year; got != "1994" {
		t.Errorf("year = %q after revert, want 1994", got)
	}
}

func TestVerifyPendingResolvesDueEntry(t *testing.T) {
	h := newHarness(t)
	h.fake.SetTracks(
		settledTrack("1", "One", "Artist", "Album"),
		settledTrack("2", "Two", "Artist", "Album"),
	)
	// Mixed library years force the resolver to the finder.
	tracks := h.fake.Tracks()
	tracks[0].Year = "2003"
	tracks[1].Year = "2011"
	h.fake.SetTracks(tracks...)

	if err := h.pending.MarkForVerification("Artist", "Album", pending.ReasonNoYearFound, nil, 0); err != nil {
		t.Fatal(err)
	}
	h.finder.result = &sources.Result{Year: "1999", Score: 90, Source: "musicbrainz"}

	sum, err := h.pipeline.VerifyPending(t.Context(), Options{Force: true})
	if err != nil {
		t.Fatalf("VerifyPending() error: %v", err)
	}
	if h.finder.calls == 0 {
		t.Fatal("finder never consulted")
	}
	if sum.Changes == 0 {
		t.Error("no changes recorded for resolved pending entry")
	}
	if h.pending.IsVerificationNeeded("Artist", "Album") {
		t.Error("entry still pending after clean resolution")
	}
	if len(h.fake.YearWrites) == 0 {
		t.Error("resolved year not written through the agent")
	}
}

func TestVerifyPendingDropsVanishedAlbum(t *testing.T) {
	h := newHarness(t)
	if err := h.pending.MarkForVerification("Gone", "Album", pending.ReasonNoYearFound, nil, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := h.pipeline.VerifyPending(t.Context(), Options{Force: true}); err != nil {
		t.Fatalf("VerifyPending() error: %v", err)
	}
	if h.pending.IsVerificationNeeded("Gone", "Album") {
		t.Error("entry for vanished album not dropped")
	}
}

func TestVerifyDBRemovesAbsentTracks(t *testing.T) {
	h := newHarness(t)
	present := settledTrack("1", "Here", "Artist", "Album")
	gone := settledTrack("2", "Gone", "Artist", "Album")
	h.fake.SetTracks(present)
	h.fake.Missing["2"] = true
	if err := tracklist.New(h.cfg.Paths.CSVFile).Write([]track.Track{present, gone}); err != nil {
		t.Fatal(err)
	}

	res, err := h.pipeline.VerifyDB(t.Context(), true)
	if err != nil {
		t.Fatalf("VerifyDB() error: %v", err)
	}
	if res.Removed != 1 {
		t.Errorf("Removed = %d, want 1", res.Removed)
	}

	rows, err := tracklist.New(h.cfg.Paths.CSVFile).Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "1" {
		t.Errorf("projection rows = %+v, want only track 1", rows)
	}
}
