package runlog

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestLedger(t *testing.T, keepRuns int) *Ledger {
	t.Helper()
	g, err := Open(filepath.Join(t.TempDir(), "history.db"), keepRuns)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func testRun(id string, started time.Time) Run {
	return Run{
		ID:              id,
		StartedAt:       started,
		FinishedAt:      started.Add(time.Minute),
		Mode:            "incremental",
		TracksSeen:      100,
		TracksProcessed: 10,
		Changes:         4,
		Errors:          1,
		ChangeCounts: map[string]int{
			"year_update":  3,
			"genre_update": 1,
		},
	}
}

func TestRecordAndRecent(t *testing.T) {
	g := openTestLedger(t, 10)
	started := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	g.Record(testRun("run-1", started))

	runs, err := g.Recent(5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Recent() returned %d runs, want 1", len(runs))
	}
	r := runs[0]
	if r.ID != "run-1" || r.Mode != "incremental" {
		t.Errorf("run = %+v", r)
	}
	if !r.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", r.StartedAt, started)
	}
	if r.TracksSeen != 100 || r.Changes != 4 || r.Errors != 1 {
		t.Errorf("counters = %+v", r)
	}
	if r.ChangeCounts["year_update"] != 3 || r.ChangeCounts["genre_update"] != 1 {
		t.Errorf("ChangeCounts = %v", r.ChangeCounts)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	g := openTestLedger(t, 10)
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	g.Record(testRun("old", base))
	g.Record(testRun("new", base.Add(time.Hour)))

	runs, err := g.Recent(5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "old" {
		t.Errorf("order = %v", []string{runs[0].ID, runs[1].ID})
	}
}

func TestRecordPrunesBeyondKeepRuns(t *testing.T) {
	g := openTestLedger(t, 3)
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	for i := range 5 {
		g.Record(testRun(
			string(rune('a'+i)),
			base.Add(time.Duration(i)*time.Hour),
		))
	}

	runs, err := g.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("kept %d runs, want 3", len(runs))
	}
	if runs[0].ID != "e" || runs[2].ID != "c" {
		t.Errorf("kept runs = %v, want the three newest",
			[]string{runs[0].ID, runs[1].ID, runs[2].ID})
	}
	for _, r := range runs {
		if len(r.ChangeCounts) == 0 {
			t.Errorf("run %s lost its change counts during pruning", r.ID)
		}
	}
}

func TestNilLedgerIsNoop(t *testing.T) {
	var g *Ledger
	g.Record(testRun("x", time.Now()))
	runs, err := g.Recent(5)
	if err != nil || runs != nil {
		t.Errorf("Recent() = %v, %v on nil ledger", runs, err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close() = %v on nil ledger", err)
	}
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	g, err := Open(path, 10)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	g.Record(testRun("persisted", time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)))
	if err := g.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	g2, err := Open(path, 10)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer g2.Close()
	runs, err := g2.Recent(5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "persisted" {
		t.Errorf("runs after reopen = %+v", runs)
	}
}
