// Package runlog keeps a SQLite ledger of past runs. It is bookkeeping
// only: every failure here is logged and swallowed so a broken ledger can
// never fail a sync run.
package runlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	l "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "runlog"})

const schemaVersion = 1

// Run is one recorded pipeline run.
type Run struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Mode            string
	TracksSeen      int
	TracksProcessed int
	Changes         int
	Errors          int
	// ChangeCounts buckets the run's changes by type.
	ChangeCounts map[string]int
}

// Ledger owns the history database. A nil *Ledger is a valid no-op, which
// is how [history].enabled = false is implemented.
type Ledger struct {
	db       *sql.DB
	keepRuns int
}

// Open opens (and if needed creates) the ledger database. keepRuns bounds
// retained history.
func Open(path string, keepRuns int) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	if keepRuns <= 0 {
		keepRuns = 200
	}
	return &Ledger{db: db, keepRuns: keepRuns}, nil
}

// Close closes the database.
func (g *Ledger) Close() error {
	if g == nil {
		return nil
	}
	return g.db.Close()
}

func initSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			mode TEXT NOT NULL,
			tracks_seen INTEGER NOT NULL,
			tracks_processed INTEGER NOT NULL,
			changes INTEGER NOT NULL,
			errors INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_changes (
			run_id TEXT NOT NULL REFERENCES runs(id),
			change_type TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (run_id, change_type)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init ledger schema: %w", err)
		}
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if n == 0 {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	}
	return nil
}

// withTx executes fn within a transaction, rolling back on error.
func (g *Ledger) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := g.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback on error is intentional

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Record writes one run and its per-type change counts in a single
// transaction, then prunes history beyond the retention bound. Errors are
// logged, never returned: the ledger must not fail the run. Safe on nil.
func (g *Ledger) Record(run Run) {
	if g == nil {
		return
	}
	err := g.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO runs (id, started_at, finished_at, mode,
				tracks_seen, tracks_processed, changes, errors)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			run.StartedAt.UTC().Format(time.RFC3339),
			run.FinishedAt.UTC().Format(time.RFC3339),
			run.Mode,
			run.TracksSeen,
			run.TracksProcessed,
			run.Changes,
			run.Errors,
		); err != nil {
			return err
		}

		types := make([]string, 0, len(run.ChangeCounts))
		for t := range run.ChangeCounts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			if _, err := tx.Exec(
				"INSERT INTO run_changes (run_id, change_type, count) VALUES (?, ?, ?)",
				run.ID, t, run.ChangeCounts[t],
			); err != nil {
				return err
			}
		}

		_, err := tx.Exec(
			`DELETE FROM run_changes WHERE run_id IN (
				SELECT id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
			)`, g.keepRuns)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`DELETE FROM runs WHERE id IN (
				SELECT id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
			)`, g.keepRuns)
		return err
	})
	if err != nil {
		log.WithField("err", err).Warn("could not record run in history ledger")
	}
}

// Recent returns the most recent runs, newest first, with their change
// counts attached. Safe on nil.
func (g *Ledger) Recent(limit int) ([]Run, error) {
	if g == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := g.db.Query(
		`SELECT id, started_at, finished_at, mode,
			tracks_seen, tracks_processed, changes, errors
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Mode,
			&r.TracksSeen, &r.TracksProcessed, &r.Changes, &r.Errors); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		r.ChangeCounts = make(map[string]int)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for i := range runs {
		crows, err := g.db.Query(
			"SELECT change_type, count FROM run_changes WHERE run_id = ?", runs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("query run changes: %w", err)
		}
		for crows.Next() {
			var t string
			var n int
			if err := crows.Scan(&t, &n); err != nil {
				crows.Close()
				return nil, fmt.Errorf("scan run change: %w", err)
			}
			runs[i].ChangeCounts[t] = n
		}
		if err := crows.Err(); err != nil {
			crows.Close()
			return nil, fmt.Errorf("iterate run changes: %w", err)
		}
		crows.Close()
	}
	return runs, nil
}
