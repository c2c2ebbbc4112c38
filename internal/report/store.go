// Package report persists harness run history in SQLite so past conformance
// outcomes can be compared across invocations.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LeonWang0735/s3s-conformance/internal/harness"
	_ "modernc.org/sqlite"
)

// Store records harness reports in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			started_at_ms INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			run_id TEXT NOT NULL,
			backend TEXT NOT NULL,
			succeeded INTEGER NOT NULL,
			failure_kind TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			output TEXT NOT NULL DEFAULT '',
			teardown_failure TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, backend),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create results table: %w", err)
	}
	return nil
}

// Record appends one harness report to the history.
func (s *Store) Record(ctx context.Context, rep harness.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, started_at_ms, duration_ms) VALUES (?, ?, ?, ?)
	`, rep.RunID, rep.Scenario, rep.StartedAt.UnixMilli(), rep.Duration.Milliseconds())
	if err != nil {
		return err
	}

	for _, res := range rep.Results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO results (run_id, backend, succeeded, failure_kind, detail, output, teardown_failure, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, rep.RunID, res.Backend, boolToInt(res.Succeeded), string(res.FailureKind),
			res.Detail, res.Output, res.TeardownFailure, res.Duration.Milliseconds())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RunSummary is one historical harness invocation.
type RunSummary struct {
	RunID     string
	Scenario  string
	StartedAt time.Time
	Duration  time.Duration
	Passed    int
	Total     int
}

// RecentRuns returns the latest n runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, n int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.scenario, r.started_at_ms, r.duration_ms,
		       COALESCE(SUM(res.succeeded), 0), COUNT(res.backend)
		FROM runs r
		LEFT JOIN results res ON res.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at_ms DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rs RunSummary
		var startedMS, durMS int64
		if err := rows.Scan(&rs.RunID, &rs.Scenario, &startedMS, &durMS, &rs.Passed, &rs.Total); err != nil {
			return nil, err
		}
		rs.StartedAt = time.UnixMilli(startedMS)
		rs.Duration = time.Duration(durMS) * time.Millisecond
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

// ResultsForRun returns the per-backend results of one run, ordered by backend.
func (s *Store) ResultsForRun(ctx context.Context, runID string) ([]harness.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT backend, succeeded, failure_kind, detail, output, teardown_failure, duration_ms
		FROM results WHERE run_id = ? ORDER BY backend
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []harness.Result
	for rows.Next() {
		var res harness.Result
		var succeeded int
		var kind string
		var durMS int64
		if err := rows.Scan(&res.Backend, &succeeded, &kind, &res.Detail, &res.Output, &res.TeardownFailure, &durMS); err != nil {
			return nil, err
		}
		res.Succeeded = succeeded != 0
		res.FailureKind = harness.FailureKind(kind)
		res.Duration = time.Duration(durMS) * time.Millisecond
		results = append(results, res)
	}
	return results, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
