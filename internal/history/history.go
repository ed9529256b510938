// Package history persists runs and their results in SQLite so that flaky
// tests and drift trends can be inspected across runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/pkg/dbopen"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/snapdiff/internal/report"
)

// Schema for the runs and results tables.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	passed      INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	flaky       INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	finished    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS results (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	suite        TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	slug         TEXT NOT NULL,
	project      TEXT NOT NULL,
	path         TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempts     INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	diff_pixels  INTEGER NOT NULL DEFAULT 0,
	diff_ratio   REAL NOT NULL DEFAULT 0,
	warnings     TEXT NOT NULL DEFAULT '[]',
	artifacts    TEXT NOT NULL DEFAULT '[]',
	completed_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, suite, slug, project)
);

CREATE INDEX IF NOT EXISTS idx_results_slug ON results(slug, project, completed_at);
`

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("history: not found")

// Store reads and writes run history. It implements report.Sink.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an open database. The schema is applied.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// BeginRun registers a run so results can reference it.
func (s *Store) BeginRun(ctx context.Context, id string, started time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, started.UnixMilli())
	if err != nil {
		return fmt.Errorf("history: begin run: %w", err)
	}
	return nil
}

// Record stores one result, creating its run row if needed.
func (s *Store) Record(ctx context.Context, r report.Result) error {
	warnings, _ := json.Marshal(nonNil(r.Warnings))
	artifacts, _ := json.Marshal(nonNil(r.Artifacts))
	completed := r.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	if err := s.BeginRun(ctx, r.RunID, completed); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (run_id, suite, title, slug, project, path, status, attempts,
		                     duration_ms, error, diff_pixels, diff_ratio, warnings, artifacts, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, suite, slug, project) DO UPDATE SET
			status = excluded.status, attempts = excluded.attempts,
			duration_ms = excluded.duration_ms, error = excluded.error,
			diff_pixels = excluded.diff_pixels, diff_ratio = excluded.diff_ratio,
			warnings = excluded.warnings, artifacts = excluded.artifacts,
			completed_at = excluded.completed_at`,
		r.RunID, r.Suite, r.Title, r.Slug, r.Project, r.Path, string(r.Status), r.Attempts,
		r.Duration.Milliseconds(), r.Error, r.DiffPixels, r.DiffRatio,
		string(warnings), string(artifacts), completed.UnixMilli())
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Finish stores the run summary.
func (s *Store) Finish(ctx context.Context, sum report.Summary) error {
	if err := s.BeginRun(ctx, sum.RunID, sum.Started); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET duration_ms = ?, passed = ?, failed = ?, flaky = ?, skipped = ?, finished = 1
		WHERE id = ?`,
		sum.Duration.Milliseconds(), sum.Passed, sum.Failed, sum.Flaky, sum.Skipped, sum.RunID)
	if err != nil {
		return fmt.Errorf("history: finish: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Runs lists the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]report.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, passed, failed, flaky, skipped
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: runs: %w", err)
	}
	defer rows.Close()

	var out []report.Summary
	for rows.Next() {
		sum, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Run returns one run summary with its results.
func (s *Store) Run(ctx context.Context, id string) (report.Summary, []report.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, duration_ms, passed, failed, flaky, skipped
		FROM runs WHERE id = ?`, id)
	sum, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return report.Summary{}, nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return report.Summary{}, nil, err
	}
	results, err := s.query(ctx, `WHERE run_id = ? ORDER BY title, project`, id)
	if err != nil {
		return report.Summary{}, nil, err
	}
	return sum, results, nil
}

// TestHistory returns the latest results of one test in one project,
// newest first.
func (s *Store) TestHistory(ctx context.Context, slug, project string, limit int) ([]report.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `WHERE slug = ? AND project = ? ORDER BY completed_at DESC LIMIT ?`, slug, project, limit)
}

// Flaky returns the slugs/projects that were flaky or failed in at least
// minCount of the last runs.
func (s *Store) Flaky(ctx context.Context, lastRuns, minCount int) ([]FlakyTest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, project, COUNT(*) AS n
		FROM results
		WHERE status IN ('flaky', 'failed')
		  AND run_id IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)
		GROUP BY slug, project
		HAVING n >= ?
		ORDER BY n DESC, slug, project`, lastRuns, minCount)
	if err != nil {
		return nil, fmt.Errorf("history: flaky: %w", err)
	}
	defer rows.Close()
	var out []FlakyTest
	for rows.Next() {
		var f FlakyTest
		if err := rows.Scan(&f.Slug, &f.Project, &f.Count); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FlakyTest is an unstable test reported by Flaky.
type FlakyTest struct {
	Slug    string `json:"slug"`
	Project string `json:"project"`
	Count   int    `json:"count"`
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]report.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, suite, title, slug, project, path, status, attempts, duration_ms,
		       error, diff_pixels, diff_ratio, warnings, artifacts, completed_at
		FROM results `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query results: %w", err)
	}
	defer rows.Close()

	var out []report.Result
	for rows.Next() {
		var (
			r                   report.Result
			status              string
			durMs, completedMs  int64
			warnings, artifacts string
		)
		if err := rows.Scan(&r.RunID, &r.Suite, &r.Title, &r.Slug, &r.Project, &r.Path, &status,
			&r.Attempts, &durMs, &r.Error, &r.DiffPixels, &r.DiffRatio, &warnings, &artifacts,
			&completedMs); err != nil {
			return nil, err
		}
		r.Status = report.Status(status)
		r.Duration = time.Duration(durMs) * time.Millisecond
		r.CompletedAt = time.UnixMilli(completedMs)
		json.Unmarshal([]byte(warnings), &r.Warnings)
		json.Unmarshal([]byte(artifacts), &r.Artifacts)
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (report.Summary, error) {
	var (
		sum          report.Summary
		startMs, dMs int64
	)
	if err := sc.Scan(&sum.RunID, &startMs, &dMs, &sum.Passed, &sum.Failed, &sum.Flaky, &sum.Skipped); err != nil {
		return report.Summary{}, err
	}
	sum.Started = time.UnixMilli(startMs)
	sum.Duration = time.Duration(dMs) * time.Millisecond
	return sum, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
