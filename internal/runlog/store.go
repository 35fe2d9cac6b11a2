// SPDX-License-Identifier: MIT

// Package runlog persists per-run summaries to a local sqlite database.
// The stored status keeps the no-data vs steady-state distinction, which
// is what operators diagnose broken integrations from.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/th0ma7/gracenote2epg/internal/log"
)

// Run is one persisted pipeline run.
type Run struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"duration"`
	Status    string          `json:"status"`
	Summary   json.RawMessage `json:"summary"`
}

// Store is the sqlite-backed run history.
type Store struct {
	db *sql.DB
}

// Open initializes the database and runs migrations. WAL plus a busy
// timeout keeps the daemon's API reads from colliding with run writes.
func Open(path string) (*Store, error) {
	// modernc.org/sqlite takes pragmas as _pragma=name(value) DSN params.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("runlog: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runlog: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger := log.WithComponent("runlog")
	logger.Debug().Str(log.FieldPath, path).Msg("run history opened")
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	status      TEXT NOT NULL,
	summary     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("runlog: migrate: %w", err)
	}
	return nil
}

// Record stores one finished run. summary may be any JSON-marshalable
// value; pass the pipeline's run summary.
func (s *Store) Record(ctx context.Context, id string, startedAt time.Time, duration time.Duration, status string, summary any) error {
	blob, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("runlog: marshal summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, duration_ms, status, summary) VALUES (?, ?, ?, ?, ?)`,
		id, startedAt.UnixMilli(), duration.Milliseconds(), status, string(blob),
	)
	if err != nil {
		return fmt.Errorf("runlog: record run %s: %w", id, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, status, summary FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("runlog: query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterate runs: %w", err)
	}
	return out, nil
}

// Last returns the most recent run, or nil when none is recorded yet.
func (s *Store) Last(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, duration_ms, status, summary FROM runs ORDER BY started_at DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// PruneOlderThan deletes runs started before cutoff and returns how many
// were removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("runlog: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r          Run
		startedMS  int64
		durationMS int64
		summary    string
	)
	if err := row.Scan(&r.ID, &startedMS, &durationMS, &r.Status, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("runlog: scan run: %w", err)
	}
	r.StartedAt = time.UnixMilli(startedMS).UTC()
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.Summary = json.RawMessage(summary)
	return r, nil
}
