package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// schemaV1 is the initial schema for the trace store. Round snapshots are
// stored as JSON blobs; runs carry the queryable metadata.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    seed INTEGER NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    rounds INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rounds (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    round INTEGER NOT NULL,
    snapshot TEXT NOT NULL,  -- JSON RoundSnapshot
    PRIMARY KEY (run_id, round)
);

CREATE INDEX IF NOT EXISTS idx_rounds_run ON rounds(run_id);
`

// Store persists runs and round snapshots in SQLite.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenStore opens (creating if needed) the trace database at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing trace schema: %w", err)
	}
	return &Store{db: db}, nil
}

// BeginRun registers a run before its first round.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, seed, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Seed, run.Status, run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("registering run %s: %w", run.ID, err)
	}
	return nil
}

// AppendRound persists one round snapshot and bumps the run's round count.
func (s *Store) AppendRound(ctx context.Context, runID string, snap RoundSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding round %d: %w", snap.Round, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rounds (run_id, round, snapshot) VALUES (?, ?, ?)`,
		runID, snap.Round, string(data)); err != nil {
		return fmt.Errorf("persisting round %d: %w", snap.Round, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET rounds = rounds + 1 WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	return tx.Commit()
}

// FinishRun records the final status. A failed run keeps its partial rounds.
func (s *Store) FinishRun(ctx context.Context, runID, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC().Format(time.RFC3339Nano), runID)
	return err
}

// RunMeta is the queryable run metadata.
type RunMeta struct {
	ID         string `json:"id"`
	Seed       int64  `json:"seed"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Rounds     int    `json:"rounds"`
}

// ListRuns returns run metadata, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]RunMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seed, status, COALESCE(error, ''), started_at, COALESCE(finished_at, ''), rounds
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunMeta
	for rows.Next() {
		var m RunMeta
		if err := rows.Scan(&m.ID, &m.Seed, &m.Status, &m.Error, &m.StartedAt, &m.FinishedAt, &m.Rounds); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadRun reads a full run with its rounds in order.
func (s *Store) LoadRun(ctx context.Context, runID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var run Run
	var startedAt, finishedAt, errMsg string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, seed, status, COALESCE(error, ''), started_at, COALESCE(finished_at, '')
		 FROM runs WHERE id = ?`, runID).
		Scan(&run.ID, &run.Seed, &run.Status, &errMsg, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return run, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return run, err
	}
	run.Error = errMsg
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		run.StartedAt = t
	}
	if finishedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			run.FinishedAt = t
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot FROM rounds WHERE run_id = ? ORDER BY round`, runID)
	if err != nil {
		return run, err
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return run, err
		}
		var snap RoundSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return run, fmt.Errorf("decoding round snapshot: %w", err)
		}
		run.Rounds = append(run.Rounds, snap)
	}
	return run, rows.Err()
}

// LatestRunID returns the most recently started run's ID.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no runs recorded")
	}
	return id, err
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
