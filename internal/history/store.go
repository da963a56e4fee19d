// Package history persists a record of dispatched inspection jobs in
// SQLite. Conversation sessions are deliberately not persisted; job
// runs are, so operators can audit what ran and why it failed.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"inspectbot/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)

// Run is one dispatched job.
type Run struct {
	ID          string
	Platform    string
	Participant string
	Params      domain.JobParameters
	Status      string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store wraps the SQLite database holding job runs.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_runs (
		id           TEXT PRIMARY KEY,
		platform     TEXT NOT NULL,
		participant  TEXT NOT NULL,
		params       TEXT NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT,
		started_at   DATETIME NOT NULL,
		finished_at  DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StartRun records a newly dispatched job and returns its id.
func (s *Store) StartRun(ctx context.Context, platform, participant string, params domain.JobParameters) (string, error) {
	id := uuid.NewString()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, platform, participant, params, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, platform, participant, string(paramsJSON), RunRunning, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run done or failed. Best-effort: callers log and move on.
func (s *Store) FinishRun(ctx context.Context, id, status, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errText, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, participant, params, status, COALESCE(error, ''), started_at, COALESCE(finished_at, started_at)
		 FROM job_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var paramsJSON string
		if err := rows.Scan(&r.ID, &r.Platform, &r.Participant, &paramsJSON, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
			s.logger.Warn("corrupt params in job run", "id", r.ID, "err", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
