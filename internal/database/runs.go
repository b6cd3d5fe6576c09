package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses beyond the updater outcomes.
const RunStatusRunning = "running"

// Run is one recorded updater run.
type Run struct {
	ID               string       `db:"id"`
	Dataset          string       `db:"dataset"`
	Table            string       `db:"table_name"`
	StartedAt        time.Time    `db:"started_at"`
	FinishedAt       sql.NullTime `db:"finished_at"`
	Status           string       `db:"status"`
	RecordsProcessed int          `db:"records_processed"`
	Message          string       `db:"message"`
	Checksum         string       `db:"checksum"`
	Error            string       `db:"error"`
}

// Duration returns how long the run took, or zero if it has not finished.
func (r *Run) Duration() time.Duration {
	if !r.FinishedAt.Valid {
		return 0
	}
	return r.FinishedAt.Time.Sub(r.StartedAt)
}

// CreateRun inserts a run in the running state.
func (s *SQLiteStore) CreateRun(ctx context.Context, id, dataset, table string, startedAt time.Time) (*Run, error) {
	run := &Run{
		ID:        id,
		Dataset:   dataset,
		Table:     table,
		StartedAt: startedAt,
		Status:    RunStatusRunning,
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO update_runs (id, dataset, table_name, started_at, status)
		VALUES (:id, :dataset, :table_name, :started_at, :status)`, run)
	if err != nil {
		return nil, fmt.Errorf("creating update run: %w", err)
	}
	return run, nil
}

// FinishRun records the terminal state of run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE update_runs
		SET finished_at = :finished_at,
		    status = :status,
		    records_processed = :records_processed,
		    message = :message,
		    checksum = :checksum,
		    error = :error
		WHERE id = :id`, run)
	if err != nil {
		return fmt.Errorf("finishing update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finishing update run: no run with id %s", run.ID)
	}
	return nil
}

// FindRun returns the run with id, or nil if none.
func (s *SQLiteStore) FindRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run, `SELECT * FROM update_runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding update run: %w", err)
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first. dataset filters when non-empty.
func (s *SQLiteStore) ListRuns(ctx context.Context, dataset string, limit int) ([]*Run, error) {
	var runs []*Run
	var err error
	if dataset == "" {
		err = s.db.SelectContext(ctx, &runs,
			`SELECT * FROM update_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &runs,
			`SELECT * FROM update_runs WHERE dataset = ? ORDER BY started_at DESC, id DESC LIMIT ?`, dataset, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing update runs: %w", err)
	}
	return runs, nil
}
