package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/runlog/internal/event"
)

// CreateRun inserts a new open run. The run's End must be zero.
func (s *Store) CreateRun(ctx context.Context, run event.Run) error {
	if run.Closed() {
		return fmt.Errorf("create run %s: run must be created open", run.ID)
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO runs (id, start_ns, end_ns, config_hash, created_ns)
		VALUES (?, ?, NULL, ?, ?)
	`, run.ID, run.Start.UnixNano(), run.ConfigHash, createdAt.UnixNano())
	if err != nil {
		if errors.Is(classify(err), ErrDuplicateEvent) {
			return fmt.Errorf("create run %s: %w", run.ID, ErrRunExists)
		}
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// CloseRun records the run's end time, ending its write phase. The end must
// not precede the run's start.
func (s *Store) CloseRun(ctx context.Context, runID string, end time.Time) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("close run: begin tx: %w", err)
	}
	defer tx.Rollback()

	var startNs int64
	var endNs sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT start_ns, end_ns FROM runs WHERE id = ?`, runID).Scan(&startNs, &endNs)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("close run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return fmt.Errorf("close run %s: %w", runID, err)
	}
	if endNs.Valid {
		return fmt.Errorf("close run %s: %w", runID, ErrRunClosed)
	}
	if end.UnixNano() < startNs {
		return fmt.Errorf("close run %s: %w", runID, ErrInvalidEnd)
	}

	var latestNs sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT MAX(ts) FROM events WHERE run_id = ?`, runID).Scan(&latestNs)
	if err != nil {
		return fmt.Errorf("close run %s: latest event: %w", runID, err)
	}
	if latestNs.Valid && end.UnixNano() < latestNs.Int64 {
		latest := time.Unix(0, latestNs.Int64).UTC()
		return fmt.Errorf("close run %s: end is before latest event at %s: %w", runID, event.FormatTime(latest), ErrInvalidEnd)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET end_ns = ? WHERE id = ?`, end.UnixNano(), runID); err != nil {
		return fmt.Errorf("close run %s: %w", runID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("close run %s: commit: %w", runID, err)
	}
	return nil
}

// ReadRun retrieves a run by id.
func (s *Store) ReadRun(ctx context.Context, runID string) (event.Run, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, start_ns, end_ns, config_hash, created_ns
		FROM runs
		WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Run{}, fmt.Errorf("read run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return event.Run{}, fmt.Errorf("read run %s: %w", runID, err)
	}
	return run, nil
}

// QueryableRun returns the run if it exists and its end time is recorded.
func (s *Store) QueryableRun(ctx context.Context, runID string) (event.Run, error) {
	run, err := s.ReadRun(ctx, runID)
	if err != nil {
		return event.Run{}, err
	}
	if !run.Closed() {
		return event.Run{}, fmt.Errorf("run %s: %w", runID, ErrRunOpen)
	}
	return run, nil
}

// ListRuns returns every run ordered by start time, then id.
// Returns an empty slice (not nil) if the store holds no runs.
func (s *Store) ListRuns(ctx context.Context) ([]event.Run, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, start_ns, end_ns, config_hash, created_ns
		FROM runs
		ORDER BY start_ns ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []event.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run and, by cascade, all of its events. It returns the
// number of events removed. This is an administrative operation outside the
// normal write/read phases.
func (s *Store) DeleteRun(ctx context.Context, runID string) (int64, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete run: begin tx: %w", err)
	}
	defer tx.Rollback()

	var events int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run_id = ?`, runID).Scan(&events); err != nil {
		return 0, fmt.Errorf("delete run %s: count events: %w", runID, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("delete run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete run %s: rows affected: %w", runID, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("delete run %s: %w", runID, ErrRunNotFound)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete run %s: commit: %w", runID, err)
	}
	s.logger.Info("run deleted", "run_id", runID, "events", events)
	return events, nil
}

func scanRun(row scanner) (event.Run, error) {
	var run event.Run
	var startNs, createdNs int64
	var endNs sql.NullInt64
	if err := row.Scan(&run.ID, &startNs, &endNs, &run.ConfigHash, &createdNs); err != nil {
		return event.Run{}, err
	}
	run.Start = fromNanos(startNs)
	run.CreatedAt = fromNanos(createdNs)
	if endNs.Valid {
		run.End = fromNanos(endNs.Int64)
	}
	return run, nil
}
