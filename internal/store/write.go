package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/runlog/internal/event"
)

// AppendBatch inserts events for one open run in a single transaction.
// Either every event commits or none does.
//
// Integrity failures are reported with store sentinels: ErrRunNotFound,
// ErrRunClosed, ErrRunMismatch and ErrDuplicateEvent. Use IsIntegrity to tell
// them apart from transient failures.
func (s *Store) AppendBatch(ctx context.Context, runID string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append batch: begin tx: %w", err)
	}
	defer tx.Rollback()

	var endNs sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT end_ns FROM runs WHERE id = ?`, runID).Scan(&endNs)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("append batch to %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return fmt.Errorf("append batch to %s: %w", runID, err)
	}
	if endNs.Valid {
		return fmt.Errorf("append batch to %s: %w", runID, ErrRunClosed)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(id, run_id, ts, type, severity, category, payload, parent_id, diagnostics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("append batch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if ev.RunID != runID {
			return fmt.Errorf("append batch: event %s in run %s: %w", ev.ID, ev.RunID, ErrRunMismatch)
		}
		diags, err := marshalDiagnostics(ev.Diagnostics)
		if err != nil {
			return fmt.Errorf("append batch: event %s: %w", ev.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			ev.ID,
			ev.RunID,
			ev.Timestamp.UnixNano(),
			string(ev.Type),
			string(ev.Severity),
			string(ev.Category),
			string(ev.Payload),
			nullString(ev.ParentID),
			diags,
		)
		if err != nil {
			return fmt.Errorf("append batch: event %s: %w", ev.ID, classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append batch: commit: %w", err)
	}
	return nil
}
