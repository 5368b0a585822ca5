package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roach88/runlog/internal/event"
)

// childBatchSize bounds the IN list of a single ReadChildren statement.
const childBatchSize = 500

// ReadEvent retrieves a single event of a run by id.
func (s *Store) ReadEvent(ctx context.Context, runID, id string) (event.Event, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT `+EventColumns+`
		FROM events
		WHERE id = ? AND run_id = ?
	`, id, runID)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, fmt.Errorf("read event %s: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("read event %s: %w", id, err)
	}
	return ev, nil
}

// SelectEvents runs a compiled event query. The statement must select
// EventColumns; ordering is the caller's responsibility.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) SelectEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	return collectEvents(rows)
}

// ReadChildren returns the events of a run whose parent is one of parentIDs,
// ordered by ts ASC, seq ASC within each batch of parents.
func (s *Store) ReadChildren(ctx context.Context, runID string, parentIDs []string) ([]event.Event, error) {
	children := []event.Event{}
	for start := 0; start < len(parentIDs); start += childBatchSize {
		end := min(start+childBatchSize, len(parentIDs))
		batch := parentIDs[start:end]

		args := make([]any, 0, len(batch)+1)
		args = append(args, runID)
		for _, id := range batch {
			args = append(args, id)
		}

		rows, err := s.reader.QueryContext(ctx, `
			SELECT `+EventColumns+`
			FROM events
			WHERE run_id = ? AND parent_id IN (`+placeholders(len(batch))+`)
			ORDER BY ts ASC, seq ASC
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("read children: %w", err)
		}
		events, err := collectEvents(rows)
		if err != nil {
			return nil, fmt.Errorf("read children: %w", err)
		}
		children = append(children, events...)
	}
	return children, nil
}

// Aggregate holds the raw accumulators of one aggregation pass.
type Aggregate struct {
	// Count is the number of events that matched the filter.
	Count int64
	// Numeric is how many of them carried a numeric value at the field.
	Numeric int64

	Sum float64
	// SquaredDeviations is the sum of squared deviations of the numeric
	// values from their mean.
	SquaredDeviations float64
	Min               float64
	Max               float64
}

// AggregateField runs a compiled aggregation statement. The statement must
// select count, numeric count, sum, min, max and the sum of squared
// deviations from the mean, in that order.
func (s *Store) AggregateField(ctx context.Context, query string, args ...any) (Aggregate, error) {
	var agg Aggregate
	var minV, maxV sql.NullFloat64
	err := s.reader.QueryRowContext(ctx, query, args...).Scan(
		&agg.Count, &agg.Numeric, &agg.Sum, &minV, &maxV, &agg.SquaredDeviations,
	)
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggregate field: %w", err)
	}
	agg.Min = minV.Float64
	agg.Max = maxV.Float64
	return agg, nil
}

// IncompleteFilter selects entry events lacking a follow-up descendant.
type IncompleteFilter struct {
	RunID      string
	StartType  event.Type
	FollowType event.Type

	// Window bounds how long after the entry the follow-up may occur.
	// Zero means unbounded.
	Window time.Duration

	// From and To bound the entry timestamps; zero means open.
	From time.Time
	To   time.Time

	// MaxDepth bounds the descendant walk.
	MaxDepth int

	Limit  int
	Offset int
}

// FindIncomplete returns entry events of StartType with no descendant of
// FollowType within Window, ordered by ts ASC, seq ASC.
//
// The descendant walk is a depth-bounded recursive CTE, so a cyclic parent
// chain terminates.
func (s *Store) FindIncomplete(ctx context.Context, f IncompleteFilter) ([]event.Event, error) {
	window := int64(math.MaxInt64)
	if f.Window > 0 {
		window = f.Window.Nanoseconds()
	}

	cond, rootArgs := incompleteRoots("", f)
	condA, _ := incompleteRoots("a.", f)

	query := `
		WITH RECURSIVE descendants(root_id, root_ts, id, ts, type, depth) AS (
			SELECT id, ts, id, ts, type, 0
			FROM events
			WHERE ` + cond + `
			UNION
			SELECT d.root_id, d.root_ts, e.id, e.ts, e.type, d.depth + 1
			FROM events e
			JOIN descendants d ON e.parent_id = d.id
			WHERE e.run_id = ? AND d.depth < ?
		)
		SELECT ` + eventColumnsAs("a") + `
		FROM events a
		WHERE ` + condA + `
		AND NOT EXISTS (
			SELECT 1 FROM descendants d
			WHERE d.root_id = a.id
			AND d.depth > 0
			AND d.type = ?
			AND d.ts >= d.root_ts
			AND d.ts - d.root_ts <= ?
		)
		ORDER BY a.ts ASC, a.seq ASC
		LIMIT ? OFFSET ?
	`

	args := make([]any, 0, 2*len(rootArgs)+6)
	args = append(args, rootArgs...)
	args = append(args, f.RunID, f.MaxDepth)
	args = append(args, rootArgs...)
	args = append(args, string(f.FollowType), window)
	args = append(args, limitArg(f.Limit), f.Offset)

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find incomplete: %w", err)
	}
	return collectEvents(rows)
}

// incompleteRoots builds the entry-event condition with columns qualified by
// prefix.
func incompleteRoots(prefix string, f IncompleteFilter) (string, []any) {
	conds := []string{prefix + "run_id = ?", prefix + "type = ?"}
	args := []any{f.RunID, string(f.StartType)}
	if !f.From.IsZero() {
		conds = append(conds, prefix+"ts >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		conds = append(conds, prefix+"ts <= ?")
		args = append(args, f.To.UnixNano())
	}
	return strings.Join(conds, " AND "), args
}

// ReplayFilter selects the events a state replay consumes.
type ReplayFilter struct {
	RunID string
	Types []event.Type
	// Until is inclusive.
	Until time.Time
	// Symbol restricts to events whose promoted symbol matches; empty means all.
	Symbol string
}

// ReplayEvents streams matching events in ts ASC, seq ASC order to fn
// without materializing the result. Iteration stops at the first error fn
// returns.
func (s *Store) ReplayEvents(ctx context.Context, f ReplayFilter, fn func(event.Event) error) error {
	var where strings.Builder
	args := []any{f.RunID, f.Until.UnixNano()}
	where.WriteString("run_id = ? AND ts <= ?")
	if len(f.Types) > 0 {
		where.WriteString(" AND type IN (" + placeholders(len(f.Types)) + ")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if f.Symbol != "" {
		where.WriteString(" AND symbol = ?")
		args = append(args, f.Symbol)
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+EventColumns+`
		FROM events
		WHERE `+where.String()+`
		ORDER BY ts ASC, seq ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("replay events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("replay events: scan: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("replay events: iterate: %w", err)
	}
	return nil
}

// placeholders builds a comma-separated list of n bind markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// limitArg maps a zero limit onto SQLite's "no limit".
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
