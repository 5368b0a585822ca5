package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/runlog/internal/event"
)

// EventColumns is the column list every event read selects, in the order
// scanEvent expects. Compiled queries must select exactly these columns.
const EventColumns = "seq, id, run_id, ts, type, severity, category, payload, parent_id, diagnostics"

// eventColumnsAs returns EventColumns qualified with a table alias.
func eventColumnsAs(alias string) string {
	cols := strings.Split(EventColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// scanEvent scans a row selected with EventColumns.
func scanEvent(row scanner) (event.Event, error) {
	var ev event.Event
	var tsNs int64
	var typ, severity, category, payload string
	var parentID, diags sql.NullString

	if err := row.Scan(
		&ev.Seq, &ev.ID, &ev.RunID, &tsNs, &typ, &severity, &category,
		&payload, &parentID, &diags,
	); err != nil {
		return event.Event{}, err
	}

	ev.Timestamp = fromNanos(tsNs)
	ev.Type = event.Type(typ)
	ev.Severity = event.Severity(severity)
	ev.Category = event.Category(category)
	ev.Payload = json.RawMessage(payload)
	ev.ParentID = parentID.String

	d, err := unmarshalDiagnostics(diags)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	ev.Diagnostics = d
	return ev, nil
}

// marshalDiagnostics converts diagnostics to JSON TEXT. An empty list is
// stored as NULL so the issues index stays sparse.
func marshalDiagnostics(diags []event.Diagnostic) (sql.NullString, error) {
	if len(diags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(diags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal diagnostics: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalDiagnostics(s sql.NullString) ([]event.Diagnostic, error) {
	if !s.Valid {
		return nil, nil
	}
	var diags []event.Diagnostic
	if err := json.Unmarshal([]byte(s.String), &diags); err != nil {
		return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
	}
	return diags, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// collectEvents drains rows selected with EventColumns.
// Returns an empty slice (not nil) if there are no rows.
func collectEvents(rows *sql.Rows) ([]event.Event, error) {
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
