package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/queryir"
)

// EventsResult is one page of events in timestamp order.
type EventsResult struct {
	Events []event.Event `json:"events"`
	Meta   Meta          `json:"meta"`
}

// FilterParams selects events by type, severity, category and time range.
// Each non-empty list matches any of its values; the lists combine by AND.
type FilterParams struct {
	RunID      string           `json:"run_id"`
	Types      []event.Type     `json:"types,omitempty"`
	Severities []event.Severity `json:"severities,omitempty"`
	Categories []event.Category `json:"categories,omitempty"`
	Range      TimeRange        `json:"range"`
	Page       Page             `json:"page"`
}

// FilterEvents returns the run's events matching every given filter.
func (e *Engine) FilterEvents(ctx context.Context, p FilterParams) (EventsResult, error) {
	if err := requireRunID(p.RunID); err != nil {
		return EventsResult{}, err
	}
	if err := checkTypes("types", p.Types); err != nil {
		return EventsResult{}, err
	}
	if err := checkSeverities("severities", p.Severities); err != nil {
		return EventsResult{}, err
	}
	if err := checkCategories("categories", p.Categories); err != nil {
		return EventsResult{}, err
	}
	if err := checkRange(p.Range); err != nil {
		return EventsResult{}, err
	}
	page, err := e.page(p.Page)
	if err != nil {
		return EventsResult{}, err
	}

	var preds []queryir.Predicate
	preds = appendIn(preds, queryir.ColumnType, p.Types)
	preds = appendIn(preds, queryir.ColumnSeverity, p.Severities)
	preds = appendIn(preds, queryir.ColumnCategory, p.Categories)
	preds = appendRange(preds, p.Range)

	return e.selectPage(ctx, "filter_events", p.RunID, p.Range, preds, page)
}

// EntityParams selects the events that mention one entity through a payload
// field, such as an order id or a security symbol.
type EntityParams struct {
	RunID string       `json:"run_id"`
	Field string       `json:"field"`
	Value any          `json:"value"`
	Types []event.Type `json:"types,omitempty"`
	Range TimeRange    `json:"range"`
	Page  Page         `json:"page"`
}

// EventsByEntity returns, in chronological order, the events whose payload
// field equals the given value. OrderId and SecuritySymbol use their
// promoted indexed columns; any other field is matched inside the payload.
func (e *Engine) EventsByEntity(ctx context.Context, p EntityParams) (EventsResult, error) {
	if err := requireRunID(p.RunID); err != nil {
		return EventsResult{}, err
	}
	if !queryir.ValidField(p.Field) {
		return EventsResult{}, &ParamError{Field: "field", Message: fmt.Sprintf("invalid payload field name %q", p.Field)}
	}
	if err := checkTypes("types", p.Types); err != nil {
		return EventsResult{}, err
	}
	if err := checkRange(p.Range); err != nil {
		return EventsResult{}, err
	}
	page, err := e.page(p.Page)
	if err != nil {
		return EventsResult{}, err
	}
	entity, err := entityPredicate(p.Field, p.Value)
	if err != nil {
		return EventsResult{}, err
	}

	preds := []queryir.Predicate{entity}
	preds = appendIn(preds, queryir.ColumnType, p.Types)
	preds = appendRange(preds, p.Range)

	return e.selectPage(ctx, "events_by_entity", p.RunID, p.Range, preds, page)
}

// IssuesParams selects events that carry validation diagnostics.
type IssuesParams struct {
	RunID string `json:"run_id"`
	// Severity keeps only events with a diagnostic of this severity.
	Severity event.Severity `json:"severity,omitempty"`
	Range    TimeRange      `json:"range"`
	Page     Page           `json:"page"`
}

// EventsWithIssues returns the events persisted with diagnostics.
func (e *Engine) EventsWithIssues(ctx context.Context, p IssuesParams) (EventsResult, error) {
	if err := requireRunID(p.RunID); err != nil {
		return EventsResult{}, err
	}
	if p.Severity != "" && !p.Severity.Valid() {
		return EventsResult{}, &ParamError{Field: "severity", Message: fmt.Sprintf("unknown severity %q", p.Severity)}
	}
	if err := checkRange(p.Range); err != nil {
		return EventsResult{}, err
	}
	page, err := e.page(p.Page)
	if err != nil {
		return EventsResult{}, err
	}

	preds := []queryir.Predicate{queryir.HasDiagnostics{Severity: string(p.Severity)}}
	preds = appendRange(preds, p.Range)

	return e.selectPage(ctx, "events_with_issues", p.RunID, p.Range, preds, page)
}

// GetEvent returns a single event of a closed run.
func (e *Engine) GetEvent(ctx context.Context, runID, id string) (EventsResult, error) {
	if err := requireRunID(runID); err != nil {
		return EventsResult{}, err
	}
	if !event.ValidID(id) {
		return EventsResult{}, &ParamError{Field: "event_id", Message: "must be a UUID"}
	}

	var ev event.Event
	elapsed, err := e.execute(ctx, "get_event", func(ctx context.Context) error {
		if _, err := e.queryableRun(ctx, runID, time.Time{}, ""); err != nil {
			return err
		}
		var err error
		ev, err = e.store.ReadEvent(ctx, runID, id)
		return err
	})
	if err != nil {
		return EventsResult{}, err
	}
	return EventsResult{
		Events: []event.Event{ev},
		Meta:   Meta{ReturnedCount: 1, PageSize: 1, ElapsedTime: elapsed},
	}, nil
}

// RunInfo describes a run and whether it can be queried yet.
type RunInfo struct {
	event.Run
	Queryable bool `json:"queryable"`
}

// RunsResult lists the runs in the store.
type RunsResult struct {
	Runs []RunInfo `json:"runs"`
	Meta Meta      `json:"meta"`
}

// ListRuns returns every run ordered by start time.
func (e *Engine) ListRuns(ctx context.Context) (RunsResult, error) {
	var runs []event.Run
	elapsed, err := e.execute(ctx, "list_runs", func(ctx context.Context) error {
		var err error
		runs, err = e.store.ListRuns(ctx)
		return err
	})
	if err != nil {
		return RunsResult{}, err
	}

	infos := make([]RunInfo, len(runs))
	for i, r := range runs {
		infos[i] = RunInfo{Run: r, Queryable: r.Closed()}
	}
	return RunsResult{
		Runs: infos,
		Meta: Meta{ReturnedCount: len(infos), PageSize: len(infos), ElapsedTime: elapsed},
	}, nil
}

// selectPage compiles and runs one page of a Select.
func (e *Engine) selectPage(ctx context.Context, op, runID string, r TimeRange, preds []queryir.Predicate, page Page) (EventsResult, error) {
	limit, offset := limitOffset(page)
	q := queryir.Select{RunID: runID, Filter: and(preds), Limit: limit, Offset: offset}
	sqlText, args, err := e.compiler.Compile(q)
	if err != nil {
		return EventsResult{}, fmt.Errorf("%s: %w", op, err)
	}

	var events []event.Event
	elapsed, err := e.execute(ctx, op, func(ctx context.Context) error {
		if _, err := e.queryableRun(ctx, runID, r.From, "from"); err != nil {
			return err
		}
		var err error
		events, err = e.store.SelectEvents(ctx, sqlText, args...)
		return err
	})
	if err != nil {
		return EventsResult{}, err
	}

	events, meta := trimPage(events, page)
	meta.ElapsedTime = elapsed
	return EventsResult{Events: events, Meta: meta}, nil
}

func entityPredicate(field string, value any) (queryir.Predicate, error) {
	switch field {
	case "OrderId":
		s, ok := scalarString(value)
		if !ok {
			return nil, &ParamError{Field: "value", Message: "order id must be a string or integer"}
		}
		return queryir.Equals{Column: queryir.ColumnOrderID, Value: s}, nil
	case "SecuritySymbol":
		s, ok := value.(string)
		if !ok || s == "" {
			return nil, &ParamError{Field: "value", Message: "security symbol must be a non-empty string"}
		}
		return queryir.Equals{Column: queryir.ColumnSymbol, Value: s}, nil
	}

	switch v := value.(type) {
	case string, bool, int, int64, float64, json.Number:
		return queryir.PayloadEquals{Field: field, Value: v}, nil
	case nil:
		return nil, &ParamError{Field: "value", Message: "is required"}
	default:
		return nil, &ParamError{Field: "value", Message: fmt.Sprintf("unsupported value type %T", value)}
	}
}

// scalarString renders a string or integral value the way the promoted
// order_id column stores it.
func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case int:
		return fmt.Sprint(x), true
	case int64:
		return fmt.Sprint(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return fmt.Sprint(n), true
		}
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprint(int64(x)), true
		}
	}
	return "", false
}

func appendIn[T ~string](preds []queryir.Predicate, col queryir.Column, values []T) []queryir.Predicate {
	if len(values) == 0 {
		return preds
	}
	if len(values) == 1 {
		return append(preds, queryir.Equals{Column: col, Value: string(values[0])})
	}
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = string(v)
	}
	return append(preds, queryir.In{Column: col, Values: strs})
}

func appendRange(preds []queryir.Predicate, r TimeRange) []queryir.Predicate {
	if r.From.IsZero() && r.To.IsZero() {
		return preds
	}
	return append(preds, queryir.TimeRange{From: r.From, To: r.To})
}

func and(preds []queryir.Predicate) queryir.Predicate {
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	default:
		return queryir.And{Predicates: preds}
	}
}
