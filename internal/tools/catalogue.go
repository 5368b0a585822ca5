package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/query"
)

type toolSpec struct {
	name        string
	description string
	schema      map[string]any
	call        handler
}

// Entity fields events_by_entity accepts.
var entityFields = []string{"OrderId", "SecuritySymbol", "PositionId", "IndicatorName"}

func catalogue(maxPageSize int) []toolSpec {
	page := map[string]any{
		"type":        "integer",
		"minimum":     0,
		"description": "Zero-based page number",
	}
	pageSize := map[string]any{
		"type":        "integer",
		"minimum":     1,
		"maximum":     maxPageSize,
		"description": "Events per page",
	}

	return []toolSpec{
		{
			name:        "filter_events",
			description: "List a run's events in timestamp order, filtered by type, severity, category and time range. Lists match any of their values; filters combine with AND.",
			schema: object([]string{"run_id"}, map[string]any{
				"run_id":     runIDProp(),
				"types":      enumList(event.Types),
				"severities": enumList(event.Severities),
				"categories": enumList(event.Categories),
				"from":       timestamp("Inclusive lower time bound"),
				"to":         timestamp("Inclusive upper time bound"),
				"page":       page,
				"page_size":  pageSize,
			}),
			call: bind(filterEvents),
		},
		{
			name:        "events_by_entity",
			description: "List, in chronological order, the events whose payload names an entity: an order, a security, a position or an indicator.",
			schema: object([]string{"run_id", "entity", "value"}, map[string]any{
				"run_id": runIDProp(),
				"entity": map[string]any{"type": "string", "enum": entityFields},
				"value": map[string]any{
					"type":        []string{"string", "integer"},
					"description": "Entity identifier to match",
				},
				"types":     enumList(event.Types),
				"from":      timestamp("Inclusive lower time bound"),
				"to":        timestamp("Inclusive upper time bound"),
				"page":      page,
				"page_size": pageSize,
			}),
			call: bind(eventsByEntity),
		},
		{
			name:        "event_sequence",
			description: "Return an event and its full causal subtree in chronological order. truncated is set when the depth bound cut the tree.",
			schema: object([]string{"run_id", "root_id"}, map[string]any{
				"run_id":    runIDProp(),
				"root_id":   uuidProp("Root event identifier"),
				"max_depth": map[string]any{"type": "integer", "minimum": 1},
				"page":      page,
				"page_size": pageSize,
			}),
			call: bind(eventSequence),
		},
		{
			name:        "incomplete_sequences",
			description: "Find events of start_type with no descendant of follow_type within window_seconds, such as position entries with no exit.",
			schema: object([]string{"run_id", "start_type", "follow_type"}, map[string]any{
				"run_id":      runIDProp(),
				"start_type":  enum(event.Types),
				"follow_type": enum(event.Types),
				"window_seconds": map[string]any{
					"type":        "number",
					"minimum":     0,
					"description": "Maximum delay of the follow-up; omitted means any time",
				},
				"from":      timestamp("Inclusive lower bound on the start event"),
				"to":        timestamp("Inclusive upper bound on the start event"),
				"page":      page,
				"page_size": pageSize,
			}),
			call: bind(incompleteSequences),
		},
		{
			name:        "aggregate_events",
			description: "Compute count, sum, avg, min, max or stddev of a numeric payload field over filtered events in one pass. stddev is the population standard deviation.",
			schema: object([]string{"run_id", "field", "stats"}, map[string]any{
				"run_id": runIDProp(),
				"type":   enum(event.Types),
				"field": map[string]any{
					"type":    "string",
					"pattern": "^[A-Za-z_][A-Za-z0-9_]*$",
				},
				"stats": map[string]any{
					"type":        "array",
					"items":       enum(query.Stats),
					"minItems":    1,
					"uniqueItems": true,
				},
				"from": timestamp("Inclusive lower time bound"),
				"to":   timestamp("Inclusive upper time bound"),
			}),
			call: bind(aggregateEvents),
		},
		{
			name:        "state_snapshot",
			description: "Reconstruct positions, PnL, indicator values, state and open orders as of a timestamp, optionally for one security.",
			schema: object([]string{"run_id", "at"}, map[string]any{
				"run_id": runIDProp(),
				"at":     timestamp("Replay events up to and including this time"),
				"symbol": map[string]any{"type": "string", "minLength": 1},
			}),
			call: bind(stateSnapshot),
		},
		{
			name:        "state_delta",
			description: "Return only the state fields whose reconstructed value differs between two timestamps.",
			schema: object([]string{"run_id", "from", "to"}, map[string]any{
				"run_id": runIDProp(),
				"from":   timestamp("Earlier snapshot time"),
				"to":     timestamp("Later snapshot time"),
				"symbol": map[string]any{"type": "string", "minLength": 1},
			}),
			call: bind(stateDelta),
		},
		{
			name:        "events_with_issues",
			description: "List events persisted with validation diagnostics, optionally only those with a diagnostic of one severity.",
			schema: object([]string{"run_id"}, map[string]any{
				"run_id":    runIDProp(),
				"severity":  enum(event.Severities),
				"from":      timestamp("Inclusive lower time bound"),
				"to":        timestamp("Inclusive upper time bound"),
				"page":      page,
				"page_size": pageSize,
			}),
			call: bind(eventsWithIssues),
		},
		{
			name:        "get_event",
			description: "Fetch one event by identifier.",
			schema: object([]string{"run_id", "event_id"}, map[string]any{
				"run_id":   runIDProp(),
				"event_id": uuidProp("Event identifier"),
			}),
			call: bind(getEvent),
		},
		{
			name:        "list_runs",
			description: "List every run with its time bounds, config digest and whether it can be queried yet.",
			schema:      object([]string{}, map[string]any{}),
			call: func(ctx context.Context, e *query.Engine, _ json.RawMessage) (any, error) {
				return e.ListRuns(ctx)
			},
		},
	}
}

func object(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func runIDProp() map[string]any {
	return uuidProp("Run identifier")
}

func uuidProp(description string) map[string]any {
	return map[string]any{"type": "string", "format": "uuid", "description": description}
}

func timestamp(description string) map[string]any {
	return map[string]any{"type": "string", "format": "date-time", "description": description}
}

func enum[T ~string](values []T) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func enumList[T ~string](values []T) map[string]any {
	return map[string]any{"type": "array", "items": enum(values), "minItems": 1}
}

// bind decodes schema-checked arguments into P before calling fn.
func bind[P any](fn func(context.Context, *query.Engine, P) (any, error)) handler {
	return func(ctx context.Context, e *query.Engine, raw json.RawMessage) (any, error) {
		var p P
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&p); err != nil {
			return nil, &query.ParamError{Field: "arguments", Message: err.Error()}
		}
		return fn(ctx, e, p)
	}
}

type rangeArgs struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (a rangeArgs) timeRange() (query.TimeRange, error) {
	from, err := parseTime("from", a.From)
	if err != nil {
		return query.TimeRange{}, err
	}
	to, err := parseTime("to", a.To)
	if err != nil {
		return query.TimeRange{}, err
	}
	return query.TimeRange{From: from, To: to}, nil
}

type pageArgs struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func (a pageArgs) page() query.Page {
	return query.Page{Index: a.Page, Size: a.PageSize}
}

// parseTime parses an optional timestamp; empty yields the zero time.
func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := event.ParseTime(s)
	if err != nil {
		return time.Time{}, &query.ParamError{Field: field, Message: "must be an RFC 3339 timestamp"}
	}
	return ts, nil
}

type filterArgs struct {
	RunID      string           `json:"run_id"`
	Types      []event.Type     `json:"types"`
	Severities []event.Severity `json:"severities"`
	Categories []event.Category `json:"categories"`
	rangeArgs
	pageArgs
}

func filterEvents(ctx context.Context, e *query.Engine, a filterArgs) (any, error) {
	r, err := a.timeRange()
	if err != nil {
		return nil, err
	}
	return e.FilterEvents(ctx, query.FilterParams{
		RunID:      a.RunID,
		Types:      a.Types,
		Severities: a.Severities,
		Categories: a.Categories,
		Range:      r,
		Page:       a.page(),
	})
}

type entityArgs struct {
	RunID  string       `json:"run_id"`
	Entity string       `json:"entity"`
	Value  any          `json:"value"`
	Types  []event.Type `json:"types"`
	rangeArgs
	pageArgs
}

func eventsByEntity(ctx context.Context, e *query.Engine, a entityArgs) (any, error) {
	r, err := a.timeRange()
	if err != nil {
		return nil, err
	}
	return e.EventsByEntity(ctx, query.EntityParams{
		RunID: a.RunID,
		Field: a.Entity,
		Value: a.Value,
		Types: a.Types,
		Range: r,
		Page:  a.page(),
	})
}

type sequenceArgs struct {
	RunID    string `json:"run_id"`
	RootID   string `json:"root_id"`
	MaxDepth int    `json:"max_depth"`
	pageArgs
}

func eventSequence(ctx context.Context, e *query.Engine, a sequenceArgs) (any, error) {
	return e.EventSequence(ctx, query.SequenceParams{
		RunID:    a.RunID,
		RootID:   a.RootID,
		MaxDepth: a.MaxDepth,
		Page:     a.page(),
	})
}

type incompleteArgs struct {
	RunID         string     `json:"run_id"`
	StartType     event.Type `json:"start_type"`
	FollowType    event.Type `json:"follow_type"`
	WindowSeconds float64    `json:"window_seconds"`
	rangeArgs
	pageArgs
}

func incompleteSequences(ctx context.Context, e *query.Engine, a incompleteArgs) (any, error) {
	r, err := a.timeRange()
	if err != nil {
		return nil, err
	}
	return e.IncompleteSequences(ctx, query.IncompleteParams{
		RunID:      a.RunID,
		StartType:  a.StartType,
		FollowType: a.FollowType,
		Window:     time.Duration(a.WindowSeconds * float64(time.Second)),
		Range:      r,
		Page:       a.page(),
	})
}

type aggregateArgs struct {
	RunID string       `json:"run_id"`
	Type  event.Type   `json:"type"`
	Field string       `json:"field"`
	Stats []query.Stat `json:"stats"`
	rangeArgs
}

func aggregateEvents(ctx context.Context, e *query.Engine, a aggregateArgs) (any, error) {
	r, err := a.timeRange()
	if err != nil {
		return nil, err
	}
	return e.Aggregate(ctx, query.AggregateParams{
		RunID: a.RunID,
		Type:  a.Type,
		Field: a.Field,
		Stats: a.Stats,
		Range: r,
	})
}

type snapshotArgs struct {
	RunID  string `json:"run_id"`
	At     string `json:"at"`
	Symbol string `json:"symbol"`
}

func stateSnapshot(ctx context.Context, e *query.Engine, a snapshotArgs) (any, error) {
	at, err := parseTime("at", a.At)
	if err != nil {
		return nil, err
	}
	return e.StateSnapshot(ctx, query.SnapshotParams{RunID: a.RunID, At: at, Symbol: a.Symbol})
}

type deltaArgs struct {
	RunID  string `json:"run_id"`
	Symbol string `json:"symbol"`
	rangeArgs
}

func stateDelta(ctx context.Context, e *query.Engine, a deltaArgs) (any, error) {
	r, err := a.timeRange()
	if err != nil {
		return nil, err
	}
	return e.StateDelta(ctx, query.DeltaParams{RunID: a.RunID, From: r.From, To: r.To, Symbol: a.Symbol})
}

type issuesArgs struct {
	RunID    string         `json:"run_id"`
	Severity event.Severity `json:"severity"`
	rangeArgs
	pageArgs
}

func eventsWithIssues(ctx context.Context, e *query.Engine, a issuesArgs) (any, error) {
	r, err := a.timeRange()
	if err != nil {
		return nil, err
	}
	return e.EventsWithIssues(ctx, query.IssuesParams{
		RunID:    a.RunID,
		Severity: a.Severity,
		Range:    r,
		Page:     a.page(),
	})
}

type getEventArgs struct {
	RunID   string `json:"run_id"`
	EventID string `json:"event_id"`
}

func getEvent(ctx context.Context, e *query.Engine, a getEventArgs) (any, error) {
	return e.GetEvent(ctx, a.RunID, a.EventID)
}
