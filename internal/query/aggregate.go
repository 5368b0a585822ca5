package query

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/queryir"
	"github.com/roach88/runlog/internal/store"
)

// Stat names a statistic an aggregation can report.
type Stat string

const (
	StatCount  Stat = "count"
	StatSum    Stat = "sum"
	StatAvg    Stat = "avg"
	StatMin    Stat = "min"
	StatMax    Stat = "max"
	StatStddev Stat = "stddev"
)

// Stats lists every supported statistic.
var Stats = []Stat{StatCount, StatSum, StatAvg, StatMin, StatMax, StatStddev}

// Valid reports whether s is a supported statistic.
func (s Stat) Valid() bool {
	for _, known := range Stats {
		if s == known {
			return true
		}
	}
	return false
}

// AggregateParams selects the events to aggregate and the statistics to
// compute over one numeric payload field.
type AggregateParams struct {
	RunID string     `json:"run_id"`
	Type  event.Type `json:"type,omitempty"`
	Field string     `json:"field"`
	Stats []Stat     `json:"stats"`
	Range TimeRange  `json:"range"`
}

// AggregateResult holds the requested statistics.
//
// Count is the number of matching events; Numeric is how many of them held a
// number at Field. Sum, average, extremes and standard deviation are taken
// over the numeric values only. A statistic that is undefined over zero
// values (avg, min, max, stddev) is absent from Values.
type AggregateResult struct {
	Field   string           `json:"field"`
	Count   int64            `json:"count"`
	Numeric int64            `json:"numeric"`
	Values  map[Stat]float64 `json:"values"`
	Meta    Meta             `json:"meta"`
}

// Aggregate computes statistics over a payload field in a single store pass.
// Standard deviation is the population standard deviation of the same
// filtered set.
func (e *Engine) Aggregate(ctx context.Context, p AggregateParams) (AggregateResult, error) {
	if err := requireRunID(p.RunID); err != nil {
		return AggregateResult{}, err
	}
	if p.Type != "" && !p.Type.Valid() {
		return AggregateResult{}, &ParamError{Field: "type", Message: fmt.Sprintf("unknown event type %q", p.Type)}
	}
	if !queryir.ValidField(p.Field) {
		return AggregateResult{}, &ParamError{Field: "field", Message: fmt.Sprintf("invalid payload field name %q", p.Field)}
	}
	if len(p.Stats) == 0 {
		return AggregateResult{}, &ParamError{Field: "stats", Message: "at least one statistic is required"}
	}
	for _, s := range p.Stats {
		if !s.Valid() {
			return AggregateResult{}, &ParamError{Field: "stats", Message: fmt.Sprintf("unknown statistic %q", s)}
		}
	}
	if err := checkRange(p.Range); err != nil {
		return AggregateResult{}, err
	}

	var preds []queryir.Predicate
	if p.Type != "" {
		preds = append(preds, queryir.Equals{Column: queryir.ColumnType, Value: string(p.Type)})
	}
	preds = appendRange(preds, p.Range)

	sqlText, args, err := e.compiler.Compile(queryir.Aggregate{RunID: p.RunID, Filter: and(preds), Field: p.Field})
	if err != nil {
		return AggregateResult{}, fmt.Errorf("aggregate_events: %w", err)
	}

	var agg store.Aggregate
	elapsed, err := e.execute(ctx, "aggregate_events", func(ctx context.Context) error {
		if _, err := e.queryableRun(ctx, p.RunID, p.Range.From, "from"); err != nil {
			return err
		}
		var err error
		agg, err = e.store.AggregateField(ctx, sqlText, args...)
		return err
	})
	if err != nil {
		return AggregateResult{}, err
	}

	return AggregateResult{
		Field:   p.Field,
		Count:   agg.Count,
		Numeric: agg.Numeric,
		Values:  statistics(agg, p.Stats),
		Meta:    Meta{ReturnedCount: 1, PageSize: 1, ElapsedTime: elapsed},
	}, nil
}

func statistics(agg store.Aggregate, requested []Stat) map[Stat]float64 {
	values := make(map[Stat]float64, len(requested))
	n := float64(agg.Numeric)
	for _, s := range requested {
		switch s {
		case StatCount:
			values[s] = float64(agg.Count)
		case StatSum:
			values[s] = agg.Sum
		}
		if agg.Numeric == 0 {
			continue
		}
		mean := agg.Sum / n
		switch s {
		case StatAvg:
			values[s] = mean
		case StatMin:
			values[s] = agg.Min
		case StatMax:
			values[s] = agg.Max
		case StatStddev:
			values[s] = math.Sqrt(agg.SquaredDeviations / n)
		}
	}
	return values
}
