package query

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/testutil"
)

func TestAggregate_CountAndAverage(t *testing.T) {
	st := testutil.OpenStore(t)
	b := newRun(t, st, 1)
	id := b.run.ID
	b.record(testutil.Trade(t, id, b.at(0), "A", "AAPL", 1, 100))
	b.record(testutil.Trade(t, id, b.at(10), "B", "AAPL", 1, 105))
	b.record(testutil.Trade(t, id, b.at(20), "C", "AAPL", 1, 110))
	run := b.close(30)

	res, err := New(st).Aggregate(context.Background(), AggregateParams{
		RunID: run.ID,
		Type:  event.TypeTradeExecution,
		Field: "Price",
		Stats: []Stat{StatCount, StatAvg},
	})
	require.NoError(t, err)
	assert.Equal(t, map[Stat]float64{StatCount: 3, StatAvg: 105}, res.Values)
	assert.Equal(t, int64(3), res.Count)
	assert.Equal(t, int64(3), res.Numeric)
	assert.Equal(t, 1, res.Meta.ReturnedCount)
}

func TestAggregate_AllStatistics(t *testing.T) {
	st := testutil.OpenStore(t)
	b := newRun(t, st, 1)
	id := b.run.ID
	b.record(testutil.Trade(t, id, b.at(0), "A", "AAPL", 1, 100))
	b.record(testutil.Trade(t, id, b.at(10), "B", "AAPL", 1, 105))
	b.record(testutil.Trade(t, id, b.at(20), "C", "AAPL", 1, 110))
	b.record(testutil.Risk(t, id, b.at(25), "Drawdown", 0.1, 0.2))
	run := b.close(30)

	res, err := New(st).Aggregate(context.Background(), AggregateParams{
		RunID: run.ID,
		Type:  event.TypeTradeExecution,
		Field: "Price",
		Stats: Stats,
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Values[StatCount])
	assert.Equal(t, 315.0, res.Values[StatSum])
	assert.Equal(t, 105.0, res.Values[StatAvg])
	assert.Equal(t, 100.0, res.Values[StatMin])
	assert.Equal(t, 110.0, res.Values[StatMax])
	assert.InDelta(t, math.Sqrt(50.0/3), res.Values[StatStddev], 1e-9)
}

func TestAggregate_StddevOfLargeValues(t *testing.T) {
	st := testutil.OpenStore(t)
	b := newRun(t, st, 1)
	id := b.run.ID
	b.record(testutil.Trade(t, id, b.at(0), "A", "AAPL", 1, 1e9+0.1))
	b.record(testutil.Trade(t, id, b.at(10), "B", "AAPL", 1, 1e9+0.2))
	b.record(testutil.Trade(t, id, b.at(20), "C", "AAPL", 1, 1e9+0.3))
	run := b.close(30)

	res, err := New(st).Aggregate(context.Background(), AggregateParams{
		RunID: run.ID,
		Type:  event.TypeTradeExecution,
		Field: "Price",
		Stats: []Stat{StatAvg, StatStddev},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1e9+0.2, res.Values[StatAvg], 1e-6)
	assert.InDelta(t, math.Sqrt(0.02/3), res.Values[StatStddev], 1e-6)
}

func TestAggregate_CountMatchesFilter(t *testing.T) {
	st := testutil.OpenStore(t)
	run, _ := mixedRun(t, st)
	e := New(st)
	ctx := context.Background()

	for _, typ := range event.Types {
		agg, err := e.Aggregate(ctx, AggregateParams{RunID: run.ID, Type: typ, Field: "Quantity", Stats: []Stat{StatCount}})
		require.NoError(t, err)
		list, err := e.FilterEvents(ctx, FilterParams{RunID: run.ID, Types: []event.Type{typ}})
		require.NoError(t, err)
		assert.Equal(t, float64(list.Meta.ReturnedCount), agg.Values[StatCount], "type %s", typ)
	}
}

func TestAggregate_NoNumericValues(t *testing.T) {
	st := testutil.OpenStore(t)
	b := newRun(t, st, 1)
	b.record(testutil.Trade(t, b.run.ID, b.at(1), "A", "AAPL", 1, 100))
	run := b.close(30)

	res, err := New(st).Aggregate(context.Background(), AggregateParams{
		RunID: run.ID,
		Field: "OrderId",
		Stats: []Stat{StatCount, StatSum, StatAvg, StatStddev},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
	assert.Equal(t, int64(0), res.Numeric)
	assert.Equal(t, map[Stat]float64{StatCount: 1, StatSum: 0}, res.Values)
}

func TestAggregate_Params(t *testing.T) {
	e := storeAccessFails(t)
	base := AggregateParams{RunID: testutil.ID(1), Field: "Price", Stats: []Stat{StatAvg}}

	tests := []struct {
		name   string
		mutate func(*AggregateParams)
		field  string
	}{
		{"unknown stat", func(p *AggregateParams) { p.Stats = []Stat{"median"} }, "stats"},
		{"no stats", func(p *AggregateParams) { p.Stats = nil }, "stats"},
		{"bad field", func(p *AggregateParams) { p.Field = "$.Price" }, "field"},
		{"unknown type", func(p *AggregateParams) { p.Type = "Fill" }, "type"},
		{"inverted range", func(p *AggregateParams) {
			p.Range = TimeRange{From: testutil.Start.Add(1), To: testutil.Start}
		}, "from"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			_, err := e.Aggregate(context.Background(), p)
			var pe *ParamError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}
