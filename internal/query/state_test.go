package query

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/store"
	"github.com/roach88/runlog/internal/testutil"
)

// stateRun records a run whose state evolves at t=10, 20 and 30.
func stateRun(t *testing.T, st *store.Store) event.Run {
	b := newRun(t, st, 1)
	id := b.run.ID
	order := func(sec int, orderID, after string) {
		b.record(testutil.StateChange(t, id, b.at(sec), "Order", nil, after, map[string]any{"OrderId": orderID}))
	}

	order(10, "A", "Submitted")
	b.record(testutil.Position(t, id, b.at(10), "AAPL", 10, 100, 0, 0))
	b.record(testutil.Indicator(t, id, b.at(10), "AAPL", "RSI", 45))
	b.record(testutil.StateChange(t, id, b.at(10), "Portfolio", "Idle", "Invested", nil))

	order(20, "A", "Filled")
	order(20, "B", "Submitted")
	b.record(testutil.Position(t, id, b.at(20), "AAPL", 10, 100, 50, 0))
	b.record(testutil.Position(t, id, b.at(20), "MSFT", -5, 300, -10, 0))
	b.record(testutil.Indicator(t, id, b.at(20), "AAPL", "RSI", 45))

	b.record(testutil.Rejection(t, id, b.at(30), "B", "MSFT", "short not allowed"))
	b.record(testutil.Position(t, id, b.at(30), "AAPL", 0, 0, 0, 75))
	b.record(testutil.MarketData(t, id, b.at(30), "AAPL", 107))
	return b.close(60)
}

func num(s string) json.Number { return json.Number(s) }

func TestStateSnapshot(t *testing.T) {
	st := testutil.OpenStore(t)
	run := stateRun(t, st)
	e := New(st)
	ctx := context.Background()

	res, err := e.StateSnapshot(ctx, SnapshotParams{RunID: run.ID, At: run.Start.Add(10e9)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"order.A":                     "Submitted",
		"position.AAPL.Quantity":      num("10"),
		"position.AAPL.AveragePrice":  num("100"),
		"position.AAPL.UnrealizedPnL": num("0"),
		"position.AAPL.RealizedPnL":   num("0"),
		"pnl.realized":                0.0,
		"pnl.unrealized":              0.0,
		"indicator.AAPL.RSI":          num("45"),
		"state.Portfolio":             "Invested",
	}, res.Fields)
	assert.Equal(t, len(res.Fields), res.Meta.ReturnedCount)

	res, err = e.StateSnapshot(ctx, SnapshotParams{RunID: run.ID, At: run.Start.Add(20e9)})
	require.NoError(t, err)
	assert.NotContains(t, res.Fields, "order.A", "filled order is closed")
	assert.Equal(t, "Submitted", res.Fields["order.B"])
	assert.Equal(t, 40.0, res.Fields["pnl.unrealized"])
	assert.Equal(t, num("-5"), res.Fields["position.MSFT.Quantity"])

	res, err = e.StateSnapshot(ctx, SnapshotParams{RunID: run.ID, At: run.End})
	require.NoError(t, err)
	assert.NotContains(t, res.Fields, "order.B", "rejected order is closed")
	assert.Equal(t, 75.0, res.Fields["pnl.realized"])
}

func TestStateSnapshot_TradeClosesOrder(t *testing.T) {
	st := testutil.OpenStore(t)
	b := newRun(t, st, 1)
	id := b.run.ID
	b.record(testutil.StateChange(t, id, b.at(10), "Order", nil, "Submitted", map[string]any{"OrderId": "A"}))
	b.record(testutil.StateChange(t, id, b.at(10), "Order", nil, "Submitted", map[string]any{"OrderId": "B"}))
	b.record(testutil.Trade(t, id, b.at(20), "A", "AAPL", 10, 100))
	b.record(testutil.StateChange(t, id, b.at(30), "Order", "Filled", "PartiallyFilled", map[string]any{"OrderId": "A"}))
	run := b.close(40)
	e := New(st)
	ctx := context.Background()

	res, err := e.StateSnapshot(ctx, SnapshotParams{RunID: run.ID, At: run.Start.Add(20e9)})
	require.NoError(t, err)
	assert.NotContains(t, res.Fields, "order.A", "filled by the trade")
	assert.Equal(t, "Submitted", res.Fields["order.B"])

	res, err = e.StateSnapshot(ctx, SnapshotParams{RunID: run.ID, At: run.End})
	require.NoError(t, err)
	assert.Equal(t, "PartiallyFilled", res.Fields["order.A"], "a later state reopens the order")

	delta, err := e.StateDelta(ctx, DeltaParams{RunID: run.ID, From: run.Start.Add(10e9), To: run.Start.Add(20e9)})
	require.NoError(t, err)
	assert.Equal(t, []FieldChange{
		{Field: "order.A", Change: ChangeRemoved, Before: "Submitted"},
	}, delta.Changes)
}

func TestStateSnapshot_BeforeAnyEvent(t *testing.T) {
	st := testutil.OpenStore(t)
	run := stateRun(t, st)

	res, err := New(st).StateSnapshot(context.Background(), SnapshotParams{RunID: run.ID, At: run.Start})
	require.NoError(t, err)
	assert.Empty(t, res.Fields)
	assert.Equal(t, 0, res.Meta.ReturnedCount)
}

func TestStateSnapshot_SymbolScope(t *testing.T) {
	st := testutil.OpenStore(t)
	run := stateRun(t, st)

	res, err := New(st).StateSnapshot(context.Background(), SnapshotParams{RunID: run.ID, At: run.End, Symbol: "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"position.MSFT.Quantity":      num("-5"),
		"position.MSFT.AveragePrice":  num("300"),
		"position.MSFT.UnrealizedPnL": num("-10"),
		"position.MSFT.RealizedPnL":   num("0"),
		"pnl.realized":                0.0,
		"pnl.unrealized":              -10.0,
	}, res.Fields)
}

func TestStateSnapshot_AfterRunEnd(t *testing.T) {
	st := testutil.OpenStore(t)
	run := stateRun(t, st)

	_, err := New(st).StateSnapshot(context.Background(), SnapshotParams{RunID: run.ID, At: run.End.Add(1)})
	var pe *ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "at", pe.Field)
}

func TestStateDelta(t *testing.T) {
	st := testutil.OpenStore(t)
	run := stateRun(t, st)

	res, err := New(st).StateDelta(context.Background(), DeltaParams{
		RunID: run.ID,
		From:  run.Start.Add(10e9),
		To:    run.Start.Add(20e9),
	})
	require.NoError(t, err)

	assert.Equal(t, []FieldChange{
		{Field: "order.A", Change: ChangeRemoved, Before: "Submitted"},
		{Field: "order.B", Change: ChangeAdded, After: "Submitted"},
		{Field: "pnl.unrealized", Change: ChangeChanged, Before: 0.0, After: 40.0},
		{Field: "position.AAPL.UnrealizedPnL", Change: ChangeChanged, Before: num("0"), After: num("50")},
		{Field: "position.MSFT.AveragePrice", Change: ChangeAdded, After: num("300")},
		{Field: "position.MSFT.Quantity", Change: ChangeAdded, After: num("-5")},
		{Field: "position.MSFT.RealizedPnL", Change: ChangeAdded, After: num("0")},
		{Field: "position.MSFT.UnrealizedPnL", Change: ChangeAdded, After: num("-10")},
	}, res.Changes, "unchanged RSI and portfolio state are omitted")
	assert.Equal(t, len(res.Changes), res.Meta.ReturnedCount)
}

func TestStateDelta_SameInstant(t *testing.T) {
	st := testutil.OpenStore(t)
	run := stateRun(t, st)
	at := run.Start.Add(20e9)

	res, err := New(st).StateDelta(context.Background(), DeltaParams{RunID: run.ID, From: at, To: at})
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.NotNil(t, res.Changes)
}

func TestStateDelta_Params(t *testing.T) {
	e := storeAccessFails(t)
	ctx := context.Background()

	_, err := e.StateDelta(ctx, DeltaParams{RunID: testutil.ID(1), From: testutil.Start.Add(1), To: testutil.Start})
	var pe *ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "from", pe.Field)

	_, err = e.StateDelta(ctx, DeltaParams{RunID: testutil.ID(1), From: testutil.Start})
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "to", pe.Field)
}
