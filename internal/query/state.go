package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/runlog/internal/canon"
	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/store"
)

// stateTypes are the event types a state replay consumes.
var stateTypes = []event.Type{
	event.TypePositionUpdate,
	event.TypeIndicatorCalculation,
	event.TypeStateChange,
	event.TypeOrderRejection,
	event.TypeTradeExecution,
}

// orderStateType is the StateChange StateType that tracks an order's life.
const orderStateType = "Order"

// terminalOrderStates close an open order.
var terminalOrderStates = []string{"filled", "cancelled", "canceled", "rejected", "expired", "invalid", "closed"}

// SnapshotParams selects the moment to reconstruct state at.
type SnapshotParams struct {
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`
	// Symbol narrows the replay to one security.
	Symbol string `json:"symbol,omitempty"`
}

// SnapshotResult holds the reconstructed value of every tracked field.
//
// Field names:
//
//	position.<SYM>.<Quantity|AveragePrice|UnrealizedPnL|RealizedPnL>
//	pnl.realized, pnl.unrealized      summed over the latest per-symbol values
//	indicator.<SYM>.<IndicatorName>
//	state.<StateType>                 latest StateAfter
//	order.<OrderId>                   open orders and their latest state
//
// An order opens with an Order StateChange and closes on a terminal state,
// an OrderRejection, or a TradeExecution for it. Trades carry no remaining
// quantity, so a partial fill closes the order until a later StateChange
// reopens it.
type SnapshotResult struct {
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields"`
	Meta   Meta           `json:"meta"`
}

// StateSnapshot replays state-changing events up to and including At and
// returns the most recent value per tracked field.
func (e *Engine) StateSnapshot(ctx context.Context, p SnapshotParams) (SnapshotResult, error) {
	if err := requireRunID(p.RunID); err != nil {
		return SnapshotResult{}, err
	}
	if p.At.IsZero() {
		return SnapshotResult{}, &ParamError{Field: "at", Message: "is required"}
	}

	var fields map[string]any
	elapsed, err := e.execute(ctx, "state_snapshot", func(ctx context.Context) error {
		if _, err := e.queryableRun(ctx, p.RunID, p.At, "at"); err != nil {
			return err
		}
		t := newTracker()
		err := e.store.ReplayEvents(ctx, e.replayFilter(p.RunID, p.At, p.Symbol), t.apply)
		fields = t.snapshot()
		return err
	})
	if err != nil {
		return SnapshotResult{}, err
	}

	return SnapshotResult{
		At:     p.At.UTC(),
		Fields: fields,
		Meta:   Meta{ReturnedCount: len(fields), PageSize: len(fields), ElapsedTime: elapsed},
	}, nil
}

// DeltaParams selects the two moments to compare.
type DeltaParams struct {
	RunID  string    `json:"run_id"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Symbol string    `json:"symbol,omitempty"`
}

// Change kinds.
const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
	ChangeChanged = "changed"
)

// FieldChange is one tracked field whose value differs between two
// snapshots. Before is nil for an added field, After for a removed one.
type FieldChange struct {
	Field  string `json:"field"`
	Change string `json:"change"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// DeltaResult lists the changed fields in field-name order.
type DeltaResult struct {
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	Changes []FieldChange `json:"changes"`
	Meta    Meta          `json:"meta"`
}

// StateDelta returns only the fields whose reconstructed value differs
// between the snapshot at From and the snapshot at To. Both snapshots come
// from one replay.
func (e *Engine) StateDelta(ctx context.Context, p DeltaParams) (DeltaResult, error) {
	if err := requireRunID(p.RunID); err != nil {
		return DeltaResult{}, err
	}
	if p.From.IsZero() {
		return DeltaResult{}, &ParamError{Field: "from", Message: "is required"}
	}
	if p.To.IsZero() {
		return DeltaResult{}, &ParamError{Field: "to", Message: "is required"}
	}
	if err := checkRange(TimeRange{From: p.From, To: p.To}); err != nil {
		return DeltaResult{}, err
	}

	var changes []FieldChange
	elapsed, err := e.execute(ctx, "state_delta", func(ctx context.Context) error {
		if _, err := e.queryableRun(ctx, p.RunID, p.From, "from"); err != nil {
			return err
		}
		t := newTracker()
		var before map[string]any
		err := e.store.ReplayEvents(ctx, e.replayFilter(p.RunID, p.To, p.Symbol), func(ev event.Event) error {
			if before == nil && ev.Timestamp.After(p.From) {
				before = t.snapshot()
			}
			return t.apply(ev)
		})
		if err != nil {
			return err
		}
		after := t.snapshot()
		if before == nil {
			before = after
		}
		changes, err = diff(before, after)
		return err
	})
	if err != nil {
		return DeltaResult{}, err
	}

	return DeltaResult{
		From:    p.From.UTC(),
		To:      p.To.UTC(),
		Changes: changes,
		Meta:    Meta{ReturnedCount: len(changes), PageSize: len(changes), ElapsedTime: elapsed},
	}, nil
}

func (e *Engine) replayFilter(runID string, until time.Time, symbol string) store.ReplayFilter {
	return store.ReplayFilter{RunID: runID, Types: stateTypes, Until: until, Symbol: symbol}
}

// diff compares two snapshots by canonical JSON value.
func diff(before, after map[string]any) ([]FieldChange, error) {
	keys := slices.Collect(maps.Keys(before))
	for k := range after {
		if _, ok := before[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	changes := []FieldChange{}
	for _, k := range keys {
		b, hadBefore := before[k]
		a, hasAfter := after[k]
		switch {
		case !hadBefore:
			changes = append(changes, FieldChange{Field: k, Change: ChangeAdded, After: a})
		case !hasAfter:
			changes = append(changes, FieldChange{Field: k, Change: ChangeRemoved, Before: b})
		default:
			same, err := sameValue(b, a)
			if err != nil {
				return nil, fmt.Errorf("compare %s: %w", k, err)
			}
			if !same {
				changes = append(changes, FieldChange{Field: k, Change: ChangeChanged, Before: b, After: a})
			}
		}
	}
	return changes, nil
}

func sameValue(a, b any) (bool, error) {
	ca, err := canon.Marshal(a)
	if err != nil {
		return false, err
	}
	cb, err := canon.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

// tracker folds state-changing events into the latest value per field.
type tracker struct {
	fields     map[string]any
	realized   map[string]float64
	unrealized map[string]float64
}

func newTracker() *tracker {
	return &tracker{
		fields:     make(map[string]any),
		realized:   make(map[string]float64),
		unrealized: make(map[string]float64),
	}
}

func (t *tracker) apply(ev event.Event) error {
	payload, err := decodePayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}

	switch ev.Type {
	case event.TypePositionUpdate:
		symbol, ok := payload["SecuritySymbol"].(string)
		if !ok {
			return nil
		}
		for _, name := range []string{"Quantity", "AveragePrice", "UnrealizedPnL", "RealizedPnL"} {
			if v, ok := payload[name]; ok {
				t.fields["position."+symbol+"."+name] = v
			}
		}
		if v, ok := number(payload["RealizedPnL"]); ok {
			t.realized[symbol] = v
		}
		if v, ok := number(payload["UnrealizedPnL"]); ok {
			t.unrealized[symbol] = v
		}

	case event.TypeIndicatorCalculation:
		symbol, _ := payload["SecuritySymbol"].(string)
		name, ok := payload["IndicatorName"].(string)
		if !ok || symbol == "" {
			return nil
		}
		if v, ok := payload["Value"]; ok {
			t.fields["indicator."+symbol+"."+name] = v
		}

	case event.TypeStateChange:
		stateType, ok := payload["StateType"].(string)
		if !ok {
			return nil
		}
		after := payload["StateAfter"]
		orderID, hasOrder := entityKey(payload["OrderId"])
		if stateType != orderStateType || !hasOrder {
			t.fields["state."+stateType] = after
			return nil
		}
		if terminal(after) {
			delete(t.fields, "order."+orderID)
		} else {
			t.fields["order."+orderID] = after
		}

	case event.TypeOrderRejection, event.TypeTradeExecution:
		if orderID, ok := entityKey(payload["OrderId"]); ok {
			delete(t.fields, "order."+orderID)
		}
	}
	return nil
}

// snapshot copies the current fields and adds the PnL totals.
func (t *tracker) snapshot() map[string]any {
	out := maps.Clone(t.fields)
	if len(t.realized) > 0 {
		out["pnl.realized"] = sum(t.realized)
	}
	if len(t.unrealized) > 0 {
		out["pnl.unrealized"] = sum(t.unrealized)
	}
	return out
}

func sum(bySymbol map[string]float64) float64 {
	var total float64
	for _, k := range slices.Sorted(maps.Keys(bySymbol)) {
		total += bySymbol[k]
	}
	return total
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func number(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

func entityKey(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case json.Number:
		return x.String(), true
	}
	return "", false
}

func terminal(state any) bool {
	s, ok := state.(string)
	return ok && slices.Contains(terminalOrderStates, strings.ToLower(s))
}
