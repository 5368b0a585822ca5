// Package testutil holds fixtures shared by package tests: deterministic ids
// and timestamps, a throwaway store, and payload builders for each event
// type.
package testutil

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/store"
)

// ConfigHash is a well-formed config digest for test runs.
const ConfigHash = "5f0c6a1e3d2b4c7a9e8f0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f"

// Start is the default simulated start time of test runs.
var Start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

// OpenStore opens a fresh file-backed store in a temp dir, closed at test end.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "runlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Payload marshals fields into a JSON object payload.
func Payload(t testing.TB, fields map[string]any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

// Candidate builds a candidate for runID at ts.
func Candidate(runID string, ts time.Time, typ event.Type, severity event.Severity, category event.Category, payload json.RawMessage) event.Candidate {
	return event.Candidate{
		RunID:     runID,
		Timestamp: event.FormatTime(ts),
		Type:      string(typ),
		Severity:  string(severity),
		Category:  string(category),
		Payload:   payload,
	}
}

// Trade builds a complete TradeExecution candidate.
func Trade(t testing.TB, runID string, ts time.Time, orderID, symbol string, qty, price float64) event.Candidate {
	return Candidate(runID, ts, event.TypeTradeExecution, event.SeverityInfo, event.CategoryExecution, Payload(t, map[string]any{
		"OrderId":        orderID,
		"SecuritySymbol": symbol,
		"Direction":      direction(qty),
		"Quantity":       qty,
		"Price":          price,
		"Commission":     1.0,
		"Slippage":       0.01,
		"ExecutionTime":  event.FormatTime(ts),
	}))
}

// Rejection builds a complete OrderRejection candidate.
func Rejection(t testing.TB, runID string, ts time.Time, orderID, symbol, reason string) event.Candidate {
	return Candidate(runID, ts, event.TypeOrderRejection, event.SeverityWarning, event.CategoryExecution, Payload(t, map[string]any{
		"OrderId":           orderID,
		"SecuritySymbol":    symbol,
		"RejectionReason":   reason,
		"RequestedQuantity": 100,
		"RequestedPrice":    100.0,
	}))
}

// Position builds a complete PositionUpdate candidate.
func Position(t testing.TB, runID string, ts time.Time, symbol string, qty, avgPrice, unrealized, realized float64) event.Candidate {
	return Candidate(runID, ts, event.TypePositionUpdate, event.SeverityInfo, event.CategoryPerformance, Payload(t, map[string]any{
		"SecuritySymbol": symbol,
		"Quantity":       qty,
		"AveragePrice":   avgPrice,
		"UnrealizedPnL":  unrealized,
		"RealizedPnL":    realized,
	}))
}

// Indicator builds a complete IndicatorCalculation candidate.
func Indicator(t testing.TB, runID string, ts time.Time, symbol, name string, value float64) event.Candidate {
	return Candidate(runID, ts, event.TypeIndicatorCalculation, event.SeverityDebug, event.CategoryIndicators, Payload(t, map[string]any{
		"IndicatorName":  name,
		"SecuritySymbol": symbol,
		"Value":          value,
		"Parameters":     map[string]any{"period": 14},
	}))
}

// StateChange builds a complete StateChange candidate. extra fields are
// merged into the payload.
func StateChange(t testing.TB, runID string, ts time.Time, stateType string, before, after any, extra map[string]any) event.Candidate {
	fields := map[string]any{
		"StateType":    stateType,
		"StateBefore":  before,
		"StateAfter":   after,
		"ChangeReason": "test",
	}
	for k, v := range extra {
		fields[k] = v
	}
	return Candidate(runID, ts, event.TypeStateChange, event.SeverityInfo, event.CategoryExecution, Payload(t, fields))
}

// MarketData builds a complete MarketDataEvent candidate.
func MarketData(t testing.TB, runID string, ts time.Time, symbol string, close float64) event.Candidate {
	return Candidate(runID, ts, event.TypeMarketDataEvent, event.SeverityDebug, event.CategoryMarketData, Payload(t, map[string]any{
		"SecuritySymbol": symbol,
		"DataType":       "TradeBar",
		"Data":           map[string]any{"Close": close},
	}))
}

// Risk builds a complete RiskEvent candidate.
func Risk(t testing.TB, runID string, ts time.Time, riskType string, threshold, current float64) event.Candidate {
	return Candidate(runID, ts, event.TypeRiskEvent, event.SeverityWarning, event.CategoryRisk, Payload(t, map[string]any{
		"RiskType":     riskType,
		"Threshold":    threshold,
		"CurrentValue": current,
		"Action":       "Alert",
	}))
}

// WithParent sets the candidate's parent reference.
func WithParent(c event.Candidate, parentID string) event.Candidate {
	c.ParentID = parentID
	return c
}

func direction(qty float64) string {
	if qty < 0 {
		return "Sell"
	}
	return "Buy"
}
