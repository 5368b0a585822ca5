package event

import (
	"encoding/json"
	"time"
)

// Type identifies what happened. The set is closed; values outside it are
// persisted verbatim but carry an Error diagnostic.
type Type string

const (
	TypeTradeExecution       Type = "TradeExecution"
	TypeOrderRejection       Type = "OrderRejection"
	TypeIndicatorCalculation Type = "IndicatorCalculation"
	TypePositionUpdate       Type = "PositionUpdate"
	TypeStateChange          Type = "StateChange"
	TypeMarketDataEvent      Type = "MarketDataEvent"
	TypeRiskEvent            Type = "RiskEvent"

	// ManualClose and FailureCancel are kept apart so an explicit operator
	// close is never confused with a cancellation caused by a failure.
	TypeManualClose   Type = "ManualClose"
	TypeFailureCancel Type = "FailureCancel"
)

// Types lists every member of the closed event type set in declaration order.
var Types = []Type{
	TypeTradeExecution,
	TypeOrderRejection,
	TypeIndicatorCalculation,
	TypePositionUpdate,
	TypeStateChange,
	TypeMarketDataEvent,
	TypeRiskEvent,
	TypeManualClose,
	TypeFailureCancel,
}

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Severity grades an event or a diagnostic.
type Severity string

const (
	SeverityError   Severity = "Error"
	SeverityWarning Severity = "Warning"
	SeverityInfo    Severity = "Info"
	SeverityDebug   Severity = "Debug"
)

// Severities lists the closed severity set.
var Severities = []Severity{SeverityError, SeverityWarning, SeverityInfo, SeverityDebug}

// Valid reports whether s is a member of the closed severity set.
func (s Severity) Valid() bool {
	for _, known := range Severities {
		if s == known {
			return true
		}
	}
	return false
}

// Category groups events by subsystem.
type Category string

const (
	CategoryExecution   Category = "Execution"
	CategoryMarketData  Category = "MarketData"
	CategoryIndicators  Category = "Indicators"
	CategoryRisk        Category = "Risk"
	CategoryPerformance Category = "Performance"
)

// Categories lists the closed category set.
var Categories = []Category{
	CategoryExecution,
	CategoryMarketData,
	CategoryIndicators,
	CategoryRisk,
	CategoryPerformance,
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Run is one complete backtest execution.
//
// End is the zero time while the run is open. A run accepts appends only
// while open and becomes queryable once End is recorded.
type Run struct {
	ID         string    `json:"id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end,omitzero"`
	ConfigHash string    `json:"config_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// Closed reports whether the run's end time has been recorded.
func (r Run) Closed() bool {
	return !r.End.IsZero()
}

// Contains reports whether ts lies within the run's bounds. While the run is
// open only the lower bound applies.
func (r Run) Contains(ts time.Time) bool {
	if ts.Before(r.Start) {
		return false
	}
	if r.Closed() && ts.After(r.End) {
		return false
	}
	return true
}

// Event is one immutable, timestamped occurrence within a run.
//
// Seq is the store's internal insertion sequence; it breaks timestamp ties
// and is never serialized.
type Event struct {
	Seq         int64           `json:"-"`
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        Type            `json:"type"`
	Severity    Severity        `json:"severity"`
	Category    Category        `json:"category"`
	Payload     json.RawMessage `json:"payload"`
	ParentID    string          `json:"parent_id,omitempty"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
}

// HasIssues reports whether validation attached any diagnostics.
func (e Event) HasIssues() bool {
	return len(e.Diagnostics) > 0
}

// Diagnostic records a validation problem found on an event that was still
// persisted.
type Diagnostic struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Candidate is an event as submitted by the producer, before validation.
//
// Enumerations and the timestamp are carried as raw strings so that
// out-of-vocabulary values can be diagnosed instead of lost.
type Candidate struct {
	ID        string          `json:"id,omitempty"`
	RunID     string          `json:"run_id"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Severity  string          `json:"severity"`
	Category  string          `json:"category"`
	Payload   json.RawMessage `json:"payload"`
	ParentID  string          `json:"parent_id,omitempty"`
}

// TimestampLayout is the wire format for event and run timestamps.
const TimestampLayout = time.RFC3339Nano

// FormatTime renders ts in TimestampLayout, normalized to UTC.
func FormatTime(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// ParseTime parses a TimestampLayout string and normalizes it to UTC.
func ParseTime(s string) (time.Time, error) {
	ts, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
