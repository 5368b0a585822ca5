package queryir

import "time"

// Query represents an abstract event query.
//
// This is a sealed interface - only types in this package implement it.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition on events.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Column names an indexed event column that Equals and In may reference.
type Column string

const (
	ColumnID       Column = "id"
	ColumnType     Column = "type"
	ColumnSeverity Column = "severity"
	ColumnCategory Column = "category"
	ColumnParentID Column = "parent_id"

	// Promoted payload keys.
	ColumnOrderID Column = "order_id"
	ColumnSymbol  Column = "symbol"
)

// Columns lists every column a predicate may reference.
var Columns = []Column{
	ColumnID, ColumnType, ColumnSeverity, ColumnCategory, ColumnParentID,
	ColumnOrderID, ColumnSymbol,
}

// Valid reports whether c is a known filterable column.
func (c Column) Valid() bool {
	for _, known := range Columns {
		if c == known {
			return true
		}
	}
	return false
}

// Select reads the events of one run that match Filter.
//
// Semantics:
//
//	SELECT <event columns> FROM events
//	WHERE run_id = <RunID> AND <Filter>
//	ORDER BY ts ASC, seq ASC
//	LIMIT <Limit> OFFSET <Offset>
//
// A zero Limit means no limit.
type Select struct {
	RunID  string
	Filter Predicate // nil = every event of the run
	Limit  int
	Offset int
}

func (Select) queryNode() {}

// Aggregate computes count, sum, min, max and squared deviations over the numeric
// values found at payload field Field, across the events matching Filter.
// Events whose field is absent or non-numeric still count toward the match
// count.
type Aggregate struct {
	RunID  string
	Filter Predicate
	Field  string
}

func (Aggregate) queryNode() {}

// Equals matches events whose Column equals Value.
type Equals struct {
	Column Column
	Value  string
}

func (Equals) predicateNode() {}

// In matches events whose Column equals any of Values.
type In struct {
	Column Column
	Values []string
}

func (In) predicateNode() {}

// TimeRange matches events with From <= timestamp <= To. A zero bound is
// open on that side.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (TimeRange) predicateNode() {}

// PayloadEquals matches events whose top-level payload field equals Value.
// Value must be a string, bool, or number.
type PayloadEquals struct {
	Field string
	Value any
}

func (PayloadEquals) predicateNode() {}

// HasDiagnostics matches events that carry at least one diagnostic. A
// non-empty Severity restricts to events with a diagnostic of that severity.
type HasDiagnostics struct {
	Severity string
}

func (HasDiagnostics) predicateNode() {}

// And matches events satisfying every predicate. An empty And matches all.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
