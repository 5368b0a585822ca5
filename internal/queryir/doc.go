// Package queryir provides the filter intermediate representation for event
// reads.
//
// The Query Engine never writes SQL. It describes what it wants as a Query
// built from the node types in this package, and querysql compiles that into
// parameterized SQLite SQL:
//
//	[query engine] → [Query IR] → [querysql] → [store.SelectEvents]
//
// QUERY NODES:
//   - Select: events of one run matching a filter, paged, in time order
//   - Aggregate: numeric accumulators over one payload field
//
// PREDICATES:
//   - Equals: indexed column = value (type, severity, category, order_id, ...)
//   - In: indexed column IN (values), the only OR the IR allows
//   - TimeRange: inclusive timestamp bounds, either side open
//   - PayloadEquals: payload field = value, through json_extract
//   - HasDiagnostics: events that carry validation diagnostics
//   - And: all predicates must hold
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package can implement them, so compilers can switch
// exhaustively:
//
//	switch q := query.(type) {
//	case Select:
//	    // Handle select
//	case Aggregate:
//	    // Handle aggregate
//	}
//
// Every Query is scoped to exactly one run. There is no node that reads
// across runs.
package queryir
