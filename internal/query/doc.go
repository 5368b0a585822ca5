// Package query is the read-side query engine over closed runs.
//
// Every operation is parameterized and returns its results together with a
// Meta block:
//
//	ReturnedCount  rows in this page
//	PageIndex      zero-based page number
//	PageSize       effective page size
//	HasMore        another page exists
//	ElapsedTime    wall time spent in the operation
//	Truncated      a hard cap (depth bound, node cap) cut the result
//
// An empty page with Truncated false means no event matched. A failed
// operation returns an error and no page at all.
//
// Operations validate their parameters before touching the store and reject
// inverted ranges as well as ranges starting after the run ended. Each runs
// under a deadline; exceeding it yields ErrQueryTimeout, never a partial
// result.
package query
