// Package store provides SQLite-backed durable storage for backtest runs and
// their events.
//
// One database holds many runs. The store keeps two relations:
//   - runs: one row per backtest run; end_ns is NULL while the run is open
//   - events: write-once event rows owned by a run (ON DELETE CASCADE)
//
// # Phases
//
// A run accepts appends only while open and becomes queryable only after its
// end time is recorded. Read paths never race a writer for the same run.
//
// # Indexes
//
//   - (run_id, ts, seq): the dominant time-range filter
//   - (run_id, type|category|severity, ts, seq): enum filters combined with time
//   - parent_id, partial: causal children, most events have no parent
//   - order_id / symbol, partial: promoted payload keys for entity lookups
//   - diagnostics IS NOT NULL, partial: the "events with issues" query
//
// # Deterministic ordering
//
// Every event read orders by ts ASC, seq ASC. seq is the insertion sequence
// and breaks timestamp ties in append order.
//
// # Database configuration
//
//   - WAL mode: readers never block the writer
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: a run reference is enforced on every event
//
// The writer uses a single connection. Readers use a separate pool opened
// with query_only, so many queries can run concurrently.
package store
