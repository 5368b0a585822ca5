// Package querysql compiles queryir queries into parameterized SQLite SQL
// over the events table.
package querysql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/runlog/internal/queryir"
	"github.com/roach88/runlog/internal/store"
)

// SQLCompiler compiles queryir queries to parameterized SQL for SQLite.
//
// Every Select ends in ORDER BY ts ASC, seq ASC so paging is deterministic.
// Every value is a bind parameter, never interpolated. Column names come only
// from the closed queryir.Column set.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to parameterized SQL.
// Returns (sql, params, error) tuple. The query is validated first.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case queryir.Aggregate:
		return c.compileAggregate(query)
	case *queryir.Aggregate:
		return c.compileAggregate(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a queryir.Select to SQL.
func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	where, params, err := c.compileWhere(q.RunID, q.Filter)
	if err != nil {
		return "", nil, err
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(store.EventColumns)
	sql.WriteString(" FROM events WHERE ")
	sql.WriteString(where)
	sql.WriteString(" ORDER BY ")
	sql.WriteString(stableOrderKey())

	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit == 0 {
			limit = -1 // SQLite: no limit
		}
		sql.WriteString(" LIMIT ? OFFSET ?")
		params = append(params, limit, q.Offset)
	}

	return sql.String(), params, nil
}

// compileAggregate compiles a queryir.Aggregate to a single-row statement
// selecting COUNT(*), COUNT(v), TOTAL(v), MIN(v), MAX(v) and the sum of
// squared deviations from AVG(v), where v is the field's value when numeric
// and NULL otherwise. Deviations are taken in SQL so large values with a
// small spread keep their precision.
//
// No ORDER BY: the result is one row.
func (c *SQLCompiler) compileAggregate(q queryir.Aggregate) (string, []any, error) {
	where, whereParams, err := c.compileWhere(q.RunID, q.Filter)
	if err != nil {
		return "", nil, err
	}

	path := jsonPath(q.Field)
	sql := "WITH vals AS (" +
		"SELECT CASE WHEN json_type(payload, ?) IN ('integer', 'real') " +
		"THEN json_extract(payload, ?) END AS v " +
		"FROM events WHERE " + where + "), " +
		"mean AS (SELECT AVG(v) AS m FROM vals) " +
		"SELECT COUNT(*), COUNT(v), TOTAL(v), MIN(v), MAX(v), TOTAL((v - m) * (v - m)) " +
		"FROM vals, mean"

	params := make([]any, 0, len(whereParams)+2)
	params = append(params, path, path)
	params = append(params, whereParams...)
	return sql, params, nil
}

// compileWhere scopes the filter to one run.
func (c *SQLCompiler) compileWhere(runID string, filter queryir.Predicate) (string, []any, error) {
	params := []any{runID}
	if filter == nil {
		return "run_id = ?", params, nil
	}
	filterSQL, filterParams, err := c.compilePredicate(filter)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	return "run_id = ? AND " + filterSQL, append(params, filterParams...), nil
}

// stableOrderKey returns the ORDER BY clause for event reads. seq breaks
// timestamp ties in append order.
func stableOrderKey() string {
	return "ts ASC, seq ASC"
}

// compilePredicate compiles a queryir.Predicate to a SQL WHERE fragment.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.In:
		return c.compileIn(pred)
	case *queryir.In:
		return c.compileIn(*pred)
	case queryir.TimeRange:
		return c.compileTimeRange(pred)
	case *queryir.TimeRange:
		return c.compileTimeRange(*pred)
	case queryir.PayloadEquals:
		return c.compilePayloadEquals(pred)
	case *queryir.PayloadEquals:
		return c.compilePayloadEquals(*pred)
	case queryir.HasDiagnostics:
		return c.compileHasDiagnostics(pred)
	case *queryir.HasDiagnostics:
		return c.compileHasDiagnostics(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals compiles an Equals predicate to "column = ?".
func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, []any, error) {
	if !eq.Column.Valid() {
		return "", nil, fmt.Errorf("unknown column %q", eq.Column)
	}
	return string(eq.Column) + " = ?", []any{eq.Value}, nil
}

// compileIn compiles an In predicate to "column IN (?, ...)".
func (c *SQLCompiler) compileIn(in queryir.In) (string, []any, error) {
	if !in.Column.Valid() {
		return "", nil, fmt.Errorf("unknown column %q", in.Column)
	}
	if len(in.Values) == 0 {
		return "", nil, fmt.Errorf("in %s: no values", in.Column)
	}
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		params[i] = v
	}
	marks := strings.Repeat("?, ", len(in.Values)-1) + "?"
	return string(in.Column) + " IN (" + marks + ")", params, nil
}

// compileTimeRange compiles inclusive bounds against the nanosecond ts column.
func (c *SQLCompiler) compileTimeRange(tr queryir.TimeRange) (string, []any, error) {
	var parts []string
	var params []any
	if !tr.From.IsZero() {
		parts = append(parts, "ts >= ?")
		params = append(params, tr.From.UnixNano())
	}
	if !tr.To.IsZero() {
		parts = append(parts, "ts <= ?")
		params = append(params, tr.To.UnixNano())
	}
	if len(parts) == 0 {
		return "1 = 1", nil, nil
	}
	return strings.Join(parts, " AND "), params, nil
}

// compilePayloadEquals compiles to "json_extract(payload, ?) = ?". The path is
// a bind parameter too.
func (c *SQLCompiler) compilePayloadEquals(pe queryir.PayloadEquals) (string, []any, error) {
	if !queryir.ValidField(pe.Field) {
		return "", nil, fmt.Errorf("invalid payload field %q", pe.Field)
	}
	value, err := payloadParam(pe.Value)
	if err != nil {
		return "", nil, fmt.Errorf("payload field %s: %w", pe.Field, err)
	}
	return "json_extract(payload, ?) = ?", []any{jsonPath(pe.Field), value}, nil
}

// compileHasDiagnostics compiles to a partial-index-friendly NOT NULL check,
// optionally narrowed to one diagnostic severity.
func (c *SQLCompiler) compileHasDiagnostics(hd queryir.HasDiagnostics) (string, []any, error) {
	if hd.Severity == "" {
		return "diagnostics IS NOT NULL", nil, nil
	}
	return "diagnostics IS NOT NULL AND EXISTS (" +
		"SELECT 1 FROM json_each(events.diagnostics) d " +
		"WHERE json_extract(d.value, '$.severity') = ?)", []any{hd.Severity}, nil
}

// compileAnd compiles an And predicate to a parenthesized conjunction.
func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, predParams, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, predParams...)
	}

	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

func jsonPath(field string) string {
	return "$." + field
}

// payloadParam converts a literal to a value json_extract compares equal.
// JSON booleans extract as 1 and 0.
func payloadParam(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
