package queryir

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fieldPattern restricts payload field names to plain identifiers so they
// can be addressed as "$.<field>" without quoting.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidField reports whether name can be used as a payload field reference.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// ValidationError lists every problem found in a query.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Problems, "; ")
}

// Validate checks a query for structural problems: unknown columns, bad
// payload field names, unsupported literal types, inverted time ranges and
// negative paging.
//
// Validate is a pure function with no side effects.
func Validate(query Query) error {
	v := &validator{}
	v.validateQuery(query)
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	case Aggregate:
		v.validateAggregate(query)
	case *Aggregate:
		v.validateAggregate(*query)
	case nil:
		v.addProblem("nil query")
	default:
		v.addProblem("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.RunID == "" {
		v.addProblem("select: run id is required")
	}
	if sel.Limit < 0 {
		v.addProblem("select: negative limit %d", sel.Limit)
	}
	if sel.Offset < 0 {
		v.addProblem("select: negative offset %d", sel.Offset)
	}
	v.validatePredicate(sel.Filter)
}

func (v *validator) validateAggregate(agg Aggregate) {
	if agg.RunID == "" {
		v.addProblem("aggregate: run id is required")
	}
	if !ValidField(agg.Field) {
		v.addProblem("aggregate: invalid field name %q", agg.Field)
	}
	v.validatePredicate(agg.Filter)
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		// no filter
	case Equals:
		v.validateColumn(pred.Column)
	case *Equals:
		v.validateColumn(pred.Column)
	case In:
		v.validateIn(pred)
	case *In:
		v.validateIn(*pred)
	case TimeRange:
		v.validateTimeRange(pred)
	case *TimeRange:
		v.validateTimeRange(*pred)
	case PayloadEquals:
		v.validatePayloadEquals(pred)
	case *PayloadEquals:
		v.validatePayloadEquals(*pred)
	case HasDiagnostics, *HasDiagnostics:
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.addProblem("unknown predicate type: %T", p)
	}
}

func (v *validator) validateColumn(c Column) {
	if !c.Valid() {
		v.addProblem("unknown column %q", c)
	}
}

func (v *validator) validateIn(in In) {
	v.validateColumn(in.Column)
	if len(in.Values) == 0 {
		v.addProblem("in %s: at least one value is required", in.Column)
	}
}

func (v *validator) validateTimeRange(tr TimeRange) {
	if !tr.From.IsZero() && !tr.To.IsZero() && tr.From.After(tr.To) {
		v.addProblem("time range: start %s is after end %s", tr.From, tr.To)
	}
}

func (v *validator) validatePayloadEquals(pe PayloadEquals) {
	if !ValidField(pe.Field) {
		v.addProblem("payload field: invalid name %q", pe.Field)
	}
	switch pe.Value.(type) {
	case string, bool, int, int64, float64, json.Number:
	default:
		v.addProblem("payload field %s: unsupported value type %T", pe.Field, pe.Value)
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		v.validatePredicate(sub)
	}
}
