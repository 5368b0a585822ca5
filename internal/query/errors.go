package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/store"
)

// ParamError rejects an operation parameter before execution.
type ParamError struct {
	Field   string
	Message string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Message)
}

// IsParamError reports whether err is or wraps a *ParamError.
func IsParamError(err error) bool {
	var pe *ParamError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err means the run or event does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrRunNotFound) || errors.Is(err, store.ErrEventNotFound)
}

func requireRunID(runID string) error {
	if runID == "" {
		return &ParamError{Field: "run_id", Message: "is required"}
	}
	if !event.ValidID(runID) {
		return &ParamError{Field: "run_id", Message: "must be a UUID"}
	}
	return nil
}

func checkRange(r TimeRange) error {
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return &ParamError{
			Field:   "from",
			Message: fmt.Sprintf("start %s is after end %s", event.FormatTime(r.From), event.FormatTime(r.To)),
		}
	}
	return nil
}

func checkTypes(field string, types []event.Type) error {
	for _, t := range types {
		if !t.Valid() {
			return &ParamError{Field: field, Message: fmt.Sprintf("unknown event type %q", t)}
		}
	}
	return nil
}

func checkSeverities(field string, severities []event.Severity) error {
	for _, s := range severities {
		if !s.Valid() {
			return &ParamError{Field: field, Message: fmt.Sprintf("unknown severity %q", s)}
		}
	}
	return nil
}

func checkCategories(field string, categories []event.Category) error {
	for _, c := range categories {
		if !c.Valid() {
			return &ParamError{Field: field, Message: fmt.Sprintf("unknown category %q", c)}
		}
	}
	return nil
}

func checkWindow(field string, d time.Duration) error {
	if d < 0 {
		return &ParamError{Field: field, Message: "must not be negative"}
	}
	return nil
}
