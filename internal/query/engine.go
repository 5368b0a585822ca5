package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/querysql"
	"github.com/roach88/runlog/internal/store"
	"github.com/roach88/runlog/internal/telemetry"
)

const (
	DefaultTimeout          = 10 * time.Second
	DefaultMaxDepth         = 1000
	DefaultPageSize         = 100
	DefaultMaxPageSize      = 1000
	DefaultMaxSequenceNodes = 100000
)

// ErrQueryTimeout is returned when an operation exceeds its deadline.
var ErrQueryTimeout = errors.New("query timed out")

// Meta describes the page an operation returned.
type Meta struct {
	ReturnedCount int           `json:"returned_count"`
	PageIndex     int           `json:"page_index"`
	PageSize      int           `json:"page_size"`
	HasMore       bool          `json:"has_more"`
	ElapsedTime   time.Duration `json:"elapsed_time_ns"`
	Truncated     bool          `json:"truncated"`
}

// Page selects one page of an ordered result. A zero Size means the
// engine's default page size.
type Page struct {
	Index int `json:"index"`
	Size  int `json:"size"`
}

// TimeRange bounds event timestamps inclusively. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
}

// Engine executes query operations against a store.
//
// An Engine holds no per-query state and is safe for concurrent use.
type Engine struct {
	store    *store.Store
	compiler *querysql.SQLCompiler
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	timeout     time.Duration
	maxDepth    int
	pageSize    int
	maxPageSize int
	maxNodes    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout sets the per-operation deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxDepth bounds causal traversal depth.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithPageSizes sets the default and maximum page sizes.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(e *Engine) {
		if defaultSize > 0 {
			e.pageSize = defaultSize
		}
		if maxSize >= e.pageSize {
			e.maxPageSize = maxSize
		}
	}
}

// WithMaxSequenceNodes caps the size of a traversed causal subtree.
func WithMaxSequenceNodes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxNodes = n
		}
	}
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.metrics = telemetry.OrNoop(m)
	}
}

// New creates an engine over st.
func New(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		compiler:    querysql.NewSQLCompiler(),
		logger:      slog.Default(),
		metrics:     telemetry.Noop(),
		timeout:     DefaultTimeout,
		maxDepth:    DefaultMaxDepth,
		pageSize:    DefaultPageSize,
		maxPageSize: DefaultMaxPageSize,
		maxNodes:    DefaultMaxSequenceNodes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// execute runs fn under the engine deadline and records its duration.
func (e *Engine) execute(ctx context.Context, op string, fn func(context.Context) error) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	attrs := metric.WithAttributes(attribute.String("operation", op))
	e.metrics.QueryDuration.Record(context.WithoutCancel(ctx), elapsed.Seconds(), attrs)

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.metrics.QueryTimeouts.Add(context.WithoutCancel(ctx), 1, attrs)
		e.logger.Warn("query timed out", "operation", op, "elapsed", elapsed, "timeout", e.timeout)
		return elapsed, fmt.Errorf("%s: %w after %s", op, ErrQueryTimeout, e.timeout)
	}
	return elapsed, err
}

// queryableRun loads the run and checks that a range starting at from does
// not begin after the run ended.
func (e *Engine) queryableRun(ctx context.Context, runID string, from time.Time, field string) (event.Run, error) {
	run, err := e.store.QueryableRun(ctx, runID)
	if err != nil {
		return event.Run{}, err
	}
	if !from.IsZero() && from.After(run.End) {
		return event.Run{}, &ParamError{
			Field:   field,
			Message: fmt.Sprintf("%s is after the run ended at %s", event.FormatTime(from), event.FormatTime(run.End)),
		}
	}
	return run, nil
}

// page resolves the effective page size.
func (e *Engine) page(p Page) (Page, error) {
	if p.Index < 0 {
		return p, &ParamError{Field: "page", Message: "must not be negative"}
	}
	if p.Size < 0 {
		return p, &ParamError{Field: "page_size", Message: "must not be negative"}
	}
	if p.Size == 0 {
		p.Size = e.pageSize
	}
	if p.Size > e.maxPageSize {
		return p, &ParamError{Field: "page_size", Message: fmt.Sprintf("must be at most %d", e.maxPageSize)}
	}
	return p, nil
}

// limitOffset returns the LIMIT/OFFSET that fetch one extra row past the page.
func limitOffset(p Page) (int, int) {
	return p.Size + 1, p.Index * p.Size
}

// trimPage cuts the extra look-ahead row and builds the page metadata.
func trimPage(events []event.Event, p Page) ([]event.Event, Meta) {
	hasMore := len(events) > p.Size
	if hasMore {
		events = events[:p.Size]
	}
	return events, Meta{
		ReturnedCount: len(events),
		PageIndex:     p.Index,
		PageSize:      p.Size,
		HasMore:       hasMore,
	}
}
