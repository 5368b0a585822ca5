// Package recorder is the producer-facing write interface: open a run,
// record events as they happen, close the run.
//
// A Recorder serves exactly one run. It owns the run's validator and batch
// writer, so rejections are reported synchronously while accepted events are
// committed in batches behind the caller.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/runlog/internal/canon"
	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/schema"
	"github.com/roach88/runlog/internal/store"
	"github.com/roach88/runlog/internal/telemetry"
	"github.com/roach88/runlog/internal/writer"
)

var (
	// ErrNotOpen is returned when recording before OpenRun.
	ErrNotOpen = errors.New("recorder has no open run")

	// ErrAlreadyOpen is returned when OpenRun is called twice.
	ErrAlreadyOpen = errors.New("recorder already has a run")

	// ErrWrongRun is returned when CloseRun names a run this recorder does not own.
	ErrWrongRun = errors.New("run not owned by this recorder")
)

// Recorder records the events of one run.
//
// Not safe for concurrent use: a run has a single producer.
type Recorder struct {
	store     *store.Store
	sink      writer.Sink
	contracts *schema.Contracts
	ids       event.IDGenerator
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	writerOpts    []writer.Option
	validatorOpts []schema.Option

	run       event.Run
	validator *schema.Validator
	writer    *writer.Writer
	closed    bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithIDGenerator sets the generator for run ids and missing event ids.
func WithIDGenerator(g event.IDGenerator) Option {
	return func(r *Recorder) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithWriterOptions passes options through to the run's batch writer.
func WithWriterOptions(opts ...writer.Option) Option {
	return func(r *Recorder) {
		r.writerOpts = append(r.writerOpts, opts...)
	}
}

// WithValidatorOptions passes options through to the run's validator.
func WithValidatorOptions(opts ...schema.Option) Option {
	return func(r *Recorder) {
		r.validatorOpts = append(r.validatorOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New creates a recorder writing to st. Call OpenRun before Record.
func New(st *store.Store, contracts *schema.Contracts, opts ...Option) *Recorder {
	r := &Recorder{
		store:     st,
		sink:      st,
		contracts: contracts,
		ids:       event.UUIDv7Generator{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics = telemetry.OrNoop(r.metrics)
	return r
}

// OpenRun creates the run and starts its write phase. configHash is the
// fixed-length digest of the run's configuration (see canon.ConfigDigest).
func (r *Recorder) OpenRun(ctx context.Context, configHash string, start time.Time) (event.Run, error) {
	if r.validator != nil {
		return event.Run{}, ErrAlreadyOpen
	}
	if !canon.ValidDigest(configHash) {
		return event.Run{}, fmt.Errorf("open run: config hash must be %d lowercase hex characters", canon.DigestLength)
	}
	if start.IsZero() {
		return event.Run{}, fmt.Errorf("open run: start time is required")
	}

	run := event.Run{
		ID:         r.ids.Generate(),
		Start:      start.UTC(),
		ConfigHash: configHash,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return event.Run{}, fmt.Errorf("open run: %w", err)
	}

	vopts := append([]schema.Option{schema.WithIDGenerator(r.ids)}, r.validatorOpts...)
	wopts := append([]writer.Option{writer.WithLogger(r.logger), writer.WithMetrics(r.metrics)}, r.writerOpts...)

	r.run = run
	r.validator = schema.NewValidator(run, r.contracts, vopts...)
	r.writer = writer.New(r.sink, run.ID, wopts...)

	r.logger.Info("run opened", "run_id", run.ID, "start", event.FormatTime(run.Start))
	return run, nil
}

// Run returns the recorder's run.
func (r *Recorder) Run() event.Run {
	return r.run
}

// Record validates a candidate and buffers it for the next flush.
//
// A *schema.RejectError means the candidate was not buffered. A
// *writer.FlushError means an earlier flush failed: neither c nor the
// error's Unflushed events are buffered. Re-emit the Unflushed events with
// Reemit, then record c again. The returned event carries any diagnostics
// attached.
func (r *Recorder) Record(ctx context.Context, c event.Candidate) (event.Event, error) {
	if r.validator == nil || r.closed {
		return event.Event{}, ErrNotOpen
	}
	attrs := metric.WithAttributes(attribute.String("run_id", r.run.ID))

	if c.RunID == "" {
		c.RunID = r.run.ID
	}
	ev, _, err := r.validator.Validate(c)
	if err != nil {
		r.metrics.EventsRejected.Add(ctx, 1, attrs)
		r.logger.Debug("event rejected", "run_id", r.run.ID, "error", err)
		return event.Event{}, err
	}

	if err := r.writer.Append(ev); err != nil {
		r.validator.Forget(ev.ID)
		r.forgetUnflushed(err)
		return event.Event{}, fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	r.metrics.EventsRecorded.Add(ctx, 1, attrs)
	return ev, nil
}

// Reemit buffers events dropped by a failed flush again, in order. They keep
// their ids, timestamps and diagnostics.
//
// If another flush failure is reported part way through, the returned
// *writer.FlushError lists every event still to be re-emitted, including
// the rest of events.
func (r *Recorder) Reemit(ctx context.Context, events []event.Event) error {
	if r.validator == nil || r.closed {
		return ErrNotOpen
	}
	for _, ev := range events {
		if ev.RunID != r.run.ID {
			return fmt.Errorf("reemit event %s: %w", ev.ID, ErrWrongRun)
		}
	}

	for i, ev := range events {
		if err := r.validator.Admit(ev.ID); err != nil {
			return fmt.Errorf("reemit event %s: %w", ev.ID, err)
		}
		err := r.writer.Append(ev)
		if err == nil {
			continue
		}
		r.validator.Forget(ev.ID)
		r.forgetUnflushed(err)

		var flushErr *writer.FlushError
		if errors.As(err, &flushErr) {
			pending := *flushErr
			pending.Unflushed = append(append([]event.Event(nil), flushErr.Unflushed...), events[i:]...)
			return fmt.Errorf("reemit: %w", &pending)
		}
		return fmt.Errorf("reemit event %s: %w", ev.ID, err)
	}
	r.logger.Info("events re-emitted", "run_id", r.run.ID, "events", len(events))
	return nil
}

// Flush commits everything recorded so far. A *writer.FlushError lists the
// events to re-emit.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.writer == nil {
		return ErrNotOpen
	}
	if err := r.writer.Flush(ctx); err != nil {
		r.forgetUnflushed(err)
		return err
	}
	return nil
}

// CloseRun flushes every buffered event, then records the run's end time,
// switching the run from its write phase to its read phase.
//
// If the final flush fails the run stays open and the recorder stays usable:
// re-emit the error's Unflushed events and close again. An end earlier than
// a recorded event is rejected with store.ErrInvalidEnd.
func (r *Recorder) CloseRun(ctx context.Context, runID string, end time.Time) error {
	if r.validator == nil || r.closed {
		return ErrNotOpen
	}
	if runID != r.run.ID {
		return fmt.Errorf("close run %s: %w", runID, ErrWrongRun)
	}
	if end.Before(r.run.Start) {
		return fmt.Errorf("close run %s: %w", runID, store.ErrInvalidEnd)
	}

	if err := r.writer.Flush(ctx); err != nil {
		r.forgetUnflushed(err)
		return fmt.Errorf("close run %s: final flush: %w", runID, err)
	}
	if err := r.store.CloseRun(ctx, runID, end.UTC()); err != nil {
		return err
	}

	r.closed = true
	r.run.End = end.UTC()
	if err := r.writer.Close(ctx); err != nil {
		return fmt.Errorf("close run %s: stop writer: %w", runID, err)
	}
	stats := r.writer.Stats()
	r.logger.Info("run closed", "run_id", runID, "events", stats.Committed, "commits", stats.Commits)
	return nil
}

// forgetUnflushed releases the ids of events a failed flush dropped, so they
// can be re-emitted.
func (r *Recorder) forgetUnflushed(err error) {
	var flushErr *writer.FlushError
	if !errors.As(err, &flushErr) {
		return
	}
	for _, ev := range flushErr.Unflushed {
		r.validator.Forget(ev.ID)
	}
}
