// Package writer buffers validated events for one run and commits them to
// the store in atomic batches from a single background flusher.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/store"
	"github.com/roach88/runlog/internal/telemetry"
)

const (
	DefaultThreshold       = 1000
	DefaultInterval        = 30 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 100 * time.Millisecond
)

// ErrClosed is returned by Append and Flush after Close.
var ErrClosed = errors.New("writer closed")

// FlushError reports a batch that could not be committed.
//
// Unflushed holds, in append order, every event the writer was holding
// when the batch failed: the failed batch, the batches sealed behind it and
// the active buffer. The writer drops them all; they are the events the
// producer has to re-emit.
type FlushError struct {
	RunID     string
	Events    int
	Attempts  int
	Unflushed []event.Event
	Err       error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush %d events for run %s failed after %d attempt(s), %d unflushed: %v",
		e.Events, e.RunID, e.Attempts, len(e.Unflushed), e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// Sink commits one batch atomically.
type Sink interface {
	AppendBatch(ctx context.Context, runID string, events []event.Event) error
}

// Stats reports flush activity.
type Stats struct {
	Commits   int64
	Committed int64
	Failures  int64
	Buffered  int
}

// Writer is the batch writer for one run.
//
// Append copies the event into the active buffer. When the buffer reaches
// the threshold it is sealed and handed to the flusher; the flusher also
// seals whatever is buffered every interval. Sealed batches commit in FIFO
// order, one transaction each. Append never waits on the store.
//
// A batch that fails after retry exhaustion is reported once, as a
// *FlushError, by the next Append, Flush or Close. The writer is usable
// again afterwards.
type Writer struct {
	sink    Sink
	runID   string
	logger  *slog.Logger
	metrics *telemetry.Metrics

	threshold       int
	interval        time.Duration
	maxAttempts     int
	initialInterval time.Duration

	mu     sync.Mutex
	active []event.Event
	sealed [][]event.Event
	err    *FlushError // unreported failure
	closed bool
	stats  Stats

	kick     chan struct{} // buffered, size 1
	flushReq chan chan error
	stop     chan struct{}
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// Option configures a Writer.
type Option func(*Writer)

// WithThreshold sets the buffered event count that triggers a flush.
func WithThreshold(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.threshold = n
		}
	}
}

// WithInterval sets the periodic flush interval.
func WithInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithMaxAttempts sets how many times a batch is tried before it is
// reported as failed.
func WithMaxAttempts(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryInterval sets the first retry delay; later delays grow
// exponentially.
func WithRetryInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.initialInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Writer) {
		if m != nil {
			w.metrics = m
		}
	}
}

// New creates a writer for runID and starts its flusher goroutine.
func New(sink Sink, runID string, opts ...Option) *Writer {
	w := &Writer{
		sink:            sink,
		runID:           runID,
		logger:          slog.Default(),
		threshold:       DefaultThreshold,
		interval:        DefaultInterval,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: DefaultInitialInterval,
		kick:            make(chan struct{}, 1),
		flushReq:        make(chan chan error),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.metrics = telemetry.OrNoop(w.metrics)
	w.active = make([]event.Event, 0, w.threshold)
	w.ctx, w.cancel = context.WithCancel(context.Background())

	go w.run()
	return w
}

// Append buffers one event. It returns ErrClosed after Close.
//
// If a flush failed since the last report, Append returns that *FlushError
// instead and does not buffer ev; ev has to be re-emitted along with the
// error's Unflushed events.
func (w *Writer) Append(ev event.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if err := w.takeErrLocked(); err != nil {
		return err
	}

	w.active = append(w.active, ev)
	if len(w.active) >= w.threshold {
		w.sealLocked()
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush commits everything buffered so far and waits for the commits. It
// returns the unreported flush failure, if any.
func (w *Writer) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case w.flushReq <- reply:
	case <-w.done:
		if err := w.takeErr(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes everything buffered and stops the flusher. It returns the
// unreported flush failure, if any; later calls return nil.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.stop)
	})

	select {
	case <-w.done:
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
	w.cancel()
	return w.takeErr()
}

// Stats returns a snapshot of flush activity.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Buffered = len(w.active)
	for _, b := range w.sealed {
		s.Buffered += len(b)
	}
	return s
}

// takeErr returns the unreported failure and clears it.
func (w *Writer) takeErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.takeErrLocked()
}

func (w *Writer) takeErrLocked() error {
	if w.err == nil {
		return nil
	}
	err := w.err
	w.err = nil
	return err
}

// sealLocked moves the active buffer to the sealed queue. Caller holds mu.
func (w *Writer) sealLocked() {
	if len(w.active) == 0 {
		return
	}
	w.sealed = append(w.sealed, w.active)
	w.active = make([]event.Event, 0, w.threshold)
}

func (w *Writer) seal() {
	w.mu.Lock()
	w.sealLocked()
	w.mu.Unlock()
}

// run is the flusher loop; it is the only goroutine that commits.
func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.kick:
			w.drain()
		case <-ticker.C:
			w.seal()
			w.drain()
		case reply := <-w.flushReq:
			w.seal()
			w.drain()
			reply <- w.takeErr()
		case <-w.stop:
			w.seal()
			w.drain()
			return
		}
	}
}

// drain commits sealed batches in order until none remain or one fails.
func (w *Writer) drain() {
	for {
		w.mu.Lock()
		if len(w.sealed) == 0 {
			w.mu.Unlock()
			return
		}
		batch := w.sealed[0]
		w.sealed[0] = nil
		w.sealed = w.sealed[1:]
		w.mu.Unlock()

		failure := w.commit(batch)

		w.mu.Lock()
		if failure != nil {
			w.fail(failure, batch)
			w.mu.Unlock()
			return
		}
		w.stats.Commits++
		w.stats.Committed += int64(len(batch))
		w.mu.Unlock()
	}
}

// fail drops every event the writer holds and records them on the failure.
// Batches behind a failed one are not committed, so FIFO order holds when
// the producer re-emits. Caller holds mu.
func (w *Writer) fail(failure *FlushError, batch []event.Event) {
	unflushed := make([]event.Event, 0, len(batch)+len(w.active))
	if w.err != nil {
		unflushed = append(unflushed, w.err.Unflushed...)
	}
	unflushed = append(unflushed, batch...)
	for _, b := range w.sealed {
		unflushed = append(unflushed, b...)
	}
	unflushed = append(unflushed, w.active...)

	failure.Unflushed = unflushed
	w.err = failure
	w.sealed = nil
	w.active = make([]event.Event, 0, w.threshold)
	w.stats.Failures++
}

// commit writes one batch, retrying transient failures with exponential
// backoff. Integrity failures are not retried.
func (w *Writer) commit(batch []event.Event) *FlushError {
	start := time.Now()
	attempts := 0
	attrs := metric.WithAttributes(attribute.String("run_id", w.runID))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialInterval

	op := func() (struct{}, error) {
		attempts++
		err := w.sink.AppendBatch(w.ctx, w.runID, batch)
		if err != nil && store.IsIntegrity(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, next time.Duration) {
		w.logger.Warn("flush attempt failed",
			"run_id", w.runID, "batch_size", len(batch), "attempt", attempts,
			"retry_in", next, "error", err)
	}

	_, err := backoff.Retry(w.ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(w.maxAttempts)),
		backoff.WithNotify(notify),
	)
	w.metrics.FlushDuration.Record(w.ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		w.metrics.FlushFailures.Add(w.ctx, 1, attrs)
		w.logger.Error("flush failed",
			"run_id", w.runID, "batch_size", len(batch), "attempt", attempts, "error", err)
		return &FlushError{RunID: w.runID, Events: len(batch), Attempts: attempts, Err: err}
	}

	w.metrics.FlushCommits.Add(w.ctx, 1, attrs)
	w.logger.Debug("flush committed",
		"run_id", w.runID, "batch_size", len(batch), "elapsed", time.Since(start))
	return nil
}
