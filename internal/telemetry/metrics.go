// Package telemetry holds the OpenTelemetry metric instruments runlog
// records into. Hosts inject a real meter; the default is a noop meter.
package telemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope name.
const MeterName = "github.com/roach88/runlog"

// Metrics holds all runlog metric instruments.
type Metrics struct {
	EventsRecorded metric.Int64Counter
	EventsRejected metric.Int64Counter
	FlushCommits   metric.Int64Counter
	FlushFailures  metric.Int64Counter
	FlushDuration  metric.Float64Histogram
	QueryDuration  metric.Float64Histogram
	QueryTimeouts  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.EventsRecorded, err = meter.Int64Counter("runlog.events.recorded",
		metric.WithDescription("Events accepted by the validator and buffered"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsRejected, err = meter.Int64Counter("runlog.events.rejected",
		metric.WithDescription("Candidates rejected before buffering"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushCommits, err = meter.Int64Counter("runlog.flush.commits",
		metric.WithDescription("Batches committed to the store"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushFailures, err = meter.Int64Counter("runlog.flush.failures",
		metric.WithDescription("Batches that failed after retry exhaustion"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushDuration, err = meter.Float64Histogram("runlog.flush.duration",
		metric.WithDescription("Batch commit duration in seconds, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.QueryDuration, err = meter.Float64Histogram("runlog.query.duration",
		metric.WithDescription("Query operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.QueryTimeouts, err = meter.Int64Counter("runlog.query.timeouts",
		metric.WithDescription("Query operations aborted by their deadline"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Noop returns instruments backed by a noop meter.
func Noop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	if err != nil {
		// The noop meter never fails to create instruments.
		panic(err)
	}
	return m
}

// OrNoop returns m, or noop instruments when m is nil.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return Noop()
	}
	return m
}
