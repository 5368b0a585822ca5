package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	m := Noop()

	assert.NotNil(t, m.EventsRecorded)
	assert.NotNil(t, m.EventsRejected)
	assert.NotNil(t, m.FlushCommits)
	assert.NotNil(t, m.FlushFailures)
	assert.NotNil(t, m.FlushDuration)
	assert.NotNil(t, m.QueryDuration)
	assert.NotNil(t, m.QueryTimeouts)
}

func TestOrNoop(t *testing.T) {
	assert.NotNil(t, OrNoop(nil))

	m := Noop()
	assert.Same(t, m, OrNoop(m))
}

func TestNewMetrics_RecordsThroughSDK(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	m, err := NewMetrics(provider.Meter(MeterName))
	require.NoError(t, err)

	m.EventsRecorded.Add(ctx, 3)
	m.FlushCommits.Add(ctx, 1)
	m.QueryDuration.Record(ctx, 0.25, metric.WithAttributes())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics[0].Metrics {
		if sum, ok := sm.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range sum.DataPoints {
				sums[sm.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), sums["runlog.events.recorded"])
	assert.Equal(t, int64(1), sums["runlog.flush.commits"])
}
