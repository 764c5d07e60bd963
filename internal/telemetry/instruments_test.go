package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestInstruments_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	inst, err := NewInstruments(mp.Meter(InstrumentationName))
	require.NoError(t, err)

	ctx := context.Background()
	inst.RecordTurn(ctx, "aoi", "utterance", 2*time.Second)
	inst.RecordTurn(ctx, "aoi", "utterance", time.Second)
	inst.RecordTurn(ctx, "ren", "error", 500*time.Millisecond)
	inst.RecordSession(ctx, "time_budget", time.Minute)

	data := collect(t, reader)

	turns, ok := data[MetricTurns].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range turns.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Len(t, turns.DataPoints, 2)

	hist, ok := data[MetricTurnDuration].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	var sum float64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		sum += dp.Sum
	}
	assert.Equal(t, uint64(3), count)
	assert.InDelta(t, 3.5, sum, 1e-9)

	sessions, ok := data[MetricSessions].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sessions.DataPoints, 1)
	assert.Equal(t, int64(1), sessions.DataPoints[0].Value)
	reason, _ := sessions.DataPoints[0].Attributes.Value("end_reason")
	assert.Equal(t, "time_budget", reason.AsString())

	_, ok = data[MetricSessionDuration].(metricdata.Histogram[float64])
	assert.True(t, ok)
}

func TestInstruments_NilSafe(t *testing.T) {
	var inst *Instruments
	assert.NotPanics(t, func() {
		inst.RecordTurn(context.Background(), "aoi", "utterance", time.Second)
		inst.RecordSession(context.Background(), "closing", time.Second)
	})
}
