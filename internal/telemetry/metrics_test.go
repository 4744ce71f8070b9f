package telemetry

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordersNoopWithoutInstall(t *testing.T) {
	Install(nil)
	ctx := context.Background()
	RecordConsensusRound(ctx, "approved")
	RecordCommand(ctx, "completed", time.Second)
	RecordPlan(ctx, "plan", "approved")
	RecordMonitorSkip(ctx)
	ObserveMemoryEntries(func() int64 { return 1 })
}

func TestInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := New(provider)
	require.NoError(t, err)
	Install(m)
	t.Cleanup(func() { Install(nil) })

	ctx := context.Background()
	RecordConsensusRound(ctx, "approved")
	RecordConsensusRound(ctx, "quorum_not_met")
	RecordCommand(ctx, "completed", 250*time.Millisecond)
	RecordPlan(ctx, "replan", "failed")
	RecordMonitorSkip(ctx)
	RecordMonitorSkip(ctx)
	ObserveMemoryEntries(func() int64 { return 7 })

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got["mesh_consensus_rounds_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["mesh_commands_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["mesh_plans_total"]))
	assert.Equal(t, int64(2), sumOf(t, got["mesh_monitor_ticks_skipped_total"]))

	hist, ok := got["mesh_command_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	gauge, ok := got["mesh_memory_entries"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)
}

func TestInitMeterProviderServesMetrics(t *testing.T) {
	ctx := context.Background()
	handler, provider, err := InitMeterProvider(ctx, "mesh-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(ctx); Install(nil) })
	require.NoError(t, Init())

	RecordPlan(ctx, "plan", "approved")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mesh_plans_total"), "metrics output missing mesh_plans_total")
}
