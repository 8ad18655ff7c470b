package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/karolcichosz/investment-plans-design/internal/config"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
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

func TestRelayMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	ctx := context.Background()

	m, err := NewRelayMetrics(mp.Meter("test"))
	require.NoError(t, err)

	m.Published(ctx, "PlanCreated", 10*time.Millisecond)
	m.Published(ctx, "ExecutePlan", 20*time.Millisecond)
	m.Failed(ctx, "ExecutePlan")
	m.DeadLettered(ctx, "ExecutePlan")
	m.Backlog(ctx, 7, 1)

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, metrics["outbox_events_published_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["outbox_events_failed_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["outbox_events_dead_lettered_total"]))

	gauge, ok := metrics["outbox_events_unpublished"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)

	_, ok = metrics["outbox_publish_duration_seconds"]
	assert.True(t, ok)
}

func TestSagaMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewSagaMetrics(mp.Meter("test"))
	require.NoError(t, err)

	m.Outcome(context.Background(), "ExecutePlan", "completed")

	assert.Equal(t, int64(1), sumOf(t, collect(t, reader)["plan_executions_total"]))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var relay *RelayMetrics
	var saga *SagaMetrics

	assert.NotPanics(t, func() {
		relay.Published(context.Background(), "x", time.Second)
		relay.Failed(context.Background(), "x")
		relay.DeadLettered(context.Background(), "x")
		relay.Backlog(context.Background(), 1, 1)
		saga.Outcome(context.Background(), "x", "y")
	})
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	mp, shutdown, err := Init(context.Background(), config.TelemetryConfig{}, "relay")
	require.NoError(t, err)
	require.NotNil(t, mp)
	assert.NoError(t, shutdown(context.Background()))
}

func TestParseEndpoint(t *testing.T) {
	host, insecure, err := parseEndpoint("http://collector:4318")
	require.NoError(t, err)
	assert.Equal(t, "collector:4318", host)
	assert.True(t, insecure)

	host, insecure, err = parseEndpoint("https://otel.example.com")
	require.NoError(t, err)
	assert.Equal(t, "otel.example.com", host)
	assert.False(t, insecure)
}
