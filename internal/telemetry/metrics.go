package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RelayMetrics instruments the outbox relay. A nil *RelayMetrics records nothing.
type RelayMetrics struct {
	published    metric.Int64Counter
	failed       metric.Int64Counter
	deadLettered metric.Int64Counter
	unpublished  metric.Int64Gauge
	deadBacklog  metric.Int64Gauge
	duration     metric.Float64Histogram
}

// NewRelayMetrics registers the relay instruments on meter.
func NewRelayMetrics(meter metric.Meter) (*RelayMetrics, error) {
	var (
		m   RelayMetrics
		err error
	)

	if m.published, err = meter.Int64Counter("outbox_events_published_total",
		metric.WithDescription("Outbox records sent to the bus and marked published"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}

	if m.failed, err = meter.Int64Counter("outbox_events_failed_total",
		metric.WithDescription("Failed publish attempts"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}

	if m.deadLettered, err = meter.Int64Counter("outbox_events_dead_lettered_total",
		metric.WithDescription("Outbox records flagged for manual intervention"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}

	if m.unpublished, err = meter.Int64Gauge("outbox_events_unpublished",
		metric.WithDescription("Due outbox records not yet published"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}

	if m.deadBacklog, err = meter.Int64Gauge("outbox_events_dead_lettered",
		metric.WithDescription("Dead-lettered outbox records awaiting intervention"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}

	if m.duration, err = meter.Float64Histogram("outbox_publish_duration_seconds",
		metric.WithDescription("Time to send one record and mark it published"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return &m, nil
}

func eventAttrs(eventType string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("event_type", eventType))
}

// Published records a successful publish.
func (m *RelayMetrics) Published(ctx context.Context, eventType string, took time.Duration) {
	if m == nil {
		return
	}

	m.published.Add(ctx, 1, eventAttrs(eventType))
	m.duration.Record(ctx, took.Seconds(), eventAttrs(eventType))
}

// Failed records a failed attempt.
func (m *RelayMetrics) Failed(ctx context.Context, eventType string) {
	if m == nil {
		return
	}

	m.failed.Add(ctx, 1, eventAttrs(eventType))
}

// DeadLettered records a record that exhausted its attempts.
func (m *RelayMetrics) DeadLettered(ctx context.Context, eventType string) {
	if m == nil {
		return
	}

	m.deadLettered.Add(ctx, 1, eventAttrs(eventType))
}

// Backlog records the health counters.
func (m *RelayMetrics) Backlog(ctx context.Context, unpublished, deadLettered int64) {
	if m == nil {
		return
	}

	m.unpublished.Record(ctx, unpublished)
	m.deadBacklog.Record(ctx, deadLettered)
}

// SagaMetrics instruments consumers. A nil *SagaMetrics records nothing.
type SagaMetrics struct {
	outcomes metric.Int64Counter
}

// NewSagaMetrics registers the saga instruments on meter.
func NewSagaMetrics(meter metric.Meter) (*SagaMetrics, error) {
	outcomes, err := meter.Int64Counter("plan_executions_total",
		metric.WithDescription("Handled messages by event type and outcome"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}

	return &SagaMetrics{outcomes: outcomes}, nil
}

// Outcome records how a message was handled.
func (m *SagaMetrics) Outcome(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}

	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}
