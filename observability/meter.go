package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric instrument names.
const (
	MetricRefreshTotal       = "discovery.refresh.total"
	MetricRefreshDuration    = "discovery.refresh.duration"
	MetricSourceQueryTotal   = "discovery.source.query.total"
	MetricIsolationTotal     = "discovery.isolation.total"
	MetricEmptyProtectTotal  = "discovery.empty_protection.total"
	MetricInstancesPublished = "discovery.instances.published"
)

// Metrics holds the instruments recorded by the discovery manager.
type Metrics struct {
	refreshTotal     metric.Int64Counter
	refreshDuration  metric.Float64Histogram
	sourceQueryTotal metric.Int64Counter
	isolationTotal   metric.Int64Counter
	emptyProtect     metric.Int64Counter
	published        metric.Int64Histogram
}

// NewMetrics creates the discovery instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m := &Metrics{
		refreshTotal:     counter(MetricRefreshTotal, "Refreshes of a discovery key by outcome"),
		sourceQueryTotal: counter(MetricSourceQueryTotal, "Queries sent to discovery sources by outcome"),
		isolationTotal:   counter(MetricIsolationTotal, "Instance isolation and recovery events"),
		emptyProtect:     counter(MetricEmptyProtectTotal, "Refreshes where an empty result was discarded"),
	}

	var err error
	m.refreshDuration, err = meter.Float64Histogram(MetricRefreshDuration,
		metric.WithDescription("Duration of discovery refreshes"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.published, err = meter.Int64Histogram(MetricInstancesPublished,
		metric.WithDescription("Current instances per published snapshot"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("creating discovery metrics: %w", err)
	}
	return m, nil
}

// RecordRefresh records a refresh of key with its outcome and the number
// of current instances published.
func (m *Metrics) RecordRefresh(ctx context.Context, key, status string, duration time.Duration, current int) {
	if m == nil {
		return
	}
	m.refreshTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key", key),
		attribute.String("status", status),
	))
	m.refreshDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("key", key)))
	if status == StatusPublished {
		m.published.Record(ctx, int64(current), metric.WithAttributes(attribute.String("key", key)))
	}
}

// RecordSourceQuery records one query against a discovery source.
func (m *Metrics) RecordSourceQuery(ctx context.Context, source, status string) {
	if m == nil {
		return
	}
	m.sourceQueryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	))
}

// RecordIsolation records an isolation ("isolated") or recovery ("recovered") event.
func (m *Metrics) RecordIsolation(ctx context.Context, key, event string) {
	if m == nil {
		return
	}
	m.isolationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key", key),
		attribute.String("event", event),
	))
}

// RecordEmptyProtection records a refresh whose empty result was discarded.
func (m *Metrics) RecordEmptyProtection(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.emptyProtect.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

// Status values used as metric attributes.
const (
	StatusPublished = "published"
	StatusKept      = "kept"
	StatusFailed    = "failed"
	StatusOK        = "ok"
	StatusError     = "error"
)
