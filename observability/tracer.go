package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName is the instrumentation scope of discovery spans and metrics.
const ScopeName = "github.com/kbukum/registrykit/discovery"

const (
	SpanRefresh     = "discovery.refresh"
	SpanSourceQuery = "discovery.source.query"
)

const (
	AttrApplication = "discovery.application"
	AttrService     = "discovery.service"
	AttrSource      = "discovery.source"
	AttrVersion     = "discovery.version"
	AttrInstances   = "discovery.instances"
)

// StartSpan starts a discovery span from the global tracer provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(ScopeName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetSpanError marks the recording span in ctx as failed with err.
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
