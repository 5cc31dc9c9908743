// Package observability exports discovery metrics and spans over OTLP/HTTP.
//
//	p, err := observability.Init(ctx, observability.DefaultConfig("registryd"))
//	defer p.Shutdown(ctx)
//	m, err := observability.NewMetrics(p.Meter.Meter(observability.ScopeName))
//
// A nil *Metrics records nothing, so callers never need to check it.
package observability
