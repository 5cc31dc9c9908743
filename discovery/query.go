package discovery

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/registrykit/errors"
	"github.com/kbukum/registrykit/logger"
	"github.com/kbukum/registrykit/observability"
	"github.com/kbukum/registrykit/resilience"
)

// query asks every source about key concurrently, bounded by QueryTimeout.
// Results keep source order; a source that fails or outlives the timeout
// gets an error result.
func (m *Manager) query(ctx context.Context, key Key) []sourceResult {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, observability.SpanRefresh, keyAttrs(key)...)
	defer span.End()

	results := make([]sourceResult, len(m.sources))
	var g errgroup.Group
	for i, s := range m.sources {
		results[i].source = s.Name()
		if !s.Enabled(key.Application, key.Service) {
			results[i].disabled = true
			continue
		}
		i, s := i, s
		g.Go(func() error {
			insts, err := m.querySource(ctx, s, key)
			results[i].instances, results[i].err = insts, err
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.failed() {
			observability.SetSpanError(ctx, r.err)
		}
	}
	return results
}

// querySource runs one source query with retries. The call runs in its own
// goroutine so a source that ignores ctx cannot hold the refresh past the
// deadline.
func (m *Manager) querySource(ctx context.Context, s Source, key Key) ([]Instance, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanSourceQuery,
		append(keyAttrs(key), attribute.String(observability.AttrSource, s.Name()))...)
	defer span.End()

	fields := logger.KeyFields(key.Application, key.Service).With(logger.FieldSource, s.Name())
	retry := resilience.RetryConfig{
		Attempts: m.cfg.QueryAttempts,
		Backoff:  resilience.Backoff{Initial: m.cfg.RetryBackoff, Jitter: 0.1},
		RetryIf:  errors.IsRetryable,
	}

	insts, err := resilience.Retry(ctx, retry, func(ctx context.Context) ([]Instance, error) {
		return callSource(ctx, s, key)
	})
	if err != nil {
		if ctx.Err() != nil && !errors.IsAppError(err) {
			err = errors.FromContext(ctx, "query "+s.Name())
		}
		err = errors.SourceUnavailable(s.Name()).WithCause(err)
		observability.SetSpanError(ctx, err)
		m.metrics.RecordSourceQuery(ctx, s.Name(), observability.StatusError)
		m.log.WithContext(ctx).Warn("discovery source query failed", logger.MergeWithError(fields, err))
		return nil, err
	}
	m.metrics.RecordSourceQuery(ctx, s.Name(), observability.StatusOK)
	span.SetAttributes(attribute.Int(observability.AttrInstances, len(insts)))
	return m.acceptInstances(s.Name(), key, insts), nil
}

func callSource(ctx context.Context, s Source, key Key) ([]Instance, error) {
	type reply struct {
		insts []Instance
		err   error
	}
	ch := make(chan reply, 1)
	go func() {
		insts, err := s.FindServiceInstances(ctx, key.Application, key.Service)
		ch <- reply{insts, err}
	}()

	select {
	case r := <-ch:
		return r.insts, r.err
	case <-ctx.Done():
		return nil, errors.FromContext(ctx, "query "+s.Name())
	}
}

// acceptInstances drops invalid records and copies the rest so the
// snapshot does not share memory with the source.
func (m *Manager) acceptInstances(source string, key Key, insts []Instance) []Instance {
	out := make([]Instance, 0, len(insts))
	for _, inst := range insts {
		if err := inst.Validate(); err != nil {
			m.log.Warn("invalid instance dropped", logger.KeyFields(key.Application, key.Service).
				With(logger.FieldSource, source).
				With(logger.FieldInstanceID, inst.ID).
				With(logger.FieldError, err.Error()))
			continue
		}
		out = append(out, inst.Clone())
	}
	return out
}

func keyAttrs(key Key) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(observability.AttrApplication, key.Application),
		attribute.String(observability.AttrService, key.Service),
	}
}
