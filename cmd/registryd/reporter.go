package main

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/logger"
)

// reporter loads the watched keys and logs their snapshots periodically.
type reporter struct {
	manager  *discovery.Manager
	keys     []discovery.Key
	interval time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ component.Component = (*reporter)(nil)

func (r *reporter) Name() string { return "reporter" }

func (r *reporter) Start(ctx context.Context) error {
	for _, k := range r.keys {
		r.report(ctx, k)
	}
	if r.interval <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel, r.done = cancel, make(chan struct{})
	go r.loop(loopCtx, r.done)
	return nil
}

func (r *reporter) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, k := range r.keys {
				r.report(ctx, k)
			}
		}
	}
}

func (r *reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *reporter) Health(context.Context) component.Health {
	return component.Health{Name: r.Name(), Status: component.StatusHealthy}
}

func (r *reporter) report(ctx context.Context, k discovery.Key) {
	snap := r.manager.GetOrCreateVersionedCache(ctx, k.Application, k.Service)
	view := r.manager.Transport(ctx, k.Application, k.Service)
	r.log.Info("discovery snapshot", logger.KeyFields(k.Application, k.Service).
		With(logger.FieldVersion, snap.Version()).
		With("instances", snap.Data().Len()).
		With("current", len(snap.Data().Current())).
		With("available", len(snap.Data().Available(r.manager.Now()))).
		With("schemes", view.Data().Schemes()))
}
