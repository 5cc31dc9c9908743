package discovery

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/logger"
	"github.com/kbukum/registrykit/resilience"
)

// Isolator is the part of Manager the isolation detector drives.
type Isolator interface {
	OnInstanceIsolated(ref InstanceRef, duration time.Duration) error
	OnInstanceRecovered(ref InstanceRef) error
}

// IsolationDetector turns call outcomes reported by the caller (load
// balancer, handler chain) into isolation decisions. Each instance gets a
// circuit breaker; opening it isolates the instance for IsolationDuration
// and a successful probe after that recovers it.
type IsolationDetector struct {
	isolator Isolator
	failures int
	duration time.Duration
	clock    func() time.Time
	log      *logger.Logger
	breakers *ttlcache.Cache[string, *resilience.CircuitBreaker]
}

var _ component.Component = (*IsolationDetector)(nil)

// NewIsolationDetector creates a detector with the isolation settings of cfg.
// Breakers of instances that report nothing for IsolationIdleTTL are evicted.
// A nil clock means time.Now.
func NewIsolationDetector(isolator Isolator, cfg Config, clock func() time.Time) *IsolationDetector {
	cfg.ApplyDefaults()
	if clock == nil {
		clock = time.Now
	}
	return &IsolationDetector{
		isolator: isolator,
		failures: cfg.IsolationFailures,
		duration: cfg.IsolationDuration,
		clock:    clock,
		log:      logger.WithComponent("discovery.isolation"),
		breakers: ttlcache.New(ttlcache.WithTTL[string, *resilience.CircuitBreaker](cfg.IsolationIdleTTL)),
	}
}

// IsolationDetector returns a detector that isolates instances of m using
// m's configuration and clock.
func (m *Manager) IsolationDetector() *IsolationDetector {
	d := NewIsolationDetector(m, m.cfg, m.clock)
	d.log = m.log
	return d
}

// RecordSuccess reports a successful call to the instance.
func (d *IsolationDetector) RecordSuccess(ref InstanceRef) {
	d.breaker(ref).Record(nil)
}

// RecordFailure reports a failed call to the instance.
func (d *IsolationDetector) RecordFailure(ref InstanceRef, err error) {
	d.breaker(ref).Record(err)
}

// State returns the breaker state tracked for the instance.
func (d *IsolationDetector) State(ref InstanceRef) resilience.State {
	item := d.breakers.Get(ref.String())
	if item == nil {
		return resilience.StateClosed
	}
	return item.Value().State()
}

// Tracked returns the number of instances with a live breaker.
func (d *IsolationDetector) Tracked() int {
	return d.breakers.Len()
}

func (d *IsolationDetector) breaker(ref InstanceRef) *resilience.CircuitBreaker {
	if item := d.breakers.Get(ref.String()); item != nil {
		return item.Value()
	}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             ref.String(),
		MaxFailures:      d.failures,
		Timeout:          d.duration,
		HalfOpenMaxCalls: 1,
		Now:              d.clock,
		OnStateChange: func(_ string, from, to resilience.State) {
			d.onStateChange(ref, from, to)
		},
	})
	item, _ := d.breakers.GetOrSet(ref.String(), cb)
	return item.Value()
}

func (d *IsolationDetector) onStateChange(ref InstanceRef, from, to resilience.State) {
	fields := logger.KeyFields(ref.Key.Application, ref.Key.Service).
		With(logger.FieldInstanceID, ref.ID).
		With("from", from.String()).
		With("to", to.String())

	var err error
	switch to {
	case resilience.StateOpen:
		err = d.isolator.OnInstanceIsolated(ref, d.duration)
	case resilience.StateClosed:
		err = d.isolator.OnInstanceRecovered(ref)
	default:
		d.log.Debug("instance breaker probing", fields)
		return
	}
	if err != nil {
		d.log.Warn("isolation update failed", logger.MergeWithError(fields, err))
	}
}

// Name returns the component name.
func (d *IsolationDetector) Name() string { return "discovery.isolation" }

// Start runs the breaker eviction loop.
func (d *IsolationDetector) Start(ctx context.Context) error {
	go d.breakers.Start()
	return nil
}

// Stop stops the eviction loop.
func (d *IsolationDetector) Stop(ctx context.Context) error {
	d.breakers.Stop()
	return nil
}

// Health always reports healthy; the detector has no external dependency.
func (d *IsolationDetector) Health(ctx context.Context) component.Health {
	return component.Health{Name: d.Name(), Status: component.StatusHealthy}
}
