package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/singleflight"

	"github.com/kbukum/registrykit/errors"
	"github.com/kbukum/registrykit/logger"
	"github.com/kbukum/registrykit/observability"
	"github.com/kbukum/registrykit/resilience"
	"github.com/kbukum/registrykit/versioned"
)

// transportMemoName names the transport view derived from each snapshot.
const transportMemoName = "transport"

// Manager is the in-process registry of instance state per key. It merges
// what its sources report, keeps isolation state across refreshes and
// publishes immutable snapshots that readers load without locking.
type Manager struct {
	cfg        Config
	sources    []Source
	log        *logger.Logger
	metrics    *observability.Metrics
	clock      func() time.Time
	protection EmptyProtection

	entries  cmap.ConcurrentMap[string, *entry]
	floors   cmap.ConcurrentMap[string, int64] // last version of invalidated keys
	creating singleflight.Group
	bulkhead *resilience.Bulkhead

	degraded atomic.Bool
	lifeMu   sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// entry holds the published snapshot of one key. mu serialises writers;
// readers only load snap. A retired entry was invalidated and takes no
// more writes.
type entry struct {
	key       Key
	mu        sync.Mutex
	retired   bool
	snap      atomic.Pointer[Snapshot]
	transport *versioned.Memo[*InstanceSet, *TransportIndex]
}

// NewManager creates a Manager over sources, queried in the given order.
// Push-capable sources get their listener installed here.
func NewManager(cfg Config, sources []Source, opts ...Option) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		sources: sources,
		log:     logger.WithComponent("discovery"),
		clock:   time.Now,
		entries: cmap.New[*entry](),
		floors:  cmap.New[int64](),
	}
	if cfg.DisableEmptyProtection {
		m.protection = NoEmptyProtection
	} else {
		m.protection = KeepLastNonEmpty
	}
	for _, opt := range opts {
		opt(m)
	}
	m.bulkhead = resilience.NewBulkhead(cfg.MaxConcurrentRefresh)

	for _, s := range sources {
		if n, ok := s.(Notifier); ok {
			n.SetInstanceChangedListener(m.onInstancesChanged)
		}
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Now returns the manager clock's current time.
func (m *Manager) Now() time.Time { return m.clock() }

// GetOrCreateVersionedCache returns the current snapshot for the key. The
// first call for a key queries the enabled sources and publishes version 0,
// or the version after the last one published before an Invalidate.
// Concurrent first callers share that single query, which runs detached
// from the caller's cancellation and is bounded by QueryTimeout alone.
// Source failures never surface here: a key nobody can answer for yields
// an empty snapshot.
func (m *Manager) GetOrCreateVersionedCache(ctx context.Context, application, service string) *Snapshot {
	key := NewKey(application, service)
	if e, ok := m.entries.Get(key.String()); ok {
		return e.snap.Load()
	}

	v, _, _ := m.creating.Do(key.String(), func() (interface{}, error) {
		if e, ok := m.entries.Get(key.String()); ok {
			return e.snap.Load(), nil
		}

		results := m.query(context.WithoutCancel(ctx), key)
		mg := m.merger(key)
		var version int64
		if last, ok := m.floors.Pop(key.String()); ok {
			version = last + 1
		}
		snap := versioned.New(key.String(), version, newInstanceSet(mg.wrapInitial(results)))

		e := m.newEntry(key)
		e.snap.Store(snap)
		m.entries.Set(key.String(), e)

		m.log.Info("discovery key created", logger.KeyFields(key.Application, key.Service).
			With(logger.FieldCount, len(snap.Data().Current())))
		return snap, nil
	})
	return v.(*Snapshot)
}

// Snapshot returns the current snapshot of a tracked key without querying.
func (m *Manager) Snapshot(application, service string) (*Snapshot, bool) {
	e, ok := m.entries.Get(NewKey(application, service).String())
	if !ok {
		return nil, false
	}
	return e.snap.Load(), true
}

// Refresh re-queries the enabled sources for a key and publishes the merged
// result as the next version. An untracked key is created instead.
func (m *Manager) Refresh(ctx context.Context, application, service string) *Snapshot {
	snap, _ := m.refresh(ctx, NewKey(application, service))
	return snap
}

// refresh reports whether any enabled source failed.
func (m *Manager) refresh(ctx context.Context, key Key) (*Snapshot, bool) {
	e, ok := m.entries.Get(key.String())
	if !ok {
		return m.GetOrCreateVersionedCache(ctx, key.Application, key.Service), false
	}

	var snap *Snapshot
	var failed bool
	err := m.bulkhead.Do(ctx, func() error {
		start := m.clock()
		results := m.query(ctx, key)
		failed = anyFailed(results)

		var status string
		snap, status = m.apply(ctx, e, results)
		m.metrics.RecordRefresh(ctx, key.String(), status, m.clock().Sub(start), len(snap.Data().Current()))
		return nil
	})
	if err != nil {
		m.log.Warn("refresh skipped", logger.KeyFields(key.Application, key.Service).With(logger.FieldError, err.Error()))
		return e.snap.Load(), true
	}
	return snap, failed
}

// RefreshAll refreshes every tracked key. Health reports degraded until a
// cycle completes without source failures.
func (m *Manager) RefreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	var failed atomic.Bool
	for _, k := range m.Keys() {
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			if _, f := m.refresh(ctx, k); f {
				failed.Store(true)
			}
		}(k)
	}
	wg.Wait()
	m.degraded.Store(failed.Load())
}

// apply merges results into the key's latest snapshot and publishes it
// unless every source failed or empty protection keeps the previous one.
func (m *Manager) apply(ctx context.Context, e *entry, results []sourceResult) (*Snapshot, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.snap.Load()
	if e.retired {
		return prev, observability.StatusKept
	}
	fields := logger.KeyFields(e.key.Application, e.key.Service)

	if allFailed(results) {
		m.log.Warn("all discovery sources failed, keeping previous snapshot", fields.With(logger.FieldVersion, prev.Version()))
		return prev, observability.StatusFailed
	}

	next := newInstanceSet(m.merger(e.key).merge(prev.Data(), results))
	if m.protection.Protect(e.key, prev.Data(), next) {
		m.metrics.RecordEmptyProtection(ctx, e.key.String())
		m.log.Warn("empty instance list discarded by empty protection", fields.With(logger.FieldVersion, prev.Version()))
		return prev, observability.StatusKept
	}

	snap := m.publish(e, prev, next)
	m.log.Debug("discovery snapshot published", fields.
		With(logger.FieldVersion, snap.Version()).
		With(logger.FieldCount, len(next.Current())))
	return snap, observability.StatusPublished
}

// publish stores next as prev.Version()+1. Callers hold e.mu.
func (m *Manager) publish(e *entry, prev *Snapshot, next *InstanceSet) *Snapshot {
	snap := versioned.New(e.key.String(), prev.Version()+1, next)
	e.snap.Store(snap)
	return snap
}

// onInstancesChanged handles a push from a Notifier. Only the pushing
// source's contribution is replaced; the others are carried forward.
func (m *Manager) onInstancesChanged(source, application, service string, instances []Instance) {
	key := NewKey(application, service)
	e, ok := m.entries.Get(key.String())
	if !ok {
		m.log.Debug("push for untracked key ignored", logger.KeyFields(key.Application, key.Service).With(logger.FieldSource, source))
		return
	}

	pushed := m.acceptInstances(source, key, instances)
	results := make([]sourceResult, 0, len(m.sources))
	for _, s := range m.sources {
		r := sourceResult{source: s.Name()}
		switch {
		case !s.Enabled(key.Application, key.Service):
			r.disabled = true
		case s.Name() == source:
			r.instances = pushed
		default:
			r.carry = true
		}
		results = append(results, r)
	}
	ctx := context.Background()
	snap, status := m.apply(ctx, e, results)
	m.metrics.RecordRefresh(ctx, key.String(), status, 0, len(snap.Data().Current()))
}

// OnInstanceIsolated isolates an instance until now+duration and publishes
// a new version. Isolating again overwrites the deadline.
func (m *Manager) OnInstanceIsolated(ref InstanceRef, duration time.Duration) error {
	until := m.clock().Add(duration)
	snap, err := m.mutate(ref, func(w *StatefulInstance) *StatefulInstance {
		return w.withIsolation(until)
	})
	if err != nil {
		return err
	}
	m.metrics.RecordIsolation(context.Background(), ref.Key.String(), "isolated")
	m.log.Info("instance isolated", logger.KeyFields(ref.Key.Application, ref.Key.Service).
		With(logger.FieldInstanceID, ref.ID).
		With("until", until).
		With(logger.FieldVersion, snap.Version()))
	return nil
}

// OnInstanceRecovered clears isolation before its deadline. Recovering an
// instance that is not isolated publishes nothing.
func (m *Manager) OnInstanceRecovered(ref InstanceRef) error {
	now := m.clock()
	snap, err := m.mutate(ref, func(w *StatefulInstance) *StatefulInstance {
		if w.IsolationStatusAt(now) == IsolationNormal {
			return nil
		}
		return w.withIsolation(time.Time{})
	})
	if err != nil || snap == nil {
		return err
	}
	m.metrics.RecordIsolation(context.Background(), ref.Key.String(), "recovered")
	m.log.Info("instance recovered", logger.KeyFields(ref.Key.Application, ref.Key.Service).
		With(logger.FieldInstanceID, ref.ID).
		With(logger.FieldVersion, snap.Version()))
	return nil
}

// mutate swaps one wrapper in the latest snapshot. fn returning nil means
// no change.
func (m *Manager) mutate(ref InstanceRef, fn func(*StatefulInstance) *StatefulInstance) (*Snapshot, error) {
	e, ok := m.entries.Get(ref.Key.String())
	if !ok {
		return nil, errors.NotFound("discovery key", ref.Key.String())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.retired {
		return nil, errors.NotFound("discovery key", ref.Key.String())
	}
	prev := e.snap.Load()
	w, ok := prev.Data().Get(ref.ID)
	if !ok {
		return nil, errors.NotFound("instance", ref.ID).WithDetail("key", ref.Key.String())
	}
	updated := fn(w)
	if updated == nil {
		return nil, nil
	}
	return m.publish(e, prev, prev.Data().replace(ref.ID, updated)), nil
}

// Transport returns the transport view of the key's current snapshot,
// built at most once per generation.
func (m *Manager) Transport(ctx context.Context, application, service string) *versioned.Cache[*TransportIndex] {
	snap := m.GetOrCreateVersionedCache(ctx, application, service)
	e, ok := m.entries.Get(NewKey(application, service).String())
	if !ok {
		// invalidated concurrently; serve an unmemoized view
		idx := BuildTransportIndex(snap.Data(), m.clock())
		return versioned.Derive(snap, transportMemoName, versioned.FingerprintOf(idx), idx)
	}
	return e.transport.Get(snap)
}

// Keys returns the tracked keys.
func (m *Manager) Keys() []Key {
	out := make([]Key, 0, m.entries.Count())
	for _, e := range m.entries.Items() {
		out = append(out, e.key)
	}
	return out
}

// Invalidate forgets a key; the next read creates it from scratch. The
// re-created key continues the version sequence of the forgotten one.
func (m *Manager) Invalidate(application, service string) {
	key := NewKey(application, service)
	e, ok := m.entries.Get(key.String())
	if !ok {
		return
	}
	e.mu.Lock()
	if e.retired {
		e.mu.Unlock()
		return
	}
	e.retired = true
	m.floors.Set(key.String(), e.snap.Load().Version())
	m.entries.Remove(key.String())
	e.mu.Unlock()
	m.log.Debug("discovery key invalidated", logger.KeyFields(key.Application, key.Service))
}

func (m *Manager) newEntry(key Key) *entry {
	e := &entry{key: key}
	e.transport = versioned.NewMemo(transportMemoName, func(p *Snapshot) *TransportIndex {
		return BuildTransportIndex(p.Data(), m.clock())
	}).WithStale(func(c *versioned.Cache[*TransportIndex]) bool {
		return c.Data().Expired(m.clock())
	})
	return e
}

func (m *Manager) merger(key Key) merger {
	return merger{key: key, policy: m.cfg.DuplicatePolicy, clock: m.clock, log: m.log}
}

func anyFailed(results []sourceResult) bool {
	for _, r := range results {
		if r.failed() {
			return true
		}
	}
	return false
}

func allFailed(results []sourceResult) bool {
	enabled := 0
	for _, r := range results {
		if r.disabled {
			continue
		}
		enabled++
		if !r.failed() {
			return false
		}
	}
	return enabled > 0
}
