package versioned

import (
	"sync"
	"sync/atomic"
)

// Memo builds a child Cache from a parent Cache at most once per parent
// generation. Reads of an up-to-date child take no lock.
//
// If the child data implements Fingerprinter the child version is its
// fingerprint; otherwise it inherits the parent version.
type Memo[P, C any] struct {
	name  string
	build func(parent *Cache[P]) C
	stale func(child *Cache[C]) bool

	mu  sync.Mutex
	cur atomic.Pointer[Cache[C]]
}

// NewMemo returns a Memo named name that derives children with build.
func NewMemo[P, C any](name string, build func(parent *Cache[P]) C) *Memo[P, C] {
	return &Memo[P, C]{name: name, build: build}
}

// WithStale sets a predicate that forces a rebuild of a child even when the
// parent generation has not changed, e.g. because time-based state inside
// the child has expired.
func (m *Memo[P, C]) WithStale(fn func(child *Cache[C]) bool) *Memo[P, C] {
	m.stale = fn
	return m
}

// Get returns the child for parent, building it if needed.
func (m *Memo[P, C]) Get(parent *Cache[P]) *Cache[C] {
	if c := m.cur.Load(); m.usable(c, parent) {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.cur.Load()
	if m.usable(cur, parent) {
		return cur
	}

	child := m.derive(parent)
	// A caller holding an older parent must not replace a child built for
	// a newer generation.
	if cur == nil || cur.Parent() == nil || cur.Parent().Name() != parent.Name() ||
		cur.ParentVersion() <= parent.Version() {
		m.cur.Store(child)
	}
	return child
}

// Reset drops the memoized child.
func (m *Memo[P, C]) Reset() {
	m.mu.Lock()
	m.cur.Store(nil)
	m.mu.Unlock()
}

func (m *Memo[P, C]) usable(c *Cache[C], parent *Cache[P]) bool {
	if c == nil || c.IsStale(parent) {
		return false
	}
	return m.stale == nil || !m.stale(c)
}

func (m *Memo[P, C]) derive(parent *Cache[P]) *Cache[C] {
	data := m.build(parent)
	version := parent.Version()
	if f, ok := any(data).(Fingerprinter); ok {
		version = FingerprintOf(f)
	}
	return Derive(parent, m.name, version, data)
}
