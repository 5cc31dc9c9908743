// Package discovery keeps an in-process, eventually consistent view of which
// instances serve each (application, service) key.
//
// A Manager queries one or more Sources, merges their answers, diffs them
// against the previous generation and publishes an immutable Snapshot per
// key. Readers load snapshots without locking; writers (refresh, push,
// isolation) serialise per key and never hold a lock across source I/O.
//
// # State kept across refreshes
//
//   - isolation: OnInstanceIsolated sets a deadline that survives refreshes
//     and expires lazily when read
//   - history: an instance that disappears stays one generation as REMOVED
//
// # Failure handling
//
// Source errors and timeouts never reach readers. A failing source keeps
// its previous instances; if every source fails the previous snapshot stays.
// Empty protection keeps the last non-empty snapshot when a refresh returns
// nothing, unless disabled.
//
// # Backends
//
//   - discovery/static: configured instance list
//   - discovery/consul: HashiCorp Consul health API
//   - discovery/etcd: etcd v3 keys with prefix watch
//   - discovery/redis: Redis hashes
//   - discovery/testutil: in-memory fake for tests
//
// # Usage
//
//	m, err := discovery.NewManager(cfg, []discovery.Source{staticSrc, consulSrc})
//	snap := m.GetOrCreateVersionedCache(ctx, "shop", "orders")
//	for _, inst := range snap.Data().Current() { ... }
//	rest := m.Transport(ctx, "shop", "orders").Data().Endpoints("rest")
package discovery
