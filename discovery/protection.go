package discovery

// EmptyProtection decides whether a refresh that leaves a key with no
// current instances is discarded in favour of the previous snapshot.
type EmptyProtection interface {
	// Protect returns true to keep prev instead of publishing next.
	Protect(key Key, prev, next *InstanceSet) bool
}

// EmptyProtectionFunc adapts a function to EmptyProtection.
type EmptyProtectionFunc func(key Key, prev, next *InstanceSet) bool

// Protect calls f.
func (f EmptyProtectionFunc) Protect(key Key, prev, next *InstanceSet) bool {
	return f(key, prev, next)
}

// KeepLastNonEmpty keeps the previous snapshot when it had current
// instances and the new one has none.
var KeepLastNonEmpty EmptyProtection = EmptyProtectionFunc(func(_ Key, prev, next *InstanceSet) bool {
	return prev != nil && len(prev.Current()) > 0 && len(next.Current()) == 0
})

// NoEmptyProtection always publishes.
var NoEmptyProtection EmptyProtection = EmptyProtectionFunc(func(Key, *InstanceSet, *InstanceSet) bool {
	return false
})
