package versioned

import "fmt"

// Versioned is implemented by anything carrying a named version.
type Versioned interface {
	Name() string
	Version() int64
}

// Cache is an immutable snapshot of data under a name and version.
// The zero value is not useful; use New or Auto.
type Cache[T any] struct {
	name          string
	version       int64
	data          T
	parent        Versioned
	parentVersion int64
}

// New returns a Cache with an explicit version.
func New[T any](name string, version int64, data T) *Cache[T] {
	return &Cache[T]{name: name, version: version, data: data}
}

// Auto returns a Cache whose version is the fingerprint of data.
func Auto[T Fingerprinter](name string, data T) *Cache[T] {
	return New(name, FingerprintOf(data), data)
}

// Derive returns a Cache for data built from parent. The parent's version
// at the time of derivation is recorded for IsStale.
func Derive[T any](parent Versioned, subName string, version int64, data T) *Cache[T] {
	return &Cache[T]{
		name:          SubName(parent.Name(), subName),
		version:       version,
		data:          data,
		parent:        parent,
		parentVersion: parent.Version(),
	}
}

// Name returns the cache name.
func (c *Cache[T]) Name() string { return c.name }

// Version returns the cache version.
func (c *Cache[T]) Version() int64 { return c.version }

// Data returns the snapshot.
func (c *Cache[T]) Data() T { return c.data }

// Parent returns the cache this one was derived from, or nil.
func (c *Cache[T]) Parent() Versioned { return c.parent }

// ParentVersion returns the parent's version at derivation time.
func (c *Cache[T]) ParentVersion() int64 { return c.parentVersion }

// IsSameVersion reports whether other has the same name and version.
func (c *Cache[T]) IsSameVersion(other Versioned) bool {
	return other != nil && c.name == other.Name() && c.version == other.Version()
}

// IsExpired reports whether other supersedes c. Only meaningful for
// counter versions.
func (c *Cache[T]) IsExpired(other Versioned) bool {
	return other != nil && other.Version() > c.version
}

// IsStale reports whether c was derived from a different generation than
// parent. A Cache without a parent is never stale.
func (c *Cache[T]) IsStale(parent Versioned) bool {
	if c.parent == nil || parent == nil {
		return false
	}
	return c.parent.Name() != parent.Name() || c.parentVersion != parent.Version()
}

// String implements fmt.Stringer.
func (c *Cache[T]) String() string {
	return fmt.Sprintf("%s@%d", c.name, c.version)
}

// SubName joins a parent name and a child name.
func SubName(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "/" + child
}
