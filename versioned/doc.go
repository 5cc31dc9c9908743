// Package versioned provides an immutable, versioned snapshot container.
//
// A Cache pairs a name and a version with data that never changes after
// construction. Publishing new data means building a new Cache; readers that
// hold an older one keep seeing exactly what they saw before.
//
// Versions are either explicit counters (New) or derived from a fingerprint
// of the data (Auto), so that equal data yields an equal version. A Cache may
// record the parent it was derived from; Memo builds such children once per
// parent generation.
//
//	parent := versioned.New("app/svc", 3, instances)
//	view := versioned.NewMemo("transport", buildIndex)
//	idx := view.Get(parent) // built once for version 3
package versioned
