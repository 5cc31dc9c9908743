package discovery

import (
	"time"

	"github.com/kbukum/registrykit/versioned"
)

// Snapshot is one published generation of a key's instances.
type Snapshot = versioned.Cache[*InstanceSet]

// InstanceSet is the immutable instance list held by a Snapshot.
type InstanceSet struct {
	all     []*StatefulInstance
	current []*StatefulInstance
	byID    map[string]int
}

func newInstanceSet(items []*StatefulInstance) *InstanceSet {
	s := &InstanceSet{
		all:  items,
		byID: make(map[string]int, len(items)),
	}
	for i, it := range items {
		s.byID[it.ID()] = i
		if it.HistoryStatus() == HistoryCurrent {
			s.current = append(s.current, it)
		}
	}
	return s
}

// All returns every wrapper, REMOVED ones included. The slice must not be modified.
func (s *InstanceSet) All() []*StatefulInstance { return s.all }

// Current returns the wrappers the latest refresh reported. The slice must not be modified.
func (s *InstanceSet) Current() []*StatefulInstance { return s.current }

// Len returns the number of wrappers, REMOVED ones included.
func (s *InstanceSet) Len() int { return len(s.all) }

// Get returns the wrapper with the given instance id.
func (s *InstanceSet) Get(id string) (*StatefulInstance, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.all[i], true
}

// Available returns the current, up and non-isolated wrappers at now.
func (s *InstanceSet) Available(now time.Time) []*StatefulInstance {
	out := make([]*StatefulInstance, 0, len(s.current))
	for _, it := range s.current {
		if it.IsAvailableAt(now) {
			out = append(out, it)
		}
	}
	return out
}

// replace returns a new set with the wrapper at id swapped for w.
func (s *InstanceSet) replace(id string, w *StatefulInstance) *InstanceSet {
	items := make([]*StatefulInstance, len(s.all))
	copy(items, s.all)
	items[s.byID[id]] = w
	return newInstanceSet(items)
}
