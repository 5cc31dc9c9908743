package discovery

import (
	"time"

	"github.com/kbukum/registrykit/logger"
)

// sourceResult is what one source contributed to a refresh.
type sourceResult struct {
	source    string
	instances []Instance
	// err is set when the source failed; its previous instances are carried.
	err error
	// carry reuses the source's previous instances without an error, used
	// for the sources that did not push.
	carry bool
	// disabled sources contribute nothing.
	disabled bool
}

func (r sourceResult) failed() bool { return r.err != nil }

// merger combines source results with the previous generation.
type merger struct {
	key    Key
	policy DuplicatePolicy
	clock  func() time.Time
	log    *logger.Logger
}

type candidate struct {
	source string
	inst   Instance
	prev   *StatefulInstance
}

// merge returns the next generation's wrappers:
//   - ids reported now are CURRENT and keep their previous isolation deadline
//   - ids only in prev that were CURRENT become REMOVED
//   - ids only in prev that were already REMOVED are dropped
//
// Results of failed or carried sources are replaced by that source's
// previous CURRENT wrappers, so a source outage does not remove instances.
func (m merger) merge(prev *InstanceSet, results []sourceResult) []*StatefulInstance {
	var order []string
	picked := make(map[string]candidate)

	add := func(c candidate) {
		id := c.inst.ID
		existing, dup := picked[id]
		if !dup {
			order = append(order, id)
			picked[id] = c
			return
		}
		if existing.source != c.source {
			m.log.Warn("duplicate instance id across sources", logger.KeyFields(m.key.Application, m.key.Service).
				With(logger.FieldInstanceID, id).
				With("kept_source", m.keep(existing, c).source).
				With("dropped_source", m.drop(existing, c).source))
		}
		picked[id] = m.keep(existing, c)
	}

	for _, r := range results {
		switch {
		case r.disabled:
		case r.failed() || r.carry:
			if prev == nil {
				continue
			}
			for _, w := range prev.Current() {
				if w.Source() == r.source {
					add(candidate{source: r.source, inst: w.Instance(), prev: w})
				}
			}
		default:
			for _, inst := range r.instances {
				add(candidate{source: r.source, inst: inst})
			}
		}
	}

	next := make([]*StatefulInstance, 0, len(order))
	for _, id := range order {
		c := picked[id]
		w := newStatefulInstance(m.key, c.source, c.inst, m.clock)
		if prev != nil {
			if old, ok := prev.Get(id); ok {
				w.isolatedUntil = old.IsolatedUntil()
			}
		}
		next = append(next, w)
	}

	if prev != nil {
		for _, old := range prev.All() {
			if _, ok := picked[old.ID()]; ok || old.HistoryStatus() == HistoryRemoved {
				continue
			}
			next = append(next, old.withHistory(HistoryRemoved))
		}
	}
	return next
}

// keep applies the duplicate policy; b was seen after a.
func (m merger) keep(a, b candidate) candidate {
	if m.policy == FirstWins {
		return a
	}
	return b
}

func (m merger) drop(a, b candidate) candidate {
	if m.policy == FirstWins {
		return b
	}
	return a
}

// wrapInitial wraps the first generation of a key.
func (m merger) wrapInitial(results []sourceResult) []*StatefulInstance {
	return m.merge(nil, results)
}
