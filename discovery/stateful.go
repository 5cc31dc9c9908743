package discovery

import "time"

// HistoryStatus tells whether the latest refresh still reported an instance.
type HistoryStatus int

const (
	// HistoryCurrent means the latest refresh reported the instance.
	HistoryCurrent HistoryStatus = iota
	// HistoryRemoved means the instance disappeared in the latest refresh.
	// It stays in the snapshot for one generation and is then dropped.
	HistoryRemoved
)

func (h HistoryStatus) String() string {
	if h == HistoryRemoved {
		return "REMOVED"
	}
	return "CURRENT"
}

// IsolationStatus tells whether an instance is excluded from load balancing.
type IsolationStatus int

const (
	IsolationNormal IsolationStatus = iota
	IsolationIsolated
)

func (s IsolationStatus) String() string {
	if s == IsolationIsolated {
		return "ISOLATED"
	}
	return "NORMAL"
}

// StatefulInstance decorates an Instance with the state the Manager tracks
// across refreshes. Values are immutable; every state change produces a new
// StatefulInstance in a new snapshot generation.
type StatefulInstance struct {
	instance      Instance
	key           Key
	source        string
	history       HistoryStatus
	isolatedUntil time.Time
	clock         func() time.Time
}

func newStatefulInstance(key Key, source string, inst Instance, clock func() time.Time) *StatefulInstance {
	return &StatefulInstance{instance: inst, key: key, source: source, clock: clock}
}

// Instance returns the wrapped record. Its slices and maps must not be modified.
func (s *StatefulInstance) Instance() Instance { return s.instance }

// ID returns the instance id.
func (s *StatefulInstance) ID() string { return s.instance.ID }

// Ref returns the reference used for isolation calls.
func (s *StatefulInstance) Ref() InstanceRef { return InstanceRef{Key: s.key, ID: s.instance.ID} }

// Source returns the name of the source that reported the instance.
func (s *StatefulInstance) Source() string { return s.source }

// HistoryStatus returns CURRENT or REMOVED.
func (s *StatefulInstance) HistoryStatus() HistoryStatus { return s.history }

// IsolatedUntil returns the isolation deadline, or the zero time.
func (s *StatefulInstance) IsolatedUntil() time.Time { return s.isolatedUntil }

// IsolationStatus evaluates isolation against the current time. An expired
// deadline reads as NORMAL without any write.
func (s *StatefulInstance) IsolationStatus() IsolationStatus {
	return s.IsolationStatusAt(s.clock())
}

// IsolationStatusAt evaluates isolation at now.
func (s *StatefulInstance) IsolationStatusAt(now time.Time) IsolationStatus {
	if !s.isolatedUntil.IsZero() && now.Before(s.isolatedUntil) {
		return IsolationIsolated
	}
	return IsolationNormal
}

// IsAvailableAt reports whether the instance should receive traffic at now.
func (s *StatefulInstance) IsAvailableAt(now time.Time) bool {
	return s.history == HistoryCurrent && s.instance.IsUp() && s.IsolationStatusAt(now) == IsolationNormal
}

func (s *StatefulInstance) withHistory(h HistoryStatus) *StatefulInstance {
	c := *s
	c.history = h
	return &c
}

func (s *StatefulInstance) withIsolation(until time.Time) *StatefulInstance {
	c := *s
	c.isolatedUntil = until
	return &c
}
