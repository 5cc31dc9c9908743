package component

import "context"

// HealthStatus is the coarse state reported by Health.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// rank orders statuses from best to worst.
func (s HealthStatus) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Health is a point-in-time report from one component. A discovery
// source that cannot reach its backend reports unhealthy; the manager
// reports degraded while some source is failing.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Worst returns the worst status among hs, or healthy when hs is empty.
func Worst(hs []Health) HealthStatus {
	worst := StatusHealthy
	for _, h := range hs {
		if h.Status.rank() > worst.rank() {
			worst = h.Status
		}
	}
	return worst
}

// Component is anything with a start/stop lifecycle: the discovery
// sources, the manager and its isolation detector.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Description is what a component says about itself in the startup log.
type Description struct {
	// Name defaults to Component.Name when empty.
	Name    string
	Type    string // "source", "discovery", ...
	Details string // e.g. "localhost:8500 dc=dc1"
}

// Describable is implemented by components that can describe their
// configuration.
type Describable interface {
	Describe() Description
}
