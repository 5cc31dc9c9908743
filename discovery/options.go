package discovery

import (
	"time"

	"github.com/kbukum/registrykit/logger"
	"github.com/kbukum/registrykit/observability"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The manager logs under the "discovery" component.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.log = log.WithComponent("discovery") }
}

// WithMetrics records refresh, query and isolation metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock replaces time.Now, for isolation deadlines and their expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.clock = now }
}

// WithEmptyProtection overrides the policy selected by
// Config.DisableEmptyProtection.
func WithEmptyProtection(p EmptyProtection) Option {
	return func(m *Manager) { m.protection = p }
}
