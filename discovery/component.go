package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/logger"
)

// ensure Manager satisfies component.Component.
var _ component.Component = (*Manager)(nil)

// Name returns the component name.
func (m *Manager) Name() string { return "discovery" }

// Start launches the poll loop. Sources that need starting are registered
// before the manager in the component registry.
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.cancel != nil {
		return fmt.Errorf("discovery manager already started")
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	if m.cfg.PollInterval > 0 {
		go m.pollLoop(loopCtx, m.cfg.PollInterval, done)
	} else {
		close(done)
	}

	m.log.Info("discovery manager started", logger.Fields(
		"sources", len(m.sources),
		"poll_interval", m.cfg.PollInterval.String(),
	))
	return nil
}

// Stop cancels the poll loop and waits for the running cycle to end.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifeMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.log.Info("discovery manager stopped")
	return nil
}

// Health reports degraded while the last poll cycle saw source failures;
// otherwise the message carries refresh bulkhead usage.
func (m *Manager) Health(ctx context.Context) component.Health {
	if len(m.sources) == 0 {
		return component.Health{Name: m.Name(), Status: component.StatusDegraded, Message: "no discovery sources"}
	}
	if m.degraded.Load() {
		return component.Health{Name: m.Name(), Status: component.StatusDegraded, Message: "last refresh had source failures"}
	}
	return component.Health{
		Name:    m.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d/%d refreshes in flight", m.bulkhead.InUse(), m.bulkhead.Limit()),
	}
}

// Describe returns summary info logged on start.
func (m *Manager) Describe() component.Description {
	names := make([]string, 0, len(m.sources))
	for _, s := range m.sources {
		names = append(names, s.Name())
	}
	return component.Description{
		Name:    "Discovery",
		Type:    "discovery",
		Details: fmt.Sprintf("sources=%v poll=%s empty_protection=%t max_refresh=%d",
			names, m.cfg.PollInterval, !m.cfg.DisableEmptyProtection, m.bulkhead.Limit()),
	}
}

func (m *Manager) pollLoop(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshAll(ctx)
		}
	}
}
