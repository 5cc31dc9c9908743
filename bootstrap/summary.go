package bootstrap

import (
	"context"
	"time"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/logger"
)

// ComponentSummary is one line of the startup summary.
type ComponentSummary struct {
	Name    string
	Type    string
	Details string
	Status  component.HealthStatus
	Message string
}

// Summary describes the started application.
type Summary struct {
	Name            string
	Version         string
	StartupDuration time.Duration
	Components      []ComponentSummary
}

// collectSummary pairs each component's description with its health.
func collectSummary(ctx context.Context, reg *component.Registry) []ComponentSummary {
	health := make(map[string]component.Health)
	for _, h := range reg.HealthAll(ctx) {
		health[h.Name] = h
	}

	var out []ComponentSummary
	for _, c := range reg.All() {
		s := ComponentSummary{Name: c.Name()}
		if d, ok := c.(component.Describable); ok {
			desc := d.Describe()
			s.Type, s.Details = desc.Type, desc.Details
		}
		if h, ok := health[c.Name()]; ok {
			s.Status, s.Message = h.Status, h.Message
		}
		out = append(out, s)
	}
	return out
}

// Log writes the summary, one entry per component.
func (s *Summary) Log(log *logger.Logger) {
	log.Info("application started", map[string]interface{}{
		"name":       s.Name,
		"version":    s.Version,
		"startup_ms": s.StartupDuration.Milliseconds(),
		"components": len(s.Components),
	})
	for _, c := range s.Components {
		fields := map[string]interface{}{
			logger.FieldComponent: c.Name,
			logger.FieldStatus:    string(c.Status),
		}
		if c.Type != "" {
			fields["type"] = c.Type
		}
		if c.Details != "" {
			fields["details"] = c.Details
		}
		if c.Message != "" {
			fields["message"] = c.Message
		}
		if c.Status == component.StatusHealthy {
			log.Info("component ready", fields)
		} else {
			log.Warn("component not healthy", fields)
		}
	}
}
