// Package static provides a discovery source backed by a configured
// instance list. Useful for local development, tests and fixed topologies.
package static

import (
	"context"
	"slices"
	"sync"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/logger"
)

// InstanceConfig describes one configured instance.
type InstanceConfig struct {
	// ID is optional; a random id is generated when empty.
	ID          string            `yaml:"id" mapstructure:"id"`
	Application string            `yaml:"application" mapstructure:"application" validate:"required"`
	Service     string            `yaml:"service" mapstructure:"service" validate:"required"`
	Environment string            `yaml:"environment" mapstructure:"environment"`
	Version     string            `yaml:"version" mapstructure:"version"`
	Endpoints   []string          `yaml:"endpoints" mapstructure:"endpoints" validate:"min=1"`
	Properties  map[string]string `yaml:"properties" mapstructure:"properties"`
	Status      string            `yaml:"status" mapstructure:"status"`
}

// Config holds the configured instances.
type Config struct {
	Instances []InstanceConfig `yaml:"instances" mapstructure:"instances" validate:"dive"`
}

// Source serves the configured instances and pushes runtime changes made
// through Set.
type Source struct {
	mu        sync.RWMutex
	instances map[discovery.Key][]discovery.Instance
	listener  discovery.InstanceChangedListener
	log       *logger.Logger
}

var (
	_ discovery.Source    = (*Source)(nil)
	_ discovery.Notifier  = (*Source)(nil)
	_ component.Component = (*Source)(nil)
)

// New creates a Source pre-populated from cfg.
func New(cfg Config, log *logger.Logger) *Source {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	s := &Source{
		instances: make(map[discovery.Key][]discovery.Instance),
		log:       log.WithComponent("discovery.static"),
	}
	for _, ic := range cfg.Instances {
		key := discovery.NewKey(ic.Application, ic.Service)
		s.instances[key] = append(s.instances[key], toInstance(key, ic))
	}
	return s
}

func toInstance(key discovery.Key, ic InstanceConfig) discovery.Instance {
	id := ic.ID
	if id == "" {
		id = discovery.NewInstanceID()
	}
	return discovery.Instance{
		ID:          id,
		Environment: ic.Environment,
		Application: key.Application,
		ServiceName: key.Service,
		Version:     ic.Version,
		Endpoints:   slices.Clone(ic.Endpoints),
		Properties:  ic.Properties,
		Status:      discovery.Status(ic.Status),
	}
}

// Set replaces the instances of a key and pushes the new list.
func (s *Source) Set(application, service string, instances ...discovery.Instance) {
	key := discovery.NewKey(application, service)
	s.mu.Lock()
	if len(instances) == 0 {
		delete(s.instances, key)
	} else {
		s.instances[key] = slices.Clone(instances)
	}
	listener := s.listener
	s.mu.Unlock()

	s.log.Debug("static instances updated", logger.KeyFields(key.Application, key.Service).
		With(logger.FieldCount, len(instances)))
	if listener != nil {
		listener(s.Name(), key.Application, key.Service, slices.Clone(instances))
	}
}

// Name returns "static".
func (s *Source) Name() string { return "static" }

// Enabled reports whether any instance was configured for the key.
func (s *Source) Enabled(application, service string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.instances[discovery.NewKey(application, service)]
	return ok
}

// FindServiceInstances returns the configured instances.
func (s *Source) FindServiceInstances(_ context.Context, application, service string) ([]discovery.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.instances[discovery.NewKey(application, service)]), nil
}

// SetInstanceChangedListener implements discovery.Notifier.
func (s *Source) SetInstanceChangedListener(listener discovery.InstanceChangedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// Start is a no-op.
func (s *Source) Start(context.Context) error { return nil }

// Stop is a no-op.
func (s *Source) Stop(context.Context) error { return nil }

// Health always reports healthy.
func (s *Source) Health(context.Context) component.Health {
	return component.Health{Name: s.Name(), Status: component.StatusHealthy}
}
