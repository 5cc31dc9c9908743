package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/registrykit/logger"
)

// DefaultStopTimeout bounds each component's Stop.
const DefaultStopTimeout = 10 * time.Second

type slot struct {
	c       Component
	running bool
}

// Registry starts components in registration order and stops them in
// reverse, so a source is always running while the manager that queries
// it is.
type Registry struct {
	mu     sync.RWMutex
	slots  []*slot
	byName map[string]*slot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*slot)}
}

// Register appends c. Names must be unique.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("component %s already registered", name)
	}
	s := &slot{c: c}
	r.slots = append(r.slots, s)
	r.byName[name] = s
	return nil
}

// StartAll starts every component that is not running yet. It stops at
// the first failure and leaves the earlier components running; StopAll
// unwinds them.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logger.WithComponent("registry")
	for _, s := range r.slots {
		if s.running {
			continue
		}
		name := s.c.Name()
		began := time.Now()
		if err := s.c.Start(ctx); err != nil {
			log.Error("component start failed", logger.MergeWithError(map[string]interface{}{
				logger.FieldComponent: name,
			}, err))
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		s.running = true

		fields := logger.F{logger.FieldComponent: name, "took": time.Since(began).String()}
		if d, ok := s.c.(Describable); ok {
			desc := d.Describe()
			fields = fields.With("type", desc.Type).With("details", desc.Details)
		}
		log.Debug("component started", fields)
	}
	log.Info("components started", map[string]interface{}{logger.FieldCount: len(r.slots)})
	return nil
}

// StopAll stops running components in reverse order, each bounded by
// DefaultStopTimeout. Every component is attempted; the errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logger.WithComponent("registry")
	var errs []error
	for i := len(r.slots) - 1; i >= 0; i-- {
		s := r.slots[i]
		if !s.running {
			continue
		}
		s.running = false
		if err := stopOne(ctx, s.c); err != nil {
			log.Error("component stop failed", logger.MergeWithError(map[string]interface{}{
				logger.FieldComponent: s.c.Name(),
			}, err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stopOne(ctx context.Context, c Component) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop %s: %w", c.Name(), err)
	}
	return nil
}

// HealthAll reports every component in registration order.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Health, 0, len(r.slots))
	for _, s := range r.slots {
		h := s.c.Health(ctx)
		if h.Name == "" {
			h.Name = s.c.Name()
		}
		out = append(out, h)
	}
	return out
}

// Get returns the component registered as name, or nil.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byName[name]; ok {
		return s.c
	}
	return nil
}

// All returns the components in registration order.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Component, len(r.slots))
	for i, s := range r.slots {
		out[i] = s.c
	}
	return out
}
