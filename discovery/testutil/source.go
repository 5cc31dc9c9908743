package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/testutil"
)

// Source is an in-memory discovery source. It implements discovery.Source,
// discovery.Notifier and testutil.TestComponent, and lets tests inject
// failures, hold queries open and push changes.
type Source struct {
	name string

	mu        sync.Mutex
	instances map[discovery.Key][]discovery.Instance
	disabled  map[discovery.Key]bool
	err       error
	gate      <-chan struct{}
	calls     map[discovery.Key]int
	listener  discovery.InstanceChangedListener
	started   bool
}

var _ discovery.Source = (*Source)(nil)
var _ discovery.Notifier = (*Source)(nil)
var _ testutil.TestComponent = (*Source)(nil)

// NewSource creates an empty source.
func NewSource(name string) *Source {
	s := &Source{name: name}
	s.clear()
	return s
}

func (s *Source) clear() {
	s.instances = make(map[discovery.Key][]discovery.Instance)
	s.disabled = make(map[discovery.Key]bool)
	s.calls = make(map[discovery.Key]int)
	s.err = nil
	s.gate = nil
}

// Instance builds an UP instance with the given endpoints.
func Instance(id string, endpoints ...string) discovery.Instance {
	return discovery.Instance{ID: id, Endpoints: endpoints, Status: discovery.StatusUp}
}

// Set replaces the instances served for (application, service).
func (s *Source) Set(application, service string, instances ...discovery.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[discovery.NewKey(application, service)] = slices.Clone(instances)
}

// Remove forgets the key; queries return an empty list afterwards.
func (s *Source) Remove(application, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, discovery.NewKey(application, service))
}

// Disable makes Enabled return false for the key.
func (s *Source) Disable(application, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[discovery.NewKey(application, service)] = true
}

// Fail makes every query return err; nil heals the source.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Hold blocks queries until gate is closed. The blocked query ignores its
// context, like a backend that does not honour deadlines.
func (s *Source) Hold(gate <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
}

// Calls returns how many queries were made for the key.
func (s *Source) Calls(application, service string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[discovery.NewKey(application, service)]
}

// Push sends the key's current list to the installed listener.
func (s *Source) Push(application, service string) {
	s.mu.Lock()
	key := discovery.NewKey(application, service)
	insts := slices.Clone(s.instances[key])
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener(s.name, key.Application, key.Service, insts)
	}
}

// --- discovery.Source ---

func (s *Source) Name() string { return s.name }

func (s *Source) Enabled(application, service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled[discovery.NewKey(application, service)]
}

func (s *Source) FindServiceInstances(_ context.Context, application, service string) ([]discovery.Instance, error) {
	key := discovery.NewKey(application, service)
	s.mu.Lock()
	s.calls[key]++
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.instances[key]), nil
}

func (s *Source) SetInstanceChangedListener(listener discovery.InstanceChangedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// --- component.Component ---

func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("source %s already started", s.name)
	}
	s.started = true
	return nil
}

func (s *Source) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *Source) Health(_ context.Context) component.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return component.Health{Name: s.name, Status: component.StatusUnhealthy, Message: s.err.Error()}
	}
	return component.Health{Name: s.name, Status: component.StatusHealthy}
}

// --- testutil.TestComponent ---

type sourceState struct {
	instances map[discovery.Key][]discovery.Instance
	disabled  map[discovery.Key]bool
}

func (s *Source) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
	return nil
}

func (s *Source) Snapshot(_ context.Context) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := sourceState{
		instances: make(map[discovery.Key][]discovery.Instance, len(s.instances)),
		disabled:  make(map[discovery.Key]bool, len(s.disabled)),
	}
	for k, v := range s.instances {
		st.instances[k] = slices.Clone(v)
	}
	for k, v := range s.disabled {
		st.disabled[k] = v
	}
	return st, nil
}

func (s *Source) Restore(_ context.Context, snapshot interface{}) error {
	st, ok := snapshot.(sourceState)
	if !ok {
		return fmt.Errorf("invalid snapshot type: %T", snapshot)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = st.instances
	s.disabled = st.disabled
	return nil
}
