// Package consul provides a discovery source backed by the HashiCorp
// Consul health API.
//
// The instance record is packed into the service Meta of the registration:
//
//	instanceId, application, environment, alias, version, status
//	endpoints   JSON array, e.g. ["rest://10.0.0.1:8080"]
//	properties  JSON object
//
// A registration without an endpoints entry is exposed as
// "<scheme>://<address>:<port>" with scheme from Meta["scheme"] (default
// "rest"), so plain Consul services are discoverable too.
package consul

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/errors"
	"github.com/kbukum/registrykit/logger"
)

// Meta keys read from a Consul service registration.
const (
	MetaInstanceID  = "instanceId"
	MetaApplication = "application"
	MetaEnvironment = "environment"
	MetaAlias       = "alias"
	MetaVersion     = "version"
	MetaStatus      = "status"
	MetaEndpoints   = "endpoints"
	MetaProperties  = "properties"
	MetaScheme      = "scheme"
)

const defaultScheme = "rest"

// Source implements discovery.Source over Consul. Keys that were looked up
// once are watched with blocking queries and changes are pushed to the
// manager.
type Source struct {
	client *api.Client
	cfg    Config
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener discovery.InstanceChangedListener
	watching map[discovery.Key]bool
}

var (
	_ discovery.Source    = (*Source)(nil)
	_ discovery.Notifier  = (*Source)(nil)
	_ component.Component = (*Source)(nil)
)

// New creates a Source from the given Config.
func New(cfg Config, log *logger.Logger) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	apiCfg.Scheme = cfg.Scheme
	apiCfg.Token = cfg.Token
	apiCfg.Namespace = cfg.Namespace
	if cfg.Datacenter != "" {
		apiCfg.Datacenter = cfg.Datacenter
	}
	if cfg.TLS.IsEnabled() {
		apiCfg.TLSConfig = api.TLSConfig{
			Address:            cfg.TLS.ServerName,
			CAFile:             cfg.TLS.CAFile,
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			InsecureSkipVerify: cfg.TLS.SkipVerify,
		}
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, errors.InvalidConfig("consul", err.Error()).WithCause(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		client:   client,
		cfg:      cfg,
		log:      log.WithComponent("discovery.consul"),
		ctx:      ctx,
		cancel:   cancel,
		watching: make(map[discovery.Key]bool),
	}, nil
}

// Name returns "consul".
func (s *Source) Name() string { return "consul" }

// Enabled is true for every key.
func (s *Source) Enabled(string, string) bool { return true }

// FindServiceInstances queries the health endpoint of the service.
func (s *Source) FindServiceInstances(ctx context.Context, application, service string) ([]discovery.Instance, error) {
	key := discovery.NewKey(application, service)
	q := (&api.QueryOptions{Datacenter: s.cfg.Datacenter}).WithContext(ctx)
	entries, meta, err := s.client.Health().Service(key.Service, s.cfg.Tag, !s.cfg.IncludeUnhealthy, q)
	if err != nil {
		return nil, errors.SourceUnavailable(s.Name()).WithCause(err)
	}

	s.ensureWatch(key, meta.LastIndex)
	return s.decodeAll(key, entries), nil
}

// SetInstanceChangedListener implements discovery.Notifier.
func (s *Source) SetInstanceChangedListener(listener discovery.InstanceChangedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

func (s *Source) ensureWatch(key discovery.Key, index uint64) {
	if s.cfg.DisableWatch {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.watching[key] || s.ctx.Err() != nil {
		return
	}
	s.watching[key] = true
	s.wg.Add(1)
	go s.watch(key, index)
}

// watch follows the service with blocking queries and pushes every change.
func (s *Source) watch(key discovery.Key, index uint64) {
	defer s.wg.Done()
	fields := logger.KeyFields(key.Application, key.Service)

	for {
		opts := (&api.QueryOptions{
			Datacenter: s.cfg.Datacenter,
			WaitIndex:  index,
			WaitTime:   s.cfg.WaitTime,
		}).WithContext(s.ctx)

		entries, meta, err := s.client.Health().Service(key.Service, s.cfg.Tag, !s.cfg.IncludeUnhealthy, opts)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warn("consul watch error", logger.MergeWithError(fields, err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
			continue
		}

		if meta.LastIndex == index {
			continue
		}
		// the index went backwards, e.g. after a snapshot restore
		if meta.LastIndex < index {
			index = 0
			continue
		}
		index = meta.LastIndex

		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener != nil {
			listener(s.Name(), key.Application, key.Service, s.decodeAll(key, entries))
		}
	}
}

func (s *Source) decodeAll(key discovery.Key, entries []*api.ServiceEntry) []discovery.Instance {
	out := make([]discovery.Instance, 0, len(entries))
	for _, e := range entries {
		if app := e.Service.Meta[MetaApplication]; app != "" && app != key.Application {
			continue
		}
		inst, err := decode(key, e)
		if err != nil {
			s.log.Warn("consul registration skipped", logger.MergeWithError(
				logger.KeyFields(key.Application, key.Service).With(logger.FieldInstanceID, e.Service.ID),
				errors.MalformedResponse(s.Name(), err)))
			continue
		}
		out = append(out, inst)
	}
	return out
}

func decode(key discovery.Key, e *api.ServiceEntry) (discovery.Instance, error) {
	meta := e.Service.Meta
	inst := discovery.Instance{
		ID:          meta[MetaInstanceID],
		Environment: meta[MetaEnvironment],
		Application: key.Application,
		ServiceName: e.Service.Service,
		Alias:       meta[MetaAlias],
		Version:     meta[MetaVersion],
		Status:      discovery.Status(meta[MetaStatus]),
	}
	if inst.ID == "" {
		inst.ID = e.Service.ID
	}
	if e.Checks.AggregatedStatus() != api.HealthPassing {
		inst.Status = discovery.StatusDown
	}

	if raw := meta[MetaEndpoints]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &inst.Endpoints); err != nil {
			return inst, fmt.Errorf("decode %s: %w", MetaEndpoints, err)
		}
	} else {
		address := e.Service.Address
		if address == "" && e.Node != nil {
			address = e.Node.Address
		}
		scheme := meta[MetaScheme]
		if scheme == "" {
			scheme = defaultScheme
		}
		inst.Endpoints = []string{scheme + "://" + net.JoinHostPort(address, strconv.Itoa(e.Service.Port))}
	}

	if raw := meta[MetaProperties]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &inst.Properties); err != nil {
			return inst, fmt.Errorf("decode %s: %w", MetaProperties, err)
		}
	}
	return inst, nil
}

// Start is a no-op; the HTTP client connects lazily.
func (s *Source) Start(context.Context) error { return nil }

// Stop ends all watches.
func (s *Source) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health checks that the agent knows a cluster leader.
func (s *Source) Health(context.Context) component.Health {
	leader, err := s.client.Status().Leader()
	if err != nil {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	if leader == "" {
		return component.Health{Name: s.Name(), Status: component.StatusDegraded, Message: "no cluster leader"}
	}
	return component.Health{Name: s.Name(), Status: component.StatusHealthy}
}
