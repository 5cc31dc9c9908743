// Package etcd provides a discovery source backed by etcd v3.
//
// Instances are stored as JSON discovery.Instance values under
//
//	<root>/<environment>/<application>/<service>/<instanceId>
//
// Keys that were looked up once are followed with a prefix watch and every
// change is pushed to the manager.
package etcd

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/errors"
	"github.com/kbukum/registrykit/logger"
)

// Source implements discovery.Source over etcd.
type Source struct {
	kv      clientv3.KV
	watcher clientv3.Watcher
	client  *clientv3.Client
	cfg     Config
	log     *logger.Logger

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

// New connects to etcd.
func New(cfg Config, log *logger.Logger) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.TLS.Build()
	if err != nil {
		return nil, err
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TLS:         tlsCfg,
	})
	if err != nil {
		return nil, errors.SourceUnavailable("etcd").WithCause(err)
	}
	s := NewWithClient(client.KV, client.Watcher, cfg, log)
	s.client = client
	return s, nil
}

// NewWithClient creates a Source over existing KV and Watcher
// implementations, e.g. a shared client or a test double.
func NewWithClient(kv clientv3.KV, watcher clientv3.Watcher, cfg Config, log *logger.Logger) *Source {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		kv:       kv,
		watcher:  watcher,
		cfg:      cfg,
		log:      log.WithComponent("discovery.etcd"),
		ctx:      ctx,
		cancel:   cancel,
		watching: make(map[discovery.Key]bool),
	}
}

// Prefix returns the key prefix holding the instances of a key.
func (s *Source) Prefix(key discovery.Key) string {
	return strings.Join([]string{strings.TrimSuffix(s.cfg.Root, "/"), s.cfg.Environment, key.Application, key.Service}, "/") + "/"
}

// Name returns "etcd".
func (s *Source) Name() string { return "etcd" }

// Enabled is true for every key.
func (s *Source) Enabled(string, string) bool { return true }

// FindServiceInstances reads every instance under the key prefix.
func (s *Source) FindServiceInstances(ctx context.Context, application, service string) ([]discovery.Instance, error) {
	key := discovery.NewKey(application, service)
	insts, rev, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	s.ensureWatch(key, rev)
	return insts, nil
}

func (s *Source) load(ctx context.Context, key discovery.Key) ([]discovery.Instance, int64, error) {
	resp, err := s.kv.Get(ctx, s.Prefix(key), clientv3.WithPrefix())
	if err != nil {
		return nil, 0, errors.SourceUnavailable(s.Name()).WithCause(err)
	}
	out := make([]discovery.Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		inst, err := s.decode(key, kv)
		if err != nil {
			s.log.Warn("etcd registration skipped", logger.MergeWithError(
				logger.KeyFields(key.Application, key.Service).With("etcd_key", string(kv.Key)), err))
			continue
		}
		out = append(out, inst)
	}
	var rev int64
	if resp.Header != nil {
		rev = resp.Header.Revision
	}
	return out, rev, nil
}

func (s *Source) decode(key discovery.Key, kv *mvccpb.KeyValue) (discovery.Instance, error) {
	var inst discovery.Instance
	if err := json.Unmarshal(kv.Value, &inst); err != nil {
		return inst, errors.MalformedResponse(s.Name(), err)
	}
	if inst.ID == "" {
		inst.ID = strings.TrimPrefix(string(kv.Key), s.Prefix(key))
	}
	inst.Application, inst.ServiceName = key.Application, key.Service
	return inst, nil
}

// Register writes inst under its key. A zero ttl writes a permanent key;
// otherwise the key is bound to a lease and disappears when the lease is
// not kept alive.
func (s *Source) Register(ctx context.Context, inst discovery.Instance, ttl time.Duration) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	key := discovery.NewKey(inst.Application, inst.ServiceName)
	val, err := json.Marshal(inst)
	if err != nil {
		return errors.Internal(err)
	}

	var opts []clientv3.OpOption
	if ttl > 0 {
		if s.client == nil {
			return errors.InvalidInput("ttl", "leases need a connected client")
		}
		lease, err := s.client.Grant(ctx, int64(ttl/time.Second))
		if err != nil {
			return errors.SourceUnavailable(s.Name()).WithCause(err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}
	if _, err := s.kv.Put(ctx, s.Prefix(key)+inst.ID, string(val), opts...); err != nil {
		return errors.SourceUnavailable(s.Name()).WithCause(err)
	}
	return nil
}

// Deregister deletes an instance.
func (s *Source) Deregister(ctx context.Context, application, service, id string) error {
	if _, err := s.kv.Delete(ctx, s.Prefix(discovery.NewKey(application, service))+id); err != nil {
		return errors.SourceUnavailable(s.Name()).WithCause(err)
	}
	return nil
}

// SetInstanceChangedListener implements discovery.Notifier.
func (s *Source) SetInstanceChangedListener(listener discovery.InstanceChangedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

func (s *Source) ensureWatch(key discovery.Key, rev int64) {
	if s.cfg.DisableWatch || s.watcher == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.watching[key] || s.ctx.Err() != nil {
		return
	}
	s.watching[key] = true
	s.wg.Add(1)
	go s.watch(key, rev)
}

// watch follows the key prefix from rev+1. Each batch of events triggers a
// full reload so the pushed list is always complete.
func (s *Source) watch(key discovery.Key, rev int64) {
	defer s.wg.Done()
	fields := logger.KeyFields(key.Application, key.Service)

	for s.ctx.Err() == nil {
		opts := []clientv3.OpOption{clientv3.WithPrefix()}
		if rev > 0 {
			opts = append(opts, clientv3.WithRev(rev+1))
		}
		for resp := range s.watcher.Watch(s.ctx, s.Prefix(key), opts...) {
			if err := resp.Err(); err != nil {
				s.log.Warn("etcd watch error", logger.MergeWithError(fields, err))
				if resp.CompactRevision > 0 {
					// missed events were compacted away; resync from scratch
					rev = 0
					s.reloadAndPush(key)
				}
				break
			}
			if !hasChanges(resp.Events) {
				continue
			}
			rev = resp.Header.Revision
			s.reloadAndPush(key)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

func hasChanges(events []*clientv3.Event) bool {
	for _, ev := range events {
		if ev.Type == mvccpb.PUT || ev.Type == mvccpb.DELETE {
			return true
		}
	}
	return false
}

func (s *Source) reloadAndPush(key discovery.Key) {
	insts, _, err := s.load(s.ctx, key)
	if err != nil {
		s.log.Warn("etcd reload after watch event failed", logger.MergeWithError(
			logger.KeyFields(key.Application, key.Service), err))
		return
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener(s.Name(), key.Application, key.Service, insts)
	}
}

// Start is a no-op; the client is connected in New.
func (s *Source) Start(context.Context) error { return nil }

// Stop ends all watches and closes an owned client.
func (s *Source) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Health reads the root prefix with a count-only request.
func (s *Source) Health(ctx context.Context) component.Health {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	if _, err := s.kv.Get(ctx, s.cfg.Root, clientv3.WithPrefix(), clientv3.WithCountOnly()); err != nil {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	return component.Health{Name: s.Name(), Status: component.StatusHealthy}
}
