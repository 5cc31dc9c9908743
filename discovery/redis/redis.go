// Package redis provides a discovery source backed by Redis.
//
// Each key is a hash named "<prefix>:<application>:<service>" whose fields
// are instance ids and whose values are JSON discovery.Instance records.
// Writers publish the hash name on "<prefix>:changes" after every change so
// subscribed sources can push the new list.
package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/errors"
	"github.com/kbukum/registrykit/logger"
)

// Source implements discovery.Source over Redis.
type Source struct {
	rdb   *goredis.Client
	owned bool
	cfg   Config
	log   *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener discovery.InstanceChangedListener
	tracked  map[string]discovery.Key
	pubsub   *goredis.PubSub
}

var (
	_ discovery.Source    = (*Source)(nil)
	_ discovery.Notifier  = (*Source)(nil)
	_ component.Component = (*Source)(nil)
)

// New creates a Redis client from cfg and a Source over it.
func New(cfg Config, log *logger.Logger) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialTimeout, _ := time.ParseDuration(cfg.DialTimeout)
	readTimeout, _ := time.ParseDuration(cfg.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cfg.WriteTimeout)
	tlsCfg, err := cfg.TLS.Build()
	if err != nil {
		return nil, err
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		TLSConfig:    tlsCfg,
	})
	s := NewWithClient(rdb, cfg, log)
	s.owned = true
	s.log.Info("redis discovery client created", map[string]interface{}{
		"addr":      cfg.Addr,
		"db":        cfg.DB,
		"pool_size": cfg.PoolSize,
	})
	return s, nil
}

// NewWithClient creates a Source over an existing client. The client is
// not closed by Stop.
func NewWithClient(rdb *goredis.Client, cfg Config, log *logger.Logger) *Source {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		rdb:     rdb,
		cfg:     cfg,
		log:     log.WithComponent("discovery.redis"),
		ctx:     ctx,
		cancel:  cancel,
		tracked: make(map[string]discovery.Key),
	}
}

// HashKey returns the hash holding the instances of key.
func (s *Source) HashKey(key discovery.Key) string {
	return s.cfg.Prefix + ":" + key.Application + ":" + key.Service
}

// Channel returns the change notification channel.
func (s *Source) Channel() string {
	return s.cfg.Prefix + ":changes"
}

// Name returns "redis".
func (s *Source) Name() string { return "redis" }

// Enabled is true for every key.
func (s *Source) Enabled(string, string) bool { return true }

// FindServiceInstances reads the key's hash.
func (s *Source) FindServiceInstances(ctx context.Context, application, service string) ([]discovery.Instance, error) {
	key := discovery.NewKey(application, service)
	if err := s.track(ctx, key); err != nil {
		s.log.Warn("redis change subscription failed", logger.MergeWithError(logger.KeyFields(key.Application, key.Service), err))
	}
	return s.load(ctx, key)
}

func (s *Source) load(ctx context.Context, key discovery.Key) ([]discovery.Instance, error) {
	fields, err := s.rdb.HGetAll(ctx, s.HashKey(key)).Result()
	if err != nil {
		return nil, errors.SourceUnavailable(s.Name()).WithCause(err)
	}
	out := make([]discovery.Instance, 0, len(fields))
	for id, raw := range fields {
		var inst discovery.Instance
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			s.log.Warn("redis registration skipped", logger.MergeWithError(
				logger.KeyFields(key.Application, key.Service).With(logger.FieldInstanceID, id),
				errors.MalformedResponse(s.Name(), err)))
			continue
		}
		if inst.ID == "" {
			inst.ID = id
		}
		inst.Application, inst.ServiceName = key.Application, key.Service
		out = append(out, inst)
	}
	return out, nil
}

// Register stores inst and announces the change.
func (s *Source) Register(ctx context.Context, inst discovery.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(inst)
	if err != nil {
		return errors.Internal(err)
	}
	hash := s.HashKey(discovery.NewKey(inst.Application, inst.ServiceName))
	if err := s.rdb.HSet(ctx, hash, inst.ID, val).Err(); err != nil {
		return errors.SourceUnavailable(s.Name()).WithCause(err)
	}
	return s.announce(ctx, hash)
}

// Deregister removes an instance and announces the change.
func (s *Source) Deregister(ctx context.Context, application, service, id string) error {
	hash := s.HashKey(discovery.NewKey(application, service))
	if err := s.rdb.HDel(ctx, hash, id).Err(); err != nil {
		return errors.SourceUnavailable(s.Name()).WithCause(err)
	}
	return s.announce(ctx, hash)
}

func (s *Source) announce(ctx context.Context, hash string) error {
	if err := s.rdb.Publish(ctx, s.Channel(), hash).Err(); err != nil {
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

// track remembers key for change notifications and subscribes on first use.
func (s *Source) track(ctx context.Context, key discovery.Key) error {
	if s.cfg.DisableWatch {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.ctx.Err() != nil {
		return nil
	}
	s.tracked[s.HashKey(key)] = key
	if s.pubsub != nil {
		return nil
	}

	ps := s.rdb.Subscribe(s.ctx, s.Channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	s.pubsub = ps
	s.wg.Add(1)
	go s.listen(ps.Channel())
	return nil
}

func (s *Source) listen(ch <-chan *goredis.Message) {
	defer s.wg.Done()
	for msg := range ch {
		s.mu.Lock()
		key, ok := s.tracked[msg.Payload]
		listener := s.listener
		s.mu.Unlock()
		if !ok || listener == nil {
			continue
		}

		insts, err := s.load(s.ctx, key)
		if err != nil {
			s.log.Warn("redis reload after change failed", logger.MergeWithError(logger.KeyFields(key.Application, key.Service), err))
			continue
		}
		listener(s.Name(), key.Application, key.Service, insts)
	}
}

// Start is a no-op; the client connects lazily.
func (s *Source) Start(context.Context) error { return nil }

// Stop closes the subscription and, for clients created by New, the client.
func (s *Source) Stop(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	ps := s.pubsub
	s.pubsub = nil
	s.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}

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
	if s.owned {
		s.log.Info("closing redis connection")
		return s.rdb.Close()
	}
	return nil
}

// Health pings the server.
func (s *Source) Health(ctx context.Context) component.Health {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	return component.Health{Name: s.Name(), Status: component.StatusHealthy}
}
