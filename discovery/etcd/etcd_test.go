package etcd

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/logger"
	"github.com/kbukum/registrykit/security"
)

// fakeEtcd is an in-memory clientv3.KV and clientv3.Watcher. Get treats
// its key as a prefix; Put and Delete address exact keys.
type fakeEtcd struct {
	mu       sync.Mutex
	rev      int64
	data     map[string]string
	watchers []fakeWatch
}

type fakeWatch struct {
	prefix string
	ch     chan clientv3.WatchResponse
	ctx    context.Context
}

func newFakeEtcd() *fakeEtcd {
	return &fakeEtcd{rev: 1, data: make(map[string]string)}
}

func (f *fakeEtcd) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	f.data[key] = val
	f.notify(mvccpb.PUT, key, val)
	return &clientv3.PutResponse{Header: &pb.ResponseHeader{Revision: f.rev}}, nil
}

func (f *fakeEtcd) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &clientv3.GetResponse{Header: &pb.ResponseHeader{Revision: f.rev}}
	for k, v := range f.data {
		if strings.HasPrefix(k, key) {
			resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(v)})
		}
	}
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func (f *fakeEtcd) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	delete(f.data, key)
	f.notify(mvccpb.DELETE, key, "")
	return &clientv3.DeleteResponse{Header: &pb.ResponseHeader{Revision: f.rev}}, nil
}

func (f *fakeEtcd) Compact(context.Context, int64, ...clientv3.CompactOption) (*clientv3.CompactResponse, error) {
	return &clientv3.CompactResponse{}, nil
}

func (f *fakeEtcd) Do(context.Context, clientv3.Op) (clientv3.OpResponse, error) {
	return clientv3.OpResponse{}, nil
}

func (f *fakeEtcd) Txn(context.Context) clientv3.Txn { return nil }

func (f *fakeEtcd) Watch(ctx context.Context, key string, _ ...clientv3.OpOption) clientv3.WatchChan {
	ch := make(chan clientv3.WatchResponse, 16)
	f.mu.Lock()
	f.watchers = append(f.watchers, fakeWatch{prefix: key, ch: ch, ctx: ctx})
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, w := range f.watchers {
			if w.ch == ch {
				f.watchers = append(f.watchers[:i], f.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (f *fakeEtcd) watcherCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

func (f *fakeEtcd) RequestProgress(context.Context) error { return nil }
func (f *fakeEtcd) Close() error                          { return nil }

// notify runs with f.mu held.
func (f *fakeEtcd) notify(typ mvccpb.Event_EventType, key, val string) {
	for _, w := range f.watchers {
		if !strings.HasPrefix(key, w.prefix) || w.ctx.Err() != nil {
			continue
		}
		resp := clientv3.WatchResponse{
			Header: pb.ResponseHeader{Revision: f.rev},
			Events: []*clientv3.Event{{Type: typ, Kv: &mvccpb.KeyValue{Key: []byte(key), Value: []byte(val)}}},
		}
		w.ch <- resp
	}
}

func newTestSource(t *testing.T, cfg Config) (*Source, *fakeEtcd) {
	t.Helper()
	fake := newFakeEtcd()
	cfg.RetryDelay = 10 * time.Millisecond
	src := NewWithClient(fake, fake, cfg, logger.Nop())
	t.Cleanup(func() { _ = src.Stop(context.Background()) })
	return src, fake
}

func TestSource_Prefix(t *testing.T) {
	src, _ := newTestSource(t, Config{Root: "/services/", Environment: "prod"})
	if got := src.Prefix(discovery.NewKey("shop", "orders")); got != "/services/prod/shop/orders/" {
		t.Errorf("expected /services/prod/shop/orders/, got %s", got)
	}
}

func TestSource_RegisterAndFind(t *testing.T) {
	src, fake := newTestSource(t, Config{DisableWatch: true})
	ctx := context.Background()

	err := src.Register(ctx, discovery.Instance{
		ID: "a", Application: "shop", ServiceName: "orders",
		Endpoints: []string{"rest://10.0.0.1:8080"},
	}, 0)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	// value without id takes the id from the key
	raw, _ := json.Marshal(discovery.Instance{Endpoints: []string{"rest://10.0.0.2:8080"}})
	_, _ = fake.Put(ctx, "/registrykit/default/shop/orders/b", string(raw))
	_, _ = fake.Put(ctx, "/registrykit/default/shop/orders/broken", "{")

	got, err := src.FindServiceInstances(ctx, "shop", "orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(got))
	}
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	if !ids["a"] || !ids["b"] {
		t.Errorf("expected a and b, got %v", ids)
	}

	if err := src.Deregister(ctx, "shop", "orders", "a"); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	got, _ = src.FindServiceInstances(ctx, "shop", "orders")
	if len(got) != 1 {
		t.Errorf("expected 1 instance after deregister, got %d", len(got))
	}
}

func TestSource_RegisterRejectsInvalid(t *testing.T) {
	src, _ := newTestSource(t, Config{})
	err := src.Register(context.Background(), discovery.Instance{Application: "shop", ServiceName: "orders"}, 0)
	if err == nil {
		t.Error("expected validation error for missing id")
	}
}

func TestSource_WatchPushesToManager(t *testing.T) {
	src, fake := newTestSource(t, Config{})
	ctx := context.Background()
	register := func(id string) {
		t.Helper()
		err := src.Register(ctx, discovery.Instance{
			ID: id, Application: "shop", ServiceName: "orders",
			Endpoints: []string{"rest://10.0.0.1:8080"},
		}, 0)
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	register("a")

	m, err := discovery.NewManager(discovery.DefaultConfig(), []discovery.Source{src}, discovery.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	snap := m.GetOrCreateVersionedCache(ctx, "shop", "orders")
	if len(snap.Data().Current()) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(snap.Data().Current()))
	}

	// the fake ignores WithRev, so wait for the watch before writing
	deadline := time.Now().Add(2 * time.Second)
	for fake.watcherCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watch not established")
		}
		time.Sleep(5 * time.Millisecond)
	}
	register("b")

	for {
		snap, _ = m.Snapshot("shop", "orders")
		if len(snap.Data().Current()) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected watch to push 2 instances, got %d", len(snap.Data().Current()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSource_Health(t *testing.T) {
	src, _ := newTestSource(t, Config{})
	if h := src.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %s", h.Status)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Username: "root"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for username without password")
	}

	cfg = Config{TLS: &security.TLSConfig{Enabled: true, MinVersion: "1.1"}}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unsupported TLS version")
	}
}
