package discovery_test

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/discovery"
	dtest "github.com/kbukum/registrykit/discovery/testutil"
	"github.com/kbukum/registrykit/errors"
	"github.com/kbukum/registrykit/logger"
	"github.com/kbukum/registrykit/testutil"
)

var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newManager(t *testing.T, cfg discovery.Config, sources ...discovery.Source) (*discovery.Manager, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(start)
	m, err := discovery.NewManager(cfg, sources, discovery.WithLogger(logger.Nop()), discovery.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, clock
}

func currentIDs(snap *discovery.Snapshot) map[string]bool {
	out := make(map[string]bool)
	for _, w := range snap.Data().Current() {
		out[w.ID()] = true
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_SingleFlightCreation(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	gate := make(chan struct{})
	src.Hold(gate)
	m, _ := newManager(t, discovery.DefaultConfig(), src)

	const callers = 20
	snaps := make([]*discovery.Snapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i] = m.GetOrCreateVersionedCache(context.Background(), "app", "svc")
		}(i)
	}

	waitFor(t, func() bool { return src.Calls("app", "svc") == 1 })
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := src.Calls("app", "svc"); got != 1 {
		t.Errorf("expected 1 source query, got %d", got)
	}
	for i, s := range snaps {
		if s != snaps[0] {
			t.Fatalf("caller %d got a different snapshot", i)
		}
	}
	if snaps[0].Version() != 0 {
		t.Errorf("expected version 0, got %d", snaps[0].Version())
	}
	if !currentIDs(snaps[0])["a"] {
		t.Errorf("expected instance a, got %v", currentIDs(snaps[0]))
	}
}

func TestManager_CreateFailsOpen(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Fail(stderrors.New("connection refused"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)

	snap := m.GetOrCreateVersionedCache(context.Background(), "app", "svc")
	if snap == nil || snap.Version() != 0 {
		t.Fatalf("expected empty version 0 snapshot, got %v", snap)
	}
	if len(snap.Data().Current()) != 0 {
		t.Errorf("expected no instances, got %d", len(snap.Data().Current()))
	}
}

func TestManager_EmptyProtection(t *testing.T) {
	tests := []struct {
		name    string
		disable bool
		want    []string
	}{
		{"enabled keeps last non-empty", false, []string{"i1"}},
		{"disabled publishes empty", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := dtest.NewSource("fake")
			src.Set("app", "svc", dtest.Instance("i1"))
			cfg := discovery.DefaultConfig()
			cfg.DisableEmptyProtection = tt.disable
			m, _ := newManager(t, cfg, src)

			m.GetOrCreateVersionedCache(context.Background(), "app", "svc")
			src.Remove("app", "svc")
			m.Refresh(context.Background(), "app", "svc")

			snap := m.GetOrCreateVersionedCache(context.Background(), "app", "svc")
			got := currentIDs(snap)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for _, id := range tt.want {
				if !got[id] {
					t.Errorf("expected %s current, got %v", id, got)
				}
			}
			if tt.disable {
				w, ok := snap.Data().Get("i1")
				if !ok || w.HistoryStatus() != discovery.HistoryRemoved {
					t.Error("expected i1 kept as REMOVED for one generation")
				}
			} else if snap.Version() != 0 {
				t.Errorf("expected protected snapshot to stay at version 0, got %d", snap.Version())
			}
		})
	}
}

func TestManager_CustomEmptyProtection(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("i1"))
	var asked bool
	m, err := discovery.NewManager(discovery.DefaultConfig(), []discovery.Source{src},
		discovery.WithLogger(logger.Nop()),
		discovery.WithEmptyProtection(discovery.EmptyProtectionFunc(func(discovery.Key, *discovery.InstanceSet, *discovery.InstanceSet) bool {
			asked = true
			return false
		})))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	m.GetOrCreateVersionedCache(context.Background(), "app", "svc")
	src.Remove("app", "svc")
	snap := m.Refresh(context.Background(), "app", "svc")
	if !asked {
		t.Error("expected custom protection to be consulted")
	}
	if len(snap.Data().Current()) != 0 {
		t.Errorf("expected empty current list, got %d", len(snap.Data().Current()))
	}
}

func TestManager_IsolationLazyExpiry(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("i1"))
	m, clock := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	ref := discovery.InstanceRef{Key: discovery.NewKey("app", "svc"), ID: "i1"}
	if err := m.OnInstanceIsolated(ref, 10*time.Second); err != nil {
		t.Fatalf("OnInstanceIsolated failed: %v", err)
	}

	snap := m.GetOrCreateVersionedCache(ctx, "app", "svc")
	w, _ := snap.Data().Get("i1")
	if w.IsolationStatus() != discovery.IsolationIsolated {
		t.Errorf("expected ISOLATED, got %s", w.IsolationStatus())
	}
	if snap.Version() != 1 {
		t.Errorf("expected isolation to publish version 1, got %d", snap.Version())
	}

	clock.Advance(10 * time.Second)
	w, _ = m.GetOrCreateVersionedCache(ctx, "app", "svc").Data().Get("i1")
	if w.IsolationStatus() != discovery.IsolationNormal {
		t.Errorf("expected NORMAL after deadline, got %s", w.IsolationStatus())
	}
}

func TestManager_MergesSources(t *testing.T) {
	s1 := dtest.NewSource("s1")
	s1.Set("app", "svc", dtest.Instance("a"), dtest.Instance("b"))
	s2 := dtest.NewSource("s2")
	s2.Set("app", "svc", dtest.Instance("b"), dtest.Instance("c"))
	m, _ := newManager(t, discovery.DefaultConfig(), s1, s2)

	snap := m.GetOrCreateVersionedCache(context.Background(), "app", "svc")
	all := snap.Data().All()
	if len(all) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(all))
	}
	got := currentIDs(snap)
	for _, id := range []string{"a", "b", "c"} {
		if !got[id] {
			t.Errorf("expected %s in merged snapshot", id)
		}
	}
	if b, _ := snap.Data().Get("b"); b.Source() != "s2" {
		t.Errorf("expected b from s2 under last_wins, got %s", b.Source())
	}
}

func TestManager_IsolationSurvivesRefresh(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"), dtest.Instance("b"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	ref := discovery.InstanceRef{Key: discovery.NewKey("app", "svc"), ID: "a"}
	if err := m.OnInstanceIsolated(ref, time.Minute); err != nil {
		t.Fatalf("OnInstanceIsolated failed: %v", err)
	}

	snap := m.Refresh(ctx, "app", "svc")
	w, _ := snap.Data().Get("a")
	if w.IsolationStatus() != discovery.IsolationIsolated {
		t.Errorf("expected a to stay ISOLATED across refresh, got %s", w.IsolationStatus())
	}
	if snap.Version() != 2 {
		t.Errorf("expected version 2, got %d", snap.Version())
	}
}

func TestManager_IsolationDuringRefreshSurvives(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"), dtest.Instance("b"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	gate := make(chan struct{})
	src.Hold(gate)

	done := make(chan *discovery.Snapshot, 1)
	go func() { done <- m.Refresh(ctx, "app", "svc") }()
	waitFor(t, func() bool { return src.Calls("app", "svc") == 2 })

	ref := discovery.InstanceRef{Key: discovery.NewKey("app", "svc"), ID: "a"}
	if err := m.OnInstanceIsolated(ref, time.Minute); err != nil {
		t.Fatalf("OnInstanceIsolated failed: %v", err)
	}
	close(gate)
	snap := <-done

	if snap.Version() != 2 {
		t.Errorf("expected refresh published after isolation as version 2, got %d", snap.Version())
	}
	w, _ := snap.Data().Get("a")
	if w.IsolationStatus() != discovery.IsolationIsolated {
		t.Errorf("expected a ISOLATED after concurrent refresh, got %s", w.IsolationStatus())
	}
	if latest, _ := m.Snapshot("app", "svc"); latest != snap {
		t.Error("expected the refresh result to be the published snapshot")
	}
}

func TestManager_HealthReportsRefreshesInFlight(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	cfg := discovery.DefaultConfig()
	cfg.MaxConcurrentRefresh = 4
	m, _ := newManager(t, cfg, src)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	if h := m.Health(ctx); h.Message != "0/4 refreshes in flight" {
		t.Errorf("expected idle bulkhead in health, got %q", h.Message)
	}

	gate := make(chan struct{})
	src.Hold(gate)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Refresh(ctx, "app", "svc")
	}()
	waitFor(t, func() bool { return src.Calls("app", "svc") == 2 })

	if h := m.Health(ctx); h.Message != "1/4 refreshes in flight" {
		t.Errorf("expected one refresh in flight, got %q", h.Message)
	}
	close(gate)
	<-done
	if d := m.Describe(); !strings.Contains(d.Details, "max_refresh=4") {
		t.Errorf("expected max_refresh in description, got %q", d.Details)
	}
}

func TestManager_RemovedLastsOneGeneration(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"), dtest.Instance("b"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	src.Set("app", "svc", dtest.Instance("a"))

	snap := m.Refresh(ctx, "app", "svc")
	b, ok := snap.Data().Get("b")
	if !ok || b.HistoryStatus() != discovery.HistoryRemoved {
		t.Fatal("expected b REMOVED after first refresh")
	}
	if currentIDs(snap)["b"] {
		t.Error("expected REMOVED b outside the current list")
	}

	snap = m.Refresh(ctx, "app", "svc")
	if _, ok := snap.Data().Get("b"); ok {
		t.Error("expected b dropped after second refresh")
	}
}

func TestManager_OldVersionsNeverMutated(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"), dtest.Instance("b"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()

	v0 := m.GetOrCreateVersionedCache(ctx, "app", "svc")
	_ = m.OnInstanceIsolated(discovery.InstanceRef{Key: discovery.NewKey("app", "svc"), ID: "a"}, time.Minute)
	src.Set("app", "svc", dtest.Instance("a"))
	m.Refresh(ctx, "app", "svc")

	if v0.Version() != 0 {
		t.Errorf("expected v0 to keep version 0, got %d", v0.Version())
	}
	a, _ := v0.Data().Get("a")
	if a.IsolationStatus() != discovery.IsolationNormal {
		t.Error("expected v0 wrapper of a to stay NORMAL")
	}
	b, _ := v0.Data().Get("b")
	if b.HistoryStatus() != discovery.HistoryCurrent {
		t.Error("expected v0 wrapper of b to stay CURRENT")
	}
}

func TestManager_TimeoutFailsOpen(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	cfg := discovery.DefaultConfig()
	cfg.QueryTimeout = 50 * time.Millisecond
	m, _ := newManager(t, cfg, src)
	ctx := context.Background()

	prev := m.GetOrCreateVersionedCache(ctx, "app", "svc")

	gate := make(chan struct{})
	defer close(gate)
	src.Hold(gate)

	began := time.Now()
	snap := m.Refresh(ctx, "app", "svc")
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Errorf("expected refresh bounded by timeout, took %v", elapsed)
	}
	if snap != prev {
		t.Errorf("expected previous snapshot kept, got version %d", snap.Version())
	}
}

func TestManager_PerSourceFailOpen(t *testing.T) {
	s1 := dtest.NewSource("s1")
	s1.Set("app", "svc", dtest.Instance("a"))
	s2 := dtest.NewSource("s2")
	s2.Set("app", "svc", dtest.Instance("b"))
	m, _ := newManager(t, discovery.DefaultConfig(), s1, s2)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	s1.Fail(stderrors.New("down"))
	s2.Set("app", "svc", dtest.Instance("b"), dtest.Instance("c"))

	m.RefreshAll(ctx)
	snap, ok := m.Snapshot("app", "svc")
	if !ok {
		t.Fatal("expected key tracked")
	}
	got := currentIDs(snap)
	if !got["a"] || !got["b"] || !got["c"] {
		t.Errorf("expected a carried from failed source plus b and c, got %v", got)
	}
	if h := m.Health(ctx); h.Status != component.StatusDegraded {
		t.Errorf("expected degraded health, got %s", h.Status)
	}

	s1.Fail(nil)
	m.RefreshAll(ctx)
	if h := m.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy after recovery, got %s", h.Status)
	}
}

func TestManager_DisabledSourceNotQueried(t *testing.T) {
	s1 := dtest.NewSource("s1")
	s1.Set("app", "svc", dtest.Instance("a"))
	s1.Disable("app", "svc")
	s2 := dtest.NewSource("s2")
	s2.Set("app", "svc", dtest.Instance("b"))
	m, _ := newManager(t, discovery.DefaultConfig(), s1, s2)

	snap := m.GetOrCreateVersionedCache(context.Background(), "app", "svc")
	if s1.Calls("app", "svc") != 0 {
		t.Errorf("expected disabled source not queried, got %d calls", s1.Calls("app", "svc"))
	}
	if got := currentIDs(snap); len(got) != 1 || !got["b"] {
		t.Errorf("expected [b], got %v", got)
	}
}

func TestManager_InvalidInstancesDropped(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a", "rest://10.0.0.1:80"), dtest.Instance(""), dtest.Instance("b", "not an endpoint"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)

	got := currentIDs(m.GetOrCreateVersionedCache(context.Background(), "app", "svc"))
	if len(got) != 1 || !got["a"] {
		t.Errorf("expected only a, got %v", got)
	}
}

func TestManager_Push(t *testing.T) {
	poll := dtest.NewSource("poll")
	poll.Set("app", "svc", dtest.Instance("a"))
	push := dtest.NewSource("push")
	push.Set("app", "svc", dtest.Instance("b"))
	m, _ := newManager(t, discovery.DefaultConfig(), poll, push)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	pollCalls := poll.Calls("app", "svc")

	push.Set("app", "svc", dtest.Instance("b"), dtest.Instance("c"))
	push.Push("app", "svc")

	snap, _ := m.Snapshot("app", "svc")
	got := currentIDs(snap)
	if !got["a"] || !got["b"] || !got["c"] {
		t.Errorf("expected a, b and c after push, got %v", got)
	}
	if snap.Version() != 1 {
		t.Errorf("expected version 1, got %d", snap.Version())
	}
	if poll.Calls("app", "svc") != pollCalls {
		t.Error("expected push not to query other sources")
	}

	push.Push("other", "svc")
	if _, ok := m.Snapshot("other", "svc"); ok {
		t.Error("expected push for untracked key to be ignored")
	}
}

func TestManager_IsolationErrors(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)
	m.GetOrCreateVersionedCache(context.Background(), "app", "svc")

	tests := []struct {
		name string
		ref  discovery.InstanceRef
	}{
		{"unknown key", discovery.InstanceRef{Key: discovery.NewKey("app", "nope"), ID: "a"}},
		{"unknown instance", discovery.InstanceRef{Key: discovery.NewKey("app", "svc"), ID: "zz"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.OnInstanceIsolated(tt.ref, time.Second)
			if !errors.HasCode(err, errors.ErrCodeNotFound) {
				t.Errorf("expected NOT_FOUND, got %v", err)
			}
			err = m.OnInstanceRecovered(tt.ref)
			if !errors.HasCode(err, errors.ErrCodeNotFound) {
				t.Errorf("expected NOT_FOUND, got %v", err)
			}
		})
	}
}

func TestManager_Recover(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()
	ref := discovery.InstanceRef{Key: discovery.NewKey("app", "svc"), ID: "a"}

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	if err := m.OnInstanceRecovered(ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap, _ := m.Snapshot("app", "svc"); snap.Version() != 0 {
		t.Errorf("expected recovering a normal instance to publish nothing, got version %d", snap.Version())
	}

	_ = m.OnInstanceIsolated(ref, time.Minute)
	if err := m.OnInstanceRecovered(ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, _ := m.Snapshot("app", "svc")
	w, _ := snap.Data().Get("a")
	if w.IsolationStatus() != discovery.IsolationNormal || !w.IsolatedUntil().IsZero() {
		t.Error("expected isolation cleared")
	}
	if snap.Version() != 2 {
		t.Errorf("expected version 2, got %d", snap.Version())
	}
}

func TestManager_KeysAndInvalidate(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	m.GetOrCreateVersionedCache(ctx, "app", "other:svc")
	if keys := m.Keys(); len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}

	m.Invalidate("app", "svc")
	if _, ok := m.Snapshot("app", "svc"); ok {
		t.Error("expected key forgotten after Invalidate")
	}
	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	if got := src.Calls("app", "svc"); got != 2 {
		t.Errorf("expected key recreated with a second query, got %d calls", got)
	}
}

func TestManager_InvalidateKeepsVersionIncreasing(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	m.Refresh(ctx, "app", "svc")
	m.Refresh(ctx, "app", "svc")
	ref := discovery.InstanceRef{Key: discovery.NewKey("app", "svc"), ID: "a"}
	if err := m.OnInstanceIsolated(ref, time.Minute); err != nil {
		t.Fatalf("OnInstanceIsolated failed: %v", err)
	}
	before, _ := m.Snapshot("app", "svc")

	m.Invalidate("app", "svc")
	after := m.GetOrCreateVersionedCache(ctx, "app", "svc")
	if after.Version() <= before.Version() {
		t.Errorf("expected version above %d after re-creation, got %d", before.Version(), after.Version())
	}
	if !before.IsExpired(after) {
		t.Error("expected the pre-invalidate snapshot to be expired by the re-created one")
	}
	if err := m.OnInstanceRecovered(ref); err != nil {
		t.Fatalf("OnInstanceRecovered failed: %v", err)
	}
	if snap, _ := m.Snapshot("app", "svc"); snap.Version() != after.Version() {
		t.Errorf("expected no publish for a NORMAL instance, got version %d", snap.Version())
	}

	m.Invalidate("app", "svc")
	m.Invalidate("app", "svc")
	again := m.GetOrCreateVersionedCache(ctx, "app", "svc")
	if again.Version() != after.Version()+1 {
		t.Errorf("expected version %d, got %d", after.Version()+1, again.Version())
	}
}

func TestManager_InvalidatedEntryTakesNoWrites(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	gate := make(chan struct{})
	src.Hold(gate)

	done := make(chan *discovery.Snapshot, 1)
	go func() { done <- m.Refresh(ctx, "app", "svc") }()
	waitFor(t, func() bool { return src.Calls("app", "svc") == 2 })

	m.Invalidate("app", "svc")
	close(gate)
	if snap := <-done; snap.Version() != 0 {
		t.Errorf("expected the retired entry to keep version 0, got %d", snap.Version())
	}
	if again := m.GetOrCreateVersionedCache(ctx, "app", "svc"); again.Version() != 1 {
		t.Errorf("expected re-created key at version 1, got %d", again.Version())
	}
}

func TestManager_CancelledCallerDoesNotEmptyCreation(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	m, _ := newManager(t, discovery.DefaultConfig(), src)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	first := m.GetOrCreateVersionedCache(cancelled, "app", "svc")
	if !currentIDs(first)["a"] {
		t.Errorf("expected a from a cancelled first caller, got %v", currentIDs(first))
	}

	snap := m.GetOrCreateVersionedCache(context.Background(), "app", "svc")
	if snap.Version() != 0 || !currentIDs(snap)["a"] {
		t.Errorf("expected version 0 with a, got version %d with %v", snap.Version(), currentIDs(snap))
	}
	if got := src.Calls("app", "svc"); got != 1 {
		t.Errorf("expected 1 source query, got %d", got)
	}
}

func TestManager_Transport(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc",
		dtest.Instance("a", "rest://10.0.0.1:8080"),
		dtest.Instance("b", "rest://10.0.0.2:8080"))
	m, clock := newManager(t, discovery.DefaultConfig(), src)
	ctx := context.Background()

	first := m.Transport(ctx, "app", "svc")
	if again := m.Transport(ctx, "app", "svc"); again != first {
		t.Error("expected transport view memoized within a generation")
	}
	if n := len(first.Data().Endpoints("rest")); n != 2 {
		t.Fatalf("expected 2 rest endpoints, got %d", n)
	}

	_ = m.OnInstanceIsolated(discovery.InstanceRef{Key: discovery.NewKey("app", "svc"), ID: "a"}, 10*time.Second)
	isolated := m.Transport(ctx, "app", "svc")
	eps := isolated.Data().Endpoints("rest")
	if len(eps) != 1 || eps[0].Instance.ID() != "b" {
		t.Fatalf("expected only b while a is isolated, got %v", eps)
	}
	if isolated.ParentVersion() != 1 {
		t.Errorf("expected view of version 1, got %d", isolated.ParentVersion())
	}

	clock.Advance(10 * time.Second)
	expired := m.Transport(ctx, "app", "svc")
	if n := len(expired.Data().Endpoints("rest")); n != 2 {
		t.Errorf("expected a back after isolation expired, got %d endpoints", n)
	}
	if expired.Version() != first.Version() {
		t.Errorf("expected equal endpoint sets to share a fingerprint version")
	}
}

func TestManager_Lifecycle(t *testing.T) {
	src := dtest.NewSource("fake")
	src.Set("app", "svc", dtest.Instance("a"))
	cfg := discovery.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	m, _ := newManager(t, cfg, src)
	ctx := context.Background()

	m.GetOrCreateVersionedCache(ctx, "app", "svc")
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("expected error on second Start")
	}

	waitFor(t, func() bool { return src.Calls("app", "svc") >= 3 })

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	calls := src.Calls("app", "svc")
	time.Sleep(30 * time.Millisecond)
	if src.Calls("app", "svc") != calls {
		t.Error("expected polling to stop")
	}
	if err := m.Stop(ctx); err != nil {
		t.Errorf("expected second Stop to be a no-op, got %v", err)
	}
}

func TestManager_RegistryOrder(t *testing.T) {
	src := dtest.NewSource("fake")
	m, _ := newManager(t, discovery.DefaultConfig(), src)

	reg := component.NewRegistry()
	if err := reg.Register(src); err != nil {
		t.Fatalf("register source: %v", err)
	}
	if err := reg.Register(m); err != nil {
		t.Fatalf("register manager: %v", err)
	}
	ctx := context.Background()
	if err := reg.StartAll(ctx); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	for _, h := range reg.HealthAll(ctx) {
		if h.Status != component.StatusHealthy {
			t.Errorf("expected %s healthy, got %s", h.Name, h.Status)
		}
	}
	if err := reg.StopAll(ctx); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
}

func TestManager_NoSourcesDegraded(t *testing.T) {
	m, _ := newManager(t, discovery.DefaultConfig())
	if h := m.Health(context.Background()); h.Status != component.StatusDegraded {
		t.Errorf("expected degraded without sources, got %s", h.Status)
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := discovery.DefaultConfig()
	cfg.DuplicatePolicy = "random"
	if _, err := discovery.NewManager(cfg, nil); err == nil {
		t.Error("expected invalid config error")
	}
}
