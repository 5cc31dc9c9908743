package component

import (
	"context"
	"fmt"
	"testing"
)

type fakeComponent struct {
	name     string
	startErr error
	stopErr  error
	health   Health
	events   *[]string
}

func (f *fakeComponent) Name() string { return f.name }
func (f *fakeComponent) Start(ctx context.Context) error {
	if f.events != nil {
		*f.events = append(*f.events, "start:"+f.name)
	}
	return f.startErr
}
func (f *fakeComponent) Stop(ctx context.Context) error {
	if f.events != nil {
		*f.events = append(*f.events, "stop:"+f.name)
	}
	return f.stopErr
}
func (f *fakeComponent) Health(ctx context.Context) Health { return f.health }

type describedComponent struct {
	fakeComponent
}

func (d *describedComponent) Describe() Description {
	return Description{Type: "source", Details: "static"}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeComponent{name: "consul"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(&fakeComponent{name: "consul"}); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeComponent{name: "etcd"})

	if got := r.Get("etcd"); got == nil || got.Name() != "etcd" {
		t.Fatalf("expected registered component, got %v", got)
	}
	if got := r.Get("missing"); got != nil {
		t.Error("expected nil for unregistered component")
	}
}

func TestLifecycleOrder(t *testing.T) {
	r := NewRegistry()
	var events []string

	r.Register(&fakeComponent{name: "static", events: &events})
	r.Register(&describedComponent{fakeComponent{name: "consul", events: &events}})
	r.Register(&fakeComponent{name: "discovery", events: &events})

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	want := []string{
		"start:static", "start:consul", "start:discovery",
		"stop:discovery", "stop:consul", "stop:static",
	}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, events)
	}
}

func TestStartAllFailureStopsOnlyStarted(t *testing.T) {
	r := NewRegistry()
	var events []string

	r.Register(&fakeComponent{name: "static", events: &events})
	r.Register(&fakeComponent{name: "redis", events: &events, startErr: fmt.Errorf("connection refused")})
	r.Register(&fakeComponent{name: "discovery", events: &events})

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected error from StartAll")
	}
	r.StopAll(context.Background())

	want := []string{"start:static", "start:redis", "stop:static"}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, events)
	}
}

func TestStopAllWithErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeComponent{name: "etcd", stopErr: fmt.Errorf("stop failed")})
	r.StartAll(context.Background())

	if err := r.StopAll(context.Background()); err == nil {
		t.Error("expected error from StopAll")
	}
}

func TestHealthAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeComponent{name: "consul", health: Health{Name: "consul", Status: StatusHealthy}})
	r.Register(&fakeComponent{name: "redis", health: Health{Name: "redis", Status: StatusUnhealthy, Message: "timeout"}})

	results := r.HealthAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != StatusHealthy || results[1].Status != StatusUnhealthy {
		t.Errorf("unexpected health results: %+v", results)
	}
	if len(r.All()) != 2 {
		t.Errorf("expected 2 components, got %d", len(r.All()))
	}
}

func TestHealthAll_FillsName(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeComponent{name: "static", health: Health{Status: StatusHealthy}})

	if got := r.HealthAll(context.Background())[0].Name; got != "static" {
		t.Errorf("expected name static, got %q", got)
	}
}

func TestStopAll_AttemptsEveryComponent(t *testing.T) {
	r := NewRegistry()
	var events []string
	r.Register(&fakeComponent{name: "consul", events: &events})
	r.Register(&fakeComponent{name: "etcd", events: &events, stopErr: fmt.Errorf("lease revoke failed")})
	r.StartAll(context.Background())

	if err := r.StopAll(context.Background()); err == nil {
		t.Fatal("expected error from StopAll")
	}
	want := []string{"start:consul", "start:etcd", "stop:etcd", "stop:consul"}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, events)
	}
}

func TestWorst(t *testing.T) {
	tests := []struct {
		name string
		in   []HealthStatus
		want HealthStatus
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []HealthStatus{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"degraded", []HealthStatus{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []HealthStatus{StatusUnhealthy, StatusDegraded}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := make([]Health, len(tt.in))
			for i, s := range tt.in {
				hs[i] = Health{Status: s}
			}
			if got := Worst(hs); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
