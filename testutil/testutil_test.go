package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kbukum/registrykit/component"
)

type counterComponent struct {
	value   int
	started bool
}

func (c *counterComponent) Name() string { return "counter" }
func (c *counterComponent) Start(context.Context) error {
	c.started = true
	return nil
}
func (c *counterComponent) Stop(context.Context) error {
	c.started = false
	return nil
}
func (c *counterComponent) Health(context.Context) component.Health {
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}
func (c *counterComponent) Reset(context.Context) error {
	c.value = 0
	return nil
}
func (c *counterComponent) Snapshot(context.Context) (interface{}, error) { return c.value, nil }
func (c *counterComponent) Restore(_ context.Context, s interface{}) error {
	v, ok := s.(int)
	if !ok {
		return errors.New("invalid snapshot")
	}
	c.value = v
	return nil
}

func TestTHelperLifecycle(t *testing.T) {
	c := &counterComponent{}
	t.Run("setup", func(t *testing.T) {
		T(t).Setup(c)
		if !c.started {
			t.Fatal("expected component started")
		}
	})
	if c.started {
		t.Error("expected component stopped by cleanup")
	}
}

func TestTHelperSnapshotRestore(t *testing.T) {
	c := &counterComponent{value: 3}
	h := T(t)

	snap := h.Snapshot(c)
	c.value = 9
	h.Restore(c, snap)
	if c.value != 3 {
		t.Errorf("expected 3 after restore, got %d", c.value)
	}

	h.Reset(c)
	if c.value != 0 {
		t.Errorf("expected 0 after reset, got %d", c.value)
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	clock.Advance(10 * time.Second)
	if got := clock.Now(); !got.Equal(start.Add(10 * time.Second)) {
		t.Errorf("expected start+10s, got %v", got)
	}
	clock.Set(start)
	if !clock.Now().Equal(start) {
		t.Errorf("expected start, got %v", clock.Now())
	}
}
