package testutil

import (
	"context"

	"github.com/kbukum/registrykit/component"
)

// TestComponent extends component.Component with state control for tests.
// Fake discovery sources implement it so a test can reset or rewind the
// data they serve.
type TestComponent interface {
	component.Component

	// Reset restores the component to its initial state.
	Reset(ctx context.Context) error

	// Snapshot captures the current state of the component.
	Snapshot(ctx context.Context) (interface{}, error)

	// Restore restores a state returned by Snapshot.
	Restore(ctx context.Context, snapshot interface{}) error
}
