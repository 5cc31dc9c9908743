package resilience

import "context"

// Bulkhead caps the number of concurrent calls.
type Bulkhead struct {
	slots chan struct{}
}

// NewBulkhead allows limit concurrent calls; limit <= 0 means 1.
func NewBulkhead(limit int) *Bulkhead {
	if limit <= 0 {
		limit = 1
	}
	return &Bulkhead{slots: make(chan struct{}, limit)}
}

// Do waits for a slot and runs fn. It returns ctx.Err() if ctx ends first.
func (b *Bulkhead) Do(ctx context.Context, fn func() error) error {
	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.slots }()
	return fn()
}

// InUse is the number of calls currently running.
func (b *Bulkhead) InUse() int { return len(b.slots) }

// Limit is the configured concurrency.
func (b *Bulkhead) Limit() int { return cap(b.slots) }
