// Package resilience holds the fault-tolerance primitives discovery uses:
// a CircuitBreaker per instance that drives isolation, Retry with
// exponential Backoff around source queries, and a Bulkhead that caps
// concurrent refreshes.
//
//	err := bh.Do(ctx, func() error {
//	    _, err := resilience.Retry(ctx, cfg, func(ctx context.Context) ([]discovery.Instance, error) {
//	        return src.FindServiceInstances(ctx, app, svc)
//	    })
//	    return err
//	})
package resilience
