package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential delays: Initial * Factor^(n-1), spread by
// +/- Jitter and capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64 // 0..1
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 10 * time.Second
	}
	if b.Factor <= 0 {
		b.Factor = 2
	}
	return b
}

// Delay returns the pause after the n-th failed attempt (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	b = b.withDefaults()
	d := float64(b.Initial) * math.Pow(b.Factor, float64(n-1))
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	switch {
	case d > float64(b.Max):
		d = float64(b.Max)
	case d < 0:
		d = float64(b.Initial)
	}
	return time.Duration(d)
}

// RetryConfig configures Retry.
type RetryConfig struct {
	// Attempts includes the first call; values below 1 mean 1.
	Attempts int
	Backoff  Backoff
	// RetryIf decides whether an error is worth another attempt. The
	// default retries anything but context errors.
	RetryIf func(error) bool
	OnRetry func(attempt int, err error, wait time.Duration)
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Retry calls fn until it succeeds, fails with an error RetryIf rejects,
// runs out of attempts or ctx ends. On failure the last error from fn is
// returned, or ctx.Err() if fn never ran.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.RetryIf == nil {
		cfg.RetryIf = retryable
	}
	attempts := max(cfg.Attempts, 1)

	var lastErr error
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(lastErr, err)
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if n == attempts || !cfg.RetryIf(err) {
			return zero, lastErr
		}

		wait := cfg.Backoff.Delay(n)
		if cfg.OnRetry != nil {
			cfg.OnRetry(n, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
}
