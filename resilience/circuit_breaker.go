package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls are refused until Timeout elapses
	StateHalfOpen              // a limited number of probe calls pass
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned by Execute while calls are refused.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker. Zero values take the
// defaults of DefaultCircuitBreakerConfig.
type CircuitBreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// HalfOpenMaxCalls probes must all succeed to close the circuit.
	HalfOpenMaxCalls int
	// OnStateChange runs after each transition, outside the lock, in the
	// order the transitions happened.
	OnStateChange func(name string, from, to State)
	Now           func() time.Time
}

// DefaultCircuitBreakerConfig opens after 5 failures for 30s.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
		Now:              time.Now,
	}
}

// CircuitBreaker counts consecutive failures of one target. The move from
// open to half-open is taken lazily on the next read after Timeout, so a
// breaker owns no goroutine or timer.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int // half-open calls admitted
	succeeded int // half-open calls that succeeded
	fired     []func()
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn when the breaker admits it and records the result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.Record(err)
	return err
}

// Allow reports whether a call may proceed. In half-open state it admits
// at most HalfOpenMaxCalls calls.
func (cb *CircuitBreaker) Allow() (ok bool) {
	cb.locked(func() {
		switch cb.tick() {
		case StateClosed:
			ok = true
		case StateHalfOpen:
			if cb.probes < cb.cfg.HalfOpenMaxCalls {
				cb.probes++
				ok = true
			}
		}
	})
	return ok
}

// Record feeds the outcome of a call made outside Execute.
func (cb *CircuitBreaker) Record(err error) {
	cb.locked(func() {
		state := cb.tick()
		if err == nil {
			switch state {
			case StateClosed:
				cb.failures = 0
			case StateHalfOpen:
				if cb.succeeded++; cb.succeeded >= cb.cfg.HalfOpenMaxCalls {
					cb.move(StateClosed)
				}
			}
			return
		}

		cb.failures++
		switch state {
		case StateClosed:
			if cb.failures >= cb.cfg.MaxFailures {
				cb.move(StateOpen)
			}
		case StateHalfOpen:
			cb.move(StateOpen)
		case StateOpen:
			cb.openedAt = cb.cfg.Now()
		}
	})
}

func (cb *CircuitBreaker) State() (s State) {
	cb.locked(func() { s = cb.tick() })
	return s
}

// OpenUntil is when an open circuit starts probing, or the zero time when
// the circuit is not open.
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return time.Time{}
	}
	return cb.openedAt.Add(cb.cfg.Timeout)
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.locked(func() {
		cb.move(StateClosed)
		cb.failures = 0
	})
}

// Failures is the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// locked runs fn under the lock, then the state change callbacks queued
// by fn after releasing it.
func (cb *CircuitBreaker) locked(fn func()) {
	cb.mu.Lock()
	fn()
	fired := cb.fired
	cb.fired = nil
	cb.mu.Unlock()

	for _, f := range fired {
		f()
	}
}

// tick applies the open to half-open timeout and returns the state.
func (cb *CircuitBreaker) tick() State {
	if cb.state == StateOpen && !cb.cfg.Now().Before(cb.openedAt.Add(cb.cfg.Timeout)) {
		cb.move(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) move(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.probes, cb.succeeded = 0, 0
	switch to {
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
	}
	if cb.cfg.OnStateChange != nil {
		name := cb.cfg.Name
		cb.fired = append(cb.fired, func() { cb.cfg.OnStateChange(name, from, to) })
	}
}
