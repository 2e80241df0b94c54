package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Calls pass through
	StateOpen                  // Calls fail fast with ErrOpen
	StateHalfOpen              // A limited number of probe calls pass through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold    int           // Consecutive failures before opening
	SuccessThreshold    int           // Probe successes needed to close again
	Timeout             time.Duration // Time spent open before probing
	MaxRequestsHalfOpen int           // Concurrent probes allowed while half-open

	// IsFailure decides which errors count against the breaker. Nil counts every error.
	IsFailure func(error) bool
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

// CircuitBreaker stops calling a dependency after repeated failures and probes it
// again once Timeout has passed.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time

	onStateChange func(from, to State)
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.MaxRequestsHalfOpen <= 0 {
		config.MaxRequestsHalfOpen = 1
	}
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// OnStateChange registers fn, called synchronously with the breaker unlocked.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn unless the breaker is open. Errors from fn are returned unwrapped.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

// Do is Execute for functions with a result.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

func (cb *CircuitBreaker) allow() (bool, error) {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			cb.mu.Unlock()
			return false, ErrOpen
		}
		notify := cb.transitionLocked(StateHalfOpen)
		cb.probes++
		cb.mu.Unlock()
		notify()
		return true, nil
	case StateHalfOpen:
		defer cb.mu.Unlock()
		if cb.probes >= cb.config.MaxRequestsHalfOpen {
			return false, ErrOpen
		}
		cb.probes++
		return true, nil
	default:
		cb.mu.Unlock()
		return false, nil
	}
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	failed := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))

	cb.mu.Lock()
	notify := func() {}
	if probe && cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	switch {
	case failed && cb.state == StateHalfOpen:
		notify = cb.transitionLocked(StateOpen)
	case failed:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold {
			notify = cb.transitionLocked(StateOpen)
		}
	case cb.state == StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			notify = cb.transitionLocked(StateClosed)
		}
	default:
		cb.failures = 0
	}
	cb.mu.Unlock()
	notify()
}

// transitionLocked changes state and returns the callback invocation to run after unlocking.
func (cb *CircuitBreaker) transitionLocked(next State) func() {
	prev := cb.state
	if prev == next {
		return func() {}
	}
	cb.state = next
	cb.failures, cb.successes, cb.probes = 0, 0, 0
	if next == StateOpen {
		cb.openedAt = cb.now()
	}

	fn := cb.onStateChange
	if fn == nil {
		return func() {}
	}
	return func() { fn(prev, next) }
}

// State returns the current state. An open breaker past its timeout still reports open
// until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.transitionLocked(StateClosed)
	cb.mu.Unlock()
	notify()
}
