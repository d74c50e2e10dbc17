// Package circuitbreaker implements a thread-safe circuit breaker used to gate
// routing decisions per model. After a configurable number of failures the
// breaker trips and the model is excluded from selection for a cooldown
// period, after which a half-open probe window lets traffic through again.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// Closed is the normal operating state: the model is routable.
	Closed State = iota
	// Open means the circuit has tripped: the model is excluded from selection.
	Open
	// HalfOpen admits traffic again after the cooldown; the next recorded
	// outcome decides whether the circuit closes or reopens.
	HalfOpen
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultThreshold = 3
	defaultCooldown  = 60 * time.Second
)

// Breaker is a goroutine-safe circuit breaker that tracks failures for a
// single model and transitions between Closed, Open, and HalfOpen states.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	lastFailure      time.Time
	onStateChange    func(from, to State)

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the number of failures required to trip the breaker from
// Closed to Open. The default is 3.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays Open before transitioning to
// HalfOpen. The default is 60 seconds.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithOnStateChange registers a callback that fires on every state transition.
// The callback is invoked while the breaker's mutex is held, so it must not
// call back into the breaker.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// New creates a Breaker in the Closed state with the given options.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:            Closed,
		failureThreshold: defaultThreshold,
		cooldown:         defaultCooldown,
		nowFunc:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Available reports whether the model behind this breaker may be routed to.
// It is true in Closed and HalfOpen. Reading the state while Open checks the
// cooldown timer and transitions to HalfOpen once it has elapsed.
func (b *Breaker) Available() bool {
	return b.CurrentState() != Open
}

// RecordSuccess records a successful upstream call. The failure counter is
// cleared and the breaker returns to Closed from any state.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state != Closed {
		b.setState(Closed)
	}
}

// RecordFailure records an upstream failure. In Closed state it increments the
// failure counter and trips the breaker once the threshold is reached. In
// HalfOpen state the probe failed, so the breaker reopens immediately; the
// accumulated failure count is preserved.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.nowFunc()

	switch b.state {
	case Closed:
		if b.failureCount >= b.failureThreshold {
			b.setState(Open)
		}
	case HalfOpen:
		b.setState(Open)
	}
}

// CurrentState returns the breaker state, transitioning Open to HalfOpen when
// the cooldown has elapsed since the last recorded failure.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && !b.nowFunc().Before(b.lastFailure.Add(b.cooldown)) {
		b.setState(HalfOpen)
	}
	return b.state
}

// FailureCount returns the accumulated failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Reset forces the breaker to Closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.lastFailure = time.Time{}
	if b.state != Closed {
		b.setState(Closed)
	}
}

// setState transitions the breaker and fires the callback if registered.
// Caller must hold b.mu.
func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}
