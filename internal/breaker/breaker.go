// Package breaker implements a per-provider circuit breaker. After a run of
// consecutive failures a provider's circuit opens and routing skips it until
// a cooldown elapses, at which point the circuit closes again and the
// provider rejoins the candidate pool.
package breaker

import (
	"sync"
	"time"
)

// State represents the current state of a provider's circuit.
type State int

const (
	// Closed is the normal operating state: attempts are allowed.
	Closed State = iota
	// Open means the circuit has tripped: the provider is skipped.
	Open
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

const (
	defaultThreshold = 5
	defaultCooldown  = 60 * time.Second
)

// circuit tracks one provider's consecutive-failure run.
type circuit struct {
	state        State
	failureCount int
	lastTripped  time.Time
}

// Set is a goroutine-safe collection of per-provider circuits sharing one
// threshold and cooldown.
type Set struct {
	mu            sync.Mutex
	circuits      map[string]*circuit
	threshold     int
	cooldown      time.Duration
	onStateChange func(providerID string, from, to State)

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// Option configures a Set.
type Option func(*Set)

// WithThreshold sets the number of consecutive failures required to trip a
// circuit. The default is 5.
func WithThreshold(n int) Option {
	return func(s *Set) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithCooldown sets how long a circuit stays Open before closing again. The
// default is 60 seconds.
func WithCooldown(d time.Duration) Option {
	return func(s *Set) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithOnStateChange registers a callback that fires on every state
// transition. The callback is invoked while the set's mutex is held, so it
// must not call back into the set.
func WithOnStateChange(fn func(providerID string, from, to State)) Option {
	return func(s *Set) {
		s.onStateChange = fn
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Set) {
		s.nowFunc = now
	}
}

// NewSet creates an empty Set with all circuits implicitly Closed.
func NewSet(opts ...Option) *Set {
	s := &Set{
		circuits:  make(map[string]*circuit),
		threshold: defaultThreshold,
		cooldown:  defaultCooldown,
		nowFunc:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Allow reports whether an attempt against the provider should proceed. An
// Open circuit whose cooldown has elapsed closes here, so recovery needs no
// background goroutine.
func (s *Set) Allow(providerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.circuits[providerID]
	if !ok || c.state == Closed {
		return true
	}
	if s.nowFunc().After(c.lastTripped.Add(s.cooldown)) {
		c.failureCount = 0
		s.setState(providerID, c, Closed)
		return true
	}
	return false
}

// RecordSuccess resets the provider's consecutive failure counter and closes
// its circuit if it was Open.
func (s *Set) RecordSuccess(providerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.circuits[providerID]
	if !ok {
		return
	}
	c.failureCount = 0
	if c.state == Open {
		s.setState(providerID, c, Closed)
	}
}

// RecordFailure increments the provider's consecutive failure counter and
// trips its circuit when the threshold is reached.
func (s *Set) RecordFailure(providerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.circuits[providerID]
	if !ok {
		c = &circuit{}
		s.circuits[providerID] = c
	}
	c.failureCount++
	if c.state == Closed && c.failureCount >= s.threshold {
		c.lastTripped = s.nowFunc()
		s.setState(providerID, c, Open)
	}
}

// CurrentState returns the provider's circuit state without evaluating the
// cooldown timer; use Allow for that.
func (s *Set) CurrentState(providerID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.circuits[providerID]; ok {
		return c.state
	}
	return Closed
}

// Snapshot returns the state of every tracked circuit, for the health and
// stats endpoints.
func (s *Set) Snapshot() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(s.circuits))
	for id, c := range s.circuits {
		out[id] = c.state
	}
	return out
}

// Reset clears the provider's circuit entirely. Used when a provider's
// configuration changes.
func (s *Set) Reset(providerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.circuits, providerID)
}

// setState transitions a circuit and fires the callback if registered.
// Caller must hold s.mu.
func (s *Set) setState(providerID string, c *circuit, to State) {
	from := c.state
	c.state = to
	if s.onStateChange != nil && from != to {
		s.onStateChange(providerID, from, to)
	}
}
