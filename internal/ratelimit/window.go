// Package ratelimit provides the two rate limiters the gateway needs: a
// rolling-window per-provider limiter used by routing, and a token bucket
// middleware that protects the HTTP surface per client IP.
package ratelimit

import (
	"sync"
	"time"
)

// windowSize is the rolling window over which per-provider request counts
// are evaluated.
const windowSize = time.Minute

// Window tracks request timestamps per key over a rolling one-minute window.
// A key is admitted while its count of requests inside the window is below
// the key's limit.
type Window struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	stop    chan struct{}

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// WindowOption configures a Window.
type WindowOption func(*Window)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) WindowOption {
	return func(w *Window) {
		w.nowFunc = now
	}
}

// NewWindow creates a rolling-window limiter and starts its background
// pruning goroutine.
func NewWindow(opts ...WindowOption) *Window {
	w := &Window{
		entries: make(map[string][]time.Time),
		stop:    make(chan struct{}),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	go w.cleanup()
	return w
}

// Allow reports whether the key is under its per-minute limit. A limit of
// zero or less means unlimited. Allow does not record; call Record once the
// attempt is actually dispatched.
func (w *Window) Allow(key string, limit int) bool {
	if limit <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.prune(key)) < limit
}

// Record adds a request timestamp for the key.
func (w *Window) Record(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[key] = append(w.prune(key), w.nowFunc())
}

// Count returns the number of requests inside the key's current window.
func (w *Window) Count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.prune(key))
}

// Reset clears the key's window. Used when a provider's configuration
// changes.
func (w *Window) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, key)
}

// Stop terminates the background pruning goroutine.
func (w *Window) Stop() {
	close(w.stop)
}

// prune drops timestamps older than the window and returns the remainder.
// Caller must hold w.mu.
func (w *Window) prune(key string) []time.Time {
	cutoff := w.nowFunc().Add(-windowSize)
	ts := w.entries[key]
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ts = ts[i:]
		if len(ts) == 0 {
			delete(w.entries, key)
			return nil
		}
		w.entries[key] = ts
	}
	return ts
}

func (w *Window) cleanup() {
	ticker := time.NewTicker(windowSize)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			for key := range w.entries {
				w.prune(key)
			}
			w.mu.Unlock()
		case <-w.stop:
			return
		}
	}
}
