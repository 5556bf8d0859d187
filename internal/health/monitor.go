// Package health runs periodic availability probes against every enabled
// provider and answers the routing layer's central question: which providers
// are usable right now, in priority order.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mentora-ai/mentora/internal/events"
	"github.com/mentora-ai/mentora/internal/provider"
)

// State represents the probed health state of a provider.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
	StateUnknown   State = "unknown"
)

// degradedLatencyMs is the probe latency above which a reachable provider is
// reported degraded rather than healthy. Degraded providers still route.
const degradedLatencyMs = 5000

// maxStatusAge is how long a probe result stays trustworthy. A status older
// than this no longer counts as healthy, even if the last probe succeeded.
const maxStatusAge = 10 * time.Minute

// Status is the cached result of the most recent probe for one provider.
type Status struct {
	ProviderID      string    `json:"provider_id"`
	Name            string    `json:"name"`
	State           State     `json:"state"`
	LastChecked     time.Time `json:"last_checked"`
	ResponseTimeMs  float64   `json:"response_time_ms"`
	Error           string    `json:"error,omitempty"`
	AvailableModels []string  `json:"available_models,omitempty"`
}

// Prober runs a single availability probe against a provider. The adapter
// factory implements it.
type Prober interface {
	Probe(ctx context.Context, cfg provider.Config) (provider.ProbeResult, error)
}

// Monitor owns one probe loop per provider and caches the latest status.
type Monitor struct {
	prober Prober
	logger *slog.Logger
	bus    *events.Bus

	mu       sync.RWMutex
	statuses map[string]*Status
	configs  map[string]provider.Config
	loops    map[string]chan struct{} // per-provider stop channels
	wg       sync.WaitGroup

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithEventBus attaches an event bus so health state transitions are
// published as health_change events.
func WithEventBus(bus *events.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.nowFunc = now }
}

// NewMonitor creates a Monitor. Probe loops start per provider via Start.
func NewMonitor(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		logger:   slog.Default(),
		statuses: make(map[string]*Status),
		configs:  make(map[string]provider.Config),
		loops:    make(map[string]chan struct{}),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins (or restarts) the probe loop for a provider. The first probe
// fires immediately, then on the provider's configured interval. Calling
// Start again for the same provider replaces its loop, which is how config
// updates take effect.
func (m *Monitor) Start(cfg provider.Config) {
	m.mu.Lock()
	if stop, ok := m.loops[cfg.ID]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	m.loops[cfg.ID] = stop
	m.configs[cfg.ID] = cfg
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(cfg, stop)
}

// Stop terminates all probe loops and waits for them to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	for id, stop := range m.loops {
		close(stop)
		delete(m.loops, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Cleanup stops loops and drops cached state for providers no longer in the
// active set. Providers registered via one-shot Check have no loop but still
// carry cached config and status, so those maps are swept independently.
func (m *Monitor) Cleanup(activeIDs map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, stop := range m.loops {
		if !activeIDs[id] {
			close(stop)
			delete(m.loops, id)
		}
	}
	for id := range m.configs {
		if !activeIDs[id] {
			delete(m.configs, id)
		}
	}
	for id := range m.statuses {
		if !activeIDs[id] {
			delete(m.statuses, id)
		}
	}
}

func (m *Monitor) run(cfg provider.Config, stop chan struct{}) {
	defer m.wg.Done()

	// Probe immediately on start.
	m.Check(context.Background(), cfg)

	ticker := time.NewTicker(cfg.HealthCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(context.Background(), cfg)
		case <-stop:
			return
		}
	}
}

// Check runs one probe and updates the cached status. It is also called
// directly by routing after a failed attempt to refresh a provider's state
// without waiting for the next tick.
func (m *Monitor) Check(ctx context.Context, cfg provider.Config) Status {
	m.mu.Lock()
	m.configs[cfg.ID] = cfg
	m.mu.Unlock()

	result, err := m.prober.Probe(ctx, cfg)

	st := Status{
		ProviderID:  cfg.ID,
		Name:        cfg.Name,
		LastChecked: m.nowFunc(),
	}
	if err != nil {
		st.State = StateUnhealthy
		st.Error = err.Error()
		m.logger.Warn("health probe failed",
			slog.String("provider", cfg.Name),
			slog.String("error", err.Error()),
		)
	} else {
		st.ResponseTimeMs = result.LatencyMs
		st.AvailableModels = result.Models
		if result.LatencyMs > degradedLatencyMs {
			st.State = StateDegraded
		} else {
			st.State = StateHealthy
		}
		m.logger.Debug("health probe ok",
			slog.String("provider", cfg.Name),
			slog.Float64("latency_ms", result.LatencyMs),
		)
	}

	m.setStatus(cfg.ID, st, st.Error)
	return st
}

// MarkUnhealthy records a provider as unhealthy outside the probe cycle,
// typically after a routing failure.
func (m *Monitor) MarkUnhealthy(providerID, reason string) {
	m.mu.RLock()
	cfg, ok := m.configs[providerID]
	m.mu.RUnlock()

	name := providerID
	if ok {
		name = cfg.Name
	}
	m.setStatus(providerID, Status{
		ProviderID:  providerID,
		Name:        name,
		State:       StateUnhealthy,
		LastChecked: m.nowFunc(),
		Error:       reason,
	}, reason)
}

// IsHealthy reports whether a provider is currently routable: its last probe
// succeeded and is fresher than the staleness cutoff. Degraded providers
// count as routable.
func (m *Monitor) IsHealthy(providerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.statuses[providerID]
	if !ok {
		return false
	}
	if st.State != StateHealthy && st.State != StateDegraded {
		return false
	}
	return m.nowFunc().Sub(st.LastChecked) <= maxStatusAge
}

// HealthyProviders returns the configs of enabled, currently routable
// providers sorted by ascending priority.
func (m *Monitor) HealthyProviders() []provider.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.nowFunc()
	out := make([]provider.Config, 0, len(m.configs))
	for id, cfg := range m.configs {
		if !cfg.Enabled {
			continue
		}
		st, ok := m.statuses[id]
		if !ok {
			continue
		}
		if st.State != StateHealthy && st.State != StateDegraded {
			continue
		}
		if now.Sub(st.LastChecked) > maxStatusAge {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Config returns the tracked config for a provider.
func (m *Monitor) Config(providerID string) (provider.Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[providerID]
	return cfg, ok
}

// Statuses returns a copy of all cached statuses.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// setStatus swaps in a new status and publishes a health_change event when
// the state actually changed.
func (m *Monitor) setStatus(providerID string, st Status, reason string) {
	m.mu.Lock()
	oldState := StateUnknown
	if prev, ok := m.statuses[providerID]; ok {
		oldState = prev.State
	}
	m.statuses[providerID] = &st
	m.mu.Unlock()

	if oldState != st.State && m.bus != nil {
		m.bus.Publish(events.Event{
			Type:       events.EventHealthChange,
			ProviderID: providerID,
			OldState:   string(oldState),
			NewState:   string(st.State),
			Reason:     reason,
		})
	}
}
