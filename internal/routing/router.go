// Package routing implements the request state machine: select a candidate,
// attempt it, and on failure consult the recovery engine to retry, wait,
// fall back, or give up. A request only fails with one of two terminal
// errors; everything in between is absorbed here.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mentora-ai/mentora/internal/breaker"
	"github.com/mentora-ai/mentora/internal/events"
	"github.com/mentora-ai/mentora/internal/health"
	"github.com/mentora-ai/mentora/internal/metrics"
	"github.com/mentora-ai/mentora/internal/provider"
	"github.com/mentora-ai/mentora/internal/ratelimit"
	"github.com/mentora-ai/mentora/internal/recovery"
	"github.com/mentora-ai/mentora/internal/stats"
	"github.com/mentora-ai/mentora/internal/store"
)

// Terminal errors. These are the only failures a caller ever sees.
var (
	ErrNoProviders = errors.New("No available AI providers")
	ErrAllFailed   = errors.New("All AI providers failed")
)

// maxAttemptsPerProvider bounds retries on a single provider even when the
// strategy chain keeps asking for another try.
const maxAttemptsPerProvider = 5

// Result is the outcome of a successful route.
type Result struct {
	Provider      string             `json:"provider"`
	Response      *provider.Response `json:"response"`
	Attempts      int                `json:"attempts"`
	FallbacksUsed []string           `json:"fallbacks_used"`
}

// Generator runs a single attempt against a provider. The adapter factory
// implements it; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, cfg provider.Config, req provider.Request) (*provider.Response, error)
}

// Router ties the health monitor, breakers, rate windows, budget gate, and
// recovery engine into the routing loop.
type Router struct {
	gen      Generator
	monitor  *health.Monitor
	engine   *recovery.Engine
	breakers *breaker.Set
	window   *ratelimit.Window
	budget   *budgetGate
	store    store.Store
	stats    *stats.Collector
	metrics  *metrics.Registry
	bus      *events.Bus
	logger   *slog.Logger

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
	// sleep is the wait primitive; tests replace it to skip real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Router) { r.metrics = m }
}

// WithStats attaches the rolling stats collector.
func WithStats(c *stats.Collector) Option {
	return func(r *Router) { r.stats = c }
}

// WithEventBus attaches the event bus.
func WithEventBus(bus *events.Bus) Option {
	return func(r *Router) { r.bus = bus }
}

// WithBreakers replaces the breaker set (tests inject clocked ones).
func WithBreakers(b *breaker.Set) Option {
	return func(r *Router) { r.breakers = b }
}

// WithWindow replaces the rate-limit window.
func WithWindow(w *ratelimit.Window) Option {
	return func(r *Router) { r.window = w }
}

// WithRecoveryEngine replaces the recovery engine.
func WithRecoveryEngine(e *recovery.Engine) Option {
	return func(r *Router) { r.engine = e }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.nowFunc = now }
}

// WithSleep overrides the wait primitive for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Router) { r.sleep = fn }
}

// New creates a Router. The recovery engine is built here so the router can
// serve as its provider disabler.
func New(gen Generator, monitor *health.Monitor, st store.Store, opts ...Option) *Router {
	r := &Router{
		gen:     gen,
		monitor: monitor,
		store:   st,
		logger:  slog.Default(),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.breakers == nil {
		r.breakers = breaker.NewSet(breaker.WithOnStateChange(r.onBreakerChange))
	}
	if r.window == nil {
		r.window = ratelimit.NewWindow()
	}
	if r.engine == nil {
		r.engine = recovery.NewEngine(r, recovery.WithLogger(r.logger))
	}
	if r.sleep == nil {
		r.sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	r.budget = newBudgetGate(st, r.nowFunc)
	return r
}

// Init loads enabled providers from the store and starts their health
// probes.
func (r *Router) Init(ctx context.Context) error {
	configs, err := r.store.ListEnabledProviders(ctx)
	if err != nil {
		return fmt.Errorf("load providers: %w", err)
	}
	for _, cfg := range configs {
		r.monitor.Start(cfg)
	}
	r.logger.Info("routing initialized", slog.Int("providers", len(configs)))
	return nil
}

// Close stops the background machinery.
func (r *Router) Close() {
	r.monitor.Stop()
	r.window.Stop()
}

// Route runs the full state machine for one request.
func (r *Router) Route(ctx context.Context, req provider.Request) (*Result, error) {
	candidates := r.candidates(req)
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}

	var (
		attempts       int
		fallbacksUsed  = []string{}
		previousErrors []*provider.Error
		tried          = make(map[string]bool)
		attemptCounts  = make(map[string]int)
	)

	idx := 0
	for idx < len(candidates) {
		cfg := candidates[idx]
		if tried[cfg.ID] {
			idx++
			continue
		}

		// Circuit open: skip without consuming an attempt.
		if !r.breakers.Allow(cfg.ID) {
			tried[cfg.ID] = true
			idx++
			continue
		}

		// Rolling-minute rate gate: skip, record the audit entry, and
		// advance without consuming an attempt.
		if !r.window.Allow(cfg.ID, cfg.MaxRequestsPerMinute) {
			tried[cfg.ID] = true
			fallbacksUsed = append(fallbacksUsed, cfg.Name+" (rate limited)")
			if r.metrics != nil {
				r.metrics.RateLimitedTotal.WithLabelValues(cfg.Name).Inc()
			}
			r.publish(events.Event{Type: events.EventRateLimited, ProviderID: cfg.ID})
			idx++
			continue
		}

		// Daily budget gate: same skip semantics as the rate gate.
		ok, err := r.budget.withinBudget(ctx, cfg)
		if err != nil {
			r.logger.Warn("budget check failed, allowing provider", slog.String("error", err.Error()))
		}
		if !ok {
			tried[cfg.ID] = true
			fallbacksUsed = append(fallbacksUsed, cfg.Name+" (budget exceeded)")
			idx++
			continue
		}

		attemptReq := req
		// Inner loop: retries against the same provider. A provider counts
		// as one attempt no matter how many same-provider retries it takes,
		// which keeps len(fallbacksUsed) == attempts-1 on success.
		for {
			// Same-provider retries also consume window slots, so the gate
			// is re-checked before every record; the rolling window never
			// exceeds MaxRequestsPerMinute.
			if attemptCounts[cfg.ID] > 0 && !r.window.Allow(cfg.ID, cfg.MaxRequestsPerMinute) {
				tried[cfg.ID] = true
				fallbacksUsed = append(fallbacksUsed, cfg.Name+" (rate limited)")
				if r.metrics != nil {
					r.metrics.RateLimitedTotal.WithLabelValues(cfg.Name).Inc()
				}
				r.publish(events.Event{Type: events.EventRateLimited, ProviderID: cfg.ID})
				idx++
				break
			}
			attemptCounts[cfg.ID]++
			if attemptCounts[cfg.ID] == 1 {
				attempts++
			}
			r.window.Record(cfg.ID)

			resp, err := r.gen.Generate(ctx, cfg, attemptReq)
			if err == nil {
				r.onSuccess(ctx, cfg, req, resp, attempts, fallbacksUsed)
				return &Result{
					Provider:      cfg.Name,
					Response:      resp,
					Attempts:      attempts,
					FallbacksUsed: fallbacksUsed,
				}, nil
			}

			var pe *provider.Error
			if !errors.As(err, &pe) {
				pe = provider.Classify(err, cfg.Type)
			}
			previousErrors = append(previousErrors, pe)
			r.onFailure(ctx, cfg, attemptReq, pe)

			if attemptCounts[cfg.ID] >= maxAttemptsPerProvider {
				tried[cfg.ID] = true
				fallbacksUsed = append(fallbacksUsed, fallbackEntry(cfg.Name, pe))
				idx++
				break
			}

			decision := r.engine.HandleError(ctx, recovery.ErrorContext{
				Request:            attemptReq,
				Provider:           cfg,
				Model:              attemptModel(cfg, attemptReq),
				Attempt:            attemptCounts[cfg.ID],
				PreviousErrors:     previousErrors,
				AvailableProviders: remaining(candidates, tried, cfg.ID),
				Err:                pe,
			})

			switch decision.Action {
			case recovery.ActionRetry, recovery.ActionWaitAndRetry:
				if decision.Overrides.Model != "" {
					attemptReq.Model = decision.Overrides.Model
				}
				if decision.Overrides.MaxTokens > 0 {
					attemptReq.MaxTokens = decision.Overrides.MaxTokens
				}
				if decision.DelayMs > 0 {
					if err := r.sleep(ctx, time.Duration(decision.DelayMs)*time.Millisecond); err != nil {
						return nil, err
					}
				}
				continue

			case recovery.ActionFallback:
				tried[cfg.ID] = true
				fallbacksUsed = append(fallbacksUsed, fallbackEntry(cfg.Name, pe))
				if r.metrics != nil {
					r.metrics.FallbacksTotal.WithLabelValues(cfg.Name, string(pe.Category)).Inc()
				}
				r.publish(events.Event{
					Type:       events.EventFallback,
					ProviderID: cfg.ID,
					Category:   string(pe.Category),
					ErrorMsg:   decision.Message,
				})
				if decision.FallbackProviderID != "" {
					if j := indexOf(candidates, decision.FallbackProviderID); j >= 0 && !tried[candidates[j].ID] {
						idx = j
						break
					}
				}
				idx++

			case recovery.ActionFail:
				tried[cfg.ID] = true
				fallbacksUsed = append(fallbacksUsed, fallbackEntry(cfg.Name, pe))
				r.publish(events.Event{
					Type:       events.EventRouteError,
					ProviderID: cfg.ID,
					Category:   string(pe.Category),
					ErrorMsg:   decision.Message,
					Attempts:   attempts,
				})
				return nil, ErrAllFailed
			}
			break
		}
	}

	return nil, ErrAllFailed
}

// candidates returns the routable providers, with excluded providers removed
// and the preferred one (matched by ID or name) moved to the front.
// Equal-priority providers are ordered by recent error count so an unstable
// provider drops behind its peers.
func (r *Router) candidates(req provider.Request) []provider.Config {
	configs := r.monitor.HealthyProviders()
	if len(req.ExcludeProviders) > 0 {
		excluded := make(map[string]bool, len(req.ExcludeProviders))
		for _, e := range req.ExcludeProviders {
			excluded[e] = true
		}
		kept := configs[:0]
		for _, cfg := range configs {
			if excluded[cfg.ID] || excluded[cfg.Name] {
				continue
			}
			kept = append(kept, cfg)
		}
		configs = kept
	}
	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].Priority != configs[j].Priority {
			return configs[i].Priority < configs[j].Priority
		}
		return r.engine.RecentErrorCount(configs[i].ID, "") < r.engine.RecentErrorCount(configs[j].ID, "")
	})
	if req.PreferredProvider == "" {
		return configs
	}
	for i, cfg := range configs {
		if cfg.ID == req.PreferredProvider || cfg.Name == req.PreferredProvider {
			if i > 0 {
				reordered := make([]provider.Config, 0, len(configs))
				reordered = append(reordered, cfg)
				reordered = append(reordered, configs[:i]...)
				reordered = append(reordered, configs[i+1:]...)
				return reordered
			}
			return configs
		}
	}
	return configs
}

func (r *Router) onSuccess(ctx context.Context, cfg provider.Config, req provider.Request, resp *provider.Response, attempts int, fallbacksUsed []string) {
	r.breakers.RecordSuccess(cfg.ID)
	r.engine.ResetErrors(cfg.ID)
	r.budget.invalidate(cfg.ID)

	if r.metrics != nil {
		r.metrics.AttemptsTotal.WithLabelValues(cfg.Name, resp.Model, "success").Inc()
		r.metrics.AttemptLatency.WithLabelValues(cfg.Name, resp.Model).Observe(float64(resp.ProcessingTimeMs))
		r.metrics.CostUSD.WithLabelValues(cfg.Name, resp.Model).Add(resp.Cost)
	}
	if r.stats != nil {
		r.stats.Record(stats.Snapshot{
			ProviderID:       cfg.ID,
			Model:            resp.Model,
			LatencyMs:        float64(resp.ProcessingTimeMs),
			CostUSD:          resp.Cost,
			Success:          true,
			PromptTokens:     resp.Tokens.Prompt,
			CompletionTokens: resp.Tokens.Completion,
		})
	}
	r.publish(events.Event{
		Type:       events.EventRouteSuccess,
		ProviderID: cfg.ID,
		Model:      resp.Model,
		LatencyMs:  float64(resp.ProcessingTimeMs),
		CostUSD:    resp.Cost,
		Attempts:   attempts,
		RequestID:  resp.RequestID,
	})

	// Audit logging is best-effort and must never delay or abort routing.
	entry := store.RequestEntry{
		UserID:           req.UserID,
		ConceptID:        req.ConceptID,
		ConversationID:   req.ConversationID,
		ProviderID:       cfg.ID,
		ProviderName:     cfg.Name,
		Model:            resp.Model,
		PromptTokens:     resp.Tokens.Prompt,
		CompletionTokens: resp.Tokens.Completion,
		TotalTokens:      resp.Tokens.Total,
		CostUSD:          resp.Cost,
		LatencyMs:        resp.ProcessingTimeMs,
		Success:          true,
		Attempts:         attempts,
		FallbacksUsed:    fallbacksUsed,
		RequestID:        resp.RequestID,
	}
	go func() {
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := r.store.LogRequest(logCtx, entry); err != nil {
			r.logger.Warn("request log failed", slog.String("error", err.Error()))
		}
		if err := r.store.UpdateProviderMetrics(logCtx, cfg.ID, 1, resp.Cost); err != nil {
			r.logger.Warn("provider metrics update failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Router) onFailure(ctx context.Context, cfg provider.Config, req provider.Request, pe *provider.Error) {
	r.breakers.RecordFailure(cfg.ID)

	if r.metrics != nil {
		r.metrics.AttemptsTotal.WithLabelValues(cfg.Name, attemptModel(cfg, req), "error").Inc()
	}
	if r.stats != nil {
		r.stats.Record(stats.Snapshot{
			ProviderID: cfg.ID,
			Model:      attemptModel(cfg, req),
			Success:    false,
			Category:   string(pe.Category),
		})
	}

	entry := store.RequestEntry{
		UserID:         req.UserID,
		ConceptID:      req.ConceptID,
		ConversationID: req.ConversationID,
		ProviderID:     cfg.ID,
		ProviderName:   cfg.Name,
		Model:          attemptModel(cfg, req),
		Success:        false,
		ErrorCategory:  string(pe.Category),
		ErrorMsg:       pe.Message,
		Attempts:       1,
		RequestID:      pe.RequestID,
	}
	go func() {
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := r.store.LogRequest(logCtx, entry); err != nil {
			r.logger.Warn("request log failed", slog.String("error", err.Error()))
		}
	}()
}

// HandleFailure records an out-of-band failure for a provider: it is marked
// unhealthy immediately so routing stops selecting it, and an off-cycle probe
// is kicked off so it re-enters rotation as soon as it recovers. Unlike
// DisableProvider this does not touch the enabled flag.
func (r *Router) HandleFailure(ctx context.Context, providerID string, failure error) {
	reason := "reported failure"
	if failure != nil {
		reason = failure.Error()
	}
	r.monitor.MarkUnhealthy(providerID, reason)
	r.logger.Warn("provider failure reported",
		slog.String("provider_id", providerID),
		slog.String("reason", reason),
	)

	cfg, ok := r.monitor.Config(providerID)
	if !ok {
		return
	}
	go func() {
		checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.monitor.Check(checkCtx, cfg)
	}()
}

// DisableProvider takes a provider out of rotation after an unrecoverable
// credential failure. Implements recovery.ProviderDisabler.
func (r *Router) DisableProvider(ctx context.Context, providerID, reason string) error {
	if err := r.store.ToggleProvider(ctx, providerID, false); err != nil {
		return err
	}
	r.monitor.MarkUnhealthy(providerID, reason)
	r.publish(events.Event{
		Type:       events.EventProviderDisabled,
		ProviderID: providerID,
		Reason:     reason,
	})
	r.logger.Warn("provider disabled",
		slog.String("provider_id", providerID),
		slog.String("reason", reason),
	)
	return nil
}

// ResetProvider clears transient routing state (circuit, rate window,
// rolling error counters) after a provider's configuration changes.
func (r *Router) ResetProvider(providerID string) {
	r.breakers.Reset(providerID)
	r.window.Reset(providerID)
	r.engine.ResetErrors(providerID)
	r.budget.invalidate(providerID)
}

// ProviderHealth returns the monitor's cached statuses, annotated with
// breaker state for the health endpoint.
func (r *Router) ProviderHealth() []health.Status {
	return r.monitor.Statuses()
}

// BreakerStates exposes the circuit snapshot.
func (r *Router) BreakerStates() map[string]string {
	snap := r.breakers.Snapshot()
	out := make(map[string]string, len(snap))
	for id, st := range snap {
		out[id] = st.String()
	}
	return out
}

func (r *Router) onBreakerChange(providerID string, from, to breaker.State) {
	evType := events.EventBreakerClose
	gauge := 0.0
	if to == breaker.Open {
		evType = events.EventBreakerOpen
		gauge = 1.0
	}
	r.publish(events.Event{
		Type:       evType,
		ProviderID: providerID,
		OldState:   from.String(),
		NewState:   to.String(),
	})
	if r.metrics != nil {
		r.metrics.BreakerState.WithLabelValues(providerID).Set(gauge)
	}
	r.logger.Warn("breaker state change",
		slog.String("provider_id", providerID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

func (r *Router) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

func fallbackEntry(name string, pe *provider.Error) string {
	return fmt.Sprintf("%s (%s)", name, pe.Category)
}

func attemptModel(cfg provider.Config, req provider.Request) string {
	if req.Model != "" {
		return req.Model
	}
	if len(cfg.Models) > 0 {
		return cfg.Models[0]
	}
	return ""
}

func remaining(candidates []provider.Config, tried map[string]bool, currentID string) []provider.Config {
	out := make([]provider.Config, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == currentID || tried[c.ID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

func indexOf(candidates []provider.Config, id string) int {
	for i, c := range candidates {
		if c.ID == id {
			return i
		}
	}
	return -1
}
