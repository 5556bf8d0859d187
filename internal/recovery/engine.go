package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mentora-ai/mentora/internal/provider"
)

// counterWindow bounds the rolling error counters; entries older than this
// are pruned on read.
const counterWindow = time.Hour

// unstableThreshold is how many errors inside the window mark a provider
// unstable for reporting purposes.
const unstableThreshold = 10

// Engine runs failures through the ordered strategy chain and tracks
// per-provider error frequency.
type Engine struct {
	strategies []Strategy
	logger     *slog.Logger

	mu     sync.Mutex
	errors map[string][]errorRecord // keyed by provider ID

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

type errorRecord struct {
	at       time.Time
	category provider.ErrorCategory
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.nowFunc = now }
}

// WithStrategies replaces the built-in chain. The last strategy should match
// every category.
func WithStrategies(ss ...Strategy) EngineOption {
	return func(e *Engine) { e.strategies = ss }
}

// NewEngine builds an Engine with the default strategy chain. The disabler
// may be nil, in which case API-key failures skip the disable side effect.
func NewEngine(disabler ProviderDisabler, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:  slog.Default(),
		errors:  make(map[string][]errorRecord),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.strategies == nil {
		e.strategies = []Strategy{
			rateLimitStrategy{},
			apiKeyStrategy{disabler: disabler, logger: e.logger},
			modelUnavailableStrategy{},
			timeoutStrategy{},
			networkStrategy{},
			catchAllStrategy{},
		}
	}
	return e
}

// HandleError records the failure and walks the chain until a strategy
// matches and handles it. A strategy that itself errors is skipped; the
// catch-all guarantees a verdict.
func (e *Engine) HandleError(ctx context.Context, ec ErrorContext) Decision {
	e.record(ec.Provider.ID, ec.Err.Category)

	for _, s := range e.strategies {
		if !s.Matches(ec.Err.Category) {
			continue
		}
		d, err := s.Handle(ctx, ec)
		if err != nil {
			e.logger.Warn("recovery strategy failed, trying next",
				slog.String("strategy", s.Name()),
				slog.String("provider", ec.Provider.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.logger.Info("recovery decision",
			slog.String("strategy", s.Name()),
			slog.String("provider", ec.Provider.Name),
			slog.String("category", string(ec.Err.Category)),
			slog.String("action", string(d.Action)),
			slog.Int("attempt", ec.Attempt),
		)
		return d
	}

	// Unreachable while the catch-all is in the chain, but a custom chain
	// might not include one.
	return Decision{Action: ActionFail, Message: "no recovery strategy matched"}
}

// RecentErrorCount returns how many errors the provider accumulated inside
// the rolling window, optionally filtered by category (empty matches all).
func (e *Engine) RecentErrorCount(providerID string, category provider.ErrorCategory) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	records := e.pruneLocked(providerID)
	if category == "" {
		return len(records)
	}
	n := 0
	for _, r := range records {
		if r.category == category {
			n++
		}
	}
	return n
}

// IsProviderUnstable reports whether the provider's recent error count
// crossed the given threshold. A threshold of zero or less falls back to the
// default.
func (e *Engine) IsProviderUnstable(providerID string, threshold int) bool {
	if threshold <= 0 {
		threshold = unstableThreshold
	}
	return e.RecentErrorCount(providerID, "") >= threshold
}

// ResetErrors clears the rolling counters for a provider.
func (e *Engine) ResetErrors(providerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.errors, providerID)
}

func (e *Engine) record(providerID string, category provider.ErrorCategory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[providerID] = append(e.pruneLocked(providerID), errorRecord{
		at:       e.nowFunc(),
		category: category,
	})
}

// pruneLocked drops records older than the window. Caller must hold e.mu.
func (e *Engine) pruneLocked(providerID string) []errorRecord {
	cutoff := e.nowFunc().Add(-counterWindow)
	records := e.errors[providerID]
	i := 0
	for i < len(records) && records[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		records = records[i:]
		if len(records) == 0 {
			delete(e.errors, providerID)
			return nil
		}
		e.errors[providerID] = records
	}
	return records
}
