// Package recovery decides what routing does after a classified provider
// failure: retry the same provider, wait and retry, fall back to another
// provider, or give up. Decisions come from an ordered strategy chain keyed
// on the error category, with a catch-all at the end.
package recovery

import (
	"context"

	"github.com/mentora-ai/mentora/internal/provider"
)

// Action is the verdict a strategy returns.
type Action string

const (
	ActionRetry        Action = "retry"
	ActionWaitAndRetry Action = "wait_and_retry"
	ActionFallback     Action = "fallback"
	ActionFail         Action = "fail"
)

// Overrides are field adjustments applied to the next attempt on the same
// provider. Zero values mean "keep the current value".
type Overrides struct {
	Model     string
	MaxTokens int
}

// Decision is the outcome of handling one failure.
type Decision struct {
	Action             Action
	DelayMs            int
	FallbackProviderID string
	Overrides          Overrides
	Message            string
}

// ErrorContext carries everything a strategy may inspect: the original
// request, the failing provider, the per-provider attempt number (1-based),
// errors from earlier attempts, and the remaining eligible providers
// (enabled, healthy, excluding the current one, priority ascending).
type ErrorContext struct {
	Request            provider.Request
	Provider           provider.Config
	Model              string
	Attempt            int
	PreviousErrors     []*provider.Error
	AvailableProviders []provider.Config
	Err                *provider.Error
}

// Strategy handles one slice of the error taxonomy.
type Strategy interface {
	Name() string
	Matches(category provider.ErrorCategory) bool
	Handle(ctx context.Context, ec ErrorContext) (Decision, error)
}

// ProviderDisabler is the side-effect hook the API-key strategy uses to take
// a provider with bad credentials out of rotation. The routing layer
// implements it.
type ProviderDisabler interface {
	DisableProvider(ctx context.Context, providerID, reason string) error
}
