package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mentora-ai/mentora/internal/provider"
)

// maxWaitMs is the longest the rate-limit strategy will ask a request to
// wait before preferring a fallback provider instead.
const maxWaitMs = 60000

// rateLimitStrategy honors Retry-After when the vendor supplies one and
// backs off exponentially otherwise, falling back when the wait would be
// unreasonably long.
type rateLimitStrategy struct{}

func (rateLimitStrategy) Name() string { return "rate_limit" }

func (rateLimitStrategy) Matches(c provider.ErrorCategory) bool {
	return c == provider.CategoryRateLimit
}

func (rateLimitStrategy) Handle(_ context.Context, ec ErrorContext) (Decision, error) {
	delayMs := Backoff(ec.Attempt)
	if ec.Err.RetryAfterSeconds > 0 {
		delayMs = ec.Err.RetryAfterSeconds * 1000
	}
	if delayMs > maxWaitMs && len(ec.AvailableProviders) > 0 {
		fb := ec.AvailableProviders[0]
		return Decision{
			Action:             ActionFallback,
			FallbackProviderID: fb.ID,
			Message:            fmt.Sprintf("%s rate limited for %dms, falling back to %s", ec.Provider.Name, delayMs, fb.Name),
		}, nil
	}
	return Decision{
		Action:  ActionWaitAndRetry,
		DelayMs: delayMs,
		Message: fmt.Sprintf("%s rate limited, retrying in %dms", ec.Provider.Name, delayMs),
	}, nil
}

// apiKeyStrategy disables the offending provider (retrying bad credentials
// cannot succeed) and moves on.
type apiKeyStrategy struct {
	disabler ProviderDisabler
	logger   *slog.Logger
}

func (apiKeyStrategy) Name() string { return "api_key" }

func (apiKeyStrategy) Matches(c provider.ErrorCategory) bool {
	return c == provider.CategoryAPIKeyInvalid
}

func (s apiKeyStrategy) Handle(ctx context.Context, ec ErrorContext) (Decision, error) {
	if s.disabler != nil {
		if err := s.disabler.DisableProvider(ctx, ec.Provider.ID, "invalid API key"); err != nil {
			s.logger.Error("failed to disable provider with invalid key",
				slog.String("provider", ec.Provider.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(ec.AvailableProviders) == 0 {
		return Decision{
			Action:  ActionFail,
			Message: fmt.Sprintf("%s has an invalid API key and no fallback is available", ec.Provider.Name),
		}, nil
	}
	fb := ec.AvailableProviders[0]
	return Decision{
		Action:             ActionFallback,
		FallbackProviderID: fb.ID,
		Message:            fmt.Sprintf("%s disabled (invalid API key), falling back to %s", ec.Provider.Name, fb.Name),
	}, nil
}

// modelUnavailableStrategy retries with a different model on the same
// provider before giving up on it.
type modelUnavailableStrategy struct{}

func (modelUnavailableStrategy) Name() string { return "model_unavailable" }

func (modelUnavailableStrategy) Matches(c provider.ErrorCategory) bool {
	return c == provider.CategoryModelUnavailable
}

func (modelUnavailableStrategy) Handle(_ context.Context, ec ErrorContext) (Decision, error) {
	for _, m := range ec.Provider.Models {
		if m != ec.Model {
			return Decision{
				Action:    ActionRetry,
				Overrides: Overrides{Model: m},
				Message:   fmt.Sprintf("model %s unavailable on %s, retrying with %s", ec.Model, ec.Provider.Name, m),
			}, nil
		}
	}
	if len(ec.AvailableProviders) == 0 {
		return Decision{
			Action:  ActionFail,
			Message: fmt.Sprintf("no model available on %s and no fallback provider", ec.Provider.Name),
		}, nil
	}
	fb := ec.AvailableProviders[0]
	return Decision{
		Action:             ActionFallback,
		FallbackProviderID: fb.ID,
		Message:            fmt.Sprintf("no usable model on %s, falling back to %s", ec.Provider.Name, fb.Name),
	}, nil
}

// timeoutStrategy retries once with a smaller response budget, on the theory
// that long generations are what blew the deadline.
type timeoutStrategy struct{}

func (timeoutStrategy) Name() string { return "timeout" }

func (timeoutStrategy) Matches(c provider.ErrorCategory) bool {
	return c == provider.CategoryTimeout
}

func (timeoutStrategy) Handle(_ context.Context, ec ErrorContext) (Decision, error) {
	if ec.Attempt < 2 {
		d := Decision{
			Action:  ActionRetry,
			DelayMs: Backoff(ec.Attempt),
			Message: fmt.Sprintf("%s timed out, retrying with reduced max tokens", ec.Provider.Name),
		}
		if ec.Request.MaxTokens > 0 {
			d.Overrides.MaxTokens = ec.Request.MaxTokens / 2
		}
		return d, nil
	}
	if len(ec.AvailableProviders) == 0 {
		return Decision{
			Action:  ActionFail,
			Message: fmt.Sprintf("%s keeps timing out and no fallback is available", ec.Provider.Name),
		}, nil
	}
	fb := ec.AvailableProviders[0]
	return Decision{
		Action:             ActionFallback,
		FallbackProviderID: fb.ID,
		Message:            fmt.Sprintf("%s keeps timing out, falling back to %s", ec.Provider.Name, fb.Name),
	}, nil
}

// networkStrategy allows more retries than the others since transient
// connectivity blips usually clear quickly.
type networkStrategy struct{}

func (networkStrategy) Name() string { return "network" }

func (networkStrategy) Matches(c provider.ErrorCategory) bool {
	return c == provider.CategoryNetworkError
}

func (networkStrategy) Handle(_ context.Context, ec ErrorContext) (Decision, error) {
	if ec.Attempt < 3 {
		delayMs := Backoff(ec.Attempt)
		return Decision{
			Action:  ActionWaitAndRetry,
			DelayMs: delayMs,
			Message: fmt.Sprintf("network error reaching %s, retrying in %dms", ec.Provider.Name, delayMs),
		}, nil
	}
	if len(ec.AvailableProviders) == 0 {
		return Decision{
			Action:  ActionFail,
			Message: fmt.Sprintf("cannot reach %s and no fallback is available", ec.Provider.Name),
		}, nil
	}
	fb := ec.AvailableProviders[0]
	return Decision{
		Action:             ActionFallback,
		FallbackProviderID: fb.ID,
		Message:            fmt.Sprintf("cannot reach %s, falling back to %s", ec.Provider.Name, fb.Name),
	}, nil
}

// catchAllStrategy matches everything. It must be last in the chain and may
// never return an error, so handleError always has a verdict.
type catchAllStrategy struct{}

func (catchAllStrategy) Name() string { return "catch_all" }

func (catchAllStrategy) Matches(provider.ErrorCategory) bool { return true }

func (catchAllStrategy) Handle(_ context.Context, ec ErrorContext) (Decision, error) {
	if ec.Attempt < 2 {
		delayMs := Backoff(ec.Attempt)
		return Decision{
			Action:  ActionWaitAndRetry,
			DelayMs: delayMs,
			Message: fmt.Sprintf("unexpected error from %s, retrying in %dms", ec.Provider.Name, delayMs),
		}, nil
	}
	if len(ec.AvailableProviders) == 0 {
		return Decision{
			Action:  ActionFail,
			Message: fmt.Sprintf("%s failed repeatedly and no fallback is available", ec.Provider.Name),
		}, nil
	}
	fb := ec.AvailableProviders[0]
	return Decision{
		Action:             ActionFallback,
		FallbackProviderID: fb.ID,
		Message:            fmt.Sprintf("%s failed repeatedly, falling back to %s", ec.Provider.Name, fb.Name),
	}, nil
}
