package recovery

import (
	"context"
	"testing"

	"github.com/mentora-ai/mentora/internal/provider"
)

func testContext(category provider.ErrorCategory, attempt int, fallbacks ...provider.Config) ErrorContext {
	return ErrorContext{
		Request:  provider.Request{MaxTokens: 4000},
		Provider: provider.Config{ID: "p1", Name: "Primary", Type: provider.TypeOpenAI, Models: []string{"gpt-4o", "gpt-4o-mini"}},
		Model:    "gpt-4o",
		Attempt:  attempt,
		Err: &provider.Error{
			Category:     category,
			ProviderType: provider.TypeOpenAI,
			Message:      "boom",
		},
		AvailableProviders: fallbacks,
	}
}

func TestRateLimit_HonorsRetryAfter(t *testing.T) {
	ec := testContext(provider.CategoryRateLimit, 1)
	ec.Err.RetryAfterSeconds = 30

	d, err := rateLimitStrategy{}.Handle(context.Background(), ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionWaitAndRetry {
		t.Fatalf("expected wait_and_retry, got %s", d.Action)
	}
	if d.DelayMs != 30000 {
		t.Fatalf("expected DelayMs 30000, got %d", d.DelayMs)
	}
}

func TestRateLimit_BackoffWithoutRetryAfter(t *testing.T) {
	ec := testContext(provider.CategoryRateLimit, 2)

	d, err := rateLimitStrategy{}.Handle(context.Background(), ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionWaitAndRetry {
		t.Fatalf("expected wait_and_retry, got %s", d.Action)
	}
	if d.DelayMs < 2000 || d.DelayMs > 2200 {
		t.Fatalf("expected backoff around 2000ms, got %d", d.DelayMs)
	}
}

func TestRateLimit_LongWaitPrefersFallback(t *testing.T) {
	fb := provider.Config{ID: "p2", Name: "Backup"}
	ec := testContext(provider.CategoryRateLimit, 1, fb)
	ec.Err.RetryAfterSeconds = 120 // 120000ms > 60000ms threshold

	d, err := rateLimitStrategy{}.Handle(context.Background(), ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionFallback {
		t.Fatalf("expected fallback for long wait, got %s", d.Action)
	}
	if d.FallbackProviderID != "p2" {
		t.Fatalf("expected fallback to p2, got %s", d.FallbackProviderID)
	}
}

func TestRateLimit_LongWaitNoFallbackStillWaits(t *testing.T) {
	ec := testContext(provider.CategoryRateLimit, 1)
	ec.Err.RetryAfterSeconds = 120

	d, _ := rateLimitStrategy{}.Handle(context.Background(), ec)
	if d.Action != ActionWaitAndRetry {
		t.Fatalf("expected wait_and_retry when no fallback exists, got %s", d.Action)
	}
	if d.DelayMs != 120000 {
		t.Fatalf("expected DelayMs 120000, got %d", d.DelayMs)
	}
}

type fakeDisabler struct {
	calls []string
	err   error
}

func (f *fakeDisabler) DisableProvider(_ context.Context, providerID, _ string) error {
	f.calls = append(f.calls, providerID)
	return f.err
}

func TestAPIKey_DisablesAndFallsBack(t *testing.T) {
	dis := &fakeDisabler{}
	s := apiKeyStrategy{disabler: dis, logger: discardLogger()}

	fb := provider.Config{ID: "p2", Name: "Backup"}
	d, err := s.Handle(context.Background(), testContext(provider.CategoryAPIKeyInvalid, 1, fb))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dis.calls) != 1 || dis.calls[0] != "p1" {
		t.Fatalf("expected p1 to be disabled, got %v", dis.calls)
	}
	if d.Action != ActionFallback || d.FallbackProviderID != "p2" {
		t.Fatalf("expected fallback to p2, got %s/%s", d.Action, d.FallbackProviderID)
	}
}

func TestAPIKey_FailsWithoutFallback(t *testing.T) {
	dis := &fakeDisabler{}
	s := apiKeyStrategy{disabler: dis, logger: discardLogger()}

	d, _ := s.Handle(context.Background(), testContext(provider.CategoryAPIKeyInvalid, 1))
	if d.Action != ActionFail {
		t.Fatalf("expected fail, got %s", d.Action)
	}
	if len(dis.calls) != 1 {
		t.Fatal("provider should be disabled even when failing")
	}
}

func TestModelUnavailable_TriesAnotherModel(t *testing.T) {
	d, err := modelUnavailableStrategy{}.Handle(context.Background(), testContext(provider.CategoryModelUnavailable, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionRetry {
		t.Fatalf("expected retry, got %s", d.Action)
	}
	if d.Overrides.Model != "gpt-4o-mini" {
		t.Fatalf("expected override to gpt-4o-mini, got %q", d.Overrides.Model)
	}
}

func TestModelUnavailable_SingleModelFallsBack(t *testing.T) {
	fb := provider.Config{ID: "p2", Name: "Backup"}
	ec := testContext(provider.CategoryModelUnavailable, 1, fb)
	ec.Provider.Models = []string{"gpt-4o"}

	d, _ := modelUnavailableStrategy{}.Handle(context.Background(), ec)
	if d.Action != ActionFallback || d.FallbackProviderID != "p2" {
		t.Fatalf("expected fallback to p2, got %s/%s", d.Action, d.FallbackProviderID)
	}
}

func TestModelUnavailable_NothingLeftFails(t *testing.T) {
	ec := testContext(provider.CategoryModelUnavailable, 1)
	ec.Provider.Models = []string{"gpt-4o"}

	d, _ := modelUnavailableStrategy{}.Handle(context.Background(), ec)
	if d.Action != ActionFail {
		t.Fatalf("expected fail, got %s", d.Action)
	}
}

func TestTimeout_FirstAttemptHalvesTokens(t *testing.T) {
	d, err := timeoutStrategy{}.Handle(context.Background(), testContext(provider.CategoryTimeout, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionRetry {
		t.Fatalf("expected retry, got %s", d.Action)
	}
	if d.Overrides.MaxTokens != 2000 {
		t.Fatalf("expected MaxTokens halved to 2000, got %d", d.Overrides.MaxTokens)
	}
	if d.DelayMs < 1000 {
		t.Fatalf("expected backoff delay, got %d", d.DelayMs)
	}
}

func TestTimeout_NoMaxTokensNoOverride(t *testing.T) {
	ec := testContext(provider.CategoryTimeout, 1)
	ec.Request.MaxTokens = 0

	d, _ := timeoutStrategy{}.Handle(context.Background(), ec)
	if d.Overrides.MaxTokens != 0 {
		t.Fatalf("expected no token override, got %d", d.Overrides.MaxTokens)
	}
}

func TestTimeout_SecondAttemptFallsBack(t *testing.T) {
	fb := provider.Config{ID: "p2", Name: "Backup"}
	d, _ := timeoutStrategy{}.Handle(context.Background(), testContext(provider.CategoryTimeout, 2, fb))
	if d.Action != ActionFallback || d.FallbackProviderID != "p2" {
		t.Fatalf("expected fallback to p2, got %s/%s", d.Action, d.FallbackProviderID)
	}
}

func TestNetwork_RetriesUpToThree(t *testing.T) {
	for attempt := 1; attempt <= 2; attempt++ {
		d, _ := networkStrategy{}.Handle(context.Background(), testContext(provider.CategoryNetworkError, attempt))
		if d.Action != ActionWaitAndRetry {
			t.Fatalf("attempt %d: expected wait_and_retry, got %s", attempt, d.Action)
		}
	}

	fb := provider.Config{ID: "p2", Name: "Backup"}
	d, _ := networkStrategy{}.Handle(context.Background(), testContext(provider.CategoryNetworkError, 3, fb))
	if d.Action != ActionFallback {
		t.Fatalf("attempt 3: expected fallback, got %s", d.Action)
	}
}

func TestCatchAll_MatchesEverything(t *testing.T) {
	categories := []provider.ErrorCategory{
		provider.CategoryRateLimit,
		provider.CategoryAPIKeyInvalid,
		provider.CategoryModelUnavailable,
		provider.CategoryTimeout,
		provider.CategoryNetworkError,
		provider.CategoryUnknown,
	}
	for _, c := range categories {
		if !(catchAllStrategy{}).Matches(c) {
			t.Errorf("catch-all should match %s", c)
		}
	}
}

func TestCatchAll_RetryThenFallbackThenFail(t *testing.T) {
	d, _ := catchAllStrategy{}.Handle(context.Background(), testContext(provider.CategoryUnknown, 1))
	if d.Action != ActionWaitAndRetry {
		t.Fatalf("attempt 1: expected wait_and_retry, got %s", d.Action)
	}

	fb := provider.Config{ID: "p2", Name: "Backup"}
	d, _ = catchAllStrategy{}.Handle(context.Background(), testContext(provider.CategoryUnknown, 2, fb))
	if d.Action != ActionFallback {
		t.Fatalf("attempt 2 with fallback: expected fallback, got %s", d.Action)
	}

	d, _ = catchAllStrategy{}.Handle(context.Background(), testContext(provider.CategoryUnknown, 2))
	if d.Action != ActionFail {
		t.Fatalf("attempt 2 without fallback: expected fail, got %s", d.Action)
	}
}
