package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mentora-ai/mentora/internal/provider"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleError_DefaultChainDispatch(t *testing.T) {
	e := NewEngine(nil, WithLogger(discardLogger()))

	d := e.HandleError(context.Background(), testContext(provider.CategoryRateLimit, 1))
	if d.Action != ActionWaitAndRetry {
		t.Fatalf("rate limit should wait_and_retry, got %s", d.Action)
	}

	d = e.HandleError(context.Background(), testContext(provider.CategoryModelUnavailable, 1))
	if d.Action != ActionRetry {
		t.Fatalf("model unavailable should retry with another model, got %s", d.Action)
	}

	d = e.HandleError(context.Background(), testContext(provider.CategoryUnknown, 1))
	if d.Action != ActionWaitAndRetry {
		t.Fatalf("unknown should fall through to catch-all, got %s", d.Action)
	}
}

type erroringStrategy struct{}

func (erroringStrategy) Name() string                        { return "broken" }
func (erroringStrategy) Matches(provider.ErrorCategory) bool { return true }
func (erroringStrategy) Handle(context.Context, ErrorContext) (Decision, error) {
	return Decision{}, errors.New("strategy blew up")
}

func TestHandleError_SkipsFailingStrategy(t *testing.T) {
	e := NewEngine(nil,
		WithLogger(discardLogger()),
		WithStrategies(erroringStrategy{}, catchAllStrategy{}),
	)

	d := e.HandleError(context.Background(), testContext(provider.CategoryUnknown, 1))
	if d.Action != ActionWaitAndRetry {
		t.Fatalf("expected catch-all verdict after failing strategy, got %s", d.Action)
	}
}

func TestHandleError_NoMatchFails(t *testing.T) {
	e := NewEngine(nil,
		WithLogger(discardLogger()),
		WithStrategies(rateLimitStrategy{}),
	)

	d := e.HandleError(context.Background(), testContext(provider.CategoryTimeout, 1))
	if d.Action != ActionFail {
		t.Fatalf("expected fail with no matching strategy, got %s", d.Action)
	}
}

func TestRecentErrorCount(t *testing.T) {
	e := NewEngine(nil, WithLogger(discardLogger()))

	e.HandleError(context.Background(), testContext(provider.CategoryRateLimit, 1))
	e.HandleError(context.Background(), testContext(provider.CategoryRateLimit, 2))
	e.HandleError(context.Background(), testContext(provider.CategoryTimeout, 1))

	if n := e.RecentErrorCount("p1", ""); n != 3 {
		t.Fatalf("expected 3 total errors, got %d", n)
	}
	if n := e.RecentErrorCount("p1", provider.CategoryRateLimit); n != 2 {
		t.Fatalf("expected 2 rate limit errors, got %d", n)
	}
	if n := e.RecentErrorCount("p2", ""); n != 0 {
		t.Fatalf("expected 0 errors for p2, got %d", n)
	}
}

func TestRecentErrorCount_PrunesOldRecords(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil, WithLogger(discardLogger()), WithClock(func() time.Time { return now }))

	e.HandleError(context.Background(), testContext(provider.CategoryNetworkError, 1))

	now = now.Add(counterWindow + time.Minute)
	if n := e.RecentErrorCount("p1", ""); n != 0 {
		t.Fatalf("expected old records pruned, got %d", n)
	}
}

func TestIsProviderUnstable(t *testing.T) {
	e := NewEngine(nil, WithLogger(discardLogger()))

	for i := 0; i < unstableThreshold-1; i++ {
		e.HandleError(context.Background(), testContext(provider.CategoryNetworkError, 1))
	}
	if e.IsProviderUnstable("p1", 0) {
		t.Fatal("should not be unstable below default threshold")
	}
	if !e.IsProviderUnstable("p1", 3) {
		t.Fatal("should be unstable past a custom threshold")
	}
	e.HandleError(context.Background(), testContext(provider.CategoryNetworkError, 1))
	if !e.IsProviderUnstable("p1", 0) {
		t.Fatal("should be unstable at default threshold")
	}

	e.ResetErrors("p1")
	if e.IsProviderUnstable("p1", 0) {
		t.Fatal("reset should clear instability")
	}
}
