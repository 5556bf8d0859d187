package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mentora-ai/mentora/internal/provider"
	"github.com/mentora-ai/mentora/internal/store"
)

const spendCacheTTL = 30 * time.Second

type cachedSpend struct {
	amount    float64
	expiresAt time.Time
}

// budgetGate enforces per-provider daily spending caps. It uses a short
// in-memory cache so the hot path does not hit the database on every
// candidate evaluation.
type budgetGate struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]cachedSpend // provider_id -> cached spend

	nowFunc func() time.Time
}

func newBudgetGate(s store.Store, now func() time.Time) *budgetGate {
	return &budgetGate{
		store:   s,
		cache:   make(map[string]cachedSpend),
		nowFunc: now,
	}
}

// withinBudget reports whether the provider is under its daily cost cap. A
// cap of zero or less means unlimited. A store error fails open: budget
// accounting must not take providers out of rotation by itself.
func (bg *budgetGate) withinBudget(ctx context.Context, cfg provider.Config) (bool, error) {
	if cfg.MaxCostPerDay <= 0 {
		return true, nil
	}
	spent, err := bg.spend(ctx, cfg.ID)
	if err != nil {
		return true, fmt.Errorf("budget check for %s: %w", cfg.Name, err)
	}
	return spent < cfg.MaxCostPerDay, nil
}

func (bg *budgetGate) spend(ctx context.Context, providerID string) (float64, error) {
	bg.mu.RLock()
	if cached, ok := bg.cache[providerID]; ok && bg.nowFunc().Before(cached.expiresAt) {
		bg.mu.RUnlock()
		return cached.amount, nil
	}
	bg.mu.RUnlock()

	spent, err := bg.store.DailySpend(ctx, providerID, bg.nowFunc())
	if err != nil {
		return 0, err
	}

	bg.mu.Lock()
	bg.cache[providerID] = cachedSpend{
		amount:    spent,
		expiresAt: bg.nowFunc().Add(spendCacheTTL),
	}
	bg.mu.Unlock()

	return spent, nil
}

// invalidate removes the cached spend for a provider. Called after a logged
// success so the next check is fresh.
func (bg *budgetGate) invalidate(providerID string) {
	bg.mu.Lock()
	delete(bg.cache, providerID)
	bg.mu.Unlock()
}
