// Package store persists provider configurations, request logs, and gateway
// API keys. The SQLite implementation is the only one; the interface exists
// so routing and HTTP handlers can be tested against fakes.
package store

import (
	"context"
	"time"

	"github.com/mentora-ai/mentora/internal/provider"
)

// RequestEntry is one routed request's audit record.
type RequestEntry struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	UserID           string    `json:"user_id,omitempty"`
	ConceptID        string    `json:"concept_id,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	ProviderID       string    `json:"provider_id"`
	ProviderName     string    `json:"provider_name"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	LatencyMs        int64     `json:"latency_ms"`
	Success          bool      `json:"success"`
	ErrorCategory    string    `json:"error_category,omitempty"`
	ErrorMsg         string    `json:"error_msg,omitempty"`
	Attempts         int       `json:"attempts"`
	FallbacksUsed    []string  `json:"fallbacks_used,omitempty"`
	RequestID        string    `json:"request_id,omitempty"`
}

// ProviderPatch is a partial provider update; nil fields are left unchanged.
type ProviderPatch struct {
	Name                  *string
	Enabled               *bool
	Priority              *int
	Models                *[]string
	APIKey                *string
	BaseURL               *string
	MaxRequestsPerMinute  *int
	MaxCostPerDay         *float64
	HealthCheckIntervalMs *int
	TimeoutMs             *int
}

// APIKeyRecord is a gateway API key (bcrypt hash only, never the raw key).
type APIKeyRecord struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Enabled    bool       `json:"enabled"`
}

// Store is the persistence surface.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	// Providers
	ListProviders(ctx context.Context) ([]provider.Config, error)
	ListEnabledProviders(ctx context.Context) ([]provider.Config, error)
	GetProvider(ctx context.Context, id string) (*provider.Config, error)
	UpsertProvider(ctx context.Context, cfg provider.Config) error
	UpdateProvider(ctx context.Context, id string, patch ProviderPatch) (*provider.Config, error)
	ToggleProvider(ctx context.Context, id string, enabled bool) error
	DeleteProvider(ctx context.Context, id string) error
	// UpdateProviderMetrics adds to a provider's lifetime request and cost
	// counters after a successful route.
	UpdateProviderMetrics(ctx context.Context, id string, requestDelta int, costDelta float64) error

	// Request logs
	LogRequest(ctx context.Context, entry RequestEntry) (string, error)
	ListRequestLogs(ctx context.Context, limit, offset int) ([]RequestEntry, error)
	DailySpend(ctx context.Context, providerID string, day time.Time) (float64, error)

	// Gateway API keys
	CreateAPIKey(ctx context.Context, key APIKeyRecord) error
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error)
	ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error)
	UpdateAPIKey(ctx context.Context, key APIKeyRecord) error
	DeleteAPIKey(ctx context.Context, id string) error
}
