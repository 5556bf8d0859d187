// Package provider defines the provider-agnostic envelope for AI generation
// requests and the adapter contract that each vendor backend implements.
package provider

import (
	"context"
	"time"
)

// Type identifies a vendor backend.
type Type string

const (
	TypeOpenAI     Type = "openai"
	TypeAnthropic  Type = "anthropic"
	TypeGoogle     Type = "google"
	TypeMistral    Type = "mistral"
	TypeOllama     Type = "ollama"
	TypeGroq       Type = "groq"
	TypePerplexity Type = "perplexity"
)

// IsLocal reports whether the provider type is self-hosted. Local providers
// issue direct HTTP calls and never incur per-token cost.
func (t Type) IsLocal() bool {
	return t == TypeOllama
}

// Valid reports whether the type names a known vendor backend.
func (t Type) Valid() bool {
	switch t {
	case TypeOpenAI, TypeAnthropic, TypeGoogle, TypeMistral, TypeOllama, TypeGroq, TypePerplexity:
		return true
	}
	return false
}

// Credentials holds the vendor access material for one configured provider.
type Credentials struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"` // overrides the vendor default endpoint
}

// Config is one configured provider backend. Configs are owned by the config
// store; the routing core treats them as read-only.
type Config struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Type                  Type        `json:"type"`
	Enabled               bool        `json:"enabled"`
	Priority              int         `json:"priority"` // ascending = preferred
	Models                []string    `json:"models"`
	Credentials           Credentials `json:"credentials"`
	MaxRequestsPerMinute  int         `json:"max_requests_per_minute"`
	MaxCostPerDay         float64     `json:"max_cost_per_day"`
	HealthCheckIntervalMs int         `json:"health_check_interval_ms"`
	TimeoutMs             int         `json:"timeout_ms"`
}

// HealthCheckInterval returns the probe interval, defaulting to 60s.
func (c Config) HealthCheckInterval() time.Duration {
	if c.HealthCheckIntervalMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond
}

// Timeout returns the per-call deadline, defaulting to 30s.
func (c Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the caller-facing generation request. It is immutable within one
// routing pass except for recovery-applied field overrides (Model, MaxTokens).
type Request struct {
	UserID            string    `json:"user_id"`
	ConceptID         string    `json:"concept_id,omitempty"`
	ConversationID    string    `json:"conversation_id,omitempty"`
	Messages          []Message `json:"messages"`
	SystemPrompt      string    `json:"system_prompt,omitempty"`
	MaxTokens         int       `json:"max_tokens,omitempty"`
	Temperature       float64   `json:"temperature,omitempty"`
	PreferredProvider string    `json:"preferred_provider,omitempty"`
	ExcludeProviders  []string  `json:"exclude_providers,omitempty"` // provider IDs or names to skip
	Model             string    `json:"model,omitempty"`
}

// TokenUsage reports prompt/completion token counts for one attempt.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Response is a successful generation result.
type Response struct {
	Content          string     `json:"content"`
	Provider         string     `json:"provider"`
	Model            string     `json:"model"`
	Tokens           TokenUsage `json:"tokens"`
	Cost             float64    `json:"cost"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	RequestID        string     `json:"request_id"`
}

// GenerateInput is the normalized payload handed to a vendor adapter. The
// system prompt has already been folded into Messages by the factory.
type GenerateInput struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// GenerateOutput is the normalized vendor reply.
type GenerateOutput struct {
	Text  string
	Usage TokenUsage
}

// ProbeResult is the outcome of a successful health probe.
type ProbeResult struct {
	LatencyMs float64
	Models    []string
}

// Adapter normalizes one vendor's call convention. Implementations live in
// the vendor subpackages; callers depend only on this interface.
type Adapter interface {
	Generate(ctx context.Context, model string, in GenerateInput) (GenerateOutput, error)
	// Probe performs a lightweight capability check (model listing or
	// equivalent) and returns the models the backend reports, if any.
	Probe(ctx context.Context) (ProbeResult, error)
}
