// Package factory builds and caches vendor adapters and exposes the
// uniform Generate/Probe surface the router and health monitor consume.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mentora-ai/mentora/internal/provider"
	"github.com/mentora-ai/mentora/internal/provider/anthropic"
	"github.com/mentora-ai/mentora/internal/provider/google"
	"github.com/mentora-ai/mentora/internal/provider/ollama"
	"github.com/mentora-ai/mentora/internal/provider/openai"
)

// defaultBaseURLs maps provider types to their public API endpoints. A
// configured BaseURL always wins.
var defaultBaseURLs = map[provider.Type]string{
	provider.TypeOpenAI:     "https://api.openai.com",
	provider.TypeAnthropic:  "https://api.anthropic.com",
	provider.TypeGoogle:     "https://generativelanguage.googleapis.com",
	provider.TypeMistral:    "https://api.mistral.ai",
	provider.TypeGroq:       "https://api.groq.com/openai",
	provider.TypePerplexity: "https://api.perplexity.ai",
	provider.TypeOllama:     "http://localhost:11434",
}

// Factory creates adapters per provider config and runs attempts against
// them, normalizing failures into classified errors.
type Factory struct {
	transport http.RoundTripper
	logger    *slog.Logger
	nowFunc   func() time.Time

	mu       sync.Mutex
	adapters map[string]provider.Adapter // keyed by config ID
}

// Option configures the Factory.
type Option func(*Factory)

// WithTransport sets the HTTP transport used by all adapters (tracing,
// test doubles).
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Factory) { f.transport = rt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// New creates a Factory.
func New(opts ...Option) *Factory {
	f := &Factory{
		logger:   slog.Default(),
		nowFunc:  time.Now,
		adapters: make(map[string]provider.Adapter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Generate runs a single attempt against the configured provider. Every
// failure comes back as a classified *provider.Error carrying the attempt's
// request ID.
func (f *Factory) Generate(ctx context.Context, cfg provider.Config, req provider.Request) (*provider.Response, error) {
	requestID := uuid.NewString()

	if len(cfg.Models) == 0 && req.Model == "" {
		return nil, &provider.Error{
			Category:     provider.CategoryModelUnavailable,
			Message:      "provider has no models configured",
			ProviderType: cfg.Type,
			RequestID:    requestID,
		}
	}

	adapter, err := f.adapter(cfg)
	if err != nil {
		return nil, &provider.Error{
			Category:     provider.CategoryUnknown,
			Message:      err.Error(),
			ProviderType: cfg.Type,
			RequestID:    requestID,
		}
	}

	model := req.Model
	if model == "" {
		model = cfg.Models[0]
	}

	messages := req.Messages
	if req.SystemPrompt != "" {
		messages = append([]provider.Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	ctx = provider.WithRequestID(ctx, requestID)

	start := f.nowFunc()
	out, err := adapter.Generate(ctx, model, provider.GenerateInput{
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	elapsed := f.nowFunc().Sub(start)

	if err != nil {
		pe := provider.Classify(err, cfg.Type)
		pe.RequestID = requestID
		f.logger.Warn("provider attempt failed",
			"provider", cfg.Name,
			"model", model,
			"category", string(pe.Category),
			"request_id", requestID,
			"elapsed_ms", elapsed.Milliseconds(),
		)
		return nil, pe
	}

	return &provider.Response{
		Content:          out.Text,
		Provider:         cfg.Name,
		Model:            model,
		Tokens:           out.Usage,
		Cost:             provider.CostUSD(cfg.Type, model, out.Usage.Total),
		ProcessingTimeMs: elapsed.Milliseconds(),
		RequestID:        requestID,
	}, nil
}

// Probe checks provider reachability. It implements the health monitor's
// Prober interface.
func (f *Factory) Probe(ctx context.Context, cfg provider.Config) (provider.ProbeResult, error) {
	adapter, err := f.adapter(cfg)
	if err != nil {
		return provider.ProbeResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	return adapter.Probe(ctx)
}

// Invalidate drops the cached adapter for a provider. Called after config
// updates so the next attempt rebuilds with fresh credentials.
func (f *Factory) Invalidate(providerID string) {
	f.mu.Lock()
	delete(f.adapters, providerID)
	f.mu.Unlock()
}

func (f *Factory) adapter(cfg provider.Config) (provider.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a, ok := f.adapters[cfg.ID]; ok {
		return a, nil
	}

	baseURL := cfg.Credentials.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[cfg.Type]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no base URL for provider type %q", cfg.Type)
	}
	if !cfg.Type.IsLocal() && cfg.Credentials.APIKey == "" {
		return nil, fmt.Errorf("provider %s has no API key configured", cfg.Name)
	}

	client := &http.Client{}
	if f.transport != nil {
		client.Transport = f.transport
	}

	var a provider.Adapter
	switch cfg.Type {
	case provider.TypeOpenAI, provider.TypeGroq, provider.TypeMistral, provider.TypePerplexity:
		a = openai.New(cfg.Credentials.APIKey, baseURL, openai.WithHTTPClient(client))
	case provider.TypeAnthropic:
		a = anthropic.New(cfg.Credentials.APIKey, baseURL, anthropic.WithHTTPClient(client))
	case provider.TypeGoogle:
		a = google.New(cfg.Credentials.APIKey, baseURL, google.WithHTTPClient(client))
	case provider.TypeOllama:
		a = ollama.New(baseURL, ollama.WithHTTPClient(client))
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}

	f.adapters[cfg.ID] = a
	return a, nil
}
