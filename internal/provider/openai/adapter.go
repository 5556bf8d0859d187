// Package openai implements the provider adapter for the OpenAI
// chat-completions API and any vendor exposing a compatible surface
// (Groq, Mistral, Perplexity).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mentora-ai/mentora/internal/provider"
)

// Adapter talks to an OpenAI-compatible chat-completions endpoint.
type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the HTTP client (used for tracing transports
// and tests).
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// New creates an OpenAI-compatible adapter for the given base URL.
func New(apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate sends a chat-completion request and returns the first choice.
func (a *Adapter) Generate(ctx context.Context, model string, in provider.GenerateInput) (provider.GenerateOutput, error) {
	payload := chatRequest{
		Model:    model,
		Messages: in.Messages,
	}
	if in.MaxTokens > 0 {
		payload.MaxTokens = in.MaxTokens
	}
	if in.Temperature > 0 {
		payload.Temperature = in.Temperature
	}

	body, err := provider.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", payload, a.authHeaders())
	if err != nil {
		return provider.GenerateOutput{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.GenerateOutput{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return provider.GenerateOutput{}, errors.New("response contained no choices")
	}

	return provider.GenerateOutput{
		Text: parsed.Choices[0].Message.Content,
		Usage: provider.TokenUsage{
			Prompt:     parsed.Usage.PromptTokens,
			Completion: parsed.Usage.CompletionTokens,
			Total:      parsed.Usage.TotalTokens,
		},
	}, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Probe lists models to verify the endpoint is reachable and the key valid.
func (a *Adapter) Probe(ctx context.Context) (provider.ProbeResult, error) {
	start := time.Now()
	body, err := provider.DoGet(ctx, a.client, a.baseURL+"/v1/models", a.authHeaders())
	if err != nil {
		return provider.ProbeResult{}, err
	}

	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.ProbeResult{}, fmt.Errorf("failed to parse response: %w", err)
	}

	models := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, m.ID)
	}
	return provider.ProbeResult{
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Models:    models,
	}, nil
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	}
}
