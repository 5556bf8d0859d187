// Package ollama implements the provider adapter for a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mentora-ai/mentora/internal/provider"
)

// Adapter talks to an Ollama server's chat API. No API key is needed.
type Adapter struct {
	baseURL string
	client  *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// New creates an Ollama adapter.
func New(baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: baseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type chatRequest struct {
	Model    string             `json:"model"`
	Messages []provider.Message `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  *chatOptions       `json:"options,omitempty"`
}

type chatOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Generate sends a non-streaming chat request.
func (a *Adapter) Generate(ctx context.Context, model string, in provider.GenerateInput) (provider.GenerateOutput, error) {
	payload := chatRequest{
		Model:    model,
		Messages: in.Messages,
		Stream:   false,
	}
	if in.MaxTokens > 0 || in.Temperature > 0 {
		payload.Options = &chatOptions{
			NumPredict:  in.MaxTokens,
			Temperature: in.Temperature,
		}
	}

	body, err := provider.DoRequest(ctx, a.client, a.baseURL+"/api/chat", payload, nil)
	if err != nil {
		return provider.GenerateOutput{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.GenerateOutput{}, fmt.Errorf("failed to parse response: %w", err)
	}

	return provider.GenerateOutput{
		Text: parsed.Message.Content,
		Usage: provider.TokenUsage{
			Prompt:     parsed.PromptEvalCount,
			Completion: parsed.EvalCount,
			Total:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Probe lists locally installed models.
func (a *Adapter) Probe(ctx context.Context) (provider.ProbeResult, error) {
	start := time.Now()
	body, err := provider.DoGet(ctx, a.client, a.baseURL+"/api/tags", nil)
	if err != nil {
		return provider.ProbeResult{}, err
	}

	var parsed tagsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.ProbeResult{}, fmt.Errorf("failed to parse response: %w", err)
	}

	models := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, m.Name)
	}
	return provider.ProbeResult{
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Models:    models,
	}, nil
}
