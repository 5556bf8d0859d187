// Package anthropic implements the provider adapter for the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mentora-ai/mentora/internal/provider"
)

const (
	apiVersion = "2023-06-01"

	// The Messages API requires max_tokens; use a generous default when
	// the caller does not set one.
	defaultMaxTokens = 4096
)

// Adapter talks to the Anthropic Messages API.
type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// New creates an Anthropic adapter.
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

type messagesRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate sends a Messages API request. A leading system-role message is
// moved into the top-level system field, which is where the API expects it.
func (a *Adapter) Generate(ctx context.Context, model string, in provider.GenerateInput) (provider.GenerateOutput, error) {
	messages := in.Messages
	system := ""
	if len(messages) > 0 && messages[0].Role == "system" {
		system = messages[0].Content
		messages = messages[1:]
	}

	payload := messagesRequest{
		Model:     model,
		Messages:  messages,
		System:    system,
		MaxTokens: defaultMaxTokens,
	}
	if in.MaxTokens > 0 {
		payload.MaxTokens = in.MaxTokens
	}
	if in.Temperature > 0 {
		payload.Temperature = in.Temperature
	}

	body, err := provider.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, a.authHeaders())
	if err != nil {
		return provider.GenerateOutput{}, err
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.GenerateOutput{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return provider.GenerateOutput{}, errors.New("response contained no content blocks")
	}

	return provider.GenerateOutput{
		Text: parsed.Content[0].Text,
		Usage: provider.TokenUsage{
			Prompt:     parsed.Usage.InputTokens,
			Completion: parsed.Usage.OutputTokens,
			Total:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Probe lists models to verify reachability and key validity.
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
		"x-api-key":         a.apiKey,
		"anthropic-version": apiVersion,
	}
}
