// Package google implements the provider adapter for the Google Gemini
// generateContent API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mentora-ai/mentora/internal/provider"
)

// Adapter talks to the Gemini API.
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

// New creates a Gemini adapter.
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

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate sends a generateContent request. Gemini uses "model" for the
// assistant role and carries system prompts in systemInstruction.
func (a *Adapter) Generate(ctx context.Context, model string, in provider.GenerateInput) (provider.GenerateOutput, error) {
	payload := generateRequest{}
	for _, m := range in.Messages {
		switch m.Role {
		case "system":
			payload.SystemInstruction = &content{Parts: []part{{Text: m.Content}}}
		case "assistant":
			payload.Contents = append(payload.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			payload.Contents = append(payload.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if in.MaxTokens > 0 || in.Temperature > 0 {
		payload.GenerationConfig = &generationConfig{
			MaxOutputTokens: in.MaxTokens,
			Temperature:     in.Temperature,
		}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		a.baseURL, url.PathEscape(model), url.QueryEscape(a.apiKey))

	body, err := provider.DoRequest(ctx, a.client, endpoint, payload, nil)
	if err != nil {
		return provider.GenerateOutput{}, err
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.GenerateOutput{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return provider.GenerateOutput{}, errors.New("response contained no candidates")
	}

	var text strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	return provider.GenerateOutput{
		Text: text.String(),
		Usage: provider.TokenUsage{
			Prompt:     parsed.UsageMetadata.PromptTokenCount,
			Completion: parsed.UsageMetadata.CandidatesTokenCount,
			Total:      parsed.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

type modelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Probe lists models to verify reachability and key validity.
func (a *Adapter) Probe(ctx context.Context) (provider.ProbeResult, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1beta/models?key=%s", a.baseURL, url.QueryEscape(a.apiKey))
	body, err := provider.DoGet(ctx, a.client, endpoint, nil)
	if err != nil {
		return provider.ProbeResult{}, err
	}

	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.ProbeResult{}, fmt.Errorf("failed to parse response: %w", err)
	}

	models := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, strings.TrimPrefix(m.Name, "models/"))
	}
	return provider.ProbeResult{
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Models:    models,
	}, nil
}
