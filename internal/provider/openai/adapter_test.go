package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mentora-ai/mentora/internal/provider"
)

func TestGenerateSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer auth, got %s", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected /v1/chat/completions, got %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Hello!"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	defer ts.Close()

	a := New("test-key", ts.URL)
	out, err := a.Generate(context.Background(), "gpt-4o", provider.GenerateInput{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "Hello!" {
		t.Errorf("expected Hello!, got %q", out.Text)
	}
	if out.Usage.Total != 15 {
		t.Errorf("expected 15 total tokens, got %d", out.Usage.Total)
	}
}

func TestGeneratePayload(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer ts.Close()

	a := New("key", ts.URL)
	_, _ = a.Generate(context.Background(), "gpt-4o", provider.GenerateInput{
		Messages:    []provider.Message{{Role: "user", Content: "hi"}},
		MaxTokens:   256,
		Temperature: 0.7,
	})

	if received["model"] != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %v", received["model"])
	}
	if received["max_tokens"] != float64(256) {
		t.Errorf("expected max_tokens 256, got %v", received["max_tokens"])
	}
	if received["temperature"] != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", received["temperature"])
	}
}

func TestGenerateOmitsZeroOptionals(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer ts.Close()

	a := New("key", ts.URL)
	_, _ = a.Generate(context.Background(), "gpt-4o", provider.GenerateInput{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})

	if _, ok := received["max_tokens"]; ok {
		t.Error("max_tokens should be omitted when unset")
	}
	if _, ok := received["temperature"]; ok {
		t.Error("temperature should be omitted when unset")
	}
}

func TestGenerateNoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	a := New("key", ts.URL)
	_, err := a.Generate(context.Background(), "gpt-4o", provider.GenerateInput{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestGenerateRateLimitCarriesStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer ts.Close()

	a := New("key", ts.URL)
	_, err := a.Generate(context.Background(), "gpt-4o", provider.GenerateInput{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var se *provider.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T", err)
	}
	if se.StatusCode != 429 || se.RetryAfterSecs != 30 {
		t.Fatalf("expected 429 with Retry-After 30, got %d/%d", se.StatusCode, se.RetryAfterSecs)
	}
	if pe := provider.Classify(err, provider.TypeOpenAI); pe.Category != provider.CategoryRateLimit {
		t.Fatalf("expected RATE_LIMIT, got %s", pe.Category)
	}
}

func TestProbe(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("expected /v1/models, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`))
	}))
	defer ts.Close()

	a := New("key", ts.URL)
	res, err := a.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Models) != 2 || res.Models[0] != "gpt-4o" {
		t.Fatalf("unexpected models: %v", res.Models)
	}
}
