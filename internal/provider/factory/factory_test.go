package factory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mentora-ai/mentora/internal/provider"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openaiStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func openaiConfig(baseURL string) provider.Config {
	return provider.Config{
		ID: "p1", Name: "OpenAI", Type: provider.TypeOpenAI, Enabled: true,
		Models:      []string{"gpt-4o", "gpt-4o-mini"},
		Credentials: provider.Credentials{APIKey: "test-key", BaseURL: baseURL},
	}
}

func TestGenerate_Success(t *testing.T) {
	var received map[string]any
	ts := openaiStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "hello"}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 10, "total_tokens": 20},
		})
	})

	f := New(WithLogger(quietLogger()))
	resp, err := f.Generate(context.Background(), openaiConfig(ts.URL), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("expected hello, got %q", resp.Content)
	}
	// No explicit model: the first configured model is used.
	if resp.Model != "gpt-4o" || received["model"] != "gpt-4o" {
		t.Errorf("expected default model gpt-4o, got %v", received["model"])
	}
	if resp.RequestID == "" {
		t.Error("expected a generated request ID")
	}
	want := 20.0 / 1000.0 * 0.0075
	if resp.Cost != want {
		t.Errorf("expected cost %f, got %f", want, resp.Cost)
	}
}

func TestGenerate_SystemPromptPrepended(t *testing.T) {
	var received struct {
		Messages []provider.Message `json:"messages"`
	}
	ts := openaiStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	f := New(WithLogger(quietLogger()))
	_, err := f.Generate(context.Background(), openaiConfig(ts.URL), provider.Request{
		SystemPrompt: "You are a tutor",
		Messages:     []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(received.Messages) != 2 || received.Messages[0].Role != "system" {
		t.Fatalf("expected prepended system message, got %v", received.Messages)
	}
}

func TestGenerate_ExplicitModelWins(t *testing.T) {
	var received map[string]any
	ts := openaiStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	f := New(WithLogger(quietLogger()))
	_, err := f.Generate(context.Background(), openaiConfig(ts.URL), provider.Request{
		Model:    "gpt-4o-mini",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received["model"] != "gpt-4o-mini" {
		t.Errorf("expected gpt-4o-mini, got %v", received["model"])
	}
}

func TestGenerate_NoModelsConfigured(t *testing.T) {
	f := New(WithLogger(quietLogger()))
	cfg := openaiConfig("http://unused")
	cfg.Models = nil

	_, err := f.Generate(context.Background(), cfg, provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if pe.Category != provider.CategoryModelUnavailable {
		t.Fatalf("expected MODEL_UNAVAILABLE, got %s", pe.Category)
	}
}

func TestGenerate_MissingAPIKey(t *testing.T) {
	f := New(WithLogger(quietLogger()))
	cfg := openaiConfig("http://unused")
	cfg.Credentials.APIKey = ""

	_, err := f.Generate(context.Background(), cfg, provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if pe.Category != provider.CategoryUnknown {
		t.Fatalf("expected UNKNOWN for config error, got %s", pe.Category)
	}
}

func TestGenerate_VendorFailureClassified(t *testing.T) {
	ts := openaiStub(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "15")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})

	f := New(WithLogger(quietLogger()))
	_, err := f.Generate(context.Background(), openaiConfig(ts.URL), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if pe.Category != provider.CategoryRateLimit {
		t.Fatalf("expected RATE_LIMIT, got %s", pe.Category)
	}
	if pe.RetryAfterSeconds != 15 {
		t.Fatalf("expected RetryAfterSeconds 15, got %d", pe.RetryAfterSeconds)
	}
	if pe.RequestID == "" {
		t.Error("classified errors should carry the attempt's request ID")
	}
}

func TestGenerate_LocalProviderNeedsNoKey(t *testing.T) {
	ts := openaiStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected ollama path, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"message":{"content":"ok"},"prompt_eval_count":1,"eval_count":1}`))
	})

	f := New(WithLogger(quietLogger()))
	cfg := provider.Config{
		ID: "local", Name: "Ollama", Type: provider.TypeOllama, Enabled: true,
		Models:      []string{"llama3.2"},
		Credentials: provider.Credentials{BaseURL: ts.URL},
	}
	resp, err := f.Generate(context.Background(), cfg, provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Cost != 0 {
		t.Errorf("local provider cost should be 0, got %f", resp.Cost)
	}
}

func TestInvalidate_RebuildsAdapter(t *testing.T) {
	hits := 0
	ts := openaiStub(t, func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"}]}`))
	})

	f := New(WithLogger(quietLogger()))
	cfg := openaiConfig(ts.URL)

	if _, err := f.Probe(context.Background(), cfg); err != nil {
		t.Fatalf("probe: %v", err)
	}

	f.Invalidate(cfg.ID)
	if _, err := f.Probe(context.Background(), cfg); err != nil {
		t.Fatalf("probe after invalidate: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected 2 probe hits, got %d", hits)
	}
}

func TestUnsupportedType(t *testing.T) {
	f := New(WithLogger(quietLogger()))
	cfg := provider.Config{
		ID: "x", Name: "Mystery", Type: provider.Type("carrier-pigeon"),
		Models:      []string{"m"},
		Credentials: provider.Credentials{APIKey: "k", BaseURL: "http://unused"},
	}
	_, err := f.Generate(context.Background(), cfg, provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Category != provider.CategoryUnknown {
		t.Fatalf("expected UNKNOWN for unsupported type, got %v", err)
	}
}
