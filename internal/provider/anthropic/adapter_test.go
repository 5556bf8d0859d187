package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mentora-ai/mentora/internal/provider"
)

func TestGenerateSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key header, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != apiVersion {
			t.Errorf("expected version header %s, got %q", apiVersion, r.Header.Get("anthropic-version"))
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected /v1/messages, got %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "Hi there"}},
			"usage":   map[string]int{"input_tokens": 10, "output_tokens": 4},
		})
	}))
	defer ts.Close()

	a := New("test-key", ts.URL)
	out, err := a.Generate(context.Background(), "claude-3-5-sonnet", provider.GenerateInput{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "Hi there" {
		t.Errorf("expected Hi there, got %q", out.Text)
	}
	if out.Usage.Total != 14 {
		t.Errorf("expected total tokens 14, got %d", out.Usage.Total)
	}
}

func TestGenerateMovesSystemMessage(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"content":[{"text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer ts.Close()

	a := New("key", ts.URL)
	_, _ = a.Generate(context.Background(), "claude-3-5-sonnet", provider.GenerateInput{
		Messages: []provider.Message{
			{Role: "system", Content: "You are a tutor"},
			{Role: "user", Content: "hi"},
		},
	})

	if received["system"] != "You are a tutor" {
		t.Errorf("expected system field set, got %v", received["system"])
	}
	msgs := received["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected system message removed from list, got %d messages", len(msgs))
	}
	if msgs[0].(map[string]any)["role"] != "user" {
		t.Errorf("expected remaining message to be the user turn")
	}
}

func TestGenerateDefaultMaxTokens(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"content":[{"text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer ts.Close()

	a := New("key", ts.URL)
	_, _ = a.Generate(context.Background(), "claude-3-5-sonnet", provider.GenerateInput{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})

	if received["max_tokens"] != float64(defaultMaxTokens) {
		t.Errorf("expected default max_tokens %d, got %v", defaultMaxTokens, received["max_tokens"])
	}
}

func TestGenerateNoContentBlocks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"usage":{"input_tokens":1,"output_tokens":0}}`))
	}))
	defer ts.Close()

	a := New("key", ts.URL)
	_, err := a.Generate(context.Background(), "claude-3-5-sonnet", provider.GenerateInput{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestProbe(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("expected /v1/models, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"claude-3-5-sonnet"}]}`))
	}))
	defer ts.Close()

	a := New("key", ts.URL)
	res, err := a.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Models) != 1 || res.Models[0] != "claude-3-5-sonnet" {
		t.Fatalf("unexpected models: %v", res.Models)
	}
}
