package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mentora-ai/mentora/internal/provider"
	"github.com/mentora-ai/mentora/internal/routing"
)

// ChatRequest is the JSON body for the /v1/chat endpoint.
type ChatRequest struct {
	UserID            string             `json:"user_id,omitempty"`
	ConceptID         string             `json:"concept_id,omitempty"`
	ConversationID    string             `json:"conversation_id,omitempty"`
	Messages          []provider.Message `json:"messages"`
	SystemPrompt      string             `json:"system_prompt,omitempty"`
	MaxTokens         int                `json:"max_tokens,omitempty"`
	Temperature       float64            `json:"temperature,omitempty"`
	PreferredProvider string             `json:"preferred_provider,omitempty"`
	ExcludeProviders  []string           `json:"exclude_providers,omitempty"`
	Model             string             `json:"model,omitempty"`
}

// ChatResponse is the JSON body returned by the /v1/chat endpoint.
type ChatResponse struct {
	Content          string             `json:"content"`
	Provider         string             `json:"provider"`
	Model            string             `json:"model"`
	Tokens           provider.TokenUsage `json:"tokens"`
	CostUSD          float64            `json:"cost_usd"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	RequestID        string             `json:"request_id"`
	Attempts         int                `json:"attempts"`
	FallbacksUsed    []string           `json:"fallbacks_used"`
}

func ChatHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if len(req.Messages) == 0 {
			jsonError(w, "messages required", http.StatusBadRequest)
			return
		}
		for _, m := range req.Messages {
			switch m.Role {
			case "system", "user", "assistant":
			default:
				jsonError(w, "message role must be system, user, or assistant", http.StatusBadRequest)
				return
			}
		}
		if req.MaxTokens < 0 || req.MaxTokens > 128000 {
			jsonError(w, "max_tokens must be between 0 and 128000", http.StatusBadRequest)
			return
		}
		if req.Temperature < 0 || req.Temperature > 2 {
			jsonError(w, "temperature must be between 0 and 2", http.StatusBadRequest)
			return
		}

		result, err := d.Router.Route(r.Context(), provider.Request{
			UserID:            req.UserID,
			ConceptID:         req.ConceptID,
			ConversationID:    req.ConversationID,
			Messages:          req.Messages,
			SystemPrompt:      req.SystemPrompt,
			MaxTokens:         req.MaxTokens,
			Temperature:       req.Temperature,
			PreferredProvider: req.PreferredProvider,
			ExcludeProviders:  req.ExcludeProviders,
			Model:             req.Model,
		})
		if err != nil {
			switch {
			case errors.Is(err, routing.ErrNoProviders):
				jsonError(w, err.Error(), http.StatusServiceUnavailable)
			case errors.Is(err, routing.ErrAllFailed):
				jsonError(w, err.Error(), http.StatusBadGateway)
			default:
				jsonError(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}

		jsonOK(w, ChatResponse{
			Content:          result.Response.Content,
			Provider:         result.Provider,
			Model:            result.Response.Model,
			Tokens:           result.Response.Tokens,
			CostUSD:          result.Response.Cost,
			ProcessingTimeMs: result.Response.ProcessingTimeMs,
			RequestID:        result.Response.RequestID,
			Attempts:         result.Attempts,
			FallbacksUsed:    result.FallbacksUsed,
		})
	}
}
