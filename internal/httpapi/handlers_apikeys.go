package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type apiKeyCreateRequest struct {
	Name string `json:"name"`
}

// APIKeysCreateHandler mints a new API key. The plaintext key is returned
// exactly once; only a bcrypt hash is stored.
func APIKeysCreateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.APIKeyMgr == nil {
			jsonError(w, "api key auth not configured", http.StatusNotImplemented)
			return
		}
		var req apiKeyCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			jsonError(w, "name required", http.StatusBadRequest)
			return
		}
		key, rec, err := d.APIKeyMgr.Generate(r.Context(), req.Name)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonStatus(w, http.StatusCreated, map[string]any{
			"id":         rec.ID,
			"name":       rec.Name,
			"key":        key,
			"key_prefix": rec.KeyPrefix,
			"created_at": rec.CreatedAt,
		})
	}
}

func APIKeysListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := d.Store.ListAPIKeys(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonOK(w, map[string]any{"api_keys": keys})
	}
}

func APIKeysRevokeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.APIKeyMgr == nil {
			jsonError(w, "api key auth not configured", http.StatusNotImplemented)
			return
		}
		id := chi.URLParam(r, "id")
		if err := d.APIKeyMgr.Revoke(r.Context(), id); err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
