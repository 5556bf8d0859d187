package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mentora-ai/mentora/internal/provider"
	"github.com/mentora-ai/mentora/internal/store"
)

// providerView is a provider config with credentials masked for API output.
type providerView struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	Type                  provider.Type `json:"type"`
	Enabled               bool          `json:"enabled"`
	Priority              int           `json:"priority"`
	Models                []string      `json:"models"`
	BaseURL               string        `json:"base_url,omitempty"`
	HasAPIKey             bool          `json:"has_api_key"`
	MaxRequestsPerMinute  int           `json:"max_requests_per_minute"`
	MaxCostPerDay         float64       `json:"max_cost_per_day"`
	HealthCheckIntervalMs int           `json:"health_check_interval_ms"`
	TimeoutMs             int           `json:"timeout_ms"`
}

func toView(cfg provider.Config) providerView {
	return providerView{
		ID:                    cfg.ID,
		Name:                  cfg.Name,
		Type:                  cfg.Type,
		Enabled:               cfg.Enabled,
		Priority:              cfg.Priority,
		Models:                cfg.Models,
		BaseURL:               cfg.Credentials.BaseURL,
		HasAPIKey:             cfg.Credentials.APIKey != "",
		MaxRequestsPerMinute:  cfg.MaxRequestsPerMinute,
		MaxCostPerDay:         cfg.MaxCostPerDay,
		HealthCheckIntervalMs: cfg.HealthCheckIntervalMs,
		TimeoutMs:             cfg.TimeoutMs,
	}
}

// ProvidersHealthHandler returns the cached probe status of every provider,
// with breaker states folded in.
func ProvidersHealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		statuses := d.Router.ProviderHealth()
		breakers := d.Router.BreakerStates()

		type entry struct {
			ProviderID      string   `json:"provider_id"`
			Name            string   `json:"name"`
			State           string   `json:"state"`
			LastChecked     string   `json:"last_checked"`
			ResponseTimeMs  float64  `json:"response_time_ms"`
			Error           string   `json:"error,omitempty"`
			AvailableModels []string `json:"available_models,omitempty"`
			Breaker         string   `json:"breaker"`
		}
		out := make([]entry, 0, len(statuses))
		for _, st := range statuses {
			br := breakers[st.ProviderID]
			if br == "" {
				br = "closed"
			}
			out = append(out, entry{
				ProviderID:      st.ProviderID,
				Name:            st.Name,
				State:           string(st.State),
				LastChecked:     st.LastChecked.UTC().Format("2006-01-02T15:04:05Z07:00"),
				ResponseTimeMs:  st.ResponseTimeMs,
				Error:           st.Error,
				AvailableModels: st.AvailableModels,
				Breaker:         br,
			})
		}
		jsonOK(w, map[string]any{"providers": out})
	}
}

func ProvidersListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		configs, err := d.Store.ListProviders(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views := make([]providerView, 0, len(configs))
		for _, cfg := range configs {
			views = append(views, toView(cfg))
		}
		jsonOK(w, map[string]any{"providers": views})
	}
}

type providerUpsertRequest struct {
	Name                  string        `json:"name"`
	Type                  provider.Type `json:"type"`
	Enabled               *bool         `json:"enabled,omitempty"`
	Priority              int           `json:"priority"`
	Models                []string      `json:"models"`
	APIKey                string        `json:"api_key,omitempty"`
	BaseURL               string        `json:"base_url,omitempty"`
	MaxRequestsPerMinute  int           `json:"max_requests_per_minute,omitempty"`
	MaxCostPerDay         float64       `json:"max_cost_per_day,omitempty"`
	HealthCheckIntervalMs int           `json:"health_check_interval_ms,omitempty"`
	TimeoutMs             int           `json:"timeout_ms,omitempty"`
}

func ProvidersCreateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req providerUpsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			jsonError(w, "name required", http.StatusBadRequest)
			return
		}
		if !req.Type.Valid() {
			jsonError(w, "unknown provider type", http.StatusBadRequest)
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		cfg := provider.Config{
			Name:     req.Name,
			Type:     req.Type,
			Enabled:  enabled,
			Priority: req.Priority,
			Models:   req.Models,
			Credentials: provider.Credentials{
				APIKey:  req.APIKey,
				BaseURL: req.BaseURL,
			},
			MaxRequestsPerMinute:  req.MaxRequestsPerMinute,
			MaxCostPerDay:         req.MaxCostPerDay,
			HealthCheckIntervalMs: req.HealthCheckIntervalMs,
			TimeoutMs:             req.TimeoutMs,
		}
		if err := d.Store.UpsertProvider(r.Context(), cfg); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// The store assigns an ID on insert; reload to get the full record.
		configs, err := d.Store.ListProviders(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, c := range configs {
			if c.Name == cfg.Name && c.Type == cfg.Type {
				if c.Enabled {
					d.Monitor.Start(c)
				}
				jsonStatus(w, http.StatusCreated, toView(c))
				return
			}
		}
		jsonStatus(w, http.StatusCreated, toView(cfg))
	}
}

type providerPatchRequest struct {
	Name                  *string   `json:"name,omitempty"`
	Enabled               *bool     `json:"enabled,omitempty"`
	Priority              *int      `json:"priority,omitempty"`
	Models                *[]string `json:"models,omitempty"`
	APIKey                *string   `json:"api_key,omitempty"`
	BaseURL               *string   `json:"base_url,omitempty"`
	MaxRequestsPerMinute  *int      `json:"max_requests_per_minute,omitempty"`
	MaxCostPerDay         *float64  `json:"max_cost_per_day,omitempty"`
	HealthCheckIntervalMs *int      `json:"health_check_interval_ms,omitempty"`
	TimeoutMs             *int      `json:"timeout_ms,omitempty"`
}

// ProvidersUpdateHandler applies a partial update, then resets transient
// routing state and restarts the provider's health probe so the change takes
// effect immediately.
func ProvidersUpdateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req providerPatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		cfg, err := d.Store.UpdateProvider(r.Context(), id, store.ProviderPatch{
			Name:                  req.Name,
			Enabled:               req.Enabled,
			Priority:              req.Priority,
			Models:                req.Models,
			APIKey:                req.APIKey,
			BaseURL:               req.BaseURL,
			MaxRequestsPerMinute:  req.MaxRequestsPerMinute,
			MaxCostPerDay:         req.MaxCostPerDay,
			HealthCheckIntervalMs: req.HealthCheckIntervalMs,
			TimeoutMs:             req.TimeoutMs,
		})
		if err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}

		d.Invalidator.Invalidate(id)
		d.Router.ResetProvider(id)
		if cfg.Enabled {
			d.Monitor.Start(*cfg)
		} else {
			stopDisabledProbes(d, r)
		}
		jsonOK(w, toView(*cfg))
	}
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func ProvidersToggleHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req toggleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := d.Store.ToggleProvider(r.Context(), id, req.Enabled); err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		if req.Enabled {
			cfg, err := d.Store.GetProvider(r.Context(), id)
			if err != nil || cfg == nil {
				jsonError(w, "provider not found after toggle", http.StatusInternalServerError)
				return
			}
			d.Router.ResetProvider(id)
			d.Monitor.Start(*cfg)
		} else {
			stopDisabledProbes(d, r)
		}
		jsonOK(w, map[string]any{"id": id, "enabled": req.Enabled})
	}
}

func ProvidersDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Store.DeleteProvider(r.Context(), id); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		d.Invalidator.Invalidate(id)
		d.Router.ResetProvider(id)
		stopDisabledProbes(d, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

// stopDisabledProbes shuts down probe loops for providers no longer enabled.
func stopDisabledProbes(d Dependencies, r *http.Request) {
	configs, err := d.Store.ListEnabledProviders(r.Context())
	if err != nil {
		return
	}
	active := make(map[string]bool, len(configs))
	for _, c := range configs {
		active[c.ID] = true
	}
	d.Monitor.Cleanup(active)
}
