// Package httpapi mounts the gateway's HTTP surface: the chat endpoint, the
// provider admin API, health and stats views, and the SSE event stream.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mentora-ai/mentora/internal/apikey"
	"github.com/mentora-ai/mentora/internal/events"
	"github.com/mentora-ai/mentora/internal/health"
	"github.com/mentora-ai/mentora/internal/metrics"
	"github.com/mentora-ai/mentora/internal/routing"
	"github.com/mentora-ai/mentora/internal/stats"
	"github.com/mentora-ai/mentora/internal/store"
)

// AdapterInvalidator drops a cached adapter after a credentials change. The
// provider factory implements it.
type AdapterInvalidator interface {
	Invalidate(providerID string)
}

type Dependencies struct {
	Router      *routing.Router
	Monitor     *health.Monitor
	Store       store.Store
	Metrics     *metrics.Registry
	Stats       *stats.Collector
	EventBus    *events.Bus
	Invalidator AdapterInvalidator

	// API key auth for /v1 (nil disables auth, for local development).
	APIKeyMgr *apikey.Manager

	// Bearer token guarding /admin/v1.
	AdminToken string
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// Report degraded when no provider is currently routable.
		statuses := d.Monitor.Statuses()
		routable := 0
		for _, st := range statuses {
			if st.State == health.StateHealthy || st.State == health.StateDegraded {
				routable++
			}
		}
		code := http.StatusOK
		status := "ok"
		if routable == 0 {
			code = http.StatusServiceUnavailable
			status = "unhealthy"
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"providers": len(statuses),
			"routable":  routable,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		// Apply API key auth middleware if key manager is configured.
		if d.APIKeyMgr != nil {
			r.Use(apikey.AuthMiddleware(d.APIKeyMgr))
		}
		r.Post("/chat", ChatHandler(d))
		r.Get("/providers/health", ProvidersHealthHandler(d))
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(adminAuth(d.AdminToken))

		r.Get("/providers", ProvidersListHandler(d))
		r.Post("/providers", ProvidersCreateHandler(d))
		r.Put("/providers/{id}", ProvidersUpdateHandler(d))
		r.Post("/providers/{id}/toggle", ProvidersToggleHandler(d))
		r.Delete("/providers/{id}", ProvidersDeleteHandler(d))

		r.Post("/apikeys", APIKeysCreateHandler(d))
		r.Get("/apikeys", APIKeysListHandler(d))
		r.Delete("/apikeys/{id}", APIKeysRevokeHandler(d))

		r.Get("/stats", StatsHandler(d))
		r.Get("/logs", RequestLogsHandler(d))
		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	r.Handle("/metrics", d.Metrics.Handler())
}
