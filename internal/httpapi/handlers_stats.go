package httpapi

import (
	"net/http"
	"strconv"
)

// StatsHandler returns rolling aggregates plus current breaker states.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		jsonOK(w, map[string]any{
			"global":      d.Stats.Global(),
			"by_provider": d.Stats.SummaryByProvider(),
			"by_model":    d.Stats.SummaryByModel(),
			"breakers":    d.Router.BreakerStates(),
			"snapshots":   d.Stats.SnapshotCount(),
		})
	}
}

// RequestLogsHandler pages through persisted request logs, newest first.
func RequestLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		offset := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 1000 {
				jsonError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
				return
			}
			limit = n
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				jsonError(w, "offset must be non-negative", http.StatusBadRequest)
				return
			}
			offset = n
		}
		entries, err := d.Store.ListRequestLogs(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonOK(w, map[string]any{
			"logs":   entries,
			"limit":  limit,
			"offset": offset,
		})
	}
}
