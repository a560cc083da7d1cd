package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

// Trace returns the ordered event list for one correlation id.
func (api *API) Trace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	correlationID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/pipeline/trace/"))
	if correlationID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "correlation_id is required")
		return
	}

	events, err := api.orchestrator.Trace(r.Context(), correlationID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load trace")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"correlation_id": correlationID,
		"events":         events,
	})
}

// PipelineHealth reports event counts and stage conversion rates over a
// trailing window (default 60 minutes).
func (api *API) PipelineHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	windowMinutes := 60
	if raw := r.URL.Query().Get("window_minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 7*24*60 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "window_minutes must be a positive integer")
			return
		}
		windowMinutes = parsed
	}

	health, err := api.orchestrator.Health(r.Context(), windowMinutes)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to compute pipeline health")
		return
	}
	writeJSON(w, http.StatusOK, health)
}
