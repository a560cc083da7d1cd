package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avelai/feedback-pipeline/internal/planner"
	"github.com/avelai/feedback-pipeline/internal/repository"
)

const latestQueueKey = "latest"

type plannerRunRequest struct {
	DryRun           bool `json:"dry_run,omitempty"`
	IncludeCompleted bool `json:"include_completed,omitempty"`
}

// PlannerRun executes one planning cycle and returns the versioned output
// document. An empty body is treated as a default run.
func (api *API) PlannerRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	request := plannerRunRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &request); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
			return
		}
	}

	output, err := api.planner.Plan(r.Context(), planner.Options{
		DryRun:           request.DryRun,
		IncludeCompleted: request.IncludeCompleted,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "planning run failed")
		return
	}
	if !request.DryRun {
		api.planCache.Invalidate(latestQueueKey)
	}
	writeJSON(w, http.StatusOK, output)
}

type latestQueueResponse struct {
	Queue  json.RawMessage `json:"queue"`
	Cached bool            `json:"cached"`
}

// PlannerLatest serves the most recently persisted priority queue. Hot reads
// come from an in-process cache with a short TTL.
func (api *API) PlannerLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if entry, ok := api.planCache.Get(latestQueueKey); ok {
		writeJSON(w, http.StatusOK, latestQueueResponse{Queue: entry.Queue, Cached: true})
		return
	}

	queue, err := api.rankings.LatestQueue(r.Context())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no planning run has been persisted yet")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load latest queue")
		return
	}

	api.planCache.Set(latestQueueKey, queue)
	writeJSON(w, http.StatusOK, latestQueueResponse{Queue: queue, Cached: false})
}
