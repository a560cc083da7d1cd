// Package handlers exposes the pipeline and planner over HTTP with the
// service's standard error envelope.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avelai/feedback-pipeline/internal/cache"
	"github.com/avelai/feedback-pipeline/internal/http/middleware"
	"github.com/avelai/feedback-pipeline/internal/pipeline"
	"github.com/avelai/feedback-pipeline/internal/planner"
	"github.com/avelai/feedback-pipeline/internal/repository"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	orchestrator *pipeline.Orchestrator
	planner      *planner.Planner
	jobs         repository.ExecutionJobsRepository
	rankings     repository.RankingsRepository
	planCache    *cache.PlanCache
}

func NewAPI(
	orchestrator *pipeline.Orchestrator,
	plannerService *planner.Planner,
	jobs repository.ExecutionJobsRepository,
	rankings repository.RankingsRepository,
) *API {
	return &API{
		orchestrator: orchestrator,
		planner:      plannerService,
		jobs:         jobs,
		rankings:     rankings,
		planCache:    cache.NewPlanCache(cache.Config{}),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}
