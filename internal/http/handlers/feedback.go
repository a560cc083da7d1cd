package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/http/middleware"
	"github.com/avelai/feedback-pipeline/internal/pipeline"
	"github.com/avelai/feedback-pipeline/internal/worker"
)

type feedbackRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority,omitempty"`
	SourceRef   string `json:"source_ref,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	// StopAfter limits the run: "proposal" or "prioritization".
	StopAfter string `json:"stop_after,omitempty"`
}

// Feedback runs one feedback item through the pipeline.
func (api *API) Feedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request feedbackRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	if strings.TrimSpace(request.ID) == "" || strings.TrimSpace(request.Title) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "id and title are required")
		return
	}

	options := pipeline.Options{}
	switch strings.TrimSpace(request.StopAfter) {
	case "":
	case "proposal":
		options.StopAfterProposal = true
	case "prioritization":
		options.StopAfterPrioritization = true
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_request", "stop_after must be proposal or prioritization")
		return
	}

	createdAt := time.Now().UTC()
	if request.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, request.CreatedAt)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "created_at must be RFC 3339")
			return
		}
		createdAt = parsed
	}

	feedback := domain.Feedback{
		ID:          strings.TrimSpace(request.ID),
		Title:       strings.TrimSpace(request.Title),
		Description: request.Description,
		Category:    request.Category,
		Priority:    domain.FeedbackPriority(strings.ToUpper(strings.TrimSpace(request.Priority))),
		SourceRef:   request.SourceRef,
		CreatedAt:   createdAt,
	}

	result, err := api.orchestrator.ProcessFeedback(r.Context(), feedback, options)
	if err != nil {
		var validation *worker.ValidationError
		if errors.As(err, &validation) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", validation.Error())
			return
		}
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]any{
					"code":    "stage_failed",
					"message": stageErr.Error(),
					"stage":   stageErr.Stage,
				},
				"correlation_id":   stageErr.CorrelationID,
				"completed_stages": stageErr.Completed,
				"request_id":       middleware.GetRequestID(r.Context()),
			})
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "pipeline run failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
