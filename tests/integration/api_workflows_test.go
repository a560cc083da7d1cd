package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avelai/feedback-pipeline/internal/config"
	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/eventlog"
	httpserver "github.com/avelai/feedback-pipeline/internal/http"
	"github.com/avelai/feedback-pipeline/internal/http/handlers"
	"github.com/avelai/feedback-pipeline/internal/pipeline"
	"github.com/avelai/feedback-pipeline/internal/planner"
	"github.com/avelai/feedback-pipeline/internal/queue"
	"github.com/avelai/feedback-pipeline/internal/repository"
	"github.com/avelai/feedback-pipeline/internal/worker"
)

type integrationRuntime struct {
	server *httptest.Server
	cancel context.CancelFunc
}

func startIntegrationRuntime(t *testing.T) integrationRuntime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	eventLog := eventlog.NewMemoryLog()
	proposals := repository.NewMemoryProposals()
	jobs := repository.NewMemoryExecutionJobs()
	rankings := repository.NewMemoryRankings()
	settings := config.NewProvider(repository.NewMemorySettings(nil), time.Minute, logger)
	localQueue := queue.NewLocalQueue(2048, 3, logger)

	orchestrator := pipeline.NewOrchestrator(eventLog, proposals, jobs, localQueue, settings, logger)

	now := time.Now().UTC()
	plannerService := planner.NewPlanner([]planner.Source{
		&planner.StaticSource{
			SourceName: domain.SourceFeedback,
			Items: []planner.Candidate{
				{
					ID:              "fb-int-1",
					Title:           "Session token expires during long uploads",
					Category:        "security",
					Severity:        domain.CandidateSeverityCritical,
					OccurrenceCount: 3,
					CreatedAt:       now.Add(-6 * time.Hour),
					LastSeenAt:      now.Add(-time.Hour),
				},
				{
					ID:              "fb-int-2",
					Title:           "Dashboard chart renders with wrong legend",
					Category:        "ui",
					Severity:        domain.CandidateSeverityLow,
					OccurrenceCount: 1,
					CreatedAt:       now.Add(-72 * time.Hour),
					LastSeenAt:      now.Add(-72 * time.Hour),
				},
			},
		},
	}, rankings, logger)

	api := handlers.NewAPI(orchestrator, plannerService, jobs, rankings)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	processor := worker.NewProcessor(localQueue, orchestrator.EnqueueStage(), logger)
	go processor.Start(ctx)

	server := httptest.NewServer(router)
	return integrationRuntime{
		server: server,
		cancel: func() {
			cancel()
			server.Close()
		},
	}
}

func postJSON(
	t *testing.T,
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
) (int, map[string]any) {
	t.Helper()

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func getJSON(t *testing.T, client *http.Client, url string) (int, map[string]any) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build get request: %v", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute get request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode get response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func waitForJobStatus(
	t *testing.T,
	client *http.Client,
	baseURL string,
	jobID string,
	wanted string,
	timeout time.Duration,
) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, body := getJSON(t, client, fmt.Sprintf("%s/v1/jobs/%s", baseURL, jobID))
		if status == http.StatusOK {
			jobStatus, _ := body["status"].(string)
			if jobStatus == wanted {
				return body
			}
			if jobStatus == "failed" {
				t.Fatalf("job %s failed: %+v", jobID, body)
			}
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for job %s to reach %s", jobID, wanted)
	return nil
}

func TestFeedbackPipelineEndToEnd(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	feedbackPayload := map[string]any{
		"id":         "fb-e2e-1",
		"title":      "Login fails after password reset",
		"category":   "auth",
		"priority":   "P0",
		"source_ref": "SD-4411",
	}

	status, body := postJSON(t, client, baseURL+"/v1/feedback", feedbackPayload, nil)
	if status != http.StatusOK {
		t.Fatalf("feedback run returned %d: %+v", status, body)
	}

	correlationID, _ := body["correlation_id"].(string)
	jobID, _ := body["job_id"].(string)
	if correlationID == "" || jobID == "" {
		t.Fatalf("missing correlation or job id in response: %+v", body)
	}
	if queueName, _ := body["queue"].(string); queueName != "critical" {
		t.Fatalf("expected critical queue for P0 feedback, got %q", queueName)
	}

	// The worker picks the message up and records the running transition.
	job := waitForJobStatus(t, client, baseURL, jobID, "running", 2*time.Second)
	if degraded, _ := job["degraded"].(bool); degraded {
		t.Fatalf("job unexpectedly degraded: %+v", job)
	}

	traceStatus, trace := getJSON(t, client, baseURL+"/v1/pipeline/trace/"+correlationID)
	if traceStatus != http.StatusOK {
		t.Fatalf("trace returned %d: %+v", traceStatus, trace)
	}
	events, _ := trace["events"].([]any)
	if len(events) < 5 {
		t.Fatalf("expected full event trail, got %d events", len(events))
	}
	first, _ := events[0].(map[string]any)
	if name, _ := first["event_name"].(string); name != "feedback_received" {
		t.Fatalf("expected feedback_received first, got %q", name)
	}

	healthStatus, health := getJSON(t, client, baseURL+"/v1/pipeline/health?window_minutes=60")
	if healthStatus != http.StatusOK {
		t.Fatalf("pipeline health returned %d: %+v", healthStatus, health)
	}
	conversion, _ := health["conversion"].(map[string]any)
	if rate, _ := conversion["feedback_to_proposal"].(float64); rate != 1.0 {
		t.Fatalf("expected full proposal conversion, got %v", rate)
	}
}

func TestFeedbackReplayConverges(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	payload := map[string]any{
		"id":    "fb-e2e-replay",
		"title": "Export job silently drops rows over 10k",
	}

	status, first := postJSON(t, client, baseURL+"/v1/feedback", payload, nil)
	if status != http.StatusOK {
		t.Fatalf("first run returned %d: %+v", status, first)
	}
	status, second := postJSON(t, client, baseURL+"/v1/feedback", payload, nil)
	if status != http.StatusOK {
		t.Fatalf("replay returned %d: %+v", status, second)
	}

	if first["proposal_id"] != second["proposal_id"] || first["job_id"] != second["job_id"] {
		t.Fatalf("replay produced different entities: %+v vs %+v", first, second)
	}

	stages, _ := second["stages"].([]any)
	for _, raw := range stages {
		stage, _ := raw.(map[string]any)
		if duplicate, _ := stage["duplicate"].(bool); !duplicate {
			t.Fatalf("expected every replayed stage to short-circuit: %+v", stage)
		}
	}
}

func TestPlannerRunAndLatestQueue(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	status, output := postJSON(t, client, baseURL+"/v1/planner/run", map[string]any{}, nil)
	if status != http.StatusOK {
		t.Fatalf("planner run returned %d: %+v", status, output)
	}
	queueItems, _ := output["queue"].([]any)
	if len(queueItems) != 2 {
		t.Fatalf("expected two ranked items, got %d", len(queueItems))
	}
	top, _ := queueItems[0].(map[string]any)
	if id, _ := top["id"].(string); id != "fb-int-1" {
		t.Fatalf("expected critical item ranked first, got %q", id)
	}

	latestStatus, latest := getJSON(t, client, baseURL+"/v1/planner/latest")
	if latestStatus != http.StatusOK {
		t.Fatalf("latest queue returned %d: %+v", latestStatus, latest)
	}
	if cached, _ := latest["cached"].(bool); cached {
		t.Fatal("first latest read should come from the store")
	}

	_, again := getJSON(t, client, baseURL+"/v1/planner/latest")
	if cached, _ := again["cached"].(bool); !cached {
		t.Fatal("second latest read should be served from cache")
	}
}

func TestValidationAndAuthFailures(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	status, body := postJSON(t, client, baseURL+"/v1/feedback", map[string]any{"title": "no id"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d: %+v", status, body)
	}

	status, body = postJSON(t, client, baseURL+"/v1/feedback", map[string]any{
		"id":         "fb-bad-stop",
		"title":      "valid title",
		"stop_after": "never",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad stop_after, got %d: %+v", status, body)
	}

	status, body = getJSON(t, client, baseURL+"/v1/jobs/does-not-exist")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d: %+v", status, body)
	}
}
