// Local load generator for the feedback pipeline API. It boots the full
// stack on in-memory stores behind httptest and drives the ingest, replay,
// planner, and read paths concurrently.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
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

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	cancel context.CancelFunc
}

func main() {
	ingestTotal := flag.Int("ingest-total", 400, "total unique feedback submissions")
	ingestConcurrency := flag.Int("ingest-concurrency", 32, "concurrency for feedback submissions")
	replayTotal := flag.Int("replay-total", 200, "total replayed feedback submissions")
	replayConcurrency := flag.Int("replay-concurrency", 24, "concurrency for replayed submissions")
	plannerTotal := flag.Int("planner-total", 40, "total dry-run planning cycles")
	plannerConcurrency := flag.Int("planner-concurrency", 4, "concurrency for planning cycles")
	readsTotal := flag.Int("reads-total", 300, "total latest-queue reads")
	readsConcurrency := flag.Int("reads-concurrency", 24, "concurrency for latest-queue reads")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment()
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	ingestScenario := runScenario("feedback_ingest", *ingestTotal, *ingestConcurrency, func(index int) error {
		payload := map[string]any{
			"id":       fmt.Sprintf("fb-load-%d", index),
			"title":    fmt.Sprintf("Load case %d: request times out under burst traffic", index),
			"category": "performance",
			"priority": []string{"P0", "P1", "P2", "P3"}[index%4],
		}
		return postJSON(client, env.server.URL+"/v1/feedback", payload, http.StatusOK)
	})

	// Replays hammer a small id set so most runs hit the duplicate path.
	replayScenario := runScenario("feedback_replay", *replayTotal, *replayConcurrency, func(index int) error {
		payload := map[string]any{
			"id":    fmt.Sprintf("fb-replay-%d", index%8),
			"title": fmt.Sprintf("Replay case %d: export drops trailing rows", index%8),
		}
		return postJSON(client, env.server.URL+"/v1/feedback", payload, http.StatusOK)
	})

	plannerScenario := runScenario("planner_dry_run", *plannerTotal, *plannerConcurrency, func(index int) error {
		return postJSON(client, env.server.URL+"/v1/planner/run", map[string]any{"dry_run": true}, http.StatusOK)
	})

	// One persisted run so the latest-queue endpoint has a document to serve.
	if err := postJSON(client, env.server.URL+"/v1/planner/run", map[string]any{}, http.StatusOK); err != nil {
		log.Fatalf("failed to seed persisted planning run: %v", err)
	}

	readsScenario := runScenario("latest_queue_reads", *readsTotal, *readsConcurrency, func(index int) error {
		return getJSON(client, env.server.URL+"/v1/planner/latest", http.StatusOK)
	})

	results := []scenarioResult{
		ingestScenario,
		replayScenario,
		plannerScenario,
		readsScenario,
	}

	slo := map[string]bool{
		"feedback_ingest_p95_le_250ms":   ingestScenario.P95MS <= 250,
		"feedback_replay_p95_le_100ms":   replayScenario.P95MS <= 100,
		"latest_queue_reads_p95_le_50ms": readsScenario.P95MS <= 50,
		"zero_errors":                    ingestScenario.Errors+replayScenario.Errors+plannerScenario.Errors+readsScenario.Errors == 0,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	eventLog := eventlog.NewMemoryLog()
	proposals := repository.NewMemoryProposals()
	jobs := repository.NewMemoryExecutionJobs()
	rankings := repository.NewMemoryRankings()
	settings := config.NewProvider(repository.NewMemorySettings(nil), time.Minute, logger)
	localQueue := queue.NewLocalQueue(4096, 3, logger)

	orchestrator := pipeline.NewOrchestrator(eventLog, proposals, jobs, localQueue, settings, logger)

	now := time.Now().UTC()
	candidates := make([]planner.Candidate, 0, 60)
	severities := []domain.CandidateSeverity{
		domain.CandidateSeverityCritical,
		domain.CandidateSeverityHigh,
		domain.CandidateSeverityMedium,
		domain.CandidateSeverityLow,
	}
	for i := 0; i < 60; i++ {
		candidates = append(candidates, planner.Candidate{
			ID:              fmt.Sprintf("bench-%d", i),
			Title:           fmt.Sprintf("Benchmark candidate %d in module %d", i, i%7),
			Category:        []string{"performance", "security", "ui", "api"}[i%4],
			Severity:        severities[i%len(severities)],
			OccurrenceCount: (i % 6) + 1,
			CreatedAt:       now.Add(-time.Duration(i) * time.Hour),
			LastSeenAt:      now.Add(-time.Duration(i%12) * time.Hour),
		})
	}
	plannerService := planner.NewPlanner([]planner.Source{
		&planner.StaticSource{SourceName: domain.SourceFeedback, Items: candidates},
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
	return &benchmarkEnv{
		server: server,
		cancel: cancel,
	}, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(client *http.Client, url string, payload any, expectedStatus int) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
