package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/avelai/feedback-pipeline/internal/config"
	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/eventlog"
	"github.com/avelai/feedback-pipeline/internal/queue"
	"github.com/avelai/feedback-pipeline/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	orchestrator *Orchestrator
	settings     *repository.MemorySettings
	jobs         *repository.MemoryExecutionJobs
	queue        *queue.LocalQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	settings := repository.NewMemorySettings(nil)
	jobs := repository.NewMemoryExecutionJobs()
	local := queue.NewLocalQueue(16, 3, nil)
	orchestrator := NewOrchestrator(
		eventlog.NewMemoryLog(),
		repository.NewMemoryProposals(),
		jobs,
		local,
		config.NewProvider(settings, time.Minute, nil),
		nil,
	)
	return &fixture{orchestrator: orchestrator, settings: settings, jobs: jobs, queue: local}
}

func loginBugFeedback() domain.Feedback {
	return domain.Feedback{
		ID:        "F1",
		Title:     "Fix login bug",
		Priority:  domain.FeedbackPriorityP0,
		SourceRef: "SD-101",
		CreatedAt: time.Now().UTC(),
	}
}

func TestProcessFeedbackFullRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.orchestrator.ProcessFeedback(ctx, loginBugFeedback(), Options{})
	require.NoError(t, err)

	assert.Equal(t, domain.PriorityTierCritical, result.Tier)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, domain.QueueCritical, result.Queue)
	assert.NotEmpty(t, result.ProposalID)
	assert.NotEmpty(t, result.JobID)
	assert.NotEmpty(t, result.CorrelationID)
	assert.False(t, result.Degraded)

	require.Len(t, result.Stages, 3)
	assert.Equal(t, "proposal", result.Stages[0].Name)
	assert.Equal(t, "prioritize", result.Stages[1].Name)
	assert.Equal(t, "enqueue", result.Stages[2].Name)
	for _, stage := range result.Stages {
		assert.Equal(t, 1, stage.Attempts)
		assert.False(t, stage.Duplicate)
	}

	require.NotNil(t, result.Latencies)
	require.NotNil(t, result.Latencies.EndToEnd)
	assert.GreaterOrEqual(t, *result.Latencies.EndToEnd, time.Duration(0))
	require.NotNil(t, result.Latencies.FeedbackToProposal)
	require.NotNil(t, result.Latencies.ProposalToPrioritization)
	require.NotNil(t, result.Latencies.PrioritizationToExecution)
}

func TestProcessFeedbackRerunConverges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orchestrator.ProcessFeedback(ctx, loginBugFeedback(), Options{})
	require.NoError(t, err)

	second, err := f.orchestrator.ProcessFeedback(ctx, loginBugFeedback(), Options{})
	require.NoError(t, err)

	assert.Equal(t, first.ProposalID, second.ProposalID)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	require.Len(t, second.Stages, 3)
	for _, stage := range second.Stages {
		assert.True(t, stage.Duplicate, "stage %s should be a duplicate on re-run", stage.Name)
	}

	// The event log holds one event per key no matter how often we run.
	events, err := f.orchestrator.Trace(ctx, first.CorrelationID)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, event := range events {
		require.False(t, seen[event.IdempotencyKey], "key %s recorded twice", event.IdempotencyKey)
		seen[event.IdempotencyKey] = true
	}
}

func TestProcessFeedbackStopAfterProposal(t *testing.T) {
	f := newFixture(t)

	result, err := f.orchestrator.ProcessFeedback(context.Background(), loginBugFeedback(), Options{StopAfterProposal: true})
	require.NoError(t, err)

	require.Len(t, result.Stages, 1)
	assert.NotEmpty(t, result.ProposalID)
	assert.Empty(t, result.JobID)
	assert.Zero(t, result.Score)
	assert.Nil(t, result.Latencies)
}

func TestProcessFeedbackStopAfterPrioritization(t *testing.T) {
	f := newFixture(t)

	result, err := f.orchestrator.ProcessFeedback(context.Background(), loginBugFeedback(), Options{StopAfterPrioritization: true})
	require.NoError(t, err)

	require.Len(t, result.Stages, 2)
	assert.Equal(t, 100, result.Score)
	assert.Empty(t, result.JobID)
	assert.Equal(t, 0, f.queue.Size())
}

func TestProcessFeedbackPipelineDisabled(t *testing.T) {
	f := newFixture(t)
	f.settings.Set("pipeline_enabled", "false")

	result, err := f.orchestrator.ProcessFeedback(context.Background(), loginBugFeedback(), Options{})
	require.NoError(t, err)

	require.Len(t, result.Stages, 1)
	assert.True(t, result.Stages[0].Skipped)
	assert.Empty(t, result.ProposalID)
}

func TestProcessFeedbackValidationFailureIsStructured(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.ProcessFeedback(context.Background(), domain.Feedback{Title: "no id"}, Options{})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "proposal", stageErr.Stage)
	assert.Empty(t, stageErr.Completed)
}

func TestProcessFeedbackDegradedJobStore(t *testing.T) {
	f := newFixture(t)
	f.jobs.Unavailable = true

	result, err := f.orchestrator.ProcessFeedback(context.Background(), loginBugFeedback(), Options{})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.JobID)
}

func TestTraceReturnsOrderedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.orchestrator.ProcessFeedback(ctx, loginBugFeedback(), Options{})
	require.NoError(t, err)

	events, err := f.orchestrator.Trace(ctx, result.CorrelationID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, domain.EventFeedbackReceived, events[0].EventName)
	assert.Equal(t, domain.EventExecutionEnqueued, events[4].EventName)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].CreatedAt.Before(events[i-1].CreatedAt))
	}

	_, err = f.orchestrator.Trace(ctx, "")
	require.Error(t, err)
}

func TestHealthConversionRates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orchestrator.ProcessFeedback(ctx, loginBugFeedback(), Options{})
	require.NoError(t, err)

	health, err := f.orchestrator.Health(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, 60, health.WindowMinutes)
	assert.Equal(t, 1, health.EventCounts[domain.EventFeedbackReceived])
	assert.Equal(t, 1, health.EventCounts[domain.EventExecutionEnqueued])
	assert.InDelta(t, 1.0, health.Conversion["feedback_to_proposal"], 1e-9)
	assert.InDelta(t, 1.0, health.Conversion["prioritization_to_execution"], 1e-9)
}
