// Package pipeline chains the three stage workers into one feedback run and
// exposes the trace and health read paths built on the event log.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avelai/feedback-pipeline/internal/config"
	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/eventlog"
	"github.com/avelai/feedback-pipeline/internal/queue"
	"github.com/avelai/feedback-pipeline/internal/repository"
	"github.com/avelai/feedback-pipeline/internal/worker"
)

// Options narrows a run to a prefix of the pipeline. StopAfterProposal wins
// when both flags are set.
type Options struct {
	StopAfterProposal       bool
	StopAfterPrioritization bool
}

// StageStatus records how one stage ended inside a run.
type StageStatus struct {
	Name      string `json:"name"`
	Skipped   bool   `json:"skipped,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Attempts  int    `json:"attempts"`
}

// Latencies holds the four event-log measurements taken after a full run.
// A nil field means one side of the measurement is missing from the log.
type Latencies struct {
	FeedbackToProposal        *time.Duration `json:"feedback_to_proposal,omitempty"`
	ProposalToPrioritization  *time.Duration `json:"proposal_to_prioritization,omitempty"`
	PrioritizationToExecution *time.Duration `json:"prioritization_to_execution,omitempty"`
	EndToEnd                  *time.Duration `json:"end_to_end,omitempty"`
}

// Result is the outcome of one ProcessFeedback call. Stages lists every
// stage that ran, in order; Latencies is set only after a full run.
type Result struct {
	CorrelationID string               `json:"correlation_id"`
	ProposalID    string               `json:"proposal_id,omitempty"`
	Tier          domain.PriorityTier  `json:"tier,omitempty"`
	Score         int                  `json:"score,omitempty"`
	Queue         domain.PriorityQueue `json:"queue,omitempty"`
	JobID         string               `json:"job_id,omitempty"`
	Degraded      bool                 `json:"degraded,omitempty"`
	Stages        []StageStatus        `json:"stages"`
	Latencies     *Latencies           `json:"latencies,omitempty"`
}

// StageError reports which stage broke the run and what had already
// completed, so callers can resubmit the same feedback and converge.
type StageError struct {
	Stage         string
	CorrelationID string
	Completed     []StageStatus
	Err           error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Health summarizes event throughput over a trailing window. Conversion
// rates compare adjacent stage completions; a nil denominator yields 0.
type Health struct {
	WindowMinutes int                      `json:"window_minutes"`
	EventCounts   map[domain.EventName]int `json:"event_counts"`
	Conversion    map[string]float64       `json:"conversion"`
}

// Orchestrator runs the pipeline stages through the shared retry runner and
// serves the event-log read paths.
type Orchestrator struct {
	log       eventlog.Log
	proposals repository.ProposalsRepository

	proposalStage   *worker.ProposalStage
	prioritizeStage *worker.PrioritizeStage
	enqueueStage    *worker.EnqueueStage

	proposalRunner   *worker.Runner[domain.Feedback, worker.ProposalResult]
	prioritizeRunner *worker.Runner[*domain.Proposal, worker.PrioritizeResult]
	enqueueRunner    *worker.Runner[*domain.Proposal, worker.EnqueueResult]

	logger *log.Logger
}

func NewOrchestrator(
	eventLog eventlog.Log,
	proposals repository.ProposalsRepository,
	jobs repository.ExecutionJobsRepository,
	producer queue.Producer,
	settings *config.Provider,
	logger *log.Logger,
) *Orchestrator {
	return &Orchestrator{
		log:              eventLog,
		proposals:        proposals,
		proposalStage:    worker.NewProposalStage(eventLog, proposals, logger),
		prioritizeStage:  worker.NewPrioritizeStage(eventLog, proposals, logger),
		enqueueStage:     worker.NewEnqueueStage(eventLog, jobs, proposals, producer, logger),
		proposalRunner:   worker.NewRunner[domain.Feedback, worker.ProposalResult](settings, logger),
		prioritizeRunner: worker.NewRunner[*domain.Proposal, worker.PrioritizeResult](settings, logger),
		enqueueRunner:    worker.NewRunner[*domain.Proposal, worker.EnqueueResult](settings, logger),
		logger:           logger,
	}
}

// EnqueueStage exposes the stage that owns execution job transitions, for
// the queue consumer that marks jobs started.
func (o *Orchestrator) EnqueueStage() *worker.EnqueueStage { return o.enqueueStage }

// ProcessFeedback drives the feedback item through proposal, prioritization
// and enqueue. The correlation id derived by the first stage is injected
// into the later ones. A stage failure stops the run immediately and the
// error carries every stage that had completed.
func (o *Orchestrator) ProcessFeedback(ctx context.Context, feedback domain.Feedback, opts Options) (*Result, error) {
	result := &Result{Stages: make([]StageStatus, 0, 3)}

	proposalRun := o.proposalRunner.Run(ctx, o.proposalStage, feedback)
	if proposalRun.Err != nil {
		return nil, &StageError{
			Stage:     o.proposalStage.Name(),
			Completed: result.Stages,
			Err:       proposalRun.Err,
		}
	}
	result.Stages = append(result.Stages, StageStatus{
		Name:      o.proposalStage.Name(),
		Skipped:   proposalRun.Skipped,
		Duplicate: proposalRun.Output.Duplicate,
		Attempts:  proposalRun.Attempts,
	})
	if proposalRun.Skipped {
		// Pipeline or stage disabled: nothing downstream can run either.
		return result, nil
	}

	result.CorrelationID = proposalRun.Output.CorrelationID
	result.ProposalID = proposalRun.Output.ProposalID
	result.Tier = proposalRun.Output.Tier
	if opts.StopAfterProposal {
		return result, nil
	}

	proposal, err := o.proposals.GetProposal(ctx, result.ProposalID)
	if err != nil {
		return nil, &StageError{
			Stage:         o.prioritizeStage.Name(),
			CorrelationID: result.CorrelationID,
			Completed:     result.Stages,
			Err:           fmt.Errorf("load proposal for prioritization: %w", err),
		}
	}
	proposal.CorrelationID = result.CorrelationID

	prioritizeRun := o.prioritizeRunner.Run(ctx, o.prioritizeStage, proposal)
	if prioritizeRun.Err != nil {
		return nil, &StageError{
			Stage:         o.prioritizeStage.Name(),
			CorrelationID: result.CorrelationID,
			Completed:     result.Stages,
			Err:           prioritizeRun.Err,
		}
	}
	result.Stages = append(result.Stages, StageStatus{
		Name:      o.prioritizeStage.Name(),
		Skipped:   prioritizeRun.Skipped,
		Duplicate: prioritizeRun.Output.Duplicate,
		Attempts:  prioritizeRun.Attempts,
	})
	if prioritizeRun.Skipped {
		return result, nil
	}

	result.Score = prioritizeRun.Output.Score
	result.Queue = prioritizeRun.Output.Queue
	if opts.StopAfterPrioritization {
		return result, nil
	}

	// Re-read so the enqueue stage sees the persisted score and queue.
	proposal, err = o.proposals.GetProposal(ctx, result.ProposalID)
	if err != nil {
		return nil, &StageError{
			Stage:         o.enqueueStage.Name(),
			CorrelationID: result.CorrelationID,
			Completed:     result.Stages,
			Err:           fmt.Errorf("load proposal for enqueue: %w", err),
		}
	}
	proposal.CorrelationID = result.CorrelationID

	enqueueRun := o.enqueueRunner.Run(ctx, o.enqueueStage, proposal)
	if enqueueRun.Err != nil {
		return nil, &StageError{
			Stage:         o.enqueueStage.Name(),
			CorrelationID: result.CorrelationID,
			Completed:     result.Stages,
			Err:           enqueueRun.Err,
		}
	}
	result.Stages = append(result.Stages, StageStatus{
		Name:      o.enqueueStage.Name(),
		Skipped:   enqueueRun.Skipped,
		Duplicate: enqueueRun.Output.Duplicate,
		Attempts:  enqueueRun.Attempts,
	})
	if enqueueRun.Skipped {
		return result, nil
	}

	result.JobID = enqueueRun.Output.JobID
	result.Degraded = enqueueRun.Output.Degraded
	result.Latencies = o.measureLatencies(ctx, result.CorrelationID)
	return result, nil
}

func (o *Orchestrator) measureLatencies(ctx context.Context, correlationID string) *Latencies {
	latencies := &Latencies{}
	measure := func(from, to domain.EventName) *time.Duration {
		latency, err := o.log.LatencyBetween(ctx, correlationID, from, to)
		if err != nil {
			if o.logger != nil {
				o.logger.Printf("latency %s->%s unavailable: %v", from, to, err)
			}
			return nil
		}
		return latency
	}
	latencies.FeedbackToProposal = measure(domain.EventFeedbackReceived, domain.EventProposalCreated)
	latencies.ProposalToPrioritization = measure(domain.EventProposalCreated, domain.EventPrioritizationCompleted)
	latencies.PrioritizationToExecution = measure(domain.EventPrioritizationCompleted, domain.EventExecutionEnqueued)
	latencies.EndToEnd = measure(domain.EventFeedbackReceived, domain.EventExecutionEnqueued)
	return latencies
}

// Trace returns every event recorded for a correlation id, oldest first.
func (o *Orchestrator) Trace(ctx context.Context, correlationID string) ([]domain.Event, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("correlation id is required")
	}
	return o.log.ByCorrelation(ctx, correlationID)
}

// Health counts events over the trailing window and derives the stage
// conversion rates from adjacent counts.
func (o *Orchestrator) Health(ctx context.Context, windowMinutes int) (*Health, error) {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	since := time.Now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)
	counts, err := o.log.CountByNameSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	rate := func(numerator, denominator domain.EventName) float64 {
		if counts[denominator] == 0 {
			return 0
		}
		return float64(counts[numerator]) / float64(counts[denominator])
	}

	return &Health{
		WindowMinutes: windowMinutes,
		EventCounts:   counts,
		Conversion: map[string]float64{
			"feedback_to_proposal":        rate(domain.EventProposalCreated, domain.EventFeedbackReceived),
			"proposal_to_prioritization":  rate(domain.EventPrioritizationCompleted, domain.EventProposalCreated),
			"prioritization_to_execution": rate(domain.EventExecutionEnqueued, domain.EventPrioritizationCompleted),
		},
	}, nil
}
