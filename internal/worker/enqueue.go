package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/eventlog"
	"github.com/avelai/feedback-pipeline/internal/ident"
	"github.com/avelai/feedback-pipeline/internal/queue"
	"github.com/avelai/feedback-pipeline/internal/repository"
	"github.com/google/uuid"
)

// EnqueueResult is the output of the execution-enqueue stage. Degraded
// marks a synthesized, non-persistent job id.
type EnqueueResult struct {
	JobID     string
	Queue     domain.PriorityQueue
	Degraded  bool
	Duplicate bool
}

// EnqueueStage creates the execution job for a prioritized proposal and
// hands it to the work queue. It also owns the idempotent started/completed
// transitions reported back by executing workers.
type EnqueueStage struct {
	log       eventlog.Log
	jobs      repository.ExecutionJobsRepository
	proposals repository.ProposalsRepository
	producer  queue.Producer
	logger    *log.Logger
}

func NewEnqueueStage(
	log eventlog.Log,
	jobs repository.ExecutionJobsRepository,
	proposals repository.ProposalsRepository,
	producer queue.Producer,
	logger *log.Logger,
) *EnqueueStage {
	return &EnqueueStage{
		log:       log,
		jobs:      jobs,
		proposals: proposals,
		producer:  producer,
		logger:    logger,
	}
}

func (s *EnqueueStage) Name() string { return "enqueue" }

func (s *EnqueueStage) Process(ctx context.Context, proposal *domain.Proposal) (EnqueueResult, error) {
	if proposal == nil || proposal.ID == "" {
		return EnqueueResult{}, &ValidationError{Field: "proposal", Message: "proposal is required"}
	}

	correlationID := proposal.CorrelationID
	if correlationID == "" {
		correlationID = ident.CorrelationID(proposal.SourceID)
	}

	enqueuedKey := ident.Key(string(domain.EventExecutionEnqueued), "proposal", proposal.ID, keyVersion)
	existence, err := s.log.Exists(ctx, enqueuedKey)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("check idempotency: %w", err)
	}
	if existence.Processed {
		existing, err := s.jobs.GetByProposalID(ctx, proposal.ID)
		if err == nil {
			return EnqueueResult{
				JobID:     existing.ID,
				Queue:     existing.Queue,
				Degraded:  existing.Degraded,
				Duplicate: true,
			}, nil
		}
		if err != repository.ErrNotFound && err != repository.ErrUnavailable {
			return EnqueueResult{}, fmt.Errorf("load existing execution job: %w", err)
		}
		// Processed but no durable row: the original run took the degraded
		// path. Report the duplicate without a stable job id.
		return EnqueueResult{Queue: proposal.PriorityQueue, Degraded: true, Duplicate: true}, nil
	}

	now := time.Now().UTC()
	job := &domain.ExecutionJob{
		ID:            uuid.NewString(),
		ProposalID:    proposal.ID,
		Queue:         proposal.PriorityQueue,
		Status:        domain.ExecutionStatusPending,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	degraded := false
	switch err := s.jobs.CreateJob(ctx, job); err {
	case nil:
	case repository.ErrConflict:
		existing, lookupErr := s.jobs.GetByProposalID(ctx, proposal.ID)
		if lookupErr != nil {
			return EnqueueResult{}, fmt.Errorf("load conflicting execution job: %w", lookupErr)
		}
		job = existing
	case repository.ErrUnavailable:
		// Keep the pipeline moving with a synthesized id; the job is not
		// durable and the degradation must be visible to callers.
		degraded = true
		job.Degraded = true
		if s.logger != nil {
			s.logger.Printf("execution job store unavailable, synthesized non-persistent job id=%s proposal=%s",
				job.ID, proposal.ID)
		}
	default:
		return EnqueueResult{}, fmt.Errorf("create execution job: %w", err)
	}

	if err := s.proposals.UpdateStatus(ctx, proposal.ID, domain.ProposalStatusPendingVetting); err != nil {
		return EnqueueResult{}, fmt.Errorf("update proposal status: %w", err)
	}

	if s.producer != nil {
		message := domain.QueueMessage{
			JobID:         job.ID,
			ProposalID:    proposal.ID,
			Queue:         job.Queue,
			CorrelationID: correlationID,
			RequestedAt:   now,
		}
		if err := s.producer.Enqueue(ctx, message); err != nil {
			return EnqueueResult{}, fmt.Errorf("publish execution job: %w", err)
		}
	}

	severity := domain.SeverityInfo
	if degraded {
		severity = domain.SeverityWarning
	}
	enqueuedResult, err := s.log.Emit(ctx, &domain.Event{
		ActorType:      domain.ActorPipeline,
		EventName:      domain.EventExecutionEnqueued,
		EntityType:     "proposal",
		EntityID:       proposal.ID,
		CorrelationID:  correlationID,
		IdempotencyKey: enqueuedKey,
		Payload: domain.MarshalPayload(domain.ExecutionEnqueuedPayload{
			JobID:      job.ID,
			ProposalID: proposal.ID,
			Queue:      job.Queue,
			Degraded:   degraded,
		}),
		Severity: severity,
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("emit execution enqueued: %w", err)
	}
	if err := s.log.MarkProcessed(ctx, enqueuedResult.ID); err != nil {
		return EnqueueResult{}, fmt.Errorf("mark execution enqueued processed: %w", err)
	}

	return EnqueueResult{JobID: job.ID, Queue: job.Queue, Degraded: degraded}, nil
}

// MarkStarted transitions a job to running, exactly once per job id.
func (s *EnqueueStage) MarkStarted(ctx context.Context, jobID string) error {
	return s.markTransition(
		ctx,
		jobID,
		domain.EventExecutionStarted,
		domain.ExecutionStatusRunning,
		nil,
	)
}

// MarkCompleted records the terminal status and result, exactly once per
// job id. Status must be one of completed/failed/cancelled.
func (s *EnqueueStage) MarkCompleted(
	ctx context.Context,
	jobID string,
	status domain.ExecutionStatus,
	result json.RawMessage,
) error {
	switch status {
	case domain.ExecutionStatusCompleted, domain.ExecutionStatusFailed, domain.ExecutionStatusCancelled:
	default:
		return &ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a terminal status", status)}
	}
	return s.markTransition(ctx, jobID, domain.EventExecutionCompleted, status, result)
}

func (s *EnqueueStage) markTransition(
	ctx context.Context,
	jobID string,
	eventName domain.EventName,
	status domain.ExecutionStatus,
	result json.RawMessage,
) error {
	if jobID == "" {
		return &ValidationError{Field: "job_id", Message: "job id is required"}
	}

	key := ident.Key(string(eventName), "execution_job", jobID, keyVersion)
	existence, err := s.log.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check idempotency: %w", err)
	}
	if existence.Processed {
		return nil
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load execution job: %w", err)
	}

	if err := s.jobs.UpdateJobStatus(ctx, jobID, status, result); err != nil {
		return fmt.Errorf("update execution job status: %w", err)
	}

	emitted, err := s.log.Emit(ctx, &domain.Event{
		ActorType:      domain.ActorPipeline,
		EventName:      eventName,
		EntityType:     "execution_job",
		EntityID:       jobID,
		CorrelationID:  job.CorrelationID,
		IdempotencyKey: key,
		Payload: domain.MarshalPayload(domain.ExecutionResultPayload{
			JobID:  jobID,
			Status: status,
			Result: result,
		}),
		Severity: domain.SeverityInfo,
	})
	if err != nil {
		return fmt.Errorf("emit %s: %w", eventName, err)
	}
	if err := s.log.MarkProcessed(ctx, emitted.ID); err != nil {
		return fmt.Errorf("mark %s processed: %w", eventName, err)
	}
	return nil
}
