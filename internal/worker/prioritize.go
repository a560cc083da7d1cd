package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/eventlog"
	"github.com/avelai/feedback-pipeline/internal/ident"
	"github.com/avelai/feedback-pipeline/internal/repository"
)

// PrioritizeResult is the output of the prioritization stage.
type PrioritizeResult struct {
	ProposalID string
	Score      int
	Queue      domain.PriorityQueue
	Duplicate  bool
}

// PrioritizeStage computes the composite priority score for a proposal and
// routes it into one of the four priority queues.
type PrioritizeStage struct {
	log       eventlog.Log
	proposals repository.ProposalsRepository
	logger    *log.Logger
	now       func() time.Time
}

func NewPrioritizeStage(
	log eventlog.Log,
	proposals repository.ProposalsRepository,
	logger *log.Logger,
) *PrioritizeStage {
	return &PrioritizeStage{
		log:       log,
		proposals: proposals,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *PrioritizeStage) Name() string { return "prioritize" }

func (s *PrioritizeStage) Process(ctx context.Context, proposal *domain.Proposal) (PrioritizeResult, error) {
	if proposal == nil || proposal.ID == "" {
		return PrioritizeResult{}, &ValidationError{Field: "proposal", Message: "proposal is required"}
	}

	correlationID := proposal.CorrelationID
	if correlationID == "" {
		correlationID = ident.CorrelationID(proposal.SourceID)
	}

	completedKey := ident.Key(string(domain.EventPrioritizationCompleted), "proposal", proposal.ID, keyVersion)
	existence, err := s.log.Exists(ctx, completedKey)
	if err != nil {
		return PrioritizeResult{}, fmt.Errorf("check idempotency: %w", err)
	}
	if existence.Processed {
		stored, err := s.proposals.GetProposal(ctx, proposal.ID)
		if err != nil {
			return PrioritizeResult{}, fmt.Errorf("load prioritized proposal: %w", err)
		}
		return PrioritizeResult{
			ProposalID: stored.ID,
			Score:      stored.PriorityScore,
			Queue:      stored.PriorityQueue,
			Duplicate:  true,
		}, nil
	}

	startedResult, err := s.log.Emit(ctx, &domain.Event{
		ActorType:      domain.ActorPipeline,
		EventName:      domain.EventPrioritizationStarted,
		EntityType:     "proposal",
		EntityID:       proposal.ID,
		CorrelationID:  correlationID,
		IdempotencyKey: ident.Key(string(domain.EventPrioritizationStarted), "proposal", proposal.ID, keyVersion),
		Payload:        domain.MarshalPayload(domain.PrioritizationPayload{ProposalID: proposal.ID}),
		Severity:       domain.SeverityInfo,
	})
	if err != nil {
		return PrioritizeResult{}, fmt.Errorf("emit prioritization started: %w", err)
	}

	score := s.scoreProposal(proposal)
	queue := queueForScore(score)

	if err := s.proposals.UpdatePrioritization(ctx, proposal.ID, score, queue, domain.ProposalStatusSubmitted); err != nil {
		return PrioritizeResult{}, fmt.Errorf("persist prioritization: %w", err)
	}

	completedResult, err := s.log.Emit(ctx, &domain.Event{
		ActorType:      domain.ActorPipeline,
		EventName:      domain.EventPrioritizationCompleted,
		EntityType:     "proposal",
		EntityID:       proposal.ID,
		CorrelationID:  correlationID,
		IdempotencyKey: completedKey,
		Payload: domain.MarshalPayload(domain.PrioritizationPayload{
			ProposalID: proposal.ID,
			Score:      score,
			Queue:      queue,
		}),
		Severity: domain.SeverityInfo,
	})
	if err != nil {
		return PrioritizeResult{}, fmt.Errorf("emit prioritization completed: %w", err)
	}

	if err := s.log.MarkProcessed(ctx, startedResult.ID); err != nil {
		return PrioritizeResult{}, fmt.Errorf("mark prioritization started processed: %w", err)
	}
	if err := s.log.MarkProcessed(ctx, completedResult.ID); err != nil {
		return PrioritizeResult{}, fmt.Errorf("mark prioritization completed processed: %w", err)
	}

	return PrioritizeResult{ProposalID: proposal.ID, Score: score, Queue: queue}, nil
}

// scoreProposal composes the tier base with a source-reference bonus and a
// freshness bonus, capped at 100.
func (s *PrioritizeStage) scoreProposal(proposal *domain.Proposal) int {
	score := tierBaseScore(proposal.PriorityTier)
	if proposal.SourceRef != "" {
		score += 10
	}
	if s.now().Sub(proposal.CreatedAt) < 24*time.Hour {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

func tierBaseScore(tier domain.PriorityTier) int {
	switch tier {
	case domain.PriorityTierCritical:
		return 100
	case domain.PriorityTierHigh:
		return 75
	case domain.PriorityTierMedium:
		return 50
	case domain.PriorityTierLow:
		return 25
	default:
		return 50
	}
}

func queueForScore(score int) domain.PriorityQueue {
	switch {
	case score >= 90:
		return domain.QueueCritical
	case score >= 70:
		return domain.QueueHighPriority
	case score >= 40:
		return domain.QueueStandard
	default:
		return domain.QueueLowPriority
	}
}
