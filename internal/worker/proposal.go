package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/eventlog"
	"github.com/avelai/feedback-pipeline/internal/ident"
	"github.com/avelai/feedback-pipeline/internal/policy"
	"github.com/avelai/feedback-pipeline/internal/repository"
	"github.com/google/uuid"
)

const keyVersion = 1

// ProposalResult is the output of the intake stage.
type ProposalResult struct {
	ProposalID    string
	CorrelationID string
	Tier          domain.PriorityTier
	Duplicate     bool
}

// ProposalStage turns a feedback item into a proposal record, exactly once
// per feedback id regardless of how many times it is invoked.
type ProposalStage struct {
	log       eventlog.Log
	proposals repository.ProposalsRepository
	logger    *log.Logger
}

func NewProposalStage(
	log eventlog.Log,
	proposals repository.ProposalsRepository,
	logger *log.Logger,
) *ProposalStage {
	return &ProposalStage{log: log, proposals: proposals, logger: logger}
}

func (s *ProposalStage) Name() string { return "proposal" }

func (s *ProposalStage) Process(ctx context.Context, feedback domain.Feedback) (ProposalResult, error) {
	if strings.TrimSpace(feedback.ID) == "" {
		return ProposalResult{}, &ValidationError{Field: "id", Message: "feedback id is required"}
	}
	if strings.TrimSpace(feedback.Title) == "" {
		return ProposalResult{}, &ValidationError{Field: "title", Message: "feedback title is required"}
	}

	correlationID := feedback.CorrelationID
	if correlationID == "" {
		correlationID = ident.CorrelationID(feedback.ID)
	}

	createdKey := ident.Key(string(domain.EventProposalCreated), "feedback", feedback.ID, keyVersion)
	existence, err := s.log.Exists(ctx, createdKey)
	if err != nil {
		return ProposalResult{}, fmt.Errorf("check idempotency: %w", err)
	}
	if existence.Processed {
		existing, err := s.proposals.GetBySourceID(ctx, feedback.ID)
		if err != nil {
			return ProposalResult{}, fmt.Errorf("load existing proposal: %w", err)
		}
		return ProposalResult{
			ProposalID:    existing.ID,
			CorrelationID: correlationID,
			Tier:          existing.PriorityTier,
			Duplicate:     true,
		}, nil
	}

	receivedResult, err := s.log.Emit(ctx, &domain.Event{
		ActorType:      domain.ActorPipeline,
		EventName:      domain.EventFeedbackReceived,
		EntityType:     "feedback",
		EntityID:       feedback.ID,
		CorrelationID:  correlationID,
		IdempotencyKey: ident.Key(string(domain.EventFeedbackReceived), "feedback", feedback.ID, keyVersion),
		Payload: domain.MarshalPayload(domain.FeedbackReceivedPayload{
			FeedbackID: feedback.ID,
			Title:      feedback.Title,
			Priority:   feedback.Priority,
		}),
		Severity: domain.SeverityInfo,
	})
	if err != nil {
		return ProposalResult{}, fmt.Errorf("emit feedback received: %w", err)
	}

	tier := tierForPriority(feedback.Priority)
	now := time.Now().UTC()
	proposal := &domain.Proposal{
		ID:            uuid.NewString(),
		SourceID:      feedback.ID,
		Title:         feedback.Title,
		Description:   policy.MaskPIIString(feedback.Description),
		Status:        domain.ProposalStatusDraft,
		PriorityTier:  tier,
		SourceRef:     feedback.SourceRef,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.proposals.CreateProposal(ctx, proposal); err != nil {
		if err != repository.ErrConflict {
			return ProposalResult{}, fmt.Errorf("create proposal: %w", err)
		}
		// A concurrent invocation won the insert; converge on its row.
		existing, lookupErr := s.proposals.GetBySourceID(ctx, feedback.ID)
		if lookupErr != nil {
			return ProposalResult{}, fmt.Errorf("load conflicting proposal: %w", lookupErr)
		}
		proposal = existing
	}

	createdResult, err := s.log.Emit(ctx, &domain.Event{
		ActorType:      domain.ActorPipeline,
		EventName:      domain.EventProposalCreated,
		EntityType:     "feedback",
		EntityID:       feedback.ID,
		CorrelationID:  correlationID,
		IdempotencyKey: createdKey,
		Payload: domain.MarshalPayload(domain.ProposalCreatedPayload{
			ProposalID: proposal.ID,
			SourceID:   feedback.ID,
			Tier:       proposal.PriorityTier,
		}),
		Severity: domain.SeverityInfo,
	})
	if err != nil {
		return ProposalResult{}, fmt.Errorf("emit proposal created: %w", err)
	}

	if err := s.log.MarkProcessed(ctx, receivedResult.ID); err != nil {
		return ProposalResult{}, fmt.Errorf("mark feedback received processed: %w", err)
	}
	if err := s.log.MarkProcessed(ctx, createdResult.ID); err != nil {
		return ProposalResult{}, fmt.Errorf("mark proposal created processed: %w", err)
	}

	return ProposalResult{
		ProposalID:    proposal.ID,
		CorrelationID: correlationID,
		Tier:          proposal.PriorityTier,
	}, nil
}

func tierForPriority(priority domain.FeedbackPriority) domain.PriorityTier {
	switch priority {
	case domain.FeedbackPriorityP0:
		return domain.PriorityTierCritical
	case domain.FeedbackPriorityP1:
		return domain.PriorityTierHigh
	case domain.FeedbackPriorityP2:
		return domain.PriorityTierMedium
	case domain.FeedbackPriorityP3:
		return domain.PriorityTierLow
	default:
		return domain.PriorityTierMedium
	}
}
