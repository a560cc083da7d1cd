package domain

import (
	"encoding/json"
	"time"
)

type FeedbackPriority string

const (
	FeedbackPriorityP0 FeedbackPriority = "P0"
	FeedbackPriorityP1 FeedbackPriority = "P1"
	FeedbackPriorityP2 FeedbackPriority = "P2"
	FeedbackPriorityP3 FeedbackPriority = "P3"
)

// Feedback is the raw intake item that starts a pipeline run.
type Feedback struct {
	ID            string
	Title         string
	Description   string
	Category      string
	Priority      FeedbackPriority
	SourceRef     string
	CorrelationID string
	CreatedAt     time.Time
}

type ProposalStatus string

const (
	ProposalStatusDraft          ProposalStatus = "draft"
	ProposalStatusSubmitted      ProposalStatus = "submitted"
	ProposalStatusPendingVetting ProposalStatus = "pending_vetting"
	ProposalStatusVetted         ProposalStatus = "vetted"
	ProposalStatusRejected       ProposalStatus = "rejected"
)

type PriorityTier string

const (
	PriorityTierCritical PriorityTier = "critical"
	PriorityTierHigh     PriorityTier = "high"
	PriorityTierMedium   PriorityTier = "medium"
	PriorityTierLow      PriorityTier = "low"
)

type PriorityQueue string

const (
	QueueCritical     PriorityQueue = "critical"
	QueueHighPriority PriorityQueue = "high_priority"
	QueueStandard     PriorityQueue = "standard"
	QueueLowPriority  PriorityQueue = "low_priority"
)

// Proposal is derived from feedback by the intake stage and mutated by the
// prioritization stage. SourceID is unique per originating feedback item.
type Proposal struct {
	ID            string
	SourceID      string
	Title         string
	Description   string
	Status        ProposalStatus
	PriorityTier  PriorityTier
	PriorityScore int
	PriorityQueue PriorityQueue
	SourceRef     string
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// ExecutionJob links a proposal to a work queue. Degraded marks jobs whose
// id was synthesized because the backing table was unavailable.
type ExecutionJob struct {
	ID            string
	ProposalID    string
	Queue         PriorityQueue
	Status        ExecutionStatus
	Degraded      bool
	Result        json.RawMessage
	ErrorMessage  string
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// QueueMessage is the transport format sent to the execution queue backend.
type QueueMessage struct {
	JobID         string        `json:"job_id"`
	ProposalID    string        `json:"proposal_id"`
	Queue         PriorityQueue `json:"queue"`
	CorrelationID string        `json:"correlation_id"`
	Attempt       int           `json:"attempt"`
	RequestedAt   time.Time     `json:"requested_at"`
}
