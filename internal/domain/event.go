package domain

import (
	"encoding/json"
	"time"
)

type ActorType string

const (
	ActorPipeline ActorType = "pipeline"
	ActorPlanner  ActorType = "planner"
)

type EventName string

const (
	EventFeedbackReceived        EventName = "feedback_received"
	EventProposalCreated         EventName = "proposal_created"
	EventPrioritizationStarted   EventName = "prioritization_started"
	EventPrioritizationCompleted EventName = "prioritization_completed"
	EventExecutionEnqueued       EventName = "execution_enqueued"
	EventExecutionStarted        EventName = "execution_started"
	EventExecutionCompleted      EventName = "execution_completed"
)

type EventSeverity string

const (
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// Event is an immutable append-only record. IdempotencyKey is unique across
// the whole log; ProcessedAt transitions from nil to a timestamp exactly once.
type Event struct {
	ID             string          `json:"id"`
	ActorType      ActorType       `json:"actor_type"`
	EventName      EventName       `json:"event_name"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	CorrelationID  string          `json:"correlation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Severity       EventSeverity   `json:"severity"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

// One payload struct per event name; events never carry open maps.

type FeedbackReceivedPayload struct {
	FeedbackID string           `json:"feedback_id"`
	Title      string           `json:"title"`
	Priority   FeedbackPriority `json:"priority"`
}

type ProposalCreatedPayload struct {
	ProposalID string       `json:"proposal_id"`
	SourceID   string       `json:"source_id"`
	Tier       PriorityTier `json:"tier"`
}

type PrioritizationPayload struct {
	ProposalID string        `json:"proposal_id"`
	Score      int           `json:"score"`
	Queue      PriorityQueue `json:"queue,omitempty"`
}

type ExecutionEnqueuedPayload struct {
	JobID      string        `json:"job_id"`
	ProposalID string        `json:"proposal_id"`
	Queue      PriorityQueue `json:"queue"`
	Degraded   bool          `json:"degraded,omitempty"`
}

type ExecutionResultPayload struct {
	JobID  string          `json:"job_id"`
	Status ExecutionStatus `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// MarshalPayload encodes a typed event payload for storage.
func MarshalPayload(payload any) json.RawMessage {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return encoded
}
