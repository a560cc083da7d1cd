package domain

import (
	"encoding/json"
	"time"
)

// CandidateSource names where a planner candidate came from.
type CandidateSource string

const (
	SourceFeedback        CandidateSource = "feedback"
	SourceIssuePattern    CandidateSource = "issue_pattern"
	SourceRetrospective   CandidateSource = "retrospective"
	SourceLearning        CandidateSource = "learning"
	SourceQuickFixCluster CandidateSource = "quick_fix_cluster"
	SourceManual          CandidateSource = "manual"
)

// CandidateSeverity is the canonical severity scale. Synonyms from the raw
// sources (P0, blocker, major, ...) are folded into these five values.
type CandidateSeverity string

const (
	CandidateSeverityCritical CandidateSeverity = "critical"
	CandidateSeverityHigh     CandidateSeverity = "high"
	CandidateSeverityMedium   CandidateSeverity = "medium"
	CandidateSeverityLow      CandidateSeverity = "low"
	CandidateSeverityInfo     CandidateSeverity = "info"
)

// UrgencyBand buckets a composite score for consumers that only need a
// coarse priority.
type UrgencyBand string

const (
	BandP0 UrgencyBand = "P0"
	BandP1 UrgencyBand = "P1"
	BandP2 UrgencyBand = "P2"
	BandP3 UrgencyBand = "P3"
)

// EffortEstimate is a qualitative sizing, not a time commitment.
type EffortEstimate string

const (
	EffortSmall  EffortEstimate = "small"
	EffortMedium EffortEstimate = "medium"
	EffortLarge  EffortEstimate = "large"
)

// ScoreBreakdown exposes the per-dimension inputs behind a composite score.
type ScoreBreakdown struct {
	Severity   float64 `json:"severity"`
	Impact     float64 `json:"impact"`
	Recurrence float64 `json:"recurrence"`
	Recency    float64 `json:"recency"`
	Effort     float64 `json:"effort"`
}

// RankedItem is one position in the planner queue.
type RankedItem struct {
	ID              string          `json:"id"`
	Rank            int             `json:"rank"`
	Title           string          `json:"title"`
	Score           float64         `json:"score"`
	UrgencyBand     UrgencyBand     `json:"urgency_band"`
	Source          CandidateSource `json:"source"`
	SourceIDs       []string        `json:"source_ids"`
	ClusterID       string          `json:"cluster_id,omitempty"`
	Reasoning       string          `json:"reasoning"`
	ScoreBreakdown  ScoreBreakdown  `json:"score_breakdown"`
	EstimatedEffort EffortEstimate  `json:"estimated_effort"`
	AwaitingHuman   bool            `json:"awaiting_human_approval"`
	PreviousRank    *int            `json:"previous_rank,omitempty"`
	RankDelta       *int            `json:"rank_delta,omitempty"`
}

// ThemeCluster groups queue items that matched the same theme rule.
type ThemeCluster struct {
	ID             string   `json:"id"`
	Theme          string   `json:"theme"`
	Description    string   `json:"description"`
	CandidateIDs   []string `json:"candidate_ids"`
	AggregateScore float64  `json:"aggregate_score"`
}

// MergeGroup records one dedup decision: which candidate absorbed which.
type MergeGroup struct {
	CanonicalID     string   `json:"canonical_id"`
	MergedIDs       []string `json:"merged_ids"`
	MergeReason     string   `json:"merge_reason"`
	SimilarityScore float64  `json:"similarity_score"`
}

// DedupSummary reports the before/after shape of a deduplication pass.
type DedupSummary struct {
	TotalInput          int          `json:"total_input"`
	TotalOutput         int          `json:"total_output"`
	MergedGroups        []MergeGroup `json:"merged_groups"`
	ReductionPercentage float64      `json:"reduction_percentage"`
}

// StabilityMetrics compare one ranking against the immediately prior run.
// Stability is reported, never enforced.
type StabilityMetrics struct {
	ConsistencyScore float64 `json:"consistency_score"`
	Top5Unchanged    bool    `json:"top_5_unchanged"`
	PositionsChanged int     `json:"positions_changed"`
	ChurnRate        float64 `json:"churn_rate"`
}

// PlannerMetadata carries run bookkeeping alongside the queue.
type PlannerMetadata struct {
	ProcessingTimeMS      int64          `json:"processing_time_ms"`
	ModelVersion          string         `json:"model_version"`
	SourceCounts          map[string]int `json:"source_counts"`
	HumanOverridesPending int            `json:"human_overrides_pending"`
}

// PlannerOutput is the versioned document produced by one planning run.
// Outputs are immutable; prior runs are kept only for stability comparison.
type PlannerOutput struct {
	Version       string           `json:"version"`
	GeneratedAt   time.Time        `json:"generated_at"`
	CorrelationID string           `json:"correlation_id"`
	Queue         []RankedItem     `json:"queue"`
	Clusters      []ThemeCluster   `json:"clusters"`
	Deduplication DedupSummary     `json:"deduplication"`
	Stability     StabilityMetrics `json:"stability"`
	Metadata      PlannerMetadata  `json:"metadata"`
}

// QueueJSON encodes the ranked queue for snapshot persistence.
func (o *PlannerOutput) QueueJSON() (json.RawMessage, error) {
	return json.Marshal(o.Queue)
}
