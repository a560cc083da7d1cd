package planner

import (
	"testing"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeFormula(t *testing.T) {
	// 100*0.30 + 100*0.25 + 25*0.20 + 100*0.15 + 60*0.10 = 81.
	score := composite(domain.ScoreBreakdown{
		Severity:   100,
		Impact:     100,
		Recurrence: 25,
		Recency:    100,
		Effort:     60,
	})
	assert.InDelta(t, 81.0, score, 1e-9)
}

func TestScoreCandidateSameDayCritical(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	scored := scoreCandidate(Candidate{
		ID:              "c1",
		Title:           "Fix login bug",
		Severity:        domain.CandidateSeverityCritical,
		OccurrenceCount: 1,
		CreatedAt:       now,
	}, now)

	// severity 100, impact 20, recurrence 25, recency 100, effort 60.
	assert.InDelta(t, 61.0, scored.Score, 1e-9)
	assert.Equal(t, domain.BandP2, scored.UrgencyBand)
	assert.InDelta(t, 100.0, scored.Breakdown.Severity, 1e-9)
	assert.InDelta(t, 20.0, scored.Breakdown.Impact, 1e-9)
	assert.InDelta(t, 25.0, scored.Breakdown.Recurrence, 1e-9)
	assert.InDelta(t, 100.0, scored.Breakdown.Recency, 1e-9)
}

func TestScoreCandidateBounds(t *testing.T) {
	now := time.Now().UTC()
	severities := []domain.CandidateSeverity{
		domain.CandidateSeverityCritical,
		domain.CandidateSeverityHigh,
		domain.CandidateSeverityMedium,
		domain.CandidateSeverityLow,
		domain.CandidateSeverityInfo,
	}
	ages := []time.Duration{0, 24 * time.Hour, 40 * 24 * time.Hour, 5000 * 24 * time.Hour}
	occurrences := []int{1, 3, 10, 500}

	for _, severity := range severities {
		for _, age := range ages {
			for _, occurrence := range occurrences {
				scored := scoreCandidate(Candidate{
					ID:              "c",
					Severity:        severity,
					OccurrenceCount: occurrence,
					CreatedAt:       now.Add(-age),
				}, now)
				require.GreaterOrEqual(t, scored.Score, 0.0)
				require.LessOrEqual(t, scored.Score, 100.0)
			}
		}
	}
}

func TestScoreToBandThresholds(t *testing.T) {
	assert.Equal(t, domain.BandP0, scoreToBand(85))
	assert.Equal(t, domain.BandP1, scoreToBand(84.9))
	assert.Equal(t, domain.BandP1, scoreToBand(65))
	assert.Equal(t, domain.BandP2, scoreToBand(64.9))
	assert.Equal(t, domain.BandP2, scoreToBand(40))
	assert.Equal(t, domain.BandP3, scoreToBand(39.9))
}

func TestRecencyDecay(t *testing.T) {
	now := time.Now().UTC()
	scored := scoreCandidate(Candidate{
		ID:              "c",
		Severity:        domain.CandidateSeverityMedium,
		OccurrenceCount: 1,
		CreatedAt:       now.Add(-10 * 24 * time.Hour),
	}, now)
	// 100 - 10 days * 3 points.
	assert.InDelta(t, 70.0, scored.Breakdown.Recency, 1e-6)

	stale := scoreCandidate(Candidate{
		ID:              "c",
		Severity:        domain.CandidateSeverityMedium,
		OccurrenceCount: 1,
		CreatedAt:       now.Add(-400 * 24 * time.Hour),
	}, now)
	assert.Zero(t, stale.Breakdown.Recency)
}

func TestBuildReasoning(t *testing.T) {
	scored := scoreCandidate(Candidate{
		ID:              "c",
		Severity:        domain.CandidateSeverityCritical,
		Source:          domain.SourceIssuePattern,
		OccurrenceCount: 4,
		KnownSolutions:  2,
		CreatedAt:       time.Now().UTC(),
	}, time.Now().UTC())

	assert.Contains(t, scored.Reasoning, "critical severity")
	assert.Contains(t, scored.Reasoning, "4 occurrences")
	assert.Contains(t, scored.Reasoning, "proven pattern")
	assert.Contains(t, scored.Reasoning, "has known solutions")

	plain := scoreCandidate(Candidate{
		ID:              "c2",
		Severity:        domain.CandidateSeverityLow,
		OccurrenceCount: 1,
		CreatedAt:       time.Now().UTC().Add(-100 * 24 * time.Hour),
	}, time.Now().UTC())
	assert.Contains(t, plain.Reasoning, "standard prioritization")
}

func TestEstimateEffortHeuristic(t *testing.T) {
	assert.Equal(t, domain.EffortSmall, estimateEffort(Candidate{Source: domain.SourceQuickFixCluster}))
	assert.Equal(t, domain.EffortLarge, estimateEffort(Candidate{Severity: domain.CandidateSeverityCritical}))
	assert.Equal(t, domain.EffortMedium, estimateEffort(Candidate{OccurrenceCount: 5}))
	assert.Equal(t, domain.EffortSmall, estimateEffort(Candidate{Category: "documentation"}))
	assert.Equal(t, domain.EffortMedium, estimateEffort(Candidate{Category: "general"}))
}

func TestRequiresHumanApproval(t *testing.T) {
	critical := scoredCandidate{Candidate: Candidate{Severity: domain.CandidateSeverityCritical}}
	assert.True(t, requiresHumanApproval(critical))

	manual := scoredCandidate{Candidate: Candidate{Source: domain.SourceManual, Severity: domain.CandidateSeverityLow}}
	assert.True(t, requiresHumanApproval(manual))

	highSingle := scoredCandidate{
		Candidate: Candidate{Severity: domain.CandidateSeverityHigh, OccurrenceCount: 1},
		Score:     82,
	}
	assert.True(t, requiresHumanApproval(highSingle))

	routine := scoredCandidate{
		Candidate: Candidate{Severity: domain.CandidateSeverityMedium, OccurrenceCount: 3},
		Score:     55,
	}
	assert.False(t, requiresHumanApproval(routine))
}
