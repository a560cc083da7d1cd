package planner

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
)

// Scoring weights. They must sum to 1.0 so composite scores stay in [0,100].
const (
	weightSeverity      = 0.30
	weightImpact        = 0.25
	weightRecurrence    = 0.20
	weightRecency       = 0.15
	weightEffortInverse = 0.10
)

var severityScores = map[domain.CandidateSeverity]float64{
	domain.CandidateSeverityCritical: 100,
	domain.CandidateSeverityHigh:     75,
	domain.CandidateSeverityMedium:   50,
	domain.CandidateSeverityLow:      25,
	domain.CandidateSeverityInfo:     10,
}

// effortScore is a fixed placeholder until a real estimator exists; the
// qualitative estimate in estimateEffort is what consumers see.
const effortScore = 60

func scoreToBand(score float64) domain.UrgencyBand {
	switch {
	case score >= 85:
		return domain.BandP0
	case score >= 65:
		return domain.BandP1
	case score >= 40:
		return domain.BandP2
	default:
		return domain.BandP3
	}
}

// scoredCandidate pairs a candidate with its computed score data.
type scoredCandidate struct {
	Candidate
	Score       float64
	UrgencyBand domain.UrgencyBand
	Breakdown   domain.ScoreBreakdown
	Reasoning   string
}

// composite applies the documented weights to a breakdown.
func composite(breakdown domain.ScoreBreakdown) float64 {
	return breakdown.Severity*weightSeverity +
		breakdown.Impact*weightImpact +
		breakdown.Recurrence*weightRecurrence +
		breakdown.Recency*weightRecency +
		breakdown.Effort*weightEffortInverse
}

// scoreCandidate derives the five dimensions and the composite score.
// Impact and recurrence scale with occurrence count; recency decays three
// points per day since creation.
func scoreCandidate(candidate Candidate, now time.Time) scoredCandidate {
	severity, ok := severityScores[candidate.Severity]
	if !ok {
		severity = 50
	}

	occurrences := float64(candidate.OccurrenceCount)
	impact := math.Min(100, occurrences*20)
	recurrence := math.Min(100, occurrences*25)

	daysSinceCreated := now.Sub(candidate.CreatedAt).Hours() / 24
	recency := math.Max(0, 100-daysSinceCreated*3)

	breakdown := domain.ScoreBreakdown{
		Severity:   severity,
		Impact:     impact,
		Recurrence: recurrence,
		Recency:    math.Round(recency),
		Effort:     effortScore,
	}

	score := composite(domain.ScoreBreakdown{
		Severity:   severity,
		Impact:     impact,
		Recurrence: recurrence,
		Recency:    recency,
		Effort:     effortScore,
	})

	return scoredCandidate{
		Candidate:   candidate,
		Score:       round1(score),
		UrgencyBand: scoreToBand(score),
		Breakdown:   breakdown,
		Reasoning:   buildReasoning(candidate, score, severity),
	}
}

// buildReasoning produces the human-readable explanation attached to each
// ranked item.
func buildReasoning(candidate Candidate, score, severityScore float64) string {
	parts := make([]string, 0, 4)

	if severityScore >= 75 {
		parts = append(parts, fmt.Sprintf("%s severity", candidate.Severity))
	}
	if candidate.OccurrenceCount > 1 {
		parts = append(parts, fmt.Sprintf("%d occurrences", candidate.OccurrenceCount))
	}
	if candidate.Source == domain.SourceIssuePattern {
		parts = append(parts, "proven pattern")
	}
	if candidate.KnownSolutions > 0 {
		parts = append(parts, "has known solutions")
	}

	label := map[domain.UrgencyBand]string{
		domain.BandP0: "Critical priority",
		domain.BandP1: "High priority",
		domain.BandP2: "Medium priority",
		domain.BandP3: "Low priority",
	}[scoreToBand(score)]

	if len(parts) == 0 {
		return label + ": standard prioritization"
	}
	return label + ": " + strings.Join(parts, ", ")
}

// estimateEffort grades a candidate qualitatively. Quick fixes and
// documentation work are small; critical items are assumed large.
func estimateEffort(candidate Candidate) domain.EffortEstimate {
	switch {
	case candidate.Source == domain.SourceQuickFixCluster:
		return domain.EffortSmall
	case candidate.Severity == domain.CandidateSeverityCritical:
		return domain.EffortLarge
	case candidate.OccurrenceCount >= 5:
		return domain.EffortMedium
	case strings.EqualFold(candidate.Category, "documentation"):
		return domain.EffortSmall
	default:
		return domain.EffortMedium
	}
}

// requiresHumanApproval flags items an operator must sign off on before
// execution: critical severity, manual submissions, and high scores backed
// by a single occurrence.
func requiresHumanApproval(item scoredCandidate) bool {
	if item.Severity == domain.CandidateSeverityCritical {
		return true
	}
	if item.Source == domain.SourceManual {
		return true
	}
	if item.Score >= 80 && item.OccurrenceCount <= 1 {
		return true
	}
	return false
}
