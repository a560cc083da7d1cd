// Package quality gates planner output before it is persisted or served.
// A document that fails these checks indicates a planner bug, not bad input,
// so rejection is terminal for the run.
package quality

import (
	"errors"
	"fmt"

	"github.com/avelai/feedback-pipeline/internal/domain"
)

var ErrRankingRejected = errors.New("ranking failed quality checks")

// ValidateRanking verifies the structural invariants of a planner output
// document: contiguous ranks, bounded scores, bands consistent with scores,
// and a deduplication summary that adds up.
func ValidateRanking(output *domain.PlannerOutput) error {
	if output == nil {
		return fmt.Errorf("%w: nil output", ErrRankingRejected)
	}
	if output.Version == "" {
		return fmt.Errorf("%w: missing version", ErrRankingRejected)
	}
	if output.CorrelationID == "" {
		return fmt.Errorf("%w: missing correlation id", ErrRankingRejected)
	}
	if output.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: missing generated_at", ErrRankingRejected)
	}

	seen := make(map[string]struct{}, len(output.Queue))
	for index, item := range output.Queue {
		if item.ID == "" {
			return fmt.Errorf("%w: queue item %d has no id", ErrRankingRejected, index)
		}
		if _, duplicate := seen[item.ID]; duplicate {
			return fmt.Errorf("%w: queue item %s appears twice", ErrRankingRejected, item.ID)
		}
		seen[item.ID] = struct{}{}

		if item.Rank != index+1 {
			return fmt.Errorf("%w: rank %d at position %d breaks contiguity", ErrRankingRejected, item.Rank, index)
		}
		if item.Score < 0 || item.Score > 100 {
			return fmt.Errorf("%w: score %.1f for %s out of range", ErrRankingRejected, item.Score, item.ID)
		}
		if !bandMatchesScore(item.UrgencyBand, item.Score) {
			return fmt.Errorf("%w: band %s inconsistent with score %.1f for %s",
				ErrRankingRejected, item.UrgencyBand, item.Score, item.ID)
		}
		if index > 0 && output.Queue[index-1].Score < item.Score {
			return fmt.Errorf("%w: queue not sorted by score at position %d", ErrRankingRejected, index)
		}
	}

	dedup := output.Deduplication
	if dedup.TotalOutput > dedup.TotalInput {
		return fmt.Errorf("%w: dedup output %d exceeds input %d",
			ErrRankingRejected, dedup.TotalOutput, dedup.TotalInput)
	}
	if dedup.TotalOutput != len(output.Queue) && dedup.TotalInput != 0 {
		return fmt.Errorf("%w: dedup output %d does not match queue length %d",
			ErrRankingRejected, dedup.TotalOutput, len(output.Queue))
	}

	stability := output.Stability
	if stability.ConsistencyScore < 0 || stability.ConsistencyScore > 100 {
		return fmt.Errorf("%w: consistency score %.1f out of range", ErrRankingRejected, stability.ConsistencyScore)
	}
	if stability.ChurnRate < 0 || stability.ChurnRate > 100 {
		return fmt.Errorf("%w: churn rate %.1f out of range", ErrRankingRejected, stability.ChurnRate)
	}
	if stability.PositionsChanged > len(output.Queue) {
		return fmt.Errorf("%w: positions changed %d exceeds queue length %d",
			ErrRankingRejected, stability.PositionsChanged, len(output.Queue))
	}

	return nil
}

// bandMatchesScore mirrors the planner's band thresholds. Scores are
// rounded to one decimal upstream, so the band comparison tolerates a
// half-step of rounding at each boundary.
func bandMatchesScore(band domain.UrgencyBand, score float64) bool {
	expected := domain.BandP3
	switch {
	case score >= 85:
		expected = domain.BandP0
	case score >= 65:
		expected = domain.BandP1
	case score >= 40:
		expected = domain.BandP2
	}
	if band == expected {
		return true
	}
	// A score rounded up across a boundary may carry the lower band.
	for _, boundary := range []float64{85, 65, 40} {
		if score >= boundary && score < boundary+0.05 {
			return true
		}
	}
	return false
}
