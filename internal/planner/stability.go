package planner

import (
	"log"
	"sort"

	"github.com/avelai/feedback-pipeline/internal/domain"
)

const (
	topNProtected     = 5
	maxPositionChange = 3
)

// rankCandidates sorts scored candidates descending by score and annotates
// each with its previous rank from the prior snapshot when one exists.
// Large swings in the protected top positions are logged, never blocked:
// stability is a metric, not a constraint.
func rankCandidates(scored []scoredCandidate, previous []domain.RankedItem, logger *log.Logger) []rankedCandidate {
	sorted := make([]scoredCandidate, len(scored))
	copy(sorted, scored)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	previousRanks := make(map[string]int, len(previous))
	for _, item := range previous {
		previousRanks[item.ID] = item.Rank
	}

	ranked := make([]rankedCandidate, 0, len(sorted))
	for index, item := range sorted {
		rank := index + 1
		entry := rankedCandidate{scoredCandidate: item, Rank: rank}

		if previousRank, ok := previousRanks[item.ID]; ok {
			delta := previousRank - rank // positive means moved up
			entry.PreviousRank = &previousRank
			entry.RankDelta = &delta

			if previousRank <= topNProtected && abs(delta) > maxPositionChange && logger != nil {
				logger.Printf("significant position change: %s moved %d positions", item.ID, abs(delta))
			}
		}

		entry.AwaitingHuman = requiresHumanApproval(item)
		ranked = append(ranked, entry)
	}
	return ranked
}

type rankedCandidate struct {
	scoredCandidate
	Rank          int
	PreviousRank  *int
	RankDelta     *int
	AwaitingHuman bool
}

// calculateStability compares the new ranking against the prior snapshot.
// With no prior snapshot every ranking is trivially stable.
func calculateStability(ranked []rankedCandidate, hasPrevious bool) domain.StabilityMetrics {
	if !hasPrevious || len(ranked) == 0 {
		return domain.StabilityMetrics{
			ConsistencyScore: 100,
			Top5Unchanged:    true,
			PositionsChanged: 0,
			ChurnRate:        0,
		}
	}

	unchanged := 0
	top5Unchanged := true
	for _, item := range ranked {
		same := item.PreviousRank != nil && *item.PreviousRank == item.Rank
		if same {
			unchanged++
		}
		if item.Rank <= 5 && !same {
			top5Unchanged = false
		}
	}

	total := len(ranked)
	return domain.StabilityMetrics{
		ConsistencyScore: round1(float64(unchanged) / float64(total) * 100),
		Top5Unchanged:    top5Unchanged,
		PositionsChanged: total - unchanged,
		ChurnRate:        round1(float64(total-unchanged) / float64(total) * 100),
	}
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
