package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticCandidates(now time.Time) []Candidate {
	return []Candidate{
		normalize(Candidate{
			ID:              "fb-1",
			Title:           "Fix database migration ordering",
			Source:          domain.SourceFeedback,
			Severity:        domain.CandidateSeverityCritical,
			OccurrenceCount: 1,
			CreatedAt:       now.Add(-12 * time.Hour),
		}),
		normalize(Candidate{
			ID:              "pat-1",
			Title:           "Schema drift keeps breaking deploys",
			Source:          domain.SourceIssuePattern,
			Severity:        domain.CandidateSeverityHigh,
			OccurrenceCount: 6,
			CreatedAt:       now.Add(-48 * time.Hour),
		}),
		normalize(Candidate{
			ID:              "qf-1",
			Title:           "Update readme quickstart steps",
			Source:          domain.SourceQuickFixCluster,
			Severity:        domain.CandidateSeverityLow,
			OccurrenceCount: 1,
			CreatedAt:       now.Add(-30 * 24 * time.Hour),
		}),
	}
}

func newTestPlanner(now time.Time, rankings repository.RankingsRepository) *Planner {
	planner := NewPlanner([]Source{
		&StaticSource{SourceName: domain.SourceFeedback, Items: staticCandidates(now)},
	}, rankings, nil)
	planner.now = func() time.Time { return now }
	return planner
}

func TestPlanProducesRankedValidatedOutput(t *testing.T) {
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	rankings := repository.NewMemoryRankings()
	planner := newTestPlanner(now, rankings)

	output, err := planner.Plan(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, output.Queue, 3)
	for index, item := range output.Queue {
		assert.Equal(t, index+1, item.Rank)
		if index > 0 {
			assert.GreaterOrEqual(t, output.Queue[index-1].Score, item.Score)
		}
	}

	assert.Equal(t, "1.0.0", output.Version)
	assert.NotEmpty(t, output.CorrelationID)
	assert.Equal(t, 3, output.Deduplication.TotalInput)
	assert.Equal(t, 3, output.Deduplication.TotalOutput)
	assert.Equal(t, 3, output.Metadata.SourceCounts[string(domain.SourceFeedback)])

	// The snapshot must be durable for the next run's comparison.
	snapshot, err := rankings.LatestQueue(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snapshot)
}

func TestPlanStabilityOnUnchangedInput(t *testing.T) {
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	rankings := repository.NewMemoryRankings()
	planner := newTestPlanner(now, rankings)
	ctx := context.Background()

	first, err := planner.Plan(ctx, Options{})
	require.NoError(t, err)
	// No prior snapshot: trivially stable.
	assert.InDelta(t, 100.0, first.Stability.ConsistencyScore, 1e-9)

	second, err := planner.Plan(ctx, Options{})
	require.NoError(t, err)

	assert.InDelta(t, 100.0, second.Stability.ConsistencyScore, 1e-9)
	assert.Zero(t, second.Stability.ChurnRate)
	assert.True(t, second.Stability.Top5Unchanged)
	assert.Zero(t, second.Stability.PositionsChanged)

	for index, item := range second.Queue {
		require.NotNil(t, item.PreviousRank)
		assert.Equal(t, index+1, *item.PreviousRank)
		require.NotNil(t, item.RankDelta)
		assert.Zero(t, *item.RankDelta)
	}
}

func TestPlanDryRunSkipsPersistence(t *testing.T) {
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	rankings := repository.NewMemoryRankings()
	planner := newTestPlanner(now, rankings)

	_, err := planner.Plan(context.Background(), Options{DryRun: true})
	require.NoError(t, err)

	_, err = rankings.LatestQueue(context.Background())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPlanDegradesOnFailingSource(t *testing.T) {
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	planner := NewPlanner([]Source{
		&StaticSource{SourceName: domain.SourceFeedback, Items: staticCandidates(now)},
		&StaticSource{SourceName: domain.SourceIssuePattern, Err: errors.New("connection refused")},
	}, repository.NewMemoryRankings(), nil)
	planner.now = func() time.Time { return now }

	output, err := planner.Plan(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, output.Queue, 3)
	assert.Equal(t, 0, output.Metadata.SourceCounts[string(domain.SourceIssuePattern)])
}

func TestPlanEmptyInputFastPath(t *testing.T) {
	planner := NewPlanner([]Source{
		&StaticSource{SourceName: domain.SourceFeedback},
	}, repository.NewMemoryRankings(), nil)

	output, err := planner.Plan(context.Background(), Options{})
	require.NoError(t, err)

	assert.Empty(t, output.Queue)
	assert.Empty(t, output.Clusters)
	assert.Zero(t, output.Deduplication.TotalInput)
	assert.InDelta(t, 100.0, output.Stability.ConsistencyScore, 1e-9)
	assert.True(t, output.Stability.Top5Unchanged)
}

func TestPlanTruncatesAtCandidateCap(t *testing.T) {
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	items := make([]Candidate, 0, maxCandidates+10)
	for i := 0; i < maxCandidates+10; i++ {
		items = append(items, normalize(Candidate{
			ID:        fmt.Sprintf("cand-%d", i),
			Title:     fmt.Sprintf("distinct title number %d entirely unique %d", i, i*7),
			Source:    domain.SourceFeedback,
			CreatedAt: now,
		}))
	}
	planner := NewPlanner([]Source{
		&StaticSource{SourceName: domain.SourceFeedback, Items: items},
	}, repository.NewMemoryRankings(), nil)
	planner.now = func() time.Time { return now }

	output, err := planner.Plan(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, maxCandidates, output.Deduplication.TotalInput)
}

func TestPlanFlagsCriticalForHumanApproval(t *testing.T) {
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	planner := newTestPlanner(now, repository.NewMemoryRankings())

	output, err := planner.Plan(context.Background(), Options{DryRun: true})
	require.NoError(t, err)

	flagged := 0
	for _, item := range output.Queue {
		if item.ID == "fb-1" {
			assert.True(t, item.AwaitingHuman, "critical items need sign-off")
		}
		if item.AwaitingHuman {
			flagged++
		}
	}
	assert.Equal(t, flagged, output.Metadata.HumanOverridesPending)
}
