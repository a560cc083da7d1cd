package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/quality"
	"github.com/avelai/feedback-pipeline/internal/repository"
)

const (
	// titleSimilarityThreshold is exclusive: similarity must strictly
	// exceed it for two titles to merge.
	titleSimilarityThreshold = 0.80

	minClusterSize = 2
	maxClusters    = 10
	maxCandidates  = 500

	modelVersion = "1.0.0"
)

// Options control one planning run.
type Options struct {
	// DryRun skips snapshot persistence.
	DryRun bool
	// IncludeCompleted widens source queries to resolved items.
	IncludeCompleted bool
}

// Planner aggregates candidates from its sources, deduplicates, scores and
// ranks them, and emits a versioned queue document. Each run is state-free;
// the only cross-run state is the persisted ranking snapshot used for
// stability comparison.
type Planner struct {
	sources  []Source
	rankings repository.RankingsRepository
	logger   *log.Logger
	now      func() time.Time
}

func NewPlanner(sources []Source, rankings repository.RankingsRepository, logger *log.Logger) *Planner {
	return &Planner{
		sources:  sources,
		rankings: rankings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Plan runs one planning cycle.
func (p *Planner) Plan(ctx context.Context, opts Options) (*domain.PlannerOutput, error) {
	started := p.now()
	correlationID := fmt.Sprintf("plan-%d", started.UnixMilli())

	candidates, sourceCounts := p.aggregate(ctx, opts)
	if p.logger != nil {
		p.logger.Printf("planner %s aggregated %d candidates", correlationID, len(candidates))
	}
	if len(candidates) == 0 {
		return p.emptyOutput(correlationID, started), nil
	}

	previous := p.loadPreviousRanking(ctx)

	clusters := clusterByTheme(candidates, minClusterSize, maxClusters)

	deduplicated, dedupSummary := deduplicate(candidates, titleSimilarityThreshold)
	if p.logger != nil {
		p.logger.Printf("planner %s deduplication %d -> %d", correlationID, len(candidates), len(deduplicated))
	}

	scored := make([]scoredCandidate, 0, len(deduplicated))
	now := p.now()
	for _, candidate := range deduplicated {
		scored = append(scored, scoreCandidate(candidate, now))
	}

	ranked := rankCandidates(scored, previous, p.logger)

	output := p.buildOutput(correlationID, started, ranked, clusters, dedupSummary, sourceCounts, previous != nil)
	if err := quality.ValidateRanking(output); err != nil {
		return nil, fmt.Errorf("planner output rejected: %w", err)
	}

	if !opts.DryRun {
		if err := p.persistSnapshot(ctx, output); err != nil {
			return nil, err
		}
	}
	return output, nil
}

// aggregate fetches every source. A failing source degrades to zero items;
// the run never fails on a source error.
func (p *Planner) aggregate(ctx context.Context, opts Options) ([]Candidate, map[string]int) {
	candidates := make([]Candidate, 0)
	sourceCounts := make(map[string]int, len(p.sources))

	for _, source := range p.sources {
		items, err := source.Fetch(ctx, FetchOptions{IncludeCompleted: opts.IncludeCompleted})
		if err != nil {
			if p.logger != nil {
				p.logger.Printf("source %s failed, continuing with zero items: %v", source.Name(), err)
			}
			sourceCounts[string(source.Name())] = 0
			continue
		}
		sourceCounts[string(source.Name())] = len(items)
		candidates = append(candidates, items...)
	}

	if len(candidates) > maxCandidates {
		if p.logger != nil {
			p.logger.Printf("truncating candidates %d -> %d", len(candidates), maxCandidates)
		}
		candidates = candidates[:maxCandidates]
	}
	return candidates, sourceCounts
}

func (p *Planner) loadPreviousRanking(ctx context.Context) []domain.RankedItem {
	raw, err := p.rankings.LatestQueue(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) && p.logger != nil {
			p.logger.Printf("previous ranking unavailable: %v", err)
		}
		return nil
	}

	var previous []domain.RankedItem
	if err := json.Unmarshal(raw, &previous); err != nil {
		if p.logger != nil {
			p.logger.Printf("previous ranking snapshot unreadable: %v", err)
		}
		return nil
	}
	return previous
}

func (p *Planner) persistSnapshot(ctx context.Context, output *domain.PlannerOutput) error {
	queueJSON, err := output.QueueJSON()
	if err != nil {
		return fmt.Errorf("encode ranking queue: %w", err)
	}
	if err := p.rankings.SaveSnapshot(ctx, output.CorrelationID, queueJSON, output.GeneratedAt); err != nil {
		return fmt.Errorf("persist ranking snapshot: %w", err)
	}
	return nil
}

func (p *Planner) buildOutput(
	correlationID string,
	started time.Time,
	ranked []rankedCandidate,
	clusters []domain.ThemeCluster,
	dedupSummary domain.DedupSummary,
	sourceCounts map[string]int,
	hasPrevious bool,
) *domain.PlannerOutput {
	clusterByID := make(map[string]string, len(clusters))
	for _, cluster := range clusters {
		for _, id := range cluster.CandidateIDs {
			clusterByID[id] = cluster.ID
		}
	}

	queue := make([]domain.RankedItem, 0, len(ranked))
	humanPending := 0
	for _, item := range ranked {
		if item.AwaitingHuman {
			humanPending++
		}
		queue = append(queue, domain.RankedItem{
			ID:              item.ID,
			Rank:            item.Rank,
			Title:           item.Title,
			Score:           item.Score,
			UrgencyBand:     item.UrgencyBand,
			Source:          item.Source,
			SourceIDs:       item.SourceIDs,
			ClusterID:       clusterByID[item.ID],
			Reasoning:       item.Reasoning,
			ScoreBreakdown:  item.Breakdown,
			EstimatedEffort: estimateEffort(item.Candidate),
			AwaitingHuman:   item.AwaitingHuman,
			PreviousRank:    item.PreviousRank,
			RankDelta:       item.RankDelta,
		})
	}

	scoreByID := make(map[string]float64, len(queue))
	for _, item := range queue {
		scoreByID[item.ID] = item.Score
	}
	enriched := make([]domain.ThemeCluster, 0, len(clusters))
	for _, cluster := range clusters {
		total := 0.0
		members := 0
		for _, id := range cluster.CandidateIDs {
			if score, ok := scoreByID[id]; ok {
				total += score
				members++
			}
		}
		if members > 0 {
			cluster.AggregateScore = round1(total / float64(members))
		}
		enriched = append(enriched, cluster)
	}

	generatedAt := p.now()
	return &domain.PlannerOutput{
		Version:       modelVersion,
		GeneratedAt:   generatedAt,
		CorrelationID: correlationID,
		Queue:         queue,
		Clusters:      enriched,
		Deduplication: dedupSummary,
		Stability:     calculateStability(ranked, hasPrevious),
		Metadata: domain.PlannerMetadata{
			ProcessingTimeMS:      generatedAt.Sub(started).Milliseconds(),
			ModelVersion:          modelVersion,
			SourceCounts:          sourceCounts,
			HumanOverridesPending: humanPending,
		},
	}
}

// emptyOutput is the fast path when every source came back empty.
func (p *Planner) emptyOutput(correlationID string, started time.Time) *domain.PlannerOutput {
	generatedAt := p.now()
	return &domain.PlannerOutput{
		Version:       modelVersion,
		GeneratedAt:   generatedAt,
		CorrelationID: correlationID,
		Queue:         []domain.RankedItem{},
		Clusters:      []domain.ThemeCluster{},
		Deduplication: domain.DedupSummary{MergedGroups: []domain.MergeGroup{}},
		Stability: domain.StabilityMetrics{
			ConsistencyScore: 100,
			Top5Unchanged:    true,
		},
		Metadata: domain.PlannerMetadata{
			ProcessingTimeMS: generatedAt.Sub(started).Milliseconds(),
			ModelVersion:     modelVersion,
			SourceCounts:     map[string]int{},
		},
	}
}
