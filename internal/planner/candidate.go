// Package planner aggregates improvement candidates from several stores,
// clusters them by theme, removes near-duplicates, scores and ranks them,
// and emits a versioned queue document with stability metrics.
package planner

import (
	"context"
	"strings"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
)

// Candidate is the common shape every source is normalized into before
// clustering, dedup and scoring.
type Candidate struct {
	ID              string
	Title           string
	Description     string
	Source          domain.CandidateSource
	SourceIDs       []string
	Category        string
	Severity        domain.CandidateSeverity
	OccurrenceCount int
	CreatedAt       time.Time
	LastSeenAt      time.Time
	SourceRef       string
	ErrorHash       string
	OriginalStatus  string
	KnownSolutions  int
}

// FetchOptions widens a source query beyond open items.
type FetchOptions struct {
	IncludeCompleted bool
}

// Source supplies normalized candidates. Fetch errors are handled by the
// planner (logged, degraded to zero items), so implementations should
// return what they have and let the caller decide.
type Source interface {
	Name() domain.CandidateSource
	Fetch(ctx context.Context, opts FetchOptions) ([]Candidate, error)
}

// StaticSource serves a fixed candidate set, for tests and manual runs.
type StaticSource struct {
	SourceName domain.CandidateSource
	Items      []Candidate
	Err        error
}

func (s *StaticSource) Name() domain.CandidateSource { return s.SourceName }

func (s *StaticSource) Fetch(_ context.Context, _ FetchOptions) ([]Candidate, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	items := make([]Candidate, len(s.Items))
	copy(items, s.Items)
	return items, nil
}

// NormalizeSeverity folds source-specific severity synonyms into the
// canonical scale. Unknown or empty values default to medium.
func NormalizeSeverity(raw string) domain.CandidateSeverity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "p0", "critical", "blocker":
		return domain.CandidateSeverityCritical
	case "p1", "high", "major":
		return domain.CandidateSeverityHigh
	case "p2", "medium", "normal":
		return domain.CandidateSeverityMedium
	case "p3", "low", "minor":
		return domain.CandidateSeverityLow
	case "info":
		return domain.CandidateSeverityInfo
	default:
		return domain.CandidateSeverityMedium
	}
}

// normalize fills the defaults every later step relies on.
func normalize(candidate Candidate) Candidate {
	if candidate.Title == "" {
		if candidate.Description != "" {
			title := candidate.Description
			if len(title) > 100 {
				title = title[:100]
			}
			candidate.Title = title
		} else {
			candidate.Title = "Untitled"
		}
	}
	if candidate.Category == "" {
		candidate.Category = "general"
	}
	if candidate.Severity == "" {
		candidate.Severity = domain.CandidateSeverityMedium
	}
	if candidate.OccurrenceCount <= 0 {
		candidate.OccurrenceCount = 1
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = time.Now().UTC()
	}
	if candidate.LastSeenAt.IsZero() {
		candidate.LastSeenAt = candidate.CreatedAt
	}
	if len(candidate.SourceIDs) == 0 && candidate.ID != "" {
		candidate.SourceIDs = []string{candidate.ID}
	}
	return candidate
}
