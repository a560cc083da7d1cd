package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSources builds the five standard sources on one shared pool.
func PostgresSources(pool *pgxpool.Pool) []Source {
	return []Source{
		NewFeedbackSource(pool),
		NewIssuePatternSource(pool),
		NewRetrospectiveSource(pool),
		NewLearningSource(pool),
		NewQuickFixSource(pool),
	}
}

// FeedbackSource reads open feedback items.
type FeedbackSource struct {
	pool *pgxpool.Pool
}

func NewFeedbackSource(pool *pgxpool.Pool) *FeedbackSource {
	return &FeedbackSource{pool: pool}
}

func (s *FeedbackSource) Name() domain.CandidateSource { return domain.SourceFeedback }

func (s *FeedbackSource) Fetch(ctx context.Context, opts FetchOptions) ([]Candidate, error) {
	statuses := []string{"new", "triaged", "in_progress"}
	if opts.IncludeCompleted {
		statuses = append(statuses, "resolved")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, category, severity, source_ref,
			error_hash, status, created_at
		FROM feedback
		WHERE status = ANY($1)
		ORDER BY created_at DESC
		LIMIT 100
	`, statuses)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0)
	for rows.Next() {
		var (
			candidate   Candidate
			description *string
			category    *string
			severity    *string
			sourceRef   *string
			errorHash   *string
		)
		if err := rows.Scan(
			&candidate.ID,
			&candidate.Title,
			&description,
			&category,
			&severity,
			&sourceRef,
			&errorHash,
			&candidate.OriginalStatus,
			&candidate.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}
		candidate.Source = domain.SourceFeedback
		candidate.Description = stringValue(description)
		candidate.Category = stringValue(category)
		candidate.Severity = NormalizeSeverity(stringValue(severity))
		candidate.SourceRef = stringValue(sourceRef)
		candidate.ErrorHash = stringValue(errorHash)
		candidates = append(candidates, normalize(candidate))
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate feedback rows: %w", rows.Err())
	}
	return candidates, nil
}

// IssuePatternSource reads recurring issue patterns, most frequent first.
type IssuePatternSource struct {
	pool *pgxpool.Pool
}

func NewIssuePatternSource(pool *pgxpool.Pool) *IssuePatternSource {
	return &IssuePatternSource{pool: pool}
}

func (s *IssuePatternSource) Name() domain.CandidateSource { return domain.SourceIssuePattern }

func (s *IssuePatternSource) Fetch(ctx context.Context, opts FetchOptions) ([]Candidate, error) {
	statuses := []string{"draft", "active"}
	if opts.IncludeCompleted {
		statuses = append(statuses, "resolved")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT pattern_id, issue_summary, category, severity, occurrence_count,
			proven_solutions, status, created_at, updated_at
		FROM issue_patterns
		WHERE status = ANY($1)
		ORDER BY occurrence_count DESC
		LIMIT 100
	`, statuses)
	if err != nil {
		return nil, fmt.Errorf("query issue patterns: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0)
	for rows.Next() {
		var (
			candidate Candidate
			category  *string
			severity  *string
			solutions []byte
			updatedAt *time.Time
		)
		if err := rows.Scan(
			&candidate.ID,
			&candidate.Title,
			&category,
			&severity,
			&candidate.OccurrenceCount,
			&solutions,
			&candidate.OriginalStatus,
			&candidate.CreatedAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan issue pattern row: %w", err)
		}
		candidate.Source = domain.SourceIssuePattern
		candidate.Description = candidate.Title
		candidate.Category = stringValue(category)
		candidate.Severity = NormalizeSeverity(stringValue(severity))
		candidate.KnownSolutions = countJSONArray(solutions)
		if updatedAt != nil {
			candidate.LastSeenAt = *updatedAt
		}
		candidates = append(candidates, normalize(candidate))
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate issue pattern rows: %w", rows.Err())
	}
	return candidates, nil
}

// RetrospectiveSource flattens each retrospective's key learnings into one
// candidate per learning.
type RetrospectiveSource struct {
	pool *pgxpool.Pool
}

func NewRetrospectiveSource(pool *pgxpool.Pool) *RetrospectiveSource {
	return &RetrospectiveSource{pool: pool}
}

func (s *RetrospectiveSource) Name() domain.CandidateSource { return domain.SourceRetrospective }

func (s *RetrospectiveSource) Fetch(ctx context.Context, _ FetchOptions) ([]Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_ref, key_learnings, created_at
		FROM retrospectives
		ORDER BY created_at DESC
		LIMIT 50
	`)
	if err != nil {
		return nil, fmt.Errorf("query retrospectives: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0)
	for rows.Next() {
		var (
			retroID   string
			sourceRef *string
			learnings []byte
			createdAt time.Time
		)
		if err := rows.Scan(&retroID, &sourceRef, &learnings, &createdAt); err != nil {
			return nil, fmt.Errorf("scan retrospective row: %w", err)
		}
		for _, learning := range flattenLearnings(learnings) {
			candidate := Candidate{
				ID:          fmt.Sprintf("%s-%d", retroID, len(candidates)),
				Title:       learning.title,
				Description: learning.evidence,
				Source:      domain.SourceRetrospective,
				Category:    "learning",
				Severity:    domain.CandidateSeverityMedium,
				CreatedAt:   createdAt,
				SourceRef:   stringValue(sourceRef),
			}
			candidates = append(candidates, normalize(candidate))
		}
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate retrospective rows: %w", rows.Err())
	}
	return candidates, nil
}

type learningEntry struct {
	title    string
	evidence string
}

// flattenLearnings accepts both legacy plain-string arrays and structured
// {learning, evidence} objects.
func flattenLearnings(raw []byte) []learningEntry {
	if len(raw) == 0 {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	flattened := make([]learningEntry, 0, len(entries))
	for _, entry := range entries {
		var text string
		if err := json.Unmarshal(entry, &text); err == nil {
			if text != "" {
				flattened = append(flattened, learningEntry{title: text})
			}
			continue
		}
		var structured struct {
			Learning string `json:"learning"`
			Title    string `json:"title"`
			Evidence string `json:"evidence"`
		}
		if err := json.Unmarshal(entry, &structured); err != nil {
			continue
		}
		title := structured.Learning
		if title == "" {
			title = structured.Title
		}
		if title == "" {
			continue
		}
		flattened = append(flattened, learningEntry{title: title, evidence: structured.Evidence})
	}
	return flattened
}

// LearningSource reads the protocol improvement queue.
type LearningSource struct {
	pool *pgxpool.Pool
}

func NewLearningSource(pool *pgxpool.Pool) *LearningSource {
	return &LearningSource{pool: pool}
}

func (s *LearningSource) Name() domain.CandidateSource { return domain.SourceLearning }

func (s *LearningSource) Fetch(ctx context.Context, opts FetchOptions) ([]Candidate, error) {
	statuses := []string{"pending"}
	if opts.IncludeCompleted {
		statuses = append(statuses, "applied", "skipped")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, improvement_type, description, evidence_count,
			source_retro_id, status, created_at
		FROM protocol_improvements
		WHERE status = ANY($1)
		ORDER BY evidence_count DESC
		LIMIT 50
	`, statuses)
	if err != nil {
		return nil, fmt.Errorf("query protocol improvements: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0)
	for rows.Next() {
		var (
			candidate     Candidate
			improvement   *string
			description   *string
			evidenceCount int
			retroID       *string
		)
		if err := rows.Scan(
			&candidate.ID,
			&improvement,
			&description,
			&evidenceCount,
			&retroID,
			&candidate.OriginalStatus,
			&candidate.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan protocol improvement row: %w", err)
		}
		candidate.Source = domain.SourceLearning
		candidate.Description = stringValue(description)
		candidate.Category = stringValue(improvement)
		candidate.Severity = severityFromEvidence(evidenceCount)
		candidate.OccurrenceCount = evidenceCount
		candidate.SourceRef = stringValue(retroID)
		candidates = append(candidates, normalize(candidate))
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate protocol improvement rows: %w", rows.Err())
	}
	return candidates, nil
}

// severityFromEvidence grades an improvement by how often it was observed.
func severityFromEvidence(count int) domain.CandidateSeverity {
	switch {
	case count >= 10:
		return domain.CandidateSeverityHigh
	case count >= 3:
		return domain.CandidateSeverityMedium
	default:
		return domain.CandidateSeverityLow
	}
}

// QuickFixSource reads open quick fixes.
type QuickFixSource struct {
	pool *pgxpool.Pool
}

func NewQuickFixSource(pool *pgxpool.Pool) *QuickFixSource {
	return &QuickFixSource{pool: pool}
}

func (s *QuickFixSource) Name() domain.CandidateSource { return domain.SourceQuickFixCluster }

func (s *QuickFixSource) Fetch(ctx context.Context, _ FetchOptions) ([]Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, type, severity, description, status, created_at
		FROM quick_fixes
		WHERE status = ANY($1)
		ORDER BY created_at DESC
		LIMIT 50
	`, []string{"open", "in_progress"})
	if err != nil {
		return nil, fmt.Errorf("query quick fixes: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0)
	for rows.Next() {
		var (
			candidate   Candidate
			fixType     *string
			severity    *string
			description *string
		)
		if err := rows.Scan(
			&candidate.ID,
			&candidate.Title,
			&fixType,
			&severity,
			&description,
			&candidate.OriginalStatus,
			&candidate.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan quick fix row: %w", err)
		}
		candidate.Source = domain.SourceQuickFixCluster
		candidate.Category = stringValue(fixType)
		candidate.Severity = NormalizeSeverity(stringValue(severity))
		candidate.Description = stringValue(description)
		candidates = append(candidates, normalize(candidate))
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate quick fix rows: %w", rows.Err())
	}
	return candidates, nil
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func countJSONArray(raw []byte) int {
	if len(raw) == 0 {
		return 0
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0
	}
	return len(entries)
}
