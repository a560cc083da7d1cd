package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
)

var (
	ErrNotFound = errors.New("resource not found")

	// ErrConflict reports a unique-constraint hit. Callers treat it as the
	// signal that a concurrent writer already created the row.
	ErrConflict = errors.New("resource already exists")

	// ErrUnavailable reports that the backing table cannot be reached at
	// all, which triggers degraded-mode fallbacks.
	ErrUnavailable = errors.New("store unavailable")
)

// ProposalsRepository abstracts proposal persistence. CreateProposal must
// fail with ErrConflict when a proposal for the same source_id exists.
type ProposalsRepository interface {
	CreateProposal(ctx context.Context, proposal *domain.Proposal) error
	GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error)
	GetBySourceID(ctx context.Context, sourceID string) (*domain.Proposal, error)
	UpdatePrioritization(ctx context.Context, proposalID string, score int, queue domain.PriorityQueue, status domain.ProposalStatus) error
	UpdateStatus(ctx context.Context, proposalID string, status domain.ProposalStatus) error
}

// ExecutionJobsRepository abstracts execution job persistence.
type ExecutionJobsRepository interface {
	CreateJob(ctx context.Context, job *domain.ExecutionJob) error
	GetJob(ctx context.Context, jobID string) (*domain.ExecutionJob, error)
	GetByProposalID(ctx context.Context, proposalID string) (*domain.ExecutionJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status domain.ExecutionStatus, result json.RawMessage) error
}

// SettingsRepository reads the pipeline configuration table as raw
// key/value pairs; typing and defaults live in the config provider.
type SettingsRepository interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
}

// RankingsRepository persists planner ranking snapshots for stability
// comparison. Snapshots are append-only; only the latest one is read back.
type RankingsRepository interface {
	SaveSnapshot(ctx context.Context, correlationID string, queue json.RawMessage, generatedAt time.Time) error
	LatestQueue(ctx context.Context) (json.RawMessage, error)
}

// MemoryProposals stores proposals in memory for local development.
type MemoryProposals struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Proposal
	bySourceID map[string]string
}

func NewMemoryProposals() *MemoryProposals {
	return &MemoryProposals{
		byID:       make(map[string]*domain.Proposal),
		bySourceID: make(map[string]string),
	}
}

func (r *MemoryProposals) CreateProposal(_ context.Context, proposal *domain.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySourceID[proposal.SourceID]; ok {
		return ErrConflict
	}
	clone := *proposal
	r.byID[proposal.ID] = &clone
	r.bySourceID[proposal.SourceID] = proposal.ID
	return nil
}

func (r *MemoryProposals) GetProposal(_ context.Context, proposalID string) (*domain.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	proposal, ok := r.byID[proposalID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *proposal
	return &clone, nil
}

func (r *MemoryProposals) GetBySourceID(_ context.Context, sourceID string) (*domain.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	proposalID, ok := r.bySourceID[sourceID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r.byID[proposalID]
	return &clone, nil
}

func (r *MemoryProposals) UpdatePrioritization(
	_ context.Context,
	proposalID string,
	score int,
	queue domain.PriorityQueue,
	status domain.ProposalStatus,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	proposal, ok := r.byID[proposalID]
	if !ok {
		return ErrNotFound
	}
	proposal.PriorityScore = score
	proposal.PriorityQueue = queue
	proposal.Status = status
	proposal.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryProposals) UpdateStatus(_ context.Context, proposalID string, status domain.ProposalStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	proposal, ok := r.byID[proposalID]
	if !ok {
		return ErrNotFound
	}
	proposal.Status = status
	proposal.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryExecutionJobs stores execution jobs in memory. Unavailable toggles
// the whole repository into failure mode to exercise degraded fallbacks.
type MemoryExecutionJobs struct {
	mu           sync.RWMutex
	byID         map[string]*domain.ExecutionJob
	byProposalID map[string]string

	Unavailable bool
}

func NewMemoryExecutionJobs() *MemoryExecutionJobs {
	return &MemoryExecutionJobs{
		byID:         make(map[string]*domain.ExecutionJob),
		byProposalID: make(map[string]string),
	}
}

func (r *MemoryExecutionJobs) CreateJob(_ context.Context, job *domain.ExecutionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Unavailable {
		return ErrUnavailable
	}
	if _, ok := r.byProposalID[job.ProposalID]; ok {
		return ErrConflict
	}
	clone := *job
	clone.Result = append([]byte(nil), job.Result...)
	r.byID[job.ID] = &clone
	r.byProposalID[job.ProposalID] = job.ID
	return nil
}

func (r *MemoryExecutionJobs) GetJob(_ context.Context, jobID string) (*domain.ExecutionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Unavailable {
		return nil, ErrUnavailable
	}
	job, ok := r.byID[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *job
	clone.Result = append([]byte(nil), job.Result...)
	return &clone, nil
}

func (r *MemoryExecutionJobs) GetByProposalID(_ context.Context, proposalID string) (*domain.ExecutionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Unavailable {
		return nil, ErrUnavailable
	}
	jobID, ok := r.byProposalID[proposalID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r.byID[jobID]
	return &clone, nil
}

func (r *MemoryExecutionJobs) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status domain.ExecutionStatus,
	result json.RawMessage,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Unavailable {
		return ErrUnavailable
	}
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	if result != nil {
		job.Result = append([]byte(nil), result...)
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// MemorySettings serves a fixed key/value set, mainly for tests.
type MemorySettings struct {
	mu     sync.RWMutex
	values map[string]string

	FailNext bool
}

func NewMemorySettings(values map[string]string) *MemorySettings {
	if values == nil {
		values = make(map[string]string)
	}
	return &MemorySettings{values: values}
}

func (r *MemorySettings) LoadSettings(_ context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailNext {
		r.FailNext = false
		return nil, ErrUnavailable
	}
	copied := make(map[string]string, len(r.values))
	for key, value := range r.values {
		copied[key] = value
	}
	return copied, nil
}

func (r *MemorySettings) Set(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}

// MemoryRankings keeps snapshots in memory, newest last.
type MemoryRankings struct {
	mu        sync.RWMutex
	snapshots []json.RawMessage
}

func NewMemoryRankings() *MemoryRankings {
	return &MemoryRankings{}
}

func (r *MemoryRankings) SaveSnapshot(
	_ context.Context,
	_ string,
	queue json.RawMessage,
	_ time.Time,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, append([]byte(nil), queue...))
	return nil
}

func (r *MemoryRankings) LatestQueue(_ context.Context) (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.snapshots) == 0 {
		return nil, ErrNotFound
	}
	return append([]byte(nil), r.snapshots[len(r.snapshots)-1]...), nil
}
