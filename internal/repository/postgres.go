package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// NewPool creates and pings a pgx pool shared by all Postgres repositories.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return pool, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

type PostgresProposals struct {
	pool *pgxpool.Pool
}

func NewPostgresProposals(pool *pgxpool.Pool) *PostgresProposals {
	return &PostgresProposals{pool: pool}
}

func (r *PostgresProposals) CreateProposal(ctx context.Context, proposal *domain.Proposal) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO proposals (
			id,
			source_id,
			title,
			description,
			status,
			priority_tier,
			priority_score,
			priority_queue,
			source_ref,
			correlation_id,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		proposal.ID,
		proposal.SourceID,
		proposal.Title,
		proposal.Description,
		string(proposal.Status),
		string(proposal.PriorityTier),
		proposal.PriorityScore,
		string(proposal.PriorityQueue),
		proposal.SourceRef,
		proposal.CorrelationID,
		proposal.CreatedAt,
		proposal.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (r *PostgresProposals) GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	return r.queryOne(ctx, `WHERE id = $1`, proposalID)
}

func (r *PostgresProposals) GetBySourceID(ctx context.Context, sourceID string) (*domain.Proposal, error) {
	return r.queryOne(ctx, `WHERE source_id = $1`, sourceID)
}

func (r *PostgresProposals) queryOne(ctx context.Context, where string, arg any) (*domain.Proposal, error) {
	var (
		proposal domain.Proposal
		status   string
		tier     string
		queue    string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, source_id, title, description, status, priority_tier,
			priority_score, priority_queue, source_ref, correlation_id,
			created_at, updated_at
		FROM proposals `+where,
		arg,
	).Scan(
		&proposal.ID,
		&proposal.SourceID,
		&proposal.Title,
		&proposal.Description,
		&status,
		&tier,
		&proposal.PriorityScore,
		&queue,
		&proposal.SourceRef,
		&proposal.CorrelationID,
		&proposal.CreatedAt,
		&proposal.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query proposal: %w", err)
	}
	proposal.Status = domain.ProposalStatus(status)
	proposal.PriorityTier = domain.PriorityTier(tier)
	proposal.PriorityQueue = domain.PriorityQueue(queue)
	return &proposal, nil
}

func (r *PostgresProposals) UpdatePrioritization(
	ctx context.Context,
	proposalID string,
	score int,
	queue domain.PriorityQueue,
	status domain.ProposalStatus,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE proposals
		SET priority_score = $2,
			priority_queue = $3,
			status = $4,
			updated_at = $5
		WHERE id = $1
	`, proposalID, score, string(queue), string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update prioritization: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresProposals) UpdateStatus(ctx context.Context, proposalID string, status domain.ProposalStatus) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE proposals
		SET status = $2,
			updated_at = $3
		WHERE id = $1
	`, proposalID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type PostgresExecutionJobs struct {
	pool *pgxpool.Pool
}

func NewPostgresExecutionJobs(pool *pgxpool.Pool) *PostgresExecutionJobs {
	return &PostgresExecutionJobs{pool: pool}
}

func (r *PostgresExecutionJobs) CreateJob(ctx context.Context, job *domain.ExecutionJob) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO execution_jobs (
			id,
			proposal_id,
			queue,
			status,
			degraded,
			result,
			error_message,
			correlation_id,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		job.ID,
		job.ProposalID,
		string(job.Queue),
		string(job.Status),
		job.Degraded,
		job.Result,
		job.ErrorMessage,
		job.CorrelationID,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" { // undefined_table
			return ErrUnavailable
		}
		return fmt.Errorf("insert execution job: %w", err)
	}
	return nil
}

func (r *PostgresExecutionJobs) GetJob(ctx context.Context, jobID string) (*domain.ExecutionJob, error) {
	return r.queryOne(ctx, `WHERE id = $1`, jobID)
}

func (r *PostgresExecutionJobs) GetByProposalID(ctx context.Context, proposalID string) (*domain.ExecutionJob, error) {
	return r.queryOne(ctx, `WHERE proposal_id = $1`, proposalID)
}

func (r *PostgresExecutionJobs) queryOne(ctx context.Context, where string, arg any) (*domain.ExecutionJob, error) {
	var (
		job    domain.ExecutionJob
		queue  string
		status string
		result []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, proposal_id, queue, status, degraded, result,
			error_message, correlation_id, created_at, updated_at
		FROM execution_jobs `+where,
		arg,
	).Scan(
		&job.ID,
		&job.ProposalID,
		&queue,
		&status,
		&job.Degraded,
		&result,
		&job.ErrorMessage,
		&job.CorrelationID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query execution job: %w", err)
	}
	job.Queue = domain.PriorityQueue(queue)
	job.Status = domain.ExecutionStatus(status)
	job.Result = json.RawMessage(result)
	return &job, nil
}

func (r *PostgresExecutionJobs) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status domain.ExecutionStatus,
	result json.RawMessage,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE execution_jobs
		SET status = $2,
			result = COALESCE($3, result),
			updated_at = $4
		WHERE id = $1
	`, jobID, string(status), result, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update execution job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type PostgresSettings struct {
	pool *pgxpool.Pool
}

func NewPostgresSettings(pool *pgxpool.Pool) *PostgresSettings {
	return &PostgresSettings{pool: pool}
}

func (r *PostgresSettings) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT config_key, config_value FROM pipeline_config
	`)
	if err != nil {
		return nil, fmt.Errorf("query pipeline config: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan config row: %w", err)
		}
		values[key] = value
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate config rows: %w", rows.Err())
	}
	return values, nil
}

type PostgresRankings struct {
	pool *pgxpool.Pool
}

func NewPostgresRankings(pool *pgxpool.Pool) *PostgresRankings {
	return &PostgresRankings{pool: pool}
}

func (r *PostgresRankings) SaveSnapshot(
	ctx context.Context,
	correlationID string,
	queue json.RawMessage,
	generatedAt time.Time,
) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO planner_rankings (correlation_id, queue, created_at)
		VALUES ($1, $2, $3)
	`, correlationID, queue, generatedAt)
	if err != nil {
		return fmt.Errorf("insert ranking snapshot: %w", err)
	}
	return nil
}

func (r *PostgresRankings) LatestQueue(ctx context.Context) (json.RawMessage, error) {
	var queue []byte
	err := r.pool.QueryRow(ctx, `
		SELECT queue
		FROM planner_rankings
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&queue)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query latest ranking: %w", err)
	}
	return json.RawMessage(queue), nil
}
