package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// PostgresLog persists events through a pgx pool. The unique constraint on
// idempotency_key is the only concurrency guard the pipeline relies on.
type PostgresLog struct {
	pool *pgxpool.Pool
}

func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

func (l *PostgresLog) Emit(ctx context.Context, event *domain.Event) (EmitResult, error) {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO events (
			id,
			actor_type,
			event_name,
			entity_type,
			entity_id,
			correlation_id,
			idempotency_key,
			payload,
			severity,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		id,
		string(event.ActorType),
		string(event.EventName),
		event.EntityType,
		event.EntityID,
		event.CorrelationID,
		event.IdempotencyKey,
		event.Payload,
		string(event.Severity),
		createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			existingID, lookupErr := l.idByKey(ctx, event.IdempotencyKey)
			if lookupErr != nil {
				return EmitResult{}, lookupErr
			}
			return EmitResult{ID: existingID, Duplicate: true}, nil
		}
		return EmitResult{}, fmt.Errorf("insert event: %w", err)
	}
	return EmitResult{ID: id}, nil
}

func (l *PostgresLog) idByKey(ctx context.Context, idempotencyKey string) (string, error) {
	var id string
	err := l.pool.QueryRow(ctx, `
		SELECT id FROM events WHERE idempotency_key = $1
	`, idempotencyKey).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("lookup event by key: %w", err)
	}
	return id, nil
}

func (l *PostgresLog) Exists(ctx context.Context, idempotencyKey string) (Existence, error) {
	var processedAt *time.Time
	err := l.pool.QueryRow(ctx, `
		SELECT processed_at FROM events WHERE idempotency_key = $1
	`, idempotencyKey).Scan(&processedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Existence{}, nil
		}
		return Existence{}, fmt.Errorf("query event existence: %w", err)
	}
	return Existence{Exists: true, Processed: processedAt != nil}, nil
}

func (l *PostgresLog) MarkProcessed(ctx context.Context, eventID string) error {
	command, err := l.pool.Exec(ctx, `
		UPDATE events
		SET processed_at = COALESCE(processed_at, $2)
		WHERE id = $1
	`, eventID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *PostgresLog) ByCorrelation(ctx context.Context, correlationID string) ([]domain.Event, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, actor_type, event_name, entity_type, entity_id,
			correlation_id, idempotency_key, payload, severity,
			created_at, processed_at
		FROM events
		WHERE correlation_id = $1
		ORDER BY created_at ASC
	`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query events by correlation: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			event     domain.Event
			actorType string
			eventName string
			severity  string
		)
		if err := rows.Scan(
			&event.ID,
			&actorType,
			&eventName,
			&event.EntityType,
			&event.EntityID,
			&event.CorrelationID,
			&event.IdempotencyKey,
			&event.Payload,
			&severity,
			&event.CreatedAt,
			&event.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.ActorType = domain.ActorType(actorType)
		event.EventName = domain.EventName(eventName)
		event.Severity = domain.EventSeverity(severity)
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate events: %w", rows.Err())
	}
	return events, nil
}

func (l *PostgresLog) LatencyBetween(
	ctx context.Context,
	correlationID string,
	from, to domain.EventName,
) (*time.Duration, error) {
	events, err := l.ByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	return latencyBetween(events, from, to), nil
}

func (l *PostgresLog) CountByNameSince(ctx context.Context, since time.Time) (map[domain.EventName]int, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT event_name, COUNT(*)
		FROM events
		WHERE created_at >= $1
		GROUP BY event_name
	`, since)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventName]int)
	for rows.Next() {
		var (
			name  string
			count int
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[domain.EventName(name)] = count
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate event counts: %w", rows.Err())
	}
	return counts, nil
}
