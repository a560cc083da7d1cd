package eventlog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("event not found")

// EmitResult reports the outcome of one append. Duplicate means the
// idempotency key already existed: a success path, not a failure.
type EmitResult struct {
	ID        string
	Duplicate bool
}

// Existence is the answer to an idempotency pre-check.
type Existence struct {
	Exists    bool
	Processed bool
}

// Log is the append-only event store. Every successful Emit is durable
// before the call returns; there is no buffering layer.
type Log interface {
	Emit(ctx context.Context, event *domain.Event) (EmitResult, error)
	Exists(ctx context.Context, idempotencyKey string) (Existence, error)
	MarkProcessed(ctx context.Context, eventID string) error
	ByCorrelation(ctx context.Context, correlationID string) ([]domain.Event, error)
	LatencyBetween(ctx context.Context, correlationID string, from, to domain.EventName) (*time.Duration, error)
	CountByNameSince(ctx context.Context, since time.Time) (map[domain.EventName]int, error)
}

// latencyBetween finds the first event of each name and returns the
// timestamp difference, or nil when either side is absent.
func latencyBetween(events []domain.Event, from, to domain.EventName) *time.Duration {
	var fromAt, toAt *time.Time
	for i := range events {
		event := &events[i]
		if fromAt == nil && event.EventName == from {
			fromAt = &event.CreatedAt
		}
		if toAt == nil && event.EventName == to {
			toAt = &event.CreatedAt
		}
	}
	if fromAt == nil || toAt == nil {
		return nil
	}
	latency := toAt.Sub(*fromAt)
	return &latency
}

// MemoryLog stores events in memory for local development and tests.
type MemoryLog struct {
	mu     sync.RWMutex
	events []domain.Event
	byKey  map[string]int
	byID   map[string]int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byKey: make(map[string]int),
		byID:  make(map[string]int),
	}
}

func (l *MemoryLog) Emit(_ context.Context, event *domain.Event) (EmitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index, ok := l.byKey[event.IdempotencyKey]; ok {
		return EmitResult{ID: l.events[index].ID, Duplicate: true}, nil
	}

	stored := *event
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.Payload = append([]byte(nil), event.Payload...)

	l.events = append(l.events, stored)
	l.byKey[stored.IdempotencyKey] = len(l.events) - 1
	l.byID[stored.ID] = len(l.events) - 1
	return EmitResult{ID: stored.ID}, nil
}

func (l *MemoryLog) Exists(_ context.Context, idempotencyKey string) (Existence, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	index, ok := l.byKey[idempotencyKey]
	if !ok {
		return Existence{}, nil
	}
	return Existence{Exists: true, Processed: l.events[index].ProcessedAt != nil}, nil
}

func (l *MemoryLog) MarkProcessed(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	index, ok := l.byID[eventID]
	if !ok {
		return ErrNotFound
	}
	if l.events[index].ProcessedAt == nil {
		now := time.Now().UTC()
		l.events[index].ProcessedAt = &now
	}
	return nil
}

func (l *MemoryLog) ByCorrelation(_ context.Context, correlationID string) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]domain.Event, 0)
	for _, event := range l.events {
		if event.CorrelationID == correlationID {
			matched = append(matched, event)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (l *MemoryLog) LatencyBetween(
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

func (l *MemoryLog) CountByNameSince(_ context.Context, since time.Time) (map[domain.EventName]int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[domain.EventName]int)
	for _, event := range l.events {
		if !event.CreatedAt.Before(since) {
			counts[event.EventName]++
		}
	}
	return counts, nil
}
