package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
)

func TestLocalQueueDeliversMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewLocalQueue(8, 3, nil)
	received := make(chan domain.QueueMessage, 1)

	go func() {
		_ = q.Consume(ctx, func(_ context.Context, message domain.QueueMessage) error {
			received <- message
			return nil
		})
	}()

	message := domain.QueueMessage{JobID: "job-1", ProposalID: "prop-1", Queue: domain.QueueStandard}
	if err := q.Enqueue(ctx, message); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case got := <-received:
		if got.JobID != "job-1" {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message was not delivered")
	}
}

func TestLocalQueueMovesExhaustedMessagesToDLQ(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewLocalQueue(8, 2, nil)
	var attempts atomic.Int32

	go func() {
		_ = q.Consume(ctx, func(_ context.Context, _ domain.QueueMessage) error {
			attempts.Add(1)
			return errors.New("handler failure")
		})
	}()

	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "job-dlq"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for q.DLQSize() == 0 {
		select {
		case <-deadline:
			t.Fatalf("message never reached the DLQ, attempts=%d", attempts.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
	if attempts.Load() < 2 {
		t.Fatalf("expected at least 2 attempts before DLQ, got %d", attempts.Load())
	}
}
