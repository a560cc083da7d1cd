package queue

import (
	"context"

	"github.com/avelai/feedback-pipeline/internal/domain"
)

// Producer hands execution jobs to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives execution jobs and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}
