package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/avelai/feedback-pipeline/internal/queue"
)

// Processor consumes enqueued execution jobs and records the running
// transition. Terminal transitions are reported by the executing worker
// through EnqueueStage.MarkCompleted.
type Processor struct {
	consumer queue.Consumer
	stage    *EnqueueStage
	logger   *log.Logger
}

func NewProcessor(consumer queue.Consumer, stage *EnqueueStage, logger *log.Logger) *Processor {
	return &Processor{consumer: consumer, stage: stage, logger: logger}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("execution consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	if err := p.stage.MarkStarted(ctx, message.JobID); err != nil {
		return fmt.Errorf("mark job %s started: %w", message.JobID, err)
	}
	if p.logger != nil {
		p.logger.Printf("execution job started job_id=%s proposal_id=%s queue=%s",
			message.JobID, message.ProposalID, message.Queue)
	}
	return nil
}
