// Package worker holds the retryable stage executor and the three pipeline
// stage workers. The executor owns enablement checks, error classification
// and backoff; idempotency is each stage's own responsibility.
package worker

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/avelai/feedback-pipeline/internal/config"
)

// Stage is one pipeline phase. Process must be safe to call again after a
// partial failure: stages short-circuit on their idempotency key before
// doing any mutating work.
type Stage[T, R any] interface {
	Name() string
	Process(ctx context.Context, item T) (R, error)
}

// RunResult is the structured outcome of one Run call. Workers never raise
// past this boundary: errors are carried in Err, not panicked or returned.
type RunResult[R any] struct {
	Success bool
	Skipped bool
	Reason  string
	Output  R
	Err     error
	// Attempts counts Process invocations, including the successful one.
	Attempts int
}

// ValidationError marks permanently bad input; it is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

var transientSignals = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"lock wait",
	"deadlock",
	"temporarily unavailable",
}

// IsRetryable classifies an error as transient. Validation errors and
// anything not matching the transient signal set fail immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}
	message := strings.ToLower(err.Error())
	for _, signal := range transientSignals {
		if strings.Contains(message, signal) {
			return true
		}
	}
	return false
}

// Runner executes stages with the enable check and retry loop shared by
// every pipeline worker.
type Runner[T, R any] struct {
	settings *config.Provider
	logger   *log.Logger
	sleep    func(ctx context.Context, delay time.Duration) error
}

func NewRunner[T, R any](settings *config.Provider, logger *log.Logger) *Runner[T, R] {
	return &Runner[T, R]{
		settings: settings,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Run drives one stage for one item. Callers own the deadline: Run imposes
// no per-operation timeout but honors ctx between attempts and in sleeps.
func (r *Runner[T, R]) Run(ctx context.Context, stage Stage[T, R], item T) RunResult[R] {
	settings := r.settings.Get(ctx)
	if !settings.StageEnabledFor(stage.Name()) {
		if r.logger != nil {
			r.logger.Printf("stage %s skipped: disabled by configuration", stage.Name())
		}
		return RunResult[R]{Success: true, Skipped: true, Reason: "disabled_by_config"}
	}

	var lastErr error
	for attempt := 1; attempt <= settings.MaxRetries; attempt++ {
		output, err := stage.Process(ctx, item)
		if err == nil {
			return RunResult[R]{Success: true, Output: output, Attempts: attempt}
		}
		lastErr = err

		if !IsRetryable(err) {
			if r.logger != nil {
				r.logger.Printf("stage %s failed permanently: %v", stage.Name(), err)
			}
			return RunResult[R]{Err: err, Attempts: attempt}
		}
		if attempt == settings.MaxRetries {
			break
		}

		delay := settings.BackoffBase * (1 << (attempt - 1))
		if r.logger != nil {
			r.logger.Printf("stage %s attempt %d failed, retrying in %s: %v",
				stage.Name(), attempt, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return RunResult[R]{Err: err, Attempts: attempt}
		}
	}

	return RunResult[R]{Err: lastErr, Attempts: settings.MaxRetries}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
