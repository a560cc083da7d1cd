package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avelai/feedback-pipeline/internal/config"
	"github.com/avelai/feedback-pipeline/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedStage struct {
	name    string
	results []error
	calls   int
}

func (s *scriptedStage) Name() string { return s.name }

func (s *scriptedStage) Process(_ context.Context, _ string) (string, error) {
	index := s.calls
	s.calls++
	if index >= len(s.results) {
		return "done", nil
	}
	if err := s.results[index]; err != nil {
		return "", err
	}
	return "done", nil
}

func newTestProvider(values map[string]string) *config.Provider {
	return config.NewProvider(repository.NewMemorySettings(values), time.Minute, nil)
}

func TestRunnerSkipsDisabledStage(t *testing.T) {
	provider := newTestProvider(map[string]string{"stage_scripted_enabled": "false"})
	runner := NewRunner[string, string](provider, nil)
	stage := &scriptedStage{name: "scripted"}

	result := runner.Run(context.Background(), stage, "item")

	require.True(t, result.Success)
	require.True(t, result.Skipped)
	assert.Equal(t, "disabled_by_config", result.Reason)
	assert.Zero(t, stage.calls, "process must not run for a disabled stage")
}

func TestRunnerRetriesTransientErrorsWithExponentialBackoff(t *testing.T) {
	provider := newTestProvider(map[string]string{
		"max_retries":     "3",
		"backoff_base_ms": "2000",
	})
	runner := NewRunner[string, string](provider, nil)

	var delays []time.Duration
	runner.sleep = func(_ context.Context, delay time.Duration) error {
		delays = append(delays, delay)
		return nil
	}

	stage := &scriptedStage{
		name: "scripted",
		results: []error{
			errors.New("dial tcp: i/o timeout"),
			errors.New("connection reset by peer"),
			nil,
		},
	}

	result := runner.Run(context.Background(), stage, "item")

	require.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	require.Equal(t, []time.Duration{2000 * time.Millisecond, 4000 * time.Millisecond}, delays)
}

func TestRunnerStopsImmediatelyOnPermanentError(t *testing.T) {
	provider := newTestProvider(nil)
	runner := NewRunner[string, string](provider, nil)
	runner.sleep = func(_ context.Context, _ time.Duration) error {
		t.Fatal("permanent errors must not back off")
		return nil
	}

	stage := &scriptedStage{
		name:    "scripted",
		results: []error{&ValidationError{Field: "id", Message: "missing"}},
	}

	result := runner.Run(context.Background(), stage, "item")

	require.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, stage.calls)
}

func TestRunnerExhaustsRetries(t *testing.T) {
	provider := newTestProvider(map[string]string{
		"max_retries":     "3",
		"backoff_base_ms": "1",
	})
	runner := NewRunner[string, string](provider, nil)
	runner.sleep = func(_ context.Context, _ time.Duration) error { return nil }

	stage := &scriptedStage{
		name: "scripted",
		results: []error{
			errors.New("lock wait exceeded"),
			errors.New("deadlock detected"),
			errors.New("service temporarily unavailable"),
		},
	}

	result := runner.Run(context.Background(), stage, "item")

	require.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, stage.calls)
}

func TestIsRetryableClassification(t *testing.T) {
	retryable := []error{
		errors.New("request timed out"),
		errors.New("read: connection reset"),
		errors.New("connection refused"),
		errors.New("Deadlock found when trying to get lock"),
		errors.New("resource temporarily unavailable"),
	}
	for _, err := range retryable {
		assert.True(t, IsRetryable(err), "expected retryable: %v", err)
	}

	permanent := []error{
		errors.New("malformed input"),
		&ValidationError{Message: "bad field"},
		errors.New("duplicate key value violates unique constraint"),
	}
	for _, err := range permanent {
		assert.False(t, IsRetryable(err), "expected permanent: %v", err)
	}
	assert.False(t, IsRetryable(nil))
}
