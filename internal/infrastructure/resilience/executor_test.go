package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	errTransient := errors.New("connection reset")
	err := exec.Execute(context.Background(), "lexical.search", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	}, ClassifyBackendError)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryCancellation(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	err := exec.Execute(context.Background(), "dense.search", func(context.Context) error {
		attempts++
		return context.DeadlineExceeded
	}, ClassifyBackendError)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryInitialBackoff = 50 * time.Millisecond
	cfg.RetryMaxBackoff = 50 * time.Millisecond
	exec := NewExecutor(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	errTransient := errors.New("connection reset")
	err := exec.Execute(ctx, "sparse.search", func(context.Context) error {
		attempts++
		cancel()
		return errTransient
	}, ClassifyBackendError)
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error returned on cancel, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected backoff to abort after 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errBackend := errors.New("backend down")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "graph.search", func(context.Context) error {
			return errBackend
		}, classifier)
		if !errors.Is(err, errBackend) {
			t.Fatalf("expected backend error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "graph.search", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatalf("IsCircuitOpen should report open state")
	}
}

func TestBreakersAreIsolatedPerOperation(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errBackend := errors.New("backend down")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}

	for i := 0; i < 3; i++ {
		_ = exec.Execute(context.Background(), "dense.search", func(context.Context) error {
			return errBackend
		}, classifier)
	}

	err := exec.Execute(context.Background(), "lexical.search", func(context.Context) error {
		return nil
	}, classifier)
	if err != nil {
		t.Fatalf("lexical breaker must not share dense failures, got %v", err)
	}
}

func TestClassifyBackendError(t *testing.T) {
	if c := ClassifyBackendError(nil); c.Retryable || c.RecordFailure {
		t.Fatalf("nil error must not retry or record: %+v", c)
	}
	if c := ClassifyBackendError(context.Canceled); c.Retryable || c.RecordFailure {
		t.Fatalf("cancellation must not count against the backend: %+v", c)
	}
	if c := ClassifyBackendError(gobreaker.ErrOpenState); c.Retryable || !c.RecordFailure {
		t.Fatalf("open circuit must record without retry: %+v", c)
	}
	if c := ClassifyBackendError(errors.New("connection refused")); !c.Retryable || !c.RecordFailure {
		t.Fatalf("transport error must retry and record: %+v", c)
	}
}
