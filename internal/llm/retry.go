package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy is an explicit bounded-retry schedule for transport calls. It
// exists as a value object so the backoff behavior is testable with a fake
// client independent of any real endpoint.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy matches the bounded-retry contract: a handful of
// attempts with exponential backoff, then give up for the step.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Do runs the generation call under the policy. The same request payload is
// reused for every attempt; non-retryable errors abort immediately.
func (p RetryPolicy) Do(ctx context.Context, client Client, req Request) (string, error) {
	logger := slog.Default().With("component", "retry_policy")

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		response, err := client.Generate(ctx, req)
		if err == nil {
			if attempt > 1 {
				logger.Info("generation succeeded after retries", "attempt", attempt)
			}
			return response, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
		if attempt == attempts {
			break
		}

		logger.Warn("generation failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.BackoffFactor)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return "", fmt.Errorf("generation failed after %d attempts: %w", attempts, lastErr)
}
