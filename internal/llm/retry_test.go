package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	mock := NewMockClient().
		EnqueueError(ErrUnavailable).
		Enqueue("recovered")

	got, err := fastPolicy(3).Do(context.Background(), mock, Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "recovered" {
		t.Errorf("response = %q", got)
	}
	if calls := len(mock.Calls()); calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	mock := NewMockClient().
		EnqueueError(ErrTimeout).
		EnqueueError(ErrTimeout).
		EnqueueError(ErrTimeout)

	_, err := fastPolicy(3).Do(context.Background(), mock, Request{Prompt: "p"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want wrapped ErrTimeout, got %v", err)
	}
	if calls := len(mock.Calls()); calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("bad request")
	mock := NewMockClient().EnqueueError(fatal)

	_, err := fastPolicy(5).Do(context.Background(), mock, Request{Prompt: "p"})
	if !errors.Is(err, fatal) {
		t.Fatalf("want the original error, got %v", err)
	}
	if calls := len(mock.Calls()); calls != 1 {
		t.Errorf("calls = %d, non-retryable errors must not be retried", calls)
	}
}

func TestDoSendsSamePayloadEachAttempt(t *testing.T) {
	mock := NewMockClient().
		EnqueueError(ErrUnavailable).
		Enqueue("ok")

	req := Request{System: "sys", Prompt: "identical", Temperature: 0.5}
	if _, err := fastPolicy(2).Do(context.Background(), mock, req); err != nil {
		t.Fatal(err)
	}

	calls := mock.Calls()
	if calls[0] != calls[1] {
		t.Errorf("attempts diverged: %+v vs %+v", calls[0], calls[1])
	}
}

func TestDoRespectsCancellation(t *testing.T) {
	mock := NewMockClient().
		EnqueueError(ErrUnavailable).
		Enqueue("never reached")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour}.Do(ctx, mock, Request{Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
