package llm

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable indicates the model service could not be reached or
	// returned a server-side failure.
	ErrUnavailable = errors.New("model service unavailable")
	// ErrTimeout indicates the generation call exceeded its deadline.
	ErrTimeout = errors.New("model call timed out")
	// ErrEmptyResponse indicates the model returned no usable content.
	ErrEmptyResponse = errors.New("model returned empty response")
	// ErrMalformedResponse indicates the model output could not be parsed
	// into the expected structure.
	ErrMalformedResponse = errors.New("model response malformed")
)

// IsRetryable reports whether a transport error may be retried with the same
// payload. Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrEmptyResponse) ||
		errors.Is(err, ErrMalformedResponse)
}
