package llm

import "context"

// Request is one generation call to the model transport.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	ForceJSON   bool
}

// Client is the model transport: prompt in, text out. Implementations must
// honor context cancellation without side effects.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}
