package engine

import (
	"context"
	"fmt"

	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/story"
	"github.com/vampirenirmal/storysmith/internal/window"
)

// analyze runs the analysis phase: the model evaluates the prompt for
// strengths, gaps, and clarifying questions. Caller holds the engine lock.
func (e *Engine) analyze(ctx context.Context) (*story.Analysis, error) {
	p := e.store.Project()

	payload, err := e.builder.Build(ctx, window.TaskAnalysis, p, e.limits.MaxContextTokens)
	if err != nil {
		return nil, fmt.Errorf("analysis context: %w", err)
	}

	resp, err := e.retry.Do(ctx, e.client, llm.Request{
		System:      analyzerSystemPrompt,
		Prompt:      analyzerPrompt(payload.Render()),
		Temperature: 0.4,
		ForceJSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	var analysis story.Analysis
	if err := llm.DecodeStrict(resp, &analysis); err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	e.logger.Info("prompt analyzed",
		"complexity", analysis.ComplexityScore,
		"gaps", len(analysis.Gaps),
		"questions", len(analysis.Questions))
	return &analysis, nil
}
