package engine

import (
	"context"
	"fmt"

	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/story"
	"github.com/vampirenirmal/storysmith/internal/window"
)

// CritiqueChapter runs an editorial pass over a committed chapter and records
// the notes on it.
func (e *Engine) CritiqueChapter(ctx context.Context, index int) (story.Critique, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.critique(ctx, index)
}

// critique does the work; caller holds the engine lock.
func (e *Engine) critique(ctx context.Context, index int) (story.Critique, error) {
	p := e.store.Project()
	if index < 0 || index >= len(p.Chapters) {
		return story.Critique{}, fmt.Errorf("chapter %d not written yet", index)
	}
	target := p.Chapters[index]

	payload, err := e.builder.Build(ctx, window.TaskCritique, p, e.limits.MaxContextTokens)
	if err != nil {
		return story.Critique{}, fmt.Errorf("critique context: %w", err)
	}

	resp, err := e.retry.Do(ctx, e.client, llm.Request{
		System:      criticSystemPrompt,
		Prompt:      criticPrompt(payload.Render(), target),
		Temperature: 0.4,
		ForceJSON:   true,
	})
	if err != nil {
		return story.Critique{}, fmt.Errorf("critiquing chapter %d: %w", index, err)
	}

	var critique story.Critique
	if err := llm.DecodeStrict(resp, &critique); err != nil {
		return story.Critique{}, fmt.Errorf("critiquing chapter %d: %w", index, err)
	}

	notes := make([]string, 0, len(critique.Weaknesses)+len(critique.Suggestions)+len(critique.ContinuityIssues))
	for _, w := range critique.Weaknesses {
		notes = append(notes, "weakness: "+w)
	}
	for _, s := range critique.Suggestions {
		notes = append(notes, "suggestion: "+s)
	}
	for _, c := range critique.ContinuityIssues {
		notes = append(notes, "continuity: "+c)
	}
	if len(notes) > 0 {
		if err := e.store.AnnotateChapter(ctx, index, notes); err != nil {
			return story.Critique{}, err
		}
	}

	e.logger.Info("chapter critiqued",
		"chapter", index,
		"score", critique.OverallScore,
		"notes", len(notes))
	return critique, nil
}
