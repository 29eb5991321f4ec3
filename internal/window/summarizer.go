package window

import (
	"context"
	"fmt"

	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/story"
)

// Summarizer compresses a written chapter into a one-paragraph digest. The
// digest is the only representation of the chapter kept in context once it
// leaves the trailing window.
type Summarizer interface {
	Summarize(ctx context.Context, ch story.Chapter) (string, error)
}

// LLMSummarizer asks the model to digest a chapter. Low temperature keeps
// digests stable enough to cache.
type LLMSummarizer struct {
	client llm.Client
	retry  llm.RetryPolicy
}

func NewLLMSummarizer(client llm.Client, retry llm.RetryPolicy) *LLMSummarizer {
	return &LLMSummarizer{client: client, retry: retry}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, ch story.Chapter) (string, error) {
	req := llm.Request{
		System: "You are a story archivist. Compress chapters into dense, factual " +
			"single-paragraph summaries that preserve plot events, character changes, " +
			"and revealed information. No commentary.",
		Prompt: fmt.Sprintf(
			"Summarize chapter %d in one paragraph of at most 120 words. Preserve every plot-relevant event.\n\nChapter text:\n%s",
			ch.Index+1, ch.Text),
		Temperature: 0.3,
	}

	digest, err := s.retry.Do(ctx, s.client, req)
	if err != nil {
		return "", fmt.Errorf("summarizing chapter %d: %w", ch.Index, err)
	}
	return digest, nil
}
