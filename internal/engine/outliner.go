package engine

import (
	"context"
	"fmt"

	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/story"
	"github.com/vampirenirmal/storysmith/internal/window"
)

// outlineResponse is the model's untrusted outline. Chapter count and entity
// fields are validated before anything reaches the store.
type outlineResponse struct {
	Title      string              `json:"title" validate:"required"`
	Premise    string              `json:"premise" validate:"required"`
	Theme      string              `json:"theme"`
	Setting    string              `json:"setting"`
	Chapters   []story.ChapterPlan `json:"chapters" validate:"required,min=1,dive"`
	Characters []outlineCharacter  `json:"characters" validate:"dive"`
	Threads    []outlineThread     `json:"threads" validate:"dive"`
	Facts      []outlineFact       `json:"facts" validate:"dive"`
}

type outlineCharacter struct {
	Name string `json:"name" validate:"required"`
	Role string `json:"role" validate:"required,oneof=protagonist antagonist supporting"`
	Arc  string `json:"arc"`
}

type outlineThread struct {
	Description string `json:"description" validate:"required"`
}

type outlineFact struct {
	Category  string `json:"category" validate:"required,oneof=setting rule history other"`
	Subject   string `json:"subject" validate:"required"`
	Statement string `json:"statement" validate:"required"`
}

// outline generates a chapter outline plus the initial cast, plot threads, and
// foundational world facts. Caller holds the engine lock.
func (e *Engine) outline(ctx context.Context, feedback string) ([]story.ChapterPlan, error) {
	p := e.store.Project()

	payload, err := e.builder.Build(ctx, window.TaskOutline, p, e.limits.MaxContextTokens)
	if err != nil {
		return nil, fmt.Errorf("outline context: %w", err)
	}

	minCh, maxCh := p.Type.ChapterRange()
	req := llm.Request{
		System:      outlinerSystemPrompt,
		Prompt:      outlinerPrompt(payload.Render(), p, minCh, maxCh, feedback),
		Temperature: 0.7,
		ForceJSON:   true,
	}

	var out outlineResponse
	for attempt := 0; ; attempt++ {
		resp, err := e.retry.Do(ctx, e.client, req)
		if err != nil {
			return nil, fmt.Errorf("outline: %w", err)
		}
		if err := llm.DecodeStrict(resp, &out); err != nil {
			return nil, fmt.Errorf("outline: %w", err)
		}

		if n := len(out.Chapters); n < minCh || n > maxCh {
			if attempt > 0 {
				return nil, fmt.Errorf("outline has %d chapters, want %d-%d for a %s", n, minCh, maxCh, p.Type)
			}
			// One corrective pass before giving up.
			req.Prompt += fmt.Sprintf(
				"\n\nYour previous outline had %d chapters. Produce between %d and %d chapters.", n, minCh, maxCh)
			continue
		}
		break
	}

	if err := e.store.SetOutline(ctx, out.Title, out.Premise, out.Theme, out.Setting, out.Chapters); err != nil {
		return nil, err
	}
	for _, c := range out.Characters {
		err := e.store.AddCharacter(ctx, story.Character{
			Name: c.Name,
			Role: story.Role(c.Role),
			Arc:  c.Arc,
		})
		if err != nil {
			return nil, err
		}
	}
	for _, t := range out.Threads {
		if err := e.store.AddPlotThread(ctx, story.PlotThread{Description: t.Description}); err != nil {
			return nil, err
		}
	}
	for _, f := range out.Facts {
		err := e.store.AddWorldFact(ctx, story.WorldFact{
			Category:  story.FactCategory(f.Category),
			Subject:   f.Subject,
			Statement: f.Statement,
		}, false)
		if err != nil {
			return nil, err
		}
	}

	e.logger.Info("outline generated",
		"title", out.Title,
		"chapters", len(out.Chapters),
		"characters", len(out.Characters),
		"threads", len(out.Threads))
	return e.store.Project().Outline, nil
}
