package engine

import (
	"context"
	"fmt"

	"github.com/vampirenirmal/storysmith/internal/consistency"
	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/story"
	"github.com/vampirenirmal/storysmith/internal/window"
)

// WriteNext generates the chapter at the cursor. When the cursor points at an
// unapproved committed chapter the draft replaces it; otherwise a new chapter
// is appended. The draft is reviewed for continuity first and contradictions
// block the commit entirely.
func (e *Engine) WriteNext(ctx context.Context) (story.Chapter, consistency.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project()
	if p.Phase != story.PhaseWriting {
		return story.Chapter{}, consistency.Report{}, fmt.Errorf("writing not allowed in phase %s", p.Phase)
	}

	cursor := p.Cursor()
	plan := p.CurrentPlan()
	if plan == nil {
		return story.Chapter{}, consistency.Report{}, fmt.Errorf("outline exhausted: all %d chapters written", len(p.Outline))
	}
	rewriting := cursor < len(p.Chapters)

	payload, err := e.builder.Build(ctx, window.TaskChapter, p, e.limits.MaxContextTokens)
	if err != nil {
		return story.Chapter{}, consistency.Report{}, fmt.Errorf("chapter %d context: %w", cursor, err)
	}

	var previous string
	if rewriting {
		previous = p.Chapters[cursor].Text
	}
	draft, err := e.retry.Do(ctx, e.client, llm.Request{
		System:      writerSystemPrompt,
		Prompt:      writerPrompt(payload.Render(), plan, p.RevisionFeedback, previous, e.targetWords(plan)),
		Temperature: 0.8,
	})
	if err != nil {
		return story.Chapter{}, consistency.Report{}, fmt.Errorf("writing chapter %d: %w", cursor, err)
	}
	if story.CountWords(draft) == 0 {
		return story.Chapter{}, consistency.Report{}, fmt.Errorf("writing chapter %d: %w", cursor, llm.ErrEmptyResponse)
	}

	report, err := e.checker.Review(ctx, p, cursor, draft)
	if err != nil {
		return story.Chapter{}, consistency.Report{}, err
	}
	if report.Blocking() {
		e.logger.Warn("draft rejected by continuity review",
			"chapter", cursor,
			"flags", len(report.Flags))
		return story.Chapter{}, report, &ReviewBlockedError{Flags: report.Flags}
	}

	if err := e.commitDraft(ctx, cursor, plan, draft, rewriting, report); err != nil {
		return story.Chapter{}, report, err
	}

	committed := e.store.Project().Chapters[cursor]
	e.logger.Info("chapter committed",
		"chapter", cursor,
		"words", committed.WordCount,
		"revision", committed.Revisions,
		"rewrite", rewriting)

	if e.shouldAutoCritique(cursor, rewriting) {
		if _, err := e.critique(ctx, cursor); err != nil {
			// The chapter is already committed; a failed critique is advisory.
			e.logger.Warn("automatic critique failed", "chapter", cursor, "error", err)
		}
	}

	return e.store.Project().Chapters[cursor], report, nil
}

// commitDraft applies the reviewed draft and back-fills the entities it
// introduced.
func (e *Engine) commitDraft(ctx context.Context, cursor int, plan *story.ChapterPlan, draft string, rewriting bool, report consistency.Report) error {
	if rewriting {
		if err := e.store.ReplaceChapter(ctx, cursor, draft); err != nil {
			return err
		}
		e.builder.Invalidate(cursor)
	} else {
		ch := story.Chapter{
			Index: cursor,
			Title: plan.Title,
			Text:  draft,
		}
		if err := e.store.AppendChapter(ctx, ch); err != nil {
			return err
		}
	}

	for _, c := range report.NewCharacters {
		if err := e.store.AddCharacter(ctx, c); err != nil {
			return err
		}
	}
	for _, f := range report.NewFacts {
		if err := e.store.AddWorldFact(ctx, f, false); err != nil {
			return err
		}
	}
	for _, u := range report.CharacterUpdates {
		if err := e.store.UpdateCharacterState(ctx, u.Name, u.State); err != nil {
			return err
		}
	}
	for _, id := range report.ThreadsAdvanced {
		if err := e.store.MarkThreadChapter(ctx, id, cursor); err != nil {
			return err
		}
	}
	return nil
}

// targetWords picks the word target for a chapter, capped by the per-session
// word budget so one chapter never overruns a writing session.
func (e *Engine) targetWords(plan *story.ChapterPlan) int {
	target := plan.TargetWords
	if target == 0 {
		target = 2500
	}
	if e.limits.WordsPerSession > 0 && target > e.limits.WordsPerSession {
		target = e.limits.WordsPerSession
	}
	return target
}

func (e *Engine) shouldAutoCritique(cursor int, rewriting bool) bool {
	n := e.limits.ChaptersBetweenCritiques
	return n > 0 && !rewriting && (cursor+1)%n == 0
}

// ResolveThread marks a plot thread resolved by the given chapter.
func (e *Engine) ResolveThread(ctx context.Context, id string, chapter int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.UpdatePlotThreadStatus(ctx, id, story.ThreadResolved, &chapter)
}

// AbandonThread marks a plot thread as deliberately dropped as of the chapter
// currently being worked.
func (e *Engine) AbandonThread(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	at := e.store.Project().Cursor()
	return e.store.UpdatePlotThreadStatus(ctx, id, story.ThreadAbandoned, &at)
}

// OverrideFact replaces an established world fact after an explicit operator
// decision.
func (e *Engine) OverrideFact(ctx context.Context, f story.WorldFact) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.AddWorldFact(ctx, f, true)
}
