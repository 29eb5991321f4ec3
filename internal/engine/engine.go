package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vampirenirmal/storysmith/internal/config"
	"github.com/vampirenirmal/storysmith/internal/consistency"
	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/store"
	"github.com/vampirenirmal/storysmith/internal/story"
	"github.com/vampirenirmal/storysmith/internal/window"
)

// ReviewBlockedError is returned when a generated draft contradicts
// established story state. The draft is discarded; nothing is committed.
type ReviewBlockedError struct {
	Flags []consistency.Flag
}

func (e *ReviewBlockedError) Error() string {
	var parts []string
	for _, f := range e.Flags {
		if f.Severity == consistency.SeverityContradiction {
			parts = append(parts, f.Description)
		}
	}
	return fmt.Sprintf("draft blocked by %d contradiction(s): %s", len(parts), strings.Join(parts, "; "))
}

// Engine drives one project through the authoring workflow. It is the single
// writer for its project; all mutations go through the store under its lock.
type Engine struct {
	mu      sync.Mutex
	store   *store.Store
	builder *window.Builder
	checker *consistency.Checker
	client  llm.Client
	retry   llm.RetryPolicy
	limits  config.Limits
	logger  *slog.Logger
}

type Option func(*Engine)

func WithRetryPolicy(p llm.RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

func WithLimits(l config.Limits) Option {
	return func(e *Engine) { e.limits = l }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger.With("component", "engine") }
}

func New(st *store.Store, builder *window.Builder, checker *consistency.Checker, client llm.Client, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		builder: builder,
		checker: checker,
		client:  client,
		retry:   llm.DefaultRetryPolicy(),
		limits:  config.DefaultLimits(),
		logger:  slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartProject creates the project and runs the analysis phase. When the
// analysis raises clarifying questions the project parks in questioning;
// otherwise it moves straight to outlining. A failed model call leaves the
// project in the analysis phase; ResumeAnalysis retries the step.
func (e *Engine) StartProject(ctx context.Context, p *story.Project) (*story.Analysis, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return e.runAnalysis(ctx)
}

// ResumeAnalysis re-runs the analysis step for a project whose initial
// analysis never completed.
func (e *Engine) ResumeAnalysis(ctx context.Context) (*story.Analysis, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if phase := e.store.Project().Phase; phase != story.PhaseAnalysis {
		return nil, fmt.Errorf("analysis already completed, project is in phase %s", phase)
	}
	return e.runAnalysis(ctx)
}

// runAnalysis does the model call and the phase advance; caller holds the
// engine lock.
func (e *Engine) runAnalysis(ctx context.Context) (*story.Analysis, error) {
	analysis, err := e.analyze(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetAnalysis(ctx, *analysis); err != nil {
		return nil, err
	}

	next := story.PhaseOutlining
	if len(analysis.Questions) > 0 {
		next = story.PhaseQuestioning
	}
	if err := e.store.SetPhase(ctx, next); err != nil {
		return nil, err
	}

	p := e.store.Project()
	e.logger.Info("project started",
		"project", p.Name,
		"type", string(p.Type),
		"questions", len(analysis.Questions))
	return analysis, nil
}

// AnswerQuestions records the operator's answers. The project advances to
// outlining only once every clarifying question has an answer; a partial
// answer set is recorded and the project stays in questioning.
func (e *Engine) AnswerQuestions(ctx context.Context, answers map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if phase := e.store.Project().Phase; phase != story.PhaseQuestioning {
		return fmt.Errorf("answers not expected in phase %s", phase)
	}
	if err := e.store.SetAnswers(ctx, answers); err != nil {
		return err
	}

	p := e.store.Project()
	if p.Analysis != nil {
		for _, q := range p.Analysis.Questions {
			if _, answered := p.Answers[q.Question]; !answered {
				e.logger.Info("questions remain unanswered", "project", p.Name)
				return nil
			}
		}
	}
	return e.store.SetPhase(ctx, story.PhaseOutlining)
}

// GenerateOutline produces (or regenerates) the chapter outline. The project
// stays in outlining until the operator approves it.
func (e *Engine) GenerateOutline(ctx context.Context, feedback string) ([]story.ChapterPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project()
	if p.Phase != story.PhaseOutlining {
		return nil, fmt.Errorf("outlining not allowed in phase %s", p.Phase)
	}
	return e.outline(ctx, feedback)
}

// ApproveOutline locks the outline in and moves the project to writing.
func (e *Engine) ApproveOutline(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project()
	if len(p.Outline) == 0 {
		return fmt.Errorf("no outline to approve")
	}
	return e.store.SetPhase(ctx, story.PhaseWriting)
}

// ReviseOutline regresses a writing project back to outlining and regenerates
// the outline with the operator's feedback. Committed chapters are preserved;
// the new outline must still cover them.
func (e *Engine) ReviseOutline(ctx context.Context, feedback string) ([]story.ChapterPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project()
	if p.Phase == story.PhaseWriting {
		if err := e.store.SetPhase(ctx, story.PhaseOutlining); err != nil {
			return nil, err
		}
	}
	if e.store.Project().Phase != story.PhaseOutlining {
		return nil, fmt.Errorf("outline revision not allowed in phase %s", p.Phase)
	}
	return e.outline(ctx, feedback)
}

// ApproveChapter marks a chapter approved. When the last outlined chapter is
// approved the project is complete.
func (e *Engine) ApproveChapter(ctx context.Context, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.ApproveChapter(ctx, index); err != nil {
		return err
	}

	p := e.store.Project()
	if len(p.Chapters) == len(p.Outline) && p.Cursor() == len(p.Chapters) {
		if err := e.store.SetPhase(ctx, story.PhaseComplete); err != nil {
			return err
		}
		e.logger.Info("project complete",
			"project", p.Name,
			"chapters", len(p.Chapters),
			"words", p.WordsWritten())
	}
	return nil
}

// RequestRevision records feedback for an unapproved chapter; the next
// WriteNext call rewrites that chapter instead of starting a new one.
func (e *Engine) RequestRevision(ctx context.Context, index int, feedback string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project()
	if index != p.Cursor() || index >= len(p.Chapters) {
		return fmt.Errorf("chapter %d is not awaiting review", index)
	}
	return e.store.SetRevisionFeedback(ctx, feedback)
}

// Status is a read-only snapshot of project progress.
type Status struct {
	Name             string
	Phase            story.Phase
	Title            string
	ChaptersOutlined int
	ChaptersWritten  int
	ChaptersApproved int
	WordsWritten     int
	OpenThreads      int
	PendingQuestions int
	Cursor           int
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project()
	s := Status{
		Name:             p.Name,
		Phase:            p.Phase,
		Title:            p.Title,
		ChaptersOutlined: len(p.Outline),
		ChaptersWritten:  len(p.Chapters),
		WordsWritten:     p.WordsWritten(),
		Cursor:           p.Cursor(),
	}
	for _, ch := range p.Chapters {
		if ch.Status == story.ChapterApproved {
			s.ChaptersApproved++
		}
	}
	for _, t := range p.Threads {
		if t.Status == story.ThreadOpen {
			s.OpenThreads++
		}
	}
	if p.Analysis != nil && p.Phase == story.PhaseQuestioning {
		for _, q := range p.Analysis.Questions {
			if _, answered := p.Answers[q.Question]; !answered {
				s.PendingQuestions++
			}
		}
	}
	return s
}

// Export writes the manuscript in the given format and returns its path.
func (e *Engine) Export(ctx context.Context, format string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ExportManuscript(ctx, format)
}
