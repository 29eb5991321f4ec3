package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vampirenirmal/storysmith/internal/config"
	"github.com/vampirenirmal/storysmith/internal/consistency"
	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/storage"
	"github.com/vampirenirmal/storysmith/internal/store"
	"github.com/vampirenirmal/storysmith/internal/story"
	"github.com/vampirenirmal/storysmith/internal/window"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, ch story.Chapter) (string, error) {
	return "Digest of chapter " + ch.Title, nil
}

func newTestEngine(t *testing.T, mock *llm.MockClient) *Engine {
	t.Helper()
	once := llm.RetryPolicy{MaxAttempts: 1}
	st := store.New(storage.NewFileSystem(t.TempDir()))
	builder := window.New(stubSummarizer{})
	checker := consistency.NewChecker(mock, once)
	return New(st, builder, checker, mock,
		WithRetryPolicy(once),
		WithLimits(config.Limits{MaxContextTokens: 8192}))
}

const analysisJSON = `{
	"strengths": ["strong hook"],
	"gaps": [{"description": "stakes unclear", "category": "stakes", "severity": 3}],
	"questions": [{"question": "Who is the detective's client?", "category": "plot", "importance": 4}],
	"genre_analysis": "classic small-town mystery",
	"complexity_score": 5
}`

const outlineJSON = `{
	"title": "The Lighthouse Ledger",
	"premise": "A retired detective finds her own name in a dead man's ledger.",
	"theme": "the past collects its debts",
	"setting": "a fog-bound fishing town",
	"chapters": [
		{"index": 0, "title": "The Ledger", "summary": "Maren finds the ledger.", "key_events": ["body found"], "target_words": 1500, "characters": ["Maren"]},
		{"index": 1, "title": "Old Debts", "summary": "Maren traces the entries.", "key_events": ["first suspect"], "target_words": 1500, "characters": ["Maren", "Callum"]},
		{"index": 2, "title": "The Keeper", "summary": "The keeper confesses.", "key_events": ["confession"], "target_words": 1500, "characters": ["Maren", "Callum"]}
	],
	"characters": [
		{"name": "Maren", "role": "protagonist", "arc": "drawn back into the work she fled"},
		{"name": "Callum", "role": "antagonist", "arc": "keeper with a buried debt"}
	],
	"threads": [{"description": "why Maren's name is in the ledger"}],
	"facts": [{"category": "rule", "subject": "electricity", "statement": "The town has no electricity; everything runs on oil and tide."}]
}`

const cleanReviewJSON = `{
	"contradictions": [],
	"new_characters": [],
	"new_facts": [],
	"threads_touched": [],
	"style_notes": []
}`

func startedProject(t *testing.T, e *Engine, mock *llm.MockClient) {
	t.Helper()
	mock.Enqueue(analysisJSON)
	p := &story.Project{
		Name:   "lighthouse-ledger",
		Type:   story.TypeShortStory,
		Genre:  "mystery",
		Prompt: "A retired detective in a fishing town finds a dead man's ledger.",
	}
	analysis, err := e.StartProject(context.Background(), p)
	if err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	if len(analysis.Questions) != 1 {
		t.Fatalf("questions = %d, want 1", len(analysis.Questions))
	}
	if got := e.Status().Phase; got != story.PhaseQuestioning {
		t.Fatalf("phase = %s, want questioning", got)
	}
}

func outlinedProject(t *testing.T, e *Engine, mock *llm.MockClient) {
	t.Helper()
	startedProject(t, e, mock)

	answers := map[string]string{"Who is the detective's client?": "No client; the dead man named her executor."}
	if err := e.AnswerQuestions(context.Background(), answers); err != nil {
		t.Fatalf("AnswerQuestions: %v", err)
	}

	mock.Enqueue(outlineJSON)
	plans, err := e.GenerateOutline(context.Background(), "")
	if err != nil {
		t.Fatalf("GenerateOutline: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("outline length = %d, want 3", len(plans))
	}
	if err := e.ApproveOutline(context.Background()); err != nil {
		t.Fatalf("ApproveOutline: %v", err)
	}
}

func TestFullWorkflow(t *testing.T) {
	mock := llm.NewMockClient()
	e := newTestEngine(t, mock)
	outlinedProject(t, e, mock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mock.Enqueue("The fog came in with the tide and did not leave. Maren walked the quay alone.")
		mock.Enqueue(cleanReviewJSON)
		ch, _, err := e.WriteNext(ctx)
		if err != nil {
			t.Fatalf("WriteNext(%d): %v", i, err)
		}
		if ch.Index != i {
			t.Fatalf("chapter index = %d, want %d", ch.Index, i)
		}
		if err := e.ApproveChapter(ctx, i); err != nil {
			t.Fatalf("ApproveChapter(%d): %v", i, err)
		}
	}

	s := e.Status()
	if s.Phase != story.PhaseComplete {
		t.Errorf("phase = %s, want complete", s.Phase)
	}
	if s.ChaptersApproved != 3 {
		t.Errorf("approved = %d, want 3", s.ChaptersApproved)
	}

	path, err := e.Export(ctx, "markdown")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasSuffix(path, "manuscript.md") {
		t.Errorf("export path = %q", path)
	}
}

func TestRevisionRewritesChapter(t *testing.T) {
	mock := llm.NewMockClient()
	e := newTestEngine(t, mock)
	outlinedProject(t, e, mock)
	ctx := context.Background()

	mock.Enqueue("First draft of the chapter, thin on tension.")
	mock.Enqueue(cleanReviewJSON)
	first, _, err := e.WriteNext(ctx)
	if err != nil {
		t.Fatalf("WriteNext: %v", err)
	}

	if err := e.RequestRevision(ctx, 0, "More tension on the quay."); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}

	mock.Enqueue("Second draft. The rope snapped twice before she caught it.")
	mock.Enqueue(cleanReviewJSON)
	second, _, err := e.WriteNext(ctx)
	if err != nil {
		t.Fatalf("WriteNext rewrite: %v", err)
	}

	if second.Index != first.Index {
		t.Errorf("rewrite changed index: %d -> %d", first.Index, second.Index)
	}
	if second.Revisions != 1 {
		t.Errorf("revisions = %d, want 1", second.Revisions)
	}
	if s := e.Status(); s.ChaptersWritten != 1 {
		t.Errorf("chapters written = %d, want 1 after rewrite", s.ChaptersWritten)
	}

	// The revision prompt must carry the feedback and the prior draft.
	calls := mock.Calls()
	rewriteReq := calls[len(calls)-2]
	if !strings.Contains(rewriteReq.Prompt, "More tension on the quay.") {
		t.Error("rewrite prompt missing operator feedback")
	}
	if !strings.Contains(rewriteReq.Prompt, "thin on tension") {
		t.Error("rewrite prompt missing previous draft")
	}
}

func TestContradictionBlocksCommit(t *testing.T) {
	mock := llm.NewMockClient()
	e := newTestEngine(t, mock)
	outlinedProject(t, e, mock)
	ctx := context.Background()

	mock.Enqueue("She flicked the switch and the electric lamps hummed to life.")
	mock.Enqueue(`{
		"contradictions": [],
		"new_characters": [],
		"new_facts": [{"category": "rule", "subject": "electricity", "statement": "The town is wired for electric light."}],
		"threads_touched": [],
		"style_notes": []
	}`)

	_, report, err := e.WriteNext(ctx)
	var blocked *ReviewBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("want ReviewBlockedError, got %v", err)
	}
	if !report.Blocking() {
		t.Error("report should carry the blocking flag")
	}
	if s := e.Status(); s.ChaptersWritten != 0 {
		t.Errorf("blocked draft was committed: %d chapters", s.ChaptersWritten)
	}
}

func TestWriteNextPhaseGate(t *testing.T) {
	mock := llm.NewMockClient()
	e := newTestEngine(t, mock)
	startedProject(t, e, mock)

	if _, _, err := e.WriteNext(context.Background()); err == nil {
		t.Fatal("WriteNext should fail outside the writing phase")
	}
}

func TestRetryExhaustionSurfaces(t *testing.T) {
	mock := llm.NewMockClient()
	mock.EnqueueError(llm.ErrUnavailable)
	mock.EnqueueError(llm.ErrUnavailable)

	st := store.New(storage.NewFileSystem(t.TempDir()))
	e := New(st, window.New(stubSummarizer{}), consistency.NewChecker(mock, llm.RetryPolicy{MaxAttempts: 1}), mock,
		WithRetryPolicy(llm.RetryPolicy{MaxAttempts: 2, InitialDelay: 1, BackoffFactor: 1, MaxDelay: 1}),
		WithLimits(config.Limits{MaxContextTokens: 8192}))

	p := &story.Project{Name: "doomed", Type: story.TypeShortStory, Prompt: "a prompt"}
	_, err := e.StartProject(context.Background(), p)
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable after retries, got %v", err)
	}
	if calls := len(mock.Calls()); calls != 2 {
		t.Errorf("generate called %d times, want 2", calls)
	}
}

func TestAnalysisFailureIsRecoverable(t *testing.T) {
	mock := llm.NewMockClient()
	e := newTestEngine(t, mock)
	ctx := context.Background()

	mock.EnqueueError(llm.ErrUnavailable)
	p := &story.Project{
		Name:   "lighthouse-ledger",
		Type:   story.TypeShortStory,
		Prompt: "A retired detective in a fishing town finds a dead man's ledger.",
	}
	if _, err := e.StartProject(ctx, p); !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if got := e.Status().Phase; got != story.PhaseAnalysis {
		t.Fatalf("phase = %s after failed analysis, want analysis", got)
	}

	// The project record survived; the analysis step can be retried alone.
	mock.Enqueue(analysisJSON)
	analysis, err := e.ResumeAnalysis(ctx)
	if err != nil {
		t.Fatalf("ResumeAnalysis: %v", err)
	}
	if len(analysis.Questions) != 1 {
		t.Fatalf("questions = %d, want 1", len(analysis.Questions))
	}
	if got := e.Status().Phase; got != story.PhaseQuestioning {
		t.Fatalf("phase = %s after retry, want questioning", got)
	}

	if _, err := e.ResumeAnalysis(ctx); err == nil {
		t.Fatal("ResumeAnalysis should be rejected once analysis completed")
	}
}

func TestAnswerQuestionsRequiresAll(t *testing.T) {
	mock := llm.NewMockClient()
	e := newTestEngine(t, mock)
	ctx := context.Background()

	mock.Enqueue(`{
		"strengths": [],
		"gaps": [],
		"questions": [
			{"question": "Who is the detective's client?", "category": "plot", "importance": 4},
			{"question": "What does the ledger record?", "category": "plot", "importance": 5}
		],
		"complexity_score": 5
	}`)
	p := &story.Project{
		Name:   "lighthouse-ledger",
		Type:   story.TypeShortStory,
		Prompt: "A retired detective in a fishing town finds a dead man's ledger.",
	}
	if _, err := e.StartProject(ctx, p); err != nil {
		t.Fatalf("StartProject: %v", err)
	}

	partial := map[string]string{"Who is the detective's client?": "No client."}
	if err := e.AnswerQuestions(ctx, partial); err != nil {
		t.Fatalf("AnswerQuestions partial: %v", err)
	}
	s := e.Status()
	if s.Phase != story.PhaseQuestioning {
		t.Fatalf("phase = %s after partial answers, want questioning", s.Phase)
	}
	if s.PendingQuestions != 1 {
		t.Errorf("pending questions = %d, want 1", s.PendingQuestions)
	}

	rest := map[string]string{"What does the ledger record?": "Debts the dead man collected in secret."}
	if err := e.AnswerQuestions(ctx, rest); err != nil {
		t.Fatalf("AnswerQuestions rest: %v", err)
	}
	if got := e.Status().Phase; got != story.PhaseOutlining {
		t.Fatalf("phase = %s after all answers, want outlining", got)
	}
}

func TestOutlineChapterCountEnforced(t *testing.T) {
	mock := llm.NewMockClient()
	e := newTestEngine(t, mock)
	startedProject(t, e, mock)

	answers := map[string]string{"Who is the detective's client?": "No client; the dead man named her executor."}
	if err := e.AnswerQuestions(context.Background(), answers); err != nil {
		t.Fatalf("AnswerQuestions: %v", err)
	}

	short := `{
		"title": "T", "premise": "P", "theme": "", "setting": "",
		"chapters": [{"index": 0, "title": "Only", "summary": "Just one.", "key_events": [], "target_words": 1000}],
		"characters": [], "threads": [], "facts": []
	}`
	// Both the first attempt and the corrective pass come back too short.
	mock.Enqueue(short)
	mock.Enqueue(short)

	if _, err := e.GenerateOutline(context.Background(), ""); err == nil {
		t.Fatal("one-chapter outline for a short story should be rejected")
	}
}
