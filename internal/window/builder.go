package window

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/storysmith/internal/story"
)

// TaskKind selects which context a payload is built for.
type TaskKind string

const (
	TaskAnalysis TaskKind = "analysis"
	TaskOutline  TaskKind = "outline"
	TaskChapter  TaskKind = "chapter"
	TaskCritique TaskKind = "critique"
)

// Section is one named block of a context payload.
type Section struct {
	Name string
	Text string
}

// Payload is the bounded, curated subset of narrative state sent to the
// model for one generation step.
type Payload struct {
	Task     TaskKind
	Chapter  int
	Sections []Section
}

// Render flattens the payload into prompt text.
func (p Payload) Render() string {
	var b strings.Builder
	for _, s := range p.Sections {
		if s.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.Name, s.Text)
	}
	return strings.TrimSpace(b.String())
}

// Tokens estimates the payload size. Roughly four characters per token; an
// estimate is fine because the budget is enforced against the same measure.
func (p Payload) Tokens() int {
	return EstimateTokens(p.Render())
}

// EstimateTokens approximates the token count of a string.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Trim levels, applied in order until the payload fits the budget. Foundational
// facts and the target chapter's outline entry are never trimmed.
const (
	trimNone           = iota // full trailing-window text
	trimRecentCondense        // recent chapters truncated
	trimRecentSummary         // recent chapters reduced to plan summaries
	trimDigestMerge           // older digests merged into one block
	trimDropLocal             // chapter-local facts and digests dropped
	trimFloor                 // floor only
)

const (
	fullDetailChars      = 6000
	condensedDetailChars = 1200
	mergedDigestChars    = 2400
)

// Builder assembles bounded context payloads. Chapter digests are generated
// lazily through the Summarizer and cached per chapter index so the retention
// policy stays deterministic across calls.
type Builder struct {
	mu          sync.Mutex
	trailing    int
	concurrency int
	summarizer  Summarizer
	digests     map[int]string
	logger      *slog.Logger
}

type Option func(*Builder)

// WithTrailingWindow sets how many recent chapters keep full detail.
func WithTrailingWindow(k int) Option {
	return func(b *Builder) {
		if k > 0 {
			b.trailing = k
		}
	}
}

// WithConcurrency bounds parallel digest generation.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger.With("component", "window_builder")
	}
}

func New(summarizer Summarizer, opts ...Option) *Builder {
	b := &Builder{
		trailing:    3,
		concurrency: 2,
		summarizer:  summarizer,
		digests:     make(map[int]string),
		logger:      slog.Default().With("component", "window_builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Invalidate drops the cached digest for a chapter, forcing regeneration.
// Called when a chapter's text is replaced by revision.
func (b *Builder) Invalidate(chapter int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.digests, chapter)
}

// Build produces the smallest sufficient context for the task that fits the
// token budget. Trimming degrades gracefully: trailing-window detail is
// condensed first, then older digests merged, then local detail dropped.
// Rule/setting facts and the target outline entry are never dropped; if they
// alone exceed the budget a BudgetExceededError is returned.
func (b *Builder) Build(ctx context.Context, task TaskKind, p *story.Project, budget int) (Payload, error) {
	target := p.Cursor()
	windowStart := target - b.trailing
	if windowStart < 0 {
		windowStart = 0
	}

	var digests map[int]string
	if task == TaskChapter || task == TaskCritique {
		var err error
		digests, err = b.ensureDigests(ctx, p, windowStart)
		if err != nil {
			return Payload{}, err
		}
	}

	for level := trimNone; level <= trimFloor; level++ {
		payload := b.assemble(task, p, target, windowStart, digests, level)
		if tokens := payload.Tokens(); tokens <= budget {
			b.logger.Debug("context payload built",
				"task", string(task),
				"chapter", target,
				"trim_level", level,
				"tokens", tokens,
				"budget", budget)
			return payload, nil
		}
	}

	floor := b.assemble(task, p, target, windowStart, digests, trimFloor)
	return Payload{}, &BudgetExceededError{Budget: budget, Required: floor.Tokens()}
}

func (b *Builder) assemble(task TaskKind, p *story.Project, target, windowStart int, digests map[int]string, level int) Payload {
	payload := Payload{Task: task, Chapter: target}
	add := func(name, text string) {
		if text != "" {
			payload.Sections = append(payload.Sections, Section{Name: name, Text: text})
		}
	}

	switch task {
	case TaskAnalysis:
		add("Story Prompt", renderPrompt(p))
		return payload

	case TaskOutline:
		add("Story Prompt", renderPrompt(p))
		if level < trimFloor && p.Analysis != nil {
			add("Analysis", renderAnalysis(p.Analysis))
		}
		if level < trimFloor && len(p.Answers) > 0 {
			add("Operator Answers", renderAnswers(p.Answers))
		}
		add("World Rules & Setting", renderFacts(p.Facts, true, -1))
		return payload
	}

	// Chapter writing and critique share the full retention policy.
	if level < trimFloor {
		add("Story", renderFraming(p))
	}
	if plan := planAt(p, target); plan != nil {
		add("Chapter Plan", renderPlan(plan))
	}
	add("World Rules & Setting", renderFacts(p.Facts, true, -1))

	if level < trimDropLocal {
		add("Established Facts", renderFacts(p.Facts, false, target))
	}
	if level < trimFloor {
		add("Characters", renderCharacters(p, windowStart, target, level))
		add("Open Plot Threads", renderThreads(p, windowStart, level))
	}

	if level < trimDropLocal {
		add("Earlier Chapters", renderDigests(p, digests, windowStart, level))
	}
	if level < trimFloor {
		add("Recent Chapters", renderRecent(p, windowStart, target, level))
	}

	return payload
}

// ensureDigests lazily summarizes every written chapter that has left the
// trailing window, running missing summaries concurrently.
func (b *Builder) ensureDigests(ctx context.Context, p *story.Project, windowStart int) (map[int]string, error) {
	b.mu.Lock()
	var missing []story.Chapter
	for _, ch := range p.Chapters {
		if ch.Index >= windowStart {
			continue
		}
		if _, ok := b.digests[ch.Index]; !ok {
			missing = append(missing, ch)
		}
	}
	b.mu.Unlock()

	if len(missing) > 0 {
		b.logger.Info("generating chapter digests",
			"missing", len(missing),
			"concurrency", b.concurrency)

		g, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, b.concurrency)
		for _, ch := range missing {
			ch := ch
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-gctx.Done():
					return gctx.Err()
				}

				digest, err := b.summarizer.Summarize(gctx, ch)
				if err != nil {
					return err
				}
				b.mu.Lock()
				b.digests[ch.Index] = digest
				b.mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int]string, len(b.digests))
	for k, v := range b.digests {
		out[k] = v
	}
	return out, nil
}

func planAt(p *story.Project, idx int) *story.ChapterPlan {
	if idx < 0 || idx >= len(p.Outline) {
		return nil
	}
	return &p.Outline[idx]
}

func renderPrompt(p *story.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Type: %s\n", p.Type)
	if p.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s\n", p.Genre)
	}
	if p.TargetLength > 0 {
		fmt.Fprintf(&b, "Target length: %d words\n", p.TargetLength)
	}
	if p.StyleNotes != "" {
		fmt.Fprintf(&b, "Style preferences: %s\n", p.StyleNotes)
	}
	b.WriteString(p.Prompt)
	return b.String()
}

func renderAnalysis(a *story.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Complexity: %d/10\n", a.ComplexityScore)
	if a.GenreAnalysis != "" {
		fmt.Fprintf(&b, "Genre analysis: %s\n", a.GenreAnalysis)
	}
	if len(a.Strengths) > 0 {
		fmt.Fprintf(&b, "Strengths: %s\n", strings.Join(a.Strengths, "; "))
	}
	for _, g := range a.Gaps {
		fmt.Fprintf(&b, "Gap (%s, severity %d): %s\n", g.Category, g.Severity, g.Description)
	}
	return b.String()
}

func renderAnswers(answers map[string]string) string {
	questions := make([]string, 0, len(answers))
	for q := range answers {
		questions = append(questions, q)
	}
	sort.Strings(questions)

	var b strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", q, answers[q])
	}
	return strings.TrimSpace(b.String())
}

func renderFraming(p *story.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	if p.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s\n", p.Genre)
	}
	if p.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", p.Theme)
	}
	if p.Setting != "" {
		fmt.Fprintf(&b, "Setting: %s\n", p.Setting)
	}
	if p.StyleNotes != "" {
		fmt.Fprintf(&b, "Style: %s\n", p.StyleNotes)
	}
	return b.String()
}

func renderPlan(plan *story.ChapterPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d: %s\n", plan.Index+1, plan.Title)
	fmt.Fprintf(&b, "Summary: %s\n", plan.Summary)
	if len(plan.KeyEvents) > 0 {
		fmt.Fprintf(&b, "Key events: %s\n", strings.Join(plan.KeyEvents, "; "))
	}
	if len(plan.Characters) > 0 {
		fmt.Fprintf(&b, "Characters: %s\n", strings.Join(plan.Characters, ", "))
	}
	if plan.TargetWords > 0 {
		fmt.Fprintf(&b, "Target words: %d\n", plan.TargetWords)
	}
	return b.String()
}

// renderFacts renders either the foundational (rule/setting) facts, which
// never age out, or the remaining facts established up to the target chapter.
func renderFacts(facts []story.WorldFact, foundational bool, upto int) string {
	var b strings.Builder
	for _, f := range facts {
		if f.Category.Foundational() != foundational {
			continue
		}
		if !foundational && upto >= 0 && f.EstablishedIn > upto {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Category, f.Subject, f.Statement)
	}
	return strings.TrimSpace(b.String())
}

func renderCharacters(p *story.Project, windowStart, target, level int) string {
	recent := map[string]bool{}
	for i := windowStart; i <= target && i < len(p.Outline); i++ {
		for _, name := range p.Outline[i].Characters {
			recent[strings.ToLower(name)] = true
		}
	}

	var b strings.Builder
	for _, c := range p.Characters {
		inWindow := c.FirstChapter >= windowStart || recent[strings.ToLower(c.Name)]
		if !inWindow && c.Role == story.RoleSupporting {
			continue
		}
		if level >= trimDigestMerge {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Role)
			continue
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", c.Name, c.Role, c.Arc)
		if c.State != "" {
			fmt.Fprintf(&b, "  Current state: %s\n", c.State)
		}
	}
	return strings.TrimSpace(b.String())
}

func renderThreads(p *story.Project, windowStart, level int) string {
	var b strings.Builder
	for _, t := range p.Threads {
		touchesWindow := false
		for _, c := range t.Chapters {
			if c >= windowStart {
				touchesWindow = true
				break
			}
		}
		if t.Status != story.ThreadOpen && !touchesWindow {
			continue
		}
		if level >= trimDigestMerge {
			fmt.Fprintf(&b, "- [%s] %s\n", t.Status, truncateText(t.Description, 80))
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s\n", t.Status, t.Description)
	}
	return strings.TrimSpace(b.String())
}

func renderDigests(p *story.Project, digests map[int]string, windowStart, level int) string {
	var parts []string
	for _, ch := range p.Chapters {
		if ch.Index >= windowStart {
			break
		}
		digest, ok := digests[ch.Index]
		if !ok {
			continue
		}
		if level >= trimDigestMerge {
			parts = append(parts, digest)
			continue
		}
		parts = append(parts, fmt.Sprintf("Chapter %d: %s", ch.Index+1, digest))
	}
	if len(parts) == 0 {
		return ""
	}

	if level >= trimDigestMerge {
		merged := "Story so far: " + strings.Join(parts, " ")
		return truncateText(merged, mergedDigestChars)
	}
	return strings.Join(parts, "\n\n")
}

func renderRecent(p *story.Project, windowStart, target, level int) string {
	var parts []string
	for _, ch := range p.Chapters {
		if ch.Index < windowStart || ch.Index >= target {
			continue
		}

		switch {
		case level >= trimRecentSummary:
			if plan := planAt(p, ch.Index); plan != nil {
				parts = append(parts, fmt.Sprintf("Chapter %d: %s", ch.Index+1, plan.Summary))
			}
		case level >= trimRecentCondense:
			parts = append(parts, fmt.Sprintf("Chapter %d (condensed):\n%s", ch.Index+1, tailText(ch.Text, condensedDetailChars)))
		default:
			parts = append(parts, fmt.Sprintf("Chapter %d:\n%s", ch.Index+1, tailText(ch.Text, fullDetailChars)))
		}
	}
	return strings.Join(parts, "\n\n")
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// tailText keeps the end of a chapter; the closing passages matter most for
// continuity into the next chapter.
func tailText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
