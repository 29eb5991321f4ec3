package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/storysmith/internal/storage"
	"github.com/vampirenirmal/storysmith/internal/story"
)

// ErrChapterApproved is returned when a mutation targets an approved chapter.
var ErrChapterApproved = errors.New("chapter is approved and immutable")

// errUnchanged signals from a mutation closure that the operation turned out
// to be a no-op and nothing needs committing.
var errUnchanged = errors.New("unchanged")

// Store holds the canonical mutable record of one project. Every mutating
// operation runs against a copy of the aggregate; the copy replaces the live
// aggregate only after the change-log entry and the record are durably
// written. A failed commit leaves the in-memory aggregate exactly as it was.
type Store struct {
	mu      sync.Mutex
	backend storage.Storage
	logger  *slog.Logger
	project *story.Project
	changes []ChangeEntry
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "store")
	}
}

func New(backend storage.Storage, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create initializes and persists a new project aggregate.
func (s *Store) Create(ctx context.Context, p *story.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Phase == "" {
		p.Phase = story.PhaseAnalysis
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if s.backend.Exists(ctx, storage.ProjectRecordPath(p.Name)) {
		return fmt.Errorf("project %q already exists", p.Name)
	}

	s.changes = nil
	entry := newChangeEntry("create_project", fmt.Sprintf("%s (%s)", p.Name, p.Type))
	if err := s.appendChange(ctx, p.Name, entry); err != nil {
		return err
	}
	if err := s.persistProject(ctx, p); err != nil {
		return err
	}
	s.project = p
	return nil
}

// Exists reports whether a project record is present in the backend.
func (s *Store) Exists(ctx context.Context, name string) bool {
	return s.backend.Exists(ctx, storage.ProjectRecordPath(name))
}

// Load restores a project aggregate and its change log from the backend.
func (s *Store) Load(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.backend.Load(ctx, storage.ProjectRecordPath(name))
	if err != nil {
		return fmt.Errorf("loading project %q: %w", name, err)
	}

	var p story.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding project %q: %w", name, err)
	}

	s.project = &p
	if err := s.loadChanges(ctx, name); err != nil {
		return err
	}

	s.logger.Info("project loaded",
		"project", p.Name,
		"phase", p.Phase,
		"chapters", len(p.Chapters))
	return nil
}

// Save persists the current aggregate without recording a change entry.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.project == nil {
		return ErrNoProject
	}
	return s.persistProject(ctx, s.project)
}

// Project returns the loaded aggregate. The engine is the single writer per
// project; callers must not mutate the aggregate directly.
func (s *Store) Project() *story.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// apply runs a mutation against a copy of the aggregate and swaps the copy in
// only after the commit is durable. The closure returns the change-log op and
// detail; errUnchanged skips the commit entirely.
func (s *Store) apply(ctx context.Context, fn func(p *story.Project) (op, detail string, err error)) error {
	if s.project == nil {
		return ErrNoProject
	}
	next, err := cloneProject(s.project)
	if err != nil {
		return err
	}

	op, detail, err := fn(next)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()

	if err := s.appendChange(ctx, next.Name, newChangeEntry(op, detail)); err != nil {
		return err
	}
	if err := s.persistProject(ctx, next); err != nil {
		return err
	}

	s.project = next
	s.logger.Debug("store mutation committed", "op", op, "detail", detail)
	return nil
}

func cloneProject(p *story.Project) (*story.Project, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("cloning project: %w", err)
	}
	var c story.Project
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cloning project: %w", err)
	}
	return &c, nil
}

// SetPhase advances the workflow phase, enforcing forward-only transitions.
func (s *Store) SetPhase(ctx context.Context, to story.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		from := p.Phase
		if !story.ValidTransition(from, to) {
			return "", "", &TransitionError{Entity: "phase", From: string(from), To: string(to)}
		}
		if from == to {
			return "", "", errUnchanged
		}
		p.Phase = to
		return "set_phase", fmt.Sprintf("%s -> %s", from, to), nil
	})
}

// SetAnalysis records the analysis phase result.
func (s *Store) SetAnalysis(ctx context.Context, a story.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		p.Analysis = &a
		detail := fmt.Sprintf("%d questions, %d gaps, complexity %d", len(a.Questions), len(a.Gaps), a.ComplexityScore)
		return "set_analysis", detail, nil
	})
}

// SetAnswers merges operator answers to clarifying questions.
func (s *Store) SetAnswers(ctx context.Context, answers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		if p.Answers == nil {
			p.Answers = make(map[string]string, len(answers))
		}
		for q, a := range answers {
			p.Answers[q] = a
		}
		return "set_answers", fmt.Sprintf("%d answers", len(answers)), nil
	})
}

// SetOutline replaces the outline and the story framing produced with it.
// Plan indices are normalized to be contiguous from zero.
func (s *Store) SetOutline(ctx context.Context, title, premise, theme, setting string, plans []story.ChapterPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		if len(p.Chapters) > 0 && len(plans) < len(p.Chapters) {
			return "", "", &SequenceError{Index: len(plans), Want: len(p.Chapters)}
		}

		for i := range plans {
			plans[i].Index = i
		}
		p.Title = title
		p.Premise = premise
		p.Theme = theme
		p.Setting = setting
		p.Outline = plans
		return "set_outline", fmt.Sprintf("%q, %d chapters", title, len(plans)), nil
	})
}

// SetRevisionFeedback stores operator feedback for the in-flight chapter.
func (s *Store) SetRevisionFeedback(ctx context.Context, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		p.RevisionFeedback = feedback
		return "request_revision", truncate(feedback, 120), nil
	})
}

// AddCharacter registers a character. Re-adding an identical character is a
// no-op; a name collision with a different role is a contradiction.
func (s *Store) AddCharacter(ctx context.Context, c story.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		if existing := p.CharacterByName(c.Name); existing != nil {
			if existing.Role != c.Role {
				return "", "", &ContradictionError{
					Subject:  "character " + c.Name,
					Existing: string(existing.Role),
					Proposed: string(c.Role),
				}
			}
			return "", "", errUnchanged
		}
		p.Characters = append(p.Characters, c)
		return "add_character", fmt.Sprintf("%s (%s)", c.Name, c.Role), nil
	})
}

// UpdateCharacterState replaces a character's current state/motivation.
func (s *Store) UpdateCharacterState(ctx context.Context, name, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		c := p.CharacterByName(name)
		if c == nil {
			return "", "", fmt.Errorf("character %q: %w", name, ErrNotFound)
		}
		c.State = delta
		return "update_character_state", name, nil
	})
}

// AddPlotThread registers a plot thread. Threads are created open.
func (s *Store) AddPlotThread(ctx context.Context, t story.PlotThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = story.ThreadOpen
	}

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		if p.ThreadByID(t.ID) != nil {
			return "", "", errUnchanged
		}
		p.Threads = append(p.Threads, t)
		return "add_plot_thread", fmt.Sprintf("%s: %s", t.ID, truncate(t.Description, 80)), nil
	})
}

// UpdatePlotThreadStatus moves a thread forward in its lifecycle. Resolved and
// abandoned are terminal; the closing chapter is recorded either way.
func (s *Store) UpdatePlotThreadStatus(ctx context.Context, id string, status story.ThreadStatus, chapter *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		t := p.ThreadByID(id)
		if t == nil {
			return "", "", fmt.Errorf("plot thread %q: %w", id, ErrNotFound)
		}
		if t.Status == status {
			return "", "", errUnchanged
		}
		if t.Status != story.ThreadOpen {
			return "", "", &TransitionError{Entity: "plot thread " + id, From: string(t.Status), To: string(status)}
		}

		t.Status = status
		switch status {
		case story.ThreadResolved:
			t.ResolutionChapter = chapter
		case story.ThreadAbandoned:
			t.AbandonedChapter = chapter
		}
		return "update_plot_thread_status", fmt.Sprintf("%s -> %s", id, status), nil
	})
}

// MarkThreadChapter records that a thread is touched by a chapter.
func (s *Store) MarkThreadChapter(ctx context.Context, id string, chapter int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		t := p.ThreadByID(id)
		if t == nil {
			return "", "", fmt.Errorf("plot thread %q: %w", id, ErrNotFound)
		}
		for _, c := range t.Chapters {
			if c == chapter {
				return "", "", errUnchanged
			}
		}
		t.Chapters = append(t.Chapters, chapter)
		return "mark_thread_chapter", fmt.Sprintf("%s touches chapter %d", id, chapter), nil
	})
}

// AddWorldFact establishes a fact. A fact with the same category and subject
// but a conflicting statement fails with a ContradictionError unless override
// is set, in which case the statement is replaced and the override is logged.
func (s *Store) AddWorldFact(ctx context.Context, f story.WorldFact, override bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		for i := range p.Facts {
			existing := &p.Facts[i]
			if existing.Category != f.Category || !strings.EqualFold(existing.Subject, f.Subject) {
				continue
			}
			if strings.EqualFold(existing.Statement, f.Statement) {
				return "", "", errUnchanged
			}
			if !override {
				return "", "", &ContradictionError{
					Subject:  fmt.Sprintf("%s fact %q", f.Category, f.Subject),
					Existing: existing.Statement,
					Proposed: f.Statement,
				}
			}
			old := existing.Statement
			existing.Statement = f.Statement
			detail := fmt.Sprintf("%s: %q replaces %q", f.Subject, truncate(f.Statement, 60), truncate(old, 60))
			return "override_world_fact", detail, nil
		}
		p.Facts = append(p.Facts, f)
		return "add_world_fact", fmt.Sprintf("[%s] %s: %s", f.Category, f.Subject, truncate(f.Statement, 80)), nil
	})
}

// AppendChapter commits a new chapter. The index must be the next contiguous
// one; commit is all-or-nothing.
func (s *Store) AppendChapter(ctx context.Context, ch story.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		want := len(p.Chapters)
		if ch.Index != want {
			return "", "", &SequenceError{Index: ch.Index, Want: want}
		}
		if ch.Status == "" {
			ch.Status = story.ChapterDraft
		}
		if ch.WordCount == 0 {
			ch.WordCount = story.CountWords(ch.Text)
		}
		if ch.WrittenAt.IsZero() {
			ch.WrittenAt = time.Now().UTC()
		}

		p.Chapters = append(p.Chapters, ch)
		p.RevisionFeedback = ""
		return "append_chapter", fmt.Sprintf("chapter %d (%d words)", ch.Index, ch.WordCount), nil
	})
}

// ReplaceChapter swaps the text of an unapproved chapter for a revised draft,
// bumping its revision count.
func (s *Store) ReplaceChapter(ctx context.Context, index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		if index < 0 || index >= len(p.Chapters) {
			return "", "", &SequenceError{Index: index, Want: len(p.Chapters)}
		}
		ch := &p.Chapters[index]
		if ch.Status == story.ChapterApproved {
			return "", "", fmt.Errorf("chapter %d: %w", index, ErrChapterApproved)
		}

		ch.Text = text
		ch.WordCount = story.CountWords(text)
		ch.Revisions++
		ch.Status = story.ChapterDraft
		ch.WrittenAt = time.Now().UTC()
		p.RevisionFeedback = ""
		return "replace_chapter", fmt.Sprintf("chapter %d revision %d", index, ch.Revisions), nil
	})
}

// AnnotateChapter appends critique notes. Approved chapters accept annotations
// but keep their status.
func (s *Store) AnnotateChapter(ctx context.Context, index int, notes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		if index < 0 || index >= len(p.Chapters) {
			return "", "", &SequenceError{Index: index, Want: len(p.Chapters)}
		}
		ch := &p.Chapters[index]
		ch.CritiqueNotes = append(ch.CritiqueNotes, notes...)
		if ch.Status == story.ChapterDraft {
			ch.Status = story.ChapterCritiqued
		}
		return "annotate_chapter", fmt.Sprintf("chapter %d: %d notes", index, len(notes)), nil
	})
}

// ApproveChapter marks a chapter approved; its text becomes immutable.
func (s *Store) ApproveChapter(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(ctx, func(p *story.Project) (string, string, error) {
		if index < 0 || index >= len(p.Chapters) {
			return "", "", &SequenceError{Index: index, Want: len(p.Chapters)}
		}
		ch := &p.Chapters[index]
		if ch.Status == story.ChapterApproved {
			return "", "", errUnchanged
		}
		ch.Status = story.ChapterApproved
		return "approve_chapter", fmt.Sprintf("chapter %d", index), nil
	})
}

// Digest is the structured summary of project state as of a chapter index.
type Digest struct {
	ActiveCharacters []story.Character
	OpenThreads      []story.PlotThread
	Facts            []story.WorldFact
	Summaries        []string
}

// Summary returns a digest of state current as of the given chapter index:
// characters introduced, threads still open, facts established, and the plan
// summaries of written chapters.
func (s *Store) Summary(upto int) (Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.project == nil {
		return Digest{}, ErrNoProject
	}

	var d Digest
	for _, c := range s.project.Characters {
		if c.FirstChapter <= upto {
			d.ActiveCharacters = append(d.ActiveCharacters, c)
		}
	}
	for _, t := range s.project.Threads {
		open := t.Status == story.ThreadOpen
		if t.Status == story.ThreadResolved && t.ResolutionChapter != nil && *t.ResolutionChapter > upto {
			open = true
		}
		if t.Status == story.ThreadAbandoned && t.AbandonedChapter != nil && *t.AbandonedChapter > upto {
			open = true
		}
		if open {
			d.OpenThreads = append(d.OpenThreads, t)
		}
	}
	for _, f := range s.project.Facts {
		if f.EstablishedIn <= upto {
			d.Facts = append(d.Facts, f)
		}
	}
	for i, ch := range s.project.Chapters {
		if ch.Index > upto {
			break
		}
		if i < len(s.project.Outline) {
			d.Summaries = append(d.Summaries, s.project.Outline[i].Summary)
		}
	}
	return d, nil
}

// ExportManuscript writes the committed chapters as a markdown manuscript and
// returns its storage path.
func (s *Store) ExportManuscript(ctx context.Context, format string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.project == nil {
		return "", ErrNoProject
	}
	p := s.project

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	if p.Genre != "" {
		fmt.Fprintf(&b, "**Genre:** %s\n", p.Genre)
	}
	if p.Premise != "" {
		fmt.Fprintf(&b, "**Premise:** %s\n", p.Premise)
	}
	if p.Theme != "" {
		fmt.Fprintf(&b, "**Theme:** %s\n", p.Theme)
	}
	b.WriteString("\n---\n\n")

	for _, ch := range p.Chapters {
		title := ch.Title
		if title == "" && ch.Index < len(p.Outline) {
			title = p.Outline[ch.Index].Title
		}
		fmt.Fprintf(&b, "## Chapter %d: %s\n\n", ch.Index+1, title)
		b.WriteString(ch.Text)
		b.WriteString("\n\n---\n\n")
	}

	path := storage.ManuscriptPath(p.Name, format)
	if err := s.backend.Save(ctx, path, []byte(b.String())); err != nil {
		return "", fmt.Errorf("writing manuscript: %w", err)
	}
	return path, nil
}

func (s *Store) persistProject(ctx context.Context, p *story.Project) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project: %w", err)
	}
	if err := s.backend.Save(ctx, storage.ProjectRecordPath(p.Name), data); err != nil {
		return fmt.Errorf("persisting project: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
