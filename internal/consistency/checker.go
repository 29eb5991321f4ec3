package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/story"
)

// Severity classifies a consistency flag. Contradictions block commit; the
// rest are advisory.
type Severity string

const (
	SeverityContradiction Severity = "contradiction"
	SeverityNewEntity     Severity = "new_entity"
	SeverityStyle         Severity = "style"
)

// Flag is one issue found while reviewing a draft against established state.
type Flag struct {
	Severity    Severity `json:"severity"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
}

// CharacterUpdate is a change to an established character's current state.
type CharacterUpdate struct {
	Name  string
	State string
}

// Report is the outcome of reviewing a draft: issues found plus the entities
// the draft introduced, already validated against established state.
type Report struct {
	Flags            []Flag
	NewCharacters    []story.Character
	NewFacts         []story.WorldFact
	CharacterUpdates []CharacterUpdate
	ThreadsAdvanced  []string
}

// Blocking reports whether the draft may not be committed as-is.
func (r Report) Blocking() bool {
	for _, f := range r.Flags {
		if f.Severity == SeverityContradiction {
			return true
		}
	}
	return false
}

// Checker reviews chapter drafts for continuity against the project's
// established characters, threads, and world facts. The model does the
// extraction; every extracted claim is then re-validated deterministically
// before it can reach the store.
type Checker struct {
	client llm.Client
	retry  llm.RetryPolicy
	logger *slog.Logger
}

type Option func(*Checker)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger.With("component", "consistency")
	}
}

func NewChecker(client llm.Client, retry llm.RetryPolicy, opts ...Option) *Checker {
	c := &Checker{
		client: client,
		retry:  retry,
		logger: slog.Default().With("component", "consistency"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// extraction is the model's untrusted report. Nothing in it is believed until
// cross-checked against the project.
type extraction struct {
	Contradictions   []extractedIssue     `json:"contradictions"`
	NewCharacters    []extractedCharacter `json:"new_characters"`
	NewFacts         []extractedFact      `json:"new_facts"`
	CharacterUpdates []extractedState     `json:"character_updates"`
	ThreadsTouched   []string             `json:"threads_touched"`
	StyleNotes       []string             `json:"style_notes"`
}

type extractedState struct {
	Name  string `json:"name" validate:"required"`
	State string `json:"state" validate:"required"`
}

type extractedIssue struct {
	Subject     string `json:"subject"`
	Description string `json:"description" validate:"required"`
}

type extractedCharacter struct {
	Name string `json:"name" validate:"required"`
	Role string `json:"role" validate:"required,oneof=protagonist antagonist supporting"`
	Arc  string `json:"arc"`
}

type extractedFact struct {
	Category  string `json:"category" validate:"required,oneof=setting rule history other"`
	Subject   string `json:"subject" validate:"required"`
	Statement string `json:"statement" validate:"required"`
}

// Review checks a chapter draft for contradictions with established state and
// extracts the entities it introduces.
func (c *Checker) Review(ctx context.Context, p *story.Project, chapterIdx int, draft string) (Report, error) {
	resp, err := c.retry.Do(ctx, c.client, llm.Request{
		System:      reviewSystemPrompt,
		Prompt:      c.reviewPrompt(p, draft),
		Temperature: 0.2,
		ForceJSON:   true,
	})
	if err != nil {
		return Report{}, fmt.Errorf("consistency review: %w", err)
	}

	var ext extraction
	if err := llm.DecodeStrict(resp, &ext); err != nil {
		return Report{}, fmt.Errorf("consistency review: %w", err)
	}

	report := c.validate(p, chapterIdx, ext)
	c.logger.Info("draft reviewed",
		"chapter", chapterIdx,
		"flags", len(report.Flags),
		"new_characters", len(report.NewCharacters),
		"new_facts", len(report.NewFacts),
		"blocking", report.Blocking())
	return report, nil
}

// validate turns the model's extraction into a trusted report by checking
// every claim against the project's established state.
func (c *Checker) validate(p *story.Project, chapterIdx int, ext extraction) Report {
	var report Report

	for _, issue := range ext.Contradictions {
		report.Flags = append(report.Flags, Flag{
			Severity:    SeverityContradiction,
			Subject:     issue.Subject,
			Description: issue.Description,
		})
	}

	for _, nc := range ext.NewCharacters {
		existing := p.CharacterByName(nc.Name)
		if existing == nil {
			// The extraction itself may introduce the same name twice; the
			// second occurrence must not reach the store where it would fail
			// mid-commit.
			if prior := pendingCharacter(report.NewCharacters, nc.Name); prior != nil {
				if prior.Role != story.Role(nc.Role) {
					report.Flags = append(report.Flags, Flag{
						Severity:    SeverityContradiction,
						Subject:     nc.Name,
						Description: fmt.Sprintf("draft introduces %s as both %s and %s", nc.Name, prior.Role, nc.Role),
					})
				}
				continue
			}
			report.NewCharacters = append(report.NewCharacters, story.Character{
				Name:         nc.Name,
				Role:         story.Role(nc.Role),
				Arc:          nc.Arc,
				FirstChapter: chapterIdx,
			})
			report.Flags = append(report.Flags, Flag{
				Severity:    SeverityNewEntity,
				Subject:     nc.Name,
				Description: fmt.Sprintf("new %s character introduced in chapter %d", nc.Role, chapterIdx+1),
			})
			continue
		}
		// Reusing an established name with a different role is a collision,
		// not a reintroduction.
		if existing.Role != story.Role(nc.Role) {
			report.Flags = append(report.Flags, Flag{
				Severity:    SeverityContradiction,
				Subject:     nc.Name,
				Description: fmt.Sprintf("%s is established as %s but the draft treats them as %s", nc.Name, existing.Role, nc.Role),
			})
		}
	}

	for _, nf := range ext.NewFacts {
		conflict := c.factConflict(p, nf)
		if conflict != nil {
			report.Flags = append(report.Flags, Flag{
				Severity:    SeverityContradiction,
				Subject:     nf.Subject,
				Description: fmt.Sprintf("draft states %q but it is established that %q", nf.Statement, conflict.Statement),
			})
			continue
		}
		if prior := pendingFact(report.NewFacts, nf); prior != nil {
			if strings.EqualFold(strings.TrimSpace(prior.Statement), strings.TrimSpace(nf.Statement)) {
				continue
			}
			report.Flags = append(report.Flags, Flag{
				Severity:    SeverityContradiction,
				Subject:     nf.Subject,
				Description: fmt.Sprintf("draft establishes both %q and %q about %s", prior.Statement, nf.Statement, nf.Subject),
			})
			continue
		}
		report.NewFacts = append(report.NewFacts, story.WorldFact{
			Category:      story.FactCategory(nf.Category),
			Subject:       nf.Subject,
			Statement:     nf.Statement,
			EstablishedIn: chapterIdx,
		})
	}

	for _, u := range ext.CharacterUpdates {
		// State only tracks characters the project already knows; updates for
		// brand-new characters ride along on the introduction instead.
		if p.CharacterByName(u.Name) == nil {
			continue
		}
		report.CharacterUpdates = append(report.CharacterUpdates, CharacterUpdate{Name: u.Name, State: u.State})
	}

	for _, id := range ext.ThreadsTouched {
		thread := p.ThreadByID(id)
		if thread == nil {
			continue
		}
		if thread.Status != story.ThreadOpen {
			report.Flags = append(report.Flags, Flag{
				Severity:    SeverityContradiction,
				Subject:     thread.Description,
				Description: fmt.Sprintf("draft advances a thread already %s in chapter %d", thread.Status, closedChapter(thread)),
			})
			continue
		}
		report.ThreadsAdvanced = append(report.ThreadsAdvanced, id)
	}

	for _, note := range ext.StyleNotes {
		report.Flags = append(report.Flags, Flag{
			Severity:    SeverityStyle,
			Description: note,
		})
	}

	return report
}

// pendingCharacter finds a character already accepted from this extraction.
func pendingCharacter(chars []story.Character, name string) *story.Character {
	for i := range chars {
		if strings.EqualFold(chars[i].Name, name) {
			return &chars[i]
		}
	}
	return nil
}

// pendingFact finds a fact about the same category and subject already
// accepted from this extraction.
func pendingFact(facts []story.WorldFact, nf extractedFact) *story.WorldFact {
	for i := range facts {
		f := &facts[i]
		if f.Category == story.FactCategory(nf.Category) && strings.EqualFold(f.Subject, nf.Subject) {
			return f
		}
	}
	return nil
}

// factConflict finds an established fact about the same subject whose
// statement differs from the extracted one.
func (c *Checker) factConflict(p *story.Project, nf extractedFact) *story.WorldFact {
	for i := range p.Facts {
		f := &p.Facts[i]
		if f.Category != story.FactCategory(nf.Category) {
			continue
		}
		if !strings.EqualFold(f.Subject, nf.Subject) {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(f.Statement), strings.TrimSpace(nf.Statement)) {
			return nil
		}
		return f
	}
	return nil
}

func closedChapter(t *story.PlotThread) int {
	if t.ResolutionChapter != nil {
		return *t.ResolutionChapter + 1
	}
	if t.AbandonedChapter != nil {
		return *t.AbandonedChapter + 1
	}
	return 0
}

const reviewSystemPrompt = `You are a continuity editor for serialized fiction. ` +
	`Compare a chapter draft against the established story state and report, as JSON, ` +
	`contradictions with established facts, characters the draft introduces, ` +
	`world facts the draft establishes, plot threads it advances, and stylistic concerns.`

func (c *Checker) reviewPrompt(p *story.Project, draft string) string {
	var b strings.Builder

	b.WriteString("Established characters:\n")
	for _, ch := range p.Characters {
		fmt.Fprintf(&b, "- %s (%s)\n", ch.Name, ch.Role)
	}

	b.WriteString("\nPlot threads:\n")
	for _, t := range p.Threads {
		fmt.Fprintf(&b, "- id=%s [%s] %s\n", t.ID, t.Status, t.Description)
	}

	b.WriteString("\nEstablished world facts:\n")
	for _, f := range p.Facts {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Category, f.Subject, f.Statement)
	}

	b.WriteString("\nChapter draft:\n")
	b.WriteString(draft)

	b.WriteString(`

Respond with JSON only:
{
  "contradictions": [{"subject": "...", "description": "..."}],
  "new_characters": [{"name": "...", "role": "protagonist|antagonist|supporting", "arc": "..."}],
  "new_facts": [{"category": "setting|rule|history|other", "subject": "...", "statement": "..."}],
  "character_updates": [{"name": "established character", "state": "their situation at chapter end"}],
  "threads_touched": ["thread id"],
  "style_notes": ["..."]
}
Only list characters and facts not already established. Use empty arrays when nothing applies.`)

	return b.String()
}
