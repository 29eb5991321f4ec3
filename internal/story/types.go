package story

import (
	"strings"
	"time"
)

// Type identifies the kind of long-form work being written.
type Type string

const (
	TypeNovel      Type = "novel"
	TypeScreenplay Type = "screenplay"
	TypeShortStory Type = "short_story"
)

// Phase is one stage of the authoring workflow.
type Phase string

const (
	PhaseAnalysis    Phase = "analysis"
	PhaseQuestioning Phase = "questioning"
	PhaseOutlining   Phase = "outlining"
	PhaseWriting     Phase = "writing"
	PhaseComplete    Phase = "complete"
)

// ValidTransition reports whether moving from one phase to another is allowed.
// The workflow only moves forward; writing may regress into questioning or
// outlining when the operator explicitly requests a revision.
func ValidTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	switch from {
	case PhaseAnalysis:
		return to == PhaseQuestioning || to == PhaseOutlining
	case PhaseQuestioning:
		return to == PhaseOutlining
	case PhaseOutlining:
		return to == PhaseWriting
	case PhaseWriting:
		return to == PhaseComplete || to == PhaseOutlining || to == PhaseQuestioning
	}
	return false
}

// ChapterStatus tracks a chapter through its review lifecycle.
type ChapterStatus string

const (
	ChapterDraft     ChapterStatus = "draft"
	ChapterCritiqued ChapterStatus = "critiqued"
	ChapterApproved  ChapterStatus = "approved"
)

// Role classifies a character's narrative function.
type Role string

const (
	RoleProtagonist Role = "protagonist"
	RoleAntagonist  Role = "antagonist"
	RoleSupporting  Role = "supporting"
)

// ThreadStatus is the lifecycle state of a plot thread. Transitions only move
// forward: open may become resolved or abandoned, never the reverse.
type ThreadStatus string

const (
	ThreadOpen      ThreadStatus = "open"
	ThreadResolved  ThreadStatus = "resolved"
	ThreadAbandoned ThreadStatus = "abandoned"
)

// FactCategory classifies world facts. Rule and setting facts are foundational
// and never age out of the context window.
type FactCategory string

const (
	FactSetting FactCategory = "setting"
	FactRule    FactCategory = "rule"
	FactHistory FactCategory = "history"
	FactOther   FactCategory = "other"
)

// Foundational reports whether facts of this category must always survive
// context trimming.
func (c FactCategory) Foundational() bool {
	return c == FactRule || c == FactSetting
}

// Project is the root aggregate for one long-form work. It owns all child
// entities exclusively and is the unit of persistence and locking.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         Type   `json:"type"`
	Genre        string `json:"genre,omitempty"`
	TargetLength int    `json:"target_length,omitempty"`
	StyleNotes   string `json:"style_notes,omitempty"`
	Prompt       string `json:"prompt"`
	Phase        Phase  `json:"phase"`

	Title   string `json:"title,omitempty"`
	Premise string `json:"premise,omitempty"`
	Theme   string `json:"theme,omitempty"`
	Setting string `json:"setting,omitempty"`

	Analysis *Analysis         `json:"analysis,omitempty"`
	Answers  map[string]string `json:"answers,omitempty"`

	Outline    []ChapterPlan `json:"outline,omitempty"`
	Chapters   []Chapter     `json:"chapters,omitempty"`
	Characters []Character   `json:"characters,omitempty"`
	Threads    []PlotThread  `json:"threads,omitempty"`
	Facts      []WorldFact   `json:"facts,omitempty"`

	// RevisionFeedback carries operator notes into the next attempt at the
	// current chapter. Cleared on commit.
	RevisionFeedback string `json:"revision_feedback,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextChapterIndex returns the index the next committed chapter must carry.
func (p *Project) NextChapterIndex() int {
	return len(p.Chapters)
}

// Cursor returns the index of the chapter currently being worked: the first
// committed chapter not yet approved, or the next unwritten index.
func (p *Project) Cursor() int {
	for i := range p.Chapters {
		if p.Chapters[i].Status != ChapterApproved {
			return i
		}
	}
	return len(p.Chapters)
}

// CurrentPlan returns the outline entry for the chapter at the cursor, or nil
// when the outline is exhausted.
func (p *Project) CurrentPlan() *ChapterPlan {
	idx := p.Cursor()
	if idx >= len(p.Outline) {
		return nil
	}
	return &p.Outline[idx]
}

// CharacterByName performs a case-insensitive lookup.
func (p *Project) CharacterByName(name string) *Character {
	for i := range p.Characters {
		if strings.EqualFold(p.Characters[i].Name, name) {
			return &p.Characters[i]
		}
	}
	return nil
}

// ThreadByID returns the plot thread with the given identifier, or nil.
func (p *Project) ThreadByID(id string) *PlotThread {
	for i := range p.Threads {
		if p.Threads[i].ID == id {
			return &p.Threads[i]
		}
	}
	return nil
}

// FactByID returns the world fact with the given identifier, or nil.
func (p *Project) FactByID(id string) *WorldFact {
	for i := range p.Facts {
		if p.Facts[i].ID == id {
			return &p.Facts[i]
		}
	}
	return nil
}

// WordsWritten sums the word counts of all committed chapters.
func (p *Project) WordsWritten() int {
	total := 0
	for _, ch := range p.Chapters {
		total += ch.WordCount
	}
	return total
}

// ChapterRange returns the expected outline length bounds for a story type.
func (t Type) ChapterRange() (min, max int) {
	switch t {
	case TypeShortStory:
		return 3, 7
	case TypeScreenplay:
		return 10, 40
	default:
		return 15, 25
	}
}

// ChapterPlan is a planned chapter produced during outlining and consumed when
// the corresponding chapter is written.
type ChapterPlan struct {
	Index       int      `json:"index"`
	Title       string   `json:"title" validate:"required"`
	Summary     string   `json:"summary" validate:"required"`
	KeyEvents   []string `json:"key_events"`
	TargetWords int      `json:"target_words" validate:"min=0"`
	Characters  []string `json:"characters,omitempty"`
	Threads     []string `json:"threads,omitempty"`
}

// Chapter is realized narrative text. Once approved it is immutable except for
// critique annotations.
type Chapter struct {
	Index         int           `json:"index"`
	Title         string        `json:"title"`
	Text          string        `json:"text"`
	WordCount     int           `json:"word_count"`
	Status        ChapterStatus `json:"status"`
	Revisions     int           `json:"revisions"`
	CritiqueNotes []string      `json:"critique_notes,omitempty"`
	WrittenAt     time.Time     `json:"written_at"`
}

// Character tracks one named figure and their evolving state.
type Character struct {
	Name         string `json:"name"`
	Role         Role   `json:"role"`
	Arc          string `json:"arc,omitempty"`
	State        string `json:"state,omitempty"`
	FirstChapter int    `json:"first_chapter"`
}

// PlotThread is a tracked narrative arc with an open/resolved/abandoned
// lifecycle. The chapter that closed the thread is recorded either way so
// state can be reconstructed as of any earlier chapter.
type PlotThread struct {
	ID                string       `json:"id"`
	Description       string       `json:"description"`
	Status            ThreadStatus `json:"status"`
	Chapters          []int        `json:"chapters,omitempty"`
	ResolutionChapter *int         `json:"resolution_chapter,omitempty"`
	AbandonedChapter  *int         `json:"abandoned_chapter,omitempty"`
}

// WorldFact is a statement about the story world. Once established it must not
// be silently overwritten; conflicting facts require an explicit override.
type WorldFact struct {
	ID            string       `json:"id"`
	Category      FactCategory `json:"category"`
	Subject       string       `json:"subject"`
	Statement     string       `json:"statement"`
	EstablishedIn int          `json:"established_in"`
}

// Analysis is the result of the analysis phase: what the prompt already has,
// what it lacks, and what to ask the operator.
type Analysis struct {
	Strengths       []string   `json:"strengths"`
	Gaps            []Gap      `json:"gaps"`
	Questions       []Question `json:"questions"`
	GenreAnalysis   string     `json:"genre_analysis,omitempty"`
	ComplexityScore int        `json:"complexity_score" validate:"min=1,max=10"`
}

// Gap is a missing element identified during analysis.
type Gap struct {
	Description string `json:"description" validate:"required"`
	Category    string `json:"category"`
	Severity    int    `json:"severity" validate:"min=1,max=5"`
}

// Question is a clarifying question for the operator.
type Question struct {
	Question        string `json:"question" validate:"required"`
	Category        string `json:"category"`
	Importance      int    `json:"importance" validate:"min=1,max=5"`
	SuggestedAnswer string `json:"suggested_answer,omitempty"`
}

// Critique is structured editorial feedback on a chapter or the full story.
type Critique struct {
	OverallScore         int      `json:"overall_score" validate:"min=1,max=10"`
	Strengths            []string `json:"strengths"`
	Weaknesses           []string `json:"weaknesses"`
	Suggestions          []string `json:"suggestions"`
	ContinuityIssues     []string `json:"continuity_issues,omitempty"`
	CharacterConsistency int      `json:"character_consistency" validate:"min=1,max=10"`
	PlotCoherence        int      `json:"plot_coherence" validate:"min=1,max=10"`
}

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
