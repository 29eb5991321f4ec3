package engine

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/storysmith/internal/story"
)

const analyzerSystemPrompt = `You are a story development analyst. Evaluate a story ` +
	`premise for what it already establishes and what is missing before outlining can ` +
	`begin. Respond with JSON only.`

func analyzerPrompt(context string) string {
	return context + `

Analyze this premise. Respond with JSON:
{
  "strengths": ["what the premise already establishes well"],
  "gaps": [{"description": "...", "category": "plot|character|setting|theme|stakes", "severity": 1-5}],
  "questions": [{"question": "...", "category": "...", "importance": 1-5, "suggested_answer": "..."}],
  "genre_analysis": "one paragraph",
  "complexity_score": 1-10
}
Ask questions only for gaps that materially change the outline. Five questions at most.`
}

const outlinerSystemPrompt = `You are a story architect. Design complete chapter ` +
	`outlines with clear escalation, payoffs for every planted thread, and chapters ` +
	`that each earn their place. Respond with JSON only.`

func outlinerPrompt(context string, p *story.Project, minCh, maxCh int, feedback string) string {
	var b strings.Builder
	b.WriteString(context)
	b.WriteString("\n\n")

	if feedback != "" {
		fmt.Fprintf(&b, "The operator rejected the previous outline with this feedback:\n%s\n\n", feedback)
	}
	if len(p.Chapters) > 0 {
		fmt.Fprintf(&b,
			"Chapters 1-%d are already written and must keep their place in the new outline. Revise only what follows them.\n\n",
			len(p.Chapters))
	}

	fmt.Fprintf(&b, `Design the full outline for this %s with between %d and %d chapters. Respond with JSON:
{
  "title": "...",
  "premise": "one-sentence premise",
  "theme": "...",
  "setting": "...",
  "chapters": [{"index": 0, "title": "...", "summary": "...", "key_events": ["..."], "target_words": 2500, "characters": ["..."]}],
  "characters": [{"name": "...", "role": "protagonist|antagonist|supporting", "arc": "..."}],
  "threads": [{"description": "one plot thread the story must resolve"}],
  "facts": [{"category": "setting|rule|history|other", "subject": "...", "statement": "..."}]
}
Facts are hard constraints the whole story must obey; state only the ones that matter.`,
		p.Type, minCh, maxCh)
	return b.String()
}

const writerSystemPrompt = `You are a novelist writing one chapter at a time. Write ` +
	`vivid, grounded prose that follows the chapter plan, stays inside the established ` +
	`world rules, and never contradicts earlier chapters. Output the chapter text only, ` +
	`with no headings, notes, or commentary.`

func writerPrompt(context string, plan *story.ChapterPlan, feedback, previous string, target int) string {
	var b strings.Builder
	b.WriteString(context)
	b.WriteString("\n\n")

	if previous != "" {
		b.WriteString("You are rewriting this chapter. Previous draft:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	if feedback != "" {
		fmt.Fprintf(&b, "The operator requested this revision:\n%s\n\n", feedback)
	}

	fmt.Fprintf(&b, "Write chapter %d (%q) now, approximately %d words. Cover every key event in the plan. End at a point that pulls the reader into the next chapter.",
		plan.Index+1, plan.Title, target)
	return b.String()
}

const criticSystemPrompt = `You are a developmental editor reviewing a chapter in ` +
	`the context of the whole story. Be specific and actionable; praise only what is ` +
	`genuinely strong. Respond with JSON only.`

func criticPrompt(context string, ch story.Chapter) string {
	return fmt.Sprintf(`%s

## Chapter Under Review
Chapter %d: %s
%s

Critique this chapter. Respond with JSON:
{
  "overall_score": 1-10,
  "strengths": ["..."],
  "weaknesses": ["..."],
  "suggestions": ["..."],
  "continuity_issues": ["only real contradictions with earlier chapters"],
  "character_consistency": 1-10,
  "plot_coherence": 1-10
}`, context, ch.Index+1, ch.Title, ch.Text)
}
