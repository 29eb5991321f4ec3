package consistency

import (
	"context"
	"testing"

	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/story"
)

func reviewProject() *story.Project {
	resolved := 2
	return &story.Project{
		Name:  "ember-roads",
		Phase: story.PhaseWriting,
		Characters: []story.Character{
			{Name: "Tamsin", Role: story.RoleProtagonist, FirstChapter: 0},
		},
		Threads: []story.PlotThread{
			{ID: "t-open", Description: "the missing caravan", Status: story.ThreadOpen},
			{ID: "t-done", Description: "the forged map", Status: story.ThreadResolved, ResolutionChapter: &resolved},
		},
		Facts: []story.WorldFact{
			{Category: story.FactRule, Subject: "electricity", Statement: "No electricity exists in this world."},
		},
	}
}

func TestReviewFlagsFactContradiction(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(`{
		"contradictions": [],
		"new_characters": [],
		"new_facts": [{"category": "rule", "subject": "electricity", "statement": "Streetlamps run on electric current."}],
		"threads_touched": [],
		"style_notes": []
	}`)
	checker := NewChecker(mock, llm.RetryPolicy{MaxAttempts: 1})

	report, err := checker.Review(context.Background(), reviewProject(), 3, "The streetlamps hummed with current.")
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if !report.Blocking() {
		t.Fatal("conflicting rule fact should block commit")
	}
	if len(report.NewFacts) != 0 {
		t.Errorf("conflicting fact must not pass through as new, got %v", report.NewFacts)
	}
}

func TestReviewRoleCollision(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(`{
		"contradictions": [],
		"new_characters": [{"name": "tamsin", "role": "antagonist", "arc": ""}],
		"new_facts": [],
		"threads_touched": [],
		"style_notes": []
	}`)
	checker := NewChecker(mock, llm.RetryPolicy{MaxAttempts: 1})

	report, err := checker.Review(context.Background(), reviewProject(), 3, "Tamsin turned on them all.")
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if !report.Blocking() {
		t.Fatal("role collision on an established name should block commit")
	}
	if len(report.NewCharacters) != 0 {
		t.Errorf("collided name must not be added as new character, got %v", report.NewCharacters)
	}
}

func TestReviewResolvedThreadAdvance(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(`{
		"contradictions": [],
		"new_characters": [],
		"new_facts": [],
		"threads_touched": ["t-done", "t-open"],
		"style_notes": []
	}`)
	checker := NewChecker(mock, llm.RetryPolicy{MaxAttempts: 1})

	report, err := checker.Review(context.Background(), reviewProject(), 3, "The map question resurfaced.")
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if !report.Blocking() {
		t.Fatal("advancing a resolved thread should block commit")
	}
	if len(report.ThreadsAdvanced) != 1 || report.ThreadsAdvanced[0] != "t-open" {
		t.Errorf("ThreadsAdvanced = %v, want only t-open", report.ThreadsAdvanced)
	}
}

func TestReviewIntraDraftRoleConflict(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(`{
		"contradictions": [],
		"new_characters": [
			{"name": "Brother Hale", "role": "supporting", "arc": "reluctant guide"},
			{"name": "brother hale", "role": "antagonist", "arc": "secretly hostile"}
		],
		"new_facts": [],
		"threads_touched": [],
		"style_notes": []
	}`)
	checker := NewChecker(mock, llm.RetryPolicy{MaxAttempts: 1})

	report, err := checker.Review(context.Background(), reviewProject(), 4, "Brother Hale met them twice.")
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if !report.Blocking() {
		t.Fatal("one draft introducing the same name with two roles should block commit")
	}
	if len(report.NewCharacters) != 1 {
		t.Errorf("NewCharacters = %v, want a single Brother Hale", report.NewCharacters)
	}
}

func TestReviewIntraDraftFactConflict(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(`{
		"contradictions": [],
		"new_characters": [],
		"new_facts": [
			{"category": "setting", "subject": "the pass", "statement": "The pass closes at first snow."},
			{"category": "setting", "subject": "The Pass", "statement": "The pass stays open all winter."}
		],
		"threads_touched": [],
		"style_notes": []
	}`)
	checker := NewChecker(mock, llm.RetryPolicy{MaxAttempts: 1})

	report, err := checker.Review(context.Background(), reviewProject(), 4, "They argued over the pass.")
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if !report.Blocking() {
		t.Fatal("one draft establishing conflicting facts should block commit")
	}
	if len(report.NewFacts) != 1 {
		t.Errorf("NewFacts = %v, want only the first statement", report.NewFacts)
	}
}

func TestReviewCleanDraft(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(`{
		"contradictions": [],
		"new_characters": [{"name": "Brother Hale", "role": "supporting", "arc": "reluctant guide"}],
		"new_facts": [{"category": "setting", "subject": "the pass", "statement": "The pass closes at first snow."}],
		"character_updates": [
			{"name": "Tamsin", "state": "distrusts the guide"},
			{"name": "Nobody", "state": "never introduced"}
		],
		"threads_touched": ["t-open"],
		"style_notes": ["dialogue-heavy opening"]
	}`)
	checker := NewChecker(mock, llm.RetryPolicy{MaxAttempts: 1})

	report, err := checker.Review(context.Background(), reviewProject(), 4, "Brother Hale met them at the pass.")
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if report.Blocking() {
		t.Fatalf("clean draft should not block, flags: %v", report.Flags)
	}
	if len(report.NewCharacters) != 1 || report.NewCharacters[0].FirstChapter != 4 {
		t.Errorf("NewCharacters = %v, want Brother Hale first seen in chapter 4", report.NewCharacters)
	}
	if len(report.NewFacts) != 1 || report.NewFacts[0].EstablishedIn != 4 {
		t.Errorf("NewFacts = %v, want pass fact established in chapter 4", report.NewFacts)
	}
	if len(report.CharacterUpdates) != 1 || report.CharacterUpdates[0].Name != "Tamsin" {
		t.Errorf("CharacterUpdates = %v, want only the established character", report.CharacterUpdates)
	}
}

func TestReviewMalformedResponse(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(`the chapter looks fine to me`)
	checker := NewChecker(mock, llm.RetryPolicy{MaxAttempts: 1})

	if _, err := checker.Review(context.Background(), reviewProject(), 3, "text"); err == nil {
		t.Fatal("prose response should fail strict decoding")
	}
}
