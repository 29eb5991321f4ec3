package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/storysmith/internal/engine"
	"github.com/vampirenirmal/storysmith/internal/story"
)

func newCmd() *cobra.Command {
	var (
		storyType string
		genre     string
		prompt    string
		length    int
		style     string
	)

	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a project and analyze its premise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, st, err := buildEngine(ctx, args[0], false, true)
			if err != nil {
				return err
			}

			var analysis *story.Analysis
			if st.Exists(ctx, args[0]) {
				// A record with no completed analysis means an earlier run
				// failed mid-analysis; retry the step instead of refusing.
				if err := st.Load(ctx, args[0]); err != nil {
					return err
				}
				if st.Project().Phase != story.PhaseAnalysis {
					return fmt.Errorf("project %q already exists", args[0])
				}
				fmt.Printf("Project %q exists but its analysis never completed; retrying.\n\n", args[0])
				analysis, err = eng.ResumeAnalysis(ctx)
				if err != nil {
					return err
				}
			} else {
				if prompt == "" {
					return fmt.Errorf("--prompt is required")
				}
				p := &story.Project{
					Name:         args[0],
					Type:         story.Type(storyType),
					Genre:        genre,
					Prompt:       prompt,
					TargetLength: length,
					StyleNotes:   style,
				}
				analysis, err = eng.StartProject(ctx, p)
				if err != nil {
					return err
				}
				fmt.Printf("Project %q created.\n\n", args[0])
			}
			fmt.Printf("Complexity: %d/10\n", analysis.ComplexityScore)
			if analysis.GenreAnalysis != "" {
				fmt.Printf("Genre: %s\n", analysis.GenreAnalysis)
			}
			for _, s := range analysis.Strengths {
				fmt.Printf("  + %s\n", s)
			}
			for _, g := range analysis.Gaps {
				fmt.Printf("  - [%s] %s\n", g.Category, g.Description)
			}
			if len(analysis.Questions) > 0 {
				fmt.Printf("\n%d questions need answers before outlining. Run:\n  %s answer %s\n",
					len(analysis.Questions), appName, args[0])
			} else {
				fmt.Printf("\nNo open questions. Run:\n  %s outline %s\n", appName, args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storyType, "type", "novel", "Story type (novel, short_story, screenplay)")
	cmd.Flags().StringVar(&genre, "genre", "", "Genre hint")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Story premise (required)")
	cmd.Flags().IntVar(&length, "length", 0, "Target length in words")
	cmd.Flags().StringVar(&style, "style", "", "Style preferences")
	return cmd
}

func answerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <name>",
		Short: "Answer the clarifying questions interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, st, err := buildEngine(ctx, args[0], true, false)
			if err != nil {
				return err
			}
			p := st.Project()
			if p.Analysis == nil || len(p.Analysis.Questions) == 0 {
				return fmt.Errorf("project %q has no open questions", args[0])
			}

			scanner := bufio.NewScanner(os.Stdin)
			answers := map[string]string{}
			for i, q := range p.Analysis.Questions {
				fmt.Printf("\n[%d/%d] %s\n", i+1, len(p.Analysis.Questions), q.Question)
				if q.SuggestedAnswer != "" {
					fmt.Printf("(enter to accept: %s)\n", q.SuggestedAnswer)
				}
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				answer := strings.TrimSpace(scanner.Text())
				if answer == "" {
					answer = q.SuggestedAnswer
				}
				if answer != "" {
					answers[q.Question] = answer
				}
			}
			if len(answers) == 0 {
				return fmt.Errorf("no answers given")
			}

			if err := eng.AnswerQuestions(ctx, answers); err != nil {
				return err
			}
			if pending := eng.Status().PendingQuestions; pending > 0 {
				fmt.Printf("\n%d answers recorded; %d questions still open. Run:\n  %s answer %s\n",
					len(answers), pending, appName, args[0])
				return nil
			}
			fmt.Printf("\n%d answers recorded. Run:\n  %s outline %s\n", len(answers), appName, args[0])
			return nil
		},
	}
}

func outlineCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "outline <name>",
		Short: "Generate the chapter outline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, st, err := buildEngine(ctx, args[0], true, true)
			if err != nil {
				return err
			}
			plans, err := eng.GenerateOutline(ctx, feedback)
			if err != nil {
				return err
			}

			printOutline(st.Project().Title, plans)
			fmt.Printf("\nApprove with:\n  %s approve-outline %s\n", appName, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "Feedback on a previously generated outline")
	return cmd
}

func approveOutlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve-outline <name>",
		Short: "Approve the outline and start writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, _, err := buildEngine(ctx, args[0], true, false)
			if err != nil {
				return err
			}
			if err := eng.ApproveOutline(ctx); err != nil {
				return err
			}
			fmt.Printf("Outline approved. Write the first chapter with:\n  %s write %s\n", appName, args[0])
			return nil
		},
	}
}

func reviseOutlineCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "revise-outline <name>",
		Short: "Regenerate the outline with feedback, keeping written chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if feedback == "" {
				return fmt.Errorf("--feedback is required")
			}
			eng, st, err := buildEngine(ctx, args[0], true, true)
			if err != nil {
				return err
			}
			plans, err := eng.ReviseOutline(ctx, feedback)
			if err != nil {
				return err
			}
			printOutline(st.Project().Title, plans)
			return nil
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "What to change about the outline (required)")
	return cmd
}

func writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <name>",
		Short: "Write the next chapter (or rewrite the one awaiting review)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, _, err := buildEngine(ctx, args[0], true, true)
			if err != nil {
				return err
			}

			ch, report, err := eng.WriteNext(ctx)
			var blocked *engine.ReviewBlockedError
			if errors.As(err, &blocked) {
				fmt.Println("Draft blocked by continuity review:")
				for _, f := range blocked.Flags {
					fmt.Printf("  [%s] %s\n", f.Severity, f.Description)
				}
				fmt.Printf("Nothing was committed. Resolve with %s revise-outline, or override facts explicitly.\n", appName)
				return err
			}
			if err != nil {
				return err
			}

			fmt.Printf("Chapter %d: %s (%d words", ch.Index+1, ch.Title, ch.WordCount)
			if ch.Revisions > 0 {
				fmt.Printf(", revision %d", ch.Revisions)
			}
			fmt.Println(")")
			for _, f := range report.Flags {
				fmt.Printf("  [%s] %s\n", f.Severity, f.Description)
			}
			fmt.Printf("\nReview, then:\n  %s approve %s %d  or  %s revise %s %d --feedback \"...\"\n",
				appName, args[0], ch.Index+1, appName, args[0], ch.Index+1)
			return nil
		},
	}
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <name> <chapter>",
		Short: "Approve a chapter; its text becomes final",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			index, err := chapterArg(args[1])
			if err != nil {
				return err
			}
			eng, _, err := buildEngine(ctx, args[0], true, false)
			if err != nil {
				return err
			}
			if err := eng.ApproveChapter(ctx, index); err != nil {
				return err
			}

			s := eng.Status()
			if s.Phase == story.PhaseComplete {
				fmt.Printf("Chapter %d approved. The story is complete: %d chapters, %d words.\nExport with:\n  %s export %s\n",
					index+1, s.ChaptersWritten, s.WordsWritten, appName, args[0])
			} else {
				fmt.Printf("Chapter %d approved (%d/%d done).\n", index+1, s.ChaptersApproved, s.ChaptersOutlined)
			}
			return nil
		},
	}
}

func reviseCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "revise <name> <chapter>",
		Short: "Request a rewrite of an unapproved chapter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if feedback == "" {
				return fmt.Errorf("--feedback is required")
			}
			index, err := chapterArg(args[1])
			if err != nil {
				return err
			}
			eng, _, err := buildEngine(ctx, args[0], true, false)
			if err != nil {
				return err
			}
			if err := eng.RequestRevision(ctx, index, feedback); err != nil {
				return err
			}
			fmt.Printf("Feedback recorded. Rewrite with:\n  %s write %s\n", appName, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "What to change in the chapter (required)")
	return cmd
}

func critiqueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "critique <name> <chapter>",
		Short: "Run an editorial critique of a written chapter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			index, err := chapterArg(args[1])
			if err != nil {
				return err
			}
			eng, _, err := buildEngine(ctx, args[0], true, true)
			if err != nil {
				return err
			}
			critique, err := eng.CritiqueChapter(ctx, index)
			if err != nil {
				return err
			}

			fmt.Printf("Chapter %d: %d/10 (characters %d/10, plot %d/10)\n",
				index+1, critique.OverallScore, critique.CharacterConsistency, critique.PlotCoherence)
			for _, s := range critique.Strengths {
				fmt.Printf("  + %s\n", s)
			}
			for _, w := range critique.Weaknesses {
				fmt.Printf("  - %s\n", w)
			}
			for _, s := range critique.Suggestions {
				fmt.Printf("  > %s\n", s)
			}
			for _, c := range critique.ContinuityIssues {
				fmt.Printf("  ! %s\n", c)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show project progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			_, st, err := openProject(ctx, args[0])
			if err != nil {
				return err
			}
			p := st.Project()

			title := p.Title
			if title == "" {
				title = "(untitled)"
			}
			approved := 0
			for _, ch := range p.Chapters {
				if ch.Status == story.ChapterApproved {
					approved++
				}
			}

			fmt.Printf("%s / %s\n", p.Name, title)
			fmt.Printf("Phase:    %s\n", p.Phase)
			fmt.Printf("Chapters: %d written, %d approved, %d outlined\n",
				len(p.Chapters), approved, len(p.Outline))
			fmt.Printf("Words:    %d\n", p.WordsWritten())

			cursor := p.Cursor()
			for _, ch := range p.Chapters {
				marker := " "
				if ch.Index == cursor {
					marker = ">"
				}
				fmt.Printf("  %s %2d. %-30s %-10s %6d words\n", marker, ch.Index+1, ch.Title, ch.Status, ch.WordCount)
			}

			if len(p.Chapters) > 0 {
				digest, err := st.Summary(len(p.Chapters) - 1)
				if err != nil {
					return err
				}
				if len(digest.OpenThreads) > 0 {
					fmt.Println("\nOpen threads:")
					for _, t := range digest.OpenThreads {
						fmt.Printf("  - %s (%s)\n", t.Description, t.ID)
					}
				}
				if len(digest.Facts) > 0 {
					fmt.Printf("\nEstablished facts: %d\n", len(digest.Facts))
				}
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export the manuscript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			_, st, err := openProject(ctx, args[0])
			if err != nil {
				return err
			}
			path, err := st.ExportManuscript(ctx, format)
			if err != nil {
				return err
			}
			fmt.Printf("Manuscript written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "Output format (markdown, text)")
	return cmd
}

func printOutline(title string, plans []story.ChapterPlan) {
	fmt.Printf("Outline: %s (%d chapters)\n", title, len(plans))
	for _, p := range plans {
		fmt.Printf("  %2d. %s\n      %s\n", p.Index+1, p.Title, p.Summary)
	}
}

// chapterArg parses a 1-based chapter number into a 0-based index.
func chapterArg(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("chapter must be a positive number, got %q", arg)
	}
	return n - 1, nil
}
