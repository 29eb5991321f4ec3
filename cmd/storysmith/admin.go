package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/storysmith/internal/config"
	"github.com/vampirenirmal/storysmith/internal/storage"
	"github.com/vampirenirmal/storysmith/internal/story"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			backend := storage.NewFileSystem(cfg.Paths.DataDir)
			records, err := backend.List(ctx, "projects/*/project.json")
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No projects yet. Create one with:")
				fmt.Printf("  %s new <name> --prompt \"...\"\n", appName)
				return nil
			}
			for _, record := range records {
				fmt.Println(filepath.Base(filepath.Dir(record)))
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a project and its change log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if !force {
				return fmt.Errorf("deletion is permanent; re-run with --force")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			backend := storage.NewFileSystem(cfg.Paths.DataDir)
			name := args[0]
			if !backend.Exists(ctx, storage.ProjectRecordPath(name)) {
				return fmt.Errorf("project %q does not exist", name)
			}

			if err := backend.Delete(ctx, storage.ProjectRecordPath(name)); err != nil {
				return err
			}
			if backend.Exists(ctx, storage.ChangeLogPath(name)) {
				if err := backend.Delete(ctx, storage.ChangeLogPath(name)); err != nil {
					return err
				}
			}
			fmt.Printf("Project %q deleted.\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm deletion")
	return cmd
}

func threadCmd() *cobra.Command {
	var (
		resolve int
		abandon bool
	)
	cmd := &cobra.Command{
		Use:   "thread <name> <thread-id>",
		Short: "Resolve or abandon a plot thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			eng, _, err := buildEngine(ctx, args[0], true, false)
			if err != nil {
				return err
			}

			switch {
			case abandon:
				if err := eng.AbandonThread(ctx, args[1]); err != nil {
					return err
				}
				fmt.Printf("Thread %s abandoned.\n", args[1])
			case resolve > 0:
				if err := eng.ResolveThread(ctx, args[1], resolve-1); err != nil {
					return err
				}
				fmt.Printf("Thread %s resolved in chapter %d.\n", args[1], resolve)
			default:
				return fmt.Errorf("pass --resolve <chapter> or --abandon")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&resolve, "resolve", 0, "Chapter number that resolves the thread")
	cmd.Flags().BoolVar(&abandon, "abandon", false, "Mark the thread deliberately dropped")
	return cmd
}

func overrideFactCmd() *cobra.Command {
	var (
		category  string
		subject   string
		statement string
	)
	cmd := &cobra.Command{
		Use:   "override-fact <name>",
		Short: "Replace an established world fact after an explicit decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if subject == "" || statement == "" {
				return fmt.Errorf("--subject and --statement are required")
			}
			eng, _, err := buildEngine(ctx, args[0], true, false)
			if err != nil {
				return err
			}

			fact := story.WorldFact{
				Category:  story.FactCategory(category),
				Subject:   subject,
				Statement: statement,
			}
			if err := eng.OverrideFact(ctx, fact); err != nil {
				return err
			}
			fmt.Printf("Fact about %q overridden; the change log records the previous statement.\n", subject)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "other", "Fact category (setting, rule, history, other)")
	cmd.Flags().StringVar(&subject, "subject", "", "What the fact is about (required)")
	cmd.Flags().StringVar(&statement, "statement", "", "The corrected statement (required)")
	return cmd
}
