// Package main provides the storysmith binary entry point. Storysmith
// co-authors long-form fiction with a locally hosted model: it analyzes a
// premise, asks clarifying questions, outlines, and writes chapter by chapter
// under operator review.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/storysmith/internal/config"
	"github.com/vampirenirmal/storysmith/internal/consistency"
	"github.com/vampirenirmal/storysmith/internal/engine"
	"github.com/vampirenirmal/storysmith/internal/llm"
	"github.com/vampirenirmal/storysmith/internal/storage"
	"github.com/vampirenirmal/storysmith/internal/store"
	"github.com/vampirenirmal/storysmith/internal/window"
)

const (
	Version = "0.1.0"
	appName = "storysmith"
)

var logLevel string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Co-author long-form fiction with a local model",
		Long: `Storysmith drives a local model through a supervised authoring workflow:
analyze the premise, answer clarifying questions, approve an outline, then
write and review one chapter at a time. Story state lives on disk; every
mutation is journaled so a session can resume where it stopped.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newCmd(),
		answerCmd(),
		outlineCmd(),
		approveOutlineCmd(),
		reviseOutlineCmd(),
		writeCmd(),
		approveCmd(),
		reviseCmd(),
		critiqueCmd(),
		threadCmd(),
		overrideFactCmd(),
		statusCmd(),
		listCmd(),
		deleteCmd(),
		exportCmd(),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openProject loads config and the project store without touching the model
// endpoint. Commands that only read or mutate local state use this.
func openProject(ctx context.Context, name string) (*config.Config, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	st := store.New(storage.NewFileSystem(cfg.Paths.DataDir))
	if err := st.Load(ctx, name); err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

// buildEngine wires the full stack for one project. When load is set the
// project must already exist on disk; preflight verifies the model endpoint
// before any generation work starts.
func buildEngine(ctx context.Context, name string, load, preflight bool) (*engine.Engine, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	client := llm.NewOllamaClient(cfg.Model.BaseURL,
		llm.WithModel(cfg.Model.Name),
		llm.WithTimeout(cfg.Model.TimeoutDuration()),
		llm.WithRateLimit(cfg.Limits.RateLimit.RequestsPerMinute, cfg.Limits.RateLimit.BurstSize))
	if preflight && !client.Available(ctx) {
		return nil, nil, fmt.Errorf("model %q not available at %s; is the server running and the model pulled?",
			cfg.Model.Name, cfg.Model.BaseURL)
	}

	retry := llm.RetryPolicy{
		MaxAttempts:   cfg.Limits.MaxRetries,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}

	st := store.New(storage.NewFileSystem(cfg.Paths.DataDir))
	if load {
		if err := st.Load(ctx, name); err != nil {
			return nil, nil, err
		}
	}

	builder := window.New(window.NewLLMSummarizer(client, retry),
		window.WithTrailingWindow(cfg.Limits.TrailingWindow),
		window.WithConcurrency(cfg.Limits.DigestConcurrency))
	checker := consistency.NewChecker(client, retry)

	eng := engine.New(st, builder, checker, client,
		engine.WithRetryPolicy(retry),
		engine.WithLimits(cfg.Limits))
	return eng, st, nil
}
