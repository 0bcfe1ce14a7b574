package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/app"
	"github.com/lalithlochan/teamalerts/internal/config"
	"github.com/lalithlochan/teamalerts/internal/observ"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:          "alertctl",
	Short:        "Team alerts operator CLI",
	Long:         `Run staging and dispatch passes, inspect and dismiss alerts, and enqueue job triggers.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
}

// setup loads config and a logger for a command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := observ.NewLogger("alertctl", cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// withApp runs fn against a fully wired App and closes it afterwards.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func main() {
	Execute()
}
