package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/gyeh/pharmacy-claims/internal/config"
	"github.com/gyeh/pharmacy-claims/internal/progress"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "pharmacy-claims",
		Short:        "Aggregate pharmacy claims into per-drug pricing reports",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newInspectCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load pharmacies, claims and reverts, and write the three reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			runID := uuid.NewString()
			logger, err := newLogger(cfg.LogFormat, cfg.LogLevel, os.Stderr)
			if err != nil {
				return err
			}
			logger = logger.With().Str("run_id", runID).Logger()

			ctx, cancel := signalContext(logger)
			defer cancel()

			_, err = runReports(ctx, cfg, runID, logger, newProgress(cfg, logger))
			if err != nil {
				logger.Error().Err(err).Msg("run failed")
			}
			return err
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Discover and load inputs, and report what was found without writing reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.ValidateInputs(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := newLogger(cfg.LogFormat, cfg.LogLevel, os.Stderr)
			if err != nil {
				return err
			}
			logger = logger.With().Str("run_id", uuid.NewString()).Logger()

			ctx, cancel := signalContext(logger)
			defer cancel()

			_, err = inspectInputs(ctx, cfg, logger, newProgress(cfg, logger))
			if err != nil {
				logger.Error().Err(err).Msg("inspect failed")
			}
			return err
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// newLogger builds a zerolog logger writing JSON lines, or human-readable
// lines when format is "console".
func newLogger(format, level string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log-level %q: %w", level, err)
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func newProgress(cfg *config.Config, logger zerolog.Logger) progress.Manager {
	if cfg.NoProgress {
		return progress.NewLogManager(logger)
	}
	return progress.NewMPBManager()
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Warn().Msg("interrupted, cleaning up")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
