// Package cmd provides the CLI commands for podrag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/logging"
	"github.com/Aman-CERP/podrag/pkg/version"
)

// Logging flags
var (
	debugMode      bool
	logLevel       string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the podrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "podrag",
		Short: "Question answering over podcast transcripts",
		Long: `podrag indexes podcast transcripts into a hybrid (keyword + vector)
search store and answers questions from them with a local language model.

Typical flow:
  podrag ingest ./transcripts
  podrag ask "What did the guest say about hiring?"
  podrag serve`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("podrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.podrag/logs/")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	if logLevel != "" {
		cfg.Level = logLevel
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("logging_started", slog.String("log_file", cfg.FilePath), slog.String("version", version.Short()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command, cancelling its context on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, poderrors.FormatForCLI(err))
	}
	return err
}
