// Package cli provides the command-line interface for conductor.
package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrz1836/conductor/internal/errors"
)

// BuildInfo contains version information set at build time via ldflags.
type BuildInfo struct {
	// Version is the semantic version (e.g., "1.0.0").
	Version string
	// Commit is the git commit hash.
	Commit string
	// Date is the build date.
	Date string
}

// globalLogger stores the initialized logger for use by subcommands.
// It is set during PersistentPreRunE and read via GetLogger.
var (
	globalLogger   zerolog.Logger //nolint:gochecknoglobals // CLI logger requires global access
	globalLoggerMu sync.RWMutex   //nolint:gochecknoglobals // Protects globalLogger
)

// GetLogger returns the initialized logger for use by subcommands.
//
// It must only be called after the root command's PersistentPreRunE has
// run; before that it returns a zero-value logger that discards output.
func GetLogger() zerolog.Logger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

// newRootCmd creates the root command for the conductor CLI.
func newRootCmd(flags *GlobalFlags, info BuildInfo) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "conductor",
		Short: "Conductor - dependency-aware workflow orchestration",
		Long: `Conductor runs plans: phases of tasks with declared dependencies, each handed
to the executor for its role and accepted only when its quality gates pass.

Features:
  • Dependency graph validation before anything is stored
  • Parallel dispatch of every task whose dependencies are satisfied
  • Quality gates over executor evidence, with bounded retries
  • Append-only event log with summaries and timelines`,
		Version: formatVersion(info),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := BindGlobalFlags(v, cmd); err != nil {
				return fmt.Errorf("failed to bind flags: %w", err)
			}
			applyBoundFlags(v, flags)

			if !IsValidOutputFormat(flags.Output) {
				return fmt.Errorf("%w: %q must be one of %v", errors.ErrInvalidOutputFormat, flags.Output, ValidOutputFormats())
			}

			cfg, err := loadConfig(cmd.Context(), flags)
			if err != nil {
				return err
			}
			flags.cfg = cfg

			globalLoggerMu.Lock()
			globalLogger = InitLoggerWithConfig(flags.Verbose, flags.Quiet, cfg.Log)
			globalLoggerMu.Unlock()

			return nil
		},
		SilenceUsage: true,
	}

	AddGlobalFlags(cmd, flags)

	AddValidateCommand(cmd, flags)
	AddSubmitCommand(cmd, flags)
	AddRunCommand(cmd, flags)
	AddStatusCommand(cmd, flags)
	AddSummaryCommand(cmd, flags)
	AddEventsCommand(cmd, flags)
	AddRetryCommand(cmd, flags)
	AddRevalidateCommand(cmd, flags)
	AddAbandonCommand(cmd, flags)
	AddRetireCommand(cmd, flags)
	AddListCommand(cmd, flags)
	AddRulesCommand(cmd, flags)
	AddVersionCommand(cmd, flags, info)

	return cmd
}

// formatVersion creates the version string from build info.
func formatVersion(info BuildInfo) string {
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "none"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date)
}

// Execute runs the root command with the provided context and build info.
func Execute(ctx context.Context, info BuildInfo) error {
	flags := &GlobalFlags{}
	defer CloseLogFile()
	//nolint:contextcheck // Cobra command pattern uses cmd.Context() internally
	cmd := newRootCmd(flags, info)
	return cmd.ExecuteContext(ctx)
}
