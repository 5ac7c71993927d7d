// Package cli provides the command-line interface for conductor.
package cli

import (
	stderrors "errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrz1836/conductor/internal/config"
	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/errors"
)

// Exit codes for the CLI. Commands that report a plan map its final status
// onto ExitBlocked, ExitAbandoned and ExitInProgress.
const (
	// ExitSuccess indicates successful execution (or a complete plan).
	ExitSuccess = 0
	// ExitError indicates a general error.
	ExitError = 1
	// ExitInvalidInput indicates invalid user input.
	ExitInvalidInput = 2
	// ExitBlocked indicates the plan ended blocked.
	ExitBlocked = 3
	// ExitAbandoned indicates the plan was abandoned.
	ExitAbandoned = 4
	// ExitInProgress indicates the plan still has work left.
	ExitInProgress = 5
)

// Output format constants.
const (
	// OutputText is the default human-readable output format.
	OutputText = "text"
	// OutputJSON is the machine-readable JSON output format.
	OutputJSON = "json"
	// OutputMarkdown renders reports as markdown documents.
	OutputMarkdown = "markdown"
)

// GlobalFlags holds flags available to all commands.
type GlobalFlags struct {
	// Output specifies the output format (text, json or markdown).
	Output string
	// Verbose enables debug-level logging.
	Verbose bool
	// Quiet suppresses non-essential output (warn level only).
	Quiet bool
	// ConfigFile replaces the global and project config files.
	ConfigFile string

	// cfg is the configuration loaded before any subcommand runs.
	cfg *config.Config
}

// AddGlobalFlags adds global flags to a command.
// These flags are available to all subcommands via PersistentFlags.
func AddGlobalFlags(cmd *cobra.Command, flags *GlobalFlags) {
	cmd.PersistentFlags().StringVarP(&flags.Output, "output", "o", OutputText, "output format (text|json|markdown)")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress non-essential output")
	cmd.PersistentFlags().StringVar(&flags.ConfigFile, "config", "", "config file (default: ~/.conductor/config.yaml and .conductor/config.yaml)")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// BindGlobalFlags binds global flags to Viper so they can also be set with
// CONDUCTOR_ environment variables (e.g., CONDUCTOR_OUTPUT=json).
func BindGlobalFlags(v *viper.Viper, cmd *cobra.Command) error {
	// Root().PersistentFlags() finds the flags even from a subcommand.
	rootFlags := cmd.Root().PersistentFlags()

	for _, name := range []string{"output", "verbose", "quiet", "config"} {
		if err := v.BindPFlag(name, rootFlags.Lookup(name)); err != nil {
			return err
		}
	}

	v.SetEnvPrefix("CONDUCTOR")
	v.AutomaticEnv()

	return nil
}

// applyBoundFlags copies values resolved by viper (flag, then environment)
// back into flags.
func applyBoundFlags(v *viper.Viper, flags *GlobalFlags) {
	flags.Output = strings.ToLower(v.GetString("output"))
	flags.Verbose = v.GetBool("verbose")
	flags.Quiet = v.GetBool("quiet")
	flags.ConfigFile = v.GetString("config")
}

// ValidOutputFormats returns the list of valid output format values.
func ValidOutputFormats() []string {
	return []string{OutputText, OutputJSON, OutputMarkdown}
}

// IsValidOutputFormat checks if the given format is a valid output format.
func IsValidOutputFormat(format string) bool {
	return slices.Contains(ValidOutputFormats(), format)
}

// PlanStatusError reports a plan that did not finish complete. It carries
// the status so the process exit code can reflect it.
type PlanStatusError struct {
	PlanID string
	Status constants.PlanStatus
}

// Error implements error.
func (e *PlanStatusError) Error() string {
	return fmt.Sprintf("plan %s is %s", e.PlanID, e.Status)
}

// Unwrap ties the error to ErrPlanIncomplete.
func (e *PlanStatusError) Unwrap() error {
	return errors.ErrPlanIncomplete
}

// planResult returns nil for a complete plan and a PlanStatusError otherwise.
func planResult(planID string, status constants.PlanStatus) error {
	if status == constants.PlanStatusComplete {
		return nil
	}
	return &PlanStatusError{PlanID: planID, Status: status}
}

// ExitCodeForError returns the appropriate exit code for the given error.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var statusErr *PlanStatusError
	if stderrors.As(err, &statusErr) {
		switch statusErr.Status {
		case constants.PlanStatusBlocked:
			return ExitBlocked
		case constants.PlanStatusAbandoned:
			return ExitAbandoned
		case constants.PlanStatusInProgress:
			return ExitInProgress
		case constants.PlanStatusComplete:
			return ExitSuccess
		}
	}

	if errors.IsExitCode2Error(err) {
		return ExitInvalidInput
	}

	for _, sentinel := range []error{
		errors.ErrInvalidOutputFormat,
		errors.ErrGraphValidation,
		errors.ErrSpecFileMissing,
		errors.ErrSpecParseError,
		errors.ErrSpecInvalid,
	} {
		if stderrors.Is(err, sentinel) {
			return ExitInvalidInput
		}
	}

	// Cobra flag parsing errors (mutually exclusive flags, unknown flags, etc.)
	if isInvalidInputError(err.Error()) {
		return ExitInvalidInput
	}

	return ExitError
}

// isInvalidInputError checks if an error message indicates invalid user input.
// This catches Cobra's built-in flag validation errors.
func isInvalidInputError(errMsg string) bool {
	invalidInputPatterns := []string{
		"unknown flag",
		"unknown shorthand flag",
		"flag needs an argument",
		"invalid argument",
		"if any flags in the group",
		"required flag",
		"unknown command",
		"accepts ",
		"requires at least",
	}

	for _, pattern := range invalidInputPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}
