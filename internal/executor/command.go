package executor

// The commands run here come from plan specifications submitted by the
// operator. They are trusted input, the same trust model as Makefiles or CI
// configuration, and run through "<shell> -c" so pipes and redirects work.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/logging"
)

// Task parameter keys read by CommandExecutor.
const (
	ParamCommand = "command"
	ParamWorkDir = "work_dir"
)

// Evidence keys always set by CommandExecutor.
const (
	EvidenceExitCode   = "exit_code"
	EvidenceStdout     = "stdout"
	EvidenceStderr     = "stderr"
	EvidenceDurationMs = "duration_ms"
)

// DefaultShell is the shell used when none is configured.
const DefaultShell = "sh"

const waitDelay = 2 * time.Second

// CommandRunner defines the interface for executing shell commands.
// This allows for testing by injecting mock implementations.
type CommandRunner interface {
	// Run executes command with shell and returns its output.
	Run(ctx context.Context, shell, workDir, command string) (stdout, stderr string, exitCode int, err error)
}

// DefaultCommandRunner implements CommandRunner using os/exec.
type DefaultCommandRunner struct {
	// LiveOutput, when set, receives stdout and stderr as they are produced.
	LiveOutput io.Writer
}

// Run executes a shell command using "<shell> -c".
func (r *DefaultCommandRunner) Run(ctx context.Context, shell, workDir, command string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, shell, "-c", command) //#nosec G204 -- commands come from operator plan specs
	cmd.Dir = workDir
	// Children that inherit the output pipes must not outlive cancellation.
	cmd.WaitDelay = waitDelay

	var outBuf, errBuf bytes.Buffer
	if r.LiveOutput != nil {
		cmd.Stdout = io.MultiWriter(&outBuf, r.LiveOutput)
		cmd.Stderr = io.MultiWriter(&errBuf, r.LiveOutput)
	} else {
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
	}

	err = cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return stdout, stderr, exitCode, err
}

var _ CommandRunner = (*DefaultCommandRunner)(nil)

// CommandExecutor runs the shell command named by a task's "command"
// parameter. Stdout that parses as a JSON object is merged into the
// evidence, so a command can report e.g. {"coverage": 92}.
type CommandExecutor struct {
	runner  CommandRunner
	shell   string
	workDir string
	timeout time.Duration
	logger  zerolog.Logger
}

// CommandOption configures a CommandExecutor.
type CommandOption func(*CommandExecutor)

// WithRunner replaces the command runner (for testing).
func WithRunner(r CommandRunner) CommandOption {
	return func(e *CommandExecutor) {
		e.runner = r
	}
}

// WithShell sets the shell binary.
func WithShell(shell string) CommandOption {
	return func(e *CommandExecutor) {
		if shell != "" {
			e.shell = shell
		}
	}
}

// WithWorkDir sets the default working directory.
func WithWorkDir(dir string) CommandOption {
	return func(e *CommandExecutor) {
		e.workDir = dir
	}
}

// WithCommandTimeout bounds each invocation when the caller's context
// carries no deadline. Zero disables the bound.
func WithCommandTimeout(d time.Duration) CommandOption {
	return func(e *CommandExecutor) {
		e.timeout = d
	}
}

// WithCommandLogger sets the logger.
func WithCommandLogger(logger zerolog.Logger) CommandOption {
	return func(e *CommandExecutor) {
		e.logger = logger
	}
}

// NewCommandExecutor creates a CommandExecutor.
func NewCommandExecutor(opts ...CommandOption) *CommandExecutor {
	e := &CommandExecutor{
		runner: &DefaultCommandRunner{},
		shell:  DefaultShell,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ Executor = (*CommandExecutor)(nil)

// Execute implements Executor.
func (e *CommandExecutor) Execute(ctx context.Context, task *domain.Task) (domain.Evidence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	command := strings.TrimSpace(task.Params[ParamCommand])
	if command == "" {
		return nil, &cerrors.ExecutorError{
			TaskID: task.ID,
			Err:    fmt.Errorf("parameter %q %w", ParamCommand, cerrors.ErrEmptyValue),
		}
	}

	workDir := e.workDir
	if dir := task.Params[ParamWorkDir]; dir != "" {
		workDir = dir
	}
	if workDir != "" {
		if _, err := os.Stat(workDir); err != nil {
			return nil, &cerrors.ExecutorError{TaskID: task.ID, Err: fmt.Errorf("work directory: %w", err)}
		}
	}

	ownDeadline := false
	if _, ok := ctx.Deadline(); !ok && e.timeout > 0 {
		ownDeadline = true
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	log := e.logger.With().Str("task_id", task.ID).Str("command", logging.SafeValue(ParamCommand, command)).Logger()
	log.Info().Str("work_dir", workDir).Msg("executing task command")

	start := time.Now()
	stdout, stderr, exitCode, runErr := e.runner.Run(ctx, e.shell, workDir, command)
	duration := time.Since(start)

	// Cancellation and the caller's deadlines are the caller's to classify.
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Warn().Dur("duration_ms", duration).Err(ctxErr).Msg("task command interrupted")
		if ownDeadline && errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, &cerrors.TimeoutError{TaskID: task.ID, After: e.timeout}
		}
		return nil, ctxErr
	}

	if runErr != nil || exitCode != 0 {
		log.Error().
			Int("exit_code", exitCode).
			Dur("duration_ms", duration).
			Str("stderr", logging.FilterSensitiveValue(stderr)).
			Msg("task command failed")

		reason := fmt.Sprintf("exit code %d", exitCode)
		if msg := logging.FilterSensitiveValue(lastLine(stderr)); msg != "" {
			reason += ": " + msg
		}
		return nil, &cerrors.ExecutorError{TaskID: task.ID, Err: errors.New(reason)}
	}

	ev := parseEvidence(stdout)
	ev[EvidenceExitCode] = exitCode
	ev[EvidenceStdout] = stdout
	ev[EvidenceStderr] = stderr
	ev[EvidenceDurationMs] = duration.Milliseconds()

	log.Info().Int("exit_code", exitCode).Dur("duration_ms", duration).Msg("task command completed")
	return ev, nil
}

// parseEvidence decodes stdout as a JSON object, or returns empty evidence.
func parseEvidence(stdout string) domain.Evidence {
	trimmed := strings.TrimSpace(stdout)
	if !strings.HasPrefix(trimmed, "{") {
		return domain.Evidence{}
	}
	var ev domain.Evidence
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil || ev == nil {
		return domain.Evidence{}
	}
	return ev
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
