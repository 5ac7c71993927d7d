package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/mrz1836/conductor/internal/config"
	"github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/executor"
	"github.com/mrz1836/conductor/internal/gate"
	"github.com/mrz1836/conductor/internal/graph"
	"github.com/mrz1836/conductor/internal/plan"
	"github.com/mrz1836/conductor/internal/report"
	"github.com/mrz1836/conductor/internal/scheduler"
	"github.com/mrz1836/conductor/internal/tui"
)

// loadConfig loads configuration from --config when given, otherwise from
// the global and project files. Either way CONDUCTOR_ environment variables
// take precedence over file values.
func loadConfig(ctx context.Context, flags *GlobalFlags) (*config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if flags.ConfigFile != "" {
		return config.LoadFile(ctx, flags.ConfigFile)
	}
	return config.Load(ctx)
}

// engine bundles the components a command needs.
type engine struct {
	cfg       *config.Config
	store     plan.Store
	executors *executor.Registry
	evaluator *gate.Evaluator
	reporter  *report.Reporter
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
}

// openEngine builds the store, executors, evaluator, reporter and scheduler
// from the loaded configuration. Callers must Close the engine.
func openEngine(flags *GlobalFlags) (*engine, error) {
	cfg := flags.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := GetLogger()

	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	executors, err := newExecutorRegistry(cfg, logger, flags.Verbose && flags.Output == OutputText)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	evaluator := gate.NewEvaluator(gate.DefaultRegistry())
	reporter := report.New(store, evaluator, report.WithLogger(logger.With().Str("component", "report").Logger()))
	sched := scheduler.New(store, executors, evaluator, reporter, scheduler.Config{
		MaxParallel:    cfg.Engine.MaxParallel,
		AutoRetry:      cfg.Engine.AutoRetry,
		DefaultTimeout: cfg.Engine.DefaultTimeout,
	}, logger.With().Str("component", "scheduler").Logger())

	return &engine{
		cfg:       cfg,
		store:     store,
		executors: executors,
		evaluator: evaluator,
		reporter:  reporter,
		scheduler: sched,
		logger:    logger,
	}, nil
}

// Close waits for in-flight work and closes the store.
func (e *engine) Close() error {
	_ = e.scheduler.Close()
	return e.store.Close()
}

// graphOptions returns the graph build options for this engine's rules,
// roles and defaults.
func (e *engine) graphOptions() []graph.Option {
	return graphOptions(e.cfg, e.evaluator.Registry(), e.executors)
}

func graphOptions(cfg *config.Config, rules *gate.Registry, executors *executor.Registry) []graph.Option {
	return []graph.Option{
		graph.WithRules(rules),
		graph.WithRoleCheck(executors.CheckRole),
		graph.WithMaxRetries(cfg.Engine.MaxRetries),
		graph.WithDefaultTimeout(cfg.Engine.DefaultTimeout),
	}
}

// newStore opens the configured plan store backend.
func newStore(cfg *config.Config, logger zerolog.Logger) (plan.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return plan.NewMemoryStore(), nil
	case config.BackendSQLite:
		path, err := cfg.SQLitePath()
		if err != nil {
			return nil, err
		}
		return plan.NewSQLiteStore(path)
	case config.BackendFile, "":
		dir, err := cfg.StoreDir()
		if err != nil {
			return nil, err
		}
		return plan.NewFileStore(dir, plan.WithFileLogger(logger.With().Str("component", "store").Logger()))
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", errors.ErrConfigInvalidStore, cfg.Store.Backend)
	}
}

// newExecutorRegistry registers a CommandExecutor for every known role.
// With live set, command output is streamed to stderr as it is produced.
func newExecutorRegistry(cfg *config.Config, logger zerolog.Logger, live bool) (*executor.Registry, error) {
	runner := &executor.DefaultCommandRunner{}
	if live {
		runner.LiveOutput = os.Stderr
	}

	reg := executor.NewRegistry()
	for _, role := range executor.AllRoles() {
		e := executor.NewCommandExecutor(
			executor.WithRunner(runner),
			executor.WithShell(cfg.Executor.Shell),
			executor.WithWorkDir(cfg.Executor.WorkDir),
			executor.WithCommandTimeout(cfg.Executor.Timeout),
			executor.WithCommandLogger(logger.With().Str("component", "executor").Str("role", role.String()).Logger()),
		)
		if err := reg.Register(role, e); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// commandError is the JSON shape of a failed command.
type commandError struct {
	Status  string `json:"status"`
	PlanID  string `json:"plan_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Action  string `json:"action,omitempty"`
}

// handleCommandError reports err in the requested format. For JSON output
// the error is written to w and ErrJSONErrorOutput is returned (wrapping
// the original) so the exit code still reflects the failure.
func handleCommandError(format string, w io.Writer, planID, taskID string, err error) error {
	if format != OutputJSON {
		return err
	}
	msg, action := errors.Actionable(err)
	_ = writeJSON(w, commandError{
		Status:  "error",
		PlanID:  planID,
		TaskID:  taskID,
		Error:   err.Error(),
		Message: msg,
		Action:  action,
	})
	return fmt.Errorf("%w: %w", errors.ErrJSONErrorOutput, err)
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	return tui.NewJSONOutput(w).JSON(v)
}
