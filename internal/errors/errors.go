// Package errors provides centralized error handling for conductor.
//
// This package defines sentinel errors used for programmatic error categorization
// throughout the application, plus the typed engine errors (graph validation,
// executor failure, gate rejection, timeout, blocked dependency). All of them
// can be checked using errors.Is() and errors.As().
//
// IMPORTANT: This package MUST NOT import any other internal packages.
// Only standard library imports are allowed.
package errors

import "errors"

// Sentinel errors for error categorization.
// These allow callers to check error types with errors.Is().
// All errors use lowercase descriptions per Go conventions.
var (
	// ErrGraphValidation indicates a plan specification does not form a valid
	// task graph (cycle, dangling reference, duplicate id, unknown rule).
	ErrGraphValidation = errors.New("graph validation failed")

	// ErrExecutor indicates the unit of work itself failed.
	ErrExecutor = errors.New("executor failed")

	// ErrGateRejected indicates the work completed but its evidence did not
	// satisfy one or more quality gate rules.
	ErrGateRejected = errors.New("quality gate rejected")

	// ErrTimeout indicates an executor did not respond within the task timeout.
	ErrTimeout = errors.New("task timed out")

	// ErrDependencyBlocked indicates a task cannot progress because an upstream
	// task is blocked. Retrying the upstream task is required.
	ErrDependencyBlocked = errors.New("dependency blocked")

	// ErrMaxRetriesExceeded indicates the maximum retry attempts have been reached.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

	// ErrInvalidTransition indicates an attempt to make an invalid state transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStaleTransition indicates a compare-and-swap transition lost a race:
	// the task was no longer in the expected status.
	ErrStaleTransition = errors.New("stale state transition")

	// ErrPlanNotFound indicates the requested plan does not exist in the store.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrPlanExists indicates an attempt to create a plan that already exists.
	ErrPlanExists = errors.New("plan already exists")

	// ErrPlanAbandoned indicates an operation was refused because the plan was abandoned.
	ErrPlanAbandoned = errors.New("plan abandoned")

	// ErrPlanComplete indicates an operation was refused because every task is already satisfied.
	ErrPlanComplete = errors.New("plan already complete")

	// ErrPlanNotRetirable indicates a plan was retired before reaching a final state.
	ErrPlanNotRetirable = errors.New("plan is not complete or abandoned")

	// ErrPlanRetired indicates the plan has been retired and is read-only.
	ErrPlanRetired = errors.New("plan retired")

	// ErrTaskNotFound indicates that a specific task was not found in a plan.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotRetryable indicates Retry was called on a task that is not failed.
	ErrTaskNotRetryable = errors.New("task is not retryable")

	// ErrNoEvidence indicates Revalidate was called on a task without evidence.
	ErrNoEvidence = errors.New("task has no evidence")

	// ErrUnknownRule indicates a quality gate rule name is not registered.
	ErrUnknownRule = errors.New("unknown quality gate rule")

	// ErrInvalidRuleExpr indicates a quality gate rule expression could not be parsed.
	ErrInvalidRuleExpr = errors.New("invalid rule expression")

	// ErrRuleDuplicate indicates a rule with the same name is already registered.
	ErrRuleDuplicate = errors.New("rule already registered")

	// ErrExecutorNotFound indicates no executor is registered for the task role.
	ErrExecutorNotFound = errors.New("executor not found for role")

	// ErrUnknownRole indicates an executor role outside the supported set.
	ErrUnknownRole = errors.New("unknown executor role")

	// ErrEvidenceDecode indicates executor output could not be decoded as evidence.
	ErrEvidenceDecode = errors.New("evidence decode failed")

	// ErrStoreClosed indicates an operation on a closed store.
	ErrStoreClosed = errors.New("store closed")

	// ErrEventLogCorrupted indicates the persisted event log could not be replayed.
	ErrEventLogCorrupted = errors.New("event log corrupted")

	// ErrLockTimeout indicates a file lock could not be acquired within the timeout period.
	ErrLockTimeout = errors.New("lock acquisition timeout")

	// ErrSpecLoadFailed indicates a plan specification file could not be loaded.
	ErrSpecLoadFailed = errors.New("plan spec load failed")

	// ErrSpecFileMissing indicates the plan specification file does not exist.
	ErrSpecFileMissing = errors.New("plan spec file not found")

	// ErrSpecParseError indicates the plan specification has invalid YAML/JSON syntax.
	ErrSpecParseError = errors.New("plan spec parse error")

	// ErrSpecInvalid indicates the plan specification failed field validation.
	ErrSpecInvalid = errors.New("invalid plan spec")

	// ErrConfigNil indicates that a nil config was passed to validation.
	ErrConfigNil = errors.New("config is nil")

	// ErrConfigInvalidEngine indicates an invalid engine configuration value.
	ErrConfigInvalidEngine = errors.New("invalid engine configuration")

	// ErrConfigInvalidStore indicates an invalid store configuration value.
	ErrConfigInvalidStore = errors.New("invalid store configuration")

	// ErrConfigInvalidExecutor indicates an invalid executor configuration value.
	ErrConfigInvalidExecutor = errors.New("invalid executor configuration")

	// ErrInvalidOutputFormat indicates an invalid output format was specified.
	ErrInvalidOutputFormat = errors.New("invalid output format")

	// ErrEmptyValue indicates that a required value was empty.
	ErrEmptyValue = errors.New("value cannot be empty")

	// ErrValueOutOfRange indicates that a value is outside the allowed range.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrNonInteractiveMode indicates that an operation requiring confirmation
	// was attempted in non-interactive mode without the force flag.
	ErrNonInteractiveMode = errors.New("use --force in non-interactive mode")

	// ErrOperationCanceled indicates the user canceled an operation.
	ErrOperationCanceled = errors.New("operation canceled by user")

	// ErrJSONErrorOutput indicates that an error has already been output as JSON.
	// Commands should silence cobra's error printing when this is returned.
	ErrJSONErrorOutput = errors.New("error output as JSON")

	// ErrPlanIncomplete indicates a run finished without the plan completing.
	// The CLI maps it to the plan-status exit codes.
	ErrPlanIncomplete = errors.New("plan did not complete")
)

// ExitCode2Error wraps an error to indicate exit code 2 should be used.
type ExitCode2Error struct {
	Err error
}

// NewExitCode2Error wraps an error to indicate exit code 2.
func NewExitCode2Error(err error) *ExitCode2Error {
	return &ExitCode2Error{Err: err}
}

// Error implements the error interface.
func (e *ExitCode2Error) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ExitCode2Error) Unwrap() error {
	return e.Err
}

// IsExitCode2Error checks if an error should result in exit code 2.
func IsExitCode2Error(err error) bool {
	var e *ExitCode2Error
	return errors.As(err, &e)
}
