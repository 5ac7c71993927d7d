package errors

import "errors"

// ErrorInfo holds user-facing message and suggested action for an error.
type ErrorInfo struct {
	// Message is the user-friendly error description.
	Message string
	// Action is a suggested action to resolve the issue (empty if none).
	Action string
}

// errorEntry pairs a sentinel error with its user-facing info.
type errorEntry struct {
	err  error
	info ErrorInfo
}

// errorInfoEntries maps sentinel errors to their user-facing messages.
// A slice (not a map) because order matters: a TimeoutError also matches
// ErrExecutor, and the more specific entry must win.
//
//nolint:gochecknoglobals // Pre-built mapping for efficiency
var errorInfoEntries = []errorEntry{
	// ===================
	// Plan building
	// ===================
	{
		err: ErrGraphValidation,
		info: ErrorInfo{
			Message: "The plan has an invalid task graph. Nothing was stored.",
			Action:  "Fix the cycle, duplicate id, or missing dependency named above and submit again.",
		},
	},
	{
		err: ErrUnknownRule,
		info: ErrorInfo{
			Message: "The plan references a quality gate rule that is not registered.",
			Action:  "Run 'conductor rules' to list available rules.",
		},
	},
	{
		err: ErrUnknownRole,
		info: ErrorInfo{
			Message: "The plan assigns a task to an unknown executor role.",
			Action:  "Use one of the roles listed by 'conductor rules --roles'.",
		},
	},
	{
		err: ErrSpecFileMissing,
		info: ErrorInfo{
			Message: "The plan spec file was not found.",
			Action:  "Check the path and try again.",
		},
	},
	{
		err: ErrSpecParseError,
		info: ErrorInfo{
			Message: "The plan spec file is not valid YAML or JSON.",
			Action:  "Fix the syntax error reported above.",
		},
	},
	{
		err: ErrSpecInvalid,
		info: ErrorInfo{
			Message: "The plan spec is missing required fields.",
			Action:  "Every phase needs a name and every task needs an id and a role.",
		},
	},

	// ===================
	// Execution
	// ===================
	{
		err: ErrTimeout,
		info: ErrorInfo{
			Message: "A task exceeded its timeout.",
			Action:  "Increase the task timeout or retry with 'conductor retry'.",
		},
	},
	{
		err: ErrGateRejected,
		info: ErrorInfo{
			Message: "A task completed but its evidence did not pass the quality gates.",
			Action:  "Fix the work and run 'conductor retry', or update evidence and run 'conductor revalidate'.",
		},
	},
	{
		err: ErrDependencyBlocked,
		info: ErrorInfo{
			Message: "The task is blocked by an upstream task.",
			Action:  "Retry the upstream task instead.",
		},
	},
	{
		err: ErrMaxRetriesExceeded,
		info: ErrorInfo{
			Message: "The task failed after exhausting its retries.",
			Action:  "Investigate the failure, then run 'conductor retry' to reset its retry budget.",
		},
	},
	{
		err: ErrExecutor,
		info: ErrorInfo{
			Message: "The executor reported a failure for the task.",
			Action:  "Check the task's events with 'conductor events'.",
		},
	},
	{
		err: ErrExecutorNotFound,
		info: ErrorInfo{
			Message: "No executor is registered for the task's role.",
			Action:  "Register an executor for the role or change the task's role.",
		},
	},

	// ===================
	// Plan store
	// ===================
	{
		err: ErrPlanNotFound,
		info: ErrorInfo{
			Message: "The plan was not found.",
			Action:  "Run 'conductor list' to see stored plans.",
		},
	},
	{
		err: ErrTaskNotFound,
		info: ErrorInfo{
			Message: "The task was not found in the plan.",
			Action:  "Run 'conductor status' to see the plan's tasks.",
		},
	},
	{
		err: ErrTaskNotRetryable,
		info: ErrorInfo{
			Message: "Only failed tasks, or tasks blocked by exhausted retries, can be retried.",
			Action:  "",
		},
	},
	{
		err: ErrPlanAbandoned,
		info: ErrorInfo{
			Message: "The plan was abandoned and accepts no further work.",
			Action:  "Submit the plan again to start over.",
		},
	},
	{
		err: ErrPlanComplete,
		info: ErrorInfo{
			Message: "Every task in the plan is already satisfied.",
			Action:  "Retire the plan with 'conductor retire' instead.",
		},
	},
	{
		err: ErrPlanNotRetirable,
		info: ErrorInfo{
			Message: "Only complete or abandoned plans can be retired.",
			Action:  "Abandon the plan first with 'conductor abandon'.",
		},
	},
	{
		err: ErrInvalidTransition,
		info: ErrorInfo{
			Message: "The requested status change is not allowed from the task's current status.",
			Action:  "",
		},
	},
	{
		err: ErrEventLogCorrupted,
		info: ErrorInfo{
			Message: "The plan's event log could not be replayed.",
			Action:  "Inspect events.jsonl in the plan directory.",
		},
	},
	{
		err: ErrLockTimeout,
		info: ErrorInfo{
			Message: "Another process holds the plan lock.",
			Action:  "Wait for the other conductor process to finish and retry.",
		},
	},

	// ===================
	// Configuration & input
	// ===================
	{
		err: ErrInvalidOutputFormat,
		info: ErrorInfo{
			Message: "Invalid output format.",
			Action:  "Use --output text, json, or markdown.",
		},
	},
	{
		err: ErrNonInteractiveMode,
		info: ErrorInfo{
			Message: "Confirmation is required but the terminal is not interactive.",
			Action:  "Pass --force to skip the confirmation.",
		},
	},
	{
		err: ErrOperationCanceled,
		info: ErrorInfo{
			Message: "Operation canceled.",
			Action:  "",
		},
	},
}

// errorInfoMap provides O(1) lookup for direct sentinel error matches.
//
//nolint:gochecknoglobals // Pre-built mapping for O(1) lookup performance
var errorInfoMap = buildErrorInfoMap()

func buildErrorInfoMap() map[error]ErrorInfo {
	m := make(map[error]ErrorInfo, len(errorInfoEntries))
	for _, entry := range errorInfoEntries {
		m[entry.err] = entry.info
	}
	return m
}

// getErrorInfo looks up the ErrorInfo for a given error.
// It first tries a direct map lookup, then falls back to errors.Is() traversal.
func getErrorInfo(err error) ErrorInfo {
	if info, ok := errorInfoMap[err]; ok {
		return info
	}
	for _, entry := range errorInfoEntries {
		if errors.Is(err, entry.err) {
			return entry.info
		}
	}
	return ErrorInfo{Message: err.Error()}
}

// UserMessage returns a user-friendly message for common errors.
// For unrecognized errors, it returns the error's original message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return getErrorInfo(err).Message
}

// Actionable returns a user-friendly error message along with a suggested action.
// The action is empty when there is nothing useful to suggest.
func Actionable(err error) (message, action string) {
	if err == nil {
		return "", ""
	}
	info := getErrorInfo(err)
	return info.Message, info.Action
}
