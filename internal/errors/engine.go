package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies an engine failure for progress events and summaries.
// Values use snake_case for JSON serialization compatibility.
type Kind string

// Failure kinds recorded on progress events.
const (
	KindNone              Kind = ""
	KindGraphValidation   Kind = "graph_validation"
	KindExecutor          Kind = "executor_error"
	KindTimeout           Kind = "timeout"
	KindGateRejected      Kind = "gate_rejected"
	KindDependencyBlocked Kind = "dependency_blocked"
	KindRetriesExhausted  Kind = "retries_exhausted"
	KindAbandoned         Kind = "abandoned"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// Problem is a single reason a plan specification was rejected.
type Problem struct {
	// TaskIDs lists the offending task ids (may be empty for phase-level problems).
	TaskIDs []string `json:"task_ids,omitempty"`
	// Reason describes what is wrong.
	Reason string `json:"reason"`
}

// String formats the problem for display.
func (p Problem) String() string {
	if len(p.TaskIDs) == 0 {
		return p.Reason
	}
	return fmt.Sprintf("%s: %s", strings.Join(p.TaskIDs, ", "), p.Reason)
}

// GraphValidationError reports every problem found while building a task graph.
// The plan is never created when this error is returned.
type GraphValidationError struct {
	Problems []Problem
}

// Error implements the error interface.
func (e *GraphValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("%s: %s", ErrGraphValidation, strings.Join(parts, "; "))
}

// Unwrap returns ErrGraphValidation so errors.Is works.
func (e *GraphValidationError) Unwrap() error {
	return ErrGraphValidation
}

// TaskIDs returns the sorted, de-duplicated set of task ids named by any problem.
func (e *GraphValidationError) TaskIDs() []string {
	seen := make(map[string]struct{})
	for _, p := range e.Problems {
		for _, id := range p.TaskIDs {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExecutorError wraps an error returned by an executor for a task.
type ExecutorError struct {
	TaskID string
	Err    error
}

// Error implements the error interface.
func (e *ExecutorError) Error() string {
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, ErrExecutor, e.Err)
}

// Unwrap exposes both ErrExecutor and the underlying cause.
func (e *ExecutorError) Unwrap() []error {
	return []error{ErrExecutor, e.Err}
}

// TimeoutError is synthesized when a task exceeds its timeout.
// It is treated exactly like an executor failure.
type TimeoutError struct {
	TaskID string
	After  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.After <= 0 {
		return fmt.Sprintf("task %s: %s", e.TaskID, ErrTimeout)
	}
	return fmt.Sprintf("task %s: %s after %s", e.TaskID, ErrTimeout, e.After)
}

// Unwrap exposes both ErrTimeout and ErrExecutor.
func (e *TimeoutError) Unwrap() []error {
	return []error{ErrTimeout, ErrExecutor}
}

// GateRejection reports every quality gate rule a task's evidence failed.
type GateRejection struct {
	TaskID string
	Rules  []string
}

// Error implements the error interface.
func (e *GateRejection) Error() string {
	return fmt.Sprintf("task %s: %s: %s", e.TaskID, ErrGateRejected, strings.Join(e.Rules, ", "))
}

// Unwrap returns ErrGateRejected.
func (e *GateRejection) Unwrap() error {
	return ErrGateRejected
}

// DependencyBlockedError is recorded on tasks blocked by an upstream task.
type DependencyBlockedError struct {
	TaskID   string
	Upstream string
}

// Error implements the error interface.
func (e *DependencyBlockedError) Error() string {
	return fmt.Sprintf("task %s: %s by %s", e.TaskID, ErrDependencyBlocked, e.Upstream)
}

// Unwrap returns ErrDependencyBlocked.
func (e *DependencyBlockedError) Unwrap() error {
	return ErrDependencyBlocked
}

// KindOf classifies err into a failure Kind.
// Timeout is checked before executor since a TimeoutError matches both.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrGraphValidation):
		return KindGraphValidation
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrGateRejected):
		return KindGateRejected
	case errors.Is(err, ErrDependencyBlocked):
		return KindDependencyBlocked
	case errors.Is(err, ErrMaxRetriesExceeded):
		return KindRetriesExhausted
	case errors.Is(err, ErrPlanAbandoned):
		return KindAbandoned
	default:
		return KindExecutor
	}
}
