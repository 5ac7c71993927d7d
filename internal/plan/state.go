// Package plan provides the plan store for conductor.
//
// A plan's event log is the source of truth; task status is a cached
// projection of it. Every store validates an event against the state
// machine in this file, appends it to the durable log, and only then folds
// it into the projection, so a failed append never leaves a status change
// behind.
//
// Import rules:
//   - CAN import: internal/constants, internal/domain, internal/errors,
//     internal/clock, internal/flock, std lib
//   - MUST NOT import: internal/scheduler, internal/cli
package plan

import (
	"fmt"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// ValidTransitions defines the task status transitions driven by the engine.
// Format: from_status -> []to_statuses
//
//	Pending → Runnable, Blocked
//	Runnable → Running, Blocked, Pending (requeued event only)
//	Running → AwaitingGate, Failed, Blocked
//	AwaitingGate → Satisfied, Failed, Blocked
//	Failed → Runnable (retry event only), Blocked
//	Satisfied → Failed, Blocked (revalidated event only)
//
//nolint:gochecknoglobals // Exported for testing and read-only lookup table
var ValidTransitions = map[constants.TaskStatus][]constants.TaskStatus{
	constants.TaskStatusPending:      {constants.TaskStatusRunnable, constants.TaskStatusBlocked},
	constants.TaskStatusRunnable:     {constants.TaskStatusRunning, constants.TaskStatusBlocked},
	constants.TaskStatusRunning:      {constants.TaskStatusAwaitingGate, constants.TaskStatusFailed, constants.TaskStatusBlocked},
	constants.TaskStatusAwaitingGate: {constants.TaskStatusSatisfied, constants.TaskStatusFailed, constants.TaskStatusBlocked},
	constants.TaskStatusFailed:       {constants.TaskStatusRunnable, constants.TaskStatusBlocked},
	constants.TaskStatusSatisfied:    {constants.TaskStatusFailed, constants.TaskStatusBlocked},
}

// kindTargets pins the target status of event kinds that always land in
// the same status.
//
//nolint:gochecknoglobals // Read-only lookup table
var kindTargets = map[constants.EventKind]constants.TaskStatus{
	constants.EventRunnable:     constants.TaskStatusRunnable,
	constants.EventRequeued:     constants.TaskStatusPending,
	constants.EventStarted:      constants.TaskStatusRunning,
	constants.EventCompleted:    constants.TaskStatusAwaitingGate,
	constants.EventGatePassed:   constants.TaskStatusSatisfied,
	constants.EventGateRejected: constants.TaskStatusFailed,
	constants.EventFailed:       constants.TaskStatusFailed,
	constants.EventBlocked:      constants.TaskStatusBlocked,
}

// IsValidTransition checks the engine transition table. Same-status and
// terminal-status transitions are invalid.
func IsValidTransition(from, to constants.TaskStatus) bool {
	if from == to {
		return false
	}
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether the engine never moves a task out of status
// on its own. Only operator commands (revalidate, retry) leave these.
func IsTerminalStatus(status constants.TaskStatus) bool {
	return status == constants.TaskStatusSatisfied || status == constants.TaskStatusBlocked
}

// IsActiveStatus reports whether a task holds or is about to hold an executor.
func IsActiveStatus(status constants.TaskStatus) bool {
	return status == constants.TaskStatusRunnable ||
		status == constants.TaskStatusRunning ||
		status == constants.TaskStatusAwaitingGate
}

// CanApply reports whether an event of kind may move a task from one status
// to another.
//
// Beyond the engine table, two operator paths exist. A revalidated event
// may flip a task between satisfied and failed, or confirm its current
// status. A retry event may restore a task blocked by exhausted retries to
// runnable, and its blocked dependents to pending. A requeued event sends a
// runnable task whose dependency regressed back to pending.
func CanApply(kind constants.EventKind, from, to constants.TaskStatus) bool {
	if want, ok := kindTargets[kind]; ok && want != to {
		return false
	}

	switch kind {
	case constants.EventRevalidated:
		switch from {
		case constants.TaskStatusSatisfied, constants.TaskStatusFailed:
			return to == constants.TaskStatusSatisfied || to == constants.TaskStatusFailed
		default:
			return false
		}
	case constants.EventRequeued:
		return from == constants.TaskStatusRunnable
	case constants.EventRetry:
		switch from {
		case constants.TaskStatusFailed:
			return to == constants.TaskStatusRunnable
		case constants.TaskStatusBlocked:
			return to == constants.TaskStatusRunnable || to == constants.TaskStatusPending
		default:
			return false
		}
	}

	if from == constants.TaskStatusSatisfied {
		return false
	}
	if from == constants.TaskStatusFailed && to == constants.TaskStatusRunnable {
		return false
	}
	return IsValidTransition(from, to)
}

// CheckEvent validates ev against the current projection of p and returns
// the event with From filled in. It never mutates p.
func CheckEvent(p *domain.Plan, ev domain.Event) (domain.Event, error) {
	if ev.Kind == "" {
		return ev, fmt.Errorf("event kind %w", cerrors.ErrEmptyValue)
	}
	if p.Retired {
		return ev, fmt.Errorf("plan %s: %w", p.ID, cerrors.ErrPlanRetired)
	}

	if ev.TaskID == "" {
		return checkPlanEvent(p, ev)
	}

	t := p.Task(ev.TaskID)
	if t == nil {
		return ev, fmt.Errorf("plan %s task %s: %w", p.ID, ev.TaskID, cerrors.ErrTaskNotFound)
	}

	if !ev.IsTransition() {
		if _, pinned := kindTargets[ev.Kind]; pinned {
			return ev, fmt.Errorf("%w: %s event for task %s needs a target status", cerrors.ErrInvalidTransition, ev.Kind, ev.TaskID)
		}
		return ev, nil
	}

	if p.Abandoned && ev.To != constants.TaskStatusBlocked {
		return ev, fmt.Errorf("plan %s: %w", p.ID, cerrors.ErrPlanAbandoned)
	}

	if ev.From != "" && ev.From != t.Status {
		return ev, fmt.Errorf("%w: task %s is %s, expected %s", cerrors.ErrStaleTransition, ev.TaskID, t.Status, ev.From)
	}
	ev.From = t.Status

	if !CanApply(ev.Kind, ev.From, ev.To) {
		return ev, fmt.Errorf("%w: %s event cannot move task %s from %s to %s",
			cerrors.ErrInvalidTransition, ev.Kind, ev.TaskID, ev.From, ev.To)
	}
	if ev.Kind == constants.EventStarted && !p.DependenciesSatisfied(t) {
		return ev, fmt.Errorf("%w: task %s cannot start before its dependencies are satisfied",
			cerrors.ErrInvalidTransition, ev.TaskID)
	}
	return ev, nil
}

func checkPlanEvent(p *domain.Plan, ev domain.Event) (domain.Event, error) {
	if ev.To != "" || ev.From != "" {
		return ev, fmt.Errorf("%w: plan-level %s event cannot carry a task status", cerrors.ErrInvalidTransition, ev.Kind)
	}

	switch ev.Kind {
	case constants.EventAbandoned:
		if p.Abandoned {
			return ev, fmt.Errorf("plan %s: %w", p.ID, cerrors.ErrPlanAbandoned)
		}
		if p.Status() == constants.PlanStatusComplete {
			return ev, fmt.Errorf("plan %s: %w", p.ID, cerrors.ErrPlanComplete)
		}
	case constants.EventRetired:
		if st := p.Status(); st != constants.PlanStatusComplete && st != constants.PlanStatusAbandoned {
			return ev, fmt.Errorf("plan %s is %s: %w", p.ID, st, cerrors.ErrPlanNotRetirable)
		}
	case constants.EventPlanCreated, constants.EventNote:
	default:
		if _, pinned := kindTargets[ev.Kind]; pinned {
			return ev, fmt.Errorf("%w: %s event needs a task", cerrors.ErrInvalidTransition, ev.Kind)
		}
	}
	return ev, nil
}
