package constants

import "slices"

// TaskStatus represents the state of a task in the conductor state machine.
// Status values use snake_case for JSON serialization compatibility.
type TaskStatus string

// Task status constants define the valid states a task can be in:
//
//	Pending → Runnable, Blocked
//	Runnable → Running, Blocked
//	Running → AwaitingGate, Failed, Blocked
//	AwaitingGate → Satisfied, Failed, Blocked
//	Failed → Runnable (retry), Blocked
//	Satisfied → Failed, Blocked (revalidation only)
const (
	// TaskStatusPending indicates a task is waiting for its dependencies.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunnable indicates every dependency is satisfied and the task
	// is ready to be dispatched.
	TaskStatusRunnable TaskStatus = "runnable"

	// TaskStatusRunning indicates an executor is working on the task.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusAwaitingGate indicates the executor returned evidence and the
	// quality gates have not yet been evaluated.
	TaskStatusAwaitingGate TaskStatus = "awaiting_gate"

	// TaskStatusSatisfied indicates every quality gate passed.
	TaskStatusSatisfied TaskStatus = "satisfied"

	// TaskStatusFailed indicates the executor failed or a gate rejected the evidence.
	// The task can be retried (→ Runnable) or blocked once retries are exhausted.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusBlocked is terminal: retries exhausted, plan abandoned, or an
	// upstream dependency is blocked.
	TaskStatusBlocked TaskStatus = "blocked"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}

// AllTaskStatuses returns every task status in lifecycle order.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusPending,
		TaskStatusRunnable,
		TaskStatusRunning,
		TaskStatusAwaitingGate,
		TaskStatusSatisfied,
		TaskStatusFailed,
		TaskStatusBlocked,
	}
}

// PlanStatus is the overall status of a plan, always derived on read.
type PlanStatus string

// Plan status constants double as the plan's result codes.
const (
	// PlanStatusInProgress indicates work remains and nothing is terminally blocked.
	PlanStatusInProgress PlanStatus = "in_progress"

	// PlanStatusComplete indicates every task is satisfied with all gates passing.
	PlanStatusComplete PlanStatus = "complete"

	// PlanStatusBlocked indicates at least one task is terminally blocked.
	PlanStatusBlocked PlanStatus = "blocked"

	// PlanStatusAbandoned indicates the plan was explicitly cancelled.
	PlanStatusAbandoned PlanStatus = "abandoned"
)

// String returns the string representation of the PlanStatus.
func (s PlanStatus) String() string {
	return string(s)
}

// AllPlanStatuses returns every plan status.
func AllPlanStatuses() []PlanStatus {
	return []PlanStatus{PlanStatusInProgress, PlanStatusComplete, PlanStatusBlocked, PlanStatusAbandoned}
}

// IsValid reports whether s is a known plan status.
func (s PlanStatus) IsValid() bool {
	return slices.Contains(AllPlanStatuses(), s)
}

// IsFinal reports whether no further progress can happen without operator action.
func (s PlanStatus) IsFinal() bool {
	return s == PlanStatusComplete || s == PlanStatusBlocked || s == PlanStatusAbandoned
}

// EventKind identifies the kind of a progress event.
type EventKind string

// Progress event kinds. The first six are the core audit vocabulary; the
// rest record engine-driven transitions so the log alone can rebuild status.
const (
	EventStarted      EventKind = "started"
	EventCompleted    EventKind = "completed"
	EventFailed       EventKind = "failed"
	EventBlocked      EventKind = "blocked"
	EventGateRejected EventKind = "gate_rejected"
	EventGatePassed   EventKind = "gate_passed"

	EventPlanCreated EventKind = "plan_created"
	EventRunnable    EventKind = "runnable"
	EventRequeued    EventKind = "requeued"
	EventRetry       EventKind = "retry"
	EventRevalidated EventKind = "revalidated"
	EventAbandoned   EventKind = "abandoned"
	EventRetired     EventKind = "retired"
	EventNote        EventKind = "note"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}
