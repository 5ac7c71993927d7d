package domain

import (
	"time"

	"github.com/mrz1836/conductor/internal/constants"
)

// Event is an immutable, append-only progress record. The event log is the
// sole source of audit history; task status is a projection of it.
//
// Example JSON representation:
//
//	{
//	    "seq": 4,
//	    "ts": "2026-10-16T10:02:00Z",
//	    "plan_id": "plan-1a2b3c4d",
//	    "task_id": "api",
//	    "kind": "gate_rejected",
//	    "from": "awaiting_gate",
//	    "to": "failed",
//	    "error_kind": "gate_rejected",
//	    "failed_rules": ["coverage_at_least(90)"]
//	}
type Event struct {
	// Seq is the 1-based position in the plan's log, assigned by the store.
	Seq int64 `json:"seq"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"ts"`

	// PlanID identifies the plan.
	PlanID string `json:"plan_id"`

	// TaskID identifies the task, or is empty for plan-level events.
	TaskID string `json:"task_id,omitempty"`

	// Kind is the event kind.
	Kind constants.EventKind `json:"kind"`

	// From is the task status the transition expects (compare-and-swap). The
	// store fills it with the actual status when it is left empty.
	From constants.TaskStatus `json:"from,omitempty"`

	// To is the target task status for transition events.
	To constants.TaskStatus `json:"to,omitempty"`

	// Message is an optional human-readable message.
	Message string `json:"message,omitempty"`

	// ErrorKind classifies failures (see errors.Kind).
	ErrorKind string `json:"error_kind,omitempty"`

	// FailedRules lists the rules that failed for gate events.
	FailedRules []string `json:"failed_rules,omitempty"`

	// Evidence carries the executor payload on completed events.
	Evidence Evidence `json:"evidence,omitempty"`

	// ResetAttempts restores the retry budget on a manual retry.
	ResetAttempts bool `json:"reset_attempts,omitempty"`
}

// IsTransition reports whether the event changes a task status.
func (e Event) IsTransition() bool {
	return e.TaskID != "" && e.To != ""
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	c := e
	c.FailedRules = append([]string(nil), e.FailedRules...)
	c.Evidence = e.Evidence.Clone()
	return c
}
