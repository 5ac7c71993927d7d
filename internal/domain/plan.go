// Package domain provides shared domain types for the conductor orchestration engine.
// These types are used across all internal packages to ensure consistent data structures.
//
// This package follows strict import rules:
//   - CAN import: internal/constants, standard library
//   - MUST NOT import: any other internal packages
//
// All JSON field names use snake_case.
package domain

import (
	"time"

	"github.com/mrz1836/conductor/internal/constants"
)

// Evidence is the structured payload an executor returns on completion.
// Quality gate rules are pure predicates over it.
type Evidence map[string]any

// Clone returns a deep copy of the evidence.
func (e Evidence) Clone() Evidence {
	if e == nil {
		return nil
	}
	out := make(Evidence, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Evidence(t).Clone())
	case Evidence:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]bool:
		out := make(map[string]bool, len(t))
		for k, b := range t {
			out[k] = b
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Plan is the root aggregate: phases of tasks plus the status projection
// derived from the plan's event log.
//
// Example JSON representation:
//
//	{
//	    "id": "plan-1a2b3c4d",
//	    "title": "User accounts feature",
//	    "phases": [{"name": "backend", "task_ids": ["schema", "api"]}],
//	    "tasks": {"schema": {...}, "api": {...}},
//	    "order": ["schema", "api"],
//	    "created_at": "2026-10-16T10:00:00Z",
//	    "last_seq": 7,
//	    "schema_version": 1
//	}
type Plan struct {
	// ID is the unique identifier for the plan. Format: plan-xxxxxxxx
	ID string `json:"id"`

	// Title is a human-readable name for the plan.
	Title string `json:"title"`

	// Phases are the ordered task groupings as declared.
	Phases []Phase `json:"phases"`

	// Tasks holds every task keyed by id.
	Tasks map[string]*Task `json:"tasks"`

	// Order is the deterministic topological order of task ids.
	Order []string `json:"order"`

	// CreatedAt is when the plan was submitted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the timestamp of the last applied event.
	UpdatedAt time.Time `json:"updated_at"`

	// Abandoned is set once an abandon event is recorded.
	Abandoned bool `json:"abandoned,omitempty"`

	// AbandonReason is the operator-supplied reason for abandoning.
	AbandonReason string `json:"abandon_reason,omitempty"`

	// Retired marks a plan that was retired as a whole.
	Retired bool `json:"retired,omitempty"`

	// LastSeq is the sequence number of the last event folded into this projection.
	LastSeq int64 `json:"last_seq"`

	// SchemaVersion indicates the version of the persisted plan schema.
	SchemaVersion int `json:"schema_version"`
}

// Phase is a named grouping of tasks that must all be satisfied before the
// phase is complete.
type Phase struct {
	// Name identifies the phase.
	Name string `json:"name"`

	// TaskIDs lists the phase's tasks in declaration order.
	TaskIDs []string `json:"task_ids"`

	// Gate is the phase-level gate (PhaseGateAllTasks or PhaseGateNone).
	Gate string `json:"gate,omitempty"`
}

// Phase gate values.
const (
	// PhaseGateAllTasks requires every task's gates to currently pass.
	PhaseGateAllTasks = "all_tasks_passed"

	// PhaseGateNone only requires every task to be satisfied.
	PhaseGateNone = "none"
)

// Task is the atomic unit of work.
type Task struct {
	// ID is unique within the plan.
	ID string `json:"id"`

	// Phase is the name of the owning phase.
	Phase string `json:"phase"`

	// Role identifies which executor performs the task (e.g. "backend", "qa").
	Role string `json:"role"`

	// Title is an optional human-readable description.
	Title string `json:"title,omitempty"`

	// DependsOn lists the ids of tasks that must be satisfied first.
	DependsOn []string `json:"depends_on,omitempty"`

	// Gates lists the quality gate rule expressions that must pass.
	Gates []string `json:"gates,omitempty"`

	// Params are opaque executor parameters (e.g. a shell command).
	Params map[string]string `json:"params,omitempty"`

	// Timeout bounds a single executor invocation (zero means no limit).
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxRetries is how many retries are allowed after the first failure.
	MaxRetries int `json:"max_retries"`

	// Status is the cached projection of the latest relevant events.
	Status constants.TaskStatus `json:"status"`

	// Attempts counts executor dispatches since the last retry-budget reset.
	Attempts int `json:"attempts"`

	// Evidence is the payload from the most recent successful execution.
	Evidence Evidence `json:"evidence"`

	// FailedRules lists the gate rules that failed on the last evaluation.
	FailedRules []string `json:"failed_rules,omitempty"`

	// FailureKind classifies the last failure (executor_error, timeout, ...).
	FailureKind string `json:"failure_kind,omitempty"`

	// LastError is the message of the last failure.
	LastError string `json:"last_error,omitempty"`

	// Note is a free-text progress note.
	Note string `json:"note,omitempty"`

	// UpdatedAt is the timestamp of the last event touching the task.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Gates = append([]string(nil), t.Gates...)
	c.FailedRules = append([]string(nil), t.FailedRules...)
	c.Evidence = t.Evidence.Clone()
	if t.Params != nil {
		c.Params = make(map[string]string, len(t.Params))
		for k, v := range t.Params {
			c.Params[k] = v
		}
	}
	return &c
}

// RetriesLeft reports whether another retry is allowed.
func (t *Task) RetriesLeft() bool {
	return t.Attempts <= t.MaxRetries
}

// Clone returns a deep copy of the plan. Stores hand out clones so callers
// never observe partially-applied updates.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Order = append([]string(nil), p.Order...)
	c.Phases = make([]Phase, len(p.Phases))
	for i, ph := range p.Phases {
		c.Phases[i] = Phase{Name: ph.Name, Gate: ph.Gate, TaskIDs: append([]string(nil), ph.TaskIDs...)}
	}
	c.Tasks = make(map[string]*Task, len(p.Tasks))
	for id, t := range p.Tasks {
		c.Tasks[id] = t.Clone()
	}
	return &c
}

// Task returns the task with the given id, or nil.
func (p *Plan) Task(id string) *Task {
	return p.Tasks[id]
}

// OrderedTasks returns the tasks in topological order.
func (p *Plan) OrderedTasks() []*Task {
	out := make([]*Task, 0, len(p.Order))
	for _, id := range p.Order {
		if t, ok := p.Tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// DependenciesSatisfied reports whether every dependency of the task is satisfied.
func (p *Plan) DependenciesSatisfied(t *Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := p.Tasks[dep]
		if !ok || d.Status != constants.TaskStatusSatisfied {
			return false
		}
	}
	return true
}

// BlockedDependency returns the id of the first blocked dependency, or "".
func (p *Plan) BlockedDependency(t *Task) string {
	for _, dep := range t.DependsOn {
		if d, ok := p.Tasks[dep]; ok && d.Status == constants.TaskStatusBlocked {
			return dep
		}
	}
	return ""
}

// Status derives the overall plan status from the task projection.
// It is recomputed on every call and never stored.
func (p *Plan) Status() constants.PlanStatus {
	if p.Abandoned {
		return constants.PlanStatusAbandoned
	}

	allSatisfied := true
	hasBlocked := false
	hasActive := false

	for _, t := range p.Tasks {
		switch t.Status {
		case constants.TaskStatusSatisfied:
			continue
		case constants.TaskStatusBlocked:
			hasBlocked = true
		case constants.TaskStatusRunnable, constants.TaskStatusRunning, constants.TaskStatusAwaitingGate:
			hasActive = true
		case constants.TaskStatusFailed:
			if t.RetriesLeft() {
				hasActive = true
			}
		case constants.TaskStatusPending:
			if p.BlockedDependency(t) == "" {
				hasActive = true
			}
		}
		allSatisfied = false
	}

	switch {
	case allSatisfied:
		return constants.PlanStatusComplete
	case hasBlocked && !hasActive:
		return constants.PlanStatusBlocked
	default:
		return constants.PlanStatusInProgress
	}
}

// StatusCounts returns the number of tasks in each status.
func (p *Plan) StatusCounts() map[constants.TaskStatus]int {
	counts := make(map[constants.TaskStatus]int, len(constants.AllTaskStatuses()))
	for _, t := range p.Tasks {
		counts[t.Status]++
	}
	return counts
}
