package report

import (
	"context"
	"fmt"
	"time"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// Report is a point-in-time summary of a plan.
type Report struct {
	PlanID      string                       `json:"plan_id"`
	Title       string                       `json:"title"`
	Status      constants.PlanStatus         `json:"status"`
	Reason      string                       `json:"reason,omitempty"`
	Exhausted   string                       `json:"exhausted_task,omitempty"`
	Retired     bool                         `json:"retired,omitempty"`
	GeneratedAt time.Time                    `json:"generated_at"`
	LastSeq     int64                        `json:"last_seq"`
	Counts      map[constants.TaskStatus]int `json:"counts"`
	Phases      []PhaseSummary               `json:"phases"`
	Problems    []Problem                    `json:"problems,omitempty"`
}

// PhaseSummary describes one phase.
type PhaseSummary struct {
	Name   string                       `json:"name"`
	Gate   string                       `json:"gate"`
	Passed bool                         `json:"passed"`
	Counts map[constants.TaskStatus]int `json:"counts"`

	// FirstUnmet names the first rule keeping the phase gate closed,
	// as "task: rule". Empty when the gate has passed.
	FirstUnmet string `json:"first_unmet,omitempty"`

	Tasks []TaskSummary `json:"tasks"`
}

// TaskSummary is one task line of a phase.
type TaskSummary struct {
	ID         string               `json:"id"`
	Role       string               `json:"role"`
	Title      string               `json:"title,omitempty"`
	Status     constants.TaskStatus `json:"status"`
	Attempts   int                  `json:"attempts"`
	MaxRetries int                  `json:"max_retries"`
	Note       string               `json:"note,omitempty"`
}

// Problem explains why a failed or blocked task is not satisfied.
type Problem struct {
	TaskID string               `json:"task_id"`
	Phase  string               `json:"phase"`
	Status constants.TaskStatus `json:"status"`

	// Kind is the failure classification (executor_error, timeout,
	// gate_rejected, dependency_blocked, retries_exhausted, abandoned).
	Kind    string   `json:"kind"`
	Rules   []string `json:"rules,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Summarize builds a report from the plan's current projection. Phase gates
// are recomputed against current evidence.
func (r *Reporter) Summarize(ctx context.Context, planID string) (*Report, error) {
	p, err := r.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	return r.build(p), nil
}

func (r *Reporter) build(p *domain.Plan) *Report {
	rep := &Report{
		PlanID:      p.ID,
		Title:       p.Title,
		Status:      p.Status(),
		Retired:     p.Retired,
		GeneratedAt: r.clock.Now(),
		LastSeq:     p.LastSeq,
		Counts:      p.StatusCounts(),
		Phases:      make([]PhaseSummary, 0, len(p.Phases)),
	}

	for _, ph := range p.Phases {
		rep.Phases = append(rep.Phases, r.phaseSummary(p, ph))
	}

	for _, t := range p.OrderedTasks() {
		if t.Status != constants.TaskStatusFailed && t.Status != constants.TaskStatusBlocked {
			continue
		}
		rep.Problems = append(rep.Problems, problemFor(t))
	}

	switch rep.Status {
	case constants.PlanStatusBlocked:
		rep.Exhausted = rootBlocker(p)
		rep.Reason = blockedReason(p, rep.Exhausted)
	case constants.PlanStatusAbandoned:
		rep.Reason = p.AbandonReason
	case constants.PlanStatusComplete, constants.PlanStatusInProgress:
	}
	return rep
}

func (r *Reporter) phaseSummary(p *domain.Plan, ph domain.Phase) PhaseSummary {
	gateName := ph.Gate
	if gateName == "" {
		gateName = domain.PhaseGateAllTasks
	}
	sum := PhaseSummary{
		Name:   ph.Name,
		Gate:   gateName,
		Passed: r.evaluator.PhasePassed(p, ph),
		Counts: make(map[constants.TaskStatus]int),
		Tasks:  make([]TaskSummary, 0, len(ph.TaskIDs)),
	}

	for _, id := range ph.TaskIDs {
		t := p.Task(id)
		if t == nil {
			continue
		}
		sum.Counts[t.Status]++
		sum.Tasks = append(sum.Tasks, TaskSummary{
			ID:         t.ID,
			Role:       t.Role,
			Title:      t.Title,
			Status:     t.Status,
			Attempts:   t.Attempts,
			MaxRetries: t.MaxRetries,
			Note:       t.Note,
		})
		if !sum.Passed && sum.FirstUnmet == "" {
			if rule := r.unmetRule(t); rule != "" {
				sum.FirstUnmet = fmt.Sprintf("%s: %s", t.ID, rule)
			}
		}
	}
	return sum
}

// unmetRule returns the first rule of t that does not currently pass, or
// "" if t contributes nothing to a closed phase gate.
func (r *Reporter) unmetRule(t *domain.Task) string {
	if t.Evidence == nil {
		if t.Status != constants.TaskStatusSatisfied && len(t.Gates) > 0 {
			return t.Gates[0]
		}
		return ""
	}
	return r.evaluator.FirstUnmet(t)
}

func problemFor(t *domain.Task) Problem {
	kind := t.FailureKind
	if kind == "" {
		kind = cerrors.KindExecutor.String()
	}
	return Problem{
		TaskID:  t.ID,
		Phase:   t.Phase,
		Status:  t.Status,
		Kind:    kind,
		Rules:   t.FailedRules,
		Message: t.LastError,
	}
}

// rootBlocker returns the first blocked task that is not blocked merely
// because a dependency is.
func rootBlocker(p *domain.Plan) string {
	for _, t := range p.OrderedTasks() {
		if t.Status == constants.TaskStatusBlocked && cerrors.Kind(t.FailureKind) != cerrors.KindDependencyBlocked {
			return t.ID
		}
	}
	return ""
}

func blockedReason(p *domain.Plan, root string) string {
	t := p.Task(root)
	if t == nil {
		return "plan is blocked"
	}
	if cerrors.Kind(t.FailureKind) == cerrors.KindRetriesExhausted {
		return fmt.Sprintf("task %s exhausted its retries after %d attempts", t.ID, t.Attempts)
	}
	if t.LastError != "" {
		return fmt.Sprintf("task %s is blocked: %s", t.ID, t.LastError)
	}
	return fmt.Sprintf("task %s is blocked", t.ID)
}
