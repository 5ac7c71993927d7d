package gate

import (
	"fmt"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
)

// Failure is a single rule that rejected the evidence.
type Failure struct {
	// Rule is the canonical rule expression, e.g. "coverage_at_least(90)".
	Rule string `json:"rule"`
	// Reason explains why the rule failed.
	Reason string `json:"reason"`
}

// Result is the outcome of evaluating every gate of a task.
type Result struct {
	Passed bool      `json:"passed"`
	Failed []Failure `json:"failed,omitempty"`
}

// FailedRules returns the identifiers of the failed rules in declaration order.
func (r Result) FailedRules() []string {
	if len(r.Failed) == 0 {
		return nil
	}
	rules := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		rules[i] = f.Rule
	}
	return rules
}

// Evaluator checks task evidence against the task's quality gate rules.
// Evaluation has no side effects, so evaluating unchanged evidence twice
// always yields the same result.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator creates an evaluator backed by the given registry.
// A nil registry uses DefaultRegistry.
func NewEvaluator(registry *Registry) *Evaluator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Evaluator{registry: registry}
}

// Registry returns the rule registry used by the evaluator.
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// Evaluate runs every rule of the task against the evidence. All rules are
// evaluated; a task with no rules passes.
func (e *Evaluator) Evaluate(task *domain.Task, ev domain.Evidence) Result {
	result := Result{Passed: true}
	for _, expr := range task.Gates {
		if failure, ok := e.check(expr, ev); !ok {
			result.Passed = false
			result.Failed = append(result.Failed, failure)
		}
	}
	return result
}

func (e *Evaluator) check(expr string, ev domain.Evidence) (failure Failure, ok bool) {
	bound, err := e.registry.Resolve(expr)
	if err != nil {
		return Failure{Rule: expr, Reason: err.Error()}, false
	}

	defer func() {
		if r := recover(); r != nil {
			failure = Failure{Rule: bound.ID, Reason: fmt.Sprintf("rule panicked: %v", r)}
			ok = false
		}
	}()

	if err := bound.Check(ev); err != nil {
		return Failure{Rule: bound.ID, Reason: err.Error()}, false
	}
	return Failure{}, true
}

// FirstUnmet returns the first failing rule of a task against its current
// evidence, or "" when every rule passes.
func (e *Evaluator) FirstUnmet(task *domain.Task) string {
	res := e.Evaluate(task, task.Evidence)
	if res.Passed {
		return ""
	}
	return res.Failed[0].Rule
}

// PhasePassed reports whether every task of the phase is satisfied and, for
// phases gated on all_tasks_passed, whether every task's gates currently
// pass on its evidence. The result is recomputed on each call.
func (e *Evaluator) PhasePassed(p *domain.Plan, phase domain.Phase) bool {
	for _, id := range phase.TaskIDs {
		t := p.Task(id)
		if t == nil || t.Status != constants.TaskStatusSatisfied {
			return false
		}
		if phase.Gate == domain.PhaseGateNone {
			continue
		}
		if !e.Evaluate(t, t.Evidence).Passed {
			return false
		}
	}
	return true
}
