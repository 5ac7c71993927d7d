package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/gate"
)

// DefaultAbandonReason is recorded when Abandon is given no reason.
const DefaultAbandonReason = "abandoned by operator"

var errInterrupted = errors.New("executor invocation interrupted")

// Run drives the plan until no task is running and no further progress is
// possible, then returns the derived plan status. Each executor completion
// triggers another Tick. Cancelling ctx abandons the plan.
func (s *Scheduler) Run(ctx context.Context, planID string) (constants.PlanStatus, error) {
	pr := s.run(planID)
	if err := s.recoverOrphans(ctx, pr, planID); err != nil {
		if ctx.Err() != nil {
			return s.cancelRun(ctx, planID)
		}
		return "", err
	}

	for {
		changed := pr.changedCh()
		if ctx.Err() != nil {
			return s.cancelRun(ctx, planID)
		}

		dispatched, err := s.Tick(ctx, planID)
		if err != nil {
			if ctx.Err() != nil {
				return s.cancelRun(ctx, planID)
			}
			return "", err
		}

		if len(dispatched) == 0 && pr.inflightCount() == 0 {
			select {
			case <-changed:
				// Something finished after this pass began; look again.
				continue
			default:
			}
			p, err := s.store.Get(ctx, planID)
			if err != nil {
				return "", err
			}
			status := p.Status()
			s.note(ctx, planID, "run ended with plan "+status.String())
			return status, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
		}
	}
}

func (s *Scheduler) cancelRun(ctx context.Context, planID string) (constants.PlanStatus, error) {
	bg := context.WithoutCancel(ctx)
	s.logger.Warn().Str("plan_id", planID).Msg("run canceled, abandoning plan")

	err := s.Abandon(bg, planID, "run canceled")
	switch {
	case errors.Is(err, cerrors.ErrPlanComplete):
		// Every task was satisfied before the cancel landed.
		s.note(bg, planID, "run ended with plan "+constants.PlanStatusComplete.String())
		return constants.PlanStatusComplete, nil
	case err != nil && !errors.Is(err, cerrors.ErrPlanAbandoned):
		return "", err
	}
	if err := s.Wait(bg, planID); err != nil {
		return "", err
	}
	s.note(bg, planID, "run canceled")
	return constants.PlanStatusAbandoned, nil
}

// note records an informational plan-level event. Failures are only logged.
func (s *Scheduler) note(ctx context.Context, planID, msg string) {
	if _, err := s.reporter.Log(ctx, planID, domain.Event{Kind: constants.EventNote, Message: msg}); err != nil {
		s.logger.Debug().Err(err).Str("plan_id", planID).Msg("failed to record note")
	}
}

// recoverOrphans resolves tasks left running or awaiting a gate by a
// process that no longer exists. It runs once per plan per scheduler.
func (s *Scheduler) recoverOrphans(ctx context.Context, pr *planRun, planID string) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.state.Lock()
	done := pr.recovered
	pr.recovered = true
	pr.state.Unlock()
	if done {
		return nil
	}

	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return err
	}
	if p.Retired || p.Abandoned {
		return nil
	}

	for _, id := range p.Order {
		t := p.Task(id)
		if t == nil || pr.isInflight(id) {
			continue
		}
		var ev domain.Event
		switch t.Status {
		case constants.TaskStatusRunning:
			ev = failureEvent(id, constants.EventFailed, constants.TaskStatusRunning, constants.TaskStatusFailed,
				&cerrors.ExecutorError{TaskID: id, Err: errInterrupted})
		case constants.TaskStatusAwaitingGate:
			ev = s.gateEvent(t)
		default:
			continue
		}
		s.logger.Warn().Str("plan_id", planID).Str("task_id", id).Str("status", t.Status.String()).Msg("recovering orphaned task")
		if p, err = s.apply(ctx, planID, ev); err != nil {
			return err
		}
	}
	return nil
}

// Abandon cancels every in-flight invocation of the plan, records a
// plan-level abandoned event, and blocks every unfinished task that is not
// in flight. No task is dispatched afterwards; results of invocations that
// return later are discarded and their tasks blocked. Abandon does not wait
// for in-flight invocations; use Wait for that. A complete plan cannot be
// abandoned.
func (s *Scheduler) Abandon(ctx context.Context, planID, reason string) error {
	if reason == "" {
		reason = DefaultAbandonReason
	}
	pr := s.run(planID)
	pr.mu.Lock()
	defer pr.mu.Unlock()

	recorded, err := s.store.AppendEvent(ctx, planID, domain.Event{Kind: constants.EventAbandoned, Message: reason})
	if err != nil {
		return err
	}
	s.reporter.Observe(recorded)
	pr.markAbandoned()
	s.logger.Info().Str("plan_id", planID).Str("reason", reason).Msg("plan abandoned")

	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return err
	}
	for _, t := range p.OrderedTasks() {
		if isFinished(t.Status) || pr.isInflight(t.ID) {
			continue
		}
		ev := failureEvent(t.ID, constants.EventBlocked, t.Status, constants.TaskStatusBlocked,
			fmt.Errorf("task %s: %w: %s", t.ID, cerrors.ErrPlanAbandoned, reason))
		if _, err := s.apply(ctx, planID, ev); err != nil {
			return err
		}
	}
	return nil
}

func isFinished(st constants.TaskStatus) bool {
	return st == constants.TaskStatusSatisfied || st == constants.TaskStatusBlocked
}

// Retry makes a failed task runnable again. A task blocked because its
// retries ran out is retried with a fresh attempt budget, and dependents
// blocked only because of it return to pending. A task blocked by an
// upstream task returns a DependencyBlockedError naming the task to retry.
func (s *Scheduler) Retry(ctx context.Context, planID, taskID string) error {
	pr := s.run(planID)
	pr.mu.Lock()
	defer pr.mu.Unlock()

	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return err
	}
	if p.Retired {
		return fmt.Errorf("plan %s: %w", planID, cerrors.ErrPlanRetired)
	}
	if p.Abandoned {
		return fmt.Errorf("plan %s: %w", planID, cerrors.ErrPlanAbandoned)
	}
	t := p.Task(taskID)
	if t == nil {
		return fmt.Errorf("plan %s task %s: %w", planID, taskID, cerrors.ErrTaskNotFound)
	}

	ev := domain.Event{
		TaskID:  taskID,
		Kind:    constants.EventRetry,
		From:    t.Status,
		To:      constants.TaskStatusRunnable,
		Message: "manual retry",
	}
	switch t.Status {
	case constants.TaskStatusFailed:
		ev.ResetAttempts = !t.RetriesLeft()
	case constants.TaskStatusBlocked:
		switch cerrors.Kind(t.FailureKind) {
		case cerrors.KindDependencyBlocked:
			return &cerrors.DependencyBlockedError{TaskID: taskID, Upstream: rootBlocker(p, t)}
		case cerrors.KindAbandoned:
			return fmt.Errorf("task %s: %w", taskID, cerrors.ErrPlanAbandoned)
		}
		ev.ResetAttempts = true
	default:
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, cerrors.ErrTaskNotRetryable)
	}

	if p, err = s.apply(ctx, planID, ev); err != nil {
		return err
	}
	s.logger.Info().Str("plan_id", planID).Str("task_id", taskID).Bool("reset_attempts", ev.ResetAttempts).Msg("task retried")

	for _, id := range p.Order {
		d := p.Task(id)
		if d == nil || d.Status != constants.TaskStatusBlocked ||
			cerrors.Kind(d.FailureKind) != cerrors.KindDependencyBlocked || p.BlockedDependency(d) != "" {
			continue
		}
		p, err = s.apply(ctx, planID, domain.Event{
			TaskID:  id,
			Kind:    constants.EventRetry,
			From:    constants.TaskStatusBlocked,
			To:      constants.TaskStatusPending,
			Message: "upstream " + taskID + " retried",
		})
		if err != nil {
			return err
		}
	}

	_, err = s.settle(ctx, planID)
	return err
}

// rootBlocker follows dependency blocks upstream to the task that caused them.
func rootBlocker(p *domain.Plan, t *domain.Task) string {
	seen := make(map[string]bool)
	cur := t
	for {
		up := p.BlockedDependency(cur)
		if up == "" || seen[up] {
			return cur.ID
		}
		seen[up] = true
		next := p.Task(up)
		if cerrors.Kind(next.FailureKind) != cerrors.KindDependencyBlocked {
			return up
		}
		cur = next
	}
}

// Revalidate re-runs a task's gates against its current evidence without
// executing it again, and records the verdict as a revalidated event. The
// same evidence always yields the same verdict. This is the only way a
// satisfied task can become failed; dependents that already ran are left
// alone.
func (s *Scheduler) Revalidate(ctx context.Context, planID, taskID string) (gate.Result, error) {
	pr := s.run(planID)
	pr.mu.Lock()
	defer pr.mu.Unlock()

	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return gate.Result{}, err
	}
	t := p.Task(taskID)
	if t == nil {
		return gate.Result{}, fmt.Errorf("plan %s task %s: %w", planID, taskID, cerrors.ErrTaskNotFound)
	}
	if t.Status != constants.TaskStatusSatisfied && t.Status != constants.TaskStatusFailed {
		return gate.Result{}, fmt.Errorf("%w: task %s is %s", cerrors.ErrInvalidTransition, taskID, t.Status)
	}
	if t.Evidence == nil {
		return gate.Result{}, fmt.Errorf("task %s: %w", taskID, cerrors.ErrNoEvidence)
	}

	res := s.evaluator.Evaluate(t, t.Evidence)
	ev := domain.Event{
		TaskID:  taskID,
		Kind:    constants.EventRevalidated,
		From:    t.Status,
		To:      constants.TaskStatusSatisfied,
		Message: "gates passed",
	}
	if !res.Passed {
		ev.To = constants.TaskStatusFailed
		ev.FailedRules = res.FailedRules()
		ev.Message = gateMessage(res.Failed)
		ev.ErrorKind = cerrors.KindGateRejected.String()
	}
	if _, err := s.apply(ctx, planID, ev); err != nil {
		return gate.Result{}, err
	}
	s.logger.Info().
		Str("plan_id", planID).
		Str("task_id", taskID).
		Bool("passed", res.Passed).
		Strs("failed_rules", res.FailedRules()).
		Msg("task revalidated")

	if res.Passed {
		if _, err := s.settle(ctx, planID); err != nil {
			return res, err
		}
	}
	return res, nil
}
