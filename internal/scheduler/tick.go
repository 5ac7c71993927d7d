package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/gate"
)

// Tick advances a plan by one scheduling pass: pending tasks whose
// dependencies are all satisfied become runnable, blocks propagate to
// dependents, failed tasks are retried or blocked, and every runnable task
// is dispatched in topological order. It returns the ids dispatched.
// Executors run asynchronously; Tick does not wait for them.
func (s *Scheduler) Tick(ctx context.Context, planID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pr := s.run(planID)
	pr.mu.Lock()
	defer pr.mu.Unlock()

	p, err := s.settle(ctx, planID)
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, pr, p)
}

// settle applies every status change that needs no executor.
// Callers hold pr.mu.
func (s *Scheduler) settle(ctx context.Context, planID string) (*domain.Plan, error) {
	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Retired {
		return nil, fmt.Errorf("plan %s: %w", planID, cerrors.ErrPlanRetired)
	}
	if p.Abandoned {
		return p, nil
	}

	// Order is topological, so a block reaches every transitive dependent
	// in a single pass. A task may move more than once, as when a requeued
	// task is then blocked by the dependency that regressed.
	for _, id := range p.Order {
		for t := p.Task(id); t != nil; t = p.Task(id) {
			ev, ok := s.nextSettleEvent(p, t)
			if !ok {
				break
			}
			if p, err = s.apply(ctx, planID, ev); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (s *Scheduler) nextSettleEvent(p *domain.Plan, t *domain.Task) (domain.Event, bool) {
	switch t.Status {
	case constants.TaskStatusPending:
		if up := p.BlockedDependency(t); up != "" {
			return failureEvent(t.ID, constants.EventBlocked, constants.TaskStatusPending, constants.TaskStatusBlocked,
				&cerrors.DependencyBlockedError{TaskID: t.ID, Upstream: up}), true
		}
		if p.DependenciesSatisfied(t) {
			return domain.Event{
				TaskID: t.ID,
				Kind:   constants.EventRunnable,
				From:   constants.TaskStatusPending,
				To:     constants.TaskStatusRunnable,
			}, true
		}
	case constants.TaskStatusRunnable:
		if up := unsatisfiedDependency(p, t); up != "" {
			return domain.Event{
				TaskID:  t.ID,
				Kind:    constants.EventRequeued,
				From:    constants.TaskStatusRunnable,
				To:      constants.TaskStatusPending,
				Message: fmt.Sprintf("dependency %s is %s", up, p.Task(up).Status),
			}, true
		}
	case constants.TaskStatusFailed:
		if !t.RetriesLeft() {
			err := fmt.Errorf("task %s: %w after %d attempts", t.ID, cerrors.ErrMaxRetriesExceeded, t.Attempts)
			ev := failureEvent(t.ID, constants.EventBlocked, constants.TaskStatusFailed, constants.TaskStatusBlocked, err)
			// Keep the rules of the final rejection visible on the blocked task.
			ev.FailedRules = t.FailedRules
			return ev, true
		}
		if s.cfg.AutoRetry {
			return domain.Event{
				TaskID:  t.ID,
				Kind:    constants.EventRetry,
				From:    constants.TaskStatusFailed,
				To:      constants.TaskStatusRunnable,
				Message: fmt.Sprintf("automatic retry %d of %d", t.Attempts, t.MaxRetries),
			}, true
		}
	}
	return domain.Event{}, false
}

func unsatisfiedDependency(p *domain.Plan, t *domain.Task) string {
	for _, dep := range t.DependsOn {
		if d := p.Task(dep); d != nil && d.Status != constants.TaskStatusSatisfied {
			return dep
		}
	}
	return ""
}

func (s *Scheduler) dispatch(ctx context.Context, pr *planRun, p *domain.Plan) ([]string, error) {
	if p.Abandoned || pr.isAbandoned() {
		return nil, nil
	}

	var dispatched []string
	for _, t := range p.OrderedTasks() {
		if t.Status != constants.TaskStatusRunnable || !p.DependenciesSatisfied(t) {
			continue
		}
		if s.cfg.MaxParallel > 0 && pr.inflightCount() >= s.cfg.MaxParallel {
			break
		}

		updated, err := s.apply(ctx, p.ID, domain.Event{
			TaskID: t.ID,
			Kind:   constants.EventStarted,
			From:   constants.TaskStatusRunnable,
			To:     constants.TaskStatusRunning,
		})
		if errors.Is(err, cerrors.ErrStaleTransition) {
			continue
		}
		if err != nil {
			return dispatched, err
		}

		s.launch(pr, p.ID, updated.Task(t.ID).Clone())
		dispatched = append(dispatched, t.ID)
	}
	return dispatched, nil
}

// apply records a transition and reports it.
func (s *Scheduler) apply(ctx context.Context, planID string, ev domain.Event) (*domain.Plan, error) {
	p, err := s.store.ApplyTransition(ctx, planID, ev)
	if err != nil {
		return nil, err
	}
	ev.PlanID = planID
	ev.Seq = p.LastSeq
	ev.Timestamp = p.UpdatedAt
	s.reporter.Observe(ev)
	return p, nil
}

func (s *Scheduler) launch(pr *planRun, planID string, task *domain.Task) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	var (
		execCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(s.baseCtx, timeout)
	} else {
		execCtx, cancel = context.WithCancel(s.baseCtx)
	}
	log := s.logger.With().Str("plan_id", planID).Str("task_id", task.ID).Str("role", task.Role).Logger()
	execCtx = log.WithContext(execCtx)

	pr.track(task.ID, cancel)
	log.Info().Int("attempt", task.Attempts).Msg("task dispatched")

	pr.group.Go(func() error {
		defer cancel()
		start := time.Now()
		ev, err := s.await(execCtx, task)
		if err == nil && timedOut(execCtx, timeout) {
			err = execCtx.Err()
		}
		log.Debug().Dur("duration_ms", time.Since(start)).Err(err).Msg("executor returned")
		s.finish(pr, planID, task, execCtx, timeout, ev, err)
		return nil
	})
}

// invocationResult is what one Execute call handed back.
type invocationResult struct {
	ev  domain.Evidence
	err error
}

// await waits for the invocation or for its context to end, whichever comes
// first. An executor that ignores cancellation keeps running on its own and
// its result is dropped when it finally returns.
func (s *Scheduler) await(ctx context.Context, task *domain.Task) (domain.Evidence, error) {
	done := make(chan invocationResult, 1)
	go func() {
		ev, err := s.invoke(ctx, task)
		done <- invocationResult{ev: ev, err: err}
	}()

	select {
	case res := <-done:
		return res.ev, res.err
	case <-ctx.Done():
		zerolog.Ctx(ctx).Warn().Err(ctx.Err()).Msg("executor still running after its context ended, result will be dropped")
		return nil, ctx.Err()
	}
}

func timedOut(execCtx context.Context, timeout time.Duration) bool {
	return timeout > 0 && errors.Is(execCtx.Err(), context.DeadlineExceeded)
}

func (s *Scheduler) invoke(ctx context.Context, task *domain.Task) (ev domain.Evidence, err error) {
	exec, err := s.executors.Get(task.Role)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			ev = nil
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, task)
}

// finish records the outcome of one invocation.
func (s *Scheduler) finish(pr *planRun, planID string, task *domain.Task, execCtx context.Context, timeout time.Duration, ev domain.Evidence, execErr error) {
	defer pr.untrack(task.ID)

	ctx := context.WithoutCancel(s.baseCtx)
	log := s.logger.With().Str("plan_id", planID).Str("task_id", task.ID).Logger()

	pr.mu.Lock()
	defer pr.mu.Unlock()

	p, err := s.store.Get(ctx, planID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load plan for executor result")
		return
	}
	if p.Abandoned || pr.isAbandoned() {
		s.discard(ctx, p, task.ID)
		return
	}

	if execErr != nil {
		execErr = classify(task.ID, execCtx, timeout, execErr)
		log.Warn().Err(execErr).Msg("task failed")
		_, err = s.apply(ctx, planID, failureEvent(task.ID, constants.EventFailed,
			constants.TaskStatusRunning, constants.TaskStatusFailed, execErr))
	} else {
		err = s.complete(ctx, planID, task.ID, ev)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to record executor result")
		return
	}

	if _, err := s.settle(ctx, planID); err != nil {
		log.Error().Err(err).Msg("failed to settle plan")
	}
}

// complete records the evidence and the gate verdict.
func (s *Scheduler) complete(ctx context.Context, planID, taskID string, ev domain.Evidence) error {
	if ev == nil {
		ev = domain.Evidence{}
	}
	p, err := s.apply(ctx, planID, domain.Event{
		TaskID:   taskID,
		Kind:     constants.EventCompleted,
		From:     constants.TaskStatusRunning,
		To:       constants.TaskStatusAwaitingGate,
		Evidence: ev,
	})
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, planID, s.gateEvent(p.Task(taskID)))
	return err
}

// gateEvent evaluates the task's gates against its recorded evidence.
func (s *Scheduler) gateEvent(t *domain.Task) domain.Event {
	res := s.evaluator.Evaluate(t, t.Evidence)
	if res.Passed {
		return domain.Event{
			TaskID: t.ID,
			Kind:   constants.EventGatePassed,
			From:   constants.TaskStatusAwaitingGate,
			To:     constants.TaskStatusSatisfied,
		}
	}
	rejection := &cerrors.GateRejection{TaskID: t.ID, Rules: res.FailedRules()}
	ev := failureEvent(t.ID, constants.EventGateRejected, constants.TaskStatusAwaitingGate, constants.TaskStatusFailed, rejection)
	ev.FailedRules = res.FailedRules()
	ev.Message = gateMessage(res.Failed)
	return ev
}

// discard drops the result of an invocation that returned after abandon.
func (s *Scheduler) discard(ctx context.Context, p *domain.Plan, taskID string) {
	t := p.Task(taskID)
	if t == nil || t.Status != constants.TaskStatusRunning {
		return
	}
	_, err := s.apply(ctx, p.ID, failureEvent(taskID, constants.EventBlocked, constants.TaskStatusRunning,
		constants.TaskStatusBlocked, fmt.Errorf("task %s: result discarded: %w", taskID, cerrors.ErrPlanAbandoned)))
	if err != nil {
		s.logger.Error().Err(err).Str("plan_id", p.ID).Str("task_id", taskID).Msg("failed to block abandoned task")
	}
}

// classify turns an executor error into the error recorded on the task.
func classify(taskID string, execCtx context.Context, timeout time.Duration, err error) error {
	if timedOut(execCtx, timeout) {
		return &cerrors.TimeoutError{TaskID: taskID, After: timeout}
	}
	var timeoutErr *cerrors.TimeoutError
	if errors.As(err, &timeoutErr) {
		return err
	}
	// The executor enforced a deadline of its own.
	if errors.Is(err, context.DeadlineExceeded) {
		return &cerrors.TimeoutError{TaskID: taskID}
	}
	var execErr *cerrors.ExecutorError
	if errors.As(err, &execErr) {
		return err
	}
	return &cerrors.ExecutorError{TaskID: taskID, Err: err}
}

func failureEvent(taskID string, kind constants.EventKind, from, to constants.TaskStatus, err error) domain.Event {
	return domain.Event{
		TaskID:    taskID,
		Kind:      kind,
		From:      from,
		To:        to,
		Message:   err.Error(),
		ErrorKind: cerrors.KindOf(err).String(),
	}
}

func gateMessage(failed []gate.Failure) string {
	parts := make([]string, len(failed))
	for i, f := range failed {
		parts[i] = f.Rule + ": " + f.Reason
	}
	return strings.Join(parts, "; ")
}
