// Package scheduler drives plans forward: it promotes tasks whose
// dependencies are satisfied, dispatches runnable tasks to executors,
// evaluates quality gates on their evidence, and records every status
// change through the plan store before acting on it.
//
// Import rules:
//   - CAN import: internal/constants, internal/domain, internal/errors,
//     internal/plan, internal/gate, internal/executor
//   - MUST NOT import: internal/cli, internal/report
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	"github.com/mrz1836/conductor/internal/executor"
	"github.com/mrz1836/conductor/internal/gate"
	"github.com/mrz1836/conductor/internal/plan"
)

// Config holds scheduling policy.
type Config struct {
	// MaxParallel caps concurrent executor invocations per plan (0 = unlimited).
	MaxParallel int

	// AutoRetry moves failed tasks with budget left straight back to runnable.
	// When false a failed task waits for an operator Retry.
	AutoRetry bool

	// DefaultTimeout bounds invocations of tasks that declare no timeout (0 = none).
	DefaultTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AutoRetry: true,
	}
}

// Reporter receives the events the scheduler produces.
type Reporter interface {
	// Log records an informational event and returns it as stored.
	Log(ctx context.Context, planID string, ev domain.Event) (domain.Event, error)

	// Observe is told about every event the scheduler has recorded.
	Observe(ev domain.Event)
}

type nopReporter struct{}

func (nopReporter) Log(_ context.Context, _ string, ev domain.Event) (domain.Event, error) {
	return ev, nil
}

func (nopReporter) Observe(domain.Event) {}

// Scheduler dispatches the tasks of one or more plans.
// It is safe for concurrent use.
type Scheduler struct {
	store     plan.Store
	executors *executor.Registry
	evaluator *gate.Evaluator
	reporter  Reporter
	cfg       Config
	logger    zerolog.Logger
	baseCtx   context.Context

	mu   sync.Mutex
	runs map[string]*planRun
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBaseContext sets the parent context of every executor invocation.
// Cancelling it cancels all in-flight work without abandoning plans.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		s.baseCtx = ctx
	}
}

// New creates a scheduler. A nil evaluator uses the default rule registry;
// a nil reporter discards events.
func New(store plan.Store, executors *executor.Registry, evaluator *gate.Evaluator, reporter Reporter, cfg Config, logger zerolog.Logger, opts ...Option) *Scheduler {
	if evaluator == nil {
		evaluator = gate.NewEvaluator(nil)
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	if executors == nil {
		executors = executor.NewRegistry()
	}
	s := &Scheduler{
		store:     store,
		executors: executors,
		evaluator: evaluator,
		reporter:  reporter,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   context.Background(),
		runs:      make(map[string]*planRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// planRun is the in-process scheduling state of one plan.
type planRun struct {
	// mu serializes scheduling decisions (settle, dispatch, result handling).
	mu sync.Mutex

	// state guards the fields below. Lock order: mu before state.
	state     sync.Mutex
	inflight  map[string]context.CancelFunc
	changed   chan struct{}
	abandoned bool
	recovered bool

	group errgroup.Group
}

func (s *Scheduler) run(planID string) *planRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.runs[planID]
	if !ok {
		pr = &planRun{
			inflight: make(map[string]context.CancelFunc),
			changed:  make(chan struct{}),
		}
		s.runs[planID] = pr
	}
	return pr
}

func (pr *planRun) track(taskID string, cancel context.CancelFunc) {
	pr.state.Lock()
	defer pr.state.Unlock()
	pr.inflight[taskID] = cancel
}

// untrack removes a finished invocation and wakes every waiter.
func (pr *planRun) untrack(taskID string) {
	pr.state.Lock()
	defer pr.state.Unlock()
	delete(pr.inflight, taskID)
	close(pr.changed)
	pr.changed = make(chan struct{})
}

func (pr *planRun) isInflight(taskID string) bool {
	pr.state.Lock()
	defer pr.state.Unlock()
	_, ok := pr.inflight[taskID]
	return ok
}

func (pr *planRun) inflightCount() int {
	pr.state.Lock()
	defer pr.state.Unlock()
	return len(pr.inflight)
}

// changedCh returns a channel closed at the next invocation completion.
func (pr *planRun) changedCh() <-chan struct{} {
	pr.state.Lock()
	defer pr.state.Unlock()
	return pr.changed
}

func (pr *planRun) markAbandoned() {
	pr.state.Lock()
	defer pr.state.Unlock()
	pr.abandoned = true
	for _, cancel := range pr.inflight {
		cancel()
	}
}

func (pr *planRun) isAbandoned() bool {
	pr.state.Lock()
	defer pr.state.Unlock()
	return pr.abandoned
}

// TaskState is the status of one task as seen by GetStatus.
type TaskState struct {
	ID          string               `json:"id"`
	Phase       string               `json:"phase"`
	Role        string               `json:"role"`
	Status      constants.TaskStatus `json:"status"`
	Attempts    int                  `json:"attempts"`
	MaxRetries  int                  `json:"max_retries"`
	InFlight    bool                 `json:"in_flight,omitempty"`
	FailureKind string               `json:"failure_kind,omitempty"`
	FailedRules []string             `json:"failed_rules,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
}

// StatusView is a point-in-time view of a plan.
type StatusView struct {
	PlanID  string                       `json:"plan_id"`
	Title   string                       `json:"title"`
	Status  constants.PlanStatus         `json:"status"`
	Retired bool                         `json:"retired,omitempty"`
	Counts  map[constants.TaskStatus]int `json:"counts"`
	Tasks   []TaskState                  `json:"tasks"`
}

// GetStatus returns the plan status, derived on read, and every task's
// status in topological order.
func (s *Scheduler) GetStatus(ctx context.Context, planID string) (*StatusView, error) {
	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	pr := s.run(planID)

	view := &StatusView{
		PlanID:  p.ID,
		Title:   p.Title,
		Status:  p.Status(),
		Retired: p.Retired,
		Counts:  p.StatusCounts(),
		Tasks:   make([]TaskState, 0, len(p.Order)),
	}
	for _, t := range p.OrderedTasks() {
		view.Tasks = append(view.Tasks, TaskState{
			ID:          t.ID,
			Phase:       t.Phase,
			Role:        t.Role,
			Status:      t.Status,
			Attempts:    t.Attempts,
			MaxRetries:  t.MaxRetries,
			InFlight:    pr.isInflight(t.ID),
			FailureKind: t.FailureKind,
			FailedRules: t.FailedRules,
			LastError:   t.LastError,
		})
	}
	return view, nil
}

// Wait blocks until no invocation of the plan is in flight.
func (s *Scheduler) Wait(ctx context.Context, planID string) error {
	pr := s.run(planID)
	for {
		changed := pr.changedCh()
		if pr.inflightCount() == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close waits for every in-flight invocation of every plan to return.
// Callers must stop ticking before calling Close.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	runs := make([]*planRun, 0, len(s.runs))
	for _, pr := range s.runs {
		runs = append(runs, pr)
	}
	s.mu.Unlock()

	for _, pr := range runs {
		_ = pr.group.Wait()
	}
	return nil
}
