package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/conductor/internal/clock"
	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/executor"
	"github.com/mrz1836/conductor/internal/gate"
	"github.com/mrz1836/conductor/internal/graph"
	"github.com/mrz1836/conductor/internal/plan"
	"github.com/mrz1836/conductor/internal/scheduler"
)

const waitTimeout = 5 * time.Second

var testEpoch = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func retries(n int) *int { return &n }

func tsk(id string, deps ...string) domain.TaskSpec {
	return domain.TaskSpec{ID: id, Role: "backend", DependsOn: deps}
}

func planSpec(tasks ...domain.TaskSpec) domain.PlanSpec {
	return domain.PlanSpec{Title: "test plan", Phases: []domain.PhaseSpec{{Name: "main", Tasks: tasks}}}
}

// submit builds and persists a plan, returning its id.
func submit(t *testing.T, store plan.Store, spec domain.PlanSpec) string {
	t.Helper()
	g, err := graph.Build(spec)
	require.NoError(t, err)
	id, err := store.Create(context.Background(), g.NewPlan("", clock.NewFixed(testEpoch)))
	require.NoError(t, err)
	return id
}

// outcome is what a controlled invocation returns.
type outcome struct {
	ev  domain.Evidence
	err error
}

// controlled is an executor whose invocations block until the test
// releases them. It deliberately ignores cancellation.
type controlled struct {
	mu      sync.Mutex
	results map[string]chan outcome
	started chan string
}

func newControlled() *controlled {
	return &controlled{results: make(map[string]chan outcome), started: make(chan string, 64)}
}

func (c *controlled) ch(id string) chan outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.results[id]
	if !ok {
		ch = make(chan outcome, 1)
		c.results[id] = ch
	}
	return ch
}

func (c *controlled) Execute(_ context.Context, task *domain.Task) (domain.Evidence, error) {
	c.started <- task.ID
	o := <-c.ch(task.ID)
	return o.ev, o.err
}

func (c *controlled) release(id string, ev domain.Evidence, err error) {
	c.ch(id) <- outcome{ev: ev, err: err}
}

// awaitStarted returns the ids of the next n invocations, sorted.
func (c *controlled) awaitStarted(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for len(ids) < n {
		select {
		case id := <-c.started:
			ids = append(ids, id)
		case <-time.After(waitTimeout):
			t.Fatalf("only %d of %d invocations started", len(ids), n)
		}
	}
	sort.Strings(ids)
	return ids
}

// recorder is a Reporter that keeps what it observes.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	notes  []string
}

func (r *recorder) Log(_ context.Context, _ string, ev domain.Event) (domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, ev.Message)
	return ev, nil
}

func (r *recorder) Observe(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds(taskID string) []constants.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []constants.EventKind
	for _, ev := range r.events {
		if ev.TaskID == taskID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

type env struct {
	store *plan.MemoryStore
	reg   *executor.Registry
	rec   *recorder
	sched *scheduler.Scheduler
}

func newEnv(t *testing.T, e executor.Executor, cfg scheduler.Config) *env {
	t.Helper()
	store := plan.NewMemoryStore(plan.WithMemoryClock(clock.NewFixed(testEpoch)))
	reg := executor.NewRegistry()
	if e != nil {
		require.NoError(t, reg.Register(executor.RoleBackend, e))
	}
	rec := &recorder{}
	sched := scheduler.New(store, reg, gate.NewEvaluator(nil), rec, cfg, zerolog.Nop())
	t.Cleanup(func() { _ = sched.Close() })
	return &env{store: store, reg: reg, rec: rec, sched: sched}
}

func (e *env) wait(t *testing.T, planID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, e.sched.Wait(ctx, planID))
}

func (e *env) task(t *testing.T, planID, taskID string) *domain.Task {
	t.Helper()
	p, err := e.store.Get(context.Background(), planID)
	require.NoError(t, err)
	task := p.Task(taskID)
	require.NotNil(t, task)
	return task
}

func (e *env) events(t *testing.T, planID string) []domain.Event {
	t.Helper()
	events, err := e.store.Events(context.Background(), planID)
	require.NoError(t, err)
	return events
}

func succeed(ev domain.Evidence) executor.FuncExecutor {
	return func(context.Context, *domain.Task) (domain.Evidence, error) {
		return ev, nil
	}
}

func runToEnd(t *testing.T, s *scheduler.Scheduler, planID string) constants.PlanStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	status, err := s.Run(ctx, planID)
	require.NoError(t, err)
	return status
}

func TestTick_DependentsBecomeRunnableTogether(t *testing.T) {
	ctx := context.Background()
	c := newControlled()
	e := newEnv(t, c, scheduler.DefaultConfig())
	id := submit(t, e.store, planSpec(tsk("a"), tsk("b", "a"), tsk("c", "a")))

	dispatched, err := e.sched.Tick(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, dispatched)
	assert.Equal(t, []string{"a"}, c.awaitStarted(t, 1))
	assert.Equal(t, constants.TaskStatusPending, e.task(t, id, "b").Status)

	c.release("a", domain.Evidence{"ok": true}, nil)
	e.wait(t, id)

	assert.Equal(t, constants.TaskStatusSatisfied, e.task(t, id, "a").Status)
	assert.Equal(t, constants.TaskStatusRunnable, e.task(t, id, "b").Status)
	assert.Equal(t, constants.TaskStatusRunnable, e.task(t, id, "c").Status)

	dispatched, err = e.sched.Tick(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, dispatched)

	// Both invocations are in flight before either is released.
	assert.Equal(t, []string{"b", "c"}, c.awaitStarted(t, 2))
	view, err := e.sched.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Counts[constants.TaskStatusRunning])

	c.release("c", nil, nil)
	c.release("b", nil, nil)
	e.wait(t, id)

	view, err = e.sched.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.PlanStatusComplete, view.Status)
	assert.Equal(t, []constants.EventKind{
		constants.EventRunnable, constants.EventStarted, constants.EventCompleted, constants.EventGatePassed,
	}, e.rec.kinds("b"))
}

func TestTick_MaxParallel(t *testing.T) {
	c := newControlled()
	e := newEnv(t, c, scheduler.Config{MaxParallel: 1, AutoRetry: true})
	id := submit(t, e.store, planSpec(tsk("a"), tsk("b")))

	dispatched, err := e.sched.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, dispatched)
	c.awaitStarted(t, 1)

	dispatched, err = e.sched.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, dispatched)

	c.release("a", nil, nil)
	e.wait(t, id)

	dispatched, err = e.sched.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, dispatched)
	c.awaitStarted(t, 1)
	c.release("b", nil, nil)
	e.wait(t, id)
}

func TestGateRejection_RecordsExactRule(t *testing.T) {
	c := newControlled()
	e := newEnv(t, c, scheduler.Config{AutoRetry: false})
	spec := planSpec(domain.TaskSpec{ID: "a", Role: "backend", Gates: []string{"coverage_at_least(90)"}})
	id := submit(t, e.store, spec)

	_, err := e.sched.Tick(context.Background(), id)
	require.NoError(t, err)
	c.awaitStarted(t, 1)
	c.release("a", domain.Evidence{"coverage": 85}, nil)
	e.wait(t, id)

	a := e.task(t, id, "a")
	assert.Equal(t, constants.TaskStatusFailed, a.Status)
	assert.Equal(t, []string{"coverage_at_least(90)"}, a.FailedRules)
	assert.Equal(t, cerrors.KindGateRejected.String(), a.FailureKind)

	events := e.events(t, id)
	last := events[len(events)-1]
	assert.Equal(t, constants.EventGateRejected, last.Kind)
	assert.Equal(t, []string{"coverage_at_least(90)"}, last.FailedRules)
	assert.Contains(t, last.Message, "85")

	// Without auto retry the task waits for an operator.
	dispatched, err := e.sched.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, dispatched)
	assert.Equal(t, constants.TaskStatusFailed, e.task(t, id, "a").Status)
}

func TestRun_RetriesExhaustedBlocksPlan(t *testing.T) {
	var calls int
	var mu sync.Mutex
	boom := executor.FuncExecutor(func(context.Context, *domain.Task) (domain.Evidence, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("compiler exploded")
	})
	e := newEnv(t, boom, scheduler.DefaultConfig())
	spec := planSpec(tsk("a"), tsk("b", "a"), tsk("c", "b"))
	spec.MaxRetries = retries(2)
	id := submit(t, e.store, spec)

	status := runToEnd(t, e.sched, id)
	assert.Equal(t, constants.PlanStatusBlocked, status)

	mu.Lock()
	assert.Equal(t, 3, calls, "one attempt plus two retries")
	mu.Unlock()

	a := e.task(t, id, "a")
	assert.Equal(t, constants.TaskStatusBlocked, a.Status)
	assert.Equal(t, cerrors.KindRetriesExhausted.String(), a.FailureKind)
	assert.Contains(t, a.LastError, "task a")
	assert.Contains(t, a.LastError, cerrors.ErrMaxRetriesExceeded.Error())

	for _, id2 := range []string{"b", "c"} {
		dep := e.task(t, id, id2)
		assert.Equal(t, constants.TaskStatusBlocked, dep.Status, id2)
		assert.Equal(t, cerrors.KindDependencyBlocked.String(), dep.FailureKind, id2)
		assert.Zero(t, dep.Attempts, id2)
	}

	var failures int
	for _, ev := range e.events(t, id) {
		if ev.Kind == constants.EventFailed {
			failures++
			assert.Equal(t, cerrors.KindExecutor.String(), ev.ErrorKind)
			assert.Contains(t, ev.Message, "compiler exploded")
		}
	}
	assert.Equal(t, 3, failures)
}

func TestAbandon_WithTasksInFlight(t *testing.T) {
	orders := map[string][]string{
		"a finishes first": {"a", "b"},
		"b finishes first": {"b", "a"},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newControlled()
			e := newEnv(t, c, scheduler.DefaultConfig())
			id := submit(t, e.store, planSpec(tsk("a"), tsk("b"), tsk("c", "a")))

			dispatched, err := e.sched.Tick(ctx, id)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, dispatched)
			c.awaitStarted(t, 2)

			require.NoError(t, e.sched.Abandon(ctx, id, "requirements changed"))
			require.ErrorIs(t, e.sched.Abandon(ctx, id, ""), cerrors.ErrPlanAbandoned)

			dispatched, err = e.sched.Tick(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, dispatched)

			c.release(order[0], domain.Evidence{"coverage": 100}, nil)
			c.release(order[1], nil, errors.New("late failure"))
			e.wait(t, id)

			view, err := e.sched.GetStatus(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, constants.PlanStatusAbandoned, view.Status)
			for _, ts := range view.Tasks {
				assert.Equal(t, constants.TaskStatusBlocked, ts.Status, ts.ID)
				assert.Equal(t, cerrors.KindAbandoned.String(), ts.FailureKind, ts.ID)
			}

			abandonedAt := -1
			for i, ev := range e.events(t, id) {
				if ev.Kind == constants.EventAbandoned {
					abandonedAt = i
					assert.Equal(t, "requirements changed", ev.Message)
					continue
				}
				if abandonedAt >= 0 {
					assert.Equal(t, constants.EventBlocked, ev.Kind, "only blocks follow an abandon")
				}
			}
			require.GreaterOrEqual(t, abandonedAt, 0)

			require.ErrorIs(t, e.sched.Retry(ctx, id, "a"), cerrors.ErrPlanAbandoned)
		})
	}
}

func TestRun_TimeoutIsRecordedAsFailure(t *testing.T) {
	slow := executor.FuncExecutor(func(ctx context.Context, _ *domain.Task) (domain.Evidence, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newEnv(t, slow, scheduler.DefaultConfig())
	spec := planSpec(domain.TaskSpec{ID: "a", Role: "backend", Timeout: 20 * time.Millisecond, MaxRetries: retries(0)})
	id := submit(t, e.store, spec)

	assert.Equal(t, constants.PlanStatusBlocked, runToEnd(t, e.sched, id))

	var failed *domain.Event
	for _, ev := range e.events(t, id) {
		if ev.Kind == constants.EventFailed {
			ev := ev
			failed = &ev
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, cerrors.KindTimeout.String(), failed.ErrorKind)
	assert.Contains(t, failed.Message, "20ms")
}

func TestRun_TimeoutWithExecutorIgnoringCancellation(t *testing.T) {
	hang := make(chan struct{})
	tests := []struct {
		name string
		exec executor.FuncExecutor
	}{
		{
			name: "returns success after the deadline",
			exec: func(context.Context, *domain.Task) (domain.Evidence, error) {
				time.Sleep(200 * time.Millisecond)
				return domain.Evidence{"coverage": 100}, nil
			},
		},
		{
			name: "never returns",
			exec: func(context.Context, *domain.Task) (domain.Evidence, error) {
				<-hang
				return domain.Evidence{}, nil
			},
		},
	}
	t.Cleanup(func() { close(hang) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.exec, scheduler.DefaultConfig())
			spec := planSpec(domain.TaskSpec{ID: "a", Role: "backend", Timeout: 20 * time.Millisecond, MaxRetries: retries(0)})
			id := submit(t, e.store, spec)

			assert.Equal(t, constants.PlanStatusBlocked, runToEnd(t, e.sched, id))

			a := e.task(t, id, "a")
			assert.Equal(t, constants.TaskStatusBlocked, a.Status)
			assert.Equal(t, cerrors.KindRetriesExhausted.String(), a.FailureKind)

			// A result arriving after the deadline changes nothing.
			time.Sleep(250 * time.Millisecond)
			assert.Equal(t, constants.TaskStatusBlocked, e.task(t, id, "a").Status)
			assert.NotContains(t, e.rec.kinds("a"), constants.EventCompleted)

			var failed int
			for _, ev := range e.events(t, id) {
				if ev.Kind == constants.EventFailed {
					failed++
					assert.Equal(t, cerrors.KindTimeout.String(), ev.ErrorKind)
				}
			}
			assert.Equal(t, 1, failed)
		})
	}
}

func TestRun_ExecutorDeadlineIsRecordedAsTimeout(t *testing.T) {
	expired := executor.FuncExecutor(func(context.Context, *domain.Task) (domain.Evidence, error) {
		return nil, fmt.Errorf("remote build: %w", context.DeadlineExceeded)
	})
	e := newEnv(t, expired, scheduler.DefaultConfig())
	id := submit(t, e.store, planSpec(domain.TaskSpec{ID: "a", Role: "backend", MaxRetries: retries(0)}))

	assert.Equal(t, constants.PlanStatusBlocked, runToEnd(t, e.sched, id))
	for _, ev := range e.events(t, id) {
		if ev.Kind == constants.EventFailed {
			assert.Equal(t, cerrors.KindTimeout.String(), ev.ErrorKind)
		}
	}
}

func TestRun_DefaultTimeoutApplies(t *testing.T) {
	slow := executor.FuncExecutor(func(ctx context.Context, _ *domain.Task) (domain.Evidence, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newEnv(t, slow, scheduler.Config{AutoRetry: true, DefaultTimeout: 10 * time.Millisecond})
	spec := planSpec(tsk("a"))
	spec.MaxRetries = retries(1)
	id := submit(t, e.store, spec)

	assert.Equal(t, constants.PlanStatusBlocked, runToEnd(t, e.sched, id))
	assert.Equal(t, 2, e.task(t, id, "a").Attempts)
}

func TestRun_ExecutorFailureModes(t *testing.T) {
	tests := []struct {
		name string
		exec executor.Executor
		role string
	}{
		{
			name: "panicking executor",
			exec: executor.FuncExecutor(func(context.Context, *domain.Task) (domain.Evidence, error) {
				panic("nil map")
			}),
			role: "backend",
		},
		{
			name: "role without executor",
			exec: succeed(nil),
			role: "frontend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.exec, scheduler.DefaultConfig())
			spec := planSpec(domain.TaskSpec{ID: "a", Role: tt.role, MaxRetries: retries(0)})
			id := submit(t, e.store, spec)

			assert.Equal(t, constants.PlanStatusBlocked, runToEnd(t, e.sched, id))
			kinds := e.rec.kinds("a")
			assert.Contains(t, kinds, constants.EventFailed)
			assert.Equal(t, constants.EventBlocked, kinds[len(kinds)-1])
		})
	}
}

func TestRun_CompletesAndNotes(t *testing.T) {
	e := newEnv(t, succeed(domain.Evidence{"coverage": 97}), scheduler.DefaultConfig())
	spec := planSpec(
		domain.TaskSpec{ID: "schema", Role: "backend", Gates: []string{"coverage_at_least(90)"}},
		tsk("api", "schema"),
		tsk("ui", "api"),
	)
	id := submit(t, e.store, spec)

	assert.Equal(t, constants.PlanStatusComplete, runToEnd(t, e.sched, id))
	assert.Equal(t, []string{"run ended with plan complete"}, e.rec.notes)

	// A finished plan stays finished.
	assert.Equal(t, constants.PlanStatusComplete, runToEnd(t, e.sched, id))
}

func TestRun_CancelAbandons(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	slow := executor.FuncExecutor(func(ctx context.Context, _ *domain.Task) (domain.Evidence, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newEnv(t, slow, scheduler.DefaultConfig())
	id := submit(t, e.store, planSpec(tsk("a"), tsk("b", "a")))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	status, err := e.sched.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.PlanStatusAbandoned, status)
	assert.Equal(t, constants.TaskStatusBlocked, e.task(t, id, "a").Status)
	assert.Equal(t, constants.TaskStatusBlocked, e.task(t, id, "b").Status)
}

func TestRun_RecoversOrphanedTask(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, succeed(nil), scheduler.DefaultConfig())
	id := submit(t, e.store, planSpec(tsk("a")))

	// A previous process dispatched the task and died.
	_, err := e.store.ApplyTransition(ctx, id, domain.Event{TaskID: "a", Kind: constants.EventRunnable, To: constants.TaskStatusRunnable})
	require.NoError(t, err)
	_, err = e.store.ApplyTransition(ctx, id, domain.Event{TaskID: "a", Kind: constants.EventStarted, To: constants.TaskStatusRunning})
	require.NoError(t, err)

	assert.Equal(t, constants.PlanStatusComplete, runToEnd(t, e.sched, id))
	assert.Equal(t, 2, e.task(t, id, "a").Attempts)

	var interrupted bool
	for _, ev := range e.events(t, id) {
		if ev.Kind == constants.EventFailed {
			interrupted = true
			assert.Contains(t, ev.Message, "interrupted")
		}
	}
	assert.True(t, interrupted)
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	healthy := false
	flaky := executor.FuncExecutor(func(context.Context, *domain.Task) (domain.Evidence, error) {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return nil, errors.New("database unreachable")
		}
		return domain.Evidence{}, nil
	})
	e := newEnv(t, flaky, scheduler.DefaultConfig())
	spec := planSpec(tsk("a"), tsk("b", "a"), tsk("c", "b"), tsk("d"))
	spec.MaxRetries = retries(0)
	id := submit(t, e.store, spec)

	require.Equal(t, constants.PlanStatusBlocked, runToEnd(t, e.sched, id))

	t.Run("dependency blocked names the root", func(t *testing.T) {
		err := e.sched.Retry(ctx, id, "c")
		require.ErrorIs(t, err, cerrors.ErrDependencyBlocked)
		var depErr *cerrors.DependencyBlockedError
		require.ErrorAs(t, err, &depErr)
		assert.Equal(t, "a", depErr.Upstream)
	})

	t.Run("unknown task", func(t *testing.T) {
		require.ErrorIs(t, e.sched.Retry(ctx, id, "zzz"), cerrors.ErrTaskNotFound)
	})

	t.Run("exhausted task gets a fresh budget", func(t *testing.T) {
		mu.Lock()
		healthy = true
		mu.Unlock()

		require.NoError(t, e.sched.Retry(ctx, id, "a"))
		a := e.task(t, id, "a")
		assert.Equal(t, constants.TaskStatusRunnable, a.Status)
		assert.Zero(t, a.Attempts)
		assert.Equal(t, constants.TaskStatusPending, e.task(t, id, "b").Status)
		assert.Equal(t, constants.TaskStatusPending, e.task(t, id, "c").Status)

		require.NoError(t, e.sched.Retry(ctx, id, "d"))
		assert.Equal(t, constants.PlanStatusComplete, runToEnd(t, e.sched, id))
	})

	t.Run("satisfied task is not retryable", func(t *testing.T) {
		require.ErrorIs(t, e.sched.Retry(ctx, id, "a"), cerrors.ErrTaskNotRetryable)
	})
}

func TestRevalidate(t *testing.T) {
	ctx := context.Background()

	lenient := gate.NewRegistry()
	require.NoError(t, lenient.Register(gate.RuleFunc{RuleName: "reviewed", Fn: func([]string, domain.Evidence) error { return nil }}))
	strict := gate.NewRegistry()
	require.NoError(t, strict.Register(gate.RuleFunc{RuleName: "reviewed", Fn: func(_ []string, ev domain.Evidence) error {
		if _, ok := ev["reviewer"]; !ok {
			return errors.New("no reviewer recorded")
		}
		return nil
	}}))

	store := plan.NewMemoryStore()
	reg := executor.NewRegistry()
	require.NoError(t, reg.Register(executor.RoleBackend, succeed(domain.Evidence{"coverage": 95})))

	spec := planSpec(domain.TaskSpec{ID: "a", Role: "backend", Gates: []string{"reviewed"}}, tsk("b", "a"))
	id := submit(t, store, spec)

	first := scheduler.New(store, reg, gate.NewEvaluator(lenient), nil, scheduler.DefaultConfig(), zerolog.Nop())
	require.Equal(t, constants.PlanStatusComplete, runToEnd(t, first, id))

	t.Run("unchanged verdict is idempotent", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			res, err := first.Revalidate(ctx, id, "a")
			require.NoError(t, err)
			assert.True(t, res.Passed)
		}
	})

	t.Run("regression marks the task failed", func(t *testing.T) {
		second := scheduler.New(store, reg, gate.NewEvaluator(strict), nil, scheduler.DefaultConfig(), zerolog.Nop())
		for i := 0; i < 2; i++ {
			res, err := second.Revalidate(ctx, id, "a")
			require.NoError(t, err)
			assert.False(t, res.Passed)
			assert.Equal(t, []string{"reviewed"}, res.FailedRules())
		}

		p, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, constants.TaskStatusFailed, p.Task("a").Status)
		assert.Equal(t, constants.TaskStatusSatisfied, p.Task("b").Status, "dependents are left alone")
		assert.NotEqual(t, constants.PlanStatusComplete, p.Status())
	})

	t.Run("every revalidation is logged", func(t *testing.T) {
		events, err := store.Events(ctx, id)
		require.NoError(t, err)
		var n int
		for _, ev := range events {
			if ev.Kind == constants.EventRevalidated {
				n++
			}
		}
		assert.Equal(t, 4, n)
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := first.Revalidate(ctx, id, "missing")
		require.ErrorIs(t, err, cerrors.ErrTaskNotFound)
	})
}

func TestRevalidate_RegressionRequeuesRunnableDependents(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantA      constants.TaskStatus
		wantC      constants.TaskStatus
		wantKind   string
	}{
		{"retries left", 2, constants.TaskStatusFailed, constants.TaskStatusPending, ""},
		{"retries exhausted", 0, constants.TaskStatusBlocked, constants.TaskStatusBlocked, cerrors.KindDependencyBlocked.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			lenient := gate.NewRegistry()
			require.NoError(t, lenient.Register(gate.RuleFunc{RuleName: "reviewed", Fn: func([]string, domain.Evidence) error { return nil }}))
			strict := gate.NewRegistry()
			require.NoError(t, strict.Register(gate.RuleFunc{RuleName: "reviewed", Fn: func([]string, domain.Evidence) error {
				return errors.New("review withdrawn")
			}}))

			c := newControlled()
			reg := executor.NewRegistry()
			require.NoError(t, reg.Register(executor.RoleBackend, c))
			store := plan.NewMemoryStore()
			rec := &recorder{}
			cfg := scheduler.Config{MaxParallel: 1}
			first := scheduler.New(store, reg, gate.NewEvaluator(lenient), rec, cfg, zerolog.Nop())
			t.Cleanup(func() { _ = first.Close() })

			id := submit(t, store, planSpec(
				domain.TaskSpec{ID: "a", Role: "backend", Gates: []string{"reviewed"}, MaxRetries: retries(tt.maxRetries)},
				tsk("b", "a"), tsk("c", "a"),
			))

			dispatched, err := first.Tick(ctx, id)
			require.NoError(t, err)
			require.Equal(t, []string{"a"}, dispatched)
			c.awaitStarted(t, 1)
			c.release("a", domain.Evidence{"coverage": 95}, nil)
			waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
			defer cancel()
			require.NoError(t, first.Wait(waitCtx, id))

			dispatched, err = first.Tick(ctx, id)
			require.NoError(t, err)
			require.Equal(t, []string{"b"}, dispatched)
			c.awaitStarted(t, 1)

			p, err := store.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, constants.TaskStatusRunnable, p.Task("c").Status)

			second := scheduler.New(store, reg, gate.NewEvaluator(strict), nil, cfg, zerolog.Nop())
			t.Cleanup(func() { _ = second.Close() })
			res, err := second.Revalidate(ctx, id, "a")
			require.NoError(t, err)
			require.False(t, res.Passed)

			c.release("b", nil, nil)
			require.NoError(t, first.Wait(waitCtx, id))

			dispatched, err = first.Tick(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, dispatched)

			p, err = store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantA, p.Task("a").Status)
			assert.Equal(t, tt.wantC, p.Task("c").Status)
			assert.Equal(t, tt.wantKind, p.Task("c").FailureKind)
			assert.NotContains(t, rec.kinds("c"), constants.EventStarted)
			assert.Contains(t, rec.kinds("c"), constants.EventRequeued)
		})
	}
}

func TestRevalidate_EmptyEvidenceAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	reg := executor.NewRegistry()
	require.NoError(t, reg.Register(executor.RoleBackend, succeed(nil)))

	first, err := plan.NewFileStore(dir)
	require.NoError(t, err)
	id := submit(t, first, planSpec(tsk("a")))
	sched := scheduler.New(first, reg, gate.NewEvaluator(nil), nil, scheduler.DefaultConfig(), zerolog.Nop())
	require.Equal(t, constants.PlanStatusComplete, runToEnd(t, sched, id))
	require.NoError(t, sched.Close())
	require.NoError(t, first.Close())

	second, err := plan.NewFileStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	reopened := scheduler.New(second, reg, gate.NewEvaluator(nil), nil, scheduler.DefaultConfig(), zerolog.Nop())
	t.Cleanup(func() { _ = reopened.Close() })

	res, err := reopened.Revalidate(ctx, id, "a")
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestAbandon_CompletePlanIsRefused(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, succeed(nil), scheduler.DefaultConfig())
	id := submit(t, e.store, planSpec(tsk("a"), tsk("b", "a")))
	require.Equal(t, constants.PlanStatusComplete, runToEnd(t, e.sched, id))

	require.ErrorIs(t, e.sched.Abandon(ctx, id, "too late"), cerrors.ErrPlanComplete)

	view, err := e.sched.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.PlanStatusComplete, view.Status)
	for _, ev := range e.events(t, id) {
		assert.NotEqual(t, constants.EventAbandoned, ev.Kind)
	}
}

func TestBuild_CyclicPlanPersistsNothing(t *testing.T) {
	store := plan.NewMemoryStore()
	_, err := graph.Build(planSpec(tsk("a", "c"), tsk("b", "a"), tsk("c", "b")))
	require.ErrorIs(t, err, cerrors.ErrGraphValidation)

	plans, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestGetStatus(t *testing.T) {
	e := newEnv(t, succeed(nil), scheduler.DefaultConfig())
	id := submit(t, e.store, planSpec(tsk("a"), tsk("b", "a")))

	view, err := e.sched.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, view.PlanID)
	assert.Equal(t, "test plan", view.Title)
	assert.Equal(t, constants.PlanStatusInProgress, view.Status)
	require.Len(t, view.Tasks, 2)
	assert.Equal(t, "a", view.Tasks[0].ID)
	assert.Equal(t, 2, view.Counts[constants.TaskStatusPending])

	_, err = e.sched.GetStatus(context.Background(), "plan-missing")
	require.ErrorIs(t, err, cerrors.ErrPlanNotFound)
}
