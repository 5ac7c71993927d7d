package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/conductor/internal/clock"
	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

var testEpoch = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

// newTestPlan builds a plan with tasks a, b(a), c(a), all pending.
func newTestPlan(id string) *domain.Plan {
	p := &domain.Plan{
		ID:        id,
		Title:     "Test " + id,
		CreatedAt: testEpoch,
		UpdatedAt: testEpoch,
		Phases:    []domain.Phase{{Name: "main", TaskIDs: []string{"a", "b", "c"}, Gate: domain.PhaseGateAllTasks}},
		Order:     []string{"a", "b", "c"},
		Tasks: map[string]*domain.Task{
			"a": {ID: "a", Phase: "main", Role: "backend", MaxRetries: 1, Gates: []string{"coverage_at_least(90)"}},
			"b": {ID: "b", Phase: "main", Role: "qa", DependsOn: []string{"a"}, MaxRetries: 1},
			"c": {ID: "c", Phase: "main", Role: "docs", DependsOn: []string{"a"}, MaxRetries: 1},
		},
	}
	return p
}

func transition(task string, kind constants.EventKind, to constants.TaskStatus) domain.Event {
	return domain.Event{TaskID: task, Kind: kind, To: to}
}

type storeFactory func(t *testing.T, clk clock.Clock) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(_ *testing.T, clk clock.Clock) Store {
			return NewMemoryStore(WithMemoryClock(clk))
		},
		"file": func(t *testing.T, clk clock.Clock) Store {
			s, err := NewFileStore(t.TempDir(), WithFileClock(clk))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, clk clock.Clock) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), constants.SQLiteFileName), WithSQLiteClock(clk))
			require.NoError(t, err)
			return s
		},
	}
}

// runToSatisfied drives task through started, completed, gate_passed.
func runToSatisfied(t *testing.T, s Store, planID, task string, ev domain.Evidence) {
	t.Helper()
	ctx := context.Background()
	_, err := s.ApplyTransition(ctx, planID, transition(task, constants.EventRunnable, constants.TaskStatusRunnable))
	require.NoError(t, err)
	_, err = s.ApplyTransition(ctx, planID, transition(task, constants.EventStarted, constants.TaskStatusRunning))
	require.NoError(t, err)
	completed := transition(task, constants.EventCompleted, constants.TaskStatusAwaitingGate)
	completed.Evidence = ev
	_, err = s.ApplyTransition(ctx, planID, completed)
	require.NoError(t, err)
	_, err = s.ApplyTransition(ctx, planID, transition(task, constants.EventGatePassed, constants.TaskStatusSatisfied))
	require.NoError(t, err)
}

func TestStore_Contract(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("create and get", func(t *testing.T) {
				clk := clock.NewFixed(testEpoch)
				s := factory(t, clk)
				defer func() { _ = s.Close() }()

				id, err := s.Create(ctx, newTestPlan("plan-create"))
				require.NoError(t, err)
				assert.Equal(t, "plan-create", id)

				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, "Test plan-create", got.Title)
				assert.Equal(t, int64(1), got.LastSeq)
				assert.Equal(t, constants.PlanSchemaVersion, got.SchemaVersion)
				assert.Equal(t, constants.TaskStatusPending, got.Task("a").Status)
				assert.Equal(t, []string{"coverage_at_least(90)"}, got.Task("a").Gates)

				events, err := s.Events(ctx, id)
				require.NoError(t, err)
				require.Len(t, events, 1)
				assert.Equal(t, constants.EventPlanCreated, events[0].Kind)
				assert.Equal(t, id, events[0].PlanID)
			})

			t.Run("duplicate create", func(t *testing.T) {
				s := factory(t, clock.NewFixed(testEpoch))
				defer func() { _ = s.Close() }()

				_, err := s.Create(ctx, newTestPlan("plan-dup"))
				require.NoError(t, err)
				_, err = s.Create(ctx, newTestPlan("plan-dup"))
				require.ErrorIs(t, err, cerrors.ErrPlanExists)
			})

			t.Run("missing plan", func(t *testing.T) {
				s := factory(t, clock.NewFixed(testEpoch))
				defer func() { _ = s.Close() }()

				_, err := s.Get(ctx, "plan-nope")
				require.ErrorIs(t, err, cerrors.ErrPlanNotFound)
				_, err = s.ApplyTransition(ctx, "plan-nope", transition("a", constants.EventRunnable, constants.TaskStatusRunnable))
				require.ErrorIs(t, err, cerrors.ErrPlanNotFound)
				_, err = s.Events(ctx, "plan-nope")
				require.ErrorIs(t, err, cerrors.ErrPlanNotFound)
			})

			t.Run("snapshots are independent", func(t *testing.T) {
				s := factory(t, clock.NewFixed(testEpoch))
				defer func() { _ = s.Close() }()

				id, err := s.Create(ctx, newTestPlan("plan-iso"))
				require.NoError(t, err)
				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				got.Tasks["a"].Status = constants.TaskStatusSatisfied

				again, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, constants.TaskStatusPending, again.Task("a").Status)
			})

			t.Run("transitions update the projection", func(t *testing.T) {
				clk := clock.NewFixed(testEpoch)
				s := factory(t, clk)
				defer func() { _ = s.Close() }()

				id, err := s.Create(ctx, newTestPlan("plan-flow"))
				require.NoError(t, err)

				clk.Advance(time.Minute)
				runToSatisfied(t, s, id, "a", domain.Evidence{"coverage": 95.0})

				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				a := got.Task("a")
				assert.Equal(t, constants.TaskStatusSatisfied, a.Status)
				assert.Equal(t, 1, a.Attempts)
				assert.InDelta(t, 95.0, a.Evidence["coverage"], 0.001)
				assert.Equal(t, testEpoch.Add(time.Minute), a.UpdatedAt)
				assert.Equal(t, int64(5), got.LastSeq)

				events, err := s.Events(ctx, id)
				require.NoError(t, err)
				require.Len(t, events, 5)
				for i, ev := range events {
					assert.Equal(t, int64(i+1), ev.Seq)
				}
				assert.Equal(t, constants.TaskStatusRunnable, events[2].From)
				assert.Equal(t, constants.TaskStatusRunning, events[2].To)
			})

			t.Run("invalid transition leaves log and projection untouched", func(t *testing.T) {
				s := factory(t, clock.NewFixed(testEpoch))
				defer func() { _ = s.Close() }()

				id, err := s.Create(ctx, newTestPlan("plan-invalid"))
				require.NoError(t, err)

				_, err = s.ApplyTransition(ctx, id, transition("a", constants.EventStarted, constants.TaskStatusRunning))
				require.ErrorIs(t, err, cerrors.ErrInvalidTransition)

				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, constants.TaskStatusPending, got.Task("a").Status)
				events, err := s.Events(ctx, id)
				require.NoError(t, err)
				assert.Len(t, events, 1)
			})

			t.Run("compare and swap admits exactly one winner", func(t *testing.T) {
				s := factory(t, clock.NewFixed(testEpoch))
				defer func() { _ = s.Close() }()

				id, err := s.Create(ctx, newTestPlan("plan-cas"))
				require.NoError(t, err)
				_, err = s.ApplyTransition(ctx, id, transition("a", constants.EventRunnable, constants.TaskStatusRunnable))
				require.NoError(t, err)

				var (
					wg   sync.WaitGroup
					mu   sync.Mutex
					wins int
				)
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ev := transition("a", constants.EventStarted, constants.TaskStatusRunning)
						ev.From = constants.TaskStatusRunnable
						if _, err := s.ApplyTransition(ctx, id, ev); err == nil {
							mu.Lock()
							wins++
							mu.Unlock()
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, 1, wins)

				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, 1, got.Task("a").Attempts)
			})

			t.Run("append event keeps task status", func(t *testing.T) {
				s := factory(t, clock.NewFixed(testEpoch))
				defer func() { _ = s.Close() }()

				id, err := s.Create(ctx, newTestPlan("plan-note"))
				require.NoError(t, err)

				rec, err := s.AppendEvent(ctx, id, domain.Event{TaskID: "b", Kind: constants.EventNote, Message: "waiting on review"})
				require.NoError(t, err)
				assert.Equal(t, int64(2), rec.Seq)
				assert.Equal(t, testEpoch, rec.Timestamp)

				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, "waiting on review", got.Task("b").Note)
				assert.Equal(t, constants.TaskStatusPending, got.Task("b").Status)

				_, err = s.AppendEvent(ctx, id, transition("a", constants.EventRunnable, constants.TaskStatusRunnable))
				require.ErrorIs(t, err, cerrors.ErrInvalidTransition)
				_, err = s.ApplyTransition(ctx, id, domain.Event{TaskID: "a", Kind: constants.EventNote})
				require.ErrorIs(t, err, cerrors.ErrInvalidTransition)
			})

			t.Run("abandon then retire", func(t *testing.T) {
				s := factory(t, clock.NewFixed(testEpoch))
				defer func() { _ = s.Close() }()

				id, err := s.Create(ctx, newTestPlan("plan-retire"))
				require.NoError(t, err)

				require.ErrorIs(t, s.Retire(ctx, id), cerrors.ErrPlanNotRetirable)

				_, err = s.AppendEvent(ctx, id, domain.Event{Kind: constants.EventAbandoned, Message: "scope changed"})
				require.NoError(t, err)
				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, constants.PlanStatusAbandoned, got.Status())
				assert.Equal(t, "scope changed", got.AbandonReason)

				require.NoError(t, s.Retire(ctx, id))
				got, err = s.Get(ctx, id)
				require.NoError(t, err)
				assert.True(t, got.Retired)

				_, err = s.AppendEvent(ctx, id, domain.Event{Kind: constants.EventNote, Message: "late"})
				require.ErrorIs(t, err, cerrors.ErrPlanRetired)
			})

			t.Run("list newest first", func(t *testing.T) {
				s := factory(t, clock.NewFixed(testEpoch))
				defer func() { _ = s.Close() }()

				for i := 0; i < 3; i++ {
					p := newTestPlan(fmt.Sprintf("plan-list-%d", i))
					p.CreatedAt = testEpoch.Add(time.Duration(i) * time.Hour)
					_, err := s.Create(ctx, p)
					require.NoError(t, err)
				}

				plans, err := s.List(ctx)
				require.NoError(t, err)
				require.Len(t, plans, 3)
				assert.Equal(t, "plan-list-2", plans[0].ID)
				assert.Equal(t, "plan-list-0", plans[2].ID)
			})

			t.Run("projection of the log equals the cached status", func(t *testing.T) {
				s := factory(t, clock.NewFixed(testEpoch))
				defer func() { _ = s.Close() }()

				id, err := s.Create(ctx, newTestPlan("plan-project"))
				require.NoError(t, err)
				runToSatisfied(t, s, id, "a", domain.Evidence{"coverage": 91.0})

				for _, task := range []string{"b", "c"} {
					_, err = s.ApplyTransition(ctx, id, transition(task, constants.EventRunnable, constants.TaskStatusRunnable))
					require.NoError(t, err)
				}
				_, err = s.ApplyTransition(ctx, id, transition("b", constants.EventStarted, constants.TaskStatusRunning))
				require.NoError(t, err)
				failed := transition("b", constants.EventFailed, constants.TaskStatusFailed)
				failed.Message = "exit status 1"
				failed.ErrorKind = string(cerrors.KindExecutor)
				_, err = s.ApplyTransition(ctx, id, failed)
				require.NoError(t, err)
				_, err = s.AppendEvent(ctx, id, domain.Event{TaskID: "c", Kind: constants.EventNote, Message: "n"})
				require.NoError(t, err)

				cached, err := s.Get(ctx, id)
				require.NoError(t, err)
				events, err := s.Events(ctx, id)
				require.NoError(t, err)

				projected, err := Project(cached, events)
				require.NoError(t, err)
				assert.Equal(t, cached, projected)
				assert.Equal(t, "exit status 1", projected.Task("b").LastError)
			})
		})
	}
}

func TestStore_PlansProgressInParallel(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, clock.NewFixed(testEpoch))
			defer func() { _ = s.Close() }()

			ids := []string{"plan-p1", "plan-p2", "plan-p3", "plan-p4"}
			for _, id := range ids {
				_, err := s.Create(ctx, newTestPlan(id))
				require.NoError(t, err)
			}

			var wg sync.WaitGroup
			errs := make(chan error, len(ids))
			for _, id := range ids {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					for _, ev := range []domain.Event{
						transition("a", constants.EventRunnable, constants.TaskStatusRunnable),
						transition("a", constants.EventStarted, constants.TaskStatusRunning),
						transition("a", constants.EventCompleted, constants.TaskStatusAwaitingGate),
					} {
						if _, err := s.ApplyTransition(ctx, id, ev); err != nil {
							errs <- err
							return
						}
					}
				}(id)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			for _, id := range ids {
				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, constants.TaskStatusAwaitingGate, got.Task("a").Status)
			}
		})
	}
}

func TestStore_EmptyEvidenceSurvivesReopen(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T, dir string) Store
	}{
		{
			name: "file",
			open: func(t *testing.T, dir string) Store {
				s, err := NewFileStore(dir, WithFileClock(clock.NewFixed(testEpoch)))
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T, dir string) Store {
				s, err := NewSQLiteStore(filepath.Join(dir, constants.SQLiteFileName), WithSQLiteClock(clock.NewFixed(testEpoch)))
				require.NoError(t, err)
				return s
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			first := tt.open(t, dir)
			id, err := first.Create(ctx, newTestPlan("plan-empty-evidence"))
			require.NoError(t, err)
			runToSatisfied(t, first, id, "a", domain.Evidence{})
			before, err := first.Get(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, before.Task("a").Evidence)
			require.NoError(t, first.Close())

			second := tt.open(t, dir)
			defer func() { _ = second.Close() }()

			got, err := second.Get(ctx, id)
			require.NoError(t, err)
			assert.NotNil(t, got.Task("a").Evidence, "a completed task keeps its evidence")
			assert.Empty(t, got.Task("a").Evidence)

			events, err := second.Events(ctx, id)
			require.NoError(t, err)
			replayed, err := Project(newTestPlan(id), events)
			require.NoError(t, err)
			assert.NotNil(t, replayed.Task("a").Evidence, "replaying the log restores empty evidence")
		})
	}
}
