package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	"github.com/mrz1836/conductor/internal/executor"
	"github.com/mrz1836/conductor/internal/gate"
	"github.com/mrz1836/conductor/internal/plan"
	"github.com/mrz1836/conductor/internal/scheduler"
)

// randomSpec returns an acyclic plan of n tasks spread over a few phases.
// Every task may depend on any earlier task, including ones in earlier phases.
func randomSpec(r *rand.Rand, n int) domain.PlanSpec {
	spec := domain.PlanSpec{Title: "random", MaxRetries: retries(1)}
	phases := 1 + r.IntN(3)
	for i := 0; i < phases; i++ {
		spec.Phases = append(spec.Phases, domain.PhaseSpec{Name: fmt.Sprintf("phase-%d", i)})
	}
	for i := 0; i < n; i++ {
		ts := domain.TaskSpec{ID: fmt.Sprintf("t%02d", i), Role: "backend"}
		for j := 0; j < i; j++ {
			if r.IntN(4) == 0 {
				ts.DependsOn = append(ts.DependsOn, fmt.Sprintf("t%02d", j))
			}
		}
		// Tasks only go to the same or a later phase than the previous one.
		ph := min(phases-1, i*phases/n)
		spec.Phases[ph].Tasks = append(spec.Phases[ph].Tasks, ts)
	}
	return spec
}

func TestProperty_RunningOnlyWhenDependenciesSatisfied(t *testing.T) {
	for seed := uint64(1); seed <= 8; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			r := rand.New(rand.NewPCG(seed, seed*31))
			spec := randomSpec(r, 6+r.IntN(10))

			store := plan.NewMemoryStore()
			id := submit(t, store, spec)

			var (
				mu         sync.Mutex
				violations []string
			)
			exec := executor.FuncExecutor(func(ctx context.Context, task *domain.Task) (domain.Evidence, error) {
				p, err := store.Get(ctx, id)
				if err != nil {
					return nil, err
				}
				for _, dep := range task.DependsOn {
					if st := p.Task(dep).Status; st != constants.TaskStatusSatisfied {
						mu.Lock()
						violations = append(violations, fmt.Sprintf("%s ran while %s was %s", task.ID, dep, st))
						mu.Unlock()
					}
				}
				time.Sleep(time.Duration(len(task.ID)%3) * time.Millisecond)
				// Every third task fails its first attempt.
				if task.Attempts == 1 && task.ID[len(task.ID)-1]%3 == 0 {
					return nil, errors.New("transient")
				}
				return domain.Evidence{"coverage": 100}, nil
			})

			reg := executor.NewRegistry()
			require.NoError(t, reg.Register(executor.RoleBackend, exec))
			sched := scheduler.New(store, reg, gate.NewEvaluator(nil), nil, scheduler.DefaultConfig(), zerolog.Nop())

			assert.Equal(t, constants.PlanStatusComplete, runToEnd(t, sched, id))
			assert.Empty(t, violations)

			// The log agrees: every start follows the satisfaction of each dependency.
			events, err := store.Events(context.Background(), id)
			require.NoError(t, err)
			satisfiedAt := make(map[string]int64)
			p, err := store.Get(context.Background(), id)
			require.NoError(t, err)
			for _, ev := range events {
				switch {
				case ev.To == constants.TaskStatusSatisfied:
					satisfiedAt[ev.TaskID] = ev.Seq
				case ev.Kind == constants.EventStarted:
					for _, dep := range p.Task(ev.TaskID).DependsOn {
						at, ok := satisfiedAt[dep]
						assert.True(t, ok && at < ev.Seq, "%s started at %d before %s was satisfied", ev.TaskID, ev.Seq, dep)
					}
				}
			}

			projected, err := plan.Project(p, events)
			require.NoError(t, err)
			assert.Equal(t, p, projected)
		})
	}
}
