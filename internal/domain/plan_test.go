package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/conductor/internal/constants"
)

func newTestPlan(statuses map[string]constants.TaskStatus, deps map[string][]string) *Plan {
	p := &Plan{ID: "plan-test", Title: "test", Tasks: make(map[string]*Task)}
	for _, id := range []string{"a", "b", "c"} {
		st, ok := statuses[id]
		if !ok {
			continue
		}
		p.Tasks[id] = &Task{ID: id, Status: st, DependsOn: deps[id], MaxRetries: 1}
		p.Order = append(p.Order, id)
	}
	return p
}

func TestPlan_Status(t *testing.T) {
	deps := map[string][]string{"b": {"a"}, "c": {"a"}}

	tests := []struct {
		name     string
		statuses map[string]constants.TaskStatus
		mutate   func(p *Plan)
		want     constants.PlanStatus
	}{
		{
			name: "all satisfied is complete",
			statuses: map[string]constants.TaskStatus{
				"a": constants.TaskStatusSatisfied, "b": constants.TaskStatusSatisfied, "c": constants.TaskStatusSatisfied,
			},
			want: constants.PlanStatusComplete,
		},
		{
			name: "fresh plan is in progress",
			statuses: map[string]constants.TaskStatus{
				"a": constants.TaskStatusPending, "b": constants.TaskStatusPending, "c": constants.TaskStatusPending,
			},
			want: constants.PlanStatusInProgress,
		},
		{
			name: "blocked root with blocked dependents is blocked",
			statuses: map[string]constants.TaskStatus{
				"a": constants.TaskStatusBlocked, "b": constants.TaskStatusBlocked, "c": constants.TaskStatusBlocked,
			},
			want: constants.PlanStatusBlocked,
		},
		{
			name: "pending dependents of a blocked task cannot progress",
			statuses: map[string]constants.TaskStatus{
				"a": constants.TaskStatusBlocked, "b": constants.TaskStatusPending, "c": constants.TaskStatusPending,
			},
			want: constants.PlanStatusBlocked,
		},
		{
			name: "blocked task with unrelated running task is in progress",
			statuses: map[string]constants.TaskStatus{
				"a": constants.TaskStatusSatisfied, "b": constants.TaskStatusBlocked, "c": constants.TaskStatusRunning,
			},
			want: constants.PlanStatusInProgress,
		},
		{
			name: "failed task with retries left keeps plan in progress",
			statuses: map[string]constants.TaskStatus{
				"a": constants.TaskStatusSatisfied, "b": constants.TaskStatusBlocked, "c": constants.TaskStatusFailed,
			},
			want: constants.PlanStatusInProgress,
		},
		{
			name: "abandoned wins",
			statuses: map[string]constants.TaskStatus{
				"a": constants.TaskStatusSatisfied, "b": constants.TaskStatusSatisfied, "c": constants.TaskStatusSatisfied,
			},
			mutate: func(p *Plan) { p.Abandoned = true },
			want:   constants.PlanStatusAbandoned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlan(tt.statuses, deps)
			if tt.mutate != nil {
				tt.mutate(p)
			}
			assert.Equal(t, tt.want, p.Status())
		})
	}
}

func TestPlan_CloneIsIndependent(t *testing.T) {
	p := newTestPlan(map[string]constants.TaskStatus{
		"a": constants.TaskStatusAwaitingGate,
		"b": constants.TaskStatusPending,
	}, map[string][]string{"b": {"a"}})
	p.Phases = []Phase{{Name: "build", TaskIDs: []string{"a", "b"}}}
	p.Tasks["a"].Evidence = Evidence{
		"coverage":  85,
		"checklist": map[string]any{"docs": true},
		"files":     []any{"main.go"},
	}

	c := p.Clone()
	c.Tasks["a"].Status = constants.TaskStatusSatisfied
	c.Tasks["a"].Evidence["coverage"] = 99
	c.Tasks["a"].Evidence["checklist"].(map[string]any)["docs"] = false
	c.Tasks["b"].DependsOn[0] = "z"
	c.Phases[0].TaskIDs[0] = "z"
	c.Order[0] = "z"

	assert.Equal(t, constants.TaskStatusAwaitingGate, p.Tasks["a"].Status)
	assert.Equal(t, 85, p.Tasks["a"].Evidence["coverage"])
	assert.Equal(t, true, p.Tasks["a"].Evidence["checklist"].(map[string]any)["docs"])
	assert.Equal(t, "a", p.Tasks["b"].DependsOn[0])
	assert.Equal(t, "a", p.Phases[0].TaskIDs[0])
	assert.Equal(t, "a", p.Order[0])
}

func TestPlan_DependencyHelpers(t *testing.T) {
	p := newTestPlan(map[string]constants.TaskStatus{
		"a": constants.TaskStatusSatisfied,
		"b": constants.TaskStatusBlocked,
		"c": constants.TaskStatusPending,
	}, map[string][]string{"c": {"a", "b"}})

	assert.False(t, p.DependenciesSatisfied(p.Task("c")))
	assert.Equal(t, "b", p.BlockedDependency(p.Task("c")))
	assert.True(t, p.DependenciesSatisfied(p.Task("a")))
	assert.Empty(t, p.BlockedDependency(p.Task("a")))

	ordered := p.OrderedTasks()
	require.Len(t, ordered, 3)
	assert.Equal(t, "a", ordered[0].ID)

	counts := p.StatusCounts()
	assert.Equal(t, 1, counts[constants.TaskStatusSatisfied])
	assert.Equal(t, 1, counts[constants.TaskStatusBlocked])
	assert.Equal(t, 1, counts[constants.TaskStatusPending])
}

func TestEvent_JSONUsesSnakeCase(t *testing.T) {
	ev := Event{
		Seq:         3,
		Timestamp:   time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC),
		PlanID:      "plan-1",
		TaskID:      "api",
		Kind:        constants.EventGateRejected,
		From:        constants.TaskStatusAwaitingGate,
		To:          constants.TaskStatusFailed,
		ErrorKind:   "gate_rejected",
		FailedRules: []string{"coverage_at_least(90)"},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"seq": 3,
		"ts": "2026-10-16T10:00:00Z",
		"plan_id": "plan-1",
		"task_id": "api",
		"kind": "gate_rejected",
		"from": "awaiting_gate",
		"to": "failed",
		"error_kind": "gate_rejected",
		"failed_rules": ["coverage_at_least(90)"]
	}`, string(data))
	assert.True(t, ev.IsTransition())
	assert.False(t, Event{PlanID: "plan-1", Kind: constants.EventAbandoned}.IsTransition())
}

func TestPlanSpec_TaskCount(t *testing.T) {
	s := PlanSpec{Phases: []PhaseSpec{
		{Name: "one", Tasks: []TaskSpec{{ID: "a"}, {ID: "b"}}},
		{Name: "two", Tasks: []TaskSpec{{ID: "c"}}},
	}}
	assert.Equal(t, 3, s.TaskCount())
}
