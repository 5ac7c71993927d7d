package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/report"
	"github.com/mrz1836/conductor/internal/testutil"
)

func TestRunCommand_CompletesPlan(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := testutil.WriteStoreConfig(t, backend)
			spec := testutil.WritePlanSpec(t, testutil.PassingPlan)

			out, err := executeCLI(t, withConfig(cfg, "run", spec, "-o", "json")...)
			require.NoError(t, err)

			rep := decodeJSON[report.Report](t, out)
			assert.Equal(t, constants.PlanStatusComplete, rep.Status)
			assert.Equal(t, 2, rep.Counts[constants.TaskStatusSatisfied])
			for _, ph := range rep.Phases {
				assert.True(t, ph.Passed, ph.Name)
			}

			// The stored plan outlives the process that ran it.
			out, err = executeCLI(t, withConfig(cfg, "status", rep.PlanID, "-o", "json")...)
			require.NoError(t, err)
			assert.Equal(t, "complete", decodeJSON[statusJSON](t, out).Status)
		})
	}
}

func TestRunCommand_SubmittedPlanByID(t *testing.T) {
	cfg := testutil.WriteStoreConfig(t, "file")
	id := submitPlan(t, cfg, testutil.PassingPlan)

	out, err := executeCLI(t, withConfig(cfg, "run", id)...)
	require.NoError(t, err)
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "phase verify")
}

func TestRunCommand_UnknownPlan(t *testing.T) {
	cfg := testutil.WriteStoreConfig(t, "file")

	_, err := executeCLI(t, withConfig(cfg, "run", "plan-missing")...)
	require.ErrorIs(t, err, errors.ErrPlanNotFound)
	assert.Equal(t, ExitError, ExitCodeForError(err))
}

func TestRunCommand_GateFailureBlocksPlan(t *testing.T) {
	cfg := testutil.WriteStoreConfig(t, "file")
	spec := testutil.WritePlanSpec(t, testutil.FailingPlan)

	out, err := executeCLI(t, withConfig(cfg, "run", spec, "-o", "json")...)
	require.Error(t, err)
	assert.Equal(t, ExitBlocked, ExitCodeForError(err))

	rep := decodeJSON[report.Report](t, out)
	assert.Equal(t, constants.PlanStatusBlocked, rep.Status)
	assert.Equal(t, "compile", rep.Exhausted)

	t.Run("status names the failed rule", func(t *testing.T) {
		out, err := executeCLI(t, withConfig(cfg, "status", rep.PlanID, "-o", "json")...)
		assert.Equal(t, ExitBlocked, ExitCodeForError(err))

		view := decodeJSON[statusJSON](t, out)
		byID := make(map[string]int)
		for i, task := range view.Tasks {
			byID[task.ID] = i
		}
		compile := view.Tasks[byID["compile"]]
		assert.Equal(t, []string{"coverage_at_least(90)"}, compile.FailedRules)
		assert.Equal(t, "blocked", view.Tasks[byID["package"]].Status)
	})

	t.Run("status as text", func(t *testing.T) {
		out, err := executeCLI(t, withConfig(cfg, "status", rep.PlanID)...)
		assert.Equal(t, ExitBlocked, ExitCodeForError(err))
		assert.Contains(t, out, "coverage_at_least(90)")
		assert.Contains(t, out, "LAST FAILURE")
	})

	t.Run("summary as markdown", func(t *testing.T) {
		out, err := executeCLI(t, withConfig(cfg, "summary", rep.PlanID, "-o", "markdown")...)
		assert.Equal(t, ExitBlocked, ExitCodeForError(err))
		assert.Contains(t, out, "# Failing plan")
		assert.Contains(t, out, "- [ ] `compile`")
	})

	t.Run("events in sequence order", func(t *testing.T) {
		out, err := executeCLI(t, withConfig(cfg, "events", rep.PlanID, "-o", "json")...)
		require.NoError(t, err)

		entries := decodeJSON[[]report.Entry](t, out)
		require.NotEmpty(t, entries)
		assert.Equal(t, "plan_created", entries[0].Kind)
		for i := 1; i < len(entries); i++ {
			assert.Greater(t, entries[i].Seq, entries[i-1].Seq)
		}
	})

	t.Run("events filtered by task", func(t *testing.T) {
		out, err := executeCLI(t, withConfig(cfg, "events", rep.PlanID, "--task", "compile", "-o", "json")...)
		require.NoError(t, err)

		entries := decodeJSON[[]report.Entry](t, out)
		require.NotEmpty(t, entries)
		for _, e := range entries {
			assert.Equal(t, "compile", e.TaskID)
		}
	})

	t.Run("retry resets the exhausted task", func(t *testing.T) {
		out, err := executeCLI(t, withConfig(cfg, "retry", rep.PlanID, "compile", "-o", "json")...)
		require.NoError(t, err)

		res := decodeJSON[retryResult](t, out)
		assert.Equal(t, "runnable", res.TaskStatus)
		assert.Equal(t, "in_progress", res.PlanStatus)
	})

	t.Run("retry of a pending task is refused", func(t *testing.T) {
		_, err := executeCLI(t, withConfig(cfg, "retry", rep.PlanID, "package")...)
		require.ErrorIs(t, err, errors.ErrTaskNotRetryable)
	})

	t.Run("rerun blocks again", func(t *testing.T) {
		_, err := executeCLI(t, withConfig(cfg, "run", rep.PlanID)...)
		assert.Equal(t, ExitBlocked, ExitCodeForError(err))
	})
}

func TestRevalidateCommand(t *testing.T) {
	cfg := testutil.WriteStoreConfig(t, "file")
	spec := testutil.WritePlanSpec(t, testutil.PassingPlan)

	out, err := executeCLI(t, withConfig(cfg, "run", spec, "-o", "json")...)
	require.NoError(t, err)
	id := decodeJSON[report.Report](t, out).PlanID

	t.Run("satisfied task still passes", func(t *testing.T) {
		out, err := executeCLI(t, withConfig(cfg, "revalidate", id, "test", "-o", "json")...)
		require.NoError(t, err)

		res := decodeJSON[revalidateResult](t, out)
		assert.True(t, res.Passed)
		assert.Empty(t, res.Failed)
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := executeCLI(t, withConfig(cfg, "revalidate", id, "nope")...)
		require.ErrorIs(t, err, errors.ErrTaskNotFound)
	})
}

func TestRetryCommand_DependentNamesUpstream(t *testing.T) {
	cfg := testutil.WriteStoreConfig(t, "file")
	spec := testutil.WritePlanSpec(t, testutil.FailingPlan)

	out, err := executeCLI(t, withConfig(cfg, "run", spec, "-o", "json")...)
	require.Error(t, err)
	id := decodeJSON[report.Report](t, out).PlanID

	_, err = executeCLI(t, withConfig(cfg, "retry", id, "package")...)
	require.ErrorIs(t, err, errors.ErrDependencyBlocked)
	assert.Contains(t, err.Error(), "compile")
}

func TestRetryCommand_WithRun(t *testing.T) {
	cfg := testutil.WriteStoreConfig(t, "file")
	spec := testutil.WritePlanSpec(t, testutil.FailingPlan)

	out, err := executeCLI(t, withConfig(cfg, "run", spec, "-o", "json")...)
	require.Error(t, err)
	id := decodeJSON[report.Report](t, out).PlanID

	out, err = executeCLI(t, withConfig(cfg, "retry", id, "compile", "--run", "-o", "json")...)
	assert.Equal(t, ExitBlocked, ExitCodeForError(err))

	rep := decodeJSON[report.Report](t, out)
	assert.Equal(t, constants.PlanStatusBlocked, rep.Status)
}
