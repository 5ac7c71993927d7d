package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrz1836/conductor/internal/domain"
	"github.com/mrz1836/conductor/internal/testutil"
)

// testBuildInfo is the build info used by command tests.
var testBuildInfo = BuildInfo{Version: "1.2.3", Commit: "abc1234", Date: "2026-01-02"} //nolint:gochecknoglobals // test fixture

// executeCLI runs the root command with args and returns what it wrote to
// stdout. HOME points at a temp dir so the log file stays out of the way.
func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")

	flags := &GlobalFlags{}
	cmd := newRootCmd(flags, testBuildInfo)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	CloseLogFile()
	return out.String(), err
}

// withConfig prefixes args with --config path.
func withConfig(path string, args ...string) []string {
	return append([]string{"--config", path}, args...)
}

// submitPlan stores spec through the submit command and returns the plan id.
func submitPlan(t *testing.T, cfgPath, spec string) string {
	t.Helper()
	out, err := executeCLI(t, withConfig(cfgPath, "submit", testutil.WritePlanSpec(t, spec), "-o", "json")...)
	require.NoError(t, err)

	var res submitResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	require.NotEmpty(t, res.PlanID)
	return res.PlanID
}

// decodeJSON unmarshals out into a value of type T.
func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

// mockFormRunner is a formRunner that sets the confirmation without a terminal.
type mockFormRunner struct {
	confirm *bool
	value   bool
	err     error
	ran     bool
}

func (m *mockFormRunner) Run() error {
	m.ran = true
	if m.err != nil {
		return m.err
	}
	*m.confirm = m.value
	return nil
}

// mockAbandonForm replaces the abandon confirmation form for the test.
func mockAbandonForm(t *testing.T, value bool, err error) *mockFormRunner {
	t.Helper()
	runner := &mockFormRunner{value: value, err: err}
	original := createAbandonConfirmForm
	createAbandonConfirmForm = func(_ *domain.Plan, confirm *bool) formRunner {
		runner.confirm = confirm
		return runner
	}
	t.Cleanup(func() { createAbandonConfirmForm = original })
	return runner
}

// mockTerminalCheck replaces terminalCheck for the test.
func mockTerminalCheck(t *testing.T, interactive bool) {
	t.Helper()
	original := terminalCheck
	terminalCheck = func() bool { return interactive }
	t.Cleanup(func() { terminalCheck = original })
}
