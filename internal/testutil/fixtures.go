package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// PassingPlan is a two-phase plan whose tasks all pass their gates when run
// with sh.
const PassingPlan = `title: Passing plan
phases:
  - name: build
    tasks:
      - id: compile
        role: backend
        gates: [exit_code_zero]
        params:
          command: "echo compiled"
  - name: verify
    tasks:
      - id: test
        role: qa
        depends_on: [compile]
        gates: ["coverage_at_least(90)"]
        params:
          command: "echo '{\"coverage\": 95}'"
`

// FailingPlan has a task whose coverage never meets its gate, and a
// dependent task that can never run.
const FailingPlan = `title: Failing plan
max_retries: 0
phases:
  - name: build
    tasks:
      - id: compile
        role: backend
        gates: ["coverage_at_least(90)"]
        params:
          command: "echo '{\"coverage\": 40}'"
      - id: package
        role: devops
        depends_on: [compile]
        params:
          command: "echo '{}'"
`

// CyclicPlan declares two tasks that depend on each other.
const CyclicPlan = `title: Cyclic plan
phases:
  - name: only
    tasks:
      - id: a
        role: shell
        depends_on: [b]
      - id: b
        role: shell
        depends_on: [a]
`

// WriteFile writes content to name under dir and returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WritePlanSpec writes a plan spec file named plan.yaml into a fresh
// temporary directory and returns its path.
func WritePlanSpec(t *testing.T, content string) string {
	t.Helper()
	return WriteFile(t, t.TempDir(), "plan.yaml", content)
}

// WriteStoreConfig writes a config file that points the given store backend
// at a fresh temporary directory, and returns the config file's path.
func WriteStoreConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	storeDir := filepath.Join(dir, "plans")
	content := fmt.Sprintf(`store:
  backend: %s
  dir: %q
  sqlite_path: %q
engine:
  max_retries: 0
  max_parallel: 2
  default_timeout: 30s
executor:
  shell: sh
`, backend, storeDir, filepath.Join(dir, "plans.db"))
	return WriteFile(t, dir, "config.yaml", content)
}
