// Package executor provides the Executor interface tasks are dispatched to
// and the registry that maps roles to executors.
//
// Import rules:
//   - CAN import: internal/constants, internal/domain, internal/errors, internal/logging
//   - MUST NOT import: internal/plan, internal/scheduler, internal/cli
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// Executor performs the work of a single task.
//
// Execute must honor ctx cancellation: the scheduler cancels ctx when the
// task times out or the plan is abandoned. A nil error means the task ran
// to completion and the returned evidence is handed to the quality gates.
// Executors serving the same role may be invoked concurrently and own any
// mutual exclusion their side effects need.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (domain.Evidence, error)
}

// FuncExecutor adapts a plain function to the Executor interface.
type FuncExecutor func(ctx context.Context, task *domain.Task) (domain.Evidence, error)

// Execute calls f(ctx, task).
func (f FuncExecutor) Execute(ctx context.Context, task *domain.Task) (domain.Evidence, error) {
	return f(ctx, task)
}

// Registry maps roles to their executors.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[Role]Executor
}

// NewRegistry creates a new empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[Role]Executor),
	}
}

// Register adds an executor for role.
// If an executor for the same role already exists, it will be replaced.
func (r *Registry) Register(role Role, e Executor) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("executor for role %s %w", role, cerrors.ErrEmptyValue)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[role] = e
	return nil
}

// Get retrieves the executor for a role name.
// Returns ErrUnknownRole for names outside the role set and
// ErrExecutorNotFound if no executor is registered for the role.
func (r *Registry) Get(role string) (Executor, error) {
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[parsed]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cerrors.ErrExecutorNotFound, parsed)
	}
	return e, nil
}

// Has checks if an executor is registered for the given role.
func (r *Registry) Has(role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[role]
	return ok
}

// Roles returns all registered roles, sorted.
func (r *Registry) Roles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]Role, 0, len(r.executors))
	for role := range r.executors {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// CheckRole returns nil when role resolves to a registered executor.
// It is suitable for graph.WithRoleCheck.
func (r *Registry) CheckRole(role string) error {
	_, err := r.Get(role)
	return err
}
