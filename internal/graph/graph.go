// Package graph builds and validates the task graph of a plan.
//
// Build turns a declarative domain.PlanSpec into a Graph: it checks ids,
// dependencies, roles, and gate rule expressions, rejects cycles, and
// computes a deterministic topological order. Every problem is collected
// into a single errors.GraphValidationError so a caller sees the full list
// at once. Nothing is persisted here; a Graph becomes a stored plan only
// through Graph.NewPlan and a plan.Store.
//
// Import rules:
//   - CAN import: internal/constants, internal/domain, internal/errors,
//     internal/gate, internal/clock, std lib
//   - MUST NOT import: internal/plan, internal/scheduler, internal/cli
package graph

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mrz1836/conductor/internal/clock"
	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/gate"
)

// Option configures Build.
type Option func(*options)

type options struct {
	rules          *gate.Registry
	roleCheck      func(role string) error
	maxRetries     int
	defaultTimeout time.Duration
}

// WithRules resolves gate rule expressions against reg. Without it every
// expression is only checked for syntax.
func WithRules(reg *gate.Registry) Option {
	return func(o *options) {
		o.rules = reg
	}
}

// WithRoleCheck validates every task role with check.
func WithRoleCheck(check func(role string) error) Option {
	return func(o *options) {
		o.roleCheck = check
	}
}

// WithMaxRetries sets the retry budget for tasks that do not declare one.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithDefaultTimeout sets the timeout for tasks that do not declare one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		o.defaultTimeout = d
	}
}

type node struct {
	index int
	spec  domain.TaskSpec
	phase string
	deps  []string
	gates []string
}

// Graph is a validated, acyclic task graph.
type Graph struct {
	title      string
	phases     []domain.Phase
	nodes      map[string]*node
	dependents map[string][]string
	order      []string
	maxRetries int
	timeout    time.Duration
}

// Build validates spec and returns its task graph. On failure the returned
// error is a *errors.GraphValidationError listing every problem found.
func Build(spec domain.PlanSpec, opts ...Option) (*Graph, error) {
	o := options{maxRetries: constants.DefaultMaxRetries}
	for _, opt := range opts {
		opt(&o)
	}
	if spec.MaxRetries != nil {
		o.maxRetries = *spec.MaxRetries
	}

	b := &builder{
		opts: o,
		g: &Graph{
			title:      spec.Title,
			nodes:      make(map[string]*node),
			dependents: make(map[string][]string),
			maxRetries: o.maxRetries,
			timeout:    o.defaultTimeout,
		},
	}

	b.collectNodes(spec)
	b.checkDependencies()
	b.checkCycles()
	if len(b.problems) > 0 {
		return nil, &cerrors.GraphValidationError{Problems: b.problems}
	}

	b.g.order = b.sortedOrder()
	return b.g, nil
}

type builder struct {
	opts     options
	g        *Graph
	declared []*node
	problems []cerrors.Problem
}

func (b *builder) problem(reason string, ids ...string) {
	b.problems = append(b.problems, cerrors.Problem{TaskIDs: ids, Reason: reason})
}

func (b *builder) collectNodes(spec domain.PlanSpec) {
	if len(spec.Phases) == 0 {
		b.problem("plan has no phases")
		return
	}
	if o := b.opts; o.maxRetries < 0 {
		b.problem(fmt.Sprintf("max_retries must be >= 0, got %d", o.maxRetries))
	}

	phaseNames := make(map[string]bool, len(spec.Phases))
	for pi, ps := range spec.Phases {
		name := strings.TrimSpace(ps.Name)
		switch {
		case name == "":
			b.problem(fmt.Sprintf("phase %d has no name", pi+1))
		case phaseNames[name]:
			b.problem(fmt.Sprintf("duplicate phase name %q", name))
		}
		phaseNames[name] = true

		gateMode := ps.Gate
		if gateMode == "" {
			gateMode = domain.PhaseGateAllTasks
		}
		if gateMode != domain.PhaseGateAllTasks && gateMode != domain.PhaseGateNone {
			b.problem(fmt.Sprintf("phase %q has unknown gate %q", name, ps.Gate))
		}

		phase := domain.Phase{Name: name, Gate: gateMode}
		for ti, ts := range ps.Tasks {
			n := b.addTask(name, ti, ts)
			if n != nil {
				phase.TaskIDs = append(phase.TaskIDs, n.spec.ID)
			}
		}
		b.g.phases = append(b.g.phases, phase)
	}

	if len(b.declared) == 0 && len(b.problems) == 0 {
		b.problem("plan has no tasks")
	}
}

func (b *builder) addTask(phase string, pos int, ts domain.TaskSpec) *node {
	id := strings.TrimSpace(ts.ID)
	if id == "" {
		b.problem(fmt.Sprintf("phase %q: task %d has no id", phase, pos+1))
		return nil
	}
	if existing, ok := b.g.nodes[id]; ok {
		b.problem(fmt.Sprintf("duplicate task id (phases %q and %q)", existing.phase, phase), id)
		return nil
	}

	ts.ID = id
	n := &node{index: len(b.declared), spec: ts, phase: phase}

	b.checkRole(n)
	b.resolveGates(n)

	if ts.Timeout < 0 {
		b.problem("timeout must not be negative", id)
	}
	if ts.MaxRetries != nil && *ts.MaxRetries < 0 {
		b.problem("max_retries must be >= 0", id)
	}

	b.g.nodes[id] = n
	b.declared = append(b.declared, n)
	return n
}

func (b *builder) checkRole(n *node) {
	role := strings.TrimSpace(n.spec.Role)
	if role == "" {
		b.problem("task has no role", n.spec.ID)
		return
	}
	if b.opts.roleCheck != nil {
		if err := b.opts.roleCheck(role); err != nil {
			b.problem(err.Error(), n.spec.ID)
		}
	}
}

func (b *builder) resolveGates(n *node) {
	for _, expr := range n.spec.Gates {
		var (
			canonical string
			err       error
		)
		if b.opts.rules != nil {
			var bound gate.Bound
			bound, err = b.opts.rules.Resolve(expr)
			canonical = bound.ID
		} else {
			var parsed gate.Expr
			parsed, err = gate.ParseExpr(expr)
			canonical = parsed.String()
		}
		if err != nil {
			b.problem(err.Error(), n.spec.ID)
			continue
		}
		n.gates = append(n.gates, canonical)
	}
}

func (b *builder) checkDependencies() {
	for _, n := range b.declared {
		seen := make(map[string]bool, len(n.spec.DependsOn))
		for _, dep := range n.spec.DependsOn {
			dep = strings.TrimSpace(dep)
			switch {
			case dep == n.spec.ID:
				b.problem("task depends on itself", n.spec.ID)
				continue
			case seen[dep]:
				continue
			}
			seen[dep] = true
			if _, ok := b.g.nodes[dep]; !ok {
				b.problem(fmt.Sprintf("depends on unknown task %q", dep), n.spec.ID)
				continue
			}
			n.deps = append(n.deps, dep)
			b.g.dependents[dep] = append(b.g.dependents[dep], n.spec.ID)
		}
	}
}

// checkCycles walks the graph depth-first and reports each distinct cycle
// once, naming its members in path order.
func (b *builder) checkCycles() {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(b.declared))
	reported := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		state[id] = onStack
		stack = append(stack, id)

		for _, dep := range b.g.nodes[id].deps {
			switch state[dep] {
			case unvisited:
				visit(dep)
			case onStack:
				start := slices.Index(stack, dep)
				cycle := append([]string(nil), stack[start:]...)
				key := cycleKey(cycle)
				if reported[key] {
					continue
				}
				reported[key] = true
				path := append(append([]string(nil), cycle...), dep)
				b.problem("dependency cycle: "+strings.Join(path, " -> "), cycle...)
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, n := range b.declared {
		if state[n.spec.ID] == unvisited {
			visit(n.spec.ID)
		}
	}
}

func cycleKey(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return strings.Join(sorted, "\x00")
}

// sortedOrder runs Kahn's algorithm with ready tasks taken in declaration
// order, so the result is deterministic for a given spec.
func (b *builder) sortedOrder() []string {
	indegree := make(map[string]int, len(b.declared))
	ready := &indexHeap{}
	for _, n := range b.declared {
		indegree[n.spec.ID] = len(n.deps)
		if len(n.deps) == 0 {
			heap.Push(ready, n.index)
		}
	}

	order := make([]string, 0, len(b.declared))
	for ready.Len() > 0 {
		n := b.declared[heap.Pop(ready).(int)]
		order = append(order, n.spec.ID)
		for _, child := range b.g.dependents[n.spec.ID] {
			indegree[child]--
			if indegree[child] == 0 {
				heap.Push(ready, b.g.nodes[child].index)
			}
		}
	}
	return order
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Order returns the task ids in topological order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.order)
}

// Index returns the declaration index of a task, or -1.
func (g *Graph) Index(id string) int {
	if n, ok := g.nodes[id]; ok {
		return n.index
	}
	return -1
}

// Dependencies returns the direct dependencies of a task.
func (g *Graph) Dependencies(id string) []string {
	if n, ok := g.nodes[id]; ok {
		return slices.Clone(n.deps)
	}
	return nil
}

// Dependents returns the tasks that directly depend on id, in declaration order.
func (g *Graph) Dependents(id string) []string {
	return slices.Clone(g.dependents[id])
}

// Phases returns the phases with their task ids.
func (g *Graph) Phases() []domain.Phase {
	out := make([]domain.Phase, len(g.phases))
	for i, p := range g.phases {
		out[i] = domain.Phase{Name: p.Name, Gate: p.Gate, TaskIDs: slices.Clone(p.TaskIDs)}
	}
	return out
}

// NewPlan materializes the graph as a plan with every task pending.
// An empty title falls back to the plan file title.
func (g *Graph) NewPlan(title string, clk clock.Clock) *domain.Plan {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if title == "" {
		title = g.title
	}
	now := clk.Now()

	p := &domain.Plan{
		ID:            NewPlanID(),
		Title:         title,
		Phases:        g.Phases(),
		Tasks:         make(map[string]*domain.Task, len(g.nodes)),
		Order:         g.Order(),
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: constants.PlanSchemaVersion,
	}

	for id, n := range g.nodes {
		maxRetries := g.maxRetries
		if n.spec.MaxRetries != nil {
			maxRetries = *n.spec.MaxRetries
		}
		timeout := n.spec.Timeout
		if timeout == 0 {
			timeout = g.timeout
		}
		t := &domain.Task{
			ID:         id,
			Phase:      n.phase,
			Role:       strings.TrimSpace(n.spec.Role),
			Title:      n.spec.Title,
			DependsOn:  slices.Clone(n.deps),
			Gates:      slices.Clone(n.gates),
			Timeout:    timeout,
			MaxRetries: maxRetries,
			Status:     constants.TaskStatusPending,
			Note:       n.spec.Note,
			UpdatedAt:  now,
		}
		if len(n.spec.Params) > 0 {
			t.Params = make(map[string]string, len(n.spec.Params))
			for k, v := range n.spec.Params {
				t.Params[k] = v
			}
		}
		p.Tasks[id] = t
	}
	return p
}

// NewPlanID returns a fresh plan id of the form plan-xxxxxxxx.
func NewPlanID() string {
	return "plan-" + uuid.New().String()[:8]
}
