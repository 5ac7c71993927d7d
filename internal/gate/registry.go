package gate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// Bound is a rule expression resolved against a registry.
type Bound struct {
	// ID is the canonical expression, e.g. "coverage_at_least(90)".
	ID   string
	Rule Rule
	Args []string
}

// Check evaluates the bound rule against the evidence.
func (b Bound) Check(ev domain.Evidence) error {
	return b.Rule.Check(b.Args, ev)
}

// Registry manages the rules available to plans.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// DefaultRegistry creates a registry populated with the built-in rules.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, rule := range Builtins() {
		// Built-in names are unique.
		_ = r.Register(rule)
	}
	return r
}

// Register adds a rule. Registering a name twice returns ErrRuleDuplicate.
func (r *Registry) Register(rule Rule) error {
	name := rule.Name()
	if !ruleNameRegex.MatchString(name) {
		return fmt.Errorf("%w: invalid rule name %q", cerrors.ErrInvalidRuleExpr, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[name]; ok {
		return fmt.Errorf("%w: %s", cerrors.ErrRuleDuplicate, name)
	}
	r.rules[name] = rule
	return nil
}

// Get returns the rule registered under name.
func (r *Registry) Get(name string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[name]
	return rule, ok
}

// Has reports whether a rule is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered rule names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve parses a rule expression and binds it to a registered rule.
// Argument validation happens here so a bad expression fails at build time.
func (r *Registry) Resolve(expr string) (Bound, error) {
	parsed, err := ParseExpr(expr)
	if err != nil {
		return Bound{}, err
	}

	rule, ok := r.Get(parsed.Name)
	if !ok {
		return Bound{}, fmt.Errorf("%w: %s", cerrors.ErrUnknownRule, parsed.Name)
	}

	if v, ok := rule.(ArgValidator); ok {
		if err := v.ValidateArgs(parsed.Args); err != nil {
			return Bound{}, err
		}
	}

	return Bound{ID: parsed.String(), Rule: rule, Args: parsed.Args}, nil
}

// Describe returns the description of a registered rule, or "".
func (r *Registry) Describe(name string) string {
	rule, ok := r.Get(name)
	if !ok {
		return ""
	}
	if d, ok := rule.(Describer); ok {
		return d.Description()
	}
	return ""
}
