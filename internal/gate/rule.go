// Package gate provides the quality gate evaluator for conductor.
//
// A quality gate rule is a named pure predicate over a task's evidence
// payload. Rules are referenced from plan specs by expression, either a bare
// name (all_checklist_items_true) or a call with arguments
// (coverage_at_least(90)). Expressions are resolved against a Registry when a
// plan is built, so unknown rules are a build-time error and never an
// evaluation-time surprise.
//
// Import rules:
//   - CAN import: internal/domain, internal/errors, std lib
//   - MUST NOT import: internal/plan, internal/scheduler, internal/cli
package gate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// Rule is a named predicate over evidence. Check returns nil when the
// evidence satisfies the rule and a descriptive error otherwise.
//
// Implementations must be pure: the same args and evidence always yield the
// same result, and Check must not retain or mutate the evidence.
type Rule interface {
	// Name returns the identifier used in rule expressions.
	Name() string

	// Check evaluates the rule with the bound arguments.
	Check(args []string, ev domain.Evidence) error
}

// ArgValidator is implemented by rules that validate their arguments when an
// expression is resolved.
type ArgValidator interface {
	ValidateArgs(args []string) error
}

// Describer is implemented by rules that document themselves.
type Describer interface {
	Description() string
}

// RuleFunc adapts a function into a Rule with an argument-count contract.
type RuleFunc struct {
	RuleName string
	Usage    string
	MinArgs  int
	MaxArgs  int
	// NumericArgs lists argument positions that must parse as numbers.
	NumericArgs []int
	Fn          func(args []string, ev domain.Evidence) error
}

// Name implements Rule.
func (r RuleFunc) Name() string { return r.RuleName }

// Description implements Describer.
func (r RuleFunc) Description() string { return r.Usage }

// Check implements Rule.
func (r RuleFunc) Check(args []string, ev domain.Evidence) error {
	return r.Fn(args, ev)
}

// ValidateArgs implements ArgValidator.
func (r RuleFunc) ValidateArgs(args []string) error {
	if len(args) < r.MinArgs || len(args) > r.MaxArgs {
		if r.MinArgs == r.MaxArgs {
			return fmt.Errorf("%w: %s takes %d argument(s), got %d", cerrors.ErrInvalidRuleExpr, r.RuleName, r.MinArgs, len(args))
		}
		return fmt.Errorf("%w: %s takes %d to %d arguments, got %d", cerrors.ErrInvalidRuleExpr, r.RuleName, r.MinArgs, r.MaxArgs, len(args))
	}
	for _, pos := range r.NumericArgs {
		if pos >= len(args) {
			continue
		}
		if _, err := strconv.ParseFloat(args[pos], 64); err != nil {
			return fmt.Errorf("%w: %s argument %d must be a number, got %q", cerrors.ErrInvalidRuleExpr, r.RuleName, pos+1, args[pos])
		}
	}
	return nil
}

var _ Rule = RuleFunc{}

// Expr is a parsed rule expression.
type Expr struct {
	Name string
	Args []string
}

// String returns the canonical form of the expression, which is also the
// rule identifier reported on failure.
func (e Expr) String() string {
	if len(e.Args) == 0 {
		return e.Name
	}
	quoted := make([]string, len(e.Args))
	for i, a := range e.Args {
		if a == "" || strings.ContainsAny(a, `,() "`) {
			quoted[i] = strconv.Quote(a)
		} else {
			quoted[i] = a
		}
	}
	return e.Name + "(" + strings.Join(quoted, ", ") + ")"
}

var ruleNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ParseExpr parses "name" or "name(arg, ...)". Arguments are bare tokens or
// double-quoted strings.
func ParseExpr(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if !ruleNameRegex.MatchString(s) {
			return Expr{}, fmt.Errorf("%w: %q", cerrors.ErrInvalidRuleExpr, s)
		}
		return Expr{Name: s}, nil
	}

	name := strings.TrimSpace(s[:open])
	if !ruleNameRegex.MatchString(name) || !strings.HasSuffix(s, ")") {
		return Expr{}, fmt.Errorf("%w: %q", cerrors.ErrInvalidRuleExpr, s)
	}

	args, err := splitArgs(s[open+1 : len(s)-1])
	if err != nil {
		return Expr{}, fmt.Errorf("%w: %q: %w", cerrors.ErrInvalidRuleExpr, s, err)
	}
	return Expr{Name: name, Args: args}, nil
}

// splitArgs splits a comma separated argument list, honoring double quotes.
func splitArgs(body string) ([]string, error) {
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}

	var (
		args    []string
		current strings.Builder
		inQuote bool
		quoted  bool
	)

	flush := func() error {
		arg := current.String()
		if !quoted {
			arg = strings.TrimSpace(arg)
			if arg == "" {
				return fmt.Errorf("empty argument")
			}
		}
		args = append(args, arg)
		current.Reset()
		quoted = false
		return nil
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case inQuote && c == '\\' && i+1 < len(body):
			i++
			current.WriteByte(body[i])
		case c == '"':
			if !inQuote && strings.TrimSpace(current.String()) != "" {
				return nil, fmt.Errorf("unexpected quote")
			}
			if !inQuote {
				current.Reset()
			}
			inQuote = !inQuote
			quoted = true
		case c == ',' && !inQuote:
			if err := flush(); err != nil {
				return nil, err
			}
		case quoted && !inQuote:
			if c != ' ' && c != '\t' {
				return nil, fmt.Errorf("unexpected character after quoted argument")
			}
		default:
			current.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return args, nil
}
