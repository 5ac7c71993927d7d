package gate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/mrz1836/conductor/internal/domain"
)

// Evidence keys read by the built-in rules.
const (
	KeyCoverage    = "coverage"
	KeyChecklist   = "checklist"
	KeyExitCode    = "exit_code"
	KeyTestsFailed = "tests.failed"
)

var errMissingField = errors.New("missing evidence field")

// Builtins returns the built-in rule set.
func Builtins() []Rule {
	return []Rule{
		RuleFunc{
			RuleName:    "coverage_at_least",
			Usage:       "coverage_at_least(n): evidence.coverage >= n",
			MinArgs:     1,
			MaxArgs:     1,
			NumericArgs: []int{0},
			Fn: func(args []string, ev domain.Evidence) error {
				return compare(ev, KeyCoverage, args[0], ">=")
			},
		},
		RuleFunc{
			RuleName: "all_checklist_items_true",
			Usage:    "all_checklist_items_true: every item of evidence.checklist is checked",
			Fn:       checkChecklist,
		},
		RuleFunc{
			RuleName: "field_present",
			Usage:    "field_present(key): evidence has a non-null value at key",
			MinArgs:  1,
			MaxArgs:  1,
			Fn: func(args []string, ev domain.Evidence) error {
				v, ok := Lookup(ev, args[0])
				if !ok || v == nil {
					return fmt.Errorf("%w %q", errMissingField, args[0])
				}
				return nil
			},
		},
		RuleFunc{
			RuleName: "field_equals",
			Usage:    "field_equals(key, value): evidence value at key equals value",
			MinArgs:  2,
			MaxArgs:  2,
			Fn: func(args []string, ev domain.Evidence) error {
				v, ok := Lookup(ev, args[0])
				if !ok || v == nil {
					return fmt.Errorf("%w %q", errMissingField, args[0])
				}
				var s string
				if err := mapstructure.WeakDecode(v, &s); err != nil {
					return fmt.Errorf("%s is not a scalar value", args[0])
				}
				if s != args[1] {
					return fmt.Errorf("%s is %q, want %q", args[0], s, args[1])
				}
				return nil
			},
		},
		RuleFunc{
			RuleName:    "min_value",
			Usage:       "min_value(key, n): evidence value at key >= n",
			MinArgs:     2,
			MaxArgs:     2,
			NumericArgs: []int{1},
			Fn: func(args []string, ev domain.Evidence) error {
				return compare(ev, args[0], args[1], ">=")
			},
		},
		RuleFunc{
			RuleName:    "max_value",
			Usage:       "max_value(key, n): evidence value at key <= n",
			MinArgs:     2,
			MaxArgs:     2,
			NumericArgs: []int{1},
			Fn: func(args []string, ev domain.Evidence) error {
				return compare(ev, args[0], args[1], "<=")
			},
		},
		RuleFunc{
			RuleName: "no_failed_tests",
			Usage:    "no_failed_tests: evidence.tests.failed == 0",
			Fn: func(_ []string, ev domain.Evidence) error {
				return compare(ev, KeyTestsFailed, "0", "==")
			},
		},
		RuleFunc{
			RuleName: "exit_code_zero",
			Usage:    "exit_code_zero: evidence.exit_code == 0",
			Fn: func(_ []string, ev domain.Evidence) error {
				return compare(ev, KeyExitCode, "0", "==")
			},
		},
	}
}

// Lookup finds a value by key. A key matching a top-level entry wins;
// otherwise dotted keys descend into nested maps.
func Lookup(ev domain.Evidence, key string) (any, bool) {
	if v, ok := ev[key]; ok {
		return v, true
	}

	var current any = map[string]any(ev)
	for _, part := range strings.Split(key, ".") {
		switch m := current.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		case domain.Evidence:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

// Number decodes the value at key as a float64. Strings and integers are
// accepted through weak decoding.
func Number(ev domain.Evidence, key string) (float64, error) {
	v, ok := Lookup(ev, key)
	if !ok || v == nil {
		return 0, fmt.Errorf("%w %q", errMissingField, key)
	}
	var n float64
	if err := mapstructure.WeakDecode(v, &n); err != nil {
		return 0, fmt.Errorf("%s is not a number: %v", key, v)
	}
	return n, nil
}

func compare(ev domain.Evidence, key, arg, op string) error {
	want, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return fmt.Errorf("threshold %q is not a number", arg)
	}
	got, err := Number(ev, key)
	if err != nil {
		return err
	}

	var ok bool
	switch op {
	case ">=":
		ok = got >= want
	case "<=":
		ok = got <= want
	default:
		ok = got == want
	}
	if !ok {
		return fmt.Errorf("%s is %s, want %s %s", key, formatNumber(got), op, formatNumber(want))
	}
	return nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type checklistItem struct {
	Item string `mapstructure:"item"`
	Done bool   `mapstructure:"done"`
}

// checkChecklist accepts a map of item to bool, a list of {item, done}
// objects, or a list of bools. An empty checklist passes.
func checkChecklist(_ []string, ev domain.Evidence) error {
	v, ok := Lookup(ev, KeyChecklist)
	if !ok || v == nil {
		return fmt.Errorf("%w %q", errMissingField, KeyChecklist)
	}

	var unchecked []string

	var asMap map[string]bool
	if err := mapstructure.WeakDecode(v, &asMap); err == nil && asMap != nil {
		for item, done := range asMap {
			if !done {
				unchecked = append(unchecked, item)
			}
		}
		return uncheckedError(unchecked)
	}

	var items []checklistItem
	if err := mapstructure.WeakDecode(v, &items); err == nil {
		for i, it := range items {
			if !it.Done {
				name := it.Item
				if name == "" {
					name = "#" + strconv.Itoa(i+1)
				}
				unchecked = append(unchecked, name)
			}
		}
		return uncheckedError(unchecked)
	}

	var flags []bool
	if err := mapstructure.WeakDecode(v, &flags); err == nil {
		for i, done := range flags {
			if !done {
				unchecked = append(unchecked, "#"+strconv.Itoa(i+1))
			}
		}
		return uncheckedError(unchecked)
	}

	return fmt.Errorf("%s has an unsupported shape", KeyChecklist)
}

func uncheckedError(items []string) error {
	if len(items) == 0 {
		return nil
	}
	sort.Strings(items)
	return fmt.Errorf("unchecked items: %s", strings.Join(items, ", "))
}
