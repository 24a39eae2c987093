package queryir

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationResult lists the structural problems of a fragment.
type ValidationResult struct {
	// IsValid is true when the fragment can be rendered.
	IsValid bool

	// Problems lists what is wrong, in discovery order.
	Problems []string
}

// Err returns the problems as a single error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return errors.New("invalid fragment: " + strings.Join(r.Problems, "; "))
}

// Validate checks the fragment invariants against the root table alias:
// placeholder and argument counts agree, every join is complete and its
// parent is known, and every referenced column belongs to a known alias.
//
// Validate is a pure function with no side effects.
func Validate(f *Fragment, root string) ValidationResult {
	v := &validator{problems: []string{}, aliases: map[string]string{root: ""}}
	v.validate(f)
	return ValidationResult{
		IsValid:  len(v.problems) == 0,
		Problems: v.problems,
	}
}

type validator struct {
	problems []string
	aliases  map[string]string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validate(f *Fragment) {
	if f == nil {
		v.addProblem("nil fragment")
		return
	}

	if n := strings.Count(f.Expression, "?"); n != len(f.Args) {
		v.addProblem("expression has %d placeholders but %d args", n, len(f.Args))
	}

	for _, j := range f.Joins {
		v.validateJoin(j)
	}

	for i, a := range f.Args {
		if col, ok := a.(Column); ok {
			v.validateColumn(fmt.Sprintf("arg %d", i), col)
		}
	}
	for _, col := range f.GroupBy {
		v.validateColumn("group by", col)
	}

	if f.IsHaving && f.Aggregator != nil {
		v.addProblem("aggregated expression has a pending aggregator %q", f.Aggregator.AggregateKey())
	}
}

func (v *validator) validateJoin(j Join) {
	if j.Table == "" || j.Alias == "" {
		v.addProblem("join %q has no table or alias", j.Alias)
		return
	}
	if table, seen := v.aliases[j.Alias]; seen {
		if table != j.Table {
			v.addProblem("alias %s joined twice (%s, %s)", j.Alias, table, j.Table)
		}
		return
	}
	if j.Column.Alias != j.Alias {
		v.addProblem("join %s: condition column %s does not belong to the joined table", j.Alias, j.Column)
	}
	if _, ok := v.aliases[j.Parent.Alias]; !ok {
		v.addProblem("join %s: parent alias %s is not joined before it", j.Alias, j.Parent.Alias)
	}
	v.aliases[j.Alias] = j.Table
}

func (v *validator) validateColumn(where string, col Column) {
	if col.Alias == "" || col.Name == "" {
		v.addProblem("%s: incomplete column %q", where, col.String())
		return
	}
	if _, ok := v.aliases[col.Alias]; !ok {
		v.addProblem("%s: column %s references unknown alias", where, col)
	}
}
