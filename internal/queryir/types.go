package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/collx/internal/metadata"
)

// Column references a column of a joined table by its alias.
type Column struct {
	Alias string
	Name  string
}

// String returns "alias.name".
func (c Column) String() string {
	return c.Alias + "." + c.Name
}

// Join is a LEFT JOIN of Table under Alias, on Column = Parent.
//
// Column belongs to the joined table (its Alias equals the join's alias);
// Parent belongs to a table joined earlier, or to the root table.
type Join struct {
	Table  string
	Alias  string
	Column Column
	Parent Column
}

// String renders the join for diagnostics.
func (j Join) String() string {
	return fmt.Sprintf("LEFT JOIN %s AS %s ON %s = %s", j.Table, j.Alias, j.Column, j.Parent)
}

// Aggregator reduces a to-many expression to a single value in SQL.
//
// Builder aggregators mirror the array aggregators of the aggregate package;
// the key is shared between the two so that filter cache keys agree across
// modes.
type Aggregator interface {
	AggregateKey() string

	// AggregateFragment wraps f in the aggregate. The result has no pending
	// aggregator and is a HAVING condition.
	AggregateFragment(f *Fragment) *Fragment
}

// Fragment is a builder-mode expression.
//
// Invariants:
//   - strings.Count(Expression, "?") == len(Args)
//   - every Column in Args or GroupBy references the root table or a join
//     listed in Joins
//   - Aggregator != nil only while the expression is still per-row
type Fragment struct {
	// Expression is SQL text with "?" placeholders.
	Expression string

	// Args holds one value per placeholder. Column values are rendered as
	// quoted identifiers, all other values as bound parameters.
	Args []any

	// Joins lists the joins the expression needs, in dependency order.
	Joins []Join

	// GroupBy lists the columns the query must be grouped by.
	GroupBy []Column

	// Columns lists the per-row columns referenced by the expression. When a
	// per-row condition is combined with a HAVING condition they move to the
	// group-by clause.
	Columns []Column

	// Aggregator is the pending aggregation of a to-many expression.
	Aggregator Aggregator

	// IsHaving marks an aggregated expression.
	IsHaving bool

	// Property is the property the expression ends at, if any.
	Property *metadata.PropertyMetadata

	// Undefined marks an expression that does not apply to the queried
	// entity (its source qualifier names another entity).
	Undefined bool
}

// NewColumnFragment creates a fragment selecting a single column.
func NewColumnFragment(col Column, prop *metadata.PropertyMetadata) *Fragment {
	return &Fragment{
		Expression: "?",
		Args:       []any{col},
		Columns:    []Column{col},
		Property:   prop,
	}
}

// Literal creates a fragment without arguments.
func Literal(expr string) *Fragment {
	return &Fragment{Expression: expr}
}

// True returns a condition matching every row.
func True() *Fragment {
	return Literal("1 = 1")
}

// False returns a condition matching no row.
func False() *Fragment {
	return Literal("1 = 0")
}

// Clone returns a copy of f whose slices can be appended to independently.
func (f *Fragment) Clone() *Fragment {
	c := *f
	c.Args = append([]any(nil), f.Args...)
	c.Joins = append([]Join(nil), f.Joins...)
	c.GroupBy = append([]Column(nil), f.GroupBy...)
	c.Columns = append([]Column(nil), f.Columns...)
	return &c
}

// Append returns a copy of f with suffix appended to the expression and
// args appended to the arguments.
func (f *Fragment) Append(suffix string, args ...any) *Fragment {
	c := f.Clone()
	c.Expression += suffix
	c.Args = append(c.Args, args...)
	return c
}

// Wrap returns a copy of f with the expression enclosed in prefix and
// suffix. Arguments of prefix and suffix are not supported.
func (f *Fragment) Wrap(prefix, suffix string) *Fragment {
	c := f.Clone()
	c.Expression = prefix + c.Expression + suffix
	return c
}

// ApplyAggregator applies the pending aggregator, if any.
func (f *Fragment) ApplyAggregator() *Fragment {
	if f.Aggregator == nil {
		return f
	}
	agg := f.Aggregator
	c := f.Clone()
	c.Aggregator = nil
	return agg.AggregateFragment(c)
}

// HasPlaceholders reports whether the expression binds anything.
func (f *Fragment) HasPlaceholders() bool {
	return strings.Contains(f.Expression, "?")
}

// Combine joins fragments with a boolean operator ("AND", "OR").
//
// The result is parenthesized when it has more than one part. Joins are
// merged in order and deduplicated by alias. If any part is a HAVING
// condition the result is one too, and the columns of the per-row parts
// are added to GroupBy so they can be referenced there.
func Combine(op string, parts []*Fragment) *Fragment {
	if len(parts) == 0 {
		if op == "OR" {
			return False()
		}
		return True()
	}
	if len(parts) == 1 {
		return parts[0]
	}

	out := &Fragment{}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		texts = append(texts, p.Expression)
		out.Args = append(out.Args, p.Args...)
		out.Joins = MergeJoins(out.Joins, p.Joins)
		out.GroupBy = MergeColumns(out.GroupBy, p.GroupBy)
		out.Columns = MergeColumns(out.Columns, p.Columns)
		if p.IsHaving {
			out.IsHaving = true
		}
	}
	if out.IsHaving {
		for _, p := range parts {
			if !p.IsHaving {
				out.GroupBy = MergeColumns(out.GroupBy, p.Columns)
			}
		}
	}
	out.Expression = "(" + strings.Join(texts, " "+op+" ") + ")"
	return out
}

// MergeJoins appends the joins of extra not yet present (by alias) in base.
func MergeJoins(base, extra []Join) []Join {
	for _, j := range extra {
		found := false
		for _, b := range base {
			if b.Alias == j.Alias {
				found = true
				break
			}
		}
		if !found {
			base = append(base, j)
		}
	}
	return base
}

// MergeColumns appends the columns of extra not yet present in base.
func MergeColumns(base, extra []Column) []Column {
	for _, c := range extra {
		found := false
		for _, b := range base {
			if b == c {
				found = true
				break
			}
		}
		if !found {
			base = append(base, c)
		}
	}
	return base
}

// String renders the fragment in a stable multi-line form, used by golden
// tests and the CLI.
func (f *Fragment) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "expression: %s\n", f.Expression)

	args := make([]string, 0, len(f.Args))
	for _, a := range f.Args {
		args = append(args, formatArg(a))
	}
	fmt.Fprintf(&b, "args: [%s]\n", strings.Join(args, ", "))

	for _, j := range f.Joins {
		fmt.Fprintf(&b, "join: %s\n", j)
	}
	if len(f.GroupBy) > 0 {
		cols := make([]string, 0, len(f.GroupBy))
		for _, c := range f.GroupBy {
			cols = append(cols, c.String())
		}
		fmt.Fprintf(&b, "group by: %s\n", strings.Join(cols, ", "))
	}
	if f.Aggregator != nil {
		fmt.Fprintf(&b, "aggregator: %s\n", f.Aggregator.AggregateKey())
	}
	if f.IsHaving {
		b.WriteString("having: true\n")
	}
	if f.Undefined {
		b.WriteString("undefined: true\n")
	}
	return b.String()
}

func formatArg(a any) string {
	switch v := a.(type) {
	case Column:
		return v.String()
	case string:
		return fmt.Sprintf("%q", v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, formatArg(item))
		}
		return "(" + strings.Join(items, ", ") + ")"
	case nil:
		return "NULL"
	}
	return fmt.Sprintf("%v", a)
}
