// Package queryir provides the builder-mode intermediate representation of
// collx: the expression fragment that collection functions emit instead of a
// concrete value.
//
// ARCHITECTURE:
//
// Fragments sit between the collection functions and the SQL builder:
//
//	[expression] → [collection.BuilderHelper] → [Fragment] → [querysql.Builder] → SQL
//
// A Fragment is expression text with positional "?" placeholders, the bound
// arguments for those placeholders, the joins the expression needs, and the
// group-by columns an aggregated expression requires. The querysql package
// composes fragments into a goqu dataset; nothing in this package knows
// about a dialect.
//
// COLUMN REFERENCES:
//
// Column references are not written into the expression text. They are
// passed as Column arguments, so that the dialect quotes them:
//
//	Fragment{Expression: "? = ?", Args: []any{Column{"authors", "name"}, "Alice"}}
//
// renders on sqlite3 as
//
//	"authors"."name" = ?   -- args: [Alice]
//
// AGGREGATION:
//
// A path crossing a to-many relationship yields a fragment with a pending
// Aggregator. The function consuming the fragment appends its own text
// (a comparison, for example) and then calls ApplyAggregator, which wraps
// the whole expression in the aggregate and marks it as a HAVING
// condition. A fragment carries at most one aggregator.
package queryir
