// Package querysql composes builder-mode fragments into SQL with goqu.
//
// A Builder is the query-builder collaborator of the collection functions:
// it accumulates filters, joins, group-by columns and ordering for one root
// entity and renders a parameterized SELECT of the root primary keys.
//
// Every query is ordered: the root primary key is always the last sort key,
// so results are deterministic. All values are bound, never interpolated.
package querysql

import (
	"fmt"
	"math"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/queryir"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// ValidDialects defines the dialects a Builder accepts.
var ValidDialects = map[string]bool{
	DialectSQLite:   true,
	DialectPostgres: true,
}

type order struct {
	fragment  *queryir.Fragment
	direction ir.Direction
}

// Builder accumulates builder-mode fragments for one root entity.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	dialectName string
	dialect     goqu.DialectWrapper
	meta        *metadata.EntityMetadata
	alias       string

	joins   []queryir.Join
	where   []*queryir.Fragment
	having  []*queryir.Fragment
	groupBy []queryir.Column
	orders  []order
	values  []*queryir.Fragment

	limit  uint
	offset uint
}

// NewBuilder creates a builder selecting entities of meta.
func NewBuilder(dialect string, meta *metadata.EntityMetadata) (*Builder, error) {
	if !ValidDialects[dialect] {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if meta == nil || meta.IsEmbeddable() {
		return nil, fmt.Errorf("builder requires an entity with a table")
	}
	return &Builder{
		dialectName: dialect,
		dialect:     goqu.Dialect(dialect),
		meta:        meta,
		alias:       meta.Table,
	}, nil
}

// Metadata returns the root entity.
func (b *Builder) Metadata() *metadata.EntityMetadata {
	return b.meta
}

// RootAlias returns the alias of the root table.
func (b *Builder) RootAlias() string {
	return b.alias
}

// Dialect returns the dialect name.
func (b *Builder) Dialect() string {
	return b.dialectName
}

// PrimaryColumn returns the root primary key column.
func (b *Builder) PrimaryColumn() queryir.Column {
	return queryir.Column{Alias: b.alias, Name: b.meta.PrimaryColumn()}
}

// IsGrouped reports whether the query groups rows.
func (b *Builder) IsGrouped() bool {
	return len(b.groupBy) > 0 || len(b.having) > 0
}

// Filter adds a condition. Aggregated conditions go to HAVING, all others
// to WHERE; multiple conditions are combined with AND.
func (b *Builder) Filter(f *queryir.Fragment) error {
	if err := b.accept(f); err != nil {
		return err
	}
	if f.Aggregator != nil {
		return fmt.Errorf("filter %q has an unapplied aggregator %q", f.Expression, f.Aggregator.AggregateKey())
	}
	if f.IsHaving {
		b.having = append(b.having, f)
	} else {
		b.where = append(b.where, f)
	}
	return nil
}

// OrderBy adds a sort key. Keys apply in the order they are added.
func (b *Builder) OrderBy(f *queryir.Fragment, direction ir.Direction) error {
	if err := b.accept(f); err != nil {
		return err
	}
	if f.Aggregator != nil {
		return fmt.Errorf("sort expression %q has an unapplied aggregator %q", f.Expression, f.Aggregator.AggregateKey())
	}
	b.orders = append(b.orders, order{fragment: f, direction: direction})
	return nil
}

// Select adds a value column after the primary key. An aggregated value
// is computed per root entity.
func (b *Builder) Select(f *queryir.Fragment) error {
	if err := b.accept(f); err != nil {
		return err
	}
	if f.Aggregator != nil {
		return fmt.Errorf("select expression %q has an unapplied aggregator %q", f.Expression, f.Aggregator.AggregateKey())
	}
	b.values = append(b.values, f)
	return nil
}

// Limit restricts the result window. A zero limit means no limit.
func (b *Builder) Limit(limit, offset uint) {
	b.limit = limit
	b.offset = offset
}

func (b *Builder) accept(f *queryir.Fragment) error {
	if err := queryir.Validate(f, b.alias).Err(); err != nil {
		return err
	}
	b.joins = queryir.MergeJoins(b.joins, f.Joins)
	b.groupBy = queryir.MergeColumns(b.groupBy, f.GroupBy)
	return nil
}

// Expression converts a fragment into a goqu expression. Column arguments
// become quoted identifiers; all other arguments stay bound values.
func Expression(f *queryir.Fragment) exp.LiteralExpression {
	args := make([]any, len(f.Args))
	for i, a := range f.Args {
		args[i] = toGoqu(a)
	}
	return goqu.L(f.Expression, args...)
}

func toGoqu(a any) any {
	switch v := a.(type) {
	case queryir.Column:
		return goqu.I(v.String())
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = toGoqu(item)
		}
		return out
	}
	return a
}

// Dataset renders the accumulated state as a goqu select dataset.
func (b *Builder) Dataset() *goqu.SelectDataset {
	pk := b.PrimaryColumn()
	selected := []any{goqu.I(pk.String())}
	for _, f := range b.values {
		selected = append(selected, Expression(f))
	}
	ds := b.dialect.From(goqu.T(b.meta.Table).As(b.alias)).Select(selected...)

	for _, j := range b.joins {
		ds = ds.LeftJoin(
			goqu.T(j.Table).As(j.Alias),
			goqu.On(goqu.I(j.Column.String()).Eq(goqu.I(j.Parent.String()))),
		)
	}

	if len(b.where) > 0 {
		exprs := make([]exp.Expression, 0, len(b.where))
		for _, f := range b.where {
			exprs = append(exprs, Expression(f))
		}
		ds = ds.Where(exprs...)
	}

	if b.IsGrouped() {
		cols := queryir.MergeColumns([]queryir.Column{pk}, b.groupBy)
		for _, o := range b.orders {
			if !o.fragment.IsHaving {
				cols = queryir.MergeColumns(cols, o.fragment.Columns)
			}
		}
		for _, f := range b.values {
			if !f.IsHaving {
				cols = queryir.MergeColumns(cols, f.Columns)
			}
		}
		groupBy := make([]any, 0, len(cols))
		for _, c := range cols {
			groupBy = append(groupBy, goqu.I(c.String()))
		}
		ds = ds.GroupBy(groupBy...)
	}

	if len(b.having) > 0 {
		exprs := make([]exp.Expression, 0, len(b.having))
		for _, f := range b.having {
			exprs = append(exprs, Expression(f))
		}
		ds = ds.Having(exprs...)
	}

	orders := make([]exp.OrderedExpression, 0, 2*len(b.orders)+1)
	for _, o := range b.orders {
		orders = append(orders, orderExpressions(o)...)
	}
	orders = append(orders, goqu.I(pk.String()).Asc())
	ds = ds.Order(orders...)

	switch {
	case b.limit > 0:
		ds = ds.Limit(b.limit)
	case b.offset > 0:
		// SQLite only accepts OFFSET after a LIMIT.
		ds = ds.Limit(math.MaxInt64)
	}
	if b.offset > 0 {
		ds = ds.Offset(b.offset)
	}
	return ds
}

// orderExpressions sorts by a null flag first, so null placement does not
// depend on the dialect's default, then by the value.
func orderExpressions(o order) []exp.OrderedExpression {
	isNull := Expression(o.fragment.Wrap("(", ") IS NULL"))
	value := Expression(o.fragment)

	var nullOrder, valueOrder exp.OrderedExpression
	if o.direction.NullsFirst() {
		nullOrder = isNull.Desc()
	} else {
		nullOrder = isNull.Asc()
	}
	if o.direction.IsDescending() {
		valueOrder = value.Desc()
	} else {
		valueOrder = value.Asc()
	}
	return []exp.OrderedExpression{nullOrder, valueOrder}
}

// ToSQL renders the query with bound parameters.
func (b *Builder) ToSQL() (string, []any, error) {
	sql, args, err := b.Dataset().Prepared(true).ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("render %s query: %w", b.meta.Name, err)
	}
	return sql, args, nil
}
