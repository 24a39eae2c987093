package collection

import (
	"github.com/roach88/collx/internal/aggregate"
	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/queryir"
	"github.com/roach88/collx/internal/querysql"
)

// BuilderHelper turns expressions into query fragments.
//
// It is safe for concurrent use; the builders it writes to are not.
type BuilderHelper struct {
	repo     Repository
	resolver *Resolver
}

// NewBuilderHelper creates a helper for queries rooted at repo.
func NewBuilderHelper(repo Repository) *BuilderHelper {
	return &BuilderHelper{repo: repo, resolver: NewResolver(repo)}
}

// Repository returns the helper's repository.
func (h *BuilderHelper) Repository() Repository {
	return h.repo
}

// ProcessExpression emits a path or a function call. A path fragment may
// still carry its pending aggregator.
func (h *BuilderHelper) ProcessExpression(qb *querysql.Builder, expr any, agg queryir.Aggregator) (*queryir.Fragment, error) {
	parsed, err := ir.Parse(expr)
	if err != nil {
		return nil, err
	}
	switch e := parsed.(type) {
	case ir.PropertyPath:
		return h.ProcessPropertyExpr(qb, e.Raw, agg)
	case ir.FunctionCall:
		fn, err := builderFunction(h.repo, e.Name)
		if err != nil {
			return nil, err
		}
		return fn.ProcessBuilderExpression(h, qb, e.Args, agg)
	}
	return nil, ir.InvalidArgument("unsupported expression %T", parsed)
}

// ProcessCondition emits expr as a complete condition: pending
// aggregators are applied and an undefined expression matches nothing.
func (h *BuilderHelper) ProcessCondition(qb *querysql.Builder, expr any, agg queryir.Aggregator) (*queryir.Fragment, error) {
	f, err := h.ProcessExpression(qb, expr, agg)
	if err != nil {
		return nil, err
	}
	if f.Undefined {
		return queryir.False(), nil
	}
	return f.ApplyAggregator(), nil
}

// ApplyFilter adds expr to qb as a filter.
func (h *BuilderHelper) ApplyFilter(qb *querysql.Builder, expr any, agg queryir.Aggregator) error {
	parsed, err := ir.Parse(expr)
	if err != nil {
		return err
	}
	if _, ok := parsed.(ir.FunctionCall); !ok {
		return ir.InvalidArgument("filter expression has to be a function call or a set of conditions").WithExpression(ir.ToText(expr))
	}
	f, err := h.ProcessCondition(qb, expr, agg)
	if err != nil {
		return err
	}
	return qb.Filter(f)
}

// ApplySort adds sort keys to qb, in order.
//
// A path crossing a to-many relationship cannot be sorted by without an
// aggregate function around it.
func (h *BuilderHelper) ApplySort(qb *querysql.Builder, keys []ir.SortKey) error {
	for _, key := range keys {
		dir, err := ir.ParseDirection(string(key.Direction))
		if err != nil {
			return err
		}
		f, err := h.ProcessExpression(qb, key.Expression, nil)
		if err != nil {
			return err
		}
		if f.Aggregator != nil {
			return ir.InvalidArgument("sorting by a has-many expression requires an aggregate function").WithExpression(ir.ToText(key.Expression))
		}
		if err := qb.OrderBy(f, dir); err != nil {
			return err
		}
	}
	return nil
}

// ProcessPropertyExpr resolves a path into a column fragment and the
// joins it needs.
//
// Join aliases are derived from the path ("authors_books_tags"), so the
// same path always reuses the same join. Crossing a to-many relationship
// groups the query by the root primary key and leaves agg (or
// aggregate.AnyBuilder) pending on the fragment. A path qualified with
// another entity yields an undefined NULL fragment.
func (h *BuilderHelper) ProcessPropertyExpr(qb *querysql.Builder, expr string, agg queryir.Aggregator) (*queryir.Fragment, error) {
	rp, err := h.resolver.Resolve(expr)
	if err != nil {
		return nil, err
	}
	if rp.Source.Name != qb.Metadata().Name {
		f := queryir.Literal("NULL")
		f.Undefined = true
		return f, nil
	}

	var (
		alias   = qb.RootAlias()
		owner   = rp.Source
		meta    = rp.Source
		prefix  = ""
		joins   []queryir.Join
		groupBy []queryir.Column
		pending queryir.Aggregator
		column  queryir.Column
	)

	for i, token := range rp.Tokens {
		p, err := meta.Property(token)
		if err != nil {
			return nil, withExpression(err, expr)
		}
		last := i == len(rp.Tokens)-1

		if p.IsEmbeddable() {
			prefix = metadata.EmbeddedPrefix(prefix, p.Column)
			meta = p.Embeddable
			continue
		}
		if !p.IsRelationship() {
			column = queryir.Column{Alias: alias, Name: prefix + p.Column}
			break
		}

		rel := p.Relationship
		target, err := relationTarget(h.repo, rel)
		if err != nil {
			return nil, err
		}
		if rel.HoldsForeignKey() && last {
			column = queryir.Column{Alias: alias, Name: prefix + p.Column}
			break
		}

		if rel.IsToMany() && pending == nil {
			pending = agg
			if pending == nil {
				pending = aggregate.AnyBuilder
			}
			groupBy = []queryir.Column{qb.PrimaryColumn()}
		}

		next := alias + "_" + token
		switch {
		case rel.HoldsForeignKey():
			joins = append(joins, queryir.Join{
				Table:  target.Table,
				Alias:  next,
				Column: queryir.Column{Alias: next, Name: target.PrimaryColumn()},
				Parent: queryir.Column{Alias: alias, Name: prefix + p.Column},
			})
		case rel.Kind == metadata.ManyHasMany:
			junction, err := rel.JunctionFor()
			if err != nil {
				return nil, ir.InvalidArgument("%s", err.Error()).WithExpression(expr)
			}
			through := next + "_x"
			joins = append(joins,
				queryir.Join{
					Table:  junction.Table,
					Alias:  through,
					Column: queryir.Column{Alias: through, Name: junction.Column},
					Parent: queryir.Column{Alias: alias, Name: owner.PrimaryColumn()},
				},
				queryir.Join{
					Table:  target.Table,
					Alias:  next,
					Column: queryir.Column{Alias: next, Name: target.PrimaryColumn()},
					Parent: queryir.Column{Alias: through, Name: junction.TargetColumn},
				},
			)
		default:
			reverse, err := target.Property(rel.Property)
			if err != nil {
				return nil, withExpression(err, expr)
			}
			joins = append(joins, queryir.Join{
				Table:  target.Table,
				Alias:  next,
				Column: queryir.Column{Alias: next, Name: reverse.Column},
				Parent: queryir.Column{Alias: alias, Name: owner.PrimaryColumn()},
			})
		}

		alias = next
		owner = target
		meta = target
		prefix = ""
		if last {
			column = queryir.Column{Alias: alias, Name: target.PrimaryColumn()}
		}
	}

	f := queryir.NewColumnFragment(column, rp.Terminal)
	f.Joins = joins
	f.GroupBy = groupBy
	f.Aggregator = pending
	return f, nil
}
