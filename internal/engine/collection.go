package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
)

// Collection is a filtered, ordered and sliced view over the entities of
// one type. ArrayCollection evaluates it in memory, QueryCollection in the
// database; for the same entities both return the same result.
//
// FindBy, OrderBy and Limit return a new collection and leave the receiver
// unchanged. Expression errors surface from Fetch, Count and Aggregate.
type Collection interface {
	// ID identifies the collection in log records.
	ID() string

	// Entity returns the name of the root entity.
	Entity() string

	// FindBy narrows the collection to entities matching expr. Calling it
	// again combines the conditions with AND.
	FindBy(expr any) Collection

	// OrderBy appends sort keys. The primary key, ascending, always breaks
	// the remaining ties.
	OrderBy(keys ...ir.SortKey) Collection

	// Limit restricts the result window. A zero limit means no limit.
	Limit(limit, offset int) Collection

	// Fetch returns the matching entities in order.
	Fetch(ctx context.Context) ([]metadata.Entity, error)

	// Count returns the number of entities Fetch would return.
	Count(ctx context.Context) (int, error)

	// Aggregate reduces path with an aggregate function (SUM, AVG, MIN,
	// MAX, COUNT) for every entity Fetch would return.
	Aggregate(ctx context.Context, function, path string) ([]AggregateValue, error)
}

// AggregateValue is the value an aggregate function yields for one entity.
type AggregateValue struct {
	ID    any
	Value any
}

var aggregateFunctions = map[string]bool{
	ir.FuncSum:   true,
	ir.FuncAvg:   true,
	ir.FuncMin:   true,
	ir.FuncMax:   true,
	ir.FuncCount: true,
}

// criteria is the state shared by both collection kinds.
type criteria struct {
	filters []any
	sort    []ir.SortKey
	limit   int
	offset  int
}

func (c criteria) withFilter(expr any) criteria {
	c.filters = append(slices.Clone(c.filters), expr)
	return c
}

func (c criteria) withSort(keys []ir.SortKey) criteria {
	c.sort = append(slices.Clone(c.sort), keys...)
	return c
}

func (c criteria) withLimit(limit, offset int) criteria {
	c.limit = max(limit, 0)
	c.offset = max(offset, 0)
	return c
}

// filter returns the combined filter expression, or nil when there is
// none.
func (c criteria) filter() any {
	switch len(c.filters) {
	case 0:
		return nil
	case 1:
		return c.filters[0]
	}
	return append([]any{ir.FuncAnd}, c.filters...)
}

// sortKeys returns the sort keys followed by the primary key tiebreak.
func (c criteria) sortKeys(meta *metadata.EntityMetadata) []ir.SortKey {
	return append(slices.Clone(c.sort), ir.SortKey{Expression: meta.PrimaryKey, Direction: ir.Asc})
}

// hash identifies the filter in log records.
func (c criteria) hash() string {
	expr := c.filter()
	if expr == nil {
		return ""
	}
	h, err := ir.FilterHash(expr, "")
	if err != nil {
		return fmt.Sprintf("unhashable: %v", err)
	}
	return h
}

func checkAggregate(function string) error {
	if !aggregateFunctions[function] {
		return NewUnknownAggregateError(function)
	}
	return nil
}
