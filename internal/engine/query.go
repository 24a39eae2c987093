package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/collx/internal/collection"
	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/querysql"
	"github.com/roach88/collx/internal/store"
)

// QueryCollection evaluates a collection in the database. The query
// selects primary keys; entities are hydrated from the identity map.
type QueryCollection struct {
	id       string
	helper   *collection.BuilderHelper
	meta     *metadata.EntityMetadata
	dialect  string
	store    *store.Store
	identity *IdentityMap
	criteria criteria
	logger   *slog.Logger
}

var _ Collection = (*QueryCollection)(nil)

// NewQueryCollection creates a collection rendered in dialect. The store
// may be nil for a collection that is only rendered with SQL.
func NewQueryCollection(id string, repo collection.Repository, dialect string, s *store.Store, identity *IdentityMap, logger *slog.Logger) *QueryCollection {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryCollection{
		id:       id,
		helper:   collection.NewBuilderHelper(repo),
		meta:     repo.RootMetadata(),
		dialect:  dialect,
		store:    s,
		identity: identity,
		logger:   logger,
	}
}

// ID implements Collection.
func (c *QueryCollection) ID() string { return c.id }

// Entity implements Collection.
func (c *QueryCollection) Entity() string { return c.meta.Name }

// FindBy implements Collection.
func (c *QueryCollection) FindBy(expr any) Collection {
	out := *c
	out.criteria = c.criteria.withFilter(expr)
	return &out
}

// OrderBy implements Collection.
func (c *QueryCollection) OrderBy(keys ...ir.SortKey) Collection {
	out := *c
	out.criteria = c.criteria.withSort(keys)
	return &out
}

// Limit implements Collection.
func (c *QueryCollection) Limit(limit, offset int) Collection {
	out := *c
	out.criteria = c.criteria.withLimit(limit, offset)
	return &out
}

// builder composes the collection's criteria into a query builder.
func (c *QueryCollection) builder() (*querysql.Builder, error) {
	qb, err := querysql.NewBuilder(c.dialect, c.meta)
	if err != nil {
		return nil, err
	}
	if expr := c.criteria.filter(); expr != nil {
		if err := c.helper.ApplyFilter(qb, expr, nil); err != nil {
			return nil, err
		}
	}
	if err := c.helper.ApplySort(qb, c.criteria.sort); err != nil {
		return nil, err
	}
	qb.Limit(uint(c.criteria.limit), uint(c.criteria.offset))
	return qb, nil
}

// SQL renders the query Fetch runs.
func (c *QueryCollection) SQL() (string, []any, error) {
	qb, err := c.builder()
	if err != nil {
		return "", nil, err
	}
	return qb.ToSQL()
}

func (c *QueryCollection) ids(ctx context.Context) ([]any, error) {
	if c.store == nil {
		return nil, NewNoStoreError(c.id, c.meta.Name)
	}
	query, args, err := c.SQL()
	if err != nil {
		return nil, err
	}
	ids, err := c.store.SelectIDs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.meta.Name, err)
	}
	return ids, nil
}

// Fetch implements Collection.
func (c *QueryCollection) Fetch(ctx context.Context) ([]metadata.Entity, error) {
	ids, err := c.ids(ctx)
	if err != nil {
		return nil, err
	}

	entities := make([]metadata.Entity, 0, len(ids))
	for _, id := range ids {
		e, ok := c.identity.Get(c.meta.Name, id)
		if !ok {
			return nil, NewNotLoadedError(c.id, c.meta.Name, id)
		}
		entities = append(entities, e)
	}

	c.logger.Debug("collection fetched",
		"collection", c.id,
		"entity", c.meta.Name,
		"mode", "query",
		"dialect", c.dialect,
		"expression_hash", c.criteria.hash(),
		"rows", len(entities),
	)
	return entities, nil
}

// Count implements Collection. Only primary keys are read.
func (c *QueryCollection) Count(ctx context.Context) (int, error) {
	ids, err := c.ids(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Aggregate implements Collection. The aggregate is selected next to the
// primary key and computed per root entity by the database.
func (c *QueryCollection) Aggregate(ctx context.Context, function, path string) ([]AggregateValue, error) {
	if err := checkAggregate(function); err != nil {
		return nil, err
	}
	if c.store == nil {
		return nil, NewNoStoreError(c.id, c.meta.Name)
	}

	qb, err := c.builder()
	if err != nil {
		return nil, err
	}
	f, err := c.helper.ProcessCondition(qb, []any{function, path}, nil)
	if err != nil {
		return nil, err
	}
	if err := qb.Select(f); err != nil {
		return nil, err
	}
	query, args, err := qb.ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := c.store.SelectRows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", c.meta.Name, err)
	}
	out := make([]AggregateValue, 0, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("aggregate %s: expected 2 columns, got %d", c.meta.Name, len(row))
		}
		out = append(out, AggregateValue{ID: row[0], Value: row[1]})
	}

	c.logger.Debug("collection aggregated",
		"collection", c.id,
		"entity", c.meta.Name,
		"mode", "query",
		"function", function,
		"path", path,
		"rows", len(out),
	)
	return out, nil
}
