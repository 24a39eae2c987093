package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/collx/internal/collection"
	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
)

// ArrayCollection evaluates a collection over entities held in memory.
type ArrayCollection struct {
	id       string
	helper   *collection.ArrayHelper
	meta     *metadata.EntityMetadata
	entities []metadata.Entity
	criteria criteria
	logger   *slog.Logger
}

var _ Collection = (*ArrayCollection)(nil)

// NewArrayCollection creates a collection over entities, rooted at the
// repository's root entity. Entities of other types never match a filter.
func NewArrayCollection(id string, repo collection.Repository, entities []metadata.Entity, logger *slog.Logger) *ArrayCollection {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArrayCollection{
		id:       id,
		helper:   collection.NewArrayHelper(repo),
		meta:     repo.RootMetadata(),
		entities: entities,
		logger:   logger,
	}
}

// ID implements Collection.
func (c *ArrayCollection) ID() string { return c.id }

// Entity implements Collection.
func (c *ArrayCollection) Entity() string { return c.meta.Name }

// FindBy implements Collection.
func (c *ArrayCollection) FindBy(expr any) Collection {
	out := *c
	out.criteria = c.criteria.withFilter(expr)
	return &out
}

// OrderBy implements Collection.
func (c *ArrayCollection) OrderBy(keys ...ir.SortKey) Collection {
	out := *c
	out.criteria = c.criteria.withSort(keys)
	return &out
}

// Limit implements Collection.
func (c *ArrayCollection) Limit(limit, offset int) Collection {
	out := *c
	out.criteria = c.criteria.withLimit(limit, offset)
	return &out
}

// Fetch implements Collection. The context is unused; evaluation never
// blocks.
func (c *ArrayCollection) Fetch(ctx context.Context) ([]metadata.Entity, error) {
	matched, err := c.match()
	if err != nil {
		return nil, err
	}

	sorter, err := c.helper.CreateSorter(c.criteria.sortKeys(c.meta))
	if err != nil {
		return nil, err
	}
	if err := collection.SortStable(matched, sorter); err != nil {
		return nil, err
	}
	matched = window(matched, c.criteria.limit, c.criteria.offset)

	c.logger.Debug("collection fetched",
		"collection", c.id,
		"entity", c.meta.Name,
		"mode", "array",
		"expression_hash", c.criteria.hash(),
		"rows", len(matched),
	)
	return matched, nil
}

// match returns the entities of the root type that satisfy every filter,
// in input order.
func (c *ArrayCollection) match() ([]metadata.Entity, error) {
	var filter collection.Filter
	if expr := c.criteria.filter(); expr != nil {
		f, err := c.helper.CreateFilter(expr, nil)
		if err != nil {
			return nil, err
		}
		filter = f
	}

	matched := make([]metadata.Entity, 0, len(c.entities))
	for _, e := range c.entities {
		if e == nil || !c.meta.IsInstance(e) {
			continue
		}
		if filter != nil {
			res, err := filter(e)
			if err != nil {
				return nil, err
			}
			if !ir.Truthy(res.Reduce()) {
				continue
			}
		}
		matched = append(matched, e)
	}
	return matched, nil
}

// Count implements Collection.
func (c *ArrayCollection) Count(ctx context.Context) (int, error) {
	entities, err := c.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	return len(entities), nil
}

// Aggregate implements Collection.
func (c *ArrayCollection) Aggregate(ctx context.Context, function, path string) ([]AggregateValue, error) {
	if err := checkAggregate(function); err != nil {
		return nil, err
	}
	entities, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	expr := []any{function, path}
	out := make([]AggregateValue, 0, len(entities))
	for _, e := range entities {
		res, err := c.helper.GetValue(e, expr, nil)
		if err != nil {
			return nil, err
		}
		value := res.Reduce()
		if ir.IsUndefined(value) {
			value = nil
		}
		out = append(out, AggregateValue{ID: metadata.PrimaryValue(c.meta, e), Value: value})
	}
	return out, nil
}

func window(entities []metadata.Entity, limit, offset int) []metadata.Entity {
	if offset >= len(entities) {
		return []metadata.Entity{}
	}
	entities = entities[offset:]
	if limit > 0 && limit < len(entities) {
		entities = entities[:limit]
	}
	return entities
}
