package collection

import (
	"slices"

	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
)

// Sorter compares two entities: negative when a sorts first.
type Sorter func(a, b metadata.Entity) (int, error)

type sortColumn struct {
	key       ir.SortKey
	direction ir.Direction
	path      *ResolvedPath
	fn        ArrayFunction
	args      []any
}

// CreateSorter compiles sort keys into a comparator. Every key is resolved
// up front, so a bad path or direction fails here and not mid-sort.
//
// Keys apply in order; the first key telling the entities apart wins. A
// path crossing a to-many relationship needs an aggregate function around
// it, as in builder mode. Nulls (and values undefined for the entity) sort last under ASC and
// DESC, or as the direction's NULLS suffix says.
func (h *ArrayHelper) CreateSorter(keys []ir.SortKey) (Sorter, error) {
	columns := make([]sortColumn, 0, len(keys))
	for _, key := range keys {
		dir, err := ir.ParseDirection(string(key.Direction))
		if err != nil {
			return nil, err
		}
		col := sortColumn{key: key, direction: dir}

		parsed, err := ir.Parse(key.Expression)
		if err != nil {
			return nil, err
		}
		switch e := parsed.(type) {
		case ir.PropertyPath:
			col.path, err = h.resolver.Resolve(e.Raw)
			if err == nil && col.path.ToMany {
				err = ir.InvalidArgument("sorting by a has-many expression requires an aggregate function").WithExpression(e.Raw)
			}
		case ir.FunctionCall:
			if err = h.precompile(e); err == nil {
				col.fn, err = h.function(e.Name)
			}
			col.args = e.Args
		}
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}

	return func(a, b metadata.Entity) (int, error) {
		for _, col := range columns {
			va, err := h.sortValue(col, a)
			if err != nil {
				return 0, err
			}
			vb, err := h.sortValue(col, b)
			if err != nil {
				return 0, err
			}
			if c := compareSortValues(va, vb, col.direction); c != 0 {
				return c, nil
			}
		}
		return 0, nil
	}, nil
}

func (h *ArrayHelper) sortValue(col sortColumn, entity metadata.Entity) (any, error) {
	var (
		res ArrayResult
		err error
	)
	if col.path != nil {
		res, err = h.GetValueByTokens(entity, col.path.Tokens, col.path.Source, nil)
	} else {
		res, err = col.fn.ProcessArrayExpression(h, entity, col.args, nil)
	}
	if err != nil {
		return nil, err
	}
	v := res.Reduce()
	if ir.IsUndefined(v) {
		return nil, nil
	}
	return v, nil
}

func compareSortValues(a, b any, dir ir.Direction) int {
	if a == nil || b == nil {
		c := 0
		switch {
		case a == nil && b != nil:
			c = -1
		case a != nil && b == nil:
			c = 1
		}
		if dir.NullsFirst() {
			return c
		}
		return -c
	}
	c := ir.Compare(a, b)
	if dir.IsDescending() {
		return -c
	}
	return c
}

// SortStable sorts entities in place with sorter, keeping the relative
// order of entities it considers equal. It stops comparing at the first
// error and returns it; the order of entities is then unspecified.
func SortStable(entities []metadata.Entity, sorter Sorter) error {
	var sortErr error
	slices.SortStableFunc(entities, func(a, b metadata.Entity) int {
		if sortErr != nil {
			return 0
		}
		c, err := sorter(a, b)
		if err != nil {
			sortErr = err
			return 0
		}
		return c
	})
	return sortErr
}
