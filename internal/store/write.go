package store

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
)

// Insert writes entities as rows of their tables, together with the
// junction rows of the many_has_many relationships they own. All rows are
// written in one transaction.
func (s *Store) Insert(ctx context.Context, reg *metadata.Registry, entities ...metadata.Entity) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert: begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		meta, err := reg.Entity(e.EntityName())
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}

		row, err := Row(meta, e)
		if err != nil {
			return fmt.Errorf("insert %s: %w", meta.Name, err)
		}
		if err := s.execInsert(ctx, tx, meta.Table, row); err != nil {
			return fmt.Errorf("insert %s: %w", meta.Name, err)
		}

		for _, p := range meta.Properties() {
			rel := p.Relationship
			if rel == nil || rel.Kind != metadata.ManyHasMany || !rel.IsMain {
				continue
			}
			related, err := metadata.Related(e.GetValue(p.Name))
			if err != nil {
				return fmt.Errorf("insert %s: %s: %w", meta.Name, p.Name, err)
			}
			for _, r := range related {
				junction := goqu.Record{
					rel.Junction.Column:       metadata.PrimaryValue(meta, e),
					rel.Junction.TargetColumn: metadata.PrimaryValue(rel.Metadata, r),
				}
				if err := s.execInsert(ctx, tx, rel.Junction.Table, junction); err != nil {
					return fmt.Errorf("insert %s: %s: %w", meta.Name, p.Name, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert: commit: %w", err)
	}
	return nil
}

func (s *Store) execInsert(ctx context.Context, tx *sqlx.Tx, table string, row goqu.Record) error {
	query, args, err := s.goqu.Insert(table).Rows(row).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("render insert into %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

// Row converts an entity into its column values, keyed by column name.
func Row(meta *metadata.EntityMetadata, e metadata.Entity) (goqu.Record, error) {
	row := goqu.Record{}
	for _, col := range meta.Columns() {
		v, err := ColumnValue(e, col)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		row[col.Name] = v
	}
	return row, nil
}

// ColumnValue reads the value of one flattened column from e and converts
// it to its stored form. A missing embeddable reads as null.
func ColumnValue(e metadata.Entity, col metadata.Column) (any, error) {
	var holder metadata.ValueHolder = e
	var v any
	for i, name := range col.Path {
		if holder == nil || !holder.HasValue(name) {
			return nil, nil
		}
		v = holder.GetValue(name)
		if i < len(col.Path)-1 {
			holder, _ = v.(metadata.ValueHolder)
		}
	}
	return storedValue(col.Property, v)
}

func storedValue(p *metadata.PropertyMetadata, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case p.IsRelationship():
		if e, ok := v.(metadata.Entity); ok {
			return metadata.PrimaryValue(p.Relationship.Metadata, e), nil
		}
		return v, nil
	case p.Wrapper != nil:
		return p.Wrapper.ConvertToRawValue(v)
	case p.Type == metadata.TypeDateTime:
		return metadata.ToUnix(v)
	case p.Type == metadata.TypeArray:
		normalized, err := ir.NormalizeLiteral(v)
		if err != nil {
			return nil, err
		}
		data, err := ir.MarshalCanonical(normalized)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return v, nil
}
