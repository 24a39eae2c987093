package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/collx/internal/metadata"
)

// columnTypes maps scalar property types to column types per dialect.
// Datetimes are unix seconds.
var columnTypes = map[string]map[string]string{
	DialectSQLite: {
		metadata.TypeInt:      "INTEGER",
		metadata.TypeFloat:    "REAL",
		metadata.TypeString:   "TEXT",
		metadata.TypeBool:     "BOOLEAN",
		metadata.TypeDateTime: "INTEGER",
		metadata.TypeArray:    "TEXT",
	},
	DialectPostgres: {
		metadata.TypeInt:      "BIGINT",
		metadata.TypeFloat:    "DOUBLE PRECISION",
		metadata.TypeString:   "TEXT",
		metadata.TypeBool:     "BOOLEAN",
		metadata.TypeDateTime: "BIGINT",
		metadata.TypeArray:    "TEXT",
	},
}

// CreateSchema creates the tables of every entity in reg.
// It is idempotent.
func (s *Store) CreateSchema(ctx context.Context, reg *metadata.Registry) error {
	stmts, err := SchemaStatements(reg, s.dialect)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// SchemaStatements returns the CREATE TABLE statements of reg: one per
// entity, in name order, each followed by the junction tables the entity
// owns.
func SchemaStatements(reg *metadata.Registry, dialect string) ([]string, error) {
	types, ok := columnTypes[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	var stmts []string
	for _, name := range reg.EntityNames() {
		meta, err := reg.Entity(name)
		if err != nil {
			return nil, err
		}

		var defs []string
		for _, col := range meta.Columns() {
			typ, err := columnType(col.Property, types)
			if err != nil {
				return nil, fmt.Errorf("entity %s: %w", meta.Name, err)
			}
			def := quote(col.Name) + " " + typ
			switch {
			case col.Property.IsPrimary && len(col.Path) == 1:
				def += " PRIMARY KEY"
			case !col.Property.Nullable && len(col.Path) == 1:
				// Embedded columns stay nullable: the embeddable itself may
				// be missing.
				def += " NOT NULL"
			}
			defs = append(defs, def)
		}
		stmts = append(stmts, createTable(meta.Table, defs))

		for _, p := range meta.Properties() {
			rel := p.Relationship
			if rel == nil || rel.Kind != metadata.ManyHasMany || !rel.IsMain {
				continue
			}
			ownerType, err := primaryType(meta, types)
			if err != nil {
				return nil, err
			}
			targetType, err := primaryType(rel.Metadata, types)
			if err != nil {
				return nil, err
			}
			j := rel.Junction
			stmts = append(stmts, createTable(j.Table, []string{
				quote(j.Column) + " " + ownerType + " NOT NULL",
				quote(j.TargetColumn) + " " + targetType + " NOT NULL",
				"PRIMARY KEY (" + quote(j.Column) + ", " + quote(j.TargetColumn) + ")",
			}))
		}
	}
	return stmts, nil
}

func createTable(table string, defs []string) string {
	return "CREATE TABLE IF NOT EXISTS " + quote(table) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
}

func columnType(p *metadata.PropertyMetadata, types map[string]string) (string, error) {
	if p.IsRelationship() {
		if p.Relationship.Metadata == nil {
			return "", fmt.Errorf("relationship %s is not linked", p.Name)
		}
		return primaryType(p.Relationship.Metadata, types)
	}
	typ, ok := types[p.Type]
	if !ok {
		return "", fmt.Errorf("property %s has unsupported type %q", p.Name, p.Type)
	}
	return typ, nil
}

func primaryType(meta *metadata.EntityMetadata, types map[string]string) (string, error) {
	if meta == nil {
		return "", fmt.Errorf("relationship target is not linked")
	}
	pk, err := meta.PrimaryProperty()
	if err != nil {
		return "", err
	}
	return columnType(pk, types)
}

// quote quotes an identifier the way both sqlite and postgres accept.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
