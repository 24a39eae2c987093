package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/collx/internal/metadata"
)

// Validation error codes (E100-E199)
const (
	// Entity errors (E101-E109)
	ErrEntityNoTable       = "E101" // table is required
	ErrMissingPrimaryKey   = "E102" // primary key property not declared
	ErrPrimaryKeyNotScalar = "E103" // primary key must be a scalar
	ErrInvalidFieldType    = "E104" // invalid type string
	ErrDuplicateColumn     = "E105" // two properties store into one column
	ErrDuplicateTable      = "E106" // two entities share a table

	// Relationship errors (E110-E119)
	ErrUnknownTarget        = "E110" // relation target is not an entity
	ErrMissingInverse       = "E111" // reverse side without an inverse property
	ErrInvalidJunction      = "E112" // junction missing or misplaced
	ErrInverseMismatch      = "E113" // inverse property does not point back
	ErrEmbeddedRelationship = "E114" // relationships inside an embeddable

	// Embeddable errors (E120-E129)
	ErrEmbedCycle      = "E120" // embeddable embeds itself
	ErrEmptyEmbeddable = "E121" // embeddable declares no properties
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled registry against the schema rules.
// Returns all errors found (does not fail-fast), ordered by entity name.
// A registry with no errors can be finalized.
func Validate(reg *metadata.Registry) []ValidationError {
	var errs []ValidationError

	// An embeddable cycle makes the column list infinite, so column checks
	// only run on an acyclic registry.
	acyclic := true
	for _, c := range AnalyzeCycles(reg) {
		if c.Level != LevelError {
			continue
		}
		acyclic = false
		errs = append(errs, ValidationError{
			Field:   c.Path[0],
			Message: c.Message,
			Code:    ErrEmbedCycle,
		})
	}

	for _, name := range reg.EmbeddableNames() {
		m, _ := reg.Embeddable(name)
		errs = append(errs, validateEmbeddable(m)...)
	}

	tables := make(map[string]string)
	for _, name := range reg.EntityNames() {
		m, _ := reg.Entity(name)
		errs = append(errs, validateEntity(reg, m, acyclic)...)

		if m.Table == "" {
			continue
		}
		// E106: duplicate table
		if other, exists := tables[m.Table]; exists {
			errs = append(errs, ValidationError{
				Field:   m.Name + ".table",
				Message: fmt.Sprintf("table %q is already used by %s", m.Table, other),
				Code:    ErrDuplicateTable,
			})
			continue
		}
		tables[m.Table] = m.Name
	}

	return errs
}

func validateEmbeddable(m *metadata.EntityMetadata) []ValidationError {
	var errs []ValidationError

	// E121: empty embeddable
	if len(m.Properties()) == 0 {
		errs = append(errs, ValidationError{
			Field:   m.Name,
			Message: "embeddable declares no properties",
			Code:    ErrEmptyEmbeddable,
		})
	}

	for _, p := range m.Properties() {
		field := m.Name + "." + p.Name
		switch {
		case p.Relationship != nil:
			// E114: relationships belong to entities
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "embeddables cannot hold relationships",
				Code:    ErrEmbeddedRelationship,
			})
		case p.Embeddable == nil:
			errs = append(errs, validateFieldType(p, field)...)
		}
	}
	return errs
}

func validateEntity(reg *metadata.Registry, m *metadata.EntityMetadata, acyclic bool) []ValidationError {
	var errs []ValidationError

	// E101: table is required
	if strings.TrimSpace(m.Table) == "" {
		errs = append(errs, ValidationError{
			Field:   m.Name + ".table",
			Message: "table is required and must be non-empty",
			Code:    ErrEntityNoTable,
		})
	}

	// E102, E103: primary key
	pk, ok := findProperty(m, m.PrimaryKey)
	switch {
	case !ok:
		errs = append(errs, ValidationError{
			Field:   m.Name + ".primary_key",
			Message: fmt.Sprintf("primary key %q is not a declared property", m.PrimaryKey),
			Code:    ErrMissingPrimaryKey,
		})
	case !pk.IsScalar():
		errs = append(errs, ValidationError{
			Field:   m.Name + "." + pk.Name,
			Message: "primary key must be a scalar property",
			Code:    ErrPrimaryKeyNotScalar,
		})
	}

	for _, p := range m.Properties() {
		field := m.Name + "." + p.Name
		switch {
		case p.Relationship != nil:
			errs = append(errs, validateRelationship(reg, m, p, field)...)
		case p.Embeddable == nil:
			errs = append(errs, validateFieldType(p, field)...)
		}
	}

	// E105: duplicate column
	if acyclic {
		columns := make(map[string]string)
		for _, col := range m.Columns() {
			path := strings.Join(col.Path, ".")
			if other, exists := columns[col.Name]; exists {
				errs = append(errs, ValidationError{
					Field:   m.Name + "." + path,
					Message: fmt.Sprintf("column %q is already used by %s", col.Name, other),
					Code:    ErrDuplicateColumn,
				})
				continue
			}
			columns[col.Name] = path
		}
	}

	return errs
}

// validateFieldType validates the type of a scalar property.
func validateFieldType(p *metadata.PropertyMetadata, field string) []ValidationError {
	// E104: check for valid type
	if metadata.ValidTypes[p.Type] {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Message: fmt.Sprintf("invalid type %q for property %q", p.Type, p.Name),
		Code:    ErrInvalidFieldType,
	}}
}

func validateRelationship(reg *metadata.Registry, owner *metadata.EntityMetadata, p *metadata.PropertyMetadata, field string) []ValidationError {
	rel := p.Relationship

	// E110: unknown target
	target, err := reg.Entity(rel.Entity)
	if err != nil {
		return []ValidationError{{
			Field:   field,
			Message: fmt.Sprintf("relation target %q is not an entity", rel.Entity),
			Code:    ErrUnknownTarget,
		}}
	}

	var errs []ValidationError

	// E112: junction belongs to the main many_has_many side only
	mainManyToMany := rel.Kind == metadata.ManyHasMany && rel.IsMain
	switch {
	case mainManyToMany && rel.Junction == nil:
		errs = append(errs, ValidationError{
			Field:   field + ".junction",
			Message: "the main many_has_many side requires a junction",
			Code:    ErrInvalidJunction,
		})
	case !mainManyToMany && rel.Junction != nil:
		errs = append(errs, ValidationError{
			Field:   field + ".junction",
			Message: "only the main many_has_many side declares a junction",
			Code:    ErrInvalidJunction,
		})
	}

	if mainManyToMany || rel.HoldsForeignKey() {
		return errs
	}

	// E111: the reverse side names the owning property
	if rel.Property == "" {
		return append(errs, ValidationError{
			Field:   field + ".inverse",
			Message: fmt.Sprintf("%s requires an inverse property on %s", rel.Kind, target.Name),
			Code:    ErrMissingInverse,
		})
	}
	reverse, ok := findProperty(target, rel.Property)
	if !ok || reverse.Relationship == nil {
		return append(errs, ValidationError{
			Field:   field + ".inverse",
			Message: fmt.Sprintf("inverse relationship %s::$%s does not exist", target.Name, rel.Property),
			Code:    ErrMissingInverse,
		})
	}

	// E113: the inverse points back with the owning cardinality
	back := reverse.Relationship
	var want string
	switch rel.Kind {
	case metadata.ManyHasMany:
		if back.Kind != metadata.ManyHasMany || !back.IsMain {
			want = "the main many_has_many side"
		}
	case metadata.OneHasMany:
		if back.Kind != metadata.ManyHasOne {
			want = "a many_has_one relationship"
		}
	default:
		if back.Kind != metadata.OneHasOne || !back.IsMain {
			want = "the main one_has_one side"
		}
	}
	if want == "" && back.Entity != owner.Name {
		want = "a relationship to " + owner.Name
	}
	if want != "" {
		errs = append(errs, ValidationError{
			Field:   field + ".inverse",
			Message: fmt.Sprintf("inverse %s::$%s must be %s", target.Name, rel.Property, want),
			Code:    ErrInverseMismatch,
		})
	}
	return errs
}

func findProperty(m *metadata.EntityMetadata, name string) (*metadata.PropertyMetadata, bool) {
	if !m.HasProperty(name) {
		return nil, false
	}
	p, _ := m.Property(name)
	return p, true
}
