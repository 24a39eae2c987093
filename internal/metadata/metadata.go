// Package metadata describes entity types and holds entity instances for
// collx.
//
// An EntityMetadata lists the properties of one entity type in declaration
// order. A property is a scalar column, a relationship to another entity
// (to-one or to-many), or an embeddable: a group of properties stored in
// the owner's own table.
//
// Registries are built once (by the compiler package from a CUE schema, or
// by hand in tests), finalized, and then only read. Finalize links
// relationships to their target metadata, so evaluators never look entity
// types up by name while walking a path.
package metadata

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/roach88/collx/internal/ir"
)

// Scalar property types.
const (
	TypeInt      = "int"
	TypeFloat    = "float"
	TypeString   = "string"
	TypeBool     = "bool"
	TypeDateTime = "datetime"
	TypeArray    = "array"
)

// ValidTypes defines the allowed scalar property types.
var ValidTypes = map[string]bool{
	TypeInt:      true,
	TypeFloat:    true,
	TypeString:   true,
	TypeBool:     true,
	TypeDateTime: true,
	TypeArray:    true,
}

// RelationshipKind is the cardinality of a relationship.
type RelationshipKind string

const (
	OneHasOne   RelationshipKind = "one_has_one"
	ManyHasOne  RelationshipKind = "many_has_one"
	OneHasMany  RelationshipKind = "one_has_many"
	ManyHasMany RelationshipKind = "many_has_many"
)

// ValidRelationshipKinds defines the allowed relationship kinds.
var ValidRelationshipKinds = map[RelationshipKind]bool{
	OneHasOne:   true,
	ManyHasOne:  true,
	OneHasMany:  true,
	ManyHasMany: true,
}

// IsToMany reports whether the relationship fans out to many entities.
func (k RelationshipKind) IsToMany() bool {
	return k == OneHasMany || k == ManyHasMany
}

// Relationship describes a link from one entity to another.
type Relationship struct {
	Kind RelationshipKind

	// Entity is the name of the target entity.
	Entity string

	// Property is the reverse property on the target entity. Required for
	// one_has_many (the target's many_has_one holding the foreign key) and
	// for the non-main side of one_has_one and many_has_many.
	Property string

	// IsMain marks the owning side of a one_has_one or many_has_many
	// relationship: it holds the foreign key or owns the junction rows.
	IsMain bool

	// Junction describes the join table of a many_has_many relationship.
	Junction *Junction

	// Metadata is the target entity, linked by Registry.Finalize.
	Metadata *EntityMetadata
}

// IsToMany reports whether the relationship fans out to many entities.
func (r *Relationship) IsToMany() bool {
	return r.Kind.IsToMany()
}

// HoldsForeignKey reports whether the owner's table stores the key of the
// related entity.
func (r *Relationship) HoldsForeignKey() bool {
	return r.Kind == ManyHasOne || (r.Kind == OneHasOne && r.IsMain)
}

// Junction is the join table of a many_has_many relationship, seen from
// the side that declares it.
type Junction struct {
	Table string

	// Column references the declaring entity's primary key.
	Column string

	// TargetColumn references the target entity's primary key.
	TargetColumn string
}

// PropertyMetadata describes one property of an entity or embeddable.
type PropertyMetadata struct {
	Name string

	// Column is the storage column name. For a relationship holding a
	// foreign key it is the foreign key column; for an embeddable it is
	// the prefix of the embedded columns.
	Column string

	// Type is one of the scalar types; empty for relationships and
	// embeddables.
	Type string

	Nullable  bool
	IsPrimary bool

	Relationship *Relationship
	Embeddable   *EntityMetadata

	// Wrapper converts property values to their raw storage form.
	Wrapper Wrapper
}

// IsRelationship reports whether the property links to another entity.
func (p *PropertyMetadata) IsRelationship() bool {
	return p.Relationship != nil
}

// IsEmbeddable reports whether the property is an embedded group.
func (p *PropertyMetadata) IsEmbeddable() bool {
	return p.Embeddable != nil
}

// IsScalar reports whether the property holds a plain value.
func (p *PropertyMetadata) IsScalar() bool {
	return p.Relationship == nil && p.Embeddable == nil
}

// EntityMetadata describes an entity type (or an embeddable, which has no
// table and no primary key).
type EntityMetadata struct {
	Name       string
	Table      string
	PrimaryKey string

	properties []*PropertyMetadata
	byName     map[string]*PropertyMetadata
}

// NewEntityMetadata creates metadata for an entity stored in table.
// Pass an empty table and primary key for an embeddable.
func NewEntityMetadata(name, table, primaryKey string) *EntityMetadata {
	return &EntityMetadata{
		Name:       name,
		Table:      table,
		PrimaryKey: primaryKey,
		byName:     make(map[string]*PropertyMetadata),
	}
}

// IsEmbeddable reports whether the metadata describes an embeddable.
func (m *EntityMetadata) IsEmbeddable() bool {
	return m.Table == ""
}

// AddProperty appends a property. The column defaults to the snake_case
// name, or to name_id for a relationship holding a foreign key.
func (m *EntityMetadata) AddProperty(p *PropertyMetadata) error {
	if p.Name == "" {
		return fmt.Errorf("entity %s: property name is required", m.Name)
	}
	if _, exists := m.byName[p.Name]; exists {
		return fmt.Errorf("entity %s: duplicate property %q", m.Name, p.Name)
	}
	if p.Column == "" {
		p.Column = SnakeCase(p.Name)
		if p.Relationship != nil && p.Relationship.HoldsForeignKey() {
			p.Column += "_id"
		}
	}
	if p.Name == m.PrimaryKey {
		p.IsPrimary = true
	}
	m.properties = append(m.properties, p)
	m.byName[p.Name] = p
	return nil
}

// MustAddProperty is like AddProperty but panics on error.
// Use only in tests or when inputs are known to be valid.
func (m *EntityMetadata) MustAddProperty(p *PropertyMetadata) *EntityMetadata {
	if err := m.AddProperty(p); err != nil {
		panic(err)
	}
	return m
}

// Property returns the named property.
// Fails with an invalid-argument error if the property is unknown.
func (m *EntityMetadata) Property(name string) (*PropertyMetadata, error) {
	if p, ok := m.byName[name]; ok {
		return p, nil
	}
	return nil, ir.InvalidArgument("undefined property %s::$%s", m.Name, name)
}

// HasProperty reports whether the property exists.
func (m *EntityMetadata) HasProperty(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Properties returns the properties in declaration order.
func (m *EntityMetadata) Properties() []*PropertyMetadata {
	return m.properties
}

// PrimaryProperty returns the primary key property.
func (m *EntityMetadata) PrimaryProperty() (*PropertyMetadata, error) {
	if m.PrimaryKey == "" {
		return nil, fmt.Errorf("entity %s has no primary key", m.Name)
	}
	return m.Property(m.PrimaryKey)
}

// PrimaryColumn returns the primary key column name.
func (m *EntityMetadata) PrimaryColumn() string {
	if p, ok := m.byName[m.PrimaryKey]; ok {
		return p.Column
	}
	return SnakeCase(m.PrimaryKey)
}

// IsInstance reports whether entity is of this entity type.
func (m *EntityMetadata) IsInstance(entity any) bool {
	e, ok := entity.(Entity)
	if !ok || e == nil {
		return false
	}
	return e.EntityName() == m.Name
}

// Column is a flattened storage column of an entity.
type Column struct {
	// Name is the column name, prefixed for embedded properties.
	Name string

	// Path is the property path from the entity to the column's property.
	Path []string

	Property *PropertyMetadata
}

// Columns flattens the stored columns of the entity in declaration order:
// scalars, foreign keys and embedded columns ("address_city"). To-many and
// reverse relationships have no column.
func (m *EntityMetadata) Columns() []Column {
	var cols []Column
	m.appendColumns(&cols, "", nil)
	return cols
}

func (m *EntityMetadata) appendColumns(cols *[]Column, prefix string, path []string) {
	for _, p := range m.properties {
		propPath := append(append([]string(nil), path...), p.Name)
		switch {
		case p.Embeddable != nil:
			p.Embeddable.appendColumns(cols, EmbeddedPrefix(prefix, p.Column), propPath)
		case p.Relationship != nil:
			if p.Relationship.HoldsForeignKey() {
				*cols = append(*cols, Column{Name: prefix + p.Column, Path: propPath, Property: p})
			}
		default:
			*cols = append(*cols, Column{Name: prefix + p.Column, Path: propPath, Property: p})
		}
	}
}

// EmbeddedPrefix returns the column prefix of the properties inside an
// embeddable stored under column: "address" gives "address_".
func EmbeddedPrefix(prefix, column string) string {
	return prefix + column + "_"
}

// Registry holds the entity and embeddable metadata of a schema.
type Registry struct {
	entities    map[string]*EntityMetadata
	embeddables map[string]*EntityMetadata
	finalized   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities:    make(map[string]*EntityMetadata),
		embeddables: make(map[string]*EntityMetadata),
	}
}

// AddEntity registers an entity.
func (r *Registry) AddEntity(m *EntityMetadata) error {
	if _, exists := r.entities[m.Name]; exists {
		return fmt.Errorf("duplicate entity %q", m.Name)
	}
	r.entities[m.Name] = m
	r.finalized = false
	return nil
}

// AddEmbeddable registers an embeddable.
func (r *Registry) AddEmbeddable(m *EntityMetadata) error {
	if _, exists := r.embeddables[m.Name]; exists {
		return fmt.Errorf("duplicate embeddable %q", m.Name)
	}
	r.embeddables[m.Name] = m
	return nil
}

// Entity returns the named entity metadata.
// Fails with an invalid-argument error if the entity is unknown.
func (r *Registry) Entity(name string) (*EntityMetadata, error) {
	if m, ok := r.entities[name]; ok {
		return m, nil
	}
	return nil, ir.InvalidArgument("unknown entity %q", name)
}

// Embeddable returns the named embeddable metadata.
func (r *Registry) Embeddable(name string) (*EntityMetadata, error) {
	if m, ok := r.embeddables[name]; ok {
		return m, nil
	}
	return nil, ir.InvalidArgument("unknown embeddable %q", name)
}

// EntityNames returns the registered entity names, sorted.
func (r *Registry) EntityNames() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EmbeddableNames returns the registered embeddable names, sorted.
func (r *Registry) EmbeddableNames() []string {
	names := make([]string, 0, len(r.embeddables))
	for name := range r.embeddables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Finalize links every relationship to its target metadata and checks
// reverse properties. It is idempotent.
func (r *Registry) Finalize() error {
	for _, name := range r.EntityNames() {
		m := r.entities[name]
		for _, p := range m.properties {
			rel := p.Relationship
			if rel == nil {
				continue
			}
			target, ok := r.entities[rel.Entity]
			if !ok {
				return fmt.Errorf("entity %s: property %s references unknown entity %q", m.Name, p.Name, rel.Entity)
			}
			rel.Metadata = target
			if err := checkReverse(m, p, target); err != nil {
				return err
			}
		}
	}
	r.finalized = true
	return nil
}

// IsFinalized reports whether Finalize completed since the last change.
func (r *Registry) IsFinalized() bool {
	return r.finalized
}

func checkReverse(owner *EntityMetadata, p *PropertyMetadata, target *EntityMetadata) error {
	rel := p.Relationship
	switch {
	case rel.Kind == ManyHasMany && rel.IsMain:
		if rel.Junction == nil {
			return fmt.Errorf("entity %s: property %s: many_has_many main side requires a junction", owner.Name, p.Name)
		}
		return nil
	case rel.Kind == ManyHasOne || (rel.Kind == OneHasOne && rel.IsMain):
		return nil
	}

	if rel.Property == "" {
		return fmt.Errorf("entity %s: property %s: %s requires a reverse property", owner.Name, p.Name, rel.Kind)
	}
	reverse, ok := target.byName[rel.Property]
	if !ok || reverse.Relationship == nil {
		return fmt.Errorf("entity %s: property %s: reverse relationship %s::$%s does not exist", owner.Name, p.Name, target.Name, rel.Property)
	}
	if rel.Kind == ManyHasMany {
		if reverse.Relationship.Kind != ManyHasMany || !reverse.Relationship.IsMain || reverse.Relationship.Junction == nil {
			return fmt.Errorf("entity %s: property %s: reverse property %s::$%s must be the main many_has_many side", owner.Name, p.Name, target.Name, rel.Property)
		}
		return nil
	}
	if !reverse.Relationship.HoldsForeignKey() {
		return fmt.Errorf("entity %s: property %s: reverse property %s::$%s must hold the foreign key", owner.Name, p.Name, target.Name, rel.Property)
	}
	return nil
}

// JunctionFor returns the junction of a many_has_many relationship as seen
// from its owner: for the non-main side the main side's junction is used
// with its columns swapped. Only valid after Registry.Finalize.
func (r *Relationship) JunctionFor() (*Junction, error) {
	if r.Kind != ManyHasMany {
		return nil, fmt.Errorf("%s relationship has no junction", r.Kind)
	}
	if r.IsMain {
		if r.Junction == nil {
			return nil, fmt.Errorf("many_has_many relationship to %s has no junction", r.Entity)
		}
		return r.Junction, nil
	}
	if r.Metadata == nil {
		return nil, fmt.Errorf("relationship to %s is not linked", r.Entity)
	}
	reverse, ok := r.Metadata.byName[r.Property]
	if !ok || reverse.Relationship == nil || reverse.Relationship.Junction == nil {
		return nil, fmt.Errorf("relationship to %s: reverse side %q has no junction", r.Entity, r.Property)
	}
	j := reverse.Relationship.Junction
	return &Junction{Table: j.Table, Column: j.TargetColumn, TargetColumn: j.Column}, nil
}

// SnakeCase converts a camelCase property name to a snake_case column name.
func SnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
