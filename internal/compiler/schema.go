package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/collx/internal/metadata"
)

// CompileSchema builds a metadata registry from a CUE value holding
// `entity` and `embeddable` structs. Uses the CUE SDK's Go API directly.
//
//	embeddable: Geo: property: {
//		lat: {type: "float", nullable: true}
//	}
//	entity: Author: {
//		table: "authors"
//		property: {
//			id:    {type: "int"}
//			geo:   {embed: "Geo"}
//			books: {relation: "one_has_many", target: "Book", inverse: "author"}
//		}
//	}
//
// Properties keep their declaration order. The registry is returned
// unfinalized: run Validate, then Finalize.
func CompileSchema(v cue.Value) (*metadata.Registry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	reg := metadata.NewRegistry()

	// Embeddables are created first and filled in afterwards, so they may
	// reference each other in any order.
	embeddables := make(map[string]*metadata.EntityMetadata)
	embVal := v.LookupPath(cue.ParsePath("embeddable"))
	if embVal.Exists() {
		iter, err := embVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			m := metadata.NewEntityMetadata(iter.Label(), "", "")
			embeddables[m.Name] = m
			if err := reg.AddEmbeddable(m); err != nil {
				return nil, &CompileError{Field: "embeddable", Message: err.Error(), Pos: iter.Value().Pos()}
			}
		}
		iter, _ = embVal.Fields()
		for iter.Next() {
			if err := compileProperties(embeddables[iter.Label()], iter.Value(), embeddables); err != nil {
				return nil, err
			}
		}
	}

	entVal := v.LookupPath(cue.ParsePath("entity"))
	if !entVal.Exists() {
		return nil, &CompileError{
			Field:   "entity",
			Message: "at least one entity is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := entVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		m, err := compileEntity(iter.Label(), iter.Value(), embeddables)
		if err != nil {
			return nil, err
		}
		if err := reg.AddEntity(m); err != nil {
			return nil, &CompileError{Field: "entity", Message: err.Error(), Pos: iter.Value().Pos()}
		}
	}
	return reg, nil
}

func compileEntity(name string, v cue.Value, embeddables map[string]*metadata.EntityMetadata) (*metadata.EntityMetadata, error) {
	table, err := optionalString(v, "table", metadata.SnakeCase(name)+"s")
	if err != nil {
		return nil, err
	}
	pk, err := optionalString(v, "primary_key", "id")
	if err != nil {
		return nil, err
	}
	m := metadata.NewEntityMetadata(name, table, pk)
	if err := compileProperties(m, v, embeddables); err != nil {
		return nil, err
	}
	return m, nil
}

// compileProperties adds the properties declared under v.property to m.
func compileProperties(m *metadata.EntityMetadata, v cue.Value, embeddables map[string]*metadata.EntityMetadata) error {
	propsVal := v.LookupPath(cue.ParsePath("property"))
	if !propsVal.Exists() {
		return &CompileError{
			Field:   "property",
			Message: fmt.Sprintf("%s declares no properties", m.Name),
			Pos:     v.Pos(),
		}
	}
	iter, err := propsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		p, err := compileProperty(iter.Label(), iter.Value(), embeddables)
		if err != nil {
			return err
		}
		if err := m.AddProperty(p); err != nil {
			return &CompileError{Field: "property", Message: err.Error(), Pos: iter.Value().Pos()}
		}
	}
	return nil
}

func compileProperty(name string, v cue.Value, embeddables map[string]*metadata.EntityMetadata) (*metadata.PropertyMetadata, error) {
	p := &metadata.PropertyMetadata{Name: name}

	var err error
	if p.Column, err = optionalString(v, "column", ""); err != nil {
		return nil, err
	}
	if p.Nullable, err = optionalBool(v, "nullable"); err != nil {
		return nil, err
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	embedVal := v.LookupPath(cue.ParsePath("embed"))
	relVal := v.LookupPath(cue.ParsePath("relation"))

	declared := 0
	for _, val := range []cue.Value{typeVal, embedVal, relVal} {
		if val.Exists() {
			declared++
		}
	}
	if declared != 1 {
		return nil, &CompileError{
			Field:   "property." + name,
			Message: "exactly one of type, embed or relation is required",
			Pos:     v.Pos(),
		}
	}

	switch {
	case typeVal.Exists():
		if p.Type, err = typeVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
		if !metadata.ValidTypes[p.Type] {
			return nil, &CompileError{
				Field:   "type",
				Message: fmt.Sprintf("unsupported property type %q", p.Type),
				Pos:     typeVal.Pos(),
			}
		}

	case embedVal.Exists():
		embName, err := embedVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		emb, ok := embeddables[embName]
		if !ok {
			return nil, &CompileError{
				Field:   "embed",
				Message: fmt.Sprintf("unknown embeddable %q", embName),
				Pos:     embedVal.Pos(),
			}
		}
		p.Embeddable = emb

	default:
		rel, err := compileRelationship(relVal, v)
		if err != nil {
			return nil, err
		}
		p.Relationship = rel
	}
	return p, nil
}

func compileRelationship(kindVal, v cue.Value) (*metadata.Relationship, error) {
	kind, err := kindVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if !metadata.ValidRelationshipKinds[metadata.RelationshipKind(kind)] {
		return nil, &CompileError{
			Field:   "relation",
			Message: fmt.Sprintf("unsupported relation %q", kind),
			Pos:     kindVal.Pos(),
		}
	}
	rel := &metadata.Relationship{Kind: metadata.RelationshipKind(kind)}

	targetVal := v.LookupPath(cue.ParsePath("target"))
	if !targetVal.Exists() {
		return nil, &CompileError{
			Field:   "target",
			Message: "relation target is required",
			Pos:     v.Pos(),
		}
	}
	if rel.Entity, err = targetVal.String(); err != nil {
		return nil, formatCUEError(err)
	}
	if rel.Property, err = optionalString(v, "inverse", ""); err != nil {
		return nil, err
	}
	if rel.IsMain, err = optionalBool(v, "main"); err != nil {
		return nil, err
	}
	if rel.Kind == metadata.ManyHasOne {
		rel.IsMain = true
	}

	junctionVal := v.LookupPath(cue.ParsePath("junction"))
	if junctionVal.Exists() {
		j := &metadata.Junction{}
		fields := []struct {
			name string
			dst  *string
		}{
			{"table", &j.Table},
			{"column", &j.Column},
			{"target_column", &j.TargetColumn},
		}
		for _, f := range fields {
			val := junctionVal.LookupPath(cue.ParsePath(f.name))
			if !val.Exists() {
				return nil, &CompileError{
					Field:   "junction." + f.name,
					Message: "junction " + f.name + " is required",
					Pos:     junctionVal.Pos(),
				}
			}
			if *f.dst, err = val.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		rel.Junction = j
	}
	return rel, nil
}

func optionalString(v cue.Value, field, fallback string) (string, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return fallback, nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return false, nil
	}
	b, err := val.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
