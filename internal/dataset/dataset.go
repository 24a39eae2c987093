// Package dataset loads entity records from YAML files.
//
// A dataset file maps entity names to lists of records:
//
//	Author:
//	  - id: 1
//	    name: Alice
//	    address: {city: Prague, geo: {lat: 50.08, lng: 14.42}}
//	Book:
//	  - id: 10
//	    title: Go in Action
//	    author: 1
//	    tags: [1, 2]
//
// Relationships are written on the side that owns them (the side holding
// the foreign key, or the main side of a many_has_many) as primary keys.
// Loading links them to records and fills in the reverse sides, so the
// graph can be walked in every direction.
package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
)

// Dataset holds the records of a loaded file.
type Dataset struct {
	registry *metadata.Registry
	records  map[string][]*metadata.Record
	byKey    map[string]map[string]*metadata.Record
}

// LoadFile reads a dataset file.
func LoadFile(path string, reg *metadata.Registry) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	ds, err := Load(bytes.NewReader(data), reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Load decodes a dataset and links its records.
func Load(r io.Reader, reg *metadata.Registry) (*Dataset, error) {
	var raw map[string][]map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	ds := &Dataset{
		registry: reg,
		records:  make(map[string][]*metadata.Record),
		byKey:    make(map[string]map[string]*metadata.Record),
	}

	// First pass: create every record, so references can point forward.
	for _, name := range sortedNames(raw) {
		meta, err := reg.Entity(name)
		if err != nil {
			return nil, err
		}
		ds.byKey[name] = make(map[string]*metadata.Record)
		for i, values := range raw[name] {
			rec, err := ds.newRecord(meta, values)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
			}
			key := ir.ToText(rec.GetValue(meta.PrimaryKey))
			if _, dup := ds.byKey[name][key]; dup {
				return nil, fmt.Errorf("%s[%d]: duplicate primary key %s", name, i, key)
			}
			ds.byKey[name][key] = rec
			ds.records[name] = append(ds.records[name], rec)
		}
	}

	// Unset to-many and reverse to-one properties start empty.
	for _, name := range reg.EntityNames() {
		meta, _ := reg.Entity(name)
		for _, rec := range ds.records[name] {
			for _, p := range meta.Properties() {
				if !p.IsRelationship() || rec.HasValue(p.Name) {
					continue
				}
				switch {
				case p.Relationship.IsToMany():
					rec.SetValue(p.Name, []metadata.Entity{})
				case !p.Relationship.HoldsForeignKey():
					rec.SetValue(p.Name, nil)
				}
			}
		}
	}

	// Second pass: resolve owned references and fill in the reverse sides.
	for _, name := range sortedNames(raw) {
		meta, _ := reg.Entity(name)
		for i, rec := range ds.records[name] {
			if err := ds.link(meta, rec); err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
			}
		}
	}
	return ds, nil
}

func (ds *Dataset) newRecord(meta *metadata.EntityMetadata, values map[string]any) (*metadata.Record, error) {
	if _, ok := values[meta.PrimaryKey]; !ok {
		return nil, fmt.Errorf("missing primary key %q", meta.PrimaryKey)
	}
	out := make(map[string]any, len(values))
	for key, v := range values {
		p, err := meta.Property(key)
		if err != nil {
			return nil, err
		}
		if p.IsRelationship() && !p.Relationship.HoldsForeignKey() && !isOwnedManyToMany(p) {
			return nil, fmt.Errorf("property %s is the reverse side of a relationship; set %s::$%s instead", key, p.Relationship.Entity, p.Relationship.Property)
		}
		n, err := ir.NormalizeLiteral(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", key, err)
		}
		if p.IsEmbeddable() {
			n, err = embedded(p.Embeddable, n)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", key, err)
			}
		}
		out[key] = n
	}
	return metadata.NewRecord(meta.Name, out), nil
}

// embedded converts a decoded map into nested metadata.Values.
func embedded(meta *metadata.EntityMetadata, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("embeddable %s expects a mapping, got %T", meta.Name, v)
	}
	out := make(metadata.Values, len(m))
	for key, value := range m {
		p, err := meta.Property(key)
		if err != nil {
			return nil, err
		}
		if p.IsEmbeddable() {
			value, err = embedded(p.Embeddable, value)
			if err != nil {
				return nil, err
			}
		}
		out[key] = value
	}
	return out, nil
}

func (ds *Dataset) link(meta *metadata.EntityMetadata, rec *metadata.Record) error {
	for _, p := range meta.Properties() {
		rel := p.Relationship
		if rel == nil || !rec.HasValue(p.Name) {
			continue
		}
		switch {
		case rel.HoldsForeignKey():
			key := rec.GetValue(p.Name)
			if key == nil {
				continue
			}
			target, err := ds.lookup(rel.Entity, key)
			if err != nil {
				return fmt.Errorf("property %s: %w", p.Name, err)
			}
			rec.SetValue(p.Name, target)
			if reverse := reverseOf(meta, p, rel.Metadata); reverse != nil {
				attach(target, reverse, rec)
			}

		case isOwnedManyToMany(p):
			keys, ok := rec.GetValue(p.Name).([]any)
			if _, linked := rec.GetValue(p.Name).([]metadata.Entity); linked {
				continue
			}
			if !ok {
				return fmt.Errorf("property %s expects a list of primary keys", p.Name)
			}
			related := make([]metadata.Entity, 0, len(keys))
			for _, key := range keys {
				target, err := ds.lookup(rel.Entity, key)
				if err != nil {
					return fmt.Errorf("property %s: %w", p.Name, err)
				}
				related = append(related, target)
				if reverse := reverseOf(meta, p, rel.Metadata); reverse != nil {
					attach(target, reverse, rec)
				}
			}
			rec.SetValue(p.Name, related)
		}
	}
	return nil
}

func (ds *Dataset) lookup(entity string, key any) (*metadata.Record, error) {
	rec, ok := ds.byKey[entity][ir.ToText(key)]
	if !ok {
		return nil, fmt.Errorf("%s with primary key %v does not exist", entity, key)
	}
	return rec, nil
}

// reverseOf finds the property of target that mirrors p.
func reverseOf(owner *metadata.EntityMetadata, p *metadata.PropertyMetadata, target *metadata.EntityMetadata) *metadata.PropertyMetadata {
	if target == nil {
		return nil
	}
	for _, candidate := range target.Properties() {
		rel := candidate.Relationship
		if rel != nil && rel.Entity == owner.Name && rel.Property == p.Name {
			return candidate
		}
	}
	return nil
}

func attach(target *metadata.Record, reverse *metadata.PropertyMetadata, rec *metadata.Record) {
	if reverse.Relationship.IsToMany() {
		target.Append(reverse.Name, rec)
		return
	}
	target.SetValue(reverse.Name, rec)
}

func isOwnedManyToMany(p *metadata.PropertyMetadata) bool {
	return p.Relationship != nil && p.Relationship.Kind == metadata.ManyHasMany && p.Relationship.IsMain
}

func sortedNames(raw map[string][]map[string]any) []string {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Registry returns the metadata the dataset was loaded with.
func (ds *Dataset) Registry() *metadata.Registry {
	return ds.registry
}

// Entities returns the records of the named entity in file order.
func (ds *Dataset) Entities(name string) []metadata.Entity {
	records := ds.records[name]
	out := make([]metadata.Entity, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

// All returns every record, entity by entity in name order.
func (ds *Dataset) All() []metadata.Entity {
	var out []metadata.Entity
	for _, name := range ds.registry.EntityNames() {
		out = append(out, ds.Entities(name)...)
	}
	return out
}

// Find returns the record of the named entity with the given primary key.
func (ds *Dataset) Find(name string, key any) (*metadata.Record, bool) {
	rec, ok := ds.byKey[name][ir.ToText(key)]
	return rec, ok
}
