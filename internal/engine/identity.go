package engine

import (
	"fmt"
	"sync"

	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
)

// IdentityMap holds at most one entity per (entity type, primary key). A
// query collection fetches primary keys from the database and hydrates
// them from the map, so both modes hand out the same entity instances.
//
// Safe for concurrent use.
type IdentityMap struct {
	registry *metadata.Registry

	mu       sync.RWMutex
	entities map[string]map[string]metadata.Entity
	order    map[string][]metadata.Entity
}

// NewIdentityMap creates an empty identity map for entities of reg.
func NewIdentityMap(reg *metadata.Registry) *IdentityMap {
	return &IdentityMap{
		registry: reg,
		entities: make(map[string]map[string]metadata.Entity),
		order:    make(map[string][]metadata.Entity),
	}
}

// identified is an entity with its resolved type and key.
type identified struct {
	entity metadata.Entity
	meta   *metadata.EntityMetadata
	key    string
}

// identify resolves the type and primary key of every entity. It fails on
// the first entity that has neither.
func (m *IdentityMap) identify(entities []metadata.Entity) ([]identified, error) {
	out := make([]identified, 0, len(entities))
	for i, e := range entities {
		if e == nil {
			return nil, fmt.Errorf("entity %d is nil", i)
		}
		meta, err := m.registry.Entity(e.EntityName())
		if err != nil {
			return nil, err
		}
		id := metadata.PrimaryValue(meta, e)
		if id == nil {
			return nil, fmt.Errorf("%s has no primary key value", meta.Name)
		}
		out = append(out, identified{entity: e, meta: meta, key: ir.ToText(id)})
	}
	return out, nil
}

// Validate checks that Add would accept entities, without adding them.
func (m *IdentityMap) Validate(entities ...metadata.Entity) error {
	_, err := m.identify(entities)
	return err
}

// Add registers entities. An entity whose key is already present replaces
// nothing: the first instance wins. Either every entity is added or, on
// error, none is.
func (m *IdentityMap) Add(entities ...metadata.Entity) error {
	batch, err := m.identify(entities)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range batch {
		name := item.meta.Name
		byKey, ok := m.entities[name]
		if !ok {
			byKey = make(map[string]metadata.Entity)
			m.entities[name] = byKey
		}
		if _, exists := byKey[item.key]; exists {
			continue
		}
		byKey[item.key] = item.entity
		m.order[name] = append(m.order[name], item.entity)
	}
	return nil
}

// Get returns the entity of the named type with the given primary key.
func (m *IdentityMap) Get(entity string, id any) (metadata.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[entity][ir.ToText(id)]
	return e, ok
}

// Entities returns the entities of the named type in the order they were
// added.
func (m *IdentityMap) Entities(entity string) []metadata.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]metadata.Entity(nil), m.order[entity]...)
}

// Len returns the number of entities of the named type.
func (m *IdentityMap) Len(entity string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order[entity])
}
