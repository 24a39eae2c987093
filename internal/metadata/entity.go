package metadata

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/collx/internal/ir"
)

// ValueHolder exposes property values by name. Entities and embeddable
// values implement it.
type ValueHolder interface {
	// HasValue reports whether the property has a value set (a loaded
	// relationship, a non-missing scalar).
	HasValue(name string) bool

	// GetValue returns the property value. To-one relationships hold an
	// Entity, to-many relationships a slice of entities, embeddables a
	// ValueHolder.
	GetValue(name string) any
}

// Entity is an entity instance.
type Entity interface {
	ValueHolder

	// EntityName is the name of the entity's metadata.
	EntityName() string
}

// Wrapper converts a property value to its raw storage form.
type Wrapper interface {
	ConvertToRawValue(v any) (any, error)
}

// WrapperFunc adapts a function to the Wrapper interface.
type WrapperFunc func(v any) (any, error)

// ConvertToRawValue implements Wrapper.
func (f WrapperFunc) ConvertToRawValue(v any) (any, error) {
	return f(v)
}

// Values is a map-backed ValueHolder, used for embeddable values.
type Values map[string]any

// HasValue implements ValueHolder.
func (v Values) HasValue(name string) bool {
	_, ok := v[name]
	return ok
}

// GetValue implements ValueHolder.
func (v Values) GetValue(name string) any {
	return v[name]
}

// Record is a generic, map-backed entity.
//
// Records are built by loaders (dataset files, tests) and read by the
// evaluators; evaluators never modify them.
type Record struct {
	entity string
	values Values
}

// NewRecord creates a record of the named entity. The values map is used
// as is, not copied.
func NewRecord(entity string, values map[string]any) *Record {
	if values == nil {
		values = make(map[string]any)
	}
	return &Record{entity: entity, values: values}
}

// EntityName implements Entity.
func (r *Record) EntityName() string {
	if r == nil {
		return ""
	}
	return r.entity
}

// HasValue implements ValueHolder.
func (r *Record) HasValue(name string) bool {
	if r == nil {
		return false
	}
	return r.values.HasValue(name)
}

// GetValue implements ValueHolder.
func (r *Record) GetValue(name string) any {
	if r == nil {
		return nil
	}
	return r.values.GetValue(name)
}

// SetValue sets a property value.
func (r *Record) SetValue(name string, v any) {
	r.values[name] = v
}

// Append adds an entity to a to-many property.
func (r *Record) Append(name string, e Entity) {
	list, _ := r.values[name].([]Entity)
	r.values[name] = append(list, e)
}

// String renders the record as Entity(id=...) when it has an id.
func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	if id, ok := r.values["id"]; ok {
		return fmt.Sprintf("%s(id=%v)", r.entity, id)
	}
	return r.entity
}

// Related converts a to-many property value into the entities it holds,
// skipping nil entries. Accepted forms are []Entity, []*Record and []any.
func Related(v any) ([]Entity, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []Entity:
		out := make([]Entity, 0, len(val))
		for _, e := range val {
			if e != nil {
				out = append(out, e)
			}
		}
		return out, nil
	case []*Record:
		out := make([]Entity, 0, len(val))
		for _, e := range val {
			if e != nil {
				out = append(out, e)
			}
		}
		return out, nil
	case []any:
		out := make([]Entity, 0, len(val))
		for i, item := range val {
			if item == nil {
				continue
			}
			e, ok := item.(Entity)
			if !ok {
				return nil, ir.InvalidArgument("to-many value [%d] is %T, not an entity", i, item)
			}
			out = append(out, e)
		}
		return out, nil
	}
	return nil, ir.InvalidArgument("to-many value is %T, not a list of entities", v)
}

// PrimaryValue returns the primary key value of e according to m.
func PrimaryValue(m *EntityMetadata, e Entity) any {
	if e == nil || m == nil || m.PrimaryKey == "" {
		return nil
	}
	return e.GetValue(m.PrimaryKey)
}

// ToUnix converts a datetime value to unix seconds. Accepted inputs are
// time.Time, RFC 3339 strings (with or without time) and integers, which
// are taken as unix seconds already.
func ToUnix(v any) (int64, error) {
	switch val := v.(type) {
	case time.Time:
		return val.Unix(), nil
	case *time.Time:
		if val == nil {
			return 0, ir.InvalidArgument("nil time")
		}
		return val.Unix(), nil
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Unix(), nil
			}
		}
		return 0, ir.InvalidArgument("invalid datetime %q", val)
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case float64:
		return int64(val), nil
	}
	return 0, ir.InvalidArgument("unsupported datetime value %T", v)
}
