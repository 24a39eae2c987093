// Package collection is the dual-mode expression engine of collx.
//
// An expression is a property path ("author->name") or a function call
// (["=", "name", "Alice"]). Array mode evaluates it against a loaded
// entity graph (ArrayHelper); builder mode turns it into a query fragment
// (BuilderHelper). Both modes go through the same collection functions,
// so a collection can switch between memory and SQL without changing the
// result.
//
// Functions are looked up by name in a Repository, which also supplies
// entity metadata.
package collection

import (
	"sort"
	"sync"

	"github.com/roach88/collx/internal/aggregate"
	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/queryir"
	"github.com/roach88/collx/internal/querysql"
)

// ArrayFunction evaluates a collection function against one entity.
//
// Args are raw: a function decides whether an argument is a path, a nested
// call or a literal. The aggregator, when set, replaces the implicit Any
// aggregation of to-many paths.
type ArrayFunction interface {
	ProcessArrayExpression(h *ArrayHelper, entity metadata.Entity, args []any, agg aggregate.ArrayAggregator) (ArrayResult, error)
}

// BuilderFunction emits a collection function as a query fragment.
//
// It must fail with an invalid-state error when it applies its own
// aggregation while agg is set.
type BuilderFunction interface {
	ProcessBuilderExpression(h *BuilderHelper, qb *querysql.Builder, args []any, agg queryir.Aggregator) (*queryir.Fragment, error)
}

// Repository supplies metadata and collection functions.
type Repository interface {
	// EntityMetadata returns the named entity.
	EntityMetadata(name string) (*metadata.EntityMetadata, error)

	// RootMetadata returns the entity unqualified paths start at.
	RootMetadata() *metadata.EntityMetadata

	// CollectionFunction returns the named function. The result implements
	// ArrayFunction, BuilderFunction or both.
	CollectionFunction(name string) (any, error)
}

// SchemaRepository is a Repository over a metadata registry.
type SchemaRepository struct {
	registry  *metadata.Registry
	root      *metadata.EntityMetadata
	functions *FunctionRegistry
}

// NewRepository creates a repository rooted at the named entity. A nil
// function registry means the built-ins only.
func NewRepository(registry *metadata.Registry, root string, functions *FunctionRegistry) (*SchemaRepository, error) {
	meta, err := registry.Entity(root)
	if err != nil {
		return nil, err
	}
	if functions == nil {
		functions = NewFunctionRegistry()
	}
	return &SchemaRepository{registry: registry, root: meta, functions: functions}, nil
}

// EntityMetadata implements Repository.
func (r *SchemaRepository) EntityMetadata(name string) (*metadata.EntityMetadata, error) {
	return r.registry.Entity(name)
}

// RootMetadata implements Repository.
func (r *SchemaRepository) RootMetadata() *metadata.EntityMetadata {
	return r.root
}

// CollectionFunction implements Repository.
func (r *SchemaRepository) CollectionFunction(name string) (any, error) {
	return r.functions.Lookup(name)
}

// Registry returns the metadata registry.
func (r *SchemaRepository) Registry() *metadata.Registry {
	return r.registry
}

// FunctionRegistry maps function names to implementations. It is safe for
// concurrent use.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]any
}

// NewFunctionRegistry returns a registry holding the built-in functions.
func NewFunctionRegistry() *FunctionRegistry {
	r := &FunctionRegistry{functions: make(map[string]any)}
	r.functions[ir.FuncAnd] = junctionFunction{operator: ir.FuncAnd}
	r.functions[ir.FuncOr] = junctionFunction{operator: ir.FuncOr}
	for _, op := range []string{ir.FuncEqual, ir.FuncNotEqual, ir.FuncGreater, ir.FuncLess, ir.FuncGreaterOrEqual, ir.FuncLessOrEqual} {
		r.functions[op] = compareFunction{operator: op}
	}
	r.functions[ir.FuncSum] = newAggregateFunction(ir.FuncSum, aggregate.Sum)
	r.functions[ir.FuncAvg] = newAggregateFunction(ir.FuncAvg, aggregate.Avg)
	r.functions[ir.FuncMin] = newAggregateFunction(ir.FuncMin, aggregate.Min)
	r.functions[ir.FuncMax] = newAggregateFunction(ir.FuncMax, aggregate.Max)
	r.functions[ir.FuncCount] = newAggregateFunction(ir.FuncCount, aggregate.Count)
	return r
}

// Register adds or replaces a function. fn must implement ArrayFunction,
// BuilderFunction or both.
func (r *FunctionRegistry) Register(name string, fn any) error {
	_, isArray := fn.(ArrayFunction)
	_, isBuilder := fn.(BuilderFunction)
	if !isArray && !isBuilder {
		return ir.InvalidArgument("collection function %s implements neither ArrayFunction nor BuilderFunction", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
	return nil
}

// Lookup returns the named function.
func (r *FunctionRegistry) Lookup(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[name]
	if !ok {
		return nil, ir.InvalidArgument("unknown collection function %q", name)
	}
	return fn, nil
}

// Names returns the registered function names, sorted.
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func arrayFunction(repo Repository, name string) (ArrayFunction, error) {
	fn, err := repo.CollectionFunction(name)
	if err != nil {
		return nil, err
	}
	af, ok := fn.(ArrayFunction)
	if !ok {
		return nil, ir.InvalidState("collection function %s has to implement ArrayFunction", name)
	}
	return af, nil
}

func builderFunction(repo Repository, name string) (BuilderFunction, error) {
	fn, err := repo.CollectionFunction(name)
	if err != nil {
		return nil, err
	}
	bf, ok := fn.(BuilderFunction)
	if !ok {
		return nil, ir.InvalidState("collection function %s has to implement BuilderFunction", name)
	}
	return bf, nil
}
