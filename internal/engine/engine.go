package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/collx/internal/collection"
	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/querysql"
	"github.com/roach88/collx/internal/store"
)

// Engine hands out collections over one entity registry.
//
// Loaded entities live in an identity map. Array collections read them
// directly; query collections read their primary keys from the store and
// hydrate them from the map. Load writes entities to both, so the two
// kinds of collection see the same data.
//
// Thread-safety model:
//   - Load: safe from any goroutine, but collections fetched concurrently
//     with a Load may or may not see the new entities
//   - Array, Query: safe from any goroutine
//   - the returned collections are immutable values
type Engine struct {
	registry  *metadata.Registry
	functions *collection.FunctionRegistry
	store     *store.Store
	dialect   string
	identity  *IdentityMap
	ids       IDGenerator
	logger    *slog.Logger

	schemaMu    sync.Mutex
	schemaReady bool

	mu    sync.Mutex
	repos map[string]*collection.SchemaRepository
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore backs query collections with s. The dialect follows the
// store.
func WithStore(s *store.Store) Option {
	return func(e *Engine) {
		e.store = s
		e.dialect = s.Dialect()
	}
}

// WithDialect sets the dialect query collections render in when there is
// no store. Default: sqlite3.
func WithDialect(dialect string) Option {
	return func(e *Engine) {
		e.dialect = dialect
	}
}

// WithFunctions replaces the built-in function registry.
func WithFunctions(functions *collection.FunctionRegistry) Option {
	return func(e *Engine) {
		e.functions = functions
	}
}

// WithIDGenerator sets the collection id generator. Default: UUIDv7.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) {
		e.ids = ids
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine over a finalized registry.
func New(reg *metadata.Registry, opts ...Option) (*Engine, error) {
	if !reg.IsFinalized() {
		return nil, fmt.Errorf("engine: registry is not finalized")
	}
	e := &Engine{
		registry:  reg,
		functions: collection.NewFunctionRegistry(),
		dialect:   querysql.DialectSQLite,
		identity:  NewIdentityMap(reg),
		ids:       UUIDv7Generator{},
		logger:    slog.Default(),
		repos:     make(map[string]*collection.SchemaRepository),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !querysql.ValidDialects[e.dialect] {
		return nil, fmt.Errorf("engine: unsupported dialect %q", e.dialect)
	}
	return e, nil
}

// Registry returns the engine's metadata.
func (e *Engine) Registry() *metadata.Registry {
	return e.registry
}

// Identity returns the identity map of loaded entities.
func (e *Engine) Identity() *IdentityMap {
	return e.identity
}

// Load inserts entities into the store, when the engine has one, and then
// adds them to the identity map. A batch the store rejects is not added,
// so array and query collections keep seeing the same entities. The
// schema is created on the first successful Load.
func (e *Engine) Load(ctx context.Context, entities ...metadata.Entity) error {
	if err := e.identity.Validate(entities...); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if e.store != nil {
		if err := e.ensureSchema(ctx); err != nil {
			return fmt.Errorf("load: %w", err)
		}
		if err := e.store.Insert(ctx, e.registry, entities...); err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}
	if err := e.identity.Add(entities...); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	e.logger.Debug("entities loaded", "count", len(entities), "dialect", e.dialect)
	return nil
}

// ensureSchema creates the schema once. A failed attempt is retried by
// the next Load; CreateSchema is idempotent.
func (e *Engine) ensureSchema(ctx context.Context) error {
	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()
	if e.schemaReady {
		return nil
	}
	if err := e.store.CreateSchema(ctx, e.registry); err != nil {
		return err
	}
	e.schemaReady = true
	return nil
}

func (e *Engine) repository(entity string) (*collection.SchemaRepository, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if repo, ok := e.repos[entity]; ok {
		return repo, nil
	}
	repo, err := collection.NewRepository(e.registry, entity, e.functions)
	if err != nil {
		return nil, err
	}
	e.repos[entity] = repo
	return repo, nil
}

// Array returns an in-memory collection of every loaded entity of the
// named type.
func (e *Engine) Array(entity string) (*ArrayCollection, error) {
	repo, err := e.repository(entity)
	if err != nil {
		return nil, err
	}
	return NewArrayCollection(e.ids.Generate(), repo, e.identity.Entities(entity), e.logger), nil
}

// Query returns a database-backed collection of the named type.
func (e *Engine) Query(entity string) (*QueryCollection, error) {
	repo, err := e.repository(entity)
	if err != nil {
		return nil, err
	}
	return NewQueryCollection(e.ids.Generate(), repo, e.dialect, e.store, e.identity, e.logger), nil
}

// Collection returns a query collection when the engine has a store and
// an array collection otherwise.
func (e *Engine) Collection(entity string) (Collection, error) {
	if e.store != nil {
		return e.Query(entity)
	}
	return e.Array(entity)
}
