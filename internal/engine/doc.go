// Package engine runs collections of entities in one of two modes.
//
// An ArrayCollection filters, sorts and aggregates entities already held
// in memory, using the array-mode collection functions. A QueryCollection
// composes the same expressions into SQL with the builder-mode functions,
// runs the query against a store and hydrates the selected primary keys
// from an identity map. Both implement Collection, and switching between
// them does not change results:
//
//	e, _ := engine.New(reg, engine.WithStore(s))
//	_ = e.Load(ctx, entities...)
//	authors, _ := e.Query("Author")
//	rich, _ := authors.
//		FindBy([]any{">", []any{"SUM", "books->price"}, 50}).
//		OrderBy(ir.SortKey{Expression: "name", Direction: ir.Asc}).
//		Fetch(ctx)
//
// ORDERING:
//
// Every fetch is totally ordered. The caller's sort keys come first; the
// root primary key, ascending, breaks the remaining ties in both modes.
// Nulls sort last under plain ASC and DESC.
//
// Collections are immutable: FindBy, OrderBy and Limit return copies, so
// one base collection can be refined in several directions.
package engine
