// Package harness provides a conformance testing framework for collection
// queries.
//
// A scenario names a CUE schema, a dataset and a list of queries. The
// harness loads the dataset into a fresh in-memory database and evaluates
// every query twice: once with an array collection over the loaded
// entities and once with a query collection that compiles to SQL. The two
// results must be identical; a difference fails the scenario even when no
// expectation is given.
//
// # Scenario format
//
//	name: sum_over_books
//	description: Authors whose books cost more than 50 in total
//	schema: ../schema
//	data: ../data/library.yaml
//	queries:
//	  - name: rich_authors
//	    entity: Author
//	    filter: [">", ["SUM", "books->price"], 50]
//	    expect:
//	      ids: [1]
//	assertions:
//	  - type: sql_contains
//	    query: rich_authors
//	    dialect: postgres
//	    sql: HAVING
//
// # Golden files
//
// RunWithGolden snapshots the trace (query, mode, ids and aggregates of
// every evaluation) as canonical JSON under testdata/golden. SQL text is
// not part of the snapshot; use sql_contains assertions for it.
package harness
