package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/collx/internal/compiler"
	"github.com/roach88/collx/internal/dataset"
	"github.com/roach88/collx/internal/engine"
	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/store"
	"github.com/roach88/collx/internal/testutil"
)

// Harness is the test execution engine.
// It runs every query of a scenario in array mode and in query mode
// against the same loaded dataset.
type Harness struct {
	registry *metadata.Registry
	store    *store.Store
	engine   *engine.Engine
	ids      *testutil.SequenceGenerator
	logger   *slog.Logger
	seq      int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Collection ids come from a sequence so traces are reproducible.
//
// Execution flow:
// 1. Compile the CUE schema into a registry
// 2. Load the dataset into the identity map and the database
// 3. Evaluate each query in both modes and compare the results
// 4. Evaluate assertions against the trace and the tables
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	reg, err := compiler.LoadRegistry(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	ds, err := dataset.LoadFile(scenario.Data, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	// Create fresh in-memory SQLite database
	st, err := store.Open("sqlite://:memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		registry: reg,
		store:    st,
		ids:      testutil.NewSequenceGenerator("collection"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	h.engine, err = engine.New(reg,
		engine.WithStore(st),
		engine.WithIDGenerator(h.ids),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		return nil, err
	}

	if err := h.engine.Load(ctx, ds.All()...); err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}

	result := NewResult()
	for i, q := range scenario.Queries {
		if err := h.executeQuery(ctx, q, result); err != nil {
			return nil, fmt.Errorf("query %d (%s): %w", i, q.Name, err)
		}
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
		SQL:   h.renderSQL(scenario.Queries),
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeQuery evaluates one query in both modes, records the trace and
// checks the modes against each other and against the expect clause.
func (h *Harness) executeQuery(ctx context.Context, q QueryStep, result *Result) error {
	filter, sort, err := prepare(q)
	if err != nil {
		return err
	}

	var events [2]TraceEvent
	for i, mode := range []string{ModeArray, ModeQuery} {
		c, err := h.collection(q.Entity, mode)
		if err != nil {
			return err
		}
		events[i] = h.evaluate(ctx, q, mode, c, filter, sort)
		result.AddTrace(events[i])

		h.logger.Info("query evaluated",
			"query", q.Name,
			"mode", mode,
			"rows", len(events[i].IDs),
			"error", events[i].Error,
		)
	}

	if diff := compareModes(events[0], events[1]); diff != "" {
		result.AddError(fmt.Sprintf("query %s: array and query mode disagree: %s", q.Name, diff))
	}
	if q.Expect != nil {
		for _, event := range events {
			for _, msg := range checkExpect(q.Expect, event) {
				result.AddError(fmt.Sprintf("query %s (%s): %s", q.Name, event.Mode, msg))
			}
		}
	}
	return nil
}

func (h *Harness) collection(entity, mode string) (engine.Collection, error) {
	if mode == ModeArray {
		return h.engine.Array(entity)
	}
	return h.engine.Query(entity)
}

// evaluate applies the query to c. Evaluation errors are recorded in the
// event rather than returned: an expected error is a valid outcome.
func (h *Harness) evaluate(ctx context.Context, q QueryStep, mode string, c engine.Collection, filter any, sort []ir.SortKey) TraceEvent {
	h.seq++
	event := TraceEvent{
		Query:  q.Name,
		Entity: q.Entity,
		Mode:   mode,
		IDs:    []any{},
		Seq:    h.seq,
	}

	if filter != nil {
		c = c.FindBy(filter)
	}
	if len(sort) > 0 {
		c = c.OrderBy(sort...)
	}
	if q.Limit > 0 || q.Offset > 0 {
		c = c.Limit(q.Limit, q.Offset)
	}

	if qc, ok := c.(*engine.QueryCollection); ok {
		if sql, _, err := qc.SQL(); err == nil {
			event.SQL = sql
		}
	}

	if q.Aggregate != nil {
		values, err := c.Aggregate(ctx, q.Aggregate.Function, q.Aggregate.Path)
		if err != nil {
			event.Error = err.Error()
			return event
		}
		event.Aggregate = make([]any, len(values))
		for i, v := range values {
			event.IDs = append(event.IDs, v.ID)
			event.Aggregate[i] = map[string]any{"id": v.ID, "value": v.Value}
		}
		return event
	}

	entities, err := c.Fetch(ctx)
	if err != nil {
		event.Error = err.Error()
		return event
	}
	event.IDs = testutil.IDs(entities)
	return event
}

// renderSQL returns the renderer sql_contains assertions use. A query is
// rendered without a store, so any dialect works.
func (h *Harness) renderSQL(queries []QueryStep) func(name, dialect string) (string, error) {
	byName := make(map[string]QueryStep, len(queries))
	for _, q := range queries {
		byName[q.Name] = q
	}

	return func(name, dialect string) (string, error) {
		q, ok := byName[name]
		if !ok {
			return "", fmt.Errorf("unknown query %q", name)
		}
		e, err := engine.New(h.registry,
			engine.WithDialect(dialect),
			engine.WithIDGenerator(h.ids),
			engine.WithLogger(h.logger),
		)
		if err != nil {
			return "", err
		}
		qc, err := e.Query(q.Entity)
		if err != nil {
			return "", err
		}

		filter, sort, err := prepare(q)
		if err != nil {
			return "", err
		}
		var c engine.Collection = qc
		if filter != nil {
			c = c.FindBy(filter)
		}
		if len(sort) > 0 {
			c = c.OrderBy(sort...)
		}
		if q.Limit > 0 || q.Offset > 0 {
			c = c.Limit(q.Limit, q.Offset)
		}
		sql, _, err := c.(*engine.QueryCollection).SQL()
		return sql, err
	}
}

// prepare normalizes the YAML-decoded filter and sort keys.
func prepare(q QueryStep) (any, []ir.SortKey, error) {
	var filter any
	if q.Filter != nil {
		f, err := ir.NormalizeLiteral(q.Filter)
		if err != nil {
			return nil, nil, fmt.Errorf("filter: %w", err)
		}
		filter = f
	}

	sort := make([]ir.SortKey, 0, len(q.Order))
	for i, key := range q.Order {
		expr, err := ir.NormalizeLiteral(key.Expression)
		if err != nil {
			return nil, nil, fmt.Errorf("order[%d]: %w", i, err)
		}
		direction, err := ir.ParseDirection(key.Direction)
		if err != nil {
			return nil, nil, fmt.Errorf("order[%d]: %w", i, err)
		}
		sort = append(sort, ir.SortKey{Expression: expr, Direction: direction})
	}
	return filter, sort, nil
}

// compareModes returns a description of the first difference between an
// array-mode and a query-mode event, or "" when they agree.
func compareModes(array, query TraceEvent) string {
	if (array.Error == "") != (query.Error == "") {
		return fmt.Sprintf("array error %q, query error %q", array.Error, query.Error)
	}
	if array.Error != "" {
		// Both failed; messages may differ between the evaluators.
		return ""
	}
	if a, q := canonical(array.IDs), canonical(query.IDs); a != q {
		return fmt.Sprintf("ids %s vs %s", a, q)
	}
	if a, q := canonical(array.Aggregate), canonical(query.Aggregate); a != q {
		return fmt.Sprintf("aggregate %s vs %s", a, q)
	}
	return ""
}

// checkExpect validates one event against the expect clause.
func checkExpect(expect *ExpectClause, event TraceEvent) []string {
	if expect.Error != "" {
		if event.Error == "" {
			return []string{fmt.Sprintf("expected error containing %q, got success", expect.Error)}
		}
		if !strings.Contains(event.Error, expect.Error) {
			return []string{fmt.Sprintf("expected error containing %q, got %q", expect.Error, event.Error)}
		}
		return nil
	}
	if event.Error != "" {
		return []string{fmt.Sprintf("unexpected error: %s", event.Error)}
	}

	var errs []string
	if expect.IDs != nil {
		if want, got := canonical(expect.IDs), canonical(event.IDs); want != got {
			errs = append(errs, fmt.Sprintf("expected ids %s, got %s", want, got))
		}
	}
	if expect.Aggregate != nil {
		pairs := make([]any, len(expect.Aggregate))
		for i, p := range expect.Aggregate {
			pairs[i] = map[string]any{"id": p.ID, "value": p.Value}
		}
		if want, got := canonical(pairs), canonical(event.Aggregate); want != got {
			errs = append(errs, fmt.Sprintf("expected aggregate %s, got %s", want, got))
		}
	}
	return errs
}

// canonical renders v as canonical JSON so values decoded from YAML and
// values read from the database compare equal.
func canonical(v []any) string {
	if v == nil {
		v = []any{}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
