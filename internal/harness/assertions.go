package harness

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/querysql"
	"github.com/roach88/collx/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Events of the asserted query
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for _, event := range e.Trace {
			if event.Error != "" {
				fmt.Fprintf(&buf, "  [%d] %s %s error: %s\n", event.Seq, event.Query, event.Mode, event.Error)
				continue
			}
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", event.Seq, event.Query, event.Mode, canonical(event.IDs))
		}
	}

	return buf.String()
}

// queryIDs returns the ids of the query's first successful event. Modes
// are compared separately, so either one is representative.
func queryIDs(events []TraceEvent) ([]any, bool) {
	for _, e := range events {
		if e.Error == "" {
			return e.IDs, true
		}
	}
	return nil, false
}

// assertContains checks that the query returned every listed id.
func assertContains(events []TraceEvent, assertion Assertion) error {
	ids, ok := queryIDs(events)
	if !ok {
		return &AssertionError{
			Type:     AssertContains,
			Expected: fmt.Sprintf("query %s to succeed", assertion.Query),
			Actual:   "every evaluation failed",
			Trace:    events,
		}
	}

	for _, want := range assertion.IDs {
		if indexOf(ids, want) < 0 {
			return &AssertionError{
				Type:     AssertContains,
				Expected: fmt.Sprintf("id %v in %s", want, assertion.Query),
				Actual:   fmt.Sprintf("not found in %s", canonical(ids)),
				Trace:    events,
			}
		}
	}
	return nil
}

// assertOrder checks that the ids appear in the specified order.
// Ids don't need to be consecutive (intervening rows are allowed).
func assertOrder(events []TraceEvent, assertion Assertion) error {
	ids, ok := queryIDs(events)
	if !ok {
		return &AssertionError{
			Type:     AssertOrder,
			Expected: fmt.Sprintf("query %s to succeed", assertion.Query),
			Actual:   "every evaluation failed",
			Trace:    events,
		}
	}

	// Step 1: Find the position of each expected id
	positions := make([]int, len(assertion.IDs))
	for i, want := range assertion.IDs {
		positions[i] = indexOf(ids, want)
		if positions[i] < 0 {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("all ids present: %v", assertion.IDs),
				Actual:   fmt.Sprintf("missing id: %v", want),
				Trace:    events,
			}
		}
	}

	// Step 2: Verify order
	for i := 1; i < len(positions); i++ {
		if positions[i-1] >= positions[i] {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("ids in order: %v", assertion.IDs),
				Actual: fmt.Sprintf("%v (pos %d) should be before %v (pos %d)",
					assertion.IDs[i-1], positions[i-1]+1, assertion.IDs[i], positions[i]+1),
				Trace: events,
			}
		}
	}

	return nil
}

// assertCount checks that the query returned exactly Count rows.
func assertCount(events []TraceEvent, assertion Assertion) error {
	ids, ok := queryIDs(events)
	if !ok {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("query %s to succeed", assertion.Query),
			Actual:   "every evaluation failed",
			Trace:    events,
		}
	}

	if len(ids) != assertion.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d rows from %s", assertion.Count, assertion.Query),
			Actual:   fmt.Sprintf("%d rows", len(ids)),
			Trace:    events,
		}
	}
	return nil
}

// assertSQLContains checks that the query renders to SQL containing the
// fragment in the assertion's dialect.
func assertSQLContains(render func(name, dialect string) (string, error), assertion Assertion) error {
	dialect := assertion.Dialect
	if dialect == "" {
		dialect = querysql.DialectSQLite
	}

	sql, err := render(assertion.Query, dialect)
	if err != nil {
		return &AssertionError{
			Type:     AssertSQLContains,
			Expected: fmt.Sprintf("query %s to render in %s", assertion.Query, dialect),
			Actual:   fmt.Sprintf("render error: %v", err),
		}
	}
	if !strings.Contains(sql, assertion.SQL) {
		return &AssertionError{
			Type:     AssertSQLContains,
			Expected: fmt.Sprintf("%s SQL containing %q", dialect, assertion.SQL),
			Actual:   sql,
		}
	}
	return nil
}

// assertFinalState checks that a loaded table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	// Validate table name to prevent SQL injection (identifiers can't be parameterized)
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryxContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	actualRow := make(map[string]any)
	if err := rows.MapScan(actualRow); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Check for multiple matching rows (would indicate ambiguous assertion)
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	// Check each expected field (subset semantics - only check fields in Expect)
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns", key),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", key))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values from tables.
// SQLite returns text as []byte and booleans as integers, so values are
// compared the way collection filters compare them.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	if exp, ok := expected.(bool); ok {
		return exp == ir.Truthy(actual)
	}
	if ir.IsNumber(expected) && !ir.IsNumber(actual) {
		if _, ok := ir.ToDecimal(actual); !ok {
			return false
		}
	}
	return ir.Compare(expected, actual) == 0
}

// indexOf returns the position of id in ids, comparing numerically so a
// YAML int matches a database int64.
func indexOf(ids []any, id any) int {
	for i, candidate := range ids {
		if candidate == nil || id == nil {
			if candidate == nil && id == nil {
				return i
			}
			continue
		}
		if ir.Compare(candidate, id) == 0 {
			return i
		}
	}
	return -1
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context

	// SQL renders a named query in a dialect (used by sql_contains).
	SQL func(query, dialect string) (string, error)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertContains:
			err = assertContains(result.Events(assertion.Query), assertion)
		case AssertOrder:
			err = assertOrder(result.Events(assertion.Query), assertion)
		case AssertCount:
			err = assertCount(result.Events(assertion.Query), assertion)
		case AssertSQLContains:
			if actx == nil || actx.SQL == nil {
				err = fmt.Errorf("assertion[%d]: sql_contains requires a SQL renderer", i)
			} else {
				err = assertSQLContains(actx.SQL, assertion)
			}
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
