package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collx/internal/store"
)

func events(ids ...any) []TraceEvent {
	return []TraceEvent{
		{Query: "q", Mode: ModeArray, IDs: ids, Seq: 1},
		{Query: "q", Mode: ModeQuery, IDs: ids, Seq: 2},
	}
}

func TestAssertContains(t *testing.T) {
	trace := events(int64(1), int64(2), int64(3))

	tests := []struct {
		name    string
		ids     []any
		wantErr string
	}{
		{"single", []any{2}, ""},
		{"subset in any order", []any{3, 1}, ""},
		{"missing", []any{4}, "id 4 in q"},
		{"text does not match number", []any{"x"}, "id x in q"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertContains(trace, Assertion{Type: AssertContains, Query: "q", IDs: tt.ids})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertContains_AllFailed(t *testing.T) {
	trace := []TraceEvent{{Query: "q", Mode: ModeArray, Error: "boom"}}
	err := assertContains(trace, Assertion{Query: "q", IDs: []any{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every evaluation failed")
}

func TestAssertOrder(t *testing.T) {
	trace := events(int64(13), int64(10), int64(11), int64(12))

	tests := []struct {
		name    string
		ids     []any
		wantErr string
	}{
		{"consecutive", []any{13, 10}, ""},
		{"intervening rows allowed", []any{13, 12}, ""},
		{"wrong order", []any{11, 10}, "11 (pos 3) should be before 10 (pos 2)"},
		{"missing", []any{13, 99}, "missing id: 99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertOrder(trace, Assertion{Type: AssertOrder, Query: "q", IDs: tt.ids})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertCount(t *testing.T) {
	assert.NoError(t, assertCount(events(int64(1), int64(2)), Assertion{Query: "q", Count: 2}))
	assert.NoError(t, assertCount(events(), Assertion{Query: "q", Count: 0}))

	err := assertCount(events(int64(1)), Assertion{Query: "q", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 rows from q")
	assert.Contains(t, err.Error(), "Actual: 1 rows")
}

func TestAssertSQLContains(t *testing.T) {
	var gotDialect string
	render := func(query, dialect string) (string, error) {
		gotDialect = dialect
		if query == "broken" {
			return "", errors.New("no such entity")
		}
		return `SELECT "authors"."id" FROM "authors" HAVING (SUM("authors_books"."price") > $1)`, nil
	}

	assert.NoError(t, assertSQLContains(render, Assertion{Query: "q", SQL: "HAVING"}))
	assert.Equal(t, "sqlite3", gotDialect, "sqlite is the default")

	assert.NoError(t, assertSQLContains(render, Assertion{Query: "q", Dialect: "postgres", SQL: "$1"}))
	assert.Equal(t, "postgres", gotDialect)

	err := assertSQLContains(render, Assertion{Query: "q", SQL: "GROUP BY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `SQL containing "GROUP BY"`)

	err = assertSQLContains(render, Assertion{Query: "broken", SQL: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render error: no such entity")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	for _, e := range events(int64(1), int64(2)) {
		result.AddTrace(e)
	}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertContains, Query: "q", IDs: []any{1}},
		{Type: AssertCount, Query: "q", Count: 2},
	}, nil)
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertContains, Query: "q", IDs: []any{1}},
		{Type: AssertCount, Query: "q", Count: 5},
		{Type: "trace_contains", Query: "q"},
		{Type: AssertSQLContains, Query: "q", SQL: "SELECT"},
		{Type: AssertFinalState, Table: "authors", Expect: map[string]any{"name": "x"}},
	}, nil)
	require.Len(t, errs, 4)
	assert.Contains(t, errs[0], "Assertion failed: count")
	assert.Contains(t, errs[1], `unknown assertion type "trace_contains"`)
	assert.Contains(t, errs[2], "sql_contains requires a SQL renderer")
	assert.Contains(t, errs[3], "final_state requires database context")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertCount,
		Expected: "2 rows from q",
		Actual:   "1 rows",
		Trace: []TraceEvent{
			{Query: "q", Mode: ModeArray, IDs: []any{int64(1)}, Seq: 1},
			{Query: "q", Mode: ModeQuery, Error: "boom", Seq: 2},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: count\n")
	assert.Contains(t, msg, "  Expected: 2 rows from q\n")
	assert.Contains(t, msg, "  Actual: 1 rows\n")
	assert.Contains(t, msg, "  [1] q array [1]\n")
	assert.Contains(t, msg, "  [2] q query error: boom\n")
}

func TestBuildWhereClause(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		sql, args, err := buildWhereClause(nil)
		require.NoError(t, err)
		assert.Empty(t, sql)
		assert.Nil(t, args)
	})

	t.Run("sorted and parameterized", func(t *testing.T) {
		sql, args, err := buildWhereClause(map[string]any{"name": "O'Reilly", "id": 101, "born": nil})
		require.NoError(t, err)
		assert.Equal(t, "born IS NULL AND id = ? AND name = ?", sql)
		assert.Equal(t, []any{101, "O'Reilly"}, args)
	})

	t.Run("invalid column", func(t *testing.T) {
		for _, col := range []string{"id; DROP TABLE books", "1id", "a-b", ""} {
			_, _, err := buildWhereClause(map[string]any{col: 1})
			require.Error(t, err, col)
			assert.Contains(t, err.Error(), "invalid column name")
		}
	})
}

func TestToSQLValue_Types(t *testing.T) {
	assert.Equal(t, "x", toSQLValue("x"))
	assert.Equal(t, 1, toSQLValue(1))
	assert.Equal(t, int64(2), toSQLValue(int64(2)))
	assert.Equal(t, 1.5, toSQLValue(1.5))
	assert.Equal(t, true, toSQLValue(true))
	assert.Equal(t, "[1 2]", toSQLValue([]int{1, 2}))
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhereClause(map[string]any{"b": "x", "a": 1}))
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"strings", "Alice", "Alice", true},
		{"bytes", "Alice", []byte("Alice"), true},
		{"different strings", "Alice", "Bob", false},
		{"int and int64", 15, int64(15), true},
		{"int and float", 15, 15.0, true},
		{"different numbers", 15, int64(16), false},
		{"number and text", 15, "abc", false},
		{"bool true", true, int64(1), true},
		{"bool false", false, int64(0), true},
		{"bool mismatch", true, int64(0), false},
		{"nil", nil, nil, true},
		{"nil and value", nil, "x", false},
		{"value and nil", "x", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

// setupTestStore opens an in-memory store with one table.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.DB().Exec(`CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT, hidden INTEGER)`)
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO tags (id, name, hidden) VALUES (1, 'go', 0), (2, 'food', 1), (3, 'go', NULL)`)
	require.NoError(t, err)
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		where   map[string]any
		expect  map[string]any
		table   string
		wantErr string
	}{
		{"row found", map[string]any{"id": 2}, map[string]any{"name": "food", "hidden": true}, "tags", ""},
		{"extra columns ignored", map[string]any{"id": 1}, map[string]any{"name": "go"}, "tags", ""},
		{"null column", map[string]any{"id": 3}, map[string]any{"hidden": nil}, "tags", ""},
		{"null where", map[string]any{"hidden": nil}, map[string]any{"id": 3}, "tags", ""},
		{"multiple where conditions", map[string]any{"name": "go", "hidden": false}, map[string]any{"id": 1}, "tags", ""},
		{"row not found", map[string]any{"id": 9}, map[string]any{"name": "go"}, "tags", "row not found"},
		{"ambiguous", map[string]any{"name": "go"}, map[string]any{"id": 1}, "tags", "multiple rows matched"},
		{"value mismatch", map[string]any{"id": 1}, map[string]any{"name": "food"}, "tags", `field "name" = food`},
		{"missing column", map[string]any{"id": 1}, map[string]any{"color": "red"}, "tags", `field "color" to exist`},
		{"table not found", nil, map[string]any{"id": 1}, "missing", "query error"},
		{"invalid table", nil, map[string]any{"id": 1}, "tags; DROP TABLE tags", "invalid table name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, Assertion{
				Type:   AssertFinalState,
				Table:  tt.table,
				Where:  tt.where,
				Expect: tt.expect,
			})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluateAssertions_FinalStateWithContext(t *testing.T) {
	st := setupTestStore(t)

	errs := EvaluateAssertions(NewResult(), []Assertion{{
		Type:   AssertFinalState,
		Table:  "tags",
		Where:  map[string]any{"id": 1},
		Expect: map[string]any{"name": "go"},
	}}, &AssertionContext{Store: st, Ctx: context.Background()})
	assert.Empty(t, errs)
}
