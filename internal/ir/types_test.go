package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected Expr
	}{
		{
			name:     "property path",
			input:    "author->name",
			expected: PropertyPath{Raw: "author->name"},
		},
		{
			name:     "function call",
			input:    []any{"=", "name", "Alice"},
			expected: FunctionCall{Name: "=", Args: []any{"name", "Alice"}},
		},
		{
			name:     "nested call keeps raw args",
			input:    []any{">", []any{"SUM", "books->price"}, 10},
			expected: FunctionCall{Name: ">", Args: []any{[]any{"SUM", "books->price"}, 10}},
		},
		{
			name:     "condition map is implicit AND",
			input:    map[string]any{"name": "Alice"},
			expected: FunctionCall{Name: FuncAnd, Args: []any{map[string]any{"name": "Alice"}}},
		},
		{
			name:     "unnamed list is implicit AND",
			input:    []any{map[string]any{"name": "Alice"}, []any{">", "age", 3}},
			expected: FunctionCall{Name: FuncAnd, Args: []any{map[string]any{"name": "Alice"}, []any{">", "age", 3}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, expr)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []any{"", "   ", []any{}, 42, nil} {
		_, err := Parse(input)
		require.Error(t, err, "input %#v", input)
		assert.True(t, IsInvalidArgument(err))
	}
}

func TestSplitCondition(t *testing.T) {
	tests := []struct {
		key  string
		path string
		op   string
	}{
		{"name", "name", "="},
		{"age>=", "age", ">="},
		{"age >", "age", ">"},
		{"age<=", "age", "<="},
		{"age<", "age", "<"},
		{"name!=", "name", "!="},
		{"name=", "name", "="},
		{"author->name!=", "author->name", "!="},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			path, op := SplitCondition(tt.key)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.op, op)
		})
	}
}

func TestExpandConditionsSorted(t *testing.T) {
	calls := ExpandConditions(map[string]any{
		"name":  "Alice",
		"age>=": 18,
	})

	assert.Equal(t, []any{
		[]any{">=", "age", 18},
		[]any{"=", "name", "Alice"},
	}, calls)
}

func TestDirection(t *testing.T) {
	tests := []struct {
		dir        Direction
		descending bool
		nullsFirst bool
	}{
		{Asc, false, false},
		{Desc, true, false},
		{AscNullsFirst, false, true},
		{AscNullsLast, false, false},
		{DescNullsFirst, true, true},
		{DescNullsLast, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			assert.Equal(t, tt.descending, tt.dir.IsDescending())
			assert.Equal(t, tt.nullsFirst, tt.dir.NullsFirst())
		})
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("desc_nulls_first")
	require.NoError(t, err)
	assert.Equal(t, DescNullsFirst, d)

	d, err = ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Asc, d)

	_, err = ParseDirection("sideways")
	assert.True(t, IsInvalidArgument(err))
}

func TestUndefined(t *testing.T) {
	assert.Equal(t, "undefined", Undefined.String())
	assert.True(t, IsUndefined(Undefined))
	assert.False(t, IsUndefined(nil))
	assert.NotNil(t, Undefined)
}

func TestErrorKinds(t *testing.T) {
	err := InvalidArgument("unknown property %q", "nme").WithExpression("nme")
	assert.True(t, IsInvalidArgument(err))
	assert.False(t, IsInvalidState(err))
	assert.Equal(t, `INVALID_ARGUMENT: unknown property "nme" (expression=nme)`, err.Error())

	wrapped := wrap(InvalidState("cannot apply two aggregations simultaneously"))
	assert.True(t, IsInvalidState(wrapped))
	assert.False(t, IsInvalidArgument(wrapped))
}

func wrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "outer: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
