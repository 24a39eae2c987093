package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countAgg struct{}

func (countAgg) AggregateKey() string { return "_COUNT" }

func (countAgg) AggregateFragment(f *Fragment) *Fragment {
	c := f.Wrap("COUNT(", ")")
	c.IsHaving = true
	return c
}

func TestColumnFragment(t *testing.T) {
	col := Column{Alias: "authors", Name: "name"}
	f := NewColumnFragment(col, nil)

	assert.Equal(t, "?", f.Expression)
	assert.Equal(t, []any{col}, f.Args)
	assert.Equal(t, []Column{col}, f.Columns)
	assert.Equal(t, "authors.name", col.String())
}

func TestAppendDoesNotAlias(t *testing.T) {
	base := NewColumnFragment(Column{Alias: "authors", Name: "age"}, nil)

	gt := base.Append(" > ?", 30)
	lt := base.Append(" < ?", 10)

	assert.Equal(t, "? > ?", gt.Expression)
	assert.Equal(t, "? < ?", lt.Expression)
	assert.Equal(t, 30, gt.Args[1])
	assert.Equal(t, 10, lt.Args[1])
	assert.Len(t, base.Args, 1, "base fragment is unchanged")
}

func TestApplyAggregator(t *testing.T) {
	f := NewColumnFragment(Column{Alias: "authors_books", Name: "price"}, nil)
	f.Aggregator = countAgg{}

	got := f.ApplyAggregator()
	assert.Equal(t, "COUNT(?)", got.Expression)
	assert.True(t, got.IsHaving)
	assert.Nil(t, got.Aggregator)

	plain := NewColumnFragment(Column{Alias: "authors", Name: "name"}, nil)
	assert.Same(t, plain, plain.ApplyAggregator())
}

func TestCombine(t *testing.T) {
	name := NewColumnFragment(Column{Alias: "authors", Name: "name"}, nil).Append(" = ?", "Alice")
	age := NewColumnFragment(Column{Alias: "authors", Name: "age"}, nil).Append(" > ?", 30)

	got := Combine("AND", []*Fragment{name, age})
	assert.Equal(t, "(? = ? AND ? > ?)", got.Expression)
	assert.Len(t, got.Args, 4)
	assert.False(t, got.IsHaving)
	assert.Empty(t, got.GroupBy)
}

func TestCombineEmpty(t *testing.T) {
	assert.Equal(t, "1 = 1", Combine("AND", nil).Expression)
	assert.Equal(t, "1 = 0", Combine("OR", nil).Expression)

	single := NewColumnFragment(Column{Alias: "a", Name: "b"}, nil)
	assert.Same(t, single, Combine("OR", []*Fragment{single}))
}

func TestCombineWithHaving(t *testing.T) {
	join := Join{
		Table:  "books",
		Alias:  "authors_books",
		Column: Column{Alias: "authors_books", Name: "author_id"},
		Parent: Column{Alias: "authors", Name: "id"},
	}
	sum := NewColumnFragment(Column{Alias: "authors_books", Name: "price"}, nil)
	sum.Joins = []Join{join}
	sum.GroupBy = []Column{{Alias: "authors", Name: "id"}}
	sum.Aggregator = countAgg{}
	having := sum.Append(" > ?", 1).ApplyAggregator()

	name := NewColumnFragment(Column{Alias: "authors", Name: "name"}, nil).Append(" = ?", "Alice")

	got := Combine("OR", []*Fragment{name, having})
	assert.True(t, got.IsHaving)
	assert.Equal(t, []Join{join}, got.Joins)
	assert.Equal(t, []Column{{Alias: "authors", Name: "id"}, {Alias: "authors", Name: "name"}}, got.GroupBy)
}

func TestMergeJoinsDeduplicates(t *testing.T) {
	j := Join{Table: "books", Alias: "authors_books"}
	got := MergeJoins([]Join{j}, []Join{j, {Table: "tags", Alias: "t"}})
	require.Len(t, got, 2)
	assert.Equal(t, "t", got[1].Alias)
}

func TestFragmentString(t *testing.T) {
	f := NewColumnFragment(Column{Alias: "authors_books", Name: "title"}, nil).Append(" IN ?", []any{"A", int64(2)})
	f.Joins = []Join{{
		Table:  "books",
		Alias:  "authors_books",
		Column: Column{Alias: "authors_books", Name: "author_id"},
		Parent: Column{Alias: "authors", Name: "id"},
	}}
	f.GroupBy = []Column{{Alias: "authors", Name: "id"}}
	f.Aggregator = countAgg{}

	want := "expression: ? IN ?\n" +
		"args: [authors_books.title, (\"A\", 2)]\n" +
		"join: LEFT JOIN books AS authors_books ON authors_books.author_id = authors.id\n" +
		"group by: authors.id\n" +
		"aggregator: _COUNT\n"
	assert.Equal(t, want, f.String())
}
