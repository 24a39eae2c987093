package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectIDs_Empty(t *testing.T) {
	s, _ := loadLibrary(t)

	ids, err := s.SelectIDs(context.Background(), "SELECT id FROM books WHERE price > ?", 1000)
	require.NoError(t, err)
	assert.NotNil(t, ids, "empty result is an empty slice")
	assert.Empty(t, ids)
}

func TestSelectIDs_RowOrder(t *testing.T) {
	s, _ := loadLibrary(t)

	ids, err := s.SelectIDs(context.Background(), "SELECT id FROM books ORDER BY title")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(13), int64(12), int64(10), int64(11)}, ids)
}

func TestSelectRows_TextAsString(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, "CREATE TABLE notes (id INTEGER, body BLOB)")
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, "INSERT INTO notes VALUES (1, CAST('hello' AS BLOB))")
	require.NoError(t, err)

	rows, err := s.SelectRows(ctx, "SELECT id, body FROM notes")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{int64(1), "hello"}, rows[0])
}

func TestSelectRows_InvalidQuery(t *testing.T) {
	s := createTestStore(t)

	_, err := s.SelectRows(context.Background(), "SELECT * FROM missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query:")
}
