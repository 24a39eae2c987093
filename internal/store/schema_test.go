package store

import (
	"context"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/testutil"
)

func TestSchemaStatements_Golden(t *testing.T) {
	stmts, err := SchemaStatements(testutil.LibraryRegistry(), DialectSQLite)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "library_schema_sqlite3", []byte(strings.Join(stmts, ";\n\n")+";\n"))
}

func TestSchemaStatements_Postgres(t *testing.T) {
	stmts, err := SchemaStatements(testutil.LibraryRegistry(), DialectPostgres)
	require.NoError(t, err)

	all := strings.Join(stmts, "\n")
	assert.Contains(t, all, `"id" BIGINT PRIMARY KEY`)
	assert.Contains(t, all, `"address_geo_lat" DOUBLE PRECISION`)
	assert.NotContains(t, all, "INTEGER")
}

func TestSchemaStatements_Errors(t *testing.T) {
	_, err := SchemaStatements(testutil.LibraryRegistry(), "oracle")
	assert.ErrorContains(t, err, "unsupported dialect")

	reg := metadata.NewRegistry()
	require.NoError(t, reg.AddEntity(metadata.NewEntityMetadata("Blob", "blobs", "id").
		MustAddProperty(&metadata.PropertyMetadata{Name: "id", Type: metadata.TypeInt}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "data", Type: "bytes"})))
	_, err = SchemaStatements(reg, DialectSQLite)
	assert.ErrorContains(t, err, `unsupported type "bytes"`)
}

func TestCreateSchema_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	reg := testutil.LibraryRegistry()

	require.NoError(t, s.CreateSchema(ctx, reg))
	require.NoError(t, s.CreateSchema(ctx, reg))

	rows, err := s.SelectRows(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	require.NoError(t, err)
	var tables []any
	for _, r := range rows {
		tables = append(tables, r[0])
	}
	assert.Equal(t, []any{"authors", "books", "books_tags", "profiles", "publishers", "tags"}, tables)
}
