package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collx/internal/compiler"
)

// writeSchema writes a single-file CUE schema into a temp directory.
func writeSchema(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.cue"), []byte(src), 0644))
	return dir
}

func runValidateCmd(t *testing.T, format string, verbose bool, dir string) (string, string, error) {
	t.Helper()
	buf, errBuf := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format, Verbose: verbose})
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{dir})
	err := cmd.Execute()
	return buf.String(), errBuf.String(), err
}

func TestValidateValidSchema(t *testing.T) {
	out, _, err := runValidateCmd(t, "text", false, librarySchema)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Schema valid (5 entities)")
}

func TestValidateValidSchemaJSON(t *testing.T) {
	out, _, err := runValidateCmd(t, "json", false, librarySchema)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.TraceID)

	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, []any{"Author", "Book", "Profile", "Publisher", "Tag"}, data["entities"])
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, _, err := runValidateCmd(t, "text", false, "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005") // ErrCodeNotFound
	assert.Contains(t, out, "not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, _, err := runValidateCmd(t, "text", false, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E003")
}

func TestValidateNotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "schema.cue")
	require.NoError(t, os.WriteFile(file, []byte("package x\n"), 0644))

	_, _, err := runValidateCmd(t, "text", false, file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestValidateInvalidSchema(t *testing.T) {
	dir := writeSchema(t, `package blog

entity: Post: property: {
	id: {type: "int"}
	comments: {relation: "one_has_many", target: "Comment"}
}
`)

	out, _, err := runValidateCmd(t, "text", false, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, compiler.ErrUnknownTarget)
	assert.Contains(t, out, "Post.comments")
}

func TestValidateInvalidSchemaJSON(t *testing.T) {
	dir := writeSchema(t, `package blog

entity: Post: {
	table: ""
	property: id: {type: "int"}
}
`)

	out, _, err := runValidateCmd(t, "json", false, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrEntityNoTable, resp.Error.Code)

	data := resp.Data.(map[string]any)
	assert.Equal(t, false, data["valid"])
	assert.NotEmpty(t, data["errors"])
}

func TestValidateCompileErrorPosition(t *testing.T) {
	dir := writeSchema(t, `package shop

entity: Item: property: {
	id: {type: "int"}
	price: {type: "money"}
}
`)

	out, _, err := runValidateCmd(t, "json", false, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrInvalidFieldType, resp.Error.Code)

	details := resp.Error.Details.(map[string]any)
	assert.Equal(t, float64(5), details["line"])
	assert.Contains(t, details["file"], "schema.cue")
}

func TestValidateCUESyntaxError(t *testing.T) {
	dir := writeSchema(t, "package broken\n\nentity: {\n")

	_, _, err := runValidateCmd(t, "text", false, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeLoadFailed)
}

func TestValidateForeignKeyCycleWarning(t *testing.T) {
	dir := writeSchema(t, `package staff

entity: Employee: {
	table: "employees"
	property: {
		id: {type: "int"}
		manager: {relation: "many_has_one", target: "Employee", nullable: true}
		reports: {relation: "one_has_many", target: "Employee", inverse: "manager"}
	}
}
`)

	out, _, err := runValidateCmd(t, "text", false, dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ Schema valid (1 entity)")
	assert.Contains(t, out, "⚠ foreign key cycle: Employee → Employee")
}

func TestValidateVerboseOutput(t *testing.T) {
	out, errOut, err := runValidateCmd(t, "json", true, librarySchema)
	require.NoError(t, err)

	// Verbose lines go to stderr so stdout stays valid JSON.
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Contains(t, errOut, "Found 1 CUE file(s)")
	assert.Contains(t, errOut, "Validating entity: Author")
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"type", compiler.ErrInvalidFieldType},
		{"embed", compiler.ErrEmptyEmbeddable},
		{"relation", compiler.ErrUnknownTarget},
		{"target", compiler.ErrUnknownTarget},
		{"junction.table", compiler.ErrInvalidJunction},
		{"entity", ErrCodeBuildFailed},
		{"property.price", ErrCodeBuildFailed},
		{"cue", ErrCodeGeneric},
		{"", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}

func TestLoadSchema(t *testing.T) {
	result, err := LoadSchema(librarySchema)
	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.Equal(t, 1, result.FileCount)
	assert.True(t, result.Registry.IsFinalized())
	assert.True(t, result.CUEValue.Exists())
	assert.Empty(t, result.Cycles)
}

func TestLoadRegistry_Invalid(t *testing.T) {
	dir := writeSchema(t, `package blog

entity: Post: property: {
	id: {type: "int"}
	comments: {relation: "one_has_many", target: "Comment"}
}
`)

	_, err := LoadRegistry(dir)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, compiler.ErrUnknownTarget, loadErr.Code)
	assert.Contains(t, loadErr.Message, "schema has 1 error(s)")
}

func TestLoadError_Error(t *testing.T) {
	assert.Equal(t, "E003: no files", (&LoadError{Code: "E003", Message: "no files"}).Error())
}

func TestFindCUEFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	for _, name := range []string{"a.cue", "nested/b.cue", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package x\n"), 0644))
	}

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
