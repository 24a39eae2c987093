package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collx/internal/ir"
)

const (
	librarySchema = "../../testdata/schema"
	libraryData   = "../../testdata/data/library.yaml"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "collx", cmd.Use)
	assert.Contains(t, cmd.Long, "array mode")
	assert.Equal(t, ir.EngineVersion, cmd.Version)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "compile", "eval", "sql", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "dialect", "database-url", "log-level", "log-format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestCompileCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	compileCmd, _, err := cmd.Find([]string{"compile"})
	require.NoError(t, err)

	outputFlag := compileCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)
}

func TestEvalCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	evalCmd, _, err := cmd.Find([]string{"eval"})
	require.NoError(t, err)

	modeFlag := evalCmd.Flags().Lookup("mode")
	require.NotNil(t, modeFlag)
	assert.Equal(t, ModeQuery, modeFlag.DefValue)

	for _, name := range []string{"entity", "filter", "order", "limit", "offset", "aggregate"} {
		assert.NotNil(t, evalCmd.Flags().Lookup(name), name)
	}
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestFormatValidation(t *testing.T) {
	// Test valid formats
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	// Test invalid formats
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, "--format", "invalid", "validate", ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootCommand_ConfigFlags(t *testing.T) {
	out, err := execute(t, "--dialect", "postgres", "sql", librarySchema, "--entity", "Book", "--filter", `["<", "price", 35]`)
	require.NoError(t, err)
	assert.Contains(t, out, `"books"."price" < $1`)
}

func TestRootCommand_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dialect: postgres\nlog_level: debug\n"), 0644))

	out, err := execute(t, "--config", path, "sql", librarySchema, "--entity", "Tag", "--filter", `["=", "name", "go"]`)
	require.NoError(t, err)
	assert.Contains(t, out, "$1")
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	_, err := execute(t, "--dialect", "oracle", "validate", librarySchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialect must be")

	_, err = execute(t, "--config", "/nonexistent/collx.yaml", "validate", librarySchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestRootOptions_SettingsDefaults(t *testing.T) {
	cfg, logger := (&RootOptions{}).settings()
	require.NotNil(t, cfg)
	require.NotNil(t, logger)
	assert.Equal(t, "sqlite3", cfg.Dialect)
	assert.Equal(t, "sqlite://:memory:", cfg.DatabaseURL)
}
