package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the DDL generated for a schema.
type CompilationResult struct {
	SchemaVersion string          `json:"schema_version"`
	Dialect       string          `json:"dialect"`
	Entities      []EntitySummary `json:"entities"`
	Statements    []string        `json:"statements"`
}

// EntitySummary describes one compiled entity.
type EntitySummary struct {
	Name          string `json:"name"`
	Table         string `json:"table"`
	Columns       int    `json:"columns"`
	Relationships int    `json:"relationships"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <schema-dir>",
		Short: "Compile an entity schema to table DDL",
		Long: `Compile the CUE entity schema in a directory to CREATE TABLE statements.

The statements use the configured dialect (--dialect) and include the
junction tables of many-to-many relationships.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)
	cfg, logger := opts.settings()

	reg, err := LoadRegistry(schemaDir)
	if err != nil {
		return loadErrorOutput(formatter, err)
	}

	stmts, err := store.SchemaStatements(reg, cfg.Dialect)
	if err != nil {
		return commandError(formatter, ErrCodeBuildFailed, err.Error(), nil)
	}
	logger.Debug("schema compiled", "dir", schemaDir, "dialect", cfg.Dialect, "statements", len(stmts))

	result := &CompilationResult{
		SchemaVersion: ir.SchemaVersion,
		Dialect:       cfg.Dialect,
		Entities:      summarize(reg),
		Statements:    stmts,
	}
	for _, e := range result.Entities {
		formatter.VerboseLog("Compiled entity: %s -> %s", e.Name, e.Table)
	}

	// Write to file if --output specified
	if opts.Output != "" {
		if err := writeDDLToFile(stmts, opts.Output); err != nil {
			return commandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

func summarize(reg *metadata.Registry) []EntitySummary {
	names := reg.EntityNames()
	out := make([]EntitySummary, 0, len(names))
	for _, name := range names {
		meta, err := reg.Entity(name)
		if err != nil {
			continue
		}
		summary := EntitySummary{Name: meta.Name, Table: meta.Table, Columns: len(meta.Columns())}
		for _, p := range meta.Properties() {
			if p.IsRelationship() {
				summary.Relationships++
			}
		}
		out = append(out, summary)
	}
	return out
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d entit%s for %s\n\n",
		len(result.Entities), plural(len(result.Entities), "y", "ies"), result.Dialect)

	fmt.Fprintln(formatter.Writer, "Entities:")
	for _, e := range result.Entities {
		fmt.Fprintf(formatter.Writer, "  %s: table %s, %d column(s), %d relationship(s)\n",
			e.Name, e.Table, e.Columns, e.Relationships)
	}
	fmt.Fprintln(formatter.Writer)

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote %d statement(s) to %s\n", len(result.Statements), outputFile)
		return nil
	}
	fmt.Fprintln(formatter.Writer, formatDDL(result.Statements))
	return nil
}

func formatDDL(stmts []string) string {
	return strings.Join(stmts, ";\n\n") + ";"
}

// writeDDLToFile writes the statements to a file, separated by blank lines.
func writeDDLToFile(stmts []string, filename string) error {
	if err := os.WriteFile(filename, []byte(formatDDL(stmts)+"\n"), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
