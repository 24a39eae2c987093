package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/collx/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
	Entities []string                   `json:"entities,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate an entity schema",
		Long: `Validate the CUE entity schema in a directory.

Checks tables, primary keys, property types, relationship targets,
inverse properties and junction tables. Foreign key cycles are reported
as warnings; embeddable cycles are errors.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)

	result, err := LoadSchema(schemaDir)
	if err != nil {
		return loadErrorOutput(formatter, err)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, schemaDir)
	for _, name := range result.Registry.EntityNames() {
		formatter.VerboseLog("Validating entity: %s", name)
	}

	var warnings []compiler.CycleWarning
	for _, c := range result.Cycles {
		if c.Level == compiler.LevelWarning {
			warnings = append(warnings, c)
		}
	}

	if !result.Valid() {
		return outputValidationErrors(formatter, result.Errors, warnings)
	}
	return outputValidateSuccess(formatter, result.Registry.EntityNames(), warnings)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, entities []string, warnings []compiler.CycleWarning) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Entities: entities, Warnings: warnings})
	}

	fmt.Fprintf(formatter.Writer, "✓ Schema valid (%d entities)\n", len(entities))
	writeWarnings(formatter, warnings)
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError, warnings []compiler.CycleWarning) error {
	// Validation failures = exit code 1 (test/validation failure)
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		err := formatter.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs, Warnings: warnings},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		})
		if err != nil {
			return err
		}
		return exitErr
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	writeWarnings(formatter, warnings)

	return exitErr
}

func writeWarnings(formatter *OutputFormatter, warnings []compiler.CycleWarning) {
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "⚠ %s\n", w.Message)
	}
}
