package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/collx/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <schema-dir> <scenarios-dir>",
		Short: "Run scenario files in both evaluation modes",
		Long: `Run scenario files using the harness framework.

Every query of a scenario is evaluated in array mode and in query mode;
the two must agree. Expect clauses and assertions are checked, and the
trace is compared with the golden file in <scenarios-dir>/golden when one
exists. Scenarios without a schema use <schema-dir>.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  collx test ./schema ./scenarios
  collx test ./schema ./scenarios --filter "author_*"
  collx test ./schema ./scenarios --update
  collx test ./schema ./scenarios --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, schemaDir, scenariosDir string, cmd *cobra.Command) error {
	// Validate directories
	if _, err := os.Stat(schemaDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("schema directory not found: %s", schemaDir))
	}
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	// Find scenario files
	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return fmt.Errorf("failed to find scenarios: %w", err)
	}

	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{
				Scenarios: []ScenarioResult{},
				Total:     0,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	// Run scenarios
	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}

	for _, scenarioFile := range scenarioFiles {
		scenResult := runScenario(scenarioFile, schemaDir, opts, cmd)
		result.Scenarios = append(result.Scenarios, scenResult)

		if scenResult.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	// Output results
	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}

	return outputTestText(cmd, result)
}

// findScenarioFiles finds all YAML scenario files in a directory.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		// Apply filter if specified
		if filter != "" {
			base := filepath.Base(path)
			name := strings.TrimSuffix(base, ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario executes a single scenario, reports it and returns the
// result.
func runScenario(scenarioFile string, schemaDir string, opts *TestOptions, cmd *cobra.Command) ScenarioResult {
	result := executeScenario(scenarioFile, schemaDir, opts, cmd)
	if opts.Format != "json" {
		reportScenario(cmd.OutOrStdout(), result)
	}
	return result.ScenarioResult
}

// scenarioOutcome is a scenario result plus the text-only details.
type scenarioOutcome struct {
	ScenarioResult
	note   string // shown after the name on success
	detail string // shown instead of Errors on failure
}

func failed(name, detail string, errs ...string) scenarioOutcome {
	return scenarioOutcome{ScenarioResult: ScenarioResult{Name: name, Errors: errs}, detail: detail}
}

func executeScenario(scenarioFile string, schemaDir string, opts *TestOptions, cmd *cobra.Command) scenarioOutcome {
	_, logger := opts.settings()

	// Scenarios without a schema use the schema dir
	scenario, err := harness.LoadScenarioWithBasePath(scenarioFile, schemaDir)
	if err != nil {
		return failed(filepath.Base(scenarioFile),
			fmt.Sprintf("Load error: %v", err),
			fmt.Sprintf("failed to load scenario: %v", err))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := harness.RunContext(ctx, scenario)
	logger.Debug("scenario run", "scenario", scenario.Name, "file", scenarioFile, "error", err)
	if err != nil {
		return failed(scenario.Name,
			fmt.Sprintf("Execution error: %v", err),
			fmt.Sprintf("execution failed: %v", err))
	}

	goldenPath := goldenFilePath(scenarioFile)
	switch _, statErr := os.Stat(goldenPath); {
	case opts.Update:
		if err := updateGoldenFile(scenario, result, scenarioFile); err != nil {
			return failed(scenario.Name,
				fmt.Sprintf("Golden update error: %v", err),
				fmt.Sprintf("failed to update golden file: %v", err))
		}
		return scenarioOutcome{ScenarioResult: ScenarioResult{Name: scenario.Name, Pass: true}, note: " (golden updated)"}

	case os.IsNotExist(statErr):
		// No golden file: assertions decide

	default:
		match, err := compareWithGolden(scenario, result, goldenPath)
		if err != nil {
			return failed(scenario.Name,
				fmt.Sprintf("Golden comparison error: %v", err),
				fmt.Sprintf("golden comparison failed: %v", err))
		}
		if !match {
			return failed(scenario.Name,
				"Golden file mismatch (run with --update to regenerate)",
				"trace does not match golden file")
		}
	}

	if !result.Pass {
		return failed(scenario.Name, "", result.Errors...)
	}
	return scenarioOutcome{ScenarioResult: ScenarioResult{Name: scenario.Name, Pass: true}}
}

func reportScenario(w io.Writer, o scenarioOutcome) {
	if o.Pass {
		fmt.Fprintf(w, "✓ %s%s\n", o.Name, o.note)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", o.Name)
	if o.detail != "" {
		fmt.Fprintf(w, "  %s\n", o.detail)
		return
	}
	for _, e := range o.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// updateGoldenFile writes the current trace as the golden file.
func updateGoldenFile(scenario *harness.Scenario, result *harness.Result, scenarioFile string) error {
	goldenPath := goldenFilePath(scenarioFile)

	// Ensure golden directory exists
	goldenDir := filepath.Dir(goldenPath)
	if err := os.MkdirAll(goldenDir, 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}

	data, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	// Write golden file
	if err := os.WriteFile(goldenPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}

	return nil
}

// compareWithGolden compares the result trace against the golden file.
func compareWithGolden(scenario *harness.Scenario, result *harness.Result, goldenPath string) (bool, error) {
	// Read golden file
	goldenData, err := os.ReadFile(goldenPath)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}

	currentData, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal current trace: %w", err)
	}

	// Trailing whitespace is not significant
	return bytes.Equal(bytes.TrimSpace(goldenData), bytes.TrimSpace(currentData)), nil
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
	response := CLIResponse{
		Status: status,
		Data:   result,
	}

	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	if err := formatter.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
