package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios load a dataset, run each query in array and query mode, and
// check that both modes agree with each other and with the expectations.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the directory of the CUE schema. Relative paths are
	// resolved against the scenario file's directory.
	Schema string `yaml:"schema,omitempty"`

	// Data is the dataset YAML file, resolved like Schema.
	Data string `yaml:"data"`

	// Queries run in order, each in both modes.
	Queries []QueryStep `yaml:"queries"`

	// Assertions validate the trace and the loaded tables.
	// Supported types: contains, order, count, sql_contains, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// QueryStep is one collection query.
type QueryStep struct {
	// Name identifies the query in the trace and in assertions.
	Name string `yaml:"name"`

	// Entity is the root entity of the collection.
	Entity string `yaml:"entity"`

	// Filter is a collection expression: ["=", "name", "Alice"] or a
	// condition map {"price>=": 30}.
	Filter any `yaml:"filter,omitempty"`

	Order []OrderKey `yaml:"order,omitempty"`

	Limit  int `yaml:"limit,omitempty"`
	Offset int `yaml:"offset,omitempty"`

	// Aggregate computes a per-entity aggregate over the fetched rows.
	Aggregate *AggregateStep `yaml:"aggregate,omitempty"`

	// Expect specifies the expected outcome. If nil, only mode agreement
	// is checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// OrderKey is one sort key of a query.
type OrderKey struct {
	Expression any `yaml:"expression"`

	// Direction is asc, desc or one of the *_nulls_first/last variants.
	// Empty means asc.
	Direction string `yaml:"direction,omitempty"`
}

// AggregateStep names an aggregate function and the path it reads.
type AggregateStep struct {
	Function string `yaml:"function"`
	Path     string `yaml:"path"`
}

// ExpectClause specifies the expected result of a query.
type ExpectClause struct {
	// IDs are the expected primary keys in fetch order. An empty list
	// expects no rows; a missing list is not checked.
	IDs []any `yaml:"ids,omitempty"`

	// Aggregate lists the expected {id, value} pairs.
	Aggregate []AggregatePair `yaml:"aggregate,omitempty"`

	// Error is a substring both modes must fail with.
	Error string `yaml:"error,omitempty"`
}

// AggregatePair is one expected aggregate value.
type AggregatePair struct {
	ID    any `yaml:"id"`
	Value any `yaml:"value"`
}

// Assertion validates the trace or the loaded tables.
type Assertion struct {
	// Type specifies the assertion type:
	// - "contains": the query returns every listed id
	// - "order": the listed ids appear in this relative order
	// - "count": the query returns exactly Count rows
	// - "sql_contains": the query's SQL contains SQL
	// - "final_state": a loaded table row has the expected columns
	Type string `yaml:"type"`

	// Query is the query name (all types but final_state).
	Query string `yaml:"query,omitempty"`

	// IDs are the ids checked by contains and order.
	IDs []any `yaml:"ids,omitempty"`

	// Count is the expected number of rows (used by count).
	Count int `yaml:"count,omitempty"`

	// SQL is the expected fragment (used by sql_contains).
	SQL string `yaml:"sql,omitempty"`

	// Dialect renders the SQL for sql_contains. Default: sqlite3.
	Dialect string `yaml:"dialect,omitempty"`

	// Table is the table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected column values (used by final_state).
	// Subset match - only specified columns are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertContains    = "contains"
	AssertOrder       = "order"
	AssertCount       = "count"
	AssertSQLContains = "sql_contains"
	AssertFinalState  = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file. A
// scenario without a schema uses schemaDir.
func LoadScenarioWithBasePath(path, schemaDir string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve paths BEFORE validation
	dir := filepath.Dir(path)
	if scenario.Schema == "" {
		scenario.Schema = schemaDir
	} else {
		scenario.Schema = resolve(dir, scenario.Schema)
	}
	if scenario.Data != "" {
		scenario.Data = resolve(dir, scenario.Data)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if info, err := os.Stat(s.Schema); err != nil || !info.IsDir() {
		return fmt.Errorf("schema directory not found: %s", s.Schema)
	}

	if s.Data == "" {
		return fmt.Errorf("data is required")
	}
	if _, err := os.Stat(s.Data); os.IsNotExist(err) {
		return fmt.Errorf("data file not found: %s", s.Data)
	}

	if len(s.Queries) == 0 {
		return fmt.Errorf("queries list is required and must be non-empty")
	}

	names := make(map[string]bool)
	for i, q := range s.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if names[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate query name %q", i, q.Name)
		}
		names[q.Name] = true

		if q.Entity == "" {
			return fmt.Errorf("queries[%d]: entity is required", i)
		}
		if q.Limit < 0 || q.Offset < 0 {
			return fmt.Errorf("queries[%d]: limit and offset must be non-negative", i)
		}
		if q.Aggregate != nil && (q.Aggregate.Function == "" || q.Aggregate.Path == "") {
			return fmt.Errorf("queries[%d].aggregate: function and path are required", i)
		}
		for j, key := range q.Order {
			if key.Expression == nil {
				return fmt.Errorf("queries[%d].order[%d]: expression is required", i, j)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, names); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, queries map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	if a.Type != AssertFinalState && !queries[a.Query] {
		return fmt.Errorf("assertions[%d]: unknown query %q", index, a.Query)
	}

	switch a.Type {
	case AssertContains, AssertOrder:
		if len(a.IDs) == 0 {
			return fmt.Errorf("assertions[%d]: ids list is required for %s", index, a.Type)
		}
	case AssertCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for count", index)
		}
	case AssertSQLContains:
		if a.SQL == "" {
			return fmt.Errorf("assertions[%d]: sql is required for sql_contains", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
