package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/collx/internal/dataset"
	"github.com/roach88/collx/internal/engine"
	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/store"
)

// Evaluation modes.
const (
	ModeArray = "array"
	ModeQuery = "query"
	ModeBoth  = "both"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Entity    string
	Filter    string   // YAML or JSON expression
	Order     []string // "expr[:direction]"
	Limit     int
	Offset    int
	Aggregate string // "FUNC:path"
	Mode      string
}

// EvalResult is the outcome of evaluating a collection in one mode.
type EvalResult struct {
	Entity    string          `json:"entity"`
	Mode      string          `json:"mode"`
	IDs       []any           `json:"ids"`
	Aggregate []AggregatePair `json:"aggregate,omitempty"`
	SQL       string          `json:"sql,omitempty"`
	Args      []any           `json:"args,omitempty"`
}

// AggregatePair is one entity's aggregate value.
type AggregatePair struct {
	ID    any `json:"id"`
	Value any `json:"value"`
}

// collectionQuery is a parsed set of eval flags.
type collectionQuery struct {
	entity    string
	filter    any
	sort      []ir.SortKey
	limit     int
	offset    int
	function  string
	path      string
	aggregate bool
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <schema-dir> <data-file>",
		Short: "Evaluate a collection expression over a dataset",
		Long: `Load a dataset and evaluate a filter, sort and aggregate over one entity.

In array mode the expression is evaluated in memory over the loaded
entities. In query mode the dataset is inserted into the configured
database and the expression is compiled to SQL. Mode "both" runs the two
and fails when they disagree.

Expressions are YAML or JSON. A sort key may end with a direction.

Examples:
  collx eval ./schema ./data.yaml --entity Author --filter '[">", ["SUM", "books->price"], 50]'
  collx eval ./schema ./data.yaml --entity Book --order 'price:desc_nulls_first' --limit 2
  collx eval ./schema ./data.yaml --entity Author --aggregate 'AVG:books->price' --mode both`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity to evaluate (required)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter expression (YAML or JSON)")
	cmd.Flags().StringArrayVar(&opts.Order, "order", nil, "sort key expr[:direction], repeatable")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of rows (0 = no limit)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	cmd.Flags().StringVar(&opts.Aggregate, "aggregate", "", "aggregate FUNC:path (SUM, AVG, MIN, MAX, COUNT)")
	cmd.Flags().StringVar(&opts.Mode, "mode", ModeQuery, "evaluation mode (array|query|both)")
	_ = cmd.MarkFlagRequired("entity")

	return cmd
}

func runEval(opts *EvalOptions, schemaDir, dataFile string, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)
	cfg, logger := opts.settings()

	q, err := parseEvalFlags(opts)
	if err != nil {
		return commandError(formatter, ErrCodeBadFlag, err.Error(), nil)
	}

	reg, err := LoadRegistry(schemaDir)
	if err != nil {
		return loadErrorOutput(formatter, err)
	}
	ds, err := dataset.LoadFile(dataFile, reg)
	if err != nil {
		return commandError(formatter, ErrCodeDataFailed, err.Error(), nil)
	}
	formatter.VerboseLog("Loaded %d entities from %s", len(ds.All()), dataFile)

	engineOpts := []engine.Option{engine.WithLogger(logger), engine.WithDialect(cfg.Dialect)}
	if opts.Mode != ModeArray {
		st, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return commandError(formatter, ErrCodeGeneric, fmt.Sprintf("open database: %v", err), nil)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithStore(st))
	}

	eng, err := engine.New(reg, engineOpts...)
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := eng.Load(ctx, ds.All()...); err != nil {
		return commandError(formatter, ErrCodeDataFailed, fmt.Sprintf("load entities: %v", err), nil)
	}

	modes := []string{opts.Mode}
	if opts.Mode == ModeBoth {
		modes = []string{ModeArray, ModeQuery}
	}

	results := make([]*EvalResult, 0, len(modes))
	for _, mode := range modes {
		result, err := evaluate(ctx, eng, mode, q)
		if err != nil {
			return commandError(formatter, ErrCodeQueryFailed, err.Error(), map[string]any{"mode": mode})
		}
		logger.Info("collection evaluated", "entity", q.entity, "mode", mode, "rows", len(result.IDs))
		results = append(results, result)
	}

	if len(results) == 2 {
		if diff := diffResults(results[0], results[1]); diff != "" {
			_ = formatter.Error(ErrCodeQueryFailed, "array and query mode disagree: "+diff, results)
			return NewExitError(ExitFailure, "array and query mode disagree: "+diff)
		}
	}
	return outputEvalResults(formatter, results)
}

// parseEvalFlags turns the eval flags into a collection query.
func parseEvalFlags(opts *EvalOptions) (*collectionQuery, error) {
	switch opts.Mode {
	case ModeArray, ModeQuery, ModeBoth:
	default:
		return nil, fmt.Errorf("invalid mode %q: must be array, query or both", opts.Mode)
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("limit and offset must be non-negative")
	}

	q := &collectionQuery{entity: opts.Entity, limit: opts.Limit, offset: opts.Offset}
	if opts.Filter != "" {
		filter, err := parseExpression(opts.Filter)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		q.filter = filter
	}
	for i, raw := range opts.Order {
		key, err := parseSortKey(raw)
		if err != nil {
			return nil, fmt.Errorf("order[%d]: %w", i, err)
		}
		q.sort = append(q.sort, key)
	}
	if opts.Aggregate != "" {
		function, path, ok := strings.Cut(opts.Aggregate, ":")
		if !ok || function == "" || path == "" {
			return nil, fmt.Errorf("aggregate must be FUNC:path, got %q", opts.Aggregate)
		}
		q.function = strings.ToUpper(function)
		q.path = path
		q.aggregate = true
	}
	return q, nil
}

// parseExpression decodes a YAML or JSON expression. A bare word is a
// property path.
func parseExpression(s string) (any, error) {
	var raw any
	if err := yaml.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	return ir.NormalizeLiteral(raw)
}

// parseSortKey parses "expr[:direction]". The suffix is only taken as a
// direction when it parses as one, so paths and JSON arrays containing a
// colon still work.
func parseSortKey(s string) (ir.SortKey, error) {
	exprText, direction := s, ir.Asc
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if d, err := ir.ParseDirection(s[i+1:]); err == nil && strings.TrimSpace(s[i+1:]) != "" {
			exprText, direction = s[:i], d
		}
	}
	exprText = strings.TrimSpace(exprText)
	if exprText == "" {
		return ir.SortKey{}, fmt.Errorf("empty sort expression")
	}

	var expr any = exprText
	if strings.HasPrefix(exprText, "[") {
		parsed, err := parseExpression(exprText)
		if err != nil {
			return ir.SortKey{}, err
		}
		expr = parsed
	}
	return ir.SortKey{Expression: expr, Direction: direction}, nil
}

// collectionFor applies q to a fresh collection of the given mode.
func collectionFor(eng *engine.Engine, mode string, q *collectionQuery) (engine.Collection, error) {
	var (
		c   engine.Collection
		err error
	)
	if mode == ModeArray {
		c, err = eng.Array(q.entity)
	} else {
		c, err = eng.Query(q.entity)
	}
	if err != nil {
		return nil, err
	}

	if q.filter != nil {
		c = c.FindBy(q.filter)
	}
	if len(q.sort) > 0 {
		c = c.OrderBy(q.sort...)
	}
	if q.limit > 0 || q.offset > 0 {
		c = c.Limit(q.limit, q.offset)
	}
	return c, nil
}

func evaluate(ctx context.Context, eng *engine.Engine, mode string, q *collectionQuery) (*EvalResult, error) {
	c, err := collectionFor(eng, mode, q)
	if err != nil {
		return nil, err
	}

	result := &EvalResult{Entity: q.entity, Mode: mode, IDs: []any{}}
	if qc, ok := c.(*engine.QueryCollection); ok && !q.aggregate {
		if result.SQL, result.Args, err = qc.SQL(); err != nil {
			return nil, err
		}
	}

	if q.aggregate {
		values, err := c.Aggregate(ctx, q.function, q.path)
		if err != nil {
			return nil, err
		}
		result.Aggregate = make([]AggregatePair, len(values))
		for i, v := range values {
			result.IDs = append(result.IDs, v.ID)
			result.Aggregate[i] = AggregatePair{ID: v.ID, Value: v.Value}
		}
		return result, nil
	}

	entities, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := eng.Registry().Entity(q.entity)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		result.IDs = append(result.IDs, metadata.PrimaryValue(meta, e))
	}
	return result, nil
}

// diffResults compares two evaluations through canonical JSON so an
// integer read from the database equals one decoded from YAML.
func diffResults(a, b *EvalResult) string {
	ids := func(r *EvalResult) string { return canonicalString(r.IDs) }
	if ids(a) != ids(b) {
		return fmt.Sprintf("ids %s vs %s", ids(a), ids(b))
	}
	agg := func(r *EvalResult) string {
		pairs := make([]any, len(r.Aggregate))
		for i, p := range r.Aggregate {
			pairs[i] = map[string]any{"id": p.ID, "value": p.Value}
		}
		return canonicalString(pairs)
	}
	if agg(a) != agg(b) {
		return fmt.Sprintf("aggregate %s vs %s", agg(a), agg(b))
	}
	return ""
}

func canonicalString(v any) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

func outputEvalResults(formatter *OutputFormatter, results []*EvalResult) error {
	if formatter.Format == "json" {
		if len(results) == 1 {
			return formatter.Success(results[0])
		}
		return formatter.Success(results)
	}

	for _, r := range results {
		fmt.Fprintf(formatter.Writer, "%s (%s): %d row(s)\n", r.Entity, r.Mode, len(r.IDs))
		if r.Aggregate != nil {
			for _, p := range r.Aggregate {
				fmt.Fprintf(formatter.Writer, "  %v: %s\n", p.ID, canonicalString(p.Value))
			}
		} else {
			fmt.Fprintf(formatter.Writer, "  ids: %s\n", canonicalString(r.IDs))
		}
		if r.SQL != "" {
			formatter.VerboseLog("SQL: %s", r.SQL)
			formatter.VerboseLog("Args: %v", r.Args)
		}
	}
	return nil
}
