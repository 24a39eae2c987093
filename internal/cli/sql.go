package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/collx/internal/engine"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Entity string
	Filter string
	Order  []string
	Limit  int
	Offset int
}

// SQLResult is a rendered query.
type SQLResult struct {
	Entity  string `json:"entity"`
	Dialect string `json:"dialect"`
	SQL     string `json:"sql"`
	Args    []any  `json:"args"`
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql <schema-dir>",
		Short: "Render the SQL a collection expression compiles to",
		Long: `Compile a filter and sort over one entity to SQL without a database.

The query is rendered in the configured dialect (--dialect) as a prepared
statement; bound values are printed separately.

Examples:
  collx sql ./schema --entity Author --filter '[">", ["SUM", "books->price"], 50]'
  collx sql ./schema --entity Book --order 'title:desc' --dialect postgres`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity to query (required)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter expression (YAML or JSON)")
	cmd.Flags().StringArrayVar(&opts.Order, "order", nil, "sort key expr[:direction], repeatable")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of rows (0 = no limit)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	_ = cmd.MarkFlagRequired("entity")

	return cmd
}

func runSQL(opts *SQLOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)
	cfg, logger := opts.settings()

	q, err := parseEvalFlags(&EvalOptions{
		RootOptions: opts.RootOptions,
		Entity:      opts.Entity,
		Filter:      opts.Filter,
		Order:       opts.Order,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
		Mode:        ModeQuery,
	})
	if err != nil {
		return commandError(formatter, ErrCodeBadFlag, err.Error(), nil)
	}

	reg, err := LoadRegistry(schemaDir)
	if err != nil {
		return loadErrorOutput(formatter, err)
	}

	eng, err := engine.New(reg, engine.WithDialect(cfg.Dialect), engine.WithLogger(logger))
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	c, err := collectionFor(eng, ModeQuery, q)
	if err != nil {
		return commandError(formatter, ErrCodeQueryFailed, err.Error(), nil)
	}
	query, args, err := c.(*engine.QueryCollection).SQL()
	if err != nil {
		return commandError(formatter, ErrCodeQueryFailed, err.Error(), nil)
	}
	if args == nil {
		args = []any{}
	}

	result := SQLResult{Entity: q.entity, Dialect: cfg.Dialect, SQL: query, Args: args}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, result.SQL)
	if len(result.Args) > 0 {
		fmt.Fprintf(formatter.Writer, "-- args: %s\n", canonicalString(result.Args))
	}
	return nil
}
