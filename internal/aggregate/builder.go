package aggregate

import (
	"strings"

	"github.com/roach88/collx/internal/queryir"
)

var (
	// AnyBuilder matches when the expression holds for at least one joined
	// row: COUNT(CASE WHEN expr THEN 1 END) > 0.
	AnyBuilder queryir.Aggregator = caseCountBuilder{key: KeyAny, suffix: " THEN 1 END) > 0"}

	// NoneBuilder matches when the expression holds for no joined row:
	// COUNT(CASE WHEN expr THEN 1 END) = 0.
	NoneBuilder queryir.Aggregator = caseCountBuilder{key: KeyNone, suffix: " THEN 1 END) = 0"}
)

var builderAggregators = map[string]queryir.Aggregator{
	KeyAny:  AnyBuilder,
	KeyNone: NoneBuilder,
}

// BuilderByKey returns the builder aggregator registered under key. Only
// the boolean aggregators (any, none) have builder counterparts; numeric
// reductions are applied by the aggregate functions through SQLFunction.
func BuilderByKey(key string) (queryir.Aggregator, bool) {
	agg, ok := builderAggregators[key]
	return agg, ok
}

type caseCountBuilder struct {
	key    string
	suffix string
}

func (b caseCountBuilder) AggregateKey() string { return b.key }

func (b caseCountBuilder) AggregateFragment(f *queryir.Fragment) *queryir.Fragment {
	out := f.Wrap("COUNT(CASE WHEN ", b.suffix)
	out.Aggregator = nil
	out.IsHaving = true
	return out
}

// SQLFunction aggregates with a SQL aggregate function: SUM(expr).
//
// The key is the function name prefixed with "_", so it never collides
// with the keys of the boolean aggregators.
type SQLFunction struct {
	Function string
}

// NewSQLFunction creates the aggregator for a SQL aggregate function.
func NewSQLFunction(fn string) SQLFunction {
	return SQLFunction{Function: strings.ToUpper(fn)}
}

// AggregateKey implements queryir.Aggregator.
func (s SQLFunction) AggregateKey() string {
	return "_" + s.Function
}

// AggregateFragment implements queryir.Aggregator.
func (s SQLFunction) AggregateFragment(f *queryir.Fragment) *queryir.Fragment {
	out := f.Wrap(s.Function+"(", ")")
	out.Aggregator = nil
	out.IsHaving = true
	return out
}
