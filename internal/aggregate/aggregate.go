// Package aggregate implements the aggregators that reduce to-many
// fan-out to a single value, in both evaluation modes.
//
// Array aggregators reduce a list of resolved values. Null and undefined
// entries are excluded before every reduction, which is what SQL aggregate
// functions do, so both modes agree: over [2, null, 5] Sum is 7 and Count
// is 2. Over an empty list every aggregator yields nil except Count (0)
// and None (true).
//
// Builder aggregators (builder.go) wrap a query fragment in the equivalent
// SQL aggregate and share keys with their array counterparts.
package aggregate

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/collx/internal/ir"
)

// Aggregator keys.
const (
	KeyAny   = "any"
	KeyNone  = "none"
	KeyCount = "count"
	KeySum   = "sum"
	KeyAvg   = "avg"
	KeyMin   = "min"
	KeyMax   = "max"
)

// ArrayAggregator reduces the values collected across a to-many
// relationship to a single value. Implementations are stateless.
type ArrayAggregator interface {
	// AggregateKey identifies the aggregator. Two aggregators with the same
	// key reduce identically.
	AggregateKey() string

	// Aggregate reduces values. It must not modify the slice.
	Aggregate(values []any) any
}

var (
	// Any yields the first truthy value, or the first present value when
	// none is truthy. It is the implicit aggregator of a to-many path: a
	// comparison over it matches when any related entity matches.
	Any ArrayAggregator = anyAggregator{}

	// None yields true when no value is truthy.
	None ArrayAggregator = noneAggregator{}

	// Count yields the number of present values as int64.
	Count ArrayAggregator = countAggregator{}

	// Sum yields the sum of the numeric values: int64 when every operand is
	// an integer and the total fits, float64 otherwise.
	Sum ArrayAggregator = sumAggregator{}

	// Avg yields the mean of the numeric values as float64.
	Avg ArrayAggregator = avgAggregator{}

	// Min yields the smallest value.
	Min ArrayAggregator = extremeAggregator{key: KeyMin, want: -1}

	// Max yields the largest value.
	Max ArrayAggregator = extremeAggregator{key: KeyMax, want: 1}
)

var arrayAggregators = map[string]ArrayAggregator{
	KeyAny:   Any,
	KeyNone:  None,
	KeyCount: Count,
	KeySum:   Sum,
	KeyAvg:   Avg,
	KeyMin:   Min,
	KeyMax:   Max,
}

// ByKey returns the array aggregator registered under key.
func ByKey(key string) (ArrayAggregator, bool) {
	agg, ok := arrayAggregators[key]
	return agg, ok
}

// present returns the values that are neither nil nor undefined.
func present(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if !ir.IsNull(v) {
			out = append(out, v)
		}
	}
	return out
}

type anyAggregator struct{}

func (anyAggregator) AggregateKey() string { return KeyAny }

func (anyAggregator) Aggregate(values []any) any {
	values = present(values)
	for _, v := range values {
		if ir.Truthy(v) {
			return v
		}
	}
	if len(values) > 0 {
		return values[0]
	}
	return nil
}

type noneAggregator struct{}

func (noneAggregator) AggregateKey() string { return KeyNone }

func (noneAggregator) Aggregate(values []any) any {
	for _, v := range values {
		if ir.Truthy(v) {
			return false
		}
	}
	return true
}

type countAggregator struct{}

func (countAggregator) AggregateKey() string { return KeyCount }

func (countAggregator) Aggregate(values []any) any {
	return int64(len(present(values)))
}

// numbers converts the present numeric values to decimals. Values that are
// not numbers are skipped, like NULL in SQL. ints reports whether every
// operand was an integer.
func numbers(values []any) (ds []decimal.Decimal, ints bool) {
	ints = true
	for _, v := range present(values) {
		d, ok := ir.ToDecimal(v)
		if !ok {
			continue
		}
		if ir.IsFloat(v) || !d.IsInteger() {
			ints = false
		}
		ds = append(ds, d)
	}
	return ds, ints
}

type sumAggregator struct{}

func (sumAggregator) AggregateKey() string { return KeySum }

func (sumAggregator) Aggregate(values []any) any {
	ds, ints := numbers(values)
	if len(ds) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	if ints && total.BigInt().IsInt64() {
		return total.IntPart()
	}
	return total.InexactFloat64()
}

type avgAggregator struct{}

func (avgAggregator) AggregateKey() string { return KeyAvg }

func (avgAggregator) Aggregate(values []any) any {
	ds, _ := numbers(values)
	if len(ds) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total.Div(decimal.NewFromInt(int64(len(ds)))).InexactFloat64()
}

type extremeAggregator struct {
	key  string
	want int
}

func (a extremeAggregator) AggregateKey() string { return a.key }

func (a extremeAggregator) Aggregate(values []any) any {
	var best any
	for _, v := range present(values) {
		if best == nil || ir.Compare(v, best) == a.want {
			best = v
		}
	}
	return best
}
