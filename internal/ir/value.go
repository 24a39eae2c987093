package ir

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeLiteral converts a decoded JSON/YAML value into the value forms
// the evaluators understand:
//   - every integer kind becomes int64
//   - every float kind becomes float64 (json.Number picks int64 or float64)
//   - []any and map[string]any are normalized recursively
//   - nil, bool, string and time.Time are kept as is
func NormalizeLiteral(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, time.Time, UndefinedValue:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return uintToInt64(uint64(val))
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return uintToInt64(val)
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return f, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := NormalizeLiteral(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			n, err := NormalizeLiteral(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v (%T)", k, k)
			}
			n, err := NormalizeLiteral(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", key, err)
			}
			out[key] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported literal type: %T", v)
	}
}

func uintToInt64(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows int64", u)
	}
	return int64(u), nil
}

// IsNull reports whether v is nil or Undefined.
func IsNull(v any) bool {
	return v == nil || IsUndefined(v)
}

// IsNumber reports whether v holds a Go integer or float. Numeric strings
// and bools are not numbers.
func IsNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, decimal.Decimal:
		return true
	}
	return false
}

// IsFloat reports whether v holds a float kind.
func IsFloat(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

// ToDecimal converts a number or a numeric string to a decimal.
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int8:
		return decimal.NewFromInt(int64(val)), true
	case int16:
		return decimal.NewFromInt(int64(val)), true
	case int32:
		return decimal.NewFromInt32(val), true
	case int64:
		return decimal.NewFromInt(val), true
	case uint:
		return decimal.NewFromUint64(uint64(val)), true
	case uint8:
		return decimal.NewFromInt(int64(val)), true
	case uint16:
		return decimal.NewFromInt(int64(val)), true
	case uint32:
		return decimal.NewFromInt(int64(val)), true
	case uint64:
		return decimal.NewFromUint64(val), true
	case float32:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(val), true
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(val), true
	case decimal.Decimal:
		return val, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// ToText renders v the way textual comparison sees it: bools are "1" and
// "", nil is "", floats use the shortest exact form.
func ToText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "1"
		}
		return ""
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprint(v)
}

// Compare orders two non-null values: numerically when either operand is a
// number and both convert to numbers, textually otherwise. It is not a
// total order across arbitrary types.
func Compare(a, b any) int {
	if IsNumber(a) || IsNumber(b) {
		da, okA := ToDecimal(a)
		db, okB := ToDecimal(b)
		if okA && okB {
			return da.Cmp(db)
		}
	}
	return cmp.Compare(ToText(a), ToText(b))
}

// Truthy reports whether v counts as a match when used as a filter result.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil, UndefinedValue:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "0"
	case []any:
		return len(val) > 0
	}
	if IsNumber(v) {
		d, _ := ToDecimal(v)
		return !d.IsZero()
	}
	return true
}
