package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Expr is a parsed collection expression.
//
// This is a sealed interface - only PropertyPath and FunctionCall
// implement it, so evaluators can switch over it exhaustively.
type Expr interface {
	exprNode()
}

// PropertyPath references a property, optionally across relationships and
// embeddables: "name", "author->name", "Book::author->address->city".
type PropertyPath struct {
	Raw string
}

func (PropertyPath) exprNode() {}

// FunctionCall is a named collection function with raw arguments.
//
// Args are kept in their raw form. Each function decides how to interpret
// them: a string is usually a property path, a []any a nested call and a
// map[string]any a set of conditions.
type FunctionCall struct {
	Name string
	Args []any
}

func (FunctionCall) exprNode() {}

// Names of the built-in collection functions.
const (
	FuncAnd = "AND"
	FuncOr  = "OR"

	FuncEqual          = "="
	FuncNotEqual       = "!="
	FuncGreater        = ">"
	FuncLess           = "<"
	FuncGreaterOrEqual = ">="
	FuncLessOrEqual    = "<="

	FuncSum   = "SUM"
	FuncAvg   = "AVG"
	FuncMin   = "MIN"
	FuncMax   = "MAX"
	FuncCount = "COUNT"
)

// compareOperators are the operator suffixes accepted in condition keys,
// longest first so ">=" wins over ">".
var compareOperators = []string{
	FuncNotEqual,
	FuncGreaterOrEqual,
	FuncLessOrEqual,
	FuncEqual,
	FuncGreater,
	FuncLess,
}

// Parse converts a raw expression into an Expr.
//
//   - string: property path
//   - []any{"NAME", args...}: function call
//   - map[string]any: implicit AND over the conditions it holds
func Parse(v any) (Expr, error) {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, InvalidArgument("empty property expression")
		}
		return PropertyPath{Raw: val}, nil
	case PropertyPath:
		return val, nil
	case FunctionCall:
		return val, nil
	case []any:
		if len(val) == 0 {
			return nil, InvalidArgument("empty function call")
		}
		name, ok := val[0].(string)
		if !ok {
			// A list of conditions without a function name is a conjunction.
			return FunctionCall{Name: FuncAnd, Args: val}, nil
		}
		return FunctionCall{Name: name, Args: val[1:]}, nil
	case map[string]any:
		return FunctionCall{Name: FuncAnd, Args: []any{val}}, nil
	default:
		return nil, InvalidArgument("unsupported expression type %T", v)
	}
}

// SplitCondition splits a condition key into its property path and compare
// operator. A key without an operator suffix compares with "=".
//
//	SplitCondition("age>=") // "age", ">="
//	SplitCondition("name")  // "name", "="
func SplitCondition(key string) (path, operator string) {
	key = strings.TrimSpace(key)
	for _, op := range compareOperators {
		if strings.HasSuffix(key, op) {
			return strings.TrimSpace(strings.TrimSuffix(key, op)), op
		}
	}
	return key, FuncEqual
}

// ExpandConditions turns a condition map into compare calls, one per key,
// in sorted key order.
func ExpandConditions(conditions map[string]any) []any {
	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	calls := make([]any, 0, len(keys))
	for _, k := range keys {
		path, op := SplitCondition(k)
		calls = append(calls, []any{op, path, conditions[k]})
	}
	return calls
}

// Direction is a sort direction together with its null placement.
type Direction string

const (
	Asc            Direction = "ASC"
	Desc           Direction = "DESC"
	AscNullsFirst  Direction = "ASC_NULLS_FIRST"
	AscNullsLast   Direction = "ASC_NULLS_LAST"
	DescNullsFirst Direction = "DESC_NULLS_FIRST"
	DescNullsLast  Direction = "DESC_NULLS_LAST"
)

// ParseDirection validates a direction string. Matching is case-insensitive.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case Asc, Desc, AscNullsFirst, AscNullsLast, DescNullsFirst, DescNullsLast:
		return d, nil
	case "":
		return Asc, nil
	}
	return "", InvalidArgument("unknown sort direction %q", s)
}

// IsDescending reports whether values sort from largest to smallest.
func (d Direction) IsDescending() bool {
	return d == Desc || d == DescNullsFirst || d == DescNullsLast
}

// NullsFirst reports whether nulls sort before every non-null value.
// Plain ASC and DESC place nulls last.
func (d Direction) NullsFirst() bool {
	return d == AscNullsFirst || d == DescNullsFirst
}

// SortKey is one ordering criterion: an expression (property path or
// function call) and a direction.
type SortKey struct {
	Expression any       `json:"expression" yaml:"expression"`
	Direction  Direction `json:"direction" yaml:"direction"`
}

// String renders the key for logs and error messages.
func (k SortKey) String() string {
	return fmt.Sprintf("%v %s", k.Expression, k.Direction)
}

// UndefinedValue is the type of Undefined.
type UndefinedValue struct{}

// String implements fmt.Stringer.
func (UndefinedValue) String() string { return "undefined" }

// Undefined is returned instead of a value when an expression does not
// apply to the candidate entity (its originating entity type differs).
// It is not nil: filters treat it as non-matching, not as null.
var Undefined = UndefinedValue{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(UndefinedValue)
	return ok
}
