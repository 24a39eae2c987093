package collection

import (
	"github.com/roach88/collx/internal/aggregate"
	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/queryir"
	"github.com/roach88/collx/internal/querysql"
)

// junctionFunction implements AND and OR.
//
// Arguments are nested calls, condition maps ({"age>=": 18}) or paths
// used as booleans. A condition map expands to one comparison per key.
type junctionFunction struct {
	operator string
}

func (f junctionFunction) ProcessArrayExpression(h *ArrayHelper, entity metadata.Entity, args []any, agg aggregate.ArrayAggregator) (ArrayResult, error) {
	isAnd := f.operator == ir.FuncAnd
	for _, arg := range expandJunctionArgs(args) {
		res, err := h.GetValue(entity, arg, agg)
		if err != nil {
			return ArrayResult{}, err
		}
		matched := ir.Truthy(res.Reduce())
		if isAnd && !matched {
			return ArrayResult{Value: false}, nil
		}
		if !isAnd && matched {
			return ArrayResult{Value: true}, nil
		}
	}
	return ArrayResult{Value: isAnd}, nil
}

func (f junctionFunction) ProcessBuilderExpression(h *BuilderHelper, qb *querysql.Builder, args []any, agg queryir.Aggregator) (*queryir.Fragment, error) {
	expanded := expandJunctionArgs(args)
	parts := make([]*queryir.Fragment, 0, len(expanded))
	for _, arg := range expanded {
		part, err := h.ProcessCondition(qb, arg, agg)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return queryir.Combine(f.operator, parts), nil
}

func expandJunctionArgs(args []any) []any {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		if conditions, ok := arg.(map[string]any); ok {
			out = append(out, ir.ExpandConditions(conditions)...)
			continue
		}
		out = append(out, arg)
	}
	return out
}

// compareFunction implements =, !=, >, <, >= and <=.
//
// Args are the operand (a path or a nested call) and the target literal.
// A list target turns = and != into membership tests. A null value never
// matches a non-null target, as in SQL; = null and != null test for null.
type compareFunction struct {
	operator string
}

func (f compareFunction) ProcessArrayExpression(h *ArrayHelper, entity metadata.Entity, args []any, agg aggregate.ArrayAggregator) (ArrayResult, error) {
	if len(args) != 2 {
		return ArrayResult{}, ir.InvalidArgument("function %s expects 2 arguments, got %d", f.operator, len(args))
	}
	res, err := h.GetValue(entity, args[0], agg)
	if err != nil {
		return ArrayResult{}, err
	}
	if ir.IsUndefined(res.Value) {
		return ArrayResult{Value: false}, nil
	}
	target, err := f.target(args[1], res.Property)
	if err != nil {
		return ArrayResult{}, err
	}
	if _, isList := target.([]any); isList && !f.membership() {
		return ArrayResult{}, ir.InvalidArgument("function %s does not accept a list", f.operator)
	}

	if res.Aggregator != nil {
		values, _ := res.Value.([]any)
		matches := make([]any, len(values))
		for i, v := range values {
			matches[i] = f.evaluate(v, target)
		}
		return ArrayResult{Value: res.Aggregator.Aggregate(matches)}, nil
	}
	return ArrayResult{Value: f.evaluate(res.Value, target)}, nil
}

func (f compareFunction) ProcessBuilderExpression(h *BuilderHelper, qb *querysql.Builder, args []any, agg queryir.Aggregator) (*queryir.Fragment, error) {
	if len(args) != 2 {
		return nil, ir.InvalidArgument("function %s expects 2 arguments, got %d", f.operator, len(args))
	}
	operand, err := h.ProcessExpression(qb, args[0], agg)
	if err != nil {
		return nil, err
	}
	if operand.Undefined {
		return queryir.False(), nil
	}
	if operand.Property != nil && operand.Property.Type == metadata.TypeArray {
		return nil, ir.InvalidArgument("array property %s cannot be compared in a query", operand.Property.Name)
	}
	target, err := f.target(args[1], operand.Property)
	if err != nil {
		return nil, err
	}

	var out *queryir.Fragment
	list, isList := target.([]any)
	switch {
	case isList && !f.membership():
		return nil, ir.InvalidArgument("function %s does not accept a list", f.operator)
	case isList && len(list) == 0 && f.operator == ir.FuncNotEqual:
		// Every non-null value is outside the empty list.
		out = operand.Append(" IS NOT NULL")
	case isList && len(list) == 0:
		out = operand.Clone()
		out.Expression = "1 = 0"
		out.Args = nil
	case isList && f.operator == ir.FuncEqual:
		out = operand.Append(" IN ?", list)
	case isList:
		out = operand.Append(" NOT IN ?", list)
	case target == nil && f.operator == ir.FuncEqual:
		out = operand.Append(" IS NULL")
	case target == nil && f.operator == ir.FuncNotEqual:
		out = operand.Append(" IS NOT NULL")
	case target == nil:
		out = operand.Append(" " + f.operator + " NULL")
	default:
		out = operand.Append(" "+f.operator+" ?", target)
	}
	return out.ApplyAggregator(), nil
}

// membership reports whether a list target means IN / NOT IN.
func (f compareFunction) membership() bool {
	return f.operator == ir.FuncEqual || f.operator == ir.FuncNotEqual
}

// target normalizes the compare target through the operand's property.
func (f compareFunction) target(raw any, prop *metadata.PropertyMetadata) (any, error) {
	target, err := ir.NormalizeLiteral(raw)
	if err != nil {
		// Entities and wrapper inputs are not literals; normalize them as is.
		target = raw
	}
	return NormalizeValue(target, prop, true)
}

func (f compareFunction) evaluate(value, target any) bool {
	if ir.IsUndefined(value) {
		return false
	}
	if list, ok := target.([]any); ok {
		switch f.operator {
		case ir.FuncEqual:
			return value != nil && contains(list, value)
		case ir.FuncNotEqual:
			return value != nil && !contains(list, nil) && !contains(list, value)
		}
		return false
	}
	if target == nil {
		switch f.operator {
		case ir.FuncEqual:
			return value == nil
		case ir.FuncNotEqual:
			return value != nil
		}
		return false
	}
	if value == nil {
		return false
	}

	c := ir.Compare(value, target)
	switch f.operator {
	case ir.FuncEqual:
		return c == 0
	case ir.FuncNotEqual:
		return c != 0
	case ir.FuncGreater:
		return c > 0
	case ir.FuncLess:
		return c < 0
	case ir.FuncGreaterOrEqual:
		return c >= 0
	case ir.FuncLessOrEqual:
		return c <= 0
	}
	return false
}

func contains(list []any, value any) bool {
	for _, item := range list {
		if item == nil || value == nil {
			if item == nil && value == nil {
				return true
			}
			continue
		}
		if equalValues(item, value) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	la, okA := a.([]any)
	lb, okB := b.([]any)
	if okA || okB {
		if !okA || !okB || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equalValues(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return ir.Compare(a, b) == 0
}

// aggregateFunction is the shared base of SUM, AVG, MIN, MAX and COUNT.
//
// Its single argument must be a path crossing a to-many relationship. In
// array mode the collected values are reduced with the function's array
// aggregator; in builder mode the column is wrapped in the SQL function.
type aggregateFunction struct {
	name    string
	array   aggregate.ArrayAggregator
	builder aggregate.SQLFunction
}

func newAggregateFunction(name string, array aggregate.ArrayAggregator) aggregateFunction {
	return aggregateFunction{name: name, array: array, builder: aggregate.NewSQLFunction(name)}
}

func (f aggregateFunction) path(args []any) (string, error) {
	if len(args) != 1 {
		return "", ir.InvalidArgument("aggregate function %s expects 1 argument, got %d", f.name, len(args))
	}
	path, ok := args[0].(string)
	if !ok {
		return "", ir.InvalidArgument("aggregate function %s expects a property expression, got %T", f.name, args[0])
	}
	return path, nil
}

func (f aggregateFunction) ProcessArrayExpression(h *ArrayHelper, entity metadata.Entity, args []any, agg aggregate.ArrayAggregator) (ArrayResult, error) {
	path, err := f.path(args)
	if err != nil {
		return ArrayResult{}, err
	}
	res, err := h.GetValue(entity, path, agg)
	if err != nil {
		return ArrayResult{}, err
	}
	if ir.IsUndefined(res.Value) {
		return res, nil
	}
	if res.Aggregator == nil {
		return ArrayResult{}, ir.InvalidArgument("aggregation has to be called over has-many relationship").WithExpression(path)
	}
	values, _ := res.Value.([]any)
	return ArrayResult{Value: f.array.Aggregate(values)}, nil
}

func (f aggregateFunction) ProcessBuilderExpression(h *BuilderHelper, qb *querysql.Builder, args []any, agg queryir.Aggregator) (*queryir.Fragment, error) {
	path, err := f.path(args)
	if err != nil {
		return nil, err
	}
	if agg != nil {
		return nil, ir.InvalidState("cannot apply two aggregations simultaneously")
	}
	operand, err := h.ProcessPropertyExpr(qb, path, f.builder)
	if err != nil {
		return nil, err
	}
	if operand.Undefined {
		return operand, nil
	}
	if operand.Aggregator == nil {
		return nil, ir.InvalidArgument("aggregation has to be called over has-many relationship").WithExpression(path)
	}
	return operand.ApplyAggregator(), nil
}
