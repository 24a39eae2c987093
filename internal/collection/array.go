package collection

import (
	"strings"
	"sync"

	"github.com/roach88/collx/internal/aggregate"
	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
)

// ArrayResult is the array-mode result of an expression.
//
// Value is a scalar, nil, ir.Undefined or, when the path crossed a to-many
// relationship, a []any of the collected values. In the last case
// Aggregator is set (the caller's, or aggregate.Any).
type ArrayResult struct {
	Value      any
	Aggregator aggregate.ArrayAggregator
	Property   *metadata.PropertyMetadata
}

// Reduce returns the value reduced by the result's aggregator, if any.
func (r ArrayResult) Reduce() any {
	if r.Aggregator == nil {
		return r.Value
	}
	values, _ := r.Value.([]any)
	return r.Aggregator.Aggregate(values)
}

// Filter evaluates a filter expression against one entity.
type Filter func(entity metadata.Entity) (ArrayResult, error)

// ArrayHelper evaluates expressions against loaded entities.
//
// It never modifies entities. It is safe for concurrent use.
type ArrayHelper struct {
	repo      Repository
	resolver  *Resolver
	functions sync.Map // name -> ArrayFunction
}

// NewArrayHelper creates a helper for entities rooted at repo.
func NewArrayHelper(repo Repository) *ArrayHelper {
	return &ArrayHelper{repo: repo, resolver: NewResolver(repo)}
}

// Repository returns the helper's repository.
func (h *ArrayHelper) Repository() Repository {
	return h.repo
}

// CreateFilter compiles expr into a filter. Every function and path in
// the expression tree is resolved here, so an unknown name fails before
// any entity is seen; evaluation reuses the resolved functions. A bare
// condition map is an implicit AND.
func (h *ArrayHelper) CreateFilter(expr any, agg aggregate.ArrayAggregator) (Filter, error) {
	parsed, err := ir.Parse(expr)
	if err != nil {
		return nil, err
	}
	call, ok := parsed.(ir.FunctionCall)
	if !ok {
		return nil, ir.InvalidArgument("filter expression has to be a function call or a set of conditions").WithExpression(ir.ToText(expr))
	}
	if err := h.precompile(call); err != nil {
		return nil, err
	}
	fn, err := h.function(call.Name)
	if err != nil {
		return nil, err
	}
	return func(entity metadata.Entity) (ArrayResult, error) {
		return fn.ProcessArrayExpression(h, entity, call.Args, agg)
	}, nil
}

// function resolves a collection function once per helper.
func (h *ArrayHelper) function(name string) (ArrayFunction, error) {
	if fn, ok := h.functions.Load(name); ok {
		return fn.(ArrayFunction), nil
	}
	fn, err := arrayFunction(h.repo, name)
	if err != nil {
		return nil, err
	}
	actual, _ := h.functions.LoadOrStore(name, fn)
	return actual.(ArrayFunction), nil
}

// precompile resolves the functions and paths of an expression tree into
// the helper's caches. It descends into the arguments of AND and OR and
// into the operand of a comparison; other arguments are literals or are
// checked by their function.
func (h *ArrayHelper) precompile(expr any) error {
	parsed, err := ir.Parse(expr)
	if err != nil {
		return err
	}
	switch e := parsed.(type) {
	case ir.PropertyPath:
		_, err := h.resolver.Resolve(e.Raw)
		return err
	case ir.FunctionCall:
		fn, err := h.function(e.Name)
		if err != nil {
			return err
		}
		var nested []any
		switch fn.(type) {
		case junctionFunction:
			nested = expandJunctionArgs(e.Args)
		case compareFunction:
			if len(e.Args) > 0 {
				nested = e.Args[:1]
			}
		}
		for _, arg := range nested {
			if err := h.precompile(arg); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetValue evaluates a path or a function call against entity.
func (h *ArrayHelper) GetValue(entity metadata.Entity, expr any, agg aggregate.ArrayAggregator) (ArrayResult, error) {
	parsed, err := ir.Parse(expr)
	if err != nil {
		return ArrayResult{}, err
	}
	switch e := parsed.(type) {
	case ir.PropertyPath:
		rp, err := h.resolver.Resolve(e.Raw)
		if err != nil {
			return ArrayResult{}, err
		}
		return h.GetValueByTokens(entity, rp.Tokens, rp.Source, agg)
	case ir.FunctionCall:
		fn, err := h.function(e.Name)
		if err != nil {
			return ArrayResult{}, err
		}
		return fn.ProcessArrayExpression(h, entity, e.Args, agg)
	}
	return ArrayResult{}, ir.InvalidArgument("unsupported expression %T", parsed)
}

type frame struct {
	value  any
	tokens []string
	meta   *metadata.EntityMetadata
}

// GetValueByTokens walks tokens from entity.
//
// An entity that is not an instance of meta yields ir.Undefined. A null
// link yields a null leaf, but walking continues so a to-many relationship
// further down is still reported. Each to-many relationship fans out into
// one frame per related entity; frames are consumed in order, so values
// keep the order of the related entities.
func (h *ArrayHelper) GetValueByTokens(entity metadata.Entity, tokens []string, meta *metadata.EntityMetadata, agg aggregate.ArrayAggregator) (ArrayResult, error) {
	if !meta.IsInstance(entity) {
		return ArrayResult{Value: ir.Undefined}, nil
	}
	if len(tokens) == 0 {
		return ArrayResult{}, ir.InvalidArgument("empty property expression")
	}
	expr := strings.Join(tokens, PathSeparator)

	var (
		values   []any
		multi    bool
		terminal *metadata.PropertyMetadata
	)
	stack := []frame{{value: entity, tokens: tokens, meta: meta}}

	for len(stack) > 0 {
		f := stack[0]
		stack = stack[1:]

		value := f.value
		current := f.meta
		var prop *metadata.PropertyMetadata
		fannedOut := false

		for i, token := range f.tokens {
			p, err := current.Property(token)
			if err != nil {
				return ArrayResult{}, withExpression(err, expr)
			}
			prop = p
			value = propertyValue(value, token)
			rest := f.tokens[i+1:]

			if p.IsRelationship() {
				target, err := relationTarget(h.repo, p.Relationship)
				if err != nil {
					return ArrayResult{}, err
				}
				current = target
				if p.Relationship.IsToMany() {
					multi = true
					related, err := metadata.Related(value)
					if err != nil {
						return ArrayResult{}, withExpression(err, expr)
					}
					for _, sub := range related {
						if target.IsInstance(sub) {
							stack = append(stack, frame{value: sub, tokens: rest, meta: target})
						}
					}
					fannedOut = true
					break
				}
			} else if p.IsEmbeddable() {
				current = p.Embeddable
			} else if len(rest) > 0 {
				return ArrayResult{}, ir.InvalidArgument("property %s::$%s is not a relationship or embeddable", current.Name, token).WithExpression(expr)
			}
		}

		if fannedOut {
			continue
		}

		if prop == nil {
			// A frame fanned out of a to-many relationship ending the path:
			// the related entity itself is the leaf.
			prop = terminalProperty(h.repo, meta, tokens)
		}
		terminal = prop
		if prop != nil && prop.IsEmbeddable() {
			continue
		}
		normalized, err := NormalizeValue(value, prop, false)
		if err != nil {
			return ArrayResult{}, withExpression(err, expr)
		}
		values = append(values, normalized)
	}

	if terminal == nil {
		terminal = terminalProperty(h.repo, meta, tokens)
	}
	if terminal != nil && terminal.IsEmbeddable() {
		return ArrayResult{}, ir.InvalidArgument("property expression '%s' does not fetch specific property", expr)
	}

	if multi {
		if values == nil {
			values = []any{}
		}
		if agg == nil {
			agg = aggregate.Any
		}
		return ArrayResult{Value: values, Aggregator: agg, Property: terminal}, nil
	}
	return ArrayResult{Value: values[0], Property: terminal}, nil
}

// propertyValue reads a property of a value holder, treating a missing
// holder or a missing value as null.
func propertyValue(holder any, name string) any {
	vh, ok := holder.(metadata.ValueHolder)
	if !ok || vh == nil || !vh.HasValue(name) {
		return nil
	}
	return vh.GetValue(name)
}

// terminalProperty resolves the last property of tokens through metadata
// only. It returns nil when the path is invalid; the walk reports why.
func terminalProperty(repo Repository, meta *metadata.EntityMetadata, tokens []string) *metadata.PropertyMetadata {
	var prop *metadata.PropertyMetadata
	for _, token := range tokens {
		p, err := meta.Property(token)
		if err != nil {
			return nil
		}
		prop = p
		switch {
		case p.IsRelationship():
			target, err := relationTarget(repo, p.Relationship)
			if err != nil {
				return nil
			}
			meta = target
		case p.IsEmbeddable():
			meta = p.Embeddable
		}
	}
	return prop
}

// NormalizeValue converts a value to the raw form comparisons use:
//   - a related entity becomes its primary key
//   - a property wrapper converts the value
//   - a datetime becomes unix seconds
//
// With checkMultiDimension, a flat list given for an array-typed property
// is wrapped into a list of lists, and composite primary values must be
// lists. Lists are converted element by element.
func NormalizeValue(value any, prop *metadata.PropertyMetadata, checkMultiDimension bool) (any, error) {
	if prop == nil || value == nil || ir.IsUndefined(value) {
		return value, nil
	}

	if checkMultiDimension && prop.Type == metadata.TypeArray {
		if list, ok := value.([]any); ok && len(list) > 0 {
			if _, nested := list[0].([]any); !nested {
				value = []any{list}
			}
		}
		if prop.IsPrimary {
			list, ok := value.([]any)
			if !ok {
				return nil, ir.InvalidArgument("composite primary value has to be passed as a list")
			}
			for _, sub := range list {
				if _, ok := sub.([]any); !ok {
					return nil, ir.InvalidArgument("composite primary value has to be passed as a list")
				}
			}
		}
		return value, nil
	}

	convert := func(v any) (any, error) { return v, nil }
	switch {
	case prop.IsRelationship():
		target := prop.Relationship.Metadata
		convert = func(v any) (any, error) {
			if e, ok := v.(metadata.Entity); ok && e != nil {
				if target == nil {
					return nil, ir.InvalidArgument("relationship %s is not linked", prop.Name)
				}
				return metadata.PrimaryValue(target, e), nil
			}
			return v, nil
		}
	case prop.Wrapper != nil:
		convert = prop.Wrapper.ConvertToRawValue
	case prop.Type == metadata.TypeDateTime:
		convert = func(v any) (any, error) {
			if v == nil {
				return nil, nil
			}
			return metadata.ToUnix(v)
		}
	}

	if list, ok := value.([]any); ok {
		out := make([]any, len(list))
		for i, v := range list {
			c, err := convert(v)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	return convert(value)
}
