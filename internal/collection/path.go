package collection

import (
	"regexp"
	"strings"
	"sync"

	"github.com/roach88/collx/internal/ir"
	"github.com/roach88/collx/internal/metadata"
)

// PathSeparator separates the tokens of a property path.
const PathSeparator = "->"

var pathPattern = regexp.MustCompile(
	`^\s*(?:([A-Za-z_][A-Za-z0-9_]*)::)?(?:this->)?([A-Za-z_][A-Za-z0-9_]*(?:->[A-Za-z_][A-Za-z0-9_]*)*)\s*$`,
)

// ParsePath splits a property expression into its tokens and the optional
// source entity qualifier:
//
//	ParsePath("author->name")        // [author name], ""
//	ParsePath("Book::author->name")  // [author name], "Book"
//	ParsePath("this->title")         // [title], ""
func ParsePath(expr string) (tokens []string, source string, err error) {
	m := pathPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, "", ir.InvalidArgument("unsupported property expression syntax").WithExpression(expr)
	}
	return strings.Split(m[2], PathSeparator), m[1], nil
}

// ResolvedPath is a property path checked against metadata.
type ResolvedPath struct {
	Expression string

	// Source is the entity the path starts at: the qualifier, or the
	// repository root.
	Source *metadata.EntityMetadata

	Tokens []string

	// Terminal is the property the path ends at.
	Terminal *metadata.PropertyMetadata

	// ToMany reports whether the path crosses a to-many relationship.
	ToMany bool
}

// Resolver parses and resolves property paths for one repository. Resolved
// paths are cached; a Resolver is safe for concurrent use.
type Resolver struct {
	repo  Repository
	cache sync.Map // expression -> *ResolvedPath
}

// NewResolver creates a resolver for paths rooted at repo.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve parses expr and checks every token against metadata.
func (r *Resolver) Resolve(expr string) (*ResolvedPath, error) {
	if cached, ok := r.cache.Load(expr); ok {
		return cached.(*ResolvedPath), nil
	}

	tokens, source, err := ParsePath(expr)
	if err != nil {
		return nil, err
	}

	meta := r.repo.RootMetadata()
	if source != "" {
		meta, err = r.repo.EntityMetadata(source)
		if err != nil {
			return nil, err
		}
	}

	terminal, toMany, err := walkMetadata(r.repo, meta, tokens)
	if err != nil {
		return nil, err
	}

	rp := &ResolvedPath{
		Expression: expr,
		Source:     meta,
		Tokens:     tokens,
		Terminal:   terminal,
		ToMany:     toMany,
	}
	actual, _ := r.cache.LoadOrStore(expr, rp)
	return actual.(*ResolvedPath), nil
}

// walkMetadata follows tokens through metadata only. Every token but the
// last must be a relationship or an embeddable, and the last must not be
// an embeddable.
func walkMetadata(repo Repository, meta *metadata.EntityMetadata, tokens []string) (*metadata.PropertyMetadata, bool, error) {
	expr := strings.Join(tokens, PathSeparator)
	toMany := false
	var prop *metadata.PropertyMetadata
	for i, token := range tokens {
		p, err := meta.Property(token)
		if err != nil {
			return nil, false, withExpression(err, expr)
		}
		prop = p
		last := i == len(tokens)-1

		switch {
		case p.IsRelationship():
			if p.Relationship.IsToMany() {
				toMany = true
			}
			meta, err = relationTarget(repo, p.Relationship)
			if err != nil {
				return nil, false, err
			}
		case p.IsEmbeddable():
			if last {
				return nil, false, ir.InvalidArgument("property expression '%s' does not fetch specific property", expr)
			}
			meta = p.Embeddable
		default:
			if !last {
				return nil, false, ir.InvalidArgument("property %s::$%s is not a relationship or embeddable", meta.Name, token).WithExpression(expr)
			}
		}
	}
	return prop, toMany, nil
}

// relationTarget returns the target metadata of rel, looking it up by name
// when the registry was not finalized.
func relationTarget(repo Repository, rel *metadata.Relationship) (*metadata.EntityMetadata, error) {
	if rel.Metadata != nil {
		return rel.Metadata, nil
	}
	return repo.EntityMetadata(rel.Entity)
}

func withExpression(err error, expr string) error {
	if e, ok := err.(*ir.Error); ok && e.Expression == "" {
		return e.WithExpression(expr)
	}
	return err
}
