package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/testutil"
)

func scalar(name, typ string) *metadata.PropertyMetadata {
	return &metadata.PropertyMetadata{Name: name, Type: typ}
}

func relation(name string, rel metadata.Relationship) *metadata.PropertyMetadata {
	return &metadata.PropertyMetadata{Name: name, Relationship: &rel}
}

// registry builds an unfinalized registry from entities.
func registry(t *testing.T, entities ...*metadata.EntityMetadata) *metadata.Registry {
	t.Helper()
	reg := metadata.NewRegistry()
	for _, m := range entities {
		require.NoError(t, reg.AddEntity(m))
	}
	return reg
}

func codes(errs []ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidate_Library(t *testing.T) {
	assert.Empty(t, Validate(testutil.LibraryRegistry()))
}

func TestValidate_Entity(t *testing.T) {
	tests := []struct {
		name   string
		entity func() *metadata.EntityMetadata
		want   []string
	}{
		{
			name: "valid",
			entity: func() *metadata.EntityMetadata {
				return metadata.NewEntityMetadata("A", "as", "id").
					MustAddProperty(scalar("id", metadata.TypeInt))
			},
			want: []string{},
		},
		{
			name: "no table",
			entity: func() *metadata.EntityMetadata {
				return metadata.NewEntityMetadata("A", " ", "id").
					MustAddProperty(scalar("id", metadata.TypeInt))
			},
			want: []string{ErrEntityNoTable},
		},
		{
			name: "primary key not declared",
			entity: func() *metadata.EntityMetadata {
				return metadata.NewEntityMetadata("A", "as", "uid").
					MustAddProperty(scalar("id", metadata.TypeInt))
			},
			want: []string{ErrMissingPrimaryKey},
		},
		{
			name: "primary key is a relationship",
			entity: func() *metadata.EntityMetadata {
				return metadata.NewEntityMetadata("A", "as", "parent").
					MustAddProperty(relation("parent", metadata.Relationship{Kind: metadata.ManyHasOne, Entity: "A"}))
			},
			want: []string{ErrPrimaryKeyNotScalar},
		},
		{
			name: "invalid type",
			entity: func() *metadata.EntityMetadata {
				return metadata.NewEntityMetadata("A", "as", "id").
					MustAddProperty(scalar("id", metadata.TypeInt)).
					MustAddProperty(scalar("price", "money")).
					MustAddProperty(scalar("note", ""))
			},
			want: []string{ErrInvalidFieldType, ErrInvalidFieldType},
		},
		{
			name: "duplicate column",
			entity: func() *metadata.EntityMetadata {
				return metadata.NewEntityMetadata("A", "as", "id").
					MustAddProperty(scalar("id", metadata.TypeInt)).
					MustAddProperty(scalar("createdAt", metadata.TypeDateTime)).
					MustAddProperty(scalar("created_at", metadata.TypeDateTime))
			},
			want: []string{ErrDuplicateColumn},
		},
		{
			name: "foreign key clashes with scalar",
			entity: func() *metadata.EntityMetadata {
				return metadata.NewEntityMetadata("A", "as", "id").
					MustAddProperty(scalar("id", metadata.TypeInt)).
					MustAddProperty(scalar("parentId", metadata.TypeInt)).
					MustAddProperty(relation("parent", metadata.Relationship{Kind: metadata.ManyHasOne, Entity: "A"}))
			},
			want: []string{ErrDuplicateColumn},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(registry(t, tt.entity()))
			assert.Equal(t, tt.want, codes(errs), "%v", errs)
		})
	}
}

func TestValidate_DuplicateTable(t *testing.T) {
	a := metadata.NewEntityMetadata("A", "things", "id").MustAddProperty(scalar("id", metadata.TypeInt))
	b := metadata.NewEntityMetadata("B", "things", "id").MustAddProperty(scalar("id", metadata.TypeInt))

	errs := Validate(registry(t, a, b))
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateTable, errs[0].Code)
	assert.Equal(t, "B.table", errs[0].Field)
	assert.Contains(t, errs[0].Message, "already used by A")
}

func TestValidate_Relationships(t *testing.T) {
	post := func(props ...*metadata.PropertyMetadata) *metadata.EntityMetadata {
		m := metadata.NewEntityMetadata("Post", "posts", "id").MustAddProperty(scalar("id", metadata.TypeInt))
		for _, p := range props {
			m.MustAddProperty(p)
		}
		return m
	}
	comment := func(props ...*metadata.PropertyMetadata) *metadata.EntityMetadata {
		m := metadata.NewEntityMetadata("Comment", "comments", "id").MustAddProperty(scalar("id", metadata.TypeInt))
		for _, p := range props {
			m.MustAddProperty(p)
		}
		return m
	}
	junction := &metadata.Junction{Table: "posts_comments", Column: "post_id", TargetColumn: "comment_id"}

	tests := []struct {
		name     string
		entities []*metadata.EntityMetadata
		want     []string
	}{
		{
			name: "one_has_many with inverse",
			entities: []*metadata.EntityMetadata{
				post(relation("comments", metadata.Relationship{Kind: metadata.OneHasMany, Entity: "Comment", Property: "post"})),
				comment(relation("post", metadata.Relationship{Kind: metadata.ManyHasOne, Entity: "Post"})),
			},
			want: []string{},
		},
		{
			name: "unknown target",
			entities: []*metadata.EntityMetadata{
				post(relation("author", metadata.Relationship{Kind: metadata.ManyHasOne, Entity: "User"})),
			},
			want: []string{ErrUnknownTarget},
		},
		{
			name: "missing inverse",
			entities: []*metadata.EntityMetadata{
				post(relation("comments", metadata.Relationship{Kind: metadata.OneHasMany, Entity: "Comment"})),
				comment(),
			},
			want: []string{ErrMissingInverse},
		},
		{
			name: "inverse does not exist",
			entities: []*metadata.EntityMetadata{
				post(relation("comments", metadata.Relationship{Kind: metadata.OneHasMany, Entity: "Comment", Property: "post"})),
				comment(scalar("post", metadata.TypeInt)),
			},
			want: []string{ErrMissingInverse},
		},
		{
			name: "inverse holds no key",
			entities: []*metadata.EntityMetadata{
				post(relation("comments", metadata.Relationship{Kind: metadata.OneHasMany, Entity: "Comment", Property: "post"})),
				comment(relation("post", metadata.Relationship{Kind: metadata.OneHasOne, Entity: "Post", Property: "comments"})),
			},
			// Comment.post is the non-main one_has_one side whose inverse
			// is not a main one_has_one either.
			want: []string{ErrInverseMismatch, ErrInverseMismatch},
		},
		{
			name: "inverse points elsewhere",
			entities: []*metadata.EntityMetadata{
				post(
					relation("comments", metadata.Relationship{Kind: metadata.OneHasMany, Entity: "Comment", Property: "post"}),
					relation("parent", metadata.Relationship{Kind: metadata.ManyHasOne, Entity: "Post"}),
				),
				comment(relation("post", metadata.Relationship{Kind: metadata.ManyHasOne, Entity: "Comment"})),
			},
			want: []string{ErrInverseMismatch},
		},
		{
			name: "many_has_many pair",
			entities: []*metadata.EntityMetadata{
				post(relation("comments", metadata.Relationship{Kind: metadata.ManyHasMany, Entity: "Comment", IsMain: true, Junction: junction})),
				comment(relation("posts", metadata.Relationship{Kind: metadata.ManyHasMany, Entity: "Post", Property: "comments"})),
			},
			want: []string{},
		},
		{
			name: "main many_has_many without junction",
			entities: []*metadata.EntityMetadata{
				post(relation("comments", metadata.Relationship{Kind: metadata.ManyHasMany, Entity: "Comment", IsMain: true})),
				comment(),
			},
			want: []string{ErrInvalidJunction},
		},
		{
			name: "junction on the reverse side",
			entities: []*metadata.EntityMetadata{
				post(relation("comments", metadata.Relationship{Kind: metadata.ManyHasMany, Entity: "Comment", IsMain: true, Junction: junction})),
				comment(relation("posts", metadata.Relationship{Kind: metadata.ManyHasMany, Entity: "Post", Property: "comments", Junction: junction})),
			},
			want: []string{ErrInvalidJunction},
		},
		{
			name: "many_has_many inverse is not main",
			entities: []*metadata.EntityMetadata{
				post(relation("comments", metadata.Relationship{Kind: metadata.ManyHasMany, Entity: "Comment", Property: "posts"})),
				comment(relation("posts", metadata.Relationship{Kind: metadata.ManyHasMany, Entity: "Post", Property: "comments"})),
			},
			want: []string{ErrInverseMismatch, ErrInverseMismatch},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(registry(t, tt.entities...))
			assert.Equal(t, tt.want, codes(errs), "%v", errs)
		})
	}
}

func TestValidate_Embeddables(t *testing.T) {
	t.Run("relationship inside embeddable", func(t *testing.T) {
		emb := metadata.NewEntityMetadata("Meta", "", "").
			MustAddProperty(relation("owner", metadata.Relationship{Kind: metadata.ManyHasOne, Entity: "A"}))
		a := metadata.NewEntityMetadata("A", "as", "id").
			MustAddProperty(scalar("id", metadata.TypeInt)).
			MustAddProperty(&metadata.PropertyMetadata{Name: "meta", Embeddable: emb})

		reg := registry(t, a)
		require.NoError(t, reg.AddEmbeddable(emb))
		assert.Equal(t, []string{ErrEmbeddedRelationship}, codes(Validate(reg)))
	})

	t.Run("empty embeddable", func(t *testing.T) {
		emb := metadata.NewEntityMetadata("Nothing", "", "")
		reg := registry(t, metadata.NewEntityMetadata("A", "as", "id").MustAddProperty(scalar("id", metadata.TypeInt)))
		require.NoError(t, reg.AddEmbeddable(emb))
		assert.Equal(t, []string{ErrEmptyEmbeddable}, codes(Validate(reg)))
	})

	t.Run("cycle", func(t *testing.T) {
		a := metadata.NewEntityMetadata("Left", "", "").MustAddProperty(scalar("x", metadata.TypeInt))
		b := metadata.NewEntityMetadata("Right", "", "").MustAddProperty(scalar("y", metadata.TypeInt))
		a.MustAddProperty(&metadata.PropertyMetadata{Name: "right", Embeddable: b})
		b.MustAddProperty(&metadata.PropertyMetadata{Name: "left", Embeddable: a})

		root := metadata.NewEntityMetadata("Root", "roots", "id").
			MustAddProperty(scalar("id", metadata.TypeInt)).
			MustAddProperty(&metadata.PropertyMetadata{Name: "left", Embeddable: a})

		reg := registry(t, root)
		require.NoError(t, reg.AddEmbeddable(a))
		require.NoError(t, reg.AddEmbeddable(b))

		// Column checks are skipped, so Validate returns instead of
		// flattening forever.
		errs := Validate(reg)
		require.Len(t, errs, 1)
		assert.Equal(t, ErrEmbedCycle, errs[0].Code)
		assert.Equal(t, "Left", errs[0].Field)
	})
}

func TestValidate_CollectsAll(t *testing.T) {
	a := metadata.NewEntityMetadata("A", "", "key").
		MustAddProperty(scalar("id", "uuid")).
		MustAddProperty(relation("b", metadata.Relationship{Kind: metadata.ManyHasOne, Entity: "B"}))

	errs := Validate(registry(t, a))
	assert.Equal(t, []string{ErrEntityNoTable, ErrMissingPrimaryKey, ErrInvalidFieldType, ErrUnknownTarget}, codes(errs))
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "A.id", Message: "bad", Code: ErrInvalidFieldType}
	assert.Equal(t, "[E104] A.id: bad", err.Error())

	err.Line = 7
	assert.Equal(t, "[E104] line 7: A.id: bad", err.Error())
}
