package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collx/internal/metadata"
	"github.com/roach88/collx/internal/testutil"
)

// TestAnalyzeCycles_Empty tests that an empty registry produces no warnings.
func TestAnalyzeCycles_Empty(t *testing.T) {
	warnings := AnalyzeCycles(metadata.NewRegistry())
	assert.NotNil(t, warnings)
	assert.Empty(t, warnings)
}

// TestAnalyzeCycles_Library tests that the library schema is acyclic.
func TestAnalyzeCycles_Library(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(testutil.LibraryRegistry()))
}

func TestAnalyzeCycles_SelfReference(t *testing.T) {
	employee := metadata.NewEntityMetadata("Employee", "employees", "id").
		MustAddProperty(scalar("id", metadata.TypeInt)).
		MustAddProperty(&metadata.PropertyMetadata{Name: "manager", Nullable: true, Relationship: &metadata.Relationship{
			Kind: metadata.ManyHasOne, Entity: "Employee",
		}})

	warnings := AnalyzeCycles(registry(t, employee))
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"Employee", "Employee"}, warnings[0].Path)
	assert.Equal(t, LevelWarning, warnings[0].Level)
	assert.Equal(t, "foreign key cycle: Employee → Employee", warnings[0].Message)
}

func TestAnalyzeCycles_ForeignKeyLoop(t *testing.T) {
	fk := func(name, target string) *metadata.PropertyMetadata {
		return &metadata.PropertyMetadata{Name: name, Relationship: &metadata.Relationship{Kind: metadata.ManyHasOne, Entity: target}}
	}
	a := metadata.NewEntityMetadata("A", "as", "id").MustAddProperty(scalar("id", metadata.TypeInt)).MustAddProperty(fk("b", "B"))
	b := metadata.NewEntityMetadata("B", "bs", "id").MustAddProperty(scalar("id", metadata.TypeInt)).MustAddProperty(fk("c", "C"))
	c := metadata.NewEntityMetadata("C", "cs", "id").MustAddProperty(scalar("id", metadata.TypeInt)).MustAddProperty(fk("a", "A"))
	d := metadata.NewEntityMetadata("D", "ds", "id").MustAddProperty(scalar("id", metadata.TypeInt)).MustAddProperty(fk("a", "A"))

	warnings := AnalyzeCycles(registry(t, a, b, c, d))
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"A", "B", "C", "A"}, warnings[0].Path)
	assert.Equal(t, LevelWarning, warnings[0].Level)
}

func TestAnalyzeCycles_EmbedCycleFirst(t *testing.T) {
	node := metadata.NewEntityMetadata("Node", "", "").MustAddProperty(scalar("v", metadata.TypeInt))
	node.MustAddProperty(&metadata.PropertyMetadata{Name: "next", Embeddable: node})

	tree := metadata.NewEntityMetadata("Tree", "trees", "id").
		MustAddProperty(scalar("id", metadata.TypeInt)).
		MustAddProperty(&metadata.PropertyMetadata{Name: "parent", Nullable: true, Relationship: &metadata.Relationship{
			Kind: metadata.ManyHasOne, Entity: "Tree",
		}})

	reg := registry(t, tree)
	require.NoError(t, reg.AddEmbeddable(node))

	warnings := AnalyzeCycles(reg)
	require.Len(t, warnings, 2)
	assert.Equal(t, LevelError, warnings[0].Level)
	assert.Equal(t, []string{"Node", "Node"}, warnings[0].Path)
	assert.Equal(t, LevelWarning, warnings[1].Level)
	assert.Equal(t, []string{"Tree", "Tree"}, warnings[1].Path)
}

func TestAnalyzeCycles_SeparateLoops(t *testing.T) {
	fk := func(name, target string) *metadata.PropertyMetadata {
		return &metadata.PropertyMetadata{Name: name, Relationship: &metadata.Relationship{Kind: metadata.ManyHasOne, Entity: target}}
	}
	entities := []*metadata.EntityMetadata{
		metadata.NewEntityMetadata("X", "xs", "id").MustAddProperty(scalar("id", metadata.TypeInt)).MustAddProperty(fk("y", "Y")),
		metadata.NewEntityMetadata("Y", "ys", "id").MustAddProperty(scalar("id", metadata.TypeInt)).MustAddProperty(fk("x", "X")),
		metadata.NewEntityMetadata("M", "ms", "id").MustAddProperty(scalar("id", metadata.TypeInt)).MustAddProperty(fk("n", "N")),
		metadata.NewEntityMetadata("N", "ns", "id").MustAddProperty(scalar("id", metadata.TypeInt)).MustAddProperty(fk("m", "M")),
	}

	warnings := AnalyzeCycles(registry(t, entities...))
	require.Len(t, warnings, 2)
	assert.Equal(t, []string{"M", "N", "M"}, warnings[0].Path)
	assert.Equal(t, []string{"X", "Y", "X"}, warnings[1].Path)
}

func TestTarjanSCC(t *testing.T) {
	graph := dependencyGraph{
		"a": {"b"},
		"b": {"c"},
		"c": {"a", "d"},
		"d": {},
	}
	sccs := tarjanSCC(graph)
	require.Len(t, sccs, 2)

	sizes := map[int]bool{}
	for _, scc := range sccs {
		sizes[len(scc)] = true
	}
	assert.True(t, sizes[3])
	assert.True(t, sizes[1])
}
