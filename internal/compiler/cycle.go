package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/collx/internal/metadata"
)

// Cycle levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
)

// CycleWarning represents a cycle in the schema graph.
//
// Embeddable cycles are errors: the flattened column list would be
// infinite. Foreign key cycles are warnings because nullable keys make
// them loadable, and self-references (a manager column) are common.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["Address", "Geo", "Address"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "error" or "warning"
}

// AnalyzeCycles performs static cycle analysis on a registry.
//
// Two graphs are checked:
//  1. embeddable → embeddables it embeds
//  2. entity → entities its foreign keys reference
//
// Tarjan's algorithm finds the strongly connected components of each;
// every SCC with size > 1 or a self-loop is reported. Results are ordered
// by graph, then by the first node of the cycle.
func AnalyzeCycles(reg *metadata.Registry) []CycleWarning {
	warnings := []CycleWarning{}

	embeds := buildEmbedGraph(reg)
	for _, scc := range cycles(embeds) {
		path := reconstructCyclePath(scc, embeds)
		warnings = append(warnings, CycleWarning{
			Path:    path,
			Message: fmt.Sprintf("embeddable cycle: %s", strings.Join(path, " → ")),
			Level:   LevelError,
		})
	}

	fk := buildForeignKeyGraph(reg)
	for _, scc := range cycles(fk) {
		path := reconstructCyclePath(scc, fk)
		warnings = append(warnings, CycleWarning{
			Path:    path,
			Message: fmt.Sprintf("foreign key cycle: %s", strings.Join(path, " → ")),
			Level:   LevelWarning,
		})
	}
	return warnings
}

// dependencyGraph maps a node to the nodes it references.
type dependencyGraph map[string][]string

func (g dependencyGraph) nodes() []string {
	nodes := make([]string, 0, len(g))
	for n := range g {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	return nodes
}

func buildEmbedGraph(reg *metadata.Registry) dependencyGraph {
	graph := make(dependencyGraph)
	for _, name := range reg.EmbeddableNames() {
		m, _ := reg.Embeddable(name)
		graph[name] = []string{}
		for _, p := range m.Properties() {
			if p.Embeddable != nil {
				graph[name] = append(graph[name], p.Embeddable.Name)
			}
		}
	}
	return graph
}

func buildForeignKeyGraph(reg *metadata.Registry) dependencyGraph {
	graph := make(dependencyGraph)
	for _, name := range reg.EntityNames() {
		m, _ := reg.Entity(name)
		graph[name] = []string{}
		for _, p := range m.Properties() {
			if p.Relationship != nil && p.Relationship.HoldsForeignKey() {
				graph[name] = append(graph[name], p.Relationship.Entity)
			}
		}
	}
	return graph
}

// cycles returns the SCCs of graph that form a cycle, each rotated to
// start at its smallest node.
func cycles(graph dependencyGraph) [][]string {
	var out [][]string
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			slices.Sort(scc)
			out = append(out, scc)
		}
	}
	slices.SortFunc(out, func(a, b []string) int {
		return strings.Compare(a[0], b[0])
	})
	return out
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack into an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range graph.nodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Starts at the first node, follows edges to other SCC members and stops
// on returning to the start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
