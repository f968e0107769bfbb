// Package dag builds the directed graph of table dependencies and
// produces a deterministic, foreign-key-safe load order.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nwdata/tablesync/internal/catalog"
)

// Graph represents the table dependency graph. An edge from A to B means
// B has a foreign key into A, so A must be loaded before B.
type Graph struct {
	nodes   map[string]bool
	edges   map[string][]string // referenced table -> dependents
	parents map[string][]string // table -> tables it references
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]bool),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// Build constructs the dependency graph from table descriptors.
// Self-referencing foreign keys are excluded from edges: they constrain
// rows within one table, not the load order across tables.
func Build(tables []*catalog.Table) *Graph {
	g := NewGraph()
	for _, t := range tables {
		g.AddNode(t.Name)
	}
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == t.Name {
				continue
			}
			g.AddEdge(fk.RefTable, t.Name)
		}
	}
	return g
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(name string) {
	if !g.nodes[name] {
		g.nodes[name] = true
		g.edges[name] = []string{}
		g.parents[name] = []string{}
	}
}

// AddEdge records that dependent references parent. Both nodes must exist;
// unknown nodes and self-loops are ignored.
func (g *Graph) AddEdge(parent, dependent string) {
	if parent == dependent || !g.nodes[parent] || !g.nodes[dependent] {
		return
	}
	if !contains(g.edges[parent], dependent) {
		g.edges[parent] = append(g.edges[parent], dependent)
	}
	if !contains(g.parents[dependent], parent) {
		g.parents[dependent] = append(g.parents[dependent], parent)
	}
}

// Parents returns the tables that name references.
func (g *Graph) Parents(name string) []string {
	return g.parents[name]
}

// Children returns the tables that reference name.
func (g *Graph) Children(name string) []string {
	return g.edges[name]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// CycleError reports a cyclic dependency among tables. The load order
// cannot be established for the named tables.
type CycleError struct {
	Tables []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency among tables: %s", strings.Join(e.Tables, ", "))
}

// Order returns the tables in a load order where every table appears
// after all tables it references, using Kahn's algorithm. Ties among
// ready tables break by ascending name, so the order is reproducible
// for a fixed input. Returns a CycleError when a cycle remains.
func (g *Graph) Order() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		indegree[name] = len(g.parents[name])
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		released := false
		for _, child := range g.edges[name] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.nodes) {
		var unresolved []string
		for name, deg := range indegree {
			if deg > 0 {
				unresolved = append(unresolved, name)
			}
		}
		sort.Strings(unresolved)
		return nil, &CycleError{Tables: unresolved}
	}
	return order, nil
}

// Resolve is a convenience wrapper: build the graph and return the order.
func Resolve(tables []*catalog.Table) ([]string, error) {
	return Build(tables).Order()
}

// contains checks if a slice contains a string.
func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
