// Package dag builds step dependency graphs and partitions them into
// parallel-execution levels.
package dag

import (
	"fmt"
	"sort"
	"strings"
)

// Node is one schedulable unit in the graph.
type Node struct {
	ID        string
	DependsOn []string
}

// Graph is a directed dependency graph over step IDs. Edges point from a
// dependency to its dependents.
type Graph struct {
	nodes map[string]Node
	// dependents[a] lists the nodes that declare a dependency on a.
	dependents map[string][]string
}

// CycleError reports that the graph cannot be scheduled. Witness holds the
// IDs that could not be ordered; for a self-dependency it is that single
// node. Never retryable: planning must refuse to proceed.
type CycleError struct {
	Witness []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among steps [%s]", strings.Join(e.Witness, ", "))
}

// Build constructs a graph from step nodes. Duplicate IDs and dependencies
// on unknown IDs are rejected up front so a malformed plan fails before any
// dispatch.
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]Node, len(nodes)),
		dependents: make(map[string][]string),
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("step with empty id")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate step id %q", n.ID)
		}
		g.nodes[n.ID] = n
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", n.ID, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], n.ID)
		}
	}
	return g, nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Dependents returns the IDs that depend on id, sorted.
func (g *Graph) Dependents(id string) []string {
	out := make([]string, len(g.dependents[id]))
	copy(out, g.dependents[id])
	sort.Strings(out)
	return out
}

// Roots returns the IDs with no dependencies, sorted.
func (g *Graph) Roots() []string {
	var roots []string
	for id, n := range g.nodes {
		if len(n.DependsOn) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Levels partitions the graph into an ordered list of levels using iterative
// Kahn's algorithm: each level collects every node whose remaining in-degree
// is zero, so all nodes within a level are mutually independent and
// dispatchable concurrently, and for every edge (a→b) level(a) < level(b).
//
// If an iteration finds no zero-in-degree node while nodes remain, the graph
// contains a cycle and Levels returns a CycleError whose Witness is the
// unprocessed node set. IDs within a level are sorted for determinism; the
// scheduler promises no relative order inside a level anyway.
func (g *Graph) Levels() ([][]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		// A self-dependency keeps its own in-degree above zero forever,
		// so it falls out as a one-node cycle.
		inDegree[id] = len(n.DependsOn)
	}

	remaining := len(g.nodes)
	var levels [][]string

	for remaining > 0 {
		var level []string
		for id, deg := range inDegree {
			if deg == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			witness := make([]string, 0, remaining)
			for id, deg := range inDegree {
				if deg > 0 {
					witness = append(witness, id)
				}
			}
			sort.Strings(witness)
			return nil, &CycleError{Witness: witness}
		}
		sort.Strings(level)
		for _, id := range level {
			delete(inDegree, id)
			for _, dep := range g.dependents[id] {
				if _, ok := inDegree[dep]; ok {
					inDegree[dep]--
				}
			}
		}
		remaining -= len(level)
		levels = append(levels, level)
	}

	return levels, nil
}
