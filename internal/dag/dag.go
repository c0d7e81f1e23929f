// Package dag orders derived-column features by the columns they read and write.
// It supports cycle detection and a stable topological sort.
package dag

import (
	"fmt"
	"strings"
)

// Node is a vertex of the graph.
type Node[T any] struct {
	// ID is the unique identifier (feature name)
	ID string
	// Data holds the node payload
	Data T
}

// Graph is a directed acyclic graph whose iteration order follows insertion order.
type Graph[T any] struct {
	order   []string
	nodes   map[string]*Node[T]
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates an empty graph.
func NewGraph[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:   make(map[string]*Node[T]),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node, replacing the payload if the ID already exists.
func (g *Graph[T]) AddNode(id string, data T) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node[T]{ID: id, Data: data}
	g.order = append(g.order, id)
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph[T]) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}

	if !contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// HasCycle reports whether the graph contains a cycle, along with one cycle path.
func (g *Graph[T]) HasCycle() (bool, []string) {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = active
		stack = append(stack, id)
		for _, child := range g.edges[id] {
			switch state[child] {
			case active:
				for i, s := range stack {
					if s == child {
						cycle = append(append([]string(nil), stack[i:]...), child)
						break
					}
				}
				return true
			case unvisited:
				if dfs(child) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range g.order {
		if state[id] == unvisited && dfs(id) {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSort returns nodes with dependencies before dependents. Among
// nodes whose dependencies are satisfied, insertion order wins.
func (g *Graph[T]) TopologicalSort() ([]*Node[T], error) {
	if hasCycle, path := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %s", strings.Join(path, " -> "))
	}

	remaining := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		remaining[id] = len(g.parents[id])
	}

	result := make([]*Node[T], 0, len(g.nodes))
	emitted := make(map[string]bool, len(g.nodes))
	for len(result) < len(g.order) {
		for _, id := range g.order {
			if emitted[id] || remaining[id] > 0 {
				continue
			}
			emitted[id] = true
			result = append(result, g.nodes[id])
			for _, child := range g.edges[id] {
				remaining[child]--
			}
			// Restart so earlier-inserted nodes unblocked by id go first.
			break
		}
	}
	return result, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
