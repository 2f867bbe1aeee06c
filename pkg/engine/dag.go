package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Node is a named value that depends on other named values, such as an
// automation variable whose provider references other variables.
type Node struct {
	// ID is the node name.
	ID string

	// DependsOn lists the IDs that must be resolved before this node.
	DependsOn []string
}

// GraphNode is a node placed in the dependency graph.
type GraphNode struct {
	ID           string
	Level        int
	Dependencies []string
	Dependents   []string
}

// Graph is the result of ordering nodes by their dependencies.
type Graph struct {
	// Nodes maps node IDs to their placement.
	Nodes map[string]*GraphNode

	// Levels groups node IDs by depth. Nodes in one level are independent.
	Levels [][]string
}

// Order returns every node ID so that dependencies come first.
// IDs within a level are sorted, which makes the order deterministic.
func (g *Graph) Order() []string {
	out := make([]string, 0, len(g.Nodes))
	for _, level := range g.Levels {
		out = append(out, level...)
	}
	return out
}

// DAGBuilder orders nodes topologically and assigns levels.
type DAGBuilder struct {
	// nodes maps node IDs to their nodes
	nodes map[string]Node

	// adjacencyList maps node IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps node IDs to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:                make(map[string]Node),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildGraph validates dependencies, detects cycles, and computes levels.
func (b *DAGBuilder) BuildGraph(nodes []Node) (*Graph, error) {
	if len(nodes) == 0 {
		return &Graph{Nodes: make(map[string]*GraphNode)}, nil
	}

	if err := b.initialize(nodes); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	graph := &Graph{Nodes: make(map[string]*GraphNode), Levels: b.levels}
	for level, ids := range b.levels {
		for _, id := range ids {
			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: b.reverseAdjacencyList[id],
				Dependents:   b.adjacencyList[id],
			}
		}
	}
	return graph, nil
}

func (b *DAGBuilder) initialize(nodes []Node) error {
	for _, n := range nodes {
		if n.ID == "" {
			return NewConfigurationError("node has empty ID", nil).
				WithCode(ErrCodeInvalidInputData)
		}
		if _, exists := b.nodes[n.ID]; exists {
			return NewConfigurationError(fmt.Sprintf("duplicate node ID: %s", n.ID), nil).
				WithCode(ErrCodeInvalidInputData)
		}
		b.nodes[n.ID] = n
		b.adjacencyList[n.ID] = make([]string, 0)
		b.reverseAdjacencyList[n.ID] = make([]string, 0)
		b.inDegree[n.ID] = 0
	}

	for _, id := range b.sortedIDs() {
		n := b.nodes[id]
		seen := make(map[string]bool)
		for _, dep := range n.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, exists := b.nodes[dep]; !exists {
				return NewConfigurationError(
					fmt.Sprintf("%s depends on unknown node %s", n.ID, dep), nil,
				).WithCode(ErrCodeInvalidInputData).WithDetail("node", n.ID)
			}
			// dep must be resolved before n
			b.adjacencyList[dep] = append(b.adjacencyList[dep], n.ID)
			b.reverseAdjacencyList[n.ID] = append(b.reverseAdjacencyList[n.ID], dep)
			b.inDegree[n.ID]++
		}
	}
	return nil
}

func (b *DAGBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.sortedIDs() {
		if visited[id] {
			continue
		}
		if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
			return NewConfigurationError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
			).WithCode(ErrCodeVariableCycle).WithDetail("cycle", cycle)
		}
	}
	return nil
}

func (b *DAGBuilder) detectCyclesUtil(id string, visited, recStack map[string]bool, path []string) []string {
	visited[id] = true
	recStack[id] = true
	path = append(path, id)

	for _, dependent := range b.adjacencyList[id] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, p := range path {
				if p == dependent {
					return append(append([]string(nil), path[i:]...), dependent)
				}
			}
		}
	}

	recStack[id] = false
	return nil
}

// computeLevels assigns levels using Kahn's algorithm.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	current := make([]string, 0)
	for _, id := range b.sortedIDs() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range b.adjacencyList[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(b.nodes) {
		return NewConfigurationError("failed to order all nodes - possible cycle", nil).
			WithCode(ErrCodeVariableCycle)
	}
	return nil
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *Graph) ToDOT(name string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "digraph %q {\n", name)
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "    %q;\n", id)
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range g.Order() {
		for _, dep := range g.Nodes[id].Dependencies {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, id)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
