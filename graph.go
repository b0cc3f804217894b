package incr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
)

// GraphNode is the exported state of one node.
type GraphNode struct {
	ID      NodeID
	Name    string
	Kind    Kind
	Valid   bool
	Version ValueVersion
	// Dependencies are the nodes read during the last evaluation.
	Dependencies []NodeID
}

// Label returns the node's name, or its ID when unnamed.
func (n *GraphNode) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID.String()
}

// Graph is a snapshot of the part of a dependency graph reachable from a
// set of roots through recorded traces. Nodes never evaluated, or not read
// in their readers' last evaluation, do not appear.
type Graph struct {
	Roots []NodeID
	Nodes map[NodeID]*GraphNode
}

// ExportGraph snapshots the traces reachable from roots. It does not
// revalidate anything.
func ExportGraph(roots ...Node) *Graph {
	g := &Graph{
		Nodes: make(map[NodeID]*GraphNode, 32),
	}

	// Use explicit stack instead of recursion
	stack := make([]Node, 0, 32)
	for _, root := range roots {
		g.Roots = append(g.Roots, root.ID())
		stack = append(stack, root)
	}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, visited := g.Nodes[current.ID()]; visited {
			continue
		}

		deps := current.dependencies()
		gn := &GraphNode{
			ID:           current.ID(),
			Name:         current.Name(),
			Kind:         current.Kind(),
			Valid:        current.committed(),
			Version:      current.version(),
			Dependencies: make([]NodeID, len(deps)),
		}
		for i, dep := range deps {
			gn.Dependencies[i] = dep.ID()
			if _, visited := g.Nodes[dep.ID()]; !visited {
				stack = append(stack, dep)
			}
		}
		g.Nodes[gn.ID] = gn
	}

	return g
}

// Upstream returns every node id reaches through dependencies, excluding
// id itself, sorted by ID.
func (g *Graph) Upstream(id NodeID) []NodeID {
	stack := []NodeID{id}
	visited := make(map[NodeID]bool, len(g.Nodes))
	var upstream []NodeID

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[current] {
			continue
		}
		visited[current] = true
		if current != id {
			upstream = append(upstream, current)
		}

		if n, ok := g.Nodes[current]; ok {
			for _, dep := range n.Dependencies {
				if !visited[dep] {
					stack = append(stack, dep)
				}
			}
		}
	}

	sort.Slice(upstream, func(i, j int) bool { return upstream[i] < upstream[j] })
	return upstream
}

// Tree renders the dependencies of root as a tree, root on top. A node
// reached twice on the same path, which only a cycle produces, is drawn
// once and marked.
func (g *Graph) Tree(root NodeID) *tree.Tree {
	t := tree.NewTree(tree.NodeString(g.label(root)))
	g.grow(t, root, map[NodeID]bool{root: true})
	return t
}

func (g *Graph) grow(t *tree.Tree, id NodeID, path map[NodeID]bool) {
	n, ok := g.Nodes[id]
	if !ok {
		return
	}
	for _, dep := range n.Dependencies {
		if path[dep] {
			t.AddChild(tree.NodeString(g.label(dep) + " (cycle)"))
			continue
		}
		child := t.AddChild(tree.NodeString(g.label(dep)))
		path[dep] = true
		g.grow(child, dep, path)
		delete(path, dep)
	}
}

func (g *Graph) label(id NodeID) string {
	n, ok := g.Nodes[id]
	if !ok {
		return id.String()
	}
	mark := ""
	if !n.Valid {
		mark = " *"
	}
	return fmt.Sprintf("%s [%s]%s", n.Label(), n.Kind, mark)
}

// String renders the tree of every root.
func (g *Graph) String() string {
	if len(g.Roots) == 0 {
		return "(empty graph)"
	}
	var sb strings.Builder
	for i, root := range g.Roots {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(g.Tree(root).String())
	}
	return sb.String()
}
