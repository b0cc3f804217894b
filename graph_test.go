package incr

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExportGraph(t *testing.T) {
	rt := NewRuntime()
	a := Var(rt, 1, WithName("a"))
	b := Computed(rt, func() int { return a.Get() * 2 }, WithName("b"))
	c := Computed(rt, func() int { return a.Get() * 3 }, WithName("c"))
	d := Computed(rt, func() int { return b.Get() + c.Get() }, WithName("d"))
	d.Get()

	g := ExportGraph(d)

	if len(g.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(g.Nodes))
	}
	if diff := cmp.Diff([]NodeID{d.ID()}, g.Roots); diff != "" {
		t.Errorf("unexpected roots (-want +got):\n%s", diff)
	}

	node := g.Nodes[d.ID()]
	if node.Name != "d" || node.Kind != KindComputed || !node.Valid {
		t.Errorf("unexpected node %+v", node)
	}
	if diff := cmp.Diff([]NodeID{b.ID(), c.ID()}, node.Dependencies); diff != "" {
		t.Errorf("unexpected dependencies (-want +got):\n%s", diff)
	}
	if g.Nodes[a.ID()].Kind != KindVar {
		t.Errorf("expected a to be a var, got %s", g.Nodes[a.ID()].Kind)
	}

	upstream := g.Upstream(d.ID())
	if len(upstream) != 3 {
		t.Fatalf("expected 3 upstream nodes, got %d", len(upstream))
	}
	for _, id := range []NodeID{a.ID(), b.ID(), c.ID()} {
		found := false
		for _, u := range upstream {
			if u == id {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s upstream of d", id)
		}
	}

	if got := g.Upstream(a.ID()); len(got) != 0 {
		t.Errorf("expected nothing upstream of a var, got %v", got)
	}
}

func TestExportGraphDoesNotRevalidate(t *testing.T) {
	rt := NewRuntime()
	a := Var(rt, 1)
	b := Computed(rt, func() int { return a.Get() + 1 }, WithName("b"))

	g := ExportGraph(b)
	if len(g.Nodes) != 1 {
		t.Fatalf("expected only the unevaluated root, got %d nodes", len(g.Nodes))
	}
	if g.Nodes[b.ID()].Valid {
		t.Error("expected b to be exported as invalid")
	}
	if b.IsValid() {
		t.Error("expected export not to evaluate b")
	}
}

func TestGraphString(t *testing.T) {
	rt := NewRuntime()
	price := Var(rt, 10, WithName("price"))
	qty := Var(rt, 3, WithName("qty"))
	total := Computed(rt, func() int { return price.Get() * qty.Get() }, WithName("total"))
	total.Get()

	out := ExportGraph(total).String()
	for _, want := range []string{"total [computed]", "price [var]", "qty [var]"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in\n%s", want, out)
		}
	}

	if got := ExportGraph().String(); got != "(empty graph)" {
		t.Errorf("expected empty graph marker, got %q", got)
	}
}

func TestGraphTreeMarksSelfReference(t *testing.T) {
	g := &Graph{
		Roots: []NodeID{1},
		Nodes: map[NodeID]*GraphNode{
			1: {ID: 1, Name: "loop", Kind: KindComputed, Valid: true, Dependencies: []NodeID{2}},
			2: {ID: 2, Name: "back", Kind: KindComputed, Valid: true, Dependencies: []NodeID{1}},
		},
	}

	out := g.Tree(1).String()
	if !strings.Contains(out, "(cycle)") {
		t.Errorf("expected a cycle marker in\n%s", out)
	}
	if diff := cmp.Diff([]NodeID{2}, g.Upstream(1)); diff != "" {
		t.Errorf("unexpected upstream (-want +got):\n%s", diff)
	}
}
