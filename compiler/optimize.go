package compiler

import (
	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/graph"
)

// ErrIllegalNode is returned when an unconditionally-failing node survives
// optimization: the compiled function could never succeed.
var ErrIllegalNode = errors.New("graph contains an unconditionally failing node")

// plan is the optimized node list handed to lowering: reachable nodes only,
// ids remapped densely, topological order preserved.
type plan struct {
	nodes []graph.Node
}

// optimize prunes nodes that no output or assertion depends on and rejects
// nodes that would fail on every call.
func optimize(g *graph.Graph) (*plan, error) {
	nodes := g.Nodes()

	// Outputs are the data roots; assertions are control roots that must
	// run even when nothing consumes their value.
	live := make([]bool, len(nodes))
	var stack []uint32
	for i := range nodes {
		n := &nodes[i]
		if n.Kind == graph.KindOutput || (n.Kind == graph.KindOp && n.Op == "assert") {
			live[i] = true
			stack = append(stack, n.Inputs...)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if live[id] {
			continue
		}
		live[id] = true
		stack = append(stack, nodes[id].Inputs...)
	}

	remap := make([]uint32, len(nodes))
	p := &plan{}
	for i := range nodes {
		if !live[i] {
			continue
		}
		n := nodes[i] // copy; inputs get rewritten
		if err := checkLegal(g, &n); err != nil {
			return nil, err
		}
		inputs := make([]uint32, len(n.Inputs))
		for j, in := range n.Inputs {
			inputs[j] = remap[in]
		}
		n.Inputs = inputs
		remap[i] = uint32(len(p.nodes))
		p.nodes = append(p.nodes, n)
	}
	return p, nil
}

// checkLegal rejects nodes that fail on every call.
func checkLegal(g *graph.Graph, n *graph.Node) error {
	switch {
	case n.Kind == graph.KindOp && n.Op == "assert":
		cond := g.Nodes()[n.Inputs[0]]
		if cond.Kind == graph.KindConst && cond.Value == 0 {
			msg, _ := g.Symbols().Get(g.Nodes()[n.Inputs[1]].SymbolID)
			return errors.Wrapf(ErrIllegalNode, "assertion %q always fails", msg)
		}
	case n.Kind == graph.KindMappingLookup && !n.HasDefault && !n.Contains:
		m := g.Mappings()[n.MappingID]
		if m.Len() == 0 {
			return errors.Wrapf(ErrIllegalNode, "lookup in empty mapping %q always fails", m.Name())
		}
	}
	return nil
}
