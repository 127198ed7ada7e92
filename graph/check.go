package graph

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Check validates the whole graph, collecting every finding instead of
// stopping at the first.
func (g *Graph) Check() error {
	var errs *multierror.Error
	inputSlots := g.InputLayout().Size()
	outputSlots := g.OutputLayout().Size()

	for i := range g.nodes {
		n := &g.nodes[i]
		for j, in := range n.Inputs {
			if int(in) >= i {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d input %d references node %d, breaking topological order", i, j, in))
			}
		}

		switch n.Kind {
		case KindInput:
			if int(n.Slot) >= inputSlots {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d reads input slot %d of %d", i, n.Slot, inputSlots))
			}
		case KindOutput:
			if len(n.Inputs) != 1 {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d: output takes 1 input, has %d", i, len(n.Inputs)))
			}
			if int(n.Slot) >= outputSlots {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d writes output slot %d of %d", i, n.Slot, outputSlots))
			}
		case KindOp:
			def, ok := LookupOp(n.Op)
			if !ok {
				errs = multierror.Append(errs, errors.Errorf("node %d: unknown op %q", i, n.Op))
				continue
			}
			if len(n.Inputs) != len(def.In) {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d: op %q takes %d inputs, has %d", i, n.Op, len(def.In), len(n.Inputs)))
			}
		case KindSymbol:
			if n.SymbolID >= uint64(g.symbols.Len()) {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d references symbol id %d of %d", i, n.SymbolID, g.symbols.Len()))
			}
		case KindMappingLookup:
			m, err := g.mapping(int(n.MappingID))
			if err != nil {
				errs = multierror.Append(errs, errors.Wrapf(err, "node %d", i))
				continue
			}
			want := m.keyLayout.Size()
			if n.HasDefault {
				want++
			}
			if len(n.Inputs) != want {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d: lookup in %q takes %d inputs, has %d", i, m.name, want, len(n.Inputs)))
			}
			if !n.Contains && int(n.Leaf) >= m.valueLayout.Size() {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d: lookup in %q reads value leaf %d of %d", i, m.name, n.Leaf, m.valueLayout.Size()))
			}
		case KindResourceCall:
			if _, err := g.resource(int(n.ResourceID)); err != nil {
				errs = multierror.Append(errs, errors.Wrapf(err, "node %d", i))
			}
		case KindIndexedLookup:
			if len(n.Inputs) != 1 {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d: indexed lookup takes 1 input, has %d", i, len(n.Inputs)))
			}
			if len(n.Table) == 0 {
				errs = multierror.Append(errs, errors.Errorf(
					"node %d: indexed lookup over an empty table always fails", i))
			}
		case KindConst:
		default:
			errs = multierror.Append(errs, errors.Errorf("node %d: unknown kind %d", i, n.Kind))
		}
	}

	return errs.ErrorOrNil()
}

// MemSize returns the estimated heap footprint of the graph, in bytes:
// nodes, inline tables, mapping tables and materialized resources.
func (g *Graph) MemSize() int {
	total := 0
	for i := range g.nodes {
		n := &g.nodes[i]
		total += 32 + len(n.Inputs)*4 + len(n.Op) + len(n.Method) + len(n.Table)*8
	}
	for _, m := range g.mappings {
		total += m.MemSize()
	}
	for _, r := range g.resources {
		total += r.MemSize()
	}
	for _, s := range g.symbols.Names() {
		total += len(s)
	}
	return total
}
