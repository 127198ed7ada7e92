// Package graph defines the computational-graph representation of jyafn
// functions.
//
// This package provides the build-time data structures for expressing pure
// numeric functions as directed acyclic graphs of typed nodes. The graph
// representation is what gets serialized into portable artifacts and what the
// compiler lowers to backend IR.
//
// Key data structures:
//   - Node: one operation or value, with typed inputs referencing earlier nodes
//   - Graph: the append-only builder and the sealed, immutable model
//   - Mapping: immutable sorted key/value tables compiled into the function
//   - Resource: opaque plugin-provided objects with callable methods
//
// The graph model supports:
//   - Acyclicity by construction: nodes may only reference earlier nodes
//   - Eager constant folding and algebraic simplification during building
//   - Structured inputs and outputs described by layouts
//   - Binary serialization into versioned, zip-packaged artifacts
//
// Graphs are typically built by a host binding, dumped for storage and later
// loaded and compiled by the runtime. A sealed graph is immutable and safe to
// share between threads.
package graph

import (
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/layout"
)

// Graph is a function under construction, or, once sealed, the immutable
// model handed to the compiler. The zero value is not usable; call New.
type Graph struct {
	name         string
	nodes        []Node
	inputFields  []layout.Field
	inputSlots   int
	outputLayout *layout.Layout
	metadata     map[string]string
	symbols      *layout.Symbols
	mappings     []*Mapping
	resources    []*Resource
	sealed       bool
	initialized  bool
	errs         *multierror.Error
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		name:        "fn",
		metadata:    make(map[string]string),
		symbols:     layout.NewSymbols(),
		initialized: true,
	}
}

// Rename sets the graph's name, used in artifacts and diagnostics.
func (g *Graph) Rename(name string) { g.name = name }

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// SetMetadata records one key-value pair of UTF-8 metadata.
func (g *Graph) SetMetadata(key, value string) {
	if err := g.mutable(); err != nil {
		g.record(err)
		return
	}
	g.metadata[key] = value
}

// Metadata returns the metadata map. Callers must not mutate it after the
// graph is sealed.
func (g *Graph) Metadata() map[string]string { return g.metadata }

// Symbols returns the graph's top-layer symbol table.
func (g *Graph) Symbols() *layout.Symbols { return g.symbols }

// InputLayout returns the struct layout accumulated from Input calls.
func (g *Graph) InputLayout() *layout.Layout {
	return layout.StructOf(g.inputFields...)
}

// OutputLayout returns the output layout, or the unit layout before Output
// is called.
func (g *Graph) OutputLayout() *layout.Layout {
	if g.outputLayout == nil {
		return layout.Unit()
	}
	return g.outputLayout
}

// Nodes returns the node list. Callers must not mutate it.
func (g *Graph) Nodes() []Node { return g.nodes }

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Mappings returns the mapping catalog.
func (g *Graph) Mappings() []*Mapping { return g.mappings }

// Resources returns the resource catalog.
func (g *Graph) Resources() []*Resource { return g.resources }

// Sealed reports whether the graph has been sealed.
func (g *Graph) Sealed() bool { return g.sealed }

// Initialized reports whether mapping tables and resources are materialized.
// Graphs built in process always are; loaded ones only when Load was asked to
// initialize. The compiler rejects uninitialized graphs.
func (g *Graph) Initialized() bool { return g.initialized }

func (g *Graph) mutable() error {
	if g.sealed {
		return ErrSealed
	}
	return nil
}

// record stashes a builder error to be surfaced by Seal.
func (g *Graph) record(err error) {
	g.errs = multierror.Append(g.errs, err)
}

func (g *Graph) push(n Node) Ref {
	g.nodes = append(g.nodes, n)
	return Ref(len(g.nodes) - 1)
}

func (g *Graph) node(r Ref) (*Node, error) {
	if r < 0 || int(r) >= len(g.nodes) {
		return nil, errors.Wrapf(ErrUnknownRef, "ref %d of %d nodes", r, len(g.nodes))
	}
	return &g.nodes[r], nil
}

func refsToInputs(refs []Ref) []uint32 {
	out := make([]uint32, len(refs))
	for i, r := range refs {
		out[i] = uint32(r)
	}
	return out
}

// Input appends a named field to the input layout and returns a value whose
// leaves load the corresponding input slots. Errors (duplicate names, sealed
// graph) are deferred to Seal.
func (g *Graph) Input(name string, l *layout.Layout) Value {
	if err := g.mutable(); err != nil {
		g.record(err)
		return Value{layout: l}
	}
	for _, f := range g.inputFields {
		if f.Name == name {
			g.record(errors.Errorf("duplicate input field %q", name))
			return Value{layout: l}
		}
	}
	g.inputFields = append(g.inputFields, layout.Field{Name: name, Layout: l})

	slots := l.Slots()
	refs := make([]Ref, len(slots))
	for i, k := range slots {
		refs[i] = g.push(Node{
			Kind: KindInput,
			Type: TypeOf(k),
			Slot: uint32(g.inputSlots),
		})
		g.inputSlots++
	}
	return Value{layout: l, refs: refs}
}

// Const pushes a float constant.
func (g *Graph) Const(v float64) Ref {
	return g.push(Node{Kind: KindConst, Type: TypeFloat, Value: v})
}

// BoolConst pushes a boolean constant.
func (g *Graph) BoolConst(b bool) Ref {
	return g.push(Node{Kind: KindConst, Type: TypeBool, Value: boolOf(b)})
}

// PushSymbol interns s into the graph's symbol table and pushes a node
// holding its id.
func (g *Graph) PushSymbol(s string) Ref {
	id := g.symbols.Find(s)
	return g.push(Node{Kind: KindSymbol, Type: TypeSymbol, SymbolID: id})
}

// constValue returns the constant payload of r, if r is a constant node.
func (g *Graph) constValue(r Ref) (float64, bool) {
	n := &g.nodes[r]
	if n.Kind != KindConst {
		return 0, false
	}
	return n.Value, true
}

// Op applies a catalog operation to prior nodes. Constant inputs fold
// eagerly; a handful of algebraic identities elide the node even with one
// non-constant operand.
func (g *Graph) Op(name string, args ...Ref) (Ref, error) {
	if err := g.mutable(); err != nil {
		return 0, err
	}
	def, ok := LookupOp(name)
	if !ok {
		return 0, errors.Wrap(ErrUnknownOp, name)
	}
	if len(args) != len(def.In) {
		return 0, errors.Wrapf(ErrArityMismatch, "%s takes %d inputs, got %d", name, len(def.In), len(args))
	}

	types := make([]Type, len(args))
	for i, r := range args {
		n, err := g.node(r)
		if err != nil {
			return 0, errors.Wrapf(err, "%s input %d", name, i)
		}
		types[i] = n.Type
	}

	out := def.Out
	if def.Generic {
		// choose: cond then two branches of one common type.
		if types[0] != TypeBool {
			return 0, errors.Wrapf(ErrTypeMismatch, "%s condition is %v, want bool", name, types[0])
		}
		if types[1] != types[2] {
			return 0, errors.Wrapf(ErrTypeMismatch, "%s branches are %v and %v", name, types[1], types[2])
		}
		out = types[1]
	} else {
		for i, want := range def.In {
			if types[i] != want {
				return 0, errors.Wrapf(ErrTypeMismatch, "%s input %d is %v, want %v", name, i, types[i], want)
			}
		}
	}
	if name == "assert" {
		if g.nodes[args[1]].Kind != KindSymbol {
			return 0, errors.Wrapf(ErrTypeMismatch, "assert message must be a symbol node")
		}
		return g.push(Node{Kind: KindOp, Type: out, Op: name, Inputs: refsToInputs(args)}), nil
	}

	if r, ok := g.simplify(def, args); ok {
		return r, nil
	}
	return g.push(Node{Kind: KindOp, Type: out, Op: name, Inputs: refsToInputs(args)}), nil
}

// simplify performs eager folding and identity elision for an op about to be
// pushed. It returns the replacement ref when the op can be elided.
func (g *Graph) simplify(def *OpDef, args []Ref) (Ref, bool) {
	if def.Generic {
		// choose with a constant condition selects its branch outright.
		if c, ok := g.constValue(args[0]); ok {
			if c != 0 {
				return args[1], true
			}
			return args[2], true
		}
		return 0, false
	}

	consts := make([]float64, len(args))
	allConst := true
	for i, r := range args {
		v, ok := g.constValue(r)
		if !ok {
			allConst = false
			break
		}
		consts[i] = v
	}
	if allConst && def.Fold != nil {
		return g.push(Node{Kind: KindConst, Type: def.Out, Value: def.Fold(consts)}), true
	}

	if len(args) == 2 {
		a, aConst := g.constValue(args[0])
		b, bConst := g.constValue(args[1])
		switch def.Name {
		case "sub":
			// x+0 is not elidable: -0 + 0 is +0. x-0 is exact only when
			// the zero is positive (-0 - -0 is +0 as well).
			if bConst && b == 0 && !math.Signbit(b) {
				return args[0], true
			}
		case "mul":
			if bConst && b == 1 {
				return args[0], true
			}
			if aConst && a == 1 {
				return args[1], true
			}
		case "div":
			if bConst && b == 1 {
				return args[0], true
			}
		}
	}
	return 0, false
}

// Assert interns msg as a symbol and pushes an assertion over cond. A false
// condition at call time fails the call with msg as the error message.
func (g *Graph) Assert(cond Ref, msg string) (Ref, error) {
	if err := g.mutable(); err != nil {
		return 0, err
	}
	n, err := g.node(cond)
	if err != nil {
		return 0, err
	}
	if n.Type != TypeBool {
		return 0, errors.Wrapf(ErrTypeMismatch, "assert condition is %v, want bool", n.Type)
	}
	// Constant conditions resolve now: true asserts vanish, false ones
	// stay and are flagged by the compiler as unconditional failures.
	if c, ok := g.constValue(cond); ok && c != 0 {
		return g.BoolConst(true), nil
	}
	return g.Op("assert", cond, g.PushSymbol(msg))
}

// IndexedLookup pushes a variable-index load from a fixed table of scalars.
// An out-of-range index at call time fails the call.
func (g *Graph) IndexedLookup(table []float64, index Ref) (Ref, error) {
	if err := g.mutable(); err != nil {
		return 0, err
	}
	n, err := g.node(index)
	if err != nil {
		return 0, err
	}
	if n.Type != TypeFloat {
		return 0, errors.Wrapf(ErrTypeMismatch, "lookup index is %v, want float", n.Type)
	}
	if c, ok := g.constValue(index); ok {
		i := int(c)
		if float64(i) == c && i >= 0 && i < len(table) {
			return g.Const(table[i]), nil
		}
	}
	own := make([]float64, len(table))
	copy(own, table)
	return g.push(Node{
		Kind:   KindIndexedLookup,
		Type:   TypeFloat,
		Inputs: []uint32{uint32(index)},
		Table:  own,
	}), nil
}

// Output connects a value to the output layout. The value's leaves must
// match the layout's slots; only one output may be set.
func (g *Graph) Output(v Value, l *layout.Layout) error {
	if err := g.mutable(); err != nil {
		return err
	}
	if g.outputLayout != nil {
		return errors.New("output already set")
	}
	slots := l.Slots()
	if len(v.refs) != len(slots) {
		return errors.Wrapf(ErrTypeMismatch, "output layout %v needs %d leaves, value has %d", l, len(slots), len(v.refs))
	}
	for i, r := range v.refs {
		n, err := g.node(r)
		if err != nil {
			return errors.Wrapf(err, "output leaf %d", i)
		}
		if want := TypeOf(slots[i]); n.Type != want {
			return errors.Wrapf(ErrTypeMismatch, "output leaf %d is %v, want %v", i, n.Type, want)
		}
	}
	g.outputLayout = l
	for i, r := range v.refs {
		g.push(Node{Kind: KindOutput, Inputs: []uint32{uint32(r)}, Slot: uint32(i)})
	}
	return nil
}

// Seal validates the graph, freezes it and surfaces every deferred builder
// error. A sealed graph accepts no further mutation.
func (g *Graph) Seal() error {
	if g.sealed {
		return nil
	}
	errs := g.errs
	if err := g.Check(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	g.sealed = true
	return nil
}
