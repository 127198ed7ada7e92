package graph

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/layout"
)

func mustOp(t *testing.T, g *Graph, name string, args ...Ref) Ref {
	t.Helper()
	r, err := g.Op(name, args...)
	if err != nil {
		t.Fatalf("Op(%s): %v", name, err)
	}
	return r
}

func TestBuildAndSeal(t *testing.T) {
	t.Parallel()

	g := New()
	g.Rename("affine")
	x := g.Input("x", layout.Scalar())
	scaled := mustOp(t, g, "mul", x.Ref(), g.Const(2))
	shifted := mustOp(t, g, "add", scaled, g.Const(1))
	if err := g.Output(ScalarValue(shifted), layout.Scalar()); err != nil {
		t.Fatalf("Output: %v", err)
	}
	if err := g.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if !g.Sealed() {
		t.Errorf("graph not sealed after Seal")
	}
	if g.Name() != "affine" {
		t.Errorf("name = %q, want affine", g.Name())
	}
	if got := g.InputLayout().Size(); got != 1 {
		t.Errorf("input size = %d slots, want 1", got)
	}
	if _, err := g.Op("add", x.Ref(), x.Ref()); !errors.Is(err, ErrSealed) {
		t.Errorf("Op on sealed graph = %v, want ErrSealed", err)
	}
}

func TestOpErrors(t *testing.T) {
	t.Parallel()

	g := New()
	x := g.Input("x", layout.Scalar())
	flag := g.Input("flag", layout.Bool())

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{
			name: "unknown op",
			call: func() error { _, err := g.Op("frobnicate", x.Ref()); return err },
			want: ErrUnknownOp,
		},
		{
			name: "wrong arity",
			call: func() error { _, err := g.Op("add", x.Ref()); return err },
			want: ErrArityMismatch,
		},
		{
			name: "bool into float op",
			call: func() error { _, err := g.Op("add", x.Ref(), flag.Ref()); return err },
			want: ErrTypeMismatch,
		},
		{
			name: "choose branches disagree",
			call: func() error { _, err := g.Op("choose", flag.Ref(), x.Ref(), flag.Ref()); return err },
			want: ErrTypeMismatch,
		},
		{
			name: "out of range ref",
			call: func() error { _, err := g.Op("neg", Ref(999)); return err },
			want: ErrUnknownRef,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConstantFolding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   string
		args []float64
		want float64
	}{
		{name: "add", op: "add", args: []float64{2, 3}, want: 5},
		{name: "sub", op: "sub", args: []float64{2, 3}, want: -1},
		{name: "mul", op: "mul", args: []float64{2, 3}, want: 6},
		{name: "div", op: "div", args: []float64{1, 2}, want: 0.5},
		{name: "div by zero is inf", op: "div", args: []float64{1, 0}, want: math.Inf(1)},
		{name: "neg", op: "neg", args: []float64{2}, want: -2},
		{name: "abs", op: "abs", args: []float64{-2}, want: 2},
		{name: "floor", op: "floor", args: []float64{-1.5}, want: -2},
		{name: "rem follows divisor sign", op: "rem", args: []float64{-5, 3}, want: 1},
		{name: "rem negative divisor", op: "rem", args: []float64{5, -3}, want: -1},
		{name: "floor_div", op: "floor_div", args: []float64{-5, 3}, want: -2},
		{name: "lt", op: "lt", args: []float64{1, 2}, want: 1},
		{name: "ge", op: "ge", args: []float64{1, 2}, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := New()
			args := make([]Ref, len(tt.args))
			for i, v := range tt.args {
				args[i] = g.Const(v)
			}
			r := mustOp(t, g, tt.op, args...)
			n := g.Nodes()[r]
			if n.Kind != KindConst {
				t.Fatalf("node kind = %v, want folded const", n.Kind)
			}
			if n.Value != tt.want {
				t.Errorf("folded to %v, want %v", n.Value, tt.want)
			}
		})
	}
}

func TestTranscendentalsDoNotFold(t *testing.T) {
	t.Parallel()

	g := New()
	for _, op := range []string{"exp", "log", "sin", "pow"} {
		args := []Ref{g.Const(0.5)}
		if def, _ := LookupOp(op); len(def.In) == 2 {
			args = append(args, g.Const(2))
		}
		r := mustOp(t, g, op, args...)
		if n := g.Nodes()[r]; n.Kind != KindOp {
			t.Errorf("%s folded to %v; inexact ops must stay unfolded", op, n.Kind)
		}
	}
}

func TestAlgebraicIdentities(t *testing.T) {
	t.Parallel()

	g := New()
	x := g.Input("x", layout.Scalar())

	elided := []struct {
		name string
		op   string
		args []Ref
	}{
		{name: "x minus zero", op: "sub", args: []Ref{x.Ref(), g.Const(0)}},
		{name: "x times one", op: "mul", args: []Ref{x.Ref(), g.Const(1)}},
		{name: "one times x", op: "mul", args: []Ref{g.Const(1), x.Ref()}},
		{name: "x over one", op: "div", args: []Ref{x.Ref(), g.Const(1)}},
	}
	for _, tt := range elided {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := mustOp(t, g, tt.op, tt.args...)
			if r != x.Ref() {
				t.Errorf("got node %d, want the untouched operand %d", r, x.Ref())
			}
		})
	}

	// 0*x would erase a NaN; the additive identities would turn a -0
	// operand into +0.
	kept := []struct {
		name string
		op   string
		args []Ref
	}{
		{name: "zero times x", op: "mul", args: []Ref{g.Const(0), x.Ref()}},
		{name: "x plus zero", op: "add", args: []Ref{x.Ref(), g.Const(0)}},
		{name: "zero plus x", op: "add", args: []Ref{g.Const(0), x.Ref()}},
		{name: "x minus negative zero", op: "sub", args: []Ref{x.Ref(), g.Const(math.Copysign(0, -1))}},
	}
	for _, tt := range kept {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := mustOp(t, g, tt.op, tt.args...)
			if g.Nodes()[r].Kind != KindOp {
				t.Errorf("%s was elided; it is not bit-exact for every operand", tt.name)
			}
		})
	}
}

func TestChooseConstCondition(t *testing.T) {
	t.Parallel()

	g := New()
	a := g.Input("a", layout.Scalar())
	b := g.Input("b", layout.Scalar())

	r := mustOp(t, g, "choose", g.BoolConst(true), a.Ref(), b.Ref())
	if r != a.Ref() {
		t.Errorf("choose(true) = node %d, want first branch %d", r, a.Ref())
	}
	r = mustOp(t, g, "choose", g.BoolConst(false), a.Ref(), b.Ref())
	if r != b.Ref() {
		t.Errorf("choose(false) = node %d, want second branch %d", r, b.Ref())
	}
}

func TestAssert(t *testing.T) {
	t.Parallel()

	g := New()
	x := g.Input("x", layout.Scalar())
	cond := mustOp(t, g, "gt", x.Ref(), g.Const(0))

	before := g.NodeCount()
	if _, err := g.Assert(g.BoolConst(true), "never fails"); err != nil {
		t.Fatalf("Assert(true): %v", err)
	}
	// One BoolConst(true) for the vanished assert plus the argument node.
	if g.NodeCount() != before+2 {
		t.Errorf("constant-true assert pushed %d nodes, want 2", g.NodeCount()-before)
	}

	r, err := g.Assert(cond, "x must be positive")
	if err != nil {
		t.Fatalf("Assert: %v", err)
	}
	n := g.Nodes()[r]
	if n.Kind != KindOp || n.Op != "assert" {
		t.Fatalf("assert node = %+v", n)
	}
	msgNode := g.Nodes()[n.Inputs[1]]
	if name, _ := g.Symbols().Get(msgNode.SymbolID); name != "x must be positive" {
		t.Errorf("assert message symbol = %q", name)
	}

	if _, err := g.Assert(x.Ref(), "not a bool"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Assert on float = %v, want ErrTypeMismatch", err)
	}
}

func TestIndexedLookup(t *testing.T) {
	t.Parallel()

	g := New()
	x := g.Input("x", layout.Scalar())
	table := []float64{10, 20, 30}

	r, err := g.IndexedLookup(table, g.Const(1))
	if err != nil {
		t.Fatalf("IndexedLookup: %v", err)
	}
	if n := g.Nodes()[r]; n.Kind != KindConst || n.Value != 20 {
		t.Errorf("constant in-range index: got %+v, want folded 20", n)
	}

	r, err = g.IndexedLookup(table, x.Ref())
	if err != nil {
		t.Fatalf("IndexedLookup: %v", err)
	}
	n := g.Nodes()[r]
	if n.Kind != KindIndexedLookup || len(n.Table) != 3 {
		t.Fatalf("variable index: got %+v", n)
	}
	table[0] = 99
	if n.Table[0] != 10 {
		t.Errorf("lookup table aliases the caller's slice")
	}
}

func TestOutputChecks(t *testing.T) {
	t.Parallel()

	g := New()
	x := g.Input("x", layout.Scalar())
	flag := mustOp(t, g, "gt", x.Ref(), g.Const(0))

	if err := g.Output(BoolValue(flag), layout.Scalar()); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("bool leaf into scalar output = %v, want ErrTypeMismatch", err)
	}
	if err := g.Output(BoolValue(flag), layout.Bool()); err != nil {
		t.Fatalf("Output: %v", err)
	}
	if err := g.Output(ScalarValue(x.Ref()), layout.Scalar()); err == nil {
		t.Errorf("second Output accepted")
	}
}

func TestSealSurfacesDeferredErrors(t *testing.T) {
	t.Parallel()

	g := New()
	g.Input("x", layout.Scalar())
	g.Input("x", layout.Scalar()) // duplicate, recorded silently
	if err := g.Seal(); err == nil {
		t.Errorf("Seal accepted a duplicate input field")
	}
}

func TestStructuredValues(t *testing.T) {
	t.Parallel()

	g := New()
	point := g.Input("point", layout.StructOf(
		layout.Field{Name: "x", Layout: layout.Scalar()},
		layout.Field{Name: "y", Layout: layout.Scalar()},
	))

	xv, ok := point.Field("x")
	if !ok {
		t.Fatalf("Field(x) not found")
	}
	yv, ok := point.Field("y")
	if !ok {
		t.Fatalf("Field(y) not found")
	}
	norm := mustOp(t, g, "sqrt",
		mustOp(t, g, "add",
			mustOp(t, g, "mul", xv.Ref(), xv.Ref()),
			mustOp(t, g, "mul", yv.Ref(), yv.Ref())))

	out := StructValue(
		NamedValue{Name: "norm", Value: ScalarValue(norm)},
		NamedValue{Name: "x", Value: xv},
	)
	if err := g.Output(out, out.Layout()); err != nil {
		t.Fatalf("Output: %v", err)
	}
	if err := g.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
}
