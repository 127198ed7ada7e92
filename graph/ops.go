package graph

import "math"

// Emit tells the lowering pass how an op turns into IR.
type Emit uint8

const (
	// EmitInstr is a direct backend instruction; Ref names it.
	EmitInstr Emit = iota
	// EmitCompare is a float comparison producing a bool; Ref is the
	// backend comparison instruction.
	EmitCompare
	// EmitCall is a call into the platform math runtime; Ref is the libm
	// symbol.
	EmitCall
	// EmitSupport is a call through a support-routine pointer embedded at
	// compile time; Ref names the routine.
	EmitSupport
	// EmitMacro is an op the lowering pass expands by hand (logic,
	// conversions, composite arithmetic, select, assert).
	EmitMacro
)

// OpDef is one catalog entry. Every op has a fixed signature except the
// generic ones (choose, eq and friends over non-float slots are not
// supported; equality is float equality).
type OpDef struct {
	Name string
	In   []Type
	Out  Type
	// Fold evaluates the op over constant inputs at build time. Only ops
	// whose results are exactly specified by IEEE-754 carry a folder;
	// transcendentals stay unfolded to avoid cross-platform drift.
	Fold func(args []float64) float64
	Emit Emit
	Ref  string
	// Generic marks choose, whose two branch inputs may be any matching
	// type; the builder checks it by hand.
	Generic bool
}

// catalog is the static op table, keyed by name.
var catalog = map[string]*OpDef{}

func register(defs ...*OpDef) {
	for _, d := range defs {
		catalog[d.Name] = d
	}
}

// LookupOp returns the catalog entry for name, if any.
func LookupOp(name string) (*OpDef, bool) {
	d, ok := catalog[name]
	return d, ok
}

var (
	ff   = []Type{TypeFloat}
	fff  = []Type{TypeFloat, TypeFloat}
	bb   = []Type{TypeBool}
	bbb  = []Type{TypeBool, TypeBool}
	dt   = []Type{TypeDateTime}
	asrt = []Type{TypeBool, TypeSymbol}
)

func floorDiv(a, b float64) float64 { return math.Floor(a / b) }

// floorMod follows the sign of the divisor.
func floorMod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func boolOf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func init() {
	// Arithmetic with IEEE-exact results folds eagerly.
	register(
		&OpDef{Name: "add", In: fff, Out: TypeFloat, Emit: EmitInstr, Ref: "add",
			Fold: func(a []float64) float64 { return a[0] + a[1] }},
		&OpDef{Name: "sub", In: fff, Out: TypeFloat, Emit: EmitInstr, Ref: "sub",
			Fold: func(a []float64) float64 { return a[0] - a[1] }},
		&OpDef{Name: "mul", In: fff, Out: TypeFloat, Emit: EmitInstr, Ref: "mul",
			Fold: func(a []float64) float64 { return a[0] * a[1] }},
		&OpDef{Name: "div", In: fff, Out: TypeFloat, Emit: EmitInstr, Ref: "div",
			Fold: func(a []float64) float64 { return a[0] / a[1] }},
		&OpDef{Name: "rem", In: fff, Out: TypeFloat, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return floorMod(a[0], a[1]) }},
		&OpDef{Name: "fmod", In: fff, Out: TypeFloat, Emit: EmitCall, Ref: "fmod",
			Fold: func(a []float64) float64 { return math.Mod(a[0], a[1]) }},
		&OpDef{Name: "floor_div", In: fff, Out: TypeFloat, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return floorDiv(a[0], a[1]) }},
		&OpDef{Name: "neg", In: ff, Out: TypeFloat, Emit: EmitInstr, Ref: "neg",
			Fold: func(a []float64) float64 { return -a[0] }},
		&OpDef{Name: "abs", In: ff, Out: TypeFloat, Emit: EmitCall, Ref: "fabs",
			Fold: func(a []float64) float64 { return math.Abs(a[0]) }},
		&OpDef{Name: "sqrt", In: ff, Out: TypeFloat, Emit: EmitCall, Ref: "sqrt",
			Fold: func(a []float64) float64 { return math.Sqrt(a[0]) }},
		&OpDef{Name: "floor", In: ff, Out: TypeFloat, Emit: EmitCall, Ref: "floor",
			Fold: func(a []float64) float64 { return math.Floor(a[0]) }},
		&OpDef{Name: "ceil", In: ff, Out: TypeFloat, Emit: EmitCall, Ref: "ceil",
			Fold: func(a []float64) float64 { return math.Ceil(a[0]) }},
		&OpDef{Name: "round", In: ff, Out: TypeFloat, Emit: EmitCall, Ref: "round",
			Fold: func(a []float64) float64 { return math.Round(a[0]) }},
		&OpDef{Name: "trunc", In: ff, Out: TypeFloat, Emit: EmitCall, Ref: "trunc",
			Fold: func(a []float64) float64 { return math.Trunc(a[0]) }},
	)

	// Transcendentals lower to libm and never fold.
	for name, sym := range map[string]string{
		"exp":      "exp",
		"log":      "log",
		"log1p":    "log1p",
		"expm1":    "expm1",
		"sin":      "sin",
		"cos":      "cos",
		"tan":      "tan",
		"asin":     "asin",
		"acos":     "acos",
		"atan":     "atan",
		"sinh":     "sinh",
		"cosh":     "cosh",
		"tanh":     "tanh",
		"asinh":    "asinh",
		"acosh":    "acosh",
		"atanh":    "atanh",
		"gamma":    "tgamma",
		"loggamma": "lgamma",
		"erf":      "erf",
		"erfc":     "erfc",
	} {
		register(&OpDef{Name: name, In: ff, Out: TypeFloat, Emit: EmitCall, Ref: sym})
	}
	register(
		&OpDef{Name: "pow", In: fff, Out: TypeFloat, Emit: EmitCall, Ref: "pow"},
		&OpDef{Name: "atan2", In: fff, Out: TypeFloat, Emit: EmitCall, Ref: "atan2"},
	)

	// Comparisons over floats. NaN compares false on every one of them,
	// including eq's negation pair.
	register(
		&OpDef{Name: "eq", In: fff, Out: TypeBool, Emit: EmitCompare, Ref: "ceqd",
			Fold: func(a []float64) float64 { return boolOf(a[0] == a[1]) }},
		&OpDef{Name: "ne", In: fff, Out: TypeBool, Emit: EmitCompare, Ref: "cned",
			Fold: func(a []float64) float64 { return boolOf(a[0] != a[1]) }},
		&OpDef{Name: "gt", In: fff, Out: TypeBool, Emit: EmitCompare, Ref: "cgtd",
			Fold: func(a []float64) float64 { return boolOf(a[0] > a[1]) }},
		&OpDef{Name: "lt", In: fff, Out: TypeBool, Emit: EmitCompare, Ref: "cltd",
			Fold: func(a []float64) float64 { return boolOf(a[0] < a[1]) }},
		&OpDef{Name: "ge", In: fff, Out: TypeBool, Emit: EmitCompare, Ref: "cged",
			Fold: func(a []float64) float64 { return boolOf(a[0] >= a[1]) }},
		&OpDef{Name: "le", In: fff, Out: TypeBool, Emit: EmitCompare, Ref: "cled",
			Fold: func(a []float64) float64 { return boolOf(a[0] <= a[1]) }},
	)

	// Boolean algebra and conversions.
	register(
		&OpDef{Name: "not", In: bb, Out: TypeBool, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return boolOf(a[0] == 0) }},
		&OpDef{Name: "and", In: bbb, Out: TypeBool, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return boolOf(a[0] != 0 && a[1] != 0) }},
		&OpDef{Name: "or", In: bbb, Out: TypeBool, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return boolOf(a[0] != 0 || a[1] != 0) }},
		&OpDef{Name: "to_bool", In: ff, Out: TypeBool, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return boolOf(a[0] != 0) }},
		&OpDef{Name: "to_float", In: bb, Out: TypeFloat, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return a[0] }},
		&OpDef{Name: "is_nan", In: ff, Out: TypeBool, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return boolOf(math.IsNaN(a[0])) }},
		&OpDef{Name: "is_finite", In: ff, Out: TypeBool, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return boolOf(!math.IsNaN(a[0]) && !math.IsInf(a[0], 0)) }},
		&OpDef{Name: "is_infinite", In: ff, Out: TypeBool, Emit: EmitMacro,
			Fold: func(a []float64) float64 { return boolOf(math.IsInf(a[0], 0)) }},
	)

	// Ternary select and assertion. choose's branch types are checked by
	// the builder; assert's message must be a symbol node.
	register(
		&OpDef{Name: "choose", In: []Type{TypeBool, TypeFloat, TypeFloat}, Out: TypeFloat,
			Emit: EmitMacro, Generic: true},
		&OpDef{Name: "assert", In: asrt, Out: TypeBool, Emit: EmitMacro},
	)

	// Datetime conversions. Extraction goes through support routines built
	// into the host; timestamp conversions are plain scaling.
	register(
		&OpDef{Name: "timestamp", In: dt, Out: TypeFloat, Emit: EmitMacro},
		&OpDef{Name: "fromtimestamp", In: ff, Out: TypeDateTime, Emit: EmitMacro},
	)
	for _, name := range []string{
		"year", "month", "day", "hour", "minute", "second", "microsecond",
		"weekday", "week", "dayofyear",
	} {
		register(&OpDef{Name: name, In: dt, Out: TypeFloat, Emit: EmitSupport, Ref: name})
	}
}
