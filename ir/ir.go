// Package ir builds the textual intermediate representation consumed by the
// external backend compiler.
//
// The IR is QBE-flavoured: a module is a list of data definitions and
// functions; a function is a list of labelled blocks holding instructions in
// SSA form. This package only assembles text; it knows nothing about graphs
// or lowering.
package ir

import (
	"fmt"
	"math"
	"strings"
)

// Base types of the IR.
const (
	Word   = "w" // 32-bit integer
	Long   = "l" // 64-bit integer / pointer
	Double = "d" // 64-bit float
)

// Value is one operand: a temporary (%t), a global ($name) or a literal.
type Value string

// Temp spells a temporary.
func Temp(name string) Value { return Value("%" + name) }

// Global spells a global symbol.
func Global(name string) Value { return Value("$" + name) }

// Int spells an integer literal.
func Int(v int64) Value { return Value(fmt.Sprintf("%d", v)) }

// Module is a whole IR compilation unit.
type Module struct {
	data  []*DataDef
	funcs []*Func
}

// NewModule creates an empty module.
func NewModule() *Module { return &Module{} }

// Data adds a data definition with the given alignment.
func (m *Module) Data(name string, align int) *DataDef {
	d := &DataDef{name: name, align: align}
	m.data = append(m.data, d)
	return d
}

// Func adds a function returning the given base type ("" for none).
func (m *Module) Func(name string, export bool, ret string, params ...Param) *Func {
	f := &Func{name: name, export: export, ret: ret, params: params}
	m.funcs = append(m.funcs, f)
	return f
}

// String renders the module as backend-ready text.
func (m *Module) String() string {
	var b strings.Builder
	for _, d := range m.data {
		d.render(&b)
		b.WriteByte('\n')
	}
	for _, f := range m.funcs {
		f.render(&b)
		b.WriteByte('\n')
	}
	return b.String()
}

// DataDef is one static data definition.
type DataDef struct {
	name   string
	align  int
	export bool
	items  []string
}

// Name returns the definition's global name.
func (d *DataDef) Name() Value { return Global(d.name) }

// Export marks the definition visible to the dynamic loader.
func (d *DataDef) Export() *DataDef {
	d.export = true
	return d
}

// Ref appends a pointer to another global.
func (d *DataDef) Ref(target Value) *DataDef {
	d.items = append(d.items, fmt.Sprintf("l %s", target))
	return d
}

// Double appends one float64, bit-exact.
func (d *DataDef) Double(v float64) *DataDef {
	// Emit the bit pattern as a long so that NaNs and infinities survive
	// the textual round trip.
	d.items = append(d.items, fmt.Sprintf("l %d", int64(math.Float64bits(v))))
	return d
}

// Long appends one 64-bit integer.
func (d *DataDef) Long(v int64) *DataDef {
	d.items = append(d.items, fmt.Sprintf("l %d", v))
	return d
}

// Bytes appends raw bytes.
func (d *DataDef) Bytes(data []byte) *DataDef {
	if len(data) == 0 {
		return d
	}
	var b strings.Builder
	b.WriteString("b")
	for _, c := range data {
		fmt.Fprintf(&b, " %d", c)
	}
	d.items = append(d.items, b.String())
	return d
}

func (d *DataDef) render(b *strings.Builder) {
	if d.export {
		b.WriteString("export ")
	}
	fmt.Fprintf(b, "data $%s = align %d { ", d.name, d.align)
	for i, item := range d.items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(item)
	}
	if len(d.items) == 0 {
		b.WriteString("z 8")
	}
	b.WriteString(" }\n")
}

// Param is one function parameter.
type Param struct {
	Type string
	Name string
}

// Func is one IR function under construction.
type Func struct {
	name   string
	export bool
	ret    string
	params []Param
	blocks []*Block
	temps  int
	labels int
}

// NewTemp issues a fresh temporary.
func (f *Func) NewTemp() Value {
	f.temps++
	return Value(fmt.Sprintf("%%t%d", f.temps))
}

// NewBlock opens a block with a fresh label derived from hint.
func (f *Func) NewBlock(hint string) *Block {
	f.labels++
	b := &Block{label: fmt.Sprintf("%s%d", hint, f.labels)}
	f.blocks = append(f.blocks, b)
	return b
}

// Start opens the entry block. It must be the first block of the function.
func (f *Func) Start() *Block {
	b := &Block{label: "start"}
	f.blocks = append(f.blocks, b)
	return b
}

func (f *Func) render(b *strings.Builder) {
	if f.export {
		b.WriteString("export ")
	}
	b.WriteString("function ")
	if f.ret != "" {
		b.WriteString(f.ret)
		b.WriteByte(' ')
	}
	fmt.Fprintf(b, "$%s(", f.name)
	for i, p := range f.params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s %%%s", p.Type, p.Name)
	}
	b.WriteString(") {\n")
	for _, block := range f.blocks {
		block.render(b)
	}
	b.WriteString("}\n")
}

// Block is one labelled basic block.
type Block struct {
	label  string
	instrs []string
}

// Label returns the block's label, for jump targets.
func (b *Block) Label() string { return b.label }

// Assign emits "dst =type op args...".
func (b *Block) Assign(dst Value, typ, op string, args ...Value) {
	strs := make([]string, len(args))
	for i, a := range args {
		strs[i] = string(a)
	}
	b.instrs = append(b.instrs, fmt.Sprintf("%s =%s %s %s", dst, typ, op, strings.Join(strs, ", ")))
}

// Arg is one call argument.
type Arg struct {
	Type string
	Val  Value
}

// Call emits a call, assigning the result to dst unless dst is empty.
func (b *Block) Call(dst Value, typ string, target Value, args ...Arg) {
	var sb strings.Builder
	if dst != "" {
		fmt.Fprintf(&sb, "%s =%s ", dst, typ)
	}
	fmt.Fprintf(&sb, "call %s(", target)
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", a.Type, a.Val)
	}
	sb.WriteString(")")
	b.instrs = append(b.instrs, sb.String())
}

// PhiArg is one incoming edge of a phi.
type PhiArg struct {
	Label string
	Val   Value
}

// Phi emits an SSA phi joining values from predecessor blocks.
func (b *Block) Phi(dst Value, typ string, args ...PhiArg) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s =%s phi", dst, typ)
	for i, a := range args {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, " @%s %s", a.Label, a.Val)
	}
	b.instrs = append(b.instrs, sb.String())
}

// Store emits a typed store of val to addr.
func (b *Block) Store(typ string, val, addr Value) {
	b.instrs = append(b.instrs, fmt.Sprintf("store%s %s, %s", typ, val, addr))
}

// Load emits a typed load from addr into dst.
func (b *Block) Load(dst Value, typ string, addr Value) {
	b.Assign(dst, typ, "load"+typ, addr)
}

// Jmp emits an unconditional jump.
func (b *Block) Jmp(label string) {
	b.instrs = append(b.instrs, fmt.Sprintf("jmp @%s", label))
}

// Jnz emits a conditional branch on a word value.
func (b *Block) Jnz(cond Value, then, els string) {
	b.instrs = append(b.instrs, fmt.Sprintf("jnz %s, @%s, @%s", cond, then, els))
}

// Ret emits a return.
func (b *Block) Ret(v Value) {
	if v == "" {
		b.instrs = append(b.instrs, "ret")
		return
	}
	b.instrs = append(b.instrs, fmt.Sprintf("ret %s", v))
}

func (b *Block) render(sb *strings.Builder) {
	fmt.Fprintf(sb, "@%s\n", b.label)
	for _, ins := range b.instrs {
		sb.WriteByte('\t')
		sb.WriteString(ins)
		sb.WriteByte('\n')
	}
}
