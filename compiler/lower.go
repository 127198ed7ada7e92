package compiler

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/ffi"
	"github.com/jyafn/jyafn/graph"
	"github.com/jyafn/jyafn/ir"
)

// Symbols exported by every compiled shared object. The manifest is a
// pointer table whose first entry is the run function.
const (
	runSymbol      = "run"
	manifestSymbol = "jyafn_manifest"
)

// lowering carries the state of one graph-to-IR pass: the module under
// construction, the per-node SSA values, the constant pool, the status
// table and the caches that share searches and resource calls between the
// leaves of one logical lookup.
type lowering struct {
	g       *graph.Graph
	p       *plan
	mod     *ir.Module
	fn      *ir.Func
	blk     *ir.Block
	in, out ir.Value

	vals       []ir.Value
	consts     []float64
	constIdx   map[uint64]int
	statuses   []string
	statusIdx  map[string]int64
	mapHelpers map[uint32]bool
	rowCache   map[string]ir.Value
	checked    map[string]bool
	bufCache   map[string]ir.Value
	tables     int
}

// lower turns an optimized node list into backend-ready IR text plus the
// status table indexed by the run function's nonzero return values.
func lower(g *graph.Graph, p *plan) (string, []string, error) {
	l := &lowering{
		g:          g,
		p:          p,
		mod:        ir.NewModule(),
		constIdx:   make(map[uint64]int),
		statusIdx:  make(map[string]int64),
		mapHelpers: make(map[uint32]bool),
		rowCache:   make(map[string]ir.Value),
		checked:    make(map[string]bool),
		bufCache:   make(map[string]ir.Value),
	}
	l.fn = l.mod.Func(runSymbol, true, ir.Long,
		ir.Param{Type: ir.Long, Name: "in"},
		ir.Param{Type: ir.Long, Name: "out"})
	l.blk = l.fn.Start()
	l.in = ir.Temp("in")
	l.out = ir.Temp("out")

	l.vals = make([]ir.Value, len(p.nodes))
	for i := range p.nodes {
		v, err := l.node(i, &p.nodes[i])
		if err != nil {
			return "", nil, errors.Wrapf(err, "lowering node %d", i)
		}
		l.vals[i] = v
	}
	l.blk.Ret(ir.Int(0))

	pool := l.mod.Data("consts", 8)
	for _, v := range l.consts {
		pool.Double(v)
	}
	l.mod.Data(manifestSymbol, 8).Export().Ref(ir.Global(runSymbol))

	return l.mod.String(), l.statuses, nil
}

// status registers a message and returns its nonzero status id. Sites with
// the same message share one id.
func (l *lowering) status(msg string) int64 {
	if id, ok := l.statusIdx[msg]; ok {
		return id
	}
	l.statuses = append(l.statuses, msg)
	id := int64(len(l.statuses)) // 0 is reserved for success
	l.statusIdx[msg] = id
	return id
}

// guard branches to a fresh failing block unless cond (a word) is nonzero,
// and leaves l.blk on the surviving path.
func (l *lowering) guard(cond ir.Value, msg string) {
	fail := l.fn.NewBlock("fail")
	fail.Ret(ir.Int(l.status(msg)))
	ok := l.fn.NewBlock("ok")
	l.blk.Jnz(cond, ok.Label(), fail.Label())
	l.blk = ok
}

// constVal loads a float constant from the pool.
func (l *lowering) constVal(v float64) ir.Value {
	bits := math.Float64bits(v)
	idx, ok := l.constIdx[bits]
	if !ok {
		idx = len(l.consts)
		l.consts = append(l.consts, v)
		l.constIdx[bits] = idx
	}
	addr := l.fn.NewTemp()
	l.blk.Assign(addr, ir.Long, "add", ir.Global("consts"), ir.Int(int64(idx*8)))
	out := l.fn.NewTemp()
	l.blk.Load(out, ir.Double, addr)
	return out
}

func irType(t graph.Type) string {
	switch t {
	case graph.TypeFloat:
		return ir.Double
	case graph.TypeBool:
		return ir.Word
	}
	return ir.Long
}

// slotLoad reads one 8-byte slot at addr as the given node type.
func (l *lowering) slotLoad(addr ir.Value, t graph.Type) ir.Value {
	out := l.fn.NewTemp()
	if t == graph.TypeFloat {
		l.blk.Load(out, ir.Double, addr)
		return out
	}
	raw := l.fn.NewTemp()
	l.blk.Load(raw, ir.Long, addr)
	if t == graph.TypeBool {
		l.blk.Assign(out, ir.Word, "cnel", raw, ir.Int(0))
		return out
	}
	return raw
}

// slotStore writes one 8-byte slot at addr from a typed value.
func (l *lowering) slotStore(addr, v ir.Value, t graph.Type) {
	switch t {
	case graph.TypeFloat:
		l.blk.Store(ir.Double, v, addr)
	case graph.TypeBool:
		wide := l.fn.NewTemp()
		l.blk.Assign(wide, ir.Long, "extuw", v)
		l.blk.Store(ir.Long, wide, addr)
	default:
		l.blk.Store(ir.Long, v, addr)
	}
}

func (l *lowering) offset(base ir.Value, bytes int64) ir.Value {
	addr := l.fn.NewTemp()
	l.blk.Assign(addr, ir.Long, "add", base, ir.Int(bytes))
	return addr
}

func (l *lowering) node(id int, n *graph.Node) (ir.Value, error) {
	switch n.Kind {
	case graph.KindInput:
		return l.slotLoad(l.offset(l.in, int64(n.Slot)*8), n.Type), nil

	case graph.KindConst:
		if n.Type == graph.TypeBool {
			out := l.fn.NewTemp()
			var bit int64
			if n.Value != 0 {
				bit = 1
			}
			l.blk.Assign(out, ir.Word, "copy", ir.Int(bit))
			return out, nil
		}
		return l.constVal(n.Value), nil

	case graph.KindSymbol:
		out := l.fn.NewTemp()
		l.blk.Assign(out, ir.Long, "copy", ir.Int(int64(n.SymbolID)))
		return out, nil

	case graph.KindOp:
		return l.op(n)

	case graph.KindMappingLookup:
		return l.mappingLookup(n)

	case graph.KindResourceCall:
		return l.resourceCall(n)

	case graph.KindIndexedLookup:
		return l.indexedLookup(n)

	case graph.KindOutput:
		src := n.Inputs[0]
		l.slotStore(l.offset(l.out, int64(n.Slot)*8), l.vals[src], l.p.nodes[src].Type)
		return "", nil
	}
	return "", errors.Errorf("cannot lower node kind %v", n.Kind)
}

func (l *lowering) op(n *graph.Node) (ir.Value, error) {
	def, ok := graph.LookupOp(n.Op)
	if !ok {
		return "", errors.Wrap(graph.ErrUnknownOp, n.Op)
	}
	args := make([]ir.Value, len(n.Inputs))
	for i, in := range n.Inputs {
		args[i] = l.vals[in]
	}
	out := l.fn.NewTemp()

	switch def.Emit {
	case graph.EmitInstr:
		l.blk.Assign(out, ir.Double, def.Ref, args...)
		return out, nil

	case graph.EmitCompare:
		l.blk.Assign(out, ir.Word, def.Ref, args...)
		return out, nil

	case graph.EmitCall:
		callArgs := make([]ir.Arg, len(args))
		for i, a := range args {
			callArgs[i] = ir.Arg{Type: ir.Double, Val: a}
		}
		l.blk.Call(out, ir.Double, ir.Global(def.Ref), callArgs...)
		return out, nil

	case graph.EmitSupport:
		addr, ok := ffi.Support(def.Ref)
		if !ok {
			return "", errors.Errorf("no support routine for op %q", n.Op)
		}
		fp := l.fn.NewTemp()
		l.blk.Assign(fp, ir.Long, "copy", ir.Int(int64(addr)))
		l.blk.Call(out, ir.Double, fp, ir.Arg{Type: ir.Long, Val: args[0]})
		return out, nil

	case graph.EmitMacro:
		return l.macro(n, args)
	}
	return "", errors.Errorf("op %q has no lowering", n.Op)
}

// macro expands the ops that are neither a single instruction nor a plain
// libm call.
func (l *lowering) macro(n *graph.Node, args []ir.Value) (ir.Value, error) {
	out := l.fn.NewTemp()
	switch n.Op {
	case "rem":
		// Floored modulus out of two truncated ones:
		// fmod(fmod(a, b) + b, b) follows the divisor's sign.
		t := l.fn.NewTemp()
		l.blk.Call(t, ir.Double, ir.Global("fmod"),
			ir.Arg{Type: ir.Double, Val: args[0]}, ir.Arg{Type: ir.Double, Val: args[1]})
		s := l.fn.NewTemp()
		l.blk.Assign(s, ir.Double, "add", t, args[1])
		l.blk.Call(out, ir.Double, ir.Global("fmod"),
			ir.Arg{Type: ir.Double, Val: s}, ir.Arg{Type: ir.Double, Val: args[1]})
		return out, nil

	case "floor_div":
		q := l.fn.NewTemp()
		l.blk.Assign(q, ir.Double, "div", args[0], args[1])
		l.blk.Call(out, ir.Double, ir.Global("floor"), ir.Arg{Type: ir.Double, Val: q})
		return out, nil

	case "not":
		l.blk.Assign(out, ir.Word, "ceqw", args[0], ir.Int(0))
		return out, nil

	case "and":
		l.blk.Assign(out, ir.Word, "and", args[0], args[1])
		return out, nil

	case "or":
		l.blk.Assign(out, ir.Word, "or", args[0], args[1])
		return out, nil

	case "to_bool":
		l.blk.Assign(out, ir.Word, "cned", args[0], l.constVal(0))
		return out, nil

	case "to_float":
		l.blk.Assign(out, ir.Double, "swtof", args[0])
		return out, nil

	case "is_nan":
		// NaN is the only value unequal to itself.
		l.blk.Assign(out, ir.Word, "cned", args[0], args[0])
		return out, nil

	case "is_finite":
		ab := l.fn.NewTemp()
		l.blk.Call(ab, ir.Double, ir.Global("fabs"), ir.Arg{Type: ir.Double, Val: args[0]})
		l.blk.Assign(out, ir.Word, "cltd", ab, l.constVal(math.Inf(1)))
		return out, nil

	case "is_infinite":
		ab := l.fn.NewTemp()
		l.blk.Call(ab, ir.Double, ir.Global("fabs"), ir.Arg{Type: ir.Double, Val: args[0]})
		l.blk.Assign(out, ir.Word, "ceqd", ab, l.constVal(math.Inf(1)))
		return out, nil

	case "choose":
		// Both branches are already evaluated; the select only picks.
		then := l.fn.NewBlock("then")
		els := l.fn.NewBlock("else")
		join := l.fn.NewBlock("join")
		l.blk.Jnz(args[0], then.Label(), els.Label())
		then.Jmp(join.Label())
		els.Jmp(join.Label())
		join.Phi(out, irType(n.Type),
			ir.PhiArg{Label: then.Label(), Val: args[1]},
			ir.PhiArg{Label: els.Label(), Val: args[2]})
		l.blk = join
		return out, nil

	case "assert":
		msg, _ := l.g.Symbols().Get(l.p.nodes[n.Inputs[1]].SymbolID)
		l.guard(args[0], fmt.Sprintf("assertion failed: %s", msg))
		return args[0], nil

	case "timestamp":
		s := l.fn.NewTemp()
		l.blk.Assign(s, ir.Double, "sltof", args[0])
		l.blk.Assign(out, ir.Double, "div", s, l.constVal(1e6))
		return out, nil

	case "fromtimestamp":
		s := l.fn.NewTemp()
		l.blk.Assign(s, ir.Double, "mul", args[0], l.constVal(1e6))
		l.blk.Assign(out, ir.Long, "dtosi", s)
		return out, nil
	}
	return "", errors.Errorf("op %q has no macro expansion", n.Op)
}

// emitMappingHelper emits, once per mapping, the static key and value tables
// plus a binary-search function returning the address of the matching value
// row, or 0 on a miss. Keys are compared bytewise, matching the build-time
// sort order.
func (l *lowering) emitMappingHelper(id uint32) {
	if l.mapHelpers[id] {
		return
	}
	l.mapHelpers[id] = true

	m := l.g.Mappings()[id]
	keys := ir.Global(fmt.Sprintf("m%d_keys", id))
	vals := ir.Global(fmt.Sprintf("m%d_vals", id))
	l.mod.Data(fmt.Sprintf("m%d_keys", id), 8).Bytes(m.KeyBytes())
	l.mod.Data(fmt.Sprintf("m%d_vals", id), 8).Bytes(m.ValueBytes())

	keySize := int64(m.KeyLayout().SizeBytes())
	valueSize := int64(m.ValueLayout().SizeBytes())

	f := l.mod.Func(fmt.Sprintf("m%d_find", id), false, ir.Long,
		ir.Param{Type: ir.Long, Name: "key"})
	key := ir.Temp("key")
	lo, hi := ir.Temp("lo"), ir.Temp("hi")

	start := f.Start()
	loop := f.NewBlock("loop")
	body := f.NewBlock("body")
	hit := f.NewBlock("hit")
	cmp := f.NewBlock("cmp")
	below := f.NewBlock("below")
	above := f.NewBlock("above")
	miss := f.NewBlock("miss")

	start.Assign(lo, ir.Long, "copy", ir.Int(0))
	start.Assign(hi, ir.Long, "copy", ir.Int(int64(m.Len())))
	start.Jmp(loop.Label())

	more := f.NewTemp()
	loop.Assign(more, ir.Word, "csltl", lo, hi)
	loop.Jnz(more, body.Label(), miss.Label())

	sum := f.NewTemp()
	mid := f.NewTemp()
	off := f.NewTemp()
	row := f.NewTemp()
	ord := f.NewTemp()
	body.Assign(sum, ir.Long, "add", lo, hi)
	body.Assign(mid, ir.Long, "shr", sum, ir.Int(1))
	body.Assign(off, ir.Long, "mul", mid, ir.Int(keySize))
	body.Assign(row, ir.Long, "add", keys, off)
	body.Call(ord, ir.Word, ir.Global("memcmp"),
		ir.Arg{Type: ir.Long, Val: key},
		ir.Arg{Type: ir.Long, Val: row},
		ir.Arg{Type: ir.Long, Val: ir.Int(keySize)})
	body.Jnz(ord, cmp.Label(), hit.Label())

	voff := f.NewTemp()
	vrow := f.NewTemp()
	hit.Assign(voff, ir.Long, "mul", mid, ir.Int(valueSize))
	hit.Assign(vrow, ir.Long, "add", vals, voff)
	hit.Ret(vrow)

	neg := f.NewTemp()
	cmp.Assign(neg, ir.Word, "csltw", ord, ir.Int(0))
	cmp.Jnz(neg, below.Label(), above.Label())

	below.Assign(hi, ir.Long, "copy", mid)
	below.Jmp(loop.Label())

	next := f.NewTemp()
	above.Assign(next, ir.Long, "add", mid, ir.Int(1))
	above.Assign(lo, ir.Long, "copy", next)
	above.Jmp(loop.Label())

	miss.Ret(ir.Int(0))
}

// mappingRow searches the mapping for the serialized key leaves and returns
// the value-row address (0 on a miss) plus the nonzero flag. The search is
// shared between every leaf node of the same lookup.
func (l *lowering) mappingRow(n *graph.Node, keyInputs []uint32) (ir.Value, ir.Value) {
	cacheKey := fmt.Sprintf("m%d:%v", n.MappingID, keyInputs)
	if row, ok := l.rowCache[cacheKey]; ok {
		return row, l.rowCache[cacheKey+":nz"]
	}
	l.emitMappingHelper(n.MappingID)

	m := l.g.Mappings()[n.MappingID]
	buf := l.fn.NewTemp()
	l.blk.Assign(buf, ir.Long, "alloc8", ir.Int(int64(m.KeyLayout().SizeBytes())))
	for i, in := range keyInputs {
		l.slotStore(l.offset(buf, int64(i)*8), l.vals[in], l.p.nodes[in].Type)
	}
	row := l.fn.NewTemp()
	l.blk.Call(row, ir.Long, ir.Global(fmt.Sprintf("m%d_find", n.MappingID)),
		ir.Arg{Type: ir.Long, Val: buf})
	nz := l.fn.NewTemp()
	l.blk.Assign(nz, ir.Word, "cnel", row, ir.Int(0))

	l.rowCache[cacheKey] = row
	l.rowCache[cacheKey+":nz"] = nz
	return row, nz
}

func (l *lowering) mappingLookup(n *graph.Node) (ir.Value, error) {
	m := l.g.Mappings()[n.MappingID]

	if n.Contains {
		_, nz := l.mappingRow(n, n.Inputs)
		return nz, nil
	}

	if !n.HasDefault {
		keyInputs := n.Inputs
		row, nz := l.mappingRow(n, keyInputs)
		// Fail once per lookup, not once per value leaf.
		checkKey := fmt.Sprintf("m%d:%v", n.MappingID, keyInputs)
		if !l.checked[checkKey] {
			l.checked[checkKey] = true
			l.guard(nz, fmt.Sprintf("key not found in mapping %q", m.Name()))
		}
		return l.slotLoad(l.offset(row, int64(n.Leaf)*8), n.Type), nil
	}

	// With a default, each leaf selects between the table row and the
	// default node appended as the lookup's last input.
	keyInputs := n.Inputs[:len(n.Inputs)-1]
	dflt := l.vals[n.Inputs[len(n.Inputs)-1]]
	row, nz := l.mappingRow(n, keyInputs)

	hit := l.fn.NewBlock("hit")
	miss := l.fn.NewBlock("miss")
	join := l.fn.NewBlock("join")
	l.blk.Jnz(nz, hit.Label(), miss.Label())

	l.blk = hit
	found := l.slotLoad(l.offset(row, int64(n.Leaf)*8), n.Type)
	hit.Jmp(join.Label())
	miss.Jmp(join.Label())

	out := l.fn.NewTemp()
	join.Phi(out, irType(n.Type),
		ir.PhiArg{Label: hit.Label(), Val: found},
		ir.PhiArg{Label: miss.Label(), Val: dflt})
	l.blk = join
	return out, nil
}

func (l *lowering) resourceCall(n *graph.Node) (ir.Value, error) {
	r := l.g.Resources()[n.ResourceID]
	handle := r.Handle()
	if handle == nil {
		return "", errors.Errorf("resource %q is not materialized; compile an initialized graph", r.Name())
	}
	def, err := handle.Method(n.Method)
	if err != nil {
		return "", errors.Wrapf(graph.ErrUnknownMethod, "%s.%s: %v", r.Name(), n.Method, err)
	}

	cacheKey := fmt.Sprintf("r%d:%s:%v", n.ResourceID, n.Method, n.Inputs)
	outBuf, ok := l.bufCache[cacheKey]
	if !ok {
		inSlots := int64(def.Input.Size())
		outSlots := int64(def.Output.Size())

		inBuf := l.fn.NewTemp()
		l.blk.Assign(inBuf, ir.Long, "alloc8", ir.Int(inSlots*8))
		for i, in := range n.Inputs {
			l.slotStore(l.offset(inBuf, int64(i)*8), l.vals[in], l.p.nodes[in].Type)
		}
		outBuf = l.fn.NewTemp()
		l.blk.Assign(outBuf, ir.Long, "alloc8", ir.Int(outSlots*8))

		fp := l.fn.NewTemp()
		l.blk.Assign(fp, ir.Long, "copy", ir.Int(int64(def.FnPtr)))
		hp := l.fn.NewTemp()
		l.blk.Assign(hp, ir.Long, "copy", ir.Int(int64(handle.HandlePtr())))

		st := l.fn.NewTemp()
		l.blk.Call(st, ir.Long, fp,
			ir.Arg{Type: ir.Long, Val: hp},
			ir.Arg{Type: ir.Long, Val: inBuf},
			ir.Arg{Type: ir.Long, Val: ir.Int(inSlots)},
			ir.Arg{Type: ir.Long, Val: outBuf},
			ir.Arg{Type: ir.Long, Val: ir.Int(outSlots)})
		okW := l.fn.NewTemp()
		l.blk.Assign(okW, ir.Word, "ceql", st, ir.Int(0))
		l.guard(okW, fmt.Sprintf("call to %s.%s failed", r.Name(), n.Method))

		l.bufCache[cacheKey] = outBuf
	}
	return l.slotLoad(l.offset(outBuf, int64(n.Leaf)*8), n.Type), nil
}

func (l *lowering) indexedLookup(n *graph.Node) (ir.Value, error) {
	l.tables++
	name := fmt.Sprintf("tbl%d", l.tables)
	data := l.mod.Data(name, 8)
	for _, v := range n.Table {
		data.Double(v)
	}

	idx := l.fn.NewTemp()
	l.blk.Assign(idx, ir.Long, "dtosi", l.vals[n.Inputs[0]])
	// The unsigned compare also catches negative indices.
	inRange := l.fn.NewTemp()
	l.blk.Assign(inRange, ir.Word, "cultl", idx, ir.Int(int64(len(n.Table))))
	l.guard(inRange, fmt.Sprintf("lookup index out of bounds (table of %d)", len(n.Table)))

	off := l.fn.NewTemp()
	l.blk.Assign(off, ir.Long, "mul", idx, ir.Int(8))
	addr := l.fn.NewTemp()
	l.blk.Assign(addr, ir.Long, "add", ir.Global(name), off)
	out := l.fn.NewTemp()
	l.blk.Load(out, ir.Double, addr)
	return out, nil
}
