package graph

import (
	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/layout"
)

// Ref is a handle to a node during graph building. Refs are only meaningful
// for the graph that issued them.
type Ref int

// Value is a structured bundle of refs: a layout plus one ref per leaf slot,
// in structural order. It is what aggregate inputs, mapping lookups and
// resource calls hand back to the builder.
type Value struct {
	layout *layout.Layout
	refs   []Ref
}

// ScalarValue wraps a single float node as a scalar value.
func ScalarValue(r Ref) Value {
	return Value{layout: layout.Scalar(), refs: []Ref{r}}
}

// BoolValue wraps a single bool node as a bool value.
func BoolValue(r Ref) Value {
	return Value{layout: layout.Bool(), refs: []Ref{r}}
}

// SymbolValue wraps a single symbol node.
func SymbolValue(r Ref) Value {
	return Value{layout: layout.Symbol(), refs: []Ref{r}}
}

// ValueOf bundles refs against an explicit layout. The ref count must match
// the layout's flat size.
func ValueOf(l *layout.Layout, refs []Ref) (Value, error) {
	if len(refs) != l.Size() {
		return Value{}, errors.Errorf("layout %v needs %d refs, got %d", l, l.Size(), len(refs))
	}
	return Value{layout: l, refs: refs}, nil
}

// NamedValue pairs a field name with its value for StructValue.
type NamedValue struct {
	Name  string
	Value Value
}

// StructValue assembles named values into a struct value, in the given order.
func StructValue(fields ...NamedValue) Value {
	lf := make([]layout.Field, len(fields))
	var refs []Ref
	for i, f := range fields {
		lf[i] = layout.Field{Name: f.Name, Layout: f.Value.layout}
		refs = append(refs, f.Value.refs...)
	}
	return Value{layout: layout.StructOf(lf...), refs: refs}
}

// ListValue assembles values of one common layout into a list value.
func ListValue(elems ...Value) (Value, error) {
	if len(elems) == 0 {
		return Value{layout: layout.ListOf(layout.Scalar(), 0)}, nil
	}
	var refs []Ref
	for i, e := range elems {
		if !e.layout.Equal(elems[0].layout) {
			return Value{}, errors.Errorf("list element %d has layout %v, first has %v", i, e.layout, elems[0].layout)
		}
		refs = append(refs, e.refs...)
	}
	return Value{layout: layout.ListOf(elems[0].layout, len(elems)), refs: refs}, nil
}

// Layout returns the value's layout.
func (v Value) Layout() *layout.Layout { return v.layout }

// Refs returns the leaf refs in structural order.
func (v Value) Refs() []Ref { return v.refs }

// Ref returns the sole leaf of a single-slot value.
func (v Value) Ref() Ref {
	if len(v.refs) != 1 {
		panic(errors.Errorf("Ref() on a value with %d leaves", len(v.refs)))
	}
	return v.refs[0]
}

// Field projects one field of a struct value.
func (v Value) Field(name string) (Value, bool) {
	if v.layout.Kind() != layout.KindStruct {
		return Value{}, false
	}
	off := 0
	for _, f := range v.layout.Fields() {
		size := f.Layout.Size()
		if f.Name == name {
			return Value{layout: f.Layout, refs: v.refs[off : off+size]}, true
		}
		off += size
	}
	return Value{}, false
}

// Index projects one element of a list or tuple value.
func (v Value) Index(i int) (Value, bool) {
	switch v.layout.Kind() {
	case layout.KindList:
		if i < 0 || i >= v.layout.Len() {
			return Value{}, false
		}
		size := v.layout.Elem().Size()
		return Value{layout: v.layout.Elem(), refs: v.refs[i*size : (i+1)*size]}, true
	case layout.KindTuple:
		elems := v.layout.Elems()
		if i < 0 || i >= len(elems) {
			return Value{}, false
		}
		off := 0
		for j := 0; j < i; j++ {
			off += elems[j].Size()
		}
		return Value{layout: elems[i], refs: v.refs[off : off+elems[i].Size()]}, true
	}
	return Value{}, false
}
