// Package layout implements the declarative schemas that describe how
// structured values map onto the flat numeric buffers consumed and produced
// by compiled functions.
//
// Every leaf of a layout occupies exactly one 8-byte slot. Scalars are
// IEEE-754 float64 bit patterns, booleans are 0/1, date-times are i64
// microseconds since the Unix epoch and symbols are i64 ids into a symbol
// table. Aggregates (structs, tuples, lists) lay their members out
// sequentially, in declaration order.
package layout

import (
	"fmt"
	"strings"
)

// SlotSize is the size in bytes of every leaf slot.
const SlotSize = 8

// ISOFormat is the strptime format for ISO 8601, the default used by
// date-time layouts.
const ISOFormat = "%Y-%m-%dT%H:%M:%S%.f"

// Kind discriminates the layout variants.
type Kind uint8

const (
	// KindUnit is the empty value, occupying no slots.
	KindUnit Kind = iota
	// KindScalar is a 64-bit floating point number.
	KindScalar
	// KindBool is a boolean, stored as the integer 1 or 0.
	KindBool
	// KindDateTime is a date-time with a strptime-style format string,
	// stored as microseconds since the Unix epoch.
	KindDateTime
	// KindSymbol is an immutable piece of text, stored as its table id.
	KindSymbol
	// KindStruct is an ordered sequence of named fields.
	KindStruct
	// KindTuple is an ordered sequence of unnamed fields.
	KindTuple
	// KindList is a layout repeated a fixed number of times.
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindScalar:
		return "scalar"
	case KindBool:
		return "bool"
	case KindDateTime:
		return "datetime"
	case KindSymbol:
		return "symbol"
	case KindStruct:
		return "struct"
	case KindTuple:
		return "tuple"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Field is one named member of a struct layout.
type Field struct {
	Name   string
	Layout *Layout
}

// Layout describes the structure and flat encoding of a value. The zero
// value is the unit layout. Layouts are immutable once built.
type Layout struct {
	kind   Kind
	format string    // date-time format string
	fields []Field   // struct members
	elems  []*Layout // tuple members
	elem   *Layout   // list element
	length int       // list length
}

// Unit returns the empty layout.
func Unit() *Layout { return &Layout{kind: KindUnit} }

// Scalar returns the float64 layout.
func Scalar() *Layout { return &Layout{kind: KindScalar} }

// Bool returns the boolean layout.
func Bool() *Layout { return &Layout{kind: KindBool} }

// DateTime returns a date-time layout using the supplied strptime-style
// format string.
func DateTime(format string) *Layout {
	return &Layout{kind: KindDateTime, format: format}
}

// ISODateTime returns a date-time layout using the ISO 8601 format.
func ISODateTime() *Layout { return DateTime(ISOFormat) }

// Symbol returns the interned-string layout.
func Symbol() *Layout { return &Layout{kind: KindSymbol} }

// StructOf returns a struct layout with the given fields, in order. Field
// names must be unique; this is enforced by the graph builder, not here.
func StructOf(fields ...Field) *Layout {
	return &Layout{kind: KindStruct, fields: fields}
}

// TupleOf returns a tuple layout: an unnamed struct with positional fields.
func TupleOf(elems ...*Layout) *Layout {
	return &Layout{kind: KindTuple, elems: elems}
}

// ListOf returns a layout repeating element n times. Zero-length lists are
// legal and occupy no slots.
func ListOf(element *Layout, n int) *Layout {
	return &Layout{kind: KindList, elem: element, length: n}
}

// Kind returns the variant of this layout.
func (l *Layout) Kind() Kind { return l.kind }

// Format returns the date-time format string. Empty for other kinds.
func (l *Layout) Format() string { return l.format }

// Fields returns the struct fields, in declaration order.
func (l *Layout) Fields() []Field { return l.fields }

// Elems returns the tuple members, in order.
func (l *Layout) Elems() []*Layout { return l.elems }

// Elem returns the list element layout, or nil.
func (l *Layout) Elem() *Layout { return l.elem }

// Len returns the list length. Zero for other kinds.
func (l *Layout) Len() int { return l.length }

// Size returns the flat size of this layout, in slots.
func (l *Layout) Size() int {
	switch l.kind {
	case KindUnit:
		return 0
	case KindScalar, KindBool, KindDateTime, KindSymbol:
		return 1
	case KindStruct:
		total := 0
		for _, f := range l.fields {
			total += f.Layout.Size()
		}
		return total
	case KindTuple:
		total := 0
		for _, e := range l.elems {
			total += e.Size()
		}
		return total
	case KindList:
		return l.length * l.elem.Size()
	}
	return 0
}

// SizeBytes returns the flat size of this layout, in bytes.
func (l *Layout) SizeBytes() int { return l.Size() * SlotSize }

// Slots returns the leaf kinds of this layout, left to right in structural
// order. The result has exactly Size() entries.
func (l *Layout) Slots() []Kind {
	out := make([]Kind, 0, l.Size())
	return l.appendSlots(out)
}

func (l *Layout) appendSlots(out []Kind) []Kind {
	switch l.kind {
	case KindScalar, KindBool, KindDateTime, KindSymbol:
		out = append(out, l.kind)
	case KindStruct:
		for _, f := range l.fields {
			out = f.Layout.appendSlots(out)
		}
	case KindTuple:
		for _, e := range l.elems {
			out = e.appendSlots(out)
		}
	case KindList:
		for i := 0; i < l.length; i++ {
			out = l.elem.appendSlots(out)
		}
	}
	return out
}

// Equal reports whether two layouts are structurally identical, including
// field names and date-time formats.
func (l *Layout) Equal(other *Layout) bool {
	if l == nil || other == nil {
		return l == other
	}
	if l.kind != other.kind {
		return false
	}
	switch l.kind {
	case KindDateTime:
		return l.format == other.format
	case KindStruct:
		if len(l.fields) != len(other.fields) {
			return false
		}
		for i, f := range l.fields {
			if f.Name != other.fields[i].Name || !f.Layout.Equal(other.fields[i].Layout) {
				return false
			}
		}
	case KindTuple:
		if len(l.elems) != len(other.elems) {
			return false
		}
		for i, e := range l.elems {
			if !e.Equal(other.elems[i]) {
				return false
			}
		}
	case KindList:
		return l.length == other.length && l.elem.Equal(other.elem)
	}
	return true
}

// IsSuperset reports whether a value of the other layout can be injected
// into this one: same flavor for leaves, name-based field mapping for
// structs, element-wise superset for lists and tuples of equal length.
// IsSuperset(l, l) always holds and the relation is transitive.
func (l *Layout) IsSuperset(other *Layout) bool {
	switch {
	case l.kind == KindStruct && other.kind == KindStruct:
		for _, of := range other.fields {
			sf, ok := l.fieldByName(of.Name)
			if !ok {
				return false
			}
			if !sf.IsSuperset(of.Layout) {
				return false
			}
		}
		return true
	case l.kind == KindTuple && other.kind == KindTuple:
		if len(l.elems) != len(other.elems) {
			return false
		}
		for i, e := range l.elems {
			if !e.IsSuperset(other.elems[i]) {
				return false
			}
		}
		return true
	case l.kind == KindList && other.kind == KindList:
		return l.length == other.length && l.elem.IsSuperset(other.elem)
	}
	return l.Equal(other)
}

func (l *Layout) fieldByName(name string) (*Layout, bool) {
	for _, f := range l.fields {
		if f.Name == name {
			return f.Layout, true
		}
	}
	return nil, false
}

// String renders the layout in the display notation, e.g.
// "{ x: scalar, d: datetime "%Y-%m-%d", v: [3] }".
func (l *Layout) String() string {
	var b strings.Builder
	l.render(&b)
	return b.String()
}

func (l *Layout) render(b *strings.Builder) {
	switch l.kind {
	case KindUnit:
		b.WriteString("unit")
	case KindScalar:
		b.WriteString("scalar")
	case KindBool:
		b.WriteString("bool")
	case KindDateTime:
		if l.format == ISOFormat {
			b.WriteString("datetime")
		} else {
			fmt.Fprintf(b, "datetime %q", l.format)
		}
	case KindSymbol:
		b.WriteString("symbol")
	case KindStruct:
		b.WriteString("{ ")
		for i, f := range l.fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			f.Layout.render(b)
		}
		b.WriteString(" }")
	case KindTuple:
		b.WriteString("(")
		for i, e := range l.elems {
			if i > 0 {
				b.WriteString(", ")
			}
			e.render(b)
		}
		b.WriteString(")")
	case KindList:
		if l.elem.kind == KindScalar {
			fmt.Fprintf(b, "[%d]", l.length)
		} else {
			b.WriteString("[")
			l.elem.render(b)
			fmt.Fprintf(b, "; %d]", l.length)
		}
	}
}
