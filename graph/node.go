package graph

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/layout"
)

// Type is the build-time type of the single slot a node produces.
type Type uint8

const (
	// TypeFloat is an IEEE-754 float64.
	TypeFloat Type = iota
	// TypeBool is an integer 0 or 1.
	TypeBool
	// TypeDateTime is an i64 count of microseconds since the Unix epoch.
	TypeDateTime
	// TypeSymbol is an i64 id into the symbol table.
	TypeSymbol
)

func (t Type) String() string {
	switch t {
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeDateTime:
		return "datetime"
	case TypeSymbol:
		return "symbol"
	}
	return "type(?)"
}

// TypeOf maps a leaf layout kind to the node type occupying its slot.
func TypeOf(k layout.Kind) Type {
	switch k {
	case layout.KindBool:
		return TypeBool
	case layout.KindDateTime:
		return TypeDateTime
	case layout.KindSymbol:
		return TypeSymbol
	}
	return TypeFloat
}

// NodeKind discriminates the node variants. The numeric values are part of
// the artifact format and must not be reordered.
type NodeKind uint8

const (
	// KindInput loads one leaf slot of the input buffer.
	KindInput NodeKind = iota
	// KindConst is a compile-time float64 constant.
	KindConst
	// KindOp applies an operation from the catalog to prior nodes.
	KindOp
	// KindSymbol pushes a symbol id.
	KindSymbol
	// KindMappingLookup binary-searches a mapping table.
	KindMappingLookup
	// KindResourceCall invokes a method on a declared resource.
	KindResourceCall
	// KindIndexedLookup loads from an inline table of scalars at a
	// variable index.
	KindIndexedLookup
	// KindOutput stores a node into one leaf slot of the output buffer.
	KindOutput
)

func (k NodeKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindConst:
		return "const"
	case KindOp:
		return "op"
	case KindSymbol:
		return "symbol"
	case KindMappingLookup:
		return "mapping_lookup"
	case KindResourceCall:
		return "resource_call"
	case KindIndexedLookup:
		return "indexed_lookup"
	case KindOutput:
		return "output"
	}
	return "kind(?)"
}

// Mapping-lookup behavior flags, stored in the node attrs.
const (
	mappingHasDefault = 1 << 0
	mappingContains   = 1 << 1
)

// Node is one vertex of the graph. Inputs reference strictly earlier nodes,
// so the node list is topologically ordered by construction. Only the fields
// relevant to Kind are populated.
type Node struct {
	Kind   NodeKind
	Inputs []uint32
	Type   Type

	Slot       uint32    // input/output leaf slot
	Value      float64   // const payload
	Op         string    // catalog name
	SymbolID   uint64    // symbol id
	MappingID  uint32    // mapping catalog index
	HasDefault bool      // lookup falls back to the last input
	Contains   bool      // lookup is a membership test
	ResourceID uint32    // resource catalog index
	Method     string    // resource method name
	Leaf       uint32    // which leaf of a multi-slot lookup/call value
	Table      []float64 // indexed-lookup payload
}

// maxAttrs bounds the serialized attrs of one node. Inline lookup tables
// are the only attrs that can approach it.
const maxAttrs = math.MaxUint16

// maxArity bounds the serialized input count of one node. Only lookups over
// very wide key layouts can approach it.
const maxArity = math.MaxUint8

func (n *Node) encodeAttrs() ([]byte, error) {
	var buf bytes.Buffer
	switch n.Kind {
	case KindInput, KindOutput:
		binary.Write(&buf, binary.LittleEndian, n.Slot)
	case KindConst:
		binary.Write(&buf, binary.LittleEndian, math.Float64bits(n.Value))
		buf.WriteByte(uint8(n.Type))
	case KindOp:
		buf.WriteString(n.Op)
	case KindSymbol:
		binary.Write(&buf, binary.LittleEndian, n.SymbolID)
	case KindMappingLookup:
		binary.Write(&buf, binary.LittleEndian, n.MappingID)
		var flags uint8
		if n.HasDefault {
			flags |= mappingHasDefault
		}
		if n.Contains {
			flags |= mappingContains
		}
		buf.WriteByte(flags)
		binary.Write(&buf, binary.LittleEndian, n.Leaf)
	case KindResourceCall:
		binary.Write(&buf, binary.LittleEndian, n.ResourceID)
		binary.Write(&buf, binary.LittleEndian, n.Leaf)
		buf.WriteByte(uint8(n.Type))
		buf.WriteString(n.Method)
	case KindIndexedLookup:
		binary.Write(&buf, binary.LittleEndian, uint32(len(n.Table)))
		for _, v := range n.Table {
			binary.Write(&buf, binary.LittleEndian, math.Float64bits(v))
		}
	}
	if buf.Len() > maxAttrs {
		return nil, errors.Errorf("node attrs exceed %d bytes (%d); lookup table too large", maxAttrs, buf.Len())
	}
	return buf.Bytes(), nil
}

func (n *Node) decodeAttrs(data []byte) error {
	buf := bytes.NewReader(data)
	switch n.Kind {
	case KindInput, KindOutput:
		return binary.Read(buf, binary.LittleEndian, &n.Slot)
	case KindConst:
		var bits uint64
		if err := binary.Read(buf, binary.LittleEndian, &bits); err != nil {
			return err
		}
		n.Value = math.Float64frombits(bits)
		t, err := buf.ReadByte()
		if err != nil {
			return err
		}
		n.Type = Type(t)
	case KindOp:
		n.Op = string(data)
	case KindSymbol:
		return binary.Read(buf, binary.LittleEndian, &n.SymbolID)
	case KindMappingLookup:
		if err := binary.Read(buf, binary.LittleEndian, &n.MappingID); err != nil {
			return err
		}
		flags, err := buf.ReadByte()
		if err != nil {
			return err
		}
		n.HasDefault = flags&mappingHasDefault != 0
		n.Contains = flags&mappingContains != 0
		if err := binary.Read(buf, binary.LittleEndian, &n.Leaf); err != nil {
			return err
		}
	case KindResourceCall:
		if err := binary.Read(buf, binary.LittleEndian, &n.ResourceID); err != nil {
			return err
		}
		if err := binary.Read(buf, binary.LittleEndian, &n.Leaf); err != nil {
			return err
		}
		t, err := buf.ReadByte()
		if err != nil {
			return err
		}
		n.Type = Type(t)
		n.Method = string(data[9:])
	case KindIndexedLookup:
		var count uint32
		if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
			return err
		}
		if int(count)*8 != buf.Len() {
			return errors.Errorf("indexed lookup table truncated: %d entries, %d bytes left", count, buf.Len())
		}
		n.Table = make([]float64, count)
		for i := range n.Table {
			var bits uint64
			if err := binary.Read(buf, binary.LittleEndian, &bits); err != nil {
				return err
			}
			n.Table[i] = math.Float64frombits(bits)
		}
	default:
		return errors.Errorf("unknown node kind %d", n.Kind)
	}
	return nil
}
