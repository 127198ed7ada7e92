package graph

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/layout"
)

// Artifact constants. The flags byte records endianness; only little-endian
// artifacts exist today.
const (
	artifactMagic   = "JYFN"
	artifactVersion = 1
	flagsLE         = 0
)

// Metadata keys stamped at dump time.
const (
	// MetaFingerprint is the xxhash64 of the serialized graph, hex encoded.
	MetaFingerprint = "jyafn.fingerprint"
	// MetaMemSize is the estimated heap size of the loaded graph, in bytes.
	MetaMemSize = "jyafn.mem_size_estimate"
)

// Dump serializes the graph into a portable zip artifact: graph.bin with
// the full model, one table per mapping, one blob per resource, and a
// metadata.json for external inspection.
func (g *Graph) Dump() ([]byte, error) {
	// The fingerprint covers the graph serialized without the stamped keys,
	// so dumping is stable under re-dump.
	meta := make(map[string]string, len(g.metadata)+2)
	for k, v := range g.metadata {
		if k == MetaFingerprint || k == MetaMemSize {
			continue
		}
		meta[k] = v
	}
	bin, err := g.encodeBin(meta)
	if err != nil {
		return nil, err
	}
	meta[MetaFingerprint] = fmt.Sprintf("%016x", xxhash.Sum64(bin))
	meta[MetaMemSize] = strconv.Itoa(g.MemSize())
	if bin, err = g.encodeBin(meta); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	write := func(name string, data []byte) error {
		w, err := zw.Create(name)
		if err != nil {
			return errors.Wrapf(err, "creating %s", name)
		}
		_, err = w.Write(data)
		return errors.Wrapf(err, "writing %s", name)
	}

	if err := write("graph.bin", bin); err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "encoding metadata")
	}
	if err := write("metadata.json", metaJSON); err != nil {
		return nil, err
	}
	for id, m := range g.mappings {
		if err := write(fmt.Sprintf("mappings/%d.bin", id), m.Dump()); err != nil {
			return nil, err
		}
	}
	for id, r := range g.resources {
		blob, err := r.Dump()
		if err != nil {
			return nil, errors.Wrapf(err, "dumping resource %q", r.name)
		}
		if err := write(fmt.Sprintf("resources/%d.bin", id), blob); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "finishing artifact")
	}
	return out.Bytes(), nil
}

func writeBlock(buf *bytes.Buffer, data []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
}

func writeShortString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

// encodeBin serializes graph.bin with the given metadata map.
func (g *Graph) encodeBin(meta map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(artifactMagic)
	buf.WriteByte(artifactVersion)
	buf.WriteByte(flagsLE)
	writeShortString(&buf, g.name)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "encoding metadata")
	}
	writeBlock(&buf, metaJSON)

	var symbols bytes.Buffer
	names := g.symbols.Names()
	binary.Write(&symbols, binary.LittleEndian, uint32(len(names)))
	for _, name := range names {
		writeBlock(&symbols, []byte(name))
	}
	writeBlock(&buf, symbols.Bytes())

	inJSON, err := json.Marshal(g.InputLayout())
	if err != nil {
		return nil, errors.Wrap(err, "encoding input layout")
	}
	writeBlock(&buf, inJSON)
	outJSON, err := json.Marshal(g.OutputLayout())
	if err != nil {
		return nil, errors.Wrap(err, "encoding output layout")
	}
	writeBlock(&buf, outJSON)

	binary.Write(&buf, binary.LittleEndian, uint32(len(g.mappings)))
	for _, m := range g.mappings {
		writeShortString(&buf, m.name)
		kl, err := json.Marshal(m.keyLayout)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding mapping %q key layout", m.name)
		}
		writeBlock(&buf, kl)
		vl, err := json.Marshal(m.valueLayout)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding mapping %q value layout", m.name)
		}
		writeBlock(&buf, vl)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(g.resources)))
	for _, r := range g.resources {
		writeShortString(&buf, r.name)
		writeShortString(&buf, r.extensionName)
		writeShortString(&buf, r.typeName)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(g.nodes)))
	for i := range g.nodes {
		n := &g.nodes[i]
		if len(n.Inputs) > maxArity {
			return nil, errors.Errorf("node %d has %d inputs, limit is %d; key layout too wide", i, len(n.Inputs), maxArity)
		}
		attrs, err := n.encodeAttrs()
		if err != nil {
			return nil, errors.Wrapf(err, "node %d", i)
		}
		buf.WriteByte(uint8(n.Kind))
		buf.WriteByte(uint8(len(n.Inputs)))
		for _, in := range n.Inputs {
			binary.Write(&buf, binary.LittleEndian, in)
		}
		binary.Write(&buf, binary.LittleEndian, uint16(len(attrs)))
		buf.Write(attrs)
	}

	return buf.Bytes(), nil
}

type binReader struct {
	buf *bytes.Reader
	err error
}

func (r *binReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	b, err := r.buf.ReadByte()
	r.err = err
	return b
}

func (r *binReader) u16() uint16 {
	var v uint16
	if r.err == nil {
		r.err = binary.Read(r.buf, binary.LittleEndian, &v)
	}
	return v
}

func (r *binReader) u32() uint32 {
	var v uint32
	if r.err == nil {
		r.err = binary.Read(r.buf, binary.LittleEndian, &v)
	}
	return v
}

func (r *binReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.buf.Len() {
		r.err = errors.Errorf("%d bytes requested, %d left", n, r.buf.Len())
		return nil
	}
	out := make([]byte, n)
	io.ReadFull(r.buf, out)
	return out
}

func (r *binReader) block() []byte { return r.bytes(int(r.u32())) }

func (r *binReader) shortString() string { return string(r.bytes(int(r.u16()))) }

// Load deserializes an artifact. With initialize false, mapping tables and
// resources are left unmaterialized for cheap inspection; such a graph
// cannot be compiled.
func Load(data []byte, initialize bool) (*Graph, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptArtifact, "opening zip: %v", err)
	}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}
	read := func(name string) ([]byte, error) {
		f, ok := entries[name]
		if !ok {
			return nil, errors.Wrapf(ErrCorruptArtifact, "missing entry %s", name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptArtifact, "opening %s: %v", name, err)
		}
		defer rc.Close()
		out, err := io.ReadAll(rc)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptArtifact, "reading %s: %v", name, err)
		}
		return out, nil
	}

	bin, err := read("graph.bin")
	if err != nil {
		return nil, err
	}
	g, err := decodeBin(bin)
	if err != nil {
		return nil, err
	}

	if initialize {
		for id, m := range g.mappings {
			table, err := read(fmt.Sprintf("mappings/%d.bin", id))
			if err != nil {
				return nil, err
			}
			if err := m.LoadMappingTable(table); err != nil {
				return nil, err
			}
		}
		for id, r := range g.resources {
			blob, err := read(fmt.Sprintf("resources/%d.bin", id))
			if err != nil {
				return nil, err
			}
			r.blob = blob
			if err := r.Materialize(); err != nil {
				return nil, err
			}
		}
	}

	g.sealed = true
	g.initialized = initialize
	return g, nil
}

func decodeBin(data []byte) (*Graph, error) {
	r := &binReader{buf: bytes.NewReader(data)}
	if string(r.bytes(4)) != artifactMagic {
		return nil, errors.Wrap(ErrCorruptArtifact, "bad magic")
	}
	if v := r.u8(); v != artifactVersion {
		return nil, errors.Wrapf(ErrVersionMismatch, "artifact version %d, supported %d", v, artifactVersion)
	}
	if f := r.u8(); f != flagsLE {
		return nil, errors.Wrapf(ErrCorruptArtifact, "unsupported flags %#x", f)
	}

	g := New()
	g.name = r.shortString()

	if err := json.Unmarshal(r.block(), &g.metadata); err != nil && r.err == nil {
		return nil, errors.Wrapf(ErrCorruptArtifact, "metadata: %v", err)
	}

	symbols := &binReader{buf: bytes.NewReader(r.block())}
	count := symbols.u32()
	names := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		names = append(names, string(symbols.block()))
	}
	if symbols.err != nil {
		return nil, errors.Wrapf(ErrCorruptArtifact, "symbol table: %v", symbols.err)
	}
	g.symbols = layout.NewSymbols(names...)

	inputLayout := new(layout.Layout)
	if err := json.Unmarshal(r.block(), inputLayout); err != nil && r.err == nil {
		return nil, errors.Wrapf(ErrCorruptArtifact, "input layout: %v", err)
	}
	if inputLayout.Kind() != layout.KindStruct {
		return nil, errors.Wrapf(ErrCorruptArtifact, "input layout is %v, want struct", inputLayout.Kind())
	}
	g.inputFields = inputLayout.Fields()
	g.inputSlots = inputLayout.Size()

	outputLayout := new(layout.Layout)
	if err := json.Unmarshal(r.block(), outputLayout); err != nil && r.err == nil {
		return nil, errors.Wrapf(ErrCorruptArtifact, "output layout: %v", err)
	}
	g.outputLayout = outputLayout

	mappingCount := r.u32()
	for i := uint32(0); i < mappingCount; i++ {
		m := &Mapping{name: r.shortString()}
		m.keyLayout = new(layout.Layout)
		if err := json.Unmarshal(r.block(), m.keyLayout); err != nil && r.err == nil {
			return nil, errors.Wrapf(ErrCorruptArtifact, "mapping %d key layout: %v", i, err)
		}
		m.valueLayout = new(layout.Layout)
		if err := json.Unmarshal(r.block(), m.valueLayout); err != nil && r.err == nil {
			return nil, errors.Wrapf(ErrCorruptArtifact, "mapping %d value layout: %v", i, err)
		}
		g.mappings = append(g.mappings, m)
	}

	resourceCount := r.u32()
	for i := uint32(0); i < resourceCount; i++ {
		g.resources = append(g.resources, &Resource{
			name:          r.shortString(),
			extensionName: r.shortString(),
			typeName:      r.shortString(),
		})
	}

	nodeCount := r.u32()
	for i := uint32(0); i < nodeCount; i++ {
		n := Node{Kind: NodeKind(r.u8())}
		if arity := int(r.u8()); arity > 0 {
			n.Inputs = make([]uint32, arity)
			for j := range n.Inputs {
				n.Inputs[j] = r.u32()
			}
		}
		attrs := r.bytes(int(r.u16()))
		if r.err != nil {
			break
		}
		if err := n.decodeAttrs(attrs); err != nil {
			return nil, errors.Wrapf(ErrCorruptArtifact, "node %d: %v", i, err)
		}
		g.nodes = append(g.nodes, n)
	}
	if r.err != nil {
		return nil, errors.Wrapf(ErrCorruptArtifact, "truncated graph.bin: %v", r.err)
	}

	if err := g.retype(); err != nil {
		return nil, err
	}
	if err := g.Check(); err != nil {
		return nil, errors.Wrapf(ErrCorruptArtifact, "invalid graph: %v", err)
	}
	return g, nil
}

// retype recomputes node types after deserialization. Const and resource
// call types travel in the attrs; everything else derives from layouts and
// the catalog.
func (g *Graph) retype() error {
	inputSlots := g.InputLayout().Slots()
	for i := range g.nodes {
		n := &g.nodes[i]
		switch n.Kind {
		case KindInput:
			if int(n.Slot) >= len(inputSlots) {
				return errors.Wrapf(ErrCorruptArtifact, "node %d reads input slot %d of %d", i, n.Slot, len(inputSlots))
			}
			n.Type = TypeOf(inputSlots[n.Slot])
		case KindOp:
			def, ok := LookupOp(n.Op)
			if !ok {
				return errors.Wrapf(ErrCorruptArtifact, "node %d: unknown op %q", i, n.Op)
			}
			if def.Generic {
				if len(n.Inputs) != 3 || int(n.Inputs[1]) >= i {
					return errors.Wrapf(ErrCorruptArtifact, "node %d: malformed %q", i, n.Op)
				}
				n.Type = g.nodes[n.Inputs[1]].Type
			} else {
				n.Type = def.Out
			}
		case KindSymbol:
			n.Type = TypeSymbol
		case KindMappingLookup:
			m, err := g.mapping(int(n.MappingID))
			if err != nil {
				return errors.Wrapf(ErrCorruptArtifact, "node %d: %v", i, err)
			}
			if n.Contains {
				n.Type = TypeBool
			} else {
				slots := m.valueLayout.Slots()
				if int(n.Leaf) >= len(slots) {
					return errors.Wrapf(ErrCorruptArtifact, "node %d reads value leaf %d of %d", i, n.Leaf, len(slots))
				}
				n.Type = TypeOf(slots[n.Leaf])
			}
		case KindIndexedLookup:
			n.Type = TypeFloat
		}
	}
	return nil
}
