package graph

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/layout"
)

// Mapping is an immutable key/value table compiled into the function. Keys
// are deduplicated and kept sorted by their serialized bytes, so compiled
// lookups are binary searches over a flat static array.
type Mapping struct {
	name        string
	keyLayout   *layout.Layout
	valueLayout *layout.Layout
	keys        []byte // len(keys) = count * keySize
	values      []byte // len(values) = count * valueSize
	count       int
}

// MappingEntry is one key/value pair for DeclareMapping, in the value
// representation accepted by layout.Encode.
type MappingEntry struct {
	Key   any
	Value any
}

// NewMapping builds a sorted table from entries. Duplicate keys keep the
// last entry. Symbols inside keys and values are interned through sym.
func NewMapping(name string, keyLayout, valueLayout *layout.Layout, entries []MappingEntry, sym layout.Sym) (*Mapping, error) {
	type pair struct {
		key, value []byte
	}
	pairs := make([]pair, 0, len(entries))
	for i, e := range entries {
		kb := layout.NewBuffer(keyLayout.Size())
		if err := layout.Encode(keyLayout, e.Key, sym, kb); err != nil {
			return nil, errors.Wrapf(err, "mapping %s entry %d key", name, i)
		}
		vb := layout.NewBuffer(valueLayout.Size())
		if err := layout.Encode(valueLayout, e.Value, sym, vb); err != nil {
			return nil, errors.Wrapf(err, "mapping %s entry %d value", name, i)
		}
		pairs = append(pairs, pair{key: kb.Bytes(), value: vb.Bytes()})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].key, pairs[j].key) < 0
	})

	m := &Mapping{name: name, keyLayout: keyLayout, valueLayout: valueLayout}
	for i, p := range pairs {
		if i+1 < len(pairs) && bytes.Equal(p.key, pairs[i+1].key) {
			continue // superseded by a later entry for the same key
		}
		m.keys = append(m.keys, p.key...)
		m.values = append(m.values, p.value...)
		m.count++
	}
	return m, nil
}

// Name returns the mapping's name.
func (m *Mapping) Name() string { return m.name }

// KeyLayout returns the key layout.
func (m *Mapping) KeyLayout() *layout.Layout { return m.keyLayout }

// ValueLayout returns the value layout.
func (m *Mapping) ValueLayout() *layout.Layout { return m.valueLayout }

// Len returns the number of entries.
func (m *Mapping) Len() int { return m.count }

// KeyBytes returns the packed, sorted key table.
func (m *Mapping) KeyBytes() []byte { return m.keys }

// ValueBytes returns the packed value table, aligned with KeyBytes.
func (m *Mapping) ValueBytes() []byte { return m.values }

// MemSize returns the estimated heap size of the table, in bytes.
func (m *Mapping) MemSize() int { return len(m.keys) + len(m.values) }

// Lookup binary-searches for the serialized key and returns the matching
// serialized value.
func (m *Mapping) Lookup(key []byte) ([]byte, bool) {
	keySize := m.keyLayout.SizeBytes()
	valueSize := m.valueLayout.SizeBytes()
	i := sort.Search(m.count, func(i int) bool {
		return bytes.Compare(m.keys[i*keySize:(i+1)*keySize], key) >= 0
	})
	if i < m.count && bytes.Equal(m.keys[i*keySize:(i+1)*keySize], key) {
		return m.values[i*valueSize : (i+1)*valueSize], true
	}
	return nil, false
}

// Dump serializes the table: count, key size, value size, then the packed
// keys and values, all little-endian.
func (m *Mapping) Dump() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(m.count))
	binary.Write(&buf, binary.LittleEndian, uint32(m.keyLayout.SizeBytes()))
	binary.Write(&buf, binary.LittleEndian, uint32(m.valueLayout.SizeBytes()))
	buf.Write(m.keys)
	buf.Write(m.values)
	return buf.Bytes()
}

// LoadMappingTable fills a mapping descriptor's table from its serialized
// form, validating the recorded sizes against the declared layouts.
func (m *Mapping) LoadMappingTable(data []byte) error {
	buf := bytes.NewReader(data)
	var count, keySize, valueSize uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return errors.Wrapf(ErrCorruptArtifact, "mapping %s: %v", m.name, err)
	}
	if err := binary.Read(buf, binary.LittleEndian, &keySize); err != nil {
		return errors.Wrapf(ErrCorruptArtifact, "mapping %s: %v", m.name, err)
	}
	if err := binary.Read(buf, binary.LittleEndian, &valueSize); err != nil {
		return errors.Wrapf(ErrCorruptArtifact, "mapping %s: %v", m.name, err)
	}
	if int(keySize) != m.keyLayout.SizeBytes() || int(valueSize) != m.valueLayout.SizeBytes() {
		return errors.Wrapf(ErrCorruptArtifact,
			"mapping %s: table sizes %d/%d do not match layouts %d/%d",
			m.name, keySize, valueSize, m.keyLayout.SizeBytes(), m.valueLayout.SizeBytes())
	}
	want := int(count) * int(keySize+valueSize)
	if buf.Len() != want {
		return errors.Wrapf(ErrCorruptArtifact, "mapping %s: %d table bytes, want %d", m.name, buf.Len(), want)
	}
	m.count = int(count)
	m.keys = make([]byte, int(count)*int(keySize))
	m.values = make([]byte, int(count)*int(valueSize))
	buf.Read(m.keys)
	buf.Read(m.values)
	return nil
}

// DeclareMapping builds a sorted table and registers it in the graph's
// catalog, returning its id.
func (g *Graph) DeclareMapping(name string, keyLayout, valueLayout *layout.Layout, entries []MappingEntry) (int, error) {
	if err := g.mutable(); err != nil {
		return 0, err
	}
	m, err := NewMapping(name, keyLayout, valueLayout, entries, g.symbols)
	if err != nil {
		return 0, err
	}
	g.mappings = append(g.mappings, m)
	return len(g.mappings) - 1, nil
}

func (g *Graph) mapping(id int) (*Mapping, error) {
	if id < 0 || id >= len(g.mappings) {
		return nil, errors.Wrapf(ErrUnknownMapping, "id %d of %d", id, len(g.mappings))
	}
	return g.mappings[id], nil
}

// checkMappingKey validates the key value against the mapping's key layout
// and returns the leaf refs.
func (g *Graph) checkMappingKey(m *Mapping, key Value) ([]Ref, error) {
	if !m.keyLayout.Equal(key.Layout()) {
		return nil, errors.Wrapf(ErrTypeMismatch, "mapping %s key is %v, want %v", m.name, key.Layout(), m.keyLayout)
	}
	for i, r := range key.refs {
		if _, err := g.node(r); err != nil {
			return nil, errors.Wrapf(err, "mapping %s key leaf %d", m.name, i)
		}
	}
	return key.refs, nil
}

// CallMapping looks key up in the mapping and fails the call with
// KeyNotFound when the key is absent.
func (g *Graph) CallMapping(id int, key Value) (Value, error) {
	return g.lookupMapping(id, key, nil)
}

// CallMappingDefault looks key up in the mapping, yielding dflt when the
// key is absent.
func (g *Graph) CallMappingDefault(id int, key Value, dflt Value) (Value, error) {
	return g.lookupMapping(id, key, &dflt)
}

func (g *Graph) lookupMapping(id int, key Value, dflt *Value) (Value, error) {
	if err := g.mutable(); err != nil {
		return Value{}, err
	}
	m, err := g.mapping(id)
	if err != nil {
		return Value{}, err
	}
	keyRefs, err := g.checkMappingKey(m, key)
	if err != nil {
		return Value{}, err
	}
	if dflt != nil && !m.valueLayout.Equal(dflt.Layout()) {
		return Value{}, errors.Wrapf(ErrTypeMismatch, "mapping %s default is %v, want %v", m.name, dflt.Layout(), m.valueLayout)
	}

	// One node per value leaf. The lowering pass shares the search across
	// leaves of the same lookup.
	slots := m.valueLayout.Slots()
	refs := make([]Ref, len(slots))
	for i, k := range slots {
		inputs := refsToInputs(keyRefs)
		hasDefault := dflt != nil
		if hasDefault {
			inputs = append(inputs, uint32(dflt.refs[i]))
		}
		refs[i] = g.push(Node{
			Kind:       KindMappingLookup,
			Type:       TypeOf(k),
			Inputs:     inputs,
			MappingID:  uint32(id),
			HasDefault: hasDefault,
			Leaf:       uint32(i),
		})
	}
	return Value{layout: m.valueLayout, refs: refs}, nil
}

// MappingContains pushes a boolean membership test for key.
func (g *Graph) MappingContains(id int, key Value) (Ref, error) {
	if err := g.mutable(); err != nil {
		return 0, err
	}
	m, err := g.mapping(id)
	if err != nil {
		return 0, err
	}
	keyRefs, err := g.checkMappingKey(m, key)
	if err != nil {
		return 0, err
	}
	return g.push(Node{
		Kind:      KindMappingLookup,
		Type:      TypeBool,
		Inputs:    refsToInputs(keyRefs),
		MappingID: uint32(id),
		Contains:  true,
	}), nil
}
