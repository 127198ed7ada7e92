package graph

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type nodeJSON struct {
	ID     int       `json:"id"`
	Kind   string    `json:"kind"`
	Type   string    `json:"type,omitempty"`
	Inputs []uint32  `json:"inputs,omitempty"`
	Slot   *uint32   `json:"slot,omitempty"`
	Value  *float64  `json:"value,omitempty"`
	Op     string    `json:"op,omitempty"`
	Symbol string    `json:"symbol,omitempty"`
	Target string    `json:"target,omitempty"`
	Method string    `json:"method,omitempty"`
	Leaf   *uint32   `json:"leaf,omitempty"`
	Table  []float64 `json:"table,omitempty"`
}

type mappingJSON struct {
	Name        string          `json:"name"`
	KeyLayout   json.RawMessage `json:"key_layout"`
	ValueLayout json.RawMessage `json:"value_layout"`
	Len         int             `json:"len"`
}

type resourceJSON struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Type      string `json:"type"`
}

type graphJSON struct {
	Name         string            `json:"name"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	InputLayout  json.RawMessage   `json:"input_layout"`
	OutputLayout json.RawMessage   `json:"output_layout"`
	Symbols      []string          `json:"symbols,omitempty"`
	Mappings     []mappingJSON     `json:"mappings,omitempty"`
	Resources    []resourceJSON    `json:"resources,omitempty"`
	Nodes        []nodeJSON        `json:"nodes"`
}

// ToJSON renders the whole graph as indented JSON, for inspection and
// debugging. The output is not an interchange format; use Dump for that.
func (g *Graph) ToJSON() ([]byte, error) {
	out := graphJSON{
		Name:     g.name,
		Metadata: g.metadata,
		Symbols:  g.symbols.Names(),
	}
	var err error
	if out.InputLayout, err = json.Marshal(g.InputLayout()); err != nil {
		return nil, errors.Wrap(err, "encoding input layout")
	}
	if out.OutputLayout, err = json.Marshal(g.OutputLayout()); err != nil {
		return nil, errors.Wrap(err, "encoding output layout")
	}

	for _, m := range g.mappings {
		mj := mappingJSON{Name: m.name, Len: m.count}
		if mj.KeyLayout, err = json.Marshal(m.keyLayout); err != nil {
			return nil, errors.Wrapf(err, "encoding mapping %q", m.name)
		}
		if mj.ValueLayout, err = json.Marshal(m.valueLayout); err != nil {
			return nil, errors.Wrapf(err, "encoding mapping %q", m.name)
		}
		out.Mappings = append(out.Mappings, mj)
	}
	for _, r := range g.resources {
		out.Resources = append(out.Resources, resourceJSON{
			Name:      r.name,
			Extension: r.extensionName,
			Type:      r.typeName,
		})
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		nj := nodeJSON{ID: i, Kind: n.Kind.String(), Inputs: n.Inputs}
		if n.Kind != KindOutput {
			nj.Type = n.Type.String()
		}
		switch n.Kind {
		case KindInput, KindOutput:
			slot := n.Slot
			nj.Slot = &slot
		case KindConst:
			value := n.Value
			nj.Value = &value
		case KindOp:
			nj.Op = n.Op
		case KindSymbol:
			if name, ok := g.symbols.Get(n.SymbolID); ok {
				nj.Symbol = name
			}
		case KindMappingLookup:
			if m, err := g.mapping(int(n.MappingID)); err == nil {
				nj.Target = m.name
			}
			if !n.Contains {
				leaf := n.Leaf
				nj.Leaf = &leaf
			}
		case KindResourceCall:
			if r, err := g.resource(int(n.ResourceID)); err == nil {
				nj.Target = r.name
			}
			nj.Method = n.Method
			leaf := n.Leaf
			nj.Leaf = &leaf
		case KindIndexedLookup:
			nj.Table = n.Table
		}
		out.Nodes = append(out.Nodes, nj)
	}

	return json.MarshalIndent(out, "", "  ")
}
