package layout

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// The JSON form of a layout is self-describing and order-preserving:
//
//	"unit" | "scalar" | "bool" | "symbol"
//	{"datetime": "<format>"}
//	{"struct": [{"name": "<n>", "layout": <layout>}, ...]}
//	{"tuple": [<layout>, ...]}
//	{"list": {"of": <layout>, "len": <n>}}

type jsonField struct {
	Name   string          `json:"name"`
	Layout json.RawMessage `json:"layout"`
}

type jsonList struct {
	Of  json.RawMessage `json:"of"`
	Len int             `json:"len"`
}

// MarshalJSON implements json.Marshaler.
func (l *Layout) MarshalJSON() ([]byte, error) {
	switch l.kind {
	case KindUnit, KindScalar, KindBool, KindSymbol:
		return json.Marshal(l.kind.String())
	case KindDateTime:
		return json.Marshal(map[string]string{"datetime": l.format})
	case KindStruct:
		fields := make([]json.RawMessage, len(l.fields))
		for i, f := range l.fields {
			inner, err := json.Marshal(f.Layout)
			if err != nil {
				return nil, err
			}
			raw, err := json.Marshal(jsonField{Name: f.Name, Layout: inner})
			if err != nil {
				return nil, err
			}
			fields[i] = raw
		}
		return json.Marshal(map[string][]json.RawMessage{"struct": fields})
	case KindTuple:
		return json.Marshal(map[string][]*Layout{"tuple": l.elems})
	case KindList:
		inner, err := json.Marshal(l.elem)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]jsonList{"list": {Of: inner, Len: l.length}})
	}
	return nil, fmt.Errorf("cannot marshal layout kind %v", l.kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Layout) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "unit":
			*l = Layout{kind: KindUnit}
		case "scalar":
			*l = Layout{kind: KindScalar}
		case "bool":
			*l = Layout{kind: KindBool}
		case "symbol":
			*l = Layout{kind: KindSymbol}
		default:
			return errors.Errorf("unknown layout %q", name)
		}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "decoding layout")
	}
	if len(obj) != 1 {
		return errors.Errorf("layout object must have exactly one key, got %d", len(obj))
	}

	for key, raw := range obj {
		switch key {
		case "datetime":
			var format string
			if err := json.Unmarshal(raw, &format); err != nil {
				return errors.Wrap(err, "decoding datetime format")
			}
			*l = Layout{kind: KindDateTime, format: format}
		case "struct":
			var fields []jsonField
			if err := json.Unmarshal(raw, &fields); err != nil {
				return errors.Wrap(err, "decoding struct fields")
			}
			built := make([]Field, len(fields))
			for i, f := range fields {
				inner := new(Layout)
				if err := json.Unmarshal(f.Layout, inner); err != nil {
					return errors.Wrapf(err, "decoding struct field %q", f.Name)
				}
				built[i] = Field{Name: f.Name, Layout: inner}
			}
			*l = Layout{kind: KindStruct, fields: built}
		case "tuple":
			var elems []*Layout
			if err := json.Unmarshal(raw, &elems); err != nil {
				return errors.Wrap(err, "decoding tuple")
			}
			*l = Layout{kind: KindTuple, elems: elems}
		case "list":
			var list jsonList
			if err := json.Unmarshal(raw, &list); err != nil {
				return errors.Wrap(err, "decoding list")
			}
			elem := new(Layout)
			if err := json.Unmarshal(list.Of, elem); err != nil {
				return errors.Wrap(err, "decoding list element")
			}
			if list.Len < 0 {
				return errors.Errorf("negative list length %d", list.Len)
			}
			*l = Layout{kind: KindList, elem: elem, length: list.Len}
		default:
			return errors.Errorf("unknown layout key %q", key)
		}
	}

	return nil
}
