package layout

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Encode serializes value against l into buf, pushing one slot per leaf in
// structural order. Symbols are interned through sym. The value uses the
// natural Go representation of decoded JSON: float64 (or any integer type)
// for scalars, bool for booleans, string for date-times and symbols,
// map[string]any for structs and []any for tuples and lists.
func Encode(l *Layout, value any, sym Sym, buf *Buffer) error {
	switch l.kind {
	case KindUnit:
		if value != nil {
			return errors.Errorf("expected unit, got %T", value)
		}
	case KindScalar:
		f, ok := asFloat(value)
		if !ok {
			return errors.Errorf("expected scalar, got %T", value)
		}
		buf.PushFloat(f)
	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return errors.Errorf("expected bool, got %T", value)
		}
		if b {
			buf.PushInt(1)
		} else {
			buf.PushInt(0)
		}
	case KindDateTime:
		s, ok := value.(string)
		if !ok {
			return errors.Errorf("expected datetime string, got %T", value)
		}
		micros, err := ParseDateTime(s, l.format)
		if err != nil {
			return err
		}
		buf.PushInt(micros)
	case KindSymbol:
		s, ok := value.(string)
		if !ok {
			return errors.Errorf("expected symbol string, got %T", value)
		}
		buf.PushInt(int64(sym.Find(s)))
	case KindStruct:
		m, ok := value.(map[string]any)
		if !ok {
			return errors.Errorf("expected struct, got %T", value)
		}
		for _, f := range l.fields {
			fv, present := m[f.Name]
			if !present {
				return errors.Errorf("missing field %q", f.Name)
			}
			if err := Encode(f.Layout, fv, sym, buf); err != nil {
				return errors.Wrapf(err, "field %q", f.Name)
			}
		}
	case KindTuple:
		vs, ok := value.([]any)
		if !ok {
			return errors.Errorf("expected tuple, got %T", value)
		}
		if len(vs) != len(l.elems) {
			return errors.Errorf("expected tuple of %d elements, got %d", len(l.elems), len(vs))
		}
		for i, e := range l.elems {
			if err := Encode(e, vs[i], sym, buf); err != nil {
				return errors.Wrapf(err, "tuple element %d", i)
			}
		}
	case KindList:
		vs, ok := value.([]any)
		if !ok {
			return errors.Errorf("expected list, got %T", value)
		}
		if len(vs) != l.length {
			return errors.Errorf("expected list of length %d, got %d", l.length, len(vs))
		}
		for i, v := range vs {
			if err := Encode(l.elem, v, sym, buf); err != nil {
				return errors.Wrapf(err, "list element %d", i)
			}
		}
	default:
		return errors.Errorf("cannot encode layout kind %v", l.kind)
	}
	return nil
}

// EncodeJSON decodes raw JSON and serializes it against l. Numbers are read
// as float64, matching the scalar representation.
func EncodeJSON(l *Layout, raw []byte, sym Sym, buf *Buffer) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return errors.Wrap(err, "decoding input JSON")
	}
	return Encode(l, value, sym, buf)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
