package layout

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// Decode reads one value shaped by l from buf, consuming one slot per leaf
// in structural order. Symbol ids are resolved through sym. The result
// mirrors the representation accepted by Encode, except that scalars holding
// non-finite values come back as math.NaN or infinities, which do not
// survive a JSON round trip.
func Decode(l *Layout, sym Sym, buf *Buffer) (any, error) {
	switch l.kind {
	case KindUnit:
		return nil, nil
	case KindScalar:
		return buf.ReadFloat(), nil
	case KindBool:
		return buf.ReadInt() != 0, nil
	case KindDateTime:
		return FormatDateTime(buf.ReadInt(), l.format)
	case KindSymbol:
		id := uint64(buf.ReadInt())
		name, ok := sym.Get(id)
		if !ok {
			return nil, errors.Errorf("unknown symbol id %d", id)
		}
		return name, nil
	case KindStruct:
		m := make(map[string]any, len(l.fields))
		for _, f := range l.fields {
			fv, err := Decode(f.Layout, sym, buf)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", f.Name)
			}
			m[f.Name] = fv
		}
		return m, nil
	case KindTuple:
		vs := make([]any, len(l.elems))
		for i, e := range l.elems {
			v, err := Decode(e, sym, buf)
			if err != nil {
				return nil, errors.Wrapf(err, "tuple element %d", i)
			}
			vs[i] = v
		}
		return vs, nil
	case KindList:
		vs := make([]any, l.length)
		for i := range vs {
			v, err := Decode(l.elem, sym, buf)
			if err != nil {
				return nil, errors.Wrapf(err, "list element %d", i)
			}
			vs[i] = v
		}
		return vs, nil
	}
	return nil, errors.Errorf("cannot decode layout kind %v", l.kind)
}

// DecodeJSON reads one value shaped by l from buf and renders it as JSON.
// Non-finite scalars are rendered as null, since JSON has no spelling for
// them.
func DecodeJSON(l *Layout, sym Sym, buf *Buffer) ([]byte, error) {
	value, err := Decode(l, sym, buf)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sanitize(value))
}

func sanitize(value any) any {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
	case map[string]any:
		for k, fv := range v {
			v[k] = sanitize(fv)
		}
	case []any:
		for i, fv := range v {
			v[i] = sanitize(fv)
		}
	}
	return value
}
