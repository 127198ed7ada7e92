package layout

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		layout *Layout
		value  any
	}{
		{
			name:   "scalar",
			layout: Scalar(),
			value:  3.25,
		},
		{
			name:   "bool",
			layout: Bool(),
			value:  true,
		},
		{
			name:   "datetime",
			layout: DateTime("%Y-%m-%d %H:%M:%S"),
			value:  "2021-06-01 12:30:45",
		},
		{
			name:   "symbol",
			layout: Symbol(),
			value:  "blue",
		},
		{
			name: "nested",
			layout: StructOf(
				Field{"flag", Bool()},
				Field{"series", ListOf(Scalar(), 3)},
				Field{"pair", TupleOf(Symbol(), Scalar())},
			),
			value: map[string]any{
				"flag":   false,
				"series": []any{1.0, 2.0, 3.0},
				"pair":   []any{"red", -0.5},
			},
		},
		{
			name:   "unit",
			layout: Unit(),
			value:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym := NewSymbols()
			buf := NewBuffer(tt.layout.Size())
			if err := Encode(tt.layout, tt.value, sym, buf); err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			buf.Reset()
			got, err := Decode(tt.layout, sym, buf)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if diff := cmp.Diff(tt.value, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeSlotRepresentation(t *testing.T) {
	t.Parallel()
	l := TupleOf(Scalar(), Bool(), Symbol())
	sym := NewSymbols("a", "b")
	buf := NewBuffer(l.Size())
	if err := Encode(l, []any{1.5, true, "b"}, sym, buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	buf.Reset()
	if bits := math.Float64bits(buf.ReadFloat()); bits != math.Float64bits(1.5) {
		t.Errorf("scalar slot = %#x, want float bits of 1.5", bits)
	}
	if v := buf.ReadInt(); v != 1 {
		t.Errorf("bool slot = %d, want 1", v)
	}
	if v := buf.ReadInt(); v != 1 {
		t.Errorf("symbol slot = %d, want id 1", v)
	}
}

func TestEncodeAcceptsIntegersForScalar(t *testing.T) {
	t.Parallel()
	buf := NewBuffer(1)
	if err := Encode(Scalar(), 7, NewSymbols(), buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	buf.Reset()
	if got := buf.ReadFloat(); got != 7.0 {
		t.Errorf("ReadFloat() = %v, want 7.0", got)
	}
}

func TestEncodeErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		layout *Layout
		value  any
	}{
		{
			name:   "wrong scalar type",
			layout: Scalar(),
			value:  "3.0",
		},
		{
			name:   "missing struct field",
			layout: StructOf(Field{"x", Scalar()}, Field{"y", Scalar()}),
			value:  map[string]any{"x": 1.0},
		},
		{
			name:   "short list",
			layout: ListOf(Scalar(), 3),
			value:  []any{1.0, 2.0},
		},
		{
			name:   "tuple arity mismatch",
			layout: TupleOf(Scalar(), Bool()),
			value:  []any{1.0},
		},
		{
			name:   "unparseable datetime",
			layout: DateTime("%Y-%m-%d"),
			value:  "yesterday",
		},
		{
			name:   "unit with payload",
			layout: Unit(),
			value:  1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewBuffer(tt.layout.Size())
			if err := Encode(tt.layout, tt.value, NewSymbols(), buf); err == nil {
				t.Error("Encode() succeeded, want error")
			}
		})
	}
}

func TestEncodeSymbolInternsThroughView(t *testing.T) {
	t.Parallel()
	top := NewSymbols("known")
	v := top.View()
	buf := NewBuffer(2)
	l := ListOf(Symbol(), 2)
	if err := Encode(l, []any{"known", "novel"}, v, buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	buf.Reset()
	if id := buf.ReadInt(); id != 0 {
		t.Errorf("known symbol id = %d, want 0", id)
	}
	if id := buf.ReadInt(); id != 1 {
		t.Errorf("novel symbol id = %d, want 1", id)
	}
	if top.Len() != 1 {
		t.Errorf("shared table grew during encode: Len() = %d, want 1", top.Len())
	}
}

func TestDecodeUnknownSymbol(t *testing.T) {
	t.Parallel()
	buf := NewBuffer(1)
	buf.PushInt(42)
	buf.Reset()
	if _, err := Decode(Symbol(), NewSymbols(), buf); err == nil {
		t.Error("Decode() succeeded, want unknown symbol error")
	}
}

func TestEncodeDecodeJSON(t *testing.T) {
	t.Parallel()
	l := StructOf(Field{"x", Scalar()}, Field{"ok", Bool()})
	sym := NewSymbols()
	buf := NewBuffer(l.Size())
	if err := EncodeJSON(l, []byte(`{"x": 2.5, "ok": true}`), sym, buf); err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}

	buf.Reset()
	out, err := DecodeJSON(l, sym, buf)
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	want := `{"ok":true,"x":2.5}`
	if string(out) != want {
		t.Errorf("DecodeJSON() = %s, want %s", out, want)
	}
}

func TestDecodeJSONNonFinite(t *testing.T) {
	t.Parallel()
	buf := NewBuffer(1)
	buf.PushFloat(math.NaN())
	buf.Reset()
	out, err := DecodeJSON(Scalar(), NewSymbols(), buf)
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if string(out) != "null" {
		t.Errorf("DecodeJSON() = %s, want null", out)
	}
}

func TestDateTimeFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		format string
		text   string
		micros int64
	}{
		{
			name:   "date only",
			format: "%Y-%m-%d",
			text:   "1970-01-02",
			micros: 86400 * 1_000_000,
		},
		{
			name:   "iso with fraction",
			format: ISOFormat,
			text:   "1970-01-01T00:00:01.5",
			micros: 1_500_000,
		},
		{
			name:   "iso without fraction",
			format: ISOFormat,
			text:   "1970-01-01T00:00:02",
			micros: 2_000_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateTime(tt.text, tt.format)
			if err != nil {
				t.Fatalf("ParseDateTime() error = %v", err)
			}
			if got != tt.micros {
				t.Errorf("ParseDateTime() = %d, want %d", got, tt.micros)
			}

			back, err := FormatDateTime(tt.micros, tt.format)
			if err != nil {
				t.Fatalf("FormatDateTime() error = %v", err)
			}
			if back != tt.text {
				t.Errorf("FormatDateTime() = %q, want %q", back, tt.text)
			}
		})
	}
}

func TestGoTimeLayoutRejectsUnknownSpecifier(t *testing.T) {
	t.Parallel()
	if _, err := GoTimeLayout("%Q"); err == nil {
		t.Error("GoTimeLayout(%Q) succeeded, want error")
	}
	if _, err := GoTimeLayout("%"); err == nil {
		t.Error("GoTimeLayout(%) succeeded, want error")
	}
}
