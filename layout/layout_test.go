package layout

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLayoutSize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		layout *Layout
		want   int
	}{
		{
			name:   "unit",
			layout: Unit(),
			want:   0,
		},
		{
			name:   "scalar",
			layout: Scalar(),
			want:   1,
		},
		{
			name:   "struct of leaves",
			layout: StructOf(Field{"a", Scalar()}, Field{"b", Bool()}, Field{"c", Symbol()}),
			want:   3,
		},
		{
			name:   "list of structs",
			layout: ListOf(StructOf(Field{"x", Scalar()}, Field{"y", Scalar()}), 4),
			want:   8,
		},
		{
			name:   "empty list",
			layout: ListOf(Scalar(), 0),
			want:   0,
		},
		{
			name:   "tuple with unit member",
			layout: TupleOf(Scalar(), Unit(), ISODateTime()),
			want:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.layout.Size(); got != tt.want {
				t.Errorf("Size() = %d, want %d", got, tt.want)
			}
			if got := tt.layout.SizeBytes(); got != tt.want*SlotSize {
				t.Errorf("SizeBytes() = %d, want %d", got, tt.want*SlotSize)
			}
			if got := len(tt.layout.Slots()); got != tt.want {
				t.Errorf("len(Slots()) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLayoutSlots(t *testing.T) {
	t.Parallel()
	l := StructOf(
		Field{"a", Scalar()},
		Field{"b", ListOf(Bool(), 2)},
		Field{"c", TupleOf(Symbol(), ISODateTime())},
	)
	want := []Kind{KindScalar, KindBool, KindBool, KindSymbol, KindDateTime}
	if diff := cmp.Diff(want, l.Slots()); diff != "" {
		t.Errorf("Slots() mismatch (-want +got):\n%s", diff)
	}
}

func TestLayoutEqual(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b *Layout
		want bool
	}{
		{
			name: "same structs",
			a:    StructOf(Field{"x", Scalar()}, Field{"y", Bool()}),
			b:    StructOf(Field{"x", Scalar()}, Field{"y", Bool()}),
			want: true,
		},
		{
			name: "field order matters",
			a:    StructOf(Field{"x", Scalar()}, Field{"y", Bool()}),
			b:    StructOf(Field{"y", Bool()}, Field{"x", Scalar()}),
			want: false,
		},
		{
			name: "datetime formats differ",
			a:    DateTime("%Y-%m-%d"),
			b:    ISODateTime(),
			want: false,
		},
		{
			name: "list lengths differ",
			a:    ListOf(Scalar(), 3),
			b:    ListOf(Scalar(), 4),
			want: false,
		},
		{
			name: "tuple vs struct",
			a:    TupleOf(Scalar()),
			b:    StructOf(Field{"0", Scalar()}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Errorf("Equal() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLayoutIsSuperset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		super    *Layout
		sub      *Layout
		want     bool
		wantSymm bool // whether the reverse direction also holds
	}{
		{
			name:     "reflexive",
			super:    StructOf(Field{"x", Scalar()}),
			sub:      StructOf(Field{"x", Scalar()}),
			want:     true,
			wantSymm: true,
		},
		{
			name:     "extra fields on super",
			super:    StructOf(Field{"x", Scalar()}, Field{"y", Bool()}),
			sub:      StructOf(Field{"y", Bool()}),
			want:     true,
			wantSymm: false,
		},
		{
			name:     "field order irrelevant",
			super:    StructOf(Field{"x", Scalar()}, Field{"y", Bool()}),
			sub:      StructOf(Field{"y", Bool()}, Field{"x", Scalar()}),
			want:     true,
			wantSymm: true,
		},
		{
			name:     "nested struct widening",
			super:    ListOf(StructOf(Field{"a", Scalar()}, Field{"b", Scalar()}), 2),
			sub:      ListOf(StructOf(Field{"a", Scalar()}), 2),
			want:     true,
			wantSymm: false,
		},
		{
			name:     "list length must match",
			super:    ListOf(Scalar(), 3),
			sub:      ListOf(Scalar(), 2),
			want:     false,
			wantSymm: false,
		},
		{
			name:     "leaf kinds must match exactly",
			super:    Scalar(),
			sub:      Bool(),
			want:     false,
			wantSymm: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.super.IsSuperset(tt.sub); got != tt.want {
				t.Errorf("IsSuperset() = %v, want %v", got, tt.want)
			}
			if got := tt.sub.IsSuperset(tt.super); got != tt.wantSymm {
				t.Errorf("IsSuperset() reversed = %v, want %v", got, tt.wantSymm)
			}
		})
	}
}

func TestLayoutString(t *testing.T) {
	t.Parallel()
	l := StructOf(
		Field{"x", Scalar()},
		Field{"d", DateTime("%Y-%m-%d")},
		Field{"v", ListOf(Scalar(), 3)},
	)
	want := `{ x: scalar, d: datetime "%Y-%m-%d", v: [3] }`
	if got := l.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	if got := ISODateTime().String(); got != "datetime" {
		t.Errorf("ISODateTime().String() = %q, want %q", got, "datetime")
	}
}

func TestLayoutJSONRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		layout *Layout
	}{
		{"unit", Unit()},
		{"scalar", Scalar()},
		{"datetime", DateTime("%Y-%m-%d %H:%M:%S")},
		{
			"nested",
			StructOf(
				Field{"who", Symbol()},
				Field{"when", ISODateTime()},
				Field{"series", ListOf(TupleOf(Scalar(), Bool()), 5)},
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.layout)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			back := new(Layout)
			if err := json.Unmarshal(raw, back); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", raw, err)
			}
			if !tt.layout.Equal(back) {
				t.Errorf("round trip mismatch: %v -> %s -> %v", tt.layout, raw, back)
			}
		})
	}
}

func TestLayoutJSONRejectsMalformed(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		`"float"`,
		`{"struct": [{"name": "x"}], "tuple": []}`,
		`{"list": {"of": "scalar", "len": -1}}`,
		`{"frobnicate": true}`,
	} {
		l := new(Layout)
		if err := json.Unmarshal([]byte(raw), l); err == nil {
			t.Errorf("Unmarshal(%s) succeeded, want error", raw)
		}
	}
}
