package ir

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRenderFunction(t *testing.T) {
	t.Parallel()

	m := NewModule()
	f := m.Func("run", true, Long,
		Param{Type: Long, Name: "in"},
		Param{Type: Long, Name: "out"})
	b := f.Start()

	x := f.NewTemp()
	b.Load(x, Double, Temp("in"))
	y := f.NewTemp()
	b.Assign(y, Double, "add", x, x)
	b.Store(Double, y, Temp("out"))
	b.Ret(Int(0))

	want := strings.Join([]string{
		"export function l $run(l %in, l %out) {",
		"@start",
		"\t%t1 =d loadd %in",
		"\t%t2 =d add %t1, %t1",
		"\tstored %t2, %out",
		"\tret 0",
		"}",
		"",
		"",
	}, "\n")
	if diff := cmp.Diff(want, m.String()); diff != "" {
		t.Errorf("rendered module mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		build func(*Module)
		want  string
	}{
		{
			name: "doubles as bit patterns",
			build: func(m *Module) {
				m.Data("consts", 8).Double(1.5).Double(math.NaN())
			},
			want: "data $consts = align 8 { l 4609434218613702656, l 9221120237041090561 }\n",
		},
		{
			name: "exported pointer table",
			build: func(m *Module) {
				m.Data("jyafn_manifest", 8).Export().Ref(Global("run"))
			},
			want: "export data $jyafn_manifest = align 8 { l $run }\n",
		},
		{
			name: "empty definition still reserves space",
			build: func(m *Module) {
				m.Data("m0_keys", 8)
			},
			want: "data $m0_keys = align 8 { z 8 }\n",
		},
		{
			name: "raw bytes",
			build: func(m *Module) {
				m.Data("blob", 8).Bytes([]byte{0, 1, 255})
			},
			want: "data $blob = align 8 { b 0 1 255 }\n",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewModule()
			tt.build(m)
			if got := m.String(); got != tt.want+"\n" {
				t.Errorf("rendered %q, want %q", got, tt.want+"\n")
			}
		})
	}
}

func TestRenderControlFlow(t *testing.T) {
	t.Parallel()

	m := NewModule()
	f := m.Func("pick", false, Double, Param{Type: Word, Name: "c"})
	start := f.Start()
	then := f.NewBlock("then")
	els := f.NewBlock("else")
	join := f.NewBlock("join")

	start.Jnz(Temp("c"), then.Label(), els.Label())
	then.Jmp(join.Label())
	els.Jmp(join.Label())
	out := f.NewTemp()
	join.Phi(out, Double,
		PhiArg{Label: then.Label(), Val: Int(1)},
		PhiArg{Label: els.Label(), Val: Int(2)})
	join.Ret(out)

	got := m.String()
	for _, want := range []string{
		"jnz %c, @then1, @else2",
		"@join3",
		"%t1 =d phi @then1 1, @else2 2",
		"ret %t1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered module missing %q:\n%s", want, got)
		}
	}
}

func TestRenderCall(t *testing.T) {
	t.Parallel()

	m := NewModule()
	f := m.Func("f", false, Double, Param{Type: Double, Name: "x"})
	b := f.Start()
	out := f.NewTemp()
	b.Call(out, Double, Global("pow"),
		Arg{Type: Double, Val: Temp("x")},
		Arg{Type: Double, Val: Temp("x")})
	fp := f.NewTemp()
	b.Assign(fp, Long, "copy", Int(4096))
	b.Call("", "", fp, Arg{Type: Long, Val: Int(0)})
	b.Ret(out)

	got := m.String()
	if !strings.Contains(got, "%t1 =d call $pow(d %x, d %x)") {
		t.Errorf("direct call missing:\n%s", got)
	}
	if !strings.Contains(got, "call %t2(l 0)") {
		t.Errorf("indirect call missing:\n%s", got)
	}
}
