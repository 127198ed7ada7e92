package graph

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/layout"
)

// buildSample assembles a graph exercising every serializable construct
// except resources, which need a live extension.
func buildSample(t *testing.T) *Graph {
	t.Helper()

	g := New()
	g.Rename("sample")
	g.SetMetadata("author", "tests")

	id, err := g.DeclareMapping("scores", layout.Symbol(), layout.Scalar(), []MappingEntry{
		{Key: "br", Value: 55.0},
		{Key: "de", Value: 49.0},
	})
	if err != nil {
		t.Fatalf("DeclareMapping: %v", err)
	}

	country := g.Input("country", layout.Symbol())
	x := g.Input("x", layout.Scalar())

	score, err := g.CallMappingDefault(id, country, ScalarValue(g.Const(0)))
	if err != nil {
		t.Fatalf("CallMappingDefault: %v", err)
	}
	known, err := g.MappingContains(id, country)
	if err != nil {
		t.Fatalf("MappingContains: %v", err)
	}
	boosted := mustOp(t, g, "add", score.Ref(), x.Ref())
	picked := mustOp(t, g, "choose", known, boosted, x.Ref())
	if _, err := g.Assert(mustOp(t, g, "is_nan", picked), "placeholder"); err != nil {
		t.Fatalf("Assert: %v", err)
	}
	looked, err := g.IndexedLookup([]float64{1, 2, 3}, x.Ref())
	if err != nil {
		t.Fatalf("IndexedLookup: %v", err)
	}

	out := StructValue(
		NamedValue{Name: "picked", Value: ScalarValue(picked)},
		NamedValue{Name: "looked", Value: ScalarValue(looked)},
	)
	if err := g.Output(out, out.Layout()); err != nil {
		t.Fatalf("Output: %v", err)
	}
	if err := g.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return g
}

func TestArtifactRoundTrip(t *testing.T) {
	t.Parallel()

	g := buildSample(t)
	data, err := g.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	loaded, err := Load(data, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Name() != g.Name() {
		t.Errorf("name = %q, want %q", loaded.Name(), g.Name())
	}
	if !loaded.Sealed() {
		t.Errorf("loaded graph is not sealed")
	}
	if loaded.Metadata()["author"] != "tests" {
		t.Errorf("metadata lost: %v", loaded.Metadata())
	}
	if loaded.Metadata()[MetaFingerprint] == "" {
		t.Errorf("fingerprint not stamped")
	}
	if !loaded.InputLayout().Equal(g.InputLayout()) {
		t.Errorf("input layout = %v, want %v", loaded.InputLayout(), g.InputLayout())
	}
	if !loaded.OutputLayout().Equal(g.OutputLayout()) {
		t.Errorf("output layout = %v, want %v", loaded.OutputLayout(), g.OutputLayout())
	}
	if diff := cmp.Diff(g.Symbols().Names(), loaded.Symbols().Names()); diff != "" {
		t.Errorf("symbols mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(g.Nodes(), loaded.Nodes()); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	if got, want := loaded.Mappings()[0].KeyBytes(), g.Mappings()[0].KeyBytes(); !bytes.Equal(got, want) {
		t.Errorf("mapping keys differ after round trip")
	}
}

func TestArtifactFingerprintStable(t *testing.T) {
	t.Parallel()

	g := buildSample(t)
	first, err := g.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	loaded, err := Load(first, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := loaded.Dump()
	if err != nil {
		t.Fatalf("re-Dump: %v", err)
	}
	re, err := Load(second, true)
	if err != nil {
		t.Fatalf("re-Load: %v", err)
	}
	if a, b := loaded.Metadata()[MetaFingerprint], re.Metadata()[MetaFingerprint]; a != b {
		t.Errorf("fingerprint drifted across re-dump: %s then %s", a, b)
	}
}

func TestLoadWithoutInitialize(t *testing.T) {
	t.Parallel()

	g := buildSample(t)
	data, err := g.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	loaded, err := Load(data, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Mappings()[0].Len() != 0 {
		t.Errorf("uninitialized load hydrated the mapping table")
	}
	if loaded.Initialized() {
		t.Errorf("uninitialized load reports itself initialized")
	}
	if loaded.NodeCount() != g.NodeCount() {
		t.Errorf("node count = %d, want %d", loaded.NodeCount(), g.NodeCount())
	}

	warm, err := Load(data, true)
	if err != nil {
		t.Fatalf("Load(initialize): %v", err)
	}
	if !warm.Initialized() {
		t.Errorf("initialized load reports itself uninitialized")
	}
}

func TestDumpRejectsWideLookupNodes(t *testing.T) {
	t.Parallel()

	// A key layout with more leaves than the node wire format's one-byte
	// arity can carry. Dump must refuse rather than truncate.
	g := New()
	keyLayout := layout.ListOf(layout.Scalar(), 256)
	id, err := g.DeclareMapping("wide", keyLayout, layout.Scalar(), nil)
	if err != nil {
		t.Fatalf("DeclareMapping: %v", err)
	}
	key := g.Input("key", keyLayout)
	v, err := g.CallMapping(id, key)
	if err != nil {
		t.Fatalf("CallMapping: %v", err)
	}
	if err := g.Output(v, layout.Scalar()); err != nil {
		t.Fatalf("Output: %v", err)
	}
	if err := g.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	_, err = g.Dump()
	if err == nil {
		t.Fatal("Dump accepted a node with 256 inputs")
	}
	if !strings.Contains(err.Error(), "inputs") {
		t.Errorf("Dump error %q does not name the arity limit", err)
	}
}

// rewriteGraphBin re-zips an artifact with graph.bin transformed by fn.
func rewriteGraphBin(t *testing.T, artifact []byte, fn func([]byte) []byte) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(artifact), int64(len(artifact)))
	if err != nil {
		t.Fatalf("opening artifact: %v", err)
	}
	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("reading %s: %v", f.Name, err)
		}
		if f.Name == "graph.bin" {
			data = fn(data)
		}
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatalf("creating %s: %v", f.Name, err)
		}
		w.Write(data)
	}
	zw.Close()
	return out.Bytes()
}

func TestLoadRejectsBadArtifacts(t *testing.T) {
	t.Parallel()

	g := buildSample(t)
	data, err := g.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{
			name: "not a zip",
			data: []byte("definitely not an artifact"),
			want: ErrCorruptArtifact,
		},
		{
			name: "bad magic",
			data: rewriteGraphBin(t, data, func(bin []byte) []byte {
				bin = append([]byte(nil), bin...)
				bin[0] = 'X'
				return bin
			}),
			want: ErrCorruptArtifact,
		},
		{
			name: "future version",
			data: rewriteGraphBin(t, data, func(bin []byte) []byte {
				bin = append([]byte(nil), bin...)
				bin[4] = 99
				return bin
			}),
			want: ErrVersionMismatch,
		},
		{
			name: "truncated",
			data: rewriteGraphBin(t, data, func(bin []byte) []byte {
				return bin[:len(bin)-10]
			}),
			want: ErrCorruptArtifact,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(tt.data, true); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}
