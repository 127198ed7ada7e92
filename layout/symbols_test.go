package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSymbolsInterning(t *testing.T) {
	t.Parallel()
	s := NewSymbols("a", "b", "a", "c")

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, s.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	// Ids are stable table indices.
	if id := s.Find("b"); id != 1 {
		t.Errorf("Find(b) = %d, want 1", id)
	}
	if id := s.Find("d"); id != 3 {
		t.Errorf("Find(d) = %d, want 3", id)
	}

	name, ok := s.Get(2)
	if !ok || name != "c" {
		t.Errorf("Get(2) = %q, %v, want %q, true", name, ok, "c")
	}
	if _, ok := s.Get(99); ok {
		t.Error("Get(99) should not resolve")
	}
}

func TestSymbolsClone(t *testing.T) {
	t.Parallel()
	s := NewSymbols("a", "b")
	c := s.Clone()
	c.Find("c")

	if s.Len() != 2 {
		t.Errorf("original grew through clone: Len() = %d, want 2", s.Len())
	}
	if c.Len() != 3 {
		t.Errorf("clone Len() = %d, want 3", c.Len())
	}
}

func TestViewLayering(t *testing.T) {
	t.Parallel()
	top := NewSymbols("a", "b")
	v := top.View()

	// Existing symbols resolve against the top layer.
	if id := v.Find("a"); id != 0 {
		t.Errorf("Find(a) = %d, want 0", id)
	}

	// New symbols continue the numbering in the private layer and never
	// touch the shared table.
	if id := v.Find("x"); id != 2 {
		t.Errorf("Find(x) = %d, want 2", id)
	}
	if id := v.Find("y"); id != 3 {
		t.Errorf("Find(y) = %d, want 3", id)
	}
	if id := v.Find("x"); id != 2 {
		t.Errorf("second Find(x) = %d, want 2", id)
	}
	if top.Len() != 2 {
		t.Errorf("top layer grew: Len() = %d, want 2", top.Len())
	}

	name, ok := v.Get(3)
	if !ok || name != "y" {
		t.Errorf("Get(3) = %q, %v, want %q, true", name, ok, "y")
	}
	if _, ok := v.Get(4); ok {
		t.Error("Get(4) should not resolve")
	}

	if diff := cmp.Diff([]string{"x", "y"}, v.Extra()); diff != "" {
		t.Errorf("Extra() mismatch (-want +got):\n%s", diff)
	}
}
