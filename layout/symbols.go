package layout

// Sym abstracts a collection of interned strings addressable by integer id
// from compiled code. Find must return a stable id for a given string for
// the lifetime of the instance.
type Sym interface {
	// Find returns the id of name, interning it if necessary.
	Find(name string) uint64
	// Get returns the string with the given id, if any.
	Get(id uint64) (string, bool)
}

// Symbols is an ordered, deduplicated table of interned strings. Ids are
// indices into the table. The zero value is ready to use.
type Symbols struct {
	names []string
	index map[string]uint64
}

// NewSymbols builds a table from names, preserving order and dropping
// duplicates.
func NewSymbols(names ...string) *Symbols {
	s := &Symbols{}
	for _, n := range names {
		s.Find(n)
	}
	return s
}

// Find implements Sym.
func (s *Symbols) Find(name string) uint64 {
	if id, ok := s.index[name]; ok {
		return id
	}
	if s.index == nil {
		s.index = make(map[string]uint64)
	}
	id := uint64(len(s.names))
	s.names = append(s.names, name)
	s.index[name] = id
	return id
}

// Get implements Sym.
func (s *Symbols) Get(id uint64) (string, bool) {
	if id >= uint64(len(s.names)) {
		return "", false
	}
	return s.names[id], true
}

// Len returns the number of interned strings.
func (s *Symbols) Len() int { return len(s.names) }

// Names returns the interned strings in id order. The slice is shared; do
// not mutate.
func (s *Symbols) Names() []string { return s.names }

// Clone returns an independent copy of the table.
func (s *Symbols) Clone() *Symbols {
	return NewSymbols(s.names...)
}

// View creates a per-call view over this table. The view resolves existing
// symbols against the shared top layer and collects new ones in a private
// layer, so concurrent calls never mutate the graph's table.
func (s *Symbols) View() *View {
	return &View{top: s}
}

// View is a two-layer symbol table: an immutable top layer shared by all
// callers and a private layer for symbols first seen during one call. New
// ids continue the top layer's numbering.
type View struct {
	top   *Symbols
	extra []string
	index map[string]uint64
}

// Find implements Sym.
func (v *View) Find(name string) uint64 {
	if id, ok := v.top.index[name]; ok {
		return id
	}
	if id, ok := v.index[name]; ok {
		return id
	}
	if v.index == nil {
		v.index = make(map[string]uint64)
	}
	id := uint64(v.top.Len() + len(v.extra))
	v.extra = append(v.extra, name)
	v.index[name] = id
	return id
}

// Get implements Sym.
func (v *View) Get(id uint64) (string, bool) {
	if name, ok := v.top.Get(id); ok {
		return name, true
	}
	off := id - uint64(v.top.Len())
	if off < uint64(len(v.extra)) {
		return v.extra[off], true
	}
	return "", false
}

// Extra returns the symbols introduced through this view, in id order.
func (v *View) Extra() []string { return v.extra }
