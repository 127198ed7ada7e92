// Package jyafn implements a just-in-time compiler for pure numeric functions
// expressed as directed acyclic computational graphs.
//
// A graph is built programmatically through the builder API in package graph,
// serialized to a portable zip artifact, and compiled to native machine code
// through an external backend toolchain (QBE, the system assembler and the
// system linker). The resulting shared object is mapped into the process and
// exposed as a plain function over flat input/output buffers whose structure
// is described by a declarative layout schema.
//
// # Architecture Overview
//
// The engine consists of several key components:
//
//   - graph: build-time DAG of typed nodes, constant folding, op catalog,
//     mappings, resources and artifact (de)serialization
//   - layout: declarative schemas and the typed (de)serialization between
//     structured values and flat 8-byte-slot buffers
//   - ir: the textual intermediate representation accepted by the backend
//   - compiler: lowering, optimization passes and the subprocess pipeline
//     that turns IR into a loadable shared object
//   - runtime: loaded functions, the call protocol and error reporting
//   - extension: dynamically loaded native plugins exposing opaque resources
//     with callable methods
//
// # Basic Usage
//
//	g := graph.New()
//	in := g.Input("x", layout.Scalar())
//	two := g.Const(2.0)
//	y, _ := g.Op("mul", two, in.Ref())
//	g.Output(graph.ScalarValue(y), layout.Scalar())
//	if err := g.Seal(); err != nil {
//	    log.Fatal(err)
//	}
//
//	fn, err := compiler.Compile(g, compiler.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fn.Close()
//
//	out, err := fn.EvalJSON([]byte(`{"x": 21.0}`))
//
// Compiled functions are immutable and safe for concurrent calls, provided
// every resource they touch is thread safe. Only the serialized graph is
// portable between processes; live machine code never is.
package jyafn
