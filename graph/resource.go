package graph

import (
	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/extension"
)

// Resource is one entry of the graph's resource catalog: the descriptor
// needed to re-hydrate a plugin object plus, when materialized, the live
// handle.
type Resource struct {
	name          string
	extensionName string
	typeName      string
	blob          []byte
	handle        *extension.Resource
}

// Name returns the catalog name the resource was declared under.
func (r *Resource) Name() string { return r.name }

// ExtensionName returns the providing extension's name.
func (r *Resource) ExtensionName() string { return r.extensionName }

// TypeName returns the resource type within the extension.
func (r *Resource) TypeName() string { return r.typeName }

// Handle returns the live plugin handle, or nil for an uninitialized
// resource.
func (r *Resource) Handle() *extension.Resource { return r.handle }

// Blob returns the serialized bytes the resource was declared with. Dump
// prefers asking the live handle, falling back to these.
func (r *Resource) Blob() []byte { return r.blob }

// Dump serializes the resource for the artifact.
func (r *Resource) Dump() ([]byte, error) {
	if r.handle != nil {
		return r.handle.Dump()
	}
	return r.blob, nil
}

// MemSize returns the estimated heap size of the resource, in bytes.
func (r *Resource) MemSize() int {
	if r.handle != nil {
		return r.handle.Size()
	}
	return len(r.blob)
}

// Materialize loads the extension and re-hydrates the handle, if it has not
// been done yet.
func (r *Resource) Materialize() error {
	if r.handle != nil {
		return nil
	}
	ext, err := extension.Load(r.extensionName)
	if err != nil {
		return errors.Wrapf(err, "resource %q", r.name)
	}
	if !ext.HasResource(r.typeName) {
		return errors.Wrapf(ErrUnknownResource,
			"extension %q has no resource type %q", r.extensionName, r.typeName)
	}
	handle, err := ext.NewResource(r.typeName, r.blob)
	if err != nil {
		return errors.Wrapf(err, "resource %q", r.name)
	}
	r.handle = handle
	return nil
}

// Close releases the live handle, if any.
func (r *Resource) Close() error {
	if r.handle == nil {
		return nil
	}
	err := r.handle.Close()
	r.handle = nil
	return err
}

// DeclareResource loads the named extension, re-hydrates a resource of the
// given type from blob and registers it in the graph's catalog, returning
// its id.
func (g *Graph) DeclareResource(name, extensionName, typeName string, blob []byte) (int, error) {
	if err := g.mutable(); err != nil {
		return 0, err
	}
	r := &Resource{
		name:          name,
		extensionName: extensionName,
		typeName:      typeName,
		blob:          blob,
	}
	if err := r.Materialize(); err != nil {
		return 0, err
	}
	g.resources = append(g.resources, r)
	return len(g.resources) - 1, nil
}

func (g *Graph) resource(id int) (*Resource, error) {
	if id < 0 || id >= len(g.resources) {
		return nil, errors.Wrapf(ErrUnknownResource, "id %d of %d", id, len(g.resources))
	}
	return g.resources[id], nil
}

// CallResource pushes an invocation of a resource method. The argument
// value must match the method's declared input layout; the result mirrors
// its output layout, one node per leaf.
func (g *Graph) CallResource(id int, method string, args Value) (Value, error) {
	if err := g.mutable(); err != nil {
		return Value{}, err
	}
	r, err := g.resource(id)
	if err != nil {
		return Value{}, err
	}
	if r.handle == nil {
		return Value{}, errors.Errorf("resource %q is not materialized", r.name)
	}
	def, err := r.handle.Method(method)
	if err != nil {
		return Value{}, errors.Wrapf(ErrUnknownMethod, "%s.%s: %v", r.name, method, err)
	}

	if !def.Input.Equal(args.Layout()) {
		return Value{}, errors.Wrapf(ErrTypeMismatch,
			"%s.%s takes %v, got %v", r.name, method, def.Input, args.Layout())
	}
	inSlots := def.Input.Slots()
	for i, ref := range args.refs {
		n, err := g.node(ref)
		if err != nil {
			return Value{}, errors.Wrapf(err, "%s.%s argument leaf %d", r.name, method, i)
		}
		if want := TypeOf(inSlots[i]); n.Type != want {
			return Value{}, errors.Wrapf(ErrTypeMismatch,
				"%s.%s argument leaf %d is %v, want %v", r.name, method, i, n.Type, want)
		}
	}

	outSlots := def.Output.Slots()
	refs := make([]Ref, len(outSlots))
	for i, k := range outSlots {
		refs[i] = g.push(Node{
			Kind:       KindResourceCall,
			Type:       TypeOf(k),
			Inputs:     refsToInputs(args.refs),
			ResourceID: uint32(id),
			Method:     method,
			Leaf:       uint32(i),
		})
	}
	return Value{layout: def.Output, refs: refs}, nil
}
