/*
 *	Copyright 2024 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package variables

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symtrace/graph"
	"github.com/gomlx/symtrace/source"
	"github.com/gomlx/symtrace/trace"
	"github.com/gomlx/symtrace/types/abstract"
	"github.com/gomlx/symtrace/types/shapes"
)

// TensorFields are the construction parameters of a Tensor variable.
// Variants (scalar sub-kinds, the override composite) are built from a base
// tensor's Fields plus their own parameters: fields are always passed
// explicitly, never copied as an opaque bag.
//
// Every metadata field is optional: unset means "not statically known".
// Size/Stride/Contiguity must only be set when derived from a value with no
// free symbolic dimensions; symbolic shapes are re-derived through the
// method protocol instead.
type TensorFields struct {
	Node   *graph.Node
	Source source.Source

	DType  dtypes.DType  // InvalidDType when unknown.
	Device shapes.Device // zero value when unknown.
	Layout *shapes.Layout
	NDim   *int

	HasSize   bool
	Size      []int64
	HasStride bool
	Stride    []int64

	RequiresGrad *bool
	IsQuantized  *bool
	IsSparse     *bool

	Contiguity shapes.FormatSet // unknown sentinel when not computed.

	// Class is the concrete runtime class the variable stands for.
	Class string
}

// Tensor is a traced tensor input or intermediate: the central variable
// kind. All metadata is immutable once constructed.
type Tensor struct {
	fields TensorFields
}

// NewTensor builds a tensor variable from explicit fields.
func NewTensor(fields TensorFields) *Tensor {
	if fields.Node == nil {
		exceptions.Panicf("variables.NewTensor: a tensor variable requires a graph node")
	}
	return &Tensor{fields: fields}
}

// Specialize extracts the construction fields from a concrete (abstract)
// runtime value: dtype, device, layout, ndim, gradient/quantized/sparse
// flags and class always; size, stride and contiguity only when the value
// has no unresolved symbolic dimensions. For values under a batching
// transform contiguity is left unknown: computing it there is unsound.
func Specialize(node *graph.Node, src source.Source, value *abstract.Tensor) TensorFields {
	ndim := value.Rank()
	layout := value.Layout
	requiresGrad := value.RequiresGrad
	isQuantized := value.IsQuantized
	isSparse := value.IsSparse
	fields := TensorFields{
		Node:         node,
		Source:       src,
		DType:        value.DType(),
		Device:       value.Device,
		Layout:       &layout,
		NDim:         &ndim,
		RequiresGrad: &requiresGrad,
		IsQuantized:  &isQuantized,
		IsSparse:     &isSparse,
		Class:        value.Class,
	}
	if !value.HasFreeSymbols() {
		dims, _ := value.Shape.StaticDims()
		fields.HasSize, fields.Size = true, dims
		strides := make([]int64, len(value.Strides))
		for i, s := range value.Strides {
			strides[i] = s.Value()
		}
		fields.HasStride, fields.Stride = true, strides
		fields.Contiguity = value.SatisfiedFormats()
	}
	return fields
}

// SpecializeTensor wraps node as a Tensor variable with metadata specialized
// from value.
func SpecializeTensor(node *graph.Node, src source.Source, value *abstract.Tensor) *Tensor {
	return NewTensor(Specialize(node, src, value))
}

// Fields returns a copy of the construction fields, for building variants.
func (t *Tensor) Fields() TensorFields { return t.fields }

// tensorBacked is satisfied by every tensor-backed kind, including the
// embedding variants (override composite, array wrapper, scalar sub-kinds).
// Checks that must catch sub-kinds assert this interface, never the concrete
// Tensor type.
type tensorBacked interface {
	Variable
	tensorFields() *TensorFields
}

func (t *Tensor) tensorFields() *TensorFields { return &t.fields }

// ProxyNode returns the graph node standing for this value.
func (t *Tensor) ProxyNode() *graph.Node { return t.fields.Node }

// AsConstant: a traced tensor is never a trace-time constant.
func (t *Tensor) AsConstant() (any, bool) { return nil, false }

// Source returns the provenance of the value, nil for values created inside
// the traced region.
func (t *Tensor) Source() source.Source { return t.fields.Source }

func (t *Tensor) setSource(src source.Source) { t.fields.Source = src }

// PythonType names the concrete runtime class of the value.
func (t *Tensor) PythonType() string {
	if t.fields.Class == "" {
		return "torch.Tensor"
	}
	return t.fields.Class
}

// exampleTensor returns the oracle-recorded abstract tensor for this node,
// if any.
func (t *Tensor) exampleTensor() (*abstract.Tensor, bool) {
	ev, ok := t.fields.Node.ExampleValue()
	if !ok {
		return nil, false
	}
	at, ok := ev.(*abstract.Tensor)
	return at, ok
}

// getSetAttrs are the tensor attributes implemented as data descriptors on
// the runtime class: reads are deferred into the graph generically. Names
// denoting callables are deliberately absent; those take the method path.
var getSetAttrs = map[string]bool{
	"T": true, "H": true, "mT": true, "mH": true,
	"real": true, "imag": true, "grad": true,
}

// inplaceViewOps are methods that mutate metadata of their input in place.
// Resolving one as an attribute of a graph input returns a deferred marker;
// the trace only breaks if it is actually invoked.
var inplaceViewOps = map[string]bool{
	"resize_": true, "resize_as_": true, "set_": true,
	"squeeze_": true, "unsqueeze_": true, "t_": true,
	"transpose_": true, "swapdims_": true, "swapaxes_": true,
}

// ResolveAttribute implements the attribute-resolution policy. Order
// matters; see the per-step comments. On success with known provenance a
// type-match guard is installed on self before returning, so guards on the
// result are only checked after self's type is confirmed.
func (t *Tensor) ResolveAttribute(fr *trace.Frame, name string) Variable {
	// 1. Strict mode rejects banned names outright.
	if fr.Config.IsBanned(name) {
		trace.Unsupportedf("illegal attribute access %q in strict mode", name)
	}

	f := &t.fields
	var result Variable
	switch {
	// 2. Known static metadata answers as constants.
	case name == "ndim" && f.NDim != nil:
		result = NewConstant(int64(*f.NDim))
	case name == "dtype" && f.DType != dtypes.InvalidDType:
		result = NewConstant(f.DType)
	case name == "device" && f.Device.Ok():
		result = NewConstant(f.Device)
	case name == "layout" && f.Layout != nil:
		result = NewConstant(*f.Layout)
	case name == "is_cuda" && f.Device.Ok():
		result = NewConstant(f.Device.IsCUDA())
	case name == "shape" && f.HasSize:
		result = SizeOfInts(f.Size)
	case name == "requires_grad" && f.RequiresGrad != nil:
		result = NewConstant(*f.RequiresGrad)
	case name == "is_quantized" && f.IsQuantized != nil:
		result = NewConstant(*f.IsQuantized)
	case name == "is_sparse" && f.IsSparse != nil:
		result = NewConstant(*f.IsSparse)
	case name == "shape":
		result = t.CallMethod(fr, "size", nil, nil)
	case name == "ndim":
		result = t.CallMethod(fr, "dim", nil, nil)
	// 3. `data` is a detach in disguise.
	case name == "data":
		result = t.CallMethod(fr, "detach", nil, nil)
	}

	// 4. `__class__` short-circuits all guard installation below.
	if name == "__class__" {
		return NewSubclassConstructor(t.PythonType(), nil)
	}

	if result == nil && f.Source != nil && inplaceViewOps[name] {
		// Delay the break to the actual invocation; many call sites resolve
		// the attribute and never call it.
		return NewDelayedGraphBreak(source.Attr(f.Source, name))
	}

	// 5. Generic data-descriptor attributes become get_attr nodes.
	if result == nil && getSetAttrs[name] {
		node := fr.Graph.CreateProxyNode(graph.KindGetAttr, name, []any{f.Node}, nil)
		if f.Source != nil {
			result = fromTrace(fr.Wrapper.WrapNode(node, source.Attr(f.Source, name)))
		} else {
			result = fromTrace(fr.Wrapper.WrapNode(node, nil))
		}
	}

	// 6. Last resort: re-derive from the original runtime binding.
	if result == nil {
		result = t.dynamicGetattr(fr, name)
	}
	if result == nil {
		trace.Unsupportedf("attribute %q of %s has no symbolic representation", name, t.PythonType())
	}

	if f.Source != nil {
		// The result's guards must only be checked once self's type is
		// already confirmed.
		fr.InstallGuard(source.TypeMatchGuard{Source: f.Source, Class: t.PythonType()})
		if setter, ok := result.(sourceSetter); ok {
			setter.setSource(source.Attr(f.Source, name))
		}
	}
	return result
}

// dynamicGetattr re-evaluates the provenance expression and reads the
// attribute off the real binding, guarding its presence. It aborts when no
// provenance exists, the binding intercepts attribute access, or the
// attribute is a callable (callables take the method path).
func (t *Tensor) dynamicGetattr(fr *trace.Frame, name string) Variable {
	src := t.fields.Source
	if src == nil {
		trace.Unsupportedf("attribute %q of a tensor with no provenance", name)
	}
	bound, err := fr.Rebinder.ReEvaluate(src)
	if err != nil || bound == nil {
		trace.Unsupportedf("cannot re-evaluate provenance %s: %v", src.Render(), err)
	}
	if interceptor, ok := bound.(trace.AttributeInterceptor); ok && interceptor.InterceptsAttributes() {
		trace.Unsupportedf("binding %s has custom attribute interception", src.Render())
	}
	accessor, ok := bound.(trace.AttributeAccessor)
	if !ok {
		trace.Unsupportedf("binding %s does not support attribute reads", src.Render())
	}
	value, ok := accessor.Attr(name)
	if !ok {
		trace.Unsupportedf("binding %s has no attribute %q", src.Render(), name)
	}
	if callable, ok := value.(trace.Callable); ok && callable.IsCallable() {
		// Callables have more nuanced handling; method dispatch owns them.
		trace.Unsupportedf("attribute %q of %s is callable", name, src.Render())
	}
	attrSource := source.Attr(src, name)
	fr.InstallGuard(source.HasAttrGuard{Source: src, Name: name})
	return fromTrace(fr.Wrapper.WrapValue(value, attrSource))
}

// HasUnpackSequence: a tensor unpacks as a sequence iff its rank is known
// positive.
func (t *Tensor) HasUnpackSequence() bool {
	return t.fields.NDim != nil && *t.fields.NDim > 0
}

// UnpackSequence produces one variable per leading index, each an
// index-select of self, of the same concrete kind as self. Without explicit
// indices the leading extent comes from static metadata, or from size(0),
// which must answer with a constant or a symbolic scalar.
func (t *Tensor) UnpackSequence(fr *trace.Frame, idxes []int) []Variable {
	return t.unpackSequenceAs(fr, idxes, func(n *graph.Node) Variable {
		return t.rewrap(fr, n)
	})
}

// unpackSequenceAs is UnpackSequence with the result-wrapping step factored
// out, so embedding kinds keep their own kind when unpacked.
func (t *Tensor) unpackSequenceAs(fr *trace.Frame, idxes []int, wrap func(*graph.Node) Variable) []Variable {
	if idxes == nil {
		var length int64
		if t.fields.HasSize && len(t.fields.Size) > 0 {
			length = t.fields.Size[0]
		} else {
			dynLength := t.CallMethod(fr, "size", []Variable{NewConstant(int64(0))}, nil)
			switch dyn := dynLength.(type) {
			case *Constant:
				length = asInt64(dyn.value)
			case *SymScalar:
				length = dyn.EvaluateExpr(fr).Int()
			default:
				exceptions.Panicf("variables: size(0) answered %T while unpacking; expected a constant or symbolic scalar", dynLength)
			}
		}
		idxes = make([]int, length)
		for i := range idxes {
			idxes[i] = i
		}
	}
	out := make([]Variable, len(idxes))
	for i, idx := range idxes {
		node := fr.Graph.CreateProxyNode(graph.KindCallFunction, "getitem", []any{t.fields.Node, int64(idx)}, nil)
		out[i] = wrap(node)
	}
	return out
}

// rewrap wraps a freshly created node with the same concrete variable kind
// as self, specializing metadata from the oracle. Scalar example values
// (e.g. from a captured item call) become symbolic scalars instead.
func (t *Tensor) rewrap(fr *trace.Frame, node *graph.Node) Variable {
	return rewrapAs(fr, node, func(n *graph.Node, v *abstract.Tensor) Variable {
		return SpecializeTensor(n, nil, v)
	})
}

// rewrapAs infers (and records) the node's example value and builds a
// variable with makeTensor for tensor values; scalar values become symbolic
// scalars.
func rewrapAs(fr *trace.Frame, node *graph.Node, makeTensor func(*graph.Node, *abstract.Tensor) Variable) Variable {
	ev, ok := node.ExampleValue()
	if !ok {
		inferred, err := fr.Oracle.InferExampleValue(node)
		if err != nil {
			trace.Unsupportedf("cannot infer an example value for %s: %v", node, err)
		}
		node.SetExampleValue(inferred)
		ev = inferred
	}
	switch value := ev.(type) {
	case *abstract.Tensor:
		return makeTensor(node, value)
	case abstract.Scalar:
		return NewSymScalar(fr, node, value.Value)
	}
	// The oracle can legitimately answer with compound values (a whole
	// dynamic shape, say) that no variable kind represents; abort the trace
	// attempt rather than treat it as a modeling bug.
	trace.Unsupportedf("no variable kind can represent a %T result of %s", ev, node)
	return nil
}

// asInt64 converts constant integer representations to int64; it panics on
// anything else (a modeling error, not a user error).
func asInt64(value any) int64 {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	}
	exceptions.Panicf("variables: expected an integer constant, got %T", value)
	return 0
}
