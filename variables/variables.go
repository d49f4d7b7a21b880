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

// Package variables implements the tracked-value hierarchy of the symbolic
// tracer: every runtime value the interpreter touches while tracing is
// represented by one of the Variable kinds here.
//
// A Variable answers introspection queries from cached metadata when it can,
// consults the metadata oracle for a constant when it cannot, and otherwise
// defers the operation into the graph, wrapping the new node in a fresh
// Variable. Operations with no sound symbolic representation abort the trace
// attempt with trace.Unsupportedf; the interpreter recovers at the frame
// boundary and falls back to real execution.
//
// The kinds:
//
//   - Tensor: a traced tensor input or intermediate.
//   - SymScalar: a scalar whose value depends on symbolic dimensions.
//   - NDArray: a tensor seen through the ndarray naming convention.
//   - UnspecializedScalar / OpaqueScalarResult: one-element tensors standing
//     in for python numbers, with and without a visible raw value.
//   - SubclassConstructor / TensorWithOverride: a tensor-subclass class
//     object, and the composite produced by calling it.
//   - Constant, Size, List, RemovableHandle, DelayedGraphBreak: supporting
//     kinds.
package variables

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrace/graph"
	"github.com/gomlx/symtrace/source"
	"github.com/gomlx/symtrace/trace"
)

// Variable is the full in-process protocol of a tracked value: the
// cross-package surface of trace.Variable plus attribute resolution and
// method dispatch.
type Variable interface {
	trace.Variable

	// ResolveAttribute resolves `self.<name>`. It aborts the trace with
	// Unsupported when the attribute has no sound representation.
	ResolveAttribute(fr *trace.Frame, name string) Variable

	// CallMethod dispatches `self.<name>(args..., kwargs...)`.
	CallMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable
}

// CallableVariable is implemented by variables that can be called as a
// function, e.g. a class object.
type CallableVariable interface {
	Variable
	CallFunction(fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable
}

// SequenceVariable is implemented by variables supporting the
// sequence-unpacking protocol.
type SequenceVariable interface {
	Variable

	// HasUnpackSequence reports whether the value can be unpacked at all.
	HasUnpackSequence() bool

	// UnpackSequence produces one variable per index. A nil idxes unpacks
	// the whole leading dimension.
	UnpackSequence(fr *trace.Frame, idxes []int) []Variable
}

// fromTrace narrows a collaborator-produced variable back to the full
// protocol. Collaborators only ever hand out variables built by this
// package or by the builder layer, so failure is an internal error.
func fromTrace(v trace.Variable) Variable {
	if v == nil {
		return nil
	}
	vv, ok := v.(Variable)
	if !ok {
		exceptions.Panicf("variables: collaborator returned %T, which does not implement the variable protocol", v)
	}
	return vv
}

// sourceSetter lets attribute resolution stamp the attr-projected provenance
// on results. All concrete kinds implement it.
type sourceSetter interface {
	setSource(src source.Source)
}

// Constant is a plain trace-time constant: its value is fully known and can
// be baked into emitted nodes. A nil value stands for "none".
type Constant struct {
	value any
	src   source.Source
}

// NewConstant returns a constant variable over value.
func NewConstant(value any) *Constant { return &Constant{value: value} }

// None returns the "none" constant.
func None() *Constant { return &Constant{} }

// ProxyNode of a constant is nil: constants are baked, not deferred.
func (c *Constant) ProxyNode() *graph.Node { return nil }

// AsConstant returns the value; always ok.
func (c *Constant) AsConstant() (any, bool) { return c.value, true }

// Source returns the constant's provenance, usually nil.
func (c *Constant) Source() source.Source { return c.src }

func (c *Constant) setSource(src source.Source) { c.src = src }

// PythonType names the runtime type of the constant.
func (c *Constant) PythonType() string {
	switch c.value.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int, int32, int64:
		return "int"
	case float32, float64:
		return "float"
	case string:
		return "str"
	default:
		return fmt.Sprintf("%T", c.value)
	}
}

// ResolveAttribute on constants is not modeled here.
func (c *Constant) ResolveAttribute(fr *trace.Frame, name string) Variable {
	trace.Unsupportedf("attribute %q on constant %v", name, c.value)
	return nil
}

// CallMethod on constants is not modeled here.
func (c *Constant) CallMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	trace.Unsupportedf("method %q on constant %v", name, c.value)
	return nil
}

func (c *Constant) String() string { return fmt.Sprintf("Constant(%v)", c.value) }

// List is an ordered sequence of variables, e.g. the nested result of
// tolist.
type List struct {
	items []Variable
	src   source.Source
}

// NewList returns a list variable over items.
func NewList(items []Variable) *List { return &List{items: items} }

// Items returns the elements; owned by the list.
func (l *List) Items() []Variable { return l.items }

func (l *List) ProxyNode() *graph.Node { return nil }

// AsConstant returns the elements as a []any if every element is constant.
func (l *List) AsConstant() (any, bool) {
	out := make([]any, len(l.items))
	for i, item := range l.items {
		v, ok := item.AsConstant()
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (l *List) Source() source.Source     { return l.src }
func (l *List) setSource(s source.Source) { l.src = s }
func (l *List) PythonType() string        { return "list" }

func (l *List) ResolveAttribute(fr *trace.Frame, name string) Variable {
	trace.Unsupportedf("attribute %q on list", name)
	return nil
}

func (l *List) CallMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	trace.Unsupportedf("method %q on list", name)
	return nil
}

// Size is the result of a shape query: an ordered sequence of dimension
// variables, each a Constant or a SymScalar.
type Size struct {
	List
}

// NewSize returns a size variable over the dimension variables.
func NewSize(dims []Variable) *Size { return &Size{List: List{items: dims}} }

// SizeOfInts returns a fully constant size.
func SizeOfInts(dims []int64) *Size {
	items := make([]Variable, len(dims))
	for i, d := range dims {
		items[i] = NewConstant(d)
	}
	return NewSize(items)
}

func (s *Size) PythonType() string { return "torch.Size" }

// RemovableHandle is the disposable value returned by a hook registration
// recorded as a side effect.
type RemovableHandle struct {
	src source.Source
}

// NewRemovableHandle returns a fresh handle variable.
func NewRemovableHandle() *RemovableHandle { return &RemovableHandle{} }

func (h *RemovableHandle) ProxyNode() *graph.Node  { return nil }
func (h *RemovableHandle) AsConstant() (any, bool) { return nil, false }
func (h *RemovableHandle) Source() source.Source   { return h.src }
func (h *RemovableHandle) setSource(s source.Source) {
	h.src = s
}
func (h *RemovableHandle) PythonType() string { return "RemovableHandle" }

func (h *RemovableHandle) ResolveAttribute(fr *trace.Frame, name string) Variable {
	trace.Unsupportedf("attribute %q on removable handle", name)
	return nil
}

// CallMethod supports remove() as a no-op none; the matching side effect is
// dropped by the committing layer, not here.
func (h *RemovableHandle) CallMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	if name == "remove" && len(args) == 0 {
		return None()
	}
	trace.Unsupportedf("method %q on removable handle", name)
	return nil
}

// DelayedGraphBreak postpones an unsupported-construct decision: resolving
// an in-place-view attribute on a graph input succeeds, but invoking the
// result aborts. Some call sites resolve and never invoke.
type DelayedGraphBreak struct {
	src source.Source
}

// NewDelayedGraphBreak returns the deferred marker for the given attribute
// provenance.
func NewDelayedGraphBreak(src source.Source) *DelayedGraphBreak {
	return &DelayedGraphBreak{src: src}
}

func (d *DelayedGraphBreak) ProxyNode() *graph.Node    { return nil }
func (d *DelayedGraphBreak) AsConstant() (any, bool)   { return nil, false }
func (d *DelayedGraphBreak) Source() source.Source     { return d.src }
func (d *DelayedGraphBreak) setSource(s source.Source) { d.src = s }
func (d *DelayedGraphBreak) PythonType() string        { return "builtin_function_or_method" }

func (d *DelayedGraphBreak) ResolveAttribute(fr *trace.Frame, name string) Variable {
	trace.Unsupportedf("attribute %q on delayed graph break marker", name)
	return nil
}

func (d *DelayedGraphBreak) CallMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	trace.Unsupportedf("in-place view operation on a graph input (deferred from attribute resolution of %s)", d.src.Render())
	return nil
}

// CallFunction triggers the deferred break: the marker was the bound method
// itself.
func (d *DelayedGraphBreak) CallFunction(fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	trace.Unsupportedf("in-place view operation on a graph input (deferred from attribute resolution of %s)", d.src.Render())
	return nil
}

// ClassRef is the constant value a class-object variable reports for
// AsConstant: the fully qualified class name.
type ClassRef string

// TensorType is the constant value of a legacy tensor-type object, e.g.
// "torch.FloatTensor". Graph nodes cannot carry type objects; method `type`
// converts these to strings before deferring.
type TensorType string

// proxyArg lowers a variable into a node argument: its proxy node when it
// has one, its constant value otherwise.
func proxyArg(v Variable) any {
	if node := v.ProxyNode(); node != nil {
		return node
	}
	if value, ok := v.AsConstant(); ok {
		return value
	}
	trace.Unsupportedf("cannot represent %s argument in the graph", v.PythonType())
	return nil
}

// proxyArgs lowers variables into node arguments.
func proxyArgs(vars []Variable) []any {
	out := make([]any, len(vars))
	for i, v := range vars {
		out[i] = proxyArg(v)
	}
	return out
}

// proxyKwargs lowers keyword arguments into baked node kwargs.
func proxyKwargs(kwargs map[string]Variable) map[string]any {
	if len(kwargs) == 0 {
		return nil
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = proxyArg(v)
	}
	return out
}
