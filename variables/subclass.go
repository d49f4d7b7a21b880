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
	"github.com/gomlx/symtrace/graph"
	"github.com/gomlx/symtrace/source"
	"github.com/gomlx/symtrace/trace"
)

// SubclassConstructor is a tensor subclass object (the class itself, not an
// instance): what `x.__class__` resolves to, and the argument form of
// as_subclass. With provenance it can construct override-aware instances;
// without it, it is only good for identity comparisons.
type SubclassConstructor struct {
	class string
	src   source.Source
}

var _ CallableVariable = (*SubclassConstructor)(nil)

// NewSubclassConstructor returns a class-object variable. src may be nil
// when the class was derived rather than loaded from the traced program.
func NewSubclassConstructor(class string, src source.Source) *SubclassConstructor {
	return &SubclassConstructor{class: class, src: src}
}

// Class returns the qualified class name.
func (c *SubclassConstructor) Class() string { return c.class }

func (c *SubclassConstructor) ProxyNode() *graph.Node { return nil }

func (c *SubclassConstructor) PythonType() string { return "type" }

// AsConstant exposes the class as a comparable reference, so identity checks
// like `x.__class__ is MyTensor` fold at trace time.
func (c *SubclassConstructor) AsConstant() (any, bool) { return ClassRef(c.class), true }

func (c *SubclassConstructor) Source() source.Source { return c.src }

func (c *SubclassConstructor) setSource(src source.Source) { c.src = src }

func (c *SubclassConstructor) ResolveAttribute(fr *trace.Frame, name string) Variable {
	trace.Unsupportedf("attribute %q on tensor subclass %s", name, c.class)
	return nil
}

func (c *SubclassConstructor) CallMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	trace.Unsupportedf("method %q on tensor subclass %s", name, c.class)
	return nil
}

func (c *SubclassConstructor) IsCallable() bool { return true }

// CallFunction constructs a subclass instance over an existing tensor.
// Calling the constructor does not itself dispatch through the subclass
// override; the override only applies to operations on the result.
func (c *SubclassConstructor) CallFunction(fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) != 1 || len(kwargs) > 0 {
		trace.Unsupportedf("tensor subclass %s constructor with %d args", c.class, len(args))
	}
	base, ok := args[0].(*Tensor)
	if !ok || c.src == nil {
		trace.Unsupportedf("tensor subclass %s constructor over a %s", c.class, args[0].PythonType())
	}
	return NewTensorWithOverride(base, c.class, c.resolveOverrideFunction(fr))
}

// resolveOverrideFunction loads the class's __torch_function__ from the
// traced program and wraps it, guarded by its provenance.
func (c *SubclassConstructor) resolveOverrideFunction(fr *trace.Frame) Variable {
	attr := source.Attr(c.src, "__torch_function__")
	value, err := fr.Rebinder.ReEvaluate(attr)
	if err != nil {
		trace.Unsupportedf("tensor subclass %s has no reachable __torch_function__: %v", c.class, err)
	}
	return fromTrace(fr.Wrapper.WrapValue(value, attr))
}

// TensorWithOverride is a tensor instance of a subclass carrying a
// __torch_function__ override. It shares the base tensor's graph node and
// metadata; only its reported class and the override function differ.
type TensorWithOverride struct {
	Tensor
	override Variable
}

var _ Variable = (*TensorWithOverride)(nil)

// NewTensorWithOverride rebinds base under the subclass. base is not
// mutated.
func NewTensorWithOverride(base *Tensor, class string, override Variable) *TensorWithOverride {
	fields := base.Fields()
	fields.Class = class
	return &TensorWithOverride{
		Tensor:   Tensor{fields: fields},
		override: override,
	}
}

// OverrideFunction returns the wrapped __torch_function__ of the subclass.
func (t *TensorWithOverride) OverrideFunction() Variable { return t.override }
