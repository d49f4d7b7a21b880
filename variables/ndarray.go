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
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symtrace/graph"
	"github.com/gomlx/symtrace/trace"
	"github.com/gomlx/symtrace/types/abstract"
	"github.com/gomlx/symtrace/types/shapes"
)

// NDArray is an ndarray view over a traced tensor: the graph computes with
// tensors throughout, and this wrapper translates the array surface (numpy
// semantics) into deferred tensor operations.
type NDArray struct {
	Tensor
}

var _ Variable = (*NDArray)(nil)

// NewNDArrayFromNode wraps node as an ndarray, specializing metadata from
// its (possibly inferred) example value.
func NewNDArrayFromNode(fr *trace.Frame, node *graph.Node) Variable {
	return rewrapAs(fr, node, func(n *graph.Node, v *abstract.Tensor) Variable {
		return &NDArray{Tensor: Tensor{fields: Specialize(n, nil, v)}}
	})
}

func (a *NDArray) PythonType() string { return "numpy.ndarray" }

// arrayAttrOps are attributes that translate to a deferred array operation
// over the backing tensor.
var arrayAttrOps = map[string]bool{"T": true, "real": true, "imag": true}

// arrayOpaqueAttrs have no tensor-level translation.
var arrayOpaqueAttrs = map[string]bool{
	"base": true, "flags": true, "dtype": true, "__version__": true,
}

// ResolveAttribute resolves array attributes without consulting the tensor
// attribute path: the two surfaces disagree on almost every name.
func (a *NDArray) ResolveAttribute(fr *trace.Frame, name string) Variable {
	switch {
	case arrayAttrOps[name]:
		return a.emitArrayFunction(fr, name, nil, nil)
	case arrayOpaqueAttrs[name]:
		trace.Unsupportedf("ndarray attribute %q", name)
	case name == "ndim":
		if a.fields.NDim == nil {
			break
		}
		return NewConstant(int64(*a.fields.NDim))
	case name == "itemsize":
		if a.fields.DType == dtypes.InvalidDType {
			break
		}
		return NewConstant(int64(a.fields.DType.Memory()))
	case name == "shape":
		if !a.fields.HasSize {
			return a.emitArrayFunction(fr, "shape", nil, nil)
		}
		return NewConstant(append([]int64(nil), a.fields.Size...))
	case name == "strides":
		if !a.fields.HasStride {
			return a.emitArrayFunction(fr, "strides", nil, nil)
		}
		return NewConstant(append([]int64(nil), a.fields.Stride...))
	case name == "size":
		if !a.fields.HasSize {
			return a.emitArrayFunction(fr, "size", nil, nil)
		}
		return NewConstant(shapes.Product(a.fields.Size))
	}
	trace.Unsupportedf("ndarray attribute %q", name)
	return nil
}

// arrayMethodsOnTensor are array methods whose semantics coincide with the
// tensor method of the same name; dispatching there reuses the constant
// folding and the scalar-capture policy.
var arrayMethodsOnTensor = map[string]bool{"__len__": true, "size": true, "tolist": true}

// CallMethod translates array method calls into deferred array-namespace
// functions over the backing tensor.
func (a *NDArray) CallMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	if arrayMethodsOnTensor[name] {
		return a.Tensor.CallMethod(fr, name, args, kwargs)
	}
	switch name {
	case "tobytes":
		trace.Unsupportedf("ndarray.tobytes")
	case "clip":
		// The array surface spells the bounds a_min/a_max.
		if len(kwargs) > 0 {
			renamed := make(map[string]Variable, len(kwargs))
			for k, v := range kwargs {
				switch k {
				case "a_min":
					k = "min"
				case "a_max":
					k = "max"
				}
				renamed[k] = v
			}
			kwargs = renamed
		}
	}
	return a.emitArrayFunction(fr, name, args, kwargs)
}

// UnpackSequence unpacks the leading dimension into array variables.
func (a *NDArray) UnpackSequence(fr *trace.Frame, idxes []int) []Variable {
	return a.Tensor.unpackSequenceAs(fr, idxes, func(n *graph.Node) Variable {
		return a.rewrapArray(fr, n)
	})
}

// emitArrayFunction records a call into the array namespace with self as the
// first input, wrapping the result as an array.
func (a *NDArray) emitArrayFunction(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	nodeArgs := append([]any{a.fields.Node}, proxyArgs(args)...)
	node := fr.Graph.CreateProxyNode(graph.KindCallFunction, "numpy."+name, nodeArgs, proxyKwargs(kwargs))
	return a.rewrapArray(fr, node)
}

func (a *NDArray) rewrapArray(fr *trace.Frame, node *graph.Node) Variable {
	return rewrapAs(fr, node, func(n *graph.Node, v *abstract.Tensor) Variable {
		return &NDArray{Tensor: Tensor{fields: Specialize(n, nil, v)}}
	})
}
