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

// UnspecializedScalar is a host scalar promoted into the graph as a
// zero-rank tensor instead of being baked in as a constant: the compiled
// artifact stays valid when the scalar changes between calls. The raw
// trace-time value is kept for the rare consumers that must unwrap it.
type UnspecializedScalar struct {
	Tensor
	raw        any
	needUnwrap bool
}

var _ Variable = (*UnspecializedScalar)(nil)

// NewUnspecializedScalar rebinds an already wrapped zero-rank tensor as an
// unspecialized scalar. needUnwrap marks values that must be lowered back to
// a host scalar before leaving the graph.
func NewUnspecializedScalar(base *Tensor, raw any, needUnwrap bool) *UnspecializedScalar {
	return &UnspecializedScalar{
		Tensor:     Tensor{fields: base.Fields()},
		raw:        raw,
		needUnwrap: needUnwrap,
	}
}

// Raw returns the scalar's trace-time value. The value is NOT safe to bake
// into the graph; use the tensor node instead.
func (u *UnspecializedScalar) Raw() any { return u.raw }

// NeedUnwrap reports whether consumers must lower the value back to a host
// scalar.
func (u *UnspecializedScalar) NeedUnwrap() bool { return u.needUnwrap }

func (u *UnspecializedScalar) PythonType() string {
	switch u.raw.(type) {
	case bool:
		return "bool"
	case float32, float64:
		return "float"
	}
	return "int"
}

// OpaqueScalarResult is the result of materializing a scalar out of a
// tensor under an abstract (example-value) evaluator: there is no concrete
// value at all, only the node that will produce one at run time. Unlike
// UnspecializedScalar it has nothing to unwrap and never answers constant
// queries.
type OpaqueScalarResult struct {
	Tensor
}

var _ Variable = (*OpaqueScalarResult)(nil)

// NewOpaqueScalarResult rebinds base as an opaque scalar result.
func NewOpaqueScalarResult(base *Tensor) *OpaqueScalarResult {
	return &OpaqueScalarResult{Tensor: Tensor{fields: base.Fields()}}
}

// AsConstant always fails: the value does not exist at trace time.
func (o *OpaqueScalarResult) AsConstant() (any, bool) { return nil, false }

func (o *OpaqueScalarResult) PythonType() string { return "float" }
