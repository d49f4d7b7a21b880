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

// Package abstract defines the metadata-only stand-ins the metadata oracle
// produces for traced values: tensors and scalars that know their shape,
// dtype, device and layout but never hold data.
//
// The tracer consults these to answer introspection queries (size, stride,
// numel, contiguity) without executing real operations. Queries that would
// require data have no representation here at all.
package abstract

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symtrace/types/shapes"
	"github.com/gomlx/symtrace/types/symbolic"
	"github.com/x448/float16"
)

// Value is an example value recorded on a graph node: *Tensor or Scalar.
type Value interface {
	// HasFreeSymbols reports whether any symbolic dimension or expression
	// occurs in the value's metadata.
	HasFreeSymbols() bool

	String() string
}

// Tensor is an abstract tensor: full metadata, no data.
type Tensor struct {
	Shape   shapes.Shape
	Strides []shapes.Dim
	Device  shapes.Device
	Layout  shapes.Layout

	RequiresGrad bool
	IsQuantized  bool
	IsSparse     bool

	// IsBatched marks values under a batching transform; their contiguity
	// cannot be computed.
	IsBatched bool

	// Class is the runtime class the value is an instance of, e.g.
	// "torch.Tensor" or a subclass name.
	Class string
}

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.Shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.Shape.Rank() }

// HasFreeSymbols reports whether any dimension or stride is symbolic.
func (t *Tensor) HasFreeSymbols() bool {
	if !t.Shape.IsStatic() {
		return true
	}
	for _, s := range t.Strides {
		if !s.IsStatic() {
			return true
		}
	}
	return false
}

// SizeDim returns the (possibly symbolic) extent of one axis. Negative axes
// count from the end.
func (t *Tensor) SizeDim(axis int) shapes.Dim { return t.Shape.Dim(axis) }

// StrideDim returns the (possibly symbolic) stride of one axis.
func (t *Tensor) StrideDim(axis int) shapes.Dim {
	if axis < 0 {
		axis += len(t.Strides)
	}
	if axis < 0 || axis >= len(t.Strides) {
		exceptions.Panicf("abstract.Tensor.StrideDim(%d) out-of-bounds for rank %d", axis, t.Rank())
	}
	return t.Strides[axis]
}

// Numel returns the element count as a symbolic expression; a literal when
// the shape is static.
func (t *Tensor) Numel() symbolic.Expr { return t.Shape.SymbolicSize() }

// IsFloatingPoint reports whether the element type is a float.
func (t *Tensor) IsFloatingPoint() bool { return t.DType().IsFloat() }

// SatisfiedFormats computes the memory formats the tensor satisfies. The
// result is the unknown sentinel for batched values (unsupported under the
// batching transform) and for symbolic layouts.
func (t *Tensor) SatisfiedFormats() shapes.FormatSet {
	if t.IsBatched || t.HasFreeSymbols() {
		return shapes.UnknownFormats()
	}
	dims, _ := t.Shape.StaticDims()
	strides := make([]int64, len(t.Strides))
	for i, s := range t.Strides {
		strides[i] = s.Value()
	}
	return shapes.SatisfiedFormats(dims, strides)
}

// IsContiguous reports whether the tensor satisfies the given memory format.
// The second result is false when contiguity is unknown.
func (t *Tensor) IsContiguous(format shapes.MemoryFormat) (bool, bool) {
	fs := t.SatisfiedFormats()
	if !fs.Known() {
		return false, false
	}
	return fs.Contains(format), true
}

// Index returns the abstract tensor obtained by selecting one position along
// the leading axis. It panics on scalars.
func (t *Tensor) Index(i int) *Tensor {
	if t.Rank() == 0 {
		exceptions.Panicf("abstract.Tensor.Index(%d): cannot index a scalar", i)
	}
	sub := *t
	sub.Shape = shapes.MakeDims(t.Shape.DType, t.Shape.Dims[1:]...)
	if len(t.Strides) > 0 {
		sub.Strides = t.Strides[1:]
	}
	return &sub
}

func (t *Tensor) String() string {
	return fmt.Sprintf("abstract.Tensor(%s, %s, %s)", t.Shape, t.Device, t.Layout)
}

// Scalar is an abstract scalar: a dtype plus a possibly-symbolic value.
type Scalar struct {
	DType dtypes.DType
	Value symbolic.Expr
}

// HasFreeSymbols reports whether the scalar's value is symbolic.
func (s Scalar) HasFreeSymbols() bool { return s.Value.HasFreeSymbols() }

func (s Scalar) String() string {
	return fmt.Sprintf("abstract.Scalar(%s, %s)", s.DType, s.Value)
}

// ScalarOf converts a concrete Go value into an abstract Scalar with a
// literal expression. Half-precision values are widened through
// float16.Float16.
func ScalarOf(value any) Scalar {
	switch v := value.(type) {
	case bool:
		return Scalar{DType: dtypes.Bool, Value: symbolic.NewBool(v)}
	case int:
		return Scalar{DType: dtypes.Int64, Value: symbolic.NewInt(int64(v))}
	case int32:
		return Scalar{DType: dtypes.Int32, Value: symbolic.NewInt(int64(v))}
	case int64:
		return Scalar{DType: dtypes.Int64, Value: symbolic.NewInt(v)}
	case float32:
		return Scalar{DType: dtypes.Float32, Value: symbolic.NewFloat(float64(v))}
	case float64:
		return Scalar{DType: dtypes.Float64, Value: symbolic.NewFloat(v)}
	case float16.Float16:
		return Scalar{DType: dtypes.Float16, Value: symbolic.NewFloat(float64(v.Float32()))}
	}
	exceptions.Panicf("abstract.ScalarOf: unsupported scalar type %T", value)
	return Scalar{}
}
