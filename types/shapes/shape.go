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

// Package shapes defines Shape, Dim, Device, Layout and the memory-format
// model used by the symbolic tracer.
//
// Unlike a shape attached to compiled code, a traced shape may have symbolic
// dimensions: a Dim is either a static int or a symbolic scalar expression
// (see github.com/gomlx/symtrace/types/symbolic). A Shape is *static* when
// every dimension is; only static shapes may answer Size and contiguity
// queries as compile-time constants.
//
// ## Glossary
//
//   - Rank: number of axes of a value.
//   - Axis: the index of a dimension. Negative axes count from the end.
//   - Dimension: the extent of one axis; here possibly symbolic.
//   - DType: element type, from github.com/gomlx/gopjrt/dtypes.
package shapes

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symtrace/types/symbolic"
	"golang.org/x/exp/constraints"
)

// Dim is one dimension of a shape: a static extent or a symbolic expression.
// The zero value is the static dimension 0, which no valid shape holds.
type Dim struct {
	value int64
	expr  symbolic.Expr // nil when static.
}

// DimOf returns a static dimension.
func DimOf[T constraints.Integer](value T) Dim {
	return Dim{value: int64(value)}
}

// SymbolicDim returns a dimension for expr. A fully-literal expression
// collapses to a static dimension.
func SymbolicDim(expr symbolic.Expr) Dim {
	expr = symbolic.Fold(expr)
	if lit, ok := expr.(symbolic.Literal); ok {
		return Dim{value: lit.Int()}
	}
	return Dim{expr: expr}
}

// IsStatic reports whether the dimension is a concrete integer.
func (d Dim) IsStatic() bool { return d.expr == nil }

// Value returns the static extent. It panics for symbolic dimensions.
func (d Dim) Value() int64 {
	if !d.IsStatic() {
		exceptions.Panicf("shapes.Dim.Value: dimension %s is symbolic", d)
	}
	return d.value
}

// Expr returns the dimension as a symbolic expression; static dimensions are
// returned as literals.
func (d Dim) Expr() symbolic.Expr {
	if d.IsStatic() {
		return symbolic.NewInt(d.value)
	}
	return d.expr
}

func (d Dim) String() string {
	if d.IsStatic() {
		return fmt.Sprintf("%d", d.value)
	}
	return d.expr.String()
}

// Shape represents the element type and dimensions of a traced value.
//
// Use Make for static shapes and MakeDims when dimensions may be symbolic.
type Shape struct {
	DType dtypes.DType
	Dims  []Dim
}

// Make returns a static Shape with the given dimensions.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dims: make([]Dim, len(dimensions))}
	for i, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with a negative dimension %d", dtype, dim)
		}
		s.Dims[i] = DimOf(dim)
	}
	return s
}

// MakeDims returns a Shape from possibly-symbolic dimensions.
func MakeDims(dtype dtypes.DType, dims ...Dim) Shape {
	return Shape{DType: dtype, Dims: dims}
}

// Scalar returns a rank-0 shape for the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// Invalid returns an invalid shape; Invalid().Ok() == false.
func Invalid() Shape { return Shape{DType: dtypes.InvalidDType} }

// Ok reports whether this is a valid Shape. The zero Shape is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dims) }

// IsScalar reports whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// IsStatic reports whether every dimension is concrete.
func (s Shape) IsStatic() bool {
	for _, d := range s.Dims {
		if !d.IsStatic() {
			return false
		}
	}
	return true
}

// Dim returns the dimension of the given axis. Negative axes count from the
// end, so axis=-1 is the last axis. It panics for out-of-bounds axes.
func (s Shape) Dim(axis int) Dim {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("shapes.Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dims[adjustedAxis]
}

// StaticDims returns the dimensions as plain ints, and whether the shape is
// fully static. Callers must not treat symbolic shapes as constants.
func (s Shape) StaticDims() ([]int64, bool) {
	if !s.IsStatic() {
		return nil, false
	}
	dims := make([]int64, s.Rank())
	for i, d := range s.Dims {
		dims[i] = d.Value()
	}
	return dims, true
}

// Size returns the number of elements of a static shape. It panics when a
// dimension is symbolic; use SymbolicSize for the general form.
func (s Shape) Size() int64 {
	dims, ok := s.StaticDims()
	if !ok {
		exceptions.Panicf("shapes.Shape.Size: shape %s has symbolic dimensions", s)
	}
	return Product(dims)
}

// SymbolicSize returns the element count as an expression; for static shapes
// the result is a literal.
func (s Shape) SymbolicSize() symbolic.Expr {
	size := symbolic.Expr(symbolic.NewInt(1))
	for _, d := range s.Dims {
		size = symbolic.NewBinary(symbolic.OpMul, size, d.Expr())
	}
	return size
}

// Memory returns the number of bytes a static shape occupies densely packed.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	s2 := Shape{DType: s.DType, Dims: make([]Dim, len(s.Dims))}
	copy(s2.Dims, s.Dims)
	return s2
}

// Equal reports whether the shapes have the same dtype and structurally equal
// dimensions.
func (s Shape) Equal(other Shape) bool {
	if s.DType != other.DType || s.Rank() != other.Rank() {
		return false
	}
	for i, d := range s.Dims {
		if !symbolic.Equal(d.Expr(), other.Dims[i].Expr()) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, printing as e.g. "(Float32)[2 s0 3]".
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid shape)"
	}
	parts := make([]string, s.Rank())
	for i, d := range s.Dims {
		parts[i] = d.String()
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Product multiplies the elements of dims. An empty slice yields 1, the
// element count of a scalar.
func Product[T constraints.Integer](dims []T) T {
	result := T(1)
	for _, d := range dims {
		result *= d
	}
	return result
}

// RowMajorStrides returns the dense row-major strides for dims.
func RowMajorStrides(dims []int64) []int64 {
	strides := make([]int64, len(dims))
	stride := int64(1)
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dims[axis]
	}
	return strides
}
