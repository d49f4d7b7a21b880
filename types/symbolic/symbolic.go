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

// Package symbolic implements the scalar expressions used while tracing:
// integers, booleans and floats whose value may depend on symbolic dimensions
// that are only decided at run time.
//
// An Expr is one of Literal (a concrete value), *Sym (a named symbol) or
// *Binary (an operation over two sub-expressions). Symbols come in two
// flavors:
//
//   - Backed: the tracer observed a concrete value (the "hint") for the
//     symbol on the example inputs. Evaluating a backed symbol succeeds and
//     reports a guard so the compiled program is only reused when the symbol
//     takes the same value again.
//   - Unbacked: the value came out of data (e.g. reading an element of a
//     tensor) and no hint exists. Evaluating an unbacked symbol fails with a
//     DataDependentError.
//
// Expressions are immutable once built. Fold collapses fully-literal trees
// into a Literal; construction paths are expected to Fold before storing, so
// a symbolic expression held anywhere always has at least one free symbol.
package symbolic

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
)

// Expr is a symbolic scalar expression. Implementations: Literal, *Sym and
// *Binary.
type Expr interface {
	// HasFreeSymbols reports whether any symbol occurs in the expression.
	HasFreeSymbols() bool

	// String returns a parseable rendering of the expression.
	String() string
}

// Literal is a concrete scalar: int64, bool or float64.
type Literal struct {
	Value any
}

// NewInt returns an integer Literal.
func NewInt(v int64) Literal { return Literal{Value: v} }

// NewBool returns a boolean Literal.
func NewBool(v bool) Literal { return Literal{Value: v} }

// NewFloat returns a float Literal.
func NewFloat(v float64) Literal { return Literal{Value: v} }

// HasFreeSymbols for a Literal is always false.
func (l Literal) HasFreeSymbols() bool { return false }

func (l Literal) String() string { return fmt.Sprintf("%v", l.Value) }

// Int returns the literal as int64. It panics if the literal holds a bool or
// float.
func (l Literal) Int() int64 {
	v, ok := l.Value.(int64)
	if !ok {
		exceptions.Panicf("symbolic.Literal.Int: literal holds %T, not int64", l.Value)
	}
	return v
}

// Bool returns the literal as bool. It panics for non-bool literals.
func (l Literal) Bool() bool {
	v, ok := l.Value.(bool)
	if !ok {
		exceptions.Panicf("symbolic.Literal.Bool: literal holds %T, not bool", l.Value)
	}
	return v
}

// Sym is a named symbol, usually standing for one dynamic dimension of an
// input tensor.
type Sym struct {
	// Name identifies the symbol within one trace, e.g. "s0".
	Name string

	hint   int64
	backed bool
}

// NewBacked returns a symbol whose concrete value on the example inputs is
// known to be hint.
func NewBacked(name string, hint int64) *Sym {
	return &Sym{Name: name, hint: hint, backed: true}
}

// NewUnbacked returns a symbol with no example value: it originated from
// data, and nothing can be assumed about it while tracing.
func NewUnbacked(name string) *Sym {
	return &Sym{Name: name}
}

// IsBacked reports whether the symbol carries an example value.
func (s *Sym) IsBacked() bool { return s.backed }

// Hint returns the example value of a backed symbol. It panics on unbacked
// symbols.
func (s *Sym) Hint() int64 {
	if !s.backed {
		exceptions.Panicf("symbolic.Sym.Hint: symbol %q is unbacked", s.Name)
	}
	return s.hint
}

// HasFreeSymbols for a Sym is always true.
func (s *Sym) HasFreeSymbols() bool { return true }

func (s *Sym) String() string { return s.Name }

// BinaryOp enumerates the operations supported over scalar expressions. The
// set is deliberately small: what size arithmetic needs, nothing more.
type BinaryOp byte

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpFloorDiv
	OpMod
	OpMin
	OpMax
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var binaryOpNames = [...]string{"+", "-", "*", "//", "%", "min", "max", "==", "!=", "<", "<=", ">", ">="}

// String returns the operator's rendering, e.g. "+" or "//".
func (op BinaryOp) String() string {
	if int(op) >= len(binaryOpNames) {
		return fmt.Sprintf("BinaryOp(%d)", op)
	}
	return binaryOpNames[op]
}

// IsComparison reports whether the operation yields a boolean.
func (op BinaryOp) IsComparison() bool { return op >= OpEq }

// Binary applies Op to LHS and RHS.
type Binary struct {
	Op       BinaryOp
	LHS, RHS Expr
}

// NewBinary builds (and folds) an operation over two expressions.
func NewBinary(op BinaryOp, lhs, rhs Expr) Expr {
	return Fold(&Binary{Op: op, LHS: lhs, RHS: rhs})
}

// HasFreeSymbols reports whether either side mentions a symbol.
func (b *Binary) HasFreeSymbols() bool {
	return b.LHS.HasFreeSymbols() || b.RHS.HasFreeSymbols()
}

func (b *Binary) String() string {
	if b.Op == OpMin || b.Op == OpMax {
		return fmt.Sprintf("%s(%s, %s)", b.Op, b.LHS, b.RHS)
	}
	return fmt.Sprintf("(%s %s %s)", b.LHS, b.Op, b.RHS)
}

// FreeSymbols returns the symbols mentioned in expr, in first-occurrence
// order, without duplicates.
func FreeSymbols(expr Expr) []*Sym {
	var out []*Sym
	seen := make(map[*Sym]bool)
	var visit func(Expr)
	visit = func(e Expr) {
		switch e := e.(type) {
		case Literal:
		case *Sym:
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		case *Binary:
			visit(e.LHS)
			visit(e.RHS)
		default:
			exceptions.Panicf("symbolic.FreeSymbols: unknown expression type %T", e)
		}
	}
	visit(expr)
	return out
}

// Fold collapses fully-literal sub-trees. An expression without free symbols
// always folds to a Literal.
func Fold(expr Expr) Expr {
	b, ok := expr.(*Binary)
	if !ok {
		return expr
	}
	lhs, rhs := Fold(b.LHS), Fold(b.RHS)
	lLit, lOk := lhs.(Literal)
	rLit, rOk := rhs.(Literal)
	if lOk && rOk {
		return applyOp(b.Op, lLit, rLit)
	}
	if lhs != b.LHS || rhs != b.RHS {
		return &Binary{Op: b.Op, LHS: lhs, RHS: rhs}
	}
	return b
}

func applyOp(op BinaryOp, lhs, rhs Literal) Literal {
	l, lOk := lhs.Value.(int64)
	r, rOk := rhs.Value.(int64)
	if !lOk || !rOk {
		exceptions.Panicf("symbolic: operator %s over non-integer literals (%T, %T)", op, lhs.Value, rhs.Value)
	}
	switch op {
	case OpAdd:
		return NewInt(l + r)
	case OpSub:
		return NewInt(l - r)
	case OpMul:
		return NewInt(l * r)
	case OpFloorDiv:
		if r == 0 {
			exceptions.Panicf("symbolic: division by zero in %d // %d", l, r)
		}
		return NewInt(floorDiv(l, r))
	case OpMod:
		if r == 0 {
			exceptions.Panicf("symbolic: division by zero in %d %% %d", l, r)
		}
		return NewInt(l - floorDiv(l, r)*r)
	case OpMin:
		return NewInt(min(l, r))
	case OpMax:
		return NewInt(max(l, r))
	case OpEq:
		return NewBool(l == r)
	case OpNe:
		return NewBool(l != r)
	case OpLt:
		return NewBool(l < r)
	case OpLe:
		return NewBool(l <= r)
	case OpGt:
		return NewBool(l > r)
	case OpGe:
		return NewBool(l >= r)
	}
	exceptions.Panicf("symbolic: unknown operator %d", op)
	return Literal{}
}

// floorDiv rounds towards negative infinity, matching the source-language
// convention for size arithmetic.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Equal reports whether two expressions are structurally identical. Symbols
// compare by identity.
func Equal(a, b Expr) bool {
	switch a := a.(type) {
	case Literal:
		b, ok := b.(Literal)
		return ok && a.Value == b.Value
	case *Sym:
		return a == b
	case *Binary:
		bb, ok := b.(*Binary)
		return ok && a.Op == bb.Op && Equal(a.LHS, bb.LHS) && Equal(a.RHS, bb.RHS)
	}
	return false
}

// GuardFn receives the symbols a guarded evaluation committed to, with the
// concrete value each one was pinned at.
type GuardFn func(sym *Sym, value int64)

// DataDependentError reports that evaluating an expression required the value
// of an unbacked symbol: data the tracer cannot see. The message includes the
// remediation (an explicit size-constraint annotation) because the user, not
// the compiler, holds the missing information.
type DataDependentError struct {
	Sym  *Sym
	Expr Expr
}

func (e *DataDependentError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot extract a concrete value from %s: symbol %s depends on tensor data not available while tracing.", e.Expr, e.Sym.Name)
	b.WriteString(" Consider annotating the value with an explicit size constraint so it can be treated as a known quantity.")
	return b.String()
}

// Evaluate forces a concrete value out of expr. Backed symbols resolve to
// their hint and are reported through guard (which may be nil); meeting an
// unbacked symbol returns a *DataDependentError.
func Evaluate(expr Expr, guard GuardFn) (Literal, error) {
	var eval func(Expr) (Expr, error)
	eval = func(e Expr) (Expr, error) {
		switch e := e.(type) {
		case Literal:
			return e, nil
		case *Sym:
			if !e.IsBacked() {
				return nil, &DataDependentError{Sym: e, Expr: expr}
			}
			if guard != nil {
				guard(e, e.Hint())
			}
			return NewInt(e.Hint()), nil
		case *Binary:
			lhs, err := eval(e.LHS)
			if err != nil {
				return nil, err
			}
			rhs, err := eval(e.RHS)
			if err != nil {
				return nil, err
			}
			return applyOp(e.Op, lhs.(Literal), rhs.(Literal)), nil
		}
		exceptions.Panicf("symbolic.Evaluate: unknown expression type %T", e)
		return nil, nil
	}
	result, err := eval(expr)
	if err != nil {
		return Literal{}, err
	}
	return result.(Literal), nil
}
