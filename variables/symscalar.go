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
	"github.com/gomlx/symtrace/types/symbolic"
)

// SymScalar is a scalar whose value depends on symbolic dimensions: the
// result of a size query over a dynamic axis, or of a captured item() call.
// It carries the symbolic expression alongside its graph node so arithmetic
// over it can fold and guard without materializing values.
type SymScalar struct {
	node *graph.Node
	src  source.Source
	expr symbolic.Expr
}

var _ Variable = (*SymScalar)(nil)

// NewSymScalar wraps node carrying the given symbolic expression. A nil
// expression is recovered from the node's example value (consulting the
// oracle if the node has none yet). If the expression folds to a literal the
// result collapses to a plain constant: the symbolic carrier is only for
// values that are actually symbolic.
func NewSymScalar(fr *trace.Frame, node *graph.Node, expr symbolic.Expr) Variable {
	if ev, ok := node.ExampleValue(); ok {
		scalar, isScalar := ev.(abstract.Scalar)
		if !isScalar {
			exceptions.Panicf("variables: node %s carries a %T example value, expected a scalar", node, ev)
		}
		if expr == nil {
			expr = scalar.Value
		} else if !symbolic.Equal(expr, scalar.Value) {
			exceptions.Panicf("variables: node %s example value %s disagrees with expression %s",
				node, scalar.Value, expr)
		}
	} else {
		if expr == nil {
			inferred, err := fr.Oracle.InferExampleValue(node)
			if err != nil {
				trace.Unsupportedf("cannot infer a scalar example value for %s: %v", node, err)
			}
			scalar, isScalar := inferred.(abstract.Scalar)
			if !isScalar {
				exceptions.Panicf("variables: oracle produced %T for scalar node %s", inferred, node)
			}
			node.SetExampleValue(scalar)
			expr = scalar.Value
		} else {
			node.SetExampleValue(abstract.Scalar{DType: scalarDType(expr), Value: expr})
		}
	}
	if lit, ok := symbolic.Fold(expr).(symbolic.Literal); ok {
		return NewConstant(lit.Value)
	}
	return &SymScalar{node: node, expr: expr}
}

func scalarDType(expr symbolic.Expr) dtypes.DType {
	if b, ok := expr.(*symbolic.Binary); ok && b.Op.IsComparison() {
		return dtypes.Bool
	}
	return dtypes.Int64
}

// Expr returns the symbolic expression this scalar stands for.
func (s *SymScalar) Expr() symbolic.Expr { return s.expr }

// ProxyNode returns the graph node computing this scalar.
func (s *SymScalar) ProxyNode() *graph.Node { return s.node }

// PythonType reports SymBool for comparisons and SymInt otherwise.
func (s *SymScalar) PythonType() string {
	if scalarDType(s.expr) == dtypes.Bool {
		return "torch.SymBool"
	}
	return "torch.SymInt"
}

// AsConstant always fails: a symbolic scalar that folded to a constant would
// not have been built as one.
func (s *SymScalar) AsConstant() (any, bool) { return nil, false }

// Source returns the provenance of this scalar, if any.
func (s *SymScalar) Source() source.Source { return s.src }

func (s *SymScalar) setSource(src source.Source) { s.src = src }

// EvaluateExpr forces the scalar to its trace-time value, pinning every
// backed symbol it mentions behind an equality guard. Unbacked symbols have
// no value to pin: the resulting error aborts the trace.
func (s *SymScalar) EvaluateExpr(fr *trace.Frame) symbolic.Literal {
	lit, err := symbolic.Evaluate(s.expr, func(sym *symbolic.Sym, value int64) {
		fr.InstallGuard(source.SymbolGuard{Symbol: sym.Name, Value: value})
	})
	if err != nil {
		panic(err)
	}
	return lit
}

// ResolveAttribute declines all attribute access: symbolic scalars expose
// behavior through methods and arithmetic only.
func (s *SymScalar) ResolveAttribute(fr *trace.Frame, name string) Variable {
	trace.Unsupportedf("attribute %q on a symbolic scalar", name)
	return nil
}

// CallMethod always emits: even wrapper-type conversions like __float__ keep
// their symbolic identity, so the wrapper decides the result kind.
func (s *SymScalar) CallMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	nodeArgs := append([]any{s.node}, proxyArgs(args)...)
	node := fr.Graph.CreateProxyNode(graph.KindCallMethod, name, nodeArgs, proxyKwargs(kwargs))
	return fromTrace(fr.Wrapper.WrapNode(node, nil))
}
