package variables

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symtrace/graph"
	"github.com/gomlx/symtrace/trace"
	"github.com/gomlx/symtrace/types/abstract"
	"github.com/gomlx/symtrace/types/symbolic"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func scalarNode(fr *trace.Frame) *graph.Node {
	x := fr.Graph.Placeholder("x")
	return fr.Graph.CreateProxyNode(graph.KindCallMethod, "item", []any{x}, nil)
}

// A symbol-free expression never produces a symbolic carrier.
func TestSymScalarCollapsesToConstant(t *testing.T) {
	fr, _ := newTestFrame(nil, nil, nil)
	node := scalarNode(fr)

	result := NewSymScalar(fr, node, symbolic.NewInt(6))
	c, ok := result.(*Constant)
	require.True(t, ok, "got %T", result)
	require.Equal(t, int64(6), constValue(t, c))

	// Folding happens before the decision: 2*3 is as constant as 6.
	node2 := scalarNode(fr)
	product := symbolic.NewBinary(symbolic.OpMul, symbolic.NewInt(2), symbolic.NewInt(3))
	require.IsType(t, &Constant{}, NewSymScalar(fr, node2, product))
}

func TestSymScalarKeepsSymbolicExpressions(t *testing.T) {
	fr, _ := newTestFrame(nil, nil, nil)
	s0 := symbolic.NewBacked("s0", 8)
	node := scalarNode(fr)

	result := NewSymScalar(fr, node, s0)
	sym, ok := result.(*SymScalar)
	require.True(t, ok, "got %T", result)
	require.Equal(t, node, sym.ProxyNode())
	require.Equal(t, "torch.SymInt", sym.PythonType())

	// The node's example value was recorded along the way.
	ev, recorded := node.ExampleValue()
	require.True(t, recorded)
	require.Equal(t, dtypes.Int64, ev.(abstract.Scalar).DType)

	_, isConst := sym.AsConstant()
	require.False(t, isConst)
}

func TestSymScalarConsistencyCheck(t *testing.T) {
	fr, _ := newTestFrame(nil, nil, nil)
	s0 := symbolic.NewBacked("s0", 8)
	s1 := symbolic.NewBacked("s1", 4)
	node := scalarNode(fr)
	node.SetExampleValue(abstract.Scalar{DType: dtypes.Int64, Value: s0})

	// Same expression: fine.
	require.IsType(t, &SymScalar{}, NewSymScalar(fr, node, s0))
	// A nil expression recovers the recorded one.
	recovered := NewSymScalar(fr, node, nil).(*SymScalar)
	require.True(t, symbolic.Equal(s0, recovered.Expr()))
	// A different expression is a modeling bug, not a trace abort.
	require.Panics(t, func() { NewSymScalar(fr, node, s1) })
}

func TestEvaluateExprPinsBackedSymbols(t *testing.T) {
	fr, guards := newTestFrame(nil, nil, nil)
	s0 := symbolic.NewBacked("s0", 8)
	expr := symbolic.NewBinary(symbolic.OpMul, s0, symbolic.NewInt(2))
	sym := NewSymScalar(fr, scalarNode(fr), expr).(*SymScalar)

	lit := sym.EvaluateExpr(fr)
	require.Equal(t, int64(16), lit.Int())
	require.Contains(t, guards.rendered(), "s0 == 8")

	// Evaluating again re-installs the same guard; the frame dedupes.
	sym.EvaluateExpr(fr)
	require.Len(t, guards.guards, 1)
}

func TestEvaluateExprUnbackedIsDataDependent(t *testing.T) {
	oracle := &stubOracle{}
	fr, _ := newTestFrame(nil, oracle, nil)
	sym := NewSymScalar(fr, scalarNode(fr), oracle.CreateUnbackedSym()).(*SymScalar)

	err := trace.Run(func() { sym.EvaluateExpr(fr) })
	require.Error(t, err)
	var dde *symbolic.DataDependentError
	require.True(t, errors.As(err, &dde))
	require.Contains(t, err.Error(), "size constraint")
}

func TestSymScalarComparisonType(t *testing.T) {
	fr, _ := newTestFrame(nil, nil, nil)
	s0 := symbolic.NewBacked("s0", 8)
	cmp := symbolic.NewBinary(symbolic.OpEq, s0, symbolic.NewInt(3))
	sym := NewSymScalar(fr, scalarNode(fr), cmp).(*SymScalar)
	require.Equal(t, "torch.SymBool", sym.PythonType())
}
