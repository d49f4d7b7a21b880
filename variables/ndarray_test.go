package variables

import (
	"testing"

	"github.com/gomlx/symtrace/graph"
	"github.com/gomlx/symtrace/trace"
	"github.com/gomlx/symtrace/types/abstract"
	"github.com/stretchr/testify/require"
)

func arrayOverTensor(t *testing.T, fr *trace.Frame) Variable {
	x := inputTensor(fr, nil, staticExample(2, 3))
	result := x.CallMethod(fr, "numpy", nil, nil)
	require.IsType(t, &NDArray{}, result)
	return result
}

func arrayOracle() *stubOracle {
	return &stubOracle{infer: func(node *graph.Node) (abstract.Value, error) {
		return staticExample(2, 3), nil
	}}
}

func TestNumpyConversion(t *testing.T) {
	fr, _ := newTestFrame(nil, arrayOracle(), nil)
	a := arrayOverTensor(t, fr)
	require.Equal(t, "numpy.ndarray", a.PythonType())
	// Plain numpy() is a zero-copy view.
	require.Equal(t, "view_as", a.ProxyNode().Target())

	x := inputTensor(fr, nil, staticExample(2, 3))
	forced := x.CallMethod(fr, "numpy", nil, map[string]Variable{"force": NewConstant(true)})
	require.Equal(t, "cpu", forced.ProxyNode().Target())
}

func TestNumpyGating(t *testing.T) {
	config := trace.DefaultConfig()
	config.TraceNDArray = false
	fr, _ := newTestFrame(config, nil, nil)
	x := inputTensor(fr, nil, staticExample(2))
	require.Error(t, trace.Run(func() { x.CallMethod(fr, "numpy", nil, nil) }))

	config2 := trace.DefaultConfig()
	config2.NDArrayBackendAvailable = false
	fr2, _ := newTestFrame(config2, nil, nil)
	y := inputTensor(fr2, nil, staticExample(2))
	require.Error(t, trace.Run(func() { y.CallMethod(fr2, "numpy", nil, nil) }))
}

func TestNDArrayAttributes(t *testing.T) {
	fr, _ := newTestFrame(nil, arrayOracle(), nil)
	a := arrayOverTensor(t, fr).(*NDArray)

	require.Equal(t, int64(2), constValue(t, a.ResolveAttribute(fr, "ndim")))
	require.Equal(t, int64(4), constValue(t, a.ResolveAttribute(fr, "itemsize")))
	require.Equal(t, []int64{2, 3}, constValue(t, a.ResolveAttribute(fr, "shape")))
	require.Equal(t, []int64{3, 1}, constValue(t, a.ResolveAttribute(fr, "strides")))
	require.Equal(t, int64(6), constValue(t, a.ResolveAttribute(fr, "size")))

	// Projection attributes translate into array-namespace operations.
	transposed := a.ResolveAttribute(fr, "T")
	require.IsType(t, &NDArray{}, transposed)
	require.Equal(t, "numpy.T", transposed.ProxyNode().Target())

	for _, name := range []string{"base", "flags", "dtype", "__version__"} {
		require.Error(t, trace.Run(func() { a.ResolveAttribute(fr, name) }), name)
	}
}

func TestNDArrayMethods(t *testing.T) {
	fr, _ := newTestFrame(nil, arrayOracle(), nil)
	a := arrayOverTensor(t, fr).(*NDArray)

	// Shared-representation names delegate to the tensor protocol.
	require.Equal(t, int64(2), constValue(t, a.CallMethod(fr, "__len__", nil, nil)))
	require.Equal(t, []any{int64(2), int64(3)}, constValue(t, a.CallMethod(fr, "size", nil, nil)))

	require.Error(t, trace.Run(func() { a.CallMethod(fr, "tobytes", nil, nil) }))

	// Everything else goes through name translation and stays an array.
	summed := a.CallMethod(fr, "sum", nil, nil)
	require.IsType(t, &NDArray{}, summed)
	require.Equal(t, "numpy.sum", summed.ProxyNode().Target())

	clipped := a.CallMethod(fr, "clip", nil, map[string]Variable{
		"a_min": NewConstant(0.0), "a_max": NewConstant(1.0),
	})
	kwargs := clipped.ProxyNode().Kwargs()
	require.Contains(t, kwargs, "min")
	require.Contains(t, kwargs, "max")
	require.NotContains(t, kwargs, "a_min")
}

func TestNDArrayUnpackKeepsKind(t *testing.T) {
	fr, _ := newTestFrame(nil, arrayOracle(), nil)
	a := arrayOverTensor(t, fr).(*NDArray)

	parts := a.UnpackSequence(fr, nil)
	require.Len(t, parts, 2)
	for _, part := range parts {
		require.IsType(t, &NDArray{}, part)
	}
}
