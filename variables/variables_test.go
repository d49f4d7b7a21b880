package variables

import (
	"testing"

	"github.com/gomlx/symtrace/trace"
	"github.com/stretchr/testify/require"
)

func TestConstantPythonTypes(t *testing.T) {
	for _, c := range []struct {
		value any
		want  string
	}{
		{nil, "NoneType"},
		{true, "bool"},
		{int64(3), "int"},
		{1.5, "float"},
		{"x", "str"},
	} {
		require.Equal(t, c.want, NewConstant(c.value).PythonType())
	}
}

func TestListConstantFolding(t *testing.T) {
	allConst := NewList([]Variable{NewConstant(int64(1)), NewConstant(int64(2))})
	require.Equal(t, []any{int64(1), int64(2)}, constValue(t, allConst))

	fr, _ := newTestFrame(nil, nil, nil)
	x := inputTensor(fr, nil, staticExample(2))
	mixed := NewList([]Variable{NewConstant(int64(1)), x})
	_, ok := mixed.AsConstant()
	require.False(t, ok)
}

func TestProxyArgsBakeConstants(t *testing.T) {
	fr, _ := newTestFrame(nil, nil, nil)
	x := inputTensor(fr, nil, staticExample(2))

	args := proxyArgs([]Variable{NewConstant(int64(7)), x})
	require.Equal(t, int64(7), args[0])
	require.Equal(t, x.ProxyNode(), args[1])
}

func TestScalarVariants(t *testing.T) {
	fr, _ := newTestFrame(nil, nil, nil)
	base := inputTensor(fr, nil, staticExample())

	u := NewUnspecializedScalar(base, 3.5, true)
	require.Equal(t, 3.5, u.Raw())
	require.True(t, u.NeedUnwrap())
	require.Equal(t, "float", u.PythonType())
	require.Equal(t, base.ProxyNode(), u.ProxyNode())
	_, isConst := u.AsConstant()
	require.False(t, isConst, "the raw value must never leak as a graph constant")

	require.Equal(t, "int", NewUnspecializedScalar(base, 7, false).PythonType())
	require.Equal(t, "bool", NewUnspecializedScalar(base, true, false).PythonType())

	o := NewOpaqueScalarResult(base)
	require.Equal(t, base.ProxyNode(), o.ProxyNode())
	_, isConst = o.AsConstant()
	require.False(t, isConst)
}

func TestConstantsRejectDispatch(t *testing.T) {
	fr, _ := newTestFrame(nil, nil, nil)
	c := NewConstant(int64(1))
	require.Error(t, trace.Run(func() { c.ResolveAttribute(fr, "real") }))
	require.Error(t, trace.Run(func() { c.CallMethod(fr, "bit_length", nil, nil) }))
}
