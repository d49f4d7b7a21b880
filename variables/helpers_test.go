package variables

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symtrace/graph"
	"github.com/gomlx/symtrace/source"
	"github.com/gomlx/symtrace/trace"
	"github.com/gomlx/symtrace/types/abstract"
	"github.com/gomlx/symtrace/types/shapes"
	"github.com/gomlx/symtrace/types/symbolic"
	"github.com/pkg/errors"
)

// stubOracle answers inference with a per-test rule and hands out fresh
// unbacked symbols.
type stubOracle struct {
	infer func(node *graph.Node) (abstract.Value, error)
	next  int
}

func (o *stubOracle) InferExampleValue(node *graph.Node) (abstract.Value, error) {
	if o.infer == nil {
		return nil, errors.Errorf("no inference rule for %s", node)
	}
	return o.infer(node)
}

func (o *stubOracle) CreateUnbackedSym() *symbolic.Sym {
	o.next++
	return symbolic.NewUnbacked(fmt.Sprintf("u%d", o.next))
}

// recordedGuards collects every guard the frame forwards.
type recordedGuards struct {
	guards []source.Guard
}

func (r *recordedGuards) InstallGuard(g source.Guard) {
	r.guards = append(r.guards, g)
}

func (r *recordedGuards) rendered() []string {
	out := make([]string, len(r.guards))
	for i, g := range r.guards {
		out[i] = g.Render()
	}
	return out
}

// stubWrapper wraps nodes the way the builder layer does: specialize tensors,
// lift scalars to symbolic scalars, pass everything else through as constants.
type stubWrapper struct {
	fr *trace.Frame
}

func (w *stubWrapper) WrapNode(node *graph.Node, src source.Source) trace.Variable {
	ev, ok := node.ExampleValue()
	if !ok {
		inferred, err := w.fr.Oracle.InferExampleValue(node)
		if err != nil {
			trace.Unsupportedf("wrap %s: %v", node, err)
		}
		node.SetExampleValue(inferred)
		ev = inferred
	}
	switch value := ev.(type) {
	case *abstract.Tensor:
		return SpecializeTensor(node, src, value)
	case abstract.Scalar:
		return NewSymScalar(w.fr, node, value.Value)
	}
	return NewConstant(ev)
}

func (w *stubWrapper) WrapValue(value any, src source.Source) trace.Variable {
	c := NewConstant(value)
	c.setSource(src)
	return c
}

// stubRebinder resolves provenance by rendered form.
type stubRebinder map[string]any

func (r stubRebinder) ReEvaluate(src source.Source) (any, error) {
	v, ok := r[src.Render()]
	if !ok {
		return nil, errors.Errorf("unbound source %s", src.Render())
	}
	return v, nil
}

// attrBag is a rebound runtime value with plain attribute reads.
type attrBag map[string]any

func (b attrBag) Attr(name string) (any, bool) {
	v, ok := b[name]
	return v, ok
}

func newTestFrame(config *trace.Config, oracle *stubOracle, bindings stubRebinder) (*trace.Frame, *recordedGuards) {
	if config == nil {
		config = trace.DefaultConfig()
	}
	if oracle == nil {
		oracle = &stubOracle{}
	}
	guards := &recordedGuards{}
	wrapper := &stubWrapper{}
	fr := trace.NewFrame("test", config, oracle, guards, wrapper, bindings)
	wrapper.fr = fr
	return fr, guards
}

// staticExample builds a contiguous CPU float32 abstract tensor.
func staticExample(dims ...int) *abstract.Tensor {
	shape := shapes.Make(dtypes.Float32, dims...)
	static, _ := shape.StaticDims()
	strides := shapes.RowMajorStrides(static)
	sdims := make([]shapes.Dim, len(strides))
	for i, s := range strides {
		sdims[i] = shapes.DimOf(s)
	}
	return &abstract.Tensor{
		Shape:   shape,
		Strides: sdims,
		Device:  shapes.MakeDevice(shapes.CPU, 0),
		Layout:  shapes.Strided,
	}
}

// inputTensor wraps a fresh placeholder specialized from value.
func inputTensor(fr *trace.Frame, src source.Source, value *abstract.Tensor) *Tensor {
	node := fr.Graph.Placeholder("x")
	node.SetExampleValue(value)
	return SpecializeTensor(node, src, value)
}
