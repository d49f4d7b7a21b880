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
	"strconv"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symtrace/graph"
	"github.com/gomlx/symtrace/source"
	"github.com/gomlx/symtrace/trace"
	"github.com/gomlx/symtrace/types/abstract"
	"github.com/gomlx/symtrace/types/shapes"
	"github.com/gomlx/symtrace/types/symbolic"
)

// methodHandler handles one named tensor method. A nil result means the
// handler declines (wrong arity, metadata not available, ...) and dispatch
// falls through to graph emission. Handlers abort the trace themselves when
// the call has no sound representation.
type methodHandler func(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable

// tensorMethods is the dispatch table. Populated in init to allow handlers
// that re-enter dispatch (e.g. add_ with a scaling factor).
var tensorMethods map[string]methodHandler

func init() {
	tensorMethods = map[string]methodHandler{
		"size":       methodSize,
		"stride":     methodStride,
		"numel":      methodNumel,
		"nelement":   methodNumel,
		"dim":        methodDim,
		"ndimension": methodDim,

		"is_floating_point": methodIsFloatingPoint,
		"is_contiguous":     methodIsContiguous,
		"type":              methodType,
		"as_subclass":       methodAsSubclass,
		"get_device":        methodGetDevice,
		"element_size":      methodElementSize,

		"numpy":  methodNumpy,
		"tolist": methodTolist,

		"backward": func(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
			trace.Unsupportedf("Tensor.backward")
			return nil
		},
		"data_ptr": func(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
			trace.Unsupportedf("Tensor.data_ptr")
			return nil
		},
		"item": methodItem,

		"__len__":      methodLen,
		"__setitem__":  methodSetItem,
		"__contains__": methodContains,

		"resize_": func(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
			trace.Unsupportedf("Tensor.resize_")
			return nil
		},
		"resize_as_": func(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
			trace.Unsupportedf("Tensor.resize_as_")
			return nil
		},
		"set_":     methodSet,
		"add_":     methodAddInPlace,
		"addcdiv_": methodAddcdivInPlace,

		"redistribute":                      methodRedistribute,
		"register_hook":                     registerHookHandler("register_hook"),
		"register_post_accumulate_grad_hook": registerHookHandler("register_post_accumulate_grad_hook"),
		"requires_grad_":                    methodRequiresGrad,
		"new":                               methodNew,
	}
}

// CallMethod implements method dispatch: strict-mode check, then the named
// handler (which may decline), then graph emission wrapping the result as
// the same concrete kind as self.
func (t *Tensor) CallMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	if fr.Config.IsBanned(name) {
		trace.Unsupportedf("illegal method invocation %q in strict mode", name)
	}
	if handler, ok := tensorMethods[name]; ok {
		if result := handler(t, fr, args, kwargs); result != nil {
			return result
		}
	}
	return t.emitMethod(fr, name, args, kwargs)
}

// emitMethod records a deferred method call over self and wraps the node.
func (t *Tensor) emitMethod(fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	nodeArgs := append([]any{t.fields.Node}, proxyArgs(args)...)
	node := fr.Graph.CreateProxyNode(graph.KindCallMethod, name, nodeArgs, proxyKwargs(kwargs))
	return t.rewrap(fr, node)
}

// emitFunction records a deferred free-function call and wraps the result as
// a plain tensor variable.
func emitFunction(fr *trace.Frame, target string, args []Variable, kwargs map[string]Variable) Variable {
	node := fr.Graph.CreateProxyNode(graph.KindCallFunction, target, proxyArgs(args), proxyKwargs(kwargs))
	return rewrapAs(fr, node, func(n *graph.Node, v *abstract.Tensor) Variable {
		return SpecializeTensor(n, nil, v)
	})
}

// constIntArg extracts an integer from a constant or symbolic-scalar
// argument, pinning symbolic values behind guards. The second result is
// false when the argument is neither.
func constIntArg(fr *trace.Frame, v Variable) (int64, bool) {
	switch v := v.(type) {
	case *Constant:
		switch value := v.value.(type) {
		case int:
			return int64(value), true
		case int32:
			return int64(value), true
		case int64:
			return value, true
		}
		return 0, false
	case *SymScalar:
		return v.EvaluateExpr(fr).Int(), true
	}
	return 0, false
}

// constBoolArg extracts a boolean constant argument.
func constBoolArg(v Variable) (bool, bool) {
	c, ok := v.(*Constant)
	if !ok {
		return false, false
	}
	b, ok := c.value.(bool)
	return b, ok
}

func methodSize(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	return sizeOrStride(t, fr, "size", args, kwargs)
}

func methodStride(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	return sizeOrStride(t, fr, "stride", args, kwargs)
}

// sizeOrStride prefers static metadata, then the oracle's example value when
// it is symbol-free; otherwise it declines and the query stays in the graph.
func sizeOrStride(t *Tensor, fr *trace.Frame, name string, args []Variable, kwargs map[string]Variable) Variable {
	if len(kwargs) > 0 || len(args) > 1 {
		return nil
	}
	hasDim := len(args) == 1
	var dim int64
	if hasDim {
		var ok bool
		dim, ok = constIntArg(fr, args[0])
		if !ok {
			return nil
		}
	}

	known, values := t.fields.HasSize, t.fields.Size
	if name == "stride" {
		known, values = t.fields.HasStride, t.fields.Stride
	}
	makeResult := func(dims []int64) Variable {
		if name == "size" {
			return SizeOfInts(dims)
		}
		return NewConstant(append([]int64(nil), dims...))
	}
	pick := func(dims []int64) Variable {
		axis := dim
		if axis < 0 {
			axis += int64(len(dims))
		}
		if axis < 0 || axis >= int64(len(dims)) {
			trace.Unsupportedf("Tensor.%s(%d) out of range for rank %d", name, dim, len(dims))
		}
		return NewConstant(dims[axis])
	}

	if known {
		if !hasDim {
			return makeResult(values)
		}
		return pick(values)
	}

	// It might still be constant: consult the example value.
	ev, ok := t.exampleTensor()
	if !ok {
		return nil
	}
	evDims := make([]shapes.Dim, 0, ev.Rank())
	if name == "size" {
		evDims = append(evDims, ev.Shape.Dims...)
	} else {
		evDims = append(evDims, ev.Strides...)
	}
	static := make([]int64, len(evDims))
	for i, d := range evDims {
		if !d.IsStatic() {
			// Symbolic component: the answer stays in the graph.
			return nil
		}
		// Cast to a fixed-width integer for safety, in case a symbolic value
		// refined to a constant.
		static[i] = d.Value()
	}
	if !hasDim {
		return makeResult(static)
	}
	return pick(static)
}

func methodNumel(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) > 0 || len(kwargs) > 0 {
		return nil
	}
	if t.fields.HasSize {
		return NewConstant(shapes.Product(t.fields.Size))
	}
	if ev, ok := t.exampleTensor(); ok {
		if numel, isLit := symbolic.Fold(ev.Numel()).(symbolic.Literal); isLit {
			return NewConstant(numel.Int())
		}
	}
	return nil
}

func methodDim(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) > 0 || len(kwargs) > 0 || t.fields.NDim == nil {
		return nil
	}
	return NewConstant(int64(*t.fields.NDim))
}

func methodIsFloatingPoint(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) > 0 || len(kwargs) > 0 {
		return nil
	}
	if t.fields.DType != dtypes.InvalidDType {
		return NewConstant(t.fields.DType.IsFloat())
	}
	if ev, ok := t.exampleTensor(); ok {
		return NewConstant(ev.IsFloatingPoint())
	}
	return nil
}

func methodIsContiguous(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	format := shapes.ContiguousFormat
	formatArg, ok := popArg(args, kwargs, 0, "memory_format")
	if ok {
		value, isConst := formatArg.AsConstant()
		if !isConst {
			return nil
		}
		mf, isFormat := value.(shapes.MemoryFormat)
		if !isFormat {
			return nil
		}
		format = mf
	}
	if t.fields.Contiguity.Known() {
		return NewConstant(t.fields.Contiguity.Contains(format))
	}
	if ev, ok := t.exampleTensor(); ok {
		if contiguous, known := ev.IsContiguous(format); known {
			return NewConstant(contiguous)
		}
	}
	return nil
}

func methodType(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) == 0 {
		if t.fields.DType == dtypes.InvalidDType || !t.fields.Device.Ok() {
			return nil
		}
		name, ok := shapes.LegacyTypeName(t.fields.DType, t.fields.Device)
		if !ok {
			return nil
		}
		return NewConstant(name)
	}
	value, isConst := args[0].AsConstant()
	if !isConst {
		return nil
	}
	tensorType, isType := value.(TensorType)
	if !isType {
		return nil
	}
	// Graph nodes cannot carry type objects; pass the legacy type as a
	// string, which the zero-argument form above also understands.
	callArgs := []Variable{NewConstant(string(tensorType))}
	callKwargs := map[string]Variable{}
	if nonBlocking, ok := popArg(args[1:], kwargs, 0, "non_blocking"); ok {
		if b, isBool := constBoolArg(nonBlocking); isBool && b {
			callKwargs["non_blocking"] = nonBlocking
		}
	}
	nodeArgs := append([]any{t.fields.Node}, proxyArgs(callArgs)...)
	node := fr.Graph.CreateProxyNode(graph.KindCallMethod, "type", nodeArgs, proxyKwargs(callKwargs))
	return fromTrace(fr.Wrapper.WrapNode(node, nil))
}

// methodAsSubclass rewires self into the operator-overload-aware composite.
// It only applies for a subclass-constructor argument with known provenance;
// anything else declines into default dispatch.
func methodAsSubclass(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) != 1 || len(kwargs) > 0 {
		return nil
	}
	cls, ok := args[0].(*SubclassConstructor)
	if !ok || cls.Source() == nil {
		return nil
	}
	overrideFn := cls.resolveOverrideFunction(fr)
	return NewTensorWithOverride(t, cls.Class(), overrideFn)
}

func methodGetDevice(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) > 0 || len(kwargs) > 0 || !t.fields.Device.Ok() {
		return nil
	}
	return NewConstant(int64(t.fields.Device.AcceleratorIndex()))
}

func methodElementSize(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) > 0 || len(kwargs) > 0 || t.fields.DType == dtypes.InvalidDType {
		return nil
	}
	return NewConstant(int64(t.fields.DType.Memory()))
}

func methodNumpy(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if !fr.Config.TraceNDArray {
		trace.Unsupportedf("Tensor.numpy(): ndarray interop is disabled")
	}
	if !fr.Config.NDArrayBackendAvailable {
		trace.Unsupportedf("Tensor.numpy(): no array backend is available")
	}
	if t.fields.Layout != nil && *t.fields.Layout != shapes.Strided {
		trace.Unsupportedf("Tensor.numpy(): cannot convert a %s layout tensor", *t.fields.Layout)
	}
	force := false
	if forceArg, ok := popArg(args, kwargs, 0, "force"); ok {
		force, _ = constBoolArg(forceArg)
	}
	var node *graph.Node
	if force {
		// force=True preserves semantics: drop gradients, move to host.
		detached := t.CallMethod(fr, "detach", nil, nil)
		node = fr.Graph.CreateProxyNode(graph.KindCallMethod, "cpu", []any{detached.ProxyNode()}, nil)
	} else {
		// A zero-copy view of self: lets host-incompatible devices still
		// answer attribute queries through the wrapper.
		node = fr.Graph.CreateProxyNode(graph.KindCallMethod, "view_as", []any{t.fields.Node, t.fields.Node}, nil)
	}
	return NewNDArrayFromNode(fr, node)
}

// tolistDTypes are the element types tolist accepts.
var tolistDTypes = map[dtypes.DType]bool{
	dtypes.Int8: true, dtypes.Int16: true, dtypes.Int32: true, dtypes.Int64: true,
}

func methodTolist(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) > 0 || len(kwargs) > 0 {
		return nil
	}
	ev, ok := t.exampleTensor()
	if !ok {
		trace.Unsupportedf("Tensor.tolist with no example value")
	}
	if !tolistDTypes[ev.DType()] {
		trace.Unsupportedf("Tensor.tolist requires an integer tensor, got %s", ev.DType())
	}
	var build func(value *abstract.Tensor, node *graph.Node) Variable
	build = func(value *abstract.Tensor, node *graph.Node) Variable {
		if value.Rank() == 0 {
			itemNode := fr.Graph.CreateProxyNode(graph.KindCallMethod, "item", []any{node}, nil)
			sym := fr.Oracle.CreateUnbackedSym()
			itemNode.SetExampleValue(abstract.Scalar{DType: value.DType(), Value: sym})
			return NewSymScalar(fr, itemNode, sym)
		}
		length := staticOrGuardedDim(fr, value.SizeDim(0))
		items := make([]Variable, length)
		for i := range items {
			subNode := fr.Graph.CreateProxyNode(graph.KindCallFunction, "getitem", []any{node, int64(i)}, nil)
			items[i] = build(value.Index(i), subNode)
		}
		return NewList(items)
	}
	return build(ev, t.fields.Node)
}

// staticOrGuardedDim forces a dimension to a concrete extent, pinning backed
// symbols behind guards.
func staticOrGuardedDim(fr *trace.Frame, d shapes.Dim) int64 {
	if d.IsStatic() {
		return d.Value()
	}
	lit, err := symbolic.Evaluate(d.Expr(), func(sym *symbolic.Sym, value int64) {
		fr.InstallGuard(source.SymbolGuard{Symbol: sym.Name, Value: value})
	})
	if err != nil {
		panic(err)
	}
	return lit.Int()
}

func methodItem(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if !fr.Config.CaptureScalarOutputs {
		trace.Unsupportedf("Tensor.item")
	}
	// Capture enabled: default dispatch records the call and the oracle
	// produces an unbacked scalar.
	return nil
}

func methodLen(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) > 0 || len(kwargs) > 0 {
		return nil
	}
	return t.CallMethod(fr, "size", []Variable{NewConstant(int64(0))}, nil)
}

// hasBoolMask reports whether the index expression contains a boolean (or
// int8) tensor mask, recursing into sequences. Any tensor-backed kind can be
// a mask, not just the base Tensor.
func hasBoolMask(v Variable) bool {
	switch v := v.(type) {
	case tensorBacked:
		f := v.tensorFields()
		return f.DType == dtypes.Bool || f.DType == dtypes.Int8
	case *List:
		for _, item := range v.items {
			if hasBoolMask(item) {
				return true
			}
		}
	case *Size:
		for _, item := range v.items {
			if hasBoolMask(item) {
				return true
			}
		}
	}
	return false
}

func methodSetItem(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) != 2 || len(kwargs) > 0 {
		return nil
	}
	key, value := args[0], args[1]
	if backed, ok := value.(tensorBacked); ok && hasBoolMask(key) {
		f := backed.tensorFields()
		if f.RequiresGrad != nil && *f.RequiresGrad && fr.Config.GradEnabled {
			// No sound backward formulation for boolean-mask assignment of a
			// gradient-tracked value.
			trace.Unsupportedf("boolean masking setitem of a tensor that requires grad")
		}
	}
	fr.Graph.CreateProxyNode(graph.KindCallFunction, "setitem",
		append([]any{t.fields.Node}, proxyArgs(args)...), nil)
	return None()
}

func methodSet(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) > 1 {
		// set_ has several historical overloads beyond the single-source
		// form; guessing which is unsafe.
		trace.Unsupportedf("Tensor.set_ with storage offset arguments")
	}
	return nil
}

// methodAddInPlace rewrites add_(other, alpha=a) as add_(other*a), so the
// graph never needs the fused scaling argument.
func methodAddInPlace(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	alpha, ok := kwargs["alpha"]
	if !ok || len(args) != 1 {
		return nil
	}
	scaled := emitFunction(fr, "torch.mul", []Variable{args[0], alpha}, nil)
	return t.CallMethod(fr, "add_", []Variable{scaled}, nil)
}

// methodAddcdivInPlace rewrites addcdiv_(t1, t2, value=v) as
// add_(t1/t2*v), for the same reason as add_.
func methodAddcdivInPlace(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	value, ok := kwargs["value"]
	if !ok || len(args) != 2 {
		return nil
	}
	quotient := emitFunction(fr, "torch.div", []Variable{args[0], args[1]}, nil)
	scaled := emitFunction(fr, "torch.mul", []Variable{quotient, value}, nil)
	return t.CallMethod(fr, "add_", []Variable{scaled}, nil)
}

// methodContains rewrites `x in self` as (self == x).any().item(), composing
// deferred operations so later passes never see an unbacked symbolic bool
// directly. The item call is gated by the scalar-capture policy.
func methodContains(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) != 1 || len(kwargs) > 0 {
		return nil
	}
	eq := emitFunction(fr, "torch.eq", []Variable{t, args[0]}, nil)
	reduced := emitFunction(fr, "torch.any", []Variable{eq}, nil)
	return reduced.CallMethod(fr, "item", nil, nil)
}

// methodRedistribute bakes all arguments into the deferred callee, keeping
// the node signature to a single tensor input.
func methodRedistribute(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	baked := make(map[string]any, len(args)+len(kwargs))
	for i, arg := range args {
		value, ok := arg.AsConstant()
		if !ok {
			trace.Unsupportedf("Tensor.redistribute argument %d is not a constant", i)
		}
		baked[argKey(i)] = value
	}
	for k, v := range kwargs {
		value, ok := v.AsConstant()
		if !ok {
			trace.Unsupportedf("Tensor.redistribute argument %q is not a constant", k)
		}
		baked[k] = value
	}
	node := fr.Graph.CreateProxyNode(graph.KindCallFunction, "prim_redistribute", []any{t.fields.Node}, baked)
	return t.rewrap(fr, node)
}

func argKey(i int) string { return "arg" + strconv.Itoa(i) }

// registerHookHandler builds the handler for one hook-registration method.
// With provenance the registration is a replayable side effect; without it,
// recording is only sound under second-order (gradient-graph) capture.
func registerHookHandler(name string) methodHandler {
	return func(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
		if len(args) != 1 || len(kwargs) > 0 {
			return nil
		}
		hook := args[0]
		if t.fields.Source == nil {
			if !fr.Config.CompiledBackwardCapture {
				// Arbitrary hook bodies cannot be deferred into a
				// first-order forward-only trace.
				trace.Unsupportedf("%s on an intermediate requires compiled backward capture", name)
			}
			node := fr.Graph.CreateProxyNode(graph.KindCallFunction, "register_hook_trampoline",
				[]any{t.fields.Node}, map[string]any{"method": name})
			return t.rewrap(fr, node)
		}
		fr.RecordSideEffect(trace.HookSideEffect{Method: name, Target: t, Hook: hook})
		return NewRemovableHandle()
	}
}

// methodRequiresGrad succeeds as identity only when the requested flag
// matches the oracle's current answer; flipping gradient tracking mid-trace
// is not modeled.
func methodRequiresGrad(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) > 1 || len(kwargs) > 0 {
		return nil
	}
	requested := true
	if len(args) == 1 {
		b, ok := constBoolArg(args[0])
		if !ok {
			return nil
		}
		requested = b
	}
	ev, ok := t.exampleTensor()
	if !ok || ev.RequiresGrad != requested {
		trace.Unsupportedf("Tensor.requires_grad_")
	}
	return t
}

// methodNew rewrites x.new(size) into x.new_empty(size): new acts
// differently for a Size argument versus a tuple, and the two must not be
// conflated.
func methodNew(t *Tensor, fr *trace.Frame, args []Variable, kwargs map[string]Variable) Variable {
	if len(args) != 1 {
		return nil
	}
	if _, ok := args[0].(*Size); !ok {
		return nil
	}
	return t.CallMethod(fr, "new_empty", args, kwargs)
}

// popArg returns the positional argument at index, or the named keyword
// argument.
func popArg(args []Variable, kwargs map[string]Variable, index int, name string) (Variable, bool) {
	if index < len(args) {
		return args[index], true
	}
	v, ok := kwargs[name]
	return v, ok
}
