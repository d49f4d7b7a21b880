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

// Package trace holds the frame-level state of one symbolic trace attempt:
// the configuration context, the collaborator interfaces the variable layer
// consumes (metadata oracle, guard installer, value wrapper, provenance
// re-binder), the installed-guard set, the side-effect queue, and the
// signals that abort a trace.
//
// ## Error model
//
// Tracing follows the deferred error-handling style of graph building: the
// dominant failure, "unsupported construct", is thrown as an exception (a
// panic carrying Unsupported) rather than threaded through every return
// value, and recovered exactly once, at the frame boundary, by Run. The
// interpreter then falls back to real execution for the enclosing region.
//
// Two conditions are deliberately different:
//
//   - A data-dependent evaluation failure (symbolic.DataDependentError) is a
//     user-actionable diagnostic, carried as an ordinary error value so
//     remediation text survives to the user.
//   - A modeling inconsistency (e.g. an oracle example value disagreeing
//     with a freshly supplied one) panics via exceptions.Panicf and is NOT
//     recovered by Run: the whole trace is broken, not one region.
package trace

import (
	"fmt"

	"github.com/gomlx/symtrace/graph"
	"github.com/gomlx/symtrace/source"
	"github.com/gomlx/symtrace/types/abstract"
	"github.com/gomlx/symtrace/types/symbolic"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Unsupported aborts the current trace attempt: the operation has no sound
// symbolic representation. It is recoverable at the frame boundary (see Run)
// and never anywhere else.
type Unsupported struct {
	Reason string
}

func (u Unsupported) Error() string {
	return fmt.Sprintf("unsupported construct: %s", u.Reason)
}

// Unsupportedf throws an Unsupported with a formatted reason.
func Unsupportedf(format string, args ...any) {
	panic(Unsupported{Reason: fmt.Sprintf(format, args...)})
}

// Run executes fn, converting a thrown Unsupported into a returned error.
// Data-dependent errors surfaced by fn as panics are also converted,
// preserving errors.As access to the diagnostic. Any other panic -- modeling
// inconsistencies included -- propagates.
func Run(fn func()) (err error) {
	defer func() {
		exception := recover()
		if exception == nil {
			return
		}
		if u, ok := exception.(Unsupported); ok {
			klog.V(1).Infof("trace aborted: %s", u.Reason)
			err = errors.WithStack(u)
			return
		}
		if dd, ok := exception.(*symbolic.DataDependentError); ok {
			klog.V(1).Infof("trace aborted (data-dependent): %s", dd)
			err = errors.WithStack(dd)
			return
		}
		panic(exception)
	}()
	fn()
	return
}

// Config gates trace-time behavior. It is threaded explicitly through the
// Frame into every entry point of the subsystem; there is no ambient state.
type Config struct {
	// StrictChecksEnabled activates the banned-op list below on every
	// attribute resolution and method dispatch.
	StrictChecksEnabled bool

	// StrictBannedOps are attribute/method names rejected in strict mode.
	StrictBannedOps map[string]bool

	// TraceNDArray allows tensors to cross into the ndarray convention
	// (Tensor.numpy and the ndarray wrapper variables).
	TraceNDArray bool

	// NDArrayBackendAvailable reports whether an array backend exists at
	// all; numpy() fails without one even when TraceNDArray is set.
	NDArrayBackendAvailable bool

	// CaptureScalarOutputs allows Tensor.item() and friends to produce
	// unbacked symbolic scalars instead of aborting the trace.
	CaptureScalarOutputs bool

	// GradEnabled mirrors the global gradient-tracking mode of the traced
	// program.
	GradEnabled bool

	// CompiledBackwardCapture is the second-order capture mode: backward
	// hooks on sourceless tensors may only be recorded when it is active.
	CompiledBackwardCapture bool
}

// DefaultConfig returns the configuration used when the embedding framework
// does not override anything.
func DefaultConfig() *Config {
	return &Config{
		TraceNDArray:            true,
		NDArrayBackendAvailable: true,
		GradEnabled:             true,
	}
}

// IsBanned reports whether name is rejected under strict mode.
func (c *Config) IsBanned(name string) bool {
	return c.StrictChecksEnabled && c.StrictBannedOps[name]
}

// Oracle is the metadata oracle: given a node it infers the example value
// (abstract tensor or scalar) the deferred operation would produce. It must
// be deterministic for a given node and prior trace state.
type Oracle interface {
	// InferExampleValue performs one abstract operation. An error means the
	// operation cannot be modeled; callers convert it to Unsupported.
	InferExampleValue(node *graph.Node) (abstract.Value, error)

	// CreateUnbackedSym allocates a fresh symbol with no example value, for
	// quantities extracted from data.
	CreateUnbackedSym() *symbolic.Sym
}

// GuardInstaller records guards for the enclosing checking subsystem.
// Installing the same guard twice must not change observable behavior.
type GuardInstaller interface {
	InstallGuard(g source.Guard)
}

// Variable is the cross-package view of a tracked value. The concrete kinds
// and both protocols (attribute resolution, method dispatch) live in the
// variables package; collaborators only need this much.
type Variable interface {
	// ProxyNode returns the graph node standing for the value, or nil for
	// plain constants.
	ProxyNode() *graph.Node

	// PythonType names the runtime class the variable stands for.
	PythonType() string

	// AsConstant returns the trace-time constant value, if the variable is
	// one.
	AsConstant() (value any, ok bool)

	// Source returns the provenance of the value, or nil if it was created
	// inside the traced region.
	Source() source.Source
}

// Wrapper is the value-wrapping service: it chooses the concrete variable
// kind for a node from the oracle's example value, or wraps an already
// concrete runtime value.
type Wrapper interface {
	WrapNode(node *graph.Node, src source.Source) Variable
	WrapValue(value any, src source.Source) Variable
}

// Rebinder re-evaluates a provenance expression against the frame's current
// bindings. It fails when the expression cannot be evaluated.
type Rebinder interface {
	ReEvaluate(src source.Source) (any, error)
}

// AttributeAccessor is implemented by rebound runtime values that support
// attribute reads; the provenance-fallback path requires it.
type AttributeAccessor interface {
	// Attr returns the named attribute's value, and whether it exists.
	Attr(name string) (any, bool)
}

// AttributeInterceptor marks rebound runtime values with custom
// attribute-interception behavior; the fallback path refuses them because a
// re-derived attribute read would not be faithful.
type AttributeInterceptor interface {
	InterceptsAttributes() bool
}

// Callable marks rebound attribute values that are callables; the fallback
// path rejects them, deferring to method dispatch.
type Callable interface {
	IsCallable() bool
}

// HookSideEffect is a recorded hook registration, replayed against the real
// value at trace-commit time.
type HookSideEffect struct {
	// Method is the registration method, e.g. "register_hook".
	Method string
	Target Variable
	Hook   Variable
}

// Frame is the per-trace-attempt state: one interpreter, one frame, one
// goroutine. All collaborators are owned exclusively for the duration of the
// trace; the guard set and side-effect queue are append-only.
type Frame struct {
	Config   *Config
	Graph    *graph.Graph
	Oracle   Oracle
	Wrapper  Wrapper
	Rebinder Rebinder

	id          uuid.UUID
	installer   GuardInstaller
	installed   map[string]bool
	sideEffects []HookSideEffect
}

// NewFrame assembles a frame around a fresh graph.
func NewFrame(name string, config *Config, oracle Oracle, installer GuardInstaller, wrapper Wrapper, rebinder Rebinder) *Frame {
	return &Frame{
		Config:    config,
		Graph:     graph.New(name),
		Oracle:    oracle,
		Wrapper:   wrapper,
		Rebinder:  rebinder,
		id:        uuid.New(),
		installer: installer,
		installed: make(map[string]bool),
	}
}

// ID of the frame, used in log lines.
func (f *Frame) ID() uuid.UUID { return f.id }

// InstallGuard forwards the guard to the installer, once per rendered
// expression for this frame.
func (f *Frame) InstallGuard(g source.Guard) {
	rendered := g.Render()
	if f.installed[rendered] {
		return
	}
	f.installed[rendered] = true
	klog.V(2).Infof("frame %s: install guard %s", f.id, rendered)
	f.installer.InstallGuard(g)
}

// InstalledGuards returns the rendered guards installed so far, unordered.
func (f *Frame) InstalledGuards() []string {
	out := make([]string, 0, len(f.installed))
	for g := range f.installed {
		out = append(out, g)
	}
	return out
}

// RecordSideEffect queues a side effect for replay at trace-commit time.
func (f *Frame) RecordSideEffect(se HookSideEffect) {
	f.sideEffects = append(f.sideEffects, se)
}

// SideEffects returns the queued side effects in recording order.
func (f *Frame) SideEffects() []HookSideEffect { return f.sideEffects }
