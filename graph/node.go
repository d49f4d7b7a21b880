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

package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
)

// NodeKind identifies what a deferred node records.
type NodeKind byte

const (
	KindInvalid NodeKind = iota

	// KindPlaceholder stands for a traced input; target is the input name.
	KindPlaceholder

	// KindCallMethod defers a method call; args[0] is the receiver node.
	KindCallMethod

	// KindCallFunction defers a free-function call; target names it.
	KindCallFunction

	// KindGetAttr defers an attribute read; args[0] is the owner node.
	KindGetAttr
)

var nodeKindNames = [...]string{"invalid", "placeholder", "call_method", "call_function", "get_attr"}

func (k NodeKind) String() string {
	if int(k) >= len(nodeKindNames) {
		return fmt.Sprintf("NodeKind(%d)", k)
	}
	return nodeKindNames[k]
}

// NodeId is the unique id of a Node within its Graph, dense from 0.
type NodeId int

// Node records one deferred operation.
//
// args mixes input *Nodes with constants baked at trace time; kwargs are
// constant-only. The example value, once set by the oracle, is immutable.
type Node struct {
	graph  *Graph
	id     NodeId
	kind   NodeKind
	target string

	args   []any
	kwargs map[string]any

	// label is a debug name; empty until Rename.
	label string

	exampleValue any
	hasExample   bool
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph {
	if n == nil {
		return nil
	}
	return n.graph
}

// Id of this node within its graph.
func (n *Node) Id() NodeId { return n.id }

// Kind of the deferred operation.
func (n *Node) Kind() NodeKind {
	if n == nil {
		return KindInvalid
	}
	return n.kind
}

// Target names the deferred operation: the method or function name, the
// attribute read, or the placeholder's input name.
func (n *Node) Target() string { return n.target }

// Args returns the recorded arguments: *Node inputs mixed with baked
// constants. Owned by the node; callers must not modify.
func (n *Node) Args() []any { return n.args }

// Kwargs returns the baked keyword arguments. May be nil.
func (n *Node) Kwargs() map[string]any { return n.kwargs }

// Inputs returns the node arguments that are themselves nodes, in argument
// order.
func (n *Node) Inputs() []*Node {
	var inputs []*Node
	for _, arg := range n.args {
		if in, ok := arg.(*Node); ok {
			inputs = append(inputs, in)
		}
	}
	return inputs
}

// AssertValid panics if n is nil or detached from a graph.
func (n *Node) AssertValid() {
	if n == nil {
		exceptions.Panicf("Node is nil")
	}
	if n.graph == nil || n.kind == KindInvalid {
		exceptions.Panicf("Node in an invalid state")
	}
}

// Rename attaches a debug label to the node and returns it.
func (n *Node) Rename(label string) *Node {
	n.AssertValid()
	n.label = label
	return n
}

// SetExampleValue records the oracle's example value for this node. Setting
// it twice is an internal-invariant failure and panics.
func (n *Node) SetExampleValue(value any) {
	n.AssertValid()
	if n.hasExample {
		exceptions.Panicf("node %s already has an example value", n)
	}
	n.exampleValue = value
	n.hasExample = true
}

// ExampleValue returns the recorded example value, if any.
func (n *Node) ExampleValue() (any, bool) {
	if n == nil || !n.hasExample {
		return nil, false
	}
	return n.exampleValue, true
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	name := fmt.Sprintf("#%d", n.id)
	if n.label != "" {
		name = fmt.Sprintf("%s(#%d)", n.label, n.id)
	}
	parts := make([]string, 0, len(n.args)+len(n.kwargs))
	for _, arg := range n.args {
		if in, ok := arg.(*Node); ok {
			parts = append(parts, fmt.Sprintf("#%d", in.id))
		} else {
			parts = append(parts, fmt.Sprintf("%v", arg))
		}
	}
	keys := make([]string, 0, len(n.kwargs))
	for k := range n.kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, n.kwargs[k]))
	}
	return fmt.Sprintf("%s = %s[%s](%s)", name, n.kind, n.target, strings.Join(parts, ", "))
}
