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

// Package graph holds the deferred-computation graph the tracer builds
// instead of executing operations.
//
// A Graph is an append-only table of Nodes; each Node records one deferred
// operation -- a method call, a function call, an attribute read or a
// placeholder for an input. No computation happens here: nodes are handed to
// a later compilation stage once the trace commits.
//
// Nodes carry an optional *example value*, metadata attached by the metadata
// oracle describing what the operation would produce (shape, dtype, device,
// possibly symbolic). The example value is set once and never replaced: a
// disagreement between a recorded example value and a freshly inferred one is
// an internal-invariant failure, not a recoverable condition.
package graph

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// GraphId is a unique identifier of a Graph within one process.
type GraphId int

var nextGraphId GraphId

// Graph is the append-only table of deferred operations for one trace frame.
// It is not safe for concurrent use: one frame, one goroutine.
type Graph struct {
	graphId GraphId
	uuid    uuid.UUID
	name    string
	nodes   []*Node
}

// New creates an empty Graph. The name is used for logging and debugging.
func New(name string) *Graph {
	g := &Graph{
		graphId: nextGraphId,
		uuid:    uuid.New(),
		name:    name,
	}
	nextGraphId++
	return g
}

// Name of the graph, set at construction.
func (g *Graph) Name() string { return g.name }

// GraphId of the graph, unique within the process.
func (g *Graph) GraphId() GraphId { return g.graphId }

// UUID of the graph, unique across processes; used in log lines.
func (g *Graph) UUID() uuid.UUID { return g.uuid }

// AssertValid panics if the graph is nil.
func (g *Graph) AssertValid() {
	if g == nil {
		exceptions.Panicf("the Graph is nil")
	}
}

// NumNodes returns the number of nodes recorded so far.
func (g *Graph) NumNodes() int {
	g.AssertValid()
	return len(g.nodes)
}

// Nodes returns the node table in creation order. The returned slice is
// owned by the graph; callers must not modify it.
func (g *Graph) Nodes() []*Node {
	g.AssertValid()
	return g.nodes
}

// NodeById returns the node with the given id. It panics for ids never
// issued by this graph.
func (g *Graph) NodeById(id NodeId) *Node {
	g.AssertValid()
	if id < 0 || int(id) >= len(g.nodes) {
		exceptions.Panicf("graph %q has no node #%d", g.name, id)
	}
	return g.nodes[id]
}

// CreateProxyNode appends a deferred operation to the graph and returns its
// node. args may mix *Node inputs with constant values; kwargs hold
// constant-only keyword arguments. Nodes are never removed.
func (g *Graph) CreateProxyNode(kind NodeKind, target string, args []any, kwargs map[string]any) *Node {
	g.AssertValid()
	for _, arg := range args {
		if n, ok := arg.(*Node); ok {
			n.AssertValid()
			if n.graph != g {
				exceptions.Panicf("graph %q: input node %s belongs to graph %q", g.name, n, n.graph.name)
			}
		}
	}
	node := &Node{
		graph:  g,
		id:     NodeId(len(g.nodes)),
		kind:   kind,
		target: target,
		args:   args,
		kwargs: kwargs,
	}
	g.nodes = append(g.nodes, node)
	if klog.V(2).Enabled() {
		klog.Infof("graph %s: created %s", g.uuid, node)
	}
	return node
}

// Placeholder appends an input placeholder node named name.
func (g *Graph) Placeholder(name string) *Node {
	return g.CreateProxyNode(KindPlaceholder, name, nil, nil)
}

// String returns a multi-line listing of the graph.
func (g *Graph) String() string {
	if g == nil {
		return "Graph(nil)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Graph %q #%d: %s nodes\n", g.name, g.graphId, humanize.Comma(int64(len(g.nodes))))
	for _, node := range g.nodes {
		fmt.Fprintf(&b, "\t%s\n", node)
	}
	return b.String()
}
