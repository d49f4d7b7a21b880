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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGraphAppendOnly(t *testing.T) {
	g := New("test")
	x := g.Placeholder("x")
	require.Equal(t, NodeId(0), x.Id())
	require.Equal(t, KindPlaceholder, x.Kind())

	sizeNode := g.CreateProxyNode(KindCallMethod, "size", []any{x, 0}, nil)
	require.Equal(t, NodeId(1), sizeNode.Id())
	require.Equal(t, 2, g.NumNodes())
	require.Same(t, x, g.NodeById(0))
	require.Same(t, sizeNode, g.NodeById(1))
	require.Panics(t, func() { g.NodeById(7) })

	// Node inputs are the *Node args only; constants are baked.
	require.Equal(t, []*Node{x}, sizeNode.Inputs())
	require.Equal(t, "size", sizeNode.Target())
}

func TestNodeOwnership(t *testing.T) {
	g1, g2 := New("g1"), New("g2")
	x := g1.Placeholder("x")
	require.Panics(t, func() {
		g2.CreateProxyNode(KindCallMethod, "detach", []any{x}, nil)
	})
}

func TestExampleValue(t *testing.T) {
	g := New("test")
	x := g.Placeholder("x")
	_, ok := x.ExampleValue()
	require.False(t, ok)

	x.SetExampleValue(42)
	v, ok := x.ExampleValue()
	require.True(t, ok)
	require.Equal(t, 42, v)

	// Example values are set once; replacing one is an invariant failure.
	require.Panics(t, func() { x.SetExampleValue(43) })
}

func TestNodeString(t *testing.T) {
	g := New("test")
	x := g.Placeholder("x").Rename("x")
	n := g.CreateProxyNode(KindCallMethod, "add", []any{x, 1.0}, map[string]any{"alpha": 2})
	require.Contains(t, n.String(), "call_method[add]")
	require.Contains(t, n.String(), "alpha=2")
	require.Contains(t, g.String(), "2 nodes")
}
