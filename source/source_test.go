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

package source

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	x := Local("x")
	require.Equal(t, `L["x"]`, x.Render())
	require.Equal(t, `L["x"].weight.grad`, Attr(Attr(x, "weight"), "grad").Render())
	require.Equal(t, `G["model"]`, Global("model").Render())
}

func TestGuards(t *testing.T) {
	x := Local("x")
	require.Equal(t, `type(L["x"]) is torch.Tensor`,
		TypeMatchGuard{Source: x, Class: "torch.Tensor"}.Render())
	require.Equal(t, `hasattr(L["x"], "grad")`,
		HasAttrGuard{Source: x, Name: "grad"}.Render())
	require.Equal(t, "s0 == 8", SymbolGuard{Symbol: "s0", Value: 8}.Render())
}
