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

package trace

import (
	"testing"

	"github.com/gomlx/symtrace/source"
	"github.com/stretchr/testify/require"
)

type countingInstaller struct {
	calls []string
}

func (c *countingInstaller) InstallGuard(g source.Guard) {
	c.calls = append(c.calls, g.Render())
}

func TestRunRecoversUnsupported(t *testing.T) {
	err := Run(func() {
		Unsupportedf("Tensor.%s", "backward")
	})
	require.Error(t, err)
	var u Unsupported
	require.ErrorAs(t, err, &u)
	require.Equal(t, "Tensor.backward", u.Reason)

	require.NoError(t, Run(func() {}))
}

func TestRunDoesNotRecoverInternalPanics(t *testing.T) {
	require.Panics(t, func() {
		_ = Run(func() { panic("modeling inconsistency") })
	})
}

func TestGuardDeduplication(t *testing.T) {
	installer := &countingInstaller{}
	f := NewFrame("test", DefaultConfig(), nil, installer, nil, nil)
	g := source.TypeMatchGuard{Source: source.Local("x"), Class: "torch.Tensor"}
	f.InstallGuard(g)
	f.InstallGuard(g)
	f.InstallGuard(source.HasAttrGuard{Source: source.Local("x"), Name: "grad"})
	require.Len(t, installer.calls, 2)
	require.Len(t, f.InstalledGuards(), 2)
}

func TestConfigBannedOps(t *testing.T) {
	cfg := DefaultConfig()
	require.False(t, cfg.IsBanned("stride"))
	cfg.StrictBannedOps = map[string]bool{"stride": true}
	require.False(t, cfg.IsBanned("stride")) // list present but strict mode off
	cfg.StrictChecksEnabled = true
	require.True(t, cfg.IsBanned("stride"))
	require.False(t, cfg.IsBanned("size"))
}

func TestSideEffects(t *testing.T) {
	f := NewFrame("test", DefaultConfig(), nil, &countingInstaller{}, nil, nil)
	require.Empty(t, f.SideEffects())
	f.RecordSideEffect(HookSideEffect{Method: "register_hook"})
	require.Len(t, f.SideEffects(), 1)
	require.Equal(t, "register_hook", f.SideEffects()[0].Method)
}
