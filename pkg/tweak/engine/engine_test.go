package engine

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tweakctl/tweakctl/pkg/tweak/system"
	"github.com/tweakctl/tweakctl/pkg/tweak/txn"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

const testHome = "/home/alice"

// testRig is an engine over fakes and a memory filesystem.
type testRig struct {
	eng      *Engine
	fs       afero.Fs
	sys      *system.System
	sysfs    *system.FakeSysfs
	systemd  *system.FakeSystemd
	packages *system.FakePackages
	cmdline  *system.FakeCmdline
	groups   *system.FakeGroups
	userRepo *txn.Repository
	rootRepo *txn.Repository
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	fs := afero.NewMemMapFs()

	rig := &testRig{
		fs:       fs,
		sysfs:    system.NewFakeSysfs(nil),
		systemd:  system.NewFakeSystemd(nil),
		packages: &system.FakePackages{Owners: map[string]string{}},
		cmdline:  &system.FakeCmdline{},
		groups:   system.NewFakeGroups("alice"),
		userRepo: txn.NewRepository(fs, "/state/user", types.ScopeUser, testHome),
		rootRepo: txn.NewRepository(fs, "/state/root", types.ScopeRoot, testHome),
	}
	rig.sys = &system.System{
		FS:       fs,
		Sysfs:    rig.sysfs,
		Systemd:  rig.systemd,
		Packages: rig.packages,
		Cmdline:  rig.cmdline,
		Groups:   rig.groups,
		Elevated: true,
	}
	rig.eng = New(rig.sys, rig.userRepo, rig.rootRepo)
	return rig
}

func (r *testRig) apply(t *testing.T, knobs ...*types.Knob) *ApplyResult {
	t.Helper()
	result, err := r.eng.Apply(context.Background(), knobs, ApplyOptions{})
	require.NoError(t, err)
	return result
}

func (r *testRig) applyOne(t *testing.T, k *types.Knob) KnobApplyResult {
	t.Helper()
	result := r.apply(t, k)
	require.Len(t, result.Knobs, 1)
	return result.Knobs[0]
}

func linesKnob(id, path string, lines ...string) *types.Knob {
	return &types.Knob{
		ID:    id,
		Name:  id,
		Scope: types.ScopeRoot,
		Impl: &types.Impl{
			Kind:  types.KindLimitsAppend,
			Lines: &types.LinesParams{Path: path, Lines: lines},
		},
	}
}

func fileKnob(id, path, content string) *types.Knob {
	return &types.Knob{
		ID:    id,
		Name:  id,
		Scope: types.ScopeUser,
		Impl: &types.Impl{
			Kind: types.KindAppConfig,
			File: &types.FileParams{Path: path, Content: content},
		},
	}
}

func sysfsKnob(id string, entries ...types.SysfsEntry) *types.Knob {
	return &types.Knob{
		ID:    id,
		Name:  id,
		Scope: types.ScopeRoot,
		Impl: &types.Impl{
			Kind:  types.KindSysfsValue,
			Sysfs: &types.SysfsParams{Entries: entries},
		},
	}
}

func unitKnob(id, unit string, target types.UnitTarget, user bool) *types.Knob {
	scope := types.ScopeRoot
	if user {
		scope = types.ScopeUser
	}
	return &types.Knob{
		ID:    id,
		Name:  id,
		Scope: scope,
		Impl: &types.Impl{
			Kind: types.KindSystemdToggle,
			Unit: &types.UnitParams{Name: unit, Target: target, User: user},
		},
	}
}

func cmdlineKnob(id string, tokens ...string) *types.Knob {
	return &types.Knob{
		ID:    id,
		Name:  id,
		Scope: types.ScopeRoot,
		Impl: &types.Impl{
			Kind:    types.KindCmdlineToken,
			Cmdline: &types.CmdlineParams{Tokens: tokens},
		},
	}
}

func groupsKnob(id string, groups ...string) *types.Knob {
	return &types.Knob{
		ID:    id,
		Name:  id,
		Scope: types.ScopeRoot,
		Impl: &types.Impl{
			Kind:   types.KindGroupMembership,
			Groups: &types.GroupParams{Groups: groups},
		},
	}
}
