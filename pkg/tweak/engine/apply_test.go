package engine

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweakctl/tweakctl/pkg/tweak/system"
	"github.com/tweakctl/tweakctl/pkg/tweak/txn"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

func TestApplyLinesCreatesFile(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	k := linesKnob("audio-limits", "/etc/security/limits.d/audio.conf",
		"@audio - rtprio 95", "@audio - memlock unlimited")
	res := rig.applyOne(t, k)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	content, err := afero.ReadFile(rig.fs, "/etc/security/limits.d/audio.conf")
	require.NoError(t, err)
	assert.Equal(t, "@audio - rtprio 95\n@audio - memlock unlimited\n", string(content))

	manifests, err := rig.rootRepo.List()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	require.Len(t, manifests[0].Backups, 1)
	assert.Equal(t, txn.StrategyDelete, manifests[0].Backups[0].Strategy)
	assert.True(t, manifests[0].ContainsKnob("audio-limits"))
}

func TestApplyLinesAppendsOnlyMissing(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	path := "/etc/sysctl.d/99-audio.conf"
	require.NoError(t, afero.WriteFile(rig.fs, path, []byte("vm.swappiness = 10\n"), 0o644))

	k := linesKnob("sysctl", path, "vm.swappiness = 10", "fs.inotify.max_user_watches = 600000")
	res := rig.applyOne(t, k)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	content, err := afero.ReadFile(rig.fs, path)
	require.NoError(t, err)
	assert.Equal(t, "vm.swappiness = 10\nfs.inotify.max_user_watches = 600000\n", string(content))
	assert.Equal(t, 1, strings.Count(string(content), "vm.swappiness"), "present lines are never duplicated")
}

func TestApplyLinesAlreadySatisfiedMutatesNothing(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	path := "/etc/sysctl.d/99-audio.conf"
	require.NoError(t, afero.WriteFile(rig.fs, path, []byte("vm.swappiness = 10\n"), 0o644))

	res := rig.applyOne(t, linesKnob("sysctl", path, "vm.swappiness = 10"))
	assert.Equal(t, OutcomeApplied, res.Outcome)

	manifests, err := rig.rootRepo.List()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Empty(t, manifests[0].Backups, "a no-op apply captures no backup")
}

func TestApplyFileBacksUpExistingContent(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	path := testHome + "/.config/pipewire/pipewire.conf"
	require.NoError(t, afero.WriteFile(rig.fs, path, []byte("old config\n"), 0o644))

	res := rig.applyOne(t, fileKnob("pipewire", path, "new config\n"))
	assert.Equal(t, OutcomeApplied, res.Outcome)

	content, _ := afero.ReadFile(rig.fs, path)
	assert.Equal(t, "new config\n", string(content))

	manifests, err := rig.userRepo.List()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	rec := manifests[0].Backups[0]
	assert.Equal(t, txn.StrategyBackup, rec.Strategy)

	blob, err := rig.userRepo.ReadBackup(manifests[0].ID, rec)
	require.NoError(t, err)
	assert.Equal(t, "old config\n", string(blob))
}

func TestApplySysfsRecordsEffects(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.sysfs.Values["/sys/kernel/mm/transparent_hugepage/enabled"] = "[always] madvise never"
	rig.sysfs.Values["/sys/devices/system/cpu/cpu0/cpufreq/scaling_governor"] = "performance"

	k := sysfsKnob("thp",
		types.SysfsEntry{Path: "/sys/kernel/mm/transparent_hugepage/enabled", Value: "madvise"},
		types.SysfsEntry{Path: "/sys/devices/system/cpu/cpu0/cpufreq/scaling_governor", Value: "performance"},
	)
	res := rig.applyOne(t, k)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	assert.Equal(t, "madvise", rig.sysfs.Values["/sys/kernel/mm/transparent_hugepage/enabled"])

	manifests, err := rig.rootRepo.List()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	require.Len(t, manifests[0].Effects, 1, "an already-matching key records no effect")
	eff := manifests[0].Effects[0]
	assert.Equal(t, txn.EffectSysfs, eff.Kind)
	assert.Equal(t, "[always] madvise never", eff.Before)
	assert.Equal(t, "madvise", eff.After)
}

func TestApplySysfsAbsentInterface(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.sysfs.Values["/sys/kernel/mm/a"] = "0"

	k := sysfsKnob("two-keys",
		types.SysfsEntry{Path: "/sys/kernel/mm/a", Value: "1"},
		types.SysfsEntry{Path: "/sys/kernel/mm/missing", Value: "1"},
	)
	res := rig.applyOne(t, k)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Error, types.ErrInterfaceAbsent.Error())
	assert.Empty(t, rig.sysfs.Writes, "nothing is written when any key is absent")
}

func TestApplyUnit(t *testing.T) {
	t.Parallel()

	t.Run("transitions and records the before state", func(t *testing.T) {
		t.Parallel()
		rig := newTestRig(t)
		rig.systemd.States["ondemand.service"] = "enabled"

		res := rig.applyOne(t, unitKnob("ondemand", "ondemand.service", types.UnitDisabled, false))
		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, "disabled", rig.systemd.States["ondemand.service"])

		manifests, err := rig.rootRepo.List()
		require.NoError(t, err)
		require.Len(t, manifests[0].Effects, 1)
		eff := manifests[0].Effects[0]
		assert.Equal(t, "system:ondemand.service", eff.Target)
		assert.Equal(t, "enabled", eff.Before)
		assert.Equal(t, "disabled", eff.After)
	})

	t.Run("masked already satisfies disabled", func(t *testing.T) {
		t.Parallel()
		rig := newTestRig(t)
		rig.systemd.States["ondemand.service"] = "masked"

		res := rig.applyOne(t, unitKnob("ondemand", "ondemand.service", types.UnitDisabled, false))
		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, "masked", rig.systemd.States["ondemand.service"], "satisfied state is left alone")
	})

	t.Run("user instance is encoded in the effect target", func(t *testing.T) {
		t.Parallel()
		rig := newTestRig(t)
		rig.systemd.States["tracker-miner.service"] = "enabled"

		res := rig.applyOne(t, unitKnob("tracker", "tracker-miner.service", types.UnitMasked, true))
		assert.Equal(t, OutcomeApplied, res.Outcome)

		manifests, err := rig.userRepo.List()
		require.NoError(t, err)
		require.Len(t, manifests[0].Effects, 1)
		assert.Equal(t, "user:tracker-miner.service", manifests[0].Effects[0].Target)
	})
}

func TestApplyCmdline(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.cmdline.BootTokens = []string{"quiet", "splash"}

	res := rig.applyOne(t, cmdlineKnob("threadirqs", "threadirqs", "preempt=full"))
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, []string{"quiet", "splash", "threadirqs", "preempt=full"}, rig.cmdline.BootTokens)
	assert.Equal(t, 1, rig.cmdline.Regenerated)

	manifests, err := rig.rootRepo.List()
	require.NoError(t, err)
	require.Len(t, manifests[0].Backups, 1)
	assert.Equal(t, "/etc/default/grub", manifests[0].Backups[0].Path)
}

func TestApplyCmdlineAlreadyPresent(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.cmdline.BootTokens = []string{"threadirqs"}

	res := rig.applyOne(t, cmdlineKnob("threadirqs", "threadirqs"))
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, 0, rig.cmdline.Regenerated, "satisfied boot config is not touched")
}

func TestApplyGroups(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.groups.Members["users"] = true

	res := rig.applyOne(t, groupsKnob("audio-member", "users", "audio"))
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.True(t, rig.groups.Members["audio"])

	manifests, err := rig.rootRepo.List()
	require.NoError(t, err)
	require.Len(t, manifests[0].Effects, 1, "only the missing group records an effect")
	assert.Equal(t, txn.EffectGroup, manifests[0].Effects[0].Kind)
	assert.Equal(t, "audio", manifests[0].Effects[0].Target)
}

func TestApplyElevationRequired(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.sys.Elevated = false
	rig.sysfs.Values["/sys/kernel/mm/x"] = "0"

	res := rig.applyOne(t, sysfsKnob("needs-root", types.SysfsEntry{Path: "/sys/kernel/mm/x", Value: "1"}))
	assert.Equal(t, OutcomeElevationRequired, res.Outcome)
	assert.Empty(t, rig.sysfs.Writes)

	manifests, err := rig.rootRepo.List()
	require.NoError(t, err)
	assert.Empty(t, manifests, "no transaction is opened without elevation")
}

func TestApplyDryRun(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	k := linesKnob("audio-limits", "/etc/security/limits.d/audio.conf", "@audio - rtprio 95")
	result, err := rig.eng.Apply(context.Background(), []*types.Knob{k}, ApplyOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.Knobs, 1)
	assert.Equal(t, OutcomeDryRun, result.Knobs[0].Outcome)

	exists, _ := afero.Exists(rig.fs, "/etc/security/limits.d/audio.conf")
	assert.False(t, exists)

	manifests, err := rig.rootRepo.List()
	require.NoError(t, err)
	assert.Empty(t, manifests)
}

func TestApplyBatchContinuesAfterFailure(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	failing := sysfsKnob("absent", types.SysfsEntry{Path: "/sys/missing", Value: "1"})
	succeeding := linesKnob("limits", "/etc/security/limits.d/audio.conf", "@audio - rtprio 95")

	result := rig.apply(t, failing, succeeding)
	require.Len(t, result.Knobs, 2)
	assert.Equal(t, OutcomeFailed, result.Knobs[0].Outcome)
	assert.Equal(t, OutcomeApplied, result.Knobs[1].Outcome)

	manifests, err := rig.rootRepo.List()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, []string{"limits"}, manifests[0].Knobs)
}

func TestApplySkipsPlaceholdersAndReadOnly(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	placeholder := &types.Knob{ID: "info", Name: "info", Scope: types.ScopeUser}
	readOnly := &types.Knob{
		ID:    "kernel-check",
		Name:  "kernel-check",
		Scope: types.ScopeUser,
		Impl:  &types.Impl{Kind: types.KindReadOnly},
	}

	result := rig.apply(t, placeholder, readOnly)
	require.Len(t, result.Knobs, 2)
	assert.Equal(t, OutcomeSkipped, result.Knobs[0].Outcome)
	assert.Equal(t, OutcomeSkipped, result.Knobs[1].Outcome)

	manifests, err := rig.userRepo.List()
	require.NoError(t, err)
	assert.Empty(t, manifests, "an all-skip batch leaves no transaction behind")
}

func TestApplyGroupsByScope(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	userKnob := fileKnob("pipewire", testHome+"/.config/pipewire/pipewire.conf", "cfg\n")
	rootKnob := linesKnob("limits", "/etc/security/limits.d/audio.conf", "@audio - rtprio 95")

	result := rig.apply(t, userKnob, rootKnob)
	assert.Len(t, result.Transactions, 2)
	assert.NotEmpty(t, result.Transactions[types.ScopeUser])
	assert.NotEmpty(t, result.Transactions[types.ScopeRoot])
	assert.NotEqual(t, result.Transactions[types.ScopeUser], result.Transactions[types.ScopeRoot])
}

// blobBrokenFs rejects writes into transaction backup directories and passes
// everything else through, simulating a full or unwritable state disk.
type blobBrokenFs struct {
	afero.Fs
}

func (f blobBrokenFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 && strings.Contains(name, "/backups/") {
		return nil, errors.New("disk full")
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestApplyAbortsWhenBackupCaptureFails(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	path := "/etc/security/limits.d/audio.conf"
	require.NoError(t, afero.WriteFile(fs, path, []byte("original\n"), 0o644))

	broken := blobBrokenFs{fs}
	userRepo := txn.NewRepository(broken, "/state/user", types.ScopeUser, testHome)
	rootRepo := txn.NewRepository(broken, "/state/root", types.ScopeRoot, testHome)
	sys := &system.System{
		FS:       fs,
		Sysfs:    system.NewFakeSysfs(nil),
		Systemd:  system.NewFakeSystemd(nil),
		Packages: &system.FakePackages{Owners: map[string]string{}},
		Cmdline:  &system.FakeCmdline{},
		Groups:   system.NewFakeGroups("alice"),
		Elevated: true,
	}
	eng := New(sys, userRepo, rootRepo)

	k := linesKnob("limits", path, "@audio - rtprio 95")
	result, err := eng.Apply(context.Background(), []*types.Knob{k}, ApplyOptions{})
	require.NoError(t, err)
	require.Len(t, result.Knobs, 1)
	assert.Equal(t, OutcomeFailed, result.Knobs[0].Outcome)
	assert.Contains(t, result.Knobs[0].Error, "disk full")

	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(content),
		"the target is never mutated when its backup cannot be written")
	assert.Empty(t, result.Transactions)
	assert.Empty(t, result.Backups)

	tx, err := rootRepo.Begin()
	require.NoError(t, err)
	_, kerr := eng.applyKnob(context.Background(), tx, k)
	var backupErr *types.BackupError
	require.ErrorAs(t, kerr, &backupErr)
	assert.Equal(t, path, backupErr.Path)
}

func TestApplyResultCarriesBackupsAndEffects(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.sysfs.Values["/sys/kernel/mm/transparent_hugepage/enabled"] = "[always] madvise never"

	path := testHome + "/.config/pipewire/pipewire.conf"
	require.NoError(t, afero.WriteFile(rig.fs, path, []byte("old\n"), 0o644))

	result := rig.apply(t,
		fileKnob("pipewire", path, "new\n"),
		sysfsKnob("thp", types.SysfsEntry{Path: "/sys/kernel/mm/transparent_hugepage/enabled", Value: "madvise"}),
	)

	require.Len(t, result.Backups[types.ScopeUser], 1)
	assert.Equal(t, path, result.Backups[types.ScopeUser][0].Path)
	assert.Equal(t, txn.StrategyBackup, result.Backups[types.ScopeUser][0].Strategy)

	require.Len(t, result.Effects[types.ScopeRoot], 1)
	eff := result.Effects[types.ScopeRoot][0]
	assert.Equal(t, txn.EffectSysfs, eff.Kind)
	assert.Equal(t, "[always] madvise never", eff.Before)
	assert.Equal(t, "madvise", eff.After)
	assert.Empty(t, result.Effects[types.ScopeUser])
}

func TestPostApplyRestartFailureIsWarning(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.systemd.FailRestart = true

	path := testHome + "/.config/pipewire/pipewire.conf"
	k := fileKnob("pipewire", path, "cfg\n")
	k.Impl.RestartUnits = []string{"pipewire.service"}

	res := rig.applyOne(t, k)
	assert.Equal(t, OutcomeApplied, res.Outcome, "a failed restart never fails the apply")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "pipewire.service")
}
