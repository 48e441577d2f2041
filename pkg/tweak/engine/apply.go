package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/tweakctl/tweakctl/pkg/tweak/txn"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// applyKnob dispatches one knob's apply inside the transaction. The order
// per knob is fixed: capture backups for every path the implementation will
// touch, perform the mutation, then record effects for non-file mutations.
// Appliers are idempotent: configuration already in place mutates nothing.
func (e *Engine) applyKnob(ctx context.Context, t *txn.Txn, k *types.Knob) ([]string, error) {
	var err error
	switch k.Impl.Kind {
	case types.KindLimitsAppend, types.KindSysctlAppend:
		err = e.applyLines(ctx, t, k.Impl.Lines)
	case types.KindUdevRule, types.KindAppConfig:
		err = e.applyFile(ctx, t, k.Impl.File)
	case types.KindSysfsValue:
		err = e.applySysfs(ctx, t, k.Impl.Sysfs)
	case types.KindSystemdToggle, types.KindUserServiceMask:
		err = e.applyUnit(ctx, t, k.Impl.Unit)
	case types.KindCmdlineToken:
		err = e.applyCmdline(ctx, t, k.Impl.Cmdline)
	case types.KindGroupMembership:
		err = e.applyGroups(ctx, t, k.Impl.Groups)
	case types.KindReadOnly:
		err = types.ErrNotAppliable
	default:
		err = fmt.Errorf("unknown implementation kind %q", k.Impl.Kind)
	}
	if err != nil {
		return nil, err
	}
	return e.postApply(ctx, k), nil
}

// postApply runs best-effort steps after a successful apply. Failures are
// returned as warnings attached to the result, never as errors.
func (e *Engine) postApply(ctx context.Context, k *types.Knob) []string {
	var warnings []string
	for _, unit := range k.Impl.RestartUnits {
		if err := e.sys.Systemd.Restart(ctx, unit, true); err != nil {
			warnings = append(warnings, fmt.Sprintf("restart of %s failed: %v", unit, err))
		}
	}
	return warnings
}

// applyLines ensures every expected line is present in the target file,
// appending the missing ones. Already-present lines are never duplicated.
func (e *Engine) applyLines(ctx context.Context, t *txn.Txn, p *types.LinesParams) error {
	content, exists, err := readFileIfExists(e.sys.FS, p.Path)
	if err != nil {
		return &types.BackupError{Path: p.Path, Err: err}
	}

	missing := missingLines(content, p.Lines)
	if exists && len(missing) == 0 {
		return nil
	}

	if _, err := t.Capture(p.Path, e.owner(ctx)); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		b.WriteByte('\n')
	}
	for _, line := range missing {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if err := writeFile(e.sys.FS, p.Path, []byte(b.String()), 0o644); err != nil {
		return &types.MutationError{Target: p.Path, Err: err}
	}
	return nil
}

// applyFile installs a file with fixed content.
func (e *Engine) applyFile(ctx context.Context, t *txn.Txn, p *types.FileParams) error {
	content, exists, err := readFileIfExists(e.sys.FS, p.Path)
	if err != nil {
		return &types.BackupError{Path: p.Path, Err: err}
	}
	if exists && content == p.Content {
		return nil
	}

	if _, err := t.Capture(p.Path, e.owner(ctx)); err != nil {
		return err
	}

	mode := p.Mode
	if mode == 0 {
		mode = 0o644
	}
	if err := writeFile(e.sys.FS, p.Path, []byte(p.Content), mode); err != nil {
		return &types.MutationError{Target: p.Path, Err: err}
	}
	return nil
}

// applySysfs writes each sysfs entry and records a before/after effect per
// write. An absent sysfs path fails the knob with ErrInterfaceAbsent before
// anything is written.
func (e *Engine) applySysfs(ctx context.Context, t *txn.Txn, p *types.SysfsParams) error {
	for _, entry := range p.Entries {
		if !e.sys.Sysfs.Exists(entry.Path) {
			return fmt.Errorf("%w: %s", types.ErrInterfaceAbsent, entry.Path)
		}
	}

	for _, entry := range p.Entries {
		before, err := e.sys.Sysfs.Read(entry.Path)
		if err != nil {
			return &types.MutationError{Target: entry.Path, Err: err}
		}
		if sysfsValueMatches(before, entry.Value) {
			continue
		}
		if err := e.sys.Sysfs.Write(entry.Path, entry.Value); err != nil {
			return &types.MutationError{Target: entry.Path, Err: err}
		}
		t.Effect(txn.EffectSysfs, entry.Path, before, entry.Value)
	}
	return nil
}

// applyUnit transitions a systemd unit to the target unit-file state and
// records the transition as an effect.
func (e *Engine) applyUnit(ctx context.Context, t *txn.Txn, p *types.UnitParams) error {
	before, err := e.sys.Systemd.UnitFileState(ctx, p.Name, p.User)
	if err != nil {
		return &types.MutationError{Target: p.Name, Err: err}
	}
	if unitStateSatisfies(p.Target, before) {
		return nil
	}
	if err := e.sys.Systemd.SetUnitState(ctx, p.Name, p.Target, p.User); err != nil {
		return &types.MutationError{Target: p.Name, Err: err}
	}
	t.Effect(txn.EffectSystemd, unitEffectTarget(p.Name, p.User), before, string(p.Target))
	return nil
}

// applyCmdline adds missing tokens to the boot configuration, backing up
// the boot config file first, then regenerates the bootloader config.
func (e *Engine) applyCmdline(ctx context.Context, t *txn.Txn, p *types.CmdlineParams) error {
	boot, err := e.sys.Cmdline.Boot()
	if err != nil {
		return &types.MutationError{Target: e.sys.Cmdline.BootConfigPath(), Err: err}
	}
	if len(missingTokens(boot, p.Tokens)) == 0 {
		return nil
	}

	if _, err := t.Capture(e.sys.Cmdline.BootConfigPath(), e.owner(ctx)); err != nil {
		return err
	}
	if err := e.sys.Cmdline.AddBootTokens(p.Tokens); err != nil {
		return &types.MutationError{Target: e.sys.Cmdline.BootConfigPath(), Err: err}
	}
	if err := e.sys.Cmdline.Regenerate(ctx); err != nil {
		return &types.MutationError{Target: "bootloader", Err: err}
	}
	return nil
}

// applyGroups adds the invoking user to every missing group, recording one
// effect per grant. Group grants have no well-defined inverse; the effect
// restores as not-reversible.
func (e *Engine) applyGroups(ctx context.Context, t *txn.Txn, p *types.GroupParams) error {
	current, err := e.sys.Groups.Current(ctx)
	if err != nil {
		return &types.MutationError{Target: "groups", Err: err}
	}
	member := map[string]bool{}
	for _, g := range current {
		member[g] = true
	}

	for _, g := range p.Groups {
		if member[g] {
			continue
		}
		if err := e.sys.Groups.Add(ctx, g); err != nil {
			return &types.MutationError{Target: g, Err: err}
		}
		t.Effect(txn.EffectGroup, g, "non-member", "member")
	}
	return nil
}

// unitEffectTarget encodes the systemd instance into the effect target so a
// restore addresses the right instance.
func unitEffectTarget(unit string, user bool) string {
	if user {
		return "user:" + unit
	}
	return "system:" + unit
}

// parseUnitEffectTarget reverses unitEffectTarget. Targets without a prefix
// (older manifests) address the system instance.
func parseUnitEffectTarget(target string) (unit string, user bool) {
	if rest, ok := strings.CutPrefix(target, "user:"); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(target, "system:"); ok {
		return rest, false
	}
	return target, false
}

func readFileIfExists(fs afero.Fs, path string) (content string, exists bool, err error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

func writeFile(fs afero.Fs, path string, data []byte, mode os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, mode)
}
