package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/tweakctl/tweakctl/pkg/tweak/system"
	"github.com/tweakctl/tweakctl/pkg/tweak/txn"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// RestoreOutcome summarizes a restore operation. Never a bare boolean: the
// caller must be able to tell fully restored from partially restored.
type RestoreOutcome string

// Restore outcomes.
const (
	// OutcomeRestored means every item reverted (not-reversible items
	// excepted; they are listed separately).
	OutcomeRestored RestoreOutcome = "restored"

	// OutcomePartial means some items reverted and some failed; the
	// failures are listed per item.
	OutcomePartial RestoreOutcome = "partially_restored"

	// OutcomeRestoreFailed means nothing reverted.
	OutcomeRestoreFailed RestoreOutcome = "failed"
)

// RestoreFailure is one item that could not be reverted.
type RestoreFailure struct {
	Target string `json:"target"`
	Error  string `json:"error"`
}

// RestoreResult reports exactly what a restore reverted, what it could not,
// and any caveats (attributes-only package restores, ownership it could not
// reproduce).
type RestoreResult struct {
	TxnID         string           `json:"txn_id,omitempty"`
	Outcome       RestoreOutcome   `json:"outcome"`
	Reverted      []string         `json:"reverted,omitempty"`
	Failed        []RestoreFailure `json:"failed,omitempty"`
	NotReversible []string         `json:"not_reversible,omitempty"`
	Caveats       []string         `json:"caveats,omitempty"`
}

func (r *RestoreResult) fail(target string, err error) {
	r.Failed = append(r.Failed, RestoreFailure{Target: target, Error: err.Error()})
}

func (r *RestoreResult) finalize() {
	switch {
	case len(r.Failed) == 0:
		r.Outcome = OutcomeRestored
	case len(r.Reverted) == 0:
		r.Outcome = OutcomeRestoreFailed
	default:
		r.Outcome = OutcomePartial
	}
}

// Restore reverts a knob by replaying the reset strategies of the oldest
// transaction that applied it. Oldest, not newest: a repeat apply's backup
// captures already-modified state, so only the first transaction holds the
// true original. Individual failures are collected; the remaining items are
// still reverted.
func (e *Engine) Restore(ctx context.Context, knobID string) (*RestoreResult, error) {
	manifest, repo, err := e.oldestAcrossScopes(knobID)
	if err != nil {
		return nil, err
	}
	if manifest.Scope == types.ScopeRoot && !e.sys.Elevated {
		return nil, types.ErrElevationRequired
	}

	result := &RestoreResult{TxnID: manifest.ID}
	for _, rec := range manifest.Backups {
		e.restoreBackup(ctx, repo, manifest.ID, rec, result)
	}
	for _, eff := range manifest.Effects {
		e.restoreEffect(ctx, eff, result)
	}
	result.finalize()

	if result.Outcome == OutcomeRestored {
		if err := repo.MarkReverted(manifest.ID); err != nil {
			logger.Warn("could not mark transaction reverted", "txn", manifest.ID, "error", err)
		}
	}
	logger.Info("restore finished", "knob", knobID, "txn", manifest.ID, "outcome", result.Outcome)
	return result, nil
}

// ResetAll reverts everything pending in a scope. Records are deduplicated
// to the oldest entry per path and per (kind, target) before replay, so a
// file shared by several knobs restores to its true pre-existing state.
func (e *Engine) ResetAll(ctx context.Context, scope types.Scope) (*RestoreResult, error) {
	if scope == types.ScopeRoot && !e.sys.Elevated {
		return nil, types.ErrElevationRequired
	}
	repo := e.repos[scope]
	if repo == nil {
		return nil, fmt.Errorf("no repository configured for scope %q", scope)
	}

	pending, err := repo.Pending()
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}
	for _, pb := range pending.Backups {
		e.restoreBackup(ctx, repo, pb.TxnID, pb.Record, result)
	}
	for _, pe := range pending.Effects {
		e.restoreEffect(ctx, pe.Record, result)
	}
	result.finalize()

	if result.Outcome == OutcomeRestored {
		manifests, err := repo.List()
		if err != nil {
			return result, err
		}
		for i := range manifests {
			if manifests[i].Reverted {
				continue
			}
			if err := repo.MarkReverted(manifests[i].ID); err != nil {
				logger.Warn("could not mark transaction reverted", "txn", manifests[i].ID, "error", err)
			}
		}
	}
	return result, nil
}

// Pending previews what a full reset of the scope would touch.
func (e *Engine) Pending(scope types.Scope) (*txn.PendingState, error) {
	repo := e.repos[scope]
	if repo == nil {
		return nil, fmt.Errorf("no repository configured for scope %q", scope)
	}
	return repo.Pending()
}

// History returns the scope's full audit trail, newest first, including
// already-reverted transactions.
func (e *Engine) History(scope types.Scope) ([]txn.Manifest, error) {
	repo := e.repos[scope]
	if repo == nil {
		return nil, fmt.Errorf("no repository configured for scope %q", scope)
	}
	manifests, err := repo.List()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(manifests)-1; i < j; i, j = i+1, j-1 {
		manifests[i], manifests[j] = manifests[j], manifests[i]
	}
	return manifests, nil
}

// Clean removes the scope's reverted transactions older than the retention
// period and returns the ids of the removed transactions.
func (e *Engine) Clean(scope types.Scope, retentionDays int) ([]string, error) {
	repo := e.repos[scope]
	if repo == nil {
		return nil, fmt.Errorf("no repository configured for scope %q", scope)
	}
	return repo.Clean(retentionDays)
}

// oldestAcrossScopes finds the oldest non-reverted transaction listing the
// knob, searching both scopes. A scope whose state directory is unreadable
// without elevation is skipped.
func (e *Engine) oldestAcrossScopes(knobID string) (*txn.Manifest, *txn.Repository, error) {
	var best *txn.Manifest
	var bestRepo *txn.Repository
	for _, scope := range []types.Scope{types.ScopeUser, types.ScopeRoot} {
		repo := e.repos[scope]
		if repo == nil {
			continue
		}
		m, err := repo.OldestFor(knobID)
		if err != nil {
			continue
		}
		if best == nil || m.CreatedAt.Before(best.CreatedAt) {
			best, bestRepo = m, repo
		}
	}
	if best == nil {
		return nil, nil, fmt.Errorf("%w: no transaction applied %s", types.ErrKnobNotFound, knobID)
	}
	return best, bestRepo, nil
}

// restoreBackup replays one backup record's reset strategy.
func (e *Engine) restoreBackup(ctx context.Context, repo *txn.Repository, txnID string, rec txn.BackupRecord, result *RestoreResult) {
	switch rec.Strategy {
	case txn.StrategyDelete:
		// Absence is success; deleting an already-absent path is a
		// no-op, not a failure.
		exists, err := afero.Exists(e.sys.FS, rec.Path)
		if err == nil && !exists {
			result.Reverted = append(result.Reverted, rec.Path)
			return
		}
		if err := e.sys.FS.Remove(rec.Path); err != nil {
			result.fail(rec.Path, err)
			return
		}
		result.Reverted = append(result.Reverted, rec.Path)

	case txn.StrategyBackup:
		data, err := repo.ReadBackup(txnID, rec)
		if err != nil {
			result.fail(rec.Path, err)
			return
		}
		mode := rec.Mode
		if mode == 0 {
			mode = 0o644
		}
		if err := writeFile(e.sys.FS, rec.Path, data, mode); err != nil {
			result.fail(rec.Path, err)
			return
		}
		if err := e.sys.FS.Chmod(rec.Path, mode); err != nil {
			result.Caveats = append(result.Caveats, fmt.Sprintf("%s: could not restore mode: %v", rec.Path, err))
		}
		if rec.HasOwner {
			if err := e.sys.FS.Chown(rec.Path, rec.UID, rec.GID); err != nil {
				result.Caveats = append(result.Caveats, fmt.Sprintf("%s: could not restore owner: %v", rec.Path, err))
			}
		}
		result.Reverted = append(result.Reverted, rec.Path)

	case txn.StrategyPackage:
		if e.sys.Packages == nil {
			result.fail(rec.Path, fmt.Errorf("no package manager available"))
			return
		}
		outcome, err := e.sys.Packages.Restore(ctx, rec.Package, rec.Path)
		if err != nil {
			result.fail(rec.Path, err)
			return
		}
		if outcome == system.RestoreAttributesOnly {
			result.Caveats = append(result.Caveats,
				fmt.Sprintf("%s: package restore of %s reinstated attributes only; content may still differ", rec.Path, rec.Package))
		}
		result.Reverted = append(result.Reverted, rec.Path)

	default:
		result.fail(rec.Path, fmt.Errorf("unknown reset strategy %q", rec.Strategy))
		return
	}

	// A restored boot config is inert until the bootloader config is
	// regenerated. Best effort; failure is a caveat since the file
	// itself is already reverted.
	if e.sys.Cmdline != nil && rec.Path == e.sys.Cmdline.BootConfigPath() && rec.Strategy != txn.StrategyDelete {
		if err := e.sys.Cmdline.Regenerate(ctx); err != nil {
			result.Caveats = append(result.Caveats, fmt.Sprintf("bootloader regeneration failed: %v", err))
		}
	}
}

// restoreEffect writes an effect's before-state back through the same
// mutation primitive the apply used.
func (e *Engine) restoreEffect(ctx context.Context, eff txn.EffectRecord, result *RestoreResult) {
	switch eff.Kind {
	case txn.EffectSysfs:
		if err := e.sys.Sysfs.Write(eff.Target, eff.Before); err != nil {
			result.fail(eff.Target, err)
			return
		}
		result.Reverted = append(result.Reverted, eff.Target)

	case txn.EffectSystemd:
		unit, user := parseUnitEffectTarget(eff.Target)
		target, exact := unitTargetForState(eff.Before)
		if err := e.sys.Systemd.SetUnitState(ctx, unit, target, user); err != nil {
			result.fail(eff.Target, err)
			return
		}
		if !exact {
			result.Caveats = append(result.Caveats,
				fmt.Sprintf("%s: original state %q cannot be reinstated exactly; unit left %s", unit, eff.Before, target))
		}
		result.Reverted = append(result.Reverted, eff.Target)

	case txn.EffectGroup:
		// Removing a user from a group they may have needed before
		// this tool ran has no safe inverse.
		result.NotReversible = append(result.NotReversible, eff.Target)

	default:
		result.fail(eff.Target, fmt.Errorf("unknown effect kind %q", eff.Kind))
	}
}

// unitTargetForState maps a recorded raw unit-file state back to a
// settable target. States systemctl cannot produce directly (static,
// indirect, generated, linked) map to disabled; exact is false so the
// caller reports the approximation.
func unitTargetForState(state string) (types.UnitTarget, bool) {
	switch {
	case strings.HasPrefix(state, "masked"):
		return types.UnitMasked, true
	case state == "disabled":
		return types.UnitDisabled, true
	case state == "enabled" || state == "enabled-runtime" || state == "alias":
		return types.UnitEnabled, true
	default:
		return types.UnitDisabled, false
	}
}
