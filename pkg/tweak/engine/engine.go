// Package engine implements the tweakctl core: transactional knob
// application, live status evaluation, and the restore engine. It consumes
// injectable system capabilities and a per-scope transaction repository, so
// the whole package runs against fakes and memory filesystems in tests.
package engine

import (
	"context"
	"fmt"

	"github.com/tweakctl/tweakctl/pkg/tweak/logging"
	"github.com/tweakctl/tweakctl/pkg/tweak/system"
	"github.com/tweakctl/tweakctl/pkg/tweak/txn"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

var logger = logging.Get("engine")

// Engine ties the transaction repositories to the system capabilities.
type Engine struct {
	repos map[types.Scope]*txn.Repository
	sys   *system.System
}

// New creates an engine over the given capabilities and per-scope
// repositories.
func New(sys *system.System, userRepo, rootRepo *txn.Repository) *Engine {
	return &Engine{
		sys: sys,
		repos: map[types.Scope]*txn.Repository{
			types.ScopeUser: userRepo,
			types.ScopeRoot: rootRepo,
		},
	}
}

// ApplyOutcome classifies one knob's apply result.
type ApplyOutcome string

// Apply outcomes.
const (
	// OutcomeApplied means the knob's configuration is now in place,
	// whether or not any mutation was needed.
	OutcomeApplied ApplyOutcome = "applied"

	// OutcomeFailed means the knob's apply failed; the batch continued.
	OutcomeFailed ApplyOutcome = "failed"

	// OutcomeSkipped means the knob has nothing to apply (read-only or
	// registry placeholder).
	OutcomeSkipped ApplyOutcome = "skipped"

	// OutcomeElevationRequired means a root-scope knob was requested
	// without elevated rights. Distinct from success and from failure.
	OutcomeElevationRequired ApplyOutcome = "elevation_required"

	// OutcomeDryRun means the apply was planned but not executed.
	OutcomeDryRun ApplyOutcome = "dry_run"
)

// KnobApplyResult is the per-knob outcome of an apply batch.
type KnobApplyResult struct {
	KnobID   string       `json:"knob_id"`
	Outcome  ApplyOutcome `json:"outcome"`
	Error    string       `json:"error,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// ApplyResult is the outcome of one apply batch. A batch spanning both
// scopes produces one transaction per scope. Backups and Effects carry the
// records each committed transaction captured, so callers see what was
// backed up without re-reading manifests.
type ApplyResult struct {
	Transactions map[types.Scope]string             `json:"transactions,omitempty"`
	Backups      map[types.Scope][]txn.BackupRecord `json:"backups,omitempty"`
	Effects      map[types.Scope][]txn.EffectRecord `json:"effects,omitempty"`
	Knobs        []KnobApplyResult                  `json:"knobs"`
}

// ApplyOptions tunes an apply batch.
type ApplyOptions struct {
	// DryRun plans the apply without mutating anything and without
	// opening a transaction.
	DryRun bool
}

// Apply applies the given knobs. Knobs are grouped by scope and each scope
// runs as one transaction. One knob's failure is recorded and the batch
// continues with the next knob; a failed backup capture aborts that knob
// before anything is mutated.
func (e *Engine) Apply(ctx context.Context, knobs []*types.Knob, opts ApplyOptions) (*ApplyResult, error) {
	result := &ApplyResult{
		Transactions: map[types.Scope]string{},
		Backups:      map[types.Scope][]txn.BackupRecord{},
		Effects:      map[types.Scope][]txn.EffectRecord{},
	}

	byScope := map[types.Scope][]*types.Knob{}
	var scopes []types.Scope
	for _, k := range knobs {
		if _, seen := byScope[k.Scope]; !seen {
			scopes = append(scopes, k.Scope)
		}
		byScope[k.Scope] = append(byScope[k.Scope], k)
	}

	for _, scope := range scopes {
		if err := e.applyScope(ctx, scope, byScope[scope], opts, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (e *Engine) applyScope(ctx context.Context, scope types.Scope, knobs []*types.Knob, opts ApplyOptions, result *ApplyResult) error {
	if scope == types.ScopeRoot && !e.sys.Elevated {
		for _, k := range knobs {
			if !k.Appliable() {
				result.Knobs = append(result.Knobs, KnobApplyResult{KnobID: k.ID, Outcome: OutcomeSkipped})
				continue
			}
			result.Knobs = append(result.Knobs, KnobApplyResult{
				KnobID:  k.ID,
				Outcome: OutcomeElevationRequired,
				Error:   types.ErrElevationRequired.Error(),
			})
		}
		return nil
	}

	if opts.DryRun {
		for _, k := range knobs {
			outcome := OutcomeDryRun
			if !k.Appliable() {
				outcome = OutcomeSkipped
			}
			result.Knobs = append(result.Knobs, KnobApplyResult{KnobID: k.ID, Outcome: outcome})
		}
		return nil
	}

	repo := e.repos[scope]
	if repo == nil {
		return fmt.Errorf("no repository configured for scope %q", scope)
	}

	t, err := repo.Begin()
	if err != nil {
		return fmt.Errorf("opening %s transaction: %w", scope, err)
	}

	for _, k := range knobs {
		if !k.Appliable() {
			result.Knobs = append(result.Knobs, KnobApplyResult{
				KnobID:  k.ID,
				Outcome: OutcomeSkipped,
				Error:   types.ErrNotAppliable.Error(),
			})
			continue
		}

		warnings, err := e.applyKnob(ctx, t, k)
		if err != nil {
			logger.Error("apply failed", "knob", k.ID, "error", err)
			result.Knobs = append(result.Knobs, KnobApplyResult{
				KnobID:   k.ID,
				Outcome:  OutcomeFailed,
				Error:    err.Error(),
				Warnings: warnings,
			})
			// A partially-applied knob may have recorded backups or
			// effects before failing; commit so they stay restorable.
			if err := t.Commit(); err != nil {
				logger.Error("manifest commit failed", "txn", t.ID(), "error", err)
			}
			continue
		}

		t.AddKnob(k.ID)
		if err := t.Commit(); err != nil {
			return fmt.Errorf("committing manifest: %w", err)
		}
		logger.Info("knob applied", "knob", k.ID, "txn", t.ID())
		result.Knobs = append(result.Knobs, KnobApplyResult{
			KnobID:   k.ID,
			Outcome:  OutcomeApplied,
			Warnings: warnings,
		})
	}

	if t.Empty() {
		if err := t.Discard(); err != nil {
			logger.Warn("could not discard empty transaction", "txn", t.ID(), "error", err)
		}
		return nil
	}
	result.Transactions[scope] = t.ID()
	m := t.Manifest()
	if len(m.Backups) > 0 {
		result.Backups[scope] = m.Backups
	}
	if len(m.Effects) > 0 {
		result.Effects[scope] = m.Effects
	}
	return nil
}

// owner adapts the package manager capability to the transaction store's
// ownership lookup.
func (e *Engine) owner(ctx context.Context) txn.OwnershipLookup {
	return func(path string) (string, bool, error) {
		if e.sys.Packages == nil {
			return "", false, nil
		}
		return e.sys.Packages.Owner(ctx, path)
	}
}
