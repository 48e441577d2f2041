package txn

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// Txn is one in-flight transaction. It is populated by exactly one apply
// operation running to completion; there are no concurrent writers.
type Txn struct {
	repo     *Repository
	manifest Manifest
	captured map[string]*BackupRecord
}

// ID returns the transaction id.
func (t *Txn) ID() string { return t.manifest.ID }

// Manifest returns a copy of the transaction's current manifest.
func (t *Txn) Manifest() Manifest { return t.manifest }

// AddKnob records a knob id as applied by this transaction.
func (t *Txn) AddKnob(id string) {
	if !t.manifest.ContainsKnob(id) {
		t.manifest.Knobs = append(t.manifest.Knobs, id)
	}
}

// Capture snapshots a path before mutation and selects its reset strategy.
// It is idempotent within the transaction: the first capture of a path is
// authoritative and later captures of the same path return it unchanged, so
// an intermediate third-party write can never leak into the stored backup.
//
// A capture failure means the apply must abort before mutating the path;
// callers receive a *types.BackupError and must not proceed.
func (t *Txn) Capture(path string, owner OwnershipLookup) (*BackupRecord, error) {
	if rec, ok := t.captured[path]; ok {
		return rec, nil
	}
	if !filepath.IsAbs(path) {
		return nil, &types.BackupError{Path: path, Err: fmt.Errorf("path is not absolute")}
	}

	existed, err := afero.Exists(t.repo.fs, path)
	if err != nil {
		return nil, &types.BackupError{Path: path, Err: err}
	}

	rec := BackupRecord{
		Path:    path,
		Existed: existed,
		Created: !existed,
		Key:     EscapePath(path),
	}

	if existed {
		if err := t.copyBlob(&rec); err != nil {
			return nil, &types.BackupError{Path: path, Err: err}
		}
		rec.Strategy = t.selectStrategy(path, owner, &rec)
	} else {
		rec.Strategy = StrategyDelete
	}

	t.manifest.Backups = append(t.manifest.Backups, rec)
	t.captured[path] = &t.manifest.Backups[len(t.manifest.Backups)-1]
	logger.Debug("backup captured", "txn", t.manifest.ID, "path", path, "strategy", rec.Strategy)
	return t.captured[path], nil
}

// copyBlob copies the path's current bytes and metadata into the backup
// area. The blob write happens before the caller mutates anything.
func (t *Txn) copyBlob(rec *BackupRecord) error {
	info, err := t.repo.fs.Stat(rec.Path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("directory backups are not supported")
	}
	rec.Mode = info.Mode().Perm()
	if uid, gid, ok := t.repo.Meta(rec.Path); ok {
		rec.HasOwner = true
		rec.UID = uid
		rec.GID = gid
	}

	data, err := afero.ReadFile(t.repo.fs, rec.Path)
	if err != nil {
		return err
	}

	dir := filepath.Join(t.repo.txnDir(t.manifest.ID), backupsDirName)
	if err := t.repo.fs.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return afero.WriteFile(t.repo.fs, filepath.Join(dir, rec.Key), data, 0o600)
}

// selectStrategy decides how a future restore must behave. Home-directory
// paths never consult the package manager; pre-existing paths outside the
// home are checked against package ownership. An ownership lookup failure
// falls back to restore-from-backup: the captured bytes are always the true
// original, while guessing a package name is not.
func (t *Txn) selectStrategy(path string, owner OwnershipLookup, rec *BackupRecord) ResetStrategy {
	if t.repo.home != "" && underDir(path, t.repo.home) {
		return StrategyBackup
	}
	if owner == nil {
		return StrategyBackup
	}
	pkg, owned, err := owner(path)
	if err != nil {
		logger.Warn("package ownership lookup failed, falling back to byte restore",
			"path", path, "error", err)
		return StrategyBackup
	}
	if !owned {
		return StrategyBackup
	}
	rec.Package = pkg
	return StrategyPackage
}

// Effect appends a non-file side effect as a before/after pair.
func (t *Txn) Effect(kind EffectKind, target, before, after string) {
	t.manifest.Effects = append(t.manifest.Effects, EffectRecord{
		Kind:   kind,
		Target: target,
		Before: before,
		After:  after,
	})
}

// Commit persists the manifest atomically (temp file plus rename). It is
// called after each knob completes, so a crash mid-apply leaves a manifest
// reflecting only the knobs that fully finished; a half-applied knob's
// backup blob still exists on disk, orphaned but recoverable by path.
func (t *Txn) Commit() error {
	data, err := marshalManifest(&t.manifest)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	dir := t.repo.txnDir(t.manifest.ID)
	final := filepath.Join(dir, manifestName)
	tmp := final + ".tmp"

	if err := afero.WriteFile(t.repo.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest temp file: %w", err)
	}
	if err := t.repo.fs.Rename(tmp, final); err != nil {
		_ = t.repo.fs.Remove(tmp)
		return fmt.Errorf("renaming manifest into place: %w", err)
	}
	return nil
}

// Empty reports whether the transaction recorded no work. Empty
// transactions are discarded instead of committed.
func (t *Txn) Empty() bool {
	return len(t.manifest.Knobs) == 0 &&
		len(t.manifest.Backups) == 0 &&
		len(t.manifest.Effects) == 0
}

// Discard removes an uncommitted, empty transaction directory.
func (t *Txn) Discard() error {
	return t.repo.fs.RemoveAll(t.repo.txnDir(t.manifest.ID))
}

func underDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
