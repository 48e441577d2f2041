// Package txn implements the transactional apply/restore substrate: backup
// capture, effect logging, manifest persistence, and the on-disk transaction
// ledger. Every mutating apply runs inside a transaction whose manifest is
// the single source of truth for what the transaction did.
package txn

import (
	"os"
	"time"

	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// ManifestSchemaVersion is written to every manifest. Readers skip
// manifests with a greater version.
const ManifestSchemaVersion = 1

// ResetStrategy is the reversal policy for a captured backup.
type ResetStrategy string

// Reset strategies.
const (
	// StrategyDelete removes the path on restore; it did not exist
	// before the transaction touched it.
	StrategyDelete ResetStrategy = "delete"

	// StrategyBackup restores the captured bytes, mode, and owner.
	StrategyBackup ResetStrategy = "restore-from-backup"

	// StrategyPackage asks the package manager to restore the shipped
	// file; used for pre-existing package-owned paths outside the home
	// directory, where a stale local backup could fight a later package
	// update.
	StrategyPackage ResetStrategy = "restore-via-package"
)

// EffectKind tags a recorded non-file side effect.
type EffectKind string

// Effect kinds.
const (
	// EffectSysfs is a sysfs value write.
	EffectSysfs EffectKind = "sysfs-write"

	// EffectSystemd is a systemd unit-file state transition.
	EffectSystemd EffectKind = "systemd-toggle"

	// EffectGroup is a group membership grant. It has no well-defined
	// inverse and restores as not-reversible.
	EffectGroup EffectKind = "group-membership"
)

// BackupRecord describes one captured pre-mutation file snapshot. The record
// and its blob are written to durable storage before the corresponding
// mutation runs; that ordering is load-bearing for crash safety.
type BackupRecord struct {
	// Path is the absolute target path.
	Path string `json:"path"`

	// Existed reports whether the path existed before this transaction
	// touched it.
	Existed bool `json:"existed"`

	// Created reports whether this transaction created the path.
	Created bool `json:"created"`

	// Mode is the captured file mode, valid when Existed.
	Mode os.FileMode `json:"mode,omitempty"`

	// HasOwner reports whether UID/GID were captured.
	HasOwner bool `json:"has_owner,omitempty"`
	UID      int  `json:"uid,omitempty"`
	GID      int  `json:"gid,omitempty"`

	// Key names the stored backup blob; it is a reversible escape of
	// Path.
	Key string `json:"key,omitempty"`

	// Strategy is the computed reversal policy.
	Strategy ResetStrategy `json:"strategy"`

	// Package is the owning package name when Strategy is
	// restore-via-package.
	Package string `json:"package,omitempty"`
}

// EffectRecord describes one non-file side effect as a symmetric
// before/after pair. Reversal writes Before back through the same mutation
// primitive the apply used.
type EffectRecord struct {
	Kind   EffectKind `json:"kind"`
	Target string     `json:"target"`
	Before string     `json:"before"`
	After  string     `json:"after"`
}

// Manifest is the persisted record of one transaction. It is immutable once
// the transaction's final commit completes; corrections happen via new
// transactions, never edits to old ones.
type Manifest struct {
	SchemaVersion int            `json:"schema_version"`
	ID            string         `json:"id"`
	Scope         types.Scope    `json:"scope"`
	CreatedAt     time.Time      `json:"created_at"`
	Knobs         []string       `json:"knobs"`
	Backups       []BackupRecord `json:"backups"`
	Effects       []EffectRecord `json:"effects"`

	// Reverted is set by the loader when a revert marker sits next to
	// the manifest. It is not part of the persisted document.
	Reverted bool `json:"-"`
}

// ContainsKnob reports whether the manifest lists the knob id as applied.
func (m *Manifest) ContainsKnob(id string) bool {
	for _, k := range m.Knobs {
		if k == id {
			return true
		}
	}
	return false
}
