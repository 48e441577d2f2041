// Package system defines the capabilities the engine consumes to touch the
// live machine: the filesystem, sysfs, systemd, the package manager, the
// kernel command line, and group membership. Every capability is an
// interface so the engine's logic is testable without mutating a real
// system; Fake* implementations live alongside the real ones.
package system

import (
	"context"
	"errors"

	"github.com/spf13/afero"

	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// ErrCommandTimeout marks an external command that exceeded its deadline.
// It is distinct from the command failing.
var ErrCommandTimeout = errors.New("command timed out")

// PackageRestoreResult reports what a package-level restore actually did.
// Some packaging tools only restore file attributes, not contents; the
// distinction is surfaced, never guessed.
type PackageRestoreResult string

// Package restore results.
const (
	// RestoreFull means the shipped file content was restored.
	RestoreFull PackageRestoreResult = "full"

	// RestoreAttributesOnly means permissions and ownership were
	// restored but content may be unchanged. Reported as a caveat.
	RestoreAttributesOnly PackageRestoreResult = "attributes-only"
)

// Sysfs reads and writes sysfs keys.
type Sysfs interface {
	// Exists reports whether the sysfs path is present on this machine.
	Exists(path string) bool

	// Read returns the trimmed current value of a sysfs key.
	Read(path string) (string, error)

	// Write writes a value to a sysfs key.
	Write(path, value string) error
}

// Systemd queries and transitions systemd unit state.
type Systemd interface {
	// UnitFileState returns the raw unit-file state string (enabled,
	// disabled, masked, static, indirect, generated, linked, ...).
	UnitFileState(ctx context.Context, unit string, user bool) (string, error)

	// SetUnitState transitions a unit to the target state.
	SetUnitState(ctx context.Context, unit string, target types.UnitTarget, user bool) error

	// Restart restarts a unit. Used only for best-effort post-apply
	// effects.
	Restart(ctx context.Context, unit string, user bool) error
}

// PackageManager answers ownership queries and performs package-level
// restores.
type PackageManager interface {
	// Owner returns the package owning path, or owned=false when no
	// package claims it.
	Owner(ctx context.Context, path string) (pkg string, owned bool, err error)

	// Restore asks the package manager to restore the shipped version
	// of path from pkg and reports what it actually restored.
	Restore(ctx context.Context, pkg, path string) (PackageRestoreResult, error)
}

// Cmdline reads the running kernel command line and edits the boot
// configuration.
type Cmdline interface {
	// Running returns the running kernel's cmdline tokens.
	Running() ([]string, error)

	// Boot returns the tokens configured for the next boot.
	Boot() ([]string, error)

	// BootConfigPath is the file AddBootTokens edits; callers capture
	// its backup before calling AddBootTokens.
	BootConfigPath() string

	// AddBootTokens adds missing tokens to the boot configuration.
	AddBootTokens(tokens []string) error

	// Regenerate rebuilds the bootloader configuration. Best effort.
	Regenerate(ctx context.Context) error
}

// Groups queries and grants the invoking user's group membership.
type Groups interface {
	// User returns the invoking user's name.
	User() string

	// Current returns the user's current group memberships, reflecting
	// reality regardless of how membership was granted.
	Current(ctx context.Context) ([]string, error)

	// Add adds the invoking user to a group.
	Add(ctx context.Context, group string) error
}

// System bundles every capability the engine consumes, plus whether the
// process runs with elevated rights. The core never assumes elevation; a
// root-scope operation without Elevated reports ElevationRequired.
type System struct {
	FS       afero.Fs
	Sysfs    Sysfs
	Systemd  Systemd
	Packages PackageManager
	Cmdline  Cmdline
	Groups   Groups
	Elevated bool
}
