// Package types provides the core data types for tweakctl: the knob model
// consumed from the registry, implementation kinds, transaction scopes, and
// the live status classifications computed by the engine.
package types

import "os"

// Scope partitions transactions by the rights they require.
type Scope string

// Transaction scopes.
const (
	// ScopeUser covers knobs that mutate only user-owned state.
	ScopeUser Scope = "user"

	// ScopeRoot covers knobs that require elevated rights.
	ScopeRoot Scope = "root"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeUser || s == ScopeRoot
}

// Kind identifies how a knob is applied and evaluated. The set is closed;
// the engine's apply, restore, and status dispatchers switch exhaustively
// over it.
type Kind string

// Implementation kinds.
const (
	// KindLimitsAppend appends lines to a PAM limits drop-in file.
	KindLimitsAppend Kind = "limits-file-append"

	// KindSysctlAppend appends lines to a sysctl drop-in file.
	KindSysctlAppend Kind = "sysctl-append"

	// KindSysfsValue writes values to one or more sysfs keys.
	KindSysfsValue Kind = "sysfs-key-value"

	// KindSystemdToggle enables, disables, or masks a systemd unit.
	KindSystemdToggle Kind = "systemd-toggle"

	// KindUdevRule installs a udev rules file with fixed content.
	KindUdevRule Kind = "udev-rule-file"

	// KindCmdlineToken adds tokens to the kernel command line via the
	// boot configuration.
	KindCmdlineToken Kind = "kernel-cmdline-token"

	// KindAppConfig installs an application config file (PipeWire,
	// QjackCtl, ...) with fixed content.
	KindAppConfig Kind = "app-config-file"

	// KindUserServiceMask masks a systemd user unit.
	KindUserServiceMask Kind = "user-service-mask"

	// KindGroupMembership adds the invoking user to system groups.
	KindGroupMembership Kind = "group-membership"

	// KindReadOnly is an informational knob with no apply or reset.
	KindReadOnly Kind = "read-only"
)

// Classification is the live-computed condition of a knob. It is always
// recomputed from system state and never persisted as truth.
type Classification string

// Status classifications.
const (
	// StatusApplied means the knob's target configuration is active now.
	StatusApplied Classification = "applied"

	// StatusPartial means some but not all of the target configuration
	// is in place.
	StatusPartial Classification = "partial"

	// StatusNotApplied means none of the target configuration is in place.
	StatusNotApplied Classification = "not_applied"

	// StatusPendingReboot means the change is written to boot-time
	// configuration but not yet active in the running system.
	StatusPendingReboot Classification = "pending_reboot"

	// StatusReadOnly marks informational knobs with nothing to apply.
	StatusReadOnly Classification = "read_only"

	// StatusNotApplicable means the underlying kernel or sysfs interface
	// is absent on this machine.
	StatusNotApplicable Classification = "not_applicable"

	// StatusUnknown means the status could not be determined. It must
	// never be conflated with StatusApplied.
	StatusUnknown Classification = "unknown"
)

// UnitTarget is the desired systemd unit-file state for a systemd knob.
type UnitTarget string

// Unit targets.
const (
	UnitEnabled  UnitTarget = "enabled"
	UnitDisabled UnitTarget = "disabled"
	UnitMasked   UnitTarget = "masked"
)

// Knob is one named, independently apply/restorable system tweak. Knobs are
// defined by the registry and consumed, not owned, by the engine.
type Knob struct {
	// ID uniquely identifies the knob across the registry.
	ID string `yaml:"id" json:"id"`

	// Name is the short human-readable title.
	Name string `yaml:"name" json:"name"`

	// Description explains what the tweak does and why.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Scope is the rights partition the knob's transactions live in.
	Scope Scope `yaml:"scope" json:"scope"`

	// Impl describes how the knob is applied. A nil Impl marks a
	// registry placeholder that cannot be applied.
	Impl *Impl `yaml:"impl,omitempty" json:"impl,omitempty"`
}

// Appliable reports whether the knob carries an implementation that can be
// applied and reset.
func (k *Knob) Appliable() bool {
	return k.Impl != nil && k.Impl.Kind != KindReadOnly
}

// Impl is a knob's implementation: a kind tag plus the kind-specific
// parameter payload. Exactly one payload field matching Kind is set.
type Impl struct {
	Kind Kind `yaml:"kind" json:"kind"`

	// Lines is set for limits-file-append and sysctl-append.
	Lines *LinesParams `yaml:"lines,omitempty" json:"lines,omitempty"`

	// File is set for udev-rule-file and app-config-file.
	File *FileParams `yaml:"file,omitempty" json:"file,omitempty"`

	// Sysfs is set for sysfs-key-value.
	Sysfs *SysfsParams `yaml:"sysfs,omitempty" json:"sysfs,omitempty"`

	// Unit is set for systemd-toggle and user-service-mask.
	Unit *UnitParams `yaml:"unit,omitempty" json:"unit,omitempty"`

	// Cmdline is set for kernel-cmdline-token.
	Cmdline *CmdlineParams `yaml:"cmdline,omitempty" json:"cmdline,omitempty"`

	// Groups is set for group-membership.
	Groups *GroupParams `yaml:"groups,omitempty" json:"groups,omitempty"`

	// RestartUnits lists systemd user units to restart after a
	// successful apply. Failures are surfaced as warnings, not errors.
	RestartUnits []string `yaml:"restart_units,omitempty" json:"restart_units,omitempty"`
}

// LinesParams appends lines to a config file, creating it when absent.
type LinesParams struct {
	// Path is the absolute target file path.
	Path string `yaml:"path" json:"path"`

	// Lines are the exact lines that must be present.
	Lines []string `yaml:"lines" json:"lines"`
}

// FileParams installs a file with fixed content.
type FileParams struct {
	// Path is the absolute target file path.
	Path string `yaml:"path" json:"path"`

	// Content is the complete desired file content.
	Content string `yaml:"content" json:"content"`

	// Mode is the file mode to create the file with. Zero means 0644.
	Mode os.FileMode `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// SysfsEntry is one sysfs key and its desired value.
type SysfsEntry struct {
	// Path is the absolute sysfs path (e.g. /sys/kernel/mm/...).
	Path string `yaml:"path" json:"path"`

	// Value is the desired value. For selector-list files this is the
	// token that must appear bracketed when applied.
	Value string `yaml:"value" json:"value"`
}

// SysfsParams writes one or more sysfs keys.
type SysfsParams struct {
	Entries []SysfsEntry `yaml:"entries" json:"entries"`
}

// UnitParams toggles a systemd unit to a target state.
type UnitParams struct {
	// Name is the unit name including suffix (e.g. "ondemand.service").
	Name string `yaml:"name" json:"name"`

	// Target is the desired unit-file state.
	Target UnitTarget `yaml:"target" json:"target"`

	// User selects the per-user systemd instance instead of the system
	// instance.
	User bool `yaml:"user,omitempty" json:"user,omitempty"`
}

// CmdlineParams adds kernel command line tokens via the boot configuration.
type CmdlineParams struct {
	// Tokens are whitespace-delimited kernel parameters, compared
	// token-for-token, never by substring.
	Tokens []string `yaml:"tokens" json:"tokens"`
}

// GroupParams adds the invoking user to system groups.
type GroupParams struct {
	Groups []string `yaml:"groups" json:"groups"`
}

// StatusReport pairs a knob with its computed classification.
type StatusReport struct {
	KnobID         string         `json:"knob_id" yaml:"knob_id"`
	Name           string         `json:"name" yaml:"name"`
	Classification Classification `json:"classification" yaml:"classification"`

	// Detail explains partial, unknown, and pending classifications
	// (missing lines, probe errors, tokens awaiting reboot).
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}
