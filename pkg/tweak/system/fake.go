package system

import (
	"context"
	"fmt"
	"sort"

	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// FakeSysfs is a map-backed Sysfs for tests.
type FakeSysfs struct {
	Values map[string]string

	// Writes records every write in order.
	Writes []string

	// FailReads makes reads of these paths fail, to exercise the
	// unknown classification.
	FailReads map[string]bool
}

var _ Sysfs = &FakeSysfs{}

// NewFakeSysfs returns a FakeSysfs seeded with the given values.
func NewFakeSysfs(values map[string]string) *FakeSysfs {
	if values == nil {
		values = map[string]string{}
	}
	return &FakeSysfs{Values: values, FailReads: map[string]bool{}}
}

func (s *FakeSysfs) Exists(path string) bool {
	_, ok := s.Values[path]
	return ok
}

func (s *FakeSysfs) Read(path string) (string, error) {
	if s.FailReads[path] {
		return "", fmt.Errorf("read %s: permission denied", path)
	}
	v, ok := s.Values[path]
	if !ok {
		return "", fmt.Errorf("read %s: no such file", path)
	}
	return v, nil
}

func (s *FakeSysfs) Write(path, value string) error {
	if _, ok := s.Values[path]; !ok {
		return fmt.Errorf("write %s: no such file", path)
	}
	s.Values[path] = value
	s.Writes = append(s.Writes, path+"="+value)
	return nil
}

// FakeSystemd is a map-backed Systemd for tests.
type FakeSystemd struct {
	// States maps unit name to unit-file state string.
	States map[string]string

	// Restarted records restart calls.
	Restarted []string

	// FailRestart makes Restart fail, to exercise post-apply warnings.
	FailRestart bool
}

var _ Systemd = &FakeSystemd{}

// NewFakeSystemd returns a FakeSystemd seeded with the given unit states.
func NewFakeSystemd(states map[string]string) *FakeSystemd {
	if states == nil {
		states = map[string]string{}
	}
	return &FakeSystemd{States: states}
}

func (s *FakeSystemd) UnitFileState(ctx context.Context, unit string, user bool) (string, error) {
	state, ok := s.States[unit]
	if !ok {
		return "", fmt.Errorf("unit %s not found", unit)
	}
	return state, nil
}

func (s *FakeSystemd) SetUnitState(ctx context.Context, unit string, target types.UnitTarget, user bool) error {
	if _, ok := s.States[unit]; !ok {
		return fmt.Errorf("unit %s not found", unit)
	}
	s.States[unit] = string(target)
	return nil
}

func (s *FakeSystemd) Restart(ctx context.Context, unit string, user bool) error {
	if s.FailRestart {
		return fmt.Errorf("restart %s: job failed", unit)
	}
	s.Restarted = append(s.Restarted, unit)
	return nil
}

// FakePackages is a map-backed PackageManager for tests.
type FakePackages struct {
	// Owners maps path to owning package.
	Owners map[string]string

	// RestoreResult is returned by Restore. Defaults to RestoreFull.
	RestoreResult PackageRestoreResult

	// Restored records (pkg, path) restore calls.
	Restored []string

	// FailRestore makes Restore fail.
	FailRestore bool
}

var _ PackageManager = &FakePackages{}

func (p *FakePackages) Owner(ctx context.Context, path string) (string, bool, error) {
	pkg, ok := p.Owners[path]
	return pkg, ok, nil
}

func (p *FakePackages) Restore(ctx context.Context, pkg, path string) (PackageRestoreResult, error) {
	if p.FailRestore {
		return "", fmt.Errorf("restore %s: package tool unavailable", pkg)
	}
	p.Restored = append(p.Restored, pkg+":"+path)
	if p.RestoreResult == "" {
		return RestoreFull, nil
	}
	return p.RestoreResult, nil
}

// FakeCmdline is an in-memory Cmdline for tests. RunningTokens stands in
// for /proc/cmdline and BootTokens for the boot configuration value.
type FakeCmdline struct {
	RunningTokens []string
	BootTokens    []string
	ConfigPath    string

	// Regenerated counts Regenerate calls.
	Regenerated int

	// FailRegen makes Regenerate fail.
	FailRegen bool

	// FailBoot makes Boot fail, to exercise the unknown classification.
	FailBoot bool
}

var _ Cmdline = &FakeCmdline{}

func (c *FakeCmdline) Running() ([]string, error) { return c.RunningTokens, nil }

func (c *FakeCmdline) Boot() ([]string, error) {
	if c.FailBoot {
		return nil, fmt.Errorf("boot config unreadable")
	}
	return c.BootTokens, nil
}

func (c *FakeCmdline) BootConfigPath() string {
	if c.ConfigPath != "" {
		return c.ConfigPath
	}
	return "/etc/default/grub"
}

func (c *FakeCmdline) AddBootTokens(tokens []string) error {
	have := map[string]bool{}
	for _, tok := range c.BootTokens {
		have[tok] = true
	}
	for _, tok := range tokens {
		if !have[tok] {
			c.BootTokens = append(c.BootTokens, tok)
		}
	}
	return nil
}

func (c *FakeCmdline) Regenerate(ctx context.Context) error {
	if c.FailRegen {
		return fmt.Errorf("grub-mkconfig failed")
	}
	c.Regenerated++
	return nil
}

// FakeGroups is a set-backed Groups for tests.
type FakeGroups struct {
	Username string
	Members  map[string]bool

	// FailCurrent makes Current fail, to exercise the unknown
	// classification.
	FailCurrent bool
}

var _ Groups = &FakeGroups{}

// NewFakeGroups returns a FakeGroups with the given memberships.
func NewFakeGroups(user string, groups ...string) *FakeGroups {
	members := map[string]bool{}
	for _, g := range groups {
		members[g] = true
	}
	return &FakeGroups{Username: user, Members: members}
}

func (g *FakeGroups) User() string { return g.Username }

func (g *FakeGroups) Current(ctx context.Context) ([]string, error) {
	if g.FailCurrent {
		return nil, fmt.Errorf("id: cannot find name for user")
	}
	var out []string
	for name := range g.Members {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (g *FakeGroups) Add(ctx context.Context, group string) error {
	g.Members[group] = true
	return nil
}
