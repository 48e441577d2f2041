package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// Status classifies a knob's current condition from live system state. It
// never consults transaction history: "applied" means true now, regardless
// of who made it true. When a probe itself fails the classification is
// unknown, never a guess.
func (e *Engine) Status(ctx context.Context, k *types.Knob) types.StatusReport {
	report := types.StatusReport{KnobID: k.ID, Name: k.Name}

	if k.Impl == nil {
		report.Classification = types.StatusReadOnly
		report.Detail = "registry placeholder"
		return report
	}

	switch k.Impl.Kind {
	case types.KindLimitsAppend, types.KindSysctlAppend:
		report.Classification, report.Detail = e.statusLines(k.Impl.Lines)
	case types.KindUdevRule, types.KindAppConfig:
		report.Classification, report.Detail = e.statusFile(k.Impl.File)
	case types.KindSysfsValue:
		report.Classification, report.Detail = e.statusSysfs(k.Impl.Sysfs)
	case types.KindSystemdToggle, types.KindUserServiceMask:
		report.Classification, report.Detail = e.statusUnit(ctx, k.Impl.Unit)
	case types.KindCmdlineToken:
		report.Classification, report.Detail = e.statusCmdline(k.Impl.Cmdline)
	case types.KindGroupMembership:
		report.Classification, report.Detail = e.statusGroups(ctx, k.Impl.Groups)
	case types.KindReadOnly:
		report.Classification = types.StatusReadOnly
	default:
		report.Classification = types.StatusUnknown
		report.Detail = fmt.Sprintf("unknown implementation kind %q", k.Impl.Kind)
	}
	return report
}

func (e *Engine) statusLines(p *types.LinesParams) (types.Classification, string) {
	content, exists, err := readFileIfExists(e.sys.FS, p.Path)
	if err != nil {
		return types.StatusUnknown, fmt.Sprintf("reading %s: %v", p.Path, err)
	}
	if !exists {
		return types.StatusNotApplied, ""
	}

	missing := missingLines(content, p.Lines)
	switch {
	case len(missing) == 0:
		return types.StatusApplied, ""
	case len(missing) == len(p.Lines):
		return types.StatusNotApplied, ""
	default:
		return types.StatusPartial, fmt.Sprintf("missing %d of %d lines", len(missing), len(p.Lines))
	}
}

func (e *Engine) statusFile(p *types.FileParams) (types.Classification, string) {
	content, exists, err := readFileIfExists(e.sys.FS, p.Path)
	if err != nil {
		return types.StatusUnknown, fmt.Sprintf("reading %s: %v", p.Path, err)
	}
	if !exists {
		return types.StatusNotApplied, ""
	}
	if content == p.Content {
		return types.StatusApplied, ""
	}
	return types.StatusPartial, "file content differs"
}

// statusSysfs classifies sysfs knobs. An absent sysfs path means the tweak
// cannot exist on this machine: not_applicable, never not_applied.
func (e *Engine) statusSysfs(p *types.SysfsParams) (types.Classification, string) {
	matched := 0
	for _, entry := range p.Entries {
		if !e.sys.Sysfs.Exists(entry.Path) {
			return types.StatusNotApplicable, fmt.Sprintf("%s is absent", entry.Path)
		}
		value, err := e.sys.Sysfs.Read(entry.Path)
		if err != nil {
			return types.StatusUnknown, fmt.Sprintf("reading %s: %v", entry.Path, err)
		}
		if sysfsValueMatches(value, entry.Value) {
			matched++
		}
	}
	switch {
	case matched == len(p.Entries):
		return types.StatusApplied, ""
	case matched == 0:
		return types.StatusNotApplied, ""
	default:
		return types.StatusPartial, fmt.Sprintf("%d of %d keys set", matched, len(p.Entries))
	}
}

func (e *Engine) statusUnit(ctx context.Context, p *types.UnitParams) (types.Classification, string) {
	state, err := e.sys.Systemd.UnitFileState(ctx, p.Name, p.User)
	if err != nil {
		return types.StatusUnknown, fmt.Sprintf("querying %s: %v", p.Name, err)
	}
	if unitStateSatisfies(p.Target, state) {
		return types.StatusApplied, ""
	}
	return types.StatusNotApplied, fmt.Sprintf("unit is %s, want %s", state, p.Target)
}

// statusCmdline distinguishes tokens active in the running kernel from
// tokens written to the boot configuration but awaiting a reboot.
func (e *Engine) statusCmdline(p *types.CmdlineParams) (types.Classification, string) {
	running, err := e.sys.Cmdline.Running()
	if err != nil {
		return types.StatusUnknown, fmt.Sprintf("reading running cmdline: %v", err)
	}
	if len(missingTokens(running, p.Tokens)) == 0 {
		return types.StatusApplied, ""
	}

	boot, err := e.sys.Cmdline.Boot()
	if err != nil {
		return types.StatusUnknown, fmt.Sprintf("reading boot config: %v", err)
	}
	missingBoot := missingTokens(boot, p.Tokens)
	missingRunning := missingTokens(running, p.Tokens)

	switch {
	case len(missingBoot) == 0:
		return types.StatusPendingReboot, "in boot config, not active until reboot"
	case len(missingRunning) < len(p.Tokens) || len(missingBoot) < len(p.Tokens):
		return types.StatusPartial, fmt.Sprintf("missing tokens: %s", strings.Join(missingBoot, " "))
	default:
		return types.StatusNotApplied, ""
	}
}

func (e *Engine) statusGroups(ctx context.Context, p *types.GroupParams) (types.Classification, string) {
	current, err := e.sys.Groups.Current(ctx)
	if err != nil {
		return types.StatusUnknown, fmt.Sprintf("querying group membership: %v", err)
	}
	member := map[string]bool{}
	for _, g := range current {
		member[g] = true
	}

	have := 0
	var missing []string
	for _, g := range p.Groups {
		if member[g] {
			have++
		} else {
			missing = append(missing, g)
		}
	}
	switch {
	case have == len(p.Groups):
		return types.StatusApplied, ""
	case have == 0:
		return types.StatusNotApplied, ""
	default:
		return types.StatusPartial, fmt.Sprintf("not a member of: %s", strings.Join(missing, " "))
	}
}

// missingLines returns the expected lines not present in content. Lines are
// compared exactly after trimming trailing whitespace.
func missingLines(content string, expected []string) []string {
	present := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		present[strings.TrimRight(line, " \t\r")] = true
	}
	var missing []string
	for _, line := range expected {
		if !present[strings.TrimRight(line, " \t\r")] {
			missing = append(missing, line)
		}
	}
	return missing
}

// missingTokens returns the wanted tokens absent from the token list.
// Comparison is whole-token equality, never substring containment: "audit=0"
// must not match inside "noaudit=0".
func missingTokens(tokens, wanted []string) []string {
	have := map[string]bool{}
	for _, tok := range tokens {
		have[tok] = true
	}
	var missing []string
	for _, tok := range wanted {
		if !have[tok] {
			missing = append(missing, tok)
		}
	}
	return missing
}

// sysfsValueMatches compares a live sysfs value against the desired one.
// Selector-list files wrap the active choice in brackets anywhere in the
// string ("always [madvise] never"); the bracketed token is what counts.
func sysfsValueMatches(live, want string) bool {
	if selected, ok := extractSelector(live); ok {
		return selected == want
	}
	return strings.TrimSpace(live) == strings.TrimSpace(want)
}

// extractSelector pulls the bracketed token out of a kernel selector list,
// wherever in the string it appears.
func extractSelector(value string) (string, bool) {
	start := strings.IndexByte(value, '[')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(value[start:], ']')
	if end < 0 {
		return "", false
	}
	return value[start+1 : start+end], true
}

// unitStateSatisfies reports whether a raw unit-file state satisfies the
// target. Masked counts as disabled (it is a stronger form of it), and
// static, indirect, and generated units count as enabled since they cannot
// be enabled explicitly yet are in effect. A masked unit never satisfies
// enabled.
func unitStateSatisfies(target types.UnitTarget, state string) bool {
	switch target {
	case types.UnitMasked:
		return strings.HasPrefix(state, "masked")
	case types.UnitDisabled:
		return state == "disabled" || strings.HasPrefix(state, "masked")
	case types.UnitEnabled:
		switch state {
		case "enabled", "enabled-runtime", "static", "indirect", "generated", "alias":
			return true
		}
		return false
	default:
		return false
	}
}
