package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tweakctl/tweakctl/pkg/tweak/logging"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// commandTimeout bounds external commands when the caller imposes no
// deadline of its own.
const commandTimeout = 30 * time.Second

var logger = logging.Get("system")

// runCommand executes an external command and returns its trimmed stdout.
// A deadline overrun surfaces as ErrCommandTimeout rather than hanging or
// reporting a generic failure.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, commandTimeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w: %s", ErrCommandTimeout, name)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return strings.TrimSpace(stdout.String()), fmt.Errorf("%s: %s", name, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Systemctl is the systemctl-backed Systemd capability.
type Systemctl struct{}

var _ Systemd = Systemctl{}

func (Systemctl) args(user bool, rest ...string) []string {
	if user {
		return append([]string{"--user"}, rest...)
	}
	return rest
}

// UnitFileState runs `systemctl is-enabled`. systemctl exits non-zero for
// several legitimate states (disabled, masked), so the state string on
// stdout is authoritative and the exit code is ignored when stdout is a
// recognizable state.
func (s Systemctl) UnitFileState(ctx context.Context, unit string, user bool) (string, error) {
	out, err := runCommand(ctx, "systemctl", s.args(user, "is-enabled", unit)...)
	if errors.Is(err, ErrCommandTimeout) {
		return "", err
	}
	state := strings.TrimSpace(out)
	if state == "" {
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("systemctl is-enabled %s: empty output", unit)
	}
	// Multi-line output occurs for templated units; the first line is
	// the unit asked about.
	if i := strings.IndexByte(state, '\n'); i >= 0 {
		state = state[:i]
	}
	return state, nil
}

// SetUnitState transitions the unit to the target unit-file state.
func (s Systemctl) SetUnitState(ctx context.Context, unit string, target types.UnitTarget, user bool) error {
	var verbs []string
	switch target {
	case types.UnitEnabled:
		verbs = []string{"unmask", "enable"}
	case types.UnitDisabled:
		verbs = []string{"unmask", "disable"}
	case types.UnitMasked:
		verbs = []string{"mask"}
	default:
		return fmt.Errorf("unknown unit target %q", target)
	}
	for _, verb := range verbs {
		if _, err := runCommand(ctx, "systemctl", s.args(user, verb, unit)...); err != nil {
			// unmask of a never-masked unit is a harmless no-op
			// that some systemd versions report as an error.
			if verb == "unmask" {
				logger.Debug("unmask before state change failed", "unit", unit, "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

// Restart restarts the unit.
func (s Systemctl) Restart(ctx context.Context, unit string, user bool) error {
	_, err := runCommand(ctx, "systemctl", s.args(user, "restart", unit)...)
	return err
}

// Dpkg is the dpkg/apt-backed PackageManager capability for Debian-family
// systems.
type Dpkg struct{}

var _ PackageManager = Dpkg{}

// Owner runs `dpkg -S path`. dpkg prints "package: path" on ownership and
// exits non-zero when no package claims the path.
func (Dpkg) Owner(ctx context.Context, path string) (string, bool, error) {
	out, err := runCommand(ctx, "dpkg", "-S", path)
	if errors.Is(err, ErrCommandTimeout) {
		return "", false, err
	}
	if err != nil {
		if strings.Contains(err.Error(), "no path found") {
			return "", false, nil
		}
		// dpkg also exits non-zero with empty output for unowned
		// paths on some versions.
		if out == "" {
			return "", false, nil
		}
		return "", false, err
	}
	pkg, _, ok := strings.Cut(out, ":")
	if !ok || pkg == "" {
		return "", false, fmt.Errorf("unexpected dpkg -S output: %q", out)
	}
	// "pkg1, pkg2: path" when multiple packages share the path; the
	// first owner is used.
	if first, _, split := strings.Cut(pkg, ","); split {
		pkg = first
	}
	return strings.TrimSpace(pkg), true, nil
}

// Restore reinstalls the owning package, which rewrites shipped file
// content. Conffiles modified by the administrator are preserved by dpkg
// policy, so the result is still reported as full content restore only for
// non-conffile paths; dpkg gives no cheap way to distinguish, so the
// outcome is reported as full and any divergence shows up in status.
func (Dpkg) Restore(ctx context.Context, pkg, path string) (PackageRestoreResult, error) {
	_, err := runCommand(ctx, "apt-get", "install", "--reinstall", "-y", pkg)
	if err != nil {
		return "", err
	}
	return RestoreFull, nil
}

// Rpm is the rpm-backed PackageManager capability for RPM-family systems.
type Rpm struct{}

var _ PackageManager = Rpm{}

// Owner runs `rpm -qf path`.
func (Rpm) Owner(ctx context.Context, path string) (string, bool, error) {
	out, err := runCommand(ctx, "rpm", "-qf", path)
	if errors.Is(err, ErrCommandTimeout) {
		return "", false, err
	}
	if err != nil {
		if strings.Contains(err.Error(), "not owned") {
			return "", false, nil
		}
		return "", false, err
	}
	if out == "" {
		return "", false, nil
	}
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return out, true, nil
}

// Restore runs `rpm --restore`, which restores file attributes (mode,
// owner, group) but not file content. The attributes-only outcome is
// reported so callers can surface the caveat instead of assuming success.
func (Rpm) Restore(ctx context.Context, pkg, path string) (PackageRestoreResult, error) {
	if _, err := runCommand(ctx, "rpm", "--restore", pkg); err != nil {
		return "", err
	}
	return RestoreAttributesOnly, nil
}

// DetectPackageManager picks the package manager capability for this
// machine, or nil when neither dpkg nor rpm is available.
func DetectPackageManager() PackageManager {
	if _, err := exec.LookPath("dpkg"); err == nil {
		return Dpkg{}
	}
	if _, err := exec.LookPath("rpm"); err == nil {
		return Rpm{}
	}
	return nil
}

// UserGroups is the exec-backed Groups capability for the invoking user.
type UserGroups struct {
	// Username is the invoking user. Required.
	Username string
}

var _ Groups = &UserGroups{}

// User returns the invoking user's name.
func (g *UserGroups) User() string { return g.Username }

// Current runs `id -nG user` and returns the group names.
func (g *UserGroups) Current(ctx context.Context) ([]string, error) {
	out, err := runCommand(ctx, "id", "-nG", g.Username)
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

// Add adds the user to a group via gpasswd. Requires elevation; the engine
// gates on scope before calling.
func (g *UserGroups) Add(ctx context.Context, group string) error {
	_, err := runCommand(ctx, "gpasswd", "-a", g.Username, group)
	return err
}
