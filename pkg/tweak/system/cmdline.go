package system

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/afero"
)

// GrubCmdline is the Cmdline capability for GRUB-managed systems. The
// running cmdline comes from /proc/cmdline; the boot configuration is the
// GRUB_CMDLINE_LINUX_DEFAULT value in /etc/default/grub.
type GrubCmdline struct {
	FS afero.Fs

	// ProcPath defaults to /proc/cmdline.
	ProcPath string

	// ConfigPath defaults to /etc/default/grub.
	ConfigPath string

	// RegenCommand defaults to auto-detection (update-grub, then
	// grub2-mkconfig, then grub-mkconfig).
	RegenCommand []string
}

var _ Cmdline = &GrubCmdline{}

const grubVarName = "GRUB_CMDLINE_LINUX_DEFAULT"

func (c *GrubCmdline) procPath() string {
	if c.ProcPath != "" {
		return c.ProcPath
	}
	return "/proc/cmdline"
}

// BootConfigPath is the file AddBootTokens edits.
func (c *GrubCmdline) BootConfigPath() string {
	if c.ConfigPath != "" {
		return c.ConfigPath
	}
	return "/etc/default/grub"
}

// Running returns the running kernel's cmdline split into whitespace
// delimited tokens.
func (c *GrubCmdline) Running() ([]string, error) {
	data, err := afero.ReadFile(c.FS, c.procPath())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.procPath(), err)
	}
	return strings.Fields(string(data)), nil
}

// Boot returns the tokens configured for the next boot.
func (c *GrubCmdline) Boot() ([]string, error) {
	value, _, err := c.readConfigValue()
	if err != nil {
		return nil, err
	}
	return strings.Fields(value), nil
}

// AddBootTokens appends missing tokens to the boot configuration value.
// Token comparison is exact, never substring: "audit=0" does not match
// inside "noaudit=0". Callers capture a backup of BootConfigPath first.
func (c *GrubCmdline) AddBootTokens(tokens []string) error {
	value, lines, err := c.readConfigValue()
	if err != nil {
		return err
	}

	current := strings.Fields(value)
	have := make(map[string]bool, len(current))
	for _, tok := range current {
		have[tok] = true
	}
	for _, tok := range tokens {
		if !have[tok] {
			current = append(current, tok)
			have[tok] = true
		}
	}

	newLine := fmt.Sprintf("%s=%q", grubVarName, strings.Join(current, " "))
	replaced := false
	for i, line := range lines {
		if isGrubVarLine(line) {
			lines[i] = newLine
			replaced = true
		}
	}
	if !replaced {
		lines = append(lines, newLine)
	}

	out := strings.Join(lines, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	if err := afero.WriteFile(c.FS, c.BootConfigPath(), []byte(out), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", c.BootConfigPath(), err)
	}
	return nil
}

// Regenerate rebuilds the bootloader config. The distro-specific command is
// auto-detected unless RegenCommand is set.
func (c *GrubCmdline) Regenerate(ctx context.Context) error {
	cmd := c.RegenCommand
	if len(cmd) == 0 {
		switch {
		case lookPathOK("update-grub"):
			cmd = []string{"update-grub"}
		case lookPathOK("grub2-mkconfig"):
			cmd = []string{"grub2-mkconfig", "-o", "/boot/grub2/grub.cfg"}
		case lookPathOK("grub-mkconfig"):
			cmd = []string{"grub-mkconfig", "-o", "/boot/grub/grub.cfg"}
		default:
			return fmt.Errorf("no grub regeneration command available")
		}
	}
	_, err := runCommand(ctx, cmd[0], cmd[1:]...)
	return err
}

// readConfigValue returns the current GRUB_CMDLINE_LINUX_DEFAULT value and
// the config file split into lines. A missing file yields an empty value
// and no lines.
func (c *GrubCmdline) readConfigValue() (string, []string, error) {
	data, err := afero.ReadFile(c.FS, c.BootConfigPath())
	if err != nil {
		ok, _ := afero.Exists(c.FS, c.BootConfigPath())
		if !ok {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("reading %s: %w", c.BootConfigPath(), err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	value := ""
	for _, line := range lines {
		if isGrubVarLine(line) {
			_, v, _ := strings.Cut(strings.TrimSpace(line), "=")
			value = strings.Trim(v, `"'`)
		}
	}
	return value, lines, nil
}

func isGrubVarLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, grubVarName+"=")
}

func lookPathOK(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
