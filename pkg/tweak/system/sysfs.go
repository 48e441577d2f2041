package system

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// writeOnlyFlag truncates so a shorter value never leaves residue of the
// previous one. Real sysfs ignores truncation; memory filesystems need it.
const writeOnlyFlag = os.O_WRONLY | os.O_TRUNC

// FsSysfs is the filesystem-backed Sysfs capability. With afero.OsFs it
// talks to the real /sys; tests back it with a memory filesystem.
type FsSysfs struct {
	FS afero.Fs
}

var _ Sysfs = FsSysfs{}

// Exists reports whether the sysfs path is present.
func (s FsSysfs) Exists(path string) bool {
	ok, err := afero.Exists(s.FS, path)
	return err == nil && ok
}

// Read returns the trimmed value of the sysfs key.
func (s FsSysfs) Read(path string) (string, error) {
	data, err := afero.ReadFile(s.FS, path)
	if err != nil {
		return "", fmt.Errorf("reading sysfs key: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Write writes the value followed by a newline, the convention sysfs
// expects.
func (s FsSysfs) Write(path, value string) error {
	f, err := s.FS.OpenFile(path, writeOnlyFlag, 0)
	if err != nil {
		return fmt.Errorf("opening sysfs key: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(value + "\n"); err != nil {
		return fmt.Errorf("writing sysfs key: %w", err)
	}
	return nil
}
