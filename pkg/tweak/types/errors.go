package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine and its capabilities.
var (
	// ErrElevationRequired is returned when a root-scope operation is
	// attempted without elevated rights. It is distinct from any failure
	// of the operation itself.
	ErrElevationRequired = errors.New("elevation required")

	// ErrInterfaceAbsent is returned when a sysfs or kernel interface a
	// knob targets does not exist on this machine.
	ErrInterfaceAbsent = errors.New("kernel interface absent")

	// ErrNotAppliable is returned when apply is requested for a
	// read-only or placeholder knob.
	ErrNotAppliable = errors.New("knob is not appliable")

	// ErrNotOwned is returned by package-ownership lookups when no
	// package claims the path.
	ErrNotOwned = errors.New("path not owned by any package")

	// ErrKnobNotFound is returned when a knob id is absent from the
	// registry or from every transaction manifest.
	ErrKnobNotFound = errors.New("knob not found")
)

// BackupError reports a failed backup capture. Captures fail the knob's
// apply before anything has been mutated.
type BackupError struct {
	Path string
	Err  error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup of %q failed: %v", e.Path, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// MutationError reports a mutation that failed after its backup was
// captured. The transaction still records what was attempted.
type MutationError struct {
	Target string
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation of %q failed: %v", e.Target, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
