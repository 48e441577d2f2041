// Package output provides formatters for tweakctl command results in
// several output formats (table, plain, json, yaml).
//
// The package uses a registry pattern so formatters can be selected at
// runtime:
//
//	formatter, err := output.Get("table")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, report); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tweakctl/tweakctl/pkg/tweak/engine"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// StatusRow is one knob's status for display.
type StatusRow struct {
	KnobID         string               `json:"knob_id" yaml:"knob_id"`
	Name           string               `json:"name,omitempty" yaml:"name,omitempty"`
	Classification types.Classification `json:"classification" yaml:"classification"`
	Detail         string               `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// HistoryRow is one transaction summary for display.
type HistoryRow struct {
	ID        string    `json:"id" yaml:"id"`
	Scope     string    `json:"scope" yaml:"scope"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Knobs     []string  `json:"knobs" yaml:"knobs"`
	Backups   int       `json:"backups" yaml:"backups"`
	Effects   int       `json:"effects" yaml:"effects"`
	Reverted  bool      `json:"reverted" yaml:"reverted"`
}

// PendingRow is one deduplicated pending item for display.
type PendingRow struct {
	TxnID   string `json:"txn_id" yaml:"txn_id"`
	Kind    string `json:"kind" yaml:"kind"`
	Target  string `json:"target" yaml:"target"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Present bool   `json:"present" yaml:"present"`
}

// Report is the union of everything a command may want formatted. Commands
// fill in the sections they produce; formatters render the non-empty ones.
type Report struct {
	Statuses []StatusRow            `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	History  []HistoryRow           `json:"history,omitempty" yaml:"history,omitempty"`
	Pending  []PendingRow           `json:"pending,omitempty" yaml:"pending,omitempty"`
	Apply    *engine.ApplyResult    `json:"apply,omitempty" yaml:"apply,omitempty"`
	Restore  *engine.RestoreResult  `json:"restore,omitempty" yaml:"restore,omitempty"`
	Warnings []string               `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Formatter renders a report into a buffer.
type Formatter interface {
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory creates a formatter instance.
type FormatterFactory func() Formatter

var (
	registryMu sync.RWMutex
	formatters = map[string]FormatterFactory{}
)

// Register adds a formatter factory to the registry.
func Register(name string, factory FormatterFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	formatters[name] = factory
}

// Get returns a formatter by name.
func Get(name string) (Formatter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := formatters[name]
	if !ok {
		names := make([]string, 0, len(formatters))
		for n := range formatters {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown output format %q (available: %v)", name, names)
	}
	return factory(), nil
}

// Names returns the registered formatter names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(formatters))
	for name := range formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
