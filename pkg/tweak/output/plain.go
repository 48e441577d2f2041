package output

import (
	"bytes"
	"fmt"
	"strings"
)

// PlainFormatter emits one line per item with no alignment, suitable for
// scripting and piping.
type PlainFormatter struct{}

var _ Formatter = (*PlainFormatter)(nil)

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	for _, row := range r.Statuses {
		fmt.Fprintf(w, "%s %s\n", row.KnobID, row.Classification)
	}
	for _, row := range r.History {
		fmt.Fprintf(w, "%s %s %s\n", row.ID, row.Scope, strings.Join(row.Knobs, ","))
	}
	for _, row := range r.Pending {
		fmt.Fprintf(w, "%s %s %s\n", row.Kind, row.Target, row.TxnID)
	}
	if r.Apply != nil {
		for _, k := range r.Apply.Knobs {
			fmt.Fprintf(w, "%s %s\n", k.KnobID, k.Outcome)
		}
	}
	if r.Restore != nil {
		fmt.Fprintf(w, "%s\n", r.Restore.Outcome)
		for _, failure := range r.Restore.Failed {
			fmt.Fprintf(w, "failed %s %s\n", failure.Target, failure.Error)
		}
	}
	return nil
}
