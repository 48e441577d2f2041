package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// TableFormatter renders aligned, human-oriented tables. It is the default
// format for interactive use.
type TableFormatter struct{}

var _ Formatter = (*TableFormatter)(nil)

func init() {
	Register("table", func() Formatter { return &TableFormatter{} })
}

// Format writes the formatted output to the buffer.
func (f *TableFormatter) Format(w *bytes.Buffer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if len(r.Statuses) > 0 {
		fmt.Fprintln(tw, "KNOB\tSTATUS\tDETAIL")
		for _, row := range r.Statuses {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", row.KnobID, row.Classification, row.Detail)
		}
	}

	if len(r.History) > 0 {
		fmt.Fprintln(tw, "ID\tSCOPE\tWHEN\tKNOBS\tBACKUPS\tEFFECTS\tREVERTED")
		for _, row := range r.History {
			reverted := ""
			if row.Reverted {
				reverted = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				row.ID, row.Scope, humanize.Time(row.CreatedAt),
				strings.Join(row.Knobs, ","), row.Backups, row.Effects, reverted)
		}
	}

	if len(r.Pending) > 0 {
		fmt.Fprintln(tw, "KIND\tTARGET\tFROM\tDETAIL")
		for _, row := range r.Pending {
			detail := row.Detail
			if !row.Present && detail == "" {
				detail = "target absent"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Kind, row.Target, row.TxnID, detail)
		}
	}

	if r.Apply != nil {
		fmt.Fprintln(tw, "KNOB\tOUTCOME\tERROR")
		for _, k := range r.Apply.Knobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", k.KnobID, k.Outcome, k.Error)
			for _, warning := range k.Warnings {
				fmt.Fprintf(tw, "\twarning\t%s\n", warning)
			}
		}
	}

	if r.Restore != nil {
		fmt.Fprintf(tw, "outcome\t%s\n", r.Restore.Outcome)
		for _, target := range r.Restore.Reverted {
			fmt.Fprintf(tw, "reverted\t%s\n", target)
		}
		for _, failure := range r.Restore.Failed {
			fmt.Fprintf(tw, "failed\t%s\t%s\n", failure.Target, failure.Error)
		}
		for _, target := range r.Restore.NotReversible {
			fmt.Fprintf(tw, "not reversible\t%s\n", target)
		}
		for _, caveat := range r.Restore.Caveats {
			fmt.Fprintf(tw, "caveat\t%s\n", caveat)
		}
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(tw, "warning\t%s\n", warning)
	}

	return tw.Flush()
}
