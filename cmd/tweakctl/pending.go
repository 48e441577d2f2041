package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tweakctl/tweakctl/pkg/tweak/output"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

var pendingScope string

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Preview what a full reset would touch",
	Long: `List the currently-reversible state: every backed-up file still
tracked and every recorded side effect, deduplicated to the oldest entry
per target. This is what 'reset --all' would replay.`,
	RunE: runPending,
}

func init() {
	pendingCmd.Flags().StringVar(&pendingScope, "scope", "user", "scope: user or root")
	rootCmd.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	scope := types.Scope(pendingScope)
	if !scope.Valid() {
		return fmt.Errorf("invalid scope %q", pendingScope)
	}

	pending, err := a.eng.Pending(scope)
	if err != nil {
		return err
	}

	report := &output.Report{}
	for _, pb := range pending.Backups {
		report.Pending = append(report.Pending, output.PendingRow{
			TxnID:   pb.TxnID,
			Kind:    "file",
			Target:  pb.Record.Path,
			Detail:  string(pb.Record.Strategy),
			Present: pb.Present,
		})
	}
	for _, pe := range pending.Effects {
		report.Pending = append(report.Pending, output.PendingRow{
			TxnID:   pe.TxnID,
			Kind:    string(pe.Record.Kind),
			Target:  pe.Record.Target,
			Detail:  fmt.Sprintf("restore to %q", pe.Record.Before),
			Present: true,
		})
	}
	return render(report)
}
