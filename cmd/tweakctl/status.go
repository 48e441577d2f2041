package main

import (
	"github.com/spf13/cobra"

	"github.com/tweakctl/tweakctl/pkg/tweak/output"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [knob-id...]",
	Short: "Show live knob status",
	Long: `Classify each knob against live system state: applied, partial,
not_applied, pending_reboot, read_only, not_applicable, or unknown.

Status is always computed fresh from the running system, never from
transaction history, so it reflects changes made outside this tool too.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	var knobs []*types.Knob
	if len(args) == 0 {
		knobs = a.reg.Knobs
	} else {
		knobs, err = a.knobsFromArgs(args, false)
		if err != nil {
			return err
		}
	}

	report := &output.Report{}
	for _, k := range knobs {
		s := a.eng.Status(cmd.Context(), k)
		report.Statuses = append(report.Statuses, output.StatusRow{
			KnobID:         s.KnobID,
			Name:           s.Name,
			Classification: s.Classification,
			Detail:         s.Detail,
		})
	}
	return render(report)
}
