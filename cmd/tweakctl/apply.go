package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tweakctl/tweakctl/pkg/tweak/engine"
	"github.com/tweakctl/tweakctl/pkg/tweak/output"
)

var (
	applyAll    bool
	applyDryRun bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [knob-id...]",
	Short: "Apply tweaks",
	Long: `Apply one or more knobs. Each mutated file is backed up first; the
backup and every non-file side effect are recorded in a transaction so the
tweak can be reverted exactly.

Root-scope knobs require elevated rights and are reported as
elevation_required when run unprivileged.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAll, "all", false, "apply every appliable knob")
	applyCmd.Flags().BoolVarP(&applyDryRun, "dry-run", "d", false, "plan only, mutate nothing")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	if !applyAll && len(args) == 0 {
		return fmt.Errorf("no knobs given; pass knob ids or --all")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	knobs, err := a.knobsFromArgs(args, applyAll)
	if err != nil {
		return err
	}

	result, err := a.eng.Apply(cmd.Context(), knobs, engine.ApplyOptions{DryRun: applyDryRun})
	if err != nil {
		return err
	}
	return render(&output.Report{Apply: result})
}
