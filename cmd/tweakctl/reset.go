package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tweakctl/tweakctl/pkg/tweak/output"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

var (
	resetAll   bool
	resetScope string
)

var resetCmd = &cobra.Command{
	Use:   "reset [knob-id]",
	Short: "Revert tweaks to their original state",
	Long: `Revert a knob, or everything with --all.

A reset restores the state captured by the oldest transaction that applied
the knob: files come back byte-for-byte (or are removed if the tweak created
them), sysfs values and systemd unit states are written back to their
recorded before-state. Group membership grants have no safe inverse and are
reported as not reversible.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "revert everything pending in the scope")
	resetCmd.Flags().StringVar(&resetScope, "scope", "user", "scope for --all: user or root")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if resetAll {
		scope := types.Scope(resetScope)
		if !scope.Valid() {
			return fmt.Errorf("invalid scope %q", resetScope)
		}
		result, err := a.eng.ResetAll(cmd.Context(), scope)
		if err != nil {
			return err
		}
		return render(&output.Report{Restore: result})
	}

	if len(args) != 1 {
		return fmt.Errorf("pass a knob id or --all")
	}
	result, err := a.eng.Restore(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return render(&output.Report{Restore: result})
}
